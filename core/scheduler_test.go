package core

import "testing"

func TestSchedulerOrderAcrossWrap(t *testing.T) {
	var s Scheduler
	var order []int
	mk := func(id int, wake uint32) *Timer {
		return &Timer{WakeTime: wake, Handler: func(*Timer) uint8 {
			order = append(order, id)
			return SF_DONE
		}}
	}

	// 0xFFFFFFF0 is earlier than 0x10 once the clock wraps
	s.Add(mk(2, 0x10))
	s.Add(mk(1, 0xFFFFFFF0))
	s.Add(mk(3, 0x20))

	s.Dispatch(0xFFFFFFF8)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("Expected only timer 1 due, ran %v", order)
	}
	s.Dispatch(0x18)
	if len(order) != 2 || order[1] != 2 {
		t.Fatalf("Expected timer 2 after wrap, ran %v", order)
	}
	if s.Pending() != 1 {
		t.Errorf("Expected 1 pending timer, got %d", s.Pending())
	}
}

func TestSchedulerRescheduleAndRemove(t *testing.T) {
	var s Scheduler
	runs := 0
	tm := &Timer{WakeTime: 100}
	tm.Handler = func(t *Timer) uint8 {
		runs++
		t.WakeTime += 100
		return SF_RESCHEDULE
	}
	s.Add(tm)

	s.Dispatch(100)
	s.Dispatch(250)
	if runs != 2 {
		t.Errorf("Expected 2 runs, got %d", runs)
	}
	s.Remove(tm)
	s.Dispatch(1000)
	if runs != 2 || s.Pending() != 0 {
		t.Errorf("removed timer still ran: runs=%d pending=%d", runs, s.Pending())
	}
}

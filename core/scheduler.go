package core

// Timer represents a scheduled background event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Scheduler is a sorted list of background timers. Times are free-running
// 32-bit clock ticks; ordering is wrap-safe.
type Scheduler struct {
	list *Timer
	now  uint32
}

// timerBefore reports whether a is earlier than b across counter wrap.
func timerBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// Add inserts a timer in sorted order by WakeTime
func (s *Scheduler) Add(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	s.insert(t)
}

func (s *Scheduler) insert(t *Timer) {
	if s.list == nil || timerBefore(t.WakeTime, s.list.WakeTime) {
		t.Next = s.list
		s.list = t
		return
	}

	current := s.list
	for current.Next != nil && !timerBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// Remove unlinks a timer if it is scheduled.
func (s *Scheduler) Remove(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for pp := &s.list; *pp != nil; pp = &(*pp).Next {
		if *pp == t {
			*pp = t.Next
			t.Next = nil
			return
		}
	}
}

// Pending returns the number of scheduled timers.
func (s *Scheduler) Pending() int {
	n := 0
	for t := s.list; t != nil; t = t.Next {
		n++
	}
	return n
}

// Now returns the clock value of the last dispatch.
func (s *Scheduler) Now() uint32 {
	return s.now
}

// Dispatch runs every timer due at now. A handler returning SF_RESCHEDULE
// must have advanced its WakeTime.
func (s *Scheduler) Dispatch(now uint32) {
	s.now = now
	for {
		state := disableInterrupts()
		t := s.list
		if t == nil || timerBefore(now, t.WakeTime) {
			restoreInterrupts(state)
			return
		}
		s.list = t.Next
		t.Next = nil
		restoreInterrupts(state)

		// Handlers run with interrupts enabled so the control tick is never
		// held off by background work.
		if t.Handler(t) == SF_RESCHEDULE {
			s.Add(t)
		}
	}
}

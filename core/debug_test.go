package core

import (
	"strings"
	"testing"
)

func TestEventLogRing(t *testing.T) {
	var l EventLog
	for i := 0; i < EventRingSize+5; i++ {
		l.SetTick(uint32(i))
		l.Record(EvtModeChange, ModeBuck, uint32(i))
	}
	evts := l.Events()
	if len(evts) != EventRingSize {
		t.Fatalf("Expected %d retained events, got %d", EventRingSize, len(evts))
	}
	if evts[0].Value != 5 || evts[len(evts)-1].Value != EventRingSize+4 {
		t.Errorf("Expected oldest 5 and newest %d, got %d and %d",
			EventRingSize+4, evts[0].Value, evts[len(evts)-1].Value)
	}
	if l.Total() != EventRingSize+5 {
		t.Errorf("Expected total %d, got %d", EventRingSize+5, l.Total())
	}

	l.Clear()
	if len(l.Events()) != 0 {
		t.Error("Clear left events behind")
	}
}

func TestEventLogDump(t *testing.T) {
	var l EventLog
	l.SetTick(42)
	l.Record(EvtFaultTrip, ModeFault, uint32(CauseRange))

	var lines []string
	l.Dump(func(s string) { lines = append(lines, s) })
	if len(lines) != 3 {
		t.Fatalf("Expected header, one event and footer, got %v", lines)
	}
	if !strings.Contains(lines[1], "FAULT!") || !strings.Contains(lines[1], "tick=42") || !strings.Contains(lines[1], "mode=fault") {
		t.Errorf("unexpected dump line %q", lines[1])
	}
}

func TestDebugPrintlnGated(t *testing.T) {
	var got []string
	SetDebugWriter(func(s string) { got = append(got, s) })
	defer SetDebugWriter(func(string) {})

	DebugPrintln("hidden")
	SetDebugEnabled(true)
	DebugPrintln("shown")
	SetDebugEnabled(false)

	if len(got) != 1 || got[0] != "shown" {
		t.Errorf("Expected only the enabled message, got %v", got)
	}
}

func TestItoa(t *testing.T) {
	cases := map[int]string{0: "0", 7: "7", -12: "-12", 18432: "18432"}
	for n, want := range cases {
		if got := itoa(n); got != want {
			t.Errorf("itoa(%d) = %q, expected %q", n, got, want)
		}
	}
	if utoa(4294967295) != "4294967295" {
		t.Errorf("utoa max = %q", utoa(4294967295))
	}
}

package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Event kinds recorded in the EventLog
const (
	EvtStart        = 1 // start request accepted
	EvtStop         = 2 // stop request accepted
	EvtModeChange   = 3 // Mode = new mode, Value = previous mode
	EvtFaultTrip    = 4 // Value = FaultCause bits
	EvtFaultClear   = 5 // acknowledge accepted
	EvtOverrun      = 6 // Value = total ADC overruns
	EvtTargetChange = 7 // Value = new target in millivolts
)

const (
	EventRingSize = 32 // Keep the last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled gates DebugPrintln; event recording is always on
	debugEnabled bool
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// DebugPrintln writes a debug message. Never call it from the control tick.
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// Event is one entry of the EventLog.
type Event struct {
	Kind  uint8
	Mode  ConverterMode
	Tick  uint32 // control tick number
	Value uint32
}

// EventLog is a fixed ring of converter events. Recording is non-blocking
// and allocation-free so it can run inside the control tick.
type EventLog struct {
	ring  [EventRingSize]Event
	head  uint8
	total uint32
	tick  uint32
}

// SetTick stamps subsequent events with the current control tick.
func (l *EventLog) SetTick(tick uint32) {
	l.tick = tick
}

// Record appends an event, overwriting the oldest one when full.
func (l *EventLog) Record(kind uint8, mode ConverterMode, value uint32) {
	l.ring[l.head] = Event{Kind: kind, Mode: mode, Tick: l.tick, Value: value}
	l.head = (l.head + 1) % EventRingSize
	l.total++
}

// Total returns the number of events ever recorded.
func (l *EventLog) Total() uint32 {
	return l.total
}

// Events returns the retained events, oldest first.
func (l *EventLog) Events() []Event {
	n := int(l.total)
	if n > EventRingSize {
		n = EventRingSize
	}
	out := make([]Event, 0, n)
	start := (int(l.head) - n + EventRingSize) % EventRingSize
	for i := 0; i < n; i++ {
		out = append(out, l.ring[(start+i)%EventRingSize])
	}
	return out
}

// Clear empties the ring.
func (l *EventLog) Clear() {
	*l = EventLog{tick: l.tick}
}

// EventName returns a short label for an event kind.
func EventName(kind uint8) string {
	switch kind {
	case EvtStart:
		return "START"
	case EvtStop:
		return "STOP"
	case EvtModeChange:
		return "MODE"
	case EvtFaultTrip:
		return "FAULT!"
	case EvtFaultClear:
		return "CLEAR"
	case EvtOverrun:
		return "OVERRUN"
	case EvtTargetChange:
		return "TARGET"
	default:
		return "UNKNOWN"
	}
}

// Dump writes the retained events through w, oldest first.
func (l *EventLog) Dump(w DebugWriter) {
	if w == nil {
		return
	}
	w("[EVENTS] === Event Ring Dump ===")
	for _, evt := range l.Events() {
		w("[EVENTS] " + EventName(evt.Kind) +
			" tick=" + itoa(int(evt.Tick)) +
			" mode=" + evt.Mode.String() +
			" v=" + itoa(int(evt.Value)))
	}
	w("[EVENTS] === End Dump ===")
}

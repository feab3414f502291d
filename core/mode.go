package core

// ConverterMode is the operating mode of the power stage.
type ConverterMode uint8

const (
	ModeIdle ConverterMode = iota // initial and safe state, outputs off
	ModeBuck
	ModeBoost
	ModeMixed
	ModeFault // absorbing until acknowledged

	modeCount
)

var regulatedModes = [...]ConverterMode{ModeBuck, ModeBoost, ModeMixed}

var modeNames = [modeCount]string{"idle", "buck", "boost", "mixed", "fault"}

func (m ConverterMode) String() string {
	if m < modeCount {
		return modeNames[m]
	}
	return "unknown"
}

// ParseMode maps a mode name back to its value.
func ParseMode(name string) (ConverterMode, error) {
	for i, n := range modeNames {
		if n == name {
			return ConverterMode(i), nil
		}
	}
	return ModeIdle, ErrUnknownMode
}

func isRegulated(m ConverterMode) bool {
	return m == ModeBuck || m == ModeBoost || m == ModeMixed
}

// ModeMachine selects the active stages and sequences every transition.
// All methods run in the control tick; requests coming from the background
// loop reach it through the Converter's request flags.
type ModeMachine struct {
	mode    ConverterMode
	engine  *WaveformEngine
	sampler *Sampler
	reg     *Regulator
	log     *EventLog

	limits      [modeCount]ModeLimits
	ackDebounce uint8
	ackCount    uint8
	ackArmed    bool // level seen released since the trip
	transitions uint32
}

// NewModeMachine creates a machine in Idle.
func NewModeMachine(engine *WaveformEngine, sampler *Sampler, reg *Regulator, log *EventLog, cfg *Config) *ModeMachine {
	return &ModeMachine{
		mode:        ModeIdle,
		engine:      engine,
		sampler:     sampler,
		reg:         reg,
		log:         log,
		limits:      cfg.Limits,
		ackDebounce: cfg.Protection.AckDebounceTicks,
	}
}

// Mode returns the current mode.
func (m *ModeMachine) Mode() ConverterMode {
	return m.mode
}

// Transitions returns the number of mode changes so far.
func (m *ModeMachine) Transitions() uint32 {
	return m.transitions
}

// Evaluate performs the startup decision out of Idle: Buck when the input
// can already supply the target, Boost otherwise.
func (m *ModeMachine) Evaluate(vinMilliVolts, targetMilliVolts uint32) ConverterMode {
	if m.mode != ModeIdle {
		return m.mode
	}
	next := ModeBoost
	if vinMilliVolts >= targetMilliVolts {
		next = ModeBuck
	}
	m.enter(next)
	return next
}

// Request moves between the regulated modes on explicit demand.
func (m *ModeMachine) Request(next ConverterMode) bool {
	if !isRegulated(m.mode) || !isRegulated(next) || next == m.mode {
		return false
	}
	m.enter(next)
	return true
}

// Advance cycles Buck -> Boost -> Mixed -> Buck.
func (m *ModeMachine) Advance() bool {
	switch m.mode {
	case ModeBuck:
		return m.Request(ModeBoost)
	case ModeBoost:
		return m.Request(ModeMixed)
	case ModeMixed:
		return m.Request(ModeBuck)
	}
	return false
}

// Stop returns a running converter to Idle. Fault is left untouched.
func (m *ModeMachine) Stop() bool {
	if !isRegulated(m.mode) {
		return false
	}
	m.enter(ModeIdle)
	return true
}

// Trip forces Fault from any state.
func (m *ModeMachine) Trip(cause FaultCause) {
	if m.mode == ModeFault {
		return
	}
	m.ackArmed = false
	m.ackCount = 0
	m.enter(ModeFault)
	m.log.Record(EvtFaultTrip, ModeFault, uint32(cause))
}

// Acknowledge feeds the operator acknowledge level once per tick. Fault is
// left for Idle only after the level was held for the debounce count with
// the hardware fault line released; any gap restarts the count. Only a
// press that began after the trip counts, so a level still held from an
// earlier acknowledge cannot clear a new fault.
func (m *ModeMachine) Acknowledge(held, lineAsserted bool) bool {
	if m.mode != ModeFault {
		m.ackCount = 0
		return false
	}
	if !held {
		m.ackArmed = true
		m.ackCount = 0
		return false
	}
	if !m.ackArmed || lineAsserted {
		m.ackCount = 0
		return false
	}
	m.ackCount++
	if m.ackCount < m.ackDebounce {
		return false
	}
	m.ackCount = 0
	m.enter(ModeIdle)
	m.log.Record(EvtFaultClear, ModeIdle, 0)
	return true
}

// enter applies a transition in the required order: route the new output
// set, reset the new mode's accumulator, then preload the nominal duty and
// re-arm sampling so ticking resumes from a clean state.
func (m *ModeMachine) enter(next ConverterMode) {
	prev := m.mode

	m.engine.RouteMode(next)

	m.reg.Select(next)
	m.reg.Reset()

	if isRegulated(next) {
		l := m.limits[next]
		m.engine.SetDuty(PrimaryStage(next), l.NominalOffset)
		m.sampler.Arm(l.TriggerPhase)
	} else {
		m.sampler.Disarm()
	}

	m.mode = next
	m.transitions++
	m.log.Record(EvtModeChange, next, uint32(prev))
}

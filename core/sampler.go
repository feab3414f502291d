package core

// RawSample is one completed measurement round of raw 12-bit codes.
type RawSample struct {
	VinRaw  uint16
	VoutRaw uint16
}

// SampleHandler is called in ADC interrupt context once both channels of a
// round have converted.
type SampleHandler func(vinRaw, voutRaw uint16)

const (
	gotVin  = 1 << ChannelVin
	gotVout = 1 << ChannelVout
	gotBoth = gotVin | gotVout
)

// Sampler acquires {Vin, Vout} once per control tick at a fixed phase of the
// switching waveform and hands the pair to the control tick through a single
// overwrite-on-overrun slot. There is no queue: a reader only ever sees the
// newest complete round, and at most once.
type Sampler struct {
	adc    ADCDriver
	engine *WaveformEngine

	armed bool
	phase uint16

	// round in progress (written by the ADC interrupt)
	running bool
	got     uint8
	partial RawSample

	onComplete SampleHandler

	// single-writer/single-reader slot
	slot  RawSample
	fresh bool

	rounds   uint32
	overruns uint32
}

// NewSampler creates a sampler triggered from the given engine's compare events.
func NewSampler(adc ADCDriver, engine *WaveformEngine) *Sampler {
	return &Sampler{adc: adc, engine: engine}
}

// Arm sets the trigger phase (Q8 fraction of the primary on-window) and
// connects the timer trigger. Any round in progress is dropped, so the
// sequence restarts cleanly.
func (s *Sampler) Arm(phase uint16) {
	state := disableInterrupts()
	s.phase = phase
	s.armed = true
	s.running = false
	s.got = 0
	restoreInterrupts(state)

	s.engine.setTriggerPhase(phase)
	s.adc.EnableTrigger(true)
}

// Disarm disconnects the timer trigger. Software rounds via Kick still work.
func (s *Sampler) Disarm() {
	s.armed = false
	s.adc.EnableTrigger(false)
}

// Armed reports whether the timer trigger is connected.
func (s *Sampler) Armed() bool {
	return s.armed
}

// Phase returns the armed trigger phase.
func (s *Sampler) Phase() uint16 {
	return s.phase
}

// OnComplete registers the completion callback. Call before arming.
func (s *Sampler) OnComplete(cb SampleHandler) {
	s.onComplete = cb
}

// Kick starts a software-triggered round, used while no stage is switching.
func (s *Sampler) Kick() {
	s.adc.StartADCRound()
}

// RoundStarted is called by the ADC driver when a trigger starts a round.
// A previous round that has not completed is stale and discarded.
func (s *Sampler) RoundStarted() {
	if s.running {
		s.overruns++
	}
	s.running = true
	s.got = 0
	s.partial = RawSample{}
	s.rounds++
}

// ChannelDone is called by the ADC driver for each finished conversion.
func (s *Sampler) ChannelDone(ch ADCChannel, raw uint16) {
	if !s.running {
		// conversion from a discarded round
		return
	}
	switch ch {
	case ChannelVin:
		s.partial.VinRaw = raw
		s.got |= gotVin
	case ChannelVout:
		s.partial.VoutRaw = raw
		s.got |= gotVout
	default:
		return
	}
	if s.got != gotBoth {
		return
	}
	s.running = false
	s.publish(s.partial)
}

func (s *Sampler) publish(r RawSample) {
	if s.fresh {
		// the reader never took the previous pair; overwrite it
		s.overruns++
	}
	s.slot = r
	s.fresh = true
	if s.onComplete != nil {
		s.onComplete(r.VinRaw, r.VoutRaw)
	}
}

// Take returns the newest complete round if it has not been taken yet.
func (s *Sampler) Take() (RawSample, bool) {
	state := disableInterrupts()
	r, ok := s.slot, s.fresh
	s.fresh = false
	restoreInterrupts(state)
	return r, ok
}

// Rounds returns the number of rounds started.
func (s *Sampler) Rounds() uint32 {
	return s.rounds
}

// Overruns returns the number of rounds discarded or overwritten.
func (s *Sampler) Overruns() uint32 {
	return s.overruns
}

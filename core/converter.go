package core

import "sync/atomic"

const noModeRequest = 0xFF

// Status is a consistent snapshot of the converter published at the end of
// every control tick.
type Status struct {
	Mode    ConverterMode
	Running bool
	Cause   FaultCause
	Ticks   uint32

	VinMilliVolts    uint32
	VoutMilliVolts   uint32
	TargetMilliVolts uint32

	Duty     uint32
	Integral int32
	CTMax    uint16
	CTMin    uint16
	CTRange  uint16

	Overruns    uint32
	Transitions uint32
}

// Converter ties the waveform engine, sampler, regulator, supervisor and
// mode machine into one context. There are exactly two execution contexts:
// ControlTick, called from the timer repetition interrupt, and the
// background loop, which only sets request flags and reads Status.
type Converter struct {
	cfg Config
	hw  Hardware

	engine  *WaveformEngine
	sampler *Sampler
	reg     *Regulator
	sup     *Supervisor
	modes   *ModeMachine
	events  EventLog

	// request flags, written by the background loop
	reqStart   uint32
	reqStop    uint32
	reqAdvance uint32
	reqMode    uint32
	ackLevel   uint32
	target     uint32

	// control tick state
	running      bool
	ticks        uint32
	sample       Sample
	haveSample   bool
	lastTarget   uint32
	lastOverruns uint32

	status Status

	// background state
	sched      Scheduler
	indicator  Timer
	lastShown  ConverterMode
	shownCause FaultCause
}

// NewConverter validates the configuration, programs the timer geometry and
// prepares the ADC channels. The converter starts in Idle, stopped.
func NewConverter(cfg Config, hw Hardware) (*Converter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := hw.validate(); err != nil {
		return nil, err
	}
	if cfg.VoutTarget > cfg.Protection.VoutMax {
		return nil, ErrBadTarget
	}

	c := &Converter{
		cfg:        cfg,
		hw:         hw,
		target:     cfg.VoutTarget,
		lastTarget: cfg.VoutTarget,
		reqMode:    noModeRequest,
		lastShown:  modeCount,
	}
	c.engine = NewWaveformEngine(hw.Waveform, &c.cfg)
	c.sampler = NewSampler(hw.ADC, c.engine)
	c.reg = NewRegulator(&c.cfg)
	c.sup = NewSupervisor(cfg.Protection)
	c.modes = NewModeMachine(c.engine, c.sampler, c.reg, &c.events, &c.cfg)

	if err := c.engine.Configure(cfg.Geometry); err != nil {
		return nil, err
	}
	if err := hw.ADC.ConfigureChannels(); err != nil {
		return nil, err
	}
	c.publish()
	return c, nil
}

// Sampler exposes the sampler so the platform ADC interrupt can feed it.
func (c *Converter) Sampler() *Sampler {
	return c.sampler
}

// Engine exposes the waveform engine for inspection.
func (c *Converter) Engine() *WaveformEngine {
	return c.engine
}

// Config returns the configuration the converter was built with.
func (c *Converter) Config() Config {
	return c.cfg
}

// Start requests regulation. The mode is chosen on the next tick from the
// measured input voltage.
func (c *Converter) Start() {
	atomic.StoreUint32(&c.reqStart, 1)
}

// Stop requests a return to Idle. A latched fault is not cleared by Stop.
func (c *Converter) Stop() {
	atomic.StoreUint32(&c.reqStop, 1)
}

// RequestMode asks for a specific regulated mode.
func (c *Converter) RequestMode(mode ConverterMode) error {
	if !isRegulated(mode) {
		return ErrUnknownMode
	}
	atomic.StoreUint32(&c.reqMode, uint32(mode))
	return nil
}

// RequestAdvance asks for the next mode in the Buck, Boost, Mixed cycle.
func (c *Converter) RequestAdvance() {
	atomic.StoreUint32(&c.reqAdvance, 1)
}

// SetAcknowledge reports the operator fault acknowledge level. It must be
// released after a trip and then held for the debounce interval to clear
// the fault.
func (c *Converter) SetAcknowledge(held bool) {
	v := uint32(0)
	if held {
		v = 1
	}
	atomic.StoreUint32(&c.ackLevel, v)
}

// SetTarget changes the regulated output voltage.
func (c *Converter) SetTarget(milliVolts uint32) error {
	if milliVolts == 0 || milliVolts > c.cfg.Protection.VoutMax {
		return ErrBadTarget
	}
	atomic.StoreUint32(&c.target, milliVolts)
	return nil
}

// Status returns the snapshot published by the last control tick.
func (c *Converter) Status() Status {
	state := disableInterrupts()
	s := c.status
	restoreInterrupts(state)
	return s
}

// Events returns the retained event ring, oldest first.
func (c *Converter) Events() []Event {
	state := disableInterrupts()
	evts := c.events.Events()
	restoreInterrupts(state)
	return evts
}

// DumpEvents writes the event ring through the debug writer. Background
// only.
func (c *Converter) DumpEvents() {
	if !debugEnabled {
		return
	}
	state := disableInterrupts()
	snapshot := c.events
	restoreInterrupts(state)
	snapshot.Dump(debugPrintln)
}

// ControlTick runs one control step. It never blocks and never allocates.
func (c *Converter) ControlTick() {
	c.ticks++
	c.events.SetTick(c.ticks)
	target := atomic.LoadUint32(&c.target)
	if target != c.lastTarget {
		c.lastTarget = target
		c.events.Record(EvtTargetChange, c.modes.Mode(), target)
	}

	raw, fresh := c.sampler.Take()
	if fresh {
		c.sample = c.cfg.Calibration.Convert(raw)
		c.haveSample = true
	}

	// The fault line is checked every tick regardless of sample freshness.
	line := c.hw.Fault.FaultAsserted()
	c.sup.CheckFaultLine(line)

	mode := c.modes.Mode()
	if isRegulated(mode) && fresh {
		c.sup.CheckRange(c.sample)
		duty := c.reg.Tick(c.sample.VoutMilliVolts, target)
		c.engine.SetDuty(PrimaryStage(mode), duty)
		ctMax, ctMin := c.reg.Saturation()
		c.sup.CheckSaturation(ctMax, ctMin)
	}

	if c.sup.Latched() {
		c.modes.Trip(c.sup.Cause())
	}

	c.applyRequests()

	switch c.modes.Mode() {
	case ModeFault:
		held := atomic.LoadUint32(&c.ackLevel) != 0
		if c.modes.Acknowledge(held, line) {
			c.sup.Clear()
		}
	case ModeIdle:
		if c.running && fresh && c.inputUsable() {
			c.modes.Evaluate(c.sample.VinMilliVolts, target)
		}
	}

	if n := c.sampler.Overruns(); n != c.lastOverruns {
		c.lastOverruns = n
		c.events.Record(EvtOverrun, c.modes.Mode(), n)
	}

	if !c.sampler.Armed() {
		// nothing is switching, so no timer trigger; measure by software
		c.sampler.Kick()
	}

	c.publish()
}

func (c *Converter) applyRequests() {
	if atomic.SwapUint32(&c.reqStop, 0) != 0 {
		c.running = false
		c.modes.Stop()
		c.events.Record(EvtStop, c.modes.Mode(), 0)
	}
	if atomic.SwapUint32(&c.reqStart, 0) != 0 && !c.running {
		c.running = true
		c.events.Record(EvtStart, c.modes.Mode(), 0)
	}
	if m := atomic.SwapUint32(&c.reqMode, noModeRequest); m != noModeRequest {
		c.modes.Request(ConverterMode(m))
	}
	if atomic.SwapUint32(&c.reqAdvance, 0) != 0 {
		c.modes.Advance()
	}
}

// inputUsable gates the startup decision: regulation is not entered on an
// input the supervisor would immediately reject.
func (c *Converter) inputUsable() bool {
	p := c.cfg.Protection
	return c.sample.VinMilliVolts >= p.VinMin && c.sample.VinMilliVolts <= p.VinMax
}

func (c *Converter) publish() {
	ctMax, ctMin := c.reg.Saturation()
	s := Status{
		Mode:             c.modes.Mode(),
		Running:          c.running,
		Cause:            c.sup.Cause(),
		Ticks:            c.ticks,
		VinMilliVolts:    c.sample.VinMilliVolts,
		VoutMilliVolts:   c.sample.VoutMilliVolts,
		TargetMilliVolts: c.lastTarget,
		Duty:             c.reg.LastDuty(),
		Integral:         c.reg.Integral(),
		CTMax:            ctMax,
		CTMin:            ctMin,
		CTRange:          c.sup.RangeCount(),
		Overruns:         c.sampler.Overruns(),
		Transitions:      c.modes.Transitions(),
	}
	if !isRegulated(s.Mode) {
		s.Duty = 0
	}
	state := disableInterrupts()
	c.status = s
	restoreInterrupts(state)
}

// Background runs the background timers (status indicator) at the given
// clock value. Call it from the main loop; it never touches the power stage.
func (c *Converter) Background(now uint32) {
	if c.indicator.Handler == nil {
		c.indicator.Handler = c.refreshIndicator
		c.indicator.WakeTime = now
		c.sched.Add(&c.indicator)
	}
	c.sched.Dispatch(now)
}

func (c *Converter) refreshIndicator(t *Timer) uint8 {
	s := c.Status()
	if s.Mode != c.lastShown || s.Cause != c.shownCause {
		DebugPrintln("[CONV] mode " + s.Mode.String() + " cause " + s.Cause.String())
		if s.Mode == ModeFault && c.lastShown != ModeFault {
			c.DumpEvents()
		}
		c.lastShown = s.Mode
		c.shownCause = s.Cause
	}
	if c.hw.Indicator != nil {
		c.hw.Indicator.ShowMode(s.Mode, s.Cause)
	}
	t.WakeTime += c.cfg.IndicatorInterval
	if timerBefore(t.WakeTime, c.sched.Now()) {
		// background loop stalled; don't replay missed refreshes
		t.WakeTime = c.sched.Now() + c.cfg.IndicatorInterval
	}
	return SF_RESCHEDULE
}

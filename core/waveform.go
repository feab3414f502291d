package core

// Window is the on-interval of a stage's active switch within one period,
// in timer ticks from the period start.
type Window struct {
	Set   uint32
	Reset uint32
}

// Width returns the on-time of the window.
func (w Window) Width() uint32 {
	if w.Reset <= w.Set {
		return 0
	}
	return w.Reset - w.Set
}

// WaveformEngine generates the complementary gate signals of both legs.
// It is the single owner of the compare and output-enable registers; all
// mutating calls happen from the control tick.
type WaveformEngine struct {
	driver     WaveformDriver
	geometry   TimingGeometry
	configured bool

	limits    [modeCount]ModeLimits
	mixedLead uint32
	mixedTail uint32

	mode         ConverterMode // mode whose output set is routed
	active       OutputMask
	window       [stageCount]Window
	triggerPhase uint16
	trigger      uint32
}

// NewWaveformEngine creates an unconfigured engine bound to a timer driver.
func NewWaveformEngine(driver WaveformDriver, cfg *Config) *WaveformEngine {
	return &WaveformEngine{
		driver:    driver,
		limits:    cfg.Limits,
		mixedLead: cfg.MixedBoostLead,
		mixedTail: cfg.MixedBoostTail,
		mode:      ModeIdle,
	}
}

// OutputsFor returns the exact output set a mode drives.
//
//	Buck:  buck pair switching, boost high-side held on
//	Boost: boost pair switching, buck high-side held on
//	Mixed: both pairs switching, boost window nested in the buck window
func OutputsFor(mode ConverterMode) OutputMask {
	switch mode {
	case ModeBuck:
		return OutBuckPair | OutBoostBypass
	case ModeBoost:
		return OutBoostPair | OutBuckBypass
	case ModeMixed:
		return OutBuckPair | OutBoostPair
	default:
		return OutNone
	}
}

// PrimaryStage returns the stage whose window carries the duty command.
func PrimaryStage(mode ConverterMode) Stage {
	if mode == ModeBoost {
		return StageBoost
	}
	return StageBuck
}

// Configure programs the fixed period and deadtime. It may be called once;
// outputs stay disabled until a mode is routed.
func (e *WaveformEngine) Configure(g TimingGeometry) error {
	if e.configured {
		return ErrAlreadyConfigured
	}
	if g.Period == 0 || g.Period > MaxPeriod || g.RepetitionPeriods == 0 ||
		g.DeadtimeRising+g.DeadtimeFalling >= g.Period {
		return ErrBadGeometry
	}
	if err := e.driver.ConfigureTimer(g); err != nil {
		return err
	}
	e.geometry = g
	e.configured = true
	e.RouteMode(ModeIdle)
	return nil
}

// Geometry returns the configured timing.
func (e *WaveformEngine) Geometry() TimingGeometry {
	return e.geometry
}

// RouteMode switches the output set to the given mode's set.
func (e *WaveformEngine) RouteMode(mode ConverterMode) {
	e.mode = mode
	e.RouteOutputs(OutputsFor(mode))
}

// RouteOutputs hands a complete output set to the driver, which latches it
// at the next period edge. The previous set is replaced, never merged.
func (e *WaveformEngine) RouteOutputs(mask OutputMask) {
	e.driver.RouteOutputs(mask)
	e.active = mask
}

// Active returns the routed output set.
func (e *WaveformEngine) Active() OutputMask {
	return e.active
}

// SetDuty programs the on-window of a stage and returns the compare value
// actually applied. The value is clamped to the routed mode's limits even
// though the regulator already clamps. Stages that are not modulated in the
// routed mode are left untouched and 0 is returned; in Mixed mode the boost
// window is derived from the buck duty.
func (e *WaveformEngine) SetDuty(stage Stage, compare uint32) uint32 {
	if !isRegulated(e.mode) || stage != PrimaryStage(e.mode) {
		return 0
	}
	l := e.limits[e.mode]
	if compare < l.MinDuty {
		compare = l.MinDuty
	} else if compare > l.MaxDuty {
		compare = l.MaxDuty
	}

	e.program(stage, Window{Set: 0, Reset: compare})
	if e.mode == ModeMixed {
		e.program(StageBoost, Window{Set: e.mixedLead, Reset: compare - e.mixedTail})
	}
	e.retimeTrigger()
	return compare
}

// Window returns the last programmed window of a stage.
func (e *WaveformEngine) Window(stage Stage) Window {
	return e.window[stage]
}

// Trigger returns the ADC trigger compare value.
func (e *WaveformEngine) Trigger() uint32 {
	return e.trigger
}

func (e *WaveformEngine) program(stage Stage, w Window) {
	e.window[stage] = w
	e.driver.SetCompare(stage, CompareSet, w.Set)
	e.driver.SetCompare(stage, CompareReset, w.Reset)
}

// setTriggerPhase stores the ADC phase and re-derives the trigger compare.
func (e *WaveformEngine) setTriggerPhase(phase uint16) {
	if phase > 256 {
		phase = 256
	}
	e.triggerPhase = phase
	e.retimeTrigger()
}

// retimeTrigger places the ADC trigger at a fixed fraction of the primary
// on-window, so it tracks every duty update.
func (e *WaveformEngine) retimeTrigger() {
	stage := PrimaryStage(e.mode)
	w := e.window[stage]
	e.trigger = w.Set + (w.Width()*uint32(e.triggerPhase))>>8
	e.driver.SetCompare(stage, CompareADC, e.trigger)
}

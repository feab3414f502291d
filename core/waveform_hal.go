package core

// Stage identifies one half-bridge leg of the four-switch buck-boost power stage.
type Stage uint8

const (
	StageBuck  Stage = 0 // input-side leg
	StageBoost Stage = 1 // output-side leg

	stageCount = 2
)

// CompareUnit selects a compare register inside the timer unit driving a stage.
type CompareUnit uint8

const (
	CompareSet   CompareUnit = 1 // active switch turn-on edge
	CompareReset CompareUnit = 2 // active switch turn-off edge
	CompareADC   CompareUnit = 3 // ADC trigger event
)

// OutputMask is a set of gate outputs. A complementary pair (High/Low) is
// driven with deadtime; a Bypass bit holds the leg's high-side switch on
// for the whole period.
type OutputMask uint8

const (
	OutBuckHigh    OutputMask = 1 << 0
	OutBuckLow     OutputMask = 1 << 1
	OutBoostHigh   OutputMask = 1 << 2
	OutBoostLow    OutputMask = 1 << 3
	OutBuckBypass  OutputMask = 1 << 4
	OutBoostBypass OutputMask = 1 << 5

	OutNone      OutputMask = 0
	OutBuckPair             = OutBuckHigh | OutBuckLow
	OutBoostPair            = OutBoostHigh | OutBoostLow
)

// TimingGeometry is the fixed switching-period layout configured once at startup.
type TimingGeometry struct {
	Period            uint32 // switching period in timer ticks
	DeadtimeRising    uint32 // ticks inserted before the high-side turns on
	DeadtimeFalling   uint32 // ticks inserted before the low-side turns on
	RepetitionPeriods uint8  // switching periods per control tick
}

// WaveformDriver is the abstract timer interface the waveform engine drives.
// Platform-specific implementations own the actual registers.
type WaveformDriver interface {
	// ConfigureTimer programs period, deadtime and the repetition event.
	// Called exactly once.
	ConfigureTimer(g TimingGeometry) error

	// SetCompare writes a compare register through its preload, so the
	// value takes effect at the next period edge.
	SetCompare(stage Stage, unit CompareUnit, value uint32)

	// RouteOutputs replaces the whole output-enable set. The new set must be
	// latched at the next period edge, never mid-cycle.
	RouteOutputs(mask OutputMask)
}

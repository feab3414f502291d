package core

import (
	"errors"
	"math"
)

var (
	ErrBadGeometry       = errors.New("invalid timing geometry")
	ErrAlreadyConfigured = errors.New("waveform timer already configured")
	ErrBadLimits         = errors.New("invalid duty limits")
	ErrBadGains          = errors.New("invalid regulator gains")
	ErrBadProtection     = errors.New("invalid protection limits")
	ErrBadCalibration    = errors.New("invalid calibration")
	ErrMissingDriver     = errors.New("hardware driver not configured")
	ErrUnknownMode       = errors.New("unknown converter mode")
	ErrBadTarget         = errors.New("output target out of range")
	ErrBadInterval       = errors.New("invalid indicator interval")
)

// Reference board timing: 250 kHz switching on a 4.608 GHz equivalent
// high-resolution timer clock.
const (
	DefaultPeriod          = 18432
	DefaultDeadtimeRising  = 230
	DefaultDeadtimeFalling = 230
	DefaultRepetition      = 32 // control tick every 32 periods (~7.8 kHz)

	// MaxPeriod is the largest period the timer accepts.
	MaxPeriod = 0xFFDF
)

// ADC trigger phases, as a Q8 fraction of the primary stage's on-window.
// 128 places the conversion in the middle of the on-time, half a window
// away from either switching edge.
const (
	TriggerPhaseBuck  = 128
	TriggerPhaseBoost = 128
	TriggerPhaseMixed = 128
)

// ModeLimits bounds the duty command of one converter mode.
type ModeLimits struct {
	MinDuty       uint32 // compare ticks
	MaxDuty       uint32 // compare ticks
	NominalOffset uint32 // duty at zero error, preloaded on mode entry
	TriggerPhase  uint16 // Q8 fraction of the on-window
}

// PIGains are the fixed-point regulator coefficients. Both gain terms are
// divided by Scale; the integral accumulator is held in [-SatLimit, SatLimit].
type PIGains struct {
	Kp       int32
	Ki       int32
	Scale    int32
	SatLimit int32
}

// ProtectionLimits configures the supervisor.
type ProtectionLimits struct {
	VinMin  uint32 // millivolts
	VinMax  uint32 // millivolts
	VoutMax uint32 // millivolts

	MaxRange    uint16 // CTRange trip threshold
	MaxOverload uint16 // CTMax/CTMin trip threshold

	AckDebounceTicks uint8 // consecutive ticks the fault acknowledge must be held
}

// Config holds everything fixed at startup.
type Config struct {
	Geometry TimingGeometry
	Limits   [modeCount]ModeLimits

	// Mixed mode nests the boost window inside the buck window:
	// boost on from MixedBoostLead to (buck duty - MixedBoostTail).
	MixedBoostLead uint32
	MixedBoostTail uint32

	Gains       PIGains
	Protection  ProtectionLimits
	Calibration Calibration

	VoutTarget        uint32 // initial output target, millivolts
	IndicatorInterval uint32 // background ticks between indicator refreshes
}

// DefaultConfig returns the reference board configuration.
func DefaultConfig() Config {
	cfg := Config{
		Geometry: TimingGeometry{
			Period:            DefaultPeriod,
			DeadtimeRising:    DefaultDeadtimeRising,
			DeadtimeFalling:   DefaultDeadtimeFalling,
			RepetitionPeriods: DefaultRepetition,
		},
		MixedBoostLead: 1500,
		MixedBoostTail: 1500,
		Gains: PIGains{
			Kp:       40,
			Ki:       20,
			Scale:    1024,
			SatLimit: DefaultPeriod / 2,
		},
		Protection: ProtectionLimits{
			VinMin:           3000,
			VinMax:           15000,
			VoutMax:          18000,
			MaxRange:         16,
			MaxOverload:      250,
			AckDebounceTicks: 8,
		},
		Calibration:       DefaultCalibration(),
		VoutTarget:        5000,
		IndicatorInterval: 100000, // 100 ms on the 1 MHz background clock
	}
	cfg.Limits[ModeBuck] = ModeLimits{
		MinDuty:       1000,
		MaxDuty:       16500,
		NominalOffset: DefaultPeriod / 2,
		TriggerPhase:  TriggerPhaseBuck,
	}
	cfg.Limits[ModeBoost] = ModeLimits{
		MinDuty:       1000,
		MaxDuty:       11000,
		NominalOffset: 3000,
		TriggerPhase:  TriggerPhaseBoost,
	}
	cfg.Limits[ModeMixed] = ModeLimits{
		MinDuty:       4000,
		MaxDuty:       16500,
		NominalOffset: DefaultPeriod / 2,
		TriggerPhase:  TriggerPhaseMixed,
	}
	return cfg
}

// Validate rejects configurations that cannot drive the power stage safely.
// A failure here is a build-time mistake, not a runtime fault.
func (c *Config) Validate() error {
	g := c.Geometry
	if g.Period == 0 || g.Period > MaxPeriod || g.RepetitionPeriods == 0 {
		return ErrBadGeometry
	}
	if g.DeadtimeRising+g.DeadtimeFalling >= g.Period {
		return ErrBadGeometry
	}

	for _, m := range regulatedModes {
		l := c.Limits[m]
		if l.MinDuty > l.NominalOffset || l.NominalOffset > l.MaxDuty || l.MaxDuty >= g.Period {
			return ErrBadLimits
		}
		if l.TriggerPhase > 256 {
			return ErrBadLimits
		}
	}
	if c.MixedBoostLead+c.MixedBoostTail >= c.Limits[ModeMixed].MinDuty {
		return ErrBadLimits
	}

	if err := c.Calibration.Validate(); err != nil {
		return err
	}
	if err := c.Gains.validate(c.maxError()); err != nil {
		return err
	}

	p := c.Protection
	if p.VinMin >= p.VinMax || p.MaxRange == 0 || p.MaxOverload == 0 || p.AckDebounceTicks == 0 {
		return ErrBadProtection
	}

	if c.IndicatorInterval == 0 {
		return ErrBadInterval
	}
	return nil
}

// maxError is the largest regulation error in millivolts: a full-scale
// reading against a zero target, or an empty output against VoutMax.
func (c *Config) maxError() int64 {
	fs := int64(c.Calibration.Convert(RawSample{VoutRaw: ADCMax}).VoutMilliVolts)
	if v := int64(c.Protection.VoutMax); v > fs {
		return v
	}
	return fs
}

// validate bounds the gains so every product the regulator forms with an
// error up to maxErr stays inside int32.
func (g PIGains) validate(maxErr int64) error {
	if g.Scale <= 0 || g.SatLimit <= 0 || g.Kp < 0 || g.Ki < 0 {
		return ErrBadGains
	}
	if g.SatLimit > MaxPeriod ||
		int64(g.Kp)*maxErr > math.MaxInt32 ||
		int64(g.Ki)*maxErr > math.MaxInt32 {
		return ErrBadGains
	}
	return nil
}

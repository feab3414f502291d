// Package profile loads converter run profiles: the operating point a host
// applies to a board, plus optional board overrides used by the simulator.
package profile

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"buckboost/core"
	"buckboost/host/sim"
)

var (
	ErrNoTarget = errors.New("profile has no target")
	ErrBadMode  = errors.New("profile mode must be buck, boost or mixed")
)

// Profile is one YAML run profile.
//
//	device: /dev/ttyACM0
//	target_mv: 9000
//	mode: boost
//	start: true
//	report_interval: 250ms
type Profile struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	TargetMilliVolts uint32 `yaml:"target_mv"`
	Mode             string `yaml:"mode"` // optional regulated mode forced after start
	Start            *bool  `yaml:"start"`

	ReportInterval time.Duration `yaml:"report_interval"`
	AckHold        time.Duration `yaml:"ack_hold"`

	Board *BoardOverrides `yaml:"board"`
	Plant *PlantSettings  `yaml:"plant"`
}

// BoardOverrides replaces reference board constants. Zero fields keep the
// default.
type BoardOverrides struct {
	Period          uint32 `yaml:"period"`
	DeadtimeRising  uint32 `yaml:"deadtime_rising"`
	DeadtimeFalling uint32 `yaml:"deadtime_falling"`
	Repetition      uint8  `yaml:"repetition"`

	Kp       int32 `yaml:"kp"`
	Ki       int32 `yaml:"ki"`
	Scale    int32 `yaml:"scale"`
	SatLimit int32 `yaml:"sat_limit"`

	VinMinMilliVolts  uint32 `yaml:"vin_min_mv"`
	VinMaxMilliVolts  uint32 `yaml:"vin_max_mv"`
	VoutMaxMilliVolts uint32 `yaml:"vout_max_mv"`
	MaxRange          uint16 `yaml:"max_range"`
	MaxOverload       uint16 `yaml:"max_overload"`
	AckDebounceTicks  uint8  `yaml:"ack_debounce_ticks"`
}

// PlantSettings configures the simulated power stage.
type PlantSettings struct {
	VinMilliVolts   uint32  `yaml:"vin_mv"`
	LoadOhms        float64 `yaml:"load_ohms"`
	Smoothing       float64 `yaml:"smoothing"`
	NoiseMilliVolts uint32  `yaml:"noise_mv"`
}

// Default returns a profile for the reference board at its default target.
func Default() *Profile {
	start := true
	return &Profile{
		Device:           "/dev/ttyACM0",
		Baud:             250000,
		TargetMilliVolts: core.DefaultConfig().VoutTarget,
		Start:            &start,
		ReportInterval:   250 * time.Millisecond,
		AckHold:          50 * time.Millisecond,
	}
}

// Load reads and validates a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return Parse(data)
}

// Parse decodes a profile from YAML text.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	applyDefaults(&p)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func applyDefaults(p *Profile) {
	d := Default()
	if p.Device == "" {
		p.Device = d.Device
	}
	if p.Baud == 0 {
		p.Baud = d.Baud
	}
	if p.Start == nil {
		p.Start = d.Start
	}
	if p.ReportInterval == 0 {
		p.ReportInterval = d.ReportInterval
	}
	if p.AckHold == 0 {
		p.AckHold = d.AckHold
	}
}

// Validate checks the operating point against the board limits.
func (p *Profile) Validate() error {
	if p.TargetMilliVolts == 0 {
		return ErrNoTarget
	}
	if p.Mode != "" {
		m, err := core.ParseMode(p.Mode)
		if err != nil || m == core.ModeIdle || m == core.ModeFault {
			return fmt.Errorf("%w: %q", ErrBadMode, p.Mode)
		}
	}
	if p.ReportInterval < 0 || p.AckHold < 0 {
		return fmt.Errorf("profile durations must not be negative")
	}
	cfg, err := p.BoardConfig()
	if err != nil {
		return err
	}
	if p.TargetMilliVolts > cfg.Protection.VoutMax {
		return fmt.Errorf("target %d mV: %w", p.TargetMilliVolts, core.ErrBadTarget)
	}
	return nil
}

// BoardConfig applies the board overrides to the reference configuration
// and validates the result. The profile target becomes the initial target.
func (p *Profile) BoardConfig() (core.Config, error) {
	cfg := core.DefaultConfig()
	if p.TargetMilliVolts != 0 {
		cfg.VoutTarget = p.TargetMilliVolts
	}
	if o := p.Board; o != nil {
		setUint32(&cfg.Geometry.Period, o.Period)
		setUint32(&cfg.Geometry.DeadtimeRising, o.DeadtimeRising)
		setUint32(&cfg.Geometry.DeadtimeFalling, o.DeadtimeFalling)
		if o.Repetition != 0 {
			cfg.Geometry.RepetitionPeriods = o.Repetition
		}
		setInt32(&cfg.Gains.Kp, o.Kp)
		setInt32(&cfg.Gains.Ki, o.Ki)
		setInt32(&cfg.Gains.Scale, o.Scale)
		setInt32(&cfg.Gains.SatLimit, o.SatLimit)
		setUint32(&cfg.Protection.VinMin, o.VinMinMilliVolts)
		setUint32(&cfg.Protection.VinMax, o.VinMaxMilliVolts)
		setUint32(&cfg.Protection.VoutMax, o.VoutMaxMilliVolts)
		if o.MaxRange != 0 {
			cfg.Protection.MaxRange = o.MaxRange
		}
		if o.MaxOverload != 0 {
			cfg.Protection.MaxOverload = o.MaxOverload
		}
		if o.AckDebounceTicks != 0 {
			cfg.Protection.AckDebounceTicks = o.AckDebounceTicks
		}
	}
	if err := cfg.Validate(); err != nil {
		return core.Config{}, fmt.Errorf("board overrides: %w", err)
	}
	return cfg, nil
}

func setUint32(dst *uint32, v uint32) {
	if v != 0 {
		*dst = v
	}
}

func setInt32(dst *int32, v int32) {
	if v != 0 {
		*dst = v
	}
}

// PlantConfig returns the simulated plant settings.
func (p *Profile) PlantConfig() sim.PlantConfig {
	cfg := sim.DefaultPlant()
	if s := p.Plant; s != nil {
		if s.VinMilliVolts != 0 {
			cfg.VinMilliVolts = s.VinMilliVolts
		}
		if s.LoadOhms != 0 {
			cfg.LoadOhms = s.LoadOhms
		}
		if s.Smoothing != 0 {
			cfg.Smoothing = s.Smoothing
		}
		cfg.NoiseMilliVolts = s.NoiseMilliVolts
	}
	return cfg
}

// Controller is the part of a board connection a profile drives.
type Controller interface {
	SetTarget(milliVolts uint32) error
	Start() error
	RequestMode(mode core.ConverterMode) error
	Status() (core.Status, error)
}

// startWait bounds how long Apply waits for regulation before forcing a mode.
const startWait = 2 * time.Second

// Apply sets the target, starts the converter when asked and forces the
// profile mode. The board ignores mode requests until it regulates, so
// Apply waits for the startup decision before sending one.
func (p *Profile) Apply(c Controller) error {
	if err := c.SetTarget(p.TargetMilliVolts); err != nil {
		return fmt.Errorf("set target: %w", err)
	}
	if p.Start == nil || !*p.Start {
		return nil
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if p.Mode == "" {
		return nil
	}
	mode, err := core.ParseMode(p.Mode)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(startWait)
	for {
		s, err := c.Status()
		if err != nil {
			return err
		}
		switch s.Mode {
		case core.ModeBuck, core.ModeBoost, core.ModeMixed:
			if s.Mode == mode {
				return nil
			}
			if err := c.RequestMode(mode); err != nil {
				return fmt.Errorf("request mode %s: %w", mode, err)
			}
			return nil
		case core.ModeFault:
			return fmt.Errorf("converter faulted (%s) before reaching %s", s.Cause, mode)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("converter did not start within %v", startWait)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

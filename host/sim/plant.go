// Package sim runs the converter control core on the host against an
// averaged model of the power stage, behind the same serial link the
// board exposes.
package sim

import (
	"buckboost/core"
)

// seriesOhms lumps switch and inductor resistance.
const seriesOhms = 0.2

// PlantConfig describes the simulated power stage.
type PlantConfig struct {
	VinMilliVolts uint32
	LoadOhms      float64

	// Smoothing is the fraction of the way the output moves toward its
	// steady state per control tick, in (0, 1].
	Smoothing float64

	// NoiseMilliVolts is a deterministic ripple added to the Vout reading.
	NoiseMilliVolts uint32
}

// DefaultPlant is a 12 V source into a 10 ohm load.
func DefaultPlant() PlantConfig {
	return PlantConfig{
		VinMilliVolts: 12000,
		LoadOhms:      10,
		Smoothing:     0.05,
	}
}

// Plant is an averaged model of the four-switch buck-boost stage. It is the
// timer, ADC and fault line the control core drives.
type Plant struct {
	cfg PlantConfig
	cal core.Calibration

	geometry core.TimingGeometry
	compares [2][4]uint32
	mask     core.OutputMask

	triggered bool
	kicked    bool
	fault     bool

	vout    float64
	ripple  int
	samples uint32
}

// NewPlant creates a plant with the output discharged.
func NewPlant(cfg PlantConfig, cal core.Calibration) *Plant {
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = DefaultPlant().Smoothing
	}
	return &Plant{cfg: cfg, cal: cal}
}

func (p *Plant) ConfigureTimer(g core.TimingGeometry) error {
	p.geometry = g
	return nil
}

func (p *Plant) SetCompare(stage core.Stage, unit core.CompareUnit, value uint32) {
	p.compares[stage][unit] = value
}

func (p *Plant) RouteOutputs(mask core.OutputMask) {
	p.mask = mask
}

func (p *Plant) ConfigureChannels() error { return nil }

func (p *Plant) EnableTrigger(enabled bool) { p.triggered = enabled }

func (p *Plant) StartADCRound() { p.kicked = true }

func (p *Plant) FaultAsserted() bool { return p.fault }

// SetFault drives the hardware fault line. While asserted every output is
// forced off, as the timer's break input does.
func (p *Plant) SetFault(asserted bool) {
	p.fault = asserted
}

// SetInput changes the source voltage.
func (p *Plant) SetInput(milliVolts uint32) {
	p.cfg.VinMilliVolts = milliVolts
}

// SetLoad changes the load resistance.
func (p *Plant) SetLoad(ohms float64) {
	p.cfg.LoadOhms = ohms
}

// Output returns the modelled output voltage in millivolts.
func (p *Plant) Output() uint32 {
	return uint32(p.vout + 0.5)
}

// Mask returns the routed output set.
func (p *Plant) Mask() core.OutputMask {
	return p.mask
}

// dutyOf returns the on-fraction of a stage's active switch.
func (p *Plant) dutyOf(stage core.Stage) float64 {
	if p.geometry.Period == 0 {
		return 0
	}
	set, reset := p.compares[stage][core.CompareSet], p.compares[stage][core.CompareReset]
	if reset <= set {
		return 0
	}
	return float64(reset-set) / float64(p.geometry.Period)
}

// steadyState returns the averaged output the stage settles to under the
// current routing.
func (p *Plant) steadyState() float64 {
	vin := float64(p.cfg.VinMilliVolts)
	if p.fault {
		return 0
	}
	buck := p.mask&core.OutBuckPair == core.OutBuckPair
	boost := p.mask&core.OutBoostPair == core.OutBoostPair

	// Buck ratio D, boost ratio 1/(1-D); a bypassed leg passes Vin through.
	gain := 0.0
	switch {
	case buck && boost:
		gain = p.dutyOf(core.StageBuck) / (1 - p.dutyOf(core.StageBoost))
	case buck && p.mask&core.OutBoostBypass != 0:
		gain = p.dutyOf(core.StageBuck)
	case boost && p.mask&core.OutBuckBypass != 0:
		gain = 1 / (1 - p.dutyOf(core.StageBoost))
	}
	return vin * gain
}

// Advance moves the model one control tick forward.
func (p *Plant) Advance() {
	target := p.steadyState()
	if p.cfg.LoadOhms > 0 {
		// conduction losses drop part of the output across the switches
		target *= p.cfg.LoadOhms / (p.cfg.LoadOhms + seriesOhms)
	}
	p.vout += (target - p.vout) * p.cfg.Smoothing
}

// Convert runs one ADC round if the timer trigger or a software kick asked
// for one, feeding the result into s.
func (p *Plant) Convert(s *core.Sampler) {
	if !p.triggered && !p.kicked {
		return
	}
	p.kicked = false
	p.samples++

	vout := p.vout
	if p.cfg.NoiseMilliVolts > 0 {
		// alternate above and below the true value
		p.ripple = 1 - p.ripple
		vout += float64(p.cfg.NoiseMilliVolts) * float64(2*p.ripple-1)
		if vout < 0 {
			vout = 0
		}
	}

	s.RoundStarted()
	s.ChannelDone(core.ChannelVin, p.code(float64(p.cfg.VinMilliVolts), p.cal.VinNum, p.cal.VinDen))
	s.ChannelDone(core.ChannelVout, p.code(vout, p.cal.VoutNum, p.cal.VoutDen))
}

// code inverts the calibration: the ADC code a terminal voltage produces.
func (p *Plant) code(milliVolts float64, num, den uint32) uint16 {
	c := milliVolts * float64(core.ADCMax+1) * float64(den) / (float64(p.cal.RefMilliVolts) * float64(num))
	if c < 0 {
		return 0
	}
	if c > core.ADCMax {
		return core.ADCMax
	}
	return uint16(c + 0.5)
}

// Samples returns the number of ADC rounds produced.
func (p *Plant) Samples() uint32 {
	return p.samples
}

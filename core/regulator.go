package core

// piState is the per-mode part of the regulator. Each topology keeps its
// own accumulator: the integral built up while bucking is not a valid
// starting point for boosting.
type piState struct {
	integral int32
	ctMax    uint16
	ctMin    uint16
}

// Regulator is a fixed-point PI controller with anti-windup that turns the
// output voltage error into a duty command for the active mode.
//
// Anti-windup clamps the integral term alone to [-SatLimit, SatLimit]; the
// combined P+I+offset is then clamped to the mode's duty limits and every
// clamp is counted in CTMax/CTMin.
type Regulator struct {
	gains  PIGains
	limits [modeCount]ModeLimits
	state  [modeCount]piState
	active ConverterMode

	lastError int32
	lastDuty  uint32
}

// NewRegulator creates a regulator with all accumulators at zero.
func NewRegulator(cfg *Config) *Regulator {
	return &Regulator{
		gains:  cfg.Gains,
		limits: cfg.Limits,
		active: ModeIdle,
	}
}

// Select makes a mode's accumulator the active one.
func (r *Regulator) Select(mode ConverterMode) {
	r.active = mode
}

// Active returns the mode whose accumulator is used by Tick.
func (r *Regulator) Active() ConverterMode {
	return r.active
}

// Reset zeroes the active mode's integral and saturation counters.
func (r *Regulator) Reset() {
	r.state[r.active] = piState{}
	r.lastError = 0
	r.lastDuty = r.limits[r.active].NominalOffset
}

// Tick runs one regulation step and returns the duty command in compare
// ticks. Voltages are in millivolts. Outside the regulated modes it does
// nothing and returns 0.
func (r *Regulator) Tick(voutMeasured, voutTarget uint32) uint32 {
	if !isRegulated(r.active) {
		return 0
	}
	st := &r.state[r.active]
	l := r.limits[r.active]
	g := r.gains

	err := int64(voutMeasured) - int64(voutTarget)
	proportional := -int64(g.Kp) * err / int64(g.Scale)

	integral := int64(st.integral) - int64(g.Ki)*err/int64(g.Scale)
	st.integral = int32(clamp64(integral, -int64(g.SatLimit), int64(g.SatLimit)))

	duty := proportional + int64(st.integral) + int64(l.NominalOffset)
	switch {
	case duty > int64(l.MaxDuty):
		duty = int64(l.MaxDuty)
		st.ctMax = bump(st.ctMax)
		st.ctMin = decay(st.ctMin)
	case duty < int64(l.MinDuty):
		duty = int64(l.MinDuty)
		st.ctMin = bump(st.ctMin)
		st.ctMax = decay(st.ctMax)
	default:
		st.ctMax = decay(st.ctMax)
		st.ctMin = decay(st.ctMin)
	}

	r.lastError = int32(err)
	r.lastDuty = uint32(duty)
	return r.lastDuty
}

// Integral returns the active mode's integral term.
func (r *Regulator) Integral() int32 {
	return r.state[r.active].integral
}

// IntegralOf returns the integral term of any mode.
func (r *Regulator) IntegralOf(mode ConverterMode) int32 {
	return r.state[mode].integral
}

// Saturation returns the active mode's CTMax and CTMin counters.
func (r *Regulator) Saturation() (ctMax, ctMin uint16) {
	st := r.state[r.active]
	return st.ctMax, st.ctMin
}

// LastDuty returns the most recent duty command.
func (r *Regulator) LastDuty() uint32 {
	return r.lastDuty
}

// LastError returns the most recent voltage error in millivolts.
func (r *Regulator) LastError() int32 {
	return r.lastError
}

func clamp64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func bump(ct uint16) uint16 {
	if ct < 0xFFFF {
		return ct + 1
	}
	return ct
}

func decay(ct uint16) uint16 {
	if ct > 0 {
		return ct - 1
	}
	return 0
}

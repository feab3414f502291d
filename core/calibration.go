package core

// Calibration converts raw 12-bit codes into millivolts at the converter
// terminals: mV = raw * RefMilliVolts * Num / ((ADCMax+1) * Den), where
// Num/Den is the resistor-divider ratio of the channel.
type Calibration struct {
	RefMilliVolts uint32
	VinNum        uint32
	VinDen        uint32
	VoutNum       uint32
	VoutDen       uint32
}

// DefaultCalibration matches the reference board: 3.3 V reference and a
// 68k/10k divider on both rails.
func DefaultCalibration() Calibration {
	return Calibration{
		RefMilliVolts: 3300,
		VinNum:        68,
		VinDen:        10,
		VoutNum:       68,
		VoutDen:       10,
	}
}

// Validate checks that both ratios are defined and that a full-scale code
// cannot overflow the 32-bit conversion.
func (c Calibration) Validate() error {
	if c.RefMilliVolts == 0 || c.VinDen == 0 || c.VoutDen == 0 || c.VinNum == 0 || c.VoutNum == 0 {
		return ErrBadCalibration
	}
	if uint64(ADCMax)*uint64(c.RefMilliVolts)*uint64(c.VinNum) > 0xFFFFFFFF ||
		uint64(ADCMax)*uint64(c.RefMilliVolts)*uint64(c.VoutNum) > 0xFFFFFFFF {
		return ErrBadCalibration
	}
	return nil
}

// Sample is one calibrated measurement round.
type Sample struct {
	VinMilliVolts  uint32
	VoutMilliVolts uint32
}

// Convert scales a raw round into millivolts.
func (c Calibration) Convert(raw RawSample) Sample {
	return Sample{
		VinMilliVolts:  scaleCode(raw.VinRaw, c.RefMilliVolts, c.VinNum, c.VinDen),
		VoutMilliVolts: scaleCode(raw.VoutRaw, c.RefMilliVolts, c.VoutNum, c.VoutDen),
	}
}

func scaleCode(raw uint16, ref, num, den uint32) uint32 {
	if raw > ADCMax {
		raw = ADCMax
	}
	return uint32(raw) * ref * num / ((ADCMax + 1) * den)
}

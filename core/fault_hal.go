package core

// FaultInput reports the level of the hardware fault line. When the line is
// asserted the timer peripheral has already forced all gate outputs off.
type FaultInput interface {
	FaultAsserted() bool
}

// Indicator shows the converter mode to the operator (status LED, pixel...).
// It is only ever called from the background loop.
type Indicator interface {
	ShowMode(mode ConverterMode, cause FaultCause)
}

// Hardware bundles the collaborators a Converter drives.
type Hardware struct {
	Waveform  WaveformDriver
	ADC       ADCDriver
	Fault     FaultInput
	Indicator Indicator // optional
}

func (h Hardware) validate() error {
	if h.Waveform == nil || h.ADC == nil || h.Fault == nil {
		return ErrMissingDriver
	}
	return nil
}

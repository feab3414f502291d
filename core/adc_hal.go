package core

// ADCChannel identifies one of the two converter measurement channels.
type ADCChannel uint8

const (
	ChannelVin  ADCChannel = 0
	ChannelVout ADCChannel = 1
)

// ADCMax is the full-scale code of the 12-bit converter.
const ADCMax = 4095

// ADCDriver is the abstract ADC interface the sampler uses.
//
// Conversion results are not returned from any method here: the platform's
// ADC interrupt reports them through Sampler.RoundStarted and
// Sampler.ChannelDone.
type ADCDriver interface {
	// ConfigureChannels prepares the Vin and Vout inputs for injected conversion.
	ConfigureChannels() error

	// EnableTrigger connects or disconnects the timer trigger from the ADC.
	EnableTrigger(enabled bool)

	// StartADCRound starts a software-triggered round on both channels.
	StartADCRound()
}

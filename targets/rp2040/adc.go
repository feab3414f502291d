//go:build rp2040

package main

import (
	"buckboost/core"
	"buckboost/targets/pio"
	"device/rp"
	"machine"
)

// Measurement inputs: ADC0 (GPIO26) is Vin, ADC1 (GPIO27) is Vout.
const (
	ainVin  = 0
	ainVout = 1
)

// RP2040ADC runs injected-style rounds on the RP2040 ADC. The ADC has no
// trigger input, so the PWM strobe edge raises a PIO interrupt which starts
// the round; the FIFO interrupt then collects Vin, chains Vout and reports
// both to the sampler.
//
// The strobe runs at the switching frequency but a round takes longer than
// a period, so the edge detector is opened for one period per control tick
// and closes itself on the edge it catches.
type RP2040ADC struct {
	sampler *core.Sampler
	strobe  *pio.TriggerStrobe
	pending uint8 // channel whose conversion is in flight
	armed   bool
}

// NewRP2040ADC binds the driver to the strobe state machine.
func NewRP2040ADC(strobe *pio.TriggerStrobe) *RP2040ADC {
	return &RP2040ADC{strobe: strobe}
}

// Attach sets the sampler conversions are reported to. Must be called
// before the interrupts are enabled.
func (a *RP2040ADC) Attach(s *core.Sampler) {
	a.sampler = s
}

func (a *RP2040ADC) ConfigureChannels() error {
	machine.InitADC()
	for _, pin := range []machine.Pin{machine.ADC0, machine.ADC1} {
		adc := machine.ADC{Pin: pin}
		if err := adc.Configure(machine.ADCConfig{}); err != nil {
			return err
		}
	}
	if err := a.strobe.Init(pinStrobe); err != nil {
		return err
	}

	// One result per FIFO interrupt.
	rp.ADC.FCS.Set(rp.ADC_FCS_EN | 1<<rp.ADC_FCS_THRESH_Pos)
	rp.ADC.INTE.Set(rp.ADC_INTE_FIFO)
	return nil
}

func (a *RP2040ADC) EnableTrigger(enabled bool) {
	a.armed = enabled
	if !enabled {
		a.strobe.SetEnabled(false)
	}
}

// OpenWindow lets the next strobe edge start a round. Called from the wrap
// interrupt at the start of the sampling period.
func (a *RP2040ADC) OpenWindow() {
	if a.armed {
		a.strobe.SetEnabled(true)
	}
}

// StartADCRound starts a software round. Safe from the control tick.
func (a *RP2040ADC) StartADCRound() {
	if a.busy() {
		return
	}
	a.beginRound()
}

// busy reports a conversion still running; a new round would take its
// result for the wrong channel.
func (a *RP2040ADC) busy() bool {
	return !rp.ADC.CS.HasBits(rp.ADC_CS_READY)
}

// beginRound is called from the strobe interrupt or StartADCRound.
func (a *RP2040ADC) beginRound() {
	if a.sampler != nil {
		a.sampler.RoundStarted()
	}
	// a result left over from a dropped round would be misattributed
	for rp.ADC.FCS.Get()&rp.ADC_FCS_LEVEL_Msk != 0 {
		rp.ADC.FIFO.Get()
	}
	a.convert(ainVin)
}

func (a *RP2040ADC) convert(ain uint8) {
	a.pending = ain
	rp.ADC.CS.ReplaceBits(uint32(ain)<<rp.ADC_CS_AINSEL_Pos, rp.ADC_CS_AINSEL_Msk, 0)
	rp.ADC.CS.SetBits(rp.ADC_CS_START_ONCE)
}

// handleFIFO is the ADC_IRQ_FIFO handler body.
func (a *RP2040ADC) handleFIFO() {
	for rp.ADC.FCS.Get()&rp.ADC_FCS_LEVEL_Msk != 0 {
		raw := uint16(rp.ADC.FIFO.Get() & 0x0fff)
		if a.sampler == nil {
			continue
		}
		switch a.pending {
		case ainVin:
			a.sampler.ChannelDone(core.ChannelVin, raw)
			a.convert(ainVout)
		case ainVout:
			a.sampler.ChannelDone(core.ChannelVout, raw)
		}
	}
}

// handleStrobe is the PIO0_IRQ_0 handler body.
func (a *RP2040ADC) handleStrobe() {
	if !a.strobe.Pending() {
		return
	}
	// disabling also clears the flag
	a.strobe.SetEnabled(false)
	if a.busy() {
		return
	}
	a.beginRound()
}

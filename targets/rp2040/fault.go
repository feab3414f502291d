//go:build rp2040

package main

import (
	"machine"
)

// pinFault is the active-low fault line from the gate driver / comparator.
const pinFault = machine.GPIO5

// FaultLine reports the fault input and cuts the gates on its falling edge.
type FaultLine struct {
	pin      machine.Pin
	waveform *RP2040Waveform
}

func NewFaultLine(w *RP2040Waveform) *FaultLine {
	return &FaultLine{pin: pinFault, waveform: w}
}

// Init configures the pin with a pull-up and arms the edge interrupt.
func (f *FaultLine) Init() error {
	f.pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return f.pin.SetInterrupt(machine.PinFalling, func(machine.Pin) {
		f.waveform.ForceOff()
	})
}

func (f *FaultLine) FaultAsserted() bool {
	asserted := !f.pin.Get()
	if asserted && !f.waveform.Forced() {
		// edge missed while the line was already low at boot
		f.waveform.ForceOff()
	}
	return asserted
}

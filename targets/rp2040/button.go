//go:build rp2040

package main

import (
	"buckboost/core"
	"machine"
)

// Front-panel buttons, active low against the internal pull-ups.
const (
	pinAdvance = machine.GPIO6
	pinAck     = machine.GPIO7
)

// NewPanel configures the button pins and binds them to the converter.
func NewPanel(c *core.Converter) *core.Panel {
	for _, pin := range []machine.Pin{pinAdvance, pinAck} {
		pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	}
	return core.NewPanel(c, func() (bool, bool) {
		return !pinAdvance.Get(), !pinAck.Get()
	})
}

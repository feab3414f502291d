//go:build rp2040

package main

import (
	"buckboost/core"
	"image/color"
	"machine"

	"tinygo.org/x/drivers/ws2812"
)

const pinPixel = machine.GPIO16

var modeColors = [...]color.RGBA{
	core.ModeIdle:  {R: 0x00, G: 0x00, B: 0x10},
	core.ModeBuck:  {R: 0x00, G: 0x20, B: 0x00},
	core.ModeBoost: {R: 0x20, G: 0x10, B: 0x00},
	core.ModeMixed: {R: 0x00, G: 0x18, B: 0x18},
	core.ModeFault: {R: 0x30, G: 0x00, B: 0x00},
}

// Pixel shows the converter mode on a single WS2812. Faults blink.
type Pixel struct {
	dev   ws2812.Device
	last  color.RGBA
	blink bool
}

func NewPixel() *Pixel {
	pinPixel.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &Pixel{dev: ws2812.New(pinPixel)}
}

func (p *Pixel) ShowMode(mode core.ConverterMode, cause core.FaultCause) {
	c := color.RGBA{}
	if int(mode) < len(modeColors) {
		c = modeColors[mode]
	}
	if mode == core.ModeFault {
		if cause&core.CauseFaultLine != 0 {
			c.B = 0x20 // hardware trip shows magenta
		}
		p.blink = !p.blink
		if p.blink {
			c = color.RGBA{}
		}
	}
	if c == p.last {
		return
	}
	p.last = c
	p.dev.WriteColors([]color.RGBA{c})
}

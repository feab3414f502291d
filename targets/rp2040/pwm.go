//go:build rp2040

package main

import (
	"buckboost/core"
	"device/rp"
	"errors"
	"machine"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"
)

// Gate and strobe pins. Slice N drives GPIO 2N (A) and 2N+1 (B).
const (
	pinBuckHigh  = machine.GPIO0 // slice 0 A
	pinBuckLow   = machine.GPIO1 // slice 0 B
	pinBoostHigh = machine.GPIO2 // slice 1 A
	pinBoostLow  = machine.GPIO3 // slice 1 B
	pinStrobe    = machine.GPIO4 // slice 2 A, ADC sampling point

	sliceBuck   = 0
	sliceBoost  = 1
	sliceStrobe = 2
)

// timerClock is the resolution of the compare values the waveform engine
// computes. The PWM block counts system clocks, so every value is rescaled.
const timerClock = 4608000000

var errTimerRange = errors.New("pwm: period does not fit the 16-bit counter")

// pwmPeripheral is the part of TinyGo's unexported PWM group type used here.
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	SetTop(top uint32)
	Set(channel uint8, value uint32)
	SetInverting(channel uint8, inverting bool)
}

// sliceRegs mirrors one CHn block of the PWM peripheral.
type sliceRegs struct {
	CSR volatile.Register32
	DIV volatile.Register32
	CTR volatile.Register32
	CC  volatile.Register32
	TOP volatile.Register32
}

func slice(n uint8) *sliceRegs {
	base := uintptr(unsafe.Pointer(&rp.PWM.CH0_CSR))
	return (*sliceRegs)(unsafe.Pointer(base + uintptr(n)*unsafe.Sizeof(sliceRegs{})))
}

// legState is what one half-bridge slice is told to do by the output set.
type legState uint8

const (
	legOff legState = iota
	legSwitching
	legBypass
)

// RP2040Waveform drives both legs from phase-correct PWM slices. Each leg's
// high side is channel A and its low side is the inverted channel B, so the
// deadtime is the gap between the two compare values. Counting up and down
// centres every window on the period edge; a window's width is preserved
// and windows of different legs nest around the same centre.
//
// The CC registers are double-buffered by hardware and latch at the period
// edge, which gives the preload semantics the engine relies on. A control
// tick only stages new values; Commit writes them right after the next wrap
// so a latch never sees one leg, or one half of a leg, updated alone.
type RP2040Waveform struct {
	sysClock uint64
	top      uint32
	deadtime uint32 // counts

	legs   [2]pwmPeripheral
	slices [2]uint8
	pins   [2][2]machine.Pin
	state  [2]legState
	start  [2]uint32 // counts
	width  [2]uint32 // counts
	strobe pwmPeripheral
	forced bool

	// staged register images, written by Commit
	cc           [2]uint32
	strobeCC     uint32
	strobeInvert bool
	dirty        bool
	unforce      bool // a new output set asks for the pins back
}

// NewRP2040Waveform creates the driver for the fixed pinout above.
func NewRP2040Waveform() *RP2040Waveform {
	return &RP2040Waveform{
		sysClock: uint64(machine.CPUFrequency()),
		legs:     [2]pwmPeripheral{machine.PWM0, machine.PWM1},
		slices:   [2]uint8{sliceBuck, sliceBoost},
		pins: [2][2]machine.Pin{
			{pinBuckHigh, pinBuckLow},
			{pinBoostHigh, pinBoostLow},
		},
		strobe: machine.PWM2,
	}
}

// counts converts engine ticks to PWM counts.
func (w *RP2040Waveform) counts(ticks uint32) uint32 {
	return uint32(uint64(ticks) * w.sysClock / timerClock)
}

func (w *RP2040Waveform) ConfigureTimer(g core.TimingGeometry) error {
	// A phase-correct period is 2*TOP counts.
	top := w.counts(g.Period) / 2
	if top < 2 || top > 0xffff {
		return errTimerRange
	}
	w.top = top
	dt := g.DeadtimeRising
	if g.DeadtimeFalling > dt {
		dt = g.DeadtimeFalling
	}
	w.deadtime = w.counts(dt)

	for i, leg := range w.legs {
		if err := leg.Configure(machine.PWMConfig{}); err != nil {
			return err
		}
		for _, pin := range w.pins[i] {
			pin.Configure(machine.PinConfig{Mode: machine.PinPWM})
		}
		w.setupSlice(w.slices[i], leg)
		leg.SetInverting(1, true)
		w.state[i] = legOff
		w.apply(core.Stage(i))
	}

	if err := w.strobe.Configure(machine.PWMConfig{}); err != nil {
		return err
	}
	pinStrobe.Configure(machine.PinConfig{Mode: machine.PinPWM})
	w.setupSlice(sliceStrobe, w.strobe)
	w.strobe.Set(0, 0)
	w.dirty = false

	// Start all three counters on the same clock edge.
	rp.PWM.EN.ClearBits(1<<sliceBuck | 1<<sliceBoost | 1<<sliceStrobe)
	for _, n := range []uint8{sliceBuck, sliceBoost, sliceStrobe} {
		slice(n).CTR.Set(0)
	}
	rp.PWM.EN.SetBits(1<<sliceBuck | 1<<sliceBoost | 1<<sliceStrobe)
	return nil
}

func (w *RP2040Waveform) setupSlice(n uint8, p pwmPeripheral) {
	s := slice(n)
	s.CSR.ClearBits(rp.PWM_CH0_CSR_EN)
	s.DIV.Set(1 << rp.PWM_CH0_DIV_INT_Pos)
	p.SetTop(w.top)
	s.CSR.SetBits(rp.PWM_CH0_CSR_PH_CORRECT)
}

// SetCompare takes the window edges of a stage. The Reset edge carries the
// window width once Set is known; the ADC compare moves the strobe.
func (w *RP2040Waveform) SetCompare(stage core.Stage, unit core.CompareUnit, value uint32) {
	if stage > core.StageBoost {
		return
	}
	switch unit {
	case core.CompareSet:
		w.start[stage] = w.counts(value)
	case core.CompareReset:
		if end := w.counts(value); end > w.start[stage] {
			w.width[stage] = end - w.start[stage]
		} else {
			w.width[stage] = 0
		}
		w.apply(stage)
	case core.CompareADC:
		w.placeStrobe(stage, w.counts(value))
	}
}

// placeStrobe puts the strobe's rising edge at value counts from the
// period start, measured against the stage's window. The centred window
// opens while counting down through width/2 and closes counting up through
// it. A plain output rises on the down-count and an inverted one on the
// up-count, which covers the first and second half of the window.
func (w *RP2040Waveform) placeStrobe(stage core.Stage, value uint32) {
	pos := uint32(0)
	if value > w.start[stage] {
		pos = value - w.start[stage]
	}
	half := w.width[stage] / 2
	if pos <= half {
		w.strobeInvert = false
		w.strobeCC = half - pos
	} else {
		w.strobeInvert = true
		w.strobeCC = pos - half
	}
	w.dirty = true
}

// apply stages one leg's compare pair from its state and window width.
// Channel A sits in the low half of CC and B in the high half.
func (w *RP2040Waveform) apply(stage core.Stage) {
	high, low := uint32(0), w.top+1 // both off
	switch w.state[stage] {
	case legBypass:
		high = w.top + 1
	case legSwitching:
		high = w.width[stage] / 2
		low = high + w.deadtime
		if low > w.top+1 {
			low = w.top + 1
		}
	}
	w.cc[stage] = high<<rp.PWM_CH0_CC_A_Pos | low<<rp.PWM_CH0_CC_B_Pos
	w.dirty = true
}

func (w *RP2040Waveform) RouteOutputs(mask core.OutputMask) {
	w.state[core.StageBuck] = legStateFor(mask, core.OutBuckPair, core.OutBuckBypass)
	w.state[core.StageBoost] = legStateFor(mask, core.OutBoostPair, core.OutBoostBypass)
	for i := range w.legs {
		w.apply(core.Stage(i))
	}
	if mask != core.OutNone {
		w.unforce = true
		w.dirty = true
	}
}

// Commit writes everything staged since the last call. It runs first in
// the wrap interrupt, well ahead of the next latch, with interrupts masked
// so the fault line cannot land between the two legs.
func (w *RP2040Waveform) Commit() {
	if !w.dirty {
		return
	}
	state := interrupt.Disable()
	for i, n := range w.slices {
		slice(n).CC.Set(w.cc[i])
	}
	w.strobe.SetInverting(0, w.strobeInvert)
	slice(sliceStrobe).CC.Set(w.strobeCC << rp.PWM_CH0_CC_A_Pos)
	if w.unforce && w.forced {
		w.release()
	}
	w.unforce = false
	w.dirty = false
	interrupt.Restore(state)
}

func legStateFor(mask, pair, bypass core.OutputMask) legState {
	switch {
	case mask&pair == pair:
		return legSwitching
	case mask&bypass != 0:
		return legBypass
	default:
		return legOff
	}
}

// ForceOff takes the gate pins away from the PWM block and drives them low
// immediately. Called from the fault line interrupt; RP2040 has no break
// input to do it in hardware.
func (w *RP2040Waveform) ForceOff() {
	for _, pins := range w.pins {
		for _, pin := range pins {
			pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
			pin.Low()
		}
	}
	w.forced = true
	w.unforce = false
}

func (w *RP2040Waveform) release() {
	for _, pins := range w.pins {
		for _, pin := range pins {
			pin.Configure(machine.PinConfig{Mode: machine.PinPWM})
		}
	}
	w.forced = false
}

// Forced reports whether the gate pins are held low by ForceOff.
func (w *RP2040Waveform) Forced() bool {
	return w.forced
}

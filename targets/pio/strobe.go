//go:build rp2040

// Package pio turns the edge of a timer output into an interrupt with
// PIO-level latency. The RP2040 ADC has no hardware trigger input, so a
// state machine watches the strobe pin the PWM block drives at the sampling
// point and raises a PIO interrupt on every rising edge.
package pio

import (
	"device/rp"
	"errors"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

var ErrNoStateMachine = errors.New("pio: state machine already claimed")

// Raw encodings for the two instructions the strobe needs. The wait source
// is the absolute GPIO number, independent of the state machine's pin base.
func waitGPIO(level bool, gpio machine.Pin) uint16 {
	op := uint16(0x2000) | uint16(gpio)&0x1f
	if level {
		op |= 1 << 7
	}
	return op
}

func irqSet(flag uint8) uint16 {
	return 0xc000 | uint16(flag&0x7)
}

// strobeProgram:
//
//	.wrap_target
//	wait 0 gpio N
//	wait 1 gpio N
//	irq nowait F
//	.wrap
func strobeProgram(pin machine.Pin, flag uint8) []uint16 {
	return []uint16{
		waitGPIO(false, pin),
		waitGPIO(true, pin),
		irqSet(flag),
	}
}

// irqSourceSM0 is the bit of the first state machine flag in IRQ0_INTE.
const irqSourceSM0 = 8

// TriggerStrobe raises PIO IRQ0 on each rising edge of a pin.
type TriggerStrobe struct {
	pio    *rp2pio.PIO
	hw     *rp.PIO0_Type
	sm     rp2pio.StateMachine
	smNum  uint8
	pin    machine.Pin
	offset uint8
}

// NewTriggerStrobe binds a strobe to a state machine. pioNum selects PIO0
// or PIO1; the state machine's flag index equals its number.
func NewTriggerStrobe(pioNum, smNum uint8) *TriggerStrobe {
	block, hw := rp2pio.PIO0, rp.PIO0
	if pioNum != 0 {
		block, hw = rp2pio.PIO1, rp.PIO1
	}
	return &TriggerStrobe{
		pio:   block,
		hw:    hw,
		sm:    block.StateMachine(smNum),
		smNum: smNum,
	}
}

// Init loads the program and starts watching pin. The pin keeps whatever
// function drives it; PIO only samples its input.
func (s *TriggerStrobe) Init(pin machine.Pin) error {
	if !s.sm.TryClaim() {
		return ErrNoStateMachine
	}
	s.pin = pin

	program := strobeProgram(pin, s.smNum)
	offset, err := s.pio.AddProgram(program, -1)
	if err != nil {
		return err
	}
	s.offset = offset

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(1, 0)
	s.sm.Init(offset, cfg)
	s.sm.SetEnabled(false)

	s.Acknowledge()
	s.hw.IRQ0_INTE.SetBits(1 << (irqSourceSM0 + uint32(s.smNum)))
	return nil
}

// SetEnabled starts or stops edge detection. A restarted machine waits for
// a fresh low-to-high transition.
func (s *TriggerStrobe) SetEnabled(enabled bool) {
	if !enabled {
		s.sm.SetEnabled(false)
		s.Acknowledge()
		return
	}
	asm := rp2pio.AssemblerV0{}
	s.sm.Restart()
	s.sm.ClkDivRestart()
	s.sm.Exec(asm.Jmp(s.offset, rp2pio.JmpAlways).Encode())
	s.sm.SetEnabled(true)
}

// Pending reports whether an edge is waiting to be acknowledged.
func (s *TriggerStrobe) Pending() bool {
	return s.hw.IRQ.HasBits(1 << s.smNum)
}

// Acknowledge clears the state machine's flag. Call from the PIO interrupt.
func (s *TriggerStrobe) Acknowledge() {
	s.hw.IRQ.Set(1 << s.smNum)
}

//go:build rp2040

package main

import (
	"buckboost/core"
	"buckboost/protocol"
	"buckboost/targets/pio"
	"device/rp"
	"machine"
	"runtime/interrupt"
	"time"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	conv     *core.Converter
	link     *core.Link
	waveform *RP2040Waveform
	adc      *RP2040ADC

	// control tick divider, run from the PWM wrap interrupt
	periods    uint8
	repetition uint8

	msgerrors                uint32
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Clear any watchdog state left by a host-requested reset.
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}
	if err := InitUSB(); err != nil {
		return
	}
	initDebugUART()

	waveform = NewRP2040Waveform()
	adc = NewRP2040ADC(pio.NewTriggerStrobe(0, 0))
	fault := NewFaultLine(waveform)
	if err := fault.Init(); err != nil {
		halt("fault line: " + err.Error())
	}

	cfg := core.DefaultConfig()
	var err error
	conv, err = core.NewConverter(cfg, core.Hardware{
		Waveform:  waveform,
		ADC:       adc,
		Fault:     fault,
		Indicator: NewPixel(),
	})
	if err != nil {
		halt("converter: " + err.Error())
	}
	adc.Attach(conv.Sampler())
	repetition = cfg.Geometry.RepetitionPeriods

	link = core.NewLink(conv, "rp2040", clockFreq)
	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()
	transport = protocol.NewTransport(outputBuffer, link.Dispatch)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		link.HostReset()
	})
	// Responses must reach the host ahead of the ACK that follows them.
	transport.SetFlushCallback(writeUSB)
	link.SetSender(transport)
	link.SetResetHandler(watchdogReset)

	enableInterrupts()
	NewPanel(conv).Start(hardwareTime())

	go usbReaderLoop()

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				originalLen := len(data)
				in := protocol.NewSliceInputBuffer(data)
				transport.Receive(in)
				if consumed := originalLen - in.Available(); consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			now := hardwareTime()
			conv.Background(now)
			link.Background(now)

			if len(outputBuffer.Result()) > 0 {
				writeUSB()
			}

			// only after the ACK for the reset command is out
			link.CheckPendingReset()
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// enableInterrupts wires the three interrupt sources of the control path.
// ADC and strobe run above the wrap interrupt so a round can complete while
// a control tick is still running.
func enableInterrupts() {
	strobe := interrupt.New(rp.IRQ_PIO0_IRQ_0, func(interrupt.Interrupt) {
		adc.handleStrobe()
	})
	strobe.SetPriority(0x40)
	strobe.Enable()

	fifo := interrupt.New(rp.IRQ_ADC_IRQ_FIFO, func(interrupt.Interrupt) {
		adc.handleFIFO()
	})
	fifo.SetPriority(0x40)
	fifo.Enable()

	rp.PWM.INTR.Set(1 << sliceBuck)
	rp.PWM.INTE.SetBits(1 << sliceBuck)
	wrap := interrupt.New(rp.IRQ_PWM_IRQ_WRAP, func(interrupt.Interrupt) {
		onWrap()
	})
	wrap.SetPriority(0x80)
	wrap.Enable()
}

// onWrap runs once per switching period. What the previous control tick
// staged goes out first; the strobe is open only for the period ending in
// the next tick, so each tick sees exactly one round.
func onWrap() {
	rp.PWM.INTR.Set(1 << sliceBuck)
	waveform.Commit()
	periods++
	if periods >= repetition {
		periods = 0
		conv.ControlTick()
	}
	if periods == repetition-1 {
		adc.OpenWindow()
	}
}

// watchdogReset reboots through the watchdog, which also re-enumerates USB.
func watchdogReset() {
	waveform.ForceOff()
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}); err != nil {
		return
	}
	if err := machine.Watchdog.Start(); err != nil {
		return
	}
	for {
		time.Sleep(time.Millisecond)
	}
}

// halt keeps the gates off and reports the boot failure forever.
func halt(msg string) {
	if waveform != nil {
		waveform.ForceOff()
	}
	for {
		core.DebugPrintln("halted: " + msg)
		time.Sleep(time.Second)
	}
}

// usbReaderLoop moves bytes from USB into the input FIFO.
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(time.Millisecond)
				continue
			}

			// A host reconnecting after a dropout starts a fresh sequence.
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				link.HostReset()
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// writeUSB drains the output buffer. Repeated failures mean the host is
// gone: stale output is dropped rather than replayed on reconnect.
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}

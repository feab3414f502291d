//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"
)

// The RP2040 timer counts microseconds from the 12 MHz reference.
const (
	clockFreq = 1000000

	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x28 // raw low word, no latching
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// hardwareTime returns the low 32 bits of the microsecond counter, the
// background clock of the converter and link timers.
func hardwareTime() uint32 {
	return timerRAWL.Get()
}

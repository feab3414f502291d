//go:build tinygo

package core

import "runtime/interrupt"

// disableInterrupts masks the control tick and ADC interrupts around state
// shared with the background loop.
func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}

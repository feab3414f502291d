//go:build !tinygo

package core

// State stands in for interrupt.State when built with the regular Go
// toolchain. Host builds run the control tick and the background loop on
// one goroutine, so masking has nothing to exclude.
type State uintptr

func disableInterrupts() State {
	return 0
}

func restoreInterrupts(State) {}

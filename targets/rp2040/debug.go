//go:build rp2040

package main

import (
	"buckboost/core"
	"machine"
)

// initDebugUART routes core debug output to UART0 on GPIO12/13 at 115200.
// The USB port carries only the link protocol.
func initDebugUART() {
	uart := machine.UART0
	err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO12,
		RX:       machine.GPIO13,
	})
	if err != nil {
		return
	}
	core.SetDebugWriter(func(s string) {
		uart.Write([]byte(s))
		uart.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
	core.DebugPrintln("buckboost " + core.FirmwareVersion)
}

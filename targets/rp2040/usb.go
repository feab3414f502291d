//go:build rp2040

package main

import (
	"machine"
)

// InitUSB brings up the CDC-ACM port. On RP2040 machine.Serial is USB.
func InitUSB() error {
	return machine.Serial.Configure(machine.UARTConfig{})
}

func USBAvailable() int {
	return machine.Serial.Buffered()
}

func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}

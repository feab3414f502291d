// Package serial opens the USB CDC link to a converter board.
package serial

import (
	"io"
	"time"
)

// Port is a byte link to the converter. Tests substitute an in-memory pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input so a new session starts on a clean stream.
	Flush() error
}

// Config holds serial port settings.
type Config struct {
	Device string // e.g. /dev/ttyACM0, COM3

	// Baud is ignored by USB CDC devices but required by the driver.
	Baud int

	// ReadTimeout bounds each Read so the transport's read loop can notice Close.
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings used by the converter firmware.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}

package dynamixel

import (
	"io"
	"time"
)

// Transport is the interface for low-level communication with the servo bus.
// This abstraction allows for testing with mock implementations.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds how long the next Read blocks waiting for bytes.
	// A Read that times out returns 0 bytes and no error.
	SetReadTimeout(timeout time.Duration) error

	// SetBaudRate reconfigures the line speed.
	SetBaudRate(baudRate int) error

	// Flush discards any buffered input data.
	Flush() error
}

// Opener opens the transport for a named serial device.
type Opener func(name string, baudRate int) (Transport, error)

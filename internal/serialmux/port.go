package serialmux

import "io"

// SerialPorter is the minimal port surface the mux needs. go.bug.st/serial
// ports satisfy it, as do the in-memory ports used in tests.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortOpener opens a port at path. It is swapped out in tests.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)

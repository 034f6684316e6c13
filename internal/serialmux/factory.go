package serialmux

import (
	"go.bug.st/serial"
)

// OpenSerial opens a real serial port.
func OpenSerial(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	return serial.Open(path, mode)
}

// Open returns a mux over the port at path. An empty path yields a
// DisabledSerialMux so callers need no special case for absent hardware.
// A nil opener uses OpenSerial.
func Open(path string, opts PortOptions, opener SerialPortOpener) (SerialMuxInterface, error) {
	if path == "" {
		return NewDisabledSerialMux(), nil
	}
	if opener == nil {
		opener = OpenSerial
	}
	port, err := opener(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}

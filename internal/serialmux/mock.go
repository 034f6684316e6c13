package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// TestableSerialPort is an in-memory SerialPorter. Reads block until data
// is added or the port is closed.
type TestableSerialPort struct {
	mu       sync.Mutex
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	closed   bool
	readCond *sync.Cond

	// WriteError is returned by the next Write if set.
	WriteError error
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool
}

// NewTestableSerialPort returns an empty open port.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.readBuf.Len() == 0 && !p.closed {
		p.readCond.Wait()
	}
	if p.readBuf.Len() == 0 {
		return 0, io.EOF
	}
	return p.readBuf.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	n, _ := p.writeBuf.Write(b)
	if p.ShortWrite && n > 0 {
		n--
	}
	return n, nil
}

// Close unblocks pending reads; buffered data is still delivered first.
func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return nil
}

// AddReadData queues data for subsequent reads.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
	p.readCond.Broadcast()
}

// Written returns everything written to the port.
func (p *TestableSerialPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuf.String()
}

// Closed reports whether Close was called.
func (p *TestableSerialPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Package vision defines the boundary to the camera capture service: which
// streams exist, how a client connects, and the frames it receives.
package vision

import "fmt"

// StreamType identifies a camera by role.
type StreamType int

const (
	StreamRoad StreamType = iota
	StreamWideRoad
	StreamDriver
)

func (s StreamType) String() string {
	switch s {
	case StreamRoad:
		return "road"
	case StreamWideRoad:
		return "wide_road"
	case StreamDriver:
		return "driver"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// FrameMetadata identifies a frame and its exposure window. Timestamps are
// monotonic nanoseconds.
type FrameMetadata struct {
	FrameID      uint32
	TimestampSOF uint64
	TimestampEOF uint64
}

// Buffer is one received camera frame in NV12 layout.
type Buffer struct {
	Width  int
	Height int
	Stride int
	Data   []byte
	Meta   FrameMetadata
}

// Client receives frames from a single stream.
type Client interface {
	// Connect attaches to the stream. With blocking false it reports
	// immediately whether the stream is ready.
	Connect(blocking bool) bool
	// Receive returns the next frame, or false when none arrived in time.
	Receive() (*Buffer, bool)
}

// Service lists the streams a capture process publishes and hands out
// clients for them.
type Service interface {
	AvailableStreams() map[StreamType]bool
	Client(stream StreamType) Client
}

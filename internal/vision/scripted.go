package vision

import "sync"

// Scripted is a Service that replays frames queued by the caller. Receive
// returns false once a stream's queue is empty.
type Scripted struct {
	mu sync.Mutex
	// pollsUntilAvailable counts AvailableStreams calls that report nothing.
	pollsUntilAvailable int
	// connectFailures counts Connect calls that fail per stream.
	connectFailures map[StreamType]int
	queues          map[StreamType][]*Buffer
	streams         []StreamType
	polls           int
}

// NewScripted returns a service publishing the given streams.
func NewScripted(streams ...StreamType) *Scripted {
	return &Scripted{
		connectFailures: make(map[StreamType]int),
		queues:          make(map[StreamType][]*Buffer),
		streams:         streams,
	}
}

// HideStreamsFor makes the first n AvailableStreams calls report nothing.
func (s *Scripted) HideStreamsFor(n int) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollsUntilAvailable = n
	return s
}

// FailConnects makes the first n Connect calls on stream fail.
func (s *Scripted) FailConnects(stream StreamType, n int) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectFailures[stream] = n
	return s
}

// Push queues frames with the given metadata on stream.
func (s *Scripted) Push(stream StreamType, metas ...FrameMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range metas {
		s.queues[stream] = append(s.queues[stream], &Buffer{
			Width: 4, Height: 2, Stride: 4,
			Data: make([]byte, 12),
			Meta: m,
		})
	}
}

// PushBuffer queues an explicit buffer on stream.
func (s *Scripted) PushBuffer(stream StreamType, b *Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[stream] = append(s.queues[stream], b)
}

// Pending reports how many frames remain queued on stream.
func (s *Scripted) Pending(stream StreamType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[stream])
}

// Polls returns the number of AvailableStreams calls made so far.
func (s *Scripted) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// AvailableStreams implements Service.
func (s *Scripted) AvailableStreams() map[StreamType]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	out := make(map[StreamType]bool)
	if s.polls <= s.pollsUntilAvailable {
		return out
	}
	for _, st := range s.streams {
		out[st] = true
	}
	return out
}

// Client implements Service.
func (s *Scripted) Client(stream StreamType) Client {
	return &scriptedClient{svc: s, stream: stream}
}

type scriptedClient struct {
	svc    *Scripted
	stream StreamType
}

func (c *scriptedClient) Connect(bool) bool {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if c.svc.connectFailures[c.stream] > 0 {
		c.svc.connectFailures[c.stream]--
		return false
	}
	return true
}

func (c *scriptedClient) Receive() (*Buffer, bool) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	q := c.svc.queues[c.stream]
	if len(q) == 0 {
		return nil, false
	}
	b := q[0]
	c.svc.queues[c.stream] = q[1:]
	return b, true
}

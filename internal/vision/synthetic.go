package vision

import (
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/modeld/internal/timeutil"
)

// SyntheticConfig shapes the frames a Synthetic service produces.
type SyntheticConfig struct {
	Width     int
	Height    int
	FrameRate float64 // frames per second
	// DropProbability skips a frame id with this probability, simulating
	// frames lost upstream.
	DropProbability float64
	// WideOffset is the start-of-frame offset of the wide stream relative
	// to the road stream.
	WideOffset time.Duration
	// Streams lists the published streams; empty means road and wide road.
	Streams []StreamType
	Seed    int64
}

// Synthetic is an in-process capture service that paces frames on a clock.
// It backs demo mode and integration tests.
type Synthetic struct {
	cfg     SyntheticConfig
	clock   timeutil.Clock
	mu      sync.Mutex
	rng     *rand.Rand
	start   time.Time
	clients map[StreamType]*syntheticClient
}

// NewSynthetic returns a synthetic service. A nil clock uses the real clock.
func NewSynthetic(cfg SyntheticConfig, clock timeutil.Clock) *Synthetic {
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 32
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 20
	}
	if len(cfg.Streams) == 0 {
		cfg.Streams = []StreamType{StreamRoad, StreamWideRoad}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Synthetic{
		cfg:     cfg,
		clock:   clock,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		start:   clock.Now(),
		clients: make(map[StreamType]*syntheticClient),
	}
	for _, st := range cfg.Streams {
		offset := time.Duration(0)
		if st == StreamWideRoad {
			offset = cfg.WideOffset
		}
		s.clients[st] = &syntheticClient{svc: s, offset: offset}
	}
	return s
}

// AvailableStreams implements Service.
func (s *Synthetic) AvailableStreams() map[StreamType]bool {
	out := make(map[StreamType]bool, len(s.clients))
	for st := range s.clients {
		out[st] = true
	}
	return out
}

// Client implements Service. Unknown streams get a client that never
// connects.
func (s *Synthetic) Client(stream StreamType) Client {
	if c, ok := s.clients[stream]; ok {
		return c
	}
	return disconnected{}
}

func (s *Synthetic) interval() time.Duration {
	return time.Duration(float64(time.Second) / s.cfg.FrameRate)
}

// dropped decides, once per frame id, whether the frame is lost.
func (s *Synthetic) dropped() bool {
	if s.cfg.DropProbability <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.cfg.DropProbability
}

type syntheticClient struct {
	svc       *Synthetic
	offset    time.Duration
	connected bool
	nextID    uint32
}

func (c *syntheticClient) Connect(bool) bool {
	c.connected = true
	return true
}

// Receive sleeps until the next frame is due and returns it.
func (c *syntheticClient) Receive() (*Buffer, bool) {
	if !c.connected {
		return nil, false
	}
	interval := c.svc.interval()
	for {
		id := c.nextID
		c.nextID++
		due := c.svc.start.Add(time.Duration(id)*interval + c.offset)
		if wait := due.Sub(c.svc.clock.Now()); wait > 0 {
			c.svc.clock.Sleep(wait)
		}
		if id > 0 && c.svc.dropped() {
			continue
		}
		sof := uint64(due.Sub(c.svc.start).Nanoseconds()) + 1
		return c.frame(id, sof, sof+uint64(interval/2)), true
	}
}

func (c *syntheticClient) frame(id uint32, sof, eof uint64) *Buffer {
	w, h := c.svc.cfg.Width, c.svc.cfg.Height
	data := make([]byte, w*h*3/2)
	shade := byte(id)
	for i := range data[:w*h] {
		data[i] = shade + byte(i%w)
	}
	for i := w * h; i < len(data); i++ {
		data[i] = 128
	}
	return &Buffer{
		Width:  w,
		Height: h,
		Stride: w,
		Data:   data,
		Meta:   FrameMetadata{FrameID: id, TimestampSOF: sof, TimestampEOF: eof},
	}
}

type disconnected struct{}

func (disconnected) Connect(bool) bool        { return false }
func (disconnected) Receive() (*Buffer, bool) { return nil, false }

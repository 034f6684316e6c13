// Package vsync pairs frames from the main and extra road cameras by
// start-of-frame timestamp.
package vsync

import (
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/modeld/internal/monitoring"
	"github.com/banshee-data/modeld/internal/vision"
)

const (
	DefaultWindow    = 25 * time.Millisecond
	DefaultTolerance = 10 * time.Millisecond
)

// Config tunes pairing. Zero durations take the defaults.
type Config struct {
	// Window is the lead the main frame must hold over the last accepted
	// extra frame, and the lag the extra frame may hold behind main.
	Window time.Duration
	// Tolerance is the largest start-of-frame delta accepted without a
	// desync fault being logged.
	Tolerance time.Duration
}

// Pair is the frame pair accepted for one cycle. In single-camera mode
// Extra aliases Main.
type Pair struct {
	Main      *vision.Buffer
	Extra     *vision.Buffer
	MainMeta  vision.FrameMetadata
	ExtraMeta vision.FrameMetadata
	OutOfSync bool
}

// Synchronizer keeps the last metadata seen on each stream across cycles.
type Synchronizer struct {
	main, extra   vision.Client
	window        uint64
	tolerance     uint64
	log           *zap.SugaredLogger
	mainBuf       *vision.Buffer
	extraBuf      *vision.Buffer
	mainMeta      vision.FrameMetadata
	extraMeta     vision.FrameMetadata
	desyncedTotal int
}

// New returns a Synchronizer. A nil extra client selects single-camera
// mode.
func New(main, extra vision.Client, cfg Config, log *zap.SugaredLogger) *Synchronizer {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	return &Synchronizer{
		main:      main,
		extra:     extra,
		window:    uint64(cfg.Window.Nanoseconds()),
		tolerance: uint64(cfg.Tolerance.Nanoseconds()),
		log:       monitoring.Or(log),
	}
}

// DualCamera reports whether an extra stream is being paired.
func (s *Synchronizer) DualCamera() bool { return s.extra != nil }

// Desynced returns how many accepted pairs exceeded the tolerance.
func (s *Synchronizer) Desynced() int { return s.desyncedTotal }

// Next pulls frames until a pair is aligned. It returns false when either
// stream ran dry this tick; the caller skips the cycle. A main frame that
// already leads the last extra frame by the window is kept, so a late
// extra frame is paired with it on the next call.
func (s *Synchronizer) Next() (Pair, bool) {
	if s.extra == nil {
		buf, ok := s.main.Receive()
		if !ok {
			s.log.Debugw("main camera: no frame")
			return Pair{}, false
		}
		s.mainBuf, s.extraBuf = buf, buf
		s.mainMeta, s.extraMeta = buf.Meta, buf.Meta
		return Pair{Main: buf, Extra: buf, MainMeta: buf.Meta, ExtraMeta: buf.Meta}, true
	}

	for s.mainBuf == nil || s.mainMeta.TimestampSOF < s.extraMeta.TimestampSOF+s.window {
		buf, ok := s.main.Receive()
		if !ok {
			s.mainBuf = nil
			s.log.Debugw("main camera: no frame")
			return Pair{}, false
		}
		s.mainBuf = buf
		s.mainMeta = buf.Meta
	}

	for {
		buf, ok := s.extra.Receive()
		if !ok {
			s.log.Debugw("extra camera: no frame")
			return Pair{}, false
		}
		s.extraBuf = buf
		s.extraMeta = buf.Meta
		if s.mainMeta.TimestampSOF < s.extraMeta.TimestampSOF+s.window {
			break
		}
	}

	p := Pair{
		Main:      s.mainBuf,
		Extra:     s.extraBuf,
		MainMeta:  s.mainMeta,
		ExtraMeta: s.extraMeta,
	}
	if absDiff(s.mainMeta.TimestampSOF, s.extraMeta.TimestampSOF) > s.tolerance {
		p.OutOfSync = true
		s.desyncedTotal++
		s.log.Errorw("frames out of sync",
			"main_frame_id", s.mainMeta.FrameID,
			"main_sof_ms", float64(s.mainMeta.TimestampSOF)/1e6,
			"extra_frame_id", s.extraMeta.FrameID,
			"extra_sof_ms", float64(s.extraMeta.TimestampSOF)/1e6,
		)
	}
	return p, true
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

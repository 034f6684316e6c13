// Package dropmon tracks camera frames missed between model cycles.
package dropmon

import (
	"time"

	"github.com/banshee-data/modeld/internal/modeld/modeldef"
)

// FirstOrderFilter is an exponential low-pass filter with time constant rc
// sampled every dt.
type FirstOrderFilter struct {
	X     float64
	alpha float64
}

// NewFirstOrderFilter returns a filter initialised to x0.
func NewFirstOrderFilter(x0 float64, rc, dt time.Duration) *FirstOrderFilter {
	return &FirstOrderFilter{
		X:     x0,
		alpha: dt.Seconds() / (rc.Seconds() + dt.Seconds()),
	}
}

// Update folds x into the filter state and returns the new state.
func (f *FirstOrderFilter) Update(x float64) float64 {
	f.X = (1-f.alpha)*f.X + f.alpha*x
	return f.X
}

// Config parameterises a Monitor. Zero fields take defaults.
type Config struct {
	MaxGap       int           // raw drops are clamped to this before filtering (default 10)
	TimeConstant time.Duration // filter time constant (default 10s)
	WarmupCycles int           // cycles whose drop estimate is forced to zero (default 10, negative disables)
	CycleRate    float64       // cycles per second (default model rate)
}

// Stats is one cycle's drop assessment.
type Stats struct {
	RawDropped  int
	Smoothed    float64
	Ratio       float64 // Smoothed/(1+Smoothed), in [0,1)
	PrepareOnly bool    // frames were lost this cycle; skip inference
}

// Monitor owns the drop filter and the last frame id seen.
type Monitor struct {
	filter      *FirstOrderFilter
	maxGap      int
	warmup      int
	runCount    int
	lastFrameID uint32
}

// New returns a Monitor configured by cfg.
func New(cfg Config) *Monitor {
	if cfg.MaxGap <= 0 {
		cfg.MaxGap = 10
	}
	if cfg.TimeConstant <= 0 {
		cfg.TimeConstant = 10 * time.Second
	}
	if cfg.WarmupCycles < 0 {
		cfg.WarmupCycles = 0
	} else if cfg.WarmupCycles == 0 {
		cfg.WarmupCycles = 10
	}
	if cfg.CycleRate <= 0 {
		cfg.CycleRate = modeldef.ModelFreq
	}
	dt := time.Duration(float64(time.Second) / cfg.CycleRate)
	return &Monitor{
		filter: NewFirstOrderFilter(0, cfg.TimeConstant, dt),
		maxGap: cfg.MaxGap,
		warmup: cfg.WarmupCycles,
	}
}

// Update assesses the frame about to be processed. It does not record the
// frame id; call Advance once the cycle has finished.
func (m *Monitor) Update(frameID uint32) Stats {
	raw := int64(frameID) - int64(m.lastFrameID) - 1
	if raw < 0 {
		raw = 0
	}
	clamped := raw
	if clamped > int64(m.maxGap) {
		clamped = int64(m.maxGap)
	}

	smoothed := m.filter.Update(float64(clamped))
	if m.runCount < m.warmup {
		m.filter.X = 0
		smoothed = 0
	}
	m.runCount++

	return Stats{
		RawDropped:  int(raw),
		Smoothed:    smoothed,
		Ratio:       smoothed / (1 + smoothed),
		PrepareOnly: raw > 0,
	}
}

// Advance records frameID as the last processed frame.
func (m *Monitor) Advance(frameID uint32) {
	m.lastFrameID = frameID
}

// LastFrameID returns the frame id recorded by the previous Advance.
func (m *Monitor) LastFrameID() uint32 { return m.lastFrameID }

// Cycles returns how many times Update has run.
func (m *Monitor) Cycles() int { return m.runCount }

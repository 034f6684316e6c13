// Package desire turns the discrete maneuver intent into the pulse-coded
// desire input the driving model expects.
//
// The model decides on its own when a maneuver has completed, so it is only
// told about the instant an intent begins: each slot fires for exactly one
// cycle on its 0→1 transition. Pulses are kept at the camera rate and pooled
// down to the model's history rate when read.
package desire

import (
	"github.com/banshee-data/modeld/internal/modeld/modeldef"
	"github.com/banshee-data/modeld/internal/modeld/ring"
)

// onsetThreshold separates a literal 0→1 step from any sustained signal.
const onsetThreshold = 0.99

// OneHot writes the one-hot encoding of idx into dst. Indexes outside
// [0,len(dst)) produce an all-zero vector.
func OneHot(dst []float32, idx int) []float32 {
	clear(dst)
	if idx >= 0 && idx < len(dst) {
		dst[idx] = 1
	}
	return dst
}

// PulseEncoder holds the previous raw desire and the high-rate pulse history.
type PulseEncoder struct {
	size    int
	pool    int
	prev    []float32
	vec     []float32
	pulse   []float32
	history *ring.Buffer
}

// NewPulseEncoder builds an encoder for desire vectors of length size with
// historyRows high-rate rows pooled in groups of pool.
func NewPulseEncoder(size, historyRows, pool int) *PulseEncoder {
	return &PulseEncoder{
		size:    size,
		pool:    pool,
		prev:    make([]float32, size),
		vec:     make([]float32, size),
		pulse:   make([]float32, size),
		history: ring.New(historyRows, size),
	}
}

// NewModelPulseEncoder returns an encoder sized for the driving model.
func NewModelPulseEncoder() *PulseEncoder {
	return NewPulseEncoder(modeldef.DesireLen, modeldef.FullHistoryBufferLen+1, modeldef.HistoryStride)
}

// Encode consumes this cycle's intent index and returns the pulse that was
// appended to the history. The "none" slot never pulses. The returned
// slice is reused by the next call.
func (e *PulseEncoder) Encode(idx int) []float32 {
	OneHot(e.vec, idx)
	e.vec[modeldef.DesireNone] = 0

	for i, v := range e.vec {
		if v-e.prev[i] > onsetThreshold {
			e.pulse[i] = v
		} else {
			e.pulse[i] = 0
		}
	}
	copy(e.prev, e.vec)

	e.history.Maintain(e.pulse)
	return e.pulse
}

// Pooled writes the model-facing desire input into dst: the max over each
// group of pool consecutive history rows, oldest group first.
func (e *PulseEncoder) Pooled(dst []float32) []float32 {
	return e.history.MaxPool(dst, e.pool)
}

// PooledLen is the length of the vector Pooled produces.
func (e *PulseEncoder) PooledLen() int {
	return e.history.Len() / e.pool * e.size
}

// HistoryLen reports the number of high-rate rows held.
func (e *PulseEncoder) HistoryLen() int {
	return e.history.Len()
}

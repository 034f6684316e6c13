package engine

import (
	"math"

	"github.com/banshee-data/modeld/internal/modeld/modeldef"
)

// GenerateFunc fills out from the bound inputs. step counts executions
// starting at zero.
type GenerateFunc func(in *Inputs, step int, out []float32)

// Synthetic is a deterministic backend for demo mode and tests. It produces
// a smooth, bounded signal so downstream consumers see plausible values.
type Synthetic struct {
	*Inputs
	out      []float32
	step     int
	generate GenerateFunc
}

// NewSynthetic returns a synthetic backend declaring the model inputs for
// flags. A nil generate uses Wave.
func NewSynthetic(flags *modeldef.Flags, outputSize int, generate GenerateFunc) *Synthetic {
	if generate == nil {
		generate = Wave
	}
	return &Synthetic{
		Inputs:   NewInputs(modeldef.ImageInputs(), modeldef.NumericInputs(flags)),
		out:      make([]float32, outputSize),
		generate: generate,
	}
}

// Execute implements Backend.
func (s *Synthetic) Execute() error {
	if err := s.Check(); err != nil {
		return err
	}
	s.generate(s.Inputs, s.step, s.out)
	s.step++
	return nil
}

// ReadOutput implements Backend.
func (s *Synthetic) ReadOutput() []float32 { return s.out }

// OutputSize implements Backend.
func (s *Synthetic) OutputSize() int { return len(s.out) }

// Executions returns how many times Execute succeeded.
func (s *Synthetic) Executions() int { return s.step }

// Wave writes a slow sinusoid per output index, phase-shifted by index and
// nudged by the newest features_buffer row so the output depends on the
// model's own recurrent state.
func Wave(in *Inputs, step int, out []float32) {
	var bias float64
	if fb := in.Buffer(modeldef.FeaturesBuffer); len(fb) >= modeldef.FeatureLen {
		last := fb[len(fb)-modeldef.FeatureLen:]
		bias = float64(last[0]) * 0.01
	}
	t := float64(step) / modeldef.ModelFreq
	for i := range out {
		v := 0.5 * math.Sin(2*math.Pi*0.1*t+float64(i)*0.37)
		out[i] = float32(v + bias)
	}
}

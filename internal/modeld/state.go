// Package modeld drives the driving model one camera frame at a time:
// synchronised frames and live vehicle state go in, model messages come out.
package modeld

import (
	"fmt"

	"github.com/banshee-data/modeld/internal/modeld/desire"
	"github.com/banshee-data/modeld/internal/modeld/engine"
	"github.com/banshee-data/modeld/internal/modeld/modeldef"
	"github.com/banshee-data/modeld/internal/modeld/outputs"
	"github.com/banshee-data/modeld/internal/modeld/ring"
	"github.com/banshee-data/modeld/internal/modeld/warp"
	"github.com/banshee-data/modeld/internal/vision"
)

// CycleInputs is one cycle's encoded view of the vehicle.
type CycleInputs struct {
	Desire               int
	TrafficConvention    [modeldef.TrafficConventionLen]float32
	LateralControlParams [modeldef.LateralControlParamsLen]float32
	// Nil when the channel is disabled.
	NavFeatures     []float32
	NavInstructions []float32
	RadarTracks     []float32
}

// State owns every buffer that carries over between cycles and the engine
// bindings that read them.
type State struct {
	flags  *modeldef.Flags
	engine engine.Backend
	meta   *outputs.Metadata
	parser outputs.Parser

	frame     *warp.Frame
	wideFrame *warp.Frame

	desire   *desire.PulseEncoder
	features *ring.Buffer
	prevCurv *ring.Buffer

	inputs map[string][]float32
}

// NewState declares every numeric input on backend. The buffers stay bound
// for the life of the process; Run rewrites them in place.
func NewState(flags *modeldef.Flags, backend engine.Backend, meta *outputs.Metadata, parser outputs.Parser) (*State, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if meta.OutputSize != backend.OutputSize() {
		return nil, fmt.Errorf("model metadata declares %d outputs, engine produces %d", meta.OutputSize, backend.OutputSize())
	}
	if parser == nil {
		parser = outputs.DefaultParser{}
	}
	s := &State{
		flags:     flags,
		engine:    backend,
		meta:      meta,
		parser:    parser,
		frame:     warp.NewFrame(),
		wideFrame: warp.NewFrame(),
		desire:    desire.NewModelPulseEncoder(),
		features:  ring.New(modeldef.FullHistoryBufferLen, modeldef.FeatureLen),
		prevCurv:  ring.New(modeldef.FullHistoryBufferLen+1, modeldef.PrevDesiredCurvLen),
		inputs:    make(map[string][]float32),
	}
	for _, spec := range modeldef.NumericInputs(flags) {
		buf := make([]float32, spec.Len)
		if err := backend.SetRuntimeBuffer(spec.Name, buf); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
		s.inputs[spec.Name] = buf
	}
	return s, nil
}

// Input returns the bound numeric input buffer, or nil if name is not
// declared.
func (s *State) Input(name string) []float32 { return s.inputs[name] }

// FeatureHistory returns the hidden-state history, newest row last.
func (s *State) FeatureHistory() *ring.Buffer { return s.features }

// Run encodes one cycle into the engine inputs and, unless prepareOnly is
// set, executes the model. The returned output is nil when the model did
// not run.
func (s *State) Run(main, extra *vision.Buffer, tMain, tExtra warp.Transform, in CycleInputs, prepareOnly bool) (*outputs.ModelOutput, error) {
	// The model decides when a maneuver is complete, so it only sees the
	// onset of each desire.
	s.desire.Encode(in.Desire)
	s.desire.Pooled(s.inputs[modeldef.Desire])

	copy(s.inputs[modeldef.TrafficConvention], in.TrafficConvention[:])
	copy(s.inputs[modeldef.LateralControlParams], in.LateralControlParams[:])
	if s.flags.NavEnabled {
		copy(s.inputs[modeldef.NavFeatures], in.NavFeatures)
		copy(s.inputs[modeldef.NavInstructions], in.NavInstructions)
	}
	if s.flags.RadarEnabled {
		copy(s.inputs[modeldef.RadarTracks], in.RadarTracks)
	}

	if err := s.engine.BindInput(modeldef.InputImgs, s.frame.Prepare(main, tMain)); err != nil {
		return nil, err
	}
	if err := s.engine.BindInput(modeldef.BigInputImgs, s.wideFrame.Prepare(extra, tExtra)); err != nil {
		return nil, err
	}

	if prepareOnly {
		return nil, nil
	}

	if err := s.engine.Execute(); err != nil {
		return nil, fmt.Errorf("model execution: %w", err)
	}
	slices, err := s.meta.Slice(s.engine.ReadOutput(), s.flags.SendRawPred)
	if err != nil {
		return nil, err
	}
	out, err := s.parser.Parse(slices, s.flags.PoseDisabled)
	if err != nil {
		return nil, err
	}

	// This cycle's output becomes the next cycle's context.
	s.features.Maintain(out.HiddenState)
	s.prevCurv.Maintain(out.DesiredCurvature)

	s.features.Downsample(s.inputs[modeldef.FeaturesBuffer], modeldef.HistoryStride, modeldef.HistoryBufferLen)
	// TODO: feed the strided curvature history once the model reads more
	// than the newest value; until then the newest slot stays zero.
	prev := s.inputs[modeldef.PrevDesiredCurv]
	clear(prev[len(prev)-modeldef.PrevDesiredCurvLen:])
	return out, nil
}

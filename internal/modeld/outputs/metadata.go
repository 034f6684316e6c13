// Package outputs slices the engine's flat output vector into named heads
// and parses them into structured model results.
package outputs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/banshee-data/modeld/internal/modeld/modeldef"
)

// Output head names.
const (
	HiddenState      = "hidden_state"
	DesiredCurvature = "desired_curvature"
	DesireState      = "desire_state"
	Plan             = "plan"
	LaneLines        = "lane_lines"
	Pose             = "pose"
	RawPred          = "raw_pred"
)

// Span is a half-open [start, end) range into the flat output.
type Span [2]int

// Metadata describes the model's output layout.
type Metadata struct {
	OutputSlices map[string]Span `json:"output_slices"`
	OutputSize   int             `json:"output_size"`
}

const maxMetadataSize = 1 << 20

// LoadMetadata reads a JSON metadata file.
func LoadMetadata(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model metadata: %w", err)
	}
	defer f.Close()
	return ReadMetadata(f)
}

// ReadMetadata decodes and validates metadata from r.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	var m Metadata
	dec := json.NewDecoder(io.LimitReader(r, maxMetadataSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode model metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every slice lies inside the output and the heads the
// orchestrator depends on are present.
func (m *Metadata) Validate() error {
	if m.OutputSize <= 0 {
		return fmt.Errorf("model metadata: output_size must be positive, got %d", m.OutputSize)
	}
	for _, name := range m.Names() {
		s := m.OutputSlices[name]
		if s[0] < 0 || s[1] <= s[0] || s[1] > m.OutputSize {
			return fmt.Errorf("model metadata: slice %q [%d, %d) outside output of %d", name, s[0], s[1], m.OutputSize)
		}
	}
	if s, ok := m.OutputSlices[HiddenState]; !ok || s[1]-s[0] != modeldef.FeatureLen {
		return fmt.Errorf("model metadata: %q must span %d values", HiddenState, modeldef.FeatureLen)
	}
	if s, ok := m.OutputSlices[DesiredCurvature]; !ok || s[1]-s[0] != modeldef.PrevDesiredCurvLen {
		return fmt.Errorf("model metadata: %q must span %d values", DesiredCurvature, modeldef.PrevDesiredCurvLen)
	}
	return nil
}

// Names returns the slice names in a stable order.
func (m *Metadata) Names() []string {
	names := make([]string, 0, len(m.OutputSlices))
	for n := range m.OutputSlices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultMetadata is the layout produced by the synthetic engine.
func DefaultMetadata() *Metadata {
	m := &Metadata{OutputSlices: make(map[string]Span)}
	add := func(name string, n int) {
		m.OutputSlices[name] = Span{m.OutputSize, m.OutputSize + n}
		m.OutputSize += n
	}
	add(Plan, PlanLen)
	add(LaneLines, LaneLinesLen)
	add(DesireState, modeldef.DesireLen)
	add(Pose, PoseLen)
	add(DesiredCurvature, modeldef.PrevDesiredCurvLen)
	add(HiddenState, modeldef.FeatureLen)
	return m
}

// Slice splits flat into named views according to m. The views alias flat.
// With raw set, a copy of the whole vector is added under RawPred.
func (m *Metadata) Slice(flat []float32, raw bool) (map[string][]float32, error) {
	if len(flat) != m.OutputSize {
		return nil, fmt.Errorf("model output has %d values, metadata expects %d", len(flat), m.OutputSize)
	}
	out := make(map[string][]float32, len(m.OutputSlices)+1)
	for name, s := range m.OutputSlices {
		out[name] = flat[s[0]:s[1]]
	}
	if raw {
		out[RawPred] = append([]float32(nil), flat...)
	}
	return out, nil
}

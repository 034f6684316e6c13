package outputs

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/modeld/internal/modeld/modeldef"
)

// ErrMissingOutput is returned when a required head is absent.
var ErrMissingOutput = errors.New("outputs: missing model output")

// Head geometry.
const (
	PlanPoints   = 33
	PlanWidth    = 3 // x, y, z
	PlanLen      = PlanPoints * PlanWidth
	LaneLineN    = 4
	LaneLinesLen = LaneLineN * PlanPoints
	PoseLen      = 12 // trans, rot, then log std of each
)

// PoseEstimate is the camera odometry head.
type PoseEstimate struct {
	Trans    [3]float32
	Rot      [3]float32
	TransStd [3]float32
	RotStd   [3]float32
}

// ModelOutput is the structured result of one execution.
type ModelOutput struct {
	HiddenState      []float32
	DesiredCurvature []float32
	// DesireState holds a probability per desire index.
	DesireState []float32
	// Plan is PlanPoints rows of x, y, z.
	Plan      []float32
	LaneLines []float32
	// Pose is nil when the model has no pose head.
	Pose    *PoseEstimate
	RawPred []float32
}

// LaneChangeProb is P(lane change left) + P(lane change right).
func (o *ModelOutput) LaneChangeProb() float32 {
	if len(o.DesireState) < modeldef.DesireLen {
		return 0
	}
	return o.DesireState[modeldef.DesireLaneChangeLeft] + o.DesireState[modeldef.DesireLaneChangeRight]
}

// Parser turns named output slices into a ModelOutput. Implementations must
// be pure: no state carried between calls.
type Parser interface {
	Parse(slices map[string][]float32, poseDisabled bool) (*ModelOutput, error)
}

// DefaultParser is the stock parser for the heads in DefaultMetadata.
type DefaultParser struct{}

var _ Parser = DefaultParser{}

// Parse implements Parser. The returned slices are copies, so the output
// stays valid after the engine overwrites its buffer.
func (DefaultParser) Parse(slices map[string][]float32, poseDisabled bool) (*ModelOutput, error) {
	required := func(name string) ([]float32, error) {
		v, ok := slices[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingOutput, name)
		}
		return append([]float32(nil), v...), nil
	}

	out := &ModelOutput{}
	var err error
	if out.HiddenState, err = required(HiddenState); err != nil {
		return nil, err
	}
	if out.DesiredCurvature, err = required(DesiredCurvature); err != nil {
		return nil, err
	}
	if v, ok := slices[DesireState]; ok {
		out.DesireState = softmax(v)
	}
	if v, ok := slices[Plan]; ok {
		out.Plan = append([]float32(nil), v...)
	}
	if v, ok := slices[LaneLines]; ok {
		out.LaneLines = append([]float32(nil), v...)
	}
	if v, ok := slices[RawPred]; ok {
		out.RawPred = v
	}

	if !poseDisabled {
		v, ok := slices[Pose]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingOutput, Pose)
		}
		if len(v) != PoseLen {
			return nil, fmt.Errorf("outputs: pose has %d values, want %d", len(v), PoseLen)
		}
		p := &PoseEstimate{}
		copy(p.Trans[:], v[0:3])
		copy(p.Rot[:], v[3:6])
		for i := 0; i < 3; i++ {
			p.TransStd[i] = float32(math.Exp(float64(v[6+i])))
			p.RotStd[i] = float32(math.Exp(float64(v[9+i])))
		}
		out.Pose = p
	}
	return out, nil
}

func softmax(v []float32) []float32 {
	out := make([]float32, len(v))
	if len(v) == 0 {
		return out
	}
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - maxV))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

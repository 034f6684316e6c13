// Package encoders converts the optional navigation and radar signals into
// the fixed-shape vectors the driving model consumes. Each encoder is gated
// by the process feature flags; a disabled encoder never produces a vector.
package encoders

import (
	"math"

	"github.com/banshee-data/modeld/internal/modeld/modeldef"
)

// Maneuver is one upcoming navigation instruction.
type Maneuver struct {
	Distance float64 // metres ahead
	Modifier string  // e.g. "slight left"
}

// Direction slots within a navigation bucket.
const (
	DirectionStraight = 0
	DirectionLeft     = 1
	DirectionRight    = 2
)

const (
	navCenterBucket = 25
	navBucketMeters = 20.0
)

// ManeuverDirection maps a maneuver modifier to its direction slot.
func ManeuverDirection(modifier string) int {
	switch modifier {
	case "left", "slight left", "sharp left":
		return DirectionLeft
	case "right", "slight right", "sharp right":
		return DirectionRight
	default:
		return DirectionStraight
	}
}

// ManeuverSlot returns the instruction-grid slot for m and whether it falls
// inside the grid.
func ManeuverSlot(m Maneuver) (int, bool) {
	bucket := navCenterBucket + int(math.Floor(m.Distance/navBucketMeters))
	if bucket < 0 || bucket >= modeldef.NavBuckets {
		return 0, false
	}
	return bucket*modeldef.NavDirections + ManeuverDirection(m.Modifier), true
}

// EncodeInstructions zeroes dst and sets one slot per in-range maneuver.
func EncodeInstructions(dst []float32, maneuvers []Maneuver) []float32 {
	clear(dst)
	for _, m := range maneuvers {
		if slot, ok := ManeuverSlot(m); ok {
			dst[slot] = 1
		}
	}
	return dst
}

// NavInput is one cycle's navigation view of the upstream state.
type NavInput struct {
	Valid               bool
	FeaturesUpdated     bool
	Features            []float32
	InstructionsUpdated bool
	Maneuvers           []Maneuver
}

// Nav keeps the last navigation features and instruction grid. Values
// persist across cycles until upstream updates them or goes invalid.
type Nav struct {
	flags        *modeldef.Flags
	features     []float32
	instructions []float32
}

// NewNav returns a navigation encoder bound to flags.
func NewNav(flags *modeldef.Flags) *Nav {
	return &Nav{
		flags:        flags,
		features:     make([]float32, modeldef.NavFeatureLen),
		instructions: make([]float32, modeldef.NavInstructionLen),
	}
}

// Enabled reports whether the navigation inputs exist for this process.
func (n *Nav) Enabled() bool { return n.flags.NavEnabled }

// Update folds in one cycle of navigation state. It is a no-op when the
// navigation flag is off.
func (n *Nav) Update(in NavInput) {
	if !n.flags.NavEnabled {
		return
	}
	if !in.Valid {
		clear(n.features)
		clear(n.instructions)
		return
	}
	if in.FeaturesUpdated {
		c := copy(n.features, in.Features)
		clear(n.features[c:])
	}
	if in.InstructionsUpdated {
		EncodeInstructions(n.instructions, in.Maneuvers)
	}
}

// Features returns the current navigation feature vector.
func (n *Nav) Features() []float32 { return n.features }

// Instructions returns the current instruction grid.
func (n *Nav) Instructions() []float32 { return n.instructions }

// Track is one radar track relative to the ego vehicle.
type Track struct {
	DRel float32 // longitudinal distance, m
	YRel float32 // lateral offset, m
	VRel float32 // relative velocity, m/s
}

// Radar packs up to RadarTracksLen tracks into a flat vector.
type Radar struct {
	flags  *modeldef.Flags
	tracks []float32
}

// NewRadar returns a radar encoder bound to flags.
func NewRadar(flags *modeldef.Flags) *Radar {
	return &Radar{
		flags:  flags,
		tracks: make([]float32, modeldef.RadarTracksLen*modeldef.RadarTracksWidth),
	}
}

// Enabled reports whether the radar input exists for this process.
func (r *Radar) Enabled() bool { return r.flags.RadarEnabled }

// Update clears the vector and, when the track list was updated this
// cycle, refills it. Tracks beyond capacity are dropped.
func (r *Radar) Update(updated bool, tracks []Track) {
	if !r.flags.RadarEnabled {
		return
	}
	clear(r.tracks)
	if !updated {
		return
	}
	for i, t := range tracks {
		if i >= modeldef.RadarTracksLen {
			break
		}
		slot := r.tracks[i*modeldef.RadarTracksWidth : (i+1)*modeldef.RadarTracksWidth]
		slot[0], slot[1], slot[2] = t.DRel, t.YRel, t.VRel
	}
}

// Tracks returns the current radar vector.
func (r *Radar) Tracks() []float32 { return r.tracks }

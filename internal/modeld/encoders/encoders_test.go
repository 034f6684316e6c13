package encoders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/modeld/internal/modeld/modeldef"
)

func setSlots(v []float32) []int {
	var out []int
	for i, x := range v {
		if x != 0 {
			out = append(out, i)
		}
	}
	return out
}

func TestManeuverSlotBucketArithmetic(t *testing.T) {
	slot, ok := ManeuverSlot(Maneuver{Distance: 240, Modifier: "slight left"})
	require.True(t, ok)
	assert.Equal(t, 112, slot) // bucket 37, left

	dst := make([]float32, modeldef.NavInstructionLen)
	EncodeInstructions(dst, []Maneuver{{Distance: 240, Modifier: "slight left"}})
	assert.Equal(t, []int{112}, setSlots(dst))
}

func TestManeuverSlots(t *testing.T) {
	tests := []struct {
		name string
		m    Maneuver
		slot int
		ok   bool
	}{
		{"at vehicle straight", Maneuver{0, ""}, 75, true},
		{"sharp right", Maneuver{19.9, "sharp right"}, 77, true},
		{"behind", Maneuver{-20, "left"}, 73, true},
		{"far behind floors", Maneuver{-500, "left"}, 1, true},
		{"just out behind", Maneuver{-501, "left"}, 0, false},
		{"last bucket", Maneuver{499, "right"}, 49*3 + 2, true},
		{"beyond grid", Maneuver{500, "right"}, 0, false},
		{"unknown modifier is straight", Maneuver{40, "uturn"}, 27 * 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot, ok := ManeuverSlot(tt.m)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.slot, slot)
			}
		})
	}
}

func TestNavUpdate(t *testing.T) {
	flags := &modeldef.Flags{NavEnabled: true}
	n := NewNav(flags)

	features := make([]float32, modeldef.NavFeatureLen)
	features[5] = 0.5
	n.Update(NavInput{
		Valid:               true,
		FeaturesUpdated:     true,
		Features:            features,
		InstructionsUpdated: true,
		Maneuvers:           []Maneuver{{Distance: 240, Modifier: "slight left"}, {Distance: 1000}},
	})
	assert.Equal(t, float32(0.5), n.Features()[5])
	assert.Equal(t, []int{112}, setSlots(n.Instructions()))

	// Not updated: values persist.
	n.Update(NavInput{Valid: true})
	assert.Equal(t, float32(0.5), n.Features()[5])
	assert.Equal(t, []int{112}, setSlots(n.Instructions()))

	// Invalid upstream zeroes both.
	n.Update(NavInput{Valid: false, FeaturesUpdated: true, Features: features})
	assert.Empty(t, setSlots(n.Features()))
	assert.Empty(t, setSlots(n.Instructions()))
}

func TestNavDisabledIgnoresInput(t *testing.T) {
	n := NewNav(&modeldef.Flags{})
	assert.False(t, n.Enabled())
	n.Update(NavInput{Valid: true, InstructionsUpdated: true, Maneuvers: []Maneuver{{Distance: 0}}})
	assert.Empty(t, setSlots(n.Instructions()))
}

func TestRadarUpdate(t *testing.T) {
	r := NewRadar(&modeldef.Flags{RadarEnabled: true})
	tracks := make([]Track, modeldef.RadarTracksLen+5)
	for i := range tracks {
		tracks[i] = Track{DRel: float32(i + 1), YRel: -1, VRel: 2}
	}

	r.Update(true, tracks)
	v := r.Tracks()
	require.Len(t, v, modeldef.RadarTracksLen*modeldef.RadarTracksWidth)
	assert.Equal(t, []float32{1, -1, 2}, v[0:3])
	assert.Equal(t, float32(modeldef.RadarTracksLen), v[len(v)-3])

	r.Update(true, tracks[:1])
	assert.Equal(t, []int{0, 1, 2}, setSlots(r.Tracks()))

	// A cycle without an update clears the vector.
	r.Update(false, tracks)
	assert.Empty(t, setSlots(r.Tracks()))
}

package ring

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintainKeepsLengthConstant(t *testing.T) {
	b := New(5, 2)
	for i := 0; i < 20; i++ {
		b.Maintain([]float32{float32(i), float32(-i)})
		require.Equal(t, 5, b.Len(), "cycle %d", i)
	}
	assert.Equal(t, []float32{19, -19}, b.Row(-1))
	assert.Equal(t, []float32{15, -15}, b.Row(0))
}

func TestMaintainShiftsLeft(t *testing.T) {
	b := New(3, 1)
	b.Maintain([]float32{1})
	if diff := cmp.Diff([]float32{0, 0, 1}, b.data); diff != "" {
		t.Errorf("after one update (-want +got):\n%s", diff)
	}
	b.Maintain([]float32{2})
	b.Maintain([]float32{3})
	b.Maintain([]float32{4})
	if diff := cmp.Diff([]float32{2, 3, 4}, b.data); diff != "" {
		t.Errorf("after four updates (-want +got):\n%s", diff)
	}
}

func TestMaintainPadsShortVector(t *testing.T) {
	b := New(2, 3)
	b.Maintain([]float32{1, 2, 3})
	b.Maintain([]float32{9})
	assert.Equal(t, []float32{9, 0, 0}, b.Row(-1))
}

func TestColdStartIsZero(t *testing.T) {
	b := New(4, 2)
	dst := make([]float32, 2*2)
	b.Downsample(dst, 2, 2)
	assert.Equal(t, []float32{0, 0, 0, 0}, dst)
}

func TestDownsampleOffsetsOldestFirst(t *testing.T) {
	b := New(12, 1)
	for i := 1; i <= 12; i++ {
		b.Maintain([]float32{float32(i)})
	}
	// rows hold 1..12; offsets -4, -8 and -12 hold 9, 5 and 1.
	dst := make([]float32, 3)
	got := b.Downsample(dst, 4, 3)
	assert.Equal(t, []float32{1, 5, 9}, got)
}

func TestDownsampleModelGeometry(t *testing.T) {
	// 99 rows sampled at stride 4 for 24 entries reaches row -96.
	b := New(99, 1)
	for i := 1; i <= 99; i++ {
		b.Maintain([]float32{float32(i)})
	}
	dst := make([]float32, 24)
	b.Downsample(dst, 4, 24)
	assert.Equal(t, float32(4), dst[0])
	assert.Equal(t, float32(96), dst[23])
}

func TestMaxPoolPreservesIsolatedOnset(t *testing.T) {
	for pos := 0; pos < 4; pos++ {
		b := New(8, 2)
		for r := 0; r < 8; r++ {
			row := []float32{0, 0}
			if r == 4+pos {
				row[1] = 1
			}
			b.Maintain(row)
		}
		dst := make([]float32, 4)
		got := b.MaxPool(dst, 4)
		assert.Equal(t, []float32{0, 0, 0, 1}, got, "onset at position %d", pos)
	}
}

func TestShapePanics(t *testing.T) {
	assert.Panics(t, func() { New(0, 1) })
	b := New(6, 1)
	assert.Panics(t, func() { b.MaxPool(make([]float32, 6), 4) })
	assert.Panics(t, func() { b.Downsample(make([]float32, 6), 4, 2) })
	assert.Panics(t, func() { b.Row(6) })
}

func TestMaintainDoesNotAllocate(t *testing.T) {
	b := New(100, 8)
	vec := make([]float32, 8)
	allocs := testing.AllocsPerRun(100, func() { b.Maintain(vec) })
	assert.Zero(t, allocs)
}

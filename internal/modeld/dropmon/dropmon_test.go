package dropmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstOrderFilter(t *testing.T) {
	f := NewFirstOrderFilter(0, 10*time.Second, 50*time.Millisecond)
	// alpha = 0.05/10.05
	got := f.Update(10)
	assert.InDelta(t, 10*0.05/10.05, got, 1e-12)
	assert.InDelta(t, got, f.X, 0)
}

func TestGapScenario(t *testing.T) {
	m := New(Config{})
	frames := []uint32{100, 101, 102, 105}
	want := []struct {
		raw         int
		prepareOnly bool
	}{
		{99, true}, // last frame id starts at zero
		{0, false},
		{0, false},
		{2, true},
	}

	for i, id := range frames {
		s := m.Update(id)
		assert.Equal(t, want[i].raw, s.RawDropped, "frame %d", id)
		assert.Equal(t, want[i].prepareOnly, s.PrepareOnly, "frame %d", id)
		m.Advance(id)
	}
	assert.Equal(t, uint32(105), m.LastFrameID())
}

func TestWarmupForcesZero(t *testing.T) {
	m := New(Config{})
	id := uint32(0)
	for i := 0; i < 10; i++ {
		id += 11 // ten dropped frames every cycle
		s := m.Update(id)
		require.Equal(t, 10, s.RawDropped)
		assert.Zero(t, s.Smoothed, "cycle %d", i)
		assert.Zero(t, s.Ratio, "cycle %d", i)
		m.Advance(id)
	}

	id += 11
	s := m.Update(id)
	assert.Greater(t, s.Ratio, 0.0)
	assert.Less(t, s.Ratio, 1.0)
}

func TestClampBoundsCatastrophicGap(t *testing.T) {
	a := New(Config{WarmupCycles: -1})
	b := New(Config{WarmupCycles: -1})

	sa := a.Update(11)     // 10 dropped
	sb := b.Update(100001) // 100000 dropped, clamped to 10

	assert.Equal(t, 100000, sb.RawDropped)
	assert.InDelta(t, sa.Smoothed, sb.Smoothed, 1e-12)
}

func TestDropRatioConvergesToZero(t *testing.T) {
	m := New(Config{WarmupCycles: -1})

	id := uint32(0)
	for i := 0; i < 20; i++ {
		id += 6
		m.Update(id)
		m.Advance(id)
	}
	high := m.Update(id + 6)
	m.Advance(id + 6)
	id += 6
	require.Greater(t, high.Ratio, 0.1)

	var s Stats
	for i := 0; i < 5000; i++ {
		id++
		s = m.Update(id)
		m.Advance(id)
		require.Zero(t, s.RawDropped)
	}
	assert.InDelta(t, 0, s.Ratio, 1e-6)
}

func TestDropRatioZeroAfterWarmupWithoutDrops(t *testing.T) {
	m := New(Config{})
	m.Advance(999)
	var s Stats
	for id := uint32(1000); id < 1012; id++ {
		s = m.Update(id)
		m.Advance(id)
	}
	assert.Zero(t, s.Ratio)
	assert.Equal(t, 12, m.Cycles())
}

func TestBackwardsFrameIDIsNotADrop(t *testing.T) {
	m := New(Config{})
	m.Advance(50)
	s := m.Update(40)
	assert.Zero(t, s.RawDropped)
	assert.False(t, s.PrepareOnly)
}

package vision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/modeld/internal/timeutil"
)

func TestStreamTypeString(t *testing.T) {
	assert.Equal(t, "road", StreamRoad.String())
	assert.Equal(t, "wide_road", StreamWideRoad.String())
	assert.Equal(t, "driver", StreamDriver.String())
	assert.Equal(t, "stream(9)", StreamType(9).String())
}

func TestSyntheticPacesFrames(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	svc := NewSynthetic(SyntheticConfig{FrameRate: 20, WideOffset: 3 * time.Millisecond}, clock)

	assert.Equal(t, map[StreamType]bool{StreamRoad: true, StreamWideRoad: true}, svc.AvailableStreams())

	road := svc.Client(StreamRoad)
	_, ok := road.Receive()
	assert.False(t, ok, "receive before connect")
	require.True(t, road.Connect(true))

	f0, ok := road.Receive()
	require.True(t, ok)
	f1, ok := road.Receive()
	require.True(t, ok)
	assert.Equal(t, uint32(0), f0.Meta.FrameID)
	assert.Equal(t, uint32(1), f1.Meta.FrameID)
	assert.Equal(t, uint64(50*time.Millisecond), f1.Meta.TimestampSOF-f0.Meta.TimestampSOF)
	assert.Greater(t, f1.Meta.TimestampEOF, f1.Meta.TimestampSOF)
	assert.Len(t, f1.Data, f1.Width*f1.Height*3/2)

	wide := svc.Client(StreamWideRoad)
	require.True(t, wide.Connect(false))
	w0, ok := wide.Receive()
	require.True(t, ok)
	assert.Equal(t, uint64(3*time.Millisecond), w0.Meta.TimestampSOF-f0.Meta.TimestampSOF)
}

func TestSyntheticDropsSkipFrameIDs(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	svc := NewSynthetic(SyntheticConfig{DropProbability: 0.5, Seed: 7, Streams: []StreamType{StreamRoad}}, clock)
	c := svc.Client(StreamRoad)
	require.True(t, c.Connect(true))

	var last uint32
	gaps := 0
	for i := 0; i < 50; i++ {
		b, ok := c.Receive()
		require.True(t, ok)
		if i > 0 {
			require.Greater(t, b.Meta.FrameID, last)
			if b.Meta.FrameID-last > 1 {
				gaps++
			}
		}
		last = b.Meta.FrameID
	}
	assert.Positive(t, gaps)
}

func TestSyntheticUnknownStream(t *testing.T) {
	svc := NewSynthetic(SyntheticConfig{Streams: []StreamType{StreamWideRoad}}, timeutil.NewMockClock(time.Unix(0, 0)))
	c := svc.Client(StreamRoad)
	assert.False(t, c.Connect(true))
	_, ok := c.Receive()
	assert.False(t, ok)
}

func TestScripted(t *testing.T) {
	svc := NewScripted(StreamRoad).HideStreamsFor(2).FailConnects(StreamRoad, 1)
	assert.Empty(t, svc.AvailableStreams())
	assert.Empty(t, svc.AvailableStreams())
	assert.Equal(t, map[StreamType]bool{StreamRoad: true}, svc.AvailableStreams())
	assert.Equal(t, 3, svc.Polls())

	c := svc.Client(StreamRoad)
	assert.False(t, c.Connect(false))
	assert.True(t, c.Connect(false))

	svc.Push(StreamRoad, FrameMetadata{FrameID: 1}, FrameMetadata{FrameID: 2})
	assert.Equal(t, 2, svc.Pending(StreamRoad))
	b, ok := c.Receive()
	require.True(t, ok)
	assert.Equal(t, uint32(1), b.Meta.FrameID)
	_, _ = c.Receive()
	_, ok = c.Receive()
	assert.False(t, ok)
}

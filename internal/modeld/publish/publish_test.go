package publish

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/modeld/internal/modeld/lanechange"
	"github.com/banshee-data/modeld/internal/modeld/outputs"
)

func sampleOutput() *outputs.ModelOutput {
	return &outputs.ModelOutput{
		HiddenState:      make([]float32, 4),
		DesiredCurvature: []float32{0.02},
		DesireState:      []float32{0.5, 0.5},
		Plan:             []float32{1, 2, 3},
		Pose: &outputs.PoseEstimate{
			Trans:    [3]float32{1, 0, 0},
			TransStd: [3]float32{0.1, 0.1, 0.1},
		},
	}
}

func TestFillModelMsg(t *testing.T) {
	info := FrameInfo{FrameID: 7, FrameIDExtra: 6, FrameIDRoadCam: 5, FrameDropPerc: 1.5, TimestampEOF: 99, LiveCalibSeen: true}
	m, d := FillModelMsg(sampleOutput(), info)
	assert.Equal(t, info, m.FrameInfo)
	assert.Equal(t, info, d.FrameInfo)
	assert.Equal(t, float32(0.02), m.DesiredCurvature)
	assert.Equal(t, float32(0.02), d.DesiredCurvature)
	assert.Equal(t, []float32{0.5, 0.5}, m.Meta.DesireState)

	SetLaneChange(m, d, lanechange.StateLaneChangeStarting, lanechange.DirectionLeft)
	assert.Equal(t, "laneChangeStarting", m.Meta.LaneChangeState)
	assert.Equal(t, "left", d.Meta.LaneChangeDirection)
}

func TestFillPoseMsg(t *testing.T) {
	out := sampleOutput()
	p := FillPoseMsg(out, 7, 0, 99, true)
	assert.True(t, p.Valid)
	assert.Equal(t, [3]float32{1, 0, 0}, p.Trans)

	assert.False(t, FillPoseMsg(out, 7, 1, 99, true).Valid)
	assert.False(t, FillPoseMsg(out, 7, 0, 99, false).Valid)

	out.Pose = nil
	assert.False(t, FillPoseMsg(out, 7, 0, 99, true).Valid)
}

func TestBusFiltersAndDrops(t *testing.T) {
	b := NewBus()
	b.BufferSize = 1
	_, all := b.Subscribe()
	_, pose := b.Subscribe(TopicCameraOdometry)

	b.Publish(TopicModelV2, 1)
	b.Publish(TopicCameraOdometry, 2)

	env := <-all
	assert.Equal(t, TopicModelV2, env.Topic)
	env = <-pose
	assert.Equal(t, TopicCameraOdometry, env.Topic)
	assert.Equal(t, 2, env.Msg)
	assert.Equal(t, uint64(1), b.Dropped(), "second message overflowed the all-topics subscriber")

	b.Close()
	_, ok := <-all
	assert.False(t, ok)
}

func TestBusSubscriberIDs(t *testing.T) {
	b := NewBus()
	defer b.Close()
	a, _ := b.Subscribe()
	c, _ := b.Subscribe()
	assert.NotEqual(t, a, c)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)

	b.Unsubscribe(a)
	b.Publish(TopicModelV2, 1)
	assert.Zero(t, b.Dropped())
}

func TestRecorderRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	r, err := NewRecorder(dir)
	require.NoError(t, err)
	_, err = uuid.Parse(r.RunID())
	require.NoError(t, err)

	m, _ := FillModelMsg(sampleOutput(), FrameInfo{FrameID: 42})
	ts := time.Unix(1700000000, 123456789)
	require.NoError(t, r.Record(Envelope{Topic: TopicModelV2, MonoTime: ts, Msg: m}))
	require.NoError(t, r.Record(Envelope{Topic: TopicCameraOdometry, MonoTime: ts.Add(time.Second), Msg: FillPoseMsg(sampleOutput(), 42, 0, 1, true)}))
	require.NoError(t, r.Close())
	require.Error(t, r.Record(Envelope{Topic: TopicModelV2, MonoTime: ts}))

	h, err := ReadHeader(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.TotalMessages)
	assert.Equal(t, r.RunID(), h.RunID)
	assert.Equal(t, map[string]int{TopicModelV2: 1, TopicCameraOdometry: 1}, h.Topics)
	assert.Equal(t, ts.UnixNano(), h.StartNs)

	var recs []Record
	require.NoError(t, ReadLog(dir, func(rec Record) error {
		recs = append(recs, rec)
		return nil
	}))
	require.Len(t, recs, 2)
	assert.Equal(t, TopicModelV2, recs[0].Topic)
	assert.Equal(t, ts.UnixNano(), recs[0].MonoNs)
	assert.Equal(t, r.RunID(), recs[0].RunID)
	assert.Equal(t, float64(42), recs[0].Message["frame_id"])
	assert.Equal(t, true, recs[1].Message["valid"])
}

func TestRecorderRotatesChunks(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	require.NoError(t, err)
	for i := 0; i < ChunkSize+1; i++ {
		require.NoError(t, r.Record(Envelope{Topic: "t", MonoTime: time.Unix(0, int64(i+1)), Msg: map[string]int{"i": i}}))
	}
	require.NoError(t, r.Close())

	_, err = os.Stat(filepath.Join(dir, "chunk_0001.pb"))
	require.NoError(t, err)

	n := 0
	require.NoError(t, ReadLog(dir, func(rec Record) error {
		assert.Equal(t, float64(n), rec.Message["i"])
		n++
		return nil
	}))
	assert.Equal(t, ChunkSize+1, n)
}

func TestRecorderRunConsumesBus(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	require.NoError(t, err)
	bus := NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, bus) }()

	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subscribers) == 1
	}, 2*time.Second, 5*time.Millisecond)

	bus.Publish(TopicDrivingModelData, &DrivingModelData{FrameInfo: FrameInfo{FrameID: 3}})
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.header.TotalMessages == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	h, err := ReadHeader(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.TotalMessages)
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/modeld/internal/monitoring"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cycles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAppliesSchemaAndPragmas(t *testing.T) {
	db := openTest(t)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	v, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), v)

	// A second migrate is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.StartRun(context.Background(), "r1", time.Unix(10, 0), "{}"))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	id, err := db.LatestRunID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", id)
}

func TestRunsAndCycles(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	id, err := db.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, db.StartRun(ctx, "old", time.Unix(1, 0), ""))
	require.NoError(t, db.StartRun(ctx, "new", time.Unix(2, 0), `{"engine_backend":"synthetic"}`))

	runs, err := db.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, time.Unix(2, 0), runs[0].StartedAt)

	cycles := []Cycle{
		{RunID: "new", FrameID: 100, PrepareOnly: true, MonoNs: 1},
		{RunID: "new", FrameID: 101, ExecMs: 4, Published: true, MonoNs: 2},
		{RunID: "new", FrameID: 102, ExecMs: 6, Published: true, OutOfSync: true, MonoNs: 3},
		{RunID: "new", FrameID: 105, RawDropped: 2, DropRatio: 0.1, PrepareOnly: true, MonoNs: 4},
		{RunID: "old", FrameID: 1, MonoNs: 5},
	}
	require.NoError(t, db.InsertCycles(ctx, cycles))

	got, err := db.Cycles(ctx, "new", 0)
	require.NoError(t, err)
	if diff := cmp.Diff(cycles[:4], got); diff != "" {
		t.Errorf("cycles mismatch (-want +got):\n%s", diff)
	}

	tail, err := db.Cycles(ctx, "new", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, uint32(102), tail[0].FrameID)
	assert.Equal(t, uint32(105), tail[1].FrameID)

	s, err := db.Summarize(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, Summary{
		Cycles: 4, Published: 2, PrepareOnly: 2, OutOfSync: 1, RawDropped: 2,
		MeanExecMs: 5, MaxExecMs: 6,
	}, s)
}

func TestSummarizeEmptyRun(t *testing.T) {
	db := openTest(t)
	s, err := db.Summarize(context.Background(), "none")
	require.NoError(t, err)
	assert.Equal(t, Summary{}, s)
}

func TestCycleLogWritesUnderRunID(t *testing.T) {
	db := openTest(t)
	l := NewCycleLog(db, 0, nil, nil)
	require.NoError(t, db.StartRun(context.Background(), l.RunID(), time.Unix(0, 0), ""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	for i := 0; i < 10; i++ {
		l.Record(Cycle{RunID: "ignored", FrameID: uint32(i), MonoNs: int64(i)})
	}
	require.Eventually(t, func() bool {
		got, err := db.Cycles(context.Background(), l.RunID(), 0)
		return err == nil && len(got) == 10
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, l.Dropped())
}

func TestCycleLogDropsWhenBacklogged(t *testing.T) {
	db := openTest(t)
	m := monitoring.NewMetrics()
	l := NewCycleLog(db, 2, m, nil)
	require.NoError(t, db.StartRun(context.Background(), l.RunID(), time.Unix(0, 0), ""))

	// No writer running: the third record overflows.
	l.Record(Cycle{FrameID: 1, MonoNs: 1})
	l.Record(Cycle{FrameID: 2, MonoNs: 2})
	l.Record(Cycle{FrameID: 3, MonoNs: 3})
	assert.Equal(t, uint64(1), l.Dropped())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LogBacklogDrop))

	// Cancelled before start: Run still flushes the backlog.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))
	got, err := db.Cycles(context.Background(), l.RunID(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

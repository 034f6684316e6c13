package debug

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/modeld/internal/modeld/store"
	"github.com/banshee-data/modeld/internal/monitoring"
)

func seededDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cycles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	require.NoError(t, db.StartRun(ctx, "run-1", time.Unix(1, 0), ""))
	require.NoError(t, db.InsertCycles(ctx, []store.Cycle{
		{RunID: "run-1", FrameID: 1, PrepareOnly: true, MonoNs: 1},
		{RunID: "run-1", FrameID: 2, ExecMs: 3, Published: true, MonoNs: 2},
		{RunID: "run-1", FrameID: 4, RawDropped: 1, DropRatio: 0.05, PrepareOnly: true, MonoNs: 3},
	}))
	return db
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	// tsweb only serves /debug/ to loopback callers.
	req.RemoteAddr = "127.0.0.1:1234"
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutesSummaryUsesNewestRun(t *testing.T) {
	mux := http.NewServeMux()
	rt := &Routes{DB: seededDB(t), Metrics: monitoring.NewMetrics()}
	require.NoError(t, rt.Attach(mux))

	rec := get(t, mux, "/debug/cycles.json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		RunID string `json:"run_id"`
		store.Summary
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 3, body.Cycles)
	assert.Equal(t, 1, body.Published)
	assert.Equal(t, 1, body.RawDropped)
}

func TestRoutesChart(t *testing.T) {
	mux := http.NewServeMux()
	require.NoError(t, (&Routes{DB: seededDB(t), RunID: "run-1"}).Attach(mux))

	rec := get(t, mux, "/debug/cycles?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Model cycles")
	assert.Contains(t, rec.Body.String(), "cycles=2")
}

func TestRoutesRuns(t *testing.T) {
	db := seededDB(t)
	require.NoError(t, db.StartRun(context.Background(), "run-2", time.Unix(2, 0), "{}"))
	mux := http.NewServeMux()
	require.NoError(t, (&Routes{DB: db}).Attach(mux))

	rec := get(t, mux, "/debug/runs.json")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
}

func TestRoutesMetrics(t *testing.T) {
	m := monitoring.NewMetrics()
	m.ObserveCycle(monitoring.CyclePublished, 0, 0, time.Millisecond, false)
	mux := http.NewServeMux()
	require.NoError(t, (&Routes{Metrics: m}).Attach(mux))

	rec := get(t, mux, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `modeld_cycles_total{result="published"} 1`)
}

func TestCycleChartSkipsUnexecutedTimes(t *testing.T) {
	line := CycleChart("r", []store.Cycle{
		{FrameID: 1, PrepareOnly: true},
		{FrameID: 2, Published: true, ExecMs: 7},
	})
	var buf bytes.Buffer
	require.NoError(t, line.Render(&buf))
	assert.Contains(t, buf.String(), `"-"`)
}

func TestHealthTransitions(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	h := NewHealth(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.Status
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	h.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	h.SetServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	cancel()
	require.NoError(t, <-done)
}

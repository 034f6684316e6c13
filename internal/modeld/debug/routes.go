// Package debug serves the daemon's operator surfaces: prometheus metrics,
// tsweb debug pages over the cycle log, and a gRPC health service.
package debug

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"go.uber.org/zap"
	"tailscale.com/tsweb"

	"github.com/banshee-data/modeld/internal/httputil"
	"github.com/banshee-data/modeld/internal/modeld/store"
	"github.com/banshee-data/modeld/internal/monitoring"
	"github.com/banshee-data/modeld/internal/version"
)

const (
	defaultChartCycles = 1200
	maxListedRuns      = 50
)

// Routes wires the HTTP debug surface. DB and Metrics may be nil.
type Routes struct {
	DB      *store.DB
	Metrics *monitoring.Metrics
	// RunID names the live run; empty selects the newest run in DB.
	RunID string
	Log   *zap.SugaredLogger
}

// Attach registers /metrics and the /debug/ pages on mux.
func (rt *Routes) Attach(mux *http.ServeMux) error {
	rt.Log = monitoring.Or(rt.Log)
	if rt.Metrics != nil {
		mux.Handle("/metrics", rt.Metrics.Handler())
	}
	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	if rt.RunID != "" {
		debug.KV("Run", rt.RunID)
	}
	if rt.DB == nil {
		return nil
	}

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+rt.DB.Path(), rt.DB.DB, &tailsql.DBOptions{
		Label: "Cycle log",
	})
	debug.Handle("tailsql/", "SQL over the cycle log", tsql.NewMux())
	debug.HandleFunc("cycles", "Drop ratio and execution time chart", rt.handleChart)
	debug.HandleFunc("cycles.json", "Run summary", rt.handleSummary)
	debug.HandleFunc("runs.json", "Recorded runs, newest first", rt.handleRuns)
	return nil
}

func (rt *Routes) runID(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("run_id"); id != "" {
		return id, nil
	}
	if rt.RunID != "" {
		return rt.RunID, nil
	}
	return rt.DB.LatestRunID(r.Context())
}

func (rt *Routes) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, err := rt.runID(r)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	s, err := rt.DB.Summarize(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		RunID string `json:"run_id"`
		store.Summary
	}{id, s})
}

func (rt *Routes) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := rt.DB.Runs(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if len(runs) > maxListedRuns {
		runs = runs[:maxListedRuns]
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}

func (rt *Routes) handleChart(w http.ResponseWriter, r *http.Request) {
	id, err := rt.runID(r)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	limit := httputil.QueryInt(r, "limit", defaultChartCycles, 1, 100000)
	cycles, err := rt.DB.Cycles(r.Context(), id, limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := CycleChart(id, cycles).Render(&buf); err != nil {
		httputil.InternalError(w, fmt.Errorf("failed to render chart: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// CycleChart plots drop ratio and execution time against frame id.
func CycleChart(runID string, cycles []store.Cycle) *charts.Line {
	x := make([]string, len(cycles))
	drop := make([]opts.LineData, len(cycles))
	exec := make([]opts.LineData, len(cycles))
	for i, c := range cycles {
		x[i] = strconv.FormatUint(uint64(c.FrameID), 10)
		drop[i] = opts.LineData{Value: c.DropRatio * 100}
		if c.Published {
			exec[i] = opts.LineData{Value: c.ExecMs}
		} else {
			exec[i] = opts.LineData{Value: "-"}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "modeld cycles", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Model cycles", Subtitle: fmt.Sprintf("run=%s cycles=%d", runID, len(cycles))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame id", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "drop %", Min: 0, Max: 100}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "exec ms", Min: 0})
	line.SetXAxis(x).
		AddSeries("drop ratio", drop).
		AddSeries("exec time", exec, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))
	return line
}

// ListenAndServe serves h on addr until ctx ends.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, log *zap.SugaredLogger) error {
	log = monitoring.Or(log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Infow("debug http listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return fmt.Errorf("debug http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

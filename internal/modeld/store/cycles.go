package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Cycle is one row of the cycle log.
type Cycle struct {
	RunID        string  `json:"run_id"`
	FrameID      uint32  `json:"frame_id"`
	ExtraFrameID uint32  `json:"extra_frame_id"`
	RawDropped   int     `json:"raw_dropped"`
	DropRatio    float64 `json:"drop_ratio"`
	PrepareOnly  bool    `json:"prepare_only"`
	OutOfSync    bool    `json:"out_of_sync"`
	ExecMs       float64 `json:"exec_ms"`
	Published    bool    `json:"published"`
	MonoNs       int64   `json:"mono_ns"`
}

// Run describes one daemon session.
type Run struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Config    string    `json:"config"`
}

// Summary aggregates a run's cycles.
type Summary struct {
	Cycles      int     `json:"cycles"`
	Published   int     `json:"published"`
	PrepareOnly int     `json:"prepare_only"`
	OutOfSync   int     `json:"out_of_sync"`
	RawDropped  int     `json:"raw_dropped"`
	MeanExecMs  float64 `json:"mean_exec_ms"`
	MaxExecMs   float64 `json:"max_exec_ms"`
}

// StartRun records a new session.
func (db *DB) StartRun(ctx context.Context, runID string, startedAt time.Time, config string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, config) VALUES (?, ?, ?)`,
		runID, startedAt.UnixNano(), config)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", runID, err)
	}
	return nil
}

// Runs lists sessions, newest first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `SELECT run_id, started_at, COALESCE(config, '') FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var r Run
		var ns int64
		if err := rows.Scan(&r.RunID, &ns, &r.Config); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, ns)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRunID returns the most recently started run, or "" when the log
// is empty.
func (db *DB) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// InsertCycles writes a batch in one transaction.
func (db *DB) InsertCycles(ctx context.Context, cycles []Cycle) error {
	if len(cycles) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO cycles (
		run_id, frame_id, extra_frame_id, raw_dropped, drop_ratio,
		prepare_only, out_of_sync, exec_ms, published, mono_ns
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, c := range cycles {
		if _, err := stmt.ExecContext(ctx,
			c.RunID, c.FrameID, c.ExtraFrameID, c.RawDropped, c.DropRatio,
			c.PrepareOnly, c.OutOfSync, c.ExecMs, c.Published, c.MonoNs,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert cycle %d: %w", c.FrameID, err)
		}
	}
	return tx.Commit()
}

// Cycles returns the last limit cycles of a run in time order. A limit of
// zero or less returns every cycle.
func (db *DB) Cycles(ctx context.Context, runID string, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT run_id, frame_id, extra_frame_id, raw_dropped, drop_ratio,
			       prepare_only, out_of_sync, exec_ms, published, mono_ns
			FROM cycles WHERE run_id = ?
			ORDER BY mono_ns DESC LIMIT ?
		) ORDER BY mono_ns ASC`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Cycle
	for rows.Next() {
		var c Cycle
		if err := rows.Scan(&c.RunID, &c.FrameID, &c.ExtraFrameID, &c.RawDropped, &c.DropRatio,
			&c.PrepareOnly, &c.OutOfSync, &c.ExecMs, &c.Published, &c.MonoNs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Summarize aggregates every cycle of a run.
func (db *DB) Summarize(ctx context.Context, runID string) (Summary, error) {
	var s Summary
	var mean, maxExec sql.NullFloat64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(published), 0),
		       COALESCE(SUM(prepare_only), 0),
		       COALESCE(SUM(out_of_sync), 0),
		       COALESCE(SUM(raw_dropped), 0),
		       AVG(CASE WHEN published = 1 THEN exec_ms END),
		       MAX(exec_ms)
		FROM cycles WHERE run_id = ?`, runID).Scan(
		&s.Cycles, &s.Published, &s.PrepareOnly, &s.OutOfSync, &s.RawDropped, &mean, &maxExec)
	if err != nil {
		return s, fmt.Errorf("failed to summarize run %s: %w", runID, err)
	}
	s.MeanExecMs = mean.Float64
	s.MaxExecMs = maxExec.Float64
	return s, nil
}

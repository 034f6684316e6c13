package store

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/banshee-data/modeld/internal/monitoring"
)

// DefaultBacklog is the number of cycle records buffered ahead of the
// writer.
const DefaultBacklog = 256

// maxBatch bounds a single insert transaction.
const maxBatch = 64

// CycleLog writes cycle records on its own goroutine. Record never blocks;
// when the backlog is full the record is dropped and counted.
type CycleLog struct {
	db      *DB
	runID   string
	ch      chan Cycle
	dropped atomic.Uint64
	metrics *monitoring.Metrics
	log     *zap.SugaredLogger
}

// NewCycleLog starts a run with a fresh id. backlog <= 0 uses
// DefaultBacklog.
func NewCycleLog(db *DB, backlog int, metrics *monitoring.Metrics, log *zap.SugaredLogger) *CycleLog {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &CycleLog{
		db:      db,
		runID:   uuid.NewString(),
		ch:      make(chan Cycle, backlog),
		metrics: metrics,
		log:     monitoring.Or(log),
	}
}

func (l *CycleLog) RunID() string { return l.runID }

// Record queues c under this log's run id.
func (l *CycleLog) Record(c Cycle) {
	c.RunID = l.runID
	select {
	case l.ch <- c:
	default:
		l.dropped.Add(1)
		if l.metrics != nil {
			l.metrics.LogBacklogDrop.Inc()
		}
	}
}

// Dropped returns how many records were discarded.
func (l *CycleLog) Dropped() uint64 { return l.dropped.Load() }

// Run drains the queue into the database until ctx ends, then flushes
// whatever is still queued.
func (l *CycleLog) Run(ctx context.Context) error {
	batch := make([]Cycle, 0, maxBatch)
	// Writes outlive ctx so queued records reach the database on shutdown.
	wctx := context.WithoutCancel(ctx)
	flush := func() {
		if err := l.db.InsertCycles(wctx, batch); err != nil {
			l.log.Errorw("cycle log write failed", "records", len(batch), "err", err)
		}
		batch = batch[:0]
	}
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case c := <-l.ch:
					batch = append(batch, c)
					if len(batch) == maxBatch {
						flush()
					}
				default:
					flush()
					return nil
				}
			}
		case c := <-l.ch:
			batch = append(batch, c)
		fill:
			for len(batch) < maxBatch {
				select {
				case c := <-l.ch:
					batch = append(batch, c)
				default:
					break fill
				}
			}
			flush()
		}
	}
}

package reminder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultGCInterval is the fallback cadence for the periodic full-table
// reconcile.
const DefaultGCInterval = 5 * time.Minute

// GC runs the full-table reconcile on a fixed cadence as a correctness
// backstop independent of the save/delete signal path: it recovers jobs
// lost on restart, corrects drift from out-of-band DB edits, and sweeps
// orphans. A tick that arrives while the previous pass is still running is
// skipped.
type GC struct {
	rec      *Reconciler
	interval time.Duration
	log      zerolog.Logger
	running  atomic.Bool
}

func NewGC(rec *Reconciler, interval time.Duration, log zerolog.Logger) *GC {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	return &GC{rec: rec, interval: interval, log: log}
}

// Run blocks until ctx is cancelled. The first pass runs immediately so a
// restarted process rebuilds its job set without waiting a full interval.
func (g *GC) Run(ctx context.Context) {
	g.log.Info().Dur("interval", g.interval).Msg("reminder gc started")
	g.RunOnce(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.log.Info().Msg("reminder gc stopped")
			return
		case <-ticker.C:
			g.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single pass. Safe to call concurrently with Run and
// with targeted reconciliation; overlapping passes are skipped.
func (g *GC) RunOnce(ctx context.Context) {
	if !g.running.CompareAndSwap(false, true) {
		g.log.Debug().Msg("gc pass skipped; previous still running")
		return
	}
	defer g.running.Store(false)

	start := time.Now()
	stats, err := g.rec.ReconcileAll(ctx)
	if err != nil {
		g.log.Error().Err(err).Msg("gc pass failed")
		return
	}
	g.log.Debug().
		Int("reconciled", stats.Reconciled).
		Int("failed", stats.Failed).
		Int("swept", stats.Swept).
		Dur("took", time.Since(start)).
		Msg("gc pass done")
}

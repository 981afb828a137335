// Package maintenance runs periodic background tasks as Go tickers: the
// evaluation sweep over configured watch dates and retention cleanup of the
// audit trails. All scheduled work is driven from Go since the API server
// is already a persistent, long-running process.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/farewatch/farewatch/internal/config"
	"github.com/farewatch/farewatch/internal/evaluate"
	"github.com/farewatch/farewatch/internal/stats"
	"github.com/farewatch/farewatch/internal/store"
)

// Tasks holds the dependencies the tickers drive.
type Tasks struct {
	Store     store.Store
	Evaluator *evaluate.Evaluator
	Cfg       *config.Config
}

// Start launches the configured maintenance tickers. Zero interval disables
// a task. Blocks until ctx is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, t Tasks, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"sweep", t.Cfg.SweepInterval,
		"cleanup", t.Cfg.CleanupInterval,
		"watch_routes", len(t.Cfg.WatchRoutes))

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, tk := range tickers {
			tk.Stop()
		}
	}()

	// Sweep: evaluate every configured watch date
	if t.Cfg.SweepInterval > 0 && len(t.Cfg.WatchRoutes) > 0 {
		tk := time.NewTicker(t.Cfg.SweepInterval)
		tickers = append(tickers, tk)
		go runLoop(ctx, tk.C, func() { sweep(ctx, t, logger) })
	}

	// Cleanup: prune change events and notification records past retention
	if t.Cfg.CleanupInterval > 0 {
		tk := time.NewTicker(t.Cfg.CleanupInterval)
		tickers = append(tickers, tk)
		go runLoop(ctx, tk.C, func() { cleanup(ctx, t, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// sweep runs one evaluation per distinct configured flight date. A date
// with no samples yet is routine, not an error.
func sweep(ctx context.Context, t Tasks, logger *slog.Logger) {
	dates := make(map[time.Time]bool)
	for _, w := range t.Cfg.WatchRoutes {
		dates[store.DateOnly(w.FlightDate)] = true
	}

	for date := range dates {
		result, err := t.Evaluator.Evaluate(ctx, date)
		if err != nil {
			if errors.Is(err, stats.ErrNoData) {
				logger.Info("Sweep: no samples yet", "date", date.Format("2006-01-02"))
				continue
			}
			logger.Warn("Sweep: evaluation failed",
				"date", date.Format("2006-01-02"), "error", err)
			continue
		}
		logger.Info("Sweep: evaluation complete", "summary", result.Summary())
	}
}

// cleanup prunes audit rows older than the retention window. The price
// ledger itself is never pruned.
func cleanup(ctx context.Context, t Tasks, logger *slog.Logger) {
	cutoff := time.Now().UTC().Add(-t.Cfg.AuditRetention)
	pruned, err := t.Store.PruneAudit(ctx, cutoff)
	if err != nil {
		logger.Warn("Cleanup: prune failed", "error", err)
		return
	}
	if pruned > 0 {
		logger.Info("Cleanup: pruned audit rows", "count", pruned, "cutoff", cutoff.Format(time.RFC3339))
	}
}

// Package reaper periodically ends idle sessions and prunes old history.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/pitch-labs/internal/session"
)

// DefaultInterval is how often the reaper sweeps when no interval is set.
const DefaultInterval = 30 * time.Second

// historyEvery is how many sweeps run between history cleanups.
const historyEvery = 20

// Sweeper ends timed-out sessions and evicts expired ones.
type Sweeper interface {
	Sweep(ctx context.Context) session.SweepStats
}

// HistoryCleaner deletes persisted sessions older than a retention window.
type HistoryCleaner interface {
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)
}

// Config configures the reaper.
type Config struct {
	Interval time.Duration
	// Retention is how long persisted sessions are kept. Zero keeps them
	// forever.
	Retention time.Duration
	// OnSweep is called after every sweep that changed something.
	OnSweep func(session.SweepStats)
	Logger  *slog.Logger
}

// Reaper drives Sweep on a ticker.
type Reaper struct {
	sweeper Sweeper
	history HistoryCleaner
	cfg     Config
	logger  *slog.Logger
	ticks   int
}

// New creates a reaper. history may be nil.
func New(sweeper Sweeper, history HistoryCleaner, cfg Config) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reaper{sweeper: sweeper, history: history, cfg: cfg, logger: cfg.Logger}
}

// Start runs the reaper in a background goroutine until ctx is cancelled.
// The returned channel is closed once the goroutine has exited.
func (r *Reaper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(r.cfg.Interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		r.logger.Info("Session reaper started", "interval", r.cfg.Interval, "retention", r.cfg.Retention)

		for {
			select {
			case <-ticker.C:
				r.Tick(ctx)
			case <-ctx.Done():
				r.logger.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

// Tick runs one sweep, and a history cleanup every few sweeps.
func (r *Reaper) Tick(ctx context.Context) {
	stats := r.sweeper.Sweep(ctx)
	if stats.Ended+stats.Discarded+stats.Evicted > 0 {
		r.logger.Info("Session reaper sweep completed",
			"ended", stats.Ended,
			"discarded", stats.Discarded,
			"evicted", stats.Evicted)
		if r.cfg.OnSweep != nil {
			r.cfg.OnSweep(stats)
		}
	}

	r.ticks++
	if r.history == nil || r.cfg.Retention <= 0 || r.ticks%historyEvery != 1 {
		return
	}
	deleted, err := r.history.CleanupExpiredSessions(ctx, r.cfg.Retention)
	if err != nil {
		if ctx.Err() != nil {
			r.logger.Debug("Session reaper: context canceled during history cleanup", "error", err)
			return
		}
		r.logger.Error("Session reaper failed to clean up history", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Info("Session reaper removed old sessions", "count", deleted)
	}
}

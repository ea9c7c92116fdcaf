// Package janitor periodically removes expired sessions, their datasets and
// stale cached views.
package janitor

import (
	"context"
	"log/slog"
	"time"
)

// SessionSweeper deletes sessions whose expiry has passed.
type SessionSweeper interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// CacheSweeper evicts expired in-memory entries.
type CacheSweeper interface {
	Sweep() int
}

// Result reports what one sweep removed.
type Result struct {
	Sessions int64
	Views    int
}

// Engine runs sweeps on a ticker.
type Engine struct {
	sessions     SessionSweeper
	caches       []CacheSweeper
	tickInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewEngine creates a janitor over the given store and caches.
func NewEngine(s SessionSweeper, logger *slog.Logger, caches ...CacheSweeper) *Engine {
	return &Engine{
		sessions:     s,
		caches:       caches,
		tickInterval: 5 * time.Minute,
		now:          time.Now,
		logger:       logger,
	}
}

// SetTickInterval overrides the default tick interval (for testing).
func (e *Engine) SetTickInterval(d time.Duration) {
	e.tickInterval = d
}

// Run sweeps once immediately and then on every tick. It blocks until the
// context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	e.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("janitor shutting down")
			return ctx.Err()
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

// SweepNow runs a single sweep and returns what it removed.
func (e *Engine) SweepNow(ctx context.Context) (Result, error) {
	var res Result
	n, err := e.sessions.DeleteExpiredSessions(ctx, e.now().UTC())
	if err != nil {
		return res, err
	}
	res.Sessions = n
	for _, c := range e.caches {
		res.Views += c.Sweep()
	}
	return res, nil
}

func (e *Engine) sweep(ctx context.Context) {
	res, err := e.SweepNow(ctx)
	if err != nil {
		e.logger.Error("sweeping expired sessions", "error", err)
		return
	}
	if res.Sessions > 0 || res.Views > 0 {
		e.logger.Info("janitor sweep complete",
			"sessions_removed", res.Sessions,
			"views_evicted", res.Views,
		)
	}
}

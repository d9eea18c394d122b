// Package retention prunes analytics events older than the configured
// retention window.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/guest-coach/internal/shared"
)

const (
	defaultInterval = time.Hour
	purgeAttempts   = 3
	purgeBaseDelay  = 100 * time.Millisecond
)

// Purger deletes analytics events recorded before cutoff.
type Purger interface {
	PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Worker sweeps expired analytics events on a fixed interval.
type Worker struct {
	repo      Purger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewWorker creates a Worker. A non-positive interval uses one hour.
func NewWorker(repo Purger, retention, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{repo: repo, retention: retention, interval: interval, now: time.Now, logger: logger}
}

// Start runs the worker in a goroutine until ctx is done. The returned
// channel closes once the goroutine has exited.
func (w *Worker) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return done
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.Info("Retention worker started", "interval", w.interval, "retention", w.retention)

	w.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			w.logger.Info("Retention worker shutting down", "reason", ctx.Err())
			return
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	purged, err := w.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("Retention sweep failed", "error", err)
		return
	}
	if purged > 0 {
		w.logger.Info("Retention sweep purged events", "count", purged)
	}
}

// Sweep deletes events older than the retention window, retrying while
// the database is busy. A non-positive retention disables purging.
func (w *Worker) Sweep(ctx context.Context) (int64, error) {
	if w.retention <= 0 {
		return 0, nil
	}
	cutoff := w.now().Add(-w.retention)

	var purged int64
	err := shared.RetryOnConflict(ctx, purgeAttempts, purgeBaseDelay, func() error {
		n, err := w.repo.PurgeEventsBefore(ctx, cutoff)
		purged = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return purged, nil
}

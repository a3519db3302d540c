// Package scheduler runs periodic maintenance jobs for PromptBridge.
//
// Jobs are registered with cron expressions; "@every 15m" style descriptors are accepted.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/PromptBridge/internal/store"
)

// DefaultSweepTimeout bounds a single sweep of expired store keys.
const DefaultSweepTimeout = 30 * time.Second

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) plus descriptors, with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	ctx, cancel := context.WithCancel(context.Background())
	c.Start()
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel}
}

// AddJob schedules task using the provided cron expression.
// It returns an error if the expression is invalid. Tasks receive a context
// that is cancelled when the scheduler stops.
func (s *Scheduler) AddJob(expr, name string, task func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(expr, func() {
		slog.Debug("Scheduler: running job", "job", name)
		task(s.ctx)
	})
	if err != nil {
		slog.Error("Scheduler.AddJob: invalid schedule", "job", name, "expr", expr, "error", err)
		return err
	}
	slog.Info("Scheduler.AddJob: job scheduled", "job", name, "expr", expr)
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("Scheduler.Stop: running jobs did not finish in time", "error", ctx.Err())
	}
}

// SweepJob returns a task that deletes expired keys from sweeper.
func SweepJob(sweeper store.Sweeper, timeout time.Duration) func(ctx context.Context) {
	if timeout <= 0 {
		timeout = DefaultSweepTimeout
	}
	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		n, err := sweeper.Sweep(ctx)
		if err != nil {
			slog.Warn("SweepJob: sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("SweepJob: expired keys removed", "count", n)
		}
	}
}

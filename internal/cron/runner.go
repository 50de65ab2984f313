// Package cronrunner wraps robfig/cron with context plumbing and slog.
package cronrunner

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner schedules background jobs. Jobs receive the runner's base context so
// they stop when the process shuts down.
type Runner struct {
	cron    *cron.Cron
	log     *slog.Logger
	baseCtx context.Context
}

// New creates a Runner using standard 5-field cron expressions.
func New(log *slog.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(),
		log:     log.With("component", "cron"),
		baseCtx: baseCtx,
	}
}

// Add registers a job under the given cron spec.
func (r *Runner) Add(spec string, name string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		r.log.Debug("job started", "job", name)
		job(r.baseCtx)
	})
}

// Start begins scheduling in its own goroutine.
func (r *Runner) Start() {
	r.log.Info("cron started")
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("cron stopped")
}

package scheduler

import (
	"context"
	"log/slog"

	"github.com/freshcart/push-engine/internal/logger"
	"github.com/robfig/cron/v3"
)

// Runner drives the scheduler with an in-process cron tick. Deployments
// that trigger /scheduler/run from an external cron disable it.
type Runner struct {
	cron   *cron.Cron
	logger *logger.Logger
}

// NewRunner registers a periodic tick running every rule. spec accepts
// the cron syntax of robfig/cron, including @every intervals.
func NewRunner(s *Scheduler, spec string, log *logger.Logger) (*Runner, error) {
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		ctx := logger.WithRequestID(context.Background(), logger.GenerateRequestID())
		if err := s.Run(ctx, ModeAll); err != nil {
			log.LogError(ctx, err, "scheduler tick finished with errors")
		}
	})
	if err != nil {
		return nil, err
	}

	return &Runner{cron: c, logger: log.WithComponent("scheduler-runner")}, nil
}

// Start launches the cron loop in its own goroutine.
func (r *Runner) Start() {
	r.logger.Info("starting scheduler runner")
	r.cron.Start()
}

// Stop halts the tick and waits for a running tick to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("scheduler runner stopped", slog.Bool("drained", true))
}

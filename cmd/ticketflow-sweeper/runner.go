package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukex/ticketflow/pkg/eventbus"
	"github.com/dukex/ticketflow/pkg/events"
	"github.com/dukex/ticketflow/pkg/sweeper"
)

// Runner drives sweep passes on a cron schedule and re-checks single
// tickets when a ticket.changed event arrives.
type Runner struct {
	sweeper    *sweeper.Sweeper
	subscriber eventbus.EventSubscriber
	schedule   string
	logger     *slog.Logger
}

func NewRunner(s *sweeper.Sweeper, subscriber eventbus.EventSubscriber, schedule string, logger *slog.Logger) *Runner {
	return &Runner{
		sweeper:    s,
		subscriber: subscriber,
		schedule:   schedule,
		logger:     logger.With("module", "sweeper-runner"),
	}
}

// Start blocks until ctx is done. A pass still running when ctx ends is
// allowed to finish.
func (r *Runner) Start(ctx context.Context) error {
	if r.subscriber != nil {
		if err := r.subscriber.Handle(events.TicketChangedEvent, r.sweeper.HandleTicketChanged); err != nil {
			return fmt.Errorf("failed to register ticket change handler: %w", err)
		}

		if err := r.subscriber.Subscribe(ctx); err != nil {
			return fmt.Errorf("failed to subscribe to ticket changes: %w", err)
		}

		r.logger.InfoContext(ctx, "Subscribed to ticket changes")
	}

	cronLogger := cronLogger{logger: r.logger}
	scheduler := cron.New(cron.WithLogger(cronLogger), cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	if _, err := scheduler.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", r.schedule, err)
	}

	scheduler.Start()
	r.logger.InfoContext(ctx, "Sweeper started", "schedule", r.schedule)

	<-ctx.Done()

	r.logger.Info("Stopping sweeper, waiting for the running pass")
	<-scheduler.Stop().Done()

	return nil
}

// RunOnce runs a single pass.
func (r *Runner) RunOnce(ctx context.Context) *sweeper.PassReport {
	report, err := r.sweeper.Sweep(ctx, time.Time{})
	if err != nil {
		r.logger.ErrorContext(ctx, "Sweep pass failed", "error", err)
	}

	return report
}

// cronLogger routes cron's own messages through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

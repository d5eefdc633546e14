// Package main provides the automatic transition sweeper.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/ticketflow/pkg/cmd"
	"github.com/dukex/ticketflow/pkg/config"
	"github.com/dukex/ticketflow/pkg/log"
	"github.com/dukex/ticketflow/pkg/sweeper"
)

func main() {
	command := &cli.Command{
		Name:                  "ticketflow-sweeper",
		Usage:                 "Drive automatic ticket transitions",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRunCommand(),
			NewValidateCommand(),
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func NewRunCommand() *cli.Command {
	defaults := config.Default()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "sweeper-id",
			Aliases: []string{"id"},
			Usage:   "Custom sweeper ID (auto-generated if not provided)",
			Sources: cli.EnvVars("SWEEPER_ID"),
		},
		&cli.StringFlag{
			Name:    "sweep-schedule",
			Usage:   "Cron expression or @every descriptor for sweep passes",
			Value:   defaults.SweepSchedule,
			Sources: cli.EnvVars("SWEEP_SCHEDULE"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL of the shared sweep ledger; in-process when unset",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "sweep-ledger-ttl",
			Usage:   "How long a pass claim is remembered",
			Value:   defaults.SweepLedgerTTL,
			Sources: cli.EnvVars("SWEEP_LEDGER_TTL"),
		},
		&cli.BoolFlag{
			Name:  "once",
			Usage: "Run a single pass and exit, for external schedulers",
		},
	}

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start sweeping automatic transitions",
		Flags:   slices.Concat(commonFlags(), flags, cmd.EngineFlags()),
		Action:  run,
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	sweeperID := command.String("sweeper-id")
	if sweeperID == "" {
		sweeperID = "sweeper-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("sweeper").With("sweeper_id", sweeperID)

	settings := cmd.EngineSettingsFrom(command)
	settings.Config.SweepSchedule = command.String("sweep-schedule")
	settings.Config.SweepLedgerTTL = command.Duration("sweep-ledger-ttl")

	if err := settings.Config.Validate(); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Initializing Ticketflow sweeper")

	tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("tracing"), "ticketflow-sweeper")
	if err != nil {
		return err
	}

	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	settings.Tracer = tracer

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "ticketflow-sweeper", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	ledger, closeLedger, err := cmd.NewLedger(ctx, logger, command.String("redis-url"), settings.Config.SweepLedgerTTL)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeLedger(); err != nil {
			logger.ErrorContext(ctx, "Failed to close sweep ledger", "error", err)
		}
	}()

	engine, err := cmd.NewEngine(logger, persistence, eventBus, settings)
	if err != nil {
		return err
	}

	passWindow, err := config.SweepInterval(settings.Config.SweepSchedule)
	if err != nil {
		return err
	}

	s := sweeper.New(persistence, engine.Resolver, engine.Executor,
		sweeper.WithLedger(ledger),
		sweeper.WithPassWindow(passWindow),
		sweeper.WithPublisher(eventBus),
		sweeper.WithLogger(logger),
		sweeper.WithTracer(tracer),
	)

	if command.Bool("once") {
		runner := NewRunner(s, nil, settings.Config.SweepSchedule, logger)

		report := runner.RunOnce(ctx)
		if report != nil && report.Failed > 0 {
			return fmt.Errorf("sweep pass %s: %d tickets failed", report.PassID, report.Failed)
		}

		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return NewRunner(s, eventBus, settings.Config.SweepSchedule, logger).Start(ctx)
}

package main

import (
	"context"
	"os"
	"slices"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/ticketflow/pkg/cmd"
	"github.com/dukex/ticketflow/pkg/log"
)

const defaultPort = 9091

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
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

	command := &cli.Command{
		Name:                  "ticketflow-api",
		Usage:                 "Manage ticket workflows and execute transitions",
		EnableShellCompletion: true,
		Flags:                 slices.Concat(flags, cmd.EngineFlags()),
		Action:                run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing Ticketflow API")

	tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("tracing"), "ticketflow-api")
	if err != nil {
		return err
	}

	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "ticketflow-api", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	settings := cmd.EngineSettingsFrom(command)
	settings.Tracer = tracer

	engine, err := cmd.NewEngine(logger, persistence, eventBus, settings)
	if err != nil {
		return err
	}

	api := NewAPI(logger, persistence, engine, eventBus, settings.Config.MaxConditionDepth)

	return api.Start(command.Int("port"))
}

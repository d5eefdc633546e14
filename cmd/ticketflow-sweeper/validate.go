package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/dukex/ticketflow/pkg/cmd"
	"github.com/dukex/ticketflow/pkg/config"
	"github.com/dukex/ticketflow/pkg/services"
)

var ErrInvalidDefinitions = errors.New("invalid workflow definitions found")

const validatePageSize = 100

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate stored definitions and the sweep schedule",
		Flags: slices.Concat(commonFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron expression or @every descriptor for sweep passes",
				Value:   config.DefaultSweepSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "sweep-ledger-ttl",
				Usage:   "How long a pass claim is remembered",
				Value:   config.DefaultSweepLedgerTTL,
				Sources: cli.EnvVars("SWEEP_LEDGER_TTL"),
			},
			&cli.IntFlag{
				Name:    "max-condition-depth",
				Usage:   "Maximum nesting of condition trees accepted on save",
				Value:   config.DefaultMaxConditionDepth,
				Sources: cli.EnvVars("MAX_CONDITION_DEPTH"),
			},
		}),
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := slog.With(
				"module", "ticketflow-sweeper",
				"action", "validate",
			)

			cfg := config.Default()
			cfg.SweepSchedule = command.String("sweep-schedule")
			cfg.SweepLedgerTTL = command.Duration("sweep-ledger-ttl")
			cfg.MaxConditionDepth = command.Int("max-condition-depth")

			if err := cfg.Validate(); err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			definitions := services.NewDefinitions(persistence,
				services.WithLogger(logger),
				services.WithMaxConditionDepth(cfg.MaxConditionDepth),
			)

			return validateDefinitions(ctx, os.Stdout, definitions)
		},
	}
}

// validateDefinitions re-runs save-time validation over every stored
// definition and reports the ones a save would now reject.
func validateDefinitions(ctx context.Context, out io.Writer, definitions *services.Definitions) error {
	_, _ = fmt.Fprintln(out, "Workflow Definition Validation Results:")
	_, _ = fmt.Fprintln(out, "=======================================")

	valid, invalid, automatic := 0, 0, 0

	for offset := 0; ; offset += validatePageSize {
		page, err := definitions.List(ctx, services.ListDefinitionsRequest{
			Limit:     validatePageSize,
			Offset:    offset,
			SortBy:    "created_at",
			SortOrder: "asc",
		})
		if err != nil {
			return fmt.Errorf("failed to fetch workflow definitions: %w", err)
		}

		for _, definition := range page.Definitions {
			_, _ = fmt.Fprintf(out, "\nWorkflow: %s (%s) tenant=%s active=%t\n",
				definition.Name, definition.ID, definition.TenantID, definition.IsActive)

			if err := definitions.Validate(definition); err != nil {
				_, _ = fmt.Fprintf(out, "    INVALID: %v\n", err)
				invalid++

				continue
			}

			if definition.IsActive && len(definition.AutomaticTransitions()) > 0 {
				automatic++
			}

			_, _ = fmt.Fprintf(out, "    VALID (%d transitions)\n", len(definition.Transitions))
			valid++
		}

		if !page.HasNextPage {
			break
		}
	}

	_, _ = fmt.Fprintf(out, "\nValidation Summary:\n")
	_, _ = fmt.Fprintf(out, "  Total definitions: %d\n", valid+invalid)
	_, _ = fmt.Fprintf(out, "  Valid definitions: %d\n", valid)
	_, _ = fmt.Fprintf(out, "  Invalid definitions: %d\n", invalid)
	_, _ = fmt.Fprintf(out, "  Swept by automatic transitions: %d\n", automatic)

	if invalid > 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDefinitions, invalid)
	}

	return nil
}

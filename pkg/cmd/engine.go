package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/ticketflow/pkg/actions"
	"github.com/dukex/ticketflow/pkg/calendar"
	"github.com/dukex/ticketflow/pkg/condition"
	"github.com/dukex/ticketflow/pkg/config"
	"github.com/dukex/ticketflow/pkg/engine"
	"github.com/dukex/ticketflow/pkg/eventbus"
	"github.com/dukex/ticketflow/pkg/identity"
	"github.com/dukex/ticketflow/pkg/models"
	"github.com/dukex/ticketflow/pkg/notify"
	"github.com/dukex/ticketflow/pkg/otelhelper"
	"github.com/dukex/ticketflow/pkg/persistence"
)

// EngineFlags are the flags shared by every binary that runs transitions.
func EngineFlags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "business-hours",
			Usage:   "Business hours window as HH:MM-HH:MM",
			Value:   calendar.DefaultHours,
			Sources: cli.EnvVars("BUSINESS_HOURS"),
		},
		&cli.StringFlag{
			Name:    "business-days",
			Usage:   "Comma separated business days (mon,tue,...)",
			Value:   calendar.DefaultDays,
			Sources: cli.EnvVars("BUSINESS_DAYS"),
		},
		&cli.StringFlag{
			Name:    "timezone",
			Usage:   "IANA time zone of the business calendar",
			Value:   "UTC",
			Sources: cli.EnvVars("TIMEZONE"),
		},
		&cli.StringFlag{
			Name:    "roles-file",
			Usage:   "YAML or JSON role table; every invoker is an agent when unset",
			Sources: cli.EnvVars("ROLES_FILE"),
		},
		&cli.IntFlag{
			Name:    "max-condition-depth",
			Usage:   "Maximum nesting of condition trees accepted on save",
			Value:   defaults.MaxConditionDepth,
			Sources: cli.EnvVars("MAX_CONDITION_DEPTH"),
		},
		&cli.DurationFlag{
			Name:    "notification-timeout",
			Usage:   "Deadline for a single notification action",
			Value:   defaults.NotificationTimeout,
			Sources: cli.EnvVars("NOTIFICATION_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export spans over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}
}

// EngineSettings collects what NewEngine needs from the command line.
type EngineSettings struct {
	Config        config.EngineConfig
	BusinessHours string
	BusinessDays  string
	Timezone      string
	RolesFile     string
	Tracer        trace.Tracer
}

// EngineSettingsFrom reads the EngineFlags of command. The sweep fields of
// the returned config keep their defaults.
func EngineSettingsFrom(command *cli.Command) EngineSettings {
	cfg := config.Default()
	cfg.MaxConditionDepth = command.Int("max-condition-depth")
	cfg.NotificationTimeout = command.Duration("notification-timeout")

	return EngineSettings{
		Config:        cfg,
		BusinessHours: command.String("business-hours"),
		BusinessDays:  command.String("business-days"),
		Timezone:      command.String("timezone"),
		RolesFile:     command.String("roles-file"),
	}
}

// Engine bundles the evaluation and execution components of one process.
type Engine struct {
	Evaluator *condition.Evaluator
	Resolver  *engine.Resolver
	Actions   *actions.Executor
	Executor  *engine.Executor
}

// NewEngine wires the evaluator, resolver and executors. Notifications are
// published on bus so a delivery service can pick them up.
func NewEngine(logger *slog.Logger, p persistence.Persistence, bus eventbus.EventPublisher, settings EngineSettings) (*Engine, error) {
	if err := settings.Config.Validate(); err != nil {
		return nil, err
	}

	cal, err := calendar.New(settings.BusinessHours, settings.BusinessDays, settings.Timezone)
	if err != nil {
		return nil, err
	}

	roles, err := NewRoleResolver(logger, settings.RolesFile)
	if err != nil {
		return nil, err
	}

	evaluator := condition.NewEvaluator(cal)
	resolver := engine.NewResolver(evaluator)

	actionExecutor := actions.NewExecutor(notify.NewEventBusNotifier(bus), logger.With("module", "actions"),
		actions.WithNotificationTimeout(settings.Config.NotificationTimeout),
		actions.WithTracer(settings.Tracer),
	)

	executor := engine.NewExecutor(p, resolver, actionExecutor, roles,
		engine.WithPublisher(bus),
		engine.WithLogger(logger.With("module", "engine")),
		engine.WithTracer(settings.Tracer),
	)

	return &Engine{
		Evaluator: evaluator,
		Resolver:  resolver,
		Actions:   actionExecutor,
		Executor:  executor,
	}, nil
}

// NewRoleResolver loads the role table at path. Without a table every
// operator is an agent.
func NewRoleResolver(logger *slog.Logger, path string) (*identity.StaticRoles, error) {
	if path == "" {
		logger.Warn("no role table configured, every invoker is an agent")

		return identity.NewStaticRoles(nil, models.RoleAgent)
	}

	roles, err := identity.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	return roles, nil
}

// NewTracer returns the OTLP tracer for serviceName when enabled, and a nil
// tracer otherwise so components keep the global one.
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, func(context.Context) error, error) {
	if !enabled {
		return nil, func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}

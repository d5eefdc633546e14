// Package main provides the ticketflow API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dukex/ticketflow/pkg/cmd"
	"github.com/dukex/ticketflow/pkg/eventbus"
	"github.com/dukex/ticketflow/pkg/persistence"
	"github.com/dukex/ticketflow/pkg/services"
	"github.com/dukex/ticketflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *cmd.Engine
	eventBus    eventbus.EventPublisher
	maxDepth    int
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	engine *cmd.Engine,
	eventBus eventbus.EventPublisher,
	maxDepth int,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		engine:      engine,
		eventBus:    eventBus,
		maxDepth:    maxDepth,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	opts := []services.Option{
		services.WithPublisher(a.eventBus),
		services.WithLogger(a.logger),
		services.WithMaxConditionDepth(a.maxDepth),
	}

	handlers := web.NewAPIHandlers(
		services.NewDefinitions(a.persistence, opts...),
		services.NewTickets(a.persistence, a.engine.Resolver, a.engine.Executor, opts...),
		services.NewPreview(a.engine.Evaluator, a.engine.Actions, opts...),
		a.validate,
		a.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Ticketflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

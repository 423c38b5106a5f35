package http

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Orchestrator   deducter
	Trail          auditReader
	Movements      movementLedger
	MetricsHandler http.Handler // nil = sin /metrics
	JWTSecret      string
	Log            zerolog.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Use(RequestLogger(deps.Log))

	if deps.MetricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.MetricsHandler))
	}

	// Rutas protegidas (requieren Bearer Token)
	api := app.Group("/api", AuthMiddleware(deps.JWTSecret))

	deductionHandler := NewDeductionHandler(deps.Orchestrator, deps.Trail)
	deductions := api.Group("/deductions")
	deductions.Post("/", RequireRole(RoleAdmin, RoleBodeguero), deductionHandler.Deduct)
	deductions.Get("/", RequireRole(RoleAdmin), deductionHandler.ListByOrder)
	deductions.Get("/range", RequireRole(RoleAdmin), deductionHandler.ListByDateRange)

	movementHandler := NewMovementHandler(deps.Movements)
	movements := api.Group("/movements")
	movements.Get("/", RequireRole(RoleAdmin, RoleBodeguero), movementHandler.History)
	movements.Get("/summary", RequireRole(RoleAdmin, RoleBodeguero), movementHandler.Summary)
	movements.Post("/", RequireRole(RoleAdmin, RoleBodeguero), movementHandler.Record)
	movements.Post("/:id/compensate", RequireRole(RoleAdmin), movementHandler.Compensate)
}

// RequestLogger registra cada request con estado y latencia; 5xx a nivel error.
func RequestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error().Err(err)
		case status >= 400:
			ev = log.Warn()
		}
		ev.Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Str("user_id", GetUserID(c)).
			Dur("latency", time.Since(started)).
			Msg("request")
		return err
	}
}

package api

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

// HealthInfo is reported by GET /health.
type HealthInfo struct {
	Version  string
	Env      string
	Provider string
}

func SetupRouter(app *fiber.App, handler *AnalyzeHandler, info HealthInfo, accessLog io.Writer) {
	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		Generator:  uuid.NewString,
		ContextKey: requestIDLocal,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:" + requestIDLocal + "} ${status} - ${latency} ${method} ${path}\n",
		Output: accessLog,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":   "healthy",
			"version":  info.Version,
			"env":      info.Env,
			"provider": info.Provider,
		})
	})

	app.Post("/analyze", handler.HandleAnalyze)

	// API Versioning
	v1 := app.Group("/v1")
	v1.Post("/analyze", handler.HandleAnalyze)
}

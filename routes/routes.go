// Package routes assembles the gateway's Fiber app: the admission
// pipeline middleware (API key, CORS, logging, recovery) plus every
// domain handler's routes, in the order spec.md §4.1 describes.
package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/gateway"
	"github.com/selfdb/gateway/internal/handlers"
)

// Registrar is anything that attaches its own routes to a router group.
type Registrar interface {
	Register(router fiber.Router)
}

// Deps bundles every wired handler the gateway serves.
type Deps struct {
	Users     *handlers.Users
	Tables    *handlers.Tables
	Storage   *handlers.Storage
	Functions *handlers.Functions
	Schema    *handlers.Schema
	System    *handlers.System
	Backups   *handlers.Backups
	Realtime  *handlers.Realtime
	Health    *handlers.Health
	APIKey    string
	CORSOrigins []string
}

// New builds the Fiber app and registers every route group.
func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ServerHeader:      "selfdb-gateway",
		AppName:           "selfdb-gateway",
		ErrorHandler:      apierror.Handler,
		StreamRequestBody: true,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(gateway.APIKeyMiddleware(d.APIKey))
	app.Use(gateway.CORS(d.CORSOrigins))

	d.Health.Register(app)

	for _, r := range []Registrar{
		d.Users, d.Tables, d.Storage, d.Functions,
		d.Schema, d.System, d.Backups, d.Realtime,
	} {
		r.Register(app)
	}

	return app
}

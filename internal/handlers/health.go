package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/dbpool"
	"github.com/selfdb/gateway/internal/storage"
)

// Health reports whether the gateway's two hard dependencies — the
// database and the storage worker — are reachable.
type Health struct {
	pool      *dbpool.Pool
	storage   *storage.Client
	healthURL string
	version   string
}

func NewHealth(pool *dbpool.Pool, storageClient *storage.Client, storageHealthURL, version string) *Health {
	return &Health{pool: pool, storage: storageClient, healthURL: storageHealthURL, version: version}
}

func (h *Health) Register(router fiber.Router) {
	router.Get("/health", h.get)
}

func (h *Health) get(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	dbOK := h.pool.DB.PingContext(ctx) == nil
	storageOK := h.storage.HealthCheck(ctx, h.healthURL) == nil

	status := "healthy"
	httpStatus := fiber.StatusOK
	if !dbOK || !storageOK {
		status = "degraded"
		httpStatus = fiber.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"version": h.version,
		"checks": fiber.Map{
			"database": dbOK,
			"storage":  storageOK,
		},
	})
}

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/system"
)

// System wires the small bootstrap-status surface. Gated only by the
// API-key middleware upstream, no user session involved.
type System struct {
	reporter *system.Reporter
}

func NewSystem(reporter *system.Reporter) *System {
	return &System{reporter: reporter}
}

func (h *System) Register(router fiber.Router) {
	router.Get("/system/status", h.status)
}

func (h *System) status(c *fiber.Ctx) error {
	status, err := h.reporter.Status(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(status)
}

package handlers

import (
	"bytes"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/auth"
	"github.com/selfdb/gateway/internal/backup"
	"github.com/selfdb/gateway/internal/gateway"
)

// Backups wires the cron-backed dump/restore scheduler to its routes.
type Backups struct {
	scheduler *backup.Scheduler
	auth      *auth.Service
}

func NewBackups(scheduler *backup.Scheduler, authSvc *auth.Service) *Backups {
	return &Backups{scheduler: scheduler, auth: authSvc}
}

func (h *Backups) Register(router fiber.Router) {
	a := h.auth
	router.Post("/backups/", gateway.Wrap(a, gateway.RouteConfig{AdminOnly: true}, h.create))
	router.Get("/backups/", gateway.Wrap(a, gateway.RouteConfig{
		AdminOnly:          true,
		AllowedQueryParams: map[string]bool{"limit": true},
	}, h.list))
	router.Get("/backups/:id", gateway.Wrap(a, gateway.RouteConfig{AdminOnly: true}, h.get))
	router.Get("/backups/:id/download", gateway.Wrap(a, gateway.RouteConfig{AdminOnly: true}, h.download))
	router.Delete("/backups/:id", gateway.Wrap(a, gateway.RouteConfig{AdminOnly: true}, h.delete))

	// Reachable without a session — only while the install has never
	// seen a successful login, per spec.md §4.8 and §8 scenario 7.
	router.Post("/backups/restore", h.restore)
}

func (h *Backups) create(c *fiber.Ctx) error {
	rec, err := h.scheduler.CreateBackup(c.Context(), "manual")
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (h *Backups) get(c *fiber.Ctx) error {
	rec, err := h.scheduler.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (h *Backups) list(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.scheduler.List(c.Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *Backups) download(c *fiber.Ctx) error {
	rec, err := h.scheduler.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	path := h.scheduler.Path(rec.Filename)
	if _, err := os.Stat(path); err != nil {
		return apierror.NotFoundErr("backup archive")
	}
	return c.Download(path, rec.Filename)
}

func (h *Backups) delete(c *fiber.Ctx) error {
	if err := h.scheduler.Delete(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// restore is only reachable before the instance has ever seen a
// successful login — the one-way bootstrap latch makes this safe to
// expose without a session.
func (h *Backups) restore(c *fiber.Ctx) error {
	initialized, err := h.auth.IsInitialized(c.Context())
	if err != nil {
		return err
	}
	if initialized {
		return apierror.ForbiddenErr("restore is only available before initial setup")
	}
	if err := h.scheduler.Restore(c.Context(), bytes.NewReader(c.Body())); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

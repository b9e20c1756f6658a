package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/auth"
	"github.com/selfdb/gateway/internal/gateway"
	"github.com/selfdb/gateway/internal/schema"
)

// Schema wires the catalog-backed visualization reader to its routes.
type Schema struct {
	reader *schema.Reader
	auth   *auth.Service
}

func NewSchema(reader *schema.Reader, authSvc *auth.Service) *Schema {
	return &Schema{reader: reader, auth: authSvc}
}

func (h *Schema) Register(router fiber.Router) {
	router.Get("/schema/visualization", gateway.Wrap(h.auth, gateway.RouteConfig{AdminOnly: true}, h.visualization))
	router.Get("/schema/tables", gateway.Wrap(h.auth, gateway.RouteConfig{AdminOnly: true}, h.tables))
}

func (h *Schema) visualization(c *fiber.Ctx) error {
	graph, err := h.reader.Build(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(graph)
}

func (h *Schema) tables(c *fiber.Ctx) error {
	graph, err := h.reader.Build(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": graph.Nodes})
}

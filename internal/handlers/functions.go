package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/auth"
	"github.com/selfdb/gateway/internal/functions"
	"github.com/selfdb/gateway/internal/gateway"
)

// Functions wires the function registry, execution-result ingestion,
// and webhook dispatch to their routes.
type Functions struct {
	registry *functions.Registry
	webhooks *functions.Webhooks
	auth     *auth.Service
}

func NewFunctions(registry *functions.Registry, webhooks *functions.Webhooks, authSvc *auth.Service) *Functions {
	return &Functions{registry: registry, webhooks: webhooks, auth: authSvc}
}

func (h *Functions) functionOwnership(c *fiber.Ctx) (string, error) {
	return h.registry.OwnerID(c.Context(), c.Params("id"))
}

func (h *Functions) webhookOwnership(c *fiber.Ctx) (string, error) {
	return h.webhooks.OwnerID(c.Context(), c.Params("id"))
}

func (h *Functions) Register(router fiber.Router) {
	a := h.auth
	router.Post("/functions/", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true}, h.deploy))
	router.Get("/functions/", gateway.Wrap(a, gateway.RouteConfig{
		RequiresAuth:       true,
		AllowedQueryParams: map[string]bool{"skip": true, "limit": true},
	}, h.list))
	router.Get("/functions/:id", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true}, h.get))
	router.Delete("/functions/:id", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true, Ownership: ownershipFor(h.functionOwnership)}, h.undeploy))
	router.Get("/functions/:id/logs", gateway.Wrap(a, gateway.RouteConfig{
		RequiresAuth:       true,
		Ownership:          ownershipFor(h.functionOwnership),
		AllowedQueryParams: map[string]bool{"limit": true},
	}, h.logs))
	router.Get("/functions/:id/executions", gateway.Wrap(a, gateway.RouteConfig{
		RequiresAuth:       true,
		Ownership:          ownershipFor(h.functionOwnership),
		AllowedQueryParams: map[string]bool{"limit": true},
	}, h.executions))

	// The runtime posts execution results with the shared API key, not
	// a user session — no auth requirement here by design.
	router.Post("/functions/:name/execution-result", h.executionResult)

	router.Post("/webhooks/", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true}, h.createWebhook))
	router.Get("/webhooks/", gateway.Wrap(a, gateway.RouteConfig{
		RequiresAuth:       true,
		AllowedQueryParams: map[string]bool{"skip": true, "limit": true},
	}, h.listWebhooks))
	router.Delete("/webhooks/:id", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true, Ownership: ownershipFor(h.webhookOwnership)}, h.deleteWebhook))
	router.Post("/webhooks/:id/retry/:deliveryID", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true, Ownership: ownershipFor(h.webhookOwnership)}, h.retryDelivery))

	// Public trigger endpoint, reached by third parties holding only
	// the webhook token; bypasses the API-key gate (see publicPrefixes).
	router.Post("/webhooks/trigger/:token", h.trigger)
}

func (h *Functions) deploy(c *fiber.Ctx) error {
	var in functions.CreateInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	user := gateway.CurrentUser(c)
	fn, err := h.registry.Deploy(c.Context(), user.ID, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fn)
}

func (h *Functions) get(c *fiber.Ctx) error {
	fn, err := h.registry.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fn)
}

func (h *Functions) list(c *fiber.Ctx) error {
	skip, _ := strconv.Atoi(c.Query("skip"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.registry.List(c.Context(), skip, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *Functions) undeploy(c *fiber.Ctx) error {
	fn, err := h.registry.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if err := h.registry.Undeploy(c.Context(), fn.Name); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Functions) logs(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.registry.ListLogs(c.Context(), c.Params("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *Functions) executions(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.registry.ListExecutions(c.Context(), c.Params("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": items})
}

// executionResult is reached directly by the runtime service, keyed
// on the shared API key the admission pipeline already checked rather
// than a user session.
func (h *Functions) executionResult(c *fiber.Ctx) error {
	var in functions.ExecutionResultInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	outcome, err := h.registry.RecordExecutionResult(c.Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(outcome)
}

func (h *Functions) createWebhook(c *fiber.Ctx) error {
	var in functions.CreateWebhookInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	user := gateway.CurrentUser(c)
	hook, token, err := h.webhooks.Create(c.Context(), user.ID, in)
	if err != nil {
		return err
	}
	hook.WebhookToken = token
	return c.Status(fiber.StatusCreated).JSON(hook)
}

func (h *Functions) listWebhooks(c *fiber.Ctx) error {
	skip, _ := strconv.Atoi(c.Query("skip"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.webhooks.List(c.Context(), skip, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *Functions) deleteWebhook(c *fiber.Ctx) error {
	if err := h.webhooks.Delete(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Functions) retryDelivery(c *fiber.Ctx) error {
	if err := h.webhooks.Retry(c.Context(), c.Params("deliveryID")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// trigger is the third-party entry point. Once a delivery row is
// recorded it returns 202: the outcome of the delivery lives in the
// delivery record, not the HTTP response, per spec.md §4.6. An unknown
// or inactive token is answered with 404.
func (h *Functions) trigger(c *fiber.Ctx) error {
	body := c.Body()
	signature := c.Get("X-Webhook-Signature")
	deliveryID, _, err := h.webhooks.Trigger(c.Context(), c.Params("token"), body, signature)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"delivery_id": deliveryID})
}

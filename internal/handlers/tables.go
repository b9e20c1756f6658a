package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/auth"
	"github.com/selfdb/gateway/internal/gateway"
	"github.com/selfdb/gateway/internal/tables"
)

// Tables wires the dynamic table engine, row CRUD, SQL console, history
// and snippets to their routes.
type Tables struct {
	engine   *tables.Engine
	rows     *tables.Rows
	console  *tables.Console
	history  *tables.History
	snippets *tables.Snippets
	auth     *auth.Service
}

func NewTables(engine *tables.Engine, rows *tables.Rows, console *tables.Console,
	history *tables.History, snippets *tables.Snippets, authSvc *auth.Service) *Tables {
	return &Tables{engine: engine, rows: rows, console: console, history: history, snippets: snippets, auth: authSvc}
}

var tableListQueryParams = map[string]bool{
	"skip": true, "limit": true, "search": true, "sort_by": true, "sort_order": true,
}

func ownershipFor(getOwner func(c *fiber.Ctx) (string, error)) gateway.OwnershipFunc {
	return getOwner
}

func (h *Tables) tableOwnership(c *fiber.Ctx) (string, error) {
	return h.engine.OwnerID(c.Context(), c.Params("id"))
}

func (h *Tables) Register(router fiber.Router) {
	a := h.auth
	router.Get("/tables/count", gateway.Wrap(a, gateway.RouteConfig{
		OptionalAuth:       true,
		AllowedQueryParams: map[string]bool{"search": true},
	}, h.count))
	router.Get("/tables/", gateway.Wrap(a, gateway.RouteConfig{
		OptionalAuth:       true,
		AllowedQueryParams: tableListQueryParams,
	}, h.list))
	router.Post("/tables/", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true}, h.create))
	router.Get("/tables/:id", gateway.Wrap(a, gateway.RouteConfig{OptionalAuth: true}, h.get))
	router.Patch("/tables/:id", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true, Ownership: ownershipFor(h.tableOwnership)}, h.patch))
	router.Delete("/tables/:id", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true, Ownership: ownershipFor(h.tableOwnership)}, h.delete))

	router.Post("/tables/:id/columns", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true, Ownership: ownershipFor(h.tableOwnership)}, h.addColumn))
	router.Patch("/tables/:id/columns/:name", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true, Ownership: ownershipFor(h.tableOwnership)}, h.patchColumn))
	router.Delete("/tables/:id/columns/:name", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true, Ownership: ownershipFor(h.tableOwnership)}, h.dropColumn))

	router.Get("/tables/:id/data", gateway.Wrap(a, gateway.RouteConfig{
		OptionalAuth:       true,
		AllowedQueryParams: tableListQueryParams,
	}, h.listRows))
	router.Post("/tables/:id/data", gateway.Wrap(a, gateway.RouteConfig{OptionalAuth: true}, h.insertRow))
	router.Patch("/tables/:id/data/:rowID", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true}, h.patchRow))
	router.Delete("/tables/:id/data/:rowID", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true}, h.deleteRow))

	router.Post("/sql/query", gateway.Wrap(a, gateway.RouteConfig{AdminOnly: true}, h.runQuery))
	router.Get("/sql/history", gateway.Wrap(a, gateway.RouteConfig{
		AdminOnly:          true,
		AllowedQueryParams: map[string]bool{"limit": true},
	}, h.history_))
	router.Delete("/sql/history", gateway.Wrap(a, gateway.RouteConfig{AdminOnly: true}, h.clearHistory))
	router.Get("/sql/snippets", gateway.Wrap(a, gateway.RouteConfig{AdminOnly: true}, h.listSnippets))
	router.Post("/sql/snippets", gateway.Wrap(a, gateway.RouteConfig{AdminOnly: true}, h.createSnippet))
	router.Delete("/sql/snippets/:id", gateway.Wrap(a, gateway.RouteConfig{AdminOnly: true}, h.deleteSnippet))
}

func (h *Tables) create(c *fiber.Ctx) error {
	var in tables.CreateInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	user := gateway.CurrentUser(c)
	entry, existed, err := h.engine.Create(c.Context(), user.ID, in)
	if err != nil {
		return err
	}
	status := fiber.StatusCreated
	if existed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(entry)
}

func (h *Tables) get(c *fiber.Ctx) error {
	entry, err := h.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if !entry.Public && gateway.CurrentUser(c) == nil {
		return apierror.NotFoundErr("table")
	}
	return c.JSON(entry)
}

func (h *Tables) count(c *fiber.Ctx) error {
	n, err := h.engine.Count(c.Context(), c.Query("search"), gateway.CurrentUser(c) == nil)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"count": n})
}

func (h *Tables) list(c *fiber.Ctx) error {
	p := parseListParams(c)
	entries, err := h.engine.List(c.Context(), struct {
		Skip, Limit           int
		Search, SortBy, Order string
	}{Skip: p.Skip, Limit: p.Limit, Search: p.Search, SortBy: p.SortBy, Order: p.Order}, gateway.CurrentUser(c) != nil)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": entries})
}

func (h *Tables) patch(c *fiber.Ctx) error {
	var in tables.PatchInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	entry, err := h.engine.Patch(c.Context(), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(entry)
}

func (h *Tables) delete(c *fiber.Ctx) error {
	if err := h.engine.Delete(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Tables) addColumn(c *fiber.Ctx) error {
	var in tables.AddColumnInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	entry, err := h.engine.AddColumn(c.Context(), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

type patchColumnInput struct {
	Name     *string `json:"name"`
	Type     *string `json:"type"`
	Nullable *bool   `json:"nullable"`
	Default  *string `json:"default"`
}

// patchColumn dispatches to the specific column mutation implied by
// which field was set; callers send one change per request.
func (h *Tables) patchColumn(c *fiber.Ctx) error {
	var in patchColumnInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	id, colName := c.Params("id"), c.Params("name")
	ctx := c.Context()

	switch {
	case in.Name != nil:
		entry, err := h.engine.RenameColumn(ctx, id, colName, tables.RenameColumnInput{Name: *in.Name})
		if err != nil {
			return err
		}
		return c.JSON(entry)
	case in.Type != nil:
		entry, err := h.engine.AlterColumnType(ctx, id, colName, tables.AlterColumnTypeInput{Type: *in.Type})
		if err != nil {
			return err
		}
		return c.JSON(entry)
	case in.Nullable != nil:
		entry, err := h.engine.SetColumnNullable(ctx, id, colName, *in.Nullable)
		if err != nil {
			return err
		}
		return c.JSON(entry)
	case in.Default != nil:
		entry, err := h.engine.SetColumnDefault(ctx, id, colName, *in.Default)
		if err != nil {
			return err
		}
		return c.JSON(entry)
	default:
		return apierror.ValidationErr("no column change specified")
	}
}

func (h *Tables) dropColumn(c *fiber.Ctx) error {
	entry, err := h.engine.DropColumn(c.Context(), c.Params("id"), c.Params("name"))
	if err != nil {
		return err
	}
	return c.JSON(entry)
}

func (h *Tables) listRows(c *fiber.Ctx) error {
	entry, err := h.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if !entry.Public && gateway.CurrentUser(c) == nil {
		return apierror.NotFoundErr("table")
	}
	p := parseListParams(c)
	rows, total, err := h.rows.List(c.Context(), entry.Name, tables.RowParams{
		Skip: p.Skip, Limit: p.Limit, Search: p.Search, SortBy: p.SortBy, Order: p.Order,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": rows, "total": total})
}

func (h *Tables) insertRow(c *fiber.Ctx) error {
	entry, err := h.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	var body map[string]any
	if err := gateway.ParseStrict(c, &body); err != nil {
		return err
	}
	ownerID := ""
	if user := gateway.CurrentUser(c); user != nil {
		ownerID = user.ID
	}
	row, err := h.rows.Insert(c.Context(), entry.Name, ownerID, body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(row)
}

func (h *Tables) patchRow(c *fiber.Ctx) error {
	entry, err := h.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	var body map[string]any
	if err := gateway.ParseStrict(c, &body); err != nil {
		return err
	}
	user := gateway.CurrentUser(c)
	row, err := h.rows.Patch(c.Context(), entry.Name, c.Params("rowID"), user.ID, user.Role == "ADMIN", body)
	if err != nil {
		return err
	}
	return c.JSON(row)
}

func (h *Tables) deleteRow(c *fiber.Ctx) error {
	entry, err := h.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	user := gateway.CurrentUser(c)
	if err := h.rows.Delete(c.Context(), entry.Name, c.Params("rowID"), user.ID, user.Role == "ADMIN"); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type queryInput struct {
	Query string `json:"query" validate:"required"`
}

func (h *Tables) runQuery(c *fiber.Ctx) error {
	var in queryInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	user := gateway.CurrentUser(c)
	result, err := h.console.Execute(c.Context(), in.Query, user.ID)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *Tables) history_(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	user := gateway.CurrentUser(c)
	entries, err := h.history.List(c.Context(), user.ID, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": entries})
}

func (h *Tables) clearHistory(c *fiber.Ctx) error {
	user := gateway.CurrentUser(c)
	if err := h.history.Clear(c.Context(), user.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Tables) listSnippets(c *fiber.Ctx) error {
	user := gateway.CurrentUser(c)
	items, err := h.snippets.List(c.Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *Tables) createSnippet(c *fiber.Ctx) error {
	var in tables.CreateSnippetInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	user := gateway.CurrentUser(c)
	snippet, err := h.snippets.Create(c.Context(), user.ID, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(snippet)
}

func (h *Tables) deleteSnippet(c *fiber.Ctx) error {
	if err := h.snippets.Delete(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Package handlers wires every service package to Fiber routes through
// gateway.Wrap, translating HTTP concerns (params, query, body) into
// the calls the service layer already exposes.
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/auth"
	"github.com/selfdb/gateway/internal/gateway"
	"github.com/selfdb/gateway/internal/registry"
)

// Users wires the user registry and session core to /users routes.
type Users struct {
	reg  *registry.Users
	auth *auth.Service
}

func NewUsers(reg *registry.Users, authSvc *auth.Service) *Users {
	return &Users{reg: reg, auth: authSvc}
}

func (h *Users) Register(router fiber.Router) {
	authSvc := h.auth
	router.Post("/users/", gateway.Wrap(authSvc, gateway.RouteConfig{}, h.create))
	router.Post("/users/token", gateway.Wrap(authSvc, gateway.RouteConfig{}, h.login))
	router.Post("/users/token/refresh", gateway.Wrap(authSvc, gateway.RouteConfig{}, h.refresh))
	router.Post("/users/logout", gateway.Wrap(authSvc, gateway.RouteConfig{RequiresAuth: true}, h.logout))
	router.Post("/users/logout/all", gateway.Wrap(authSvc, gateway.RouteConfig{RequiresAuth: true}, h.logoutAll))
	router.Get("/users/me", gateway.Wrap(authSvc, gateway.RouteConfig{RequiresAuth: true}, h.me))
	router.Get("/users/", gateway.Wrap(authSvc, gateway.RouteConfig{
		RequiresAuth:       true,
		AllowedQueryParams: listQueryParams,
	}, h.list))
	router.Get("/users/:id", gateway.Wrap(authSvc, gateway.RouteConfig{RequiresAuth: true}, h.get))
	router.Patch("/users/:id", gateway.Wrap(authSvc, gateway.RouteConfig{AdminOnly: true}, h.patch))
	router.Delete("/users/:id", gateway.Wrap(authSvc, gateway.RouteConfig{AdminOnly: true}, h.delete))
}

var listQueryParams = map[string]bool{
	"skip": true, "limit": true, "search": true, "sort_by": true, "sort_order": true,
}

func (h *Users) create(c *fiber.Ctx) error {
	var in registry.CreateInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	user, existed, err := h.reg.Create(c.Context(), in)
	if err != nil {
		return err
	}
	status := fiber.StatusCreated
	if existed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(user)
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Users) login(c *fiber.Ctx) error {
	var in loginInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	pair, err := h.auth.Login(c.Context(), in.Email, in.Password)
	if err != nil {
		return mapAuthErr(err)
	}
	return c.JSON(tokenResponse(pair))
}

type refreshInput struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *Users) refresh(c *fiber.Ctx) error {
	var in refreshInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	pair, err := h.auth.Refresh(c.Context(), in.RefreshToken)
	if err != nil {
		return mapAuthErr(err)
	}
	return c.JSON(tokenResponse(pair))
}

func tokenResponse(pair *auth.TokenPair) fiber.Map {
	return fiber.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "bearer",
		"expires_in":    pair.ExpiresIn,
	}
}

func (h *Users) logout(c *fiber.Ctx) error {
	var in refreshInput
	_ = gateway.ParseStrict(c, &in) // refresh_token optional on logout
	user := gateway.CurrentUser(c)
	if err := h.auth.Logout(c.Context(), user.ID, in.RefreshToken); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Users) logoutAll(c *fiber.Ctx) error {
	user := gateway.CurrentUser(c)
	if err := h.auth.RevokeAllForUser(c.Context(), user.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Users) me(c *fiber.Ctx) error {
	user := gateway.CurrentUser(c)
	reg, err := h.reg.Get(c.Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(reg)
}

func (h *Users) get(c *fiber.Ctx) error {
	user, err := h.reg.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (h *Users) list(c *fiber.Ctx) error {
	p := parseListParams(c)
	users, err := h.reg.List(c.Context(), registry.ListParams{
		Skip: p.Skip, Limit: p.Limit, Search: p.Search, SortBy: p.SortBy, SortOrder: p.Order,
	})
	if err != nil {
		return err
	}
	total, err := h.reg.Count(c.Context(), p.Search)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": users, "total": total})
}

func (h *Users) patch(c *fiber.Ctx) error {
	var in registry.PatchInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	user, err := h.reg.Patch(c.Context(), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (h *Users) delete(c *fiber.Ctx) error {
	if err := h.reg.Delete(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// mapAuthErr translates the auth package's HTTP-agnostic sentinel
// errors into the gateway's error taxonomy.
func mapAuthErr(err error) error {
	switch err {
	case auth.ErrInvalidCredentials:
		return apierror.InvalidCredentialsErr()
	case auth.ErrInactiveUser:
		return apierror.InactiveUserErr()
	case auth.ErrTokenReuse:
		return apierror.TokenReuseErr()
	case auth.ErrInvalidToken:
		return apierror.InvalidOrExpiredTokenErr()
	default:
		return err
	}
}

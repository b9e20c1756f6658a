package gateway

import (
	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/auth"
)

const userLocalsKey = "gateway.user"

// OwnershipFunc resolves the owner_id of the entity a route targets. It
// is called only after authentication succeeds, and only when the route
// config sets one. An owner ID that differs from the caller's (including
// an empty one) makes Wrap answer 404 without distinguishing "missing"
// from "not yours" (spec.md §7 NotFound).
type OwnershipFunc func(c *fiber.Ctx) (ownerID string, err error)

// RouteConfig enumerates everything the dispatcher needs to know about
// one route's contract, so no per-route boilerplate duplicates the
// admission checks. This is the "dynamic handler injection" pattern of
// DESIGN NOTES §9, expressed as a single composable record instead of
// decorator-driven DI.
type RouteConfig struct {
	// RequiresAuth: reject (401) if no valid bearer token is present.
	RequiresAuth bool
	// OptionalAuth: resolve Some(user)/None, never reject on a missing
	// or invalid token. Mutually exclusive with RequiresAuth.
	OptionalAuth bool
	// AdminOnly: caller's role must be ADMIN (403 otherwise). Implies
	// RequiresAuth.
	AdminOnly bool
	// Ownership, when set, is called after auth; the caller must own
	// the resource, unless ADMIN.
	Ownership OwnershipFunc
	// AllowedQueryParams is the exact allowlist for this route; nil
	// means "no query params accepted".
	AllowedQueryParams map[string]bool
}

// Wrap builds a fiber.Handler that runs cfg's checks before delegating
// to handler. authSvc is injected explicitly (no package global), per
// DESIGN NOTES §9's lifecycle-object guidance.
func Wrap(authSvc *auth.Service, cfg RouteConfig, handler fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := CheckQueryParams(c, cfg.AllowedQueryParams); err != nil {
			return err
		}

		if cfg.RequiresAuth || cfg.AdminOnly {
			token := BearerToken(c)
			if token == "" {
				return apierror.InvalidOrExpiredTokenErr()
			}
			user, err := authSvc.VerifyAccessToken(c.Context(), token)
			if err != nil {
				return apierror.InvalidOrExpiredTokenErr()
			}
			c.Locals(userLocalsKey, user)
		} else if cfg.OptionalAuth {
			token := BearerToken(c)
			user := authSvc.OptionalVerify(c.Context(), token)
			if user != nil {
				c.Locals(userLocalsKey, user)
			}
		}

		if cfg.AdminOnly {
			user := CurrentUser(c)
			if user == nil || user.Role != "ADMIN" {
				return apierror.ForbiddenErr("Admin privileges required")
			}
		}

		if cfg.Ownership != nil {
			user := CurrentUser(c)
			if user == nil {
				return apierror.NotFoundErr("resource")
			}
			if user.Role != "ADMIN" {
				ownerID, err := cfg.Ownership(c)
				if err != nil {
					return err
				}
				if ownerID != user.ID {
					// Ambiguous 404, not 403: avoid leaking existence.
					return apierror.NotFoundErr("resource")
				}
			}
		}

		return handler(c)
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(c *fiber.Ctx) string {
	h := c.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// CurrentUser reads the authenticated user stashed by Wrap, or nil.
func CurrentUser(c *fiber.Ctx) *auth.User {
	u, _ := c.Locals(userLocalsKey).(*auth.User)
	return u
}

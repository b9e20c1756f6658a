// Package gateway implements the admission pipeline (C3): the ordered
// API-key → CORS → routing → query-param → body → auth → authorization
// chain that every request traverses before a handler runs, per
// spec.md §4.1.
package gateway

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/apierror"
)

// publicPrefixes bypass the API-key gate entirely: the webhook trigger is
// authenticated by its own token, and OpenAPI docs (if ever mounted) are
// meant to be publicly browsable.
var publicPrefixes = []string{
	"/webhooks/trigger/",
	"/docs",
	"/openapi.json",
}

// APIKeyMiddleware enforces step 1 of the admission pipeline: missing key
// → 406, wrong key → 401. For WebSocket upgrade requests the key may
// arrive as a query parameter instead of a header, since browsers cannot
// set arbitrary headers during the handshake.
func APIKeyMiddleware(expected string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, prefix := range publicPrefixes {
			if strings.HasPrefix(path, prefix) {
				return c.Next()
			}
		}

		key := c.Get("X-API-Key")
		if key == "" {
			key = c.Query("X-API-Key")
		}
		if key == "" {
			return apierror.MissingAPIKeyErr()
		}
		if key != expected {
			return apierror.InvalidAPIKeyErr()
		}
		return c.Next()
	}
}

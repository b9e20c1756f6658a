package gateway

import "github.com/gofiber/fiber/v2"
import "github.com/selfdb/gateway/internal/apierror"

// CheckQueryParams enforces step 4 of the admission pipeline: any query
// key not in allowed is a 400 (not 422 — this distinguishes a client
// logic bug from a schema violation, per spec.md §4.1).
func CheckQueryParams(c *fiber.Ctx, allowed map[string]bool) error {
	var offending string
	c.Context().QueryArgs().VisitAll(func(key, _ []byte) {
		if offending != "" {
			return
		}
		k := string(key)
		if !allowed[k] {
			offending = k
		}
	})
	if offending != "" {
		return apierror.UnknownQueryParamErr(offending)
	}
	return nil
}

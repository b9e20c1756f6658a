package gateway

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORS builds the CORS middleware from the operator-supplied allowlist
// (CORS_ORIGINS), step 2 of the admission pipeline.
func CORS(origins []string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS,HEAD,PUT",
		AllowHeaders:     "Content-Type,Authorization,X-API-Key,X-Requested-With,Accept,Origin,Cache-Control",
		AllowCredentials: false,
	})
}

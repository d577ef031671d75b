package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const corsMaxAgeSeconds = 3600

var (
	corsMethods = strings.Join([]string{
		fiber.MethodGet, fiber.MethodPost, fiber.MethodPut,
		fiber.MethodDelete, fiber.MethodPatch, fiber.MethodOptions,
	}, ",")
	corsHeaders = "Origin,Content-Type,Accept,Authorization,X-Requested-With"
)

// CORS allows the operator dashboard to call the API cross-origin.
// With no origins given, only the local development dashboard is
// allowed; service-to-service callers never send an Origin header and
// pass through untouched.
func CORS(origins ...string) fiber.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		allowed[origin] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get("Origin")
		if origin == "" {
			return c.Next()
		}

		if _, ok := allowed[origin]; ok {
			c.Set("Access-Control-Allow-Origin", origin)
			c.Set("Access-Control-Allow-Credentials", "true")
		}

		if c.Method() == fiber.MethodOptions {
			c.Set("Access-Control-Allow-Methods", corsMethods)
			c.Set("Access-Control-Allow-Headers", corsHeaders)
			c.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAgeSeconds))
			return c.SendStatus(fiber.StatusNoContent)
		}

		return c.Next()
	}
}

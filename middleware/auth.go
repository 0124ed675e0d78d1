// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// OperatorContextMiddleware records who is calling the admin API. The
// X-Operator-ID header is optional; anonymous calls are attributed to "api".
func OperatorContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		operator := strings.TrimSpace(c.Get("X-Operator-ID"))
		if operator == "" {
			operator = "api"
		}
		c.Locals("operator_id", operator)

		log.Printf("👤 [OPERATOR] %s %s %s", operator, c.Method(), c.Path())
		return c.Next()
	}
}

// OperatorID returns the operator attached by OperatorContextMiddleware.
func OperatorID(c *fiber.Ctx) string {
	if id, ok := c.Locals("operator_id").(string); ok {
		return id
	}
	return "api"
}

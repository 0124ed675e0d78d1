// handlers/webhook.go
package handlers

import (
	"errors"
	"log"

	"coinsync/services"

	"github.com/gofiber/fiber/v2"
)

// SetupWebhookRoutes exposes the signed webhook endpoint. Only POST is
// allowed; anything else gets 405.
func SetupWebhookRoutes(app *fiber.App, webhooks *services.WebhookProcessor) {
	app.Post("/webhook", func(c *fiber.Ctx) error {
		err := webhooks.Handle(c.UserContext(), services.WebhookHeaders{
			ID:        c.Get("Svix-Id"),
			Signature: c.Get("Svix-Signature"),
			Timestamp: c.Get("Svix-Timestamp"),
		}, c.Body())
		if err == nil {
			return c.JSON(fiber.Map{"ok": true})
		}

		var we *services.WebhookError
		if errors.As(err, &we) {
			return c.Status(we.Status).JSON(fiber.Map{"error": we.Message})
		}
		log.Printf("[WEBHOOK] ❌ unexpected failure: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	})

	app.All("/webhook", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderAllow, fiber.MethodPost)
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "method not allowed"})
	})
}

// handlers/app.go
package handlers

import (
	"errors"

	"coinsync/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// NewApp builds the HTTP surface: the webhook endpoint and the admin API.
func NewApp(engine *services.Engine) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "coinsync",
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: jsonErrorHandler,
	})
	app.Use(recover.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupWebhookRoutes(app, engine.Webhooks)
	SetupAdminRoutes(app, engine)
	return app
}

// jsonErrorHandler renders every unhandled error as {"error": ...} so no
// failure path answers with a bare body.
func jsonErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

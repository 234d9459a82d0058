package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/askthestars/askthestars/app/controllers"
)

// WebhookBodyLimit caps gateway webhook bodies.
const WebhookBodyLimit = 1 << 20

type HttpRouter struct {
	billing *controllers.BillingController
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// The gateway retries on non-2xx, so the webhook is never rate limited.
	app.Post("/webhooks/billing", limitBody(WebhookBodyLimit), h.billing.HandleWebhook)
}

func NewHttpRouter(billing *controllers.BillingController) *HttpRouter {
	return &HttpRouter{billing: billing}
}

func limitBody(max int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.BodyRaw()) > max {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "payload_too_large"})
		}
		return c.Next()
	}
}

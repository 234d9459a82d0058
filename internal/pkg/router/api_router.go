package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/askthestars/askthestars/app/controllers"
)

type ApiRouter struct {
	billing *controllers.BillingController
	limiter fiber.Handler
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	lim := h.limiter
	if lim == nil {
		lim = limiter.New()
	}

	api := app.Group("/api", lim)
	api.Post("/checkout", h.billing.HandleCreateCheckout)
	api.Post("/checkout/confirm", h.billing.HandleConfirmCheckout)
	api.Post("/subscription/cancel", h.billing.HandleCancelSubscription)
	api.Get("/entitlements/:userId", h.billing.HandleGetEntitlement)
	api.Get("/entitlements/:userId/await", h.billing.HandleAwaitEntitlement)
}

func NewApiRouter(billing *controllers.BillingController, apiLimiter fiber.Handler) *ApiRouter {
	return &ApiRouter{billing: billing, limiter: apiLimiter}
}

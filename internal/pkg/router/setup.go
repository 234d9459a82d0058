package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/askthestars/askthestars/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers the public HTTP routes first, then the rate limited
// JSON API.
func InstallRouter(app *fiber.App, billing *controllers.BillingController, apiLimiter fiber.Handler) {
	setup(app, NewHttpRouter(billing), NewApiRouter(billing, apiLimiter))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

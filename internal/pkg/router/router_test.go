package router

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askthestars/askthestars/app/controllers"
	"github.com/askthestars/askthestars/internal/pkg/billing"
	"github.com/askthestars/askthestars/internal/pkg/billing/billingtest"
)

const openAPIPath = "../../../public/docs/v1/openapi.yml"

func newTestApp() *fiber.App {
	store := billing.NewMemoryStore()
	gw := billingtest.NewGateway()
	bc := &controllers.BillingController{
		Verifier:      billing.NewVerifier(0),
		WebhookSecret: "whsec_router",
		Engine:        billing.NewEngine(store, gw),
		Orchestrator:  billing.NewOrchestrator(gw, store, billing.OrchestratorConfig{DefaultOrigin: "https://askthestars.example"}),
		Poller:        billing.NewPoller(store, time.Millisecond, 10*time.Millisecond),
		Store:         store,
	}

	app := fiber.New()
	InstallRouter(app, bc, nil)
	return app
}

func TestHealth(t *testing.T) {
	resp, err := newTestApp().Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWebhookBodyLimit(t *testing.T) {
	body := strings.NewReader(strings.Repeat("x", WebhookBodyLimit+1))
	req := httptest.NewRequest("POST", "/webhooks/billing", body)

	resp, err := newTestApp().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestOpenAPIDocumentCoversRoutes(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(openAPIPath)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))

	for _, r := range newTestApp().GetRoutes(true) {
		if r.Method == fiber.MethodHead || r.Path == "/api" {
			continue
		}
		path := openAPIPathFor(r.Path)
		item := doc.Paths.Find(path)
		if !assert.NotNil(t, item, "route %s %s is not documented", r.Method, r.Path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(r.Method), "operation %s %s is not documented", r.Method, r.Path)
	}
}

// openAPIPathFor turns fiber params (:userId) into OpenAPI params ({userId}).
func openAPIPathFor(route string) string {
	parts := strings.Split(route, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			parts[i] = "{" + strings.TrimPrefix(p, ":") + "}"
		}
	}
	return strings.Join(parts, "/")
}

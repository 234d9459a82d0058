package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askthestars/askthestars/internal/pkg/billing"
	"github.com/askthestars/askthestars/internal/pkg/billing/billingtest"
	"github.com/askthestars/askthestars/internal/pkg/entitlements"
)

const testWebhookSecret = "whsec_controller_test"

type billingApp struct {
	app     *fiber.App
	store   *billing.MemoryStore
	gateway *billingtest.Gateway
	lock    *billing.MemoryEventLock
	archive *recordingArchive
}

type recordingArchive struct {
	ids []string
}

func (r *recordingArchive) Archive(ctx context.Context, eventID, eventType string, created time.Time, payload []byte) error {
	r.ids = append(r.ids, eventID)
	return nil
}

func newBillingApp(secret string) *billingApp {
	store := billing.NewMemoryStore()
	gw := billingtest.NewGateway()
	lock := billing.NewMemoryEventLock()
	archive := &recordingArchive{}

	bc := &BillingController{
		Verifier:      billing.NewVerifier(0),
		WebhookSecret: secret,
		Engine:        billing.NewEngine(store, gw),
		Orchestrator: billing.NewOrchestrator(gw, store, billing.OrchestratorConfig{
			Timeout:       time.Second,
			DefaultOrigin: "https://askthestars.example",
		}),
		Poller:  billing.NewPoller(store, 5*time.Millisecond, 50*time.Millisecond),
		Store:   store,
		Lock:    lock,
		Archive: archive,
	}

	app := fiber.New()
	app.Post("/webhooks/billing", bc.HandleWebhook)
	app.Post("/api/checkout", bc.HandleCreateCheckout)
	app.Post("/api/checkout/confirm", bc.HandleConfirmCheckout)
	app.Post("/api/subscription/cancel", bc.HandleCancelSubscription)
	app.Get("/api/entitlements/:userId", bc.HandleGetEntitlement)
	app.Get("/api/entitlements/:userId/await", bc.HandleAwaitEntitlement)

	return &billingApp{app: app, store: store, gateway: gw, lock: lock, archive: archive}
}

func (b *billingApp) postWebhook(t *testing.T, payload []byte, signature string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(billing.SignatureHeader, signature)
	}
	return b.do(t, req)
}

func (b *billingApp) postJSON(t *testing.T, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return b.do(t, req)
}

func (b *billingApp) do(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := b.app.Test(req, 2000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func checkoutPayload(eventID, userID string) []byte {
	return billingtest.Payload(eventID, "checkout.session.completed", time.Now(),
		billingtest.CheckoutSession("cs_"+eventID, userID, "annual", "cus_1", "sub_1"))
}

func (b *billingApp) addActiveSubscription(userID string) {
	end := time.Now().Add(365 * 24 * time.Hour)
	b.gateway.AddSubscription(billing.SubscriptionObject{
		ID:         "sub_1",
		CustomerID: "cus_1",
		Status:     "active",
		PeriodEnd:  &end,
		Metadata:   map[string]string{"userId": userID, "plan": "annual"},
	})
}

func TestWebhookAppliesSignedEvent(t *testing.T) {
	b := newBillingApp(testWebhookSecret)
	b.addActiveSubscription("u1")
	payload := checkoutPayload("evt_1", "u1")

	status, body := b.postWebhook(t, payload, billingtest.Sign(payload, testWebhookSecret))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "applied", body["outcome"])

	rec, err := b.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlements.StatusActive, rec.Status)
	assert.Equal(t, entitlements.PlanAnnual, rec.Plan)
	assert.Equal(t, []string{"evt_1"}, b.archive.ids)

	status, body = b.postWebhook(t, payload, billingtest.Sign(payload, testWebhookSecret))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "duplicate", body["outcome"])
	assert.Equal(t, 1, b.store.Writes())
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	b := newBillingApp(testWebhookSecret)
	b.addActiveSubscription("u1")
	payload := checkoutPayload("evt_1", "u1")
	signature := billingtest.Sign(payload, testWebhookSecret)

	tampered := bytes.Replace(payload, []byte(`"annual"`), []byte(`"weekly"`), 1)
	require.NotEqual(t, payload, tampered)

	status, body := b.postWebhook(t, tampered, signature)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_signature", body["error"])
	assert.Equal(t, 0, b.store.Writes())
	assert.Empty(t, b.archive.ids)
}

func TestWebhookVerificationErrors(t *testing.T) {
	payload := checkoutPayload("evt_1", "u1")

	t.Run("missing signature", func(t *testing.T) {
		status, _ := newBillingApp(testWebhookSecret).postWebhook(t, payload, "")
		assert.Equal(t, fiber.StatusBadRequest, status)
	})

	t.Run("secret not configured", func(t *testing.T) {
		status, body := newBillingApp("").postWebhook(t, payload, billingtest.Sign(payload, testWebhookSecret))
		assert.Equal(t, fiber.StatusInternalServerError, status)
		assert.Equal(t, "webhook_not_configured", body["error"])
	})

	t.Run("signed garbage", func(t *testing.T) {
		garbage := []byte(`{"id":`)
		status, body := newBillingApp(testWebhookSecret).postWebhook(t, garbage, billingtest.Sign(garbage, testWebhookSecret))
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Equal(t, "invalid_payload", body["error"])
	})
}

func TestWebhookMissingMetadataIsAcknowledged(t *testing.T) {
	b := newBillingApp(testWebhookSecret)
	payload := checkoutPayload("evt_1", "")

	status, body := b.postWebhook(t, payload, billingtest.Sign(payload, testWebhookSecret))

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "rejected", body["outcome"])
	assert.Equal(t, 0, b.store.Writes())
}

func TestWebhookTransientFailureAsksForRedelivery(t *testing.T) {
	b := newBillingApp(testWebhookSecret)
	b.addActiveSubscription("u1")
	b.gateway.Err = billing.ErrGatewayUnavailable
	payload := checkoutPayload("evt_1", "u1")

	status, _ := b.postWebhook(t, payload, billingtest.Sign(payload, testWebhookSecret))
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, 0, b.store.Writes())

	b.gateway.Err = nil
	status, body := b.postWebhook(t, payload, billingtest.Sign(payload, testWebhookSecret))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "applied", body["outcome"])
}

func TestWebhookEventInFlight(t *testing.T) {
	b := newBillingApp(testWebhookSecret)
	release, err := b.lock.Acquire(context.Background(), "evt_1")
	require.NoError(t, err)
	defer release()

	payload := checkoutPayload("evt_1", "u1")
	status, body := b.postWebhook(t, payload, billingtest.Sign(payload, testWebhookSecret))

	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "event_in_flight", body["error"])
}

func TestCreateCheckoutEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]string
		gatewayErr error
		wantStatus int
	}{
		{name: "ok", body: map[string]string{"userId": "u1", "plan": "weekly"}, wantStatus: fiber.StatusOK},
		{name: "invalid plan", body: map[string]string{"userId": "u1", "plan": "lifetime"}, wantStatus: fiber.StatusBadRequest},
		{name: "missing user", body: map[string]string{"plan": "weekly"}, wantStatus: fiber.StatusBadRequest},
		{name: "gateway rejects price", body: map[string]string{"userId": "u1", "plan": "weekly"}, gatewayErr: billing.ErrPlanUnavailable, wantStatus: fiber.StatusUnprocessableEntity},
		{name: "gateway down", body: map[string]string{"userId": "u1", "plan": "weekly"}, gatewayErr: billing.ErrGatewayUnavailable, wantStatus: fiber.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBillingApp(testWebhookSecret)
			b.gateway.Err = tt.gatewayErr

			status, body := b.postJSON(t, "/api/checkout", tt.body)

			assert.Equal(t, tt.wantStatus, status)
			if tt.wantStatus == fiber.StatusOK {
				assert.NotEmpty(t, body["url"])
				assert.NotEmpty(t, body["sessionId"])
			} else {
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestConfirmCheckoutEndpoint(t *testing.T) {
	b := newBillingApp(testWebhookSecret)
	b.addActiveSubscription("u1")
	b.gateway.AddSession(billing.CheckoutSessionObject{
		ID:             "cs_1",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Status:         "complete",
		PaymentStatus:  "paid",
		Metadata:       map[string]string{"userId": "u1", "plan": "annual"},
		CreatedAt:      time.Now(),
	})

	status, _ := b.postJSON(t, "/api/checkout/confirm", map[string]string{"userId": "u2", "sessionId": "cs_1"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := b.postJSON(t, "/api/checkout/confirm", map[string]string{"userId": "u1", "sessionId": "cs_1"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "applied", body["outcome"])
	ent, ok := body["entitlement"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "active", ent["status"])
	assert.Equal(t, true, ent["hasPremium"])

	b.gateway.AddSession(billing.CheckoutSessionObject{
		ID:            "cs_open",
		Status:        "open",
		PaymentStatus: "unpaid",
		Metadata:      map[string]string{"userId": "u1", "plan": "weekly"},
		CreatedAt:     time.Now(),
	})
	status, _ = b.postJSON(t, "/api/checkout/confirm", map[string]string{"userId": "u1", "sessionId": "cs_open"})
	assert.Equal(t, fiber.StatusConflict, status)
}

func TestCancelSubscriptionEndpoint(t *testing.T) {
	b := newBillingApp(testWebhookSecret)
	b.addActiveSubscription("u1")
	payload := checkoutPayload("evt_1", "u1")
	status, _ := b.postWebhook(t, payload, billingtest.Sign(payload, testWebhookSecret))
	require.Equal(t, fiber.StatusOK, status)

	status, body := b.postJSON(t, "/api/subscription/cancel", map[string]string{"userId": "u1"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["cancelAtPeriodEnd"])
	assert.NotNil(t, body["endsAt"])

	status, _ = b.postJSON(t, "/api/subscription/cancel", map[string]string{"userId": "nobody"})
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestEntitlementEndpoints(t *testing.T) {
	b := newBillingApp(testWebhookSecret)

	status, _ := b.do(t, httptest.NewRequest("GET", "/api/entitlements/u1", nil))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body := b.do(t, httptest.NewRequest("GET", "/api/entitlements/u1/await", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "timeout", body["state"])
	assert.NotEmpty(t, body["message"])

	status, body = b.do(t, httptest.NewRequest("GET", "/api/entitlements/u1", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "none", body["status"])
	assert.Equal(t, false, body["hasPremium"])
}

func TestWebhookDefersEventForUnclaimedSubscription(t *testing.T) {
	b := newBillingApp(testWebhookSecret)
	b.addActiveSubscription("u1")
	payload := checkoutPayload("evt_1", "u1")
	status, _ := b.postWebhook(t, payload, billingtest.Sign(payload, testWebhookSecret))
	require.Equal(t, fiber.StatusOK, status)

	deleted := billingtest.Payload("evt_2", "customer.subscription.deleted", time.Now().Add(time.Hour),
		billingtest.Subscription("sub_2", "u1", "annual", "cus_1", "canceled", time.Now()))
	status, body := b.postWebhook(t, deleted, billingtest.Sign(deleted, testWebhookSecret))
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "event_deferred", body["error"])

	applied, err := b.store.EventApplied(context.Background(), "evt_2")
	require.NoError(t, err)
	assert.False(t, applied)
}

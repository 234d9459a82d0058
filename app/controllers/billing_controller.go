package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/askthestars/askthestars/app/models"
	"github.com/askthestars/askthestars/internal/pkg/billing"
)

// EventArchiver keeps a copy of verified raw webhook payloads.
type EventArchiver interface {
	Archive(ctx context.Context, eventID, eventType string, created time.Time, payload []byte) error
}

// BillingController serves the webhook, checkout and entitlement endpoints.
type BillingController struct {
	Verifier      *billing.Verifier
	WebhookSecret string
	Engine        *billing.Engine
	Orchestrator  *billing.Orchestrator
	Poller        *billing.Poller
	Store         billing.Store
	Lock          billing.EventLock
	Archive       EventArchiver

	WebhookTimeout time.Duration
	Now            func() time.Time
}

func (bc *BillingController) now() time.Time {
	if bc.Now != nil {
		return bc.Now()
	}
	return time.Now()
}

func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get(billing.SignatureHeader)

	ev, err := bc.Verifier.Verify(rawBody, signature, bc.WebhookSecret)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrMissingSecret):
			log.Errorf("[Webhook] Rejected delivery from %s: %v", c.IP(), err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_not_configured"})
		case errors.Is(err, billing.ErrMalformedPayload):
			log.Warnf("[Webhook] Malformed payload from %s: %v", c.IP(), err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		default:
			log.Warnf("[Webhook] Signature verification failed for %s: %v", c.IP(), err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}
	}

	timeout := bc.WebhookTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
	defer cancel()

	if bc.Lock != nil {
		release, err := bc.Lock.Acquire(ctx, ev.ID)
		switch {
		case errors.Is(err, billing.ErrEventInFlight):
			log.Infof("[Webhook] Event %s is already being processed", ev.ID)
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "event_in_flight"})
		case err != nil:
			log.Warnf("[Webhook] Event lock unavailable, continuing without it: %v", err)
		default:
			defer release()
		}
	}

	if bc.Archive != nil {
		if err := bc.Archive.Archive(ctx, ev.ID, ev.Type, ev.CreatedAt, rawBody); err != nil {
			log.Warnf("[Webhook] %v", err)
		}
	}

	res, err := bc.Engine.Apply(ctx, ev)
	if errors.Is(err, billing.ErrEventDeferred) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "event_deferred"})
	}
	if err != nil {
		log.Errorf("[Webhook] Processing %s %s failed, asking for redelivery: %v", ev.Type, ev.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "outcome": res.Outcome})
}

func (bc *BillingController) HandleCreateCheckout(c *fiber.Ctx) error {
	var req billing.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Origin = c.Get(fiber.HeaderOrigin)
	req.IdempotencyKey = c.Get("Idempotency-Key")

	res, err := bc.Orchestrator.CreateCheckout(c.UserContext(), req)
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

type confirmCheckoutRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

func (bc *BillingController) HandleConfirmCheckout(c *fiber.Ctx) error {
	var req confirmCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	res, err := bc.Engine.ConfirmCheckout(c.UserContext(), req.UserID, req.SessionID)
	if err != nil {
		return writeBillingError(c, err)
	}

	rec, err := bc.Store.Get(c.UserContext(), res.UserID)
	if err != nil && !errors.Is(err, billing.ErrNotFound) {
		return writeBillingError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"outcome":     res.Outcome,
		"reason":      res.Reason,
		"entitlement": bc.entitlementView(rec),
	})
}

type cancelSubscriptionRequest struct {
	UserID string `json:"userId"`
}

func (bc *BillingController) HandleCancelSubscription(c *fiber.Ctx) error {
	var req cancelSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	res, err := bc.Orchestrator.CancelSubscription(c.UserContext(), req.UserID)
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

func (bc *BillingController) HandleGetEntitlement(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))

	rec, err := bc.Store.Get(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Entitlement not found"})
		}
		return writeBillingError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(bc.entitlementView(rec))
}

func (bc *BillingController) HandleAwaitEntitlement(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))

	res := bc.Poller.Await(c.UserContext(), userID)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"state":       res.State,
		"message":     res.Message,
		"entitlement": bc.entitlementView(res.Entitlement),
	})
}

type entitlementResponse struct {
	*models.Entitlement
	HasPremium bool `json:"hasPremium"`
}

func (bc *BillingController) entitlementView(rec *models.Entitlement) interface{} {
	if rec == nil {
		return nil
	}
	return entitlementResponse{Entitlement: rec, HasPremium: rec.HasPremium(bc.now())}
}

// writeBillingError maps billing errors onto HTTP responses.
func writeBillingError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "Something went wrong, please try again"

	switch {
	case errors.Is(err, billing.ErrInvalidPlan):
		status, msg = fiber.StatusBadRequest, "Invalid plan selected"
	case errors.Is(err, billing.ErrInvalidRequest):
		status, msg = fiber.StatusBadRequest, "Invalid request"
	case errors.Is(err, billing.ErrSessionMismatch):
		status, msg = fiber.StatusForbidden, "Checkout session does not belong to this user"
	case errors.Is(err, billing.ErrSessionNotPaid):
		status, msg = fiber.StatusConflict, "Checkout is not completed yet"
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		status, msg = fiber.StatusNotFound, "Subscription not found"
	case errors.Is(err, billing.ErrPlanUnavailable):
		status, msg = fiber.StatusUnprocessableEntity, "This plan is currently unavailable"
	case errors.Is(err, billing.ErrGatewayUnavailable):
		status, msg = fiber.StatusServiceUnavailable, "Payment provider unavailable, please retry"
	}

	if status >= fiber.StatusInternalServerError {
		log.Errorf("[Billing] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/askthestars/askthestars/internal/pkg/entitlements"
)

// confirmEventType labels ledger rows written by ConfirmCheckout.
const confirmEventType = "checkout.session.confirmed"

// Engine turns verified gateway events into entitlement writes. Every path
// ends in a Result; a returned error means the event should be redelivered.
type Engine struct {
	store   Store
	gateway Gateway
	now     clock

	// confirmTimeout bounds the gateway calls made by ConfirmCheckout.
	confirmTimeout time.Duration
}

// NewEngine wires the engine to its store and gateway client.
func NewEngine(store Store, gateway Gateway) *Engine {
	return &Engine{store: store, gateway: gateway, confirmTimeout: defaultCheckoutTimeout}
}

// WithClock overrides the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithConfirmTimeout sets the deadline for the gateway calls of
// ConfirmCheckout. Non-positive values keep the default.
func (e *Engine) WithConfirmTimeout(d time.Duration) *Engine {
	if d > 0 {
		e.confirmTimeout = d
	}
	return e
}

// Apply reconciles one webhook event.
func (e *Engine) Apply(ctx context.Context, ev *Event) (Result, error) {
	if ev == nil {
		return Result{Outcome: OutcomeRejected, Reason: "empty event"}, nil
	}
	if ev.Kind == KindUnhandled {
		return Result{Outcome: OutcomeIgnored, Reason: "unhandled event type " + ev.Type}, nil
	}

	applied, err := e.store.EventApplied(ctx, ev.ID)
	if err != nil {
		return Result{}, fmt.Errorf("check event ledger: %w", err)
	}
	if applied {
		return Result{Outcome: OutcomeDuplicate, Reason: "event already applied"}, nil
	}

	var (
		userID string
		p      Patch
		res    *Result
	)
	switch ev.Kind {
	case KindCheckoutCompleted:
		userID, p, res, err = e.checkoutCompleted(ctx, ev.CheckoutSession)
	case KindSubscriptionCreated:
		userID, p, res = e.subscriptionCreated(ev.Subscription)
	case KindSubscriptionUpdated:
		userID, p, res = e.subscriptionUpdated(ev.Subscription)
	case KindSubscriptionDeleted:
		userID, p, res = e.subscriptionDeleted(ev.Subscription)
	case KindInvoicePaymentSucceeded:
		userID, p, res, err = e.invoicePaid(ctx, ev)
	case KindInvoicePaymentFailed:
		userID, p, res, err = e.invoiceFailed(ctx, ev)
	default:
		return Result{Outcome: OutcomeIgnored, Reason: "unhandled event type " + ev.Type}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s %s: %w", ev.Type, ev.ID, err)
	}
	if res != nil {
		e.logResult(ev, *res)
		return *res, nil
	}

	p.EventID = ev.ID
	p.EventType = ev.Type
	p.EventTime = ev.CreatedAt

	wr, err := e.store.UpsertMerge(ctx, userID, p)
	if err != nil {
		return Result{}, fmt.Errorf("%s %s: write entitlement: %w", ev.Type, ev.ID, err)
	}
	if wr == WriteDeferred {
		log.Infof("[Billing] Deferred %s %s for user %s until its subscription is claimed", ev.Type, ev.ID, userID)
		return Result{}, fmt.Errorf("%s %s: %w", ev.Type, ev.ID, ErrEventDeferred)
	}
	out := resultFromWrite(userID, wr)
	e.logResult(ev, out)
	return out, nil
}

// ConfirmCheckout applies a completed checkout on behalf of the returning
// user, before or instead of the webhook. The session must belong to userID
// and be complete and paid; anything else is left to the webhooks.
func (e *Engine) ConfirmCheckout(ctx context.Context, userID, sessionID string) (Result, error) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return Result{}, ErrInvalidRequest
	}

	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	session, err := e.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return Result{}, timeoutAsUnavailable(err)
	}
	if session.Metadata[metadataUserID] != userID {
		return Result{}, ErrSessionMismatch
	}
	if !sessionComplete(session.Status) || !isPaidSession(session.PaymentStatus) {
		return Result{}, fmt.Errorf("%w: session %s is %q/%q",
			ErrSessionNotPaid, session.ID, session.Status, session.PaymentStatus)
	}

	owner, p, res, err := e.checkoutCompleted(ctx, session)
	if err != nil {
		return Result{}, timeoutAsUnavailable(err)
	}
	if res != nil {
		return *res, nil
	}

	// The session creation time is older than any lifecycle event for the
	// subscription, so webhook state that is already stored wins.
	p.EventID = "session:" + session.ID
	p.EventType = confirmEventType
	p.EventTime = session.CreatedAt

	wr, err := e.store.UpsertMerge(ctx, owner, p)
	if err != nil {
		return Result{}, fmt.Errorf("confirm checkout %s: write entitlement: %w", session.ID, err)
	}
	log.Infof("[Billing] Checkout %s confirmed for user %s: %s", session.ID, owner, wr)
	return resultFromWrite(owner, wr), nil
}

func (e *Engine) checkoutCompleted(ctx context.Context, s *CheckoutSessionObject) (string, Patch, *Result, error) {
	userID := strings.TrimSpace(s.Metadata[metadataUserID])
	if userID == "" {
		return "", Patch{}, rejected("", "checkout session has no userId metadata"), nil
	}
	plan, ok := entitlements.ParsePlan(s.Metadata[metadataPlan])
	if !ok {
		return "", Patch{}, rejected(userID, "checkout session has no valid plan metadata"), nil
	}

	p := Patch{Claim: true, Plan: ptr(plan)}
	if s.CustomerID != "" {
		p.GatewayCustomerID = ptr(s.CustomerID)
	}
	if s.SubscriptionID != "" {
		p.GatewaySubscriptionID = ptr(s.SubscriptionID)
	}

	// Delayed payment methods complete the session before the money arrives.
	if !isPaidSession(s.PaymentStatus) {
		p.Status = ptr(entitlements.StatusIncomplete)
		return userID, p, nil, nil
	}

	status := entitlements.StatusActive
	if s.SubscriptionID != "" {
		sub, err := e.gateway.GetSubscription(ctx, s.SubscriptionID)
		if err != nil {
			if permanentGatewayError(err) {
				return "", Patch{}, rejected(userID, err.Error()), nil
			}
			return "", Patch{}, nil, err
		}
		if normalizeGatewayStatus(sub.Status) == entitlements.StatusTrialing {
			status = entitlements.StatusTrialing
		}
		p.PeriodEnd = sub.PeriodEnd
		p.CancelAtPeriodEnd = ptr(sub.CancelAtPeriodEnd)
		if p.GatewayCustomerID == nil && sub.CustomerID != "" {
			p.GatewayCustomerID = ptr(sub.CustomerID)
		}
	}
	p.Status = ptr(status)
	return userID, p, nil, nil
}

func (e *Engine) subscriptionCreated(sub *SubscriptionObject) (string, Patch, *Result) {
	userID, p, res := subscriptionPatch(sub)
	if res != nil {
		return "", Patch{}, res
	}
	p.Claim = true
	p.Status = ptr(normalizeGatewayStatus(sub.Status))
	return userID, p, nil
}

func (e *Engine) subscriptionUpdated(sub *SubscriptionObject) (string, Patch, *Result) {
	userID, p, res := subscriptionPatch(sub)
	if res != nil {
		return "", Patch{}, res
	}
	status := normalizeGatewayStatus(sub.Status)
	// A canceled subscription keeps access until the paid period is over.
	if status == entitlements.StatusCanceled && sub.PeriodEnd != nil && sub.PeriodEnd.After(e.now.now()) {
		status = entitlements.StatusActive
	}
	p.Status = ptr(status)
	return userID, p, nil
}

func (e *Engine) subscriptionDeleted(sub *SubscriptionObject) (string, Patch, *Result) {
	userID := strings.TrimSpace(sub.Metadata[metadataUserID])
	if userID == "" {
		return "", Patch{}, rejected("", "subscription has no userId metadata")
	}
	now := e.now.now()
	return userID, Patch{
		GatewaySubscriptionID: ptr(sub.ID),
		Status:                ptr(entitlements.StatusCanceled),
		PeriodEnd:             &now,
		CancelAtPeriodEnd:     ptr(false),
	}, nil
}

func (e *Engine) invoicePaid(ctx context.Context, ev *Event) (string, Patch, *Result, error) {
	inv := ev.Invoice
	if inv.SubscriptionID == "" {
		return "", Patch{}, &Result{Outcome: OutcomeIgnored, Reason: "invoice has no subscription"}, nil
	}

	userID := strings.TrimSpace(inv.SubscriptionMetadata[metadataUserID])
	periodEnd := inv.PeriodEnd
	if userID == "" || periodEnd == nil {
		sub, res, err := e.loadSubscription(ctx, inv.SubscriptionID)
		if res != nil || err != nil {
			return "", Patch{}, res, err
		}
		if userID == "" {
			userID = strings.TrimSpace(sub.Metadata[metadataUserID])
		}
		if sub.PeriodEnd != nil {
			periodEnd = sub.PeriodEnd
		}
	}
	if userID == "" {
		return "", Patch{}, rejected("", "invoice subscription has no userId metadata"), nil
	}

	p := Patch{
		Claim:                 true,
		GatewaySubscriptionID: ptr(inv.SubscriptionID),
		Status:                ptr(entitlements.StatusActive),
		PeriodEnd:             periodEnd,
		LastPaymentDate:       ptr(ev.CreatedAt),
	}
	if inv.CustomerID != "" {
		p.GatewayCustomerID = ptr(inv.CustomerID)
	}
	return userID, p, nil, nil
}

func (e *Engine) invoiceFailed(ctx context.Context, ev *Event) (string, Patch, *Result, error) {
	inv := ev.Invoice
	if inv.SubscriptionID == "" {
		return "", Patch{}, &Result{Outcome: OutcomeIgnored, Reason: "invoice has no subscription"}, nil
	}

	// The resulting status is whatever the gateway now reports.
	sub, res, err := e.loadSubscription(ctx, inv.SubscriptionID)
	if res != nil || err != nil {
		return "", Patch{}, res, err
	}
	userID := strings.TrimSpace(inv.SubscriptionMetadata[metadataUserID])
	if userID == "" {
		userID = strings.TrimSpace(sub.Metadata[metadataUserID])
	}
	if userID == "" {
		return "", Patch{}, rejected("", "invoice subscription has no userId metadata"), nil
	}

	return userID, Patch{
		GatewaySubscriptionID:  ptr(inv.SubscriptionID),
		Status:                 ptr(normalizeGatewayStatus(sub.Status)),
		LastPaymentFailureDate: ptr(ev.CreatedAt),
	}, nil, nil
}

func (e *Engine) loadSubscription(ctx context.Context, id string) (*SubscriptionObject, *Result, error) {
	sub, err := e.gateway.GetSubscription(ctx, id)
	if err != nil {
		if permanentGatewayError(err) {
			return nil, rejected("", err.Error()), nil
		}
		return nil, nil, err
	}
	return sub, nil, nil
}

// subscriptionPatch holds the fields every subscription event writes.
func subscriptionPatch(sub *SubscriptionObject) (string, Patch, *Result) {
	userID := strings.TrimSpace(sub.Metadata[metadataUserID])
	if userID == "" {
		return "", Patch{}, rejected("", "subscription has no userId metadata")
	}
	p := Patch{
		GatewaySubscriptionID: ptr(sub.ID),
		PeriodEnd:             sub.PeriodEnd,
		CancelAtPeriodEnd:     ptr(sub.CancelAtPeriodEnd),
	}
	if sub.CustomerID != "" {
		p.GatewayCustomerID = ptr(sub.CustomerID)
	}
	if plan, ok := entitlements.ParsePlan(sub.Metadata[metadataPlan]); ok {
		p.Plan = ptr(plan)
	}
	return userID, p, nil
}

func permanentGatewayError(err error) bool {
	return errors.Is(err, ErrSubscriptionNotFound) || errors.Is(err, ErrInvalidRequest)
}

func rejected(userID, reason string) *Result {
	return &Result{Outcome: OutcomeRejected, UserID: userID, Reason: reason}
}

func (e *Engine) logResult(ev *Event, res Result) {
	switch res.Outcome {
	case OutcomeRejected:
		log.Errorf("[Billing] Rejected %s %s (user %q): %s", ev.Type, ev.ID, res.UserID, res.Reason)
	case OutcomeApplied:
		log.Infof("[Billing] Applied %s %s to user %s", ev.Type, ev.ID, res.UserID)
	default:
		log.Infof("[Billing] %s %s: %s (%s)", ev.Type, ev.ID, res.Outcome, res.Reason)
	}
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

const (
	successPath = "/success?session_id={CHECKOUT_SESSION_ID}"
	cancelPath  = "/pricing?cancelled=true"

	defaultCheckoutTimeout = 10 * time.Second
)

// CheckoutRequest is the input of CreateCheckout.
type CheckoutRequest struct {
	UserID         string `json:"userId" validate:"required,max=128"`
	Plan           string `json:"plan" validate:"required,oneof=weekly annual"`
	Email          string `json:"email" validate:"omitempty,email,max=200"`
	Origin         string `json:"-"`
	IdempotencyKey string `json:"-"`
}

// CheckoutResult is where the user continues to pay.
type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// CancelResult describes the gateway state after a cancellation request.
type CancelResult struct {
	Message           string     `json:"message"`
	Status            string     `json:"status"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	EndsAt            *time.Time `json:"endsAt"`
}

// OrchestratorConfig holds the checkout settings read from the environment.
type OrchestratorConfig struct {
	Catalog       Catalog
	Timeout       time.Duration
	AutomaticTax  bool
	DefaultOrigin string
}

// Orchestrator opens checkout sessions and requests cancellations. It never
// writes entitlement state; the resulting gateway events do that.
type Orchestrator struct {
	gateway  Gateway
	store    Store
	cfg      OrchestratorConfig
	validate *validator.Validate
}

// NewOrchestrator creates a checkout orchestrator.
func NewOrchestrator(gateway Gateway, store Store, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCheckoutTimeout
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog("", "")
	}
	return &Orchestrator{
		gateway:  gateway,
		store:    store,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// CreateCheckout opens a subscription checkout for the requested plan.
func (o *Orchestrator) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Plan = strings.ToLower(strings.TrimSpace(req.Plan))
	req.Email = strings.TrimSpace(req.Email)

	if err := o.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	price, ok := o.cfg.Catalog.Lookup(req.Plan)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanUnavailable, req.Plan)
	}

	origin := strings.TrimRight(strings.TrimSpace(req.Origin), "/")
	if origin == "" {
		origin = strings.TrimRight(o.cfg.DefaultOrigin, "/")
	}
	if origin == "" {
		return nil, fmt.Errorf("%w: no origin for redirect urls", ErrInvalidRequest)
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}

	in := CheckoutSessionInput{
		Price: price,
		Intent: CheckoutIntent{
			UserID: req.UserID,
			Plan:   price.Plan,
			Email:  req.Email,
		},
		SuccessURL:     origin + successPath,
		CancelURL:      origin + cancelPath,
		AutomaticTax:   o.cfg.AutomaticTax,
		IdempotencyKey: key,
	}

	// Reuse the gateway customer so the customer id stays stable.
	if rec, err := o.store.Get(ctx, req.UserID); err == nil {
		in.CustomerID = rec.GatewayCustomerID
	} else if !errors.Is(err, ErrNotFound) {
		log.Warnf("[Checkout] Could not read entitlement for user %s: %v", req.UserID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	session, err := o.gateway.CreateCheckoutSession(ctx, in)
	if err != nil {
		err = timeoutAsUnavailable(err)
		log.Errorf("[Checkout] Failed to create session for user %s (%s): %v", req.UserID, req.Plan, err)
		return nil, err
	}

	log.Infof("[Checkout] Created session %s for user %s (%s)", session.ID, req.UserID, req.Plan)
	return &CheckoutResult{URL: session.URL, SessionID: session.ID}, nil
}

// CancelSubscription asks the gateway to end the user's current subscription.
// Active and trialing subscriptions run until the end of the paid period.
func (o *Orchestrator) CancelSubscription(ctx context.Context, userID string) (*CancelResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	rec, err := o.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	if rec.GatewaySubscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	sub, err := o.gateway.GetSubscription(ctx, rec.GatewaySubscriptionID)
	if err != nil {
		return nil, timeoutAsUnavailable(err)
	}

	var message string
	switch sub.Status {
	case "canceled", "unpaid":
		return &CancelResult{
			Message: "Subscription is already cancelled",
			Status:  sub.Status,
		}, nil
	case "active", "trialing":
		sub, err = o.gateway.CancelAtPeriodEnd(ctx, sub.ID)
		message = "Subscription will be cancelled at the end of the current billing period"
	default:
		sub, err = o.gateway.CancelNow(ctx, sub.ID)
		message = "Subscription cancelled immediately"
	}
	if err != nil {
		return nil, timeoutAsUnavailable(err)
	}

	log.Infof("[Checkout] Cancellation requested for user %s, subscription %s is %s", userID, sub.ID, sub.Status)

	res := &CancelResult{
		Message:           message,
		Status:            sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	switch {
	case sub.CancelAtPeriodEnd && sub.PeriodEnd != nil:
		res.EndsAt = sub.PeriodEnd
	case sub.CanceledAt != nil:
		res.EndsAt = sub.CanceledAt
	}
	return res, nil
}

func validationError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if fe.Field() == "Plan" {
				return fmt.Errorf("%w: %q", ErrInvalidPlan, fe.Value())
			}
		}
		return fmt.Errorf("%w: %s is invalid", ErrInvalidRequest, ve[0].Field())
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

func timeoutAsUnavailable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrGatewayUnavailable) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return err
}

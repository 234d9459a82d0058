package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeGateway implements Gateway on top of an explicitly constructed
// stripe-go API client. It never touches the package-global stripe.Key.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway creates a gateway client for the given secret key.
func NewStripeGateway(secretKey string) (*StripeGateway, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	return &StripeGateway{api: client.New(key, nil)}, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CreatedSession, error) {
	metadata := in.Intent.Metadata()
	metadata[metadataType] = checkoutMetadataType

	params := &stripe.CheckoutSessionParams{
		Mode:                     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:               stripe.String(in.SuccessURL),
		CancelURL:                stripe.String(in.CancelURL),
		ClientReferenceID:        stripe.String(in.Intent.UserID),
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		LineItems:                []*stripe.CheckoutSessionLineItemParams{lineItemFor(in.Price)},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: in.Intent.Metadata(),
		},
		AutomaticTax: &stripe.CheckoutSessionAutomaticTaxParams{
			Enabled: stripe.Bool(in.AutomaticTax),
		},
	}
	params.Context = ctx
	params.Metadata = metadata
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	} else if email := strings.TrimSpace(in.Intent.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripeError("create checkout session", err, ErrPlanUnavailable, ErrPlanUnavailable)
	}
	return &CreatedSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionObject, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, classifyStripeError("get checkout session", err, ErrInvalidRequest, ErrInvalidRequest)
	}

	out := &CheckoutSessionObject{
		ID:            s.ID,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		CustomerEmail: s.CustomerEmail,
		Metadata:      s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	if s.Created > 0 {
		out.CreatedAt = time.Unix(s.Created, 0).UTC()
	}
	return out, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionObject, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	s, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, classifyStripeError("get subscription", err, ErrInvalidRequest, ErrSubscriptionNotFound)
	}
	return subscriptionFromStripe(s), nil
}

func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*SubscriptionObject, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx

	s, err := g.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, classifyStripeError("cancel subscription at period end", err, ErrInvalidRequest, ErrSubscriptionNotFound)
	}
	return subscriptionFromStripe(s), nil
}

func (g *StripeGateway) CancelNow(ctx context.Context, subscriptionID string) (*SubscriptionObject, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	s, err := g.api.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		return nil, classifyStripeError("cancel subscription", err, ErrInvalidRequest, ErrSubscriptionNotFound)
	}
	return subscriptionFromStripe(s), nil
}

func lineItemFor(p PlanPrice) *stripe.CheckoutSessionLineItemParams {
	if p.PriceID != "" {
		return &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(p.PriceID),
			Quantity: stripe.Int64(1),
		}
	}
	return &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(1),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(p.Currency),
			UnitAmount: stripe.Int64(p.UnitAmount),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name:        stripe.String(p.ProductName),
				Description: stripe.String(p.Description),
			},
			Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(p.Interval),
			},
		},
	}
}

func subscriptionFromStripe(s *stripe.Subscription) *SubscriptionObject {
	out := &SubscriptionObject{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CanceledAt:        unixPtr(s.CanceledAt),
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.PeriodEnd = unixPtr(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	return out
}

// classifyStripeError maps gateway failures onto the core's error taxonomy.
// invalidAs and notFoundAs name the non-retryable outcomes of the call.
func classifyStripeError(op string, err error, invalidAs, notFoundAs error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", op, ErrGatewayUnavailable, err)
	}

	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%s: %w: %v", op, ErrGatewayUnavailable, err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError,
		se.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%s: %w: %s", op, ErrGatewayUnavailable, se.Msg)
	case se.HTTPStatusCode == http.StatusNotFound, se.Code == stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%s: %w: %s", op, notFoundAs, se.Msg)
	case se.Type == stripe.ErrorTypeInvalidRequest, se.Type == stripe.ErrorTypeCard,
		se.Type == stripe.ErrorTypeIdempotency:
		return fmt.Errorf("%s: %w: %s", op, invalidAs, se.Msg)
	default:
		return fmt.Errorf("%s: %w: %s", op, ErrGatewayUnavailable, se.Msg)
	}
}

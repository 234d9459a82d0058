package billing

import "context"

// Gateway is the narrow slice of the payment gateway API the core needs.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CreatedSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionObject, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionObject, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*SubscriptionObject, error)
	CancelNow(ctx context.Context, subscriptionID string) (*SubscriptionObject, error)
}

// CheckoutSessionInput is everything needed to open a subscription checkout.
type CheckoutSessionInput struct {
	Price          PlanPrice
	Intent         CheckoutIntent
	CustomerID     string
	SuccessURL     string
	CancelURL      string
	AutomaticTax   bool
	IdempotencyKey string
}

// CreatedSession is the hosted checkout the user is redirected to.
type CreatedSession struct {
	ID  string
	URL string
}

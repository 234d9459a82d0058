package billing

import "errors"

// Verification errors. Callers reject the request with a 4xx and never
// process the payload.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMissingSecret    = errors.New("webhook secret is not configured")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Checkout and gateway errors.
var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidPlan          = errors.New("invalid plan")
	ErrPlanUnavailable      = errors.New("plan is not available at the gateway")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrSubscriptionNotFound = errors.New("subscription not found at gateway")
	ErrSessionMismatch      = errors.New("checkout session does not belong to user")
	ErrSessionNotPaid       = errors.New("checkout session is not complete and paid")
)

// Store and processing errors.
var (
	ErrNotFound      = errors.New("entitlement not found")
	ErrEventInFlight = errors.New("webhook event is already being processed")
	ErrEventDeferred = errors.New("webhook event arrived before its subscription was claimed")
)

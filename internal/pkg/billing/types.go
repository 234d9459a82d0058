package billing

import (
	"time"

	"github.com/askthestars/askthestars/app/models"
	"github.com/askthestars/askthestars/internal/pkg/entitlements"
)

// EventKind is the gateway event type an Event was decoded as.
type EventKind string

const (
	KindCheckoutCompleted       EventKind = "checkout.session.completed"
	KindSubscriptionCreated     EventKind = "customer.subscription.created"
	KindSubscriptionUpdated     EventKind = "customer.subscription.updated"
	KindSubscriptionDeleted     EventKind = "customer.subscription.deleted"
	KindInvoicePaymentSucceeded EventKind = "invoice.payment_succeeded"
	KindInvoicePaymentFailed    EventKind = "invoice.payment_failed"
	KindUnhandled               EventKind = "unhandled"
)

// Event is a verified, typed webhook event. Exactly one of the object
// pointers is set for handled kinds.
type Event struct {
	ID        string
	Type      string
	Kind      EventKind
	CreatedAt time.Time

	CheckoutSession *CheckoutSessionObject
	Subscription    *SubscriptionObject
	Invoice         *InvoiceObject
}

// CheckoutSessionObject is the checkout session carried by checkout events.
type CheckoutSessionObject struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Status         string
	PaymentStatus  string
	CustomerEmail  string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// SubscriptionObject is the subscription carried by subscription events and
// returned by the gateway client.
type SubscriptionObject struct {
	ID                string
	CustomerID        string
	Status            string
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	PriceID           string
	Metadata          map[string]string
}

// InvoiceObject is the invoice carried by invoice events.
type InvoiceObject struct {
	ID                   string
	CustomerID           string
	SubscriptionID       string
	SubscriptionMetadata map[string]string
	PeriodEnd            *time.Time
}

// CheckoutIntent is the correlation metadata attached to a checkout session
// and to the subscription it creates.
type CheckoutIntent struct {
	UserID string
	Plan   entitlements.Plan
	Email  string
}

const (
	metadataUserID = "userId"
	metadataPlan   = "plan"
	metadataType   = "type"

	checkoutMetadataType = "astrology_subscription"
)

// Metadata renders the intent as gateway metadata.
func (i CheckoutIntent) Metadata() map[string]string {
	return map[string]string{
		metadataUserID: i.UserID,
		metadataPlan:   string(i.Plan),
	}
}

// Patch is a partial entitlement write. Nil fields are left untouched.
type Patch struct {
	EventID   string
	EventType string
	EventTime time.Time
	// Claim marks patches that may make SubscriptionID the user's current
	// subscription (checkout completion, subscription creation).
	Claim bool

	GatewayCustomerID      *string
	GatewaySubscriptionID  *string
	Plan                   *entitlements.Plan
	Status                 *entitlements.Status
	PeriodEnd              *time.Time
	CancelAtPeriodEnd      *bool
	LastPaymentDate        *time.Time
	LastPaymentFailureDate *time.Time
}

// WriteResult reports what UpsertMerge did with a patch.
type WriteResult string

const (
	WriteApplied   WriteResult = "applied"
	WriteDuplicate WriteResult = "duplicate"
	WriteStale     WriteResult = "stale"
	// WriteDeferred leaves both the record and the ledger untouched; the
	// event must be delivered again later.
	WriteDeferred WriteResult = "deferred"
)

// Outcome classifies how the engine handled an event. Every handled event
// ends in exactly one outcome; transient failures are returned as errors.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
)

// Result is the engine's classification of one event.
type Result struct {
	Outcome Outcome
	UserID  string
	Reason  string
}

func resultFromWrite(userID string, wr WriteResult) Result {
	switch wr {
	case WriteDuplicate:
		return Result{Outcome: OutcomeDuplicate, UserID: userID, Reason: "event already applied"}
	case WriteStale:
		return Result{Outcome: OutcomeStale, UserID: userID, Reason: "event is older than stored state"}
	default:
		return Result{Outcome: OutcomeApplied, UserID: userID}
	}
}

// PollState is the user-visible state of the post-checkout wait.
type PollState string

const (
	PollPending   PollState = "pending"
	PollConfirmed PollState = "confirmed"
	PollTimeout   PollState = "timeout"
)

// PollResult is returned by Poller.Await.
type PollResult struct {
	State       PollState
	Message     string
	Entitlement *models.Entitlement
}

func ptr[T any](v T) *T {
	return &v
}

package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// SignatureHeader carries the gateway's timestamped HMAC-SHA256 signature.
const SignatureHeader = "Stripe-Signature"

// Verifier authenticates raw webhook bodies and decodes them into typed events.
type Verifier struct {
	tolerance time.Duration
}

// NewVerifier creates a verifier that accepts signatures whose timestamp is
// within tolerance of the current time.
func NewVerifier(tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{tolerance: tolerance}
}

// Verify checks the signature over the exact request bytes and only then
// decodes the payload. It performs no business logic.
func (v *Verifier) Verify(payload []byte, signatureHeader, secret string) (*Event, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sig, secret, v.tolerance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return DecodeEvent(payload)
}

type wireEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// expandableID accepts either a bare id string or an expanded object with an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type wireCheckoutSession struct {
	ID              string            `json:"id"`
	Object          string            `json:"object"`
	Customer        expandableID      `json:"customer"`
	Subscription    expandableID      `json:"subscription"`
	Status          string            `json:"status"`
	PaymentStatus   string            `json:"payment_status"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
	Created  int64             `json:"created"`
}

type wireSubscription struct {
	ID                string       `json:"id"`
	Object            string       `json:"object"`
	Customer          expandableID `json:"customer"`
	Status            string       `json:"status"`
	CurrentPeriodEnd  int64        `json:"current_period_end"`
	CancelAtPeriodEnd bool         `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type wireInvoice struct {
	ID                  string       `json:"id"`
	Object              string       `json:"object"`
	Customer            expandableID `json:"customer"`
	Subscription        expandableID `json:"subscription"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription expandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// DecodeEvent decodes an already-verified envelope. Handled event types must
// carry an object of the expected shape; anything else fails fast with
// ErrMalformedPayload instead of leaking partial data into reconciliation.
func DecodeEvent(payload []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(w.ID) == "" || strings.TrimSpace(w.Type) == "" {
		return nil, fmt.Errorf("%w: event id and type are required", ErrMalformedPayload)
	}

	ev := &Event{
		ID:   strings.TrimSpace(w.ID),
		Type: strings.TrimSpace(w.Type),
		Kind: KindUnhandled,
	}
	if w.Created > 0 {
		ev.CreatedAt = time.Unix(w.Created, 0).UTC()
	}

	kind := EventKind(ev.Type)
	switch kind {
	case KindCheckoutCompleted, KindSubscriptionCreated, KindSubscriptionUpdated,
		KindSubscriptionDeleted, KindInvoicePaymentSucceeded, KindInvoicePaymentFailed:
	default:
		return ev, nil
	}

	if w.Created <= 0 {
		return nil, fmt.Errorf("%w: %s event %s has no creation time", ErrMalformedPayload, ev.Type, ev.ID)
	}
	if len(w.Data.Object) == 0 || bytes.Equal(bytes.TrimSpace(w.Data.Object), []byte("null")) {
		return nil, fmt.Errorf("%w: %s event %s has no data.object", ErrMalformedPayload, ev.Type, ev.ID)
	}

	var err error
	switch kind {
	case KindCheckoutCompleted:
		ev.CheckoutSession, err = decodeCheckoutSession(w.Data.Object)
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		ev.Subscription, err = decodeSubscription(w.Data.Object)
	case KindInvoicePaymentSucceeded, KindInvoicePaymentFailed:
		ev.Invoice, err = decodeInvoice(w.Data.Object)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s event %s: %v", ErrMalformedPayload, ev.Type, ev.ID, err)
	}
	ev.Kind = kind
	return ev, nil
}

func decodeCheckoutSession(raw json.RawMessage) (*CheckoutSessionObject, error) {
	var s wireCheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if err := expectObject(s.Object, "checkout.session", s.ID); err != nil {
		return nil, err
	}
	email := strings.TrimSpace(s.CustomerEmail)
	if email == "" && s.CustomerDetails != nil {
		email = strings.TrimSpace(s.CustomerDetails.Email)
	}
	out := &CheckoutSessionObject{
		ID:             s.ID,
		CustomerID:     string(s.Customer),
		SubscriptionID: string(s.Subscription),
		Status:         strings.TrimSpace(s.Status),
		PaymentStatus:  strings.TrimSpace(s.PaymentStatus),
		CustomerEmail:  email,
		Metadata:       s.Metadata,
	}
	if s.Created > 0 {
		out.CreatedAt = time.Unix(s.Created, 0).UTC()
	}
	return out, nil
}

func decodeSubscription(raw json.RawMessage) (*SubscriptionObject, error) {
	var s wireSubscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if err := expectObject(s.Object, "subscription", s.ID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Status) == "" {
		return nil, fmt.Errorf("subscription %s has no status", s.ID)
	}

	periodEnd := s.CurrentPeriodEnd
	priceID := ""
	if len(s.Items.Data) > 0 {
		if periodEnd == 0 {
			periodEnd = s.Items.Data[0].CurrentPeriodEnd
		}
		priceID = s.Items.Data[0].Price.ID
	}
	return &SubscriptionObject{
		ID:                s.ID,
		CustomerID:        string(s.Customer),
		Status:            strings.TrimSpace(s.Status),
		PeriodEnd:         unixPtr(periodEnd),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		PriceID:           priceID,
		Metadata:          s.Metadata,
	}, nil
}

func decodeInvoice(raw json.RawMessage) (*InvoiceObject, error) {
	var inv wireInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, err
	}
	if err := expectObject(inv.Object, "invoice", inv.ID); err != nil {
		return nil, err
	}
	out := &InvoiceObject{
		ID:             inv.ID,
		CustomerID:     string(inv.Customer),
		SubscriptionID: string(inv.Subscription),
	}
	if inv.SubscriptionDetails != nil {
		out.SubscriptionMetadata = inv.SubscriptionDetails.Metadata
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if out.SubscriptionID == "" {
			out.SubscriptionID = string(inv.Parent.SubscriptionDetails.Subscription)
		}
		if len(out.SubscriptionMetadata) == 0 {
			out.SubscriptionMetadata = inv.Parent.SubscriptionDetails.Metadata
		}
	}
	if len(inv.Lines.Data) > 0 {
		out.PeriodEnd = unixPtr(inv.Lines.Data[0].Period.End)
	}
	return out, nil
}

func expectObject(got, want, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s object has no id", want)
	}
	if got != "" && got != want {
		return fmt.Errorf("expected %s object, got %q", want, got)
	}
	return nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

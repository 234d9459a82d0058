package billingtest

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// Object is a loosely typed gateway object used to build event payloads.
type Object map[string]interface{}

// Payload renders a gateway event envelope.
func Payload(id, eventType string, created time.Time, object Object) []byte {
	b, err := json.Marshal(map[string]interface{}{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": created.Unix(),
		"data":    map[string]interface{}{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return b
}

// Sign returns the signature header for payload at the current time.
func Sign(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}

// CheckoutSession builds a completed, paid checkout session object.
func CheckoutSession(id, userID, plan, customerID, subscriptionID string) Object {
	return Object{
		"id":             id,
		"object":         "checkout.session",
		"customer":       customerID,
		"subscription":   subscriptionID,
		"status":         "complete",
		"payment_status": "paid",
		"metadata":       map[string]string{"userId": userID, "plan": plan},
		"created":        time.Now().Unix(),
	}
}

// Subscription builds a subscription object.
func Subscription(id, userID, plan, customerID, status string, periodEnd time.Time) Object {
	meta := map[string]string{}
	if userID != "" {
		meta["userId"] = userID
	}
	if plan != "" {
		meta["plan"] = plan
	}
	return Object{
		"id":                   id,
		"object":               "subscription",
		"customer":             customerID,
		"status":               status,
		"current_period_end":   periodEnd.Unix(),
		"cancel_at_period_end": false,
		"metadata":             meta,
	}
}

// Invoice builds an invoice object for a subscription.
func Invoice(id, subscriptionID, customerID, userID string, periodEnd time.Time) Object {
	return Object{
		"id":           id,
		"object":       "invoice",
		"customer":     customerID,
		"subscription": subscriptionID,
		"subscription_details": map[string]interface{}{
			"metadata": map[string]string{"userId": userID},
		},
		"lines": map[string]interface{}{
			"data": []map[string]interface{}{
				{"period": map[string]int64{"end": periodEnd.Unix()}},
			},
		},
	}
}

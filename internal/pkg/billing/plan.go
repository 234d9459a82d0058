package billing

import (
	"strings"

	"github.com/askthestars/askthestars/internal/pkg/entitlements"
)

// PlanPrice describes how a plan is billed at the gateway. When PriceID is
// set the configured gateway price is used, otherwise the inline amount.
type PlanPrice struct {
	Plan        entitlements.Plan
	PriceID     string
	Currency    string
	UnitAmount  int64
	Interval    string
	ProductName string
	Description string
}

// Catalog holds the billable plans keyed by plan identifier.
type Catalog map[entitlements.Plan]PlanPrice

// DefaultCatalog returns the weekly and annual plans, using gateway price ids
// where they are configured.
func DefaultCatalog(weeklyPriceID, annualPriceID string) Catalog {
	return Catalog{
		entitlements.PlanWeekly: {
			Plan:        entitlements.PlanWeekly,
			PriceID:     strings.TrimSpace(weeklyPriceID),
			Currency:    "usd",
			UnitAmount:  499,
			Interval:    "week",
			ProductName: "Ask The Stars - Weekly Cosmic Access",
			Description: "Unlock all premium astrology features for 1 week",
		},
		entitlements.PlanAnnual: {
			Plan:        entitlements.PlanAnnual,
			PriceID:     strings.TrimSpace(annualPriceID),
			Currency:    "usd",
			UnitAmount:  4999,
			Interval:    "year",
			ProductName: "Ask The Stars - Annual Stellar Membership",
			Description: "Unlock all premium astrology features for 1 year",
		},
	}
}

// Lookup resolves a raw plan identifier to its price.
func (c Catalog) Lookup(raw string) (PlanPrice, bool) {
	plan, ok := entitlements.ParsePlan(raw)
	if !ok {
		return PlanPrice{}, false
	}
	p, ok := c[plan]
	return p, ok
}

// normalizeGatewayStatus maps a gateway subscription status onto the closed
// entitlement status set.
func normalizeGatewayStatus(status string) entitlements.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return entitlements.StatusActive
	case "trialing":
		return entitlements.StatusTrialing
	case "past_due":
		return entitlements.StatusPastDue
	case "unpaid":
		return entitlements.StatusPaymentFailed
	case "canceled", "cancelled", "incomplete_expired":
		return entitlements.StatusCanceled
	default:
		return entitlements.StatusIncomplete
	}
}

// sessionComplete reports whether the customer finished the checkout flow.
func sessionComplete(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "complete")
}

func isPaidSession(paymentStatus string) bool {
	switch strings.ToLower(strings.TrimSpace(paymentStatus)) {
	case "paid", "no_payment_required":
		return true
	default:
		return false
	}
}

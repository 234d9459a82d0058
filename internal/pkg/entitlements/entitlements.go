package entitlements

import (
	"strings"
	"time"
)

type Plan string

const (
	PlanNone   Plan = ""
	PlanWeekly Plan = "weekly"
	PlanAnnual Plan = "annual"
)

// Status is the entitlement status stored on the user record. It is the only
// field premium gating reads.
type Status string

const (
	StatusNone          Status = "none"
	StatusIncomplete    Status = "incomplete"
	StatusActive        Status = "active"
	StatusTrialing      Status = "trialing"
	StatusPastDue       Status = "past_due"
	StatusPaymentFailed Status = "payment_failed"
	StatusCanceled      Status = "canceled"
)

// ParsePlan returns the plan for a raw identifier and whether it is supported.
func ParsePlan(raw string) (Plan, bool) {
	switch Plan(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanWeekly:
		return PlanWeekly, true
	case PlanAnnual:
		return PlanAnnual, true
	default:
		return PlanNone, false
	}
}

// ParseStatus normalizes a stored status. Unknown values read as none.
func ParseStatus(raw string) Status {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusIncomplete, StatusActive, StatusTrialing, StatusPastDue, StatusPaymentFailed, StatusCanceled:
		return s
	default:
		return StatusNone
	}
}

// IsEntitling reports whether a status grants premium features.
// past_due keeps access while the gateway retries the payment.
func IsEntitling(status Status) bool {
	switch status {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	default:
		return false
	}
}

// HasPremium gates premium features for a stored status and period end.
// A record whose period already ended only keeps access when the status is
// still active or trialing, since a renewal event may be in flight.
func HasPremium(status Status, periodEnd *time.Time, now time.Time) bool {
	if !IsEntitling(status) {
		return false
	}
	if status == StatusPastDue && periodEnd != nil && now.After(*periodEnd) {
		return false
	}
	return true
}

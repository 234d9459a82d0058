package billing

import (
	"time"

	"github.com/askthestars/askthestars/app/models"
	"github.com/askthestars/askthestars/internal/pkg/entitlements"
)

// Entitlement field names written by applyPatch. Backends translate them to
// their own column or document paths.
const (
	fieldGatewayCustomerID      = "GatewayCustomerID"
	fieldGatewaySubscriptionID  = "GatewaySubscriptionID"
	fieldPlan                   = "Plan"
	fieldStatus                 = "Status"
	fieldPeriodEnd              = "PeriodEnd"
	fieldCancelAtPeriodEnd      = "CancelAtPeriodEnd"
	fieldLastPaymentDate        = "LastPaymentDate"
	fieldLastPaymentFailureDate = "LastPaymentFailureDate"
	fieldLastEventAt            = "LastEventAt"
	fieldUpdatedAt              = "UpdatedAt"
)

// guardPatch decides whether p may be applied on top of rec.
//
// Within one subscription, events older than the last applied one are stale.
// A patch for a different subscription only applies when it is a claim that
// is newer than everything applied so far; the replaced subscription is then
// no longer referenced and its late events are stale.
//
// A newer non-claim event for a subscription the ledger has never seen
// arrived ahead of that subscription's claim. It is deferred: not applied and
// not recorded, so a redelivery after the claim applies it. subscriptionSeen
// is only consulted in that case.
func guardPatch(rec *models.Entitlement, p Patch, subscriptionSeen bool) WriteResult {
	newer := rec.LastEventAt == nil || p.EventTime.IsZero() || !p.EventTime.Before(*rec.LastEventAt)

	if foreignSubscription(rec, p) {
		switch {
		case p.Claim && newer:
			return WriteApplied
		case !p.Claim && newer && !subscriptionSeen:
			return WriteDeferred
		default:
			return WriteStale
		}
	}
	if !newer {
		return WriteStale
	}
	// Gateway timestamps have second resolution, so several lifecycle events
	// often share one. On a tie the status may not move back to an earlier
	// lifecycle stage.
	if p.Status != nil && rec.LastEventAt != nil && p.EventTime.Equal(*rec.LastEventAt) &&
		statusRank(*p.Status) < statusRank(rec.Status) {
		return WriteStale
	}
	return WriteApplied
}

// foreignSubscription reports whether p targets a subscription other than the
// record's current one.
func foreignSubscription(rec *models.Entitlement, p Patch) bool {
	return p.GatewaySubscriptionID != nil && *p.GatewaySubscriptionID != "" &&
		rec.GatewaySubscriptionID != "" && *p.GatewaySubscriptionID != rec.GatewaySubscriptionID
}

// needsSubscriptionLookup reports whether guardPatch will consult the ledger
// for p's subscription.
func needsSubscriptionLookup(rec *models.Entitlement, p Patch) bool {
	return !p.Claim && foreignSubscription(rec, p)
}

func statusRank(s entitlements.Status) int {
	switch s {
	case entitlements.StatusNone:
		return 0
	case entitlements.StatusIncomplete:
		return 1
	default:
		return 2
	}
}

// applyPatch merges the non-nil fields of p into rec and returns the names of
// the fields it wrote. Fields absent from p are never touched.
func applyPatch(rec *models.Entitlement, p Patch, now time.Time) []string {
	var fields []string

	// The customer id is set once and stays stable.
	if p.GatewayCustomerID != nil && *p.GatewayCustomerID != "" && rec.GatewayCustomerID == "" {
		rec.GatewayCustomerID = *p.GatewayCustomerID
		fields = append(fields, fieldGatewayCustomerID)
	}
	if p.GatewaySubscriptionID != nil && *p.GatewaySubscriptionID != "" {
		rec.GatewaySubscriptionID = *p.GatewaySubscriptionID
		fields = append(fields, fieldGatewaySubscriptionID)
	}
	if p.Plan != nil && *p.Plan != "" {
		rec.Plan = *p.Plan
		fields = append(fields, fieldPlan)
	}
	if p.Status != nil {
		rec.Status = *p.Status
		fields = append(fields, fieldStatus)
	}
	if p.PeriodEnd != nil {
		t := p.PeriodEnd.UTC()
		rec.PeriodEnd = &t
		fields = append(fields, fieldPeriodEnd)
	}
	if p.CancelAtPeriodEnd != nil {
		rec.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
		fields = append(fields, fieldCancelAtPeriodEnd)
	}
	if p.LastPaymentDate != nil {
		t := p.LastPaymentDate.UTC()
		rec.LastPaymentDate = &t
		fields = append(fields, fieldLastPaymentDate)
	}
	if p.LastPaymentFailureDate != nil {
		t := p.LastPaymentFailureDate.UTC()
		rec.LastPaymentFailureDate = &t
		fields = append(fields, fieldLastPaymentFailureDate)
	}
	if !p.EventTime.IsZero() && (rec.LastEventAt == nil || p.EventTime.After(*rec.LastEventAt)) {
		t := p.EventTime.UTC()
		rec.LastEventAt = &t
		fields = append(fields, fieldLastEventAt)
	}

	// updatedAt never moves backwards, even with clock skew between instances.
	if now.After(rec.UpdatedAt) {
		rec.UpdatedAt = now.UTC()
	}
	fields = append(fields, fieldUpdatedAt)
	return fields
}

// ledgerEntry builds the applied-event row for a patch.
func ledgerEntry(userID string, p Patch, wr WriteResult, now time.Time) *models.BillingWebhookEvent {
	sub := ""
	if p.GatewaySubscriptionID != nil {
		sub = *p.GatewaySubscriptionID
	}
	return &models.BillingWebhookEvent{
		ProviderEventID: p.EventID,
		UserID:          userID,
		EventType:       p.EventType,
		SubscriptionID:  sub,
		EventCreatedAt:  p.EventTime.UTC(),
		Outcome:         string(wr),
		CreatedAt:       now.UTC(),
	}
}

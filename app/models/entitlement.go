package models

import (
	"time"

	"github.com/askthestars/askthestars/internal/pkg/entitlements"
)

// Entitlement is the per-user subscription record. It is written only by the
// reconciliation engine (and by the account-creation default) and read by
// everything that gates premium features.
type Entitlement struct {
	UserID                 string              `gorm:"primaryKey;type:varchar(128)" json:"userId" firestore:"userId"`
	GatewayCustomerID      string              `gorm:"type:varchar(191);default:'';index" json:"gatewayCustomerId,omitempty" firestore:"gatewayCustomerId,omitempty"`
	GatewaySubscriptionID  string              `gorm:"type:varchar(191);default:'';index" json:"gatewaySubscriptionId,omitempty" firestore:"gatewaySubscriptionId,omitempty"`
	Plan                   entitlements.Plan   `gorm:"type:varchar(32);default:''" json:"plan,omitempty" firestore:"plan,omitempty"`
	Status                 entitlements.Status `gorm:"type:varchar(32);not null;default:'none';index" json:"status" firestore:"status"`
	PeriodEnd              *time.Time          `gorm:"type:timestamp;default:null" json:"periodEnd" firestore:"periodEnd"`
	CancelAtPeriodEnd      bool                `gorm:"default:false" json:"cancelAtPeriodEnd" firestore:"cancelAtPeriodEnd"`
	LastPaymentDate        *time.Time          `gorm:"type:timestamp;default:null" json:"lastPaymentDate,omitempty" firestore:"lastPaymentDate,omitempty"`
	LastPaymentFailureDate *time.Time          `gorm:"type:timestamp;default:null" json:"lastPaymentFailureDate,omitempty" firestore:"lastPaymentFailureDate,omitempty"`
	LastEventAt            *time.Time          `gorm:"type:timestamp;default:null" json:"lastEventAt,omitempty" firestore:"lastEventAt,omitempty"`
	CreatedAt              time.Time           `gorm:"autoCreateTime" json:"createdAt" firestore:"createdAt"`
	UpdatedAt              time.Time           `gorm:"autoUpdateTime:false" json:"updatedAt" firestore:"updatedAt"`
}

// NewDefaultEntitlement returns the free-tier record created with an account.
func NewDefaultEntitlement(userID string, now time.Time) *Entitlement {
	return &Entitlement{
		UserID:    userID,
		Status:    entitlements.StatusNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasPremium reports whether the record currently grants premium features.
func (e *Entitlement) HasPremium(now time.Time) bool {
	if e == nil {
		return false
	}
	return entitlements.HasPremium(e.Status, e.PeriodEnd, now)
}

package models

import "time"

// BillingWebhookEvent is the applied-event ledger. A row exists for every
// gateway event id whose entitlement write has been committed, which makes
// redelivery of the same id a no-op.
type BillingWebhookEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProviderEventID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_webhook_events_event" json:"provider_event_id" firestore:"eventId"`
	UserID          string    `gorm:"type:varchar(128);not null;index" json:"user_id" firestore:"userId"`
	EventType       string    `gorm:"type:varchar(100);not null;default:''" json:"event_type" firestore:"type"`
	SubscriptionID  string    `gorm:"type:varchar(191);not null;default:'';index" json:"subscription_id" firestore:"subscriptionId"`
	EventCreatedAt  time.Time `gorm:"type:timestamp" json:"event_created_at" firestore:"eventCreatedAt"`
	Outcome         string    `gorm:"type:varchar(16);not null;default:'applied'" json:"outcome" firestore:"outcome"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at" firestore:"createdAt"`
}

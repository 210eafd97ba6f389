package models

import (
	"database/sql"
	"time"
)

// BillingEvent records every accepted Stripe webhook delivery, keyed by
// the provider-assigned event ID so replays can be detected.
type BillingEvent struct {
	StripeEventID   string         `db:"stripe_event_id" json:"stripe_event_id"`
	EventType       string         `db:"event_type" json:"event_type"`
	Payload         []byte         `db:"payload" json:"-"`
	ProcessingError sql.NullString `db:"processing_error" json:"processing_error,omitempty"`
	ProcessedAt     sql.NullTime   `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

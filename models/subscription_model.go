package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus mirrors the Stripe subscription status enum.
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
)

// Subscription is the local mirror of a Stripe subscription. One row per
// user; rows are kept (status flipped to canceled) after deletion events
// for audit.
type Subscription struct {
	ID                   uuid.UUID          `db:"id" json:"id"`
	UserID               uuid.UUID          `db:"user_id" json:"user_id"`
	StripeSubscriptionID string             `db:"stripe_subscription_id" json:"stripe_subscription_id"`
	StripePriceID        string             `db:"stripe_price_id" json:"stripe_price_id"`
	Status               SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodStart   time.Time          `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `db:"current_period_end" json:"current_period_end"`
	MaxImages            int                `db:"max_images" json:"max_images"`
	CancelAtPeriodEnd    bool               `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at" json:"updated_at"`
}

func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.CurrentPeriodEnd.After(now)
}

func (s *Subscription) IsTrialing(now time.Time) bool {
	return s.Status == SubscriptionStatusTrialing && s.CurrentPeriodEnd.After(now)
}

// CanUse reports whether the subscription currently grants its plan
// entitlements.
func (s *Subscription) CanUse(now time.Time) bool {
	return s.IsActive(now) || s.IsTrialing(now)
}

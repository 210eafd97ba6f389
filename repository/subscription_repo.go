package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"imageforge/models"
)

type SubscriptionRepo interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, error)
	// Upsert creates the user's subscription row or overwrites it; the
	// user_id unique constraint keeps at most one row per user.
	Upsert(ctx context.Context, sub *models.Subscription) error
	UpdateFromEvent(ctx context.Context, sub *models.Subscription) error
	MarkCanceled(ctx context.Context, stripeSubID string) error
	SetCancelAtPeriodEnd(ctx context.Context, stripeSubID string, flag bool) error
}

type postgresSubscriptionRepo struct {
	db *sqlx.DB
}

func NewSubscriptionRepo(db *sqlx.DB) SubscriptionRepo {
	return &postgresSubscriptionRepo{db: db}
}

const subscriptionColumns = `
	id, user_id, stripe_subscription_id, stripe_price_id, status,
	current_period_start, current_period_end, max_images,
	cancel_at_period_end, created_at, updated_at`

func (r *postgresSubscriptionRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.GetContext(ctx, &sub,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription for user: %w", err)
	}
	return &sub, nil
}

func (r *postgresSubscriptionRepo) GetByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.GetContext(ctx, &sub,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = $1`, stripeSubID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *postgresSubscriptionRepo) Upsert(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, stripe_subscription_id, stripe_price_id,
		                           status, current_period_start, current_period_end,
		                           max_images, cancel_at_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id)
		DO UPDATE SET
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			stripe_price_id = EXCLUDED.stripe_price_id,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			max_images = EXCLUDED.max_images,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = now()
	`, sub.ID, sub.UserID, sub.StripeSubscriptionID, sub.StripePriceID,
		sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.MaxImages, sub.CancelAtPeriodEnd)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (r *postgresSubscriptionRepo) UpdateFromEvent(ctx context.Context, sub *models.Subscription) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET stripe_price_id = $1,
		    status = $2,
		    current_period_start = $3,
		    current_period_end = $4,
		    max_images = $5,
		    cancel_at_period_end = $6,
		    updated_at = now()
		WHERE stripe_subscription_id = $7
	`, sub.StripePriceID, sub.Status, sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd, sub.MaxImages, sub.CancelAtPeriodEnd,
		sub.StripeSubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return requireRow(res)
}

func (r *postgresSubscriptionRepo) MarkCanceled(ctx context.Context, stripeSubID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'canceled', cancel_at_period_end = false, updated_at = now()
		WHERE stripe_subscription_id = $1
	`, stripeSubID)
	if err != nil {
		return fmt.Errorf("failed to mark subscription canceled: %w", err)
	}
	return requireRow(res)
}

func (r *postgresSubscriptionRepo) SetCancelAtPeriodEnd(ctx context.Context, stripeSubID string, flag bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET cancel_at_period_end = $1, updated_at = now()
		WHERE stripe_subscription_id = $2
	`, flag, stripeSubID)
	if err != nil {
		return fmt.Errorf("failed to set cancel_at_period_end: %w", err)
	}
	return requireRow(res)
}

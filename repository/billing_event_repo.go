package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"imageforge/models"
)

// BillingEventRepo deduplicates webhook deliveries by the
// provider-assigned event ID.
type BillingEventRepo interface {
	// InsertIfNew records the delivery; it returns false when the event
	// ID was already seen.
	InsertIfNew(ctx context.Context, event *models.BillingEvent) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, processingErr string) error
}

type postgresBillingEventRepo struct {
	db *sqlx.DB
}

func NewBillingEventRepo(db *sqlx.DB) BillingEventRepo {
	return &postgresBillingEventRepo{db: db}
}

func (r *postgresBillingEventRepo) InsertIfNew(ctx context.Context, event *models.BillingEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO billing_events (stripe_event_id, event_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (stripe_event_id) DO NOTHING
	`, event.StripeEventID, event.EventType, event.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to record billing event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *postgresBillingEventRepo) MarkProcessed(ctx context.Context, eventID string, processingErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE billing_events
		SET processed_at = now(), processing_error = NULLIF($1, '')
		WHERE stripe_event_id = $2
	`, processingErr, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark billing event processed: %w", err)
	}
	return nil
}

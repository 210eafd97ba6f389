package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"

	"imageforge/models"
	"imageforge/quota"
	"imageforge/repository"
)

// MetadataUserKey is stamped on checkout sessions and subscriptions so
// provider events can be traced back to the owning user. Stripe copies
// subscription metadata onto invoice lines, which is how renewal
// invoices are resolved.
const MetadataUserKey = "userId"

// Reconciler applies Stripe events to local state. Every transition is
// idempotent: replaying a delivery converges to the same subscription
// and user rows. Data-integrity problems (unknown user, unresolvable
// price) are logged and swallowed so one bad event never takes down the
// intake.
type Reconciler struct {
	Users  repository.UserRepo
	Subs   repository.SubscriptionRepo
	Ledger *quota.Ledger
	Plans  *PlanCatalog
	Log    zerolog.Logger
}

// HandleCheckoutSessionCompleted binds the Stripe customer to the user.
// The binding is write-once; replays and later sessions cannot rebind.
func (r *Reconciler) HandleCheckoutSessionCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	userID, ok := sessionUserID(session)
	if !ok {
		r.Log.Error().Str("session_id", session.ID).Msg("checkout session has no resolvable user id")
		return nil
	}

	if session.Customer == nil || session.Customer.ID == "" {
		return nil
	}

	if err := r.Users.SetStripeCustomerIDIfEmpty(ctx, userID, session.Customer.ID); err != nil {
		return fmt.Errorf("checkout session %s: %w", session.ID, err)
	}

	r.Log.Info().
		Str("user_id", userID.String()).
		Str("customer_id", session.Customer.ID).
		Msg("checkout session completed")
	return nil
}

// HandleSubscriptionCreated upserts the local subscription and raises
// the user's ceiling to the plan's. Upserting keyed on the user makes a
// replayed created event converge instead of duplicating rows.
func (r *Reconciler) HandleSubscriptionCreated(ctx context.Context, sub *stripe.Subscription) error {
	userID, ok := subscriptionUserID(sub)
	if !ok {
		r.Log.Error().Str("subscription_id", sub.ID).Msg("subscription event has no resolvable user id")
		return nil
	}

	priceID, periodStart, periodEnd, ok := subscriptionItemFields(sub)
	if !ok {
		r.Log.Error().Str("subscription_id", sub.ID).Msg("subscription event has no items")
		return nil
	}

	plan, ok := r.Plans.ByPriceID(priceID)
	if !ok {
		r.Log.Error().
			Str("subscription_id", sub.ID).
			Str("price_id", priceID).
			Msg("no plan mapped for price, skipping subscription create")
		return nil
	}

	record := &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: sub.ID,
		StripePriceID:        priceID,
		Status:               models.SubscriptionStatus(sub.Status),
		CurrentPeriodStart:   periodStart,
		CurrentPeriodEnd:     periodEnd,
		MaxImages:            plan.MaxImages,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if err := r.Subs.Upsert(ctx, record); err != nil {
		return err
	}

	if err := r.Users.SetMaxImages(ctx, userID, plan.MaxImages); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.Log.Error().Str("user_id", userID.String()).Msg("subscription created for unknown user")
			return nil
		}
		return err
	}

	r.Log.Info().
		Str("user_id", userID.String()).
		Str("subscription_id", sub.ID).
		Str("plan", plan.Name).
		Msg("subscription created")
	return nil
}

// HandleSubscriptionUpdated overwrites status, period bounds and the
// cancel flag from the event. The ceiling only moves when the event's
// price maps to a known plan; an unresolvable price keeps the prior
// ceiling and is surfaced as a data-integrity warning, not a failure.
func (r *Reconciler) HandleSubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) error {
	existing, err := r.Subs.GetByStripeID(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.Log.Error().Str("subscription_id", sub.ID).Msg("update for unknown subscription")
			return nil
		}
		return err
	}

	priceID, periodStart, periodEnd, ok := subscriptionItemFields(sub)
	if !ok {
		r.Log.Error().Str("subscription_id", sub.ID).Msg("subscription event has no items")
		return nil
	}

	maxImages := existing.MaxImages
	plan, planKnown := r.Plans.ByPriceID(priceID)
	if planKnown {
		maxImages = plan.MaxImages
	} else {
		r.Log.Warn().
			Str("subscription_id", sub.ID).
			Str("price_id", priceID).
			Msg("no plan mapped for price, keeping prior ceiling")
	}

	record := &models.Subscription{
		StripeSubscriptionID: sub.ID,
		StripePriceID:        priceID,
		Status:               models.SubscriptionStatus(sub.Status),
		CurrentPeriodStart:   periodStart,
		CurrentPeriodEnd:     periodEnd,
		MaxImages:            maxImages,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if err := r.Subs.UpdateFromEvent(ctx, record); err != nil {
		return err
	}

	if planKnown {
		if err := r.Users.SetMaxImages(ctx, existing.UserID, plan.MaxImages); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}

	r.Log.Info().
		Str("subscription_id", sub.ID).
		Str("status", string(sub.Status)).
		Bool("cancel_at_period_end", sub.CancelAtPeriodEnd).
		Msg("subscription updated")
	return nil
}

// HandleSubscriptionDeleted flips the local record to canceled (the row
// is kept for audit) and immediately returns the user to the free tier
// with a zeroed counter.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	userID, ok := subscriptionUserID(sub)
	if !ok {
		r.Log.Error().Str("subscription_id", sub.ID).Msg("subscription event has no resolvable user id")
		return nil
	}

	if err := r.Subs.MarkCanceled(ctx, sub.ID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		r.Log.Warn().Str("subscription_id", sub.ID).Msg("delete for unknown subscription, downgrading user anyway")
	}

	if err := r.Users.DowngradeToFree(ctx, userID, r.Plans.FreeTierMaxImages()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.Log.Error().Str("user_id", userID.String()).Msg("subscription deleted for unknown user")
			return nil
		}
		return err
	}

	r.Log.Info().
		Str("user_id", userID.String()).
		Str("subscription_id", sub.ID).
		Msg("subscription deleted, user downgraded to free tier")
	return nil
}

// HandleInvoicePaymentSucceeded resets the usage counter on cycle
// renewals. Any other billing reason (initial creation, prorations,
// manual invoices) leaves quota alone.
func (r *Reconciler) HandleInvoicePaymentSucceeded(ctx context.Context, inv *stripe.Invoice) error {
	if inv.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		return nil
	}

	userID, ok := invoiceUserID(inv)
	if !ok {
		r.Log.Error().Str("invoice_id", inv.ID).Msg("renewal invoice has no resolvable user id")
		return nil
	}

	if _, err := r.Subs.GetByUserID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.Log.Error().
				Str("invoice_id", inv.ID).
				Str("user_id", userID.String()).
				Msg("renewal invoice for user without subscription")
			return nil
		}
		return err
	}

	if err := r.Ledger.ResetCycle(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.Log.Error().Str("user_id", userID.String()).Msg("renewal invoice for unknown user")
			return nil
		}
		return err
	}

	r.Log.Info().
		Str("user_id", userID.String()).
		Str("invoice_id", inv.ID).
		Msg("billing cycle renewed, usage counter reset")
	return nil
}

// HandleInvoicePaymentFailed is notification-only; dunning is Stripe's
// job and the subscription status change arrives as its own event.
func (r *Reconciler) HandleInvoicePaymentFailed(ctx context.Context, inv *stripe.Invoice) error {
	userID, _ := invoiceUserID(inv)
	r.Log.Warn().
		Str("invoice_id", inv.ID).
		Str("user_id", userID.String()).
		Msg("invoice payment failed")
	return nil
}

func sessionUserID(session *stripe.CheckoutSession) (uuid.UUID, bool) {
	ref := session.ClientReferenceID
	if ref == "" {
		ref = session.Metadata[MetadataUserKey]
	}
	return parseUserID(ref)
}

func subscriptionUserID(sub *stripe.Subscription) (uuid.UUID, bool) {
	return parseUserID(sub.Metadata[MetadataUserKey])
}

func invoiceUserID(inv *stripe.Invoice) (uuid.UUID, bool) {
	if inv.Lines == nil {
		return uuid.Nil, false
	}
	for _, line := range inv.Lines.Data {
		if line == nil || line.Metadata == nil {
			continue
		}
		if ref, ok := line.Metadata[MetadataUserKey]; ok {
			return parseUserID(ref)
		}
	}
	return uuid.Nil, false
}

func parseUserID(ref string) (uuid.UUID, bool) {
	if ref == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// subscriptionItemFields pulls the price and period bounds off the first
// subscription item; current_period_* live on items in this API version.
func subscriptionItemFields(sub *stripe.Subscription) (priceID string, start, end time.Time, ok bool) {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return "", time.Time{}, time.Time{}, false
	}
	item := sub.Items.Data[0]
	if item.Price != nil {
		priceID = item.Price.ID
	}
	return priceID, time.Unix(item.CurrentPeriodStart, 0), time.Unix(item.CurrentPeriodEnd, 0), true
}

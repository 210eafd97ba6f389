package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"imageforge/billing"
	"imageforge/models"
	"imageforge/repository"
	"imageforge/utils"
)

type StripeHandler struct {
	Users         repository.UserRepo
	Subs          repository.SubscriptionRepo
	Events        repository.BillingEventRepo
	Reconciler    *billing.Reconciler
	Plans         *billing.PlanCatalog
	WebhookSecret string
	FrontendURL   string
	Log           zerolog.Logger
}

func (h *StripeHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var body struct {
		PriceID string `json:"price_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PriceID == "" {
		utils.RespondError(w, http.StatusBadRequest, "price_id is required")
		return
	}
	if _, ok := h.Plans.ByPriceID(body.PriceID); !ok {
		utils.RespondError(w, http.StatusBadRequest, "Unknown plan")
		return
	}

	user, err := h.Users.GetByID(r.Context(), userID)
	if err != nil {
		utils.RespondInternal(w, err, "Unable to fetch user")
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(h.FrontendURL + "/dashboard?success=true&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(h.FrontendURL + "/dashboard?canceled=true"),
		ClientReferenceID: stripe.String(userID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(body.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				billing.MetadataUserKey: userID.String(),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.AddMetadata(billing.MetadataUserKey, userID.String())

	// Reuse the bound customer when one exists so Stripe does not mint a
	// second customer record for the same user.
	if user.StripeCustomerID.Valid {
		params.Customer = stripe.String(user.StripeCustomerID.String)
	} else {
		params.CustomerEmail = stripe.String(user.Email)
	}

	result, err := checkoutsession.New(params)
	if err != nil {
		utils.RespondInternal(w, err, "Unable to create checkout session")
		return
	}

	utils.RespondSuccess(w, http.StatusOK, map[string]string{
		"session_id":   result.ID,
		"checkout_url": result.URL,
	})
}

func (h *StripeHandler) CustomerPortal(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.Users.GetByID(r.Context(), userID)
	if err != nil {
		utils.RespondInternal(w, err, "Unable to fetch user")
		return
	}
	if !user.StripeCustomerID.Valid {
		utils.RespondError(w, http.StatusBadRequest, "No active subscription")
		return
	}

	result, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(user.StripeCustomerID.String),
		ReturnURL: stripe.String(h.FrontendURL + "/dashboard"),
	})
	if err != nil {
		utils.RespondInternal(w, err, "Unable to create portal session")
		return
	}

	utils.RespondSuccess(w, http.StatusOK, map[string]string{"url": result.URL})
}

func (h *StripeHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	h.setCancelAtPeriodEnd(w, r, true)
}

func (h *StripeHandler) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	h.setCancelAtPeriodEnd(w, r, false)
}

func (h *StripeHandler) setCancelAtPeriodEnd(w http.ResponseWriter, r *http.Request, flag bool) {
	userID, ok := authedUserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sub, err := h.Subs.GetByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Subscription not found")
			return
		}
		utils.RespondInternal(w, err, "Unable to fetch subscription")
		return
	}

	_, err = subscription.Update(sub.StripeSubscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(flag),
	})
	if err != nil {
		utils.RespondInternal(w, err, "Unable to update subscription")
		return
	}

	// The webhook will confirm this, but reflecting it immediately keeps
	// the dashboard honest.
	if err := h.Subs.SetCancelAtPeriodEnd(r.Context(), sub.StripeSubscriptionID, flag); err != nil {
		h.Log.Warn().Err(err).Str("subscription_id", sub.StripeSubscriptionID).Msg("failed to mirror cancel flag")
	}

	status := "cancel_at_period_end"
	if !flag {
		status = "active"
	}
	utils.RespondSuccess(w, http.StatusOK, map[string]string{"status": status})
}

func (h *StripeHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sub, err := h.Subs.GetByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Subscription not found")
			return
		}
		utils.RespondInternal(w, err, "Unable to fetch subscription")
		return
	}

	utils.RespondSuccess(w, http.StatusOK, map[string]interface{}{
		"subscription": sub,
		"can_use":      sub.CanUse(time.Now()),
	})
}

// ListPlans backs the pricing page; no auth.
func (h *StripeHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	utils.RespondSuccess(w, http.StatusOK, map[string]interface{}{
		"plans":                h.Plans.Plans(),
		"free_tier_max_images": h.Plans.FreeTierMaxImages(),
	})
}

// Stripe events with long invoice line lists run well past 64 KiB.
const maxWebhookBodyBytes = int64(1 << 20)

// HandleWebhook is the billing event intake. An unverifiable delivery
// (unreadable or oversized body, bad signature) is the only condition
// that produces a non-200 response; everything after verification is
// best effort per event, acknowledged regardless, so the provider never
// marks the endpoint as down over one bad payload.
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to read webhook body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.WebhookSecret)
	if err != nil {
		h.Log.Error().Err(err).Msg("webhook signature verification failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	isNew, err := h.Events.InsertIfNew(r.Context(), &models.BillingEvent{
		StripeEventID: event.ID,
		EventType:     string(event.Type),
		Payload:       payload,
	})
	if err != nil {
		// Dedup bookkeeping must not block reconciliation; the
		// transitions are idempotent anyway.
		h.Log.Error().Err(err).Str("event_id", event.ID).Msg("failed to record billing event")
	} else if !isNew {
		h.Log.Info().Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("duplicate webhook delivery, skipping")
		h.ack(w)
		return
	}

	procErr := h.dispatch(r, &event)
	if procErr != nil {
		h.Log.Error().Err(procErr).
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("failed to reconcile billing event")
	}

	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}
	if err := h.Events.MarkProcessed(r.Context(), event.ID, errMsg); err != nil {
		h.Log.Warn().Err(err).Str("event_id", event.ID).Msg("failed to mark billing event processed")
	}

	h.ack(w)
}

func (h *StripeHandler) dispatch(r *http.Request, event *stripe.Event) error {
	ctx := r.Context()

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return err
		}
		return h.Reconciler.HandleCheckoutSessionCompleted(ctx, &session)

	case "customer.subscription.created":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return h.Reconciler.HandleSubscriptionCreated(ctx, &sub)

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return h.Reconciler.HandleSubscriptionUpdated(ctx, &sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return h.Reconciler.HandleSubscriptionDeleted(ctx, &sub)

	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return err
		}
		return h.Reconciler.HandleInvoicePaymentSucceeded(ctx, &inv)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return err
		}
		return h.Reconciler.HandleInvoicePaymentFailed(ctx, &inv)

	default:
		// Unknown event types are fine; Stripe adds them over time.
		h.Log.Info().Str("event_type", string(event.Type)).Msg("unhandled event type")
		return nil
	}
}

func (h *StripeHandler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]bool{"received": true}); err != nil {
		h.Log.Error().Err(err).Msg("failed to encode webhook ack")
	}
}

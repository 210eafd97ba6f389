package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"imageforge/billing"
	"imageforge/models"
	"imageforge/quota"
	"imageforge/repository"
)

const testWebhookSecret = "whsec_test_secret"

type stubUserRepo struct {
	users map[uuid.UUID]*models.User
}

func (f *stubUserRepo) Create(context.Context, string, string, string) (*models.User, error) {
	return nil, nil
}

func (f *stubUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (f *stubUserRepo) GetByEmail(context.Context, string) (*models.User, error) {
	return nil, repository.ErrNotFound
}

func (f *stubUserRepo) UpdateInfo(_ context.Context, id uuid.UUID, name, email string) error {
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	for otherID, other := range f.users {
		if otherID != id && other.Email == email {
			return repository.ErrDuplicateEmail
		}
	}
	u.Name, u.Email = name, email
	return nil
}

func (f *stubUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *stubUserRepo) IncrementImagesIfBelow(_ context.Context, id uuid.UUID) (int, int, bool, error) {
	u, ok := f.users[id]
	if !ok {
		return 0, 0, false, repository.ErrNotFound
	}
	if u.ImagesGenerated >= u.MaxImages {
		return u.ImagesGenerated, u.MaxImages, false, nil
	}
	u.ImagesGenerated++
	return u.ImagesGenerated, u.MaxImages, true, nil
}

func (f *stubUserRepo) ResetImageCount(_ context.Context, id uuid.UUID) error {
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.ImagesGenerated = 0
	return nil
}

func (f *stubUserRepo) SetMaxImages(_ context.Context, id uuid.UUID, max int) error {
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.MaxImages = max
	return nil
}

func (f *stubUserRepo) DowngradeToFree(_ context.Context, id uuid.UUID, freeMax int) error {
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.MaxImages = freeMax
	u.ImagesGenerated = 0
	return nil
}

func (f *stubUserRepo) SetStripeCustomerIDIfEmpty(_ context.Context, id uuid.UUID, customerID string) error {
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !u.StripeCustomerID.Valid {
		u.StripeCustomerID.String = customerID
		u.StripeCustomerID.Valid = true
	}
	return nil
}

type stubSubRepo struct {
	subs map[string]*models.Subscription
}

func (f *stubSubRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*models.Subscription, error) {
	for _, s := range f.subs {
		if s.UserID == userID {
			return s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *stubSubRepo) GetByStripeID(_ context.Context, id string) (*models.Subscription, error) {
	s, ok := f.subs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

func (f *stubSubRepo) Upsert(_ context.Context, sub *models.Subscription) error {
	copied := *sub
	f.subs[sub.StripeSubscriptionID] = &copied
	return nil
}

func (f *stubSubRepo) UpdateFromEvent(_ context.Context, sub *models.Subscription) error {
	existing, ok := f.subs[sub.StripeSubscriptionID]
	if !ok {
		return repository.ErrNotFound
	}
	// Mirror the real repository: only the event columns change; id and
	// user_id are preserved.
	copied := *sub
	copied.ID = existing.ID
	copied.UserID = existing.UserID
	f.subs[sub.StripeSubscriptionID] = &copied
	return nil
}

func (f *stubSubRepo) MarkCanceled(_ context.Context, id string) error {
	s, ok := f.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = models.SubscriptionStatusCanceled
	return nil
}

func (f *stubSubRepo) SetCancelAtPeriodEnd(_ context.Context, id string, flag bool) error {
	s, ok := f.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.CancelAtPeriodEnd = flag
	return nil
}

type stubEventRepo struct {
	seen      map[string]bool
	processed map[string]string
}

func newStubEventRepo() *stubEventRepo {
	return &stubEventRepo{seen: make(map[string]bool), processed: make(map[string]string)}
}

func (f *stubEventRepo) InsertIfNew(_ context.Context, event *models.BillingEvent) (bool, error) {
	if f.seen[event.StripeEventID] {
		return false, nil
	}
	f.seen[event.StripeEventID] = true
	return true, nil
}

func (f *stubEventRepo) MarkProcessed(_ context.Context, eventID string, processingErr string) error {
	f.processed[eventID] = processingErr
	return nil
}

func newWebhookHandler(users *stubUserRepo, subs *stubSubRepo, events *stubEventRepo) *StripeHandler {
	plans := billing.NewPlanCatalog("price_pro", "price_biz", 5)
	return &StripeHandler{
		Users:  users,
		Subs:   subs,
		Events: events,
		Plans:  plans,
		Reconciler: &billing.Reconciler{
			Users:  users,
			Subs:   subs,
			Ledger: &quota.Ledger{Users: users},
			Plans:  plans,
			Log:    zerolog.Nop(),
		},
		WebhookSecret: testWebhookSecret,
		FrontendURL:   "http://localhost:3000",
		Log:           zerolog.Nop(),
	}
}

// signedWebhookRequest wraps an event payload in a valid Stripe
// signature header.
func signedWebhookRequest(t *testing.T, eventID, eventType, objectJSON string) *http.Request {
	t.Helper()
	payload := fmt.Sprintf(`{"id":%q,"object":"event","api_version":%q,"type":%q,"data":{"object":%s}}`,
		eventID, stripe.APIVersion, eventType, objectJSON)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func subscriptionObjectJSON(subID, priceID, userID string, status string) string {
	start := time.Now().Unix()
	return fmt.Sprintf(`{
		"id": %q,
		"object": "subscription",
		"status": %q,
		"metadata": {"userId": %q},
		"items": {
			"object": "list",
			"data": [{
				"object": "subscription_item",
				"price": {"id": %q, "object": "price"},
				"current_period_start": %d,
				"current_period_end": %d
			}]
		}
	}`, subID, status, userID, priceID, start, start+30*24*3600)
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	var body map[string]bool
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body["received"])
}

func TestGetSubscriptionIncludesEntitlementFlag(t *testing.T) {
	user := &models.User{UUID: uuid.New(), MaxImages: 100}
	sub := &models.Subscription{
		UserID:               user.UUID,
		StripeSubscriptionID: "sub_1",
		Status:               models.SubscriptionStatusActive,
		CurrentPeriodEnd:     time.Now().Add(20 * 24 * time.Hour),
		MaxImages:            100,
	}
	h := newWebhookHandler(
		&stubUserRepo{users: map[uuid.UUID]*models.User{user.UUID: user}},
		&stubSubRepo{subs: map[string]*models.Subscription{"sub_1": sub}},
		newStubEventRepo(),
	)

	req := authedRequest(http.MethodGet, "/api/stripe/subscription", "", user.UUID)
	rec := httptest.NewRecorder()
	h.GetSubscription(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			Subscription models.Subscription `json:"subscription"`
			CanUse       bool                `json:"can_use"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "sub_1", resp.Data.Subscription.StripeSubscriptionID)
	assert.True(t, resp.Data.CanUse)

	// An expired period no longer grants the plan.
	sub.CurrentPeriodEnd = time.Now().Add(-time.Hour)
	rec = httptest.NewRecorder()
	h.GetSubscription(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Data.CanUse)
}

func TestListPlans(t *testing.T) {
	h := newWebhookHandler(&stubUserRepo{users: map[uuid.UUID]*models.User{}}, &stubSubRepo{subs: map[string]*models.Subscription{}}, newStubEventRepo())

	rec := httptest.NewRecorder()
	h.ListPlans(rec, httptest.NewRequest(http.MethodGet, "/api/stripe/plans", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			Plans             []billing.Plan `json:"plans"`
			FreeTierMaxImages int            `json:"free_tier_max_images"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data.Plans, 2)
	assert.Equal(t, "Pro", resp.Data.Plans[0].Name)
	assert.Equal(t, int64(2900), resp.Data.Plans[0].Amount)
	assert.Equal(t, "Business", resp.Data.Plans[1].Name)
	assert.Equal(t, int64(9900), resp.Data.Plans[1].Amount)
	assert.Equal(t, 5, resp.Data.FreeTierMaxImages)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	h := newWebhookHandler(&stubUserRepo{users: map[uuid.UUID]*models.User{}}, &stubSubRepo{subs: map[string]*models.Subscription{}}, newStubEventRepo())

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	rec := httptest.NewRecorder()

	h.HandleWebhook(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhookRejectsOversizedBody(t *testing.T) {
	h := newWebhookHandler(&stubUserRepo{users: map[uuid.UUID]*models.User{}}, &stubSubRepo{subs: map[string]*models.Subscription{}}, newStubEventRepo())

	body := strings.Repeat("a", 1<<20+1)
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	rec := httptest.NewRecorder()

	h.HandleWebhook(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhookSubscriptionCreated(t *testing.T) {
	user := &models.User{UUID: uuid.New(), MaxImages: 5}
	users := &stubUserRepo{users: map[uuid.UUID]*models.User{user.UUID: user}}
	subs := &stubSubRepo{subs: map[string]*models.Subscription{}}
	events := newStubEventRepo()
	h := newWebhookHandler(users, subs, events)

	req := signedWebhookRequest(t, "evt_1", "customer.subscription.created",
		subscriptionObjectJSON("sub_1", "price_pro", user.UUID.String(), "active"))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	decodeAck(t, rec)

	assert.Equal(t, 100, user.MaxImages)
	require.Contains(t, subs.subs, "sub_1")
	assert.Equal(t, models.SubscriptionStatusActive, subs.subs["sub_1"].Status)

	// The delivery is recorded and marked processed without error.
	assert.True(t, events.seen["evt_1"])
	errMsg, processed := events.processed["evt_1"]
	assert.True(t, processed)
	assert.Empty(t, errMsg)
}

func TestHandleWebhookDuplicateDeliverySkipped(t *testing.T) {
	user := &models.User{UUID: uuid.New(), MaxImages: 5}
	users := &stubUserRepo{users: map[uuid.UUID]*models.User{user.UUID: user}}
	subs := &stubSubRepo{subs: map[string]*models.Subscription{}}
	events := newStubEventRepo()
	h := newWebhookHandler(users, subs, events)

	object := subscriptionObjectJSON("sub_1", "price_pro", user.UUID.String(), "active")

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, signedWebhookRequest(t, "evt_1", "customer.subscription.created", object))
	require.Equal(t, http.StatusOK, rec.Code)

	// Undo the ceiling change so a replayed delivery would be visible.
	user.MaxImages = 7

	rec = httptest.NewRecorder()
	h.HandleWebhook(rec, signedWebhookRequest(t, "evt_1", "customer.subscription.created", object))
	assert.Equal(t, http.StatusOK, rec.Code)
	decodeAck(t, rec)
	assert.Equal(t, 7, user.MaxImages)
}

func TestHandleWebhookSubscriptionLifecycle(t *testing.T) {
	user := &models.User{UUID: uuid.New(), MaxImages: 5}
	users := &stubUserRepo{users: map[uuid.UUID]*models.User{user.UUID: user}}
	subs := &stubSubRepo{subs: map[string]*models.Subscription{}}
	h := newWebhookHandler(users, subs, newStubEventRepo())

	deliver := func(eventID, eventType, object string) {
		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, signedWebhookRequest(t, eventID, eventType, object))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	deliver("evt_1", "customer.subscription.created",
		subscriptionObjectJSON("sub_1", "price_pro", user.UUID.String(), "active"))
	assert.Equal(t, 100, user.MaxImages)

	user.ImagesGenerated = 60
	deliver("evt_2", "customer.subscription.updated",
		subscriptionObjectJSON("sub_1", "price_biz", user.UUID.String(), "active"))
	assert.Equal(t, 500, user.MaxImages)
	assert.Equal(t, 60, user.ImagesGenerated)

	deliver("evt_3", "invoice.payment_succeeded", fmt.Sprintf(`{
		"id": "in_1",
		"object": "invoice",
		"billing_reason": "subscription_cycle",
		"lines": {"object": "list", "data": [{"object": "line_item", "metadata": {"userId": %q}}]}
	}`, user.UUID.String()))
	assert.Equal(t, 0, user.ImagesGenerated)

	deliver("evt_4", "customer.subscription.deleted",
		subscriptionObjectJSON("sub_1", "price_biz", user.UUID.String(), "canceled"))
	assert.Equal(t, 5, user.MaxImages)
	assert.Equal(t, 0, user.ImagesGenerated)
	assert.Equal(t, models.SubscriptionStatusCanceled, subs.subs["sub_1"].Status)
}

func TestHandleWebhookUnknownEventTypeAcked(t *testing.T) {
	events := newStubEventRepo()
	h := newWebhookHandler(&stubUserRepo{users: map[uuid.UUID]*models.User{}}, &stubSubRepo{subs: map[string]*models.Subscription{}}, events)

	req := signedWebhookRequest(t, "evt_9", "customer.tax_id.created", `{"id":"txi_1","object":"tax_id"}`)
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	decodeAck(t, rec)
	errMsg, processed := events.processed["evt_9"]
	assert.True(t, processed)
	assert.Empty(t, errMsg)
}

func TestHandleWebhookReconcilerDataProblemStillAcked(t *testing.T) {
	// Unknown user on a subscription event is a data problem, not a
	// delivery failure; Stripe must not retry it forever.
	events := newStubEventRepo()
	h := newWebhookHandler(&stubUserRepo{users: map[uuid.UUID]*models.User{}}, &stubSubRepo{subs: map[string]*models.Subscription{}}, events)

	req := signedWebhookRequest(t, "evt_5", "customer.subscription.created",
		subscriptionObjectJSON("sub_1", "price_pro", uuid.New().String(), "active"))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	decodeAck(t, rec)
}

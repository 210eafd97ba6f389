// Package quota owns the arithmetic that keeps a user's generation
// counter consistent with their plan ceiling, and the admission gate
// that guards the external image-generation call.
package quota

import (
	"context"

	"github.com/google/uuid"

	"imageforge/models"
	"imageforge/repository"
)

// Usage is a snapshot of a user's counters, returned on both admissions
// and rejections so clients can render remaining quota.
type Usage struct {
	ImagesGenerated int `json:"images_generated"`
	MaxImages       int `json:"max_images"`
}

// CanAdmit reports whether the user has a free generation slot. Pure
// check; the authoritative decision is the conditional increment at
// commit time.
func CanAdmit(u *models.User) bool {
	return u.ImagesGenerated < u.MaxImages
}

// Ledger performs the counter mutations. All writes go through single
// atomic statements on the user row, so concurrent requests serialize at
// the storage layer.
type Ledger struct {
	Users repository.UserRepo
}

// RecordSuccess commits one generation against the user's quota. The
// increment applies only while the counter is below the ceiling; applied
// is false when a concurrent request took the last slot first.
func (l *Ledger) RecordSuccess(ctx context.Context, userID uuid.UUID) (Usage, bool, error) {
	generated, max, applied, err := l.Users.IncrementImagesIfBelow(ctx, userID)
	if err != nil {
		return Usage{}, false, err
	}
	return Usage{ImagesGenerated: generated, MaxImages: max}, applied, nil
}

// ResetCycle zeroes the counter. Called only for billing-cycle renewals
// and free-tier downgrades.
func (l *Ledger) ResetCycle(ctx context.Context, userID uuid.UUID) error {
	return l.Users.ResetImageCount(ctx, userID)
}

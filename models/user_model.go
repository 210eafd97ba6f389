package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type User struct {
	UUID             uuid.UUID      `db:"uuid" json:"uuid"`
	Name             string         `db:"name" json:"name"`
	Email            string         `db:"email" json:"email"`
	PasswordHash     string         `db:"password_hash" json:"-"`
	StripeCustomerID sql.NullString `db:"stripe_customer_id" json:"-"`
	ImagesGenerated  int            `db:"images_generated" json:"images_generated"`
	MaxImages        int            `db:"max_images" json:"max_images"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// RemainingImages never reports below zero; an external downgrade can
// leave the counter transiently above the ceiling.
func (u *User) RemainingImages() int {
	if remaining := u.MaxImages - u.ImagesGenerated; remaining > 0 {
		return remaining
	}
	return 0
}

type RegisterForm struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginForm struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserProfile struct {
	UUID            uuid.UUID `json:"uuid"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	ImagesGenerated int       `json:"images_generated"`
	MaxImages       int       `json:"max_images"`
	RemainingImages int       `json:"remaining_images"`
	CreatedAt       time.Time `json:"created_at"`
}

func (u *User) Profile() UserProfile {
	return UserProfile{
		UUID:            u.UUID,
		Name:            u.Name,
		Email:           u.Email,
		ImagesGenerated: u.ImagesGenerated,
		MaxImages:       u.MaxImages,
		RemainingImages: u.RemainingImages(),
		CreatedAt:       u.CreatedAt,
	}
}

package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type GeneratedImage struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	UserID        uuid.UUID      `db:"user_id" json:"user_id"`
	Prompt        string         `db:"prompt" json:"prompt"`
	RevisedPrompt sql.NullString `db:"revised_prompt" json:"-"`
	ImageURL      string         `db:"image_url" json:"url"`
	S3Key         sql.NullString `db:"s3_key" json:"-"`
	Size          string         `db:"size" json:"size"`
	Quality       string         `db:"quality" json:"quality"`
	Style         string         `db:"style" json:"style"`
	Model         string         `db:"model" json:"model"`
	Deleted       bool           `db:"deleted" json:"-"`
	DeletedAt     sql.NullTime   `db:"deleted_at" json:"-"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// ImageView is the API shape of a generated image.
type ImageView struct {
	ID            uuid.UUID `json:"id"`
	URL           string    `json:"url"`
	Prompt        string    `json:"prompt"`
	RevisedPrompt string    `json:"revised_prompt,omitempty"`
	Size          string    `json:"size"`
	Quality       string    `json:"quality"`
	Style         string    `json:"style"`
	CreatedAt     time.Time `json:"created_at"`
}

func (g *GeneratedImage) View() ImageView {
	return ImageView{
		ID:            g.ID,
		URL:           g.ImageURL,
		Prompt:        g.Prompt,
		RevisedPrompt: g.RevisedPrompt.String,
		Size:          g.Size,
		Quality:       g.Quality,
		Style:         g.Style,
		CreatedAt:     g.CreatedAt,
	}
}

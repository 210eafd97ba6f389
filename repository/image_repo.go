package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"imageforge/models"
)

type ImageRepo interface {
	Insert(ctx context.Context, img *models.GeneratedImage) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.GeneratedImage, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
	SoftDelete(ctx context.Context, id, userID uuid.UUID) error
	// PurgeDeletedBefore removes soft-deleted rows older than cutoff and
	// returns the S3 keys of anything that was archived.
	PurgeDeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

type postgresImageRepo struct {
	db *sqlx.DB
}

func NewImageRepo(db *sqlx.DB) ImageRepo {
	return &postgresImageRepo{db: db}
}

func (r *postgresImageRepo) Insert(ctx context.Context, img *models.GeneratedImage) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO generated_images (id, user_id, prompt, revised_prompt,
		                              image_url, s3_key, size, quality, style, model)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, img.ID, img.UserID, img.Prompt, img.RevisedPrompt, img.ImageURL,
		img.S3Key, img.Size, img.Quality, img.Style, img.Model).Scan(&img.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert generated image: %w", err)
	}
	return nil
}

func (r *postgresImageRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.GeneratedImage, error) {
	images := []models.GeneratedImage{}
	err := r.db.SelectContext(ctx, &images, `
		SELECT id, user_id, prompt, revised_prompt, image_url, s3_key,
		       size, quality, style, model, deleted, deleted_at, created_at
		FROM generated_images
		WHERE user_id = $1 AND deleted = FALSE
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list generated images: %w", err)
	}
	return images, nil
}

func (r *postgresImageRepo) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM generated_images
		WHERE user_id = $1 AND deleted = FALSE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count generated images: %w", err)
	}
	return count, nil
}

func (r *postgresImageRepo) SoftDelete(ctx context.Context, id, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE generated_images
		SET deleted = TRUE, deleted_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted = FALSE
	`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete generated image: %w", err)
	}
	return requireRow(res)
}

func (r *postgresImageRepo) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		DELETE FROM generated_images
		WHERE deleted = TRUE AND deleted_at < $1
		RETURNING s3_key
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge deleted images: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key *string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if key != nil && *key != "" {
			keys = append(keys, *key)
		}
	}
	return keys, rows.Err()
}

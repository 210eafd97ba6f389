package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"imageforge/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already in use")
)

// UserRepo is the credential-store and quota-state collaborator. The
// quota arithmetic lives behind IncrementImagesIfBelow so the
// admit-and-increment step is one atomic statement per user.
type UserRepo interface {
	Create(ctx context.Context, name, email, passwordHash string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateInfo(ctx context.Context, id uuid.UUID, name, email string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	// IncrementImagesIfBelow bumps images_generated by one only while it
	// is still below max_images, returning the resulting counters and
	// whether the increment was applied.
	IncrementImagesIfBelow(ctx context.Context, id uuid.UUID) (generated, max int, applied bool, err error)
	ResetImageCount(ctx context.Context, id uuid.UUID) error
	SetMaxImages(ctx context.Context, id uuid.UUID, max int) error
	// DowngradeToFree drops the ceiling to the free tier and zeroes the
	// counter in a single statement.
	DowngradeToFree(ctx context.Context, id uuid.UUID, freeMax int) error
	// SetStripeCustomerIDIfEmpty binds the Stripe customer exactly once;
	// later calls with a different customer are no-ops.
	SetStripeCustomerIDIfEmpty(ctx context.Context, id uuid.UUID, customerID string) error
}

type postgresUserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) UserRepo {
	return &postgresUserRepo{db: db}
}

func (r *postgresUserRepo) Create(ctx context.Context, name, email, passwordHash string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (name, email, password_hash)
		VALUES ($1, lower($2), $3)
		RETURNING uuid, name, email, password_hash, stripe_customer_id,
		          images_generated, max_images, created_at, updated_at
	`, name, email, passwordHash)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (r *postgresUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `
		SELECT uuid, name, email, password_hash, stripe_customer_id,
		       images_generated, max_images, created_at, updated_at
		FROM users WHERE uuid = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *postgresUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `
		SELECT uuid, name, email, password_hash, stripe_customer_id,
		       images_generated, max_images, created_at, updated_at
		FROM users WHERE email = lower($1)
	`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

func (r *postgresUserRepo) UpdateInfo(ctx context.Context, id uuid.UUID, name, email string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET name = $1, email = lower($2), updated_at = now()
		WHERE uuid = $3
	`, name, email, id)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to update user info: %w", err)
	}
	return requireRow(res)
}

func (r *postgresUserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, updated_at = now()
		WHERE uuid = $2
	`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRow(res)
}

func (r *postgresUserRepo) IncrementImagesIfBelow(ctx context.Context, id uuid.UUID) (int, int, bool, error) {
	var generated, max int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET images_generated = images_generated + 1, updated_at = now()
		WHERE uuid = $1 AND images_generated < max_images
		RETURNING images_generated, max_images
	`, id).Scan(&generated, &max)
	if err == nil {
		return generated, max, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, fmt.Errorf("failed to increment image count: %w", err)
	}

	// Either the user is at the ceiling or does not exist; fetch the
	// counters so the caller can surface them.
	err = r.db.QueryRowContext(ctx, `
		SELECT images_generated, max_images FROM users WHERE uuid = $1
	`, id).Scan(&generated, &max)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, false, ErrNotFound
		}
		return 0, 0, false, fmt.Errorf("failed to read image counters: %w", err)
	}
	return generated, max, false, nil
}

func (r *postgresUserRepo) ResetImageCount(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET images_generated = 0, updated_at = now()
		WHERE uuid = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to reset image count: %w", err)
	}
	return requireRow(res)
}

func (r *postgresUserRepo) SetMaxImages(ctx context.Context, id uuid.UUID, max int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET max_images = $1, updated_at = now()
		WHERE uuid = $2
	`, max, id)
	if err != nil {
		return fmt.Errorf("failed to set image ceiling: %w", err)
	}
	return requireRow(res)
}

func (r *postgresUserRepo) DowngradeToFree(ctx context.Context, id uuid.UUID, freeMax int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET max_images = $1, images_generated = 0, updated_at = now()
		WHERE uuid = $2
	`, freeMax, id)
	if err != nil {
		return fmt.Errorf("failed to downgrade user: %w", err)
	}
	return requireRow(res)
}

func (r *postgresUserRepo) SetStripeCustomerIDIfEmpty(ctx context.Context, id uuid.UUID, customerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET stripe_customer_id = $1, updated_at = now()
		WHERE uuid = $2 AND stripe_customer_id IS NULL
	`, customerID, id)
	if err != nil {
		return fmt.Errorf("failed to bind stripe customer: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

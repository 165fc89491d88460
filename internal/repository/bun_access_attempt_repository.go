package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/yunogate/yunogate/internal/db/bunx"
	"github.com/yunogate/yunogate/internal/db/models"
)

// BunAccessAttemptRepository implements AccessAttemptRepository using Bun ORM
type BunAccessAttemptRepository struct {
	db *bun.DB
}

// NewBunAccessAttemptRepository creates a new Bun-based access attempt repository
func NewBunAccessAttemptRepository(db *bun.DB) *BunAccessAttemptRepository {
	return &BunAccessAttemptRepository{db: db}
}

// Record appends one rejection to the ledger
func (r *BunAccessAttemptRepository) Record(ctx context.Context, attempt *models.AccessAttempt) error {
	if attempt.ID == "" {
		attempt.ID = bunx.NewUUIDv7()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}

	_, err := r.db.NewInsert().
		Model(attempt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record access attempt: %w", err)
	}
	return nil
}

// CountByOriginSince counts rejections from one origin inside the cooloff window
func (r *BunAccessAttemptRepository) CountByOriginSince(ctx context.Context, origin string, since time.Time) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.AccessAttempt)(nil)).
		Where("origin = ?", origin).
		Where("created_at >= ?", since).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count access attempts: %w", err)
	}
	return count, nil
}

// List retrieves all recorded attempts, newest first
func (r *BunAccessAttemptRepository) List(ctx context.Context) ([]models.AccessAttempt, error) {
	var attempts []models.AccessAttempt
	err := r.db.NewSelect().
		Model(&attempts).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list access attempts: %w", err)
	}
	return attempts, nil
}

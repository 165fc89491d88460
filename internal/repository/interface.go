package repository

import (
	"context"
	"time"

	"github.com/yunogate/yunogate/internal/db/models"
)

// UserRepository exposes persistence operations for SSO-provisioned users.
//
// Create must surface the storage layer's unique-constraint violation on username
// unchanged: the provisioner relies on it to make concurrent first-time provisioning
// idempotent (the loser of the race re-fetches the winner's row).
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	// UpdateFields persists only the named columns of an existing user.
	UpdateFields(ctx context.Context, user *models.User, fields ...string) error
	UpdateLastLogin(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.User, error)
}

// SessionRepository exposes persistence operations for login sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	UpdateLastUsed(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
	RevokeByUserID(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context) error
}

// AccessAttemptRepository is the durable side of the lockout ledger.
type AccessAttemptRepository interface {
	Record(ctx context.Context, attempt *models.AccessAttempt) error
	CountByOriginSince(ctx context.Context, origin string, since time.Time) (int, error)
	List(ctx context.Context) ([]models.AccessAttempt, error)
}

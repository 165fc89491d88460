package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/yunogate/yunogate/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20260115000001, down_20260115000001)
}

// up_20260115000001 creates the users, sessions and access_attempts tables
func up_20260115000001(ctx context.Context, db *bun.DB) error {
	// 1. Create users table
	fmt.Print(" [up] creating users table...")
	_, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	// The unique index on username is what makes concurrent first-time provisioning
	// idempotent; creation must never succeed twice for one username.
	_, err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(username)`)
	if err != nil {
		return fmt.Errorf("failed to create users username index: %w", err)
	}
	fmt.Println(" OK")

	// 2. Create sessions table
	fmt.Print(" [up] creating sessions table...")
	_, err = db.NewCreateTable().
		Model((*models.Session)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_token_hash ON sessions(token_hash)`)
	if err != nil {
		return fmt.Errorf("failed to create sessions token_hash index: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`)
	if err != nil {
		return fmt.Errorf("failed to create sessions user_id index: %w", err)
	}

	// The expiry sweep scans by expires_at. PostgreSQL gets a partial index since
	// revoked sessions are deleted by the same sweep anyway.
	expiryIndex := `CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`
	if IsPostgreSQL(db) {
		expiryIndex += ` WHERE revoked = false`
	}
	if _, err = db.Exec(expiryIndex); err != nil {
		return fmt.Errorf("failed to create sessions expires_at index: %w", err)
	}
	fmt.Println(" OK")

	// 3. Create access_attempts table
	fmt.Print(" [up] creating access_attempts table...")
	_, err = db.NewCreateTable().
		Model((*models.AccessAttempt)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create access_attempts table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_access_attempts_origin_created ON access_attempts(origin, created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create access_attempts origin index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20260115000001 drops the auth tables
func down_20260115000001(ctx context.Context, db *bun.DB) error {
	for _, model := range []interface{}{
		(*models.AccessAttempt)(nil),
		(*models.Session)(nil),
		(*models.User)(nil),
	} {
		fmt.Printf(" [down] dropping %T table...", model)
		_, err := db.NewDropTable().
			Model(model).
			IfExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
		fmt.Println(" OK")
	}
	return nil
}

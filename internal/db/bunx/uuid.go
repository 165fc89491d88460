package bunx

import "github.com/google/uuid"

// NewUUIDv7 generates a time-ordered UUIDv7 string for database primary keys.
//
// UUIDv7 keeps index inserts roughly append-only and works on both PostgreSQL and
// SQLite without a gen_random_uuid() dependency. Generation only fails on
// catastrophic entropy exhaustion, in which case nothing else works either, so the
// panic path is acceptable.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

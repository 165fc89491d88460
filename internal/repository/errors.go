package repository

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err is a repository not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUniqueViolation reports whether err stems from a unique-constraint violation.
// Both pgdriver and modernc sqlite only expose this through the error text, so the
// match is on the message. Covers "duplicate key value" (PostgreSQL) and
// "UNIQUE constraint failed" (SQLite).
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

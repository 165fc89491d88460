package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// User represents a human principal provisioned from the SSO proxy.
//
// The username is the durable key and is immutable once created: the SSO gateway owns
// identity, this service only mirrors it. Password authentication is never used, so
// HasUsablePassword stays false for every row this subsystem creates.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                string     `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Username          string     `bun:"username,notnull,unique"`
	Email             string     `bun:"email"`
	FirstName         string     `bun:"first_name"`
	LastName          string     `bun:"last_name"`
	IsStaff           bool       `bun:"is_staff,notnull,default:false"`
	IsSuperuser       bool       `bun:"is_superuser,notnull,default:false"`
	IsActive          bool       `bun:"is_active,notnull,default:true"`
	HasUsablePassword bool       `bun:"has_usable_password,notnull,default:false"`
	CreatedAt         time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	LastLoginAt       *time.Time `bun:"last_login_at"`
}

// FullName joins the display-name parts the way the proxy supplied them.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Session binds a provisioned user to a browser for the lifetime of one SSO login.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:sess"`

	ID         string    `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	UserID     string    `bun:"user_id,notnull,type:uuid"` // FK to users(id)
	Username   string    `bun:"username,notnull"`          // Denormalized for the per-request binding check
	TokenHash  string    `bun:"token_hash,notnull,unique"` // SHA256 hash of the session cookie value
	ExpiresAt  time.Time `bun:"expires_at,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
	LastUsedAt time.Time `bun:"last_used_at,notnull,default:current_timestamp"`
	UserAgent  *string   `bun:"user_agent"`
	IPAddress  *string   `bun:"ip_address"`
	Revoked    bool      `bun:"revoked,notnull,default:false"`
}

// AccessAttempt is one entry in the lockout ledger. Every reconciliation rejection is
// recorded exactly once with its machine-readable reason so operators can tell spoofing
// attempts apart from misconfiguration.
type AccessAttempt struct {
	bun.BaseModel `bun:"table:access_attempts,alias:aa"`

	ID        string    `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Origin    string    `bun:"origin,notnull"`   // Client IP as reported by the proxy
	Username  string    `bun:"username,notnull"` // Username asserted by the proxy header
	Reason    string    `bun:"reason,notnull"`   // Stable rejection reason code
	Path      string    `bun:"path"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

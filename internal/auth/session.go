package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TokenLength is the length of generated session tokens in bytes.
const TokenLength = 32

// GenerateSessionToken generates a cryptographically secure random session
// token. Returns the token (hex string) and its SHA256 hex hash for storage.
// Only the hash is ever persisted.
func GenerateSessionToken() (string, string, error) {
	tokenBytes := make([]byte, TokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("generate random token: %w", err)
	}

	token := hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken hashes a session token for storage and lookup.
func HashSessionToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateSession checks expiration, revocation and the backing identity.
func ValidateSession(expiresAt time.Time, revoked bool, userActive bool) error {
	if time.Now().After(expiresAt) {
		return fmt.Errorf("session expired")
	}
	if revoked {
		return fmt.Errorf("session revoked")
	}
	if !userActive {
		return fmt.Errorf("user deactivated")
	}
	return nil
}

// Package ssotoken verifies the signed portal token the SSO gateway sets as a cookie.
//
// The token is an HMAC-SHA256 JWT carrying the authenticated username. It is signed with
// a pre-shared key known to the gateway and this service; there is no issuer discovery
// and no asymmetric trust chain. Verification is pure: signature, expiry, and a username
// comparison against the value asserted by the trusted proxy header.
package ssotoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed indicates the token could not be decoded at all.
	ErrMalformed = errors.New("portal token malformed")

	// ErrExpired indicates the token's validity window has elapsed.
	ErrExpired = errors.New("portal token expired")

	// ErrInvalidSignature indicates the signature check failed.
	ErrInvalidSignature = errors.New("portal token signature invalid")
)

// UsernameMismatchError reports a decoded token whose embedded username disagrees with
// the username asserted by the proxy header. Both values are carried for diagnostics;
// this condition must never pass silently.
type UsernameMismatchError struct {
	Claimed  string // username embedded in the token
	Expected string // username asserted by the proxy header
}

func (e *UsernameMismatchError) Error() string {
	return fmt.Sprintf("portal token username mismatch: jwt_username=%q is not %q", e.Claimed, e.Expected)
}

// PortalClaims is the claim set the SSO gateway embeds in the portal cookie.
type PortalClaims struct {
	Username string `json:"user"`
	jwt.RegisteredClaims
}

// Verifier validates portal tokens against a process-wide pre-shared key.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given pre-shared key.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify decodes and validates a portal token and compares its embedded username with
// expectedUsername. It has no side effects.
//
// Error mapping: undecodable input yields ErrMalformed, an elapsed validity window
// yields ErrExpired, a failing signature check yields ErrInvalidSignature, and a
// decoded-but-disagreeing username yields *UsernameMismatchError.
func (v *Verifier) Verify(token, expectedUsername string) error {
	claims := new(PortalClaims)
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return fmt.Errorf("%w: %v", ErrExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			// Unknown signing method, bad claim types and friends: not trustworthy.
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	if claims.Username != expectedUsername {
		return &UsernameMismatchError{Claimed: claims.Username, Expected: expectedUsername}
	}

	return nil
}

// Issue creates a signed portal token for username, valid for ttl. The SSO gateway is
// the normal issuer; this exists for local development and tests.
func (v *Verifier) Issue(username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := PortalClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign portal token: %w", err)
	}
	return signed, nil
}

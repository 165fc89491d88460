package ssotoken

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue("alice", time.Hour)
	require.NoError(t, err)

	require.NoError(t, v.Verify(token, "alice"))
}

func TestVerifyUsernameMismatch(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue("mallory", time.Hour)
	require.NoError(t, err)

	err = v.Verify(token, "carol")
	require.Error(t, err)

	var mismatch *UsernameMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "mallory", mismatch.Claimed)
	assert.Equal(t, "carol", mismatch.Expected)
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewVerifier("test-secret")

	// Valid at issuance, past expiry at verification time.
	token, err := v.Issue("bob", -time.Minute)
	require.NoError(t, err)

	err = v.Verify(token, "bob")
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyWrongKey(t *testing.T) {
	issuer := NewVerifier("gateway-secret")
	v := NewVerifier("different-secret")

	token, err := issuer.Issue("bob", time.Hour)
	require.NoError(t, err)

	err = v.Verify(token, "bob")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyMalformedToken(t *testing.T) {
	v := NewVerifier("test-secret")

	for _, token := range []string{"", "not-a-jwt", "a.b", "x.y.z"} {
		err := v.Verify(token, "bob")
		assert.ErrorIs(t, err, ErrMalformed, "token %q", token)
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	v := NewVerifier("test-secret")

	// alg=none tokens must never validate.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, PortalClaims{
		Username: "bob",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	err = v.Verify(token, "bob")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrExpired))
}

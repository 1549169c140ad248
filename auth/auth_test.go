package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

func signedToken(t *testing.T, key []byte, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString(key)
	require.NoError(t, err)
	return raw
}

func TestUserFromRequest(t *testing.T) {
	a := NewAuthorizer(testKey, nil)

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+signedToken(t, testKey, "user-1"))

		user, err := a.UserFromRequest(r)
		require.NoError(t, err)
		assert.Equal(t, "user-1", user)
	})

	t.Run("missing header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		_, err := a.UserFromRequest(r)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong key", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+signedToken(t, []byte("other-key"), "user-1"))
		_, err := a.UserFromRequest(r)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired token", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		raw, err := token.SignedString(testKey)
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+raw)
		_, err = a.UserFromRequest(r)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		raw, err := token.SignedString(testKey)
		require.NoError(t, err)

		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+raw)
		_, err = a.UserFromRequest(r)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

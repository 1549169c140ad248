// Package auth resolves bearer sessions to users and enforces workspace
// membership. Session issuance lives outside the core; this package only
// verifies what the external auth system minted.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// MembershipChecker reports whether a user belongs to a workspace. It is
// satisfied by *store.Store.
type MembershipChecker interface {
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

// Auth errors, mapped to 401/403 by the HTTP handlers.
var (
	ErrUnauthorized = errors.New("missing or invalid session")
	ErrForbidden    = errors.New("caller is not a member of the workspace")
)

// Authorizer verifies sessions and membership.
type Authorizer struct {
	signingKey []byte
	store      MembershipChecker
}

// NewAuthorizer creates an authorizer. The signing key verifies the HMAC
// signature of session tokens.
func NewAuthorizer(signingKey []byte, st MembershipChecker) *Authorizer {
	return &Authorizer{signingKey: signingKey, store: st}
}

// UserFromRequest extracts and verifies the bearer session, returning the
// user id carried in the token's subject.
func (a *Authorizer) UserFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrUnauthorized
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil || !token.Valid {
		return "", ErrUnauthorized
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrUnauthorized
	}
	return sub, nil
}

// RequireMember verifies the session and checks the user's membership in
// the workspace. Returns the user id on success.
func (a *Authorizer) RequireMember(ctx context.Context, r *http.Request, workspaceID string) (string, error) {
	userID, err := a.UserFromRequest(r)
	if err != nil {
		return "", err
	}
	if workspaceID == "" {
		return "", fmt.Errorf("workspace id is required: %w", ErrForbidden)
	}
	ok, err := a.store.IsMember(ctx, workspaceID, userID)
	if err != nil {
		return "", fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return "", ErrForbidden
	}
	return userID, nil
}

// StatusFor maps auth errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

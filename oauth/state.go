// Package oauth implements the Meta OAuth dance: HMAC-signed state, code
// exchange and resource enumeration into the integration store.
package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StateTTL is how long a signed state stays valid.
const StateTTL = 10 * time.Minute

// StatePayload ties an OAuth round-trip to the workspace and user that
// started it. The timestamp is epoch milliseconds.
type StatePayload struct {
	WorkspaceID string `json:"wid"`
	UserID      string `json:"uid"`
	Timestamp   int64  `json:"ts"`
}

// SignState encodes and signs a state payload:
// base64url(payload) + "." + hex(HMAC-SHA256(secret, payload)).
func SignState(secret []byte, p StatePayload) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("state secret is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return base64.RawURLEncoding.EncodeToString(data) + "." + hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyState checks the signature and freshness of a state parameter and
// returns the payload. It rejects tampered payloads, signatures minted with
// a different secret, and states older than StateTTL.
func VerifyState(secret []byte, state string, now time.Time) (*StatePayload, error) {
	encoded, sig, ok := strings.Cut(state, ".")
	if !ok {
		return nil, fmt.Errorf("malformed state")
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed state payload")
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("malformed state signature")
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return nil, fmt.Errorf("state signature mismatch")
	}

	var p StatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode state payload: %w", err)
	}
	if p.WorkspaceID == "" || p.UserID == "" {
		return nil, fmt.Errorf("state payload is incomplete")
	}
	age := now.Sub(time.UnixMilli(p.Timestamp))
	if age > StateTTL || age < 0 {
		return nil, fmt.Errorf("state expired")
	}
	return &p, nil
}

package oauth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stateSecret = []byte("state-secret")

func payload(ts time.Time) StatePayload {
	return StatePayload{
		WorkspaceID: "ws1",
		UserID:      "user-1",
		Timestamp:   ts.UnixMilli(),
	}
}

func TestStateRoundTrip(t *testing.T) {
	now := time.Now()
	state, err := SignState(stateSecret, payload(now))
	require.NoError(t, err)
	assert.Contains(t, state, ".")

	got, err := VerifyState(stateSecret, state, now)
	require.NoError(t, err)
	assert.Equal(t, "ws1", got.WorkspaceID)
	assert.Equal(t, "user-1", got.UserID)
}

func TestVerifyStateRejections(t *testing.T) {
	now := time.Now()
	state, err := SignState(stateSecret, payload(now))
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := VerifyState([]byte("other-secret"), state, now)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := VerifyState(stateSecret, state, now.Add(11*time.Minute))
		assert.Error(t, err)
	})

	t.Run("still valid just inside the window", func(t *testing.T) {
		_, err := VerifyState(stateSecret, state, now.Add(9*time.Minute))
		assert.NoError(t, err)
	})

	t.Run("future timestamp", func(t *testing.T) {
		future, err := SignState(stateSecret, payload(now.Add(time.Hour)))
		require.NoError(t, err)
		_, err = VerifyState(stateSecret, future, now)
		assert.Error(t, err)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.SplitN(state, ".", 2)
		tampered := parts[0] + "x." + parts[1]
		_, err := VerifyState(stateSecret, tampered, now)
		assert.Error(t, err)
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := VerifyState(stateSecret, "nodotatall", now)
		assert.Error(t, err)
	})

	t.Run("empty payload fields", func(t *testing.T) {
		state, err := SignState(stateSecret, StatePayload{Timestamp: now.UnixMilli()})
		require.NoError(t, err)
		_, err = VerifyState(stateSecret, state, now)
		assert.Error(t, err)
	})
}

func TestSignStateRequiresSecret(t *testing.T) {
	_, err := SignState(nil, payload(time.Now()))
	assert.Error(t, err)
}

func TestAuthorizeURL(t *testing.T) {
	g := NewGraphClient("app123", "secret")
	u := g.AuthorizeURL("https://hub.example.com/oauth/meta/callback", "state-xyz")
	assert.Contains(t, u, "client_id=app123")
	assert.Contains(t, u, "state=state-xyz")
	assert.Contains(t, u, "leads_retrieval")
	assert.NotContains(t, u, "secret")
}

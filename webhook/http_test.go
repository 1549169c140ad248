package webhook

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/metahub/delivery"
)

func testComponent(t *testing.T) *Component {
	t.Helper()
	deduper, err := NewDeduper("")
	require.NoError(t, err)
	return &Component{
		name:    "webhook",
		config:  Config{VerifyToken: "token123", AppSecret: "secret"},
		logger:  slog.Default(),
		deduper: deduper,
	}
}

func TestHandleChallenge(t *testing.T) {
	c := testComponent(t)

	get := func(params url.Values) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/webhook/meta?"+params.Encode(), nil)
		w := httptest.NewRecorder()
		c.handleMeta(w, r)
		return w
	}

	t.Run("valid token echoes challenge", func(t *testing.T) {
		w := get(url.Values{
			"hub.mode":         {"subscribe"},
			"hub.verify_token": {"token123"},
			"hub.challenge":    {"challenge-xyz"},
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "challenge-xyz", w.Body.String())
	})

	t.Run("wrong token is forbidden", func(t *testing.T) {
		w := get(url.Values{
			"hub.mode":         {"subscribe"},
			"hub.verify_token": {"wrong"},
			"hub.challenge":    {"challenge-xyz"},
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("wrong mode is forbidden", func(t *testing.T) {
		w := get(url.Values{
			"hub.mode":         {"unsubscribe"},
			"hub.verify_token": {"token123"},
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("secret")
	body := []byte(`{"object":"page"}`)
	valid := "sha256=" + delivery.SignBody(secret, body)

	assert.True(t, verifySignature(secret, body, valid))
	assert.False(t, verifySignature(secret, body, "sha256=deadbeef"))
	assert.False(t, verifySignature(secret, body, ""))
	assert.False(t, verifySignature(secret, body, "sha1=abc"))
	assert.False(t, verifySignature(secret, []byte("tampered"), valid))
}

func TestHandleEnvelopeRejectsBadSignature(t *testing.T) {
	c := testComponent(t)

	r := httptest.NewRequest(http.MethodPost, "/webhook/meta", strings.NewReader(`{"object":"page","entry":[{"id":"1"}]}`))
	r.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	c.handleMeta(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleEnvelopeMissingSignature(t *testing.T) {
	c := testComponent(t)

	r := httptest.NewRequest(http.MethodPost, "/webhook/meta", strings.NewReader(`{"object":"page","entry":[{"id":"1"}]}`))
	w := httptest.NewRecorder()
	c.handleMeta(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "posts without a signature are rejected when a secret is configured")
}

func TestHandleMetaMethodNotAllowed(t *testing.T) {
	c := testComponent(t)

	r := httptest.NewRequest(http.MethodDelete, "/webhook/meta", nil)
	w := httptest.NewRecorder()
	c.handleMeta(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	assert.Error(t, cfg.Validate())

	cfg.VerifyToken = "t"
	assert.NoError(t, cfg.Validate())
}

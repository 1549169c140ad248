package delivery

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/metahub/store"
)

func testDestination(url string) *store.Destination {
	return &store.Destination{
		ID:          "d1",
		WorkspaceID: "ws1",
		URL:         url,
		Method:      "POST",
		AuthType:    store.AuthNone,
		TimeoutMs:   2000,
		IsActive:    true,
	}
}

func TestClientCall(t *testing.T) {
	t.Run("success captures status and body", func(t *testing.T) {
		var gotHeaders http.Header
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeaders = r.Header.Clone()
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		dest := testDestination(srv.URL)
		dest.Headers = map[string]string{"X-Custom": "yes"}

		res := NewClient().Call(context.Background(), dest, []byte(`{"a":1}`), "ev1", 1)
		require.NotNil(t, res.StatusCode)
		assert.Equal(t, 202, *res.StatusCode)
		assert.True(t, res.Success())
		assert.Equal(t, `{"ok":true}`, res.ResponseBody)
		assert.Empty(t, res.ErrorMessage)
		assert.GreaterOrEqual(t, res.DurationMs, int64(0))

		assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
		assert.Equal(t, "ev1", gotHeaders.Get("X-MetaHub-Event-Id"))
		assert.Equal(t, "1", gotHeaders.Get("X-MetaHub-Attempt"))
		assert.Equal(t, "yes", gotHeaders.Get("X-Custom"))
	})

	t.Run("non-2xx is a failure with error message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		res := NewClient().Call(context.Background(), testDestination(srv.URL), nil, "ev1", 1)
		require.NotNil(t, res.StatusCode)
		assert.Equal(t, 500, *res.StatusCode)
		assert.False(t, res.Success())
		assert.Contains(t, res.ErrorMessage, "HTTP 500")
	})

	t.Run("timeout yields no status code", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		dest := testDestination(srv.URL)
		dest.TimeoutMs = 1000

		start := time.Now()
		res := NewClient().Call(context.Background(), dest, nil, "ev1", 1)
		assert.Nil(t, res.StatusCode)
		assert.True(t, strings.HasPrefix(res.ErrorMessage, "Timeout after 1000ms"), res.ErrorMessage)
		assert.GreaterOrEqual(t, res.DurationMs, int64(1000))
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("connection refused yields error", func(t *testing.T) {
		res := NewClient().Call(context.Background(), testDestination("http://127.0.0.1:1/"), nil, "ev1", 1)
		assert.Nil(t, res.StatusCode)
		assert.NotEmpty(t, res.ErrorMessage)
	})

	t.Run("response body is truncated", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
		}))
		defer srv.Close()

		res := NewClient().Call(context.Background(), testDestination(srv.URL), nil, "ev1", 1)
		assert.Len(t, res.ResponseBody, maxResponseBytes)
	})
}

func TestClientAuth(t *testing.T) {
	capture := func(t *testing.T, dest *store.Destination, body []byte) http.Header {
		t.Helper()
		var got http.Header
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Clone()
		}))
		defer srv.Close()
		dest.URL = srv.URL
		NewClient().Call(context.Background(), dest, body, "ev1", 1)
		return got
	}

	t.Run("bearer", func(t *testing.T) {
		dest := testDestination("")
		dest.AuthType = store.AuthBearer
		dest.AuthConfig = map[string]string{"token": "tok123"}
		h := capture(t, dest, nil)
		assert.Equal(t, "Bearer tok123", h.Get("Authorization"))
	})

	t.Run("basic", func(t *testing.T) {
		dest := testDestination("")
		dest.AuthType = store.AuthBasic
		dest.AuthConfig = map[string]string{"username": "u", "password": "p"}
		h := capture(t, dest, nil)
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("u:p"))
		assert.Equal(t, want, h.Get("Authorization"))
	})

	t.Run("api key with custom header", func(t *testing.T) {
		dest := testDestination("")
		dest.AuthType = store.AuthAPIKey
		dest.AuthConfig = map[string]string{"header_name": "X-Secret", "api_key": "k"}
		h := capture(t, dest, nil)
		assert.Equal(t, "k", h.Get("X-Secret"))
	})

	t.Run("hmac signs the body", func(t *testing.T) {
		dest := testDestination("")
		dest.AuthType = store.AuthHMAC
		dest.AuthConfig = map[string]string{"secret": "s3cr3t"}
		body := []byte(`{"a":1}`)
		h := capture(t, dest, body)
		assert.Equal(t, "sha256="+SignBody([]byte("s3cr3t"), body), h.Get("X-Hub-Signature-256"))
	})

	t.Run("none adds nothing", func(t *testing.T) {
		h := capture(t, testDestination(""), nil)
		assert.Empty(t, h.Get("Authorization"))
	})
}

package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/metahub/store"
)

func TestNotifyWebhook(t *testing.T) {
	history := &store.AlertHistory{
		ID:          "h1",
		WorkspaceID: "ws1",
		RuleID:      "r1",
		Status:      store.AlertTriggered,
	}

	t.Run("posts the history JSON", func(t *testing.T) {
		var got store.AlertHistory
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		}))
		defer srv.Close()

		rule := &store.AlertRule{NotifyConfig: map[string]string{"webhook_url": srv.URL}}
		n := NewNotifier(nil, "")
		require.NoError(t, n.notifyWebhook(context.Background(), rule, history))
		assert.Equal(t, "h1", got.ID)
	})

	t.Run("non-2xx is a failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		rule := &store.AlertRule{NotifyConfig: map[string]string{"webhook_url": srv.URL}}
		n := NewNotifier(nil, "")
		assert.Error(t, n.notifyWebhook(context.Background(), rule, history))
	})

	t.Run("missing url is a failure", func(t *testing.T) {
		n := NewNotifier(nil, "")
		assert.Error(t, n.notifyWebhook(context.Background(), &store.AlertRule{}, history))
	})
}

func TestNotifyEmailUnconfigured(t *testing.T) {
	n := NewNotifier(nil, "")
	rule := &store.AlertRule{NotifyConfig: map[string]string{"email": "ops@example.com"}}
	assert.Error(t, n.notifyEmail(rule, &store.AlertHistory{}), "email channel without a key must not be recorded as notified")
}

func TestNotifyRecordsAcceptedChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	rule := &store.AlertRule{
		NotifyChannels: []string{"webhook", "email"},
		NotifyConfig:   map[string]string{"webhook_url": srv.URL},
	}
	n := NewNotifier(nil, "")
	accepted := n.Notify(context.Background(), rule, &store.AlertHistory{ID: "h1"})
	assert.Equal(t, []string{"webhook"}, accepted, "only channels that accepted are recorded")
}

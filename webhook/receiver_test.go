package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/metahub/routing"
	"github.com/c360studio/metahub/store"
)

const whatsappEnvelope = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "entry-1",
		"changes": [{
			"field": "messages",
			"value": {
				"metadata": {"phone_number_id": "15550001111"},
				"messages": [{"id": "wamid.ABC"}]
			}
		}]
	}]
}`

// testReceiver builds a receiver over an embedded JetStream server and a
// miniredis-backed deduper. No NATS client is wired, so dispatch nudges are
// skipped and events wait for the sweep.
func testReceiver(t *testing.T) (*Component, *store.Store, jetstream.JetStream) {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server did not become ready")
	}
	t.Cleanup(ns.Shutdown)

	conn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	js, err := jetstream.New(conn)
	require.NoError(t, err)

	st, err := store.NewStore(context.Background(), js)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	c := &Component{
		name:     "webhook",
		config:   Config{VerifyToken: "token123"},
		logger:   slog.Default(),
		store:    st,
		resolver: routing.NewResolver(st),
		deduper:  newDeduperWithClient(client, time.Hour),
		enricher: NewEnricher(),
	}
	return c, st, js
}

func createRoute(t *testing.T, st *store.Store) string {
	t.Helper()
	ctx := context.Background()

	destID, err := st.CreateDestination(ctx, &store.Destination{
		WorkspaceID: "ws1",
		Name:        "crm",
		URL:         "https://example.com/hook",
		IsActive:    true,
	})
	require.NoError(t, err)

	routeID, err := st.CreateRoute(ctx, &store.Route{
		WorkspaceID:   "ws1",
		SourceType:    SourceWhatsApp,
		SourceID:      "15550001111",
		DestinationID: destID,
		IsActive:      true,
	})
	require.NoError(t, err)
	return routeID
}

func TestProcessEnvelopeCreatesEvents(t *testing.T) {
	c, st, _ := testReceiver(t)
	ctx := context.Background()
	createRoute(t, st)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(whatsappEnvelope), &env))

	result := c.ProcessEnvelope(ctx, &env)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Failed)

	events, err := st.QueryByStatus(ctx, []store.EventStatus{store.StatusPending}, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ws1", events[0].WorkspaceID)
	assert.Equal(t, "wamid.ABC", events[0].SourceEventID)

	// The provider event id was marked, so a redelivery is dropped.
	seen, err := c.deduper.Seen(ctx, "wamid.ABC")
	require.NoError(t, err)
	assert.True(t, seen)

	result = c.ProcessEnvelope(ctx, &env)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Failed)
}

func TestProcessEnvelopeNoRoutes(t *testing.T) {
	c, _, _ := testReceiver(t)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(whatsappEnvelope), &env))

	result := c.ProcessEnvelope(context.Background(), &env)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Failed, "an unrouted event is ignored, not an error")
}

func TestHandleEnvelopeEnqueueFailureReturns500(t *testing.T) {
	c, _, js := testReceiver(t)
	ctx := context.Background()
	createRoute(t, c.store)

	// Dropping the events bucket makes CreateEvent fail while routes still
	// resolve: the enqueue itself is what breaks.
	require.NoError(t, js.DeleteKeyValue(ctx, store.BucketEvents))

	r := httptest.NewRequest(http.MethodPost, "/webhook/meta", strings.NewReader(whatsappEnvelope))
	w := httptest.NewRecorder()
	c.handleMeta(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code, "a failed enqueue must make Meta retry")

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, float64(1), resp["failed"])

	// The event id must stay unmarked so the retry is not treated as a
	// duplicate and dropped.
	seen, err := c.deduper.Seen(ctx, "wamid.ABC")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestHandleEnvelopeRouteResolutionFailureReturns500(t *testing.T) {
	c, _, _ := testReceiver(t)

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()

	r := httptest.NewRequest(http.MethodPost, "/webhook/meta", strings.NewReader(whatsappEnvelope)).WithContext(reqCtx)
	w := httptest.NewRecorder()
	c.handleMeta(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	seen, err := c.deduper.Seen(context.Background(), "wamid.ABC")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestHandleEnvelopeSuccessReturns200(t *testing.T) {
	c, _, _ := testReceiver(t)
	createRoute(t, c.store)

	r := httptest.NewRequest(http.MethodPost, "/webhook/meta", strings.NewReader(whatsappEnvelope))
	w := httptest.NewRecorder()
	c.handleMeta(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(1), resp["processed"])
}

package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/metahub/store"
)

// testWorker spins up an embedded JetStream server, a store on top of it and
// a worker with no sink or metrics.
func testWorker(t *testing.T) (*Worker, *store.Store, jetstream.JetStream) {
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

	return NewWorker(st, NewClient(), nil, nil, nil), st, js
}

func createDestination(t *testing.T, st *store.Store, url string) string {
	t.Helper()
	id, err := st.CreateDestination(context.Background(), &store.Destination{
		WorkspaceID: "ws1",
		Name:        "test endpoint",
		URL:         url,
		IsActive:    true,
	})
	require.NoError(t, err)
	return id
}

func createEvent(t *testing.T, st *store.Store, destinationID string, maxAttempts int) string {
	t.Helper()
	id, err := st.CreateEvent(context.Background(), &store.DeliveryEvent{
		WorkspaceID:   "ws1",
		RouteID:       "rt-1",
		DestinationID: destinationID,
		SourceType:    "whatsapp",
		Payload:       json.RawMessage(`{"hello":"world"}`),
		MaxAttempts:   maxAttempts,
	})
	require.NoError(t, err)
	return id
}

func TestDeliverSuccess(t *testing.T) {
	w, st, _ := testWorker(t)
	ctx := context.Background()

	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		rw.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	destID := createDestination(t, st, srv.URL)
	evID := createEvent(t, st, destID, 0)

	final, err := w.Deliver(ctx, evID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDelivered, final.Status)
	assert.Equal(t, 1, final.AttemptsCount)
	assert.Nil(t, final.NextRetryAt)
	require.NotNil(t, final.DeliveredAt)
	assert.JSONEq(t, `{"hello":"world"}`, string(gotBody))

	attempts, err := st.ListAttempts(ctx, evID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.NotNil(t, attempts[0].StatusCode)
	assert.Equal(t, http.StatusAccepted, *attempts[0].StatusCode)
}

func TestDeliverFailureSchedulesRetry(t *testing.T) {
	w, st, _ := testWorker(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	destID := createDestination(t, st, srv.URL)
	evID := createEvent(t, st, destID, 0)

	before := time.Now()
	final, err := w.Deliver(ctx, evID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, final.Status)
	assert.Equal(t, 1, final.AttemptsCount)
	assert.Contains(t, final.ErrorMessage, "500")
	require.NotNil(t, final.NextRetryAt)
	assert.True(t, final.NextRetryAt.After(before), "retry is scheduled in the future")
	require.NotNil(t, final.FailedAt)
}

func TestDeliverExhaustionMovesToDLQ(t *testing.T) {
	w, st, _ := testWorker(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	destID := createDestination(t, st, srv.URL)
	evID := createEvent(t, st, destID, 1)

	final, err := w.Deliver(ctx, evID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDLQ, final.Status)
	assert.Nil(t, final.NextRetryAt, "dead-lettered events are never swept")
	assert.Contains(t, final.ErrorMessage, "502")
}

func TestResendGrantsOneFreshAttempt(t *testing.T) {
	w, st, _ := testWorker(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	destID := createDestination(t, st, srv.URL)
	evID := createEvent(t, st, destID, 1)

	_, err := w.Deliver(ctx, evID)
	require.NoError(t, err)

	resent, err := w.Resend(ctx, evID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, resent.Status)
	assert.Equal(t, 2, resent.MaxAttempts)
	assert.Empty(t, resent.ErrorMessage)

	// The fresh attempt fails too and the event lands back in the DLQ.
	final, err := w.Deliver(ctx, evID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDLQ, final.Status)
	assert.Equal(t, 2, final.AttemptsCount)
}

func TestResendRejectsNonTerminal(t *testing.T) {
	w, st, _ := testWorker(t)
	ctx := context.Background()

	evID := createEvent(t, st, "dest-1", 0)

	_, err := w.Resend(ctx, evID)
	assert.ErrorIs(t, err, store.ErrConflict, "pending events cannot be resent")
}

func TestDeliverMissingDestinationCancels(t *testing.T) {
	w, st, _ := testWorker(t)
	ctx := context.Background()

	evID := createEvent(t, st, "no-such-destination", 0)

	final, err := w.Deliver(ctx, evID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, final.Status)
	assert.Equal(t, "Destination not found", final.ErrorMessage)
	assert.Nil(t, final.NextRetryAt)
}

func TestDeliverInactiveDestinationCancels(t *testing.T) {
	w, st, _ := testWorker(t)
	ctx := context.Background()

	destID, err := st.CreateDestination(ctx, &store.Destination{
		WorkspaceID: "ws1",
		Name:        "paused endpoint",
		URL:         "https://example.com/hook",
		IsActive:    false,
	})
	require.NoError(t, err)
	evID := createEvent(t, st, destID, 0)

	final, err := w.Deliver(ctx, evID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, final.Status)
	assert.Equal(t, "Destination inactive", final.ErrorMessage)
}

func TestDeliverTransientStoreErrorReleasesClaim(t *testing.T) {
	w, st, js := testWorker(t)
	ctx := context.Background()

	// A destination entry that fails to decode stands in for a store that is
	// reachable but unhealthy: not a verdict on the destination itself.
	kv, err := js.KeyValue(ctx, store.BucketDestinations)
	require.NoError(t, err)
	_, err = kv.Put(ctx, "dest-broken", []byte("{not json"))
	require.NoError(t, err)

	evID := createEvent(t, st, "dest-broken", 0)

	_, err = w.Deliver(ctx, evID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrConflict)

	// The claim was undone: still pending, no attempt budget consumed,
	// scheduled for a later sweep rather than cancelled.
	ev, err := st.GetEvent(ctx, evID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, ev.Status)
	assert.Equal(t, 0, ev.AttemptsCount)
	require.NotNil(t, ev.NextRetryAt)
	assert.True(t, ev.NextRetryAt.After(time.Now()), "held back until the next backoff window")

	attempts, err := st.ListAttempts(ctx, evID)
	require.NoError(t, err)
	assert.Empty(t, attempts, "no attempt is recorded for a call that never started")
}

func TestProcessSweepsDueEvents(t *testing.T) {
	w, st, _ := testWorker(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	destID := createDestination(t, st, srv.URL)
	createEvent(t, st, destID, 0)
	createEvent(t, st, destID, 0)

	result, err := w.Process(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 0, result.Failed)

	// Everything is settled; a second sweep finds nothing due.
	result, err = w.Process(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

func TestTestDestination(t *testing.T) {
	w, st, _ := testWorker(t)
	ctx := context.Background()

	var gotEventID string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotEventID = r.Header.Get("X-MetaHub-Event-Id")
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	destID := createDestination(t, st, srv.URL)

	res, err := w.TestDestination(ctx, destID)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, "test", gotEventID)

	_, err = w.TestDestination(ctx, "no-such-destination")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore spins up an embedded JetStream server and a Store on top of it.
func testStore(t *testing.T) *Store {
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

	st, err := NewStore(context.Background(), js)
	require.NoError(t, err)
	return st
}

func newEvent(workspaceID string) *DeliveryEvent {
	return &DeliveryEvent{
		WorkspaceID:   workspaceID,
		RouteID:       "rt-1",
		DestinationID: "dest-1",
		SourceType:    "whatsapp",
		Payload:       json.RawMessage(`{"hello":"world"}`),
	}
}

func TestCreateEventDefaults(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	id, err := st.CreateEvent(ctx, newEvent("ws1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ev, err := st.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, ev.Status)
	assert.Equal(t, 0, ev.AttemptsCount)
	assert.Equal(t, DefaultMaxAttempts, ev.MaxAttempts)
	require.NotNil(t, ev.NextRetryAt, "new events are immediately due")
	assert.Nil(t, ev.DeliveredAt)
	assert.Nil(t, ev.FailedAt)
}

func TestGetEventNotFound(t *testing.T) {
	st := testStore(t)

	_, err := st.GetEvent(context.Background(), "no-such-event")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionDeliveredLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	id, err := st.CreateEvent(ctx, newEvent("ws1"))
	require.NoError(t, err)

	claimed, err := st.Transition(ctx, id,
		[]EventStatus{StatusPending, StatusFailed},
		StatusProcessing,
		func(e *DeliveryEvent) { e.AttemptsCount++ })
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.AttemptsCount)

	final, err := st.Transition(ctx, id,
		[]EventStatus{StatusProcessing},
		StatusDelivered, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, final.Status)
	assert.Nil(t, final.NextRetryAt, "terminal states carry no retry schedule")
	require.NotNil(t, final.DeliveredAt)
	assert.Nil(t, final.FailedAt)
	assert.Empty(t, final.ErrorMessage)
}

func TestTransitionStatusGuard(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	id, err := st.CreateEvent(ctx, newEvent("ws1"))
	require.NoError(t, err)

	// The event is pending; a claim expecting processing must lose.
	_, err = st.Transition(ctx, id,
		[]EventStatus{StatusProcessing},
		StatusDelivered, nil)
	assert.ErrorIs(t, err, ErrConflict)

	// Double-claim: the second worker expecting pending sees processing.
	_, err = st.Transition(ctx, id,
		[]EventStatus{StatusPending, StatusFailed},
		StatusProcessing, nil)
	require.NoError(t, err)
	_, err = st.Transition(ctx, id,
		[]EventStatus{StatusPending, StatusFailed},
		StatusProcessing, nil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTransitionUnknownEvent(t *testing.T) {
	st := testStore(t)

	_, err := st.Transition(context.Background(), "no-such-event",
		[]EventStatus{StatusPending},
		StatusProcessing, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionFailureNormalization(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	id, err := st.CreateEvent(ctx, newEvent("ws1"))
	require.NoError(t, err)

	_, err = st.Transition(ctx, id,
		[]EventStatus{StatusPending},
		StatusProcessing,
		func(e *DeliveryEvent) { e.AttemptsCount++ })
	require.NoError(t, err)

	retryAt := time.Now().Add(time.Minute)
	failed, err := st.Transition(ctx, id,
		[]EventStatus{StatusProcessing},
		StatusFailed,
		func(e *DeliveryEvent) {
			e.ErrorMessage = "destination returned HTTP 500"
			e.NextRetryAt = &retryAt
		})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	require.NotNil(t, failed.NextRetryAt, "failed events keep their retry schedule")
	require.NotNil(t, failed.FailedAt)
	assert.Nil(t, failed.DeliveredAt)

	// DLQ is terminal: any retry schedule the mutation left behind is cleared.
	dlq, err := st.Transition(ctx, id,
		[]EventStatus{StatusFailed},
		StatusDLQ, nil)
	require.NoError(t, err)
	assert.Nil(t, dlq.NextRetryAt)
	require.NotNil(t, dlq.FailedAt)

	// A manual resend out of the DLQ resets the terminal bookkeeping.
	now := time.Now()
	resent, err := st.Transition(ctx, id,
		[]EventStatus{StatusFailed, StatusDLQ},
		StatusPending,
		func(e *DeliveryEvent) {
			e.MaxAttempts++
			e.NextRetryAt = &now
			e.ErrorMessage = ""
		})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, resent.Status)
	assert.Equal(t, DefaultMaxAttempts+1, resent.MaxAttempts)
	assert.Nil(t, resent.DeliveredAt)
	assert.Nil(t, resent.FailedAt)
	require.NotNil(t, resent.NextRetryAt)
}

func TestAppendAttemptIsCreateOnly(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	code := 500
	attempt := &DeliveryAttempt{
		EventID:       "ev-1",
		WorkspaceID:   "ws1",
		DestinationID: "dest-1",
		AttemptNumber: 1,
		StatusCode:    &code,
	}
	require.NoError(t, st.AppendAttempt(ctx, attempt))
	assert.Error(t, st.AppendAttempt(ctx, attempt), "attempt numbers are never overwritten")

	attempt2 := &DeliveryAttempt{EventID: "ev-1", WorkspaceID: "ws1", AttemptNumber: 2}
	require.NoError(t, st.AppendAttempt(ctx, attempt2))

	attempts, err := st.ListAttempts(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
	assert.Equal(t, 2, attempts[1].AttemptNumber)
}

func TestAppendAttemptValidation(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	assert.Error(t, st.AppendAttempt(ctx, &DeliveryAttempt{AttemptNumber: 1}))
	assert.Error(t, st.AppendAttempt(ctx, &DeliveryAttempt{EventID: "ev-1", AttemptNumber: 0}))
}

func TestQueryByStatusReadiness(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	dueID, err := st.CreateEvent(ctx, newEvent("ws1"))
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	notDue := newEvent("ws1")
	notDue.NextRetryAt = &future
	notDueID, err := st.CreateEvent(ctx, notDue)
	require.NoError(t, err)

	doneID, err := st.CreateEvent(ctx, newEvent("ws1"))
	require.NoError(t, err)
	_, err = st.Transition(ctx, doneID, []EventStatus{StatusPending}, StatusProcessing, nil)
	require.NoError(t, err)
	_, err = st.Transition(ctx, doneID, []EventStatus{StatusProcessing}, StatusDelivered, nil)
	require.NoError(t, err)

	due, err := st.QueryByStatus(ctx, []EventStatus{StatusPending, StatusFailed}, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, dueID, due[0].ID)

	// Once the retry time elapses the held-back event becomes claimable.
	due, err = st.QueryByStatus(ctx, []EventStatus{StatusPending, StatusFailed}, future.Add(time.Second), 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, dueID, due[0].ID, "oldest retry time first")
	assert.Equal(t, notDueID, due[1].ID)
}

func TestCountByStatus(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	_, err := st.CreateEvent(ctx, newEvent("ws1"))
	require.NoError(t, err)
	_, err = st.CreateEvent(ctx, newEvent("ws1"))
	require.NoError(t, err)
	_, err = st.CreateEvent(ctx, newEvent("ws2"))
	require.NoError(t, err)

	count, err := st.CountByStatus(ctx, "ws1", StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = st.CountByStatus(ctx, "ws1", StatusDLQ)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

package broadcast

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/apexlabs-backend/api/responses"
	"github.com/angelmondragon/apexlabs-backend/pkg/enums"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/pgnotify"
)

const insertPayload = `{"operation":"INSERT","new":{"id":"6f1c7a52-3b1e-4d8a-9f20-0c5d2b7e9a11","order_number":"48213","email":"jane@example.com","first_name":"Jane","last_name":"Citizen","phone":null,"country":"Australia","address1":"1 Test St","address2":null,"suburb":"Carlton","state":"VIC","postcode":"3053","note":null,"promo_code":null,"promo_discount":0,"payment_method":"bank_transfer","status":"pending","items":[{"product_id":"bpc-157","name":"BPC-157","unit_price":90,"quantity":1}],"subtotal":90,"shipping":0,"total":90,"created_at":"2026-01-05T09:00:00Z","updated_at":"2026-01-05T09:00:00Z"},"old":null}`

type testSource struct {
	*pgnotify.Listener
	ready chan struct{}
}

func (s *testSource) Ready() <-chan struct{} {
	return s.ready
}

func newTestSource(t *testing.T, ready bool) *testSource {
	t.Helper()
	l, err := pgnotify.New(pgnotify.Options{
		Channel: "orders_changes",
		Connect: func(context.Context) (pgnotify.Conn, error) { return nil, errors.New("unused") },
		Logger:  newTestLogger(),
		Buffer:  8,
	})
	require.NoError(t, err)
	src := &testSource{Listener: l, ready: make(chan struct{})}
	if ready {
		close(src.ready)
	}
	return src
}

func newTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "broadcast-test", Level: zerolog.Disabled, Output: io.Discard})
}

// lockedRecorder lets the test read the body while Serve is still writing.
type lockedRecorder struct {
	mu  sync.Mutex
	rec *httptest.ResponseRecorder
}

func newLockedRecorder() *lockedRecorder {
	return &lockedRecorder{rec: httptest.NewRecorder()}
}

func (l *lockedRecorder) Header() http.Header { return l.rec.Header() }

func (l *lockedRecorder) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.Write(p)
}

func (l *lockedRecorder) WriteHeader(code int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.WriteHeader(code)
}

func (l *lockedRecorder) Flush() {}

func (l *lockedRecorder) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.Body.String()
}

type failingSink struct {
	failOn int
	writes int
}

func (f *failingSink) WriteEvent(any) error {
	f.writes++
	if f.writes >= f.failOn {
		return errors.New("broken pipe")
	}
	return nil
}

func (f *failingSink) WriteComment(string) error { return nil }

func newTestBroadcaster(t *testing.T, src Source, heartbeat time.Duration) *Broadcaster {
	t.Helper()
	b, err := New(Params{Source: src, Logger: newTestLogger(), Heartbeat: heartbeat, ConnectTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	return b
}

func serve(ctx context.Context, b *Broadcaster, sink Sink) <-chan error {
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, sink) }()
	return done
}

func TestServeStreamsWireFormat(t *testing.T) {
	src := newTestSource(t, true)
	b := newTestBroadcaster(t, src, time.Hour)

	rec := newLockedRecorder()
	sse, err := responses.NewSSEWriter(rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, b, sse)

	require.Eventually(t, func() bool { return src.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return strings.Contains(rec.String(), StatusSubscribed) }, time.Second, 5*time.Millisecond)

	src.Publish(pgnotify.Notification{
		Channel:    "orders_changes",
		Payload:    []byte(insertPayload),
		ReceivedAt: time.Date(2026, 1, 5, 9, 0, 1, 0, time.UTC),
	})
	require.Eventually(t, func() bool { return strings.Contains(rec.String(), TypeChange) }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "order_stream", []byte(rec.String()))
}

func TestServeUnsubscribesWhenClientLeavesImmediately(t *testing.T) {
	src := newTestSource(t, true)
	b := newTestBroadcaster(t, src, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Serve(ctx, &failingSink{failOn: 100})
	require.NoError(t, err)
	assert.Equal(t, 0, src.Subscribers())
}

func TestServeStopsOnWriteFailure(t *testing.T) {
	src := newTestSource(t, true)
	b := newTestBroadcaster(t, src, time.Hour)

	sink := &failingSink{failOn: 3}
	done := serve(context.Background(), b, sink)

	require.Eventually(t, func() bool { return src.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	src.Publish(pgnotify.Notification{Payload: []byte(insertPayload), ReceivedAt: time.Now()})

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "write change")
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after write failure")
	}
	assert.Equal(t, 0, src.Subscribers())
}

func TestServeSendsHeartbeatsAndSkipsBadPayloads(t *testing.T) {
	src := newTestSource(t, true)
	b := newTestBroadcaster(t, src, 10*time.Millisecond)

	rec := newLockedRecorder()
	sse, err := responses.NewSSEWriter(rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, b, sse)

	require.Eventually(t, func() bool { return src.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	src.Publish(pgnotify.Notification{Payload: []byte(`{"operation":"truncate"}`), ReceivedAt: time.Now()})
	require.Eventually(t, func() bool { return strings.Contains(rec.String(), ": heartbeat\n\n") }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.NotContains(t, rec.String(), TypeChange)
}

func TestServeReportsTimedOutFeed(t *testing.T) {
	src := newTestSource(t, false)
	b := newTestBroadcaster(t, src, time.Hour)

	rec := newLockedRecorder()
	sse, err := responses.NewSSEWriter(rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, b, sse)
	require.Eventually(t, func() bool { return strings.Contains(rec.String(), StatusTimedOut) }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestDecodeChangeEvent(t *testing.T) {
	at := time.Date(2026, 1, 5, 9, 0, 1, 0, time.UTC)

	evt, err := DecodeChangeEvent([]byte(insertPayload), at)
	require.NoError(t, err)
	assert.Equal(t, enums.ChangeOperationInsert, evt.Operation)
	require.NotNil(t, evt.Row())
	assert.Equal(t, "48213", evt.Row().OrderNumber)
	assert.Equal(t, "90", evt.Row().Total.String())
	assert.Len(t, evt.Row().Items, 1)
	assert.Equal(t, at, evt.EmittedAt)

	evt, err = DecodeChangeEvent([]byte(`{"operation":"delete","new":null,"old":{"id":"6f1c7a52-3b1e-4d8a-9f20-0c5d2b7e9a11","order_number":"48213"},"truncated":true}`), at)
	require.NoError(t, err)
	assert.Nil(t, evt.New)
	assert.True(t, evt.Truncated)
	assert.Equal(t, "48213", evt.Row().OrderNumber)

	_, err = DecodeChangeEvent([]byte(`{"operation":"update","new":null}`), at)
	assert.Error(t, err)
	_, err = DecodeChangeEvent([]byte(`not json`), at)
	assert.Error(t, err)
}

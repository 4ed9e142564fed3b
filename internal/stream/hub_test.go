package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	hub := NewHub(Options{})
	defer hub.Stop()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/events?session=s1", nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- hub.Subscribe(ctx, rec, req)
	}()

	// Wait for registration before publishing.
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.PublishPrediction("s1", map[string]interface{}{"forward": 0.9})
	hub.PublishReset("s1")

	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), "event: reset")
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	body := rec.Body.String()
	assert.Contains(t, body, "event: ready")
	assert.Contains(t, body, "event: prediction")
	assert.Contains(t, body, `"forward":0.9`)
	assert.Equal(t, "text/event-stream; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestSessionFilteredSubscription(t *testing.T) {
	hub := NewHub(Options{})
	defer hub.Stop()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/events?session=mine", nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- hub.Subscribe(ctx, rec, req) }()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.PublishPrediction("other", map[string]interface{}{"forward": 0.1})
	hub.PublishPrediction("mine", map[string]interface{}{"forward": 0.8})

	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), `"forward":0.8`)
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.NotContains(t, rec.Body.String(), `"forward":0.1`)
}

func TestRingBufferReplay(t *testing.T) {
	buf := newRingBuffer(3)
	for i := int64(1); i <= 5; i++ {
		buf.add(Event{ID: i, Type: TypePrediction})
	}

	// Capacity 3 keeps only events 3..5.
	events := buf.after(0)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].ID)

	events = buf.after(4)
	require.Len(t, events, 1)
	assert.Equal(t, int64(5), events[0].ID)

	assert.Empty(t, buf.after(5))
}

func TestStopDisconnectsClients(t *testing.T) {
	hub := NewHub(Options{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/events", nil)

	done := make(chan error, 1)
	go func() { done <- hub.Subscribe(context.Background(), rec, req) }()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not exit on Stop")
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestMonotonicEventIDsPerSession(t *testing.T) {
	hub := NewHub(Options{})
	defer hub.Stop()

	assert.Equal(t, int64(1), hub.nextID("a"))
	assert.Equal(t, int64(2), hub.nextID("a"))
	assert.Equal(t, int64(1), hub.nextID("b"))
	assert.Equal(t, int64(1), hub.nextID(""))
	assert.Equal(t, int64(2), hub.nextID("global"))
}

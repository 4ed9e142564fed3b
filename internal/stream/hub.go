// Package stream fans prediction events out to SSE subscribers. The driving
// simulator UI subscribes once and watches every prediction and session
// reset as it happens; a dashboard can do the same per session.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one server-sent event.
type Event struct {
	ID      int64                  `json:"id,omitempty"`
	Type    string                 `json:"type"`
	Data    map[string]interface{} `json:"data"`
	Session string                 `json:"session,omitempty"`
}

// Event types published by the service.
const (
	TypeReady      = "ready"
	TypePrediction = "prediction"
	TypeReset      = "reset"
	TypeHeartbeat  = "heartbeat"
)

// Options tunes hub buffering and heartbeats.
type Options struct {
	BufferSize        int           // replayable events kept per session
	HeartbeatInterval time.Duration // 0 disables heartbeats
}

type client struct {
	id      string
	writer  http.ResponseWriter
	ctx     context.Context
	cancel  context.CancelFunc
	session string // "" subscribes to everything
	events  chan Event
	once    sync.Once
	mu      sync.Mutex // serializes writer access
}

// Hub distributes prediction events to SSE clients with per-session replay.
type Hub struct {
	opts Options

	mu       sync.RWMutex
	clients  map[string]*client
	counters map[string]*int64
	buffers  map[string]*ringBuffer

	heartbeat *time.Ticker
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHub creates a hub. Zero options get sensible defaults.
func NewHub(opts Options) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	return &Hub{
		opts:     opts,
		clients:  make(map[string]*client),
		counters: make(map[string]*int64),
		buffers:  make(map[string]*ringBuffer),
		done:     make(chan struct{}),
	}
}

// Subscribe streams events to one SSE client until it disconnects. The
// session query parameter narrows the stream to one driving session;
// Last-Event-ID resumes a dropped connection from the per-session buffer.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)
	c := &client{
		id:      fmt.Sprintf("client_%d", time.Now().UnixNano()),
		writer:  w,
		ctx:     clientCtx,
		cancel:  cancel,
		session: r.URL.Query().Get("session"),
		events:  make(chan Event, 100),
	}

	var lastID int64
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastID = id
		}
	}

	h.mu.Lock()
	h.clients[c.id] = c
	if len(h.clients) == 1 && h.heartbeat == nil && h.opts.HeartbeatInterval > 0 {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	ready := Event{
		ID:   h.nextID(c.session),
		Type: TypeReady,
		Data: map[string]interface{}{"session": c.session},
	}
	if err := h.send(c, ready); err != nil {
		h.unregister(c.id)
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastID > 0 {
		for _, event := range h.eventsAfter(c.session, lastID) {
			if err := h.send(c, event); err != nil {
				h.unregister(c.id)
				return fmt.Errorf("failed to replay events: %w", err)
			}
		}
	}

	h.serve(c)
	return nil
}

// Publish delivers an event to every matching subscriber. Slow clients drop
// events rather than block the publisher.
func (h *Hub) Publish(event Event) {
	if event.ID == 0 {
		event.ID = h.nextID(event.Session)
	}
	if event.Session != "" {
		h.buffer(event)
	}

	h.mu.RLock()
	receivers := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.session == "" || c.session == event.Session || event.Session == "" {
			receivers = append(receivers, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range receivers {
		select {
		case <-c.ctx.Done():
		case <-h.done:
			return
		case c.events <- event:
		case <-time.After(100 * time.Millisecond):
			// Drop on slow consumer.
		}
	}
}

// PublishPrediction publishes one prediction result for a session.
func (h *Hub) PublishPrediction(sessionID string, data map[string]interface{}) {
	h.Publish(Event{Type: TypePrediction, Session: sessionID, Data: data})
}

// PublishReset announces a session reset.
func (h *Hub) PublishReset(sessionID string) {
	h.Publish(Event{Type: TypeReset, Session: sessionID, Data: map[string]interface{}{
		"ts": time.Now().UTC().Format(time.RFC3339),
	}})
}

// Stop disconnects all clients and stops the heartbeat.
func (h *Hub) Stop() {
	close(h.done)

	h.mu.Lock()
	for _, c := range h.clients {
		c.cancel()
	}
	if h.heartbeat != nil {
		h.heartbeat.Stop()
		h.heartbeat = nil
	}
	h.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
	}

	h.mu.Lock()
	for _, c := range h.clients {
		c.once.Do(func() { close(c.events) })
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) serve(c *client) {
	defer func() {
		c.once.Do(func() { close(c.events) })
		h.unregister(c.id)
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-h.done:
			return
		case event, ok := <-c.events:
			if !ok {
				return
			}
			if err := h.send(c, event); err != nil {
				return
			}
		}
	}
}

func (h *Hub) send(c *client, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(c.writer, "id: %d\n", event.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.writer, "event: %s\n", event.Type); err != nil {
		return err
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(c.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	if flusher, ok := c.writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[id]; ok {
		c.cancel()
		delete(h.clients, id)
		if len(h.clients) == 0 && h.heartbeat != nil {
			h.heartbeat.Stop()
			h.heartbeat = nil
		}
	}
}

func (h *Hub) nextID(session string) int64 {
	if session == "" {
		session = "global"
	}
	h.mu.RLock()
	counter, ok := h.counters[session]
	h.mu.RUnlock()
	if ok {
		return atomic.AddInt64(counter, 1)
	}

	h.mu.Lock()
	counter, ok = h.counters[session]
	if !ok {
		counter = new(int64)
		h.counters[session] = counter
	}
	h.mu.Unlock()
	return atomic.AddInt64(counter, 1)
}

func (h *Hub) buffer(event Event) {
	h.mu.Lock()
	buf, ok := h.buffers[event.Session]
	if !ok {
		buf = newRingBuffer(h.opts.BufferSize)
		h.buffers[event.Session] = buf
	}
	h.mu.Unlock()
	buf.add(event)
}

func (h *Hub) eventsAfter(session string, lastID int64) []Event {
	h.mu.RLock()
	buf, ok := h.buffers[session]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.after(lastID)
}

func (h *Hub) startHeartbeat() {
	// Caller holds h.mu.
	h.heartbeat = time.NewTicker(h.opts.HeartbeatInterval)
	ticker := h.heartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.Publish(Event{Type: TypeHeartbeat, Data: map[string]interface{}{
					"ts": time.Now().UTC().Format(time.RFC3339),
				}})
			case <-h.done:
				return
			}
		}
	}()
}

// ringBuffer keeps the most recent events for Last-Event-ID replay.
type ringBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{events: make([]Event, 0, capacity), capacity: capacity}
}

func (b *ringBuffer) add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

func (b *ringBuffer) after(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.events {
		if e.ID > lastID {
			out = append(out, e)
		}
	}
	return out
}

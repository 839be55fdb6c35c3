package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	alarmapp "frostguard/internal/alarms/application"
	"frostguard/internal/auth"
)

const (
	defaultClientBuffer = 32
	keepAliveInterval   = 25 * time.Second
)

type streamClient struct {
	orgID  string
	unitID string
	ch     chan streamMessage
}

type streamMessage struct {
	eventType string
	payload   []byte
}

// SSEBroker fans out alarm lifecycle events to connected clients. Each
// client only sees events of its own org, optionally narrowed to one unit.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
	buffer  int
	dropped uint64
}

// NewSSEBroker constructs a broker. buffer <= 0 uses the default.
func NewSSEBroker(buffer int) *SSEBroker {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &SSEBroker{clients: make(map[*streamClient]struct{}), buffer: buffer}
}

// Notify implements alarmapp.AlarmNotifier. Slow clients lose messages.
func (b *SSEBroker) Notify(_ context.Context, event alarmapp.AlarmEvent) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	msg := streamMessage{eventType: event.Type, payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		if client.orgID != event.Event.OrgID {
			continue
		}
		if client.unitID != "" && client.unitID != event.Event.UnitID {
			continue
		}
		select {
		case client.ch <- msg:
		default:
			b.dropped++
		}
	}
}

// Dropped reports how many messages were discarded for full client buffers.
func (b *SSEBroker) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *SSEBroker) subscribe(orgID, unitID string) *streamClient {
	client := &streamClient{orgID: orgID, unitID: unitID, ch: make(chan streamMessage, b.buffer)}
	b.mu.Lock()
	b.clients[client] = struct{}{}
	b.mu.Unlock()
	return client
}

func (b *SSEBroker) unsubscribe(client *streamClient) {
	b.mu.Lock()
	delete(b.clients, client)
	b.mu.Unlock()
}

// StreamHandler serves GET /api/v1/alarms/stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP streams lifecycle events for the caller's org. The org comes
// from the token, falling back to org_id when auth is disabled.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	orgID := auth.OrgIDFromContext(r.Context())
	if orgID == "" {
		orgID = r.URL.Query().Get("org_id")
	}
	if orgID == "" {
		http.Error(w, "org_id is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := h.broker.subscribe(orgID, r.URL.Query().Get("unit_id"))
	defer h.broker.unsubscribe(client)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-client.ch:
			_, _ = w.Write([]byte("event: alarm." + msg.eventType + "\ndata: "))
			_, _ = w.Write(msg.payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

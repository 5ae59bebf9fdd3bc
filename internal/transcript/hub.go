// Package transcript fans committed conversation turns out to any number
// of independent observers. The hub's subscriber registry is the only
// cross-session shared mutable state in the gateway; it is guarded by a
// single mutex, and delivery runs through per-subscriber bounded queues so
// publishing never blocks on a slow reader.
package transcript

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/gateway/internal/metrics"
)

// Entry is one committed utterance.
type Entry struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}

// DefaultQueueSize bounds each subscriber's delivery queue.
const DefaultQueueSize = 64

// Subscription is one observer's handle. Entries arrive on C in publish
// order; C is closed when the subscriber is unsubscribed or disconnected
// for falling behind.
type Subscription struct {
	ID string
	C  <-chan Entry

	ch chan Entry
}

// Hub is the process-wide transcript broadcaster.
type Hub struct {
	queueSize int

	mu      sync.Mutex
	entries []Entry
	subs    map[string]*Subscription
}

// NewHub creates a hub with the given per-subscriber queue size
// (DefaultQueueSize if zero or negative).
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		queueSize: queueSize,
		subs:      make(map[string]*Subscription),
	}
}

// Publish appends the entry to the in-memory transcript and delivers it to
// every current subscriber. A subscriber whose queue is full is
// disconnected on the spot rather than stalling the caller.
func (h *Hub) Publish(sessionID string, role, text string) Entry {
	entry := Entry{SessionID: sessionID, Role: role, Text: text, Time: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, entry)
	metrics.TranscriptEntries.Inc()

	for id, sub := range h.subs {
		select {
		case sub.ch <- entry:
		default:
			delete(h.subs, id)
			close(sub.ch)
			metrics.SubscribersOverloaded.Inc()
			metrics.TranscriptSubscribers.Dec()
			slog.Warn("transcript subscriber disconnected: queue full", "subscriber", id)
		}
	}
	return entry
}

// Subscribe registers a new observer. The observer receives every entry
// published after this call, in publish order.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Entry, h.queueSize)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub.ID] = sub
	metrics.TranscriptSubscribers.Inc()
	return sub
}

// Unsubscribe removes an observer and closes its channel. Calling it again
// for the same ID, or for an observer already disconnected for being slow,
// is a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
	metrics.TranscriptSubscribers.Dec()
}

// Backlog returns a copy of every entry published so far.
func (h *Hub) Backlog() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// SubscriberCount reports the number of registered observers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

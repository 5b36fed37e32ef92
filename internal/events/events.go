// Package events is an in-process broadcast for "call summary ready" signals,
// so the chat frontend can long-poll for the moment a clinic call finishes.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// EventCallSummaryReady tells a subscriber the session has a stored call
// summary waiting in its mailbox.
const EventCallSummaryReady = "call_summary_ready"

// DefaultPendingTTL bounds how long an unconsumed signal is kept for a
// session with no live subscriber.
const DefaultPendingTTL = 5 * time.Minute

// Event is one signal delivered to a subscriber.
type Event struct {
	Type      string `json:"event"`
	SessionID string `json:"session_id"`
}

type pendingEvent struct {
	event   Event
	expires time.Time
}

// Registry fans out per-session events. Each subscriber holds a single-slot
// channel; publish never blocks. A publish with no subscriber is parked until
// the next subscribe or until the pending TTL passes.
type Registry struct {
	mu         sync.Mutex
	listeners  map[string][]chan Event
	pending    map[string]pendingEvent
	pendingTTL time.Duration

	now func() time.Time
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		listeners:  make(map[string][]chan Event),
		pending:    make(map[string]pendingEvent),
		pendingTTL: DefaultPendingTTL,
		now:        time.Now,
	}
}

// Subscribe registers for this session's events. The returned channel holds
// at most one event; call the cancel func when done with it. A pending
// unexpired event is delivered immediately.
func (r *Registry) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 1)

	r.mu.Lock()
	if p, ok := r.pending[sessionID]; ok {
		if r.now().Before(p.expires) {
			ch <- p.event
		}
		delete(r.pending, sessionID)
	}
	r.listeners[sessionID] = append(r.listeners[sessionID], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.listeners[sessionID]
		for i, sub := range subs {
			if sub == ch {
				r.listeners[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(r.listeners[sessionID]) == 0 {
			delete(r.listeners, sessionID)
		}
	}
	return ch, cancel
}

// PublishCallSummaryReady notifies this session's subscribers. Subscribers
// with a full slot are skipped. With no subscriber the event is parked for
// the pending TTL so a poll arriving just after the webhook still sees it.
func (r *Registry) PublishCallSummaryReady(sessionID string) {
	event := Event{Type: EventCallSummaryReady, SessionID: sessionID}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.listeners[sessionID]
	if len(subs) == 0 {
		r.pending[sessionID] = pendingEvent{event: event, expires: r.now().Add(r.pendingTTL)}
		slog.Debug("events.PublishCallSummaryReady: no subscriber, parked", "sessionID", sessionID)
		return
	}
	delivered := 0
	for _, sub := range subs {
		select {
		case sub <- event:
			delivered++
		default:
		}
	}
	slog.Debug("events.PublishCallSummaryReady: delivered", "sessionID", sessionID, "subscribers", len(subs), "delivered", delivered)
}

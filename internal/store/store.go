// Package store provides session-state storage backends for TriagePipe.
//
// A Store keeps three things per deployment: the conversation state for each
// session (with a TTL — expiry is the store's responsibility, there is no
// explicit deletion path in the conversation flow), the mapping from an
// outbound call's correlation id back to its session, and a single-slot
// "pending call summary" mailbox per session written by the post-call
// webhook and consumed by the call-summary node.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// DefaultSessionTTL is how long a session survives without a new turn.
const DefaultSessionTTL = time.Hour

// Store is the persistence boundary of the conversation engine. Missing
// entries are reported as (nil, nil) / ("", nil), never as errors; an error
// means the backend itself failed and the caller cannot make progress.
type Store interface {
	// GetSessionState returns the persisted state for a session, or nil if
	// the session is unknown or expired.
	GetSessionState(sessionID string) (*models.ConversationState, error)
	// SaveSessionState persists the state and refreshes its TTL. A zero ttl
	// means DefaultSessionTTL.
	SaveSessionState(state *models.ConversationState, ttl time.Duration) error
	// DeleteSessionState removes a session. Deleting an absent session is
	// not an error.
	DeleteSessionState(sessionID string) error

	// SetConversationSession maps an outbound call correlation id to the
	// session that started the call.
	SetConversationSession(conversationID, sessionID string) error
	// GetSessionForConversation returns the session for a correlation id,
	// or "" if unknown.
	GetSessionForConversation(conversationID string) (string, error)

	// SetPendingCallSummary writes the session's summary mailbox,
	// replacing any unconsumed entry.
	SetPendingCallSummary(summary models.CallSummary) error
	// GetPendingCallSummary peeks at the mailbox without consuming it.
	// Returns nil when empty.
	GetPendingCallSummary(sessionID string) (*models.CallSummary, error)
	// DeletePendingCallSummary consumes the mailbox entry.
	DeletePendingCallSummary(sessionID string) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string (file path for SQLite).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

type memorySession struct {
	state     *models.ConversationState
	expiresAt time.Time
}

// InMemoryStore is a mutex-guarded in-process Store used for tests and
// development runs without a database.
type InMemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]memorySession
	conversations map[string]string
	summaries     map[string]models.CallSummary
	now           func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:      make(map[string]memorySession),
		conversations: make(map[string]string),
		summaries:     make(map[string]models.CallSummary),
		now:           time.Now,
	}
}

// GetSessionState returns the stored state, or nil if absent or expired.
func (s *InMemoryStore) GetSessionState(sessionID string) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.sessions, sessionID)
		slog.Debug("InMemoryStore.GetSessionState: session expired", "sessionID", sessionID)
		return nil, nil
	}
	copied := *entry.state
	return &copied, nil
}

// SaveSessionState persists the state and refreshes its TTL.
func (s *InMemoryStore) SaveSessionState(state *models.ConversationState, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.sessions[state.SessionID] = memorySession{state: &copied, expiresAt: s.now().Add(ttl)}
	return nil
}

// DeleteSessionState removes a session.
func (s *InMemoryStore) DeleteSessionState(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// SetConversationSession maps a call correlation id to a session.
func (s *InMemoryStore) SetConversationSession(conversationID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversationID] = sessionID
	return nil
}

// GetSessionForConversation returns the session for a correlation id.
func (s *InMemoryStore) GetSessionForConversation(conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversations[conversationID], nil
}

// SetPendingCallSummary writes the session's mailbox entry.
func (s *InMemoryStore) SetPendingCallSummary(summary models.CallSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[summary.SessionID] = summary
	return nil
}

// GetPendingCallSummary peeks at the mailbox.
func (s *InMemoryStore) GetPendingCallSummary(sessionID string) (*models.CallSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	copied := summary
	return &copied, nil
}

// DeletePendingCallSummary consumes the mailbox entry.
func (s *InMemoryStore) DeletePendingCallSummary(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.summaries, sessionID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

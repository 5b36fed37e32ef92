// Package store provides session-state storage backends for TriagePipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TriagePipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// GetSessionState returns the stored state, or nil if absent or expired.
func (s *PostgresStore) GetSessionState(sessionID string) (*models.ConversationState, error) {
	var stateJSON string
	var expiresAt time.Time
	err := s.db.QueryRow(`SELECT state_json, expires_at FROM sessions WHERE session_id = $1`, sessionID).
		Scan(&stateJSON, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetSessionState query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	if time.Now().After(expiresAt) {
		slog.Debug("PostgresStore.GetSessionState: session expired", "sessionID", sessionID)
		if _, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = $1`, sessionID); err != nil {
			slog.Warn("PostgresStore.GetSessionState: expired cleanup failed", "error", err, "sessionID", sessionID)
		}
		return nil, nil
	}

	var state models.ConversationState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		slog.Error("PostgresStore.GetSessionState decode failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &state, nil
}

// SaveSessionState persists the state and refreshes its TTL.
func (s *PostgresStore) SaveSessionState(state *models.ConversationState, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", state.SessionID, err)
	}
	now := time.Now()
	_, err = s.db.Exec(`INSERT INTO sessions (session_id, state_json, expires_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET state_json = EXCLUDED.state_json, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		state.SessionID, string(stateJSON), now.Add(ttl), now)
	if err != nil {
		slog.Error("PostgresStore.SaveSessionState failed", "error", err, "sessionID", state.SessionID)
		return fmt.Errorf("failed to save session %s: %w", state.SessionID, err)
	}
	slog.Debug("PostgresStore.SaveSessionState succeeded", "sessionID", state.SessionID, "ttl", ttl)
	return nil
}

// DeleteSessionState removes a session.
func (s *PostgresStore) DeleteSessionState(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// SetConversationSession maps a call correlation id to a session.
func (s *PostgresStore) SetConversationSession(conversationID, sessionID string) error {
	_, err := s.db.Exec(`INSERT INTO conversation_sessions (conversation_id, session_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id) DO UPDATE SET session_id = EXCLUDED.session_id, created_at = EXCLUDED.created_at`,
		conversationID, sessionID, time.Now())
	if err != nil {
		slog.Error("PostgresStore.SetConversationSession failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to map conversation %s: %w", conversationID, err)
	}
	return nil
}

// GetSessionForConversation returns the session for a correlation id.
func (s *PostgresStore) GetSessionForConversation(conversationID string) (string, error) {
	var sessionID string
	err := s.db.QueryRow(`SELECT session_id FROM conversation_sessions WHERE conversation_id = $1`, conversationID).
		Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query conversation %s: %w", conversationID, err)
	}
	return sessionID, nil
}

// SetPendingCallSummary writes the session's mailbox entry.
func (s *PostgresStore) SetPendingCallSummary(summary models.CallSummary) error {
	createdAt := summary.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO pending_call_summaries (session_id, conversation_id, summary, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET conversation_id = EXCLUDED.conversation_id, summary = EXCLUDED.summary, created_at = EXCLUDED.created_at`,
		summary.SessionID, nilIfEmpty(summary.ConversationID), summary.Summary, createdAt)
	if err != nil {
		slog.Error("PostgresStore.SetPendingCallSummary failed", "error", err, "sessionID", summary.SessionID)
		return fmt.Errorf("failed to store call summary for %s: %w", summary.SessionID, err)
	}
	return nil
}

// GetPendingCallSummary peeks at the mailbox.
func (s *PostgresStore) GetPendingCallSummary(sessionID string) (*models.CallSummary, error) {
	var summary models.CallSummary
	var conversationID sql.NullString
	err := s.db.QueryRow(`SELECT session_id, conversation_id, summary, created_at FROM pending_call_summaries WHERE session_id = $1`, sessionID).
		Scan(&summary.SessionID, &conversationID, &summary.Summary, &summary.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query call summary for %s: %w", sessionID, err)
	}
	summary.ConversationID = conversationID.String
	return &summary, nil
}

// DeletePendingCallSummary consumes the mailbox entry.
func (s *PostgresStore) DeletePendingCallSummary(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM pending_call_summaries WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete call summary for %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

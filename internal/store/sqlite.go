// Package store provides session-state storage backends for TriagePipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/TriagePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database
// directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists sessions in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path; the containing directory is created if needed.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// GetSessionState returns the stored state, or nil if absent or expired.
func (s *SQLiteStore) GetSessionState(sessionID string) (*models.ConversationState, error) {
	var stateJSON string
	var expiresAt time.Time
	err := s.db.QueryRow(`SELECT state_json, expires_at FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&stateJSON, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetSessionState query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	if time.Now().After(expiresAt) {
		slog.Debug("SQLiteStore.GetSessionState: session expired", "sessionID", sessionID)
		if _, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
			slog.Warn("SQLiteStore.GetSessionState: expired cleanup failed", "error", err, "sessionID", sessionID)
		}
		return nil, nil
	}

	var state models.ConversationState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		slog.Error("SQLiteStore.GetSessionState decode failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &state, nil
}

// SaveSessionState persists the state and refreshes its TTL.
func (s *SQLiteStore) SaveSessionState(state *models.ConversationState, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", state.SessionID, err)
	}
	now := time.Now()
	_, err = s.db.Exec(`INSERT INTO sessions (session_id, state_json, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET state_json = excluded.state_json, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		state.SessionID, string(stateJSON), now.Add(ttl), now)
	if err != nil {
		slog.Error("SQLiteStore.SaveSessionState failed", "error", err, "sessionID", state.SessionID)
		return fmt.Errorf("failed to save session %s: %w", state.SessionID, err)
	}
	slog.Debug("SQLiteStore.SaveSessionState succeeded", "sessionID", state.SessionID, "ttl", ttl)
	return nil
}

// DeleteSessionState removes a session.
func (s *SQLiteStore) DeleteSessionState(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// SetConversationSession maps a call correlation id to a session.
func (s *SQLiteStore) SetConversationSession(conversationID, sessionID string) error {
	_, err := s.db.Exec(`INSERT INTO conversation_sessions (conversation_id, session_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET session_id = excluded.session_id, created_at = excluded.created_at`,
		conversationID, sessionID, time.Now())
	if err != nil {
		slog.Error("SQLiteStore.SetConversationSession failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to map conversation %s: %w", conversationID, err)
	}
	return nil
}

// GetSessionForConversation returns the session for a correlation id.
func (s *SQLiteStore) GetSessionForConversation(conversationID string) (string, error) {
	var sessionID string
	err := s.db.QueryRow(`SELECT session_id FROM conversation_sessions WHERE conversation_id = ?`, conversationID).
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
func (s *SQLiteStore) SetPendingCallSummary(summary models.CallSummary) error {
	createdAt := summary.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO pending_call_summaries (session_id, conversation_id, summary, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET conversation_id = excluded.conversation_id, summary = excluded.summary, created_at = excluded.created_at`,
		summary.SessionID, nilIfEmpty(summary.ConversationID), summary.Summary, createdAt)
	if err != nil {
		slog.Error("SQLiteStore.SetPendingCallSummary failed", "error", err, "sessionID", summary.SessionID)
		return fmt.Errorf("failed to store call summary for %s: %w", summary.SessionID, err)
	}
	return nil
}

// GetPendingCallSummary peeks at the mailbox.
func (s *SQLiteStore) GetPendingCallSummary(sessionID string) (*models.CallSummary, error) {
	var summary models.CallSummary
	var conversationID sql.NullString
	err := s.db.QueryRow(`SELECT session_id, conversation_id, summary, created_at FROM pending_call_summaries WHERE session_id = ?`, sessionID).
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
func (s *SQLiteStore) DeletePendingCallSummary(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM pending_call_summaries WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete call summary for %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

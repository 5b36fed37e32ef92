package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// chatMessageHandler runs one conversation turn (POST /chat/message).
func (s *Server) chatMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatMessageHandler: processing chat request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.chatMessageHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: message"))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	state, err := s.st.GetSessionState(sessionID)
	if err != nil {
		slog.Error("Server.chatMessageHandler: failed to load session", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if state == nil {
		state = models.NewConversationState(sessionID)
	}

	updated, err := s.engine.RunTurn(r.Context(), state, req.Message)
	if err != nil {
		slog.Error("Server.chatMessageHandler: turn failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	if err := s.st.SaveSessionState(updated, 0); err != nil {
		slog.Error("Server.chatMessageHandler: failed to save session", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save session"))
		return
	}

	slog.Info("Server.chatMessageHandler: turn completed",
		"sessionID", sessionID,
		"needsEmergency", updated.NeedsEmergency,
		"handoffReady", updated.HandoffReady)
	writeJSONResponse(w, http.StatusOK, models.ChatResponse{
		Reply:          updated.AssistantReply,
		SessionID:      sessionID,
		NeedsEmergency: updated.NeedsEmergency,
		HandoffReady:   updated.HandoffReady,
		State:          updated,
	})
}

// chatEventsHandler long-polls for a call-summary-ready signal
// (GET /chat/events?session_id=). Responds 200 with the event when one
// arrives within the window, 204 when the window passes quietly.
func (s *Server) chatEventsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.chatEventsHandler: processing events request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameter: session_id"))
		return
	}

	ch, cancel := s.events.Subscribe(sessionID)
	defer cancel()

	select {
	case event := <-ch:
		slog.Debug("Server.chatEventsHandler: event delivered", "sessionID", sessionID, "event", event.Type)
		writeJSONResponse(w, http.StatusOK, event)
	case <-time.After(s.longPollTimeout):
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
		// Client went away; nothing to write.
	}
}

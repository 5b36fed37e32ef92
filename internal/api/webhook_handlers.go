package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// transcriptSummaryLimit caps how much raw transcript is stored when the
// payload carries no analysis summary.
const transcriptSummaryLimit = 2000

// noSummaryFallback is stored when the payload has neither summary nor
// transcript.
const noSummaryFallback = "Call completed. No transcript or summary available."

// extractConversationID pulls the call correlation id out of a webhook
// payload. Platforms are loose about the field name.
func extractConversationID(body map[string]any) string {
	for _, key := range []string{"conversation_id", "conversationId", "id"} {
		if v, ok := body[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// extractSummary builds the stored call summary from a post-call payload.
// Preference order: analysis summary fields, top-level summary, then a
// truncated transcript.
func extractSummary(body map[string]any) string {
	var summary string

	analysis, _ := body["analysis"].(map[string]any)
	if analysis == nil {
		if result, ok := body["result"].(map[string]any); ok {
			analysis, _ = result["analysis"].(map[string]any)
		}
	}
	if analysis != nil {
		for _, key := range []string{"summary", "transcript_summary", "call_summary"} {
			if v, ok := analysis[key].(string); ok && v != "" {
				summary = v
				break
			}
		}
	}
	if summary == "" {
		if v, ok := body["summary"].(string); ok {
			summary = v
		}
	}

	if summary == "" {
		transcript := flattenTranscript(body)
		if transcript != "" {
			if len(transcript) > transcriptSummaryLimit {
				transcript = transcript[:transcriptSummaryLimit] + "..."
			}
			summary = transcript
		}
	}
	if summary == "" {
		summary = noSummaryFallback
	}
	return strings.TrimSpace(summary)
}

// flattenTranscript joins a transcript that may arrive as a plain string or
// as a list of turn objects.
func flattenTranscript(body map[string]any) string {
	raw := body["transcript"]
	if raw == nil {
		raw = body["transcript_text"]
	}
	switch t := raw.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, entry := range t {
			if turn, ok := entry.(map[string]any); ok {
				if text, ok := turn["text"].(string); ok {
					parts = append(parts, text)
					continue
				}
				parts = append(parts, fmt.Sprint(turn))
				continue
			}
			parts = append(parts, fmt.Sprint(entry))
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// postCallHandler receives the voice platform's post-call webhook
// (POST /webhooks/voicecall/post-call): call ended, analysis/transcript
// ready. It maps the conversation back to its session, stores the summary in
// the session mailbox, and signals any long-poll subscriber. Always answers
// 200 so the platform does not retry; problems are recorded in the body.
func (s *Server) postCallHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.postCallHandler: processing post-call webhook", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		slog.Warn("Server.postCallHandler: unreadable payload", "error", err)
		body = map[string]any{}
	}

	conversationID := extractConversationID(body)
	if conversationID == "" {
		slog.Warn("Server.postCallHandler: payload carries no conversation id")
		writeJSONResponse(w, http.StatusOK, map[string]any{"ok": true, "message": "No conversation_id"})
		return
	}

	sessionID, err := s.st.GetSessionForConversation(conversationID)
	if err != nil {
		slog.Error("Server.postCallHandler: conversation lookup failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusOK, map[string]any{"ok": true, "message": "Session lookup failed"})
		return
	}
	if sessionID == "" {
		slog.Warn("Server.postCallHandler: no session for conversation", "conversationID", conversationID)
		writeJSONResponse(w, http.StatusOK, map[string]any{"ok": true, "message": "Session not found"})
		return
	}

	summary := extractSummary(body)
	if err := s.st.SetPendingCallSummary(models.CallSummary{
		SessionID:      sessionID,
		ConversationID: conversationID,
		Summary:        summary,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		slog.Error("Server.postCallHandler: failed to store summary", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusOK, map[string]any{"ok": true, "message": "Failed to store summary"})
		return
	}

	s.events.PublishCallSummaryReady(sessionID)
	s.notifySummaryReady(r.Context(), sessionID)

	slog.Info("Server.postCallHandler: call summary stored", "sessionID", sessionID, "conversationID", conversationID)
	writeJSONResponse(w, http.StatusOK, map[string]any{"ok": true, "session_id": sessionID})
}

// notifySummaryReady texts the patient that their call summary is waiting.
// Best effort: skipped without a configured sender and phone, logged on
// failure.
func (s *Server) notifySummaryReady(ctx context.Context, sessionID string) {
	if s.notifier == nil || s.notifyPhone == "" {
		return
	}
	result, err := s.notifier.SendSMS(ctx, s.notifyPhone, "Your clinic call finished. Open the chat to see the call summary.")
	if err != nil {
		slog.Error("Server.notifySummaryReady: SMS failed", "error", err, "sessionID", sessionID)
		return
	}
	slog.Debug("Server.notifySummaryReady: SMS sent", "sessionID", sessionID, "status", result.Status)
}

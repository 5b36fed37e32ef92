package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// runCallSummary surfaces a completed outbound call's summary, delivered
// out-of-band by the post-call webhook into the session's mailbox. When one
// is pending it becomes the reply and the turn ends immediately, bypassing
// the router; the user does not have to re-prompt to learn how their call
// went. The entry is consumed so it surfaces exactly once.
func (e *TurnEngine) runCallSummary(ctx context.Context, state *models.ConversationState) error {
	if state.SessionID == "" {
		return nil
	}
	pending, err := e.sessions.GetPendingCallSummary(state.SessionID)
	if err != nil {
		slog.Warn("TurnEngine.runCallSummary: mailbox read failed", "error", err, "sessionID", state.SessionID)
		return nil
	}
	if pending == nil {
		return nil
	}
	summary := strings.TrimSpace(pending.Summary)
	if summary == "" {
		return nil
	}

	state.AssistantReply = "**Call summary**\n\n" + summary
	state.ReplyFromCallSummary = true
	if err := e.sessions.DeletePendingCallSummary(state.SessionID); err != nil {
		slog.Warn("TurnEngine.runCallSummary: mailbox consume failed", "error", err, "sessionID", state.SessionID)
	}
	slog.Info("TurnEngine.runCallSummary: surfaced pending call summary", "sessionID", state.SessionID, "conversationID", pending.ConversationID)
	return nil
}

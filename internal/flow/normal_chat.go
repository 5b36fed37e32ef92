package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// noModelChatReply is the casual-chat fallback when no inference model is
// configured.
const noModelChatReply = "I can help with normal chat. If you describe a health symptom, I can switch to triage mode."

// runNormalChat produces a conversational reply for non-clinical messages and
// terminates the turn.
func (e *TurnEngine) runNormalChat(ctx context.Context, state *models.ConversationState) error {
	state.NextAction = models.NextActionContinueQuestioning
	state.RouteIntent = models.RouteNormalChat
	state.ConversationMode = models.ModeNormalChat

	if e.model == nil {
		state.AssistantReply = noModelChatReply
		return nil
	}

	firstName := state.PatientContext.FirstName
	systemPrompt := fmt.Sprintf(
		"You are a warm, caring nurse-style assistant. Speak in a gentle, reassuring way, like a nurse at the front desk who truly cares. "+
			"The patient's first name is %s. Use it when appropriate for a warm, personal tone. "+
			"Use a warm tone: acknowledge how the person might be feeling, use 'we' when helpful (e.g. 'We can figure this out'), and offer comfort before information. "+
			"Help with general health questions, wellness, and when to seek care. Do not give specific medical diagnoses or treatment; encourage seeing a provider when needed. "+
			"If someone describes symptoms, validate their concern, offer brief comfort, and suggest they use the triage flow in this app for a more thorough assessment.",
		firstName)

	reply, err := e.model.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(strings.TrimSpace(state.LatestUserMessage)),
	})
	if err != nil {
		slog.Warn("TurnEngine.runNormalChat: generation failed, using fallback", "error", err, "sessionID", state.SessionID)
		state.AssistantReply = noModelChatReply
		return nil
	}
	state.AssistantReply = strings.TrimSpace(reply)
	if state.AssistantReply == "" {
		state.AssistantReply = noModelChatReply
	}
	return nil
}

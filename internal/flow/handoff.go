package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/TriagePipe/internal/genai"
	"github.com/BTreeMap/TriagePipe/internal/models"
)

// bookingConsentMessage asks permission before the booking sub-flow starts.
const bookingConsentMessage = "I can check and book an appointment for you in the nearest clinic, would you like me to do that?"

type handoffPhrase struct {
	HandoffPhrase string `json:"handoff_phrase"`
}

var handoffPhraseSchema = genai.ResponseSchema{
	Name:        "handoff_phrase",
	Description: "Single short phrase describing the complaint for a clinic or call agent.",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"handoff_phrase": map[string]any{"type": "string"},
		},
		"required":             []string{"handoff_phrase"},
		"additionalProperties": false,
	},
}

const handoffPhraseSystemPrompt = "You produce a single short phrase for handoff to a clinic or call agent. " +
	"Given the patient's chief complaint in their own words, output one concise phrase. " +
	"Examples: 'not feeling too well in my stomach' -> 'stomach feeling not good'; " +
	"'I have this really bad headache since yesterday' -> 'headache'; " +
	"'my throat has been sore and it hurts to swallow' -> 'sore throat'. " +
	"Keep it brief (a few words). Do not diagnose; use patient-safe wording. " +
	"Return only the handoff_phrase, no other text."

// runHandoffPhrase compresses the raw chief complaint into a short
// spoken-style phrase for downstream voice and search use. Without a model
// the complaint is used verbatim.
func (e *TurnEngine) runHandoffPhrase(ctx context.Context, state *models.ConversationState) error {
	complaint := strings.TrimSpace(state.ChiefComplaint)
	if complaint == "" {
		state.ChiefComplaintHandoff = ""
		return nil
	}
	if e.model == nil {
		state.ChiefComplaintHandoff = complaint
		return nil
	}

	contextParts := []string{"Chief complaint (patient's words): " + complaint}
	if location := strings.TrimSpace(state.BodyLocation); location != "" {
		contextParts = append(contextParts, "Body location: "+location)
	}
	if len(state.Symptoms) > 0 {
		symptoms := state.Symptoms
		if len(symptoms) > 5 {
			symptoms = symptoms[:5]
		}
		contextParts = append(contextParts, "Symptoms: "+strings.Join(symptoms, ", "))
	}

	var result handoffPhrase
	err := e.model.GenerateStructured(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(handoffPhraseSystemPrompt),
		openai.UserMessage(strings.Join(contextParts, "\n")),
	}, handoffPhraseSchema, &result)
	if err != nil {
		slog.Warn("TurnEngine.runHandoffPhrase: generation failed, using complaint verbatim", "error", err, "sessionID", state.SessionID)
		state.ChiefComplaintHandoff = complaint
		return nil
	}
	phrase := strings.TrimSpace(result.HandoffPhrase)
	if phrase == "" {
		phrase = complaint
	}
	state.ChiefComplaintHandoff = phrase
	return nil
}

// runReadyMarker records the verifier's ready decision so downstream
// selectors and the API surface see a stable next_action.
func (e *TurnEngine) runReadyMarker(_ context.Context, state *models.ConversationState) error {
	state.NextAction = models.NextActionReadyForHandoff
	return nil
}

// runEmergencyMarker pins the emergency decision for the turn.
func (e *TurnEngine) runEmergencyMarker(_ context.Context, state *models.ConversationState) error {
	state.NextAction = models.NextActionEmergencyEscalation
	return nil
}

// runBookingConsent is stateless: it only asks for booking consent.
func (e *TurnEngine) runBookingConsent(_ context.Context, state *models.ConversationState) error {
	state.AssistantReply = bookingConsentMessage
	return nil
}

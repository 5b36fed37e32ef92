package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/TriagePipe/internal/genai"
	"github.com/BTreeMap/TriagePipe/internal/models"
)

// askAvailabilityMessage is the one-shot availability question.
const askAvailabilityMessage = "When are you available for an appointment? For example: Monday morning until 10am, Friday 3PM to 6PM."

type dayAvailability struct {
	Day        string   `json:"day"`
	TimeRanges []string `json:"time_ranges"`
}

type availabilityExtraction struct {
	Days []dayAvailability `json:"days"`
}

var availabilitySchema = genai.ResponseSchema{
	Name:        "availability_extraction",
	Description: "Appointment availability parsed from a patient message: days and time ranges.",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"days": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"day": map[string]any{"type": "string"},
						"time_ranges": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
					"required":             []string{"day", "time_ranges"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"days"},
		"additionalProperties": false,
	},
}

const availabilitySystemPrompt = "Extract the person's appointment availability from their message. " +
	"Return each day of the week they mention (Monday, Tuesday, etc.) and the time ranges for that day " +
	"(e.g. 'morning until 10am', '3PM to 6 PM', 'afternoon'). " +
	"If they give a general time without a day, use day 'General'. " +
	"Keep time ranges in their words, short and natural for speaking."

// parseAvailability turns a free-text reply into ordered day slots. Without a
// model, and on any extraction failure, the whole message becomes one
// "General" slot.
func (e *TurnEngine) parseAvailability(ctx context.Context, message string) []dayAvailability {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	generalFallback := []dayAvailability{{Day: "General", TimeRanges: []string{message}}}
	if e.model == nil {
		return generalFallback
	}

	var result availabilityExtraction
	err := e.model.GenerateStructured(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(availabilitySystemPrompt),
		openai.UserMessage(message),
	}, availabilitySchema, &result)
	if err != nil {
		slog.Warn("TurnEngine.parseAvailability: extraction failed, using general slot", "error", err)
		return generalFallback
	}

	var days []dayAvailability
	for _, day := range result.Days {
		if day.Day == "" || len(day.TimeRanges) == 0 {
			continue
		}
		days = append(days, day)
	}
	return days
}

// formatAvailability renders parsed slots as one natural-language string for
// the voice agent, preserving the order the patient gave.
func formatAvailability(days []dayAvailability) string {
	var parts []string
	for _, day := range days {
		if len(day.TimeRanges) == 0 {
			continue
		}
		parts = append(parts, day.Day+" "+strings.Join(day.TimeRanges, " and "))
	}
	return strings.Join(parts, ", ")
}

// runAvailability is the one-shot availability collector. If availability is
// already known it passes through; if the question is open and the patient
// replied, the reply is parsed and the flag cleared; otherwise it asks the
// question, raises the flag and ends the turn. It never asks twice in one
// call.
func (e *TurnEngine) runAvailability(ctx context.Context, state *models.ConversationState) error {
	if strings.TrimSpace(state.PatientAvailabilityTime) != "" {
		return nil
	}

	latestMessage := strings.TrimSpace(state.LatestUserMessage)
	if state.AwaitingAvailability && latestMessage != "" {
		days := e.parseAvailability(ctx, latestMessage)
		formatted := formatAvailability(days)
		if formatted == "" {
			formatted = latestMessage
		}
		slots := make(map[string][]string, len(days))
		for _, day := range days {
			slots[day.Day] = day.TimeRanges
		}
		state.PatientAvailabilitySlots = slots
		state.PatientAvailabilityTime = formatted
		state.AwaitingAvailability = false
		slog.Info("TurnEngine.runAvailability: availability captured", "sessionID", state.SessionID, "days", len(days))
		return nil
	}

	state.AssistantReply = askAvailabilityMessage
	state.AwaitingAvailability = true
	slog.Debug("TurnEngine.runAvailability: asked for availability", "sessionID", state.SessionID)
	return nil
}

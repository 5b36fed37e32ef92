package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// vagueTimelines lists non-empty timeline values that must still count as
// missing: they carry no usable timing information.
var vagueTimelines = []string{"today", "recently", "recent", "just started", "lately"}

// followUpQuestions maps each required field to the question asked when it is
// the first one missing.
var followUpQuestions = map[string]string{
	"chief_complaint": "What is the main problem you need help with today?",
	"timeline":        "When did this start, and has it been constant or changing?",
	"body_location":   "Where is the problem located? For example, chest, stomach, or throat?",
	"severity":        "How bad is it on a scale of 0 to 10, or how would you describe the severity?",
}

// readyReply confirms intake completeness when no question is pending.
const readyReply = "Thanks. I have enough intake details and can proceed with triage reasoning."

func buildFollowUpQuestion(missingFields []string) string {
	if len(missingFields) == 0 {
		return "Please share any other important symptom details."
	}
	if question, ok := followUpQuestions[missingFields[0]]; ok {
		return question
	}
	return fallbackReply
}

func isVagueTimeline(timeline string) bool {
	lowered := strings.ToLower(timeline)
	for _, vague := range vagueTimelines {
		if lowered == vague {
			return true
		}
	}
	return false
}

// runVerifier is the pure completeness gate. Emergency short-circuits
// everything; otherwise the four required fields are checked in fixed order
// and any insufficient value is reset so the extractor must re-elicit it. The
// reset is what keeps a vague accepted value from permanently blocking
// progress.
func (e *TurnEngine) runVerifier(_ context.Context, state *models.ConversationState) error {
	if state.NeedsEmergency {
		state.HandoffReady = false
		state.MissingFields = nil
		state.NextAction = models.NextActionEmergencyEscalation
		if state.AssistantReply == "" {
			state.AssistantReply = emergencyReply
		}
		slog.Info("TurnEngine.runVerifier: emergency escalation", "sessionID", state.SessionID)
		return nil
	}

	complaint := strings.TrimSpace(state.ChiefComplaint)
	timeline := strings.TrimSpace(state.Timeline)
	timelineInsufficient := timeline == "" || isVagueTimeline(timeline) || len(timeline) < 4
	bodyLocation := strings.TrimSpace(state.BodyLocation)
	severity := strings.TrimSpace(state.Severity)
	severitySufficient := severity != "" ||
		(state.Severity0to10 != nil && *state.Severity0to10 >= 0 && *state.Severity0to10 <= 10)

	var missingFields []string
	if complaint == "" {
		missingFields = append(missingFields, "chief_complaint")
	}
	if timelineInsufficient {
		missingFields = append(missingFields, "timeline")
	}
	if bodyLocation == "" {
		missingFields = append(missingFields, "body_location")
	}
	if !severitySufficient {
		missingFields = append(missingFields, "severity")
	}

	if len(missingFields) > 0 {
		state.HandoffReady = false
		state.MissingFields = missingFields
		state.NextAction = models.NextActionContinueQuestioning
		if state.AssistantReply == "" {
			state.AssistantReply = buildFollowUpQuestion(missingFields)
		}
		if timelineInsufficient {
			state.Timeline = ""
		}
		if bodyLocation == "" {
			state.BodyLocation = ""
		}
		if !severitySufficient {
			state.Severity = ""
			state.Severity0to10 = nil
		}
		slog.Debug("TurnEngine.runVerifier: continue questioning", "sessionID", state.SessionID, "missingFields", missingFields)
		return nil
	}

	state.HandoffReady = true
	state.MissingFields = []string{}
	state.NextAction = models.NextActionReadyForHandoff
	if state.AssistantReply == "" {
		state.AssistantReply = readyReply
	}
	slog.Info("TurnEngine.runVerifier: ready for handoff", "sessionID", state.SessionID)
	return nil
}

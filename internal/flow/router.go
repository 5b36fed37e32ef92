package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/TriagePipe/internal/genai"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/triage"
)

// routerDecision is the structured classification returned by the model.
type routerDecision struct {
	RouteIntent string `json:"route_intent"`
	Rationale   string `json:"rationale"`
}

var routerSchema = genai.ResponseSchema{
	Name:        "router_decision",
	Description: "Classification of a patient message as casual conversation or clinical triage.",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"route_intent": map[string]any{
				"type": "string",
				"enum": []string{"normal_chat", "triage"},
			},
			"rationale": map[string]any{
				"type": "string",
			},
		},
		"required":             []string{"route_intent", "rationale"},
		"additionalProperties": false,
	},
}

const routerSystemPrompt = "Route user intent. If the message includes health complaints, symptoms, medical concern, or triage need, " +
	"return triage. Otherwise return normal_chat."

// runRouter classifies this turn's message. Triage mode is sticky: once a
// clinical conversation starts, an off-topic remark does not knock it back
// to casual chat. Without a model the broad health-hint vocabulary decides.
func (e *TurnEngine) runRouter(ctx context.Context, state *models.ConversationState) error {
	latestMessage := strings.TrimSpace(state.LatestUserMessage)
	if state.ConversationMode == models.ModeTriage {
		state.RouteIntent = models.RouteTriage
		slog.Debug("TurnEngine.runRouter: sticky triage mode", "sessionID", state.SessionID)
		return nil
	}

	intent := models.RouteNormalChat
	if triage.LooksLikeHealthConcern(latestMessage) {
		intent = models.RouteTriage
	}

	if e.model != nil && latestMessage != "" {
		var decision routerDecision
		err := e.model.GenerateStructured(ctx, []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(routerSystemPrompt),
			openai.UserMessage(latestMessage),
		}, routerSchema, &decision)
		if err != nil {
			slog.Warn("TurnEngine.runRouter: classification failed, using heuristic", "error", err, "sessionID", state.SessionID)
		} else if decision.RouteIntent == string(models.RouteTriage) {
			intent = models.RouteTriage
		} else if decision.RouteIntent == string(models.RouteNormalChat) {
			intent = models.RouteNormalChat
		}
	}

	state.RouteIntent = intent
	if intent == models.RouteTriage {
		state.ConversationMode = models.ModeTriage
	} else {
		state.ConversationMode = models.ModeNormalChat
	}
	slog.Debug("TurnEngine.runRouter: routed", "sessionID", state.SessionID, "intent", intent)
	return nil
}

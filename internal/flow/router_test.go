package flow

import (
	"context"
	"testing"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

func TestRouterStickyTriageMode(t *testing.T) {
	engine := newTestEngine(t)
	state := models.NewConversationState("s1")
	state.ConversationMode = models.ModeTriage
	state.LatestUserMessage = "Tell me a fun fact about space"

	if err := engine.runRouter(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.RouteIntent != models.RouteTriage {
		t.Errorf("expected sticky triage routing, got %q", state.RouteIntent)
	}
	if state.ConversationMode != models.ModeTriage {
		t.Errorf("expected triage mode preserved, got %q", state.ConversationMode)
	}
}

func TestRouterHeuristicWithoutModel(t *testing.T) {
	tests := []struct {
		message string
		want    models.RouteIntent
	}{
		{"I have a terrible headache", models.RouteTriage},
		{"my cough is getting worse", models.RouteTriage},
		{"Tell me a fun fact about space", models.RouteNormalChat},
		{"hello!", models.RouteNormalChat},
	}
	for _, tt := range tests {
		engine := newTestEngine(t)
		state := models.NewConversationState("s1")
		state.LatestUserMessage = tt.message

		if err := engine.runRouter(context.Background(), state); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state.RouteIntent != tt.want {
			t.Errorf("message %q: expected %q, got %q", tt.message, tt.want, state.RouteIntent)
		}
	}
}

func TestRouterModelDecision(t *testing.T) {
	model := &fakeModel{structured: map[string]string{
		"router_decision": `{"route_intent": "triage", "rationale": "describes symptoms"}`,
	}}
	engine := newTestEngine(t, WithModel(model))
	state := models.NewConversationState("s1")
	state.LatestUserMessage = "something feels off with my balance"

	if err := engine.runRouter(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.RouteIntent != models.RouteTriage {
		t.Errorf("expected model triage decision, got %q", state.RouteIntent)
	}
	if state.ConversationMode != models.ModeTriage {
		t.Errorf("expected mode flipped to triage, got %q", state.ConversationMode)
	}
}

func TestRouterModelFailureFallsBackToHeuristic(t *testing.T) {
	model := &fakeModel{structuredErr: context.DeadlineExceeded}
	engine := newTestEngine(t, WithModel(model))
	state := models.NewConversationState("s1")
	state.LatestUserMessage = "I feel sick and have a fever"

	if err := engine.runRouter(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.RouteIntent != models.RouteTriage {
		t.Errorf("expected heuristic triage fallback, got %q", state.RouteIntent)
	}
}

func TestAfterRouterForcesAvailability(t *testing.T) {
	state := models.NewConversationState("s1")
	state.AwaitingAvailability = true
	state.RouteIntent = models.RouteNormalChat
	if next := afterRouter(state); next != nodeAvailability {
		t.Errorf("expected availability to win routing priority, got %q", next)
	}
}

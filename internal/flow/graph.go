package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// nodeID names one node in the conversation graph.
type nodeID string

const (
	nodeCallSummary       nodeID = "call_summary"
	nodeRouter            nodeID = "router"
	nodeNormalChat        nodeID = "normal_chat"
	nodeIntake            nodeID = "intake"
	nodeVerifier          nodeID = "verifier"
	nodeHandoffPhrase     nodeID = "handoff_phrase"
	nodeReady             nodeID = "ready_for_handoff"
	nodeEmergency         nodeID = "emergency_escalation"
	nodeConsent           nodeID = "booking_consent"
	nodeAvailability      nodeID = "availability"
	nodeKnowledge         nodeID = "knowledge"
	nodeProviderLocations nodeID = "provider_locations"
	nodeOutboundCall      nodeID = "outbound_call"
	nodeEnd               nodeID = "end"
)

// maxWalkSteps bounds one graph walk. The longest legal path visits eight
// nodes; anything past this is a topology bug, not a long conversation.
const maxWalkSteps = 16

// nodeFunc executes one node against the state. Nodes own all side effects;
// they mutate the state in place and degrade internally on dependency
// failure. A returned error aborts the turn and must be reserved for
// cannot-make-progress conditions.
type nodeFunc func(ctx context.Context, state *models.ConversationState) error

// selectorFunc picks the next node from the state the preceding node just
// wrote. Selectors must be pure reads with no side effects.
type selectorFunc func(state *models.ConversationState) nodeID

// graph is a table-driven state machine: a node table, an edge table and an
// entry point. The walk runs one path per turn.
type graph struct {
	entry nodeID
	nodes map[nodeID]nodeFunc
	edges map[nodeID]selectorFunc
}

// static returns a selector that always picks next.
func static(next nodeID) selectorFunc {
	return func(*models.ConversationState) nodeID { return next }
}

// walk executes one path through the graph.
func (g *graph) walk(ctx context.Context, state *models.ConversationState) error {
	current := g.entry
	for steps := 0; current != nodeEnd; steps++ {
		if steps >= maxWalkSteps {
			slog.Error("graph.walk: step limit exceeded", "sessionID", state.SessionID, "node", current)
			return fmt.Errorf("graph walk exceeded %d steps at node %s", maxWalkSteps, current)
		}
		fn, ok := g.nodes[current]
		if !ok {
			slog.Error("graph.walk: unknown node", "sessionID", state.SessionID, "node", current)
			return fmt.Errorf("unknown graph node %s", current)
		}
		slog.Debug("graph.walk: executing node", "sessionID", state.SessionID, "node", current)
		if err := fn(ctx, state); err != nil {
			return fmt.Errorf("node %s failed: %w", current, err)
		}
		selector, ok := g.edges[current]
		if !ok {
			slog.Error("graph.walk: node has no outgoing edge", "sessionID", state.SessionID, "node", current)
			return fmt.Errorf("graph node %s has no outgoing edge", current)
		}
		current = selector(state)
	}
	return nil
}

// newTriageGraph wires the full topology. Node execution lives in the
// TurnEngine methods; this table only records who follows whom.
func newTriageGraph(e *TurnEngine) *graph {
	return &graph{
		entry: nodeCallSummary,
		nodes: map[nodeID]nodeFunc{
			nodeCallSummary:       e.runCallSummary,
			nodeRouter:            e.runRouter,
			nodeNormalChat:        e.runNormalChat,
			nodeIntake:            e.runIntake,
			nodeVerifier:          e.runVerifier,
			nodeHandoffPhrase:     e.runHandoffPhrase,
			nodeReady:             e.runReadyMarker,
			nodeEmergency:         e.runEmergencyMarker,
			nodeConsent:           e.runBookingConsent,
			nodeAvailability:      e.runAvailability,
			nodeKnowledge:         e.runKnowledge,
			nodeProviderLocations: e.runProviderLocations,
			nodeOutboundCall:      e.runOutboundCall,
		},
		edges: map[nodeID]selectorFunc{
			nodeCallSummary:       afterCallSummary,
			nodeRouter:            afterRouter,
			nodeNormalChat:        static(nodeEnd),
			nodeIntake:            static(nodeVerifier),
			nodeVerifier:          afterVerifier,
			nodeHandoffPhrase:     static(nodeReady),
			nodeReady:             afterReady,
			nodeEmergency:         static(nodeEnd),
			nodeConsent:           static(nodeEnd),
			nodeAvailability:      afterAvailability,
			nodeKnowledge:         static(nodeProviderLocations),
			nodeProviderLocations: static(nodeOutboundCall),
			nodeOutboundCall:      static(nodeEnd),
		},
	}
}

func afterCallSummary(state *models.ConversationState) nodeID {
	if state.ReplyFromCallSummary {
		return nodeEnd
	}
	return nodeRouter
}

// afterRouter forces the availability node when a "when are you free"
// question is open: an open question wins routing priority over
// re-classification.
func afterRouter(state *models.ConversationState) nodeID {
	if state.AwaitingAvailability {
		return nodeAvailability
	}
	if state.RouteIntent == models.RouteTriage {
		return nodeIntake
	}
	return nodeNormalChat
}

func afterVerifier(state *models.ConversationState) nodeID {
	switch state.NextAction {
	case models.NextActionReadyForHandoff:
		return nodeHandoffPhrase
	case models.NextActionEmergencyEscalation:
		return nodeEmergency
	default:
		return nodeEnd
	}
}

func afterReady(state *models.ConversationState) nodeID {
	if state.BookingConfirmed {
		return nodeAvailability
	}
	return nodeConsent
}

func afterAvailability(state *models.ConversationState) nodeID {
	if strings.TrimSpace(state.PatientAvailabilityTime) != "" {
		return nodeKnowledge
	}
	return nodeEnd
}

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/genai"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/store"
)

// fallbackReply is the last-resort assistant reply when no node produced one.
const fallbackReply = "Could you tell me more?"

// Opts holds configuration options for the turn engine.
type Opts struct {
	Model     genai.ClientInterface
	Knowledge KnowledgeSearcher
	Directory ProviderDirectory
	Calls     CallDispatcher
}

// Option defines a configuration option for the turn engine.
type Option func(*Opts)

// WithModel sets the inference client. A nil model is legal: every node falls
// back to its heuristic path.
func WithModel(model genai.ClientInterface) Option {
	return func(o *Opts) { o.Model = model }
}

// WithKnowledgeSearcher sets the knowledge-base search client.
func WithKnowledgeSearcher(kb KnowledgeSearcher) Option {
	return func(o *Opts) { o.Knowledge = kb }
}

// WithProviderDirectory sets the provider directory client.
func WithProviderDirectory(dir ProviderDirectory) Option {
	return func(o *Opts) { o.Directory = dir }
}

// WithCallDispatcher sets the outbound voice-call client.
func WithCallDispatcher(calls CallDispatcher) Option {
	return func(o *Opts) { o.Calls = calls }
}

// TurnEngine executes one conversation turn: one inbound message walked
// through the graph against the session's state. The state is exclusively
// owned by the engine for the duration of the turn; the caller persists it
// afterwards.
type TurnEngine struct {
	model     genai.ClientInterface
	sessions  store.Store
	knowledge KnowledgeSearcher
	directory ProviderDirectory
	calls     CallDispatcher
	graph     *graph
	now       func() time.Time
}

// NewTurnEngine creates a turn engine bound to a session store. The store is
// required (call-summary surfacing and call correlation go through it); all
// other collaborators are optional and configured via options.
func NewTurnEngine(sessions store.Store, opts ...Option) (*TurnEngine, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	e := &TurnEngine{
		model:     cfg.Model,
		sessions:  sessions,
		knowledge: cfg.Knowledge,
		directory: cfg.Directory,
		calls:     cfg.Calls,
		now:       time.Now,
	}
	e.graph = newTriageGraph(e)
	slog.Debug("flow.NewTurnEngine: engine created",
		"modelConfigured", cfg.Model != nil,
		"knowledgeConfigured", cfg.Knowledge != nil,
		"directoryConfigured", cfg.Directory != nil,
		"callsConfigured", cfg.Calls != nil)
	return e, nil
}

// RunTurn processes one inbound message and returns the updated state with
// AssistantReply set. The transient reply-from-call-summary marker is cleared
// before returning so the caller can persist the state as-is.
func (e *TurnEngine) RunTurn(ctx context.Context, state *models.ConversationState, message string) (*models.ConversationState, error) {
	if state == nil {
		return nil, fmt.Errorf("conversation state is required")
	}
	slog.Debug("TurnEngine.RunTurn: turn started", "sessionID", state.SessionID, "messageLength", len(message))

	state.LatestUserMessage = message
	state.AssistantReply = ""
	state.ReplyFromCallSummary = false

	if err := e.graph.walk(ctx, state); err != nil {
		slog.Error("TurnEngine.RunTurn: graph walk failed", "error", err, "sessionID", state.SessionID)
		return nil, fmt.Errorf("turn failed for session %s: %w", state.SessionID, err)
	}

	if state.AssistantReply == "" {
		slog.Warn("TurnEngine.RunTurn: no node produced a reply", "sessionID", state.SessionID)
		state.AssistantReply = fallbackReply
	}
	state.ReplyFromCallSummary = false

	slog.Info("TurnEngine.RunTurn: turn completed",
		"sessionID", state.SessionID,
		"mode", state.ConversationMode,
		"nextAction", state.NextAction,
		"needsEmergency", state.NeedsEmergency,
		"handoffReady", state.HandoffReady)
	return state, nil
}

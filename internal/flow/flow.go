// Package flow implements the conversation orchestration engine: a directed
// graph of stateful nodes executed once per inbound message. The entry node
// surfaces pending call summaries, the router classifies intent, the intake
// extractor fills the clinical record, the verifier gates handoff, and the
// handoff sub-flow collects availability, searches the knowledge base and
// provider directory, and dispatches outbound calls.
//
// Every node degrades to a documented fallback when its external dependency
// is missing or failing; a turn always produces an assistant reply. Only
// store-unreachable errors propagate to the caller.
package flow

import (
	"context"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// KnowledgeSearcher is the semantic health-topic search capability consumed
// by the knowledge node.
type KnowledgeSearcher interface {
	// Search returns up to topK snippets ordered by relevance.
	Search(ctx context.Context, query string, topK int) ([]models.KBSnippet, error)
}

// ProviderDirectory is the clinic directory capability consumed by the
// knowledge and provider-locations nodes.
type ProviderDirectory interface {
	// SearchDoctors returns providers matching a zip, specialty and insurance.
	SearchDoctors(ctx context.Context, zipCode, specialty, insurance string) ([]models.Clinic, error)
	// ProviderLocations returns up to pageSize provider locations near a zip
	// for a visit reason.
	ProviderLocations(ctx context.Context, zipCode, visitReasonID string, pageSize int) ([]models.Clinic, error)
}

// CallDispatcher starts one outbound voice call. Failures are reported in the
// result, never as an error: the outbound-call node always has something to
// tell the user.
type CallDispatcher interface {
	StartCall(ctx context.Context, phoneNumber string, dynamicVariables map[string]string) models.CallDispatchResult
}

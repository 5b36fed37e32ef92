package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/TriagePipe/internal/genai"
	"github.com/BTreeMap/TriagePipe/internal/models"
)

const (
	// knowledgeTopK is how many knowledge snippets one search returns.
	knowledgeTopK = 5
	// snippetTextLimit truncates stored snippet bodies.
	snippetTextLimit = 500
	// defaultSearchZip anchors provider search when the patient has no zip.
	defaultSearchZip = "10001"
	// insurancePlaceholder fills the directory's insurance constraint until a
	// real coverage lookup exists.
	insurancePlaceholder = "Unknown"

	defaultSpecialty            = "Primary Care"
	defaultSpecialtyDescription = "general health concerns"
)

// recommendedProvider is the model's single best specialty for the complaint
// and evidence.
type recommendedProvider struct {
	Specialty   string `json:"specialty"`
	Description string `json:"description"`
}

var recommendedProviderSchema = genai.ResponseSchema{
	Name:        "recommended_provider",
	Description: "Single best doctor or clinic specialty for the patient's complaint and evidence.",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"specialty":   map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
		},
		"required":             []string{"specialty", "description"},
		"additionalProperties": false,
	},
}

const recommendProviderSystemPrompt = "Given the patient's chief complaint, symptoms, timeline, and the relevant health topics below, " +
	"choose the single best doctor or clinic type (specialty) and a short patient-facing description. " +
	"Use standard specialty names such as Primary Care, Allergy and Immunology, Dermatology, Cardiology, etc. " +
	"Return only one specialty and one short phrase for description (e.g. 'focus on allergies')."

// buildKnowledgeQuery joins complaint, symptoms and timeline into one search
// string.
func buildKnowledgeQuery(state *models.ConversationState) string {
	var parts []string
	if state.ChiefComplaint != "" {
		parts = append(parts, state.ChiefComplaint)
	}
	parts = append(parts, state.Symptoms...)
	if state.Timeline != "" {
		parts = append(parts, state.Timeline)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// knowledgeBlock renders the snippet list for the reply.
func knowledgeBlock(evidence []models.KBSnippet) string {
	if len(evidence) == 0 {
		return "I don't have specific health topic matches for your symptoms right now. Please discuss your concerns with a health care provider."
	}
	lines := []string{"Based on your symptoms, here are relevant health topics from MedlinePlus:", ""}
	for i, item := range evidence {
		if i >= knowledgeTopK {
			break
		}
		title := item.Title
		if title == "" {
			title = "Topic"
		}
		if item.URL != "" {
			lines = append(lines, fmt.Sprintf("• %s: %s", title, item.URL))
		} else {
			lines = append(lines, "• "+title)
		}
	}
	return strings.Join(lines, "\n")
}

// evidenceContext builds a short context string from top evidence for the
// recommendation prompt.
func evidenceContext(evidence []models.KBSnippet) string {
	var parts []string
	for i, item := range evidence {
		if i >= 3 {
			break
		}
		title := item.Title
		if title == "" {
			title = "Topic"
		}
		text := item.Text
		if len(text) > 200 {
			text = text[:200]
		}
		parts = append(parts, fmt.Sprintf("- %s: %s", title, text))
	}
	if len(parts) == 0 {
		return "No specific topics found."
	}
	return strings.Join(parts, "\n")
}

// inferRecommendedProvider picks the specialty; Primary Care without a model
// or evidence, and on any failure.
func (e *TurnEngine) inferRecommendedProvider(ctx context.Context, state *models.ConversationState, evidence []models.KBSnippet) recommendedProvider {
	fallback := recommendedProvider{Specialty: defaultSpecialty, Description: defaultSpecialtyDescription}
	if e.model == nil || len(evidence) == 0 {
		return fallback
	}
	userContent := fmt.Sprintf(
		"Chief complaint: %s\nSymptoms: %s\nTimeline: %s\n\nRelevant health topics:\n%s",
		state.ChiefComplaint, strings.Join(state.Symptoms, ", "), state.Timeline, evidenceContext(evidence))

	var result recommendedProvider
	err := e.model.GenerateStructured(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(recommendProviderSystemPrompt),
		openai.UserMessage(userContent),
	}, recommendedProviderSchema, &result)
	if err != nil {
		slog.Warn("TurnEngine.inferRecommendedProvider: recommendation failed, using Primary Care", "error", err, "sessionID", state.SessionID)
		return fallback
	}
	if result.Specialty == "" {
		result.Specialty = defaultSpecialty
	}
	if result.Description == "" {
		result.Description = defaultSpecialtyDescription
	}
	return result
}

// runKnowledge runs once handoff is ready and availability is known: search
// the knowledge base, infer the best specialty, query the provider directory,
// and assemble the reply. The clinic listing itself is deliberately deferred
// to the provider-locations node.
func (e *TurnEngine) runKnowledge(ctx context.Context, state *models.ConversationState) error {
	query := buildKnowledgeQuery(state)
	if e.knowledge == nil || query == "" {
		state.KBEvidence = []models.KBSnippet{}
		state.ProviderSearch = models.ProviderSearch{Constraints: map[string]string{}, Results: []models.Clinic{}}
		if state.AssistantReply == "" {
			state.AssistantReply = "Intake complete. I couldn't search health topics right now; please talk to a provider."
		}
		return nil
	}

	results, err := e.knowledge.Search(ctx, query, knowledgeTopK)
	if err != nil {
		slog.Warn("TurnEngine.runKnowledge: search failed", "error", err, "sessionID", state.SessionID)
		results = nil
	}
	evidence := make([]models.KBSnippet, 0, len(results))
	for _, r := range results {
		if len(r.Text) > snippetTextLimit {
			r.Text = r.Text[:snippetTextLimit]
		}
		evidence = append(evidence, r)
	}

	recommended := e.inferRecommendedProvider(ctx, state, evidence)

	zipCode := strings.TrimSpace(state.PatientContext.Zip)
	if zipCode == "" {
		zipCode = defaultSearchZip
	}
	var providerResults []models.Clinic
	if e.directory != nil {
		providerResults, err = e.directory.SearchDoctors(ctx, zipCode, recommended.Specialty, insurancePlaceholder)
		if err != nil {
			slog.Warn("TurnEngine.runKnowledge: provider search failed", "error", err, "sessionID", state.SessionID)
			providerResults = nil
		}
	}

	state.KBEvidence = evidence
	state.ProviderSearch = models.ProviderSearch{
		Constraints: map[string]string{
			"recommended_specialty": recommended.Specialty,
			"description":           recommended.Description,
		},
		Results: providerResults,
	}
	state.AssistantReply = knowledgeBlock(evidence) + "\n\n" +
		fmt.Sprintf("We recommend seeing a **%s** (%s).", recommended.Specialty, recommended.Description)

	slog.Info("TurnEngine.runKnowledge: knowledge lookup completed",
		"sessionID", state.SessionID,
		"snippets", len(evidence),
		"specialty", recommended.Specialty,
		"providers", len(providerResults))
	return nil
}

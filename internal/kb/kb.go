// Package kb provides the MedlinePlus knowledge-base search client used by
// the knowledge node. It talks to a semantic-search endpoint; without a
// configured base URL it falls back to a small built-in topic set so local
// development produces plausible results.
package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// DefaultTimeout bounds one search request.
const DefaultTimeout = 15 * time.Second

// Opts holds configuration options for the knowledge-base client.
type Opts struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Option defines a configuration option for the knowledge-base client.
type Option func(*Opts)

// WithBaseURL sets the semantic-search endpoint base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithAPIKey sets the search service API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Opts) { o.Timeout = timeout }
}

// Client searches MedlinePlus health topics by query text.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a KB client. The base URL falls back to KB_BASE_URL and
// the API key to KB_API_KEY; with no base URL the client serves sandbox
// topics.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("KB_BASE_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("KB_API_KEY")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("kb.NewClient: client created", "baseURL_set", cfg.BaseURL != "")
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Results []models.KBSnippet `json:"results"`
}

// Search returns up to topK snippets for the query, ordered by relevance.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]models.KBSnippet, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	if c.baseURL == "" {
		return sandboxSearch(query, topK), nil
	}

	body, err := json.Marshal(searchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("kb.Search: request failed", "error", err)
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("kb.Search: unexpected status", "status", resp.StatusCode)
		return nil, fmt.Errorf("knowledge search returned status %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	if len(decoded.Results) > topK {
		decoded.Results = decoded.Results[:topK]
	}
	slog.Debug("kb.Search: search completed", "query", query, "results", len(decoded.Results))
	return decoded.Results, nil
}

// sandboxTopics is the built-in fallback corpus. Scores come from keyword
// overlap with the query.
var sandboxTopics = []models.KBSnippet{
	{Title: "Sore Throat", URL: "https://medlineplus.gov/sorethroat.html", Text: "A sore throat is pain or irritation in the throat, often caused by viral infections such as colds or the flu."},
	{Title: "Cough", URL: "https://medlineplus.gov/cough.html", Text: "Coughing is a reflex that keeps your throat and airways clear. A persistent cough can signal an infection or irritation."},
	{Title: "Headache", URL: "https://medlineplus.gov/headache.html", Text: "Headaches are one of the most common health problems. Tension headaches and migraines are the most frequent types."},
	{Title: "Fever", URL: "https://medlineplus.gov/fever.html", Text: "A fever is a body temperature that is higher than normal, usually a sign that your body is fighting an infection."},
	{Title: "Dizziness and Vertigo", URL: "https://medlineplus.gov/dizzinessandvertigo.html", Text: "Dizziness describes feeling faint, woozy, or unsteady. Vertigo is the feeling that you or your surroundings are spinning."},
	{Title: "Abdominal Pain", URL: "https://medlineplus.gov/abdominalpain.html", Text: "Abdominal pain can come from the stomach, intestines, or other organs, and ranges from mild cramps to severe pain."},
	{Title: "Allergy", URL: "https://medlineplus.gov/allergy.html", Text: "Allergies happen when your immune system reacts to substances such as pollen, dust mites, or certain foods."},
	{Title: "Rashes", URL: "https://medlineplus.gov/rashes.html", Text: "A rash is an area of irritated or swollen skin. Many rashes are itchy, red, or painful."},
}

// sandboxSearch scores the built-in topics by word overlap with the query.
func sandboxSearch(query string, topK int) []models.KBSnippet {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil
	}
	type scored struct {
		snippet models.KBSnippet
		score   float64
	}
	var hits []scored
	for _, topic := range sandboxTopics {
		haystack := strings.ToLower(topic.Title + " " + topic.Text)
		matches := 0
		for _, word := range words {
			if strings.Contains(haystack, word) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		s := topic
		s.Score = float64(matches) / float64(len(words))
		hits = append(hits, scored{snippet: s, score: s.Score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]models.KBSnippet, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.snippet)
	}
	return out
}

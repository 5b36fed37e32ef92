// Package genai provides the OpenAI-backed inference client used by the
// conversation nodes. It supports plain chat generation and schema-validated
// structured extraction; every caller must tolerate the client being nil
// (no API key configured) and fall back to its documented heuristic.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// ResponseSchema describes the JSON schema an extraction call must conform
// to. Schema is a plain JSON-schema object ("type": "object", ...).
type ResponseSchema struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ClientInterface is the inference capability consumed by flow nodes.
type ClientInterface interface {
	// GenerateWithMessages returns free text for the given conversation.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	// GenerateStructured requests a completion conforming to schema and
	// unmarshals it into out. The model output is never trusted unchecked:
	// malformed or empty JSON is returned as an error so callers treat the
	// turn as "nothing extracted".
	GenerateStructured(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, schema ResponseSchema, out any) error
}

// chatService is the minimal surface of the OpenAI chat completion API,
// narrowed for testability.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model used for all generations.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat  chatService
	model string
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	slog.Debug("genai.NewClient: creating client", "model", cfg.Model)

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model}, nil
}

// GenerateWithMessages returns the model's free-text reply for the given
// conversation.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("genai.GenerateWithMessages: completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.GenerateWithMessages: no choices returned")
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStructured requests a schema-constrained completion and decodes it
// into out.
func (c *Client) GenerateStructured(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, schema ResponseSchema, out any) error {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        schema.Name,
					Description: param.NewOpt(schema.Description),
					Schema:      schema.Schema,
				},
			},
		},
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("genai.GenerateStructured: completion failed", "error", err, "schema", schema.Name)
		return fmt.Errorf("structured completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.GenerateStructured: no choices returned", "schema", schema.Name)
		return fmt.Errorf("no choices returned")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		slog.Warn("genai.GenerateStructured: empty content", "schema", schema.Name)
		return fmt.Errorf("empty structured content")
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		slog.Warn("genai.GenerateStructured: malformed structured content", "error", err, "schema", schema.Name, "contentLength", len(content))
		return fmt.Errorf("failed to decode structured content: %w", err)
	}
	return nil
}

// Package voicecall dispatches outbound appointment-booking calls through a
// conversational voice agent. Call completion is asynchronous: the platform
// posts the result to the post-call webhook, which writes the session's
// summary mailbox.
package voicecall

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// DefaultBaseURL is the voice platform API root.
const DefaultBaseURL = "https://api.elevenlabs.io"

// DefaultTimeout bounds one dispatch request.
const DefaultTimeout = 30 * time.Second

// Opts holds configuration options for the voice-call client.
type Opts struct {
	APIKey             string
	AgentID            string
	AgentPhoneNumberID string
	BaseURL            string
	Timeout            time.Duration
}

// Option defines a configuration option for the voice-call client.
type Option func(*Opts)

// WithAPIKey sets the platform API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithAgentID sets the call agent id.
func WithAgentID(id string) Option {
	return func(o *Opts) { o.AgentID = id }
}

// WithAgentPhoneNumberID sets the agent's outbound phone number id.
func WithAgentPhoneNumberID(id string) Option {
	return func(o *Opts) { o.AgentPhoneNumberID = id }
}

// WithBaseURL overrides the platform base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Opts) { o.Timeout = timeout }
}

// Client starts outbound calls. The agent's system prompt and first message
// are configured on the platform; the client only passes dynamic variables
// (clinic name, address, chief complaint, patient name, availability) for the
// platform prompt to reference.
type Client struct {
	apiKey             string
	agentID            string
	agentPhoneNumberID string
	baseURL            string
	http               *http.Client
}

// NewClient builds a voice-call client. Credentials fall back to
// ELEVENLABS_API_KEY, ELEVENLABS_AGENT_ID and
// ELEVENLABS_AGENT_PHONE_NUMBER_ID. Missing credentials are not an error
// here: dispatch reports them as an explicit failure result so the
// conversation can tell the user inline.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	if cfg.AgentID == "" {
		cfg.AgentID = os.Getenv("ELEVENLABS_AGENT_ID")
	}
	if cfg.AgentPhoneNumberID == "" {
		cfg.AgentPhoneNumberID = os.Getenv("ELEVENLABS_AGENT_PHONE_NUMBER_ID")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("voicecall.NewClient: client created",
		"APIKey_set", cfg.APIKey != "",
		"AgentID_set", cfg.AgentID != "",
		"AgentPhoneNumberID_set", cfg.AgentPhoneNumberID != "")
	return &Client{
		apiKey:             cfg.APIKey,
		agentID:            cfg.AgentID,
		agentPhoneNumberID: cfg.AgentPhoneNumberID,
		baseURL:            strings.TrimRight(cfg.BaseURL, "/"),
		http:               &http.Client{Timeout: cfg.Timeout},
	}
}

type outboundCallRequest struct {
	AgentID          string              `json:"agent_id"`
	AgentPhoneNumber string              `json:"agent_phone_number_id"`
	ToNumber         string              `json:"to_number"`
	InitiationData   *callInitiationData `json:"conversation_initiation_client_data,omitempty"`
}

type callInitiationData struct {
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

type outboundCallResponse struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// StartCall dispatches one outbound call. Failures (missing credentials,
// missing destination number, transport errors, non-success status) are
// reported in the result, never as an error.
func (c *Client) StartCall(ctx context.Context, phoneNumber string, dynamicVariables map[string]string) models.CallDispatchResult {
	if c.apiKey == "" || c.agentID == "" || c.agentPhoneNumberID == "" {
		slog.Warn("voicecall.StartCall: credentials missing")
		return models.CallDispatchResult{
			Success: false,
			Message: "missing voice credentials (ELEVENLABS_API_KEY, ELEVENLABS_AGENT_ID, ELEVENLABS_AGENT_PHONE_NUMBER_ID)",
		}
	}
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return models.CallDispatchResult{Success: false, Message: "clinic has no phone number"}
	}

	body, err := json.Marshal(outboundCallRequest{
		AgentID:          c.agentID,
		AgentPhoneNumber: c.agentPhoneNumberID,
		ToNumber:         phoneNumber,
		InitiationData:   &callInitiationData{DynamicVariables: dynamicVariables},
	})
	if err != nil {
		return models.CallDispatchResult{Success: false, Message: "failed to encode call request: " + err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/convai/twilio/outbound-call", bytes.NewReader(body))
	if err != nil {
		return models.CallDispatchResult{Success: false, Message: "failed to build call request: " + err.Error()}
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("voicecall.StartCall: request failed", "error", err)
		return models.CallDispatchResult{Success: false, Message: "call request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	var decoded outboundCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		slog.Error("voicecall.StartCall: malformed response", "error", err, "status", resp.StatusCode)
		return models.CallDispatchResult{Success: false, Message: "malformed call response"}
	}
	if resp.StatusCode != http.StatusOK || !decoded.Success {
		message := decoded.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		slog.Warn("voicecall.StartCall: dispatch rejected", "status", resp.StatusCode, "message", message)
		return models.CallDispatchResult{Success: false, Message: message}
	}

	slog.Info("voicecall.StartCall: call dispatched", "conversationID", decoded.ConversationID)
	return models.CallDispatchResult{
		Success:        true,
		ConversationID: decoded.ConversationID,
		Message:        decoded.Message,
	}
}

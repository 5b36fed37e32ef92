// Package models defines the conversation state schema and shared data
// structures threaded through the TriagePipe graph.
package models

import "time"

// ChatRequest is the inbound payload for POST /chat/message.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the outbound payload for POST /chat/message.
type ChatResponse struct {
	Reply          string             `json:"reply"`
	SessionID      string             `json:"session_id"`
	NeedsEmergency bool               `json:"needs_emergency"`
	HandoffReady   bool               `json:"handoff_ready"`
	State          *ConversationState `json:"state,omitempty"`
}

// CallSummary is the single-slot mailbox entry written by the post-call
// webhook and consumed by the call-summary node.
type CallSummary struct {
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// SMSResult reports the outcome of one notification send.
type SMSResult struct {
	Status string `json:"status"`
	SID    string `json:"sid"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the generic envelope for API endpoints that do not have a
// dedicated response schema.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

package voicecall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStartCallMissingCredentials(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "")
	t.Setenv("ELEVENLABS_AGENT_ID", "")
	t.Setenv("ELEVENLABS_AGENT_PHONE_NUMBER_ID", "")
	client := NewClient(WithBaseURL("http://localhost:0"))
	result := client.StartCall(context.Background(), "+14045550100", nil)
	if result.Success {
		t.Fatal("expected failure without credentials")
	}
	if !strings.Contains(result.Message, "missing voice credentials") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
}

func TestStartCallEmptyPhone(t *testing.T) {
	client := NewClient(
		WithAPIKey("key"),
		WithAgentID("agent"),
		WithAgentPhoneNumberID("phone"),
		WithBaseURL("http://localhost:0"),
	)
	result := client.StartCall(context.Background(), "   ", nil)
	if result.Success {
		t.Fatal("expected failure for empty phone number")
	}
	if result.Message != "clinic has no phone number" {
		t.Fatalf("unexpected message: %q", result.Message)
	}
}

func TestStartCallDispatch(t *testing.T) {
	var gotBody outboundCallRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convai/twilio/outbound-call" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "key" {
			t.Errorf("unexpected api key header: %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":         true,
			"conversation_id": "conv_123",
		})
	}))
	defer server.Close()

	client := NewClient(
		WithAPIKey("key"),
		WithAgentID("agent"),
		WithAgentPhoneNumberID("phone"),
		WithBaseURL(server.URL),
	)
	result := client.StartCall(context.Background(), "+14045550100", map[string]string{
		"clinic_name":     "Midtown Clinic",
		"chief_complaint": "sore throat",
	})
	if !result.Success {
		t.Fatalf("expected success, got message %q", result.Message)
	}
	if result.ConversationID != "conv_123" {
		t.Fatalf("unexpected conversation id: %q", result.ConversationID)
	}
	if gotBody.AgentID != "agent" || gotBody.AgentPhoneNumber != "phone" {
		t.Fatalf("unexpected agent fields: %+v", gotBody)
	}
	if gotBody.ToNumber != "+14045550100" {
		t.Fatalf("unexpected to_number: %q", gotBody.ToNumber)
	}
	if gotBody.InitiationData == nil || gotBody.InitiationData.DynamicVariables["clinic_name"] != "Midtown Clinic" {
		t.Fatalf("dynamic variables not forwarded: %+v", gotBody.InitiationData)
	}
}

func TestStartCallRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "agent is busy",
		})
	}))
	defer server.Close()

	client := NewClient(
		WithAPIKey("key"),
		WithAgentID("agent"),
		WithAgentPhoneNumberID("phone"),
		WithBaseURL(server.URL),
	)
	result := client.StartCall(context.Background(), "+14045550100", nil)
	if result.Success {
		t.Fatal("expected failure for rejected dispatch")
	}
	if result.Message != "agent is busy" {
		t.Fatalf("unexpected message: %q", result.Message)
	}
}

func TestStartCallTransportError(t *testing.T) {
	client := NewClient(
		WithAPIKey("key"),
		WithAgentID("agent"),
		WithAgentPhoneNumberID("phone"),
		WithBaseURL("http://127.0.0.1:1"),
	)
	result := client.StartCall(context.Background(), "+14045550100", nil)
	if result.Success {
		t.Fatal("expected failure on transport error")
	}
	if !strings.Contains(result.Message, "call request failed") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
}

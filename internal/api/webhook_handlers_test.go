package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPostCallHandlerStoresSummary(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.st.SetConversationSession("conv-1", "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := `{"conversation_id":"conv-1","analysis":{"summary":"Appointment booked for Monday 9am."}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voicecall/post-call", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	ts.server.postCallHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["session_id"] != "sess-1" {
		t.Fatalf("unexpected session id: %v", body["session_id"])
	}

	pending, err := ts.st.GetPendingCallSummary("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending == nil {
		t.Fatal("expected a stored pending summary")
	}
	if pending.Summary != "Appointment booked for Monday 9am." {
		t.Fatalf("unexpected summary: %q", pending.Summary)
	}
	if pending.ConversationID != "conv-1" {
		t.Fatalf("unexpected conversation id: %q", pending.ConversationID)
	}

	// The parked signal reaches a subscriber that shows up afterward.
	ch, cancel := ts.registry.Subscribe("sess-1")
	defer cancel()
	select {
	case <-ch:
	default:
		t.Fatal("expected a parked call-summary-ready signal")
	}

	if len(ts.notifier.Sent) != 1 {
		t.Fatalf("expected one notification SMS, got %d", len(ts.notifier.Sent))
	}
	if ts.notifier.Sent[0].To != "+15551234567" {
		t.Fatalf("unexpected SMS recipient: %q", ts.notifier.Sent[0].To)
	}
}

func TestPostCallHandlerAlwaysAcks(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name    string
		payload string
		message string
	}{
		{"no conversation id", `{"analysis":{"summary":"x"}}`, "No conversation_id"},
		{"unknown conversation", `{"conversation_id":"conv-unknown"}`, "Session not found"},
		{"unreadable body", `not json`, "No conversation_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/voicecall/post-call", strings.NewReader(tc.payload))
			rr := httptest.NewRecorder()
			ts.server.postCallHandler(rr, req)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if body["ok"] != true {
				t.Fatalf("expected ok ack, got %v", body["ok"])
			}
			if body["message"] != tc.message {
				t.Fatalf("expected message %q, got %v", tc.message, body["message"])
			}
		})
	}
}

func TestExtractConversationID(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"snake case", map[string]any{"conversation_id": "conv-1"}, "conv-1"},
		{"camel case", map[string]any{"conversationId": "conv-2"}, "conv-2"},
		{"bare id", map[string]any{"id": "conv-3"}, "conv-3"},
		{"prefers snake case", map[string]any{"conversation_id": "conv-1", "id": "conv-3"}, "conv-1"},
		{"missing", map[string]any{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractConversationID(tc.body); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractSummary(t *testing.T) {
	longTranscript := strings.Repeat("a", transcriptSummaryLimit+10)

	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{
			"analysis summary",
			map[string]any{"analysis": map[string]any{"summary": "booked"}},
			"booked",
		},
		{
			"analysis transcript_summary",
			map[string]any{"analysis": map[string]any{"transcript_summary": "left voicemail"}},
			"left voicemail",
		},
		{
			"nested result analysis",
			map[string]any{"result": map[string]any{"analysis": map[string]any{"call_summary": "no answer"}}},
			"no answer",
		},
		{
			"top-level summary",
			map[string]any{"summary": "clinic closed"},
			"clinic closed",
		},
		{
			"string transcript",
			map[string]any{"transcript": "Agent: hello. Clinic: hi."},
			"Agent: hello. Clinic: hi.",
		},
		{
			"list transcript",
			map[string]any{"transcript": []any{
				map[string]any{"role": "agent", "text": "Hello"},
				map[string]any{"role": "clinic", "text": "We have Monday open"},
			}},
			"Hello We have Monday open",
		},
		{
			"empty payload",
			map[string]any{},
			noSummaryFallback,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractSummary(tc.body); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}

	t.Run("transcript truncation", func(t *testing.T) {
		got := extractSummary(map[string]any{"transcript": longTranscript})
		if len(got) != transcriptSummaryLimit+3 {
			t.Fatalf("unexpected truncated length: %d", len(got))
		}
		if !strings.HasSuffix(got, "...") {
			t.Fatal("expected truncation ellipsis")
		}
	})
}

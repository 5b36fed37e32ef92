package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/store"
)

func TestRunTurnEmergencyEndToEnd(t *testing.T) {
	engine := newTestEngine(t)
	state := models.NewConversationState("s1")
	state.ConversationMode = models.ModeTriage

	updated, err := engine.RunTurn(context.Background(), state, "I have severe chest pain and feel like passing out")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.NeedsEmergency {
		t.Fatal("expected needs_emergency true")
	}
	if updated.NextAction != models.NextActionEmergencyEscalation {
		t.Errorf("expected emergency_escalation, got %q", updated.NextAction)
	}
	if !strings.Contains(strings.ToLower(updated.AssistantReply), "emergency") {
		t.Errorf("expected emergency directive, got %q", updated.AssistantReply)
	}
}

func TestRunTurnReadyForHandoffEndToEnd(t *testing.T) {
	engine := newTestEngine(t)
	state := models.NewConversationState("s1")
	state.ConversationMode = models.ModeTriage
	state.ChiefComplaint = "Persistent cough"
	state.Timeline = "Started 3 days ago"
	state.BodyLocation = "chest"
	state.Severity = "moderate"

	updated, err := engine.RunTurn(context.Background(), state, "it's about the same as before")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.HandoffReady {
		t.Error("expected handoff_ready true")
	}
	if updated.NextAction != models.NextActionReadyForHandoff {
		t.Errorf("expected ready_for_handoff, got %q", updated.NextAction)
	}
	if len(updated.MissingFields) != 0 {
		t.Errorf("expected no missing fields, got %v", updated.MissingFields)
	}
	// Without prior consent the turn ends on the consent question.
	if updated.AssistantReply != bookingConsentMessage {
		t.Errorf("expected consent question, got %q", updated.AssistantReply)
	}
	// The handoff phrase falls back to the complaint verbatim without a model.
	if updated.ChiefComplaintHandoff != "Persistent cough" {
		t.Errorf("expected verbatim handoff phrase, got %q", updated.ChiefComplaintHandoff)
	}
}

func TestRunTurnCasualMessageSkipsIntake(t *testing.T) {
	engine := newTestEngine(t)
	state := models.NewConversationState("s1")

	updated, err := engine.RunTurn(context.Background(), state, "Tell me a fun fact about space")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.RouteIntent != models.RouteNormalChat {
		t.Errorf("expected normal_chat routing, got %q", updated.RouteIntent)
	}
	if updated.ConversationMode != models.ModeNormalChat {
		t.Errorf("expected normal_chat mode, got %q", updated.ConversationMode)
	}
	if updated.ChiefComplaint != "" {
		t.Errorf("expected extractor untouched, got complaint %q", updated.ChiefComplaint)
	}
	if updated.AssistantReply == "" {
		t.Error("expected a reply")
	}
}

func TestRunTurnSurfacesPendingCallSummary(t *testing.T) {
	sessions := store.NewInMemoryStore()
	engine, err := NewTurnEngine(sessions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sessions.SetPendingCallSummary(models.CallSummary{
		SessionID:      "s1",
		ConversationID: "conv-1",
		Summary:        "Appointment booked for Tuesday at 10am.",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := models.NewConversationState("s1")
	updated, err := engine.RunTurn(context.Background(), state, "any update?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(updated.AssistantReply, "Appointment booked for Tuesday at 10am.") {
		t.Errorf("expected summary surfaced, got %q", updated.AssistantReply)
	}
	if !strings.HasPrefix(updated.AssistantReply, "**Call summary**") {
		t.Errorf("expected call summary header, got %q", updated.AssistantReply)
	}
	if updated.ReplyFromCallSummary {
		t.Error("expected transient flag stripped before return")
	}
	// The mailbox is consumed; the next turn routes normally.
	pending, err := sessions.GetPendingCallSummary("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending != nil {
		t.Errorf("expected mailbox consumed, got %+v", pending)
	}
}

func TestRunTurnAvailabilityForcedRoute(t *testing.T) {
	engine := newTestEngine(t)
	state := models.NewConversationState("s1")
	state.ConversationMode = models.ModeTriage
	state.AwaitingAvailability = true
	state.ChiefComplaint = "sore throat"
	state.Timeline = "March 10, 2025"
	state.BodyLocation = "throat"
	state.Severity = "mild"
	state.BookingConfirmed = true

	updated, err := engine.RunTurn(context.Background(), state, "weekday mornings")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.AwaitingAvailability {
		t.Error("expected awaiting flag cleared")
	}
	if updated.PatientAvailabilityTime == "" {
		t.Error("expected availability captured from the forced route")
	}
}

func TestRunTurnFullBookingChain(t *testing.T) {
	kb := &fakeKB{results: []models.KBSnippet{
		{Title: "Sore Throat", URL: "https://medlineplus.gov/sorethroat.html", Text: "About sore throats.", Score: 0.92},
	}}
	directory := &fakeDirectory{
		doctors:   []models.Clinic{{Name: "Dr. Sarah Lin", Address: "Downtown Clinic"}},
		locations: clinics(),
	}
	dispatcher := &fakeDispatcher{result: models.CallDispatchResult{Success: true, ConversationID: "conv-9"}}

	sessions := store.NewInMemoryStore()
	engine, err := NewTurnEngine(sessions,
		WithKnowledgeSearcher(kb),
		WithProviderDirectory(directory),
		WithCallDispatcher(dispatcher),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := models.NewConversationState("s1")
	state.ConversationMode = models.ModeTriage
	state.ChiefComplaint = "sore throat"
	state.Timeline = "March 10, 2025"
	state.BodyLocation = "throat"
	state.Severity = "mild"
	state.BookingConfirmed = true
	state.PatientAvailabilityTime = "Monday mornings"

	updated, err := engine.RunTurn(context.Background(), state, "sounds good")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.KBEvidence) != 1 {
		t.Errorf("expected knowledge evidence recorded, got %d", len(updated.KBEvidence))
	}
	if updated.ProviderSearch.Constraints["recommended_specialty"] != defaultSpecialty {
		t.Errorf("expected Primary Care fallback, got %q", updated.ProviderSearch.Constraints["recommended_specialty"])
	}
	if len(updated.ProviderSearch.Results) != 2 {
		t.Errorf("expected top clinics recorded, got %d", len(updated.ProviderSearch.Results))
	}
	if dispatcher.calls != 1 {
		t.Fatalf("expected exactly one outbound call, got %d", dispatcher.calls)
	}
	if !updated.OutboundCall.CallStarted {
		t.Error("expected call started")
	}
	if !strings.Contains(updated.AssistantReply, "We're calling the clinic") {
		t.Errorf("expected dispatch confirmation, got %q", updated.AssistantReply)
	}
}

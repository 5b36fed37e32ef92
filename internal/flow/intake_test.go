package flow

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIntakeEmergencyFromClassifier(t *testing.T) {
	engine := newTestEngine(t)
	state := models.NewConversationState("s1")
	state.LatestUserMessage = "I have severe chest pain and feel like passing out"

	if err := engine.runIntake(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.NeedsEmergency {
		t.Fatal("expected needs_emergency true")
	}
	if state.AssistantReply != emergencyReply {
		t.Errorf("expected emergency directive, got %q", state.AssistantReply)
	}
	// The raw message is recorded as a present red flag when none exists.
	if len(state.RedFlags.Present) != 1 || state.RedFlags.Present[0] != state.LatestUserMessage {
		t.Errorf("expected raw message as present red flag, got %v", state.RedFlags.Present)
	}
}

func TestIntakeEmergencyFromModel(t *testing.T) {
	model := &fakeModel{structured: map[string]string{
		"nurse_extraction": `{"chief_complaint": "crushing pressure", "timeline": null, "severity": null,
			"body_location": null, "pain_quality": null, "severity_0_10": null, "temporal_pattern": null,
			"trajectory": null, "modifying_factors": null, "onset": null, "precipitating_factors": null,
			"recurrent": null, "sick_contacts": null, "associated_symptoms": [],
			"red_flags_present": ["crushing chest pressure"], "red_flags_absent": [], "red_flags_unknown": [],
			"red_flags_screening_done": false, "provisional_triage_level": null,
			"emergency_escalation": true, "booking_consent_given": false,
			"next_question": "irrelevant"}`,
	}}
	engine := newTestEngine(t, WithModel(model))
	state := models.NewConversationState("s1")
	state.LatestUserMessage = "it feels like an elephant is sitting on me"

	if err := engine.runIntake(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.NeedsEmergency {
		t.Fatal("expected model emergency judgment to be honored")
	}
	if state.AssistantReply != emergencyReply {
		t.Errorf("expected emergency directive to override drafted question, got %q", state.AssistantReply)
	}
	if !reflect.DeepEqual(state.RedFlags.Present, []string{"crushing chest pressure"}) {
		t.Errorf("expected model red flag kept, got %v", state.RedFlags.Present)
	}
}

func TestIntakeStickyEmergency(t *testing.T) {
	engine := newTestEngine(t)
	state := models.NewConversationState("s1")
	state.NeedsEmergency = true
	state.LatestUserMessage = "I feel a bit better actually"

	if err := engine.runIntake(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.NeedsEmergency {
		t.Error("expected needs_emergency to stay set")
	}
}

func TestIntakeResolvesRelativeTimeline(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	model := &fakeModel{structured: map[string]string{
		"nurse_extraction": `{"chief_complaint": "headache", "timeline": "yesterday", "severity": null,
			"body_location": null, "pain_quality": null, "severity_0_10": null, "temporal_pattern": null,
			"trajectory": null, "modifying_factors": null, "onset": null, "precipitating_factors": null,
			"recurrent": null, "sick_contacts": null, "associated_symptoms": [],
			"red_flags_present": [], "red_flags_absent": [], "red_flags_unknown": [],
			"red_flags_screening_done": false, "provisional_triage_level": null,
			"emergency_escalation": false, "booking_consent_given": false,
			"next_question": "When did the headache start?"}`,
	}}
	engine := newTestEngine(t, WithModel(model))
	engine.now = fixedClock(now)
	state := models.NewConversationState("s1")
	state.LatestUserMessage = "I've had a headache since yesterday"

	if err := engine.runIntake(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Timeline != "March 14, 2025" {
		t.Errorf("expected resolved timeline, got %q", state.Timeline)
	}
	// Headache maps to head automatically, so severity is the next gap; the
	// drafted timeline question must be replaced.
	if state.BodyLocation != "head" {
		t.Errorf("expected auto body location head, got %q", state.BodyLocation)
	}
	if state.AssistantReply != "Thanks for the information. How would you rate it from 0 to 10, with 10 being the worst?" {
		t.Errorf("expected severity probe after timeline resolution, got %q", state.AssistantReply)
	}
}

func TestIntakeTimelineOverrideAsksLocationFirst(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	model := &fakeModel{structured: map[string]string{
		"nurse_extraction": `{"chief_complaint": "bad pain", "timeline": "2 days ago", "severity": null,
			"body_location": null, "pain_quality": null, "severity_0_10": null, "temporal_pattern": null,
			"trajectory": null, "modifying_factors": null, "onset": null, "precipitating_factors": null,
			"recurrent": null, "sick_contacts": null, "associated_symptoms": [],
			"red_flags_present": [], "red_flags_absent": [], "red_flags_unknown": [],
			"red_flags_screening_done": false, "provisional_triage_level": null,
			"emergency_escalation": false, "booking_consent_given": false,
			"next_question": "When did it start?"}`,
	}}
	engine := newTestEngine(t, WithModel(model))
	engine.now = fixedClock(now)
	state := models.NewConversationState("s1")
	state.LatestUserMessage = "it started 2 days ago"

	if err := engine.runIntake(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Timeline != "March 13, 2025" {
		t.Errorf("expected resolved timeline, got %q", state.Timeline)
	}
	if state.AssistantReply != "Thanks, that helps. Where do you feel it — for example, head, chest, or stomach?" {
		t.Errorf("expected location probe, got %q", state.AssistantReply)
	}
}

func TestIntakeVaguePhraseLeavesTimelineEmpty(t *testing.T) {
	engine := newTestEngine(t)
	state := models.NewConversationState("s1")
	state.LatestUserMessage = "I've been feeling sick recently"

	if err := engine.runIntake(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Timeline != "" {
		t.Errorf("expected vague phrase to leave timeline empty, got %q", state.Timeline)
	}
}

func TestIntakeSymptomMergeIdempotent(t *testing.T) {
	payload := `{"chief_complaint": null, "timeline": null, "severity": null,
		"body_location": null, "pain_quality": null, "severity_0_10": null, "temporal_pattern": null,
		"trajectory": null, "modifying_factors": null, "onset": null, "precipitating_factors": null,
		"recurrent": null, "sick_contacts": null, "associated_symptoms": ["nausea", "fatigue", "nausea"],
		"red_flags_present": [], "red_flags_absent": [], "red_flags_unknown": [],
		"red_flags_screening_done": false, "provisional_triage_level": null,
		"emergency_escalation": false, "booking_consent_given": false,
		"next_question": "Anything else?"}`
	model := &fakeModel{structured: map[string]string{"nurse_extraction": payload}}
	engine := newTestEngine(t, WithModel(model))
	state := models.NewConversationState("s1")
	state.Symptoms = []string{"nausea"}
	state.LatestUserMessage = "nausea and fatigue"

	if err := engine.runIntake(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"nausea", "fatigue"}
	if !reflect.DeepEqual(state.Symptoms, want) {
		t.Errorf("expected %v, got %v", want, state.Symptoms)
	}
}

func TestIntakeBookingConsentRequiresCompleteRecord(t *testing.T) {
	payload := `{"chief_complaint": null, "timeline": null, "severity": null,
		"body_location": null, "pain_quality": null, "severity_0_10": null, "temporal_pattern": null,
		"trajectory": null, "modifying_factors": null, "onset": null, "precipitating_factors": null,
		"recurrent": null, "sick_contacts": null, "associated_symptoms": [],
		"red_flags_present": [], "red_flags_absent": [], "red_flags_unknown": [],
		"red_flags_screening_done": false, "provisional_triage_level": null,
		"emergency_escalation": false, "booking_consent_given": true,
		"next_question": "Shall we continue?"}`
	model := &fakeModel{structured: map[string]string{"nurse_extraction": payload}}

	// Incomplete record: consent must be ignored.
	engine := newTestEngine(t, WithModel(model))
	state := models.NewConversationState("s1")
	state.LatestUserMessage = "yes please"
	if err := engine.runIntake(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.BookingConfirmed {
		t.Error("expected consent ignored while required fields missing")
	}

	// Complete record plus affirmative utterance: consent sticks.
	engine = newTestEngine(t, WithModel(model))
	state = models.NewConversationState("s1")
	state.ChiefComplaint = "sore throat"
	state.Timeline = "March 10, 2025"
	state.BodyLocation = "throat"
	state.Severity0to10 = intPtr(5)
	state.LatestUserMessage = "yes please"
	if err := engine.runIntake(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.BookingConfirmed {
		t.Error("expected booking confirmed")
	}
	if state.AssistantReply != "I'll look that up for you." {
		t.Errorf("expected consent acknowledgment, got %q", state.AssistantReply)
	}

	// Non-affirmative utterance: consent does not stick.
	engine = newTestEngine(t, WithModel(model))
	state = models.NewConversationState("s1")
	state.ChiefComplaint = "sore throat"
	state.Timeline = "March 10, 2025"
	state.BodyLocation = "throat"
	state.Severity0to10 = intPtr(5)
	state.LatestUserMessage = "maybe later"
	if err := engine.runIntake(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.BookingConfirmed {
		t.Error("expected non-affirmative utterance to be ignored")
	}
}

func TestIntakeExtractionFailureReasks(t *testing.T) {
	model := &fakeModel{structuredErr: context.DeadlineExceeded}
	engine := newTestEngine(t, WithModel(model))
	state := models.NewConversationState("s1")
	state.ChiefComplaint = "rash"
	state.LatestUserMessage = "it itches"

	if err := engine.runIntake(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.ChiefComplaint != "rash" {
		t.Errorf("expected populated field untouched, got %q", state.ChiefComplaint)
	}
	if state.AssistantReply != defaultNextQuestion {
		t.Errorf("expected default question on extraction failure, got %q", state.AssistantReply)
	}
}

func TestInferBodyLocation(t *testing.T) {
	tests := []struct {
		complaint string
		want      string
	}{
		{"feeling dizzy", "head"},
		{"bad headache", "head"},
		{"runny nose all week", "nose"},
		{"eye pain when reading", "eyes"},
		{"earache at night", "ear"},
		{"sore throat", "throat"},
		{"stomach pain", ""},
	}
	for _, tt := range tests {
		if got := inferBodyLocation(tt.complaint); got != tt.want {
			t.Errorf("inferBodyLocation(%q) = %q, want %q", tt.complaint, got, tt.want)
		}
	}
}

func TestIsAffirmative(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"yes", true},
		{"Yes please", true},
		{"sure, go ahead", true},
		{"okay!", true},
		{"no thanks", false},
		{"maybe later", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAffirmative(tt.message); got != tt.want {
			t.Errorf("isAffirmative(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/TriagePipe/internal/genai"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/triage"
)

// emergencyReply is the safety directive shown whenever an emergency is
// detected, overriding any drafted question.
const emergencyReply = "I am concerned this could be an emergency. Call your local emergency number now."

// defaultNextQuestion opens the intake when the model proposes nothing.
const defaultNextQuestion = "What symptom is most concerning right now?"

// nurseExtraction is the structured record the intake model fills from one
// patient message. All clinical fields are optional; only fields the patient
// clearly provided are set.
type nurseExtraction struct {
	ChiefComplaint        *string  `json:"chief_complaint"`
	Timeline              *string  `json:"timeline"`
	Severity              *string  `json:"severity"`
	BodyLocation          *string  `json:"body_location"`
	PainQuality           *string  `json:"pain_quality"`
	Severity0to10         *int     `json:"severity_0_10"`
	TemporalPattern       *string  `json:"temporal_pattern"`
	Trajectory            *string  `json:"trajectory"`
	ModifyingFactors      *string  `json:"modifying_factors"`
	Onset                 *string  `json:"onset"`
	PrecipitatingFactors  *string  `json:"precipitating_factors"`
	Recurrent             *bool    `json:"recurrent"`
	SickContacts          *bool    `json:"sick_contacts"`
	AssociatedSymptoms    []string `json:"associated_symptoms"`
	RedFlagsPresent       []string `json:"red_flags_present"`
	RedFlagsAbsent        []string `json:"red_flags_absent"`
	RedFlagsUnknown       []string `json:"red_flags_unknown"`
	RedFlagsScreeningDone bool     `json:"red_flags_screening_done"`
	ProvisionalTriage     *string  `json:"provisional_triage_level"`
	EmergencyEscalation   bool     `json:"emergency_escalation"`
	BookingConsentGiven   bool     `json:"booking_consent_given"`
	NextQuestion          string   `json:"next_question"`
}

func nullableString() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}

func nullableBool() map[string]any {
	return map[string]any{"type": []string{"boolean", "null"}}
}

func stringList() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

var nurseExtractionSchema = genai.ResponseSchema{
	Name:        "nurse_extraction",
	Description: "Structured clinical intake fields extracted from one patient message.",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"chief_complaint":          nullableString(),
			"timeline":                 nullableString(),
			"severity":                 nullableString(),
			"body_location":            nullableString(),
			"pain_quality":             nullableString(),
			"severity_0_10":            map[string]any{"type": []string{"integer", "null"}},
			"temporal_pattern":         nullableString(),
			"trajectory":               nullableString(),
			"modifying_factors":        nullableString(),
			"onset":                    nullableString(),
			"precipitating_factors":    nullableString(),
			"recurrent":                nullableBool(),
			"sick_contacts":            nullableBool(),
			"associated_symptoms":      stringList(),
			"red_flags_present":        stringList(),
			"red_flags_absent":         stringList(),
			"red_flags_unknown":        stringList(),
			"red_flags_screening_done": map[string]any{"type": "boolean"},
			"provisional_triage_level": nullableString(),
			"emergency_escalation":     map[string]any{"type": "boolean"},
			"booking_consent_given":    map[string]any{"type": "boolean"},
			"next_question":            map[string]any{"type": "string"},
		},
		"required": []string{
			"chief_complaint", "timeline", "severity", "body_location", "pain_quality",
			"severity_0_10", "temporal_pattern", "trajectory", "modifying_factors",
			"onset", "precipitating_factors", "recurrent", "sick_contacts",
			"associated_symptoms", "red_flags_present", "red_flags_absent",
			"red_flags_unknown", "red_flags_screening_done", "provisional_triage_level",
			"emergency_escalation", "booking_consent_given", "next_question",
		},
		"additionalProperties": false,
	},
}

// bodyLocationHints maps unambiguous complaints to their body location so the
// intake never asks "where do you feel it?" for a headache. Ordered; first
// substring hit wins.
var bodyLocationHints = []struct {
	phrase   string
	location string
}{
	{"dizziness", "head"},
	{"dizzy", "head"},
	{"lightheaded", "head"},
	{"headache", "head"},
	{"head pain", "head"},
	{"runny nose", "nose"},
	{"nasal congestion", "nose"},
	{"stuffy nose", "nose"},
	{"sore eyes", "eyes"},
	{"eye pain", "eyes"},
	{"blurry vision", "eyes"},
	{"dry eyes", "eyes"},
	{"earache", "ear"},
	{"ear pain", "ear"},
	{"sore throat", "throat"},
	{"throat pain", "throat"},
}

// inferBodyLocation returns the obvious location for a complaint, or "".
func inferBodyLocation(complaint string) string {
	lowered := strings.ToLower(complaint)
	for _, hint := range bodyLocationHints {
		if strings.Contains(lowered, hint.phrase) {
			return hint.location
		}
	}
	return ""
}

// affirmativePrefixes recognizes a consent reply. Checked against the
// trimmed, lowercased message.
var affirmativePrefixes = []string{"yes", "yeah", "yep", "sure", "ok", "okay", "please", "of course", "absolutely"}

func isAffirmative(message string) bool {
	lowered := strings.ToLower(strings.TrimSpace(message))
	for _, prefix := range affirmativePrefixes {
		if lowered == prefix || strings.HasPrefix(lowered, prefix+" ") || strings.HasPrefix(lowered, prefix+",") || strings.HasPrefix(lowered, prefix+".") || strings.HasPrefix(lowered, prefix+"!") {
			return true
		}
	}
	return false
}

const nurseIntakeSystemPromptTemplate = `You are a warm, deeply caring triage nurse. Ask only ONE question at a time. Prioritize patient safety and return structured data only.

The patient's first name is %s. Use it occasionally for a warm, personal touch (e.g. "Thanks, %s. When did the dizziness start?"). Do not overuse it.

TONE - Always sound human, compassionate, and emotionally present. Every single next_question must begin with brief empathy that acknowledges what the patient just shared. This acknowledgment must feel natural and supportive, never robotic or repetitive. Vary your wording. After the empathy, gently transition into the next question. Never ask a cold, clinical question by itself. Never skip the empathy step. Keep warmth present in every reply, but remain concise.

Required for handoff (only these four fields):
(1) chief_complaint - the main problem in the patient's own words.
(2) timeline - when it started, ONLY if the patient explicitly states timing (e.g., 'since yesterday', 'for three days'). If the patient says only a relative time (e.g. 'yesterday', '2 days ago'), set timeline to that phrase; the system will convert it to an exact date. Do NOT infer from vague phrases like 'recently' without a clear time. Once you have set timeline from the patient's reply, do not ask when it started again; move on to the next required question (location or severity).
(3) body_location - where the problem is located (e.g., chest, stomach, throat).
(4) severity - use severity_0_10 (0-10) if numeric is given, otherwise severity (descriptive).

GUARDRAIL - Do NOT ask 'where do you feel it?' when the body location is obvious from the chief complaint. Automatically set body_location and move forward.
Obvious mappings:
- dizziness, lightheadedness, headache, head pain -> head
- runny nose, nasal congestion, stuffy nose -> nose
- sore eyes, eye pain, blurry vision, dry eyes -> eyes
- earache, ear pain -> ear
- sore throat, throat pain -> throat
Only ask for location when the complaint could occur in multiple areas (e.g., pain, pressure, discomfort, nausea without clear site).

Only when chief_complaint, timeline, body_location, AND severity (or severity_0_10) are all collected AND the patient gives clear booking consent (e.g., 'yes', 'yes please', 'sure'), set booking_consent_given=true.

Set emergency_escalation=true ONLY if the message clearly describes a red flag (e.g., chest pain, severe bleeding, trouble breathing, fainting, signs of stroke, etc.).`

// runIntake is the clinical intake extractor: it merges one message's
// structured extraction into the state, applies the timeline and
// body-location guardrails, detects emergencies, and drafts the next
// question.
func (e *TurnEngine) runIntake(ctx context.Context, state *models.ConversationState) error {
	latestMessage := strings.TrimSpace(state.LatestUserMessage)
	firstName := state.PatientContext.FirstName

	var extraction nurseExtraction
	extraction.NextQuestion = defaultNextQuestion
	if e.model != nil && latestMessage != "" {
		systemPrompt := fmt.Sprintf(nurseIntakeSystemPromptTemplate, firstName, firstName)
		userPrompt := fmt.Sprintf(
			"Current state: chief_complaint=%s, timeline=%s, body_location=%s, severity=%s, severity_0_10=%s. "+
				"New patient message: %s\n"+
				"Update only fields the patient has clearly provided. Propose exactly one next question; always use a warm, caring tone and briefly acknowledge what they said before asking. "+
				"If timeline was not explicitly stated, leave timeline empty and ask when it started. "+
				"When all four required fields are present and user says yes/please/sure to booking, set booking_consent_given=true.",
			orUnset(state.ChiefComplaint), orUnset(state.Timeline), orUnset(state.BodyLocation),
			orUnset(state.Severity), formatSeverityScale(state.Severity0to10), latestMessage)

		err := e.model.GenerateStructured(ctx, []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		}, nurseExtractionSchema, &extraction)
		if err != nil {
			// Nothing extracted this turn; the defaults re-ask.
			slog.Warn("TurnEngine.runIntake: extraction failed", "error", err, "sessionID", state.SessionID)
			extraction = nurseExtraction{NextQuestion: defaultNextQuestion}
		}
		if extraction.NextQuestion == "" {
			extraction.NextQuestion = defaultNextQuestion
		}
	}

	// The extractor's model judgment and the pattern classifier are OR'd;
	// either one trips the emergency path. Once set, the flag never
	// auto-clears.
	emergencyHit := extraction.EmergencyEscalation || triage.LooksLikeEmergency(latestMessage) || state.NeedsEmergency

	present := triage.Dedupe(state.RedFlags.Present, extraction.RedFlagsPresent)
	absent := triage.Dedupe(state.RedFlags.Absent, extraction.RedFlagsAbsent)
	unknown := triage.Dedupe(state.RedFlags.Unknown, extraction.RedFlagsUnknown)
	if emergencyHit && len(present) == 0 {
		// Best-effort provenance: record the triggering message itself.
		flag := latestMessage
		if flag == "" {
			flag = "possible emergency red flag"
		}
		present = triage.Dedupe(present, []string{flag})
	}

	mergeString(&state.ChiefComplaint, extraction.ChiefComplaint)
	mergeString(&state.Severity, extraction.Severity)
	mergeString(&state.BodyLocation, extraction.BodyLocation)
	mergeString(&state.PainQuality, extraction.PainQuality)
	mergeString(&state.TemporalPattern, extraction.TemporalPattern)
	mergeString(&state.Trajectory, extraction.Trajectory)
	mergeString(&state.ModifyingFactors, extraction.ModifyingFactors)
	mergeString(&state.Onset, extraction.Onset)
	mergeString(&state.PrecipitatingFactors, extraction.PrecipitatingFactors)
	if extraction.Severity0to10 != nil {
		state.Severity0to10 = extraction.Severity0to10
	}
	if extraction.Recurrent != nil {
		state.Recurrent = extraction.Recurrent
	}
	if extraction.SickContacts != nil {
		state.SickContacts = extraction.SickContacts
	}

	// Explicit-timeline rule: relative phrases resolve to absolute dates;
	// vague phrases never populate the field.
	timeline := state.Timeline
	if extraction.Timeline != nil && *extraction.Timeline != "" {
		timeline = *extraction.Timeline
	}
	source := timeline
	if source == "" {
		source = latestMessage
	}
	resolved := triage.ResolveRelativeDate(source, e.now())
	if resolved != "" {
		timeline = resolved
	}
	state.Timeline = timeline

	if state.BodyLocation == "" {
		if location := inferBodyLocation(state.ChiefComplaint + " " + latestMessage); location != "" {
			state.BodyLocation = location
		}
	}

	state.Symptoms = triage.Dedupe(state.Symptoms, extraction.AssociatedSymptoms)
	state.RedFlags = models.RedFlags{Present: present, Absent: absent, Unknown: unknown}
	state.RedFlagsScreeningDone = extraction.RedFlagsScreeningDone || state.RedFlagsScreeningDone
	if extraction.ProvisionalTriage != nil && *extraction.ProvisionalTriage != "" {
		state.TriageLevel = *extraction.ProvisionalTriage
	} else if state.TriageLevel == "" {
		state.TriageLevel = "undetermined"
	}
	state.NeedsEmergency = emergencyHit
	state.RouteIntent = models.RouteTriage
	state.ConversationMode = models.ModeTriage

	// Consent is honored only once all four required fields are present and
	// the utterance is affirmative.
	consentHonored := extraction.BookingConsentGiven &&
		requiredFieldsPresent(state) &&
		isAffirmative(latestMessage)
	if consentHonored {
		state.BookingConfirmed = true
	}

	switch {
	case emergencyHit:
		state.AssistantReply = emergencyReply
	case consentHonored:
		state.AssistantReply = "I'll look that up for you."
	default:
		state.AssistantReply = extraction.NextQuestion
	}

	// A freshly resolved timeline overrides the drafted question, which often
	// re-asks for timing. Probe the next missing required field instead:
	// location, then severity, then a generic wrap-up.
	if resolved != "" && !emergencyHit && !consentHonored {
		severitySufficient := state.Severity != "" ||
			(state.Severity0to10 != nil && *state.Severity0to10 >= 0 && *state.Severity0to10 <= 10)
		switch {
		case strings.TrimSpace(state.BodyLocation) == "":
			state.AssistantReply = "Thanks, that helps. Where do you feel it — for example, head, chest, or stomach?"
		case !severitySufficient:
			state.AssistantReply = "Thanks for the information. How would you rate it from 0 to 10, with 10 being the worst?"
		default:
			state.AssistantReply = "Thanks, that helps. Is there anything else you want to share about it?"
		}
	}

	slog.Debug("TurnEngine.runIntake: extraction merged",
		"sessionID", state.SessionID,
		"needsEmergency", state.NeedsEmergency,
		"bookingConfirmed", state.BookingConfirmed,
		"timelineResolved", resolved != "")
	return nil
}

// requiredFieldsPresent reports whether the four handoff fields are filled,
// severity via either channel.
func requiredFieldsPresent(state *models.ConversationState) bool {
	severitySufficient := strings.TrimSpace(state.Severity) != "" ||
		(state.Severity0to10 != nil && *state.Severity0to10 >= 0 && *state.Severity0to10 <= 10)
	return strings.TrimSpace(state.ChiefComplaint) != "" &&
		strings.TrimSpace(state.Timeline) != "" &&
		strings.TrimSpace(state.BodyLocation) != "" &&
		severitySufficient
}

// mergeString overwrites dst only with a new non-empty extraction.
func mergeString(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}

func orUnset(value string) string {
	if value == "" {
		return "None"
	}
	return value
}

func formatSeverityScale(value *int) string {
	if value == nil {
		return "None"
	}
	return fmt.Sprintf("%d", *value)
}

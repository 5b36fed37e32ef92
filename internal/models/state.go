// Package models defines the conversation state schema and shared data
// structures threaded through the TriagePipe graph.
package models

// ConversationMode describes which phase a session is in. The transition is
// one-way: once a session enters triage it stays there until the session
// expires.
type ConversationMode string

const (
	ModeNormalChat ConversationMode = "normal_chat"
	ModeTriage     ConversationMode = "triage"
)

// RouteIntent is the router's classification of a single message. It can
// differ from ConversationMode only on the turn the mode flips.
type RouteIntent string

const (
	RouteNormalChat RouteIntent = "normal_chat"
	RouteTriage     RouteIntent = "triage"
)

// NextAction is the verifier's terminal decision for a turn.
type NextAction string

const (
	NextActionContinueQuestioning NextAction = "continue_questioning"
	NextActionReadyForHandoff     NextAction = "ready_for_handoff"
	NextActionEmergencyEscalation NextAction = "emergency_escalation"
)

// RedFlags holds the three disjoint screening outcome sets. Callers must only
// append through triage.Dedupe and must not add the same value to two sets.
type RedFlags struct {
	Present []string `json:"present"`
	Absent  []string `json:"absent"`
	Unknown []string `json:"unknown"`
}

// KBSnippet is one knowledge-base search hit.
type KBSnippet struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Clinic is one provider-directory result.
type Clinic struct {
	ExternalID    string `json:"external_id,omitempty"`
	Name          string `json:"name"`
	Specialty     string `json:"specialty,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Address       string `json:"address,omitempty"`
	NextAvailable string `json:"next_available,omitempty"`
}

// ProviderSearch holds the constraints used for a directory query and the
// ordered results it returned.
type ProviderSearch struct {
	Constraints map[string]string `json:"constraints,omitempty"`
	Results     []Clinic          `json:"results,omitempty"`
}

// CallDispatchResult is the outcome of one outbound-call dispatch attempt.
type CallDispatchResult struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

// OutboundCall tracks progress through the clinic list. NextClinicIndex never
// exceeds the length of ProviderSearch.Results; when equal, calling is
// exhausted.
type OutboundCall struct {
	NextClinicIndex int                 `json:"next_clinic_index"`
	ConversationID  string              `json:"conversation_id,omitempty"`
	CallStarted     bool                `json:"call_started"`
	BookingResult   string              `json:"booking_result,omitempty"`
	LastResult      *CallDispatchResult `json:"last_result,omitempty"`
}

// PatientContext carries the few demographics the graph needs for tone and
// provider search anchoring.
type PatientContext struct {
	FirstName string `json:"first_name,omitempty"`
	Zip       string `json:"zip,omitempty"`
}

// ConversationState is the single mutable record threaded through every node.
// It is owned exclusively by the turn engine for the duration of one turn and
// persisted by the session store between turns.
//
// Empty string means "not yet elicited" for the clinical string fields;
// pointer fields use nil the same way. Fields fill monotonically: nodes only
// overwrite with new non-empty extractions, and only the verifier may reset a
// populated field (when it judges the value insufficient).
type ConversationState struct {
	SessionID         string `json:"session_id"`
	LatestUserMessage string `json:"latest_user_message,omitempty"`
	AssistantReply    string `json:"assistant_reply"`

	ConversationMode ConversationMode `json:"conversation_mode"`
	RouteIntent      RouteIntent      `json:"route_intent"`
	NextAction       NextAction       `json:"next_action"`
	NeedsEmergency   bool             `json:"needs_emergency"`
	HandoffReady     bool             `json:"handoff_ready"`
	MissingFields    []string         `json:"missing_fields,omitempty"`

	PatientContext PatientContext `json:"patient_context"`

	ChiefComplaint       string `json:"chief_complaint,omitempty"`
	Timeline             string `json:"timeline,omitempty"`
	BodyLocation         string `json:"body_location,omitempty"`
	Severity             string `json:"severity,omitempty"`
	Severity0to10        *int   `json:"severity_0_10,omitempty"`
	PainQuality          string `json:"pain_quality,omitempty"`
	TemporalPattern      string `json:"temporal_pattern,omitempty"`
	Trajectory           string `json:"trajectory,omitempty"`
	ModifyingFactors     string `json:"modifying_factors,omitempty"`
	Onset                string `json:"onset,omitempty"`
	PrecipitatingFactors string `json:"precipitating_factors,omitempty"`
	Recurrent            *bool  `json:"recurrent,omitempty"`
	SickContacts         *bool  `json:"sick_contacts,omitempty"`

	Symptoms              []string `json:"symptoms,omitempty"`
	RedFlags              RedFlags `json:"red_flags"`
	RedFlagsScreeningDone bool     `json:"red_flags_screening_done"`
	TriageLevel           string   `json:"triage_level,omitempty"`

	BookingConfirmed     bool `json:"booking_confirmed"`
	AwaitingAvailability bool `json:"awaiting_availability,omitempty"`

	PatientAvailabilitySlots map[string][]string `json:"patient_availability_slots,omitempty"`
	PatientAvailabilityTime  string              `json:"patient_availability_time,omitempty"`
	ChiefComplaintHandoff    string              `json:"chief_complaint_handoff,omitempty"`

	KBEvidence     []KBSnippet    `json:"kb_evidence,omitempty"`
	ProviderSearch ProviderSearch `json:"provider_search"`
	OutboundCall   OutboundCall   `json:"outbound_call"`

	// ReplyFromCallSummary marks turns answered by an out-of-band call
	// summary. It is turn-scoped and must never be persisted; the turn
	// engine clears it before returning.
	ReplyFromCallSummary bool `json:"-"`
}

// NewConversationState returns the default state for a fresh session.
func NewConversationState(sessionID string) *ConversationState {
	return &ConversationState{
		SessionID:        sessionID,
		ConversationMode: ModeNormalChat,
		RouteIntent:      RouteNormalChat,
		NextAction:       NextActionContinueQuestioning,
		RedFlags:         RedFlags{Present: []string{}, Absent: []string{}, Unknown: []string{}},
		Symptoms:         []string{},
		ProviderSearch:   ProviderSearch{Constraints: map[string]string{}, Results: []Clinic{}},
	}
}

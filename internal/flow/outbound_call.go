package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// callsExhaustedReply is returned when every listed clinic has been tried.
const callsExhaustedReply = "We've contacted all the clinics we had. If you didn't get a callback yet, we'll update you when the call completes."

// runOutboundCall dispatches exactly one call to the next untried clinic and
// ends the turn. The cursor does not auto-advance on failure: deciding to try
// the next clinic is an explicit external decision (a later turn or webhook),
// not something this node does on its own. Completion arrives later through
// the post-call webhook and the session's summary mailbox.
func (e *TurnEngine) runOutboundCall(ctx context.Context, state *models.ConversationState) error {
	results := state.ProviderSearch.Results
	nextIndex := state.OutboundCall.NextClinicIndex

	if nextIndex >= len(results) {
		state.AssistantReply = callsExhaustedReply
		state.OutboundCall.CallStarted = false
		slog.Info("TurnEngine.runOutboundCall: clinic list exhausted", "sessionID", state.SessionID, "clinics", len(results))
		return nil
	}

	clinic := results[nextIndex]
	clinicName := strings.TrimSpace(clinic.Name)
	if clinicName == "" {
		clinicName = "the clinic"
	}
	chiefComplaint := state.ChiefComplaintHandoff
	if chiefComplaint == "" {
		chiefComplaint = state.ChiefComplaint
	}
	if chiefComplaint == "" {
		chiefComplaint = "general visit"
	}
	dynamicVariables := map[string]string{
		"clinic_name":        clinicName,
		"clinic_address":     clinic.Address,
		"chief_complaint":    chiefComplaint,
		"patient_first_name": state.PatientContext.FirstName,
		"availability":       state.PatientAvailabilityTime,
	}

	var result models.CallDispatchResult
	if e.calls != nil {
		result = e.calls.StartCall(ctx, clinic.Phone, dynamicVariables)
	} else {
		result = models.CallDispatchResult{Success: false, Message: "outbound calling is not configured"}
	}

	if result.Success {
		if result.ConversationID != "" && state.SessionID != "" {
			if err := e.sessions.SetConversationSession(result.ConversationID, state.SessionID); err != nil {
				slog.Warn("TurnEngine.runOutboundCall: failed to record call correlation", "error", err, "sessionID", state.SessionID, "conversationID", result.ConversationID)
			}
		}
		state.AssistantReply = fmt.Sprintf(
			"We're calling the clinic (%s's office) now to check availability and book your appointment. We'll notify you when the call is complete.",
			clinicName)
		state.OutboundCall.ConversationID = result.ConversationID
		state.OutboundCall.CallStarted = true
		state.OutboundCall.BookingResult = "pending"
		state.OutboundCall.LastResult = &result
		slog.Info("TurnEngine.runOutboundCall: call dispatched", "sessionID", state.SessionID, "clinic", clinicName, "conversationID", result.ConversationID)
		return nil
	}

	message := result.Message
	if message == "" {
		message = "unknown error"
	}
	state.AssistantReply = fmt.Sprintf(
		"We couldn't start the call to %s (%s). Error: %s. You can call them directly at the number above, or fix the setup and try again.",
		clinicName, clinic.Phone, message)
	state.OutboundCall.CallStarted = false
	state.OutboundCall.LastResult = &result
	slog.Warn("TurnEngine.runOutboundCall: dispatch failed", "sessionID", state.SessionID, "clinic", clinicName, "message", message)
	return nil
}

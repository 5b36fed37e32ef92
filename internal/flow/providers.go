package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

const (
	// providerLocationsZip is the fixed location anchor for the clinic-list
	// query. TODO: derive from patient_context.zip once the directory search
	// accepts arbitrary zips outside the pilot region.
	providerLocationsZip = "30332"
	// topClinics is how many clinics the reply lists and the call node tries.
	topClinics = 3
	// defaultVisitReasonID is the directory's generic new-visit reason.
	defaultVisitReasonID = "general_visit"
)

// visitReasonForSpecialty maps the recommended specialty to a directory visit
// reason. Only the generic reason is wired for now.
func visitReasonForSpecialty(string) string {
	return defaultVisitReasonID
}

// clinicSection renders the appended clinic list.
func clinicSection(results []models.Clinic) string {
	if len(results) == 0 {
		return ""
	}
	lines := []string{"", fmt.Sprintf("Here are %d clinics near you:", topClinics), ""}
	for _, clinic := range results {
		name := clinic.Name
		if name == "" {
			name = "Provider"
		}
		switch {
		case clinic.Phone != "" && clinic.Address != "":
			lines = append(lines, fmt.Sprintf("• %s — %s — Phone: %s", name, clinic.Address, clinic.Phone))
		case clinic.Address != "":
			lines = append(lines, fmt.Sprintf("• %s — %s", name, clinic.Address))
		default:
			lines = append(lines, "• "+name)
		}
	}
	return strings.Join(lines, "\n")
}

// runProviderLocations re-queries the directory for callable clinic
// locations, keeps the top 3, and appends the formatted list to the reply the
// knowledge node assembled.
func (e *TurnEngine) runProviderLocations(ctx context.Context, state *models.ConversationState) error {
	specialty := strings.TrimSpace(state.ProviderSearch.Constraints["recommended_specialty"])
	if specialty == "" {
		specialty = defaultSpecialty
	}

	var results []models.Clinic
	if e.directory != nil {
		var err error
		results, err = e.directory.ProviderLocations(ctx, providerLocationsZip, visitReasonForSpecialty(specialty), topClinics)
		if err != nil {
			slog.Warn("TurnEngine.runProviderLocations: directory query failed", "error", err, "sessionID", state.SessionID)
			results = nil
		}
	}
	if len(results) > topClinics {
		results = results[:topClinics]
	}

	state.ProviderSearch.Results = results
	if block := clinicSection(results); block != "" {
		state.AssistantReply = strings.TrimRight(state.AssistantReply, " \n") + "\n" + block
	}
	slog.Debug("TurnEngine.runProviderLocations: clinics listed", "sessionID", state.SessionID, "count", len(results))
	return nil
}

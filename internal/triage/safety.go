// Package triage provides the pure text heuristics shared by the
// conversation nodes: red-flag detection, health-intent hints, set merging,
// and relative-date resolution. Nothing in this package makes external calls.
package triage

import "strings"

// MajorRedFlags is the fixed emergency vocabulary, matched case-insensitively
// as substrings. Order matters only for readability; any hit trips the
// classifier. This is a safety net layered under model-based emergency
// detection, not a replacement for it.
var MajorRedFlags = []string{
	"chest pain",
	"shortness of breath",
	"trouble breathing",
	"can't breathe",
	"one-sided weakness",
	"slurred speech",
	"severe bleeding",
	"fainting",
	"passing out",
	"confusion",
	"suicidal thoughts",
	"suicidal",
	"anaphylaxis",
}

// HealthIntentHints is the broader vocabulary used for baseline routing when
// no inference model is configured.
var HealthIntentHints = []string{
	"pain",
	"ache",
	"symptom",
	"sick",
	"ill",
	"fever",
	"cough",
	"vomit",
	"nausea",
	"dizzy",
	"headache",
	"rash",
	"breathing",
}

// LooksLikeEmergency reports whether the message contains any major red-flag
// phrase.
func LooksLikeEmergency(message string) bool {
	lowered := strings.ToLower(message)
	for _, flag := range MajorRedFlags {
		if strings.Contains(lowered, flag) {
			return true
		}
	}
	return false
}

// LooksLikeHealthConcern reports whether the message is plausibly
// health-related: any intent hint, or any emergency phrase.
func LooksLikeHealthConcern(message string) bool {
	lowered := strings.ToLower(message)
	for _, hint := range HealthIntentHints {
		if strings.Contains(lowered, hint) {
			return true
		}
	}
	return LooksLikeEmergency(lowered)
}

// Dedupe merges incoming values into existing: values are trimmed, empties
// and duplicates skipped, insertion order preserved. Matching is
// case-sensitive. The result is a new slice; inputs are not modified.
func Dedupe(existing, incoming []string) []string {
	merged := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, item := range existing {
		normalized := strings.TrimSpace(item)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		merged = append(merged, normalized)
	}
	for _, item := range incoming {
		normalized := strings.TrimSpace(item)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		merged = append(merged, normalized)
	}
	return merged
}

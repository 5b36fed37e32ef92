package triage

import (
	"reflect"
	"testing"
)

func TestLooksLikeEmergency(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"I have chest pain and I'm scared", true},
		{"Chest Pain started an hour ago", true},
		{"my dad has slurred speech", true},
		{"shortness of breath when climbing stairs", true},
		{"I keep fainting", true},
		{"I have a mild headache", false},
		{"my throat hurts", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := LooksLikeEmergency(tt.message); got != tt.want {
			t.Errorf("LooksLikeEmergency(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestLooksLikeHealthConcern(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"I've had a fever since Monday", true},
		{"my stomach ache won't go away", true},
		{"feeling dizzy all morning", true},
		{"what are your opening hours?", false},
		{"hello there", false},
	}
	for _, tt := range tests {
		if got := LooksLikeHealthConcern(tt.message); got != tt.want {
			t.Errorf("LooksLikeHealthConcern(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{"chest pain"}, []string{" fever ", "chest pain", "", "fever", "cough"})
	want := []string{"chest pain", "fever", "cough"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dedupe = %v, want %v", got, want)
	}
}

func TestDedupeCaseSensitive(t *testing.T) {
	got := Dedupe([]string{"Fever"}, []string{"fever"})
	want := []string{"Fever", "fever"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dedupe = %v, want %v", got, want)
	}
}

func TestDedupeDoesNotMutateInput(t *testing.T) {
	existing := []string{"a", "b"}
	_ = Dedupe(existing, []string{"c"})
	if !reflect.DeepEqual(existing, []string{"a", "b"}) {
		t.Errorf("Dedupe mutated its input: %v", existing)
	}
}

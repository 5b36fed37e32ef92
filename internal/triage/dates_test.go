package triage

import (
	"testing"
	"time"
)

func TestResolveRelativeDate(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		text string
		want string
	}{
		{"it started yesterday", "March 14, 2025"},
		{"today after lunch", "March 15, 2025"},
		{"3 days ago", "March 12, 2025"},
		{"1 day ago", "March 14, 2025"},
		{"last week", "March 8, 2025"},
		{"a week ago", "March 8, 2025"},
		{"2 weeks ago", "March 1, 2025"},
		{"last month", "February 13, 2025"},
		{"a month ago", "February 13, 2025"},
		{"2 months ago", "January 14, 2025"},
		{"since my birthday", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ResolveRelativeDate(tt.text, now); got != tt.want {
			t.Errorf("ResolveRelativeDate(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestResolveRelativeDatePriority(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	// "yesterday" wins over a later "2 days ago" mention.
	got := ResolveRelativeDate("yesterday, or maybe 2 days ago", now)
	if got != "March 14, 2025" {
		t.Errorf("expected yesterday to take priority, got %q", got)
	}
}

func TestResolveRelativeDateCaseInsensitive(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	if got := ResolveRelativeDate("  YESTERDAY  ", now); got != "March 14, 2025" {
		t.Errorf("expected case-insensitive match, got %q", got)
	}
}

package triage

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateLayout is the long-form rendering used for resolved timelines,
// e.g. "February 20, 2025".
const dateLayout = "January 2, 2006"

var (
	yesterdayRe = regexp.MustCompile(`\byesterday\b`)
	todayRe     = regexp.MustCompile(`\btoday\b`)
	daysAgoRe   = regexp.MustCompile(`\b(\d+)\s+day(s)?\s+ago\b`)
	lastWeekRe  = regexp.MustCompile(`\b(last\s+week|a\s+week\s+ago)\b`)
	weeksAgoRe  = regexp.MustCompile(`\b(\d+)\s+week(s)?\s+ago\b`)
	lastMonthRe = regexp.MustCompile(`\b(last\s+month|a\s+month\s+ago)\b`)
	monthsAgoRe = regexp.MustCompile(`\b(\d+)\s+month(s)?\s+ago\b`)
)

// ResolveRelativeDate converts a relative time phrase into an explicit date
// string anchored at now. It returns "" when no pattern matches, so callers
// never overwrite an existing explicit timeline; vague phrases like
// "recently" deliberately do not resolve. Matching is case-insensitive and
// word-boundary anchored, first pattern wins in the fixed priority order:
// yesterday, today, N days ago, last week, N weeks ago, last month (30 days),
// N months ago (30*N days).
func ResolveRelativeDate(text string, now time.Time) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return ""
	}

	if yesterdayRe.MatchString(lowered) {
		return now.AddDate(0, 0, -1).Format(dateLayout)
	}
	if todayRe.MatchString(lowered) {
		return now.Format(dateLayout)
	}
	if m := daysAgoRe.FindStringSubmatch(lowered); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.AddDate(0, 0, -n).Format(dateLayout)
	}
	if lastWeekRe.MatchString(lowered) {
		return now.AddDate(0, 0, -7).Format(dateLayout)
	}
	if m := weeksAgoRe.FindStringSubmatch(lowered); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.AddDate(0, 0, -7*n).Format(dateLayout)
	}
	// Months are approximated as 30 days; intake timelines do not need
	// calendar-exact month arithmetic.
	if lastMonthRe.MatchString(lowered) {
		return now.AddDate(0, 0, -30).Format(dateLayout)
	}
	if m := monthsAgoRe.FindStringSubmatch(lowered); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.AddDate(0, 0, -30*n).Format(dateLayout)
	}

	return ""
}

package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date wire format used across the engine.
// Timestamps (CreatedAt etc.) use RFC3339; schedule fields are date-only.
const DateLayout = "2006-01-02"

// ParseDate parses a calendar date. Empty input is an error; optional fields
// must be checked for "" by the caller first.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// DateOf is ParseDate for already-validated fields; unparseable or empty
// input yields the zero time.
func DateOf(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Day truncates a timestamp to its calendar day (UTC midnight).
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole calendar days from a to b; negative when b is
// before a.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)) / (24 * time.Hour))
}

package scrape

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Range is an inclusive range of calendar days.
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange parses two YYYY-MM-DD dates.
func NewRange(start, end string) (Range, error) {
	s, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return Range{}, fmt.Errorf("start date: %w", err)
	}
	e, err := time.Parse(time.DateOnly, end)
	if err != nil {
		return Range{}, fmt.Errorf("end date: %w", err)
	}
	if e.Before(s) {
		return Range{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return Range{Start: s, End: e}, nil
}

// Contains reports whether day falls on a calendar day inside the range.
func (r Range) Contains(day time.Time) bool {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(r.Start) && !d.After(r.End)
}

var (
	leadingWeekdayRe = regexp.MustCompile(`(?i)^(mon|tue|wed|thu|fri|sat|sun)[a-z]*\.?,?\s+`)
	yearRe           = regexp.MustCompile(`\b\d{4}\b`)
	rangeSeparators  = []string{" through ", " - ", " – ", " to "}
)

// ParseEventDate reads the first day of a free-text listing date such as
// "Tuesday, June 10, 2025" or "Tue, Jun 10 - Thu, Jun 12". A date without a
// year takes the year of fallbackYear.
func ParseEventDate(s string, fallbackYear int) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, sep := range rangeSeparators {
		if before, _, ok := strings.Cut(s, sep); ok {
			s = strings.TrimSpace(before)
		}
	}
	s = leadingWeekdayRe.ReplaceAllString(s, "")
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if !yearRe.MatchString(s) {
		s = fmt.Sprintf("%s, %d", strings.TrimRight(s, ", "), fallbackYear)
	}
	return dateparse.ParseIn(s, time.UTC)
}

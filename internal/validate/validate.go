// Package validate checks scraped event documents before categorization.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"eventletter/internal/model"
)

type Severity string

const (
	Critical Severity = "critical"
	Warning  Severity = "warning"
	Info     Severity = "info"
)

// Issue is one finding. Location is a dotted path such as "cte_events[3].event_time".
type Issue struct {
	Severity Severity `json:"severity"`
	Type     string   `json:"type"`
	Location string   `json:"location"`
	Message  string   `json:"message"`
}

// Report is the result of validating one document.
type Report struct {
	Issues []Issue `json:"issues"`
}

// Valid reports whether the document has no critical issues.
func (r Report) Valid() bool { return r.Count(Critical) == 0 }

func (r Report) Count(s Severity) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == s {
			n++
		}
	}
	return n
}

// BySeverity returns the issues of one severity in document order.
func (r Report) BySeverity(s Severity) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == s {
			out = append(out, is)
		}
	}
	return out
}

// Summary counts issues by severity, type and top-level location.
type Summary struct {
	Total      int            `json:"total_issues"`
	Critical   int            `json:"critical"`
	Warning    int            `json:"warning"`
	Info       int            `json:"info"`
	ByType     map[string]int `json:"by_type"`
	ByLocation map[string]int `json:"by_location"`
}

func (r Report) Summary() Summary {
	s := Summary{
		Total:      len(r.Issues),
		Critical:   r.Count(Critical),
		Warning:    r.Count(Warning),
		Info:       r.Count(Info),
		ByType:     map[string]int{},
		ByLocation: map[string]int{},
	}
	for _, is := range r.Issues {
		s.ByType[is.Type]++
		top, _, _ := strings.Cut(is.Location, ".")
		top, _, _ = strings.Cut(top, "[")
		s.ByLocation[top]++
	}
	return s
}

var (
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\w+,\s+\w+\s+\d{1,2},\s+\d{4}`),
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
		regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`),
		regexp.MustCompile(`\w+\s+\d{1,2},\s+\d{4}`),
	}
	timePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d{1,2}:\d{2}\s*[aApP][mM]`),
		regexp.MustCompile(`\d{1,2}\s*[aApP][mM]`),
	}
)

const isoDate = "2006-01-02"

// Events validates a Stage 1 document.
func Events(f *model.EventsFile) Report {
	var r Report
	add := func(sev Severity, typ, loc, format string, args ...any) {
		r.Issues = append(r.Issues, Issue{Severity: sev, Type: typ, Location: loc, Message: fmt.Sprintf(format, args...)})
	}

	if f.DateRange == nil {
		add(Critical, "date_range", "date_range", "missing date range")
	} else {
		validateRange(*f.DateRange, add)
	}

	if len(f.Sources) == 0 {
		add(Critical, "events", "events", "no event sources in document")
	}
	for _, src := range f.Sources {
		for i, ev := range src.Events {
			validateEvent(ev, EventLocation(src.Tag, i), add)
		}
	}
	return r
}

// Event validates one event. loc prefixes every issue location.
func Event(ev model.Event, loc string) Report {
	var r Report
	validateEvent(ev, loc, func(sev Severity, typ, l, format string, args ...any) {
		r.Issues = append(r.Issues, Issue{Severity: sev, Type: typ, Location: l, Message: fmt.Sprintf(format, args...)})
	})
	return r
}

// EventLocation is the issue location prefix of the i-th event of a source.
func EventLocation(tag string, i int) string {
	return fmt.Sprintf("%s_events[%d]", tag, i)
}

type adder func(sev Severity, typ, loc, format string, args ...any)

func validateRange(dr model.DateRange, add adder) {
	var start, end time.Time
	var startErr, endErr error
	for _, f := range []struct {
		name, value string
		t           *time.Time
		err         *error
	}{
		{"start_date", dr.StartDate, &start, &startErr},
		{"end_date", dr.EndDate, &end, &endErr},
	} {
		loc := "date_range." + f.name
		if strings.TrimSpace(f.value) == "" {
			add(Critical, "date_range", loc, "missing %s", f.name)
			*f.err = fmt.Errorf("missing")
			continue
		}
		*f.t, *f.err = time.Parse(isoDate, f.value)
		if *f.err != nil {
			add(Warning, "date_range", loc, "invalid date format for %s: %s (expected YYYY-MM-DD)", f.name, f.value)
		}
	}
	if startErr == nil && endErr == nil && start.After(end) {
		add(Warning, "date_range", "date_range", "start date is after end date")
	}
}

func validateEvent(ev model.Event, loc string, add adder) {
	required := []struct{ field, label, value string }{
		{"event_name", "event name", ev.Name},
		{"event_date", "event date", ev.Date},
		{"event_time", "event time", ev.Time},
		{"event_location", "event location", ev.Location},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			add(Critical, "event", loc+"."+f.field, "%s is missing or empty", f.label)
		}
	}

	if strings.TrimSpace(ev.Link) == "" {
		add(Warning, "event", loc+".event_link", "event link is empty")
	} else if !validURL(ev.Link) {
		add(Warning, "event", loc+".event_link", "invalid URL format for event_link")
	}

	optional := []struct {
		field, label string
		value        model.OptString
	}{
		{"event_facilitators", "event facilitators", ev.Facilitators},
		{"event_registration_link", "registration link", ev.RegistrationLink},
		{"event_description", "event description", ev.Description},
	}
	for _, f := range optional {
		// Absent optional fields are intentional; only present-but-empty is reported.
		if f.value.Empty() {
			add(Info, "event", loc+"."+f.field, "%s is empty (remove the field if no data is available)", f.label)
		}
	}

	if name := strings.TrimSpace(ev.Name); name != "" && len([]rune(name)) < 5 {
		add(Warning, "event", loc+".event_name", "event name is very short (less than 5 characters)")
	}
	if reg := ev.RegistrationLink; reg.Set && !reg.Empty() && !validURL(reg.Value) {
		add(Warning, "event", loc+".event_registration_link", "invalid URL format for event_registration_link")
	}
	if d := ev.Description; d.Set && !d.Empty() && len([]rune(strings.TrimSpace(d.Value))) < 20 {
		add(Info, "event", loc+".event_description", "event description is very short (less than 20 characters)")
	}
	if ev.Date != "" && !matchesAny(datePatterns, ev.Date) {
		add(Info, "event", loc+".event_date", "event date format may be unusual")
	}
	if ev.Time != "" && !matchesAny(timePatterns, ev.Time) {
		add(Info, "event", loc+".event_time", "event time format may be unusual")
	}
}

func validURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

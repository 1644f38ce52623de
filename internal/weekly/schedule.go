package weekly

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/araddon/dateparse"

	"eventletter/internal/model"
)

var weekdayRe = regexp.MustCompile(`(?i)\b(mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)(?:day|nesday|rsday|urday|sday)?s?\b`)

var weekdayNames = map[string]string{
	"mon":   "Monday",
	"tue":   "Tuesday",
	"tues":  "Tuesday",
	"wed":   "Wednesday",
	"thu":   "Thursday",
	"thur":  "Thursday",
	"thurs": "Thursday",
	"fri":   "Friday",
	"sat":   "Saturday",
	"sun":   "Sunday",
}

// weekdayIn returns the canonical weekday named in s, or "".
func weekdayIn(s string) string {
	m := weekdayRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return weekdayNames[strings.ToLower(m[1])]
}

// Day derives the weekday an event falls on. It looks for a weekday word in
// the time field, then the date field, then parses the date. If all fail the
// trimmed date text stands in.
func Day(ev model.Event) string {
	if d := weekdayIn(ev.Time); d != "" {
		return d
	}
	if d := weekdayIn(ev.Date); d != "" {
		return d
	}
	if t, err := dateparse.ParseAny(strings.TrimSpace(ev.Date)); err == nil {
		return t.Weekday().String()
	}
	return strings.TrimSpace(ev.Date)
}

// TimeOf strips weekday words and the weekly marker from the time field.
func TimeOf(ev model.Event, marker string) string {
	s := weekdayRe.ReplaceAllString(ev.Time, "")
	if marker != "" {
		s = strings.ReplaceAll(s, marker, "")
	}
	s = strings.Trim(strings.Join(strings.Fields(s), " "), " ,;-·")
	return s
}

// Shape is the schedule identity of a weekly series.
type Shape struct {
	Name          string
	Instances     int
	DistinctDays  int
	DistinctTimes int
}

// ShapeOf counts the instances, distinct days and distinct times of g.
func ShapeOf(g model.WeeklySeriesGroup, marker string) Shape {
	days := map[string]struct{}{}
	times := map[string]struct{}{}
	for _, ev := range g.Events {
		days[Day(ev)] = struct{}{}
		times[TimeOf(ev, marker)] = struct{}{}
	}
	return Shape{
		Name:          g.Name,
		Instances:     len(g.Events),
		DistinctDays:  len(days),
		DistinctTimes: len(times),
	}
}

// Key is the cache fingerprint. It changes exactly when one of the shape
// fields changes.
func (s Shape) Key() string {
	return fmt.Sprintf("%s|%d|%d|%d", s.Name, s.Instances, s.DistinctDays, s.DistinctTimes)
}

// Fingerprint is shorthand for ShapeOf(g, marker).Key().
func Fingerprint(g model.WeeklySeriesGroup, marker string) string {
	return ShapeOf(g, marker).Key()
}

type slot struct {
	day, time, location string
}

// Summary synthesizes the schedule and facilitator text for g from the
// distinct (day, time, location) slots and facilitators across instances.
func Summary(g model.WeeklySeriesGroup, marker string) string {
	var slots []slot
	seenSlot := map[slot]struct{}{}
	var facilitators []string
	seenFac := map[string]struct{}{}

	for _, ev := range g.Events {
		s := slot{day: Day(ev), time: TimeOf(ev, marker), location: strings.TrimSpace(ev.Location)}
		if _, ok := seenSlot[s]; !ok {
			seenSlot[s] = struct{}{}
			slots = append(slots, s)
		}
		if ev.Facilitators.Set {
			for _, name := range splitNames(ev.Facilitators.Value) {
				if _, ok := seenFac[name]; !ok {
					seenFac[name] = struct{}{}
					facilitators = append(facilitators, name)
				}
			}
		}
	}

	lines := make([]string, 0, len(slots)+1)
	for _, s := range slots {
		line := pluralDay(s.day)
		if s.time != "" {
			line += " at " + s.time
		}
		if s.location != "" {
			line += ", " + s.location
		}
		lines = append(lines, line)
	}
	if len(facilitators) > 0 {
		lines = append(lines, "Facilitated by "+strings.Join(facilitators, ", "))
	}
	return strings.Join(lines, "\n")
}

func pluralDay(d string) string {
	for _, name := range weekdayNames {
		if d == name {
			return d + "s"
		}
	}
	return d
}

func splitNames(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '\n' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package ics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eventletter/internal/model"
)

const (
	dateLayout = "Monday, January 2, 2006"
	timeLayout = "3:04pm"
)

// ToEvents converts occurrences into event records. Instances of weekly
// series carry marker at the end of their time field.
func ToEvents(occs []Occurrence, marker string) []model.Event {
	out := make([]model.Event, 0, len(occs))
	for _, o := range occs {
		ev := model.Event{
			Name:     o.Event.Summary,
			Link:     o.Event.URL,
			Date:     o.Start.Format(dateLayout),
			Time:     timeRange(o),
			Location: o.Event.Location,
		}
		if o.Weekly && marker != "" {
			ev.Time += " " + marker
		}
		if o.Event.Description != "" {
			ev.Description = model.Some(o.Event.Description)
		}
		out = append(out, ev)
	}
	return out
}

func timeRange(o Occurrence) string {
	if o.Event.AllDay {
		return "All Day"
	}
	start := strings.ToLower(o.Start.Format(timeLayout))
	if !o.End.After(o.Start) {
		return start
	}
	return fmt.Sprintf("%s - %s", start, strings.ToLower(o.End.Format(timeLayout)))
}

// Events fetches, parses and expands one feed over [start, end], both
// interpreted as whole days in loc.
func (f *Fetcher) Events(ctx context.Context, src Source, start, end time.Time, loc *time.Location, marker string) ([]model.Event, error) {
	res, err := f.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	parsed, err := Parse(src, res.Body)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	occs, err := Expand(parsed, ExpandConfig{
		Location:   loc,
		RangeStart: time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc),
		RangeEnd:   time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, loc),
	})
	if err != nil {
		return nil, err
	}
	return ToEvents(occs, marker), nil
}

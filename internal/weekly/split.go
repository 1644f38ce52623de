// Package weekly separates weekly recurring events from one-off events and
// derives the schedule shape of each series.
package weekly

import (
	"slices"
	"strings"

	"eventletter/internal/model"
)

// IsWeekly reports whether ev's time field carries the weekly marker.
func IsWeekly(ev model.Event, marker string) bool {
	return marker != "" && strings.Contains(ev.Time, marker)
}

// Split partitions events into regular events and weekly series groups.
//
// Weekly events are grouped by exact name equality in first-seen order.
// Names that differ only in case or whitespace form separate groups. Each
// group takes its links from its first member.
func Split(events []model.Event, marker string) ([]model.Event, []model.WeeklySeriesGroup) {
	regular := make([]model.Event, 0, len(events))
	var groups []model.WeeklySeriesGroup
	index := map[string]int{}

	for _, ev := range events {
		if !IsWeekly(ev, marker) {
			regular = append(regular, ev)
			continue
		}
		i, ok := index[ev.Name]
		if !ok {
			i = len(groups)
			index[ev.Name] = i
			groups = append(groups, model.WeeklySeriesGroup{
				Name:             ev.Name,
				Link:             ev.Link,
				RegistrationLink: ev.RegistrationLink,
			})
		}
		groups[i].Events = append(groups[i].Events, ev)
	}
	return regular, groups
}

// Merge folds more into groups. A group whose name exactly matches an
// earlier one joins it and the earlier group keeps its links. Other groups
// are appended in order.
func Merge(groups, more []model.WeeklySeriesGroup) []model.WeeklySeriesGroup {
	for _, g := range more {
		i := slices.IndexFunc(groups, func(h model.WeeklySeriesGroup) bool { return h.Name == g.Name })
		if i < 0 {
			groups = append(groups, g)
			continue
		}
		groups[i].Events = append(groups[i].Events, g.Events...)
	}
	return groups
}

// Flatten returns every event held by groups, group by group.
func Flatten(groups []model.WeeklySeriesGroup) []model.Event {
	var out []model.Event
	for _, g := range groups {
		out = append(out, g.Events...)
	}
	return out
}

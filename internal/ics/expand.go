package ics

import (
	"cmp"
	"errors"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "eventletter/internal/log"
)

const defaultMaxOccurrences = 500

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// Location is the zone occurrences are reported in. Nil means time.Local.
	Location *time.Location

	// RangeStart and RangeEnd are inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrences caps the instances produced by one series.
	MaxOccurrences int
}

// Occurrence is one concrete instance of a ParsedEvent.
type Occurrence struct {
	Event ParsedEvent
	Start time.Time
	End   time.Time
	// Weekly is set when the instance comes from a FREQ=WEEKLY rule with an
	// interval of one.
	Weekly bool
}

// Expand turns parsed events into occurrences inside the range, applying
// EXDATE and RECURRENCE-ID overrides. The result is ordered by start time.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("ics: range end is before range start")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	overrides := make(map[string][]ParsedEvent)
	var bases []ParsedEvent
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		} else {
			bases = append(bases, ev)
		}
	}

	var out []Occurrence
	for _, ev := range bases {
		if ev.RawRRule == "" {
			if overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
				out = append(out, occurrence(ev, ev.Start, ev.End, false, overrides[ev.UID], cfg.Location))
			}
			continue
		}
		out = append(out, expandRecurring(ev, overrides[ev.UID], cfg)...)
	}

	slices.SortStableFunc(out, func(a, b Occurrence) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.Event.Summary, b.Event.Summary)
	})
	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []Occurrence {
	opt, err := rrule.StrToROption(ev.RawRRule)
	if err != nil {
		appLog.Warn("ics rrule skipped", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Warn("ics rrule skipped", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil
	}
	weekly := opt.Freq == rrule.WEEKLY && opt.Interval <= 1

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)
	if len(starts) > cfg.MaxOccurrences {
		appLog.Warn("ics series truncated", "uid", ev.UID, "cap", cfg.MaxOccurrences)
		starts = starts[:cfg.MaxOccurrences]
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		end := s.Add(dur)
		if ev.AllDay {
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			end = s.AddDate(0, 0, 1)
		}
		out = append(out, occurrence(ev, s, end, weekly, overrides, cfg.Location))
	}
	return out
}

// occurrence applies an override whose RECURRENCE-ID equals start.
func occurrence(ev ParsedEvent, start, end time.Time, weekly bool, overrides []ParsedEvent, loc *time.Location) Occurrence {
	for _, o := range overrides {
		if o.Recurrence.In(start.Location()).Equal(start) {
			ev, start, end = o, o.Start, o.End
			break
		}
	}
	return Occurrence{Event: ev, Start: start.In(loc), End: end.In(loc), Weekly: weekly}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}

package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	dateRangeKey = "date_range"
	weeklyKey    = "weekly_events"
	sourceSuffix = "_events"
)

// SourceEvents is the raw event list scraped from one source.
type SourceEvents struct {
	Tag    string
	Events []Event
}

// EventsFile is the Stage 1 document:
//
//	{"date_range": {...}, "<tag>_events": [Event, ...], ...}
//
// Source order follows the document.
type EventsFile struct {
	DateRange *DateRange
	Sources   []SourceEvents
}

// Source returns the events for tag, if present.
func (f *EventsFile) Source(tag string) ([]Event, bool) {
	for _, s := range f.Sources {
		if s.Tag == tag {
			return s.Events, true
		}
	}
	return nil, false
}

// SetSource replaces or appends the events for tag.
func (f *EventsFile) SetSource(tag string, events []Event) {
	for i := range f.Sources {
		if f.Sources[i].Tag == tag {
			f.Sources[i].Events = events
			return
		}
	}
	f.Sources = append(f.Sources, SourceEvents{Tag: tag, Events: events})
}

func (f EventsFile) MarshalJSON() ([]byte, error) {
	w := newObjectWriter()
	if f.DateRange != nil {
		if err := w.field(dateRangeKey, f.DateRange); err != nil {
			return nil, err
		}
	}
	for _, s := range f.Sources {
		events := s.Events
		if events == nil {
			events = []Event{}
		}
		if err := w.field(s.Tag+sourceSuffix, events); err != nil {
			return nil, err
		}
	}
	return w.close(), nil
}

func (f *EventsFile) UnmarshalJSON(b []byte) error {
	*f = EventsFile{}
	return walkObject(b, func(key string, dec *json.Decoder) error {
		switch {
		case key == dateRangeKey:
			var dr DateRange
			if err := dec.Decode(&dr); err != nil {
				return fmt.Errorf("date_range: %w", err)
			}
			f.DateRange = &dr
		case strings.HasSuffix(key, sourceSuffix) && key != weeklyKey:
			var events []Event
			if err := dec.Decode(&events); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			f.Sources = append(f.Sources, SourceEvents{Tag: strings.TrimSuffix(key, sourceSuffix), Events: events})
		default:
			var skip json.RawMessage
			return dec.Decode(&skip)
		}
		return nil
	})
}

// SourceCategories is the categorized output for one source.
type SourceCategories struct {
	Tag        string
	Categories []Category
}

// CategorizedFile is the Stage 2 document:
//
//	{"date_range": {...}, "<tag>_events": [Category, ...], "weekly_events": [WeeklySeriesGroup, ...]}
type CategorizedFile struct {
	DateRange *DateRange
	Sources   []SourceCategories
	Weekly    []WeeklySeriesGroup
}

// Source returns the categories for tag, if present.
func (f *CategorizedFile) Source(tag string) ([]Category, bool) {
	for _, s := range f.Sources {
		if s.Tag == tag {
			return s.Categories, true
		}
	}
	return nil, false
}

func (f CategorizedFile) MarshalJSON() ([]byte, error) {
	w := newObjectWriter()
	if f.DateRange != nil {
		if err := w.field(dateRangeKey, f.DateRange); err != nil {
			return nil, err
		}
	}
	for _, s := range f.Sources {
		cats := s.Categories
		if cats == nil {
			cats = []Category{}
		}
		if err := w.field(s.Tag+sourceSuffix, cats); err != nil {
			return nil, err
		}
	}
	weekly := f.Weekly
	if weekly == nil {
		weekly = []WeeklySeriesGroup{}
	}
	if err := w.field(weeklyKey, weekly); err != nil {
		return nil, err
	}
	return w.close(), nil
}

func (f *CategorizedFile) UnmarshalJSON(b []byte) error {
	*f = CategorizedFile{}
	return walkObject(b, func(key string, dec *json.Decoder) error {
		switch {
		case key == dateRangeKey:
			var dr DateRange
			if err := dec.Decode(&dr); err != nil {
				return fmt.Errorf("date_range: %w", err)
			}
			f.DateRange = &dr
		case key == weeklyKey:
			if err := dec.Decode(&f.Weekly); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		case strings.HasSuffix(key, sourceSuffix):
			var cats []Category
			if err := dec.Decode(&cats); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			f.Sources = append(f.Sources, SourceCategories{Tag: strings.TrimSuffix(key, sourceSuffix), Categories: cats})
		default:
			var skip json.RawMessage
			return dec.Decode(&skip)
		}
		return nil
	})
}

// objectWriter emits a JSON object with keys in insertion order.
type objectWriter struct {
	buf   bytes.Buffer
	count int
}

func newObjectWriter() *objectWriter {
	w := &objectWriter{}
	w.buf.WriteByte('{')
	return w
}

func (w *objectWriter) field(key string, v any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if w.count > 0 {
		w.buf.WriteByte(',')
	}
	w.buf.Write(k)
	w.buf.WriteByte(':')
	w.buf.Write(val)
	w.count++
	return nil
}

func (w *objectWriter) close() []byte {
	w.buf.WriteByte('}')
	return w.buf.Bytes()
}

// walkObject streams the top-level keys of a JSON object in document order.
func walkObject(b []byte, fn func(key string, dec *json.Decoder) error) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("expected a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		if err := fn(key, dec); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

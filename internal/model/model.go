package model

import (
	"encoding/json"
	"strings"
)

// OptString is an optional text field that keeps "absent" apart from
// "present but empty". An absent field is not applicable to the event;
// an empty one is missing data that needs attention.
type OptString struct {
	Value string
	Set   bool
}

// Some returns a present OptString holding s (which may be empty).
func Some(s string) OptString { return OptString{Value: s, Set: true} }

// Absent is the zero OptString.
var Absent = OptString{}

// IsZero reports absence, so `omitzero` drops absent fields on encode.
func (o OptString) IsZero() bool { return !o.Set }

// Empty reports a present field that carries no text.
func (o OptString) Empty() bool { return o.Set && strings.TrimSpace(o.Value) == "" }

// String returns the value, or "" when absent.
func (o OptString) String() string { return o.Value }

func (o OptString) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *OptString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = OptString{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*o = Some(s)
	return nil
}

// Event is one scraped occurrence from a calendar source.
type Event struct {
	Name     string `json:"event_name"`
	Link     string `json:"event_link"`
	Date     string `json:"event_date"`
	Time     string `json:"event_time"`
	Location string `json:"event_location"`

	Facilitators     OptString `json:"event_facilitators,omitzero"`
	RegistrationLink OptString `json:"event_registration_link,omitzero"`
	Description      OptString `json:"event_description,omitzero"`
}

// DateRange is the inclusive window a scrape covered, as free text dates.
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Category is a named group of regular events sharing one description.
type Category struct {
	Name        string  `json:"category_name"`
	Description string  `json:"description"`
	Events      []Event `json:"events"`
}

// WeeklySeriesGroup collects every instance of one weekly recurring event.
// Links come from the first instance.
type WeeklySeriesGroup struct {
	Name             string    `json:"category_name"`
	Description      string    `json:"description"`
	Events           []Event   `json:"events,omitempty"`
	Link             string    `json:"event_link"`
	RegistrationLink OptString `json:"event_registration_link,omitzero"`
	Schedule         string    `json:"weekly_event_info"`
}

// Shell returns a copy without the per-run events payload.
func (g WeeklySeriesGroup) Shell() WeeklySeriesGroup {
	g.Events = nil
	return g
}

// EventCount returns the number of events across all categories.
func EventCount(cats []Category) int {
	n := 0
	for _, c := range cats {
		n += len(c.Events)
	}
	return n
}

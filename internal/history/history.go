// Package history remembers which event titles were filed under which
// category name, per source, so later runs can reuse the same names.
package history

import (
	"context"
	"slices"
	"strings"

	"eventletter/internal/model"
	"eventletter/internal/store"
)

// NoHistory is the prompt text used when a source has no recorded categories.
const NoHistory = "No previous categorization history is available for this source."

// Categories maps category name to titles in first-seen order.
type Categories map[string][]string

// History maps source tag to its categories. It only grows.
type History map[string]Categories

// For returns the categories recorded for source, never nil.
func (h History) For(source string) Categories {
	if c, ok := h[source]; ok {
		return c
	}
	return Categories{}
}

// Update appends every title in cats that is not yet recorded under its
// category. Applying the same batch twice changes nothing the second time.
func (h History) Update(source string, cats []model.Category) bool {
	changed := false
	byCat := h[source]
	if byCat == nil {
		byCat = Categories{}
		h[source] = byCat
	}
	for _, c := range cats {
		titles := byCat[c.Name]
		for _, ev := range c.Events {
			if !slices.Contains(titles, ev.Name) {
				titles = append(titles, ev.Name)
				changed = true
			}
		}
		if titles != nil {
			byCat[c.Name] = titles
		}
	}
	return changed
}

// Store persists History in the categorization_history table, one row per source.
type Store struct {
	backend store.Backend
}

func NewStore(b store.Backend) *Store {
	return &Store{backend: b}
}

// Load returns the stored history. On a read or parse failure it still returns
// an empty, usable History alongside the error; callers treat that as a cold start.
func (s *Store) Load(ctx context.Context) (History, error) {
	rows, err := store.LoadInto[Categories](ctx, s.backend, store.TableHistory)
	if err != nil {
		return History{}, err
	}
	h := make(History, len(rows))
	for src, cats := range rows {
		if cats == nil {
			cats = Categories{}
		}
		h[src] = cats
	}
	return h, nil
}

// Save overwrites the table with h.
func (s *Store) Save(ctx context.Context, h History) error {
	return store.SaveFrom(ctx, s.backend, store.TableHistory, map[string]Categories(h))
}

// FormatForPrompt renders one source's history for the classifier prompt.
// Categories are listed by name so the text is stable across runs.
func FormatForPrompt(cats Categories) string {
	if len(cats) == 0 {
		return NoHistory
	}
	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	b.WriteString("Previously used categories and the events assigned to them:\n")
	for _, name := range names {
		b.WriteString("\nCategory: ")
		b.WriteString(name)
		b.WriteString("\n")
		for _, title := range cats[name] {
			b.WriteString("  - ")
			b.WriteString(title)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

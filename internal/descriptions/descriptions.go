// Package descriptions caches generated prose between runs: category
// descriptions, weekly series descriptions, weekly series shells keyed by
// schedule fingerprint, and shortened event descriptions.
package descriptions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"eventletter/internal/model"
	"eventletter/internal/store"
)

// Weekly is the stored prose and schedule for one weekly series.
type Weekly struct {
	Description  string `json:"description"`
	ScheduleInfo string `json:"schedule_info"`
}

// Cache is the in-memory view of every description table for one run.
// Tables are marked dirty on write and flushed in full.
type Cache struct {
	categories map[string]string
	weekly     map[string]Weekly
	shells     map[string]model.WeeklySeriesGroup
	summaries  map[string]string

	dirty map[string]bool
}

func newCache() *Cache {
	return &Cache{
		categories: map[string]string{},
		weekly:     map[string]Weekly{},
		shells:     map[string]model.WeeklySeriesGroup{},
		summaries:  map[string]string{},
		dirty:      map[string]bool{},
	}
}

// Category returns the stored description for a category name.
func (c *Cache) Category(name string) (string, bool) {
	d, ok := c.categories[name]
	return d, ok && d != ""
}

func (c *Cache) SetCategory(name, desc string) {
	c.categories[name] = desc
	c.dirty[store.TableCategoryDescriptions] = true
}

// Weekly returns the stored description for a weekly series name.
func (c *Cache) Weekly(name string) (Weekly, bool) {
	w, ok := c.weekly[name]
	return w, ok && w.Description != ""
}

func (c *Cache) SetWeekly(name string, w Weekly) {
	c.weekly[name] = w
	c.dirty[store.TableWeeklyDescriptions] = true
}

// Shell returns the cached series shell for a schedule fingerprint.
func (c *Cache) Shell(fingerprint string) (model.WeeklySeriesGroup, bool) {
	g, ok := c.shells[fingerprint]
	return g, ok
}

// PutShell records a series shell without its events.
func (c *Cache) PutShell(fingerprint string, g model.WeeklySeriesGroup) {
	c.shells[fingerprint] = g.Shell()
	c.dirty[store.TableWeeklyCache] = true
}

// Summary returns the shortened text previously produced for original.
func (c *Cache) Summary(original string) (string, bool) {
	s, ok := c.summaries[SummaryKey(original)]
	return s, ok
}

func (c *Cache) SetSummary(original, short string) {
	c.summaries[SummaryKey(original)] = short
	c.dirty[store.TableEventSummaries] = true
}

// Dirty reports whether table has unsaved writes.
func (c *Cache) Dirty(table string) bool { return c.dirty[table] }

// SummaryKey identifies an original description by content.
func SummaryKey(original string) string {
	sum := sha256.Sum256([]byte(original))
	return hex.EncodeToString(sum[:])
}

// Store loads and flushes a Cache through a store.Backend.
type Store struct {
	backend store.Backend
}

func NewStore(b store.Backend) *Store {
	return &Store{backend: b}
}

// Load reads every table. A table that fails to load starts empty and its
// error is returned alongside the usable cache.
func (s *Store) Load(ctx context.Context) (*Cache, []error) {
	c := newCache()
	var errs []error

	if m, err := store.LoadInto[string](ctx, s.backend, store.TableCategoryDescriptions); err != nil {
		errs = append(errs, err)
	} else {
		c.categories = m
	}
	if m, err := store.LoadInto[Weekly](ctx, s.backend, store.TableWeeklyDescriptions); err != nil {
		errs = append(errs, err)
	} else {
		c.weekly = m
	}
	if m, err := store.LoadInto[model.WeeklySeriesGroup](ctx, s.backend, store.TableWeeklyCache); err != nil {
		errs = append(errs, err)
	} else {
		c.shells = m
	}
	if m, err := store.LoadInto[string](ctx, s.backend, store.TableEventSummaries); err != nil {
		errs = append(errs, err)
	} else {
		c.summaries = m
	}
	return c, errs
}

// Flush writes the dirty tables among the given ones, or every dirty table
// when none are named. Successfully written tables are marked clean.
func (s *Store) Flush(ctx context.Context, c *Cache, tables ...string) []error {
	if len(tables) == 0 {
		tables = []string{
			store.TableCategoryDescriptions,
			store.TableWeeklyDescriptions,
			store.TableWeeklyCache,
			store.TableEventSummaries,
		}
	}
	var errs []error
	for _, table := range tables {
		if !c.dirty[table] {
			continue
		}
		var err error
		switch table {
		case store.TableCategoryDescriptions:
			err = store.SaveFrom(ctx, s.backend, table, c.categories)
		case store.TableWeeklyDescriptions:
			err = store.SaveFrom(ctx, s.backend, table, c.weekly)
		case store.TableWeeklyCache:
			err = store.SaveFrom(ctx, s.backend, table, c.shells)
		case store.TableEventSummaries:
			err = store.SaveFrom(ctx, s.backend, table, c.summaries)
		default:
			err = fmt.Errorf("descriptions: unknown table %q", table)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", table, err))
			continue
		}
		c.dirty[table] = false
	}
	return errs
}

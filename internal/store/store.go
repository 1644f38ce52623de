// Package store persists the keyed tables shared across categorization runs.
//
// Every table is read in full and rewritten in full. A table that does not
// exist yet loads as an empty map.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"eventletter/internal/config"
)

// Logical tables.
const (
	TableCategoryDescriptions = "category_descriptions"
	TableHistory              = "categorization_history"
	TableWeeklyDescriptions   = "weekly_descriptions"
	TableWeeklyCache          = "weekly_cache"
	TableEventSummaries       = "event_summaries"
)

// Rows is one table: key to JSON encoded value.
type Rows map[string]json.RawMessage

// Backend is a full-read / full-overwrite key-value persistence layer.
type Backend interface {
	// Load returns every row of table. A missing table yields an empty map.
	Load(ctx context.Context, table string) (Rows, error)
	// Save replaces the whole table with rows.
	Save(ctx context.Context, table string, rows Rows) error
	Close() error
}

// Open builds the backend selected in cfg.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case "", "file":
		return NewFileBackend(cfg.DataDir), nil
	case "redis":
		return NewRedisBackend(ctx, sc.Redis)
	case "sqlite":
		return NewSQLiteBackend(sc.SQLite.Path)
	case "xlsx":
		return NewXLSXBackend(sc.XLSX.Path), nil
	case "s3":
		return NewS3Backend(ctx, sc.S3)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", sc.Backend)
	}
}

// LoadInto decodes every row of table into a typed map.
func LoadInto[T any](ctx context.Context, b Backend, table string) (map[string]T, error) {
	rows, err := b.Load(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(rows))
	for k, raw := range rows {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("store: %s[%s]: %w", table, k, err)
		}
		out[k] = v
	}
	return out, nil
}

// SaveFrom encodes a typed map and overwrites table with it.
func SaveFrom[T any](ctx context.Context, b Backend, table string, m map[string]T) error {
	rows := make(Rows, len(m))
	for k, v := range m {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("store: %s[%s]: %w", table, k, err)
		}
		rows[k] = raw
	}
	return b.Save(ctx, table, rows)
}

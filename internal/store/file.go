package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"eventletter/internal/config"
)

// FileBackend keeps each table as <dir>/<table>.json.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) *FileBackend {
	if dir == "" {
		dir = "./data"
	}
	return &FileBackend{dir: dir}
}

func (b *FileBackend) path(table string) string {
	return filepath.Join(b.dir, table+".json")
}

func (b *FileBackend) Load(_ context.Context, table string) (Rows, error) {
	data, err := os.ReadFile(b.path(table))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Rows{}, nil
		}
		return nil, err
	}
	rows := Rows{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", b.path(table), err)
	}
	return rows, nil
}

func (b *FileBackend) Save(_ context.Context, table string, rows Rows) error {
	if rows == nil {
		rows = Rows{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(b.path(table), data, 0o600)
}

func (b *FileBackend) Close() error { return nil }

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/xuri/excelize/v2"
)

var xlsxHeader = []any{"key", "value"}

// XLSXBackend keeps every table as a two-column sheet in one workbook, so
// editors can review and correct cached descriptions in a spreadsheet.
type XLSXBackend struct {
	path string
	mu   sync.Mutex
}

func NewXLSXBackend(path string) *XLSXBackend {
	return &XLSXBackend{path: path}
}

func (b *XLSXBackend) Load(_ context.Context, table string) (Rows, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sheets, err := b.readAll()
	if err != nil {
		return nil, err
	}
	rows := sheets[table]
	if rows == nil {
		rows = Rows{}
	}
	return rows, nil
}

// Save rewrites the workbook with table replaced and every other sheet kept.
func (b *XLSXBackend) Save(_ context.Context, table string, rows Rows) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sheets, err := b.readAll()
	if err != nil {
		return err
	}
	sheets[table] = rows

	names := make([]string, 0, len(sheets))
	for name := range sheets {
		names = append(names, name)
	}
	slices.Sort(names)

	f := excelize.NewFile()
	defer f.Close()

	for i, name := range names {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return err
		}
		if err := writeSheet(f, name, sheets[name]); err != nil {
			return fmt.Errorf("xlsx: write %s: %w", name, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return err
	}
	return f.SaveAs(b.path)
}

func (b *XLSXBackend) Close() error { return nil }

func (b *XLSXBackend) readAll() (map[string]Rows, error) {
	out := map[string]Rows{}
	f, err := excelize.OpenFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("xlsx: open %s: %w", b.path, err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		grid, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("xlsx: read %s: %w", sheet, err)
		}
		rows := Rows{}
		for i, r := range grid {
			if i == 0 || len(r) < 2 || r[0] == "" {
				continue
			}
			if !json.Valid([]byte(r[1])) {
				return nil, fmt.Errorf("xlsx: %s row %d: value is not JSON", sheet, i+1)
			}
			rows[r[0]] = json.RawMessage(r[1])
		}
		out[sheet] = rows
	}
	return out, nil
}

func writeSheet(f *excelize.File, sheet string, rows Rows) error {
	if err := f.SetSheetRow(sheet, "A1", &xlsxHeader); err != nil {
		return err
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for i, k := range keys {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{k, string(rows[k])}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	tbl   TEXT NOT NULL,
	key   TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (tbl, key)
)`

// SQLiteBackend keeps every table in one kv relation.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context, table string) (Rows, error) {
	res, err := b.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE tbl = ?`, table)
	if err != nil {
		return nil, fmt.Errorf("sqlite load %s: %w", table, err)
	}
	defer res.Close()

	rows := Rows{}
	for res.Next() {
		var k, v string
		if err := res.Scan(&k, &v); err != nil {
			return nil, err
		}
		rows[k] = json.RawMessage(v)
	}
	return rows, res.Err()
}

func (b *SQLiteBackend) Save(ctx context.Context, table string, rows Rows) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE tbl = ?`, table); err != nil {
		return fmt.Errorf("sqlite clear %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO kv (tbl, key, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, v := range rows {
		if _, err := stmt.ExecContext(ctx, table, k, string(v)); err != nil {
			return fmt.Errorf("sqlite insert %s[%s]: %w", table, k, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

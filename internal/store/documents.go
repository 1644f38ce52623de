package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"eventletter/internal/config"
	appLog "eventletter/internal/log"
	"eventletter/internal/model"
)

// ErrNotFound is returned when a pipeline document has not been produced yet.
var ErrNotFound = errors.New("document not found")

const (
	EventsFileName      = "events.json"
	CategorizedFileName = "categorized_events.json"
	NewsletterFileName  = "newsletter.html"
	backupDirName       = "backups"
	backupTimeLayout    = "20060102_150405"
)

// Documents reads and writes the pipeline's stage outputs under one directory.
type Documents struct {
	dir         string
	backupsKeep int
	now         func() time.Time
}

func NewDocuments(dir string, backupsKeep int) *Documents {
	if backupsKeep <= 0 {
		backupsKeep = 10
	}
	return &Documents{dir: dir, backupsKeep: backupsKeep, now: time.Now}
}

func (d *Documents) Dir() string { return d.dir }

func (d *Documents) path(name string) string { return filepath.Join(d.dir, name) }

// LoadEvents reads the Stage 1 document.
func (d *Documents) LoadEvents() (*model.EventsFile, error) {
	var f model.EventsFile
	if err := d.readJSON(EventsFileName, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// SaveEvents writes the Stage 1 document, first copying the previous version
// into the backup directory.
func (d *Documents) SaveEvents(f *model.EventsFile) error {
	if err := d.backup(EventsFileName); err != nil {
		appLog.Warn("events backup failed", "err", err)
	}
	return d.writeJSON(EventsFileName, f)
}

// LoadCategorized reads the Stage 2 document.
func (d *Documents) LoadCategorized() (*model.CategorizedFile, error) {
	var f model.CategorizedFile
	if err := d.readJSON(CategorizedFileName, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (d *Documents) SaveCategorized(f *model.CategorizedFile) error {
	return d.writeJSON(CategorizedFileName, f)
}

// SaveNewsletter writes the Stage 3 HTML and returns its path.
func (d *Documents) SaveNewsletter(html []byte) (string, error) {
	p := d.path(NewsletterFileName)
	if err := config.WriteFileAtomic(p, html, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// NewsletterPath is where the rendered newsletter lives.
func (d *Documents) NewsletterPath() string { return d.path(NewsletterFileName) }

// Backups lists events backups, newest first.
func (d *Documents) Backups() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.dir, backupDirName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "events_") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	// Timestamps sort lexically.
	slices.Sort(names)
	slices.Reverse(names)
	return names, nil
}

func (d *Documents) backup(name string) error {
	data, err := os.ReadFile(d.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	dir := filepath.Join(d.dir, backupDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	stamp := d.now().Format(backupTimeLayout)
	target := filepath.Join(dir, fmt.Sprintf("events_%s.json", stamp))
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return err
	}
	return d.pruneBackups()
}

func (d *Documents) pruneBackups() error {
	names, err := d.Backups()
	if err != nil {
		return err
	}
	for _, old := range names[min(len(names), d.backupsKeep):] {
		if err := os.Remove(filepath.Join(d.dir, backupDirName, old)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Documents) readJSON(name string, v any) error {
	data, err := os.ReadFile(d.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (d *Documents) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(d.path(name), data, 0o644)
}

// Package pipeline runs the three newsletter stages against one data
// directory: scrape to events.json, categorize to categorized_events.json,
// render to newsletter.html.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"eventletter/internal/categorize"
	"eventletter/internal/config"
	appLog "eventletter/internal/log"
	"eventletter/internal/model"
	"eventletter/internal/newsletter"
	"eventletter/internal/oracle"
	"eventletter/internal/scrape"
	"eventletter/internal/store"
	"eventletter/internal/validate"
)

// APIKeyEnv names the environment variable scheduled runs read the oracle
// key from.
const APIKeyEnv = "EVENTLETTER_API_KEY"

// ErrBusy is returned when a stage is requested while another one runs.
var ErrBusy = errors.New("pipeline: another stage is running")

// Scraper collects events for a date range. *scrape.Scraper implements it.
type Scraper interface {
	Scrape(ctx context.Context, sources []config.SourceConfig, r scrape.Range) (*model.EventsFile, error)
}

// Pipeline serializes stage runs; at most one stage touches the data
// directory at a time.
type Pipeline struct {
	cfg     *config.Config
	docs    *store.Documents
	scraper Scraper
	orch    *categorize.Orchestrator

	mu sync.Mutex
}

func New(cfg *config.Config, docs *store.Documents, backend store.Backend, o oracle.Oracle, s Scraper) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		docs:    docs,
		scraper: s,
		orch:    categorize.New(cfg, docs, backend, o),
	}
}

func (p *Pipeline) Documents() *store.Documents { return p.docs }

// Report summarizes a full run.
type Report struct {
	Events         int                `json:"events"`
	Categorize     *categorize.Result `json:"categorize"`
	NewsletterPath string             `json:"newsletter_path"`
}

func (p *Pipeline) lock() error {
	if !p.mu.TryLock() {
		return ErrBusy
	}
	return nil
}

// Scrape runs Stage 1 and saves the result as the current event document.
func (p *Pipeline) Scrape(ctx context.Context, r scrape.Range) (*model.EventsFile, error) {
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	return p.scrape(ctx, r)
}

func (p *Pipeline) scrape(ctx context.Context, r scrape.Range) (*model.EventsFile, error) {
	if p.scraper == nil {
		return nil, errors.New("pipeline: scraping is not configured")
	}
	doc, err := p.scraper.Scrape(ctx, p.cfg.Sources, r)
	if err != nil {
		return nil, err
	}
	if err := p.docs.SaveEvents(doc); err != nil {
		return nil, fmt.Errorf("save events: %w", err)
	}
	return doc, nil
}

// SaveEvents replaces the event document with an edited one. The edit is
// saved even when it has issues; the report tells the editor what to fix.
func (p *Pipeline) SaveEvents(doc *model.EventsFile) (validate.Report, error) {
	if err := p.lock(); err != nil {
		return validate.Report{}, err
	}
	defer p.mu.Unlock()
	if err := p.docs.SaveEvents(doc); err != nil {
		return validate.Report{}, fmt.Errorf("save events: %w", err)
	}
	return validate.Events(doc), nil
}

// Categorize runs Stage 2 on the current event document.
func (p *Pipeline) Categorize(ctx context.Context, cred oracle.Credential, opts categorize.RunOptions) (*categorize.Result, error) {
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	return p.orch.Run(ctx, cred, opts)
}

// Render runs Stage 3 on the current categorized document and returns the
// saved path with the HTML.
func (p *Pipeline) Render(_ context.Context) (string, []byte, error) {
	if err := p.lock(); err != nil {
		return "", nil, err
	}
	defer p.mu.Unlock()
	return p.render()
}

func (p *Pipeline) render() (string, []byte, error) {
	doc, err := p.docs.LoadCategorized()
	if err != nil {
		return "", nil, fmt.Errorf("load categorized events: %w", err)
	}
	html, err := newsletter.Render(doc, newsletter.OptionsFrom(p.cfg))
	if err != nil {
		return "", nil, err
	}
	path, err := p.docs.SaveNewsletter(html)
	if err != nil {
		return "", nil, fmt.Errorf("save newsletter: %w", err)
	}
	appLog.Info("newsletter rendered", "path", path, "bytes", len(html))
	return path, html, nil
}

// Run executes all three stages. A failing stage stops the run; the report
// carries whatever the earlier stages produced.
func (p *Pipeline) Run(ctx context.Context, cred oracle.Credential, r scrape.Range, opts categorize.RunOptions) (*Report, error) {
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	rep := &Report{}
	doc, err := p.scrape(ctx, r)
	if err != nil {
		return rep, fmt.Errorf("scrape: %w", err)
	}
	for _, s := range doc.Sources {
		rep.Events += len(s.Events)
	}

	rep.Categorize, err = p.orch.Run(ctx, cred, opts)
	if err != nil {
		return rep, fmt.Errorf("categorize: %w", err)
	}

	rep.NewsletterPath, _, err = p.render()
	if err != nil {
		return rep, fmt.Errorf("render: %w", err)
	}
	return rep, nil
}

// Window is the scrape range covering days calendar days from now's date.
func Window(now time.Time, days int) scrape.Range {
	if days <= 0 {
		days = 1
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return scrape.Range{Start: start, End: start.AddDate(0, 0, days-1)}
}

// EnvCredential reads the oracle key from the environment. The model comes
// from the configuration.
func EnvCredential(cfg *config.Config) (oracle.Credential, error) {
	key := os.Getenv(APIKeyEnv)
	if key == "" {
		return oracle.Credential{}, fmt.Errorf("%w: set %s", oracle.ErrNoCredential, APIKeyEnv)
	}
	return oracle.Credential{APIKey: key, Model: cfg.Oracle.Model}, nil
}

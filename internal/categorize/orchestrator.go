// Package categorize turns the scraped event document into the categorized
// newsletter document.
//
// A run moves through fixed stages:
//
//	load → split → classify → update history → process weekly →
//	resolve descriptions → apply and shorten → persist
//
// Load, classify and persist can fail the run. Load fails when the document
// is missing or has no date range, or when no event is valid. A single event
// missing a required field is left out with a warning. Everything after
// classify degrades instead: description failures fall back to templates and
// cache write failures become warnings. The categorized document is written
// only when every stage has completed.
package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"eventletter/internal/classify"
	"eventletter/internal/config"
	"eventletter/internal/describe"
	"eventletter/internal/descriptions"
	"eventletter/internal/history"
	appLog "eventletter/internal/log"
	"eventletter/internal/metrics"
	"eventletter/internal/model"
	"eventletter/internal/oracle"
	"eventletter/internal/store"
	"eventletter/internal/validate"
	"eventletter/internal/weekly"
)

// Documents reads the scraped input and writes the categorized output.
// *store.Documents satisfies it.
type Documents interface {
	LoadEvents() (*model.EventsFile, error)
	SaveCategorized(*model.CategorizedFile) error
}

// Orchestrator runs categorization over one data directory and one set of caches.
// Runs must not overlap.
type Orchestrator struct {
	docs         Documents
	history      *history.Store
	descriptions *descriptions.Store
	classifier   *classify.Classifier
	generator    *describe.Generator
	metrics      *metrics.Metrics

	marker string
	labels map[string]string
}

// New wires an Orchestrator from configuration. The backend holds the
// history and description tables.
func New(cfg *config.Config, docs Documents, backend store.Backend, o oracle.Oracle) *Orchestrator {
	labels := make(map[string]string, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if s.Name != "" {
			labels[s.Tag] = s.Name
		}
	}
	return &Orchestrator{
		docs:         docs,
		history:      history.NewStore(backend),
		descriptions: descriptions.NewStore(backend),
		classifier: classify.New(o, classify.Options{
			CatchAll:      cfg.CatchAllCategory,
			MaxCategories: cfg.MaxCategories,
			Temperature:   cfg.Oracle.ClassifyTemperature,
		}),
		generator: describe.New(o, describe.Options{
			CatchAll:     cfg.CatchAllCategory,
			WeeklyMarker: cfg.WeeklyMarker,
			Temperature:  cfg.Oracle.CreativeTemperature,
		}),
		metrics: metrics.Default(),
		marker:  cfg.WeeklyMarker,
		labels:  labels,
	}
}

// RunOptions adjusts a single run.
type RunOptions struct {
	// Regenerate ignores cached descriptions and overwrites them. History is still used.
	Regenerate bool
}

// Stats counts what a run did.
type Stats struct {
	Events                int `json:"events"`
	DroppedEvents         int `json:"dropped_events"`
	Categories            int `json:"categories"`
	WeeklySeries          int `json:"weekly_series"`
	CachedDescriptions    int `json:"cached_descriptions"`
	GeneratedDescriptions int `json:"generated_descriptions"`
	FallbackDescriptions  int `json:"fallback_descriptions"`
	ShortenedDescriptions int `json:"shortened_descriptions"`
}

// Result is the outcome of a run. Output is nil when the run failed.
// Stages lists the stages the run entered in order, so a failed run ends
// with the stage that failed.
type Result struct {
	RunID    string                 `json:"run_id"`
	Output   *model.CategorizedFile `json:"output,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
	Stages   []Stage                `json:"stages"`
	Stats    Stats                  `json:"stats"`
}

// Run categorizes the current event document. The credential is passed to
// every oracle call of this run and is not kept afterwards.
//
// On failure the returned error is a *RunError and the Result still carries
// the run ID and any warnings collected before the failure.
func (o *Orchestrator) Run(ctx context.Context, cred oracle.Credential, opts RunOptions) (*Result, error) {
	start := time.Now()
	r := &run{
		o:        o,
		cred:     cred,
		opts:     opts,
		result:   &Result{RunID: uuid.NewString()},
		resolved: map[string]string{},
	}
	appLog.Info("categorize run started", "run_id", r.result.RunID, "regenerate", opts.Regenerate)

	out, err := r.execute(ctx)
	o.metrics.RunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		o.metrics.Runs.WithLabelValues(string(KindOf(err))).Inc()
		appLog.Error("categorize run failed", err, "run_id", r.result.RunID)
		return r.result, err
	}
	r.result.Output = out
	o.metrics.Runs.WithLabelValues("ok").Inc()

	s := r.result.Stats
	appLog.Info("categorize run finished",
		"run_id", r.result.RunID,
		"events", s.Events,
		"dropped_events", s.DroppedEvents,
		"categories", s.Categories,
		"weekly_series", s.WeeklySeries,
		"cached", s.CachedDescriptions,
		"generated", s.GeneratedDescriptions,
		"fallbacks", s.FallbackDescriptions,
		"warnings", len(r.result.Warnings),
		"took", time.Since(start).Round(time.Millisecond).String(),
	)
	return r.result, nil
}

func (o *Orchestrator) label(tag string) string {
	if l, ok := o.labels[tag]; ok {
		return l
	}
	return tag
}

// run is the state of one Run call.
type run struct {
	o      *Orchestrator
	cred   oracle.Credential
	opts   RunOptions
	result *Result

	cache *descriptions.Cache
	// resolved holds category descriptions produced earlier in this run.
	resolved map[string]string
}

type sourceBatch struct {
	tag     string
	regular []model.Event
}

// weeklyMiss is a weekly group whose description must be resolved.
type weeklyMiss struct {
	index       int
	fingerprint string
	group       model.WeeklySeriesGroup
}

func (r *run) execute(ctx context.Context) (*model.CategorizedFile, error) {
	r.enter(StageLoad)
	in, err := r.load()
	if err != nil {
		return nil, err
	}
	hist, err := r.o.history.Load(ctx)
	if err != nil {
		r.warn("history unavailable, starting without it", err)
	}
	cache, errs := r.o.descriptions.Load(ctx)
	for _, err := range errs {
		r.warn("description cache unavailable, starting without it", err)
	}
	r.cache = cache

	r.enter(StageSplit)
	batches := make([]sourceBatch, 0, len(in.Sources))
	var groups []model.WeeklySeriesGroup
	for _, src := range in.Sources {
		regular, series := weekly.Split(src.Events, r.o.marker)
		batches = append(batches, sourceBatch{tag: src.Tag, regular: regular})
		groups = weekly.Merge(groups, series)
		appLog.Debug("split source", "run_id", r.result.RunID, "source", src.Tag,
			"regular", len(regular), "weekly_series", len(series))
	}

	r.enter(StageClassify)
	out := &model.CategorizedFile{DateRange: in.DateRange}
	for _, b := range batches {
		cats, err := r.o.classifier.Classify(ctx, b.regular, r.o.label(b.tag),
			history.FormatForPrompt(hist.For(b.tag)), r.cred)
		if err != nil {
			kind := KindOracleUnavailable
			if errors.Is(err, classify.ErrMalformed) {
				kind = KindOracleMalformed
			}
			return nil, fail(StageClassify, kind, b.tag, err)
		}
		if cats == nil {
			cats = []model.Category{}
		}
		out.Sources = append(out.Sources, model.SourceCategories{Tag: b.tag, Categories: cats})
	}

	r.enter(StageUpdateHistory)
	changed := false
	for _, s := range out.Sources {
		if hist.Update(s.Tag, s.Categories) {
			changed = true
		}
	}
	if changed {
		if err := r.o.history.Save(ctx, hist); err != nil {
			r.o.metrics.CacheWriteErrs.WithLabelValues(store.TableHistory).Inc()
			r.warn("history write failed", err)
		}
	}

	r.enter(StageProcessWeekly)
	var misses []weeklyMiss
	out.Weekly, misses = r.processWeekly(ctx, groups)

	r.enter(StageResolveDescriptions)
	for i := range out.Sources {
		cats := out.Sources[i].Categories
		for j := range cats {
			cats[j].Description = r.categoryDescription(ctx, cats[j])
		}
	}
	r.resolveWeekly(ctx, out.Weekly, misses)

	r.enter(StageApply)
	for i := range out.Sources {
		for _, c := range out.Sources[i].Categories {
			for k := range c.Events {
				r.shortenEvent(ctx, &c.Events[k])
			}
			r.result.Stats.Categories++
		}
	}
	r.result.Stats.WeeklySeries = len(out.Weekly)

	r.enter(StagePersist)
	r.flush(ctx)
	if err := r.o.docs.SaveCategorized(out); err != nil {
		return nil, fail(StagePersist, KindPersistFailed, "", err)
	}
	return out, nil
}

func (r *run) load() (*model.EventsFile, error) {
	in, err := r.o.docs.LoadEvents()
	if err != nil {
		return nil, fail(StageLoad, KindNoInput, "", err)
	}
	total := 0
	for _, s := range in.Sources {
		total += len(s.Events)
	}
	if total == 0 {
		return nil, fail(StageLoad, KindNoInput, "", errors.New("event document contains no events"))
	}
	// Document-level problems fail the run. An event with a critical issue
	// is left out and reported.
	for _, is := range validate.Events(in).BySeverity(validate.Critical) {
		if is.Type != "event" {
			return nil, fail(StageLoad, KindInvalidInput, "", fmt.Errorf("%s: %s", is.Location, is.Message))
		}
	}
	kept := 0
	for i := range in.Sources {
		src := &in.Sources[i]
		valid := make([]model.Event, 0, len(src.Events))
		for j, ev := range src.Events {
			crit := validate.Event(ev, validate.EventLocation(src.Tag, j)).BySeverity(validate.Critical)
			if len(crit) == 0 {
				valid = append(valid, ev)
				continue
			}
			msgs := make([]string, len(crit))
			for k, is := range crit {
				msgs[k] = is.Location + ": " + is.Message
			}
			r.result.Stats.DroppedEvents++
			r.warn("event left out", fmt.Errorf("%q: %s", ev.Name, strings.Join(msgs, "; ")), "source", src.Tag)
		}
		src.Events = valid
		kept += len(valid)
	}
	if kept == 0 {
		return nil, fail(StageLoad, KindInvalidInput, "",
			fmt.Errorf("all %d event(s) have critical issues", total))
	}
	r.result.Stats.Events = kept
	return in, nil
}

// processWeekly looks every group up by schedule fingerprint. A hit reuses the
// stored shell verbatim. A miss records the shell at once, before any
// description is generated, and is returned for resolution.
func (r *run) processWeekly(ctx context.Context, groups []model.WeeklySeriesGroup) ([]model.WeeklySeriesGroup, []weeklyMiss) {
	out := make([]model.WeeklySeriesGroup, 0, len(groups))
	var misses []weeklyMiss
	for _, g := range groups {
		fp := weekly.Fingerprint(g, r.o.marker)
		if !r.opts.Regenerate {
			shell, ok := r.cache.Shell(fp)
			hit := ok && shell.Description != ""
			r.o.metrics.CacheHit(store.TableWeeklyCache, hit)
			if hit {
				r.result.Stats.CachedDescriptions++
				out = append(out, shell)
				continue
			}
		}
		r.cache.PutShell(fp, g)
		misses = append(misses, weeklyMiss{index: len(out), fingerprint: fp, group: g})
		out = append(out, g.Shell())
	}
	if len(misses) > 0 {
		r.flush(ctx, store.TableWeeklyCache)
	}
	return out, misses
}

func (r *run) resolveWeekly(ctx context.Context, out []model.WeeklySeriesGroup, misses []weeklyMiss) {
	for _, m := range misses {
		prose, schedule, ok := r.weeklyDescription(ctx, m.group)
		shell := m.group.Shell()
		shell.Description = prose
		shell.Schedule = schedule
		out[m.index] = shell
		if ok {
			r.cache.PutShell(m.fingerprint, shell)
		}
	}
}

// weeklyDescription reports ok=false when the prose is a fallback that must
// not be cached.
func (r *run) weeklyDescription(ctx context.Context, g model.WeeklySeriesGroup) (string, string, bool) {
	if !r.opts.Regenerate {
		w, ok := r.cache.Weekly(g.Name)
		r.o.metrics.CacheHit(store.TableWeeklyDescriptions, ok)
		if ok {
			// The schedule changed or the fingerprint would have hit.
			schedule := weekly.Summary(g, r.o.marker)
			if w.ScheduleInfo != schedule {
				w.ScheduleInfo = schedule
				r.cache.SetWeekly(g.Name, w)
			}
			r.result.Stats.CachedDescriptions++
			return w.Description, schedule, true
		}
	}

	prose, schedule, err := r.o.generator.DescribeWeeklySeries(ctx, g, r.cred)
	if err != nil {
		r.result.Stats.FallbackDescriptions++
		r.warn("weekly description fell back to template", err, "series", g.Name)
		return prose, schedule, false
	}
	r.result.Stats.GeneratedDescriptions++
	r.cache.SetWeekly(g.Name, descriptions.Weekly{Description: prose, ScheduleInfo: schedule})
	return prose, schedule, true
}

func (r *run) categoryDescription(ctx context.Context, c model.Category) string {
	if r.o.generator.IsCatchAll(c.Name) {
		d, _ := r.o.generator.DescribeCategory(ctx, c.Name, nil, r.cred)
		return d
	}
	if d, ok := r.resolved[c.Name]; ok {
		return d
	}
	if !r.opts.Regenerate {
		d, ok := r.cache.Category(c.Name)
		r.o.metrics.CacheHit(store.TableCategoryDescriptions, ok)
		if ok {
			r.result.Stats.CachedDescriptions++
			return d
		}
	}

	d, err := r.o.generator.DescribeCategory(ctx, c.Name, c.Events, r.cred)
	if err != nil {
		r.result.Stats.FallbackDescriptions++
		r.warn("category description fell back to template", err, "category", c.Name)
		return d
	}
	r.result.Stats.GeneratedDescriptions++
	r.resolved[c.Name] = d
	r.cache.SetCategory(c.Name, d)
	return d
}

// shortenEvent rewrites a long description in place. Absent and empty
// descriptions are left as they are.
func (r *run) shortenEvent(ctx context.Context, ev *model.Event) {
	original := ev.Description.Value
	if !ev.Description.Set || ev.Description.Empty() || utf8.RuneCountInString(original) <= describe.ShortenThreshold {
		return
	}
	if !r.opts.Regenerate {
		short, ok := r.cache.Summary(original)
		r.o.metrics.CacheHit(store.TableEventSummaries, ok)
		if ok {
			ev.Description = model.Some(short)
			return
		}
	}

	short, err := r.o.generator.Shorten(ctx, original, r.cred)
	if err != nil {
		r.warn("event description truncated", err, "event", ev.Name)
	} else {
		r.cache.SetSummary(original, short)
		r.result.Stats.ShortenedDescriptions++
	}
	ev.Description = model.Some(short)
}

var cacheTables = []string{
	store.TableCategoryDescriptions,
	store.TableWeeklyDescriptions,
	store.TableWeeklyCache,
	store.TableEventSummaries,
}

// flush writes the given description tables, or all of them. Failures are warnings.
func (r *run) flush(ctx context.Context, tables ...string) {
	if len(tables) == 0 {
		tables = cacheTables
	}
	for _, table := range tables {
		for _, err := range r.o.descriptions.Flush(ctx, r.cache, table) {
			r.o.metrics.CacheWriteErrs.WithLabelValues(table).Inc()
			r.warn("cache write failed", err, "table", table)
		}
	}
}

// enter marks the start of stage s.
func (r *run) enter(s Stage) {
	r.result.Stages = append(r.result.Stages, s)
	appLog.Debug("categorize stage", "run_id", r.result.RunID, "stage", string(s))
}

func (r *run) warn(msg string, err error, kv ...any) {
	appLog.Warn(msg, append([]any{"run_id", r.result.RunID, "err", err}, kv...)...)
	r.result.Warnings = append(r.result.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

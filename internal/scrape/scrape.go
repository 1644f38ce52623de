// Package scrape collects events from calendar sources: Localist listing
// pages rendered in a headless browser, or ICS feeds.
package scrape

import (
	"context"
	"fmt"
	"time"

	"eventletter/internal/config"
	"eventletter/internal/ics"
	appLog "eventletter/internal/log"
	"eventletter/internal/metrics"
	"eventletter/internal/model"
)

// Source kinds.
const (
	KindHTML = "html"
	KindICS  = "ics"
)

// Fetcher returns the rendered HTML of a page. *Browser implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url, waitFor string) (string, error)
}

// Options configures a Scraper.
type Options struct {
	// DetailPages visits each event page for facilitators, registration
	// link and description.
	DetailPages  bool
	WeeklyMarker string
	// Location is the zone ICS occurrences are reported in.
	Location *time.Location
}

// Scraper builds the event document for a date range.
type Scraper struct {
	pages   Fetcher
	feeds   *ics.Fetcher
	opts    Options
	metrics *metrics.Metrics
}

func New(pages Fetcher, feeds *ics.Fetcher, opts Options) *Scraper {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Scraper{pages: pages, feeds: feeds, opts: opts, metrics: metrics.Default()}
}

// Scrape collects every source in order. A failing source fails the scrape.
func (s *Scraper) Scrape(ctx context.Context, sources []config.SourceConfig, r Range) (*model.EventsFile, error) {
	out := &model.EventsFile{
		DateRange: &model.DateRange{
			StartDate: r.Start.Format(time.DateOnly),
			EndDate:   r.End.Format(time.DateOnly),
		},
	}
	for _, src := range sources {
		events, err := s.Source(ctx, src, r)
		if err != nil {
			return nil, fmt.Errorf("scrape %s: %w", src.Tag, err)
		}
		s.metrics.EventsScraped.WithLabelValues(src.Tag).Add(float64(len(events)))
		appLog.Info("source scraped", "source", src.Tag, "events", len(events))
		out.SetSource(src.Tag, events)
	}
	return out, nil
}

// Source collects the events of one source inside r.
func (s *Scraper) Source(ctx context.Context, src config.SourceConfig, r Range) ([]model.Event, error) {
	switch src.Kind {
	case KindICS:
		if s.feeds == nil {
			return nil, fmt.Errorf("no feed fetcher configured")
		}
		return s.feeds.Events(ctx, ics.Source{Tag: src.Tag, URL: src.URL}, r.Start, r.End, s.opts.Location, s.opts.WeeklyMarker)
	case KindHTML, "":
		return s.listing(ctx, src, r)
	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

func (s *Scraper) listing(ctx context.Context, src config.SourceConfig, r Range) ([]model.Event, error) {
	if s.pages == nil {
		return nil, fmt.Errorf("no page fetcher configured")
	}
	html, err := s.pages.Fetch(ctx, src.URL, listingEventSelector)
	if err != nil {
		return nil, err
	}
	all, err := ParseListing(html, src.URL)
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(all))
	for _, ev := range all {
		if ev.Date != "" {
			day, err := ParseEventDate(ev.Date, r.Start.Year())
			if err != nil {
				appLog.Warn("event date not understood, skipping", "source", src.Tag, "event", ev.Name, "date", ev.Date)
				continue
			}
			if !r.Contains(day) {
				appLog.Debug("event outside date range", "source", src.Tag, "event", ev.Name, "date", ev.Date)
				continue
			}
		}
		events = append(events, ev)
	}

	if s.opts.DetailPages {
		for i := range events {
			s.detail(ctx, src.Tag, &events[i])
		}
	}
	return events, nil
}

// detail enriches ev from its page. Failures keep the listing data.
func (s *Scraper) detail(ctx context.Context, tag string, ev *model.Event) {
	if ev.Link == "" {
		return
	}
	html, err := s.pages.Fetch(ctx, ev.Link, "body")
	if err != nil {
		appLog.Warn("event page unavailable", "source", tag, "event", ev.Name, "err", err)
		return
	}
	if err := ParseDetail(html, ev); err != nil {
		appLog.Warn("event page not parsed", "source", tag, "event", ev.Name, "err", err)
	}
}

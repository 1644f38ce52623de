package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventletter/internal/categorize"
	"eventletter/internal/config"
	"eventletter/internal/model"
	"eventletter/internal/oracle"
	"eventletter/internal/scrape"
	"eventletter/internal/store"
)

type stubScraper struct {
	err   error
	calls int
}

func (s *stubScraper) Scrape(_ context.Context, sources []config.SourceConfig, r scrape.Range) (*model.EventsFile, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	doc := &model.EventsFile{DateRange: &model.DateRange{
		StartDate: r.Start.Format(time.DateOnly),
		EndDate:   r.End.Format(time.DateOnly),
	}}
	for _, src := range sources {
		var events []model.Event
		if src.Tag == "cte" {
			events = []model.Event{{
				Name:     "Teaching with Cases",
				Link:     "https://calendar.example.edu/event/101",
				Date:     "Tuesday, June 10, 2025",
				Time:     "10:00am - 11:00am",
				Location: "Evans Library 204",
			}}
		}
		doc.SetSource(src.Tag, events)
	}
	return doc, nil
}

var stubOracle = oracle.Func(func(_ context.Context, req oracle.Request) (string, error) {
	if req.Credential.APIKey == "" {
		return "", oracle.ErrNoCredential
	}
	switch req.Purpose {
	case oracle.PurposeClassify:
		return `{"categories": [{"category_name": "Case Teaching", "description": ""}], "event_assignments": {"0": "Case Teaching"}}`, nil
	default:
		return "Description: Practical sessions on teaching with cases.", nil
	}
})

func newPipeline(t *testing.T, s Scraper) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	return New(cfg, store.NewDocuments(dir, 3), store.NewFileBackend(dir), stubOracle, s)
}

func june() scrape.Range {
	r, _ := scrape.NewRange("2025-06-01", "2025-06-30")
	return r
}

func TestRunAllStages(t *testing.T) {
	p := newPipeline(t, &stubScraper{})

	rep, err := p.Run(context.Background(), oracle.Credential{APIKey: "sk-test"}, june(), categorize.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Events)
	require.NotNil(t, rep.Categorize)
	assert.Equal(t, 1, rep.Categorize.Stats.Categories)

	html, err := os.ReadFile(rep.NewsletterPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "TEACHING WITH CASES")
	assert.Contains(t, string(html), "Practical sessions on teaching with cases.")

	cat, err := p.Documents().LoadCategorized()
	require.NoError(t, err)
	assert.Equal(t, &model.DateRange{StartDate: "2025-06-01", EndDate: "2025-06-30"}, cat.DateRange)
}

func TestRunStopsAtFailingStage(t *testing.T) {
	p := newPipeline(t, &stubScraper{err: errors.New("calendar down")})
	rep, err := p.Run(context.Background(), oracle.Credential{APIKey: "sk-test"}, june(), categorize.RunOptions{})
	require.ErrorContains(t, err, "calendar down")
	assert.Nil(t, rep.Categorize)

	p = newPipeline(t, &stubScraper{})
	rep, err = p.Run(context.Background(), oracle.Credential{}, june(), categorize.RunOptions{})
	require.Error(t, err)
	assert.Equal(t, categorize.KindOracleUnavailable, categorize.KindOf(err))
	assert.Empty(t, rep.NewsletterPath)
}

func TestRenderWithoutCategorizedDocument(t *testing.T) {
	p := newPipeline(t, &stubScraper{})
	_, _, err := p.Render(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStagesDoNotOverlap(t *testing.T) {
	p := newPipeline(t, &stubScraper{})
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.Scrape(context.Background(), june())
	assert.ErrorIs(t, err, ErrBusy)
	_, err = p.Categorize(context.Background(), oracle.Credential{APIKey: "k"}, categorize.RunOptions{})
	assert.ErrorIs(t, err, ErrBusy)
	_, _, err = p.Render(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestSaveEventsReportsIssues(t *testing.T) {
	p := newPipeline(t, &stubScraper{})
	rep, err := p.SaveEvents(&model.EventsFile{
		DateRange: &model.DateRange{StartDate: "2025-06-01", EndDate: "2025-06-30"},
		Sources:   []model.SourceEvents{{Tag: "cte", Events: []model.Event{{Name: "Untimed Event"}}}},
	})
	require.NoError(t, err)
	assert.False(t, rep.Valid())

	saved, err := p.Documents().LoadEvents()
	require.NoError(t, err)
	events, _ := saved.Source("cte")
	assert.Equal(t, "Untimed Event", events[0].Name)
}

func TestWindow(t *testing.T) {
	r := Window(time.Date(2025, 6, 28, 18, 30, 0, 0, time.UTC), 14)
	assert.Equal(t, "2025-06-28", r.Start.Format(time.DateOnly))
	assert.Equal(t, "2025-07-11", r.End.Format(time.DateOnly))
}

func TestSchedulerRunOnce(t *testing.T) {
	p := newPipeline(t, &stubScraper{})
	s, err := NewScheduler(p, "0 7 * * MON")
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC) }

	t.Setenv(APIKeyEnv, "")
	assert.ErrorIs(t, s.RunOnce(context.Background()), oracle.ErrNoCredential)

	t.Setenv(APIKeyEnv, "sk-env")
	require.NoError(t, s.RunOnce(context.Background()))
	doc, err := p.Documents().LoadEvents()
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15", doc.DateRange.EndDate)

	_, err = NewScheduler(p, "every tuesday")
	assert.Error(t, err)
}

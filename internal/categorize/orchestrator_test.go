package categorize

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventletter/internal/classify"
	"eventletter/internal/config"
	"eventletter/internal/describe"
	"eventletter/internal/model"
	"eventletter/internal/oracle"
	"eventletter/internal/store"
)

var subjectRe = regexp.MustCompile(`(?m)^(?:Category|Event): (.+)$`)

// fakeOracle answers classification with a fixed reply and writes
// numbered descriptions so regenerated text is distinguishable.
type fakeOracle struct {
	classifyReply string
	classifyErr   error
	describeErr   error
	generated     int
	calls         []oracle.Request
}

func (f *fakeOracle) Complete(_ context.Context, req oracle.Request) (string, error) {
	f.calls = append(f.calls, req)
	switch req.Purpose {
	case oracle.PurposeClassify:
		if f.classifyErr != nil {
			return "", f.classifyErr
		}
		return f.classifyReply, nil
	case oracle.PurposeDescribe:
		if f.describeErr != nil {
			return "", f.describeErr
		}
		f.generated++
		m := subjectRe.FindStringSubmatch(req.Prompt)
		return fmt.Sprintf("Description: About %s (v%d).", m[1], f.generated), nil
	case oracle.PurposeShorten:
		if f.describeErr != nil {
			return "", f.describeErr
		}
		return "Learn the essentials in one session.", nil
	}
	return "", errors.New("unexpected purpose")
}

func (f *fakeOracle) count(p oracle.Purpose) int {
	n := 0
	for _, c := range f.calls {
		if c.Purpose == p {
			n++
		}
	}
	return n
}

type fixture struct {
	cfg     *config.Config
	docs    *store.Documents
	backend store.Backend
	oracle  *fakeOracle
}

func newFixture(t *testing.T, cte ...model.Event) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir

	f := &fixture{
		cfg:     cfg,
		docs:    store.NewDocuments(dir, 3),
		backend: store.NewFileBackend(dir),
		oracle:  &fakeOracle{classifyReply: seriesReply},
	}
	if len(cte) > 0 {
		require.NoError(t, f.docs.SaveEvents(&model.EventsFile{
			DateRange: &model.DateRange{StartDate: "2025-06-01", EndDate: "2025-06-30"},
			Sources: []model.SourceEvents{
				{Tag: "cte", Events: cte},
				{Tag: "elp", Events: []model.Event{}},
			},
		}))
	}
	return f
}

func (f *fixture) orchestrator() *Orchestrator {
	return New(f.cfg, f.docs, f.backend, f.oracle)
}

func (f *fixture) run(t *testing.T, opts RunOptions) (*Result, error) {
	t.Helper()
	return f.orchestrator().Run(context.Background(), oracle.Credential{APIKey: "sk-test"}, opts)
}

const seriesReply = "```json\n" + `{
  "categories": [{"category_name": "Series A", "description": ""}, {"category_name": "Additional Events", "description": ""}],
  "event_assignments": {"0": "Series A", "1": "Series A", "2": "Additional Events"}
}` + "\n```"

func event(name, time string) model.Event {
	return model.Event{
		Name:     name,
		Link:     "https://calendar.example.edu/event/" + strings.ReplaceAll(strings.ToLower(name), " ", "-"),
		Date:     "Tuesday, June 10, 2025",
		Time:     time,
		Location: "Hub",
	}
}

func seriesEvents() []model.Event {
	return []model.Event{
		event("Series A (Session 1)", "10:00am"),
		event("Series A (Session 2)", "10:00am"),
		event("Standalone Talk", "2:00pm"),
	}
}

func TestSeriesAndCatchAll(t *testing.T) {
	f := newFixture(t, seriesEvents()...)

	res, err := f.run(t, RunOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	cats, ok := res.Output.Source("cte")
	require.True(t, ok)
	require.Len(t, cats, 2)
	assert.Equal(t, "Series A", cats[0].Name)
	assert.Len(t, cats[0].Events, 2)
	assert.Equal(t, "About Series A (v1).", cats[0].Description)
	assert.Equal(t, "Additional Events", cats[1].Name)
	assert.Equal(t, describe.CatchAllDescription, cats[1].Description)
	assert.Equal(t, seriesEvents(), append(append([]model.Event{}, cats[0].Events...), cats[1].Events...))

	elp, ok := res.Output.Source("elp")
	require.True(t, ok)
	assert.Empty(t, elp)

	// One classification for cte, none for the empty elp source, one
	// description for Series A and none for the catch-all.
	assert.Equal(t, 1, f.oracle.count(oracle.PurposeClassify))
	assert.Equal(t, 1, f.oracle.count(oracle.PurposeDescribe))
	for _, c := range f.oracle.calls {
		assert.Equal(t, "sk-test", c.Credential.APIKey)
	}

	saved, err := f.docs.LoadCategorized()
	require.NoError(t, err)
	assert.Equal(t, res.Output.Sources, saved.Sources)
	assert.Equal(t, Stats{Events: 3, Categories: 2, GeneratedDescriptions: 1}, res.Stats)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []Stage{
		StageLoad, StageSplit, StageClassify, StageUpdateHistory,
		StageProcessWeekly, StageResolveDescriptions, StageApply, StagePersist,
	}, res.Stages)
}

func TestEventWithCriticalIssueIsLeftOut(t *testing.T) {
	events := seriesEvents()
	events[2].Location = ""
	f := newFixture(t, events...)

	res, err := f.run(t, RunOptions{})
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Standalone Talk")
	assert.Contains(t, res.Warnings[0], "cte_events[2].event_location")
	assert.Equal(t, 2, res.Stats.Events)
	assert.Equal(t, 1, res.Stats.DroppedEvents)

	// Index 2 of the reply no longer names an event and is dropped.
	cats, ok := res.Output.Source("cte")
	require.True(t, ok)
	require.Len(t, cats, 1)
	assert.Equal(t, "Series A", cats[0].Name)
	assert.Equal(t, events[:2], cats[0].Events)
	assert.NotContains(t, f.oracle.calls[0].Prompt, "Standalone Talk")

	saved, err := f.docs.LoadCategorized()
	require.NoError(t, err)
	assert.Equal(t, res.Output.Sources, saved.Sources)
}

func TestWeeklySeriesAcrossTwoDays(t *testing.T) {
	tue := event("Coffee Hour", "Tuesdays 3pm Weekly")
	thu := event("Coffee Hour", "Thursdays 3pm Weekly")
	thu.Description = model.Some("Meet colleagues over coffee.")
	f := newFixture(t, append(seriesEvents(), tue, thu)...)

	res, err := f.run(t, RunOptions{})
	require.NoError(t, err)

	require.Len(t, res.Output.Weekly, 1)
	g := res.Output.Weekly[0]
	assert.Equal(t, "Coffee Hour", g.Name)
	assert.Nil(t, g.Events)
	assert.Equal(t, tue.Link, g.Link)
	assert.Equal(t, "Tuesdays at 3pm, Hub\nThursdays at 3pm, Hub", g.Schedule)
	assert.Contains(t, g.Description, "About Coffee Hour")

	shells, err := store.LoadInto[model.WeeklySeriesGroup](context.Background(), f.backend, store.TableWeeklyCache)
	require.NoError(t, err)
	require.Contains(t, shells, "Coffee Hour|2|2|1")
	assert.Equal(t, g, shells["Coffee Hour|2|2|1"])

	// Weekly instances never reach the classifier.
	assert.NotContains(t, f.oracle.calls[0].Prompt, "Coffee Hour")
	assert.Equal(t, 3, model.EventCount(res.Output.Sources[0].Categories))
}

func TestWeeklySeriesMergedAcrossSources(t *testing.T) {
	f := newFixture(t)
	tue := event("Coffee Hour", "Tuesdays 3pm Weekly")
	thu := event("Coffee Hour", "Thursdays 3pm Weekly")
	thu.Link = "https://calendar.example.edu/elp/coffee-hour"
	require.NoError(t, f.docs.SaveEvents(&model.EventsFile{
		DateRange: &model.DateRange{StartDate: "2025-06-01", EndDate: "2025-06-30"},
		Sources: []model.SourceEvents{
			{Tag: "cte", Events: append(seriesEvents(), tue)},
			{Tag: "elp", Events: []model.Event{thu}},
		},
	}))

	res, err := f.run(t, RunOptions{})
	require.NoError(t, err)

	require.Len(t, res.Output.Weekly, 1)
	g := res.Output.Weekly[0]
	assert.Equal(t, "Coffee Hour", g.Name)
	assert.Equal(t, tue.Link, g.Link, "the first source's links win")
	assert.Equal(t, "Tuesdays at 3pm, Hub\nThursdays at 3pm, Hub", g.Schedule)
	assert.Equal(t, 1, res.Stats.WeeklySeries)

	shells, err := store.LoadInto[model.WeeklySeriesGroup](context.Background(), f.backend, store.TableWeeklyCache)
	require.NoError(t, err)
	assert.Contains(t, shells, "Coffee Hour|2|2|1")
}

func TestRerunReusesNamesAndDescriptions(t *testing.T) {
	long := strings.Repeat("Participants practice structured discussion techniques. ", 6)
	events := seriesEvents()
	events[0].Description = model.Some(long)
	weeklyEv := event("Writing Circle", "Fridays 9am Weekly")
	weeklyEv.Description = model.Some("Write together in a quiet room.")
	f := newFixture(t, append(events, weeklyEv)...)

	first, err := f.run(t, RunOptions{})
	require.NoError(t, err)
	firstCalls := len(f.oracle.calls)
	cats, _ := first.Output.Source("cte")
	assert.Equal(t, "Learn the essentials in one session.", cats[0].Events[0].Description.Value)

	second, err := f.run(t, RunOptions{})
	require.NoError(t, err)

	later := f.oracle.calls[firstCalls:]
	require.Len(t, later, 1, "only classification runs again")
	assert.Equal(t, oracle.PurposeClassify, later[0].Purpose)
	assert.Contains(t, later[0].Prompt, "Category: Series A\n  - Series A (Session 1)\n  - Series A (Session 2)")

	assert.Equal(t, first.Output.Sources, second.Output.Sources)
	assert.Equal(t, first.Output.Weekly, second.Output.Weekly)
	assert.Equal(t, 0, second.Stats.GeneratedDescriptions)
	assert.Equal(t, 2, second.Stats.CachedDescriptions)
}

func TestOutOfRangeAssignmentIsDropped(t *testing.T) {
	events := []model.Event{
		event("Lab 1", "1pm"), event("Lab 2", "1pm"), event("Lab 3", "1pm"),
		event("Lab 4", "1pm"), event("Lab 5", "1pm"),
	}
	f := newFixture(t, events...)
	f.oracle.classifyReply = `{"categories":[{"category_name":"Lab Series"}],
		"event_assignments":{"0":"Lab Series","1":"Lab Series","2":"Lab Series","3":"Lab Series","4":"Lab Series","5":"Lab Series"}}`

	res, err := f.run(t, RunOptions{})
	require.NoError(t, err)
	cats, _ := res.Output.Source("cte")
	require.Len(t, cats, 1)
	assert.Equal(t, events, cats[0].Events)
}

func TestFailures(t *testing.T) {
	t.Run("missing input", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.run(t, RunOptions{})
		require.Error(t, err)
		assert.Equal(t, KindNoInput, KindOf(err))
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NotEmpty(t, res.RunID)
		assert.Nil(t, res.Output)
		assert.Empty(t, f.oracle.calls)
	})

	t.Run("no valid event left", func(t *testing.T) {
		bad := event("Series A (Session 1)", "10am")
		bad.Location = ""
		f := newFixture(t, bad)
		res, err := f.run(t, RunOptions{})
		assert.Equal(t, KindInvalidInput, KindOf(err))
		assert.Contains(t, err.Error(), "all 1 event(s) have critical issues")
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "cte_events[0].event_location")
		assert.Equal(t, []Stage{StageLoad}, res.Stages)
		assert.Empty(t, f.oracle.calls)
	})

	t.Run("missing date range", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.docs.SaveEvents(&model.EventsFile{
			Sources: []model.SourceEvents{{Tag: "cte", Events: seriesEvents()}},
		}))
		_, err := f.run(t, RunOptions{})
		assert.Equal(t, KindInvalidInput, KindOf(err))
		assert.Contains(t, err.Error(), "date_range")
		assert.Empty(t, f.oracle.calls)
	})

	t.Run("malformed classifier output", func(t *testing.T) {
		f := newFixture(t, seriesEvents()...)
		f.oracle.classifyReply = "I could not decide."
		res, err := f.run(t, RunOptions{})

		var re *RunError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, KindOracleMalformed, re.Kind)
		assert.Equal(t, []Stage{StageLoad, StageSplit, StageClassify}, res.Stages)
		assert.Equal(t, StageClassify, re.Stage)
		assert.Equal(t, "cte", re.Source)
		assert.ErrorIs(t, err, classify.ErrMalformed)

		_, err = f.docs.LoadCategorized()
		assert.ErrorIs(t, err, store.ErrNotFound, "nothing is written on failure")
	})

	t.Run("oracle unavailable", func(t *testing.T) {
		f := newFixture(t, seriesEvents()...)
		f.oracle.classifyErr = errors.New("401 unauthorized")
		_, err := f.run(t, RunOptions{})
		assert.Equal(t, KindOracleUnavailable, KindOf(err))
		assert.ErrorIs(t, err, classify.ErrUnavailable)
		assert.NotContains(t, err.Error(), "sk-test")
	})
}

type failingDocs struct {
	*store.Documents
}

func (failingDocs) SaveCategorized(*model.CategorizedFile) error {
	return errors.New("disk full")
}

func TestPersistFailureKeepsHistory(t *testing.T) {
	f := newFixture(t, seriesEvents()...)
	o := New(f.cfg, failingDocs{f.docs}, f.backend, f.oracle)

	res, err := o.Run(context.Background(), oracle.Credential{}, RunOptions{})
	assert.Equal(t, KindPersistFailed, KindOf(err))
	assert.Nil(t, res.Output)

	hist, err := store.LoadInto[map[string][]string](context.Background(), f.backend, store.TableHistory)
	require.NoError(t, err)
	assert.Equal(t, []string{"Series A (Session 1)", "Series A (Session 2)"}, hist["cte"]["Series A"])
}

type readOnlyBackend struct {
	store.Backend
}

func (readOnlyBackend) Save(context.Context, string, store.Rows) error {
	return errors.New("read-only")
}

func TestCacheWriteFailureIsAWarning(t *testing.T) {
	f := newFixture(t, seriesEvents()...)
	f.backend = readOnlyBackend{f.backend}

	res, err := f.run(t, RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Output)
	assert.NotEmpty(t, res.Warnings)

	_, err = f.docs.LoadCategorized()
	assert.NoError(t, err)
}

func TestDescriptionFallbackIsNotCached(t *testing.T) {
	f := newFixture(t, seriesEvents()...)
	f.oracle.describeErr = errors.New("timeout")

	res, err := f.run(t, RunOptions{})
	require.NoError(t, err)
	cats, _ := res.Output.Source("cte")
	assert.Equal(t, describe.FallbackCategory("Series A"), cats[0].Description)
	assert.Equal(t, 1, res.Stats.FallbackDescriptions)

	stored, err := store.LoadInto[string](context.Background(), f.backend, store.TableCategoryDescriptions)
	require.NoError(t, err)
	assert.NotContains(t, stored, "Series A")

	f.oracle.describeErr = nil
	res, err = f.run(t, RunOptions{})
	require.NoError(t, err)
	cats, _ = res.Output.Source("cte")
	assert.Equal(t, "About Series A (v1).", cats[0].Description)
}

func TestRegenerateOverwritesDescriptions(t *testing.T) {
	f := newFixture(t, seriesEvents()...)
	_, err := f.run(t, RunOptions{})
	require.NoError(t, err)

	res, err := f.run(t, RunOptions{Regenerate: true})
	require.NoError(t, err)
	cats, _ := res.Output.Source("cte")
	assert.Equal(t, "About Series A (v2).", cats[0].Description)

	stored, err := store.LoadInto[string](context.Background(), f.backend, store.TableCategoryDescriptions)
	require.NoError(t, err)
	assert.Equal(t, "About Series A (v2).", stored["Series A"])
}

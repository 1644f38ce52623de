package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventletter/internal/model"
	"eventletter/internal/oracle"
)

const catchAll = "Additional Events"

func named(names ...string) []model.Event {
	out := make([]model.Event, len(names))
	for i, n := range names {
		out[i] = model.Event{Name: n, Date: fmt.Sprintf("Mar %d", i+1), Time: "1pm", Location: "Hall"}
	}
	return out
}

func reply(s string) (oracle.Oracle, *[]oracle.Request) {
	var calls []oracle.Request
	return oracle.Func(func(_ context.Context, req oracle.Request) (string, error) {
		calls = append(calls, req)
		return s, nil
	}), &calls
}

func newClassifier(o oracle.Oracle) *Classifier {
	return New(o, Options{CatchAll: catchAll, MaxCategories: 5, Temperature: 0.1})
}

func flatten(cats []model.Category) []model.Event {
	var out []model.Event
	for _, c := range cats {
		out = append(out, c.Events...)
	}
	return out
}

func TestClassifySeriesAndCatchAll(t *testing.T) {
	o, calls := reply("```json\n" + `{
		"categories": [{"category_name": "Series A", "description": ""}, {"category_name": "Additional Events", "description": ""}],
		"event_assignments": {"0": "Series A", "1": "Series A", "2": "Additional Events"}
	}` + "\n```")
	events := named("Series A (Session 1)", "Series A (Session 2)", "Standalone Talk")

	cats, err := newClassifier(o).Classify(context.Background(), events, "CTE", "none", oracle.Credential{APIKey: "k"})
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Series A", cats[0].Name)
	assert.Equal(t, events[:2], cats[0].Events)
	assert.Equal(t, catchAll, cats[1].Name)
	assert.Equal(t, events[2:], cats[1].Events)

	require.Len(t, *calls, 1)
	req := (*calls)[0]
	assert.Equal(t, oracle.PurposeClassify, req.Purpose)
	assert.InDelta(t, 0.1, req.Temperature, 1e-9)
	assert.Equal(t, "k", req.Credential.APIKey)
}

func TestOutOfRangeIndexIsDropped(t *testing.T) {
	o, _ := reply(`{"categories":[{"category_name":"Series B"}],
		"event_assignments":{"0":"Series B","1":"Series B","2":"Series B","3":"Series B","4":"Series B","5":"Series B","-1":"Series B","x":"Series B"}}`)
	events := named("B1", "B2", "B3", "B4", "B5")

	cats, err := newClassifier(o).Classify(context.Background(), events, "CTE", "", oracle.Credential{})
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, events, cats[0].Events)
}

func TestEveryEventAssignedExactlyOnce(t *testing.T) {
	responses := []string{
		`{"categories":[],"event_assignments":{"0":"X"}}`,
		`{"categories":[{"category_name":"Empty"},{"category_name":"Y"}],"event_assignments":{"3":"Y","1":"Y","9":"Y"}}`,
		`{"categories":[{"category_name":"Z"}],"event_assignments":{"0":"Z","1":"Q","2":"","3":"Z"}}`,
	}
	events := named("e0", "e1", "e2", "e3")
	for _, r := range responses {
		o, _ := reply(r)
		cats, err := newClassifier(o).Classify(context.Background(), events, "CTE", "", oracle.Credential{})
		require.NoError(t, err, r)
		assert.ElementsMatch(t, events, flatten(cats), r)
		for _, c := range cats {
			assert.NotEmpty(t, c.Events, "empty categories are dropped")
		}
	}
}

func TestUndeclaredAndDefaultedOrdering(t *testing.T) {
	o, _ := reply(`{"categories":[{"category_name":"Z"},{"category_name":"Never"}],"event_assignments":{"0":"Q","1":"Z","3":"Z"}}`)
	events := named("e0", "e1", "e2", "e3")

	cats, err := newClassifier(o).Classify(context.Background(), events, "CTE", "", oracle.Credential{})
	require.NoError(t, err)

	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	// Z is largest; Q and the catch-all tie and keep first-seen order.
	assert.Equal(t, []string{"Z", "Q", catchAll}, names)
	assert.Equal(t, []model.Event{events[2]}, cats[2].Events)
}

func TestMalformedIsHardFailure(t *testing.T) {
	for _, r := range []string{
		"I could not categorize these events.",
		`{"categories": [{"category_name": "A"}]}`,
		`{"categories": "nope", "event_assignments": {"0": "A"}}`,
	} {
		o, _ := reply(r)
		_, err := newClassifier(o).Classify(context.Background(), named("a"), "CTE", "", oracle.Credential{})
		assert.ErrorIs(t, err, ErrMalformed, r)
	}
}

func TestFenceLanguageTagIsIgnored(t *testing.T) {
	body := `{"categories":[{"category_name":"Series A"}],"event_assignments":{"0":"Series A","1":"Series A"}}`
	for _, tag := range []string{"JSON", "jsonc", "Json5"} {
		o, _ := reply("```" + tag + "\n" + body + "\n```")
		cats, err := newClassifier(o).Classify(context.Background(), named("a", "b"), "CTE", "", oracle.Credential{})
		require.NoError(t, err, tag)
		require.Len(t, cats, 1, tag)
		assert.Equal(t, "Series A", cats[0].Name)
	}
}

func TestOracleFailureIsHardFailure(t *testing.T) {
	boom := errors.New("401 unauthorized")
	o := oracle.Func(func(context.Context, oracle.Request) (string, error) { return "", boom })

	_, err := newClassifier(o).Classify(context.Background(), named("a"), "CTE", "", oracle.Credential{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, boom)
}

func TestEmptySourceMakesNoCall(t *testing.T) {
	o, calls := reply("unused")
	cats, err := newClassifier(o).Classify(context.Background(), nil, "CTE", "", oracle.Credential{})
	require.NoError(t, err)
	assert.Empty(t, cats)
	assert.Empty(t, *calls)
}

func TestBuildPrompt(t *testing.T) {
	events := named("Series A (Session 1)", "Standalone Talk")
	events[0].Description = model.Some(strings.Repeat("x", 250))

	p := BuildPrompt(events, "CTE", "Category: Series A\n  - Series A (Session 0)", catchAll, 5)
	assert.Contains(t, p, "Event 0:\nName: Series A (Session 1)\nDate: Mar 1\nDescription: "+strings.Repeat("x", 200)+"...\n")
	assert.Contains(t, p, "Event 1:\nName: Standalone Talk")
	assert.Contains(t, p, "between 1 and 5 categories")
	assert.Contains(t, p, "from 0 to 1")
	assert.Contains(t, p, `"Additional Events"`)
	assert.Contains(t, p, "Series A (Session 0)")
	assert.NotContains(t, p, strings.Repeat("x", 201))
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("```JSON\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("```jsonc\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("Here you go:\n```Json \n{\"a\":1}\n```\nDone."))
	assert.Equal(t, `{"a":1}`, ExtractJSON("Sure! Here it is: {\"a\":1} Thanks."))
	assert.Equal(t, "plain", ExtractJSON("  plain "))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 200))
	assert.Equal(t, "ab...", Truncate("abc", 2))
	assert.Equal(t, "é...", Truncate("éé", 1))
}

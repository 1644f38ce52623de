package weekly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventletter/internal/model"
)

const marker = "Weekly"

func ev(name, date, tm, loc string) model.Event {
	return model.Event{Name: name, Date: date, Time: tm, Location: loc, Link: "https://cal.example.edu/" + name}
}

func TestSplitGroupsByExactName(t *testing.T) {
	events := []model.Event{
		ev("Yoga", "Mar 4", "Tuesdays 3pm Weekly", "Rec Center"),
		ev("Talk", "Mar 5", "1pm", "Library"),
		ev("Writing Circle", "Mar 5", "Wednesdays 10am Weekly", "Room 2"),
		ev("Yoga", "Mar 6", "Thursdays 3pm Weekly", "Rec Center"),
		ev("yoga ", "Mar 7", "Fridays 3pm Weekly", "Rec Center"),
	}
	events[3].Link = "https://other"

	regular, groups := Split(events, marker)
	require.Len(t, regular, 1)
	assert.Equal(t, "Talk", regular[0].Name)

	require.Len(t, groups, 3)
	assert.Equal(t, []string{"Yoga", "Writing Circle", "yoga "}, []string{groups[0].Name, groups[1].Name, groups[2].Name})
	assert.Len(t, groups[0].Events, 2)
	assert.Equal(t, "https://cal.example.edu/Yoga", groups[0].Link, "links come from the first instance")
}

func TestSplitThenMergeRecoversInput(t *testing.T) {
	inputs := [][]model.Event{
		nil,
		{ev("A", "d", "1pm", "l")},
		{ev("A", "d", "Mon 1pm Weekly", "l"), ev("A", "d", "Mon 1pm Weekly", "l")},
		{
			ev("A", "d1", "Weekly Mon", "l"), ev("B", "d2", "2pm", "l"), ev("C", "d3", "Weekly", "l"),
			ev("A", "d4", "Weekly Wed", "l"), ev("B", "d5", "3pm", "l"),
		},
	}
	for _, in := range inputs {
		regular, groups := Split(in, marker)
		merged := append(append([]model.Event{}, regular...), Flatten(groups)...)
		assert.ElementsMatch(t, in, merged)
	}
}

func TestMergeAcrossSources(t *testing.T) {
	_, first := Split([]model.Event{
		ev("Coffee Hour", "Mar 4", "Tuesdays 3pm Weekly", "Hub"),
		ev("Yoga", "Mar 4", "Tuesdays 5pm Weekly", "Rec Center"),
	}, marker)
	other := ev("Coffee Hour", "Mar 6", "Thursdays 3pm Weekly", "Hub")
	other.Link = "https://elp.example.edu/coffee"
	_, second := Split([]model.Event{other, ev("Book Club", "Mar 6", "Thursdays 6pm Weekly", "Library")}, marker)

	groups := Merge(first, second)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"Coffee Hour", "Yoga", "Book Club"}, []string{groups[0].Name, groups[1].Name, groups[2].Name})
	assert.Len(t, groups[0].Events, 2)
	assert.Equal(t, "https://cal.example.edu/Coffee Hour", groups[0].Link)
	assert.Equal(t, "Coffee Hour|2|2|1", Fingerprint(groups[0], marker))
}

func TestSplitEmptyMarkerKeepsAllRegular(t *testing.T) {
	regular, groups := Split([]model.Event{ev("A", "d", "Weekly", "l")}, "")
	assert.Len(t, regular, 1)
	assert.Empty(t, groups)
}

func TestTuesdayThursdayScenario(t *testing.T) {
	_, groups := Split([]model.Event{
		ev("Coffee Hour", "Mar 4", "Tuesdays 3pm Weekly", "Hub"),
		ev("Coffee Hour", "Mar 6", "Thursdays 3pm Weekly", "Hub"),
	}, marker)
	require.Len(t, groups, 1)

	shape := ShapeOf(groups[0], marker)
	assert.Equal(t, Shape{Name: "Coffee Hour", Instances: 2, DistinctDays: 2, DistinctTimes: 1}, shape)
	assert.Equal(t, "Coffee Hour|2|2|1", Fingerprint(groups[0], marker))
}

func TestFingerprintTracksShape(t *testing.T) {
	base := model.WeeklySeriesGroup{Name: "S", Events: []model.Event{
		ev("S", "d", "Mondays 1pm Weekly", "l"),
		ev("S", "d", "Mondays 1pm Weekly", "l"),
	}}
	sameShape := model.WeeklySeriesGroup{Name: "S", Events: []model.Event{
		ev("S", "other", "Tuesdays 4pm Weekly", "elsewhere"),
		ev("S", "other", "Tuesdays 4pm Weekly", "elsewhere"),
	}}
	moreDays := model.WeeklySeriesGroup{Name: "S", Events: []model.Event{
		ev("S", "d", "Mondays 1pm Weekly", "l"),
		ev("S", "d", "Wednesdays 1pm Weekly", "l"),
	}}
	moreTimes := model.WeeklySeriesGroup{Name: "S", Events: []model.Event{
		ev("S", "d", "Mondays 1pm Weekly", "l"),
		ev("S", "d", "Mondays 2pm Weekly", "l"),
	}}
	moreInstances := model.WeeklySeriesGroup{Name: "S", Events: append(base.Events, ev("S", "d", "Mondays 1pm Weekly", "l"))}
	renamed := model.WeeklySeriesGroup{Name: "S2", Events: base.Events}

	k := Fingerprint(base, marker)
	assert.Equal(t, k, Fingerprint(sameShape, marker))
	for _, g := range []model.WeeklySeriesGroup{moreDays, moreTimes, moreInstances, renamed} {
		assert.NotEqual(t, k, Fingerprint(g, marker), g.Name)
	}
}

func TestDayDerivation(t *testing.T) {
	cases := []struct {
		ev   model.Event
		want string
	}{
		{model.Event{Time: "Thurs 9am"}, "Thursday"},
		{model.Event{Time: "9am", Date: "Wed, March 5"}, "Wednesday"},
		{model.Event{Time: "9am", Date: "2025-03-08"}, "Saturday"},
		{model.Event{Time: "9am", Date: "  sometime soon "}, "sometime soon"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Day(c.ev), c.ev)
	}
}

func TestTimeOf(t *testing.T) {
	assert.Equal(t, "3pm", TimeOf(model.Event{Time: "Tuesdays 3pm Weekly"}, marker))
	assert.Equal(t, "10:00am - 11:00am", TimeOf(model.Event{Time: "Weekly · Mondays, 10:00am - 11:00am"}, marker))
}

func TestSummary(t *testing.T) {
	a := ev("Coffee Hour", "Mar 4", "Tuesdays 3pm Weekly", "Hub")
	a.Facilitators = model.Some("Dr. Lee, Sam Ortiz")
	b := ev("Coffee Hour", "Mar 6", "Thursdays 3pm Weekly", "Hub")
	b.Facilitators = model.Some("Sam Ortiz")
	c := ev("Coffee Hour", "Mar 11", "Tuesdays 3pm Weekly", "Hub")

	got := Summary(model.WeeklySeriesGroup{Name: "Coffee Hour", Events: []model.Event{a, b, c}}, marker)
	assert.Equal(t, "Tuesdays at 3pm, Hub\nThursdays at 3pm, Hub\nFacilitated by Dr. Lee, Sam Ortiz", got)
}

// Package describe writes newsletter prose with the language model.
//
// Every operation has a deterministic fallback. When the oracle fails the
// fallback text is returned together with the error, so callers can log the
// degradation and carry on.
package describe

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"eventletter/internal/classify"
	"eventletter/internal/model"
	"eventletter/internal/oracle"
	"eventletter/internal/weekly"
)

const (
	// ShortenThreshold is the longest description kept verbatim.
	ShortenThreshold = 200
	// MaxSamples caps the events shown when describing a category.
	MaxSamples = 3
)

// CatchAllDescription is used for the catch-all category instead of generated text.
const CatchAllDescription = "A collection of additional workshops, talks and opportunities happening this period. Browse the events below and find something that fits your schedule."

// Options configures a Generator.
type Options struct {
	CatchAll     string
	WeeklyMarker string
	Temperature  float64
}

type Generator struct {
	oracle oracle.Oracle
	opts   Options
}

func New(o oracle.Oracle, opts Options) *Generator {
	return &Generator{oracle: o, opts: opts}
}

// IsCatchAll reports whether name is the catch-all category.
func (g *Generator) IsCatchAll(name string) bool {
	return name == g.opts.CatchAll
}

// FallbackCategory is the text used when a category description cannot be generated.
func FallbackCategory(name string) string {
	return fmt.Sprintf("A series of events focused on %s.", name)
}

// FallbackWeekly is the text used when a weekly series description cannot be generated.
func FallbackWeekly(name string) string {
	return fmt.Sprintf("A weekly series: %s. Drop in to any session that fits your schedule.", name)
}

// DescribeCategory writes a short description for a named group of events.
// The catch-all category gets CatchAllDescription without an oracle call.
func (g *Generator) DescribeCategory(ctx context.Context, name string, samples []model.Event, cred oracle.Credential) (string, error) {
	if g.IsCatchAll(name) {
		return CatchAllDescription, nil
	}
	if len(samples) > MaxSamples {
		samples = samples[:MaxSamples]
	}
	var b strings.Builder
	for i, ev := range samples {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "- %s\n  %s", ev.Name, classify.Truncate(ev.Description.Value, ShortenThreshold))
	}
	prompt := fmt.Sprintf(categoryPrompt, name, b.String())

	out, err := g.complete(ctx, prompt, oracle.PurposeDescribe, cred)
	if err != nil {
		return FallbackCategory(name), err
	}
	return out, nil
}

// DescribeWeeklySeries returns prose for the series and a schedule summary.
// The schedule is built from the group's instances and never needs the oracle.
func (g *Generator) DescribeWeeklySeries(ctx context.Context, group model.WeeklySeriesGroup, cred oracle.Credential) (string, string, error) {
	schedule := weekly.Summary(group, g.opts.WeeklyMarker)

	sample := ""
	for _, ev := range group.Events {
		if d := strings.TrimSpace(ev.Description.Value); d != "" {
			sample = d
			break
		}
	}
	if sample == "" {
		return FallbackWeekly(group.Name), schedule, nil
	}

	prompt := fmt.Sprintf(weeklyPrompt, group.Name, classify.Truncate(sample, 600))
	out, err := g.complete(ctx, prompt, oracle.PurposeDescribe, cred)
	if err != nil {
		return FallbackWeekly(group.Name), schedule, err
	}
	return out, schedule, nil
}

// Shorten rewrites a long event description. Text of ShortenThreshold
// characters or fewer comes back unchanged without an oracle call.
func (g *Generator) Shorten(ctx context.Context, original string, cred oracle.Credential) (string, error) {
	if utf8.RuneCountInString(original) <= ShortenThreshold {
		return original, nil
	}
	out, err := g.complete(ctx, fmt.Sprintf(shortenPrompt, original), oracle.PurposeShorten, cred)
	if err != nil {
		return TruncateWords(original, ShortenThreshold), err
	}
	return out, nil
}

func (g *Generator) complete(ctx context.Context, prompt string, purpose oracle.Purpose, cred oracle.Credential) (string, error) {
	raw, err := g.oracle.Complete(ctx, oracle.Request{
		Prompt:      prompt,
		Temperature: g.opts.Temperature,
		Purpose:     purpose,
		Credential:  cred,
	})
	if err != nil {
		return "", err
	}
	out := Clean(raw)
	if out == "" {
		return "", fmt.Errorf("empty %s response", purpose)
	}
	return out, nil
}

// TruncateWords cuts s to at most n characters on a word boundary and appends "...".
func TruncateWords(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexAny(cut, " \n\t"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:.-") + "..."
}

const categoryPrompt = `Write an engaging 3 to 5 line description of a category of academic events for a university newsletter.

Category: %s

Sample events in this category:
%s

The description should explain what the series is about, highlight the value for attendees and encourage faculty and staff to sign up, in an enthusiastic professional tone.

Do not mention specific dates, times, locations or facilitator names. Do not exceed 5 lines.

Description:`

const weeklyPrompt = `Write a 2 to 3 line description of a weekly recurring event for a university newsletter.

Event: %s

Event details:
%s

Focus on what attendees will gain from joining. Do not mention specific dates, times, locations or facilitator names.

Description:`

const shortenPrompt = `Rewrite the following event description in at most 4 lines for a newsletter.

Focus on what participants will learn or be able to do afterwards. Remove dates, times, locations and the names of people.

Original description:
%s

Shortened description:`

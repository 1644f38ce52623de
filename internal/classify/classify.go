// Package classify partitions one source's events into named categories
// using the language model.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"

	appLog "eventletter/internal/log"
	"eventletter/internal/model"
	"eventletter/internal/oracle"
)

var (
	// ErrUnavailable wraps a failed oracle call.
	ErrUnavailable = errors.New("classifier oracle unavailable")
	// ErrMalformed marks a response that is not the expected JSON shape.
	ErrMalformed = errors.New("malformed classifier response")
)

// Options configures a Classifier.
type Options struct {
	CatchAll      string
	MaxCategories int
	Temperature   float64
}

// Classifier asks the oracle for a category assignment and validates it.
type Classifier struct {
	oracle oracle.Oracle
	opts   Options
}

func New(o oracle.Oracle, opts Options) *Classifier {
	if opts.MaxCategories <= 0 {
		opts.MaxCategories = 5
	}
	if opts.CatchAll == "" {
		opts.CatchAll = "Additional Events"
	}
	return &Classifier{oracle: o, opts: opts}
}

// CatchAll is the category that receives unmatched events.
func (c *Classifier) CatchAll() string { return c.opts.CatchAll }

// Classify returns categories covering every event exactly once, largest
// first. Oracle failures and unparseable responses are errors; there is no
// fallback grouping.
func (c *Classifier) Classify(ctx context.Context, events []model.Event, sourceLabel, historyText string, cred oracle.Credential) ([]model.Category, error) {
	if len(events) == 0 {
		return nil, nil
	}

	prompt := BuildPrompt(events, sourceLabel, historyText, c.opts.CatchAll, c.opts.MaxCategories)
	raw, err := c.oracle.Complete(ctx, oracle.Request{
		Prompt:      prompt,
		Temperature: c.opts.Temperature,
		Purpose:     oracle.PurposeClassify,
		Credential:  cred,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	resp, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	cats, stats := assemble(events, resp, c.opts.CatchAll)
	if stats.dropped > 0 || stats.defaulted > 0 || stats.undeclared > 0 {
		appLog.Warn("classifier response repaired",
			"source", sourceLabel,
			"dropped_assignments", stats.dropped,
			"defaulted_events", stats.defaulted,
			"undeclared_categories", stats.undeclared,
		)
	}
	return cats, nil
}

type declaredCategory struct {
	Name        string `json:"category_name"`
	Description string `json:"description"`
}

type response struct {
	Categories  []declaredCategory `json:"categories"`
	Assignments map[string]string  `json:"event_assignments"`
}

// ExtractJSON strips markdown code fencing around a JSON payload.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if _, after, ok := strings.Cut(s, "```"); ok {
		body, _, _ := strings.Cut(stripFenceTag(after), "```")
		return strings.TrimSpace(body)
	}
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		return s[i : j+1]
	}
	return s
}

// stripFenceTag drops a language tag such as "json", "JSON" or "jsonc" that
// directly follows an opening fence.
func stripFenceTag(s string) string {
	i := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	if i <= 0 {
		return s
	}
	switch s[i] {
	case '\n', '\r', ' ', '\t', '{', '[':
		return s[i:]
	}
	return s
}

func parseResponse(raw string) (response, error) {
	var resp response
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &resp); err != nil {
		return response{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(resp.Assignments) == 0 {
		return response{}, fmt.Errorf("%w: no event assignments", ErrMalformed)
	}
	return resp, nil
}

type repairStats struct {
	dropped    int
	defaulted  int
	undeclared int
}

// assemble turns a parsed response into categories. Assignments whose index
// is not an integer in [0, n) are dropped. Events left unassigned go to the
// catch-all category. Names that were assigned but not declared become
// categories after the declared ones.
func assemble(events []model.Event, resp response, catchAll string) ([]model.Category, repairStats) {
	var stats repairStats
	n := len(events)

	var order []string
	byName := map[string][]int{}
	declare := func(name string) bool {
		if _, ok := byName[name]; ok {
			return false
		}
		byName[name] = nil
		order = append(order, name)
		return true
	}
	for _, dc := range resp.Categories {
		if name := strings.TrimSpace(dc.Name); name != "" {
			declare(name)
		}
	}

	assigned := make([]string, n)
	for key, name := range resp.Assignments {
		idx, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || idx < 0 || idx >= n {
			stats.dropped++
			continue
		}
		assigned[idx] = strings.TrimSpace(name)
	}

	for idx := range n {
		name := assigned[idx]
		if name == "" {
			name = catchAll
			stats.defaulted++
			declare(name)
		} else if declare(name) {
			stats.undeclared++
		}
		byName[name] = append(byName[name], idx)
	}

	cats := make([]model.Category, 0, len(order))
	for _, name := range order {
		idxs := byName[name]
		if len(idxs) == 0 {
			continue
		}
		evs := make([]model.Event, 0, len(idxs))
		for _, i := range idxs {
			evs = append(evs, events[i])
		}
		cats = append(cats, model.Category{Name: name, Events: evs})
	}

	slices.SortStableFunc(cats, func(a, b model.Category) int {
		return len(b.Events) - len(a.Events)
	})
	return cats, stats
}

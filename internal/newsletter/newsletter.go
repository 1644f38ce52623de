// Package newsletter renders categorized events into the HTML email.
package newsletter

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/Masterminds/sprig/v3"

	"eventletter/internal/config"
	"eventletter/internal/model"
)

const (
	descriptionLimit = 150
	linkNameLimit    = 40
	ellipsis         = "..."
)

//go:embed newsletter.html.tmpl
var pageTemplate string

var page = template.Must(template.New("newsletter").Funcs(sprig.FuncMap()).Parse(pageTemplate))

// Options is the per-render configuration.
type Options struct {
	config.NewsletterConfig
	// Labels maps a source tag to the banner text shown above its categories.
	// Sources without a label get no banner.
	Labels map[string]string
}

// OptionsFrom builds render options from the application config.
func OptionsFrom(cfg *config.Config) Options {
	labels := make(map[string]string, len(cfg.Sources))
	for _, s := range cfg.Sources {
		labels[s.Tag] = s.Name
	}
	return Options{NewsletterConfig: cfg.Newsletter, Labels: labels}
}

type eventView struct {
	Name             string
	ShortName        string
	Link             string
	RegistrationLink string
	Date             string
	Weekday          string
	Icon             string
	Time             string
	Location         string
	Facilitators     string
	Description      string
}

type categoryView struct {
	Name        string
	Description string
	Events      []eventView
}

type sourceView struct {
	Tag        string
	Label      string
	Categories []categoryView
}

type weeklyView struct {
	Name             string
	ShortName        string
	Description      string
	Schedule         string
	Link             string
	RegistrationLink string
}

type pageView struct {
	Options
	DateRange *model.DateRange
	Sources   []sourceView
	Weekly    []weeklyView
}

// Render produces the newsletter for doc. Sources keep document order and
// weekly series follow them in their own section.
func Render(doc *model.CategorizedFile, opts Options) ([]byte, error) {
	if doc == nil {
		return nil, errors.New("newsletter: no categorized events")
	}
	v := pageView{Options: opts, DateRange: doc.DateRange}
	for _, src := range doc.Sources {
		sv := sourceView{Tag: src.Tag, Label: opts.Labels[src.Tag]}
		for _, c := range src.Categories {
			if len(c.Events) == 0 {
				continue
			}
			cv := categoryView{Name: c.Name, Description: c.Description}
			for _, ev := range c.Events {
				cv.Events = append(cv.Events, viewEvent(ev, opts.CalendarIcon))
			}
			sv.Categories = append(sv.Categories, cv)
		}
		v.Sources = append(v.Sources, sv)
	}
	for _, g := range doc.Weekly {
		v.Weekly = append(v.Weekly, weeklyView{
			Name:             g.Name,
			ShortName:        clip(g.Name, linkNameLimit),
			Description:      g.Description,
			Schedule:         g.Schedule,
			Link:             strings.TrimSpace(g.Link),
			RegistrationLink: strings.TrimSpace(g.RegistrationLink.Value),
		})
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("newsletter: render: %w", err)
	}
	return buf.Bytes(), nil
}

func viewEvent(ev model.Event, icon string) eventView {
	return eventView{
		Name:             ev.Name,
		ShortName:        clip(ev.Name, linkNameLimit),
		Link:             strings.TrimSpace(ev.Link),
		RegistrationLink: strings.TrimSpace(ev.RegistrationLink.Value),
		Date:             ev.Date,
		Weekday:          weekday(ev.Date),
		Icon:             icon,
		Time:             ev.Time,
		Location:         ev.Location,
		Facilitators:     strings.TrimSpace(ev.Facilitators.Value),
		Description:      clip(strings.TrimSpace(ev.Description.Value), descriptionLimit),
	}
}

// weekday returns the part of a listing date before its first comma,
// "Tuesday" for "Tuesday, June 10, 2025".
func weekday(date string) string {
	before, _, _ := strings.Cut(date, ",")
	return strings.TrimSpace(before)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + ellipsis
}

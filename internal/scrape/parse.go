package scrape

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"eventletter/internal/model"
)

// Selectors for Localist calendar pages.
const (
	listingEventSelector = ".lw_cal_event"
	listingTitleSelector = "h4 a"
	listingWhenSelector  = ".date-time"
	listingWhereSelector = ".map-marker"

	detailJoinSelector  = ".lw_join_online"
	detailIntroSelector = ".intro"
	detailDescSelector  = ".lw_calendar_event_description"

	// dateTimeSeparator splits "Tuesday, June 10, 2025 · 10am - 11am".
	dateTimeSeparator = "·"
)

// ParseListing extracts the events of a calendar listing page. Relative
// links are resolved against base. Entries without a title are skipped.
// Optional fields start present-but-empty, meaning not yet filled in.
func ParseListing(html, base string) ([]model.Event, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	baseURL, _ := url.Parse(base)

	var events []model.Event
	doc.Find(listingEventSelector).Each(func(_ int, s *goquery.Selection) {
		title := s.Find(listingTitleSelector).First()
		name := collapseSpace(title.Text())
		if name == "" {
			return
		}
		href, _ := title.Attr("href")

		date, tm := splitDateTime(collapseSpace(s.Find(listingWhenSelector).First().Text()))
		events = append(events, model.Event{
			Name:             name,
			Link:             resolve(baseURL, href),
			Date:             date,
			Time:             tm,
			Location:         collapseSpace(s.Find(listingWhereSelector).First().Text()),
			Facilitators:     model.Some(""),
			RegistrationLink: model.Some(""),
			Description:      model.Some(""),
		})
	})
	return events, nil
}

func splitDateTime(s string) (string, string) {
	date, tm, found := strings.Cut(s, dateTimeSeparator)
	if !found {
		return s, ""
	}
	return strings.TrimSpace(date), strings.TrimSpace(tm)
}

var (
	introFacilitatorsRe = regexp.MustCompile(`(?s)Facilitators?:\s*(.*?)(?:\s*Description:|$)`)
	introDescriptionRe  = regexp.MustCompile(`(?s)Description:\s*(.*)$`)
	bodyFacilitatorRes  = []*regexp.Regexp{
		regexp.MustCompile(`(?s)Facilitators?:\s*(.*?)(?:\n|Description:)`),
		regexp.MustCompile(`(?s)Presenters?:\s*(.*?)(?:\n|Description:)`),
		regexp.MustCompile(`(?s)Instructors?:\s*(.*?)(?:\n|Description:)`),
	}
)

// ParseDetail fills registration link, facilitators and description of ev
// from its event page. Fields already holding text are not overwritten.
func ParseDetail(html string, ev *model.Event) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse detail: %w", err)
	}
	baseURL, _ := url.Parse(ev.Link)

	if href, ok := doc.Find(detailJoinSelector).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		ev.RegistrationLink = model.Some(resolve(baseURL, href))
	}

	if intro := blockText(doc.Find(detailIntroSelector).First()); intro != "" {
		if m := introFacilitatorsRe.FindStringSubmatch(intro); m != nil && !hasText(ev.Facilitators) {
			ev.Facilitators = model.Some(strings.TrimSpace(m[1]))
		}
		if m := introDescriptionRe.FindStringSubmatch(intro); m != nil && !hasText(ev.Description) {
			ev.Description = model.Some(strings.TrimSpace(m[1]))
		}
	}

	if !hasText(ev.Description) {
		if d := blockText(doc.Find(detailDescSelector).First()); d != "" {
			ev.Description = model.Some(d)
		}
	}

	if !hasText(ev.Facilitators) {
		body := doc.Find("body").First().Clone()
		body.Find("script, style, nav, header, footer").Remove()
		page := blockText(body)
		for _, re := range bodyFacilitatorRes {
			if m := re.FindStringSubmatch(page); m != nil {
				if f := strings.TrimSpace(m[1]); f != "" {
					ev.Facilitators = model.Some(f)
					break
				}
			}
		}
	}
	return nil
}

func hasText(o model.OptString) bool {
	return o.Set && strings.TrimSpace(o.Value) != ""
}

// blockText renders a selection's text with line breaks at <br> and block
// boundaries, one trimmed non-empty line per block.
func blockText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	s = s.Clone()
	s.Find("br").ReplaceWithHtml("\n")
	s.Find("p, div, li, h1, h2, h3, h4, h5, h6, tr").AppendHtml("\n")

	var lines []string
	for line := range strings.SplitSeq(s.Text(), "\n") {
		if line = collapseSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

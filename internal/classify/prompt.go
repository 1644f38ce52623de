package classify

import (
	"fmt"
	"strings"

	"eventletter/internal/model"
)

// DescriptionCap is how much of an event description the prompt carries.
const DescriptionCap = 200

const promptTemplate = `You are an experienced academic event organizer. Group the %[1]s events below into named series for a newsletter.

RULES:
1. Group events only when their titles show an explicit series pattern, such as "Series Name: Session X", "Series Name (Part 2)" or "Series Name (May 2025)". Use the base series name without the session, part or date. Do not group by topic similarity.
2. If an event clearly continues a series listed in the history below, reuse that exact category name.
3. Use between 1 and %[2]d categories.
4. Assign every event index from 0 to %[3]d to exactly one category.
5. Put every event that does not belong to an explicit series in "%[4]s".

HISTORY:
%[5]s

EVENTS:
%[6]s

Respond with a JSON object of this form and nothing else:
{
  "categories": [
    {"category_name": "Workshop Series", "description": ""},
    {"category_name": "%[4]s", "description": ""}
  ],
  "event_assignments": {
    "0": "Workshop Series",
    "1": "%[4]s"
  }
}`

// BuildPrompt renders the classification prompt for one source.
func BuildPrompt(events []model.Event, sourceLabel, historyText, catchAll string, maxCategories int) string {
	var b strings.Builder
	for i, ev := range events {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Event %d:\nName: %s\nDate: %s\nDescription: %s\n",
			i, ev.Name, ev.Date, Truncate(ev.Description.Value, DescriptionCap))
	}
	return fmt.Sprintf(promptTemplate,
		sourceLabel, maxCategories, len(events)-1, catchAll,
		strings.TrimSpace(historyText), strings.TrimRight(b.String(), "\n"))
}

// Truncate caps s at n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

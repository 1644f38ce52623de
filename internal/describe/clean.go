package describe

import "strings"

// preambles are lead-ins models tend to put before the text we asked for.
var preambles = []string{
	"here's the description:",
	"here is the description:",
	"here's a description:",
	"here is a description:",
	"here's the shortened description:",
	"here is the shortened description:",
	"here's a shortened description:",
	"here is a shortened description:",
	"shortened description:",
	"description:",
	"summary:",
}

var quotePairs = [][2]string{
	{`"`, `"`},
	{`'`, `'`},
	{"“", "”"},
}

// Clean trims a generated response, removes one layer of wrapping quotes
// and drops a known preamble.
func Clean(s string) string {
	s = stripQuotes(strings.TrimSpace(s))
	if rest, ok := stripPreamble(s); ok {
		s = stripQuotes(strings.TrimSpace(rest))
	}
	return strings.TrimSpace(s)
}

func stripQuotes(s string) string {
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return s[len(q[0]) : len(s)-len(q[1])]
		}
	}
	return s
}

func stripPreamble(s string) (string, bool) {
	for _, p := range preambles {
		if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			return s[len(p):], true
		}
	}
	return s, false
}

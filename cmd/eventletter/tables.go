package main

import (
	"io"
	"maps"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"

	"eventletter/internal/categorize"
	"eventletter/internal/validate"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// printIssues lists critical and warning issues, and info ones when all is set.
func printIssues(w io.Writer, r validate.Report, all bool) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Severity", "Type", "Location", "Message"})
	n := 0
	for _, is := range r.Issues {
		if is.Severity == validate.Info && !all {
			continue
		}
		t.AppendRow(table.Row{is.Severity, is.Type, is.Location, is.Message})
		n++
	}
	if n > 0 {
		t.Render()
	}
}

func printSummary(w io.Writer, s validate.Summary) {
	t := newTable(w)
	t.SetTitle("Validation")
	t.AppendHeader(table.Row{"Critical", "Warning", "Info", "Total"})
	t.AppendRow(table.Row{s.Critical, s.Warning, s.Info, s.Total})
	t.Render()

	if len(s.ByType) == 0 {
		return
	}
	bt := newTable(w)
	bt.AppendHeader(table.Row{"Issue type", "Count"})
	for _, k := range slices.Sorted(maps.Keys(s.ByType)) {
		bt.AppendRow(table.Row{k, s.ByType[k]})
	}
	bt.Render()
}

func printResult(w io.Writer, res *categorize.Result) {
	s := res.Stats
	t := newTable(w)
	t.SetTitle("Run " + res.RunID)
	t.AppendHeader(table.Row{"Events", "Dropped", "Categories", "Weekly", "Cached", "Generated", "Fallback", "Shortened"})
	t.AppendRow(table.Row{
		s.Events,
		s.DroppedEvents,
		s.Categories,
		s.WeeklySeries,
		s.CachedDescriptions,
		s.GeneratedDescriptions,
		s.FallbackDescriptions,
		s.ShortenedDescriptions,
	})
	t.Render()

	if len(res.Warnings) == 0 {
		return
	}
	wt := newTable(w)
	wt.AppendHeader(table.Row{"Warnings"})
	for _, msg := range res.Warnings {
		wt.AppendRow(table.Row{msg})
	}
	wt.Render()
}

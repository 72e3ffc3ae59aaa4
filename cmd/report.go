package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/sitescraper/internal/pipeline"
	"github.com/JakeFAU/sitescraper/internal/sink"
)

func renderStats(w io.Writer, mode string, s pipeline.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(mode + " run")
	t.AppendHeader(table.Row{"Counter", "Value"})
	t.AppendRows([]table.Row{
		{"keys / items", s.Total},
		{"already processed", s.Skipped},
		{"appended", s.Appended},
		{"not found", s.NotFound},
		{"failed", s.Failed},
		{"duplicate", s.Duplicate},
	})
	if mode == modeCatalog {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"pages fetched", s.Crawl.NodesFetched},
			{"pages failed", s.Crawl.NodesFailed},
			{"pages empty", s.Crawl.NodesEmpty},
			{"pages skipped", s.Crawl.NodesSkipped},
			{"retries", s.Crawl.Retries},
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func renderSummary(w io.Writer, path string, s sink.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(path)
	t.AppendRows([]table.Row{
		{"rows", s.Rows},
		{"unique keys", s.UniqueKeys},
		{"duplicate keys", s.DuplicateKeys},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()

	fill := table.NewWriter()
	fill.SetOutputMirror(w)
	fill.AppendHeader(table.Row{"Column", "Filled", "Ratio"})
	for _, c := range s.Fill {
		fill.AppendRow(table.Row{c.Column, c.Filled, fmt.Sprintf("%.1f%%", c.Ratio*100)})
	}
	fill.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	fill.SetStyle(table.StyleRounded)
	fill.Render()

	if len(s.LastKeys) > 0 {
		fmt.Fprintln(w, "last keys:")
		for _, k := range s.LastKeys {
			fmt.Fprintln(w, "  "+k)
		}
	}
}

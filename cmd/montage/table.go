package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column is one column of a report table. Numeric columns are right
// aligned. Cells longer than maxWidth are trimmed when maxWidth is set.
type column struct {
	title    string
	numeric  bool
	maxWidth int
}

// mediaWidth keeps media URIs from stretching the resolution report.
const mediaWidth = 60

// renderTable lays rows out under columns. Short rows are padded and extra
// cells dropped. A non-empty footer is printed below the rows as given.
func renderTable(columns []column, rows [][]string, footer ...string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault

	configs := make([]table.ColumnConfig, len(columns))
	header := make(table.Row, len(columns))
	for i, c := range columns {
		header[i] = c.title
		configs[i] = table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft}
		if c.numeric {
			configs[i].Align = text.AlignRight
			configs[i].AlignFooter = text.AlignRight
		}
		if c.maxWidth > 0 {
			configs[i].WidthMax = c.maxWidth
			configs[i].WidthMaxEnforcer = text.Trim
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		tw.AppendRow(cells(row, len(columns)))
	}
	if len(footer) > 0 {
		tw.AppendFooter(cells(footer, len(columns)))
	}
	return tw.Render()
}

func cells(values []string, n int) table.Row {
	r := make(table.Row, n)
	for i := range r {
		if i < len(values) {
			r[i] = values[i]
		} else {
			r[i] = ""
		}
	}
	return r
}

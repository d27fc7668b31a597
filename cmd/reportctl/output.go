package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/iota-uz/reportgrid/pkg/grid"
)

func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return withCode(exitWrite, fmt.Errorf("json encode: %w", err))
	}
	return nil
}

// writeTable prints the visible columns of rows, one row per line.
func writeTable(w io.Writer, columns []grid.ColumnSpec, rows []grid.Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	titles := make([]string, len(columns))
	for i, c := range columns {
		titles[i] = c.Title
		if titles[i] == "" {
			titles[i] = c.Field
		}
	}
	if _, err := fmt.Fprintln(tw, strings.Join(titles, "\t")); err != nil {
		return withCode(exitWrite, err)
	}
	cells := make([]string, len(columns))
	for _, row := range rows {
		for i, c := range columns {
			cells[i] = row.Text(c.Field)
		}
		if _, err := fmt.Fprintln(tw, strings.Join(cells, "\t")); err != nil {
			return withCode(exitWrite, err)
		}
	}
	if err := tw.Flush(); err != nil {
		return withCode(exitWrite, err)
	}
	return nil
}

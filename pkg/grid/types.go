// Package grid defines the column/row model shared by report screens and the
// narrow adapter contract every grid engine implements.
package grid

import (
	"fmt"
	"strconv"
)

const (
	// FieldSeq is the controller-assigned, 1-based row identity.
	FieldSeq = "seq"
	// FieldID mirrors FieldSeq for screens that key rows independently of
	// their visual position.
	FieldID = "ID"
)

// Formatter renders a cell value for display and export.
type Formatter func(value any, row Row) string

// ColumnSpec describes one grid column.
type ColumnSpec struct {
	Field    string    `json:"field" yaml:"field"`
	Title    string    `json:"title" yaml:"title"`
	Sortable bool      `json:"sortable" yaml:"sortable"`
	Visible  bool      `json:"visible" yaml:"visible"`
	Width    int       `json:"width,omitempty" yaml:"width"`
	Format   Formatter `json:"-" yaml:"-"`
	OnClick  func(Row) `json:"-" yaml:"-"`
}

// Row is an open field mapping plus the seq identity.
type Row map[string]any

// Seq returns the row identity or 0 when the row was never tagged.
func (r Row) Seq() int {
	switch v := r[FieldSeq].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Clone returns a shallow copy.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Text stringifies the value stored at field; nil and missing values are "".
func (r Row) Text(field string) string {
	return Stringify(r[field])
}

func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// FilterState is the search-box state of one screen.
type FilterState struct {
	SelectedField string `json:"selectedField" form:"selectedField"`
	Text          string `json:"text" form:"text"`
}

type Status int

const (
	StatusInitializing Status = iota
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "initializing":
		*s = StatusInitializing
	case "ready":
		*s = StatusReady
	case "error":
		*s = StatusError
	default:
		return fmt.Errorf("grid: unknown status %q", text)
	}
	return nil
}

// AlertKind classifies an inline message shown over the grid.
type AlertKind string

const (
	AlertInfo  AlertKind = "info"
	AlertError AlertKind = "error"
)

// Options configures widget construction.
type Options struct {
	Layout      string
	Placeholder string
	Index       string
}

// Columns returns a copy of cols followed by extra.
func Columns(cols []ColumnSpec, extra ...ColumnSpec) []ColumnSpec {
	out := make([]ColumnSpec, 0, len(cols)+len(extra))
	out = append(out, cols...)
	return append(out, extra...)
}

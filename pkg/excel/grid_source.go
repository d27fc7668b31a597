package excel

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/reportgrid/pkg/grid"
)

const (
	FormatInt        = "#,##0"
	FormatOneDecimal = "#,##0.0"
	FormatTwoDecimal = "#,##0.00"
)

// NumberGroups lists the fields rounded to 0, 1 and 2 decimal places.
type NumberGroups struct {
	Int        []string `json:"intColumns,omitempty" yaml:"intColumns"`
	OneDecimal []string `json:"oneDecimalColumns,omitempty" yaml:"oneDecimalColumns"`
	TwoDecimal []string `json:"twoDecimalColumns,omitempty" yaml:"twoDecimalColumns"`
}

func (g NumberGroups) places(field string) (int32, bool) {
	for _, f := range g.Int {
		if f == field {
			return 0, true
		}
	}
	for _, f := range g.OneDecimal {
		if f == field {
			return 1, true
		}
	}
	for _, f := range g.TwoDecimal {
		if f == field {
			return 2, true
		}
	}
	return 0, false
}

// GridDataSource exports the rows of a grid snapshot: the visible columns in
// display order followed by the explicitly included hidden ones.
type GridDataSource struct {
	sheetName string
	columns   []grid.ColumnSpec
	rows      []grid.Row
	numbers   NumberGroups
}

func NewGridDataSource(snap grid.Snapshot, numbers NumberGroups, includeHidden ...string) *GridDataSource {
	cols := grid.Columns(snap.Columns)
	for _, field := range includeHidden {
		for _, c := range snap.AllColumns {
			if c.Field == field && !c.Visible {
				cols = append(cols, c)
			}
		}
	}
	return &GridDataSource{
		sheetName: "Sheet1",
		columns:   cols,
		rows:      snap.Rows,
		numbers:   numbers,
	}
}

func (s *GridDataSource) WithSheetName(name string) *GridDataSource {
	s.sheetName = strings.TrimSuffix(name, ".xlsx")
	return s
}

func (s *GridDataSource) GetSheetName() string {
	return s.sheetName
}

func (s *GridDataSource) GetHeaders(context.Context) ([]string, error) {
	headers := make([]string, len(s.columns))
	for i, c := range s.columns {
		headers[i] = c.Title
		if headers[i] == "" {
			headers[i] = c.Field
		}
	}
	return headers, nil
}

func (s *GridDataSource) GetRows(context.Context) (func() ([]any, error), error) {
	i := 0
	return func() ([]any, error) {
		if i >= len(s.rows) {
			return nil, nil
		}
		row := s.rows[i]
		i++
		values := make([]any, len(s.columns))
		for j, c := range s.columns {
			values[j] = s.cell(c, row)
		}
		return values, nil
	}, nil
}

func (s *GridDataSource) ColumnFormats() []string {
	formats := make([]string, len(s.columns))
	for i, c := range s.columns {
		places, ok := s.numbers.places(c.Field)
		if !ok {
			continue
		}
		switch places {
		case 0:
			formats[i] = FormatInt
		case 1:
			formats[i] = FormatOneDecimal
		default:
			formats[i] = FormatTwoDecimal
		}
	}
	return formats
}

func (s *GridDataSource) cell(c grid.ColumnSpec, row grid.Row) any {
	v := row[c.Field]
	if places, ok := s.numbers.places(c.Field); ok {
		if n, ok := Round(v, places); ok {
			return n
		}
	}
	if c.Format != nil {
		return c.Format(v, row)
	}
	if v == nil {
		return ""
	}
	return grid.Stringify(v)
}

// Round converts v to a number rounded half away from zero. Values that are
// not numeric report false. Integers are returned as int64.
func Round(v any, places int32) (any, bool) {
	var d decimal.Decimal
	switch t := v.(type) {
	case nil:
		return nil, false
	case int:
		d = decimal.NewFromInt(int64(t))
	case int64:
		d = decimal.NewFromInt(t)
	case float64:
		d = decimal.NewFromFloat(t)
	default:
		text := strings.ReplaceAll(strings.TrimSpace(grid.Stringify(v)), ",", "")
		if text == "" {
			return nil, false
		}
		var err error
		d, err = decimal.NewFromString(text)
		if err != nil {
			return nil, false
		}
	}
	d = d.Round(places)
	if places == 0 {
		return d.IntPart(), true
	}
	return d.InexactFloat64(), true
}

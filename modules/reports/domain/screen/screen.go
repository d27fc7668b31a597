// Package screen describes report screens and their popups: which endpoint
// they search, how parameters are named on the wire, which columns the grid
// shows and which of them the search box, editor and exporter work on.
package screen

import (
	"github.com/iota-uz/reportgrid/pkg/excel"
	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/reportapi"
)

type Column struct {
	Field    string `yaml:"field" json:"field" validate:"required"`
	Title    string `yaml:"title" json:"title"`
	Sortable bool   `yaml:"sortable" json:"sortable"`
	Hidden   bool   `yaml:"hidden" json:"hidden"`
	Width    int    `yaml:"width" json:"width,omitempty" validate:"gte=0"`
}

// Editable is an inline-editable field and the checks run before a patch is
// applied.
type Editable struct {
	Field     string `yaml:"field" json:"field" validate:"required"`
	Label     string `yaml:"label" json:"label"`
	Required  bool   `yaml:"required" json:"required"`
	MaxLength int    `yaml:"maxLength" json:"maxLength,omitempty" validate:"gte=0"`
}

type Export struct {
	Filename           string `yaml:"filename" json:"filename"`
	excel.NumberGroups `yaml:",inline" json:",inline"`
	// IncludeHidden lists hidden columns that are still exported.
	IncludeHidden []string `yaml:"includeHidden" json:"includeHidden,omitempty"`
}

// Popup opens Screen as a child of the selected row. Params maps a child
// search parameter to the parent row field it is read from; Confirm maps a
// parent row field to the child row field copied into it on confirm.
type Popup struct {
	Key     string            `yaml:"key" json:"key" validate:"required"`
	Screen  string            `yaml:"screen" json:"screen" validate:"required"`
	Params  map[string]string `yaml:"params" json:"params,omitempty"`
	Confirm map[string]string `yaml:"confirm" json:"confirm,omitempty"`
}

type Screen struct {
	Key                  string              `yaml:"key" json:"key" validate:"required"`
	Title                string              `yaml:"title" json:"title"`
	Endpoint             string              `yaml:"endpoint" json:"endpoint" validate:"required"`
	ParamPrefix          string              `yaml:"paramPrefix" json:"paramPrefix,omitempty"`
	ParamRenames         map[string]string   `yaml:"paramRenames" json:"paramRenames,omitempty"`
	Defaults             map[string]any      `yaml:"defaults" json:"defaults,omitempty"`
	DefaultFilterColumns []string            `yaml:"defaultFilterColumns" json:"defaultFilterColumns"`
	Columns              []Column            `yaml:"columns" json:"columns" validate:"required,min=1,dive"`
	Identity             bool                `yaml:"identity" json:"identity"`
	Manifest             *reportapi.Manifest `yaml:"manifest" json:"manifest,omitempty"`
	Editable             []Editable          `yaml:"editable" json:"editable,omitempty" validate:"dive"`
	Export               Export              `yaml:"export" json:"export"`
	Popups               []Popup             `yaml:"popups" json:"popups,omitempty" validate:"dive"`
}

// GridColumns converts the column declarations into the grid model.
func (s *Screen) GridColumns() []grid.ColumnSpec {
	cols := make([]grid.ColumnSpec, len(s.Columns))
	for i, c := range s.Columns {
		title := c.Title
		if title == "" {
			title = c.Field
		}
		cols[i] = grid.ColumnSpec{
			Field:    c.Field,
			Title:    title,
			Sortable: c.Sortable,
			Visible:  !c.Hidden,
			Width:    c.Width,
		}
	}
	return cols
}

func (s *Screen) Convention() reportapi.Convention {
	return reportapi.Convention{Prefix: s.ParamPrefix, Renames: s.ParamRenames}
}

// Request builds the search request for params layered over the screen
// defaults.
func (s *Screen) Request(params reportapi.Params) reportapi.Request {
	return reportapi.Request{
		Endpoint:   s.Endpoint,
		Convention: s.Convention(),
		Params:     reportapi.Params(s.Defaults).Merge(params),
		Identity:   s.Identity,
	}
}

// visibleFields lists the columns shown when the grid is first built.
func (s *Screen) visibleFields() []string {
	fields := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		if !c.Hidden {
			fields = append(fields, c.Field)
		}
	}
	return fields
}

func (s *Screen) HasColumn(field string) bool {
	for _, c := range s.Columns {
		if c.Field == field {
			return true
		}
	}
	return false
}

func (s *Screen) Popup(key string) (Popup, bool) {
	for _, p := range s.Popups {
		if p.Key == key {
			return p, true
		}
	}
	return Popup{}, false
}

func (s *Screen) EditableField(field string) (Editable, bool) {
	for _, e := range s.Editable {
		if e.Field == field {
			return e, true
		}
	}
	return Editable{}, false
}

// ExportFilename falls back to "<key>.xlsx".
func (s *Screen) ExportFilename() string {
	if s.Export.Filename != "" {
		return s.Export.Filename
	}
	return s.Key + ".xlsx"
}

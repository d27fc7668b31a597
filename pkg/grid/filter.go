package grid

import (
	"strings"

	"golang.org/x/text/cases"
)

type DirectiveKind int

const (
	DirectiveClear DirectiveKind = iota
	DirectiveSingle
	DirectiveAnyOf
)

// OpLike is a case-insensitive substring match.
const OpLike = "like"

type Predicate struct {
	Field string `json:"field"`
	Op    string `json:"type"`
	Value string `json:"value"`
}

// Directive is what a grid engine receives from SetFilter. AnyOf directives
// are satisfied when at least one predicate matches.
type Directive struct {
	Kind       DirectiveKind
	Predicates []Predicate
}

// Compile turns the search-box state into a filter directive. Empty text
// always clears, whatever field is selected. Text is matched as typed, so
// spaces are part of the needle. With no default columns an unselected
// search matches no row.
func Compile(state FilterState, defaultColumns []string) Directive {
	text := state.Text
	if text == "" {
		return Directive{Kind: DirectiveClear}
	}
	field := state.SelectedField
	if field != "" {
		return Directive{
			Kind:       DirectiveSingle,
			Predicates: []Predicate{{Field: field, Op: OpLike, Value: text}},
		}
	}
	preds := make([]Predicate, 0, len(defaultColumns))
	for _, col := range defaultColumns {
		preds = append(preds, Predicate{Field: col, Op: OpLike, Value: text})
	}
	return Directive{Kind: DirectiveAnyOf, Predicates: preds}
}

func (d Directive) IsClear() bool {
	return d.Kind == DirectiveClear
}

// Match reports whether row passes the directive.
func (d Directive) Match(row Row) bool {
	switch d.Kind {
	case DirectiveClear:
		return true
	case DirectiveSingle:
		return len(d.Predicates) > 0 && d.Predicates[0].Match(row)
	case DirectiveAnyOf:
		for _, p := range d.Predicates {
			if p.Match(row) {
				return true
			}
		}
	}
	return false
}

func (p Predicate) Match(row Row) bool {
	if p.Op != OpLike {
		return false
	}
	return Like(row.Text(p.Field), p.Value)
}

// Like reports whether needle occurs in haystack ignoring case.
func Like(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	folder := cases.Fold()
	return strings.Contains(folder.String(haystack), folder.String(needle))
}

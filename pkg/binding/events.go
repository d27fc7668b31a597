package binding

import (
	"github.com/iota-uz/reportgrid/pkg/grid"
)

type EventKind string

const (
	EventStatus       EventKind = "status"
	EventRowCount     EventKind = "row_count"
	EventAlert        EventKind = "alert"
	EventSearchFailed EventKind = "search_failed"
	EventRowUpdated   EventKind = "row_updated"
)

// Event is emitted after the controller lock is released, in the order the
// state changes happened.
type Event struct {
	Kind     EventKind   `json:"kind"`
	Grid     string      `json:"grid"`
	Status   grid.Status `json:"status"`
	RowCount int         `json:"rowCount"`
	Seq      int         `json:"seq,omitempty"`
	Message  string      `json:"message,omitempty"`
}

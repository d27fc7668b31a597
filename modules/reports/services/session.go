package services

import (
	"sync"
	"time"

	"github.com/iota-uz/reportgrid/modules/reports/domain/screen"
	"github.com/iota-uz/reportgrid/pkg/binding"
	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/reportapi"
)

// ConfirmFunc receives the rows a popup was confirmed with.
type ConfirmFunc func(rows []grid.Row) (grid.Row, error)

// Session is one mounted screen or popup and the grid it owns.
type Session struct {
	ID        string
	Screen    *screen.Screen
	ParentID  string
	ParentSeq int
	PopupKey  string
	// Params are merged under every search of the session.
	Params reportapi.Params

	controller *binding.Controller
	container  *grid.StaticContainer

	mu        sync.Mutex
	lastUsed  time.Time
	children  map[string]struct{}
	confirmed bool
	onConfirm ConfirmFunc
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) addChild(id string) {
	s.mu.Lock()
	s.children[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) removeChild(id string) {
	s.mu.Lock()
	delete(s.children, id)
	s.mu.Unlock()
}

func (s *Session) childIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.children))
	for id := range s.children {
		ids = append(ids, id)
	}
	return ids
}

// claimConfirm reports whether this call is the first confirm.
func (s *Session) claimConfirm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.confirmed {
		return false
	}
	s.confirmed = true
	return true
}

func (s *Session) Controller() *binding.Controller {
	return s.controller
}

// SessionInfo is the externally visible state of a session.
type SessionInfo struct {
	ID        string            `json:"id"`
	Screen    string            `json:"screen"`
	Title     string            `json:"title"`
	ParentID  string            `json:"parentId,omitempty"`
	ParentSeq int               `json:"parentSeq,omitempty"`
	Popup     string            `json:"popup,omitempty"`
	Status    grid.Status       `json:"status"`
	Message   string            `json:"message,omitempty"`
	Columns   []grid.ColumnSpec `json:"columns"`
	Filter    grid.FilterState  `json:"filter"`
	RowCount  int               `json:"rowCount"`
	Params    reportapi.Params  `json:"params,omitempty"`
}

func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		ID:        s.ID,
		Screen:    s.Screen.Key,
		Title:     s.Screen.Title,
		ParentID:  s.ParentID,
		ParentSeq: s.ParentSeq,
		Popup:     s.PopupKey,
		Status:    s.controller.Status(),
		Columns:   s.controller.Columns(),
		Filter:    s.controller.Filter(),
		RowCount:  s.controller.RowCount(),
		Params:    s.Params,
		Message:   s.controller.Message(),
	}
	return info
}

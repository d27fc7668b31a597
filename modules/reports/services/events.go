package services

import (
	"github.com/iota-uz/reportgrid/pkg/binding"
)

// GridEvent is published for every binding event of a session.
type GridEvent struct {
	SessionID string        `json:"session"`
	Screen    string        `json:"screen"`
	Event     binding.Event `json:"event"`
}

// SessionClosed is published after a session was unmounted and removed.
type SessionClosed struct {
	SessionID string `json:"session"`
	Screen    string `json:"screen"`
	Reason    string `json:"reason"`
}

// PopupConfirmed is published once per popup, before it is closed.
type PopupConfirmed struct {
	PopupID   string `json:"popup"`
	ParentID  string `json:"parent"`
	ParentSeq int    `json:"parentSeq"`
	Rows      int    `json:"rows"`
}

const (
	CloseReasonUser    = "closed"
	CloseReasonParent  = "parent_closed"
	CloseReasonIdle    = "idle"
	CloseReasonConfirm = "confirmed"
)

// Channel is the websocket channel carrying the events of one session.
func Channel(sessionID string) string {
	return "grid/" + sessionID
}

package services

import (
	"github.com/iota-uz/reportgrid/pkg/serrors"
)

var (
	ErrSessionNotFound  = serrors.NewError("REPORTS_SESSION_NOT_FOUND", "grid session not found", "Reports.Errors.SessionNotFound")
	ErrTooManySessions  = serrors.NewError("REPORTS_TOO_MANY_SESSIONS", "too many open grids", "Reports.Errors.TooManySessions")
	ErrNotPopup         = serrors.NewError("REPORTS_NOT_POPUP", "grid is not a popup", "Reports.Errors.NotPopup")
	ErrAlreadyConfirmed = serrors.NewError("REPORTS_ALREADY_CONFIRMED", "popup was already confirmed", "Reports.Errors.AlreadyConfirmed")
	ErrNothingSelected  = serrors.NewError("REPORTS_NOTHING_SELECTED", "no rows selected", "Reports.Errors.NothingSelected")
	ErrFieldNotEditable = serrors.NewError("REPORTS_FIELD_NOT_EDITABLE", "field is not editable", "Reports.Errors.FieldNotEditable")
	ErrInvalidPatch     = serrors.NewError("REPORTS_INVALID_PATCH", "invalid row patch", "Reports.Errors.InvalidPatch")
)

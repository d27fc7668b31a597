package services

import (
	"context"

	"github.com/iota-uz/reportgrid/modules/reports/domain/screen"
	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/reportapi"
)

type OpenPopupRequest struct {
	Popup     string
	ParentSeq int
	WaitReady bool
}

// OpenPopup mounts the picker screen declared by the parent's popup, seeded
// with parameters taken from one parent row. Closing the parent closes the
// popup.
func (s *GridService) OpenPopup(ctx context.Context, parentID string, req OpenPopupRequest) (SessionInfo, error) {
	parent, err := s.session(parentID)
	if err != nil {
		return SessionInfo{}, err
	}
	def, ok := parent.Screen.Popup(req.Popup)
	if !ok {
		return SessionInfo{}, screen.ErrPopupNotFound.WithTemplateData(map[string]string{"Popup": req.Popup})
	}
	child, err := s.catalog.Get(def.Screen)
	if err != nil {
		return SessionInfo{}, err
	}
	row, ok := parent.controller.Row(req.ParentSeq)
	if !ok {
		return SessionInfo{}, grid.ErrRowNotFound
	}

	params := reportapi.Params{}
	for childParam, parentField := range def.Params {
		if v, ok := row[parentField]; ok {
			params[childParam] = v
		}
	}
	sess, err := s.mount(ctx, child, params, func(c *Session) {
		c.ParentID = parent.ID
		c.ParentSeq = req.ParentSeq
		c.PopupKey = def.Key
		c.onConfirm = confirmInto(parent, req.ParentSeq, def)
	}, "popup", req.WaitReady)
	if err != nil {
		return SessionInfo{}, err
	}
	parent.addChild(sess.ID)
	return sess.Info(), nil
}

// confirmInto copies the mapped fields of the first confirmed row onto the
// parent row the popup was opened from. Fields the confirmed row lacks are
// left alone, and the merged parent row must pass the same editable field
// rules as an inline edit.
func confirmInto(parent *Session, seq int, def screen.Popup) ConfirmFunc {
	return func(rows []grid.Row) (grid.Row, error) {
		if len(def.Confirm) == 0 || len(rows) == 0 {
			return nil, nil
		}
		patch := make(grid.Row, len(def.Confirm))
		for parentField, childField := range def.Confirm {
			if v, ok := rows[0][childField]; ok && v != nil {
				patch[parentField] = v
			}
		}
		if len(patch) == 0 {
			return nil, nil
		}
		current, ok := parent.controller.Row(seq)
		if !ok {
			return nil, grid.ErrRowNotFound
		}
		merged := current.Clone()
		for k, v := range patch {
			merged[k] = v
		}
		if err := validateRow(parent.Screen, merged); err != nil {
			return nil, err
		}
		if err := parent.controller.UpdateRow(seq, patch); err != nil {
			return nil, err
		}
		row, _ := parent.controller.Row(seq)
		return row, nil
	}
}

type ConfirmResult struct {
	ParentID  string   `json:"parentId"`
	ParentSeq int      `json:"parentSeq"`
	Rows      int      `json:"rows"`
	ParentRow grid.Row `json:"parentRow,omitempty"`
}

// Confirm hands the selected popup rows to the parent and closes the popup.
// A popup can be confirmed once.
func (s *GridService) Confirm(ctx context.Context, popupID string, seqs []int) (ConfirmResult, error) {
	sess, err := s.session(popupID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if sess.ParentID == "" {
		return ConfirmResult{}, ErrNotPopup
	}
	if len(seqs) == 0 {
		return ConfirmResult{}, ErrNothingSelected
	}
	rows := make([]grid.Row, 0, len(seqs))
	for _, seq := range seqs {
		row, ok := sess.controller.Row(seq)
		if !ok {
			return ConfirmResult{}, grid.ErrRowNotFound
		}
		rows = append(rows, row)
	}
	if !sess.claimConfirm() {
		return ConfirmResult{}, ErrAlreadyConfirmed
	}

	result := ConfirmResult{ParentID: sess.ParentID, ParentSeq: sess.ParentSeq, Rows: len(rows)}
	var confirmErr error
	if sess.onConfirm != nil {
		result.ParentRow, confirmErr = sess.onConfirm(rows)
	}
	if confirmErr != nil {
		s.log(ctx).WithError(confirmErr).WithField("session", popupID).Warn("reports: popup confirm not applied")
	} else {
		s.publisher.Publish(&PopupConfirmed{
			PopupID:   popupID,
			ParentID:  sess.ParentID,
			ParentSeq: sess.ParentSeq,
			Rows:      len(rows),
		})
	}
	if err := s.close(popupID, CloseReasonConfirm); err != nil {
		s.log(ctx).WithError(err).WithField("session", popupID).Warn("reports: close popup failed")
	}
	return result, confirmErr
}

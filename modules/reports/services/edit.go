package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"

	"github.com/iota-uz/reportgrid/modules/reports/domain/screen"
	"github.com/iota-uz/reportgrid/pkg/constants"
	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/serrors"
)

// UpdateRow applies a JSON merge patch to one row of a ready grid. Only
// fields the screen declares editable may appear in the patch, and the
// patched row must pass the editable field rules before the grid changes.
func (s *GridService) UpdateRow(ctx context.Context, id string, seq int, mergePatch []byte) (grid.Row, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sc := sess.Screen

	var fields map[string]any
	if err := json.Unmarshal(mergePatch, &fields); err != nil || len(fields) == 0 {
		return nil, ErrInvalidPatch
	}
	for field := range fields {
		if _, ok := sc.EditableField(field); !ok {
			rowEditsTotal.WithLabelValues(sc.Key, "rejected").Inc()
			return nil, ErrFieldNotEditable.WithTemplateData(map[string]string{"Field": field})
		}
	}

	current, ok := sess.controller.Row(seq)
	if !ok {
		return nil, grid.ErrRowNotFound
	}
	original, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(original, mergePatch)
	if err != nil {
		return nil, ErrInvalidPatch
	}
	var next grid.Row
	if err := json.Unmarshal(merged, &next); err != nil {
		return nil, ErrInvalidPatch
	}
	if err := validateRow(sc, next); err != nil {
		rowEditsTotal.WithLabelValues(sc.Key, "invalid").Inc()
		return nil, err
	}

	patch := make(grid.Row, len(fields))
	for field := range fields {
		patch[field] = next[field]
	}
	if err := sess.controller.UpdateRow(seq, patch); err != nil {
		return nil, err
	}
	rowEditsTotal.WithLabelValues(sc.Key, "ok").Inc()

	if diff, err := jsondiff.CompareJSON(original, merged); err == nil && len(diff) > 0 {
		s.log(ctx).WithFields(logrus.Fields{
			"session": id,
			"screen":  sc.Key,
			"seq":     seq,
			"diff":    diff.String(),
		}).Info("reports: row edited")
	}

	updated, _ := sess.controller.Row(seq)
	return updated, nil
}

// validateRow checks the editable fields in declaration order and returns
// the first failure.
func validateRow(sc *screen.Screen, row grid.Row) error {
	for _, e := range sc.Editable {
		label := e.Label
		if label == "" {
			label = e.Field
		}
		value := row.Text(e.Field)
		if e.Required {
			if err := constants.Validate.Var(value, "required"); err != nil {
				return serrors.ValidationError(e.Field, label, "required", "")
			}
		}
		if e.MaxLength > 0 {
			if err := constants.Validate.Var(value, fmt.Sprintf("max=%d", e.MaxLength)); err != nil {
				return serrors.ValidationError(e.Field, label, "max", strconv.Itoa(e.MaxLength))
			}
		}
	}
	return nil
}

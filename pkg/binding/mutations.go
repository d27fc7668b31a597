package binding

import (
	"context"

	"github.com/iota-uz/reportgrid/pkg/grid"
)

// Result is what a fetch hands back to the controller.
type Result struct {
	Rows []grid.Row
	// Dynamic, when non-nil, replaces the dynamic columns appended after the
	// base column set.
	Dynamic []grid.ColumnSpec
}

type FetchFunc func(ctx context.Context) (Result, error)

// Outcome describes how a search was applied.
type Outcome struct {
	RowCount  int    `json:"rowCount"`
	NoResults bool   `json:"noResults"`
	Discarded bool   `json:"discarded,omitempty"`
	Message   string `json:"message,omitempty"`
	Err       error  `json:"-"`
}

// Search runs fetch and applies its result. Responses that arrive after a
// newer search was issued, or after the grid was unmounted, are dropped
// without touching the widget. Fetch failures clear the rows and surface a
// message; they are reported through Outcome.Err rather than returned.
func (c *Controller) Search(ctx context.Context, fetch FetchFunc, userTriggered bool) Outcome {
	c.mu.Lock()
	c.token++
	token := c.token
	epoch := c.epoch
	c.mu.Unlock()

	res, err := fetch(ctx)

	c.mu.Lock()
	defer c.lockedFlush()

	if c.epoch != epoch {
		discardedTotal.WithLabelValues("unmounted").Inc()
		c.log().Debug("binding: search result discarded after unmount")
		return Outcome{Discarded: true, Err: err}
	}
	if c.token != token {
		discardedTotal.WithLabelValues("stale").Inc()
		c.log().WithField("token", token).Debug("binding: stale search result discarded")
		return Outcome{Discarded: true, Err: err}
	}

	if err != nil {
		msg := c.opts.ErrorMessage(err)
		c.lastRows = nil
		c.queued = append(c.queued, Event{Kind: EventSearchFailed, Grid: c.id, Message: msg})
		if c.ready() {
			c.applyRows(nil, false)
			c.showAlert(msg, grid.AlertError)
		} else {
			c.pending = &pendingRows{alert: msg}
			c.rowCount = 0
		}
		return Outcome{Message: msg, Err: err}
	}

	if res.Dynamic != nil {
		c.dynamicColumns = grid.Columns(res.Dynamic)
		if c.ready() {
			if err := c.adapter.SetColumns(c.handle, c.columns()); err != nil {
				c.log().WithError(err).Warn("binding: set columns failed")
			}
		}
	}
	c.replaceRows(res.Rows, userTriggered)
	return Outcome{
		RowCount:  c.rowCount,
		NoResults: userTriggered && len(res.Rows) == 0,
	}
}

// ReplaceRows swaps the whole row set. Before the widget is built the rows
// are kept and applied on the ready transition.
func (c *Controller) ReplaceRows(rows []grid.Row, userTriggered bool) {
	c.mu.Lock()
	defer c.lockedFlush()
	c.replaceRows(rows, userTriggered)
}

func (c *Controller) replaceRows(rows []grid.Row, userTriggered bool) {
	rows = cloneRows(rows)
	c.lastRows = rows
	if !c.ready() {
		c.pending = &pendingRows{rows: rows, userTriggered: userTriggered}
		c.rowCount = len(rows)
		return
	}
	c.applyRows(rows, userTriggered)
}

// applyRows pushes rows to a ready widget and refreshes derived state.
func (c *Controller) applyRows(rows []grid.Row, userTriggered bool) {
	if err := c.adapter.SetData(c.handle, rows); err != nil {
		c.log().WithError(err).Warn("binding: set data failed")
		return
	}
	c.refreshCount()
	if userTriggered && len(rows) == 0 {
		c.showAlert(c.opts.NoResultsMessage, grid.AlertInfo)
		return
	}
	if err := c.adapter.ClearAlert(c.handle); err != nil {
		c.log().WithError(err).Debug("binding: clear alert failed")
	}
}

func (c *Controller) refreshCount() {
	n, err := c.adapter.DataCount(c.handle)
	if err != nil {
		c.log().WithError(err).Debug("binding: data count failed")
		return
	}
	c.rowCount = n
	c.queued = append(c.queued, Event{Kind: EventRowCount, Grid: c.id, RowCount: n})
}

func (c *Controller) showAlert(msg string, kind grid.AlertKind) {
	if err := c.adapter.Alert(c.handle, msg, kind); err != nil {
		c.log().WithError(err).Debug("binding: alert failed")
		return
	}
	c.queued = append(c.queued, Event{Kind: EventAlert, Grid: c.id, Message: msg})
}

// SetFilter stores state and, once ready, applies the compiled directive.
func (c *Controller) SetFilter(state grid.FilterState) {
	c.mu.Lock()
	defer c.lockedFlush()
	c.filter = state
	if c.ready() {
		c.applyFilter()
		c.refreshCount()
	}
}

func (c *Controller) ClearFilter() {
	c.SetFilter(grid.FilterState{})
}

func (c *Controller) applyFilter() {
	d := grid.Compile(c.filter, c.opts.DefaultFilterColumns)
	var err error
	if d.IsClear() {
		err = c.adapter.ClearFilter(c.handle)
	} else {
		err = c.adapter.SetFilter(c.handle, d)
	}
	if err != nil {
		c.log().WithError(err).Warn("binding: apply filter failed")
	}
}

// SetColumns replaces the base column set; dynamic columns are kept.
func (c *Controller) SetColumns(cols []grid.ColumnSpec) error {
	c.mu.Lock()
	defer c.lockedFlush()
	c.baseColumns = grid.Columns(cols)
	if !c.ready() {
		return nil
	}
	return c.adapter.SetColumns(c.handle, c.columns())
}

// SetDynamicColumns replaces only the columns appended after the base set.
func (c *Controller) SetDynamicColumns(cols []grid.ColumnSpec) error {
	c.mu.Lock()
	defer c.lockedFlush()
	c.dynamicColumns = grid.Columns(cols)
	if !c.ready() {
		return nil
	}
	return c.adapter.SetColumns(c.handle, c.columns())
}

func (c *Controller) ShowColumn(field string) error {
	return c.setVisible(field, true)
}

func (c *Controller) HideColumn(field string) error {
	return c.setVisible(field, false)
}

func (c *Controller) setVisible(field string, visible bool) error {
	c.mu.Lock()
	defer c.lockedFlush()
	found := false
	for _, set := range [][]grid.ColumnSpec{c.baseColumns, c.dynamicColumns} {
		for i := range set {
			if set[i].Field == field {
				set[i].Visible = visible
				found = true
			}
		}
	}
	if !found {
		return grid.ErrColumnNotFound
	}
	if !c.ready() {
		return nil
	}
	if visible {
		return c.adapter.ShowColumn(c.handle, field)
	}
	return c.adapter.HideColumn(c.handle, field)
}

// UpdateRow patches one row in place. Nil values remove a field.
func (c *Controller) UpdateRow(seq int, patch grid.Row) error {
	c.mu.Lock()
	defer c.lockedFlush()
	if !c.ready() {
		return ErrNotReady
	}
	if err := c.adapter.UpdateRow(c.handle, seq, patch); err != nil {
		return err
	}
	for _, r := range c.lastRows {
		if r.Seq() != seq {
			continue
		}
		for k, v := range patch {
			if k == grid.FieldSeq {
				continue
			}
			if v == nil {
				delete(r, k)
				continue
			}
			r[k] = v
		}
		break
	}
	c.queued = append(c.queued, Event{Kind: EventRowUpdated, Grid: c.id, Seq: seq})
	c.refreshCount()
	return nil
}

func cloneRows(rows []grid.Row) []grid.Row {
	if rows == nil {
		return nil
	}
	out := make([]grid.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Package memgrid is the in-process grid engine behind report screens. It
// keeps rows, columns, filter and alert per widget and answers paging and
// export reads through Snapshot.
package memgrid

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/logging"
)

type Options struct {
	// BuildLatency delays the built signal after Create.
	BuildLatency time.Duration
	// FailBuild makes construction fail asynchronously; used by tests that
	// exercise the error path of the binding controller.
	FailBuild func(container grid.Container) error
	Logger    *logrus.Entry
}

type widget struct {
	container grid.Container
	columns   []grid.ColumnSpec
	rows      []grid.Row
	filter    grid.Directive
	alert     string
	alertKind grid.AlertKind
	built     bool
	destroyed bool
}

// Engine implements grid.Adapter and grid.Snapshotter.
type Engine struct {
	mu      sync.Mutex
	opts    Options
	next    grid.Handle
	widgets map[grid.Handle]*widget
	wg      sync.WaitGroup
}

var _ grid.Adapter = (*Engine)(nil)
var _ grid.Snapshotter = (*Engine)(nil)

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Engine{
		opts:    opts,
		widgets: make(map[grid.Handle]*widget),
	}
}

func (e *Engine) Create(container grid.Container, columns []grid.ColumnSpec, rows []grid.Row, opts grid.Options, onBuilt grid.BuiltFunc) (grid.Handle, error) {
	if container == nil || !container.Mounted() {
		return 0, grid.ErrContainerMissing
	}

	e.mu.Lock()
	e.next++
	h := e.next
	e.widgets[h] = &widget{
		container: container,
		columns:   grid.Columns(columns),
		rows:      cloneRows(rows),
	}
	e.mu.Unlock()

	e.opts.Logger.WithFields(logrus.Fields{
		"handle":    h,
		"container": container.ID(),
	}).Debug("memgrid: widget created")

	e.wg.Add(1)
	go e.build(h, container, onBuilt)
	return h, nil
}

func (e *Engine) build(h grid.Handle, container grid.Container, onBuilt grid.BuiltFunc) {
	defer e.wg.Done()
	if e.opts.BuildLatency > 0 {
		time.Sleep(e.opts.BuildLatency)
	}

	var buildErr error
	if e.opts.FailBuild != nil {
		buildErr = e.opts.FailBuild(container)
	}

	e.mu.Lock()
	w, ok := e.widgets[h]
	switch {
	case !ok || w.destroyed:
		e.mu.Unlock()
		return
	case buildErr == nil:
		w.built = true
	}
	e.mu.Unlock()

	if onBuilt != nil {
		onBuilt(h, buildErr)
	}
}

// Wait blocks until every pending built signal has been delivered.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) Destroy(h grid.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.widgets[h]
	if !ok {
		return grid.ErrUnknownHandle
	}
	if w.destroyed {
		return grid.ErrDestroyed
	}
	w.destroyed = true
	w.rows = nil
	delete(e.widgets, h)
	return nil
}

// Live returns how many widgets have not been destroyed.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.widgets)
}

func (e *Engine) usable(h grid.Handle) (*widget, error) {
	w, ok := e.widgets[h]
	if !ok {
		return nil, grid.ErrDestroyed
	}
	if !w.built {
		return nil, grid.ErrNotBuilt
	}
	return w, nil
}

func (e *Engine) SetData(h grid.Handle, rows []grid.Row) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, err := e.usable(h)
	if err != nil {
		return err
	}
	w.rows = cloneRows(rows)
	return nil
}

func (e *Engine) SetColumns(h grid.Handle, columns []grid.ColumnSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, err := e.usable(h)
	if err != nil {
		return err
	}
	w.columns = grid.Columns(columns)
	return nil
}

func (e *Engine) SetFilter(h grid.Handle, d grid.Directive) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, err := e.usable(h)
	if err != nil {
		return err
	}
	w.filter = d
	return nil
}

func (e *Engine) ClearFilter(h grid.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, err := e.usable(h)
	if err != nil {
		return err
	}
	w.filter = grid.Directive{Kind: grid.DirectiveClear}
	return nil
}

func (e *Engine) DataCount(h grid.Handle) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, err := e.usable(h)
	if err != nil {
		return 0, err
	}
	return len(w.visibleRows()), nil
}

func (e *Engine) ShowColumn(h grid.Handle, field string) error {
	return e.setColumnVisible(h, field, true)
}

func (e *Engine) HideColumn(h grid.Handle, field string) error {
	return e.setColumnVisible(h, field, false)
}

func (e *Engine) setColumnVisible(h grid.Handle, field string, visible bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, err := e.usable(h)
	if err != nil {
		return err
	}
	for i := range w.columns {
		if w.columns[i].Field == field {
			w.columns[i].Visible = visible
			return nil
		}
	}
	return grid.ErrColumnNotFound
}

// UpdateRow patches the row whose seq equals id. Nil values in patch remove
// the field.
func (e *Engine) UpdateRow(h grid.Handle, id int, patch grid.Row) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, err := e.usable(h)
	if err != nil {
		return err
	}
	for _, row := range w.rows {
		if row.Seq() != id {
			continue
		}
		for k, v := range patch {
			if k == grid.FieldSeq {
				continue
			}
			if v == nil {
				delete(row, k)
				continue
			}
			row[k] = v
		}
		return nil
	}
	return grid.ErrRowNotFound
}

func (e *Engine) Alert(h grid.Handle, message string, kind grid.AlertKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, err := e.usable(h)
	if err != nil {
		return err
	}
	w.alert = message
	w.alertKind = kind
	return nil
}

func (e *Engine) ClearAlert(h grid.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, err := e.usable(h)
	if err != nil {
		return err
	}
	w.alert = ""
	w.alertKind = ""
	return nil
}

func (e *Engine) Snapshot(h grid.Handle) (grid.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, err := e.usable(h)
	if err != nil {
		return grid.Snapshot{}, err
	}
	visibleCols := make([]grid.ColumnSpec, 0, len(w.columns))
	for _, c := range w.columns {
		if c.Visible {
			visibleCols = append(visibleCols, c)
		}
	}
	rows := w.visibleRows()
	return grid.Snapshot{
		Columns:    visibleCols,
		AllColumns: grid.Columns(w.columns),
		Rows:       cloneRows(rows),
		Total:      len(rows),
		Alert:      w.alert,
		AlertKind:  w.alertKind,
	}, nil
}

func (w *widget) visibleRows() []grid.Row {
	if w.filter.IsClear() {
		return w.rows
	}
	out := make([]grid.Row, 0, len(w.rows))
	for _, r := range w.rows {
		if w.filter.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

func cloneRows(rows []grid.Row) []grid.Row {
	out := make([]grid.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Package binding ties a search form to one grid widget: it defers widget
// construction until the container exists, holds fetched rows until the
// widget reports it is built, and tears the widget down on every exit path.
package binding

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/logging"
	"github.com/iota-uz/reportgrid/pkg/serrors"
)

var (
	ErrAlreadyMounted = serrors.NewError("BINDING_ALREADY_MOUNTED", "grid is already mounted", "Grid.Errors.AlreadyMounted")
	ErrUnmounted      = serrors.NewError("BINDING_UNMOUNTED", "grid was unmounted", "Grid.Errors.Unmounted")
	ErrNotReady       = serrors.NewError("BINDING_NOT_READY", "grid is not ready", "Grid.Errors.NotReady")
)

type Options struct {
	Columns []grid.ColumnSpec
	// DefaultFilterColumns are searched when no field is selected. Defaults
	// to the visible base columns.
	DefaultFilterColumns []string
	Widget               grid.Options

	// MountTimeout bounds the wait for the container-ready signal.
	MountTimeout time.Duration
	// SettleDelay is an extra pause after the container is ready and before
	// the widget is constructed. Zero by default.
	SettleDelay time.Duration

	// NoResultsMessage is shown after a user-triggered search with no rows.
	NoResultsMessage string
	// ErrorMessage turns a failed fetch into the text shown to the user.
	ErrorMessage func(err error) string

	OnEvent func(Event)
	Logger  *logrus.Entry
}

func (o *Options) setDefaults() {
	if o.MountTimeout == 0 {
		o.MountTimeout = 5 * time.Second
	}
	if o.NoResultsMessage == "" {
		o.NoResultsMessage = "No results"
	}
	if o.ErrorMessage == nil {
		o.ErrorMessage = func(err error) string { return err.Error() }
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if len(o.DefaultFilterColumns) == 0 {
		for _, col := range o.Columns {
			if col.Visible {
				o.DefaultFilterColumns = append(o.DefaultFilterColumns, col.Field)
			}
		}
	}
}

type pendingRows struct {
	rows          []grid.Row
	userTriggered bool
	alert         string
}

// Controller owns the lifecycle of one widget bound to one container.
// The adapter must deliver the built signal asynchronously, never from
// inside Create.
type Controller struct {
	id      string
	adapter grid.Adapter
	opts    Options

	mu        sync.Mutex
	status    grid.Status
	handle    grid.Handle
	hasHandle bool
	mounting  bool
	epoch     uint64
	token     uint64
	readyCh   chan struct{}
	lastErr   error

	baseColumns    []grid.ColumnSpec
	dynamicColumns []grid.ColumnSpec
	filter         grid.FilterState
	lastRows       []grid.Row
	pending        *pendingRows
	rowCount       int

	queued []Event
}

func New(id string, adapter grid.Adapter, opts Options) *Controller {
	opts.setDefaults()
	return &Controller{
		id:          id,
		adapter:     adapter,
		opts:        opts,
		status:      grid.StatusInitializing,
		readyCh:     make(chan struct{}),
		baseColumns: grid.Columns(opts.Columns),
	}
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) log() *logrus.Entry {
	return c.opts.Logger.WithField("grid", c.id)
}

// lockedFlush releases the mutex and then delivers the events queued while
// it was held.
func (c *Controller) lockedFlush() {
	events := c.queued
	c.queued = nil
	c.mu.Unlock()
	if c.opts.OnEvent == nil {
		return
	}
	for _, ev := range events {
		c.opts.OnEvent(ev)
	}
}

// Mount waits for container and constructs the widget. A missing container
// moves the controller to the error status until Unmount.
func (c *Controller) Mount(ctx context.Context, container grid.Container) error {
	c.mu.Lock()
	if c.hasHandle || c.mounting || c.status != grid.StatusInitializing {
		c.mu.Unlock()
		return ErrAlreadyMounted
	}
	c.mounting = true
	epoch := c.epoch
	c.mu.Unlock()

	waitErr := c.waitContainer(ctx, container)

	c.mu.Lock()
	defer c.lockedFlush()
	if c.epoch != epoch {
		return ErrUnmounted
	}
	c.mounting = false

	if waitErr != nil {
		c.fail(waitErr)
		return waitErr
	}

	h, err := c.adapter.Create(container, c.columns(), nil, c.opts.Widget, c.onBuilt(epoch))
	if err != nil {
		c.fail(err)
		return err
	}
	c.handle = h
	c.hasHandle = true
	c.log().WithField("handle", h).Debug("binding: widget constructed, waiting for built signal")
	return nil
}

func (c *Controller) waitContainer(ctx context.Context, container grid.Container) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.MountTimeout)
	defer cancel()
	if err := grid.WaitContainer(waitCtx, container); err != nil {
		return err
	}
	if c.opts.SettleDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(c.opts.SettleDelay):
	case <-waitCtx.Done():
		return grid.ErrContainerMissing
	}
	if !container.Mounted() {
		return grid.ErrContainerMissing
	}
	return nil
}

func (c *Controller) onBuilt(epoch uint64) grid.BuiltFunc {
	return func(h grid.Handle, err error) {
		c.mu.Lock()
		defer c.lockedFlush()
		if c.epoch != epoch || !c.hasHandle || c.handle != h {
			discardedTotal.WithLabelValues("built_after_unmount").Inc()
			return
		}
		if err != nil {
			c.fail(err)
			return
		}
		c.transition(grid.StatusReady)
		c.replay()
	}
}

// replay pushes state accumulated before the built signal.
func (c *Controller) replay() {
	if len(c.dynamicColumns) > 0 {
		if err := c.adapter.SetColumns(c.handle, c.columns()); err != nil {
			c.log().WithError(err).Warn("binding: replay columns failed")
		}
	}
	c.applyFilter()
	if p := c.pending; p != nil {
		c.pending = nil
		c.applyRows(p.rows, p.userTriggered)
		if p.alert != "" {
			c.showAlert(p.alert, grid.AlertError)
		}
	}
}

// fail moves to the error status. Caller holds the lock.
func (c *Controller) fail(err error) {
	c.lastErr = err
	c.mounting = false
	c.transition(grid.StatusError)
	c.log().WithError(err).Warn("binding: grid construction failed")
}

func (c *Controller) transition(s grid.Status) {
	if c.status == s {
		return
	}
	c.status = s
	transitionsTotal.WithLabelValues(s.String()).Inc()
	if s != grid.StatusInitializing {
		select {
		case <-c.readyCh:
		default:
			close(c.readyCh)
		}
	}
	ev := Event{Kind: EventStatus, Grid: c.id, Status: s}
	if s == grid.StatusError && c.lastErr != nil {
		ev.Message = c.opts.ErrorMessage(c.lastErr)
	}
	c.queued = append(c.queued, ev)
}

// Unmount destroys the widget and resets the controller so that it can be
// mounted again. In-flight searches started before Unmount are discarded.
func (c *Controller) Unmount() {
	c.mu.Lock()
	defer c.lockedFlush()

	if c.hasHandle {
		if err := c.adapter.Destroy(c.handle); err != nil {
			c.log().WithError(err).Debug("binding: destroy failed")
		}
	}
	c.hasHandle = false
	c.handle = 0
	c.mounting = false
	c.epoch++
	c.pending = nil
	c.lastRows = nil
	c.rowCount = 0
	c.lastErr = nil

	select {
	case <-c.readyCh:
	default:
		close(c.readyCh)
	}
	c.readyCh = make(chan struct{})
	c.transition(grid.StatusInitializing)
}

// WaitReady blocks until the widget leaves the initializing status.
func (c *Controller) WaitReady(ctx context.Context) (grid.Status, error) {
	c.mu.Lock()
	ch := c.readyCh
	c.mu.Unlock()
	select {
	case <-ch:
		return c.Status(), nil
	case <-ctx.Done():
		return c.Status(), ctx.Err()
	}
}

func (c *Controller) Status() grid.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the failure that put the controller into the error status.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Message is the user-facing text for Err, or "" when there is no failure.
func (c *Controller) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return ""
	}
	return c.opts.ErrorMessage(c.lastErr)
}

func (c *Controller) RowCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowCount
}

func (c *Controller) Filter() grid.FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Columns returns base columns followed by dynamic ones.
func (c *Controller) Columns() []grid.ColumnSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.columns()
}

func (c *Controller) columns() []grid.ColumnSpec {
	return grid.Columns(c.baseColumns, c.dynamicColumns...)
}

// Row returns the last fetched row with the given seq.
func (c *Controller) Row(seq int) (grid.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.lastRows {
		if r.Seq() == seq {
			return r.Clone(), true
		}
	}
	return nil, false
}

// Snapshot reads the rendered state when the adapter supports it.
func (c *Controller) Snapshot() (grid.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != grid.StatusReady {
		return grid.Snapshot{}, ErrNotReady
	}
	s, ok := c.adapter.(grid.Snapshotter)
	if !ok {
		return grid.Snapshot{}, ErrNotReady
	}
	return s.Snapshot(c.handle)
}

func (c *Controller) ready() bool {
	return c.status == grid.StatusReady && c.hasHandle
}

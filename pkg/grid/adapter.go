package grid

import (
	"context"

	"github.com/iota-uz/reportgrid/pkg/serrors"
)

var (
	ErrNotBuilt         = serrors.NewError("GRID_NOT_BUILT", "grid widget has not finished building", "Grid.Errors.NotBuilt")
	ErrDestroyed        = serrors.NewError("GRID_DESTROYED", "grid widget was destroyed", "Grid.Errors.Destroyed")
	ErrUnknownHandle    = serrors.NewError("GRID_UNKNOWN_HANDLE", "unknown grid handle", "Grid.Errors.UnknownHandle")
	ErrContainerMissing = serrors.NewError("GRID_CONTAINER_MISSING", "grid container is not mounted", "Grid.Errors.ContainerMissing")
	ErrRowNotFound      = serrors.NewError("GRID_ROW_NOT_FOUND", "row not found", "Grid.Errors.RowNotFound")
	ErrColumnNotFound   = serrors.NewError("GRID_COLUMN_NOT_FOUND", "column not found", "Grid.Errors.ColumnNotFound")
)

// Handle identifies one constructed widget instance.
type Handle uint64

// Container is the mount point a widget binds to. Ready is closed once the
// container exists; Mounted reports whether it still does.
type Container interface {
	ID() string
	Ready() <-chan struct{}
	Mounted() bool
}

// BuiltFunc is invoked exactly once per Create: with nil when the widget is
// usable, with an error when construction failed asynchronously.
type BuiltFunc func(h Handle, err error)

// Adapter is the only surface through which screens touch a grid engine.
// Every mutation fails with ErrNotBuilt before the built signal and with
// ErrDestroyed afterwards.
type Adapter interface {
	Create(container Container, columns []ColumnSpec, rows []Row, opts Options, onBuilt BuiltFunc) (Handle, error)
	Destroy(h Handle) error
	SetData(h Handle, rows []Row) error
	SetColumns(h Handle, columns []ColumnSpec) error
	SetFilter(h Handle, d Directive) error
	ClearFilter(h Handle) error
	DataCount(h Handle) (int, error)
	ShowColumn(h Handle, field string) error
	HideColumn(h Handle, field string) error
	UpdateRow(h Handle, id int, patch Row) error
	Alert(h Handle, message string, kind AlertKind) error
	ClearAlert(h Handle) error
}

// Snapshot is the rendered state of a widget.
type Snapshot struct {
	Columns    []ColumnSpec
	AllColumns []ColumnSpec
	Rows       []Row
	Total      int
	Alert      string
	AlertKind  AlertKind
}

// Snapshotter is implemented by engines that can expose their visible state.
type Snapshotter interface {
	Snapshot(h Handle) (Snapshot, error)
}

// StaticContainer is a container that is ready as soon as it is created.
type StaticContainer struct {
	id    string
	ready chan struct{}
	gone  chan struct{}
}

func NewStaticContainer(id string) *StaticContainer {
	c := &StaticContainer{id: id, ready: make(chan struct{}), gone: make(chan struct{})}
	close(c.ready)
	return c
}

// NewPendingContainer returns a container whose Ready channel stays open
// until MarkReady is called.
func NewPendingContainer(id string) *StaticContainer {
	return &StaticContainer{id: id, ready: make(chan struct{}), gone: make(chan struct{})}
}

func (c *StaticContainer) ID() string             { return c.id }
func (c *StaticContainer) Ready() <-chan struct{} { return c.ready }

func (c *StaticContainer) Mounted() bool {
	select {
	case <-c.gone:
		return false
	default:
	}
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

func (c *StaticContainer) MarkReady() {
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
}

// Remove detaches the container; subsequent Mounted calls report false.
func (c *StaticContainer) Remove() {
	select {
	case <-c.gone:
	default:
		close(c.gone)
	}
}

// WaitContainer blocks until c is ready or ctx ends. A container removed
// before it became ready is reported as missing once ready.
func WaitContainer(ctx context.Context, c Container) error {
	if c == nil {
		return ErrContainerMissing
	}
	select {
	case <-c.Ready():
		if !c.Mounted() {
			return ErrContainerMissing
		}
		return nil
	case <-ctx.Done():
		return ErrContainerMissing.WithTemplateData(map[string]string{"cause": ctx.Err().Error()})
	}
}

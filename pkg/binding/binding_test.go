package binding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/grid/memgrid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingAdapter wraps the memory engine and records every mutation that
// reaches a widget before its built signal or after its destruction.
type recordingAdapter struct {
	*memgrid.Engine

	mu         sync.Mutex
	built      map[grid.Handle]bool
	destroyed  map[grid.Handle]bool
	violations []string
	setData    int
}

func newRecordingAdapter(opts memgrid.Options) *recordingAdapter {
	return &recordingAdapter{
		Engine:    memgrid.New(opts),
		built:     make(map[grid.Handle]bool),
		destroyed: make(map[grid.Handle]bool),
	}
}

func (r *recordingAdapter) Create(container grid.Container, columns []grid.ColumnSpec, rows []grid.Row, opts grid.Options, onBuilt grid.BuiltFunc) (grid.Handle, error) {
	return r.Engine.Create(container, columns, rows, opts, func(h grid.Handle, err error) {
		if err == nil {
			r.mu.Lock()
			r.built[h] = true
			r.mu.Unlock()
		}
		onBuilt(h, err)
	})
}

func (r *recordingAdapter) Destroy(h grid.Handle) error {
	r.mu.Lock()
	r.destroyed[h] = true
	r.mu.Unlock()
	return r.Engine.Destroy(h)
}

func (r *recordingAdapter) check(op string, h grid.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.built[h] {
		r.violations = append(r.violations, fmt.Sprintf("%s before built on %d", op, h))
	}
	if r.destroyed[h] {
		r.violations = append(r.violations, fmt.Sprintf("%s after destroy on %d", op, h))
	}
}

func (r *recordingAdapter) SetData(h grid.Handle, rows []grid.Row) error {
	r.check("SetData", h)
	r.mu.Lock()
	r.setData++
	r.mu.Unlock()
	return r.Engine.SetData(h, rows)
}

func (r *recordingAdapter) SetFilter(h grid.Handle, d grid.Directive) error {
	r.check("SetFilter", h)
	return r.Engine.SetFilter(h, d)
}

func (r *recordingAdapter) ClearFilter(h grid.Handle) error {
	r.check("ClearFilter", h)
	return r.Engine.ClearFilter(h)
}

func (r *recordingAdapter) SetColumns(h grid.Handle, cols []grid.ColumnSpec) error {
	r.check("SetColumns", h)
	return r.Engine.SetColumns(h, cols)
}

func (r *recordingAdapter) UpdateRow(h grid.Handle, id int, patch grid.Row) error {
	r.check("UpdateRow", h)
	return r.Engine.UpdateRow(h, id, patch)
}

func (r *recordingAdapter) Alert(h grid.Handle, msg string, kind grid.AlertKind) error {
	r.check("Alert", h)
	return r.Engine.Alert(h, msg, kind)
}

func (r *recordingAdapter) ClearAlert(h grid.Handle) error {
	r.check("ClearAlert", h)
	return r.Engine.ClearAlert(h)
}

func (r *recordingAdapter) Violations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.violations...)
}

func (r *recordingAdapter) SetDataCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setData
}

var employeeColumns = []grid.ColumnSpec{
	{Field: "EMPNO", Title: "No", Visible: true},
	{Field: "EMPNM", Title: "Name", Visible: true},
	{Field: "ORGNM", Title: "Org", Visible: true},
}

func newController(t *testing.T, adapter grid.Adapter) *Controller {
	t.Helper()
	c := New("test", adapter, Options{
		Columns:              employeeColumns,
		DefaultFilterColumns: []string{"EMPNO", "EMPNM", "ORGNM"},
		MountTimeout:         time.Second,
		NoResultsMessage:     "No results",
	})
	t.Cleanup(c.Unmount)
	return c
}

func rowsFetch(rows ...grid.Row) FetchFunc {
	return func(ctx context.Context) (Result, error) {
		out := make([]grid.Row, len(rows))
		for i, r := range rows {
			r = r.Clone()
			r[grid.FieldSeq] = i + 1
			out[i] = r
		}
		return Result{Rows: out}, nil
	}
}

func mountReady(t *testing.T, c *Controller) {
	t.Helper()
	require.NoError(t, c.Mount(context.Background(), grid.NewStaticContainer("grid")))
	status, err := c.WaitReady(context.Background())
	require.NoError(t, err)
	require.Equal(t, grid.StatusReady, status)
}

func TestController_SearchBeforeReadyIsReplayed(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{BuildLatency: 30 * time.Millisecond})
	c := newController(t, adapter)

	require.NoError(t, c.Mount(context.Background(), grid.NewStaticContainer("grid")))
	require.Equal(t, grid.StatusInitializing, c.Status())

	out := c.Search(context.Background(), rowsFetch(grid.Row{"EMPNO": "001", "EMPNM": "Kim"}), true)
	require.NoError(t, out.Err)
	require.False(t, out.NoResults)
	require.Zero(t, adapter.SetDataCalls(), "rows must not reach the widget before it is built")

	status, err := c.WaitReady(context.Background())
	require.NoError(t, err)
	require.Equal(t, grid.StatusReady, status)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, 1, snap.Rows[0].Seq())
	assert.Equal(t, 1, c.RowCount())
	assert.Empty(t, snap.Alert)
	assert.Empty(t, adapter.Violations())
}

func TestController_EmptyUserSearchShowsNoResults(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	c := newController(t, adapter)
	mountReady(t, c)

	out := c.Search(context.Background(), rowsFetch(), true)
	require.NoError(t, out.Err)
	assert.True(t, out.NoResults)
	assert.Equal(t, 0, out.RowCount)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "No results", snap.Alert)
	assert.Equal(t, grid.AlertInfo, snap.AlertKind)

	// A non-user search with no rows clears the indicator.
	out = c.Search(context.Background(), rowsFetch(), false)
	assert.False(t, out.NoResults)
	snap, err = c.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Alert)
}

func TestController_FailedSearchClearsRows(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	c := newController(t, adapter)
	mountReady(t, c)

	out := c.Search(context.Background(), rowsFetch(grid.Row{"EMPNM": "Kim"}, grid.Row{"EMPNM": "Lee"}), true)
	require.Equal(t, 2, out.RowCount)

	out = c.Search(context.Background(), func(ctx context.Context) (Result, error) {
		return Result{}, errors.New("DB down")
	}, true)
	require.Error(t, out.Err)
	assert.Equal(t, "DB down", out.Message)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Rows)
	assert.Equal(t, "DB down", snap.Alert)
	assert.Equal(t, grid.AlertError, snap.AlertKind)
	assert.Equal(t, 0, c.RowCount())
}

func TestController_FilterAcrossDefaultColumns(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	c := newController(t, adapter)
	mountReady(t, c)

	c.Search(context.Background(), rowsFetch(grid.Row{"EMPNM": "Kim"}, grid.Row{"EMPNM": "Lee"}), true)

	c.SetFilter(grid.FilterState{Text: "kim"})
	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "Kim", snap.Rows[0]["EMPNM"])
	assert.Equal(t, 1, c.RowCount())

	// Applying the same state again is idempotent.
	c.SetFilter(grid.FilterState{Text: "kim"})
	snap, err = c.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)

	// Selected field with empty text clears.
	c.SetFilter(grid.FilterState{SelectedField: "EMPNM"})
	snap, err = c.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Rows, 2)
}

func TestController_FilterWithoutDefaultColumnsUsesVisibleColumns(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	c := New("plain", adapter, Options{
		Columns: []grid.ColumnSpec{
			{Field: "EMPNM", Title: "Name", Visible: true},
			{Field: "SECRET", Title: "Secret"},
		},
		MountTimeout: time.Second,
	})
	t.Cleanup(c.Unmount)
	mountReady(t, c)

	c.Search(context.Background(), rowsFetch(
		grid.Row{"EMPNM": "Kim", "SECRET": "lee"},
		grid.Row{"EMPNM": "Lee", "SECRET": "x"},
	), true)

	c.SetFilter(grid.FilterState{Text: "kim"})
	assert.Equal(t, 1, c.RowCount())

	// hidden columns are not searched by default
	c.SetFilter(grid.FilterState{Text: "lee"})
	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "Lee", snap.Rows[0]["EMPNM"])
}

func TestController_RowsAreCopiedOnReplace(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	c := newController(t, adapter)
	mountReady(t, c)

	rows := []grid.Row{{grid.FieldSeq: 1, "EMPNM": "Kim"}}
	c.ReplaceRows(rows, false)
	require.NoError(t, c.UpdateRow(1, grid.Row{"EMPNM": "Park"}))

	assert.Equal(t, "Kim", rows[0]["EMPNM"])
	row, ok := c.Row(1)
	require.True(t, ok)
	assert.Equal(t, "Park", row["EMPNM"])
}

func TestController_FilterSetBeforeReadyIsApplied(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{BuildLatency: 20 * time.Millisecond})
	c := newController(t, adapter)

	c.SetFilter(grid.FilterState{SelectedField: "EMPNM", Text: "LEE"})
	c.ReplaceRows([]grid.Row{{"seq": 1, "EMPNM": "Kim"}, {"seq": 2, "EMPNM": "Lee"}}, false)
	require.NoError(t, c.Mount(context.Background(), grid.NewStaticContainer("grid")))
	_, err := c.WaitReady(context.Background())
	require.NoError(t, err)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, 2, snap.Rows[0].Seq())
	assert.Empty(t, adapter.Violations())
}

func TestController_UnmountDiscardsInFlightSearch(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	c := newController(t, adapter)
	mountReady(t, c)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan Outcome, 1)
	go func() {
		done <- c.Search(context.Background(), func(ctx context.Context) (Result, error) {
			close(started)
			<-release
			return rowsFetch(grid.Row{"EMPNM": "Kim"})(ctx)
		}, true)
	}()

	<-started
	c.Unmount()
	require.Equal(t, grid.StatusInitializing, c.Status())
	require.Zero(t, adapter.Live())
	close(release)

	out := <-done
	assert.True(t, out.Discarded)
	assert.NoError(t, out.Err)
	assert.Empty(t, adapter.Violations())
}

func TestController_StaleSearchIsDiscarded(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	c := newController(t, adapter)
	mountReady(t, c)

	releaseFirst := make(chan struct{})
	firstStarted := make(chan struct{})
	first := make(chan Outcome, 1)
	go func() {
		first <- c.Search(context.Background(), func(ctx context.Context) (Result, error) {
			close(firstStarted)
			<-releaseFirst
			return rowsFetch(grid.Row{"EMPNM": "old-1"}, grid.Row{"EMPNM": "old-2"})(ctx)
		}, true)
	}()
	<-firstStarted

	second := c.Search(context.Background(), rowsFetch(grid.Row{"EMPNM": "new"}), true)
	require.Equal(t, 1, second.RowCount)

	close(releaseFirst)
	out := <-first
	assert.True(t, out.Discarded)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "new", snap.Rows[0]["EMPNM"])
}

func TestController_MissingContainerIsTerminal(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	c := New("missing", adapter, Options{MountTimeout: 20 * time.Millisecond})
	t.Cleanup(c.Unmount)

	err := c.Mount(context.Background(), grid.NewPendingContainer("never"))
	require.ErrorIs(t, err, grid.ErrContainerMissing)
	require.Equal(t, grid.StatusError, c.Status())
	require.ErrorIs(t, c.Err(), grid.ErrContainerMissing)

	require.ErrorIs(t, c.Mount(context.Background(), grid.NewStaticContainer("grid")), ErrAlreadyMounted)

	c.Unmount()
	require.Equal(t, grid.StatusInitializing, c.Status())
	require.NoError(t, c.Mount(context.Background(), grid.NewStaticContainer("grid")))
	status, err := c.WaitReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, grid.StatusReady, status)
}

func TestController_BuildFailureMovesToError(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{
		FailBuild: func(grid.Container) error { return errors.New("constructor threw") },
	})
	c := newController(t, adapter)

	require.NoError(t, c.Mount(context.Background(), grid.NewStaticContainer("grid")))
	status, err := c.WaitReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, grid.StatusError, status)
	assert.Contains(t, c.Message(), "constructor threw")

	out := c.Search(context.Background(), rowsFetch(grid.Row{"EMPNM": "Kim"}), true)
	require.NoError(t, out.Err)
	assert.Empty(t, adapter.Violations())
}

func TestController_ContainerReadyLater(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	c := newController(t, adapter)
	container := grid.NewPendingContainer("late")

	go func() {
		time.Sleep(20 * time.Millisecond)
		container.MarkReady()
	}()
	require.NoError(t, c.Mount(context.Background(), container))
	status, err := c.WaitReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, grid.StatusReady, status)
}

func TestController_DynamicColumnsAppendedAfterBase(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	c := newController(t, adapter)
	mountReady(t, c)

	out := c.Search(context.Background(), func(ctx context.Context) (Result, error) {
		return Result{
			Rows:    []grid.Row{{"seq": 1, "EMPNM": "Kim", "C01": 3}},
			Dynamic: []grid.ColumnSpec{{Field: "C01", Title: "Sales", Visible: true}},
		}, nil
	}, true)
	require.NoError(t, out.Err)

	cols := c.Columns()
	require.Len(t, cols, len(employeeColumns)+1)
	assert.Equal(t, "C01", cols[len(cols)-1].Field)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "C01", snap.Columns[len(snap.Columns)-1].Field)
}

func TestController_UpdateRowAndVisibility(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	c := newController(t, adapter)

	require.ErrorIs(t, c.UpdateRow(1, grid.Row{"EMPNM": "x"}), ErrNotReady)

	mountReady(t, c)
	c.Search(context.Background(), rowsFetch(grid.Row{"EMPNM": "Kim", "ORGNM": "HQ"}), true)

	require.NoError(t, c.UpdateRow(1, grid.Row{"EMPNM": "Park", "ORGNM": nil}))
	row, ok := c.Row(1)
	require.True(t, ok)
	assert.Equal(t, "Park", row["EMPNM"])
	assert.NotContains(t, row, "ORGNM")

	require.NoError(t, c.HideColumn("ORGNM"))
	snap, err := c.Snapshot()
	require.NoError(t, err)
	for _, col := range snap.Columns {
		assert.NotEqual(t, "ORGNM", col.Field)
	}
	require.ErrorIs(t, c.HideColumn("NOPE"), grid.ErrColumnNotFound)
}

func TestController_EventsDeliveredOutsideLock(t *testing.T) {
	adapter := newRecordingAdapter(memgrid.Options{})
	var (
		mu     sync.Mutex
		counts []int
	)
	var c *Controller
	c = New("events", adapter, Options{
		Columns: employeeColumns,
		OnEvent: func(ev Event) {
			if ev.Kind != EventRowCount {
				return
			}
			// Reading back from the handler would deadlock if events were
			// delivered under the controller lock.
			_ = c.Status()
			mu.Lock()
			counts = append(counts, ev.RowCount)
			mu.Unlock()
		},
	})
	t.Cleanup(c.Unmount)
	mountReady(t, c)

	c.Search(context.Background(), rowsFetch(grid.Row{"EMPNM": "Kim"}, grid.Row{"EMPNM": "Lee"}), true)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, counts)
	assert.Equal(t, 2, counts[len(counts)-1])
}

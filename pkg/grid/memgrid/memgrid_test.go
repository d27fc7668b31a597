package memgrid_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/grid/memgrid"
)

var columns = []grid.ColumnSpec{
	{Field: "EMPNM", Title: "Name", Visible: true},
	{Field: "ORGNM", Title: "Org", Visible: true},
}

func create(t *testing.T, e *memgrid.Engine) grid.Handle {
	t.Helper()
	built := make(chan error, 1)
	h, err := e.Create(grid.NewStaticContainer("c"), columns, nil, grid.Options{}, func(_ grid.Handle, err error) {
		built <- err
	})
	require.NoError(t, err)
	select {
	case err := <-built:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("built signal never fired")
	}
	return h
}

func TestEngine_MutationsBeforeBuilt(t *testing.T) {
	e := memgrid.New(memgrid.Options{BuildLatency: 50 * time.Millisecond})
	h, err := e.Create(grid.NewStaticContainer("c"), columns, nil, grid.Options{}, nil)
	require.NoError(t, err)

	require.ErrorIs(t, e.SetData(h, []grid.Row{{"seq": 1}}), grid.ErrNotBuilt)
	require.ErrorIs(t, e.SetFilter(h, grid.Directive{Kind: grid.DirectiveAnyOf}), grid.ErrNotBuilt)
	_, err = e.DataCount(h)
	require.ErrorIs(t, err, grid.ErrNotBuilt)

	e.Wait()
	require.NoError(t, e.SetData(h, []grid.Row{{"seq": 1}}))
}

func TestEngine_CreateRequiresMountedContainer(t *testing.T) {
	e := memgrid.New(memgrid.Options{})
	_, err := e.Create(grid.NewPendingContainer("c"), columns, nil, grid.Options{}, nil)
	require.ErrorIs(t, err, grid.ErrContainerMissing)

	_, err = e.Create(nil, columns, nil, grid.Options{}, nil)
	require.ErrorIs(t, err, grid.ErrContainerMissing)
}

func TestEngine_FailBuild(t *testing.T) {
	e := memgrid.New(memgrid.Options{
		FailBuild: func(grid.Container) error { return errors.New("boom") },
	})
	built := make(chan error, 1)
	h, err := e.Create(grid.NewStaticContainer("c"), columns, nil, grid.Options{}, func(_ grid.Handle, err error) {
		built <- err
	})
	require.NoError(t, err)
	require.EqualError(t, <-built, "boom")
	require.ErrorIs(t, e.SetData(h, nil), grid.ErrNotBuilt)
}

func TestEngine_DestroyStopsMutations(t *testing.T) {
	e := memgrid.New(memgrid.Options{})
	h := create(t, e)
	require.Equal(t, 1, e.Live())

	require.NoError(t, e.Destroy(h))
	require.Zero(t, e.Live())
	require.ErrorIs(t, e.SetData(h, nil), grid.ErrDestroyed)
	require.ErrorIs(t, e.Destroy(h), grid.ErrUnknownHandle)
}

func TestEngine_DestroyBeforeBuiltSuppressesSignal(t *testing.T) {
	e := memgrid.New(memgrid.Options{BuildLatency: 20 * time.Millisecond})
	called := false
	h, err := e.Create(grid.NewStaticContainer("c"), columns, nil, grid.Options{}, func(grid.Handle, error) {
		called = true
	})
	require.NoError(t, err)
	require.NoError(t, e.Destroy(h))
	e.Wait()
	assert.False(t, called)
}

func TestEngine_FilterAndCount(t *testing.T) {
	e := memgrid.New(memgrid.Options{})
	h := create(t, e)

	rows := []grid.Row{
		{"seq": 1, "EMPNM": "Kim", "ORGNM": "HQ"},
		{"seq": 2, "EMPNM": "Lee", "ORGNM": "Sales"},
	}
	require.NoError(t, e.SetData(h, rows))
	rows[0]["EMPNM"] = "mutated"

	n, err := e.DataCount(h)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, e.SetFilter(h, grid.Compile(grid.FilterState{Text: "KIM"}, []string{"EMPNM", "ORGNM"})))
	n, err = e.DataCount(h)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := e.Snapshot(h)
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "Kim", snap.Rows[0]["EMPNM"], "engine keeps its own copy of rows")

	require.NoError(t, e.ClearFilter(h))
	n, err = e.DataCount(h)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEngine_ColumnsAndRows(t *testing.T) {
	e := memgrid.New(memgrid.Options{})
	h := create(t, e)
	require.NoError(t, e.SetData(h, []grid.Row{{"seq": 1, "EMPNM": "Kim", "ORGNM": "HQ"}}))

	require.NoError(t, e.HideColumn(h, "ORGNM"))
	require.ErrorIs(t, e.HideColumn(h, "MISSING"), grid.ErrColumnNotFound)

	require.NoError(t, e.UpdateRow(h, 1, grid.Row{"EMPNM": "Park", "ORGNM": nil, "seq": 9}))
	require.ErrorIs(t, e.UpdateRow(h, 2, grid.Row{"EMPNM": "x"}), grid.ErrRowNotFound)

	require.NoError(t, e.Alert(h, "careful", grid.AlertInfo))

	snap, err := e.Snapshot(h)
	require.NoError(t, err)
	require.Len(t, snap.Columns, 1)
	assert.Equal(t, "EMPNM", snap.Columns[0].Field)
	assert.Len(t, snap.AllColumns, 2)
	assert.Equal(t, grid.Row{"seq": 1, "EMPNM": "Park"}, snap.Rows[0])
	assert.Equal(t, "careful", snap.Alert)

	require.NoError(t, e.ShowColumn(h, "ORGNM"))
	require.NoError(t, e.ClearAlert(h))
	snap, err = e.Snapshot(h)
	require.NoError(t, err)
	assert.Len(t, snap.Columns, 2)
	assert.Empty(t, snap.Alert)
}

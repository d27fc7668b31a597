package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iota-uz/go-i18n/v2/i18n"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iota-uz/reportgrid/modules/reports/domain/screen"
	"github.com/iota-uz/reportgrid/pkg/binding"
	"github.com/iota-uz/reportgrid/pkg/eventbus"
	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/grid/memgrid"
	"github.com/iota-uz/reportgrid/pkg/intl"
	"github.com/iota-uz/reportgrid/pkg/logging"
	"github.com/iota-uz/reportgrid/pkg/reportapi"
	"github.com/iota-uz/reportgrid/pkg/serrors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeReportAPI serves the endpoints declared in the built-in screens.
type fakeReportAPI struct {
	mu     sync.Mutex
	bodies map[string][]map[string]any
}

func (f *fakeReportAPI) last(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.bodies[path]
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (f *fakeReportAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], body)
	f.mu.Unlock()

	reply := func(env map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(env)
	}
	switch r.URL.Path {
	case "/hr/employees/search":
		switch body["p_name"] {
		case "none":
			reply(map[string]any{"success": true, "data": []any{}})
		case "boom":
			reply(map[string]any{"success": true, "errMsg": "사번을 확인하세요", "data": []any{}})
		default:
			reply(map[string]any{"success": true, "data": []map[string]any{
				{"EMPNO": "E1", "EMPNM": "Kim Minsu", "ORGCD": "D01", "ORGNM": "Sales", "POSNM": "Staff", "SALARY": 1000},
				{"EMPNO": "E2", "EMPNM": "Lee Jiwon", "ORGCD": "D02", "ORGNM": "Finance", "POSNM": "Lead", "SALARY": 2000},
				{"EMPNO": "E3", "EMPNM": "Park Kim", "ORGCD": "D01", "ORGNM": "Sales", "POSNM": "Staff", "SALARY": 1500},
			}})
		}
	case "/hr/organizations/search":
		if body["p_variant"] == "odd" {
			reply(map[string]any{"success": true, "data": []map[string]any{
				{"ORGCD": "THIS-CODE-IS-WAY-TOO-LONG", "ORGNM": "Overflow"},
				{"ORGCD": "D09"},
			}})
			return
		}
		reply(map[string]any{"success": true, "data": []map[string]any{
			{"ORGCD": "D01", "ORGNM": "Sales", "UPPERORGNM": "HQ"},
			{"ORGCD": "D03", "ORGNM": "Research", "UPPERORGNM": "HQ"},
		}})
	case "/sales/category/search":
		if body["s_gubun"] == "H" {
			reply(map[string]any{"success": true, "data": []map[string]any{
				{"CD": "M01", "NM": "January"},
				{"CD": "M02", "NM": "February"},
			}})
			return
		}
		reply(map[string]any{"success": true, "data": []map[string]any{
			{"ITEMCD": "I1", "ITEMNM": "Tea", "QTY": 3, "RATE": 0.25, "M01": 10, "M02": 12},
		}})
	default:
		http.NotFound(w, r)
	}
}

type fixture struct {
	svc    *GridService
	api    *fakeReportAPI
	engine *memgrid.Engine
	bus    eventbus.EventBus
}

func newFixture(t *testing.T, opts GridServiceOptions, engineOpts memgrid.Options) *fixture {
	t.Helper()
	api := &fakeReportAPI{bodies: make(map[string][]map[string]any)}
	srv := httptest.NewServer(api)

	client, err := reportapi.New(reportapi.Options{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	catalog, err := screen.Default()
	require.NoError(t, err)

	engine := memgrid.New(engineOpts)
	bus := eventbus.NewEventPublisher(logging.Nop())
	svc := NewGridService(catalog, client, engine, bus, opts)
	t.Cleanup(func() {
		svc.Shutdown()
		engine.Wait()
		srv.Close()
	})
	return &fixture{svc: svc, api: api, engine: engine, bus: bus}
}

func (f *fixture) mount(t *testing.T, key string) SessionInfo {
	t.Helper()
	info, err := f.svc.Mount(context.Background(), MountRequest{Screen: key, WaitReady: true})
	require.NoError(t, err)
	require.Equal(t, grid.StatusReady, info.Status)
	return info
}

func TestGridService_MountSearchPage(t *testing.T) {
	f := newFixture(t, GridServiceOptions{}, memgrid.Options{})
	info := f.mount(t, "employees")
	assert.Equal(t, "employees", info.Screen)
	assert.Len(t, info.Columns, 6)

	out, err := f.svc.Search(context.Background(), info.ID, SearchRequest{
		Params:        reportapi.Params{"name": "kim", "dateFrom": "20240101"},
		UserTriggered: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.RowCount)
	assert.False(t, out.NoResults)
	assert.Empty(t, out.ErrorKind)

	body := f.api.last("/hr/employees/search")
	assert.Equal(t, "kim", body["p_name"])
	assert.Equal(t, "20240101", body["p_from_dt"])
	assert.Equal(t, "Y", body["p_useYn"])

	page, err := f.svc.Page(info.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, "E1", page.Rows[0]["EMPNO"])
	assert.Equal(t, 1, page.Rows[0]["ID"])

	page, err = f.svc.Page(info.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "E3", page.Rows[0]["EMPNO"])

	page, err = f.svc.Page(info.ID, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
}

func TestGridService_SearchOutcomes(t *testing.T) {
	f := newFixture(t, GridServiceOptions{}, memgrid.Options{})
	info := f.mount(t, "employees")

	out, err := f.svc.Search(context.Background(), info.ID, SearchRequest{
		Params:        reportapi.Params{"name": "none"},
		UserTriggered: true,
	})
	require.NoError(t, err)
	assert.True(t, out.NoResults)
	assert.Equal(t, 0, out.RowCount)

	out, err = f.svc.Search(context.Background(), info.ID, SearchRequest{
		Params:        reportapi.Params{"name": "boom"},
		UserTriggered: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "business", out.ErrorKind)
	assert.Equal(t, "사번을 확인하세요", out.Message)

	page, err := f.svc.Page(info.ID, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
	assert.Equal(t, "사번을 확인하세요", page.Alert)
	assert.Equal(t, grid.AlertError, page.AlertKind)

	_, err = f.svc.Search(context.Background(), "missing", SearchRequest{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGridService_TransportFailureShowsGenericMessage(t *testing.T) {
	catalog, err := screen.Default()
	require.NoError(t, err)
	client, err := reportapi.New(reportapi.Options{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	require.NoError(t, err)
	engine := memgrid.New(memgrid.Options{})
	svc := NewGridService(catalog, client, engine, nil, GridServiceOptions{})
	t.Cleanup(func() {
		svc.Shutdown()
		engine.Wait()
	})

	info, err := svc.Mount(context.Background(), MountRequest{Screen: "organizations", WaitReady: true})
	require.NoError(t, err)
	out, err := svc.Search(context.Background(), info.ID, SearchRequest{UserTriggered: true})
	require.NoError(t, err)
	assert.Equal(t, "transport", out.ErrorKind)
	assert.Equal(t, reportapi.ErrTransport.Message, out.Message)
}

func TestGridService_FilterAndColumns(t *testing.T) {
	f := newFixture(t, GridServiceOptions{}, memgrid.Options{})
	info := f.mount(t, "employees")
	_, err := f.svc.Search(context.Background(), info.ID, SearchRequest{UserTriggered: true})
	require.NoError(t, err)

	got, err := f.svc.SetFilter(info.ID, grid.FilterState{Text: "KIM"})
	require.NoError(t, err)
	assert.Equal(t, 2, got.RowCount)
	assert.Equal(t, "KIM", got.Filter.Text)

	got, err = f.svc.SetFilter(info.ID, grid.FilterState{SelectedField: "ORGNM", Text: "fin"})
	require.NoError(t, err)
	assert.Equal(t, 1, got.RowCount)

	got, err = f.svc.ClearFilter(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RowCount)

	got, err = f.svc.HideColumn(info.ID, "POSNM")
	require.NoError(t, err)
	for _, c := range got.Columns {
		if c.Field == "POSNM" {
			assert.False(t, c.Visible)
		}
	}
	page, err := f.svc.Page(info.ID, 1, 10)
	require.NoError(t, err)
	for _, c := range page.Columns {
		assert.NotEqual(t, "POSNM", c.Field)
	}

	_, err = f.svc.ShowColumn(info.ID, "NOPE")
	assert.ErrorIs(t, err, grid.ErrColumnNotFound)
}

func TestGridService_ManifestColumns(t *testing.T) {
	f := newFixture(t, GridServiceOptions{}, memgrid.Options{})
	info := f.mount(t, "sales-by-category")

	out, err := f.svc.Search(context.Background(), info.ID, SearchRequest{UserTriggered: true})
	require.NoError(t, err)
	assert.Equal(t, 1, out.RowCount)

	got, err := f.svc.Get(info.ID)
	require.NoError(t, err)
	fields := make([]string, 0, len(got.Columns))
	for _, c := range got.Columns {
		fields = append(fields, c.Field)
	}
	assert.Equal(t, []string{"ITEMCD", "ITEMNM", "QTY", "RATE", "M01", "M02"}, fields)
	assert.Equal(t, "January", got.Columns[4].Title)
}

func TestGridService_UpdateRow(t *testing.T) {
	f := newFixture(t, GridServiceOptions{}, memgrid.Options{})
	info := f.mount(t, "employees")
	_, err := f.svc.Search(context.Background(), info.ID, SearchRequest{UserTriggered: true})
	require.NoError(t, err)

	row, err := f.svc.UpdateRow(context.Background(), info.ID, 2, []byte(`{"EMPNM":"Choi Jiwon"}`))
	require.NoError(t, err)
	assert.Equal(t, "Choi Jiwon", row["EMPNM"])
	assert.Equal(t, "E2", row["EMPNO"])

	page, err := f.svc.Page(info.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "Choi Jiwon", page.Rows[1]["EMPNM"])

	cases := []struct {
		name  string
		patch string
		want  error
	}{
		{name: "not editable", patch: `{"SALARY":1}`, want: ErrFieldNotEditable},
		{name: "not an object", patch: `[1]`, want: ErrInvalidPatch},
		{name: "empty", patch: `{}`, want: ErrInvalidPatch},
		{name: "required", patch: `{"EMPNM":""}`, want: serrors.ValidationError("EMPNM", "Name", "required", "")},
		{name: "removed required", patch: `{"ORGCD":null}`, want: serrors.ValidationError("ORGCD", "Org code", "required", "")},
		{name: "too long", patch: `{"ORGCD":"ABCDEFGHIJK"}`, want: serrors.ValidationError("ORGCD", "Org code", "max", "10")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.UpdateRow(context.Background(), info.ID, 1, []byte(tc.patch))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err = f.svc.UpdateRow(context.Background(), info.ID, 99, []byte(`{"EMPNM":"x"}`))
	assert.ErrorIs(t, err, grid.ErrRowNotFound)

	row, err = f.svc.UpdateRow(context.Background(), info.ID, 1, []byte(`{"ORGNM":null}`))
	require.NoError(t, err)
	_, has := row["ORGNM"]
	assert.False(t, has)
}

func TestGridService_PopupConfirm(t *testing.T) {
	f := newFixture(t, GridServiceOptions{}, memgrid.Options{})
	parent := f.mount(t, "employees")
	_, err := f.svc.Search(context.Background(), parent.ID, SearchRequest{UserTriggered: true})
	require.NoError(t, err)

	var confirmed []PopupConfirmed
	unsubscribe := f.bus.Subscribe(func(ev *PopupConfirmed) {
		confirmed = append(confirmed, *ev)
	})
	defer unsubscribe()

	_, err = f.svc.OpenPopup(context.Background(), parent.ID, OpenPopupRequest{Popup: "nope", ParentSeq: 1})
	assert.ErrorIs(t, err, screen.ErrPopupNotFound)
	_, err = f.svc.OpenPopup(context.Background(), parent.ID, OpenPopupRequest{Popup: "organization", ParentSeq: 42})
	assert.ErrorIs(t, err, grid.ErrRowNotFound)

	popup, err := f.svc.OpenPopup(context.Background(), parent.ID, OpenPopupRequest{
		Popup:     "organization",
		ParentSeq: 2,
		WaitReady: true,
	})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, popup.ParentID)
	assert.Equal(t, "organization", popup.Popup)
	assert.Equal(t, "organizations", popup.Screen)
	assert.Equal(t, reportapi.Params{"orgCd": "D02"}, popup.Params)

	_, err = f.svc.Search(context.Background(), popup.ID, SearchRequest{UserTriggered: true})
	require.NoError(t, err)
	assert.Equal(t, "D02", f.api.last("/hr/organizations/search")["p_orgCd"])

	_, err = f.svc.Confirm(context.Background(), parent.ID, []int{1})
	assert.ErrorIs(t, err, ErrNotPopup)
	_, err = f.svc.Confirm(context.Background(), popup.ID, nil)
	assert.ErrorIs(t, err, ErrNothingSelected)

	result, err := f.svc.Confirm(context.Background(), popup.ID, []int{2})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, result.ParentID)
	assert.Equal(t, 2, result.ParentSeq)
	assert.Equal(t, "D03", result.ParentRow["ORGCD"])
	assert.Equal(t, "Research", result.ParentRow["ORGNM"])

	require.Len(t, confirmed, 1)
	assert.Equal(t, popup.ID, confirmed[0].PopupID)

	_, err = f.svc.Get(popup.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.Confirm(context.Background(), popup.ID, []int{1})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGridService_PopupConfirmValidatesParentRow(t *testing.T) {
	f := newFixture(t, GridServiceOptions{}, memgrid.Options{})
	parent := f.mount(t, "employees")
	_, err := f.svc.Search(context.Background(), parent.ID, SearchRequest{UserTriggered: true})
	require.NoError(t, err)

	openOdd := func() SessionInfo {
		popup, err := f.svc.OpenPopup(context.Background(), parent.ID, OpenPopupRequest{
			Popup:     "organization",
			ParentSeq: 2,
			WaitReady: true,
		})
		require.NoError(t, err)
		_, err = f.svc.Search(context.Background(), popup.ID, SearchRequest{
			Params:        reportapi.Params{"variant": "odd"},
			UserTriggered: true,
		})
		require.NoError(t, err)
		return popup
	}

	popup := openOdd()
	_, err = f.svc.Confirm(context.Background(), popup.ID, []int{1})
	assert.ErrorIs(t, err, serrors.ValidationError("ORGCD", "Org code", "max", "10"))
	_, err = f.svc.Get(popup.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	page, err := f.svc.Page(parent.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "D02", page.Rows[1]["ORGCD"])
	assert.Equal(t, "Finance", page.Rows[1]["ORGNM"])

	popup = openOdd()
	result, err := f.svc.Confirm(context.Background(), popup.ID, []int{2})
	require.NoError(t, err)
	assert.Equal(t, "D09", result.ParentRow["ORGCD"])
	assert.Equal(t, "Finance", result.ParentRow["ORGNM"])
}

func TestGridService_CloseCascadesToPopups(t *testing.T) {
	f := newFixture(t, GridServiceOptions{}, memgrid.Options{})
	parent := f.mount(t, "employees")
	_, err := f.svc.Search(context.Background(), parent.ID, SearchRequest{UserTriggered: true})
	require.NoError(t, err)
	popup, err := f.svc.OpenPopup(context.Background(), parent.ID, OpenPopupRequest{Popup: "organization", ParentSeq: 1})
	require.NoError(t, err)

	var reasons []string
	unsubscribe := f.bus.Subscribe(func(ev *SessionClosed) {
		reasons = append(reasons, ev.Reason)
	})
	defer unsubscribe()

	require.NoError(t, f.svc.Close(parent.ID))
	assert.Equal(t, []string{CloseReasonParent, CloseReasonUser}, reasons)
	assert.Equal(t, 0, f.svc.Len())
	_, err = f.svc.Get(popup.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, f.svc.Close(parent.ID), ErrSessionNotFound)

	f.engine.Wait()
	assert.Equal(t, 0, f.engine.Live())
}

func TestGridService_Export(t *testing.T) {
	f := newFixture(t, GridServiceOptions{}, memgrid.Options{})
	info := f.mount(t, "employees")

	_, err := f.svc.Search(context.Background(), info.ID, SearchRequest{UserTriggered: true})
	require.NoError(t, err)

	data, filename, err := f.svc.Export(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, "employees.xlsx", filename)
	assert.True(t, strings.HasPrefix(string(data), "PK"))
}

func TestGridService_NotReady(t *testing.T) {
	f := newFixture(t, GridServiceOptions{}, memgrid.Options{BuildLatency: 200 * time.Millisecond})
	info, err := f.svc.Mount(context.Background(), MountRequest{Screen: "employees"})
	require.NoError(t, err)
	assert.Equal(t, grid.StatusInitializing, info.Status)

	_, err = f.svc.Page(info.ID, 1, 10)
	assert.ErrorIs(t, err, binding.ErrNotReady)
	_, _, err = f.svc.Export(context.Background(), info.ID)
	assert.ErrorIs(t, err, binding.ErrNotReady)
	_, err = f.svc.UpdateRow(context.Background(), info.ID, 1, []byte(`{"EMPNM":"x"}`))
	assert.ErrorIs(t, err, grid.ErrRowNotFound)

	require.NoError(t, f.svc.Close(info.ID))
}

func TestGridService_BuildFailure(t *testing.T) {
	f := newFixture(t, GridServiceOptions{}, memgrid.Options{
		FailBuild: func(grid.Container) error { return errors.New("widget exploded") },
	})
	info, err := f.svc.Mount(context.Background(), MountRequest{Screen: "employees", WaitReady: true})
	require.NoError(t, err)
	assert.Equal(t, grid.StatusError, info.Status)
	assert.Equal(t, reportapi.ErrTransport.Message, info.Message)

	ko := intl.WithLocalizer(context.Background(), i18n.NewLocalizer(intl.LoadBundle(), "ko"))
	info, err = f.svc.Mount(ko, MountRequest{Screen: "employees", WaitReady: true})
	require.NoError(t, err)
	assert.Equal(t, "데이터를 불러오지 못했습니다. 잠시 후 다시 시도하세요.", info.Message)

	info, err = f.svc.Get(info.ID)
	require.NoError(t, err)
	assert.NotContains(t, info.Message, "widget exploded")
}

func TestGridService_MaxSessions(t *testing.T) {
	f := newFixture(t, GridServiceOptions{MaxSessions: 1}, memgrid.Options{})
	f.mount(t, "organizations")
	_, err := f.svc.Mount(context.Background(), MountRequest{Screen: "organizations"})
	assert.ErrorIs(t, err, ErrTooManySessions)

	_, err = f.svc.Mount(context.Background(), MountRequest{Screen: "missing"})
	assert.ErrorIs(t, err, screen.ErrScreenNotFound)
}

func TestCleaner_ReapsIdleSessions(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	f := newFixture(t, GridServiceOptions{Now: clock}, memgrid.Options{})
	stale := f.mount(t, "employees")
	advance(20 * time.Minute)
	fresh := f.mount(t, "organizations")
	advance(15 * time.Minute)

	c := NewCleaner(f.svc, CleanerOptions{Enabled: true, IdleTTL: 30 * time.Minute})
	c.now = clock
	assert.Equal(t, 1, c.cleanOnce())

	_, err := f.svc.Get(stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.Get(fresh.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
	assert.NoError(t, NewCleaner(f.svc, CleanerOptions{}).Run(ctx))
}

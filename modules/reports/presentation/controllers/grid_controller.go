package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"

	"github.com/iota-uz/reportgrid/modules/reports/domain/screen"
	"github.com/iota-uz/reportgrid/modules/reports/services"
	"github.com/iota-uz/reportgrid/pkg/application"
	"github.com/iota-uz/reportgrid/pkg/binding"
	"github.com/iota-uz/reportgrid/pkg/composables"
	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/httpapi"
	"github.com/iota-uz/reportgrid/pkg/reportapi"
	"github.com/iota-uz/reportgrid/pkg/serrors"
)

const maxPatchBytes = 1 << 20

var (
	errInvalidRequest = serrors.NewError("REPORTS_INVALID_REQUEST", "invalid request", "Reports.Errors.InvalidRequest")
	errInternal       = serrors.NewError("REPORTS_INTERNAL", "internal error", "Reports.Errors.Internal")
)

type GridController struct {
	app       application.Application
	grids     *services.GridService
	apiPrefix string
}

func NewGridController(app application.Application) application.Controller {
	return &GridController{
		app:       app,
		grids:     app.Service(services.GridService{}).(*services.GridService),
		apiPrefix: "/reports/api",
	}
}

func (c *GridController) Key() string {
	return c.apiPrefix
}

func (c *GridController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("/screens", c.ListScreens).Methods(http.MethodGet)
	api.HandleFunc("/screens/{screen}/grids", c.Mount).Methods(http.MethodPost)

	api.HandleFunc("/grids", c.ListGrids).Methods(http.MethodGet)
	api.HandleFunc("/grids/{id}", c.GetGrid).Methods(http.MethodGet)
	api.HandleFunc("/grids/{id}", c.Close).Methods(http.MethodDelete)
	api.HandleFunc("/grids/{id}:search", c.Search).Methods(http.MethodPost)
	api.HandleFunc("/grids/{id}:confirm", c.Confirm).Methods(http.MethodPost)
	api.HandleFunc("/grids/{id}/filter", c.SetFilter).Methods(http.MethodPut)
	api.HandleFunc("/grids/{id}/filter", c.ClearFilter).Methods(http.MethodDelete)
	api.HandleFunc("/grids/{id}/columns/{field}:show", c.ShowColumn).Methods(http.MethodPost)
	api.HandleFunc("/grids/{id}/columns/{field}:hide", c.HideColumn).Methods(http.MethodPost)
	api.HandleFunc("/grids/{id}/rows", c.Rows).Methods(http.MethodGet)
	api.HandleFunc("/grids/{id}/rows/{seq}", c.UpdateRow).Methods(http.MethodPatch)
	api.HandleFunc("/grids/{id}/export", c.Export).Methods(http.MethodGet)
	api.HandleFunc("/grids/{id}/popups/{popup}", c.OpenPopup).Methods(http.MethodPost)
	api.HandleFunc("/grids/{id}/events", c.Events).Methods(http.MethodGet)
}

type screenResponse struct {
	Key         string            `json:"key"`
	Title       string            `json:"title"`
	Columns     []grid.ColumnSpec `json:"columns"`
	Editable    []string          `json:"editable,omitempty"`
	Popups      []string          `json:"popups,omitempty"`
	Dynamic     bool              `json:"dynamic"`
	ExportsFile string            `json:"exportFilename"`
}

func (c *GridController) ListScreens(w http.ResponseWriter, r *http.Request) {
	list := c.grids.Catalog().List()
	out := make([]screenResponse, 0, len(list))
	for _, sc := range list {
		item := screenResponse{
			Key:         sc.Key,
			Title:       sc.Title,
			Columns:     sc.GridColumns(),
			Dynamic:     sc.Manifest != nil,
			ExportsFile: sc.ExportFilename(),
		}
		for _, e := range sc.Editable {
			item.Editable = append(item.Editable, e.Field)
		}
		for _, p := range sc.Popups {
			item.Popups = append(item.Popups, p.Key)
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

type mountRequest struct {
	Params map[string]any `json:"params"`
	Wait   bool           `json:"wait"`
}

func (c *GridController) Mount(w http.ResponseWriter, r *http.Request) {
	var req mountRequest
	if err := decodeOptionalJSON(r.Body, &req); err != nil {
		writeError(w, r, errInvalidRequest)
		return
	}
	info, err := c.grids.Mount(r.Context(), services.MountRequest{
		Screen:    mux.Vars(r)["screen"],
		Params:    reportapi.Params(req.Params),
		WaitReady: req.Wait,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/grids/%s", c.apiPrefix, info.ID))
	writeJSON(w, http.StatusCreated, info)
}

func (c *GridController) ListGrids(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.grids.Sessions())
}

func (c *GridController) GetGrid(w http.ResponseWriter, r *http.Request) {
	info, err := c.grids.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (c *GridController) Close(w http.ResponseWriter, r *http.Request) {
	if err := c.grids.Close(mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Params        map[string]any `json:"params"`
	UserTriggered *bool          `json:"userTriggered"`
}

// searchForm is the urlencoded variant: params[name]=value.
type searchForm struct {
	Params        map[string]string `form:"params"`
	UserTriggered *bool             `form:"userTriggered"`
}

func (c *GridController) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if isForm(r) {
		form, err := composables.UseForm(&searchForm{}, r)
		if err != nil {
			writeError(w, r, errInvalidRequest)
			return
		}
		req.UserTriggered = form.UserTriggered
		req.Params = make(map[string]any, len(form.Params))
		for k, v := range form.Params {
			req.Params[k] = v
		}
	} else if err := decodeOptionalJSON(r.Body, &req); err != nil {
		writeError(w, r, errInvalidRequest)
		return
	}

	userTriggered := true
	if req.UserTriggered != nil {
		userTriggered = *req.UserTriggered
	}
	out, err := c.grids.Search(r.Context(), mux.Vars(r)["id"], services.SearchRequest{
		Params:        reportapi.Params(req.Params),
		UserTriggered: userTriggered,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *GridController) SetFilter(w http.ResponseWriter, r *http.Request) {
	var state grid.FilterState
	if isForm(r) {
		form, err := composables.UseForm(&grid.FilterState{}, r)
		if err != nil {
			writeError(w, r, errInvalidRequest)
			return
		}
		state = *form
	} else if err := decodeJSON(r.Body, &state); err != nil {
		writeError(w, r, errInvalidRequest)
		return
	}
	info, err := c.grids.SetFilter(mux.Vars(r)["id"], state)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (c *GridController) ClearFilter(w http.ResponseWriter, r *http.Request) {
	info, err := c.grids.ClearFilter(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (c *GridController) ShowColumn(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	info, err := c.grids.ShowColumn(vars["id"], vars["field"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (c *GridController) HideColumn(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	info, err := c.grids.HideColumn(vars["id"], vars["field"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type rowsQuery struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

func (c *GridController) Rows(w http.ResponseWriter, r *http.Request) {
	q, err := composables.UseQuery(&rowsQuery{}, r)
	if err != nil {
		writeError(w, r, errInvalidRequest)
		return
	}
	page, err := c.grids.Page(mux.Vars(r)["id"], q.Page, q.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (c *GridController) UpdateRow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	seq, err := strconv.Atoi(vars["seq"])
	if err != nil || seq < 1 {
		writeError(w, r, errInvalidRequest)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPatchBytes))
	if err != nil {
		writeError(w, r, errInvalidRequest)
		return
	}
	row, err := c.grids.UpdateRow(r.Context(), vars["id"], seq, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (c *GridController) Export(w http.ResponseWriter, r *http.Request) {
	data, filename, err := c.grids.Export(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type openPopupRequest struct {
	ParentSeq int  `json:"parentSeq"`
	Wait      bool `json:"wait"`
}

func (c *GridController) OpenPopup(w http.ResponseWriter, r *http.Request) {
	var req openPopupRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, r, errInvalidRequest)
		return
	}
	vars := mux.Vars(r)
	info, err := c.grids.OpenPopup(r.Context(), vars["id"], services.OpenPopupRequest{
		Popup:     vars["popup"],
		ParentSeq: req.ParentSeq,
		WaitReady: req.Wait,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/grids/%s", c.apiPrefix, info.ID))
	writeJSON(w, http.StatusCreated, info)
}

type confirmRequest struct {
	Seqs []int `json:"seqs"`
}

func (c *GridController) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, r, errInvalidRequest)
		return
	}
	result, err := c.grids.Confirm(r.Context(), mux.Vars(r)["id"], req.Seqs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Events streams the session's binding events over a websocket.
func (c *GridController) Events(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := c.grids.Get(id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := c.app.Websocket().ServeChannel(w, r, services.Channel(id)); err != nil {
		composables.UseLogger(r.Context()).WithError(err).Debug("reports: event stream ended")
	}
}

func isForm(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data"
}

func decodeJSON(body io.ReadCloser, out any) error {
	defer func() { _ = body.Close() }()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(body io.ReadCloser, out any) error {
	if err := decodeJSON(body, out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON[T any](w http.ResponseWriter, status int, payload T) {
	if err := httpapi.WriteJSON(w, status, payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var be *serrors.BaseError
	if !errors.As(err, &be) {
		composables.UseLogger(r.Context()).WithError(err).Error("reports: request failed")
		be = errInternal
	}
	_ = httpapi.WriteBaseError(r.Context(), w, statusFor(be), be, nil)
}

func statusFor(err *serrors.BaseError) int {
	switch {
	case errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, screen.ErrScreenNotFound),
		errors.Is(err, screen.ErrPopupNotFound),
		errors.Is(err, grid.ErrRowNotFound),
		errors.Is(err, grid.ErrColumnNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrAlreadyConfirmed),
		errors.Is(err, binding.ErrNotReady):
		return http.StatusConflict
	case strings.HasPrefix(err.Code, "VALIDATION_"):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errInternal):
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

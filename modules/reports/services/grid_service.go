package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iota-uz/go-i18n/v2/i18n"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/reportgrid/modules/reports/domain/screen"
	"github.com/iota-uz/reportgrid/pkg/binding"
	"github.com/iota-uz/reportgrid/pkg/composables"
	"github.com/iota-uz/reportgrid/pkg/eventbus"
	"github.com/iota-uz/reportgrid/pkg/excel"
	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/intl"
	"github.com/iota-uz/reportgrid/pkg/logging"
	"github.com/iota-uz/reportgrid/pkg/reportapi"
	"github.com/iota-uz/reportgrid/pkg/serrors"
)

// Fetcher is the remote data API as seen by grid sessions.
type Fetcher interface {
	Search(ctx context.Context, req reportapi.Request) ([]grid.Row, error)
	SearchWithManifest(ctx context.Context, req reportapi.Request, m reportapi.Manifest) ([]grid.Row, []grid.ColumnSpec, error)
}

type GridServiceOptions struct {
	MountTimeout time.Duration
	SettleDelay  time.Duration
	PageSize     int
	MaxPageSize  int
	// MaxSessions caps open sessions; zero means no cap.
	MaxSessions int
	Logger      *logrus.Entry
	Now         func() time.Time
}

func (o *GridServiceOptions) setDefaults() {
	if o.MountTimeout == 0 {
		o.MountTimeout = 5 * time.Second
	}
	if o.PageSize == 0 {
		o.PageSize = 50
	}
	if o.MaxPageSize == 0 {
		o.MaxPageSize = 1000
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Logger = logging.OrNop(o.Logger)
}

// GridService owns the binding controller of every mounted screen and popup.
type GridService struct {
	catalog   *screen.Catalog
	fetcher   Fetcher
	adapter   grid.Adapter
	publisher eventbus.EventBus
	exporter  *excel.ExcelExporter
	opts      GridServiceOptions

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewGridService(
	catalog *screen.Catalog,
	fetcher Fetcher,
	adapter grid.Adapter,
	publisher eventbus.EventBus,
	opts GridServiceOptions,
) *GridService {
	opts.setDefaults()
	if publisher == nil {
		publisher = eventbus.NewEventPublisher(opts.Logger)
	}
	return &GridService{
		catalog:   catalog,
		fetcher:   fetcher,
		adapter:   adapter,
		publisher: publisher,
		exporter:  excel.NewExcelExporter(excel.DefaultOptions(), excel.DefaultStyleOptions()),
		opts:      opts,
		sessions:  make(map[string]*Session),
	}
}

func (s *GridService) Catalog() *screen.Catalog {
	return s.catalog
}

func (s *GridService) log(ctx context.Context) *logrus.Entry {
	if l, ok := composables.TryUseLogger(ctx); ok {
		return l
	}
	return s.opts.Logger
}

type MountRequest struct {
	Screen string
	Params reportapi.Params
	// WaitReady blocks until the widget is built or failed.
	WaitReady bool
}

// Mount opens a new session for a top-level screen.
func (s *GridService) Mount(ctx context.Context, req MountRequest) (SessionInfo, error) {
	sc, err := s.catalog.Get(req.Screen)
	if err != nil {
		return SessionInfo{}, err
	}
	sess, err := s.mount(ctx, sc, req.Params, nil, "screen", req.WaitReady)
	if err != nil {
		return SessionInfo{}, err
	}
	return sess.Info(), nil
}

func (s *GridService) mount(
	ctx context.Context,
	sc *screen.Screen,
	params reportapi.Params,
	link func(*Session),
	kind string,
	wait bool,
) (*Session, error) {
	localizer, _ := intl.UseLocalizer(ctx)

	s.mu.Lock()
	if s.opts.MaxSessions > 0 && len(s.sessions) >= s.opts.MaxSessions {
		s.mu.Unlock()
		return nil, ErrTooManySessions
	}
	id := uuid.NewString()
	sess := &Session{
		ID:        id,
		Screen:    sc,
		Params:    params.Clone(),
		container: grid.NewPendingContainer(id),
		lastUsed:  s.opts.Now(),
		children:  make(map[string]struct{}),
	}
	if link != nil {
		link(sess)
	}
	sess.controller = binding.New(id, s.adapter, binding.Options{
		Columns:              sc.GridColumns(),
		DefaultFilterColumns: sc.DefaultFilterColumns,
		Widget: grid.Options{
			Layout:      "fitColumns",
			Placeholder: intl.T(ctx, "Reports.Messages.Placeholder", "No data", nil),
			Index:       grid.FieldSeq,
		},
		MountTimeout:     s.opts.MountTimeout,
		SettleDelay:      s.opts.SettleDelay,
		NoResultsMessage: intl.T(ctx, "Reports.Messages.NoResults", "No results", nil),
		ErrorMessage:     errorMessage(localizer),
		OnEvent: func(ev binding.Event) {
			s.publisher.Publish(&GridEvent{SessionID: id, Screen: sc.Key, Event: ev})
		},
		Logger: s.opts.Logger.WithField("screen", sc.Key),
	})
	s.sessions[id] = sess
	s.mu.Unlock()

	sessionsActive.Inc()
	sessionsOpenedTotal.WithLabelValues(sc.Key, kind).Inc()

	sess.container.MarkReady()
	if err := sess.controller.Mount(ctx, sess.container); err != nil {
		// The session stays open in the error status until it is closed.
		s.log(ctx).WithError(err).WithField("session", id).Warn("reports: grid mount failed")
		return sess, nil
	}
	if wait {
		waitCtx, cancel := context.WithTimeout(ctx, s.opts.MountTimeout)
		defer cancel()
		if _, err := sess.controller.WaitReady(waitCtx); err != nil {
			s.log(ctx).WithError(err).WithField("session", id).Warn("reports: grid not built in time")
		}
	}
	return sess, nil
}

// errorMessage turns fetch and construction failures into the text shown
// over the grid, localized for the user that opened it.
func errorMessage(l *i18n.Localizer) func(error) string {
	generic := reportapi.ErrTransport.Localize(l)
	return func(err error) string {
		switch reportapi.Kind(err) {
		case "business", "declared":
			return reportapi.UserMessage(err, generic)
		case "transport":
			return generic
		}
		var be *serrors.BaseError
		if errors.As(err, &be) {
			return be.Localize(l)
		}
		return generic
	}
}

func (s *GridService) session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch(s.opts.Now())
	return sess, nil
}

// Get returns the current state of a session.
func (s *GridService) Get(id string) (SessionInfo, error) {
	sess, err := s.session(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return sess.Info(), nil
}

// Sessions lists every open session.
func (s *GridService) Sessions() []SessionInfo {
	s.mu.RLock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()
	out := make([]SessionInfo, len(all))
	for i, sess := range all {
		out[i] = sess.Info()
	}
	return out
}

// WaitReady blocks until the session leaves the initializing status.
func (s *GridService) WaitReady(ctx context.Context, id string) (SessionInfo, error) {
	sess, err := s.session(id)
	if err != nil {
		return SessionInfo{}, err
	}
	if _, err := sess.controller.WaitReady(ctx); err != nil {
		return sess.Info(), err
	}
	return sess.Info(), nil
}

type SearchRequest struct {
	Params        reportapi.Params
	UserTriggered bool
}

type SearchOutcome struct {
	Status    grid.Status `json:"status"`
	RowCount  int         `json:"rowCount"`
	NoResults bool        `json:"noResults"`
	Discarded bool        `json:"discarded,omitempty"`
	ErrorKind string      `json:"errorKind,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Search fetches rows for the session and applies them to its grid. Fetch
// failures are reported in the outcome; the returned error is only set when
// the session does not exist.
func (s *GridService) Search(ctx context.Context, id string, req SearchRequest) (SearchOutcome, error) {
	sess, err := s.session(id)
	if err != nil {
		return SearchOutcome{}, err
	}
	sc := sess.Screen
	request := sc.Request(sess.Params.Merge(req.Params))

	fetch := func(ctx context.Context) (binding.Result, error) {
		if sc.Manifest != nil {
			rows, cols, err := s.fetcher.SearchWithManifest(ctx, request, *sc.Manifest)
			if err != nil {
				return binding.Result{}, err
			}
			if cols == nil {
				cols = []grid.ColumnSpec{}
			}
			return binding.Result{Rows: rows, Dynamic: cols}, nil
		}
		rows, err := s.fetcher.Search(ctx, request)
		if err != nil {
			return binding.Result{}, err
		}
		return binding.Result{Rows: rows}, nil
	}

	out := sess.controller.Search(ctx, fetch, req.UserTriggered)
	result := SearchOutcome{
		Status:    sess.controller.Status(),
		RowCount:  out.RowCount,
		NoResults: out.NoResults,
		Discarded: out.Discarded,
		Message:   out.Message,
	}
	outcome := "ok"
	switch {
	case out.Discarded:
		outcome = "discarded"
	case out.Err != nil:
		result.ErrorKind = reportapi.Kind(out.Err)
		outcome = result.ErrorKind
		s.log(ctx).WithError(out.Err).WithFields(logrus.Fields{
			"session": id,
			"screen":  sc.Key,
		}).Warn("reports: search failed")
	case out.NoResults:
		outcome = "empty"
	}
	searchesTotal.WithLabelValues(sc.Key, outcome).Inc()
	return result, nil
}

func (s *GridService) SetFilter(id string, state grid.FilterState) (SessionInfo, error) {
	sess, err := s.session(id)
	if err != nil {
		return SessionInfo{}, err
	}
	sess.controller.SetFilter(state)
	return sess.Info(), nil
}

func (s *GridService) ClearFilter(id string) (SessionInfo, error) {
	sess, err := s.session(id)
	if err != nil {
		return SessionInfo{}, err
	}
	sess.controller.ClearFilter()
	return sess.Info(), nil
}

func (s *GridService) ShowColumn(id, field string) (SessionInfo, error) {
	return s.setColumnVisible(id, field, true)
}

func (s *GridService) HideColumn(id, field string) (SessionInfo, error) {
	return s.setColumnVisible(id, field, false)
}

func (s *GridService) setColumnVisible(id, field string, visible bool) (SessionInfo, error) {
	sess, err := s.session(id)
	if err != nil {
		return SessionInfo{}, err
	}
	if visible {
		err = sess.controller.ShowColumn(field)
	} else {
		err = sess.controller.HideColumn(field)
	}
	if err != nil {
		return SessionInfo{}, err
	}
	return sess.Info(), nil
}

type PageResult struct {
	Status    grid.Status       `json:"status"`
	Columns   []grid.ColumnSpec `json:"columns"`
	Rows      []grid.Row        `json:"rows"`
	Total     int               `json:"total"`
	Page      int               `json:"page"`
	Limit     int               `json:"limit"`
	Alert     string            `json:"alert,omitempty"`
	AlertKind grid.AlertKind    `json:"alertKind,omitempty"`
}

// Page returns one page of the rows that pass the active filter.
func (s *GridService) Page(id string, page, limit int) (PageResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return PageResult{}, err
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.opts.PageSize
	}
	if limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}
	snap, err := sess.controller.Snapshot()
	if err != nil {
		return PageResult{Status: sess.controller.Status(), Page: page, Limit: limit}, err
	}
	start := (page - 1) * limit
	if start > len(snap.Rows) {
		start = len(snap.Rows)
	}
	end := start + limit
	if end > len(snap.Rows) {
		end = len(snap.Rows)
	}
	return PageResult{
		Status:    grid.StatusReady,
		Columns:   snap.Columns,
		Rows:      snap.Rows[start:end],
		Total:     snap.Total,
		Page:      page,
		Limit:     limit,
		Alert:     snap.Alert,
		AlertKind: snap.AlertKind,
	}, nil
}

// Export renders the visible rows and columns of a ready grid as xlsx.
func (s *GridService) Export(ctx context.Context, id string) ([]byte, string, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, "", err
	}
	snap, err := sess.controller.Snapshot()
	if err != nil {
		return nil, "", err
	}
	sc := sess.Screen
	filename := sc.ExportFilename()
	ds := excel.NewGridDataSource(snap, sc.Export.NumberGroups, sc.Export.IncludeHidden...).WithSheetName(filename)
	data, err := s.exporter.Export(ctx, ds)
	if err != nil {
		return nil, "", err
	}
	return data, filename, nil
}

// Close unmounts the session after closing its popups.
func (s *GridService) Close(id string) error {
	return s.close(id, CloseReasonUser)
}

func (s *GridService) close(id, reason string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	for _, child := range sess.childIDs() {
		if err := s.close(child, CloseReasonParent); err != nil && !errors.Is(err, ErrSessionNotFound) {
			s.opts.Logger.WithError(err).WithField("session", child).Warn("reports: close popup failed")
		}
	}
	sess.controller.Unmount()
	sess.container.Remove()

	if sess.ParentID != "" {
		s.mu.RLock()
		parent, ok := s.sessions[sess.ParentID]
		s.mu.RUnlock()
		if ok {
			parent.removeChild(id)
		}
	}

	sessionsActive.Dec()
	sessionsClosedTotal.WithLabelValues(reason).Inc()
	s.publisher.Publish(&SessionClosed{SessionID: id, Screen: sess.Screen.Key, Reason: reason})
	return nil
}

// ReapIdle closes sessions unused for longer than ttl and returns how many
// were closed, popups of reaped parents included.
func (s *GridService) ReapIdle(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	s.mu.RLock()
	idle := make([]string, 0)
	for id, sess := range s.sessions {
		if sess.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	s.mu.RUnlock()

	before := s.Len()
	for _, id := range idle {
		if err := s.close(id, CloseReasonIdle); err != nil && !errors.Is(err, ErrSessionNotFound) {
			s.opts.Logger.WithError(err).WithField("session", id).Warn("reports: reap failed")
		}
	}
	return before - s.Len()
}

func (s *GridService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes every session.
func (s *GridService) Shutdown() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if sess.ParentID == "" {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	for _, id := range ids {
		_ = s.close(id, CloseReasonUser)
	}
	// popups whose parent disappeared concurrently
	for _, info := range s.Sessions() {
		_ = s.close(info.ID, CloseReasonUser)
	}
}

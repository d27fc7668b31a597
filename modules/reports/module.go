package reports

import (
	"embed"
	"encoding/json"

	"github.com/iota-uz/reportgrid/modules/reports/domain/screen"
	"github.com/iota-uz/reportgrid/modules/reports/presentation/controllers"
	"github.com/iota-uz/reportgrid/modules/reports/services"
	"github.com/iota-uz/reportgrid/pkg/application"
	"github.com/iota-uz/reportgrid/pkg/configuration"
	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/grid/memgrid"
	"github.com/iota-uz/reportgrid/pkg/reportapi"
)

//go:embed presentation/locales/*.toml
var localeFiles embed.FS

// ModuleOptions overrides the pieces otherwise built from configuration.
type ModuleOptions struct {
	Catalog *screen.Catalog
	Fetcher services.Fetcher
	Adapter grid.Adapter
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	conf := configuration.Use()
	log := app.Logger().WithField("module", m.Name())

	app.RegisterLocaleFiles(&localeFiles)

	catalog := m.options.Catalog
	if catalog == nil {
		var err error
		if catalog, err = screen.Load(conf.ScreensFile); err != nil {
			return err
		}
	}
	fetcher := m.options.Fetcher
	if fetcher == nil {
		client, err := reportapi.New(reportapi.Options{
			BaseURL:         conf.ReportAPI.URL,
			Authorization:   conf.ReportAPI.Authorization,
			Timeout:         conf.ReportAPI.Timeout,
			Debug:           conf.ReportAPI.Debug,
			DebugParam:      conf.ReportAPI.DebugParam,
			RequestIDHeader: conf.RequestIDHeader,
			Logger:          log.WithField("component", "reportapi"),
		})
		if err != nil {
			return err
		}
		fetcher = client
	}
	adapter := m.options.Adapter
	if adapter == nil {
		adapter = memgrid.New(memgrid.Options{
			BuildLatency: conf.Grid.BuildLatency,
			Logger:       log.WithField("component", "memgrid"),
		})
	}

	grids := services.NewGridService(catalog, fetcher, adapter, app.EventPublisher(), services.GridServiceOptions{
		MountTimeout: conf.Grid.MountTimeout,
		SettleDelay:  conf.Grid.SettleDelay,
		PageSize:     conf.Grid.PageSize,
		MaxPageSize:  conf.Grid.MaxPageSize,
		MaxSessions:  conf.Session.MaxSessions,
		Logger:       log.WithField("component", "grids"),
	})
	app.RegisterServices(
		grids,
		services.NewCleaner(grids, services.CleanerOptions{
			Enabled:  true,
			Interval: conf.Session.CleanerInterval,
			IdleTTL:  conf.Session.IdleTTL,
			Logger:   log.WithField("component", "cleaner"),
		}),
	)

	app.RegisterControllers(
		controllers.NewGridController(app),
	)

	forwardEvents(app)
	return nil
}

func (m *Module) Name() string {
	return "reports"
}

type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// forwardEvents relays session events to the websocket channel of the
// session they belong to.
func forwardEvents(app application.Application) {
	hub := app.Websocket()
	bus := app.EventPublisher()
	log := app.Logger()

	send := func(channel, kind string, payload any) {
		if hub.ConnectionsInChannel(channel) == 0 {
			return
		}
		data, err := json.Marshal(wsMessage{Type: kind, Payload: payload})
		if err != nil {
			log.WithError(err).Warn("reports: encode event failed")
			return
		}
		hub.Broadcast(channel, data)
	}

	bus.Subscribe(func(ev *services.GridEvent) {
		send(services.Channel(ev.SessionID), "grid", ev.Event)
	})
	bus.Subscribe(func(ev *services.SessionClosed) {
		send(services.Channel(ev.SessionID), "closed", ev)
	})
	bus.Subscribe(func(ev *services.PopupConfirmed) {
		send(services.Channel(ev.ParentID), "popup_confirmed", ev)
	})
}

package application

import (
	"fmt"
	"io/fs"
	"reflect"
	"sort"

	"github.com/gorilla/mux"
	"github.com/iota-uz/go-i18n/v2/i18n"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/reportgrid/pkg/eventbus"
	"github.com/iota-uz/reportgrid/pkg/intl"
	"github.com/iota-uz/reportgrid/pkg/logging"
)

type Controller interface {
	Register(r *mux.Router)
	Key() string
}

type Module interface {
	Name() string
	Register(app Application) error
}

// Application is the registry modules plug their controllers, services and
// locale files into.
type Application interface {
	Logger() *logrus.Entry
	Bundle() *i18n.Bundle
	GetSupportedLanguages() []string
	EventPublisher() eventbus.EventBus
	Websocket() Huber
	Controllers() []Controller
	Middleware() []mux.MiddlewareFunc
	RegisterControllers(controllers ...Controller)
	RegisterMiddleware(middleware ...mux.MiddlewareFunc)
	RegisterLocaleFiles(fsys ...fs.FS)
	RegisterServices(services ...any)
	Service(service any) any
	Services() map[reflect.Type]any
}

type ApplicationOptions struct {
	EventBus           eventbus.EventBus
	Logger             *logrus.Logger
	Bundle             *i18n.Bundle
	Huber              Huber
	SupportedLanguages []string
}

func defaultSupportedLanguageCodes() []string {
	return []string{"en", "ko"}
}

func New(opts *ApplicationOptions) Application {
	supportedLanguages := opts.SupportedLanguages
	if len(supportedLanguages) == 0 {
		supportedLanguages = defaultSupportedLanguageCodes()
	}
	bundle := opts.Bundle
	if bundle == nil {
		bundle = intl.LoadBundle()
	}
	var logger *logrus.Entry
	if opts.Logger != nil {
		logger = logrus.NewEntry(opts.Logger)
	}
	logger = logging.OrNop(logger)
	publisher := opts.EventBus
	if publisher == nil {
		publisher = eventbus.NewEventPublisher(logger)
	}
	hub := opts.Huber
	if hub == nil {
		hub = NewHub(&HuberOptions{Logger: opts.Logger})
	}

	return &application{
		logger:             logger,
		eventPublisher:     publisher,
		websocket:          hub,
		controllers:        make(map[string]Controller),
		services:           make(map[reflect.Type]any),
		bundle:             bundle,
		supportedLanguages: supportedLanguages,
	}
}

// application with a dynamically extendable service registry
type application struct {
	logger             *logrus.Entry
	eventPublisher     eventbus.EventBus
	websocket          Huber
	services           map[reflect.Type]any
	controllers        map[string]Controller
	middleware         []mux.MiddlewareFunc
	bundle             *i18n.Bundle
	supportedLanguages []string
}

func (app *application) Logger() *logrus.Entry {
	return app.logger
}

func (app *application) Websocket() Huber {
	return app.websocket
}

func (app *application) Middleware() []mux.MiddlewareFunc {
	return app.middleware
}

func (app *application) EventPublisher() eventbus.EventBus {
	return app.eventPublisher
}

// Controllers returns the registered controllers ordered by key.
func (app *application) Controllers() []Controller {
	keys := make([]string, 0, len(app.controllers))
	for k := range app.controllers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	controllers := make([]Controller, 0, len(keys))
	for _, k := range keys {
		controllers = append(controllers, app.controllers[k])
	}
	return controllers
}

func (app *application) RegisterControllers(controllers ...Controller) {
	for _, c := range controllers {
		app.controllers[c.Key()] = c
	}
}

func (app *application) RegisterMiddleware(middleware ...mux.MiddlewareFunc) {
	app.middleware = append(app.middleware, middleware...)
}

func (app *application) RegisterLocaleFiles(fsys ...fs.FS) {
	for _, localeFs := range fsys {
		if err := intl.RegisterLocaleFiles(app.bundle, localeFs); err != nil {
			panic(err)
		}
	}
}

// RegisterServices registers a new service in the application by its type
func (app *application) RegisterServices(services ...any) {
	for _, service := range services {
		serviceType := reflect.TypeOf(service).Elem()
		app.services[serviceType] = service
	}
}

// Service retrieves a service by its type
func (app *application) Service(service any) any {
	serviceType := reflect.TypeOf(service)
	svc, exists := app.services[serviceType]
	if !exists {
		panic(fmt.Sprintf("service %s not found", serviceType.Name()))
	}
	return svc
}

func (app *application) Services() map[reflect.Type]any {
	return app.services
}

func (app *application) Bundle() *i18n.Bundle {
	return app.bundle
}

func (app *application) GetSupportedLanguages() []string {
	return app.supportedLanguages
}

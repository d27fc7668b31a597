package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"

	"github.com/iota-uz/reportgrid/pkg/application"
	"github.com/iota-uz/reportgrid/pkg/composables"
	"github.com/iota-uz/reportgrid/pkg/configuration"
	"github.com/iota-uz/reportgrid/pkg/constants"
	"github.com/iota-uz/reportgrid/pkg/httpapi"
	"github.com/iota-uz/reportgrid/pkg/middleware"
	"github.com/iota-uz/reportgrid/pkg/server"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Application   application.Application
}

func Default(options *DefaultOptions) (*server.HTTPServer, error) {
	app := options.Application
	conf := options.Configuration

	middlewares := []mux.MiddlewareFunc{
		middleware.WithLogger(options.Logger, middleware.DefaultLoggerOptions()), // creates the root span for each request

		middleware.TracedMiddleware("app"),
		middleware.Provide(constants.AppKey, app),

		middleware.TracedMiddleware("cors"),
		middleware.Cors(conf.Origins()...),

		middleware.TracedMiddleware("localizer"),
		middleware.ProvideLocalizer(app),
	}

	if conf.RateLimit.Enabled {
		var store limiter.Store
		var err error

		switch conf.RateLimit.Storage {
		case "redis":
			store, err = middleware.NewRedisStore(conf.RateLimit.RedisURL)
			if err != nil {
				options.Logger.WithError(err).Warn("Failed to create Redis store for rate limiting, falling back to memory")
				store = middleware.NewMemoryStore()
			}
		default:
			store = middleware.NewMemoryStore()
		}

		middlewares = append(middlewares,
			middleware.TracedMiddleware("rateLimit"),
			middleware.RateLimit(middleware.RateLimitConfig{
				RequestsPerPeriod: conf.RateLimit.GlobalRPS,
				Store:             store,
			}),
		)
	}

	app.RegisterMiddleware(middlewares...)

	serverInstance := server.NewHTTPServer(
		app,
		NotFound(),
		MethodNotAllowed(),
	)
	return serverInstance, nil
}

func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httpapi.WriteError(w, http.StatusNotFound, "NOT_FOUND", "not found",
			map[string]string{"request_id": composables.UseRequestID(r.Context()), "path": r.URL.Path})
	})
}

func MethodNotAllowed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httpapi.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed",
			map[string]string{"request_id": composables.UseRequestID(r.Context()), "path": r.URL.Path})
	})
}

// CheckOrigin accepts websocket upgrades from the configured origins.
// Requests without an Origin header come from non-browser clients.
func CheckOrigin(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.TrimRight(origin, "/")]
		return ok
	}
}

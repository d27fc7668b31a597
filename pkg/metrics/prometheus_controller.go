package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iota-uz/reportgrid/pkg/application"
)

type PrometheusController struct {
	path     string
	gatherer prometheus.Gatherer
}

type Option func(c *PrometheusController)

// WithGatherer serves a registry other than the default one.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *PrometheusController) {
		c.gatherer = g
	}
}

func NewPrometheusController(path string, opts ...Option) application.Controller {
	if path == "" {
		path = "/debug/prometheus"
	}
	c := &PrometheusController{path: path, gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PrometheusController) Key() string {
	return c.path
}

func (c *PrometheusController) Register(r *mux.Router) {
	r.Handle(c.path, promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/reportgrid/internal/server"
	"github.com/iota-uz/reportgrid/modules"
	"github.com/iota-uz/reportgrid/modules/reports/services"
	"github.com/iota-uz/reportgrid/pkg/application"
	"github.com/iota-uz/reportgrid/pkg/configuration"
	"github.com/iota-uz/reportgrid/pkg/eventbus"
	"github.com/iota-uz/reportgrid/pkg/intl"
	"github.com/iota-uz/reportgrid/pkg/logging"
	"github.com/iota-uz/reportgrid/pkg/metrics"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set up OpenTelemetry if enabled
	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(ctx, conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.TempoURL)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
	}

	app := application.New(&application.ApplicationOptions{
		Bundle:             intl.LoadBundle(),
		EventBus:           eventbus.NewEventPublisher(logrus.NewEntry(logger)),
		Logger:             logger,
		SupportedLanguages: conf.Languages(),
		Huber: application.NewHub(&application.HuberOptions{
			Logger:      logger,
			CheckOrigin: server.CheckOrigin(conf.Origins()),
		}),
	})
	if err := modules.Load(app, modules.BuiltInModules...); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}

	grids := app.Service(services.GridService{}).(*services.GridService)
	defer grids.Shutdown()
	startCleaner(ctx, app, logger)

	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}
	serverInstance, err := server.Default(&server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	log.Printf("Listening on: %s\n", conf.Origin)
	if err := serverInstance.Serve(ctx, conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

func startCleaner(ctx context.Context, app application.Application, logger *logrus.Logger) {
	cleaner := app.Service(services.Cleaner{}).(*services.Cleaner)
	go func() {
		if err := cleaner.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("reports: session cleaner stopped")
		}
	}()
}

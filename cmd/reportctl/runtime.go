package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/reportgrid/modules/reports/domain/screen"
	"github.com/iota-uz/reportgrid/modules/reports/services"
	"github.com/iota-uz/reportgrid/pkg/configuration"
	"github.com/iota-uz/reportgrid/pkg/grid"
	"github.com/iota-uz/reportgrid/pkg/grid/memgrid"
	"github.com/iota-uz/reportgrid/pkg/logging"
	"github.com/iota-uz/reportgrid/pkg/reportapi"
)

// maxRows caps a single page; the CLI reads every row in one page.
const maxRows = 1 << 20

type cliEnv struct {
	URL           string        `env:"REPORT_API_URL" envDefault:"http://localhost:8080/api"`
	Authorization string        `env:"REPORT_API_AUTHORIZATION"`
	Timeout       time.Duration `env:"REPORT_API_TIMEOUT" envDefault:"30s"`
	Debug         bool          `env:"REPORT_API_DEBUG"`
	DebugParam    string        `env:"REPORT_API_DEBUG_PARAM" envDefault:"debug"`
	ScreensFile   string        `env:"REPORTS_SCREENS_FILE"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"warn"`
}

type runtime struct {
	catalog *screen.Catalog
	grids   *services.GridService
	engine  *memgrid.Engine
}

func (g *globalOptions) catalog() (*screen.Catalog, error) {
	cfg, err := loadEnv()
	if err != nil {
		return nil, err
	}
	return loadCatalog(firstNonEmpty(g.screensFile, cfg.ScreensFile))
}

func (g *globalOptions) open() (*runtime, error) {
	cfg, err := loadEnv()
	if err != nil {
		return nil, err
	}
	catalog, err := loadCatalog(firstNonEmpty(g.screensFile, cfg.ScreensFile))
	if err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	logger := logging.ConsoleLogger(level)
	logger.SetOutput(os.Stderr)
	log := logrus.NewEntry(logger)

	timeout := cfg.Timeout
	if g.timeout > 0 {
		timeout = g.timeout
	}
	client, err := reportapi.New(reportapi.Options{
		BaseURL:       firstNonEmpty(g.apiURL, cfg.URL),
		Authorization: cfg.Authorization,
		Timeout:       timeout,
		Debug:         g.debug || cfg.Debug,
		DebugParam:    cfg.DebugParam,
		Logger:        log.WithField("component", "reportapi"),
	})
	if err != nil {
		return nil, withCode(exitConfig, err)
	}

	engine := memgrid.New(memgrid.Options{Logger: log.WithField("component", "memgrid")})
	grids := services.NewGridService(catalog, client, engine, nil, services.GridServiceOptions{
		PageSize:    maxRows,
		MaxPageSize: maxRows,
		Logger:      log.WithField("component", "grids"),
	})
	return &runtime{catalog: catalog, grids: grids, engine: engine}, nil
}

func (r *runtime) Close() {
	r.grids.Shutdown()
	r.engine.Wait()
}

func loadEnv() (cliEnv, error) {
	if _, err := configuration.LoadEnv([]string{".env", ".env.local"}); err != nil {
		return cliEnv{}, withCode(exitConfig, fmt.Errorf("load env files: %w", err))
	}
	cfg, err := env.ParseAs[cliEnv]()
	if err != nil {
		return cliEnv{}, withCode(exitConfig, err)
	}
	return cfg, nil
}

func loadCatalog(path string) (*screen.Catalog, error) {
	catalog, err := screen.Load(path)
	if err != nil {
		return nil, withCode(exitConfig, err)
	}
	return catalog, nil
}

// queryOptions are the flags shared by commands that run one search.
type queryOptions struct {
	screen      string
	params      []string
	filter      string
	filterField string
}

func (q *queryOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&q.screen, "screen", "", "Screen key (required)")
	cmd.Flags().StringArrayVar(&q.params, "param", nil, "Search parameter as name=value (repeatable)")
	cmd.Flags().StringVar(&q.filter, "filter", "", "Filter text applied after the search")
	cmd.Flags().StringVar(&q.filterField, "filter-field", "", "Restrict --filter to one column")
	_ = cmd.MarkFlagRequired("screen")
}

// run mounts the screen, searches and applies the filter. The caller owns
// the returned session.
func (q *queryOptions) run(ctx context.Context, rt *runtime) (services.SessionInfo, services.SearchOutcome, error) {
	params, err := parseParams(q.params)
	if err != nil {
		return services.SessionInfo{}, services.SearchOutcome{}, err
	}
	info, err := rt.grids.Mount(ctx, services.MountRequest{Screen: q.screen, WaitReady: true})
	if err != nil {
		if errors.Is(err, screen.ErrScreenNotFound) {
			return info, services.SearchOutcome{}, withCode(exitUsage, fmt.Errorf("unknown screen %q", q.screen))
		}
		return info, services.SearchOutcome{}, withCode(exitGrid, err)
	}
	if info.Status != grid.StatusReady {
		return info, services.SearchOutcome{}, withCode(exitGrid, fmt.Errorf("grid %s: %s", info.Status, info.Message))
	}

	out, err := rt.grids.Search(ctx, info.ID, services.SearchRequest{Params: params, UserTriggered: true})
	if err != nil {
		return info, out, withCode(exitGrid, err)
	}
	if out.ErrorKind != "" {
		return info, out, withCode(exitAPI, fmt.Errorf("%s error: %s", out.ErrorKind, out.Message))
	}
	if strings.TrimSpace(q.filter) != "" {
		info, err = rt.grids.SetFilter(info.ID, grid.FilterState{SelectedField: q.filterField, Text: q.filter})
	} else {
		info, err = rt.grids.Get(info.ID)
	}
	if err != nil {
		return info, out, withCode(exitGrid, err)
	}
	return info, out, nil
}

func parseParams(raw []string) (reportapi.Params, error) {
	params := make(reportapi.Params, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, withCode(exitUsage, fmt.Errorf("invalid --param %q: expected name=value", kv))
		}
		params[name] = value
	}
	return params, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

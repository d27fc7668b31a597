package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/reportgrid/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the env files that exist, looking first in the working
// directory and then in the nearest parent that holds go.mod.
func LoadEnv(envFiles []string) (int, error) {
	root := moduleRoot()
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		switch {
		case fs.FileExists(file):
			existing = append(existing, file)
		case root != "" && fs.FileExists(filepath.Join(root, file)):
			existing = append(existing, filepath.Join(root, file))
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func moduleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if fs.FileExists(filepath.Join(dir, "go.mod")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

type ReportAPIOptions struct {
	URL           string        `env:"REPORT_API_URL" envDefault:"http://localhost:8080/api"`
	Authorization string        `env:"REPORT_API_AUTHORIZATION"`
	Timeout       time.Duration `env:"REPORT_API_TIMEOUT" envDefault:"30s"`
	Debug         bool          `env:"REPORT_API_DEBUG" envDefault:"false"`
	DebugParam    string        `env:"REPORT_API_DEBUG_PARAM" envDefault:"debug"`
}

type GridOptions struct {
	MountTimeout time.Duration `env:"GRID_MOUNT_TIMEOUT" envDefault:"5s"`
	SettleDelay  time.Duration `env:"GRID_SETTLE_DELAY" envDefault:"0s"`
	BuildLatency time.Duration `env:"GRID_BUILD_LATENCY" envDefault:"0s"`
	PageSize     int           `env:"GRID_PAGE_SIZE" envDefault:"50"`
	MaxPageSize  int           `env:"GRID_MAX_PAGE_SIZE" envDefault:"1000"`
}

type SessionOptions struct {
	IdleTTL         time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`
	CleanerInterval time.Duration `env:"SESSION_CLEANER_INTERVAL" envDefault:"1m"`
	MaxSessions     int           `env:"SESSION_MAX" envDefault:"1000"`
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"reportgrid"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type RateLimitOptions struct {
	Enabled   bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	GlobalRPS int    `env:"RATE_LIMIT_GLOBAL_RPS" envDefault:"1000"`
	Storage   string `env:"RATE_LIMIT_STORAGE" envDefault:"memory"` // memory or redis
	RedisURL  string `env:"RATE_LIMIT_REDIS_URL"`
}

// Validate checks the rate limit configuration for errors
func (r *RateLimitOptions) Validate() error {
	if r.GlobalRPS < 0 {
		return fmt.Errorf("rate limit GlobalRPS must be non-negative, got %d", r.GlobalRPS)
	}
	if r.GlobalRPS > 1000000 {
		return fmt.Errorf("rate limit GlobalRPS too high, maximum is 1,000,000, got %d", r.GlobalRPS)
	}
	if r.Storage != "memory" && r.Storage != "redis" {
		return fmt.Errorf("rate limit Storage must be 'memory' or 'redis', got '%s'", r.Storage)
	}
	if r.Storage == "redis" && r.RedisURL == "" {
		return fmt.Errorf("rate limit RedisURL is required when Storage is 'redis'")
	}
	return nil
}

type Configuration struct {
	ReportAPI     ReportAPIOptions
	Grid          GridOptions
	Session       SessionOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	RateLimit     RateLimitOptions

	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string `env:"-"`
	Domain           string `env:"DOMAIN" envDefault:"localhost"`
	Origin           string `env:"ORIGIN" envDefault:"http://localhost:3200"`
	AllowedOrigins   string `env:"ALLOWED_ORIGINS" envDefault:"*"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/app.log"`
	// ScreensFile overrides the embedded screen catalog when set.
	ScreensFile        string `env:"REPORTS_SCREENS_FILE"`
	SupportedLanguages string `env:"SUPPORTED_LANGUAGES" envDefault:"en,ko"`
	// Looked up on every request; generated when absent.
	RequestIDHeader string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
	// Falls back to request.RemoteAddr when absent.
	RealIPHeader string `env:"REAL_IP_HEADER" envDefault:"X-Real-IP"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func (c *Configuration) Scheme() string {
	if c.GoAppEnvironment == Production {
		return "https"
	}
	return "http"
}

// Languages returns the configured language codes.
func (c *Configuration) Languages() []string {
	return splitList(c.SupportedLanguages)
}

// Origins returns the CORS allow list.
func (c *Configuration) Origins() []string {
	return splitList(c.AllowedOrigins)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	}) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}

	if os.Getenv("ORIGIN") == "" {
		if c.GoAppEnvironment == "development" {
			c.Origin = fmt.Sprintf("%s://%s:%d", c.Scheme(), c.Domain, c.ServerPort)
		} else {
			c.Origin = fmt.Sprintf("%s://%s", c.Scheme(), c.Domain)
		}
	}
	return nil
}

// Validate checks values env.Parse cannot.
func (c *Configuration) Validate() error {
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit configuration error: %w", err)
	}
	if strings.TrimSpace(c.ReportAPI.URL) == "" {
		return fmt.Errorf("REPORT_API_URL is required")
	}
	if c.Grid.MountTimeout <= 0 {
		return fmt.Errorf("invalid GRID_MOUNT_TIMEOUT=%s (must be positive)", c.Grid.MountTimeout)
	}
	if c.Grid.SettleDelay < 0 || c.Grid.BuildLatency < 0 {
		return fmt.Errorf("grid delays must not be negative")
	}
	if c.Grid.PageSize <= 0 || c.Grid.MaxPageSize < c.Grid.PageSize {
		return fmt.Errorf("invalid grid paging: GRID_PAGE_SIZE=%d GRID_MAX_PAGE_SIZE=%d", c.Grid.PageSize, c.Grid.MaxPageSize)
	}
	if c.Session.IdleTTL <= 0 || c.Session.CleanerInterval <= 0 {
		return fmt.Errorf("session idle ttl and cleaner interval must be positive")
	}
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}

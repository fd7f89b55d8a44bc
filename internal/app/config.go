package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/odyssey-erp/invoice-desk/internal/invoice/render"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"30s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	AppRateLimit      int           `envconfig:"APP_RATE_LIMIT" default:"120"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"720h"`

	CSRFSecret string `envconfig:"CSRF_SECRET" required:"true"`

	DraftTTL      time.Duration `envconfig:"DRAFT_TTL" default:"24h"`
	SubmitLockTTL time.Duration `envconfig:"SUBMIT_LOCK_TTL" default:"1m"`

	UpstreamURL     string        `envconfig:"UPSTREAM_URL" default:"http://127.0.0.1:5000/api"`
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"15s"`

	GotenbergURL  string        `envconfig:"GOTENBERG_URL" default:"http://127.0.0.1:3000"`
	PrintSpoolDir string        `envconfig:"PRINT_SPOOL_DIR" default:"./var/print"`
	PrintMinRows  int           `envconfig:"PRINT_MIN_ROWS" default:"8"`
	PrintTimezone string        `envconfig:"PRINT_TIMEZONE" default:"UTC"`
	PrintTokenTTL time.Duration `envconfig:"PRINT_TOKEN_TTL" default:"15m"`

	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"2"`
	WorkerMetricsAddr string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	CompanyName    string   `envconfig:"COMPANY_NAME" default:"علي ويتم للوكالات التجارية"`
	CompanyDetails []string `envconfig:"COMPANY_DETAILS" default:"المنصور / شارع الأطباء"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret must be provided")
	}
	if cfg.CSRFSecret == "" {
		return nil, errors.New("csrf secret must be provided")
	}
	if cfg.PrintMinRows < 0 {
		return nil, errors.New("print min rows must not be negative")
	}
	if _, err := cfg.PrintLocation(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// PrintLocation resolves the zone printed dates and times use.
func (c *Config) PrintLocation() (*time.Location, error) {
	if c == nil || c.PrintTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.PrintTimezone)
	if err != nil {
		return nil, fmt.Errorf("print timezone: %w", err)
	}
	return loc, nil
}

// RenderConfig builds the document layout settings.
func (c *Config) RenderConfig() (render.Config, error) {
	loc, err := c.PrintLocation()
	if err != nil {
		return render.Config{}, err
	}
	return render.Config{
		MinRows:    c.PrintMinRows,
		Letterhead: render.Letterhead{Name: c.CompanyName, Details: c.CompanyDetails},
		Location:   loc,
	}, nil
}

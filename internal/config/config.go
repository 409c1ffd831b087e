package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentworkforce/dealsync/internal/deals"
	"github.com/agentworkforce/dealsync/internal/dealsource"
)

// ErrMissingSetting marks a required setting that was not supplied at all,
// as opposed to one supplied with an unusable value.
var ErrMissingSetting = errors.New("required setting is missing")

const (
	DefaultSchedule     = "*/10 * * * *"
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultStoreTimeout = 15 * time.Second
	DefaultEnvFile      = ".env"
)

type Config struct {
	Endpoint          string
	Schedule          string
	PageSize          int
	StoreDSN          string
	HTTPTimeout       time.Duration
	UserAgent         string
	RequestsPerSecond float64
	FetchRetries      int
	StoreTimeout      time.Duration
	LogLevel          string
	LogFormat         string
}

func Defaults() Config {
	return Config{
		Endpoint:     dealsource.DefaultEndpoint,
		Schedule:     DefaultSchedule,
		PageSize:     dealsource.DefaultPageSize,
		HTTPTimeout:  DefaultHTTPTimeout,
		UserAgent:    dealsource.DefaultUserAgent,
		StoreTimeout: DefaultStoreTimeout,
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

// Load reads DEALSYNC_* variables on top of the defaults. Variables already
// present in the environment win over the env file. An empty envFile means
// the optional ./.env; a named file that does not exist is a missing setting.
func Load(envFile string) (Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return Config{}, err
	}

	r := &envReader{}
	defaults := Defaults()
	cfg := Config{
		Endpoint:          r.envOrDefault("DEALSYNC_ENDPOINT", defaults.Endpoint),
		Schedule:          r.envOrDefault("DEALSYNC_SCHEDULE", defaults.Schedule),
		PageSize:          r.intEnv("DEALSYNC_PAGE_SIZE", defaults.PageSize),
		StoreDSN:          r.envOrDefault("DEALSYNC_STORE_DSN", ""),
		HTTPTimeout:       r.durationEnv("DEALSYNC_HTTP_TIMEOUT", defaults.HTTPTimeout),
		UserAgent:         r.envOrDefault("DEALSYNC_USER_AGENT", defaults.UserAgent),
		RequestsPerSecond: r.floatEnv("DEALSYNC_REQUESTS_PER_SECOND", defaults.RequestsPerSecond),
		FetchRetries:      r.intEnv("DEALSYNC_FETCH_RETRIES", defaults.FetchRetries),
		StoreTimeout:      r.durationEnv("DEALSYNC_STORE_TIMEOUT", defaults.StoreTimeout),
		LogLevel:          r.envOrDefault("DEALSYNC_LOG_LEVEL", defaults.LogLevel),
		LogFormat:         r.envOrDefault("DEALSYNC_LOG_FORMAT", defaults.LogFormat),
	}
	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	return cfg, nil
}

func loadEnvFile(envFile string) error {
	path := strings.TrimSpace(envFile)
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		if !explicit {
			return nil
		}
		return &deals.ConfigurationError{Setting: "env file", Err: fmt.Errorf("%w: %s does not exist", ErrMissingSetting, path)}
	}
	return &deals.ConfigurationError{Setting: "env file", Err: fmt.Errorf("read %s: %w", path, err)}
}

// BindFlags registers command-line overrides for every setting, using the
// loaded values as defaults.
func (c *Config) BindFlags(flags *flag.FlagSet) {
	flags.StringVar(&c.Endpoint, "endpoint", c.Endpoint, "remote GraphQL endpoint")
	flags.StringVar(&c.Schedule, "schedule", c.Schedule, "cron expression for the ingestion cadence")
	flags.IntVar(&c.PageSize, "page-size", c.PageSize, "records requested per page")
	flags.StringVar(&c.StoreDSN, "store-dsn", c.StoreDSN, "store DSN (memory://, postgres://, mysql://)")
	flags.DurationVar(&c.HTTPTimeout, "http-timeout", c.HTTPTimeout, "timeout for a single remote request")
	flags.StringVar(&c.UserAgent, "user-agent", c.UserAgent, "User-Agent header sent to the remote")
	flags.Float64Var(&c.RequestsPerSecond, "requests-per-second", c.RequestsPerSecond, "remote request pacing (0 disables)")
	flags.IntVar(&c.FetchRetries, "fetch-retries", c.FetchRetries, "extra attempts for a failed count or page request")
	flags.DurationVar(&c.StoreTimeout, "store-timeout", c.StoreTimeout, "timeout for a single store call")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format (console, json)")
}

// Validate reports every problem at once. Missing required settings wrap
// ErrMissingSetting; unusable values do not.
func (c Config) Validate() error {
	var errs []error
	missing := func(setting string) {
		errs = append(errs, &deals.ConfigurationError{Setting: setting, Err: ErrMissingSetting})
	}
	invalid := func(setting, format string, args ...any) {
		errs = append(errs, &deals.ConfigurationError{Setting: setting, Err: fmt.Errorf(format, args...)})
	}

	if strings.TrimSpace(c.StoreDSN) == "" {
		missing("DEALSYNC_STORE_DSN")
	}
	if strings.TrimSpace(c.Schedule) == "" {
		missing("DEALSYNC_SCHEDULE")
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		missing("DEALSYNC_ENDPOINT")
	} else if u, err := url.Parse(c.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		invalid("DEALSYNC_ENDPOINT", "must be an absolute http(s) URL, got %q", c.Endpoint)
	}
	if c.PageSize <= 0 {
		invalid("DEALSYNC_PAGE_SIZE", "must be positive, got %d", c.PageSize)
	}
	if c.HTTPTimeout <= 0 {
		invalid("DEALSYNC_HTTP_TIMEOUT", "must be positive, got %s", c.HTTPTimeout)
	}
	if c.StoreTimeout <= 0 {
		invalid("DEALSYNC_STORE_TIMEOUT", "must be positive, got %s", c.StoreTimeout)
	}
	if c.RequestsPerSecond < 0 {
		invalid("DEALSYNC_REQUESTS_PER_SECOND", "must not be negative, got %g", c.RequestsPerSecond)
	}
	if c.FetchRetries < 0 {
		invalid("DEALSYNC_FETCH_RETRIES", "must not be negative, got %d", c.FetchRetries)
	}
	return errors.Join(errs...)
}

// IsMissing reports whether err is, or contains, a missing required setting.
func IsMissing(err error) bool {
	return errors.Is(err, ErrMissingSetting)
}

type envReader struct {
	errs []error
}

func (r *envReader) envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func (r *envReader) intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, &deals.ConfigurationError{Setting: name, Err: fmt.Errorf("invalid integer %q", raw)})
		return fallback
	}
	return value
}

func (r *envReader) durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, &deals.ConfigurationError{Setting: name, Err: fmt.Errorf("invalid duration %q", raw)})
		return fallback
	}
	return value
}

func (r *envReader) floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.errs = append(r.errs, &deals.ConfigurationError{Setting: name, Err: fmt.Errorf("invalid number %q", raw)})
		return fallback
	}
	return value
}

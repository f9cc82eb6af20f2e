// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/bytewatch/internal/classifier"
	"github.com/JakeFAU/bytewatch/internal/source"
)

// Config captures every knob loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Session    SessionConfig    `mapstructure:"session"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Database   DatabaseConfig   `mapstructure:"database"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	// Sources replaces the built-in source table when non-empty.
	Sources []source.Spec `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig guards the /v1 API.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap preset.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig configures the shared Chrome process.
type BrowserConfig struct {
	Headless             bool   `mapstructure:"headless"`
	MaxParallel          int    `mapstructure:"max_parallel"`
	ExecPath             string `mapstructure:"exec_path"`
	UserAgent            string `mapstructure:"user_agent"`
	DisableSiteIsolation bool   `mapstructure:"disable_site_isolation"`
}

// SessionConfig bounds each extraction session.
type SessionConfig struct {
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	TotalBudget time.Duration `mapstructure:"total_budget"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	QuietPeriod time.Duration `mapstructure:"quiet_period"`
}

// ClassifierConfig lists blocked request patterns.
type ClassifierConfig struct {
	BlockPatterns      []string `mapstructure:"block_patterns"`
	ExtraBlockPatterns []string `mapstructure:"extra_block_patterns"`
}

// Patterns returns BlockPatterns followed by ExtraBlockPatterns.
func (c ClassifierConfig) Patterns() []string {
	out := make([]string, 0, len(c.BlockPatterns)+len(c.ExtraBlockPatterns))
	out = append(out, c.BlockPatterns...)
	return append(out, c.ExtraBlockPatterns...)
}

// CacheConfig controls result caching.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Identifier resolver providers.
const (
	ProviderTMDB     = "tmdb"
	ProviderIdentity = "identity"
)

// ResolverConfig selects how primary ids become source ids.
type ResolverConfig struct {
	Provider string     `mapstructure:"provider"`
	TMDB     TMDBConfig `mapstructure:"tmdb"`
}

// TMDBConfig configures the TMDB find endpoint client.
type TMDBConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	LogEvents      bool          `mapstructure:"log_events"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// DatabaseConfig enables resolution history in Postgres when DSN is set.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// Migrate applies the bundled schema at startup.
	Migrate bool `mapstructure:"migrate"`
}

// PubSubConfig enables summary notifications when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether Pub/Sub publishing is configured.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// TracingConfig toggles the OpenTelemetry tracer provider. Spans are
// exported to Cloud Trace in ProjectID, which defaults to pubsub.project_id.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// Load builds a Config from defaults, an optional file and BYTEWATCH_*
// environment variables, then validates it. PORT also sets server.port.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that only need part of the
// config.
func Read(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BYTEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "BYTEWATCH_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = source.DefaultSpecs()
	}
	if cfg.Tracing.ProjectID == "" {
		cfg.Tracing.ProjectID = cfg.PubSub.ProjectID
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 7000)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.max_parallel", 6)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.disable_site_isolation", true)
	v.SetDefault("session.nav_timeout", 15*time.Second)
	v.SetDefault("session.total_budget", 20*time.Second)
	v.SetDefault("session.step_timeout", 5*time.Second)
	v.SetDefault("session.quiet_period", 3*time.Second)
	v.SetDefault("classifier.block_patterns", classifier.DefaultBlockPatterns)
	v.SetDefault("classifier.extra_block_patterns", []string{})
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("resolver.provider", ProviderTMDB)
	v.SetDefault("resolver.tmdb.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("resolver.tmdb.token", "")
	v.SetDefault("resolver.tmdb.timeout", 10*time.Second)
	v.SetDefault("resolver.tmdb.rps", 20.0)
	v.SetDefault("resolver.tmdb.burst", 5)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 5*time.Second)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "bytewatch")
	v.SetDefault("tracing.project_id", "")
}

// Validate enforces required values and sane limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Browser.MaxParallel < 0 {
		errs = append(errs, errors.New("browser.max_parallel must be >= 0"))
	}
	for name, d := range map[string]time.Duration{
		"session.nav_timeout":  c.Session.NavTimeout,
		"session.total_budget": c.Session.TotalBudget,
		"session.step_timeout": c.Session.StepTimeout,
		"session.quiet_period": c.Session.QuietPeriod,
		"cache.ttl":            c.Cache.TTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}
	if c.Session.NavTimeout > c.Session.TotalBudget {
		errs = append(errs, errors.New("session.nav_timeout must not exceed session.total_budget"))
	}
	switch c.Resolver.Provider {
	case ProviderTMDB:
		if c.Resolver.TMDB.Token == "" {
			errs = append(errs, errors.New("resolver.tmdb.token is required for the tmdb provider"))
		}
	case ProviderIdentity:
	default:
		errs = append(errs, fmt.Errorf("resolver.provider %q is not one of tmdb, identity", c.Resolver.Provider))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name must be set together"))
	}
	if c.Tracing.Enabled && c.Tracing.ProjectID == "" {
		errs = append(errs, errors.New("tracing.project_id is required when tracing is enabled"))
	}
	if _, err := source.New(c.Sources); err != nil {
		errs = append(errs, fmt.Errorf("sources: %w", err))
	}
	return errors.Join(errs...)
}

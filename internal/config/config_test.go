package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bytewatch/internal/classifier"
	"github.com/JakeFAU/bytewatch/internal/source"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BYTEWATCH_RESOLVER_PROVIDER", "identity")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.Port)
	require.Equal(t, 60*time.Second, cfg.Server.RequestTimeout)
	require.True(t, cfg.Browser.Headless)
	require.Equal(t, 6, cfg.Browser.MaxParallel)
	require.Equal(t, 15*time.Second, cfg.Session.NavTimeout)
	require.Equal(t, 20*time.Second, cfg.Session.TotalBudget)
	require.Equal(t, 3*time.Second, cfg.Session.QuietPeriod)
	require.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	require.Equal(t, classifier.DefaultBlockPatterns, cfg.Classifier.Patterns())
	require.Equal(t, "https://api.themoviedb.org/3", cfg.Resolver.TMDB.BaseURL)
	require.True(t, cfg.Progress.Enabled)
	require.Equal(t, 500*time.Millisecond, cfg.Progress.MaxBatchWait)
	require.False(t, cfg.PubSub.Enabled())
	require.Len(t, cfg.Sources, len(source.DefaultSpecs()))
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
auth:
  enabled: true
  api_key: secret
session:
  quiet_period: 1s
classifier:
  extra_block_patterns: ["adnet."]
resolver:
  provider: tmdb
  tmdb:
    token: abc
    rps: 5
pubsub:
  project_id: proj
  topic_name: summaries
tracing:
  enabled: true
sources:
  - name: local
    label: Local
    movie_url: "http://localhost/movie/{{.ID}}"
    steps:
      - action: click
        selector: "#play"
        delay: 2s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, time.Second, cfg.Session.QuietPeriod)
	require.Contains(t, cfg.Classifier.Patterns(), "adnet.")
	require.Equal(t, "abc", cfg.Resolver.TMDB.Token)
	require.InDelta(t, 5.0, cfg.Resolver.TMDB.RPS, 0.001)
	require.True(t, cfg.PubSub.Enabled())
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t, "proj", cfg.Tracing.ProjectID)
	require.Len(t, cfg.Sources, 1)
	require.Equal(t, "local", cfg.Sources[0].Name)
	require.Equal(t, source.ActionClick, cfg.Sources[0].Steps[0].Action)
	require.Equal(t, 2*time.Second, cfg.Sources[0].Steps[0].Delay)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BYTEWATCH_RESOLVER_PROVIDER", "identity")
	t.Setenv("BYTEWATCH_CACHE_TTL", "1h")
	t.Setenv("BYTEWATCH_BROWSER_MAX_PARALLEL", "2")
	t.Setenv("PORT", "9191")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, time.Hour, cfg.Cache.TTL)
	require.Equal(t, 2, cfg.Browser.MaxParallel)
	require.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadRequiresTMDBToken(t *testing.T) {
	_, err := Load("")
	require.ErrorContains(t, err, "resolver.tmdb.token")
}

func TestReadSkipsValidation(t *testing.T) {
	path := writeConfig(t, `
resolver:
  provider: tmdb
tracing:
  enabled: true
  project_id: traces
pubsub:
  project_id: proj
`)
	cfg, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, ProviderTMDB, cfg.Resolver.Provider)
	require.Empty(t, cfg.Resolver.TMDB.Token)
	require.Equal(t, "traces", cfg.Tracing.ProjectID)
	require.Len(t, cfg.Sources, len(source.DefaultSpecs()))

	_, err = Load(path)
	require.ErrorContains(t, err, "resolver.tmdb.token")
}

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 7000},
		Session:  SessionConfig{NavTimeout: time.Second, TotalBudget: 2 * time.Second, StepTimeout: time.Second, QuietPeriod: time.Second},
		Cache:    CacheConfig{TTL: time.Hour},
		Resolver: ResolverConfig{Provider: ProviderIdentity},
		Sources:  source.DefaultSpecs(),
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth without key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "negative parallel", mutate: func(c *Config) { c.Browser.MaxParallel = -1 }, want: "max_parallel"},
		{name: "zero quiet period", mutate: func(c *Config) { c.Session.QuietPeriod = 0 }, want: "session.quiet_period"},
		{name: "nav over budget", mutate: func(c *Config) { c.Session.NavTimeout = time.Minute }, want: "nav_timeout must not exceed"},
		{name: "zero cache ttl", mutate: func(c *Config) { c.Cache.TTL = 0 }, want: "cache.ttl"},
		{name: "unknown provider", mutate: func(c *Config) { c.Resolver.Provider = "imdb" }, want: "resolver.provider"},
		{name: "half pubsub", mutate: func(c *Config) { c.PubSub.ProjectID = "p" }, want: "pubsub"},
		{name: "tracing without project", mutate: func(c *Config) { c.Tracing.Enabled = true }, want: "tracing.project_id"},
		{name: "no sources", mutate: func(c *Config) { c.Sources = nil }, want: "sources"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.want)
		})
	}
}

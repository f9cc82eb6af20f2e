// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/bytewatch/internal/api"
	"github.com/JakeFAU/bytewatch/internal/browser"
	"github.com/JakeFAU/bytewatch/internal/cache"
	"github.com/JakeFAU/bytewatch/internal/classifier"
	"github.com/JakeFAU/bytewatch/internal/clock/system"
	"github.com/JakeFAU/bytewatch/internal/config"
	"github.com/JakeFAU/bytewatch/internal/id/uuid"
	"github.com/JakeFAU/bytewatch/internal/idmap"
	"github.com/JakeFAU/bytewatch/internal/logging"
	"github.com/JakeFAU/bytewatch/internal/progress"
	progresssinks "github.com/JakeFAU/bytewatch/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/bytewatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/bytewatch/internal/publisher/pubsub"
	"github.com/JakeFAU/bytewatch/internal/resolver"
	"github.com/JakeFAU/bytewatch/internal/session"
	"github.com/JakeFAU/bytewatch/internal/source"
	pgstore "github.com/JakeFAU/bytewatch/internal/storage/postgres"
	"github.com/JakeFAU/bytewatch/internal/store"
	"github.com/JakeFAU/bytewatch/internal/stream"
	"github.com/JakeFAU/bytewatch/internal/telemetry"
)

// Version is reported in the addon manifest and tracing resource.
var Version = "1.0.0"

// Launcher is a page launcher the app owns and must release on shutdown.
type Launcher interface {
	stream.Launcher
	Ready(ctx context.Context) error
	Close()
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	launcher  Launcher
	registry  *source.Registry
	resolver  *resolver.Resolver
	apiServer *api.Server

	progressHub    *progress.Hub
	resolutionRepo *pgstore.ResolutionStore
	pubsub         *gcppublisher.Publisher
	tracerShutdown func(context.Context) error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	launcher   Launcher
	ids        stream.IdentifierResolver
	registerer prometheus.Registerer
	exporter   sdktrace.SpanExporter
}

// WithLogger skips logger construction from config.
func WithLogger(l *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l Launcher) Option {
	return func(o *buildOptions) { o.launcher = l }
}

// WithIdentifierResolver replaces the configured id provider.
func WithIdentifierResolver(ids stream.IdentifierResolver) Option {
	return func(o *buildOptions) { o.ids = ids }
}

// WithRegisterer registers progress metrics against reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// WithSpanExporter replaces the Cloud Trace exporter used when tracing is
// enabled.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *buildOptions) { o.exporter = exp }
}

// Build creates the application's dependencies. On error every resource
// acquired so far is released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger, err = logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
			app.closeObservability(context.Background())
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("sources", len(cfg.Sources)),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
	)

	if cfg.Tracing.Enabled {
		if err = setupTracing(ctx, app, o.exporter); err != nil {
			return nil, err
		}
	}

	app.registry, err = source.New(cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("source registry: %w", err)
	}

	ids, err := setupIdentifierResolver(app, o.ids)
	if err != nil {
		return nil, err
	}

	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	emitter, err := setupProgress(ctx, app, o.registerer)
	if err != nil {
		return nil, err
	}

	if err = setupLauncher(app, o.launcher); err != nil {
		return nil, err
	}

	cls := classifier.New(cfg.Classifier.Patterns())
	runner := session.NewRunner(app.launcher, cls, session.Config{
		NavTimeout:  cfg.Session.NavTimeout,
		TotalBudget: cfg.Session.TotalBudget,
		StepTimeout: cfg.Session.StepTimeout,
		QuietPeriod: cfg.Session.QuietPeriod,
	}, logger.Named("session"))

	clock := system.New()
	app.resolver, err = resolver.New(ids, app.registry, runner, cache.New(clock), resolver.Config{
		CacheTTL: cfg.Cache.TTL,
		Topic:    cfg.PubSub.TopicName,
	},
		resolver.WithEmitter(emitter),
		resolver.WithPublisher(publisher),
		resolver.WithClock(clock),
		resolver.WithIDGenerator(uuid.New()),
		resolver.WithLogger(logger.Named("resolver")),
	)
	if err != nil {
		return nil, fmt.Errorf("resolver init failed: %w", err)
	}

	var repo store.ResolutionRepository
	if app.resolutionRepo != nil {
		repo = app.resolutionRepo
	}
	app.apiServer = api.NewServer(app.resolver, app.registry, repo, app.ready, api.Config{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		Version:        Version,
	}, logger)

	return app, nil
}

// ResolveDetailed runs one resolution outside the HTTP surface.
func (a *App) ResolveDetailed(ctx context.Context, key stream.ContentKey) (resolver.Resolution, error) {
	return a.resolver.ResolveDetailed(ctx, key)
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

func (a *App) ready(ctx context.Context) error {
	if err := a.launcher.Ready(ctx); err != nil {
		return fmt.Errorf("browser not ready: %w", err)
	}
	if a.resolutionRepo != nil {
		if err := a.resolutionRepo.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run serves HTTP until ctx is canceled or the process is signaled, then
// shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	a.logger.Info("http server starting", zap.Int("port", a.cfg.Server.Port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownTimeout := a.cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases every resource the app owns. In-flight sessions lose their
// browser when the launcher closes.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.launcher != nil {
		a.launcher.Close()
		a.launcher = nil
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.resolutionRepo != nil {
		a.resolutionRepo.Close()
		a.resolutionRepo = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	_ = a.logger.Sync()
}

func setupTracing(ctx context.Context, app *App, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		var err error
		exporter, err = telemetry.NewCloudTraceExporter(app.cfg.Tracing.ProjectID)
		if err != nil {
			return err
		}
	}
	tp, err := telemetry.InitTracerProvider(ctx, app.cfg.Tracing.ServiceName, Version, sdktrace.WithBatcher(exporter))
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.logger.Info("tracing initialized",
		zap.String("service", app.cfg.Tracing.ServiceName),
		zap.String("project", app.cfg.Tracing.ProjectID),
	)
	return nil
}

func setupIdentifierResolver(app *App, override stream.IdentifierResolver) (stream.IdentifierResolver, error) {
	if override != nil {
		return override, nil
	}
	switch app.cfg.Resolver.Provider {
	case config.ProviderIdentity:
		app.logger.Warn("identity id provider configured, primary ids are passed to sources unchanged")
		return idmap.Identity{}, nil
	default:
		tmdbCfg := app.cfg.Resolver.TMDB
		ids, err := idmap.NewTMDB(idmap.Config{
			BaseURL: tmdbCfg.BaseURL,
			Token:   tmdbCfg.Token,
			Timeout: tmdbCfg.Timeout,
			RPS:     tmdbCfg.RPS,
			Burst:   tmdbCfg.Burst,
		}, nil, app.logger.Named("tmdb"))
		if err != nil {
			return nil, fmt.Errorf("tmdb client init failed: %w", err)
		}
		app.logger.Info("tmdb id provider initialized", zap.String("base_url", tmdbCfg.BaseURL))
		return ids, nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("No DSN specified for database, resolution history disabled")
		return nil
	}
	var err error
	app.resolutionRepo, err = pgstore.NewResolutionStore(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("resolution store init failed: %w", err)
	}
	if app.cfg.Database.Migrate {
		if err := app.resolutionRepo.Migrate(ctx); err != nil {
			return err
		}
		app.logger.Info("resolution schema applied")
	}
	app.logger.Info("resolution store initialized")
	return nil
}

func setupPublisher(ctx context.Context, app *App) (stream.Publisher, error) {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsub, err = gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsub, nil
}

func setupProgress(ctx context.Context, app *App, reg prometheus.Registerer) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return progress.NopEmitter{}, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if app.resolutionRepo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(app.resolutionRepo))
		app.logger.Debug("Added progress store sink")
	}
	if app.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   app.cfg.Progress.MaxBatchWait,
		SinkTimeout:    app.cfg.Progress.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}

func setupLauncher(app *App, override Launcher) error {
	if override != nil {
		app.launcher = override
		return nil
	}
	b, err := browser.New(browser.Config{
		MaxParallel:          app.cfg.Browser.MaxParallel,
		Headless:             app.cfg.Browser.Headless,
		ExecPath:             app.cfg.Browser.ExecPath,
		UserAgent:            app.cfg.Browser.UserAgent,
		DisableSiteIsolation: app.cfg.Browser.DisableSiteIsolation,
	}, app.logger.Named("browser"))
	if err != nil {
		return fmt.Errorf("browser init failed: %w", err)
	}
	app.launcher = b
	return nil
}

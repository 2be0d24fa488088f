package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/flock"

	"github.com/driftsync/gitmirrord/internal/api"
	"github.com/driftsync/gitmirrord/internal/config"
	"github.com/driftsync/gitmirrord/internal/git"
	"github.com/driftsync/gitmirrord/internal/mirror"
	"github.com/driftsync/gitmirrord/internal/reload"
	"github.com/driftsync/gitmirrord/internal/revision"
	"github.com/driftsync/gitmirrord/internal/state"
	"github.com/driftsync/gitmirrord/internal/sync"
	"github.com/driftsync/gitmirrord/internal/telemetry"
	"github.com/driftsync/gitmirrord/internal/versions"
)

const (
	// LockFileName guards against two daemons sharing one state directory
	LockFileName = "gitmirrord.lock"

	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	stateDirPerm = 0o750
)

// AppOptions is a function that configures the app builder
type AppOptions func(*appConfig) error

// appConfig builds an App using the builder pattern.
// It supports dependency injection for testing while providing sensible
// defaults for production.
type appConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	fetcher   git.Fetcher
	syncer    mirror.Syncer
	notifier  reload.Notifier
	telemetry *telemetry.Telemetry

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...AppOptions) (*appConfig, error) {
	cfg := &appConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.address == "" {
		cfg.address = cfg.config.Server.GetAddress()
	}

	return cfg, nil
}

// NewApp creates a new daemon app with the given configuration
func NewApp(
	ctx context.Context,
	opts ...AppOptions,
) (*App, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	stateDir := cfg.config.State.GetDir()
	if err := os.MkdirAll(stateDir, stateDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	lock, err := acquireLock(stateDir)
	if err != nil {
		return nil, err
	}

	// Ensure the lock is released when any later build step fails
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			_ = lock.Unlock()
		}
	}()

	if cfg.telemetry == nil {
		cfg.telemetry, err = buildTelemetry(ctx, cfg.config)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	// Build sync components
	engine, ticker, err := buildSyncComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	// Build HTTP server
	httpServer, err := buildHTTPServer(cfg, engine)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	// Create application context
	appCtx, cancel := context.WithCancel(ctx)

	// Cleanup is now handled by the app, not in defer
	cleanupNeeded = false

	return &App{
		config: cfg.config,
		components: &Components{
			Engine:    engine,
			Ticker:    ticker,
			Telemetry: cfg.telemetry,
		},
		httpServer: httpServer,
		lock:       lock,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// RunOnce builds the sync components and executes a single cycle.
// Used by the one-shot sync command; it never starts the HTTP server.
func RunOnce(ctx context.Context, opts ...AppOptions) (sync.Outcome, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return "", fmt.Errorf("failed to build base configuration: %w", err)
	}

	stateDir := cfg.config.State.GetDir()
	if err := os.MkdirAll(stateDir, stateDirPerm); err != nil {
		return "", fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	lock, err := acquireLock(stateDir)
	if err != nil {
		return "", err
	}
	defer func() { _ = lock.Unlock() }()

	engine, _, err := buildSyncComponents(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to build sync components: %w", err)
	}

	return engine.RunOnce(ctx, sync.TriggerManual)
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) AppOptions {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) AppOptions {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		parts := strings.SplitN(addr, ":", 2)
		host := parts[0]
		port := parts[1]

		if port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) AppOptions {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithFetcher allows injecting a custom fetcher (for testing)
func WithFetcher(f git.Fetcher) AppOptions {
	return func(cfg *appConfig) error {
		cfg.fetcher = f
		return nil
	}
}

// WithSyncer allows injecting a custom mirror syncer (for testing)
func WithSyncer(s mirror.Syncer) AppOptions {
	return func(cfg *appConfig) error {
		cfg.syncer = s
		return nil
	}
}

// WithNotifier allows injecting a custom reload notifier (for testing)
func WithNotifier(n reload.Notifier) AppOptions {
	return func(cfg *appConfig) error {
		cfg.notifier = n
		return nil
	}
}

// WithTelemetry allows injecting a pre-built telemetry instance
func WithTelemetry(t *telemetry.Telemetry) AppOptions {
	return func(cfg *appConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// acquireLock takes the single-instance lock, failing fast when another
// process holds it
func acquireLock(stateDir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(stateDir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another gitmirrord instance is already using %s", stateDir)
	}
	return lock, nil
}

// buildTelemetry initializes the telemetry providers from configuration
func buildTelemetry(ctx context.Context, c *config.Config) (*telemetry.Telemetry, error) {
	tcfg := c.Telemetry
	if tcfg != nil && tcfg.ServiceVersion == "" {
		tcfg.ServiceVersion = versions.GetVersionInfo().Version
	}

	return telemetry.New(ctx, telemetry.WithTelemetryConfig(tcfg))
}

// buildSyncComponents builds the fetcher, syncer, notifier, engine and ticker
func buildSyncComponents(
	ctx context.Context,
	b *appConfig,
) (sync.Engine, *sync.Ticker, error) {
	slog.Info("Initializing sync components")

	stateDir := b.config.State.GetDir()

	store := state.NewFileStore(stateDir)
	restored, err := store.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load persisted state: %w", err)
	}

	// Seed the tracker from persisted state so an unchanged remote does not
	// cause a reload on restart
	tracker := revision.NewTrackerWithRevision(restored.Revision)

	if b.fetcher == nil {
		b.fetcher = git.NewFetcher(&b.config.Repo, filepath.Join(stateDir, git.CheckoutDirName))
	}

	if b.syncer == nil {
		b.syncer = mirror.NewSyncer(b.config.Mirror.Dir, mirror.WithExcludePatterns(b.config.Mirror.Exclude))
	}

	if b.notifier == nil {
		b.notifier, err = reload.NewNotifier(b.config)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create reload notifier: %w", err)
		}
	}

	var syncRetry, reloadRetry *config.RetryConfig
	if b.config.Sync != nil {
		syncRetry = b.config.Sync.Retry
	}
	if b.config.Reload != nil {
		reloadRetry = b.config.Reload.Retry
	}

	engineCfg := sync.Config{
		FetchTimeout:  b.config.Sync.GetFetchTimeout(),
		MirrorTimeout: b.config.Sync.GetMirrorTimeout(),
		SyncRetry:     retryPolicy(syncRetry),
		ReloadRetry:   retryPolicy(reloadRetry),
	}

	engineOpts := []sync.Option{
		sync.WithRestoredState(restored),
	}

	if b.telemetry != nil {
		syncMetrics, err := telemetry.NewSyncMetrics(b.telemetry.MeterProvider())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sync metrics: %w", err)
		}
		engineOpts = append(engineOpts,
			sync.WithMetrics(syncMetrics),
			sync.WithTracerProvider(b.telemetry.TracerProvider()),
		)
	}

	engine := sync.NewEngine(b.fetcher, b.syncer, b.notifier, tracker, store, engineCfg, engineOpts...)
	ticker := sync.NewTicker(engine, b.config.Sync.GetInterval())

	slog.Info("Sync components initialized successfully",
		"reload_mode", b.config.GetReloadMode(),
		"interval", b.config.Sync.GetInterval(),
	)

	return engine, ticker, nil
}

// retryPolicy translates a retry config block into an engine policy
func retryPolicy(rc *config.RetryConfig) sync.RetryPolicy {
	return sync.RetryPolicy{
		MaxAttempts:     rc.GetMaxAttempts(),
		InitialInterval: rc.GetInitialInterval(),
		MaxInterval:     rc.GetMaxInterval(),
	}
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(
	b *appConfig,
	engine sync.Engine,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Use default middlewares if not provided
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Metrics and tracing middlewares go early in the chain so they capture
	// all requests
	if b.telemetry != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		b.middlewares = append([]func(http.Handler) http.Handler{
			telemetry.TracingMiddleware(b.telemetry.TracerProvider()),
			metricsMiddleware,
		}, b.middlewares...)
	}

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(b.middlewares...),
	}

	var webhookCfg *config.WebhookConfig
	if b.config.Server != nil {
		webhookCfg = b.config.Server.Webhook
	}
	if webhookCfg != nil && webhookCfg.Enabled {
		secret, err := webhookCfg.GetSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to read webhook secret: %w", err)
		}

		wh := api.NewWebhookHandler(engine,
			api.WithSecret([]byte(secret)),
			api.WithBranch(b.config.Repo.Branch),
			api.WithDebounce(webhookCfg.GetDebounce()),
		)
		serverOpts = append(serverOpts, api.WithWebhook(wh))
		slog.Info("Webhook endpoint enabled", "debounce", webhookCfg.GetDebounce())
	}

	if b.telemetry != nil {
		if h := b.telemetry.PrometheusHandler(); h != nil {
			serverOpts = append(serverOpts, api.WithMetricsHandler(h))
			slog.Info("Prometheus metrics endpoint enabled")
		}
	}

	// Create router with middlewares
	router := api.NewServer(engine, serverOpts...)

	// Create HTTP server
	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}

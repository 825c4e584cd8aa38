package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/warden/internal/alerting"
	"github.com/jkaninda/warden/internal/approval"
	"github.com/jkaninda/warden/internal/catalog"
	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/dispatch"
	"github.com/jkaninda/warden/internal/notification"
	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/quota"
	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/security"
	"github.com/jkaninda/warden/internal/storage"
	"github.com/jkaninda/warden/internal/storage/clickhouse"
	pgstore "github.com/jkaninda/warden/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/warden/internal/storage/sqlite"
	"github.com/jkaninda/warden/internal/tools"
	"github.com/jkaninda/warden/internal/tools/database"
	mcptools "github.com/jkaninda/warden/internal/tools/mcp"
	"github.com/jkaninda/warden/internal/tools/schedule"
	"github.com/jkaninda/warden/internal/tools/shell"
	"github.com/jkaninda/warden/internal/tools/web"
)

// SharedComponents holds every subsystem the serve and invoke commands need.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     storage.Store
	Obs       *observability.Observability
	Telemetry *observability.Telemetry
	Options   *security.OptionsSource
	Alerts    *alerting.Publisher
	Registry  *tools.Registry
	Worker    sandbox.Worker
	Queue     *approval.Queue
	Catalog   catalog.Catalog
	Dispatch  *dispatch.Dispatcher

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// newLogger builds the JSON logger on stderr.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(goutils.Env("WARDEN_LOG_LEVEL", logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolvedConfigPath prefers the flag, then WARDEN_CONFIG.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return goutils.Env("WARDEN_CONFIG", "")
}

// initShared performs the initialization shared by serve and invoke.
// Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{Config: cfg, Logger: logger}

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, observability.BuildInfo{Version: version, Commit: commit}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	logger.Debug("observability initialized",
		slog.Bool("metrics", obs.Metrics != nil),
		slog.Bool("tracing", obs.Tracer != nil),
		slog.Bool("anomaly", obs.Anomaly != nil),
	)

	// Storage.
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	if err := store.Migrate(ctx); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	obs.Health.AddCheck("database", store.Ping)

	// Decision sink.
	writer, err := initEventWriter(ctx, cfg, obs, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing decision sink: %w", err)
	}
	sc.Telemetry = obs.Telemetry(logger, writer)
	sc.addCleanup(sc.Telemetry.Close)

	// Sandbox options.
	opts, err := cfg.Sandbox.Options()
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	sc.Options = security.NewOptionsSource(opts)
	logger.Info("sandbox options loaded",
		slog.String("mode", opts.Mode.String()),
		slog.Bool("enqueue_on_deny", opts.EnqueueOnDeny),
		slog.Int("allowed_unsafe", len(opts.AllowedUnsafeClassPaths)+len(opts.AllowedUnsafeToolIDs)),
		slog.Int("isolated", len(opts.IsolatedClassPaths)+len(opts.IsolatedToolIDs)),
	)

	// Alerts.
	sc.Alerts = alerting.NewPublisher(
		alertSettings(cfg),
		notification.NewWebhookSender(notification.WebhookConfig{
			Timeout:              time.Duration(cfg.Alerting.TimeoutSeconds) * time.Second,
			AllowPrivateNetworks: cfg.Alerting.AllowPrivateNetworks,
		}, logger),
		obs.Metrics,
		logger,
	)

	// Tools.
	runner := observability.NewInstrumentedRunner(newProcessRunner(cfg, logger), "process", obs.Metrics, obs.Tracer)
	registry, closeTools := buildRegistry(ctx, cfg, runner, true, logger)
	sc.Registry = registry
	sc.addCleanup(closeTools)
	logger.Debug("tools registered", slog.Any("class_paths", registry.ClassPaths()))

	// Isolation worker.
	worker, err := initWorker(cfg, runner, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing isolation worker: %w", err)
	}
	sc.Worker = observability.NewInstrumentedWorker(worker, cfg.Sandbox.Worker, obs.Metrics, obs.Tracer)

	// Approval queue.
	sc.Queue = approval.NewQueue(approval.Config{
		MaxPending: cfg.Approval.MaxPending,
		TTL:        cfg.Approval.TTL(),
	}, logger)
	sc.Queue.OnDepthChange(obs.Metrics.SetApprovalDepth)

	// Catalog.
	var cat catalog.Catalog = catalog.New(store.Tools())
	if ttl := cfg.Catalog.CacheTTL(); ttl > 0 {
		cat = catalog.NewCached(cat, ttl)
		logger.Debug("catalog cache enabled", slog.String("ttl", ttl.String()))
	}
	sc.Catalog = cat

	sc.Dispatch = dispatch.New(cat, registry, sc.Options, logger).
		WithWorker(sc.Worker).
		WithApprovalQueue(sc.Queue).
		WithQuota(quota.New(cfg.Quota, logger)).
		WithTelemetry(sc.Telemetry).
		WithAlerts(sc.Alerts).
		WithExecutionLog(store.ExecutionLogs()).
		WithObservability(obs.Metrics, obs.Tracer.Tracer())

	return sc, nil
}

// initStore creates the configured storage backend.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		db, err := pgstore.Open(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return pgstore.NewStore(db), nil
	case storage.DriverSQLite:
		journalMode := "wal"
		if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestore.Open(sqlitestore.Config{
			Path:        cfg.DatabasePath(),
			JournalMode: journalMode,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// initEventWriter connects the ClickHouse sink, or falls back to logging events.
func initEventWriter(ctx context.Context, cfg *config.Config, obs *observability.Observability, logger *slog.Logger) (observability.EventWriter, error) {
	tc := cfg.Telemetry
	if tc.ClickHouseDSN == "" {
		return clickhouse.NewLogWriter(logger), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	w, err := clickhouse.NewWriter(connectCtx, clickhouse.Config{
		DSN:           tc.ClickHouseDSN,
		Table:         tc.Table,
		BatchSize:     tc.BatchSize,
		FlushInterval: time.Duration(tc.FlushIntervalMs) * time.Millisecond,
	}, logger)
	if err != nil {
		return nil, err
	}
	obs.Health.AddCheck("clickhouse", w.Ping)
	return w, nil
}

func alertSettings(cfg *config.Config) alerting.Settings {
	return alerting.Settings{Enabled: cfg.Alerting.Enabled, WebhookURL: cfg.Alerting.WebhookURL}
}

func newProcessRunner(cfg *config.Config, logger *slog.Logger) *sandbox.ProcessRunner {
	return sandbox.NewProcessRunner(sandbox.ProcessConfig{
		DefaultTimeout: cfg.Sandbox.Timeout(),
		DefaultLimits: sandbox.ResourceLimits{
			MaxCPUSeconds: cfg.Sandbox.MaxCPUSeconds,
			MaxMemoryMB:   cfg.Sandbox.MaxMemoryMB,
		},
	}, logger)
}

// buildRegistry registers the built-in tools and, when withMCP is set, every
// configured MCP server. The returned func releases tool resources.
func buildRegistry(ctx context.Context, cfg *config.Config, runner sandbox.Runner, withMCP bool, logger *slog.Logger) (*tools.Registry, func()) {
	reg := tools.NewRegistry()
	var closers []func()

	reg.RegisterInstance(shell.ClassPath, shell.NewTool(runner, shell.Config{
		AllowedCommands: cfg.Tools.Shell.AllowedCommands,
		Timeout:         time.Duration(cfg.Tools.Shell.TimeoutSeconds) * time.Second,
	}, logger))
	reg.RegisterInstance(web.ClassPath, web.NewTool(web.Config{
		AllowedDomains:   cfg.Tools.Web.AllowedDomains,
		MaxResponseBytes: cfg.Tools.Web.MaxResponseBytes,
		Timeout:          time.Duration(cfg.Tools.Web.TimeoutSeconds) * time.Second,
	}, logger))
	reg.RegisterInstance(schedule.ClassPath, schedule.NewPlanner())

	if dsn := cfg.Tools.Database.DSN; dsn != "" {
		db := database.NewTool(database.Config{
			DSN:            dsn,
			MaxRows:        cfg.Tools.Database.MaxRows,
			TimeoutSeconds: cfg.Tools.Database.TimeoutSeconds,
		}, logger)
		reg.RegisterInstance(database.ClassPath, db)
		closers = append(closers, func() { _ = db.Close() })
	}

	if withMCP && len(cfg.Tools.MCP) > 0 {
		bridge := mcptools.NewBridge(logger)
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		for _, srv := range cfg.Tools.MCP {
			if err := bridge.Connect(connectCtx, srv); err != nil {
				logger.Error("MCP server failed, skipping",
					slog.String("server", srv.Name),
					slog.String("error", err.Error()),
				)
			}
		}
		cancel()
		reg.RegisterPrefix(mcptools.ClassPathPrefix, bridge.Resolve)
		closers = append(closers, bridge.Close)
		logger.Debug("mcp tools discovered", slog.Any("class_paths", bridge.ClassPaths()))
	}

	return reg, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

// initWorker creates the configured isolation worker.
func initWorker(cfg *config.Config, runner sandbox.Runner, logger *slog.Logger) (sandbox.Worker, error) {
	wcfg := sandbox.ProcessWorkerConfig{
		Command: cfg.Sandbox.WorkerCommand,
		Timeout: cfg.Sandbox.Timeout(),
		Limits: sandbox.ResourceLimits{
			MaxCPUSeconds: cfg.Sandbox.MaxCPUSeconds,
			MaxMemoryMB:   cfg.Sandbox.MaxMemoryMB,
		},
	}
	if path := resolvedConfigPath(); path != "" && len(wcfg.Command) == 0 {
		wcfg.Env = map[string]string{"WARDEN_CONFIG": path}
	}

	switch cfg.Sandbox.Worker {
	case "noop":
		logger.Warn("isolation worker disabled, isolated routes will fail")
		return sandbox.NoopWorker{}, nil
	case "docker":
		docker := cfg.Sandbox.Docker
		dr := sandbox.NewDockerRunner(sandbox.DockerConfig{
			Image:          docker.Image,
			DefaultTimeout: cfg.Sandbox.Timeout(),
			MemoryMB:       cfg.Sandbox.MaxMemoryMB,
			CPUCores:       docker.CPUCores,
			PIDsLimit:      docker.PIDsLimit,
			NetworkAllowed: cfg.Sandbox.NetworkAllowed,
		}, logger)
		wcfg.Env = nil
		return sandbox.NewContainerWorker(dr, wcfg, logger)
	default:
		return sandbox.NewProcessWorker(runner, wcfg, logger)
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/domain"
	"github.com/jkaninda/warden/internal/gateway"
	"github.com/jkaninda/warden/internal/gateway/httpapi"
	"github.com/jkaninda/warden/internal/ratelimit"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch engine and its admin HTTP API",
	RunE:  runServe,
}

func init() {
	// Registered on both root and serve so `warden --listen` and
	// `warden serve --listen` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&listenAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	path := resolvedConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.HTTP.ListenAddr = listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting warden", slog.String("version", version), slog.String("config", path))

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Hot reload of the sandbox and alerting sections.
	if path != "" {
		watcher, err := config.NewWatcher(path, func(next *config.Config) {
			opts, err := next.Sandbox.Options()
			if err != nil {
				logger.Warn("ignoring reloaded sandbox options", slog.String("error", err.Error()))
				return
			}
			sc.Options.Store(opts)
			sc.Alerts.Update(alertSettings(next))
			logger.Info("configuration reloaded",
				slog.String("mode", opts.Mode.String()),
				slog.Bool("enqueue_on_deny", opts.EnqueueOnDeny),
				slog.Bool("alerting", next.Alerting.Enabled),
			)
		}, logger)
		if err != nil {
			logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
		} else {
			go watcher.Run(ctx)
			defer func() { _ = watcher.Close() }()
		}
	}

	stopSweeper, err := sc.Queue.StartSweeper(ctx, cfg.Approval.SweepInterval())
	if err != nil {
		return fmt.Errorf("starting approval sweeper: %w", err)
	}
	defer stopSweeper()

	var metricsPath string
	if cfg.Observability != nil && cfg.Observability.Metrics != nil {
		metricsPath = cfg.Observability.Metrics.Path
	}
	gwCfg := httpapi.Config{
		ListenAddr:     cfg.HTTP.ListenAddr,
		EnableDocs:     cfg.HTTP.EnableDocs,
		MaxRequestSize: cfg.HTTP.MaxRequestSizeBytes,
		MetricsPath:    metricsPath,
		HealthChecker:  sc.Obs.Health,
		Metrics:        sc.Obs.Metrics,
		Tracer:         sc.Obs.Tracer.Tracer(),
	}
	if sc.Obs.Metrics != nil {
		gwCfg.MetricsRegistry = sc.Obs.Metrics.Registry
	}

	api := httpapi.NewGateway(gwCfg, sc.Dispatch, sc.Catalog, logger).
		WithApprovals(sc.Queue).
		WithOptions(sc.Options).
		WithDecisionStream(sc.Obs.Hub).
		WithExecutionLogs(sc.Store.ExecutionLogs()).
		WithServices(domain.Services{"store": sc.Store, "alerts": sc.Alerts})
	if rl := cfg.HTTP.RateLimit; rl.RequestsPerMinute > 0 {
		api.WithRateLimiter(ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: rl.RequestsPerMinute,
			BurstSize:         rl.BurstSize,
		}))
	}

	var gw gateway.Gateway = api
	errs := make(chan error, 1)
	go func() { errs <- gw.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("http api exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping http api", slog.String("error", err.Error()))
	}
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/kubecontexts/internal/clients"
	"github.com/giantswarm/kubecontexts/internal/contexts"
	"github.com/giantswarm/kubecontexts/internal/dispatcher"
	"github.com/giantswarm/kubecontexts/internal/instrumentation"
	"github.com/giantswarm/kubecontexts/internal/kubeconfig"
	"github.com/giantswarm/kubecontexts/internal/logging"
	"github.com/giantswarm/kubecontexts/internal/resources"
	"github.com/giantswarm/kubecontexts/internal/server"
	"github.com/giantswarm/kubecontexts/internal/server/middleware"
)

var _ contexts.StateSink = (*dispatcher.Dispatcher)(nil)

// newServeCmd creates the Cobra command for starting the server.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kubecontexts server",
		Long: `Start the kubecontexts server. Every context of the kubeconfig is probed
for reachability and permissions; permitted kinds are watched with informers.
The kubeconfig files are watched and contexts are added, updated and removed
as they change.

The aggregated views are served over HTTP:
  - GET  /api/v1/contexts/healths
  - GET  /api/v1/contexts/permissions
  - GET  /api/v1/resources/count
  - GET  /api/v1/events (server-sent events naming the changed view)
  - POST /api/v1/contexts/{name}/refresh

Every flag can also be set through a KUBECONTEXTS_* environment variable
(--http-addr becomes KUBECONTEXTS_HTTP_ADDR) or a --config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadServeConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runServe(ctx, config, slog.Default())
		},
	}

	defaults := clients.DefaultClientConfig()
	cacheDefaults := clients.DefaultCacheConfig()
	options := contexts.DefaultOptions()

	cmd.Flags().String("kubeconfig", "", "Path to the kubeconfig file (default: $KUBECONFIG or ~/.kube/config)")

	cmd.Flags().String("http-addr", ":8080", "HTTP API listen address")
	cmd.Flags().String("allowed-origins", "", "Comma-separated CORS origins allowed to call the API")
	cmd.Flags().Bool("enable-hsts", false, "Send the HSTS header on plain HTTP (behind a TLS terminating proxy)")
	cmd.Flags().Int64("max-request-bytes", server.DefaultMaxRequestBytes, "Maximum request body size, 0 disables the limit")

	cmd.Flags().Bool("metrics-enabled", true, "Serve Prometheus metrics when instrumentation is enabled")
	cmd.Flags().String("metrics-addr", server.DefaultMetricsAddr, "Metrics server listen address")

	cmd.Flags().Duration("health-check-interval", options.HealthCheckInterval, "Pause between two reachability probes of a context")
	cmd.Flags().Duration("health-check-timeout", options.HealthCheckTimeout, "Timeout of a single reachability probe")
	cmd.Flags().Int("max-concurrent-resources", options.MaxConcurrentResources, "Concurrent permission checks per context")
	cmd.Flags().Duration("notify-debounce", dispatcher.DefaultDebounce, "Window in which view changes are merged into one event")
	cmd.Flags().Duration("watch-debounce", kubeconfig.DefaultWatchDebounce, "Delay before reloading a changed kubeconfig")

	cmd.Flags().Float32("qps-limit", defaults.QPS, "QPS limit for Kubernetes API calls per context")
	cmd.Flags().Int("burst-limit", defaults.Burst, "Burst limit for Kubernetes API calls per context")
	cmd.Flags().Duration("request-timeout", defaults.RequestTimeout, "Timeout of individual Kubernetes API requests")

	cmd.Flags().Duration("cache-ttl", cacheDefaults.TTL, "Lifetime of cached per-context clients")
	cmd.Flags().Int("cache-max-entries", cacheDefaults.MaxEntries, "Maximum cached per-context clients")

	return cmd
}

// engine bundles the long-lived components behind the HTTP API.
type engine struct {
	provider   *instrumentation.Provider
	cache      *clients.Cache
	dispatcher *dispatcher.Dispatcher
	manager    *contexts.Manager
}

func newEngine(ctx context.Context, config ServeConfig, logger *slog.Logger) (*engine, error) {
	instrumentationConfig := instrumentation.DefaultConfig()
	instrumentationConfig.ServiceVersion = rootCmd.Version
	provider, err := instrumentation.NewProvider(ctx, instrumentationConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	if provider.Enabled() {
		logger.Info("OpenTelemetry instrumentation enabled",
			"metrics", instrumentationConfig.MetricsExporter,
			"tracing", instrumentationConfig.TracingExporter)
	}
	metrics := provider.Metrics()

	cache := clients.NewCache(
		clients.WithCacheConfig(config.CacheConfig()),
		clients.WithFactory(clients.NewFactory(config.ClientConfig())),
		clients.WithCacheLogger(logger),
		clients.WithCacheMetrics(metrics),
	)

	disp := dispatcher.New(
		dispatcher.WithDebounce(config.NotifyDebounce),
		dispatcher.WithLogger(logger),
		dispatcher.WithMetrics(metrics),
	)

	factories := resources.DefaultFactories(cache, resources.WithInformerLogger(logger))
	manager := contexts.NewManager(factories,
		contexts.WithOptions(config.ManagerOptions()),
		contexts.WithSink(disp),
		contexts.WithClientCache(cache),
		contexts.WithLogger(logger),
		contexts.WithMetrics(metrics),
	)

	return &engine{
		provider:   provider,
		cache:      cache,
		dispatcher: disp,
		manager:    manager,
	}, nil
}

// Close stops the manager first so no state reaches a closed dispatcher.
func (e *engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.manager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("context manager: %w", err))
	}
	e.dispatcher.Close()
	if err := e.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("client cache: %w", err))
	}
	if err := e.provider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("instrumentation: %w", err))
	}
	return errors.Join(errs...)
}

// runServe runs the engine and the HTTP servers until ctx is done.
func runServe(ctx context.Context, config ServeConfig, logger *slog.Logger) error {
	eng, err := newEngine(ctx, config, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := eng.Close(closeCtx); err != nil {
			logger.Error("error during engine shutdown", logging.Err(err))
		}
	}()

	load := func() (kubeconfig.RawConfig, error) {
		return kubeconfig.Load(config.Kubeconfig, logger)
	}
	update := func(raw kubeconfig.RawConfig) {
		events, err := eng.manager.Update(ctx, raw)
		if err != nil {
			logger.Warn("failed to apply kubeconfig", logging.Err(err))
			return
		}
		for _, ev := range events {
			logger.Info("context changed", logging.Context(ev.Name), "change", ev.Type.String())
		}
	}

	// A broken kubeconfig at startup is fatal; later edits are retried on
	// the next change.
	initial, err := load()
	if err != nil {
		return err
	}
	update(initial)

	watcher, err := kubeconfig.NewWatcher(kubeconfig.Paths(config.Kubeconfig), load, update,
		kubeconfig.WithWatchDebounce(config.WatchDebounce),
		kubeconfig.WithWatchLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create kubeconfig watcher: %w", err)
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := watcher.Run(watchCtx); err != nil {
			logger.Error("kubeconfig watcher stopped", logging.Err(err))
		}
	}()

	allowedOrigins, err := middleware.ValidateAllowedOrigins(config.AllowedOrigins)
	if err != nil {
		return err
	}
	sc, err := server.NewServerContext(ctx,
		server.WithEngine(eng.manager),
		server.WithStateView(eng.dispatcher),
		server.WithLogger(logger),
		server.WithConfig(&server.Config{
			ServerName:      "kubecontexts",
			Version:         rootCmd.Version,
			KubeconfigPaths: kubeconfig.Paths(config.Kubeconfig),
			AllowedOrigins:  allowedOrigins,
			EnableHSTS:      config.EnableHSTS,
			MaxRequestBytes: config.MaxRequestBytes,
		}),
		server.WithInstrumentationProvider(eng.provider),
	)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := sc.Shutdown(); err != nil {
			logger.Error("error during server context shutdown", logging.Err(err))
		}
	}()

	err = runHTTPServer(ctx, config, sc, logger)
	// The HTTP server may fail before ctx is done.
	stopWatch()
	<-watchDone
	return err
}

// runHTTPServer serves the API and, when enabled, the metrics server until
// ctx is done.
func runHTTPServer(ctx context.Context, config ServeConfig, sc *server.ServerContext, logger *slog.Logger) error {
	api := server.NewAPI(sc)

	var metricsServer *server.MetricsServer
	if provider := sc.InstrumentationProvider(); config.MetricsEnabled && provider.Enabled() {
		var err error
		metricsServer, err = startMetricsServer(config.MetricsAddr, provider, logger)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:              config.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("HTTP server starting",
		"addr", config.HTTPAddr,
		"health_endpoints", []string{"/healthz", "/readyz", "/healthz/detailed"})

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		api.Health().SetReady(false)
		// Ends open event streams so Shutdown does not wait for them.
		_ = sc.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("error shutting down metrics server", logging.Err(err))
			}
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if metricsServer != nil {
			_ = metricsServer.Shutdown(context.Background())
		}
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}

// startMetricsServer starts the dedicated metrics server on a separate port.
func startMetricsServer(addr string, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    addr,
		Enabled:                 true,
		InstrumentationProvider: provider,
	})
	if err != nil {
		return nil, err
	}

	go func() {
		if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", logging.Err(err))
		}
	}()

	logger.Info("metrics server started", "addr", metricsServer.Addr(), "endpoint", "/metrics")
	return metricsServer, nil
}

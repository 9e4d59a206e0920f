package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-edge/pkg/config"
	"github.com/polisai/polis-edge/pkg/engine"
	"github.com/polisai/polis-edge/pkg/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the data-plane and admin servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			logger := newLogger(cfg, os.Stdout)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger, nil)
		},
	}
}

// serve runs both servers until ctx ends, then shuts them down gracefully. When
// listening is non-nil it receives the bound addresses once both servers accept.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, listening func(data, admin net.Addr)) error {
	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Environment:  cfg.Telemetry.Environment,
		Headers:      cfg.Telemetry.Headers,
		ResourceTags: map[string]string{"log.level": cfg.Logging.Level},
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer shutdownTelemetry(telemetryShutdown, logger)

	metrics := telemetry.NewMetrics()

	rt, err := buildRuntime(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("failed to stop landing page watcher", "error", err)
		}
	}()

	var ready atomic.Bool

	dataHandler := engine.NewHTTPHandler(engine.HTTPHandlerConfig{
		Proxy:        rt.proxy,
		Logger:       logger,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	dataSrv := &http.Server{
		Handler:           otelhttp.NewHandler(dataHandler, "edge.data"),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}
	adminSrv := &http.Server{
		Handler:           adminHandler(metrics, &ready),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	dataLn, err := net.Listen("tcp", cfg.Server.DataAddress)
	if err != nil {
		return fmt.Errorf("bind data address %s: %w", cfg.Server.DataAddress, err)
	}
	adminLn, err := net.Listen("tcp", cfg.Server.AdminAddress)
	if err != nil {
		_ = dataLn.Close()
		return fmt.Errorf("bind admin address %s: %w", cfg.Server.AdminAddress, err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- serveListener(dataSrv, dataLn) }()
	go func() { errCh <- serveListener(adminSrv, adminLn) }()

	ready.Store(true)
	logger.Info("polis-edge started",
		"data_addr", dataLn.Addr().String(),
		"admin_addr", adminLn.Addr().String(),
		"rules", rt.rules,
		"upstream_timeout", cfg.Proxy.UpstreamTimeout.String(),
	)
	if listening != nil {
		listening(dataLn.Addr(), adminLn.Addr())
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	case serveErr = <-errCh:
		logger.Error("server failed", "error", serveErr)
	}
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := dataSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("data server shutdown error", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}

	logger.Info("polis-edge stopped")
	return serveErr
}

func serveListener(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// adminHandler serves liveness, readiness and Prometheus metrics.
func adminHandler(metrics *telemetry.Metrics, ready *atomic.Bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// shutdownTelemetry gracefully shuts down the telemetry provider.
func shutdownTelemetry(shutdown telemetry.ShutdownFunc, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}
}

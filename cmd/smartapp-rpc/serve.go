package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"smartapp-rpc/config"
	"smartapp-rpc/discovery"
	"smartapp-rpc/logging"
	"smartapp-rpc/middleware"
	"smartapp-rpc/rpc"
	"smartapp-rpc/transport"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo RPC methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger, restore, err := logging.Install(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			defer restore()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// newApp builds the demo application with the configured middlewares.
func newApp(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*rpc.SmartAppRPC, error) {
	global := []middleware.Middleware{
		middleware.Logging(logger.Named("rpc")),
		middleware.Metrics(reg),
		middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL),
	}
	return rpc.New(demoRouters(),
		rpc.WithLogger(logger),
		rpc.WithGlobalMiddlewares(global...),
		rpc.WithExceptionHandlers(demoExceptionHandlers()),
	)
}

func newDiscovery(cfg *config.Config, logger *zap.Logger) (discovery.Registry, error) {
	if len(cfg.Etcd.Endpoints) == 0 {
		return discovery.NewMemoryRegistry(), nil
	}
	return discovery.NewEtcdRegistry(cfg.Etcd.Endpoints, discovery.WithLogger(logger))
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app, err := newApp(cfg, logger, metrics)
	if err != nil {
		return err
	}
	reg, err := newDiscovery(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, reg.Close()) }()

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	svr := transport.NewServer(app,
		transport.WithServerLogger(logger.Named("transport")),
		transport.WithServiceName(cfg.AppName),
		transport.WithRegistration(1, "", cfg.Etcd.TTLSeconds),
		transport.WithPreferredCodec(cfg.CodecType()),
	)

	var metricsServer *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{
			ErrorLog:      zap.NewStdLog(logger.Named("metrics")),
			ErrorHandling: promhttp.ContinueOnError,
		}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(listener, cfg.Advertise, reg) }()

	select {
	case err = <-served:
		if metricsServer != nil {
			err = multierr.Append(err, metricsServer.Close())
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	err = svr.Shutdown(shutdownTimeout)
	if metricsServer != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = multierr.Append(err, metricsServer.Shutdown(sctx))
		cancel()
	}
	return multierr.Append(err, <-served)
}

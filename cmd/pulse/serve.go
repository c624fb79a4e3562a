package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/vango-dev/pulse/internal/config"
	"github.com/vango-dev/pulse/internal/errors"
	"github.com/vango-dev/pulse/pkg/hub"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a hub sharing the configured backend",
		Long: `Run a pulse hub.

The hub serves the configured storage backend over HTTP and streams every
change to websocket watchers. Point other processes at it with
storage.backend = "hub".

Endpoints:
  /v1/keys/{key}  GET, PUT, DELETE
  /v1/watch       websocket change stream
  /healthz        liveness
  /metrics        Prometheus metrics`,
		Example: `  pulse serve
  pulse serve --addr :8080
  PULSE_STORAGE=s3 PULSE_BUCKET=carts pulse serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Hub.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config, :7070)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Backend == config.BackendHub {
		return errors.New(errors.CodeUsage).
			WithDetail("serve cannot use the hub backend").
			WithSuggestion("Use the memory, file or s3 backend for the hub itself.")
	}

	logger := slog.Default()
	backend, err := openAdapter(cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []hub.ServerOption{
		hub.WithServerLogger(logger.With("component", "hub")),
		hub.WithRegistry(registry),
	}
	if cfg.Hub.MaxValueSize > 0 {
		opts = append(opts, hub.WithMaxValueSize(cfg.Hub.MaxValueSize))
	}
	srv := hub.NewServer(backend, opts...)
	defer srv.Shutdown()

	httpSrv := &http.Server{
		Addr:              cfg.Hub.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sup := newSupervisor(logger)
	sup.Add(httpService(httpSrv, logger))
	sup.Add(namedService{name: "backend watch", fn: srv.Serve})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner()
	success("Hub on %s (%s backend)", keyStyle.Render(cfg.Hub.Addr), cfg.Storage.Backend)
	info("Press Ctrl+C to stop")

	err = sup.Serve(ctx)
	if err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	info("Stopped")
	return nil
}

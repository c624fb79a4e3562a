package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/vango-dev/pulse/pkg/reactive"
	"github.com/vango-dev/pulse/pkg/store"
	"github.com/vango-dev/pulse/pkg/telemetry"
)

func watchCmd(flags *globalFlags) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch KEY",
		Short: "Print a value every time it changes",
		Long: `Print a value every time it changes.

The key is opened as a persistent value and printed by an effect, once on
start and again after every change made by another process. Like any
persistent value, an absent key is initialised with null.`,
		Example: `  pulse watch cart
  pulse watch cart --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := slog.Default()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			observers := []reactive.Observer{telemetry.NewTracer()}
			if metricsAddr != "" {
				registry := prometheus.NewRegistry()
				observers = append(observers, telemetry.NewMetrics(telemetry.WithRegistry(registry)))
				shutdown := serveMetrics(metricsAddr, registry, logger)
				defer shutdown()
			}

			root := reactive.NewRoot(
				reactive.WithObserver(reactive.Observers(observers...)),
				reactive.WithLogger(logger.With("component", "reactive")),
			)
			defer root.Close()

			adapter, err := openAdapter(cfg, logger)
			if err != nil {
				return err
			}

			key := args[0]
			value, err := store.Open[any](root, adapter, key, nil,
				store.WithCodec(codecFor(cfg)),
				store.WithContext(ctx),
				store.WithLogger(logger.With("component", "store", "key", key)),
			)
			if err != nil {
				return err
			}
			defer value.Close()

			reactive.Watch(root, func() {
				v := value.Get()
				fmt.Printf("%s %s %s\n",
					dimStyle.Render(time.Now().Format("15:04:05")),
					keyStyle.Render(key),
					formatValue(v))
			})

			if err := root.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve reactive metrics on this address")

	return cmd
}

// serveMetrics exposes registry over HTTP in the background and returns a
// function that stops it.
func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) func() {
	srv := &http.Server{Addr: addr, Handler: metricsRouter(registry), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func metricsRouter(registry *prometheus.Registry) chi.Router {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return r
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ruochenliao/text2sql/internal/server"
	"github.com/ruochenliao/text2sql/pkg/metrics"
)

type ServeCmd struct {
	info BuildInfo
}

func NewServeCmd(info BuildInfo) *ServeCmd {
	return &ServeCmd{info: info}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API with streaming progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				if cfg.Server.ListenAddr, err = cmd.Flags().GetString("listen"); err != nil {
					return fmt.Errorf("failed to get listen flag: %w", err)
				}
			}
			if cmd.Flags().Changed("metrics-addr") {
				if cfg.Server.MetricsAddr, err = cmd.Flags().GetString("metrics-addr"); err != nil {
					return fmt.Errorf("failed to get metrics-addr flag: %w", err)
				}
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, log, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			metrics.BuildInfo.WithLabelValues(c.info.Version, c.info.Commit, c.info.Date).Set(1)
			if cfg.Server.MetricsAddr != "" {
				go serveMetrics(ctx, log, cfg.Server.MetricsAddr)
			}

			srv, err := server.New(server.Config{
				Logger:            log,
				Runner:            a.coordinator,
				Validator:         a.validator,
				Schema:            a.schema,
				History:           a.history,
				ListenAddr:        cfg.Server.ListenAddr,
				AllowedOrigins:    cfg.Server.AllowedOrigins,
				HeartbeatInterval: cfg.Server.HeartbeatInterval,
				ShutdownTimeout:   cfg.Server.ShutdownTimeout,
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().String("listen", "", "HTTP listen address (default from config)")
	cmd.Flags().String("metrics-addr", "", "prometheus metrics listen address (default from config)")
	return cmd
}

// serveMetrics exposes /metrics on its own listener until ctx is done.
func serveMetrics(ctx context.Context, log *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("Failed to start prometheus metrics server listener", "error", err)
		return
	}
	log.Info("Prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Failed to start prometheus metrics server", "error", err)
	}
}

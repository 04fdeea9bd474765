package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pgweekly/pgwsearch/internal/mcp"
	"github.com/pgweekly/pgwsearch/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search pipeline over MCP (stdio)",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
configured search pipeline as the "search" tool, plus "index_status".

stdout carries JSON-RPC only; logs go to the log file.`,
		Example: `  pgwsearch serve
  pgwsearch serve --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default server.metrics_addr)")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, metricsAddr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Server.MetricsAddr = metricsAddr
	}

	collector := telemetry.NewCollector("")
	rt, err := openRuntime(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	srv, err := mcp.NewServer(mcp.Deps{
		Search:  rt.pipeline.Func(),
		Display: rt.db,
		Stats:   rt.db,
		Config:  cfg,
	})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	slog.Info("serve_started",
		slog.String("transport", cfg.Server.Transport),
		slog.String("metrics_addr", cfg.Server.MetricsAddr))

	// The MCP session ends when the client closes stdin; that stops the
	// metrics server too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error { return collector.Serve(gctx, cfg.Server.MetricsAddr) })
	}
	g.Go(func() error {
		defer cancel()
		return srv.Serve(gctx, cfg.Server.Transport)
	})
	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/poirot-research/poirot/internal/metrics"
	"github.com/poirot-research/poirot/internal/server"
	"github.com/poirot-research/poirot/pkg/poirot"
)

var (
	transport string
	addr      string
	endpoint  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the store as MCP tools over stdio or streamable HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("transport") {
			cfg.Server.Transport = transport
		}
		if flags.Changed("addr") {
			cfg.Server.Addr = addr
		}
		if flags.Changed("endpoint") {
			cfg.Server.Endpoint = endpoint
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var metricsHandler http.Handler
		if cfg.Metrics.Enabled {
			if metricsHandler, err = metrics.Enable(); err != nil {
				return fmt.Errorf("failed to enable metrics: %w", err)
			}
		}

		svc, err := poirot.OpenConfig(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := svc.Close(); err != nil {
				log.Error("error closing store", "error", err)
			}
		}()

		mcpServer := server.NewMCPServer(svc.Store(), svc.Catalog(), server.WithLogger(log))

		g, gctx := errgroup.WithContext(ctx)
		switch strings.ToLower(cfg.Server.Transport) {
		case "", "stdio":
			g.Go(func() error {
				err := mcpServer.Run(gctx)
				// The client closing stdin ends the session; stop the
				// metrics listener with it.
				stop()
				return err
			})
		case "http", "sse":
			g.Go(func() error { return mcpServer.RunHTTP(gctx, cfg.Server.Addr, cfg.Server.Endpoint) })
		default:
			return fmt.Errorf("unknown transport: %s (expected: stdio or http)", cfg.Server.Transport)
		}
		if metricsHandler != nil {
			g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, metricsHandler) })
			log.Info("metrics enabled", "addr", cfg.Metrics.Addr)
		}

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		log.Info("server stopped")
		return err
	},
}

func serveMetrics(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&transport, "transport", "stdio", "Transport to use: stdio or http")
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "Address to listen on when using the http transport")
	serveCmd.Flags().StringVar(&endpoint, "endpoint", "/mcp", "MCP endpoint path when using the http transport")
}

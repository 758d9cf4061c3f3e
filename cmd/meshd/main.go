// Command meshd serves the configured resources over HTTP from a record store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"meshcore/internal/config"
	"meshcore/internal/observability"
	"meshcore/internal/server"
	"meshcore/internal/store"
)

const shutdownTimeout = 10 * time.Second

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("meshd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var configPath, addr string
	fs.StringVar(&configPath, "config", "", "path to config yaml")
	fs.StringVar(&addr, "addr", "", "listen address, overrides the config")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "meshd: %v\n", err)
		return 1
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	logger, err := cfg.Log.Logger()
	if err != nil {
		fmt.Fprintf(stderr, "meshd: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Error("listen failed", zap.String("addr", cfg.Server.Addr), zap.Error(err))
		return 1
	}
	if err := serve(ctx, ln, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

// build opens the store and assembles the handler described by cfg. The
// returned closer releases the store.
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (http.Handler, func() error, error) {
	st, err := store.Open(ctx, cfg.Server.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	opts := []server.Option{server.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		rec := observability.NewPrometheusRecorder(cfg.Metrics.Namespace)
		opts = append(opts,
			server.WithObserver(rec),
			server.WithRoute(cfg.Metrics.Path, promhttp.HandlerFor(rec.Registry(), promhttp.HandlerOpts{})),
		)
	}
	srv, err := server.New(st, cfg.Resources, opts...)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return srv, st.Close, nil
}

// serve runs until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, ln net.Listener, cfg *config.Config, logger *zap.Logger) error {
	handler, closeStore, err := build(ctx, cfg, logger)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			logger.Warn("close store", zap.Error(cerr))
		}
	}()
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(ln) }()
	logger.Info("meshd listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("resources", len(cfg.Resources)),
		zap.Strings("config", cfg.LoadedFrom),
	)
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("meshd shutting down")
	return httpServer.Shutdown(shutdownCtx)
}

// Command storagecore runs the storage layer standalone: it opens the
// configured connection pools, exposes pool status and Prometheus metrics
// over HTTP, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	storagecore "github.com/BaSui01/storagecore"
	"github.com/BaSui01/storagecore/types"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to storagecore.yaml (optional)")
		listenAddr = flag.String("listen", ":8080", "status/metrics listen address")
		forceClose = flag.Bool("force-close", false, "skip the graceful connection drain on shutdown")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, *configPath, *listenAddr, *forceClose); err != nil {
		logger.Fatal("storagecore exited", zap.Error(err))
	}
}

func run(logger *zap.Logger, configPath, listenAddr string, forceClose bool) error {
	promReg := prometheus.NewRegistry()

	opts := []storagecore.Option{
		storagecore.WithLogger(logger),
		storagecore.WithMetrics(promReg),
	}
	if configPath != "" {
		opts = append(opts, storagecore.WithConfigPath(configPath))
	}

	client, err := storagecore.New(opts...)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := client.InitializePools(ctx); err != nil {
		// Unreachable backends are not fatal; their health loops keep
		// retrying. Log and continue with whatever came up.
		logger.Warn("some pools failed to initialize", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		statuses := make(map[string]types.PoolStatus)
		for _, dt := range types.AllDatabaseTypes() {
			if s, err := client.Pools.PoolStatus(dt); err == nil {
				statuses[string(dt)] = s
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statuses)
	})

	srv := &http.Server{Addr: listenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", listenAddr))
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = client.Close(ctx, true)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return client.Close(shutdownCtx, forceClose)
}

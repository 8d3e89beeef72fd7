package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leonardcser/hotcache/internal/cache"
	"github.com/leonardcser/hotcache/internal/config"
	"github.com/leonardcser/hotcache/internal/logger"
)

func main() {
	os.Exit(execute())
}

// execute runs the daemon and reports failure through the configured
// logger, which stays open until that last line is written.
func execute() int {
	defer logger.Close()
	if err := run(); err != nil {
		logger.Errorf("cache daemon: %v", err)
		return 1
	}
	return 0
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		logger.SetOutput(os.Stderr)
		return err
	}
	if cfg.LogPath != "" {
		if err := logger.Init(cfg.LogPath); err != nil {
			return err
		}
	} else {
		logger.SetOutput(os.Stderr)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ensure socket dir exists and remove stale socket
	_ = os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755)
	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755)
	_ = os.Remove(cfg.SocketPath)

	store, err := cache.Open(cfg.DBPath, cache.Options{Bucket: cfg.Bucket, DefaultTTL: cfg.DefaultTTL})
	if err != nil {
		return err
	}
	defer store.Close()

	hot, err := cache.NewTiered(store, cfg.HotCapacity, cfg.HotMaxAge)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := cache.RegisterMetrics(reg, "hotcache", hot); err != nil {
			return err
		}
		go serveMetrics(ctx, cfg.MetricsAddr, reg)
	}

	if cfg.SweepInterval > 0 {
		go sweepLoop(ctx, store, cfg.SweepInterval)
	}

	l, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return err
	}
	_ = os.Chmod(cfg.SocketPath, 0o600)
	logger.Infof("cache daemon listening on %s (db %s, hot capacity %d)", cfg.SocketPath, cfg.DBPath, cfg.HotCapacity)

	err = cache.NewServer(hot).Serve(ctx, l)
	logger.Infof("cache daemon stopped: %+v", hot.Stats())
	return err
}

// sweepLoop periodically drops expired entries from the store.
func sweepLoop(ctx context.Context, store *cache.Store, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Sweep()
			if err != nil {
				logger.Warnf("sweep: %v", err)
				continue
			}
			if n > 0 {
				logger.Infof("sweep removed %d expired entries", n)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Infof("metrics on http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("metrics server: %v", err)
	}
}

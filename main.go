package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"crmstore/api"
	"crmstore/config"
	"crmstore/service"
	"crmstore/storage"
	"crmstore/storage/journal"
	"crmstore/storage/memory"
)

func newLogger(cfg config.LogConfig) log.Logger {
	var logger log.Logger

	if cfg.Format == "json" {
		logger = log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	}

	logger = level.NewFilter(logger, level.Allow(level.ParseDefault(cfg.Level, level.InfoValue())))

	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)

	if err != nil {
		log.NewLogfmtLogger(os.Stderr).Log("msg", "load config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	if err := run(cfg, logger); err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}

	level.Info(logger).Log("msg", "exiting...")
}

func run(cfg *config.Config, logger log.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o777); err != nil {
		return err
	}

	backing, err := memory.OpenFile(
		log.With(logger, "component", "file"),
		registry,
		cfg.Storage.Path,
		cfg.Storage.SyncWrites,
	)

	if err != nil {
		return err
	}

	store, err := storage.Open(log.With(logger, "component", "storage"), registry, backing, storage.Options{
		BucketSizePages: cfg.Storage.BucketSizePages,
		SyncInterval:    cfg.Storage.SyncInterval,
	})

	if err != nil {
		backing.Close()
		return err
	}

	defer func() {
		if err := store.Close(); err != nil {
			level.Error(logger).Log("msg", "close store", "err", err)
		}
	}()

	store.Run()

	deps := service.Deps{
		IDs:     store.IDs,
		Lock:    &sync.Mutex{},
		Clock:   func() time.Time { return time.Now().UTC().Round(0) },
		Logger:  log.With(logger, "component", "service"),
		Metrics: service.NewMetrics(registry),
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(log.With(logger, "component", "journal"), registry, cfg.Journal.Dir, cfg.Journal.SegmentSize, cfg.Journal.Compress)

		if err != nil {
			return err
		}

		defer j.Close()

		deps.Journal = j
	}

	handler := &api.Handler{
		Customers:    &service.CustomerService{Deps: deps, Customers: store.Customers},
		Interactions: &service.InteractionService{Deps: deps, Interactions: store.Interactions},
		Logger:       log.With(logger, "component", "api"),
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewRouter(handler, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		level.Info(logger).Log("msg", "app started...", "listen", cfg.Listen)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		level.Info(logger).Log("msg", "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

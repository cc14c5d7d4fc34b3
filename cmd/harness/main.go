package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scopeleak/internal/harness"
	"scopeleak/internal/platform/config"
	"scopeleak/internal/platform/httpserver"
	"scopeleak/internal/platform/kafka"
	"scopeleak/internal/platform/logger"
	"scopeleak/internal/platform/metrics"
	"scopeleak/internal/platform/postgres"
	platformredis "scopeleak/internal/platform/redis"
	"scopeleak/internal/report"
	"scopeleak/internal/resource"
	"scopeleak/internal/resource/memory"
	"scopeleak/internal/resource/redisconn"
	"scopeleak/internal/resource/sqldb"
	"scopeleak/internal/tracker"
	httptransport "scopeleak/internal/transport/http"
)

// main wires the harness: a backend factory feeds the batch runner, every
// created handle lands in the tracker, and the driver reports usage to the
// configured sinks while the HTTP server exposes the latest snapshot.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("harness stopped", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	factory, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	tr := tracker.New(tracker.NewRegistry(), tracker.NewProbe(cfg.Harness.ProbeTimeout), log)

	sinks := report.Multi{report.NewLogSink(log), report.NewMetricsSink(m)}
	var history httptransport.HistoryReader
	if cfg.History.Dir != "" {
		store, err := report.OpenHistory(cfg.History.Dir)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn("closing history store", "error", err)
			}
		}()
		sinks = append(sinks, store)
		history = store
	}
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kafka.NewClient(ctx, cfg.Kafka)
		if err != nil {
			return err
		}
		defer client.Close()
		sinks = append(sinks, report.NewKafkaSink(client, cfg.Kafka.Topic))
	}

	runner := harness.NewBatchRunner(factory, tr, log, harness.WithMetrics(m))
	driver := harness.NewDriver(runner, tr, sinks, log, harness.Config{
		Iterations:  cfg.Harness.Iterations,
		BatchSize:   cfg.Harness.BatchSize,
		ReportEvery: cfg.Harness.ReportEvery,
	})

	var metricsHandler http.Handler
	if cfg.Server.MetricsEnabled {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}
	router := httptransport.NewRouter(httptransport.NewHandler(tr, history, log), metricsHandler)
	srv := httpserver.New(cfg.Server.Addr, router)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	defer shutdown(srv, log)

	log.Info("starting harness",
		"run_id", driver.RunID(),
		"backend", cfg.Harness.Backend,
		"iterations", cfg.Harness.Iterations,
		"batch_size", cfg.Harness.BatchSize,
	)
	err = driver.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		log.Info("harness interrupted", "run_id", driver.RunID())
		return nil
	case err != nil:
		return err
	}
	if usage, ok := tr.Last(); ok {
		log.Info("harness finished", "run_id", driver.RunID(), "usage", usage.String())
	}

	if !cfg.Server.ServeAfterRun {
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-serveErr:
		if !ok {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// openBackend builds the scope factory for the configured backend and a
// function that closes whatever pool it opened.
func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (resource.Factory, func(), error) {
	switch cfg.Harness.Backend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		factory := sqldb.New(db,
			sqldb.WithLeakEvery(cfg.Memory.LeakEvery),
			sqldb.WithCheckoutTimeout(cfg.Postgres.CheckoutTimeout),
		)
		return factory, func() {
			if err := db.Close(); err != nil {
				log.Warn("closing postgres pool", "error", err)
			}
		}, nil
	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return redisconn.New(client, redisconn.WithLeakEvery(cfg.Memory.LeakEvery)), func() {
			if err := client.Close(); err != nil {
				log.Warn("closing redis client", "error", err)
			}
		}, nil
	default:
		return memory.New(memory.WithLeakEvery(cfg.Memory.LeakEvery)), func() {}, nil
	}
}

func shutdown(srv *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

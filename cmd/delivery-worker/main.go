package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/delivery-pipeline/internal/bootstrap"
	"github.com/example/delivery-pipeline/internal/common"
	"github.com/example/delivery-pipeline/internal/delivery"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("delivery-worker")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName, cfg.Log.Level, cfg.Log.File)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.Metrics.Port, logger)
	defer metricsSrv.Shutdown(context.Background())

	st, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer closeStore()

	q, closeQueue, err := bootstrap.OpenQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open queue")
	}
	defer closeQueue()

	p, err := bootstrap.BuildProvider(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build provider")
	}

	pub, closePub := bootstrap.OpenPublisher(cfg, logger)
	defer closePub()

	worker := delivery.NewWorker(st, q, p, pub, delivery.Config{
		Interval:  cfg.Worker.Interval,
		BatchSize: cfg.Worker.BatchSize,
		Backoff:   delivery.Backoff{Base: cfg.Worker.BackoffBase, Max: cfg.Worker.BackoffMax},
	}, logger)
	reconciler := &delivery.Reconciler{
		Store:      st,
		Queue:      q,
		StaleAfter: cfg.Worker.StaleAfter,
		BatchSize:  cfg.Worker.BatchSize * 10,
		Logger:     logger,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := reconciler.Run(ctx, cfg.Worker.ReconcileInterval); err != nil {
			logger.Error().Err(err).Msg("reconciler stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("delivery worker stopped")
			cancel()
		}
	}()

	logger.Info().
		Str("store", cfg.Store.Driver).
		Str("queue", cfg.Queue.Driver).
		Dur("interval", cfg.Worker.Interval).
		Msg("delivery worker started")
	wg.Wait()
}

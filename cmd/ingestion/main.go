package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/delivery-pipeline/internal/bootstrap"
	"github.com/example/delivery-pipeline/internal/common"
	"github.com/example/delivery-pipeline/internal/delivery"
	"github.com/example/delivery-pipeline/internal/ingest"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("ingestion")
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

	h := ingest.NewHandler(ingest.NewService(st, q, logger), logger)

	srv := &http.Server{
		Addr:    formatAddr(cfg.HTTP.Port),
		Handler: h.Router(),
	}

	var wg sync.WaitGroup
	if cfg.Worker.Embedded {
		// single-process mode: required when the store and queue are in memory
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
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("embedded delivery worker stopped")
			}
		}()
		go func() {
			defer wg.Done()
			if err := reconciler.Run(ctx, cfg.Worker.ReconcileInterval); err != nil {
				logger.Error().Err(err).Msg("embedded reconciler stopped")
			}
		}()
		logger.Info().Msg("embedded delivery worker and reconciler started")
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("ingestion service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	wg.Wait()
}

func formatAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

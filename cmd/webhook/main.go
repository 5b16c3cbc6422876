package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/delivery-pipeline/internal/bootstrap"
	"github.com/example/delivery-pipeline/internal/common"
	"github.com/example/delivery-pipeline/internal/confirmation"
	"github.com/example/delivery-pipeline/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("webhook")
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

	pub, closePub := bootstrap.OpenPublisher(cfg, logger)
	defer closePub()

	server := &webhook.Server{
		Confirmer:    confirmation.NewService(st, pub, logger),
		VerifyToken:  cfg.WhatsApp.VerifyToken,
		UnknownGrace: cfg.Webhook.UnknownGrace,
		Logger:       logger,
	}
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler: server.Router(),
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("webhook service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("webhook server failed")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

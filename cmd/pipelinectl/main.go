package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/delivery-pipeline/internal/bootstrap"
	"github.com/example/delivery-pipeline/internal/common"
	"github.com/example/delivery-pipeline/internal/queue"
	"github.com/example/delivery-pipeline/internal/store"
)

// backends opens the store and queue selected by configuration.
type backends func(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (store.Store, queue.Queue, func(), error)

type app struct {
	cfgPath string
	out     io.Writer
	open    backends
	logger  zerolog.Logger
	now     func() time.Time
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{out: os.Stdout, open: openBackends}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Operate the message delivery pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to YAML config file (overrides CONFIG_FILE)")
	root.AddCommand(a.migrateCmd(), a.statusCmd(), a.leadCmd(), a.campaignCmd(), a.listCmd(), a.reconcileCmd())
	return root
}

// setup loads configuration and opens the backends for one command.
func (a *app) setup(ctx context.Context) (*common.Config, store.Store, queue.Queue, func(), error) {
	if a.cfgPath != "" {
		if err := os.Setenv("CONFIG_FILE", a.cfgPath); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	cfg, err := common.LoadConfig("pipelinectl")
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	a.logger = common.NewLogger(cfg.ServiceName, cfg.Log.Level, cfg.Log.File)
	st, q, closer, err := a.open(ctx, cfg, a.logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return cfg, st, q, closer, nil
}

func openBackends(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (store.Store, queue.Queue, func(), error) {
	st, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	q, closeQueue, err := bootstrap.OpenQueue(ctx, cfg, logger)
	if err != nil {
		closeStore()
		return nil, nil, nil, fmt.Errorf("open queue: %w", err)
	}
	return st, q, func() {
		closeQueue()
		closeStore()
	}, nil
}

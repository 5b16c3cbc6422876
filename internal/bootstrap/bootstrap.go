// Package bootstrap selects the store, queue, publisher and provider
// implementations once at process start.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/example/delivery-pipeline/internal/common"
	"github.com/example/delivery-pipeline/internal/events"
	"github.com/example/delivery-pipeline/internal/provider"
	"github.com/example/delivery-pipeline/internal/queue"
	"github.com/example/delivery-pipeline/internal/store"
)

// Closer releases a connection opened during bootstrap.
type Closer func()

func noop() {}

var connectTimeout = 30 * time.Second

// connect retries op with exponential backoff until it succeeds,
// connectTimeout elapses or ctx is done.
func connect(ctx context.Context, logger zerolog.Logger, what string, op func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = connectTimeout

	return backoff.RetryNotify(func() error {
		return op(ctx)
	}, backoff.WithContext(eb, ctx), func(err error, next time.Duration) {
		logger.Warn().Err(err).Str("target", what).Dur("retry_in", next).Msg("connect failed, retrying")
	})
}

func OpenStore(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (store.Store, Closer, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		if err := connect(ctx, logger, "postgres", pool.Ping); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		st, err := store.OpenPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo client: %w", err)
		}
		closer := func() { _ = client.Disconnect(context.Background()) }
		if err := connect(ctx, logger, "mongo", func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		}); err != nil {
			closer()
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		return store.NewMongoStore(client, cfg.Mongo.Database, cfg.Mongo.Collection), closer, nil

	case "memory", "":
		logger.Warn().Msg("using in-memory store, state is lost on restart and not shared across processes")
		return store.NewMemoryStore(), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// Migrate creates the schema or indexes the selected store needs.
func Migrate(ctx context.Context, st store.Store) error {
	switch s := st.(type) {
	case *store.PostgresStore:
		return s.Migrate(ctx)
	case *store.MongoStore:
		return s.EnsureIndexes(ctx)
	}
	return nil
}

func OpenQueue(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (queue.Queue, Closer, error) {
	switch cfg.Queue.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := connect(ctx, logger, "redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		q := queue.NewRedisQueue(client, cfg.Redis.KeyPrefix, cfg.Queue.VisibilityTimeout, logger)
		return q, func() { _ = client.Close() }, nil

	case "sqs":
		q, err := queue.NewSQSQueue(ctx, queue.SQSConfig{
			QueueURL:   cfg.SQS.QueueURL,
			Region:     cfg.SQS.Region,
			Endpoint:   cfg.SQS.Endpoint,
			Wait:       time.Duration(cfg.SQS.WaitSeconds) * time.Second,
			Visibility: cfg.Queue.VisibilityTimeout,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("sqs queue: %w", err)
		}
		return q, noop, nil

	case "memory", "":
		logger.Warn().Msg("using in-memory queue, items are lost on restart and not shared across processes")
		return queue.NewMemoryQueue(queue.WithVisibility(cfg.Queue.VisibilityTimeout)), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
}

func OpenPublisher(cfg *common.Config, logger zerolog.Logger) (events.Publisher, Closer) {
	if !cfg.Events.Enabled {
		return events.Nop{}, noop
	}
	pub := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.DLQTopic)
	logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.EventsTopic).Msg("publishing lifecycle events")
	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.Warn().Err(err).Msg("close event publisher")
		}
	}
}

func BuildProvider(cfg *common.Config, logger zerolog.Logger) (provider.Provider, error) {
	return provider.Build(provider.Config{
		Email:            cfg.Provider.Email,
		WhatsApp:         cfg.Provider.WhatsApp,
		SESEndpoint:      cfg.SES.Endpoint,
		SESAPIKey:        cfg.SES.APIKey,
		SendGridEndpoint: cfg.SendGrid.Endpoint,
		SendGridAPIKey:   cfg.SendGrid.APIKey,
		WhatsAppBaseURL:  cfg.WhatsApp.BaseURL,
		WhatsAppToken:    cfg.WhatsApp.AccessToken,
		WhatsAppPhoneID:  cfg.WhatsApp.PhoneNumberID,
		WhatsAppLanguage: cfg.WhatsApp.TemplateLanguage,
		Client:           &http.Client{Timeout: 10 * time.Second},
	}, logger)
}

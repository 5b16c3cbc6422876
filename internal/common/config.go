package common

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string         `mapstructure:"-"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	Log         LogConfig      `mapstructure:"log"`
	OTLP        OTLPConfig     `mapstructure:"otlp"`
	Store       StoreConfig    `mapstructure:"store"`
	Database    DatabaseConfig `mapstructure:"database"`
	Mongo       MongoConfig    `mapstructure:"mongo"`
	Queue       QueueConfig    `mapstructure:"queue"`
	SQS         SQSConfig      `mapstructure:"sqs"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Events      EventsConfig   `mapstructure:"events"`
	Provider    ProviderConfig `mapstructure:"provider"`
	SES         EndpointConfig `mapstructure:"ses"`
	SendGrid    EndpointConfig `mapstructure:"sendgrid"`
	WhatsApp    WhatsAppConfig `mapstructure:"whatsapp"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
	Worker      WorkerConfig   `mapstructure:"worker"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	File  string `mapstructure:"file"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory postgres mongo"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database" validate:"required"`
	Collection string `mapstructure:"collection" validate:"required"`
}

type QueueConfig struct {
	Driver            string        `mapstructure:"driver" validate:"oneof=memory sqs redis"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"min=0"`
}

type SQSConfig struct {
	QueueURL    string `mapstructure:"queue_url"`
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	WaitSeconds int    `mapstructure:"wait_seconds" validate:"min=0,max=20"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"min=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	EventsTopic string   `mapstructure:"events_topic"`
	DLQTopic    string   `mapstructure:"dlq_topic"`
}

type EventsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ProviderConfig struct {
	Email    []string `mapstructure:"email" validate:"dive,oneof=ses sendgrid stdout"`
	WhatsApp string   `mapstructure:"whatsapp" validate:"omitempty,oneof=meta stdout"`
}

type EndpointConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

type WhatsAppConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	AccessToken      string `mapstructure:"access_token"`
	PhoneNumberID    string `mapstructure:"phone_number_id"`
	VerifyToken      string `mapstructure:"verify_token"`
	TemplateLanguage string `mapstructure:"template_language"`
}

type WebhookConfig struct {
	// UnknownGrace is how long after the provider event an unknown message id
	// is answered with a retryable status instead of being dropped.
	UnknownGrace time.Duration `mapstructure:"unknown_grace" validate:"min=0"`
}

type WorkerConfig struct {
	Interval          time.Duration `mapstructure:"interval" validate:"gt=0"`
	BatchSize         int           `mapstructure:"batch_size" validate:"min=1,max=10"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" validate:"gt=0"`
	BackoffMax        time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffBase"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"gt=0"`
	StaleAfter        time.Duration `mapstructure:"stale_after" validate:"gtfield=BackoffMax"`
	Embedded          bool          `mapstructure:"embedded"`
}

const defaultVisibility = 30 * time.Second

var defaults = map[string]any{
	"http.port":                  8080,
	"metrics.port":               0,
	"log.level":                  "info",
	"log.file":                   "",
	"otlp.endpoint":              "",
	"store.driver":               "memory",
	"database.url":               "",
	"mongo.uri":                  "",
	"mongo.database":             "delivery",
	"mongo.collection":           "messages",
	"queue.driver":               "memory",
	"queue.visibility_timeout":   defaultVisibility,
	"sqs.queue_url":              "",
	"sqs.region":                 "us-east-1",
	"sqs.endpoint":               "",
	"sqs.wait_seconds":           10,
	"redis.addr":                 "localhost:6379",
	"redis.password":             "",
	"redis.db":                   0,
	"redis.key_prefix":           "delivery",
	"kafka.brokers":              []string{"localhost:9092"},
	"kafka.events_topic":         "message.events",
	"kafka.dlq_topic":            "dlq.message.events",
	"events.enabled":             false,
	"provider.email":             []string{"stdout"},
	"provider.whatsapp":          "stdout",
	"ses.endpoint":               "https://ses.local",
	"ses.api_key":                "",
	"sendgrid.endpoint":          "https://api.sendgrid.com/v3",
	"sendgrid.api_key":           "",
	"whatsapp.base_url":          "https://graph.facebook.com/v18.0",
	"whatsapp.access_token":      "",
	"whatsapp.phone_number_id":   "",
	"whatsapp.verify_token":      "",
	"whatsapp.template_language": "en_US",
	"webhook.unknown_grace":      2 * time.Minute,
	"worker.interval":            5 * time.Second,
	"worker.batch_size":          10,
	"worker.backoff_base":        60 * time.Second,
	"worker.backoff_max":         15 * time.Minute,
	"worker.reconcile_interval":  time.Minute,
	"worker.stale_after":         30 * time.Minute,
	"worker.embedded":            false,
}

// LoadConfig reads defaults, an optional CONFIG_FILE and the environment.
// Nested keys map to env names with dots replaced by underscores, so
// worker.backoff_base is read from WORKER_BACKOFF_BASE.
func LoadConfig(service string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ServiceName = service
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = cfg.HTTP.Port + 1000
	}
	cfg.Provider.Email = trimAll(cfg.Provider.Email)
	cfg.Kafka.Brokers = trimAll(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch {
	case c.Store.Driver == "postgres" && c.Database.URL == "":
		return errors.New("invalid config: DATABASE_URL is required for the postgres store")
	case c.Store.Driver == "mongo" && c.Mongo.URI == "":
		return errors.New("invalid config: MONGO_URI is required for the mongo store")
	case c.Queue.Driver == "sqs" && c.SQS.QueueURL == "":
		return errors.New("invalid config: SQS_QUEUE_URL is required for the sqs queue")
	case c.Events.Enabled && len(c.Kafka.Brokers) == 0:
		return errors.New("invalid config: KAFKA_BROKERS is required when events are enabled")
	case c.Worker.StaleAfter < c.MinStaleAfter():
		return fmt.Errorf("invalid config: WORKER_STALE_AFTER must be at least %s (backoff max plus visibility timeout)", c.MinStaleAfter())
	}
	return nil
}

// MinStaleAfter is the shortest stale threshold that cannot overtake a
// scheduled retry: a delayed item becomes visible within BackoffMax and stays
// claimed for one visibility window.
func (c *Config) MinStaleAfter() time.Duration {
	visibility := c.Queue.VisibilityTimeout
	if visibility <= 0 {
		visibility = defaultVisibility
	}
	return c.Worker.BackoffMax + visibility
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

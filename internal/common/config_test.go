package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("ingestion")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "ingestion" {
		t.Fatalf("service=%q", cfg.ServiceName)
	}
	if cfg.HTTP.Port != 8080 || cfg.Metrics.Port != 9080 {
		t.Fatalf("ports=%d/%d, expected 8080/9080", cfg.HTTP.Port, cfg.Metrics.Port)
	}
	if cfg.Store.Driver != "memory" || cfg.Queue.Driver != "memory" {
		t.Fatalf("drivers=%s/%s", cfg.Store.Driver, cfg.Queue.Driver)
	}
	if cfg.Worker.Interval != 5*time.Second || cfg.Worker.BackoffBase != time.Minute || cfg.Worker.BackoffMax != 15*time.Minute {
		t.Fatalf("unexpected worker defaults %+v", cfg.Worker)
	}
	if cfg.Worker.StaleAfter != 30*time.Minute {
		t.Fatalf("stale_after=%s", cfg.Worker.StaleAfter)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("WORKER_BACKOFF_BASE", "30s")
	t.Setenv("WORKER_BACKOFF_MAX", "5m")
	t.Setenv("QUEUE_DRIVER", "redis")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("PROVIDER_EMAIL", "ses,sendgrid")

	cfg, err := LoadConfig("delivery-worker")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTP.Port != 9000 || cfg.Metrics.Port != 10000 {
		t.Fatalf("ports=%d/%d", cfg.HTTP.Port, cfg.Metrics.Port)
	}
	if cfg.Worker.BackoffBase != 30*time.Second || cfg.Worker.BackoffMax != 5*time.Minute {
		t.Fatalf("backoff=%s/%s", cfg.Worker.BackoffBase, cfg.Worker.BackoffMax)
	}
	if cfg.Queue.Driver != "redis" {
		t.Fatalf("queue driver=%s", cfg.Queue.Driver)
	}
	if strings.Join(cfg.Kafka.Brokers, "|") != "k1:9092|k2:9092" {
		t.Fatalf("brokers=%v", cfg.Kafka.Brokers)
	}
	if strings.Join(cfg.Provider.Email, "|") != "ses|sendgrid" {
		t.Fatalf("email providers=%v", cfg.Provider.Email)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "store:\n  driver: mongo\nmongo:\n  uri: mongodb://localhost:27017\nworker:\n  batch_size: 4\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := LoadConfig("pipelinectl")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Store.Driver != "mongo" || cfg.Mongo.URI != "mongodb://localhost:27017" || cfg.Worker.BatchSize != 4 {
		t.Fatalf("file values not applied: %+v %+v %+v", cfg.Store, cfg.Mongo, cfg.Worker)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"STORE_DRIVER": "cassandra"}},
		{name: "postgres without url", env: map[string]string{"STORE_DRIVER": "postgres"}},
		{name: "sqs without url", env: map[string]string{"QUEUE_DRIVER": "sqs"}},
		{name: "batch too large", env: map[string]string{"WORKER_BATCH_SIZE": "50"}},
		{name: "cap below base", env: map[string]string{"WORKER_BACKOFF_MAX": "10s"}},
		{name: "unknown email provider", env: map[string]string{"PROVIDER_EMAIL": "pigeon"}},
		{name: "bad port", env: map[string]string{"HTTP_PORT": "not-a-port"}},
		{name: "stale below backoff cap", env: map[string]string{"WORKER_STALE_AFTER": "5m"}},
		{name: "stale inside visibility margin", env: map[string]string{"WORKER_STALE_AFTER": "15m10s"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig("test"); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestMinStaleAfter(t *testing.T) {
	t.Setenv("WORKER_BACKOFF_MAX", "10m")
	t.Setenv("QUEUE_VISIBILITY_TIMEOUT", "1m")
	t.Setenv("WORKER_STALE_AFTER", "11m")

	cfg, err := LoadConfig("delivery-worker")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.MinStaleAfter(); got != 11*time.Minute {
		t.Fatalf("min stale after=%s, expected 11m", got)
	}
	if cfg.Webhook.UnknownGrace != 2*time.Minute {
		t.Fatalf("unknown grace=%s", cfg.Webhook.UnknownGrace)
	}
}

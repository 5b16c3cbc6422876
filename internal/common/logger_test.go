package common

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")
	logger := NewLogger("delivery-worker", "debug", path)
	logger.Debug().Str("message_id", "m1").Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &line); err != nil {
		t.Fatalf("decode log line %q: %v", data, err)
	}
	if line["service"] != "delivery-worker" || line["message_id"] != "m1" || line["level"] != "debug" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	if got := NewLogger("x", "warn", "").GetLevel(); got != zerolog.WarnLevel {
		t.Fatalf("level=%s, expected warn", got)
	}
	if got := NewLogger("x", "loud", "").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("level=%s, expected info fallback", got)
	}
}

func TestWithContextAddsTraceIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	logger := WithContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("traced")

	out := buf.String()
	if !strings.Contains(out, span.SpanContext().TraceID().String()) {
		t.Fatalf("trace id missing from %s", out)
	}
	if !strings.Contains(out, `"span_id"`) {
		t.Fatalf("span id missing from %s", out)
	}
}

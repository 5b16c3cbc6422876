package store

import (
	"context"
	"time"

	"github.com/example/delivery-pipeline/internal/message"
)

// Store persists one record per message id. All operations are atomic per row.
type Store interface {
	Save(ctx context.Context, msg *message.Message) error
	FindByID(ctx context.Context, id string) (*message.Message, error)
	Update(ctx context.Context, msg *message.Message) error
	FindByStatus(ctx context.Context, status message.Status, limit int) ([]*message.Message, error)
	FindByCorrelation(ctx context.Context, ref message.CorrelationRef) ([]*message.Message, error)
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*message.Message, error)
	// FindStranded returns pending messages, and failed messages with retries
	// left, whose last update is older than before.
	FindStranded(ctx context.Context, before time.Time, limit int) ([]*message.Message, error)
}

const defaultLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

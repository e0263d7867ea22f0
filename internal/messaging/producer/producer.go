package producer

import (
	"context"

	"farmtrace/internal/models"
)

// Producer defines the interface for message queue producer
type Producer interface {
	// Publish sends a single anchoring request to the configured topic
	Publish(ctx context.Context, msg *models.ActivityMessage) error

	// PublishBatch sends anchoring requests in batch to the configured topic
	PublishBatch(ctx context.Context, msgs []*models.ActivityMessage) error

	// Close closes the producer connection
	Close() error
}

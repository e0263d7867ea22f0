package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"farmtrace/config"
	"farmtrace/internal/logger"
	"farmtrace/internal/models"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer implements the Producer interface
type KafkaProducer struct {
	writer *kafka.Writer
	logger *logger.Logger
	topic  string
}

// NewKafkaProducer creates a new KafkaProducer. cfg is expected to have had SetDefaults applied.
func NewKafkaProducer(cfg config.KafkaProducerConfig, log *logger.Logger) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka producer configuration incomplete: both brokers and topic are required")
	}
	log = log.Named("kafka-producer")

	// Parse required_acks setting
	var requiredAcks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case "none":
		requiredAcks = kafka.RequireNone
	case "one":
		requiredAcks = kafka.RequireOne
	default:
		requiredAcks = kafka.RequireAll
	}

	// Configure Kafka Writer
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{}, // activities of one batch stay on one partition

		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		BatchBytes:   int64(cfg.BatchBytes),

		// Reliability settings
		RequiredAcks: requiredAcks,
		Async:        cfg.Async,

		// Performance settings
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,

		// Error handling
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error(fmt.Sprintf("Kafka writer error: "+msg, args...))
		}),
	}

	log.Info("Kafka producer created", "brokers", cfg.Brokers, "topic", cfg.Topic, "async", cfg.Async)

	return &KafkaProducer{
		writer: w,
		logger: log,
		topic:  cfg.Topic,
	}, nil
}

func encode(msg *models.ActivityMessage) (kafka.Message, error) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to serialize activity message (RequestID: %s): %w", msg.RequestID, err)
	}
	return kafka.Message{
		Key:   []byte(msg.BatchID),
		Value: msgBytes,
	}, nil
}

// Publish sends a message
func (p *KafkaProducer) Publish(ctx context.Context, msg *models.ActivityMessage) error {
	return p.PublishBatch(ctx, []*models.ActivityMessage{msg})
}

// PublishBatch sends activity messages in batch to the configured topic
func (p *KafkaProducer) PublishBatch(ctx context.Context, msgs []*models.ActivityMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	kafkaMsgs := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		m, err := encode(msg)
		if err != nil {
			return err
		}
		kafkaMsgs[i] = m
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsgs...); err != nil {
		p.logger.Error("Failed to send Kafka messages", "count", len(msgs), "error", err)
		return fmt.Errorf("failed to batch write to Kafka: %w", err)
	}

	p.logger.Debug("Queued Kafka messages", "count", len(msgs), "topic", p.topic)
	return nil
}

// Close closes the producer
func (p *KafkaProducer) Close() error {
	p.logger.Info("Closing Kafka producer (and flushing buffer)")
	return p.writer.Close() // Close will attempt to send remaining messages in buffer
}

var _ Producer = (*KafkaProducer)(nil) // Compile-time interface check

package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"farmtrace/config"
	"farmtrace/internal/logger"
	"farmtrace/internal/models"

	"github.com/segmentio/kafka-go"
)

// KafkaConsumer implements the Consumer interface to consume activity messages from Kafka
type KafkaConsumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

// NewKafkaConsumer creates a new KafkaConsumer instance
func NewKafkaConsumer(cfg config.KafkaConsumerConfig, log *logger.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("incomplete kafka configuration: brokers, topic, group_id are all required")
	}
	log = log.Named("kafka-consumer")

	// Parse session timeout with default
	sessionTimeout, err := time.ParseDuration(cfg.SessionTimeout)
	if err != nil {
		log.Warn("Invalid session_timeout, using default", "value", cfg.SessionTimeout, "default", "30s")
		sessionTimeout = 30 * time.Second
	}

	// Parse heartbeat interval with default
	heartbeatInterval, err := time.ParseDuration(cfg.HeartbeatInterval)
	if err != nil {
		log.Warn("Invalid heartbeat_interval, using default", "value", cfg.HeartbeatInterval, "default", "3s")
		heartbeatInterval = 3 * time.Second
	}

	// Configure Kafka reader
	readerConfig := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		Topic:             cfg.Topic,
		MinBytes:          1,
		MaxBytes:          10e6,            // 10MB
		MaxWait:           1 * time.Second, // Max wait time for message fetch
		SessionTimeout:    sessionTimeout,
		HeartbeatInterval: heartbeatInterval,
	}

	// Set start offset based on autoOffsetReset
	switch cfg.AutoOffsetReset {
	case "latest":
		readerConfig.StartOffset = kafka.LastOffset
	case "earliest", "":
		readerConfig.StartOffset = kafka.FirstOffset
	default:
		log.Warn("Unknown auto_offset_reset, using earliest", "value", cfg.AutoOffsetReset)
		readerConfig.StartOffset = kafka.FirstOffset
	}

	r := kafka.NewReader(readerConfig)

	log.Info("Kafka consumer created", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)

	return &KafkaConsumer{
		reader: r,
		logger: log,
	}, nil
}

// Consume implements the Consumer interface by reading messages from Kafka
func (k *KafkaConsumer) Consume(ctx context.Context) (*models.ActivityMessage, func(success bool), error) {
	kafkaMsg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}

	var msg models.ActivityMessage
	if err := json.Unmarshal(kafkaMsg.Value, &msg); err != nil {
		k.logger.Error("Failed to deserialize message, discarding", "offset", kafkaMsg.Offset, "error", err)
		_ = k.reader.CommitMessages(ctx, kafkaMsg) // Commit offset to avoid blocking
		return nil, nil, fmt.Errorf("message deserialization failed: %w", err)
	}

	ackCallback := func(success bool) {
		if success {
			if err := k.reader.CommitMessages(context.Background(), kafkaMsg); err != nil {
				k.logger.Error("Failed to commit offset", "offset", kafkaMsg.Offset, "error", err)
			}
			return
		}
		k.logger.Warn("NACK received, offset will not be committed", "offset", kafkaMsg.Offset, "request_id", msg.RequestID)
	}

	return &msg, ackCallback, nil
}

// Close implements the Consumer interface by closing the Kafka reader
func (k *KafkaConsumer) Close() error {
	k.logger.Info("Closing Kafka consumer")
	return k.reader.Close()
}

// Ensure KafkaConsumer implements the Consumer interface
var _ Consumer = (*KafkaConsumer)(nil)

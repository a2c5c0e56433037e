package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"pricewatch/internal/config"
	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/models"
)

const sourceName = "kafka"

// Consumer is a tick source reading one JSON tick per message from a topic.
// Offsets are committed by the consumer group after each read.
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(cfg config.KafkaConfig) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.TickTopic,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			MaxWait:        500 * time.Millisecond,
			CommitInterval: time.Second,
		}),
	}
}

func (c *Consumer) Name() string { return sourceName }

// Run blocks until ctx is cancelled. Undecodable messages are skipped.
func (c *Consumer) Run(ctx context.Context, emit func(models.Tick)) error {
	log := logger.WithComponent("kafka_consumer")
	log.Info().Str("topic", c.reader.Config().Topic).Msg("consuming ticks")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			metrics.FeedErrorsTotal.WithLabelValues(sourceName).Inc()
			return err
		}

		tick, err := decodeTick(msg.Value, msg.Time)
		if err != nil {
			metrics.FeedTicksTotal.WithLabelValues(sourceName, "invalid").Inc()
			log.Warn().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("skipping invalid tick message")
			continue
		}
		emit(tick)
	}
}

// decodeTick falls back to the message time when the payload has no timestamp
func decodeTick(data []byte, msgTime time.Time) (models.Tick, error) {
	var in models.TickInput
	if err := json.Unmarshal(data, &in); err != nil {
		return models.Tick{}, err
	}
	if msgTime.IsZero() {
		msgTime = time.Now()
	}
	return in.ToTick(msgTime)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

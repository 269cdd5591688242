package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/common/models"
)

// Consumer reads transfusion events as part of a consumer group. An offset is
// committed only after the handler succeeds, so failed events are redelivered.
type Consumer struct {
	reader *kafka.Reader
}

type EventHandler func(ctx context.Context, event models.Event) error

func NewConsumer(brokers []string, topic string, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader}
}

func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	log := logger.Component("kafka").WithField("topic", c.reader.Config().Topic)
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Error("Failed to fetch message")
			continue
		}

		event, err := DecodeMessage(message)
		if err != nil {
			// a malformed envelope never becomes valid; skip it
			log.WithError(err).Error("Dropping undecodable event")
			c.commit(ctx, message)
			continue
		}

		if err := handler(ctx, event); err != nil {
			log.WithError(err).WithFields(map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.Type,
				"partition":  message.Partition,
				"offset":     message.Offset,
			}).Error("Failed to process event")
			continue
		}
		c.commit(ctx, message)
	}
}

func (c *Consumer) commit(ctx context.Context, message kafka.Message) {
	if err := c.reader.CommitMessages(ctx, message); err != nil && ctx.Err() == nil {
		logger.Component("kafka").WithError(err).Error("Failed to commit message")
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

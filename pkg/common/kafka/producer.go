package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/thalcare-ai/platform/pkg/common/logger"
)

// Producer publishes alert and transfusion events to one topic.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer writes synchronously; callers publishing from request paths
// should pass a bounded context.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

func (p *Producer) PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error {
	event := NewEvent(eventType, source, data)
	message, err := EncodeMessage(event)
	if err != nil {
		return err
	}

	log := logger.Component("kafka").WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": eventType,
		"topic":      p.writer.Topic,
	})
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		log.WithError(err).Error("Failed to publish event")
		return err
	}
	log.Debug("Event published")
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

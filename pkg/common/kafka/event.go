package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/thalcare-ai/platform/pkg/common/models"
)

const (
	EventTransfusionRecorded = "transfusion_recorded"
	EventUrgentAlert         = "urgent_alert"
	EventBatchCompleted      = "batch_completed"
)

const (
	headerEventType = "event-type"
	headerSource    = "source"
)

// NewEvent stamps a payload with a fresh id and UTC time.
func NewEvent(eventType, source string, data map[string]interface{}) models.Event {
	return models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// partitionKey routes every event about one patient to the same partition so
// consumers see that patient's transfusions in order.
func partitionKey(event models.Event) []byte {
	if pid, ok := event.Data["patient_id"].(string); ok && pid != "" {
		return []byte(pid)
	}
	return []byte(event.ID)
}

func EncodeMessage(event models.Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   partitionKey(event),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(event.Type)},
			{Key: headerSource, Value: []byte(event.Source)},
		},
	}, nil
}

// DecodeMessage reads the event envelope. A missing type falls back to the
// event-type header written by EncodeMessage.
func DecodeMessage(msg kafka.Message) (models.Event, error) {
	var event models.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return models.Event{}, fmt.Errorf("offset %d: %w", msg.Offset, err)
	}
	if event.Type == "" {
		for _, h := range msg.Headers {
			if h.Key == headerEventType {
				event.Type = string(h.Value)
			}
		}
	}
	return event, nil
}

// DecodeData re-reads an event payload into a typed struct.
func DecodeData(event models.Event, out interface{}) error {
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("event %s: %w", event.ID, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("event %s: decode %s payload: %w", event.ID, event.Type, err)
	}
	return nil
}

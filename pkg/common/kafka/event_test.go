package kafka

import (
	"testing"

	"github.com/thalcare-ai/platform/pkg/common/models"
)

func TestDecodeData(t *testing.T) {
	event := models.Event{
		ID:   "e1",
		Type: EventTransfusionRecorded,
		Data: map[string]interface{}{"patient_id": "PT0001", "units_transfused": float64(2)},
	}
	var payload struct {
		PatientID string `json:"patient_id"`
		Units     int    `json:"units_transfused"`
	}
	if err := DecodeData(event, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.PatientID != "PT0001" || payload.Units != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}

	event.Data = map[string]interface{}{"units_transfused": "two"}
	if err := DecodeData(event, &payload); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestEncodeMessageKeysByPatient(t *testing.T) {
	event := NewEvent(EventUrgentAlert, "thal-alert-runner", map[string]interface{}{"patient_id": "PT0007", "predicted_days": 4})
	msg, err := EncodeMessage(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(msg.Key) != "PT0007" {
		t.Fatalf("expected patient key, got %q", msg.Key)
	}
	if len(msg.Headers) != 2 || string(msg.Headers[0].Value) != EventUrgentAlert {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}

	back, err := DecodeMessage(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.ID != event.ID || back.Type != EventUrgentAlert || back.Data["patient_id"] != "PT0007" {
		t.Fatalf("unexpected event %+v", back)
	}

	summary, err := EncodeMessage(NewEvent(EventBatchCompleted, "thal-alert-runner", map[string]interface{}{"total": 3}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(summary.Key) == 0 {
		t.Fatal("events without a patient must still carry a key")
	}
}

func TestDecodeMessageFallsBackToHeaderType(t *testing.T) {
	msg, err := EncodeMessage(NewEvent(EventTransfusionRecorded, "care", map[string]interface{}{"patient_id": "PT1"}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg.Value = []byte(`{"id":"e9","data":{"patient_id":"PT1"}}`)
	event, err := DecodeMessage(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != EventTransfusionRecorded {
		t.Fatalf("expected header type, got %q", event.Type)
	}

	msg.Value = []byte("not json")
	if _, err := DecodeMessage(msg); err == nil {
		t.Fatal("expected decode error")
	}
}

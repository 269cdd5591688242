package serving

import (
	"testing"
	"time"

	"github.com/thalcare-ai/platform/pkg/common/models"
	"github.com/thalcare-ai/platform/pkg/ml/timing"
)

func TestNewPredictionLog(t *testing.T) {
	at := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	pred := timing.Prediction{
		PredictedDays: 9, PredictedDate: at.AddDate(0, 0, 9), Urgency: models.UrgencySoon,
		ConfidenceLow: 7, ConfidenceHigh: 11,
	}
	log := NewPredictionLog("PT0007", "v3", map[string]interface{}{"patient_id": "PT0007"}, pred, 1500*time.Microsecond)

	if log.PredictedDays != 9 || log.Urgency != "SOON" {
		t.Fatalf("unexpected summary columns: %+v", log)
	}
	if log.LatencyMs != 1.5 {
		t.Fatalf("expected 1.5ms latency, got %v", log.LatencyMs)
	}
	if got := log.Response["predicted_date"]; got != "2026-10-28" {
		t.Fatalf("unexpected predicted_date %v", got)
	}
	if log.TableName() != "thal_prediction_logs" {
		t.Fatalf("unexpected table %s", log.TableName())
	}
}

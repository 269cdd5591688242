package serving

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thalcare-ai/platform/pkg/ml/timing"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PredictionLog is the persistence model for served timing predictions.
type PredictionLog struct {
	ID            uuid.UUID         `gorm:"primaryKey;column:id"`
	PatientID     string            `gorm:"column:patient_id"`
	ModelVersion  string            `gorm:"column:model_version"`
	Request       datatypes.JSONMap `gorm:"column:request"`
	Response      datatypes.JSONMap `gorm:"column:response"`
	LatencyMs     float64           `gorm:"column:latency_ms"`
	PredictedDays int               `gorm:"column:predicted_days"`
	Urgency       string            `gorm:"column:urgency"`
	CreatedAt     time.Time         `gorm:"column:created_at"`
}

// TableName overrides gorm naming.
func (PredictionLog) TableName() string {
	return "thal_prediction_logs"
}

// Repository handles prediction log queries.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PredictionLog{})
}

func (r *Repository) RecordPrediction(ctx context.Context, patientID, version string, request map[string]interface{}, pred timing.Prediction, latency time.Duration) error {
	log := NewPredictionLog(patientID, version, request, pred, latency)
	return r.db.WithContext(ctx).Create(&log).Error
}

func NewPredictionLog(patientID, version string, request map[string]interface{}, pred timing.Prediction, latency time.Duration) PredictionLog {
	return PredictionLog{
		ID:           uuid.New(),
		PatientID:    patientID,
		ModelVersion: version,
		Request:      datatypes.JSONMap(request),
		Response: datatypes.JSONMap{
			"predicted_days":  pred.PredictedDays,
			"predicted_date":  pred.PredictedDate.Format("2006-01-02"),
			"urgency":         string(pred.Urgency),
			"confidence_low":  pred.ConfidenceLow,
			"confidence_high": pred.ConfidenceHigh,
			"rf_prediction":   pred.BaggedPrediction,
			"gb_prediction":   pred.BoostedPrediction,
		},
		LatencyMs:     float64(latency.Microseconds()) / 1000.0,
		PredictedDays: pred.PredictedDays,
		Urgency:       string(pred.Urgency),
		CreatedAt:     time.Now().UTC(),
	}
}

// Recent returns the most recent prediction logs up to limit.
func (r *Repository) Recent(ctx context.Context, limit int) ([]PredictionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []PredictionLog
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

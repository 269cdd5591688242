package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thalcare-ai/platform/pkg/alerts"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AlertRollup is one patient's alert from a batch run, kept for trend review.
type AlertRollup struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey;column:id" json:"id"`
	BatchID       uuid.UUID         `gorm:"type:uuid;index;column:batch_id" json:"batch_id"`
	PatientID     string            `gorm:"index;column:patient_id" json:"patient_id"`
	Urgency       string            `gorm:"column:urgency" json:"urgency"`
	PredictedDays int               `gorm:"column:predicted_days" json:"predicted_days"`
	Value         datatypes.JSONMap `gorm:"column:value" json:"value"`
	EventTime     time.Time         `gorm:"column:event_time" json:"event_time"`
	CreatedAt     time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (AlertRollup) TableName() string {
	return "thal_alert_rollups"
}

type AlertArchive struct {
	db *gorm.DB
}

func NewAlertArchive(db *gorm.DB) *AlertArchive {
	return &AlertArchive{db: db}
}

func (a *AlertArchive) AutoMigrate() error {
	return a.db.AutoMigrate(&AlertRollup{})
}

// WriteBatch stores every alert of a batch under one batch id.
func (a *AlertArchive) WriteBatch(ctx context.Context, batch alerts.Batch) (uuid.UUID, error) {
	batchID := uuid.New()
	rows := rollupsFor(batchID, batch, time.Now().UTC())
	if len(rows) == 0 {
		return batchID, nil
	}
	return batchID, a.db.WithContext(ctx).CreateInBatches(rows, 200).Error
}

// History returns a patient's archived alerts, newest first.
func (a *AlertArchive) History(ctx context.Context, patientID string, limit int) ([]AlertRollup, error) {
	if limit <= 0 {
		limit = 50
	}
	var rollups []AlertRollup
	tx := a.db.WithContext(ctx)
	if patientID != "" {
		tx = tx.Where("patient_id = ?", patientID)
	}
	err := tx.Order("event_time desc").Limit(limit).Find(&rollups).Error
	return rollups, err
}

func rollupsFor(batchID uuid.UUID, batch alerts.Batch, created time.Time) []AlertRollup {
	rows := make([]AlertRollup, 0, len(batch.Alerts))
	for _, al := range batch.Alerts {
		rows = append(rows, AlertRollup{
			ID:            uuid.New(),
			BatchID:       batchID,
			PatientID:     al.PatientID,
			Urgency:       string(al.Urgency),
			PredictedDays: al.PredictedDays,
			Value: datatypes.JSONMap{
				"predicted_date":        al.PredictedDate.Format("2006-01-02"),
				"confidence_low":        al.ConfidenceLow,
				"confidence_high":       al.ConfidenceHigh,
				"eligible_donors_found": al.EligibleDonors,
				"top_donor_id":          al.TopDonorID,
				"excluded_donors_count": al.ExcludedCount,
			},
			EventTime: batch.GeneratedAt,
			CreatedAt: created,
		})
	}
	return rows
}

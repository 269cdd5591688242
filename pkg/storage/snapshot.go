package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/common/models"
	"gorm.io/gorm"
)

var ErrEmptySnapshot = errors.New("no patients in store")

type PatientRecord struct {
	ID               string    `gorm:"primaryKey;column:patient_id"`
	BloodType        string    `gorm:"column:blood_type"`
	Age              int       `gorm:"column:age"`
	WeightKg         float64   `gorm:"column:weight_kg"`
	Splenectomy      bool      `gorm:"column:splenectomy"`
	ChelationTherapy bool      `gorm:"column:chelation_therapy"`
	BaselineHb       float64   `gorm:"column:baseline_hb"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

func (PatientRecord) TableName() string { return "thal_patients" }

type DonorRecord struct {
	ID               string     `gorm:"primaryKey;column:donor_id"`
	BloodType        string     `gorm:"column:blood_type"`
	Available        bool       `gorm:"column:is_available"`
	LastDonationDate *time.Time `gorm:"column:last_donation_date"`
	TotalDonations   int        `gorm:"column:total_donations"`
}

func (DonorRecord) TableName() string { return "donors" }

type TransfusionRecord struct {
	ID               uint      `gorm:"primaryKey;autoIncrement;column:id"`
	PatientID        string    `gorm:"index;column:patient_id"`
	DonorID          string    `gorm:"index;column:donor_id"`
	Date             time.Time `gorm:"column:transfusion_date"`
	HbPre            float64   `gorm:"column:hb_pre_transfusion"`
	HbPost           float64   `gorm:"column:hb_post_transfusion"`
	Units            int       `gorm:"column:units_transfused"`
	ReactionOccurred bool      `gorm:"column:reaction_occurred"`
}

func (TransfusionRecord) TableName() string { return "transfusion_history" }

type HbReadingRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:id"`
	PatientID string    `gorm:"index;column:patient_id"`
	Date      time.Time `gorm:"column:reading_date"`
	Value     float64   `gorm:"column:hb_value"`
}

func (HbReadingRecord) TableName() string { return "hb_readings" }

// Repository reads the clinical tables into a Snapshot. It never runs queries
// while a model is training; callers load once and work from memory.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PatientRecord{}, &DonorRecord{}, &TransfusionRecord{}, &HbReadingRecord{})
}

func (r *Repository) Name() string { return "postgres" }

func (r *Repository) Load(ctx context.Context) (models.Snapshot, error) {
	var (
		patients     []PatientRecord
		donors       []DonorRecord
		transfusions []TransfusionRecord
		readings     []HbReadingRecord
	)
	tx := r.db.WithContext(ctx)
	if err := tx.Order("patient_id").Find(&patients).Error; err != nil {
		return models.Snapshot{}, fmt.Errorf("load patients: %w", err)
	}
	if len(patients) == 0 {
		return models.Snapshot{}, ErrEmptySnapshot
	}
	if err := tx.Order("donor_id").Find(&donors).Error; err != nil {
		return models.Snapshot{}, fmt.Errorf("load donors: %w", err)
	}
	if err := tx.Order("patient_id, transfusion_date").Find(&transfusions).Error; err != nil {
		return models.Snapshot{}, fmt.Errorf("load transfusions: %w", err)
	}
	if err := tx.Order("patient_id, reading_date").Find(&readings).Error; err != nil {
		return models.Snapshot{}, fmt.Errorf("load hb readings: %w", err)
	}

	snap := toSnapshot(patients, donors, transfusions, readings)
	logger.Log.WithFields(map[string]interface{}{
		"patients":     len(snap.Patients),
		"donors":       len(snap.Donors),
		"transfusions": len(snap.Transfusions),
		"hb_readings":  len(snap.HbReadings),
	}).Info("Loaded clinical snapshot")
	return snap, nil
}

func (r *Repository) RecordTransfusion(ctx context.Context, ev models.TransfusionEvent) error {
	rec := fromTransfusion(ev)
	return r.db.WithContext(ctx).Create(&rec).Error
}

// Seed writes a whole snapshot in one transaction, replacing nothing.
func (r *Repository) Seed(ctx context.Context, snap models.Snapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		patients, donors, transfusions, readings := fromSnapshot(snap)
		if len(patients) > 0 {
			if err := tx.CreateInBatches(patients, 500).Error; err != nil {
				return fmt.Errorf("seed patients: %w", err)
			}
		}
		if len(donors) > 0 {
			if err := tx.CreateInBatches(donors, 500).Error; err != nil {
				return fmt.Errorf("seed donors: %w", err)
			}
		}
		if len(transfusions) > 0 {
			if err := tx.CreateInBatches(transfusions, 500).Error; err != nil {
				return fmt.Errorf("seed transfusions: %w", err)
			}
		}
		if len(readings) > 0 {
			if err := tx.CreateInBatches(readings, 500).Error; err != nil {
				return fmt.Errorf("seed hb readings: %w", err)
			}
		}
		return nil
	})
}

func toSnapshot(patients []PatientRecord, donors []DonorRecord, transfusions []TransfusionRecord, readings []HbReadingRecord) models.Snapshot {
	snap := models.Snapshot{
		Patients:     make([]models.Patient, 0, len(patients)),
		Donors:       make([]models.Donor, 0, len(donors)),
		Transfusions: make([]models.TransfusionEvent, 0, len(transfusions)),
		HbReadings:   make([]models.HemoglobinReading, 0, len(readings)),
	}
	for _, p := range patients {
		snap.Patients = append(snap.Patients, models.Patient{
			ID:               p.ID,
			BloodType:        models.BloodType(p.BloodType),
			Age:              p.Age,
			WeightKg:         p.WeightKg,
			Splenectomy:      p.Splenectomy,
			ChelationTherapy: p.ChelationTherapy,
			BaselineHb:       p.BaselineHb,
		})
	}
	for _, d := range donors {
		snap.Donors = append(snap.Donors, models.Donor{
			ID:               d.ID,
			BloodType:        models.BloodType(d.BloodType),
			Available:        d.Available,
			LastDonationDate: d.LastDonationDate,
			TotalDonations:   d.TotalDonations,
		})
	}
	for _, t := range transfusions {
		snap.Transfusions = append(snap.Transfusions, models.TransfusionEvent{
			PatientID:        t.PatientID,
			DonorID:          t.DonorID,
			Date:             t.Date.UTC(),
			HbPre:            t.HbPre,
			HbPost:           t.HbPost,
			Units:            t.Units,
			ReactionOccurred: t.ReactionOccurred,
		})
	}
	for _, h := range readings {
		snap.HbReadings = append(snap.HbReadings, models.HemoglobinReading{
			PatientID: h.PatientID,
			Date:      h.Date.UTC(),
			Value:     h.Value,
		})
	}
	return snap
}

func fromSnapshot(snap models.Snapshot) ([]PatientRecord, []DonorRecord, []TransfusionRecord, []HbReadingRecord) {
	now := time.Now().UTC()
	patients := make([]PatientRecord, 0, len(snap.Patients))
	for _, p := range snap.Patients {
		patients = append(patients, PatientRecord{
			ID:               p.ID,
			BloodType:        string(p.BloodType),
			Age:              p.Age,
			WeightKg:         p.WeightKg,
			Splenectomy:      p.Splenectomy,
			ChelationTherapy: p.ChelationTherapy,
			BaselineHb:       p.BaselineHb,
			CreatedAt:        now,
		})
	}
	donors := make([]DonorRecord, 0, len(snap.Donors))
	for _, d := range snap.Donors {
		donors = append(donors, DonorRecord{
			ID:               d.ID,
			BloodType:        string(d.BloodType),
			Available:        d.Available,
			LastDonationDate: d.LastDonationDate,
			TotalDonations:   d.TotalDonations,
		})
	}
	transfusions := make([]TransfusionRecord, 0, len(snap.Transfusions))
	for _, ev := range snap.Transfusions {
		transfusions = append(transfusions, fromTransfusion(ev))
	}
	readings := make([]HbReadingRecord, 0, len(snap.HbReadings))
	for _, h := range snap.HbReadings {
		readings = append(readings, HbReadingRecord{PatientID: h.PatientID, Date: h.Date, Value: h.Value})
	}
	return patients, donors, transfusions, readings
}

func fromTransfusion(ev models.TransfusionEvent) TransfusionRecord {
	return TransfusionRecord{
		PatientID:        ev.PatientID,
		DonorID:          ev.DonorID,
		Date:             ev.Date,
		HbPre:            ev.HbPre,
		HbPost:           ev.HbPost,
		Units:            ev.Units,
		ReactionOccurred: ev.ReactionOccurred,
	}
}

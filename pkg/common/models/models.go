package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // transfusion_recorded, urgent_alert, batch_completed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Patient is owned by the care module and immutable here.
type Patient struct {
	ID               string    `json:"patient_id"`
	BloodType        BloodType `json:"blood_type"`
	Age              int       `json:"age"`
	WeightKg         float64   `json:"weight_kg"`
	Splenectomy      bool      `json:"splenectomy"`
	ChelationTherapy bool      `json:"chelation_therapy"`
	BaselineHb       float64   `json:"baseline_hb"`
}

type TransfusionEvent struct {
	PatientID        string    `json:"patient_id"`
	DonorID          string    `json:"donor_id"`
	Date             time.Time `json:"transfusion_date"`
	HbPre            float64   `json:"hb_pre_transfusion"`
	HbPost           float64   `json:"hb_post_transfusion"`
	Units            int       `json:"units_transfused"`
	ReactionOccurred bool      `json:"reaction_occurred"`
}

type HemoglobinReading struct {
	PatientID string    `json:"patient_id"`
	Date      time.Time `json:"reading_date"`
	Value     float64   `json:"hb_value"`
}

type Donor struct {
	ID               string     `json:"donor_id"`
	BloodType        BloodType  `json:"blood_type"`
	Available        bool       `json:"is_available"`
	LastDonationDate *time.Time `json:"last_donation_date,omitempty"`
	TotalDonations   int        `json:"total_donations"`
}

// Snapshot is the in-memory table set a training run or prediction reads from.
// It is never mutated in place once handed to the model lifecycle.
type Snapshot struct {
	Patients     []Patient           `json:"patients"`
	Donors       []Donor             `json:"donors"`
	Transfusions []TransfusionEvent  `json:"transfusions"`
	HbReadings   []HemoglobinReading `json:"hb_readings"`
}

func (s Snapshot) Patient(id string) (Patient, bool) {
	for _, p := range s.Patients {
		if p.ID == id {
			return p, true
		}
	}
	return Patient{}, false
}

func (s Snapshot) Donor(id string) (Donor, bool) {
	for _, d := range s.Donors {
		if d.ID == id {
			return d, true
		}
	}
	return Donor{}, false
}

// TransfusionsFor returns the patient's events ordered by date.
func (s Snapshot) TransfusionsFor(patientID string) []TransfusionEvent {
	var out []TransfusionEvent
	for _, ev := range s.Transfusions {
		if ev.PatientID == patientID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// HbReadingsFor returns the patient's readings ordered by date.
func (s Snapshot) HbReadingsFor(patientID string) []HemoglobinReading {
	var out []HemoglobinReading
	for _, r := range s.HbReadings {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// WithTransfusion returns a copy of the snapshot with ev appended.
func (s Snapshot) WithTransfusion(ev TransfusionEvent) Snapshot {
	next := s
	next.Transfusions = make([]TransfusionEvent, 0, len(s.Transfusions)+1)
	next.Transfusions = append(next.Transfusions, s.Transfusions...)
	next.Transfusions = append(next.Transfusions, ev)
	return next
}

func (s Snapshot) Validate() error {
	if len(s.Patients) == 0 {
		return fmt.Errorf("snapshot has no patients")
	}
	seen := make(map[string]struct{}, len(s.Patients))
	for _, p := range s.Patients {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("patient with empty id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate patient id %s", p.ID)
		}
		seen[p.ID] = struct{}{}
		if !p.BloodType.Valid() {
			return fmt.Errorf("patient %s has invalid blood type %q", p.ID, p.BloodType)
		}
	}
	for _, d := range s.Donors {
		if !d.BloodType.Valid() {
			return fmt.Errorf("donor %s has invalid blood type %q", d.ID, d.BloodType)
		}
	}
	for _, ev := range s.Transfusions {
		if ev.Date.IsZero() {
			return fmt.Errorf("transfusion for patient %s has no date", ev.PatientID)
		}
	}
	return nil
}

// Package features turns per-patient transfusion and hemoglobin history into
// fixed-width rows labelled with the day gap to the next transfusion.
package features

import (
	"errors"
	"fmt"
	"time"

	"github.com/thalcare-ai/platform/pkg/common/models"
	"github.com/thalcare-ai/platform/pkg/ml/linear"
)

var (
	ErrPatientNotFound  = errors.New("patient not found")
	ErrInsufficientData = errors.New("insufficient transfusion history")
)

const (
	MinGapDays = 5
	MaxGapDays = 120

	DefaultHbSlope      = -0.07
	DefaultAvgInterval  = 21.0
	DefaultMinInterval  = 14.0
	DefaultStdInterval  = 0.0
	DefaultPrevGap      = 21.0
	rollingWindow       = 3
	projectionShortDays = 14
	projectionLongDays  = 21
)

// Names is the column order of Row.Vector.
var Names = []string{
	"age", "weight_kg", "splenectomy", "chelation_therapy", "baseline_hb",
	"hb_pre_transfusion", "hb_post_transfusion", "hb_rise",
	"units_transfused", "reaction_occurred", "tx_number",
	"month_of_year", "days_since_prev_tx",
	"hb_decay_rate", "predicted_hb_at_14d", "predicted_hb_at_21d",
	"avg_interval_last3", "min_interval_last3", "std_interval_last3",
}

type Row struct {
	PatientID string    `json:"patient_id"`
	EventDate time.Time `json:"event_date"`

	Age              float64 `json:"age"`
	WeightKg         float64 `json:"weight_kg"`
	Splenectomy      float64 `json:"splenectomy"`
	ChelationTherapy float64 `json:"chelation_therapy"`
	BaselineHb       float64 `json:"baseline_hb"`
	HbPre            float64 `json:"hb_pre_transfusion"`
	HbPost           float64 `json:"hb_post_transfusion"`
	HbRise           float64 `json:"hb_rise"`
	Units            float64 `json:"units_transfused"`
	Reaction         float64 `json:"reaction_occurred"`
	TxNumber         float64 `json:"tx_number"`
	Month            float64 `json:"month_of_year"`
	DaysSincePrevTx  float64 `json:"days_since_prev_tx"`
	HbDecayRate      float64 `json:"hb_decay_rate"`
	ProjectedHb14    float64 `json:"predicted_hb_at_14d"`
	ProjectedHb21    float64 `json:"predicted_hb_at_21d"`
	AvgInterval      float64 `json:"avg_interval_last3"`
	MinInterval      float64 `json:"min_interval_last3"`
	StdInterval      float64 `json:"std_interval_last3"`

	// DaysToNext is the label; zero on prediction-only rows.
	DaysToNext float64 `json:"days_to_next_tx"`
}

func (r Row) Vector() []float64 {
	return []float64{
		r.Age, r.WeightKg, r.Splenectomy, r.ChelationTherapy, r.BaselineHb,
		r.HbPre, r.HbPost, r.HbRise,
		r.Units, r.Reaction, r.TxNumber,
		r.Month, r.DaysSincePrevTx,
		r.HbDecayRate, r.ProjectedHb14, r.ProjectedHb21,
		r.AvgInterval, r.MinInterval, r.StdInterval,
	}
}

type Table []Row

func (t Table) Matrix() ([][]float64, []float64) {
	x := make([][]float64, len(t))
	y := make([]float64, len(t))
	for i, r := range t {
		x[i] = r.Vector()
		y[i] = r.DaysToNext
	}
	return x, y
}

// Build produces rows for every patient in the snapshot, in patient order.
// Patients with fewer than two transfusions contribute nothing.
func Build(snap models.Snapshot) Table {
	var table Table
	for _, p := range snap.Patients {
		table = append(table, PatientRows(p, snap.TransfusionsFor(p.ID), snap.HbReadingsFor(p.ID))...)
	}
	return table
}

// PatientRows builds one row per consecutive transfusion pair whose gap lies
// within [MinGapDays, MaxGapDays]. events and readings must be date-ordered.
func PatientRows(p models.Patient, events []models.TransfusionEvent, readings []models.HemoglobinReading) []Row {
	if len(events) < 2 {
		return nil
	}
	var rows []Row
	for i := 0; i < len(events)-1; i++ {
		current, next := events[i], events[i+1]
		gap := daysBetween(current.Date, next.Date)
		if gap < MinGapDays || gap > MaxGapDays {
			continue
		}

		slope := decaySlope(readings, current.Date, next.Date)

		var past []float64
		start := i - rollingWindow
		if start < 0 {
			start = 0
		}
		for j := start; j < i; j++ {
			past = append(past, float64(daysBetween(events[j].Date, events[j+1].Date)))
		}
		avg, minGap, std, ok := linear.Summary(past)
		if !ok {
			avg, minGap, std = DefaultAvgInterval, DefaultMinInterval, DefaultStdInterval
		}

		prevGap := DefaultPrevGap
		if i > 0 {
			prevGap = float64(daysBetween(events[i-1].Date, current.Date))
		}

		row := staticRow(p)
		row.EventDate = current.Date
		row.HbPre = current.HbPre
		row.HbPost = current.HbPost
		row.HbRise = current.HbPost - current.HbPre
		row.Units = float64(current.Units)
		row.Reaction = boolFloat(current.ReactionOccurred)
		row.TxNumber = float64(i + 1)
		row.Month = float64(current.Date.Month())
		row.DaysSincePrevTx = prevGap
		applyDecay(&row, slope)
		row.AvgInterval = avg
		row.MinInterval = minGap
		row.StdInterval = std
		row.DaysToNext = float64(gap)
		rows = append(rows, row)
	}
	return rows
}

// Latest returns the most recent feature row for a patient.
func Latest(snap models.Snapshot, patientID string) (Row, error) {
	p, ok := snap.Patient(patientID)
	if !ok {
		return Row{}, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}
	rows := PatientRows(p, snap.TransfusionsFor(patientID), snap.HbReadingsFor(patientID))
	if len(rows) == 0 {
		return Row{}, fmt.Errorf("%w: patient %s has no qualifying transfusion pairs", ErrInsufficientData, patientID)
	}
	return rows[len(rows)-1], nil
}

// decaySlope fits hemoglobin against days since start using readings strictly
// inside (start, end).
func decaySlope(readings []models.HemoglobinReading, start, end time.Time) float64 {
	var xs, ys []float64
	for _, r := range readings {
		if r.Date.After(start) && r.Date.Before(end) {
			xs = append(xs, float64(daysBetween(start, r.Date)))
			ys = append(ys, r.Value)
		}
	}
	line, ok := linear.FitLine(xs, ys)
	if !ok {
		return DefaultHbSlope
	}
	return line.Slope
}

func staticRow(p models.Patient) Row {
	return Row{
		PatientID:        p.ID,
		Age:              float64(p.Age),
		WeightKg:         p.WeightKg,
		Splenectomy:      boolFloat(p.Splenectomy),
		ChelationTherapy: boolFloat(p.ChelationTherapy),
		BaselineHb:       p.BaselineHb,
	}
}

func applyDecay(row *Row, slope float64) {
	row.HbDecayRate = slope
	row.ProjectedHb14 = row.HbPost + slope*projectionShortDays
	row.ProjectedHb21 = row.HbPost + slope*projectionLongDays
}

// daysBetween counts whole days, truncating partial days like a calendar diff.
func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

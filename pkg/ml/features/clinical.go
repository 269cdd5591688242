package features

import (
	"math"
	"time"
)

// ClinicalParams describe a patient who is not in the historical tables.
// Nil pointers take the defaults below.
type ClinicalParams struct {
	Age              int      `json:"age"`
	WeightKg         float64  `json:"weight_kg"`
	Splenectomy      bool     `json:"splenectomy"`
	ChelationTherapy bool     `json:"chelation_therapy"`
	BaselineHb       float64  `json:"baseline_hb"`
	HbPre            float64  `json:"last_hb_pre"`
	HbPost           float64  `json:"last_hb_post"`
	DaysSinceLastTx  int      `json:"days_since_last_tx"`
	AvgInterval      *float64 `json:"avg_interval_last3,omitempty"`
	HbDecayRate      *float64 `json:"hb_decay_rate,omitempty"`
	Units            *int     `json:"units,omitempty"`
	Reaction         bool     `json:"reaction"`
	TxNumber         *int     `json:"tx_number,omitempty"`
}

const (
	DefaultSyntheticUnits    = 2
	DefaultSyntheticTxNumber = 10
	syntheticStdInterval     = 2.5
	syntheticMinIntervalGap  = 3.0
)

// DefaultClinicalParams mirrors the defaults of the prediction request.
func DefaultClinicalParams() ClinicalParams {
	return ClinicalParams{
		Age:              25,
		WeightKg:         50,
		ChelationTherapy: true,
		BaselineHb:       7.5,
		HbPre:            7.0,
		HbPost:           10.5,
		DaysSinceLastTx:  18,
	}
}

// FromParams builds a single row without history, using the same derived
// formulas as PatientRows. asOf supplies the month.
func FromParams(p ClinicalParams, asOf time.Time) Row {
	avg := DefaultAvgInterval
	if p.AvgInterval != nil {
		avg = *p.AvgInterval
	}
	slope := DefaultHbSlope
	if p.HbDecayRate != nil {
		slope = *p.HbDecayRate
	}
	units := DefaultSyntheticUnits
	if p.Units != nil {
		units = *p.Units
	}
	txNumber := DefaultSyntheticTxNumber
	if p.TxNumber != nil {
		txNumber = *p.TxNumber
	}

	row := Row{
		PatientID:        "",
		EventDate:        asOf,
		Age:              float64(p.Age),
		WeightKg:         p.WeightKg,
		Splenectomy:      boolFloat(p.Splenectomy),
		ChelationTherapy: boolFloat(p.ChelationTherapy),
		BaselineHb:       p.BaselineHb,
		HbPre:            p.HbPre,
		HbPost:           p.HbPost,
		HbRise:           p.HbPost - p.HbPre,
		Units:            float64(units),
		Reaction:         boolFloat(p.Reaction),
		TxNumber:         float64(txNumber),
		Month:            float64(asOf.Month()),
		DaysSincePrevTx:  float64(p.DaysSinceLastTx),
		AvgInterval:      avg,
		MinInterval:      math.Max(DefaultMinInterval, avg-syntheticMinIntervalGap),
		StdInterval:      syntheticStdInterval,
	}
	applyDecay(&row, slope)
	return row
}

package training

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/thalcare-ai/platform/pkg/alerts"
	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/common/models"
	"github.com/thalcare-ai/platform/pkg/matching"
	"github.com/thalcare-ai/platform/pkg/ml/features"
	"github.com/thalcare-ai/platform/pkg/ml/linear"
	"github.com/thalcare-ai/platform/pkg/ml/timing"
	"github.com/thalcare-ai/platform/pkg/observability/metrics"
)

const dateLayout = "2006-01-02"

type Forecast struct {
	PatientID string `json:"patient_id,omitempty"`
	timing.Prediction
	Model   string `json:"model"`
	Message string `json:"message"`
}

type MatchReport struct {
	matching.Result
	BloodType       models.BloodType   `json:"blood_type"`
	CompatibleTypes []models.BloodType `json:"compatible_donor_types"`
	Message         string             `json:"message"`
}

type History struct {
	PatientID      string                    `json:"patient_id"`
	BloodType      models.BloodType          `json:"blood_type"`
	Transfusions   []models.TransfusionEvent `json:"transfusions"`
	ExcludedDonors []string                  `json:"excluded_donors"`
	Total          int                       `json:"total_transfusions"`
}

type RecordResult struct {
	Event           models.TransfusionEvent `json:"event"`
	ExcludedDonorID string                  `json:"excluded_donor_id"`
	ExcludedCount   int                     `json:"excluded_count"`
	// RepeatDonor flags an event from a donor who was already excluded.
	RepeatDonor bool   `json:"repeat_donor"`
	Duplicate   bool   `json:"duplicate"`
	Message     string `json:"message"`
}

type ModelInfo struct {
	Status    string          `json:"status"`
	ModelType string          `json:"model_type,omitempty"`
	Version   string          `json:"version,omitempty"`
	TrainedAt *time.Time      `json:"trained_at,omitempty"`
	Source    string          `json:"source,omitempty"`
	Patients  int             `json:"n_patients"`
	Donors    int             `json:"n_donors"`
	Metrics   *timing.Metrics `json:"metrics,omitempty"`
}

// PredictForPatient forecasts from the patient's most recent history row.
func (m *Manager) PredictForPatient(ctx context.Context, patientID string) (Forecast, error) {
	st, err := m.ready(ctx)
	if err != nil {
		return Forecast{}, err
	}
	start := time.Now()
	row, err := m.latestRow(ctx, st, patientID)
	if err != nil {
		metrics.ObservePrediction(false)
		return Forecast{}, err
	}
	pred, err := st.model.Predict(row, m.now())
	if err != nil {
		metrics.ObservePrediction(false)
		return Forecast{}, err
	}
	metrics.ObservePrediction(true)
	m.logPrediction(ctx, st, patientID, map[string]interface{}{"patient_id": patientID}, pred, time.Since(start))
	return newForecast(patientID, pred), nil
}

// PredictFromParams forecasts for a patient with no usable history.
func (m *Manager) PredictFromParams(ctx context.Context, params features.ClinicalParams) (Forecast, error) {
	st, err := m.ready(ctx)
	if err != nil {
		return Forecast{}, err
	}
	start := time.Now()
	now := m.now()
	pred, err := st.model.Predict(features.FromParams(params, now), now)
	if err != nil {
		metrics.ObservePrediction(false)
		return Forecast{}, err
	}
	metrics.ObservePrediction(true)
	request := map[string]interface{}{
		"age":                params.Age,
		"weight_kg":          params.WeightKg,
		"baseline_hb":        params.BaselineHb,
		"last_hb_pre":        params.HbPre,
		"last_hb_post":       params.HbPost,
		"days_since_last_tx": params.DaysSinceLastTx,
	}
	m.logPrediction(ctx, st, "", request, pred, time.Since(start))
	return newForecast("", pred), nil
}

func newForecast(patientID string, pred timing.Prediction) Forecast {
	return Forecast{
		PatientID:  patientID,
		Prediction: pred,
		Model:      timing.Description,
		Message: fmt.Sprintf("Next transfusion expected in about %d days (%s)",
			pred.PredictedDays, pred.PredictedDate.Format(dateLayout)),
	}
}

func (m *Manager) latestRow(ctx context.Context, st *state, patientID string) (features.Row, error) {
	key := st.featureVersion(patientID)
	if m.cache != nil {
		row, ok, err := m.cache.Get(ctx, key, patientID)
		if err != nil {
			logger.Log.WithError(err).WithField("patient_id", patientID).Warn("feature cache read failed")
		}
		if ok {
			return row, nil
		}
	}
	row, err := features.Latest(st.snapshot, patientID)
	if err != nil {
		return features.Row{}, err
	}
	if m.cache != nil {
		if err := m.cache.Put(ctx, key, row); err != nil {
			logger.Log.WithError(err).WithField("patient_id", patientID).Warn("feature cache write failed")
		}
	}
	return row, nil
}

func (m *Manager) logPrediction(ctx context.Context, st *state, patientID string, request map[string]interface{}, pred timing.Prediction, latency time.Duration) {
	if m.predictionLog == nil {
		return
	}
	if err := m.predictionLog.RecordPrediction(ctx, patientID, st.version, request, pred, latency); err != nil {
		logger.Log.WithError(err).Warn("failed to record prediction log")
	}
}

// MatchDonors ranks donors for the patient. An empty bloodType falls back to
// the patient's recorded type.
func (m *Manager) MatchDonors(ctx context.Context, patientID, bloodType string, topN int) (MatchReport, error) {
	st, err := m.ready(ctx)
	if err != nil {
		return MatchReport{}, err
	}
	recipient, err := m.recipientType(st, patientID, bloodType)
	if err != nil {
		return MatchReport{}, err
	}
	result := st.matcher.Match(patientID, recipient, st.snapshot.Donors, topN, m.now())
	for i := range result.EligibleDonors {
		result.EligibleDonors[i].Score = linear.Round(result.EligibleDonors[i].Score, 3)
	}
	metrics.ObserveMatch()

	msg := fmt.Sprintf("Found %d eligible %s-compatible donors (%d permanently excluded)",
		len(result.EligibleDonors), recipient, result.ExcludedCount)
	if len(result.EligibleDonors) == 0 {
		msg = fmt.Sprintf("No eligible donors for blood type %s (%d permanently excluded)", recipient, result.ExcludedCount)
	}
	return MatchReport{
		Result:          result,
		BloodType:       recipient,
		CompatibleTypes: matching.DonorTypesFor(recipient),
		Message:         msg,
	}, nil
}

func (m *Manager) recipientType(st *state, patientID, bloodType string) (models.BloodType, error) {
	if strings.TrimSpace(bloodType) == "" {
		p, ok := st.snapshot.Patient(patientID)
		if !ok {
			return "", fmt.Errorf("%w: no blood type given and patient %s is unknown", ErrInvalidBloodType, patientID)
		}
		return p.BloodType, nil
	}
	bt, err := models.ParseBloodType(bloodType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBloodType, err)
	}
	return bt, nil
}

// RunBatchAlerts evaluates the given patients; no ids means every patient in
// the snapshot. Unknown ids are reported as failures.
func (m *Manager) RunBatchAlerts(ctx context.Context, patientIDs []string) (alerts.Batch, error) {
	st, err := m.ready(ctx)
	if err != nil {
		return alerts.Batch{}, err
	}
	patients := st.snapshot.Patients
	var missing []alerts.Failure
	if len(patientIDs) > 0 {
		patients = make([]models.Patient, 0, len(patientIDs))
		for _, id := range patientIDs {
			p, ok := st.snapshot.Patient(id)
			if !ok {
				missing = append(missing, alerts.Failure{PatientID: id, Err: fmt.Errorf("%w: %s", features.ErrPatientNotFound, id)})
				continue
			}
			patients = append(patients, p)
		}
	}
	return m.runBatch(ctx, st, patients, missing), nil
}

// DailyAlerts runs the batch over the first limit patients of the snapshot.
func (m *Manager) DailyAlerts(ctx context.Context, limit int) (alerts.Batch, error) {
	st, err := m.ready(ctx)
	if err != nil {
		return alerts.Batch{}, err
	}
	if limit <= 0 {
		limit = m.alertLimit
	}
	patients := st.snapshot.Patients
	if len(patients) > limit {
		patients = patients[:limit]
	}
	return m.runBatch(ctx, st, patients, nil), nil
}

func (m *Manager) runBatch(ctx context.Context, st *state, patients []models.Patient, missing []alerts.Failure) alerts.Batch {
	batch := m.runner.Run(ctx, st.snapshot, patients, st.model, st.matcher, m.now())
	if len(missing) > 0 {
		for _, f := range missing {
			logger.Log.WithError(f.Err).WithField("patient_id", f.PatientID).Warn("skipping patient in alert batch")
		}
		batch.Failures = append(batch.Failures, missing...)
		batch.Summary.Failed = len(batch.Failures)
	}
	metrics.ObserveBatch(batch.Summary.Urgent, batch.Summary.Soon, batch.Summary.Stable, batch.Summary.Failed)
	if m.archive != nil {
		if _, err := m.archive.WriteBatch(ctx, batch); err != nil {
			logger.Log.WithError(err).Warn("failed to archive alert batch")
		}
	}
	return batch
}

// Metrics returns the validation metrics of the served model.
func (m *Manager) Metrics(ctx context.Context) (timing.Metrics, error) {
	st, err := m.ready(ctx)
	if err != nil {
		return timing.Metrics{}, err
	}
	return st.model.Metrics, nil
}

// Info describes the served model without triggering training.
func (m *Manager) Info() ModelInfo {
	st := m.current.Load()
	if st == nil {
		return ModelInfo{Status: "not_trained"}
	}
	trainedAt := st.trainedAt
	mt := st.model.Metrics
	return ModelInfo{
		Status:    "ready",
		ModelType: timing.Description,
		Version:   st.version,
		TrainedAt: &trainedAt,
		Source:    st.source,
		Patients:  len(st.snapshot.Patients),
		Donors:    len(st.snapshot.Donors),
		Metrics:   &mt,
	}
}

func (m *Manager) PatientHistory(ctx context.Context, patientID string) (History, error) {
	st, err := m.ready(ctx)
	if err != nil {
		return History{}, err
	}
	p, ok := st.snapshot.Patient(patientID)
	if !ok {
		return History{}, fmt.Errorf("%w: %s", features.ErrPatientNotFound, patientID)
	}
	events := st.snapshot.TransfusionsFor(patientID)
	if events == nil {
		events = []models.TransfusionEvent{}
	}
	return History{
		PatientID:      p.ID,
		BloodType:      p.BloodType,
		Transfusions:   events,
		ExcludedDonors: st.matcher.Exclusions().Excluded(patientID),
		Total:          len(events),
	}, nil
}

// RecordTransfusion persists the event, then applies it to the served state.
func (m *Manager) RecordTransfusion(ctx context.Context, ev models.TransfusionEvent) (RecordResult, error) {
	return m.applyTransfusion(ctx, ev, true)
}

// ApplyTransfusion updates the served state for an event another system has
// already stored.
func (m *Manager) ApplyTransfusion(ctx context.Context, ev models.TransfusionEvent) (RecordResult, error) {
	return m.applyTransfusion(ctx, ev, false)
}

func (m *Manager) applyTransfusion(ctx context.Context, ev models.TransfusionEvent, persist bool) (RecordResult, error) {
	if _, err := m.ready(ctx); err != nil {
		return RecordResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.current.Load()

	ev, err := m.validateTransfusion(cur, ev)
	if err != nil {
		return RecordResult{}, err
	}
	result := RecordResult{Event: ev, ExcludedDonorID: ev.DonorID}
	if hasEvent(cur.snapshot, ev) {
		result.Duplicate = true
		result.ExcludedCount = cur.matcher.Exclusions().Count(ev.PatientID)
		result.Message = fmt.Sprintf("Transfusion already recorded; donor %s stays excluded for patient %s", ev.DonorID, ev.PatientID)
		return result, nil
	}
	result.RepeatDonor = cur.matcher.Exclusions().IsExcluded(ev.PatientID, ev.DonorID)

	if persist && m.transfusions != nil {
		if err := m.transfusions.RecordTransfusion(ctx, ev); err != nil {
			return RecordResult{}, fmt.Errorf("persisting transfusion: %w", err)
		}
	}

	snap := cur.snapshot.WithTransfusion(ev)
	next := &state{
		version:   cur.version,
		revision:  cur.revision + 1,
		trainedAt: cur.trainedAt,
		source:    cur.source,
		model:     cur.model,
		snapshot:  snap,
		matcher:   matching.NewMatcher(cur.matcher.Exclusions().Merge(map[string][]string{ev.PatientID: {ev.DonorID}})),
	}
	m.current.Store(next)
	metrics.ObserveTransfusion()

	if err := m.store.Save(next.artifact()); err != nil {
		logger.Log.WithError(err).Warn("transfusion applied but artifact not re-saved")
	}

	log := logger.Log.WithFields(map[string]interface{}{
		"patient_id": ev.PatientID,
		"donor_id":   ev.DonorID,
		"date":       ev.Date.Format(dateLayout),
	})
	if result.RepeatDonor {
		log.Warn("Transfusion recorded from an already excluded donor")
	} else {
		log.Info("Transfusion recorded")
	}

	result.ExcludedCount = next.matcher.Exclusions().Count(ev.PatientID)
	result.Message = fmt.Sprintf("Transfusion recorded. Donor %s is permanently excluded for patient %s", ev.DonorID, ev.PatientID)
	return result, nil
}

func (m *Manager) validateTransfusion(st *state, ev models.TransfusionEvent) (models.TransfusionEvent, error) {
	if _, ok := st.snapshot.Patient(ev.PatientID); !ok {
		return ev, fmt.Errorf("%w: %s", features.ErrPatientNotFound, ev.PatientID)
	}
	if _, ok := st.snapshot.Donor(ev.DonorID); !ok {
		return ev, fmt.Errorf("%w: %s", ErrDonorNotFound, ev.DonorID)
	}
	if ev.Units < 0 {
		return ev, fmt.Errorf("%w: units must be positive, got %d", ErrInvalidTransfusion, ev.Units)
	}
	if ev.HbPre < 0 || ev.HbPost < 0 {
		return ev, fmt.Errorf("%w: hemoglobin readings must be non-negative", ErrInvalidTransfusion)
	}
	if ev.Units == 0 {
		ev.Units = 2
	}
	if ev.Date.IsZero() {
		ev.Date = m.now()
	}
	ev.Date = ev.Date.UTC()
	return ev, nil
}

func hasEvent(snap models.Snapshot, ev models.TransfusionEvent) bool {
	for _, e := range snap.Transfusions {
		if e.PatientID == ev.PatientID && e.DonorID == ev.DonorID && e.Date.Equal(ev.Date) {
			return true
		}
	}
	return false
}

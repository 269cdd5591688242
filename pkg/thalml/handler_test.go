package thalml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thalcare-ai/platform/pkg/common/models"
	"github.com/thalcare-ai/platform/pkg/ml/ensemble"
	"github.com/thalcare-ai/platform/pkg/ml/features"
	"github.com/thalcare-ai/platform/pkg/ml/timing"
	"github.com/thalcare-ai/platform/pkg/serving/predictor"
	"github.com/thalcare-ai/platform/pkg/storage"
	"github.com/thalcare-ai/platform/pkg/synthetic"
	"github.com/thalcare-ai/platform/pkg/training"
)

var clock = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type brokenSource struct{}

func (brokenSource) Load(context.Context) (models.Snapshot, error) {
	return models.Snapshot{}, errors.New("connection refused")
}

func (brokenSource) Name() string { return "broken" }

func newServer(t *testing.T, src training.SnapshotSource, opts Options) http.Handler {
	t.Helper()
	cfg := timing.Config{
		Forest:             ensemble.ForestOptions{Trees: 6, MaxDepth: 5, MinSamplesLeaf: 3, Seed: 3},
		Boost:              ensemble.BoostOptions{Rounds: 10, LearningRate: 0.1, MaxDepth: 3, MinSamplesLeaf: 1, Subsample: 0.8, Seed: 3},
		ValidationFraction: 0.2,
		Seed:               3,
	}
	manager := training.NewManager(src, predictor.NewStore(t.TempDir()),
		training.WithTimingConfig(cfg),
		training.WithClock(func() time.Time { return clock }),
	)
	return NewHandler(manager, opts).Router()
}

func syntheticSource() *synthetic.Source {
	return synthetic.NewSource(synthetic.Options{Patients: 10, Donors: 60, Seed: 5, Now: clock})
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	h := newServer(t, syntheticSource(), Options{})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/ready", nil).Code)

	info := do(t, h, http.MethodGet, Prefix+"/model-info", nil)
	require.Equal(t, http.StatusOK, info.Code)
	assert.Contains(t, info.Body.String(), `"not_trained"`)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, Prefix+"/model-metrics", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ready", nil).Code)
	assert.Contains(t, do(t, h, http.MethodGet, "/metrics", nil).Body.String(), "thal_model_ready 1")
}

func TestPredictByPatientAndByParams(t *testing.T) {
	h := newServer(t, syntheticSource(), Options{})

	rec := do(t, h, http.MethodPost, Prefix+"/predict", map[string]string{"patient_id": "PT0002"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var byPatient training.Forecast
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &byPatient))
	assert.Equal(t, "PT0002", byPatient.PatientID)
	assert.Equal(t, models.UrgencyFor(byPatient.PredictedDays), byPatient.Urgency)
	assert.LessOrEqual(t, byPatient.ConfidenceLow, byPatient.PredictedDays)

	rec = do(t, h, http.MethodPost, Prefix+"/predict", map[string]interface{}{"age": 14, "last_hb_post": 11.2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var byParams training.Forecast
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &byParams))
	assert.GreaterOrEqual(t, byParams.PredictedDays, timing.MinDays)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, Prefix+"/predict", map[string]string{"patient_id": "PT9999"}).Code)

	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, httptest.NewRequest(http.MethodPost, Prefix+"/predict", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestPredictWhenTrainingFails(t *testing.T) {
	h := newServer(t, brokenSource{}, Options{})
	rec := do(t, h, http.MethodPost, Prefix+"/predict", map[string]string{"patient_id": "PT0001"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMatchDonorsAndRecordTransfusion(t *testing.T) {
	h := newServer(t, syntheticSource(), Options{})

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, Prefix+"/match-donors", map[string]string{"blood_type": "A+"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, Prefix+"/match-donors",
		map[string]string{"patient_id": "PT0001", "blood_type": "C+"}).Code)

	rec := do(t, h, http.MethodPost, Prefix+"/match-donors", map[string]interface{}{"patient_id": "PT0001", "blood_type": "AB+", "top_n": 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report training.MatchReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.NotEmpty(t, report.EligibleDonors)
	assert.LessOrEqual(t, len(report.EligibleDonors), 4)
	donor := report.EligibleDonors[0].DonorID

	rec = do(t, h, http.MethodPost, Prefix+"/record-transfusion", map[string]interface{}{
		"patient_id": "PT0001", "donor_id": donor, "transfusion_date": "2026-10-19", "hb_pre": 7.0, "hb_post": 10.4, "units": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, Prefix+"/match-donors", map[string]interface{}{"patient_id": "PT0001", "blood_type": "AB+", "top_n": 50})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	for _, c := range report.EligibleDonors {
		assert.NotEqual(t, donor, c.DonorID)
	}

	rec = do(t, h, http.MethodGet, Prefix+"/patient/PT0001/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist training.History
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Contains(t, hist.ExcludedDonors, donor)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, Prefix+"/record-transfusion",
		map[string]interface{}{"patient_id": "PT0001", "donor_id": "DN-GONE"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, Prefix+"/record-transfusion",
		map[string]interface{}{"patient_id": "PT0001"}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, Prefix+"/patient/PT9999/history", nil).Code)
}

func TestAlertsEndpoints(t *testing.T) {
	h := newServer(t, syntheticSource(), Options{})

	rec := do(t, h, http.MethodGet, Prefix+"/alerts?limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Summary struct {
			Total int `json:"total"`
		} `json:"summary"`
		Alerts []json.RawMessage `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Summary.Total)
	assert.Len(t, resp.Alerts, 3)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, Prefix+"/alerts?limit=abc", nil).Code)

	rec = do(t, h, http.MethodPost, Prefix+"/alerts/batch", map[string][]string{"patient_ids": {"PT0001", "PT-MISSING"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"PT-MISSING"`)
}

func TestTrainEndpoint(t *testing.T) {
	h := newServer(t, syntheticSource(), Options{})
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, Prefix+"/train?n_patients=12", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, Prefix+"/train", nil).Code)

	sized := newServer(t, syntheticSource(), Options{SyntheticRetrain: true, SyntheticSeed: 9})
	rec := do(t, sized, http.MethodPost, Prefix+"/train?n_patients=12&n_donors=40", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "12 patients and 40 donors")

	for _, q := range []string{"n_patients=100000000", "n_patients=12&n_donors=50001"} {
		rec = do(t, sized, http.MethodPost, Prefix+"/train?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Contains(t, rec.Body.String(), "invalid synthetic cohort size")
	}
	assert.Equal(t, "ready", mustInfoStatus(t, sized))
}

func mustInfoStatus(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodGet, Prefix+"/model-info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info training.ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	return info.Status
}

func TestStatusMapping(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: boom", training.ErrNotReady):      http.StatusServiceUnavailable,
		fmt.Errorf("x: %w", features.ErrInsufficientData): http.StatusUnprocessableEntity,
		fmt.Errorf("x: %w", features.ErrPatientNotFound):  http.StatusNotFound,
		fmt.Errorf("x: %w", training.ErrDonorNotFound):    http.StatusNotFound,
		fmt.Errorf("x: %w", training.ErrInvalidBloodType): http.StatusBadRequest,
		errors.New("unexpected"):                          http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

type fakeHistory struct{ patient string }

func (f *fakeHistory) History(_ context.Context, patientID string, _ int) ([]storage.AlertRollup, error) {
	f.patient = patientID
	return []storage.AlertRollup{{PatientID: patientID, Urgency: string(models.UrgencyUrgent), PredictedDays: 4}}, nil
}

func TestAlertHistory(t *testing.T) {
	h := newServer(t, syntheticSource(), Options{})
	rec := do(t, h, http.MethodGet, Prefix+"/alerts/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)

	hist := &fakeHistory{}
	h = newServer(t, syntheticSource(), Options{History: hist})
	rec = do(t, h, http.MethodGet, Prefix+"/alerts/history?patient_id=PT0003", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PT0003", hist.patient)
	assert.Contains(t, rec.Body.String(), `"urgency":"URGENT"`)
}

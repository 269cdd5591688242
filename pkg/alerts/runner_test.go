package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thalcare-ai/platform/pkg/common/models"
	"github.com/thalcare-ai/platform/pkg/matching"
	"github.com/thalcare-ai/platform/pkg/ml/features"
	"github.com/thalcare-ai/platform/pkg/ml/timing"
)

var now = time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

type fixedForecaster struct {
	days map[string]int
}

var errBoom = errors.New("boom")

func (f fixedForecaster) Predict(row features.Row, at time.Time) (timing.Prediction, error) {
	d, ok := f.days[row.PatientID]
	if !ok {
		return timing.Prediction{}, errBoom
	}
	return timing.Prediction{
		PredictedDays:  d,
		PredictedDate:  at.AddDate(0, 0, d),
		Urgency:        models.UrgencyFor(d),
		ConfidenceLow:  d,
		ConfidenceHigh: d + 2,
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishEvent(_ context.Context, eventType, _ string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, _ := data["patient_id"].(string)
	p.events = append(p.events, eventType+":"+id)
	return nil
}

func snapshotFor(ids ...string) models.Snapshot {
	snap := models.Snapshot{
		Donors: []models.Donor{
			{ID: "DN1", BloodType: models.BloodONeg, Available: true, TotalDonations: 3},
			{ID: "DN2", BloodType: models.BloodONeg, Available: true, TotalDonations: 1},
		},
	}
	start := now.AddDate(0, -3, 0)
	for _, id := range ids {
		snap.Patients = append(snap.Patients, models.Patient{ID: id, BloodType: models.BloodAPos, Age: 10, BaselineHb: 7})
		snap.Transfusions = append(snap.Transfusions,
			models.TransfusionEvent{PatientID: id, DonorID: "DN1", Date: start, HbPre: 7, HbPost: 10, Units: 2},
			models.TransfusionEvent{PatientID: id, DonorID: "DN9", Date: start.AddDate(0, 0, 21), HbPre: 7, HbPost: 10, Units: 2},
		)
	}
	return snap
}

func TestRunOrdersByUrgencyThenDays(t *testing.T) {
	snap := snapshotFor("PT1", "PT2", "PT3")
	model := fixedForecaster{days: map[string]int{"PT1": 20, "PT2": 5, "PT3": 10}}
	matcher := matching.NewMatcher(matching.BuildExclusions(snap.Transfusions))

	batch := NewRunner(WithWorkers(2)).Run(context.Background(), snap, snap.Patients, model, matcher, now)
	require.Len(t, batch.Alerts, 3)

	var days []int
	for _, a := range batch.Alerts {
		days = append(days, a.PredictedDays)
	}
	assert.Equal(t, []int{5, 10, 20}, days)
	assert.Equal(t, Summary{Total: 3, Urgent: 1, Soon: 1, Stable: 1}, batch.Summary)
	assert.Len(t, batch.ByUrgency(models.UrgencySoon), 1)

	first := batch.Alerts[0]
	assert.Equal(t, "DN2", first.TopDonorID)
	assert.Equal(t, 1, first.EligibleDonors)
	assert.Equal(t, 2, first.ExcludedCount)
}

func TestRunCollectsFailuresWithoutAborting(t *testing.T) {
	snap := snapshotFor("PT1", "PT2")
	snap.Patients = append(snap.Patients, models.Patient{ID: "PT-new", BloodType: models.BloodBPos})
	model := fixedForecaster{days: map[string]int{"PT1": 30}}
	matcher := matching.NewMatcher(matching.BuildExclusions(snap.Transfusions))

	batch := NewRunner().Run(context.Background(), snap, snap.Patients, model, matcher, now)
	require.Len(t, batch.Alerts, 1)
	require.Len(t, batch.Failures, 2)
	assert.Equal(t, "PT2", batch.Failures[0].PatientID)
	assert.ErrorIs(t, batch.Failures[0], errBoom)
	assert.ErrorIs(t, batch.Failures[1], features.ErrInsufficientData)
	assert.Equal(t, 2, batch.Summary.Failed)

	payload, err := json.Marshal(batch.Failures[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"patient_id":"PT2","error":"boom"}`, string(payload))
}

func TestRunUsesSentinelWhenNoDonor(t *testing.T) {
	snap := snapshotFor("PT1")
	snap.Donors = nil
	model := fixedForecaster{days: map[string]int{"PT1": 9}}

	batch := NewRunner().Run(context.Background(), snap, snap.Patients, model, matching.NewMatcher(nil), now)
	require.Len(t, batch.Alerts, 1)
	assert.Equal(t, NoDonor, batch.Alerts[0].TopDonorID)
	assert.Zero(t, batch.Alerts[0].EligibleDonors)
}

func TestRunPublishesUrgentAlerts(t *testing.T) {
	snap := snapshotFor("PT1", "PT2")
	model := fixedForecaster{days: map[string]int{"PT1": 6, "PT2": 40}}
	pub := &recordingPublisher{}

	NewRunner(WithPublisher(pub)).Run(context.Background(), snap, snap.Patients, model, matching.NewMatcher(nil), now)
	assert.Equal(t, []string{UrgentEvent + ":PT1", BatchEvent + ":"}, pub.events)
}

func TestEmptyBatch(t *testing.T) {
	batch := NewRunner().Run(context.Background(), models.Snapshot{}, nil, fixedForecaster{}, matching.NewMatcher(nil), now)
	assert.NotNil(t, batch.Alerts)
	assert.Empty(t, batch.Alerts)
	assert.Equal(t, Summary{}, batch.Summary)
}

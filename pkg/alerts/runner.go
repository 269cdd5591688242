// Package alerts turns the timing model and donor matcher into a prioritized
// review worklist for every active patient.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/thalcare-ai/platform/pkg/common/kafka"
	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/common/models"
	"github.com/thalcare-ai/platform/pkg/matching"
	"github.com/thalcare-ai/platform/pkg/ml/features"
	"github.com/thalcare-ai/platform/pkg/ml/timing"
	"golang.org/x/sync/errgroup"
)

const (
	// NoDonor marks an alert for which no eligible donor was found.
	NoDonor       = "NONE"
	TopDonors     = 3
	DefaultLimit  = 20
	UrgentEvent   = kafka.EventUrgentAlert
	BatchEvent    = kafka.EventBatchCompleted
	eventSource   = "thal-alert-runner"
	defaultWorker = 4
)

type Forecaster interface {
	Predict(row features.Row, now time.Time) (timing.Prediction, error)
}

type DonorMatcher interface {
	Match(patientID string, recipient models.BloodType, pool []models.Donor, topN int, now time.Time) matching.Result
}

// Publisher matches kafka.Producer.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Alert struct {
	PatientID      string           `json:"patient_id"`
	BloodType      models.BloodType `json:"blood_type"`
	PredictedDays  int              `json:"predicted_days"`
	PredictedDate  time.Time        `json:"predicted_date"`
	Urgency        models.Urgency   `json:"urgency"`
	ConfidenceLow  int              `json:"confidence_low"`
	ConfidenceHigh int              `json:"confidence_high"`
	EligibleDonors int              `json:"eligible_donors_found"`
	TopDonorID     string           `json:"top_donor_id"`
	ExcludedCount  int              `json:"excluded_donors_count"`
}

// Failure records a patient the batch had to skip.
type Failure struct {
	PatientID string `json:"patient_id"`
	Err       error  `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("patient %s: %v", f.PatientID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

func (f Failure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		PatientID string `json:"patient_id"`
		Error     string `json:"error"`
	}{f.PatientID, msg})
}

type Summary struct {
	Total  int `json:"total"`
	Urgent int `json:"urgent"`
	Soon   int `json:"soon"`
	Stable int `json:"stable"`
	Failed int `json:"failed"`
}

type Batch struct {
	Alerts      []Alert   `json:"alerts"`
	Failures    []Failure `json:"failures"`
	Summary     Summary   `json:"summary"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ByUrgency splits the ordered alerts into their tiers.
func (b Batch) ByUrgency(u models.Urgency) []Alert {
	out := []Alert{}
	for _, a := range b.Alerts {
		if a.Urgency == u {
			out = append(out, a)
		}
	}
	return out
}

type Runner struct {
	workers   int
	publisher Publisher
}

type Option func(*Runner)

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithPublisher emits an event per URGENT alert and one per finished batch.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{workers: defaultWorker}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run evaluates every patient independently. A patient that cannot be
// forecast is reported in Failures and does not affect the others.
func (r *Runner) Run(ctx context.Context, snap models.Snapshot, patients []models.Patient, model Forecaster, matcher DonorMatcher, now time.Time) Batch {
	alerts := make([]*Alert, len(patients))
	errs := make([]error, len(patients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range patients {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			alert, err := evaluate(snap, patients[i], model, matcher, now)
			if err != nil {
				errs[i] = err
				return nil
			}
			alerts[i] = &alert
			return nil
		})
	}
	_ = g.Wait()

	batch := Batch{Alerts: []Alert{}, Failures: []Failure{}, GeneratedAt: now}
	for i, p := range patients {
		if errs[i] != nil {
			logger.Component("alerts").WithError(errs[i]).WithField("patient_id", p.ID).Warn("skipping patient in alert batch")
			batch.Failures = append(batch.Failures, Failure{PatientID: p.ID, Err: errs[i]})
			continue
		}
		batch.Alerts = append(batch.Alerts, *alerts[i])
	}
	Sort(batch.Alerts)
	batch.Summary = summarize(batch)

	r.publish(ctx, batch)
	return batch
}

func evaluate(snap models.Snapshot, p models.Patient, model Forecaster, matcher DonorMatcher, now time.Time) (Alert, error) {
	row, err := features.Latest(snap, p.ID)
	if err != nil {
		return Alert{}, err
	}
	pred, err := model.Predict(row, now)
	if err != nil {
		return Alert{}, err
	}
	match := matcher.Match(p.ID, p.BloodType, snap.Donors, TopDonors, now)

	alert := Alert{
		PatientID:      p.ID,
		BloodType:      p.BloodType,
		PredictedDays:  pred.PredictedDays,
		PredictedDate:  pred.PredictedDate,
		Urgency:        pred.Urgency,
		ConfidenceLow:  pred.ConfidenceLow,
		ConfidenceHigh: pred.ConfidenceHigh,
		EligibleDonors: len(match.EligibleDonors),
		TopDonorID:     NoDonor,
		ExcludedCount:  match.ExcludedCount,
	}
	if len(match.EligibleDonors) > 0 {
		alert.TopDonorID = match.EligibleDonors[0].DonorID
	}
	return alert, nil
}

// Sort orders alerts for review: tier first, then soonest, then patient id.
func Sort(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Urgency.Rank() != b.Urgency.Rank() {
			return a.Urgency.Rank() < b.Urgency.Rank()
		}
		if a.PredictedDays != b.PredictedDays {
			return a.PredictedDays < b.PredictedDays
		}
		return a.PatientID < b.PatientID
	})
}

func summarize(b Batch) Summary {
	s := Summary{Total: len(b.Alerts), Failed: len(b.Failures)}
	for _, a := range b.Alerts {
		switch a.Urgency {
		case models.UrgencyUrgent:
			s.Urgent++
		case models.UrgencySoon:
			s.Soon++
		default:
			s.Stable++
		}
	}
	return s
}

func (r *Runner) publish(ctx context.Context, b Batch) {
	if r.publisher == nil {
		return
	}
	for _, a := range b.Alerts {
		if a.Urgency != models.UrgencyUrgent {
			continue
		}
		data := map[string]interface{}{
			"patient_id":     a.PatientID,
			"blood_type":     string(a.BloodType),
			"predicted_days": a.PredictedDays,
			"predicted_date": a.PredictedDate.Format("2006-01-02"),
			"top_donor_id":   a.TopDonorID,
		}
		if err := r.publisher.PublishEvent(ctx, UrgentEvent, eventSource, data); err != nil {
			logger.Component("alerts").WithError(err).WithField("patient_id", a.PatientID).Warn("urgent alert not published")
		}
	}
	summary := map[string]interface{}{
		"total":  b.Summary.Total,
		"urgent": b.Summary.Urgent,
		"soon":   b.Summary.Soon,
		"stable": b.Summary.Stable,
		"failed": b.Summary.Failed,
	}
	if err := r.publisher.PublishEvent(ctx, BatchEvent, eventSource, summary); err != nil {
		logger.Component("alerts").WithError(err).Warn("batch summary not published")
	}
}

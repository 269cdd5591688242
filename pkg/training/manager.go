// Package training owns the fitted timing model, its training snapshot and the
// donor exclusion index, and serves every prediction-facing operation from an
// immutable state that retraining replaces atomically.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/thalcare-ai/platform/pkg/alerts"
	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/common/models"
	"github.com/thalcare-ai/platform/pkg/matching"
	"github.com/thalcare-ai/platform/pkg/ml/features"
	"github.com/thalcare-ai/platform/pkg/ml/timing"
	"github.com/thalcare-ai/platform/pkg/observability/metrics"
	"github.com/thalcare-ai/platform/pkg/serving/predictor"
)

var (
	ErrNotReady           = errors.New("model is not ready")
	ErrDonorNotFound      = errors.New("donor not found")
	ErrInvalidBloodType   = errors.New("invalid blood type")
	ErrInvalidTransfusion = errors.New("invalid transfusion")
)

// SnapshotSource supplies the clinical tables a training run reads.
type SnapshotSource interface {
	Load(ctx context.Context) (models.Snapshot, error)
	Name() string
}

type ArtifactStore interface {
	Save(artifact predictor.Artifact) error
	Load() (predictor.Artifact, error)
}

type TransfusionWriter interface {
	RecordTransfusion(ctx context.Context, ev models.TransfusionEvent) error
}

type FeatureCache interface {
	Get(ctx context.Context, version, patientID string) (features.Row, bool, error)
	Put(ctx context.Context, version string, row features.Row) error
}

type PredictionLogger interface {
	RecordPrediction(ctx context.Context, patientID, version string, request map[string]interface{}, pred timing.Prediction, latency time.Duration) error
}

type AlertArchiver interface {
	WriteBatch(ctx context.Context, batch alerts.Batch) (uuid.UUID, error)
}

type RunRecorder interface {
	Create(ctx context.Context, run *RunModel) error
	Finish(ctx context.Context, runID uuid.UUID, status string, metrics map[string]interface{}, artifactPath, errorMessage string) error
	List(ctx context.Context, limit int) ([]RunModel, error)
}

// state is never mutated after it is published.
type state struct {
	version   string
	revision  int
	trainedAt time.Time
	source    string
	model     *timing.Model
	snapshot  models.Snapshot
	matcher   *matching.Matcher
}

// featureVersion keys a cached feature row on the model and on the patient's
// own history, so a row built before a new transfusion or reading is never
// reused, whichever process recorded it.
func (s *state) featureVersion(patientID string) string {
	d := xxhash.New()
	for _, ev := range s.snapshot.Transfusions {
		if ev.PatientID == patientID {
			fmt.Fprintf(d, "t|%s|%d|%g|%g|%d|%t;", ev.DonorID, ev.Date.Unix(), ev.HbPre, ev.HbPost, ev.Units, ev.ReactionOccurred)
		}
	}
	for _, r := range s.snapshot.HbReadings {
		if r.PatientID == patientID {
			fmt.Fprintf(d, "h|%d|%g;", r.Date.Unix(), r.Value)
		}
	}
	return fmt.Sprintf("%s-%016x", s.version, d.Sum64())
}

func (s *state) artifact() predictor.Artifact {
	return predictor.Artifact{
		Version:    s.version,
		Revision:   s.revision,
		TrainedAt:  s.trainedAt,
		ModelType:  timing.Description,
		Model:      s.model,
		Snapshot:   s.snapshot,
		Exclusions: s.matcher.Exclusions().Export(),
	}
}

func stateFromArtifact(a predictor.Artifact) *state {
	// Exclusions are rederived from the snapshot; the stored index can only add to them.
	exclusions := matching.BuildExclusions(a.Snapshot.Transfusions).Merge(a.Exclusions)
	return &state{
		version:   a.Version,
		revision:  a.Revision,
		trainedAt: a.TrainedAt,
		source:    "artifact",
		model:     a.Model,
		snapshot:  a.Snapshot,
		matcher:   matching.NewMatcher(exclusions),
	}
}

type Manager struct {
	source     SnapshotSource
	store      ArtifactStore
	cfg        timing.Config
	runner     *alerts.Runner
	alertLimit int
	now        func() time.Time

	transfusions  TransfusionWriter
	cache         FeatureCache
	predictionLog PredictionLogger
	archive       AlertArchiver
	runs          RunRecorder

	// mu serializes writers; readers only load current.
	mu      sync.Mutex
	current atomic.Pointer[state]
}

type Option func(*Manager)

func WithTimingConfig(cfg timing.Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithAlertRunner(r *alerts.Runner) Option {
	return func(m *Manager) { m.runner = r }
}

func WithAlertLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.alertLimit = n
		}
	}
}

// WithTransfusionWriter persists recorded transfusions before they are applied.
func WithTransfusionWriter(w TransfusionWriter) Option {
	return func(m *Manager) { m.transfusions = w }
}

func WithFeatureCache(c FeatureCache) Option {
	return func(m *Manager) { m.cache = c }
}

func WithPredictionLog(l PredictionLogger) Option {
	return func(m *Manager) { m.predictionLog = l }
}

func WithAlertArchive(a AlertArchiver) Option {
	return func(m *Manager) { m.archive = a }
}

func WithRunRecorder(r RunRecorder) Option {
	return func(m *Manager) { m.runs = r }
}

func NewManager(source SnapshotSource, store ArtifactStore, opts ...Option) *Manager {
	m := &Manager{
		source:     source,
		store:      store,
		cfg:        timing.DefaultConfig(),
		runner:     alerts.NewRunner(),
		alertLimit: alerts.DefaultLimit,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Ready() bool {
	return m.current.Load() != nil
}

// EnsureReady loads the stored artifact or, failing that, trains. It does
// nothing once a model is being served.
func (m *Manager) EnsureReady(ctx context.Context) error {
	_, err := m.ready(ctx)
	return err
}

func (m *Manager) ready(ctx context.Context) (*state, error) {
	if st := m.current.Load(); st != nil {
		return st, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.current.Load(); st != nil {
		return st, nil
	}

	artifact, err := m.store.Load()
	switch {
	case err == nil:
		st := stateFromArtifact(artifact)
		m.current.Store(st)
		metrics.MarkReady()
		logger.Log.WithFields(map[string]interface{}{
			"version":    st.version,
			"trained_at": st.trainedAt,
			"patients":   len(st.snapshot.Patients),
		}).Info("Loaded model artifact")
		return st, nil
	case !errors.Is(err, predictor.ErrArtifactNotFound):
		logger.Log.WithError(err).Warn("Stored artifact unusable, training a new model")
	}

	if _, err := m.trainLocked(ctx, m.source); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return m.current.Load(), nil
}

// Train fits a new model from the configured source and swaps it in.
func (m *Manager) Train(ctx context.Context) (Report, error) {
	return m.TrainFrom(ctx, m.source)
}

// TrainFrom is Train with an explicit source. On failure the previously
// served model stays in place.
func (m *Manager) TrainFrom(ctx context.Context, src SnapshotSource) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trainLocked(ctx, src)
}

func (m *Manager) trainLocked(ctx context.Context, src SnapshotSource) (Report, error) {
	if src == nil {
		return Report{}, errors.New("no snapshot source configured")
	}
	start := time.Now()
	runID := uuid.New()
	log := logger.Component("training").WithFields(map[string]interface{}{"run_id": runID.String(), "source": src.Name()})
	log.Info("Training started")
	m.recordRunStart(ctx, runID, src.Name())

	report, st, err := m.fit(ctx, src, runID)
	if err == nil {
		if prev := m.current.Load(); prev != nil {
			// recorded and streamed transfusions may exist only in the served state
			st.matcher = matching.NewMatcher(st.matcher.Exclusions().Merge(prev.matcher.Exclusions().Export()))
		}
		err = m.store.Save(st.artifact())
		if err != nil {
			err = fmt.Errorf("saving artifact: %w", err)
		}
	}
	if err != nil {
		log.WithError(err).Error("Training failed")
		metrics.ObserveTraining(false, 0)
		m.recordRunFinish(ctx, runID, StatusFailed, nil, err.Error())
		return Report{}, err
	}

	m.current.Store(st)
	report.Duration = time.Since(start)
	metrics.ObserveTraining(true, report.Rows)
	m.recordRunFinish(ctx, runID, StatusCompleted, metricsMap(report.Metrics, report.Rows), "")
	log.WithFields(map[string]interface{}{
		"mae":         report.Metrics.MAE,
		"rmse":        report.Metrics.RMSE,
		"r2":          report.Metrics.R2,
		"rows":        report.Rows,
		"duration_ms": report.Duration.Milliseconds(),
	}).Info("Training completed")
	return report, nil
}

func (m *Manager) fit(ctx context.Context, src SnapshotSource, runID uuid.UUID) (Report, *state, error) {
	snap, err := src.Load(ctx)
	if err != nil {
		return Report{}, nil, fmt.Errorf("loading snapshot from %s: %w", src.Name(), err)
	}
	if err := snap.Validate(); err != nil {
		return Report{}, nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	table := features.Build(snap)
	model, err := timing.Fit(ctx, table, m.cfg)
	if err != nil {
		return Report{}, nil, err
	}
	st := &state{
		version:   runID.String(),
		trainedAt: m.now(),
		source:    src.Name(),
		model:     model,
		snapshot:  snap,
		matcher:   matching.NewMatcher(matching.BuildExclusions(snap.Transfusions)),
	}
	report := Report{
		Version:   st.version,
		TrainedAt: st.trainedAt,
		Source:    st.source,
		Patients:  len(snap.Patients),
		Donors:    len(snap.Donors),
		Rows:      len(table),
		Metrics:   model.Metrics,
	}
	return report, st, nil
}

func (m *Manager) recordRunStart(ctx context.Context, runID uuid.UUID, source string) {
	if m.runs == nil {
		return
	}
	now := time.Now().UTC()
	run := &RunModel{
		ID:        runID,
		Source:    source,
		Config:    configMap(m.cfg),
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.runs.Create(ctx, run); err != nil {
		logger.Log.WithError(err).Error("failed to record training run")
	}
}

func (m *Manager) recordRunFinish(ctx context.Context, runID uuid.UUID, status string, values map[string]interface{}, errMsg string) {
	if m.runs == nil {
		return
	}
	path := ""
	if status == StatusCompleted {
		path = predictor.ArtifactName
	}
	if err := m.runs.Finish(ctx, runID, status, values, path, errMsg); err != nil {
		logger.Log.WithError(err).Error("failed to update training run")
	}
}

// Runs lists recorded training attempts, newest first.
func (m *Manager) Runs(ctx context.Context, limit int) ([]RunModel, error) {
	if m.runs == nil {
		return []RunModel{}, nil
	}
	return m.runs.List(ctx, limit)
}

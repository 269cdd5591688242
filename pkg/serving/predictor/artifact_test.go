package predictor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thalcare-ai/platform/pkg/ml/ensemble"
	"github.com/thalcare-ai/platform/pkg/ml/features"
	"github.com/thalcare-ai/platform/pkg/ml/timing"
	"github.com/thalcare-ai/platform/pkg/synthetic"
)

func trainedArtifact(t *testing.T) Artifact {
	t.Helper()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	snap := synthetic.Generate(synthetic.Options{Patients: 8, Donors: 30, Seed: 7, Now: now})
	cfg := timing.Config{
		Forest:             ensemble.ForestOptions{Trees: 5, MaxDepth: 4, MinSamplesLeaf: 2, Seed: 1},
		Boost:              ensemble.BoostOptions{Rounds: 10, LearningRate: 0.1, MaxDepth: 3, MinSamplesLeaf: 1, Subsample: 0.8, Seed: 1},
		ValidationFraction: 0.2,
		Seed:               1,
	}
	model, err := timing.Fit(context.Background(), features.Build(snap), cfg)
	require.NoError(t, err)
	return Artifact{
		Version:    "v1",
		TrainedAt:  now,
		ModelType:  timing.Description,
		Model:      model,
		Snapshot:   snap,
		Exclusions: map[string][]string{"PT0001": {"DN0003"}},
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	_, err := NewStore(t.TempDir()).Load()
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestSaveLoadPreservesPredictions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	store := NewStore(dir)
	artifact := trainedArtifact(t)
	require.NoError(t, store.Save(artifact))

	loaded, err := NewStore(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, "v1", loaded.Version)
	assert.True(t, artifact.TrainedAt.Equal(loaded.TrainedAt))
	assert.Equal(t, artifact.Model.Metrics, loaded.Model.Metrics)
	assert.Equal(t, artifact.Exclusions, loaded.Exclusions)
	assert.Len(t, loaded.Snapshot.Patients, 8)

	now := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	row := features.FromParams(features.DefaultClinicalParams(), now)
	want, err := artifact.Model.Predict(row, now)
	require.NoError(t, err)
	got, err := loaded.Model.Predict(row, now)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoadRejectsUnfittedArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ArtifactName), []byte(`{"version":"x"}`), 0o644))
	_, err := NewStore(dir).Load()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrArtifactNotFound)
}

func TestSaveRequiresModel(t *testing.T) {
	assert.Error(t, NewStore(t.TempDir()).Save(Artifact{Version: "empty"}))
}

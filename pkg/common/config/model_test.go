package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadModelConfigDefaultsWhenMissing(t *testing.T) {
	mc, err := LoadModelConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultModelConfig(), mc)

	mc, err = LoadModelConfig("")
	require.NoError(t, err)
	assert.Equal(t, 200, mc.Forest.Trees)
}

func TestLoadModelConfigMergesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	body := "forest:\n  trees: 25\nboosting:\n  learning_rate: 0.1\nseed: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	mc, err := LoadModelConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 25, mc.Forest.Trees)
	assert.Equal(t, 10, mc.Forest.MaxDepth)
	assert.InDelta(t, 0.1, mc.Boosting.LearningRate, 1e-12)
	assert.Equal(t, 200, mc.Boosting.Rounds)
	assert.Equal(t, int64(7), mc.Seed)
	assert.InDelta(t, 0.2, mc.ValidationFraction, 1e-12)
}

func TestLoadModelConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte("forest: [unclosed"), 0o644))

	_, err := LoadModelConfig(path)
	assert.Error(t, err)
}

package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelConfig holds the ensemble hyper-parameters. Zero values mean "use the default".
type ModelConfig struct {
	Forest struct {
		Trees          int `yaml:"trees"`
		MaxDepth       int `yaml:"max_depth"`
		MinSamplesLeaf int `yaml:"min_samples_leaf"`
	} `yaml:"forest"`
	Boosting struct {
		Rounds       int     `yaml:"rounds"`
		LearningRate float64 `yaml:"learning_rate"`
		MaxDepth     int     `yaml:"max_depth"`
		Subsample    float64 `yaml:"subsample"`
	} `yaml:"boosting"`
	ValidationFraction float64 `yaml:"validation_fraction"`
	Seed               int64   `yaml:"seed"`
}

func DefaultModelConfig() ModelConfig {
	var mc ModelConfig
	mc.Forest.Trees = 200
	mc.Forest.MaxDepth = 10
	mc.Forest.MinSamplesLeaf = 3
	mc.Boosting.Rounds = 200
	mc.Boosting.LearningRate = 0.05
	mc.Boosting.MaxDepth = 5
	mc.Boosting.Subsample = 0.8
	mc.ValidationFraction = 0.2
	mc.Seed = 42
	return mc
}

// LoadModelConfig reads a YAML hyper-parameter file. An empty path or a missing
// file yields the defaults; fields left out of the file keep their defaults.
func LoadModelConfig(path string) (ModelConfig, error) {
	mc := DefaultModelConfig()
	if path == "" {
		return mc, nil
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return mc, nil
	}
	if err != nil {
		return mc, fmt.Errorf("reading model config: %w", err)
	}

	var fromFile ModelConfig
	if err := yaml.Unmarshal(content, &fromFile); err != nil {
		return mc, fmt.Errorf("parsing model config %s: %w", path, err)
	}
	return mc.merge(fromFile), nil
}

func (mc ModelConfig) merge(o ModelConfig) ModelConfig {
	if o.Forest.Trees > 0 {
		mc.Forest.Trees = o.Forest.Trees
	}
	if o.Forest.MaxDepth > 0 {
		mc.Forest.MaxDepth = o.Forest.MaxDepth
	}
	if o.Forest.MinSamplesLeaf > 0 {
		mc.Forest.MinSamplesLeaf = o.Forest.MinSamplesLeaf
	}
	if o.Boosting.Rounds > 0 {
		mc.Boosting.Rounds = o.Boosting.Rounds
	}
	if o.Boosting.LearningRate > 0 {
		mc.Boosting.LearningRate = o.Boosting.LearningRate
	}
	if o.Boosting.MaxDepth > 0 {
		mc.Boosting.MaxDepth = o.Boosting.MaxDepth
	}
	if o.Boosting.Subsample > 0 && o.Boosting.Subsample <= 1 {
		mc.Boosting.Subsample = o.Boosting.Subsample
	}
	if o.ValidationFraction > 0 && o.ValidationFraction < 1 {
		mc.ValidationFraction = o.ValidationFraction
	}
	if o.Seed != 0 {
		mc.Seed = o.Seed
	}
	return mc
}

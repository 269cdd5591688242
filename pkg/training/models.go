package training

import (
	"time"

	"github.com/google/uuid"
	"github.com/thalcare-ai/platform/pkg/common/config"
	"github.com/thalcare-ai/platform/pkg/ml/ensemble"
	"github.com/thalcare-ai/platform/pkg/ml/timing"
	"gorm.io/datatypes"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunModel is one training attempt, successful or not.
type RunModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	Source       string            `gorm:"column:source"`
	Config       datatypes.JSONMap `gorm:"column:config"`
	Status       string            `gorm:"column:status"`
	Metrics      datatypes.JSONMap `gorm:"column:metrics"`
	ArtifactPath string            `gorm:"column:artifact_path"`
	ErrorMessage string            `gorm:"column:error_message"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
}

func (RunModel) TableName() string {
	return "thal_training_runs"
}

// Report summarizes a finished training run.
type Report struct {
	Version   string         `json:"version"`
	TrainedAt time.Time      `json:"trained_at"`
	Source    string         `json:"source"`
	Patients  int            `json:"n_patients"`
	Donors    int            `json:"n_donors"`
	Rows      int            `json:"feature_rows"`
	Metrics   timing.Metrics `json:"metrics"`
	Duration  time.Duration  `json:"-"`
}

// TimingConfig maps the YAML hyper-parameters onto the model options.
func TimingConfig(mc config.ModelConfig) timing.Config {
	return timing.Config{
		Forest: ensemble.ForestOptions{
			Trees:          mc.Forest.Trees,
			MaxDepth:       mc.Forest.MaxDepth,
			MinSamplesLeaf: mc.Forest.MinSamplesLeaf,
			Seed:           mc.Seed,
		},
		Boost: ensemble.BoostOptions{
			Rounds:         mc.Boosting.Rounds,
			LearningRate:   mc.Boosting.LearningRate,
			MaxDepth:       mc.Boosting.MaxDepth,
			MinSamplesLeaf: 1,
			Subsample:      mc.Boosting.Subsample,
			Seed:           mc.Seed,
		},
		ValidationFraction: mc.ValidationFraction,
		Seed:               mc.Seed,
	}
}

func configMap(cfg timing.Config) map[string]interface{} {
	return map[string]interface{}{
		"forest_trees":        cfg.Forest.Trees,
		"forest_max_depth":    cfg.Forest.MaxDepth,
		"forest_min_leaf":     cfg.Forest.MinSamplesLeaf,
		"boost_rounds":        cfg.Boost.Rounds,
		"boost_learning_rate": cfg.Boost.LearningRate,
		"boost_max_depth":     cfg.Boost.MaxDepth,
		"boost_subsample":     cfg.Boost.Subsample,
		"validation_fraction": cfg.ValidationFraction,
		"seed":                cfg.Seed,
	}
}

func metricsMap(m timing.Metrics, rows int) map[string]interface{} {
	top := make([]interface{}, 0, len(m.TopFeatures))
	for _, f := range m.TopFeatures {
		top = append(top, map[string]interface{}{"name": f.Name, "importance": f.Importance})
	}
	return map[string]interface{}{
		"mae":           m.MAE,
		"rmse":          m.RMSE,
		"r2":            m.R2,
		"train_samples": m.TrainSamples,
		"val_samples":   m.ValSamples,
		"feature_rows":  rows,
		"top_features":  top,
	}
}

// Package timing predicts days until a patient's next transfusion with a fixed
// blend of a bagged-tree forest and a boosted-tree ensemble.
package timing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/thalcare-ai/platform/pkg/common/models"
	"github.com/thalcare-ai/platform/pkg/ml/ensemble"
	"github.com/thalcare-ai/platform/pkg/ml/features"
	"github.com/thalcare-ai/platform/pkg/ml/linear"
)

var (
	ErrNotFitted     = errors.New("timing model is not fitted")
	ErrTooFewSamples = errors.New("too few feature rows to train")
)

const (
	BaggedWeight  = 0.6
	BoostedWeight = 0.4
	MinDays       = 5

	MinTrainingRows = 5
	topFeatureCount = 5
	Description     = "RF (60%) + GBM (40%) Ensemble"
)

type Config struct {
	Forest             ensemble.ForestOptions
	Boost              ensemble.BoostOptions
	ValidationFraction float64
	Seed               int64
}

func DefaultConfig() Config {
	return Config{
		Forest:             ensemble.ForestOptions{Trees: 200, MaxDepth: 10, MinSamplesLeaf: 3, Seed: 42},
		Boost:              ensemble.BoostOptions{Rounds: 200, LearningRate: 0.05, MaxDepth: 5, MinSamplesLeaf: 1, Subsample: 0.8, Seed: 42},
		ValidationFraction: 0.2,
		Seed:               42,
	}
}

type FeatureImportance struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

type Metrics struct {
	MAE          float64             `json:"mae"`
	RMSE         float64             `json:"rmse"`
	R2           float64             `json:"r2"`
	TrainSamples int                 `json:"train_samples"`
	ValSamples   int                 `json:"val_samples"`
	TopFeatures  []FeatureImportance `json:"top_features"`
}

// Model is immutable once Fit returns.
type Model struct {
	FeatureNames []string          `json:"feature_names"`
	Scaler       Scaler            `json:"scaler"`
	Forest       *ensemble.Forest  `json:"forest"`
	Booster      *ensemble.Booster `json:"booster"`
	Metrics      Metrics           `json:"metrics"`
}

type Prediction struct {
	PredictedDays     int            `json:"predicted_days"`
	PredictedDate     time.Time      `json:"predicted_date"`
	Urgency           models.Urgency `json:"urgency"`
	ConfidenceLow     int            `json:"confidence_low"`
	ConfidenceHigh    int            `json:"confidence_high"`
	BaggedPrediction  int            `json:"rf_prediction"`
	BoostedPrediction int            `json:"gb_prediction"`
	Blended           float64        `json:"blended"`
}

func Fit(ctx context.Context, table features.Table, cfg Config) (*Model, error) {
	if len(table) < MinTrainingRows {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewSamples, len(table), MinTrainingRows)
	}
	if cfg.ValidationFraction <= 0 || cfg.ValidationFraction >= 1 {
		cfg.ValidationFraction = 0.2
	}

	x, y := table.Matrix()
	imputeNonFinite(x)
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("row %d has non-finite label", i)
		}
	}

	order := rand.New(rand.NewSource(cfg.Seed)).Perm(len(y))
	nVal := int(math.Ceil(cfg.ValidationFraction * float64(len(y))))
	valIdx, trainIdx := order[:nVal], order[nVal:]

	xTrain, yTrain := subset(x, y, trainIdx)
	xVal, yVal := subset(x, y, valIdx)

	scaler := FitScaler(xTrain)
	xTrainScaled := scaler.TransformAll(xTrain)
	xValScaled := scaler.TransformAll(xVal)

	forest, err := ensemble.FitForest(ctx, xTrainScaled, yTrain, cfg.Forest)
	if err != nil {
		return nil, fmt.Errorf("fitting forest: %w", err)
	}
	booster, err := ensemble.FitBooster(ctx, xTrainScaled, yTrain, cfg.Boost)
	if err != nil {
		return nil, fmt.Errorf("fitting booster: %w", err)
	}

	m := &Model{
		FeatureNames: append([]string(nil), features.Names...),
		Scaler:       scaler,
		Forest:       forest,
		Booster:      booster,
	}

	blended := make([]float64, len(xValScaled))
	for i, row := range xValScaled {
		blended[i] = m.blend(row)
	}
	scores := linear.Evaluate(yVal, blended)
	m.Metrics = Metrics{
		MAE:          linear.Round(scores.MAE, 2),
		RMSE:         linear.Round(scores.RMSE, 2),
		R2:           linear.Round(scores.R2, 4),
		TrainSamples: len(yTrain),
		ValSamples:   len(yVal),
		TopFeatures:  topFeatures(m.FeatureNames, forest.Importances, topFeatureCount),
	}
	return m, nil
}

func (m *Model) Fitted() bool {
	return m != nil && m.Forest != nil && m.Booster != nil && len(m.Scaler.Mean) > 0
}

func (m *Model) blend(scaled []float64) float64 {
	return BaggedWeight*m.Forest.Predict(scaled) + BoostedWeight*m.Booster.Predict(scaled)
}

// Predict scores one row; now anchors the predicted date.
func (m *Model) Predict(row features.Row, now time.Time) (Prediction, error) {
	if !m.Fitted() {
		return Prediction{}, ErrNotFitted
	}
	raw := row.Vector()
	if len(raw) != len(m.Scaler.Mean) {
		return Prediction{}, fmt.Errorf("feature width %d does not match model width %d", len(raw), len(m.Scaler.Mean))
	}
	for j, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			raw[j] = 0
		}
	}
	scaled := m.Scaler.Transform(raw)

	bagged := m.Forest.Predict(scaled)
	boosted := m.Booster.Predict(scaled)
	blended := BaggedWeight*bagged + BoostedWeight*boosted

	days := floorDays(math.Round(blended))
	spread := m.Forest.Spread(scaled)
	low := floorDays(math.Round(float64(days) - spread))
	high := floorDays(math.Round(float64(days) + spread))

	return Prediction{
		PredictedDays:     days,
		PredictedDate:     now.AddDate(0, 0, days),
		Urgency:           models.UrgencyFor(days),
		ConfidenceLow:     low,
		ConfidenceHigh:    high,
		BaggedPrediction:  int(math.Round(bagged)),
		BoostedPrediction: int(math.Round(boosted)),
		Blended:           blended,
	}, nil
}

func floorDays(v float64) int {
	if math.IsNaN(v) || v < MinDays {
		return MinDays
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

func subset(x [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for k, i := range idx {
		xs[k] = x[i]
		ys[k] = y[i]
	}
	return xs, ys
}

// imputeNonFinite replaces NaN/Inf cells with the column median of finite cells.
func imputeNonFinite(x [][]float64) {
	if len(x) == 0 {
		return
	}
	for j := range x[0] {
		var finite []float64
		dirty := false
		for _, row := range x {
			if math.IsNaN(row[j]) || math.IsInf(row[j], 0) {
				dirty = true
				continue
			}
			finite = append(finite, row[j])
		}
		if !dirty {
			continue
		}
		median := 0.0
		if len(finite) > 0 {
			sort.Float64s(finite)
			mid := len(finite) / 2
			median = finite[mid]
			if len(finite)%2 == 0 {
				median = (finite[mid-1] + finite[mid]) / 2
			}
		}
		for _, row := range x {
			if math.IsNaN(row[j]) || math.IsInf(row[j], 0) {
				row[j] = median
			}
		}
	}
}

func topFeatures(names []string, importances []float64, k int) []FeatureImportance {
	ranked := make([]FeatureImportance, 0, len(names))
	for i, name := range names {
		if i < len(importances) {
			ranked = append(ranked, FeatureImportance{Name: name, Importance: importances[i]})
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].Importance != ranked[b].Importance {
			return ranked[a].Importance > ranked[b].Importance
		}
		return ranked[a].Name < ranked[b].Name
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	for i := range ranked {
		ranked[i].Importance = linear.Round(ranked[i].Importance, 4)
	}
	return ranked
}

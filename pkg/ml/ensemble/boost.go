package ensemble

import (
	"context"
	"math/rand"

	"github.com/thalcare-ai/platform/pkg/ml/tree"
)

type BoostOptions struct {
	Rounds         int
	LearningRate   float64
	MaxDepth       int
	MinSamplesLeaf int
	Subsample      float64
	Seed           int64
}

// Booster is gradient boosting on squared loss: each round fits a tree to the
// current residuals of a random subsample and adds it scaled by LearningRate.
type Booster struct {
	Init         float64      `json:"init"`
	LearningRate float64      `json:"learning_rate"`
	Trees        []*tree.Tree `json:"trees"`
}

func FitBooster(ctx context.Context, x [][]float64, y []float64, opts BoostOptions) (*Booster, error) {
	n := len(y)
	if n == 0 || len(x) != n {
		return nil, ErrNoSamples
	}
	if opts.Rounds <= 0 {
		opts.Rounds = 100
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.1
	}
	if opts.Subsample <= 0 || opts.Subsample > 1 {
		opts.Subsample = 1
	}

	var init float64
	for _, v := range y {
		init += v
	}
	init /= float64(n)

	b := &Booster{Init: init, LearningRate: opts.LearningRate, Trees: make([]*tree.Tree, 0, opts.Rounds)}
	current := make([]float64, n)
	for i := range current {
		current[i] = init
	}
	residual := make([]float64, n)
	inBag := int(opts.Subsample * float64(n))
	if inBag < 1 {
		inBag = 1
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	for round := 0; round < opts.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range residual {
			residual[i] = y[i] - current[i]
		}
		rng.Shuffle(n, func(a, c int) { order[a], order[c] = order[c], order[a] })
		t := tree.Fit(x, residual, order[:inBag], tree.Options{
			MaxDepth:       opts.MaxDepth,
			MinSamplesLeaf: opts.MinSamplesLeaf,
		})
		b.Trees = append(b.Trees, t)
		for i := range current {
			current[i] += opts.LearningRate * t.Predict(x[i])
		}
	}
	return b, nil
}

func (b *Booster) Predict(sample []float64) float64 {
	out := b.Init
	for _, t := range b.Trees {
		out += b.LearningRate * t.Predict(sample)
	}
	return out
}

package ensemble

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime"

	"github.com/thalcare-ai/platform/pkg/ml/tree"
	"golang.org/x/sync/errgroup"
)

var ErrNoSamples = errors.New("ensemble: no training samples")

type ForestOptions struct {
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	Seed           int64
	Workers        int
}

// Forest is a bagged ensemble: every tree sees a bootstrap resample of the rows.
type Forest struct {
	Trees       []*tree.Tree `json:"trees"`
	Importances []float64    `json:"importances"`
}

// FitForest builds the trees in parallel. Tree i draws its bootstrap from a
// generator seeded with Seed+i, so the result does not depend on scheduling.
func FitForest(ctx context.Context, x [][]float64, y []float64, opts ForestOptions) (*Forest, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, ErrNoSamples
	}
	if opts.Trees <= 0 {
		opts.Trees = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	forest := &Forest{Trees: make([]*tree.Tree, opts.Trees)}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := 0; i < opts.Trees; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(opts.Seed + int64(i)))
			sample := make([]int, len(y))
			for k := range sample {
				sample[k] = rng.Intn(len(y))
			}
			forest.Trees[i] = tree.Fit(x, y, sample, tree.Options{
				MaxDepth:       opts.MaxDepth,
				MinSamplesLeaf: opts.MinSamplesLeaf,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	forest.Importances = make([]float64, len(x[0]))
	for _, t := range forest.Trees {
		for f, imp := range t.Importances {
			forest.Importances[f] += imp / float64(len(forest.Trees))
		}
	}
	return forest, nil
}

// Members returns each tree's prediction for sample.
func (f *Forest) Members(sample []float64) []float64 {
	out := make([]float64, len(f.Trees))
	for i, t := range f.Trees {
		out[i] = t.Predict(sample)
	}
	return out
}

func (f *Forest) Predict(sample []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, v := range f.Members(sample) {
		sum += v
	}
	return sum / float64(len(f.Trees))
}

// Spread is the population standard deviation of the member predictions.
func (f *Forest) Spread(sample []float64) float64 {
	members := f.Members(sample)
	if len(members) == 0 {
		return 0
	}
	var mean float64
	for _, v := range members {
		mean += v
	}
	mean /= float64(len(members))
	var sq float64
	for _, v := range members {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(members)))
}

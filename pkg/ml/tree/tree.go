// Package tree implements CART regression trees split on variance reduction.
package tree

import (
	"sort"
)

type Options struct {
	MaxDepth       int // <= 0 grows until leaves are pure or too small
	MinSamplesLeaf int
}

// Node is a flat tree node; Left/Right are indices into Tree.Nodes, -1 on leaves.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
	// Importances are normalized impurity decreases per feature.
	Importances []float64 `json:"importances,omitempty"`
}

const minGain = 1e-12

type builder struct {
	x    [][]float64
	y    []float64
	opts Options
	tree *Tree
	gain []float64
}

// Fit grows a tree over the rows named by idx. idx may repeat rows, which
// weights them (bootstrap samples).
func Fit(x [][]float64, y []float64, idx []int, opts Options) *Tree {
	if opts.MinSamplesLeaf < 1 {
		opts.MinSamplesLeaf = 1
	}
	features := 0
	if len(x) > 0 {
		features = len(x[0])
	}
	b := &builder{
		x:    x,
		y:    y,
		opts: opts,
		tree: &Tree{},
		gain: make([]float64, features),
	}
	if len(idx) == 0 {
		b.tree.Nodes = append(b.tree.Nodes, Node{Feature: -1, Left: -1, Right: -1})
		b.tree.Importances = b.gain
		return b.tree
	}
	work := append([]int(nil), idx...)
	b.grow(work, 0)

	var total float64
	for _, g := range b.gain {
		total += g
	}
	if total > 0 {
		for i := range b.gain {
			b.gain[i] /= total
		}
	}
	b.tree.Importances = b.gain
	return b.tree
}

func (b *builder) grow(idx []int, depth int) int {
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	n := float64(len(idx))
	node := Node{Feature: -1, Left: -1, Right: -1, Value: sum / n}
	pos := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, node)

	if b.opts.MaxDepth > 0 && depth >= b.opts.MaxDepth {
		return pos
	}
	if len(idx) < 2*b.opts.MinSamplesLeaf {
		return pos
	}

	feature, threshold, gain, ok := b.bestSplit(idx, sum)
	if !ok || gain <= minGain {
		return pos
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.gain[feature] += gain

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.Nodes[pos].Feature = feature
	b.tree.Nodes[pos].Threshold = threshold
	b.tree.Nodes[pos].Left = l
	b.tree.Nodes[pos].Right = r
	return pos
}

// bestSplit maximizes the reduction in squared error over every feature and
// every boundary between distinct values that leaves MinSamplesLeaf per side.
func (b *builder) bestSplit(idx []int, total float64) (int, float64, float64, bool) {
	n := len(idx)
	minLeaf := b.opts.MinSamplesLeaf
	parentScore := total * total / float64(n)

	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0
	sorted := make([]int, n)
	for f := range b.gain {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })

		var leftSum float64
		for k := 1; k < n; k++ {
			leftSum += b.y[sorted[k-1]]
			if k < minLeaf || n-k < minLeaf {
				continue
			}
			lo, hi := b.x[sorted[k-1]][f], b.x[sorted[k]][f]
			if lo == hi {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(k) + rightSum*rightSum/float64(n-k)
			if gain := score - parentScore; gain > bestGain {
				bestFeature, bestThreshold, bestGain = f, midpoint(lo, hi), gain
			}
		}
	}
	return bestFeature, bestThreshold, bestGain, bestFeature >= 0
}

// midpoint stays strictly below hi; between adjacent floats it rounds up.
func midpoint(lo, hi float64) float64 {
	m := lo + (hi-lo)/2
	if m >= hi {
		return lo
	}
	return m
}

func (t *Tree) Predict(sample []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		node := t.Nodes[i]
		if node.Left < 0 || node.Right < 0 {
			return node.Value
		}
		if sample[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

package predictor

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// ForestParams are the ensemble hyperparameters.
type ForestParams struct {
	Estimators      int   `json:"estimators"`
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	Seed            int64 `json:"seed"`
}

// treeNode is one node of a regression tree in flattened form. Leaf nodes
// carry the mean target value; internal nodes route on Feature <= Threshold.
type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf"`
}

type regressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t *regressionTree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Forest is a bagged ensemble of variance-reduction regression trees.
type Forest struct {
	Trees       []regressionTree `json:"trees"`
	NumFeatures int              `json:"num_features"`
	Importances []float64        `json:"importances"`
	Params      ForestParams     `json:"params"`
}

// TrainForest fits the ensemble on the given rows. Each tree sees a
// bootstrap sample of the training set.
func TrainForest(rows [][]float64, targets []float64, p ForestParams) (*Forest, error) {
	if len(rows) == 0 || len(rows) != len(targets) {
		return nil, fmt.Errorf("%w: forest training requires matching non-empty features and targets (%d vs %d)",
			types.ErrInvalidInput, len(rows), len(targets))
	}
	if p.Estimators <= 0 || p.MaxDepth <= 0 {
		return nil, fmt.Errorf("%w: invalid forest parameters %+v", types.ErrInvalidInput, p)
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}

	numFeatures := len(rows[0])
	rng := rand.New(rand.NewSource(p.Seed))

	f := &Forest{
		Trees:       make([]regressionTree, 0, p.Estimators),
		NumFeatures: numFeatures,
		Importances: make([]float64, numFeatures),
		Params:      p,
	}

	importances := make([]float64, numFeatures)
	for i := 0; i < p.Estimators; i++ {
		sample := bootstrapIndices(rng, len(rows))
		b := newTreeBuilder(rows, targets, p)
		b.build(sample, 0)
		f.Trees = append(f.Trees, regressionTree{Nodes: b.nodes})

		treeTotal := 0.0
		for _, v := range b.importances {
			treeTotal += v
		}
		if treeTotal > 0 {
			for j, v := range b.importances {
				importances[j] += v / treeTotal
			}
		}
	}

	total := 0.0
	for _, v := range importances {
		total += v
	}
	if total > 0 {
		for j := range importances {
			f.Importances[j] = importances[j] / total
		}
	}
	return f, nil
}

// Predict returns the ensemble mean for one standardized feature vector.
func (f *Forest) Predict(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].predict(x)
	}
	return sum / float64(len(f.Trees))
}

// PerTreePredictions returns each tree's individual prediction, used to
// estimate model uncertainty.
func (f *Forest) PerTreePredictions(x []float64) []float64 {
	preds := make([]float64, len(f.Trees))
	for i := range f.Trees {
		preds[i] = f.Trees[i].predict(x)
	}
	return preds
}

// FeatureImportances returns mean normalized impurity decrease per feature.
func (f *Forest) FeatureImportances() []float64 {
	out := make([]float64, len(f.Importances))
	copy(out, f.Importances)
	return out
}

func bootstrapIndices(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

// treeBuilder grows one tree over index subsets of the shared training
// arrays, accumulating impurity decrease per feature as it splits.
type treeBuilder struct {
	rows        [][]float64
	targets     []float64
	params      ForestParams
	nodes       []treeNode
	importances []float64
}

func newTreeBuilder(rows [][]float64, targets []float64, p ForestParams) *treeBuilder {
	return &treeBuilder{
		rows:        rows,
		targets:     targets,
		params:      p,
		importances: make([]float64, len(rows[0])),
	}
}

// build grows a subtree over idx and returns its node index.
func (b *treeBuilder) build(idx []int, depth int) int {
	mean, variance := b.stats(idx)

	if depth >= b.params.MaxDepth || len(idx) < b.params.MinSamplesSplit || variance == 0 {
		return b.leaf(mean)
	}

	feature, threshold, gain := b.bestSplit(idx, variance)
	if gain <= 0 {
		return b.leaf(mean)
	}

	var left, right []int
	for _, i := range idx {
		if b.rows[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < b.params.MinSamplesLeaf || len(right) < b.params.MinSamplesLeaf {
		return b.leaf(mean)
	}

	b.importances[feature] += gain

	pos := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Feature: feature, Threshold: threshold})
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[pos].Left = l
	b.nodes[pos].Right = r
	return pos
}

func (b *treeBuilder) leaf(value float64) int {
	b.nodes = append(b.nodes, treeNode{Leaf: true, Value: value})
	return len(b.nodes) - 1
}

func (b *treeBuilder) stats(idx []int) (mean, variance float64) {
	n := float64(len(idx))
	sum := 0.0
	for _, i := range idx {
		sum += b.targets[i]
	}
	mean = sum / n
	for _, i := range idx {
		d := b.targets[i] - mean
		variance += d * d
	}
	variance /= n
	return mean, variance
}

// bestSplit scans every feature for the threshold with the largest
// variance reduction, weighted by node size.
func (b *treeBuilder) bestSplit(idx []int, parentVar float64) (bestFeature int, bestThreshold, bestGain float64) {
	n := len(idx)
	minLeaf := b.params.MinSamplesLeaf
	bestFeature = -1

	order := make([]int, n)
	values := make([]float64, n)
	targets := make([]float64, n)

	for feature := 0; feature < len(b.rows[0]); feature++ {
		copy(order, idx)
		f := feature
		sort.Slice(order, func(a, c int) bool {
			return b.rows[order[a]][f] < b.rows[order[c]][f]
		})
		for k, i := range order {
			values[k] = b.rows[i][f]
			targets[k] = b.targets[i]
		}

		// Prefix sums give left/right variance at every split point in
		// one pass.
		leftSum, leftSq := 0.0, 0.0
		totalSum, totalSq := 0.0, 0.0
		for _, t := range targets {
			totalSum += t
			totalSq += t * t
		}

		for k := 0; k < n-1; k++ {
			leftSum += targets[k]
			leftSq += targets[k] * targets[k]
			if values[k] == values[k+1] {
				continue
			}
			nl := float64(k + 1)
			nr := float64(n - k - 1)
			if k+1 < minLeaf || n-k-1 < minLeaf {
				continue
			}
			leftVar := leftSq/nl - (leftSum/nl)*(leftSum/nl)
			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			rightVar := rightSq/nr - (rightSum/nr)*(rightSum/nr)

			gain := float64(n)*parentVar - nl*leftVar - nr*rightVar
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (values[k] + values[k+1]) / 2
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, 0
	}
	return bestFeature, bestThreshold, bestGain
}

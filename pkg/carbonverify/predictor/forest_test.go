package predictor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

func linearDataset(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	targets := make([]float64, n)
	for i := 0; i < n; i++ {
		a := rng.Float64() * 10
		b := rng.Float64() * 10
		rows[i] = []float64{a, b}
		targets[i] = 3*a + b
	}
	return rows, targets
}

func TestTrainForestLearnsSignal(t *testing.T) {
	rows, targets := linearDataset(400, 7)
	f, err := TrainForest(rows, targets, ForestParams{
		Estimators:      20,
		MaxDepth:        8,
		MinSamplesSplit: 5,
		MinSamplesLeaf:  2,
		Seed:            7,
	})
	require.NoError(t, err)
	require.Len(t, f.Trees, 20)

	// A low-noise linear target should be predicted within a loose band.
	for _, probe := range [][]float64{{2, 2}, {5, 5}, {8, 1}} {
		want := 3*probe[0] + probe[1]
		got := f.Predict(probe)
		assert.InDelta(t, want, got, want*0.35+2, "probe %v", probe)
	}
}

func TestForestPerTreePredictions(t *testing.T) {
	rows, targets := linearDataset(200, 11)
	f, err := TrainForest(rows, targets, ForestParams{Estimators: 10, MaxDepth: 5, Seed: 11})
	require.NoError(t, err)

	preds := f.PerTreePredictions([]float64{4, 4})
	require.Len(t, preds, 10)

	sum := 0.0
	for _, p := range preds {
		sum += p
	}
	assert.InDelta(t, f.Predict([]float64{4, 4}), sum/10, 1e-9, "ensemble mean matches per-tree mean")
}

func TestForestImportancesFavorStrongFeature(t *testing.T) {
	rows, targets := linearDataset(400, 3)
	f, err := TrainForest(rows, targets, ForestParams{Estimators: 15, MaxDepth: 8, MinSamplesSplit: 5, MinSamplesLeaf: 2, Seed: 3})
	require.NoError(t, err)

	imp := f.FeatureImportances()
	require.Len(t, imp, 2)
	assert.InDelta(t, 1.0, imp[0]+imp[1], 1e-9, "importances normalize to 1")
	assert.Greater(t, imp[0], imp[1], "3x coefficient feature should dominate")
}

func TestTrainForestRejectsBadInput(t *testing.T) {
	_, err := TrainForest(nil, nil, ForestParams{Estimators: 5, MaxDepth: 3})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = TrainForest([][]float64{{1}}, []float64{1, 2}, ForestParams{Estimators: 5, MaxDepth: 3})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = TrainForest([][]float64{{1}}, []float64{1}, ForestParams{Estimators: 0, MaxDepth: 3})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestForestConstantTarget(t *testing.T) {
	rows := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	targets := []float64{9, 9, 9, 9, 9, 9}
	f, err := TrainForest(rows, targets, ForestParams{Estimators: 5, MaxDepth: 4, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 9.0, f.Predict([]float64{3.5}))
}

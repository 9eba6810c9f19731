package predictor

import (
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/features"
)

// dataset pairs feature rows with regression targets.
type dataset struct {
	rows    [][]float64
	targets []float64
}

// featureRange bounds one synthetic feature.
type featureRange struct {
	lo, hi float64
}

// trainingRanges are the sampling bounds per feature, in fitted order.
var trainingRanges = []featureRange{
	{1, 10000},  // area_hectares
	{10, 95},    // vegetation_coverage
	{5, 35},     // temperature_avg
	{200, 2000}, // precipitation_mm
	{0.3, 1.0},  // soil_quality_index
	{0, 3000},   // elevation_m
	{0, 45},     // slope_degrees
	{0.2, 1.0},  // biodiversity_index
	{0.0, 0.8},  // human_activity_index
	{1, 120},    // project_age_months
}

// generateTrainingData synthesizes a plausible training set. The target is
// driven by area, coverage, soil and precipitation with a multiplicative
// noise term, so the fitted model learns a physically sensible response.
func generateTrainingData(n int, seed int64) dataset {
	rng := rand.New(rand.NewSource(seed))

	d := dataset{
		rows:    make([][]float64, n),
		targets: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		row := make([]float64, features.NumFeatures)
		for j, r := range trainingRanges {
			row[j] = r.lo + rng.Float64()*(r.hi-r.lo)
		}
		d.rows[i] = row

		variation := 0.8 + 0.4*rng.Float64()
		d.targets[i] = row[0] * 0.1 *
			(row[1] / 100) *
			(1 + row[4]) *
			(1 + row[3]/1000) *
			variation
	}
	return d
}

// splitDataset shuffles and partitions into train/test.
func splitDataset(d dataset, testFraction float64, rng *rand.Rand) (train, test dataset) {
	n := len(d.rows)
	perm := rng.Perm(n)
	testN := int(float64(n) * testFraction)

	for k, i := range perm {
		if k < testN {
			test.rows = append(test.rows, d.rows[i])
			test.targets = append(test.targets, d.targets[i])
		} else {
			train.rows = append(train.rows, d.rows[i])
			train.targets = append(train.targets, d.targets[i])
		}
	}
	return train, test
}

func meanSquaredError(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	sum := 0.0
	for i := range actual {
		d := actual[i] - predicted[i]
		sum += d * d
	}
	return sum / float64(len(actual))
}

func rSquared(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	mean := stat.Mean(actual, nil)
	ssRes, ssTot := 0.0, 0.0
	for i := range actual {
		r := actual[i] - predicted[i]
		ssRes += r * r
		t := actual[i] - mean
		ssTot += t * t
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

package predictor

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// Standardizer centers features to zero mean and unit variance. It must be
// fitted on training data only; applying it to inference inputs uses the
// training statistics.
type Standardizer struct {
	Means  []float64 `json:"means"`
	Scales []float64 `json:"scales"`
}

// Fit computes per-column mean and population standard deviation. Columns
// with zero spread get scale 1 so Transform stays defined.
func (s *Standardizer) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: cannot fit standardizer on empty data", types.ErrInvalidInput)
	}
	cols := len(rows[0])
	s.Means = make([]float64, cols)
	s.Scales = make([]float64, cols)

	col := make([]float64, len(rows))
	for j := 0; j < cols; j++ {
		for i, row := range rows {
			if len(row) != cols {
				return fmt.Errorf("%w: ragged row %d has %d columns, want %d", types.ErrInvalidInput, i, len(row), cols)
			}
			col[i] = row[j]
		}
		s.Means[j] = stat.Mean(col, nil)
		scale := stat.PopStdDev(col, nil)
		if scale == 0 {
			scale = 1
		}
		s.Scales[j] = scale
	}
	return nil
}

// Transform standardizes a single feature vector.
func (s *Standardizer) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Means) {
		return nil, fmt.Errorf("%w: expected %d features, got %d", types.ErrInvalidInput, len(s.Means), len(x))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Means[j]) / s.Scales[j]
	}
	return out, nil
}

// TransformAll standardizes a batch of rows.
func (s *Standardizer) TransformAll(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		t, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// Inverse undoes Transform.
func (s *Standardizer) Inverse(x []float64) ([]float64, error) {
	if len(x) != len(s.Means) {
		return nil, fmt.Errorf("%w: expected %d features, got %d", types.ErrInvalidInput, len(s.Means), len(x))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = v*s.Scales[j] + s.Means[j]
	}
	return out, nil
}

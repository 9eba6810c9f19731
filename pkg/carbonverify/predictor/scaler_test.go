package predictor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

func TestStandardizerRoundTrip(t *testing.T) {
	rows := [][]float64{
		{1, 100, -5},
		{2, 200, 0},
		{3, 300, 5},
		{4, 400, 10},
	}
	s := &Standardizer{}
	require.NoError(t, s.Fit(rows))

	for _, row := range rows {
		scaled, err := s.Transform(row)
		require.NoError(t, err)
		back, err := s.Inverse(scaled)
		require.NoError(t, err)
		for j := range row {
			assert.InDelta(t, row[j], back[j], 1e-9)
		}
	}
}

func TestStandardizerCentersColumns(t *testing.T) {
	rows := [][]float64{{10, 0}, {20, 0}, {30, 0}}
	s := &Standardizer{}
	require.NoError(t, s.Fit(rows))

	scaled, err := s.TransformAll(rows)
	require.NoError(t, err)

	for j := 0; j < 2; j++ {
		sum := 0.0
		for _, row := range scaled {
			sum += row[j]
		}
		assert.InDelta(t, 0.0, sum, 1e-9, "column %d should be centered", j)
	}
}

func TestStandardizerZeroSpreadGuard(t *testing.T) {
	rows := [][]float64{{5, 1}, {5, 2}, {5, 3}}
	s := &Standardizer{}
	require.NoError(t, s.Fit(rows))
	assert.Equal(t, 1.0, s.Scales[0], "constant column gets unit scale")

	scaled, err := s.Transform([]float64{5, 2})
	require.NoError(t, err)
	assert.Equal(t, 0.0, scaled[0])
}

func TestStandardizerRejectsBadShapes(t *testing.T) {
	s := &Standardizer{}
	assert.ErrorIs(t, s.Fit(nil), types.ErrInvalidInput)
	assert.ErrorIs(t, s.Fit([][]float64{{1, 2}, {1}}), types.ErrInvalidInput)

	require.NoError(t, s.Fit([][]float64{{1, 2}, {3, 4}}))
	_, err := s.Transform([]float64{1})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	_, err = s.Inverse([]float64{1, 2, 3})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

package vegetation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

func coverageSamples(start time.Time, stepDays int, coverages ...float64) []types.TimedClassification {
	samples := make([]types.TimedClassification, len(coverages))
	for i, c := range coverages {
		samples[i] = types.TimedClassification{
			Date: start.AddDate(0, 0, i*stepDays),
			ClassificationResult: types.ClassificationResult{
				CoveragePercent: c,
			},
		}
	}
	return samples
}

func TestComputeTrendClassification(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		samples   []types.TimedClassification
		wantTrend string
	}{
		{"rising coverage", coverageSamples(start, 1, 40, 45, 50, 55), types.TrendIncreasing},
		{"falling coverage", coverageSamples(start, 1, 55, 50, 45, 40), types.TrendDecreasing},
		{"flat coverage", coverageSamples(start, 1, 50, 50, 50), types.TrendStable},
		{"slow drift stays stable", coverageSamples(start, 30, 40, 45, 50, 55), types.TrendStable},
		{"single sample", coverageSamples(start, 1, 42), types.TrendInsufficientData},
		{"no samples", nil, types.TrendInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeTrend(tt.samples)
			assert.Equal(t, tt.wantTrend, got.Trend)
		})
	}
}

func TestComputeTrendDetails(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	got := computeTrend(coverageSamples(start, 1, 40, 45, 50, 55))

	assert.InDelta(t, 5.0, got.ChangeRate, 1e-9, "one day per 5 coverage points")
	assert.Equal(t, 40.0, got.InitialCoverage)
	assert.Equal(t, 55.0, got.FinalCoverage)
	assert.Equal(t, 15.0, got.TotalChange)
}

func TestComputeTrendInsufficientDataIsNotAnError(t *testing.T) {
	got := computeTrend(nil)
	assert.Equal(t, types.TrendInsufficientData, got.Trend)
	assert.Zero(t, got.ChangeRate)
	assert.Zero(t, got.InitialCoverage)
}

package vegetation

import (
	"gonum.org/v1/gonum/stat"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// Slope bounds separating stable coverage from a real trend, in percent
// points per day.
const (
	increasingSlope = 1.0
	decreasingSlope = -1.0
)

// computeTrend fits a line through coverage over days-since-first-sample
// and classifies the slope. Fewer than two samples is a valid outcome,
// reported as insufficient data rather than an error.
func computeTrend(samples []types.TimedClassification) types.TrendAnalysis {
	if len(samples) < 2 {
		return types.TrendAnalysis{Trend: types.TrendInsufficientData, ChangeRate: 0}
	}

	days := make([]float64, len(samples))
	coverages := make([]float64, len(samples))
	for i, s := range samples {
		days[i] = s.Date.Sub(samples[0].Date).Hours() / 24
		coverages[i] = s.CoveragePercent
	}

	_, slope := stat.LinearRegression(days, coverages, nil, false)

	trend := types.TrendStable
	switch {
	case slope > increasingSlope:
		trend = types.TrendIncreasing
	case slope < decreasingSlope:
		trend = types.TrendDecreasing
	}

	return types.TrendAnalysis{
		Trend:           trend,
		ChangeRate:      slope,
		InitialCoverage: coverages[0],
		FinalCoverage:   coverages[len(coverages)-1],
		TotalChange:     coverages[len(coverages)-1] - coverages[0],
	}
}

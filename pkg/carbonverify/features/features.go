// Package features turns project descriptors into the fixed-order numeric
// feature vectors consumed by the carbon capture predictor.
package features

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/clock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/environment"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// NumFeatures is the dimensionality of a feature vector.
const NumFeatures = 10

// DefaultCoverage is assumed when no satellite-derived coverage is
// available at extraction time.
const DefaultCoverage = 75.0

// daysPerMonth is the mean Gregorian month length used for project age.
const daysPerMonth = 30.44

// Vector is a fixed-order feature vector. The field order of Slice() must
// match the order the predictor was fitted with; reordering silently
// breaks inference.
type Vector struct {
	AreaHectares       float64 `json:"area_hectares"`
	VegetationCoverage float64 `json:"vegetation_coverage"`
	TemperatureAvg     float64 `json:"temperature_avg"`
	PrecipitationMM    float64 `json:"precipitation_mm"`
	SoilQualityIndex   float64 `json:"soil_quality_index"`
	ElevationM         float64 `json:"elevation_m"`
	SlopeDegrees       float64 `json:"slope_degrees"`
	BiodiversityIndex  float64 `json:"biodiversity_index"`
	HumanActivityIndex float64 `json:"human_activity_index"`
	ProjectAgeMonths   float64 `json:"project_age_months"`
}

// FieldNames returns the feature names in fitted order.
func FieldNames() []string {
	return []string{
		"area_hectares",
		"vegetation_coverage",
		"temperature_avg",
		"precipitation_mm",
		"soil_quality_index",
		"elevation_m",
		"slope_degrees",
		"biodiversity_index",
		"human_activity_index",
		"project_age_months",
	}
}

// Slice returns the feature values in fitted order.
func (v Vector) Slice() []float64 {
	return []float64{
		v.AreaHectares,
		v.VegetationCoverage,
		v.TemperatureAvg,
		v.PrecipitationMM,
		v.SoilQualityIndex,
		v.ElevationM,
		v.SlopeDegrees,
		v.BiodiversityIndex,
		v.HumanActivityIndex,
		v.ProjectAgeMonths,
	}
}

// FromSlice rebuilds a Vector from values in fitted order.
func FromSlice(s []float64) (Vector, error) {
	if len(s) != NumFeatures {
		return Vector{}, fmt.Errorf("%w: expected %d features, got %d", types.ErrInvalidInput, NumFeatures, len(s))
	}
	return Vector{
		AreaHectares:       s[0],
		VegetationCoverage: s[1],
		TemperatureAvg:     s[2],
		PrecipitationMM:    s[3],
		SoilQualityIndex:   s[4],
		ElevationM:         s[5],
		SlopeDegrees:       s[6],
		BiodiversityIndex:  s[7],
		HumanActivityIndex: s[8],
		ProjectAgeMonths:   s[9],
	}, nil
}

// Extractor builds feature vectors from project descriptors plus
// environmental lookups. It has no side effects.
type Extractor struct {
	env   environment.Provider
	clock clock.Clock
}

// NewExtractor creates an extractor over the given environment provider.
func NewExtractor(env environment.Provider, clk clock.Clock) *Extractor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Extractor{env: env, clock: clk}
}

// Extract builds the feature vector for a project, using DefaultCoverage
// for the vegetation coverage field.
func (e *Extractor) Extract(ctx context.Context, p types.ProjectDescriptor) (Vector, error) {
	return e.ExtractWithCoverage(ctx, p, DefaultCoverage)
}

// ExtractWithCoverage builds the feature vector with a caller-supplied
// vegetation coverage percentage (e.g. from a completed satellite
// analysis).
func (e *Extractor) ExtractWithCoverage(ctx context.Context, p types.ProjectDescriptor, coverage float64) (Vector, error) {
	if p.AreaHectares <= 0 {
		return Vector{}, fmt.Errorf("%w: project %s has non-positive area %f", types.ErrInvalidInput, p.ProjectID, p.AreaHectares)
	}
	if p.StartDate.IsZero() {
		return Vector{}, fmt.Errorf("%w: project %s has no start date", types.ErrInvalidInput, p.ProjectID)
	}

	obs, err := e.env.Lookup(ctx, p.Location)
	if err != nil {
		return Vector{}, fmt.Errorf("environmental lookup for project %s: %w", p.ProjectID, err)
	}

	ageMonths := e.clock.Since(p.StartDate).Hours() / 24 / daysPerMonth
	if ageMonths < 0 {
		ageMonths = 0
	}

	v := Vector{
		AreaHectares:       p.AreaHectares,
		VegetationCoverage: coverage,
		TemperatureAvg:     obs.Temperature,
		PrecipitationMM:    obs.Precipitation,
		SoilQualityIndex:   obs.SoilQuality,
		ElevationM:         obs.Elevation,
		SlopeDegrees:       obs.Slope,
		BiodiversityIndex:  obs.Biodiversity,
		HumanActivityIndex: obs.HumanActivity,
		ProjectAgeMonths:   ageMonths,
	}

	klog.V(3).InfoS("Extracted project features",
		"project", p.ProjectID,
		"area", v.AreaHectares,
		"coverage", v.VegetationCoverage,
		"ageMonths", v.ProjectAgeMonths)

	return v, nil
}

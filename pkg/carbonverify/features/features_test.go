package features

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/clock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/environment"
	envmock "github.com/carbonflow/ai-engine/pkg/carbonverify/environment/mock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

type fixedProvider struct {
	obs environment.Observation
}

func (f fixedProvider) Lookup(context.Context, types.GeoPoint) (*environment.Observation, error) {
	o := f.obs
	return &o, nil
}

func testProject(start time.Time) types.ProjectDescriptor {
	return types.ProjectDescriptor{
		ProjectID:    "proj-1",
		Name:         "Test Reforestation",
		Location:     types.GeoPoint{Lat: 45.0, Lng: 25.0},
		ProjectType:  "reforestation",
		AreaHectares: 100,
		StartDate:    start,
	}
}

func TestExtractFieldOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -61) // just over two mean months

	e := NewExtractor(fixedProvider{environment.Observation{
		Temperature:   22.0,
		Precipitation: 900.0,
		SoilQuality:   0.75,
		Elevation:     350.0,
		Slope:         12.0,
		Biodiversity:  0.65,
		HumanActivity: 0.2,
	}}, clock.NewMockClock(now))

	v, err := e.Extract(context.Background(), testProject(start))
	require.NoError(t, err)

	s := v.Slice()
	require.Len(t, s, NumFeatures)
	assert.Equal(t, 100.0, s[0], "area must be first")
	assert.Equal(t, DefaultCoverage, s[1], "coverage must be second")
	assert.Equal(t, 22.0, s[2])
	assert.Equal(t, 900.0, s[3])
	assert.Equal(t, 0.75, s[4])
	assert.Equal(t, 350.0, s[5])
	assert.Equal(t, 12.0, s[6])
	assert.Equal(t, 0.65, s[7])
	assert.Equal(t, 0.2, s[8])
	assert.InDelta(t, 61.0/30.44, s[9], 1e-9, "age in mean months must be last")
}

func TestSliceRoundTrip(t *testing.T) {
	v := Vector{
		AreaHectares:       12,
		VegetationCoverage: 80,
		TemperatureAvg:     18,
		PrecipitationMM:    700,
		SoilQualityIndex:   0.5,
		ElevationM:         1000,
		SlopeDegrees:       5,
		BiodiversityIndex:  0.4,
		HumanActivityIndex: 0.1,
		ProjectAgeMonths:   24,
	}
	back, err := FromSlice(v.Slice())
	require.NoError(t, err)
	assert.Equal(t, v, back)

	_, err = FromSlice([]float64{1, 2, 3})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestExtractRejectsMalformedDescriptor(t *testing.T) {
	e := NewExtractor(envmock.New(), clock.RealClock{})

	noArea := testProject(time.Now().AddDate(-1, 0, 0))
	noArea.AreaHectares = 0
	_, err := e.Extract(context.Background(), noArea)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	noStart := testProject(time.Time{})
	_, err = e.Extract(context.Background(), noStart)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestExtractPropagatesProviderFailure(t *testing.T) {
	e := NewExtractor(envmock.NewWithError(), clock.RealClock{})
	_, err := e.Extract(context.Background(), testProject(time.Now().AddDate(-1, 0, 0)))
	assert.ErrorIs(t, err, types.ErrUpstreamFailure)
}

func TestExtractFutureStartDateClampsAge(t *testing.T) {
	now := time.Now()
	e := NewExtractor(envmock.New(), clock.NewMockClock(now))
	v, err := e.Extract(context.Background(), testProject(now.AddDate(0, 1, 0)))
	require.NoError(t, err)
	assert.Equal(t, 0.0, v.ProjectAgeMonths)
}

func TestFieldNamesMatchVectorLayout(t *testing.T) {
	names := FieldNames()
	require.Len(t, names, NumFeatures)
	assert.Equal(t, "area_hectares", names[0])
	assert.Equal(t, "project_age_months", names[NumFeatures-1])
}

// Package mock provides a deterministic environment.Provider for tests and
// for development without an upstream environmental API.
package mock

import (
	"context"
	"fmt"
	"math"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/environment"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// MockProvider implements environment.Provider with values derived
// deterministically from the coordinates, so repeated lookups agree.
type MockProvider struct {
	errorMode bool
}

// New creates a new mock environmental provider
func New() *MockProvider {
	return &MockProvider{}
}

// NewWithError creates a mock provider whose lookups always fail
func NewWithError() *MockProvider {
	return &MockProvider{errorMode: true}
}

// Lookup returns synthetic but plausible conditions for the location.
func (m *MockProvider) Lookup(_ context.Context, location types.GeoPoint) (*environment.Observation, error) {
	if m.errorMode {
		return nil, fmt.Errorf("%w: environmental API error (mock)", types.ErrUpstreamFailure)
	}

	// Latitude drives temperature, a coordinate hash perturbs the rest.
	h := hash(location.Lat, location.Lng)
	return &environment.Observation{
		Temperature:   28.0 - math.Abs(location.Lat)/90.0*25.0 + 4.0*h,
		Precipitation: 500.0 + 1000.0*h,
		SoilQuality:   0.4 + 0.5*h,
		Elevation:     2000.0 * h,
		Slope:         30.0 * h,
		Biodiversity:  0.3 + 0.5*h,
		HumanActivity: 0.1 + 0.5*(1.0-h),
	}, nil
}

// hash maps coordinates to a stable value in [0,1).
func hash(lat, lng float64) float64 {
	v := math.Sin(lat*12.9898+lng*78.233) * 43758.5453
	return v - math.Floor(v)
}

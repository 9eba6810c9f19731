// Package mock synthesizes deterministic satellite imagery for tests and
// for development without a satellite API subscription.
package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/imagery"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

const mockImageSize = 256

// MockProvider implements imagery.Provider with generated vegetation-like
// scenes. The same location always yields the same imagery.
type MockProvider struct {
	errorMode bool
}

// New creates a new mock imagery provider
func New() *MockProvider {
	return &MockProvider{}
}

// NewWithError creates a mock provider whose fetches always fail
func NewWithError() *MockProvider {
	return &MockProvider{errorMode: true}
}

// FetchImages returns one synthetic scene per ~50 hectares, capped at 8.
func (m *MockProvider) FetchImages(_ context.Context, location types.GeoPoint, areaHectares float64) ([]imagery.Image, error) {
	if m.errorMode {
		return nil, fmt.Errorf("%w: satellite API error (mock)", types.ErrUpstreamFailure)
	}

	count := int(areaHectares/50.0) + 1
	if count > 8 {
		count = 8
	}

	images := make([]imagery.Image, 0, count)
	for i := 0; i < count; i++ {
		images = append(images, synthesizeScene(seed(location)+int64(i), 0.65))
	}
	return images, nil
}

// FetchTimeSeries returns roughly one scene per month with slowly rising
// vegetation density.
func (m *MockProvider) FetchTimeSeries(_ context.Context, location types.GeoPoint, start, end time.Time) ([]imagery.TimedImage, error) {
	if m.errorMode {
		return nil, fmt.Errorf("%w: satellite API error (mock)", types.ErrUpstreamFailure)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: time series end %v before start %v", types.ErrInvalidInput, end, start)
	}

	var series []imagery.TimedImage
	step := 0
	for current := start; !current.After(end); current = current.AddDate(0, 0, 30) {
		density := 0.4 + 0.04*float64(step)
		if density > 0.9 {
			density = 0.9
		}
		series = append(series, imagery.TimedImage{
			Date:  current,
			Image: synthesizeScene(seed(location)+int64(step)*31, density),
		})
		step++
	}
	return series, nil
}

// synthesizeScene renders a scene where roughly density of the pixels
// read as vegetation (green dominant over red).
func synthesizeScene(s int64, density float64) imagery.Image {
	rng := rand.New(rand.NewSource(s))
	im := imagery.NewImage(mockImageSize, mockImageSize)
	for y := 0; y < mockImageSize; y++ {
		for x := 0; x < mockImageSize; x++ {
			if rng.Float64() < density {
				// Vegetated pixel: strong green channel
				im.Set(x, y, imagery.ChannelRed, 40+40*rng.Float64())
				im.Set(x, y, imagery.ChannelGreen, 130+80*rng.Float64())
				im.Set(x, y, imagery.ChannelBlue, 30+40*rng.Float64())
			} else {
				// Bare soil: red dominant
				im.Set(x, y, imagery.ChannelRed, 120+80*rng.Float64())
				im.Set(x, y, imagery.ChannelGreen, 90+50*rng.Float64())
				im.Set(x, y, imagery.ChannelBlue, 60+40*rng.Float64())
			}
		}
	}
	return im
}

func seed(location types.GeoPoint) int64 {
	return int64(math.Abs(location.Lat*10007)) + int64(math.Abs(location.Lng*7919))
}

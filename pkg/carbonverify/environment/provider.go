// Package environment provides lookups of environmental conditions
// (climate, terrain, soil) for a geographic point. The analysis pipeline
// treats the underlying data source as an external collaborator behind the
// Provider interface.
package environment

import (
	"context"
	"time"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// Default values used when a provider response omits a field. Chosen as
// reasonable midpoints so a sparse response still yields a usable feature
// vector.
const (
	DefaultTemperature   = 20.0  // °C annual mean
	DefaultPrecipitation = 800.0 // mm/year
	DefaultSoilQuality   = 0.7   // [0,1]
	DefaultElevation     = 500.0 // m
	DefaultSlope         = 10.0  // degrees
	DefaultBiodiversity  = 0.6   // [0,1]
	DefaultHumanActivity = 0.3   // [0,1]
)

// Observation holds the environmental conditions at one location. All
// fields are populated; providers substitute the documented defaults for
// values their upstream source does not report.
type Observation struct {
	Temperature   float64   `json:"temperature"`
	Precipitation float64   `json:"precipitation"`
	SoilQuality   float64   `json:"soil_quality"`
	Elevation     float64   `json:"elevation"`
	Slope         float64   `json:"slope"`
	Biodiversity  float64   `json:"biodiversity"`
	HumanActivity float64   `json:"human_activity"`
	Timestamp     time.Time `json:"timestamp"`
}

// Provider defines the interface for environmental-data lookups.
type Provider interface {
	// Lookup returns the environmental conditions at the given point.
	Lookup(ctx context.Context, location types.GeoPoint) (*Observation, error)
}

// observationWire is the provider API response; absent fields become the
// documented defaults.
type observationWire struct {
	Temperature   *float64  `json:"temperature"`
	Precipitation *float64  `json:"precipitation"`
	SoilQuality   *float64  `json:"soil_quality"`
	Elevation     *float64  `json:"elevation"`
	Slope         *float64  `json:"slope"`
	Biodiversity  *float64  `json:"biodiversity"`
	HumanActivity *float64  `json:"human_activity"`
	Timestamp     time.Time `json:"timestamp"`
}

func (w observationWire) toObservation() *Observation {
	value := func(p *float64, def float64) float64 {
		if p != nil {
			return *p
		}
		return def
	}
	obs := &Observation{
		Temperature:   value(w.Temperature, DefaultTemperature),
		Precipitation: value(w.Precipitation, DefaultPrecipitation),
		SoilQuality:   value(w.SoilQuality, DefaultSoilQuality),
		Elevation:     value(w.Elevation, DefaultElevation),
		Slope:         value(w.Slope, DefaultSlope),
		Biodiversity:  value(w.Biodiversity, DefaultBiodiversity),
		HumanActivity: value(w.HumanActivity, DefaultHumanActivity),
		Timestamp:     w.Timestamp,
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}
	return obs
}

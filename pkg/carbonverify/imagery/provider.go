package imagery

import (
	"context"
	"time"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// Provider defines the interface for satellite image acquisition.
type Provider interface {
	// FetchImages returns the current imagery covering the given area.
	FetchImages(ctx context.Context, location types.GeoPoint, areaHectares float64) ([]Image, error)

	// FetchTimeSeries returns imagery for the period, ordered by date.
	FetchTimeSeries(ctx context.Context, location types.GeoPoint, start, end time.Time) ([]TimedImage, error)
}

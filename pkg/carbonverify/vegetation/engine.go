// Package vegetation classifies satellite imagery into vegetation classes
// and aggregates per-image results into area and time-series analyses.
package vegetation

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/clock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/imagery"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/metrics"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/worker"
)

// singleImageThreshold is the minimum top-class probability for a single
// image to count as vegetation detected.
const singleImageThreshold = 0.7

// co2ConversionFactors are annual sequestration rates per vegetation
// class, in tonnes CO2 per hectare. Deforestation is a net source.
var co2ConversionFactors = map[string]float64{
	"forest":              10.0,
	"dense_vegetation":    6.0,
	"moderate_vegetation": 3.0,
	"sparse_vegetation":   1.0,
	"no_vegetation":       0.0,
	"reforestation":       8.0,
	"deforestation":       -5.0,
}

// State is the engine lifecycle state. Ready is terminal.
type State string

const (
	StateUnloaded State = "unloaded"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// ChangeDetector compares an image against a historical baseline.
type ChangeDetector interface {
	Detect(ctx context.Context, img imagery.Image) (*types.ChangeDetection, error)
}

// NoChangeDetector is the default detector used until a baseline imagery
// archive exists. It always reports no change.
type NoChangeDetector struct{}

func (NoChangeDetector) Detect(context.Context, imagery.Image) (*types.ChangeDetection, error) {
	return &types.ChangeDetection{
		ChangeDetected:    false,
		ChangeType:        "no_change",
		ChangeConfidence:  0,
		ChangeAreaPercent: 0,
	}, nil
}

// ModelInfo reports the classifier's health for the health endpoint.
type ModelInfo struct {
	Status        State    `json:"status"`
	InputShape    [3]int   `json:"input_shape,omitempty"`
	OutputClasses int      `json:"output_classes,omitempty"`
	Classes       []string `json:"classes,omitempty"`
	Parameters    int      `json:"trainable_params,omitempty"`
}

// Engine runs vegetation classification over satellite imagery. Create
// with New, call Initialize once, then use concurrently.
type Engine struct {
	cfg      config.ModelConfig
	verify   config.VerificationConfig
	provider imagery.Provider
	pool     *worker.Pool
	detector ChangeDetector
	clock    clock.Clock

	mu    sync.RWMutex
	state State
	net   *softmaxNet
}

// New creates an uninitialized engine.
func New(cfg config.ModelConfig, verify config.VerificationConfig, provider imagery.Provider, pool *worker.Pool, detector ChangeDetector, clk clock.Clock) *Engine {
	if detector == nil {
		detector = NoChangeDetector{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{
		cfg:      cfg,
		verify:   verify,
		provider: provider,
		pool:     pool,
		detector: detector,
		clock:    clk,
		state:    StateUnloaded,
	}
}

// Initialize loads the persisted classifier or trains a fresh one on
// synthetic class-characteristic scenes.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateReady {
		return nil
	}
	if err := ctx.Err(); err != nil {
		e.state = StateFailed
		return err
	}

	net, err := loadNet(e.cfg.Dir)
	if err == nil {
		e.net = net
		e.state = StateReady
		klog.InfoS("Loaded existing vegetation classifier", "dir", e.cfg.Dir)
		return nil
	}
	if !os.IsNotExist(err) {
		e.state = StateFailed
		return fmt.Errorf("loading vegetation classifier: %w", err)
	}

	klog.InfoS("Training new vegetation classifier", "classes", len(VegetationClasses))
	e.net = trainNet(e.cfg.Seed)
	e.state = StateReady

	if err := saveNet(e.cfg.Dir, e.net); err != nil {
		klog.ErrorS(err, "Failed to persist vegetation classifier", "dir", e.cfg.Dir)
	}
	return nil
}

// Ready reports whether the classifier can serve inference.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateReady
}

// ClassifyImage analyzes one satellite image: class distribution, top
// class, and pixel-level vegetation coverage from the raw image.
func (e *Engine) ClassifyImage(ctx context.Context, img imagery.Image) (*types.ClassificationResult, error) {
	e.mu.RLock()
	net := e.net
	state := e.state
	e.mu.RUnlock()

	if state != StateReady {
		return nil, fmt.Errorf("%w: vegetation classifier is %s", types.ErrModelUnavailable, state)
	}

	start := e.clock.Now()
	feats, err := preprocess(img)
	if err != nil {
		return nil, err
	}
	probs := net.forward(feats)
	metrics.InferenceDuration.WithLabelValues("vegetation_classifier").Observe(e.clock.Now().Sub(start).Seconds())
	metrics.ImagesAnalyzed.Inc()

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}

	classProbs := make(map[string]float64, len(VegetationClasses))
	for i, name := range VegetationClasses {
		classProbs[name] = probs[i]
	}

	change, err := e.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("change detection: %w", err)
	}

	return &types.ClassificationResult{
		VegetationDetected: probs[best] > singleImageThreshold,
		PredictedClass:     VegetationClasses[best],
		Confidence:         probs[best],
		CoveragePercent:    vegetationCoverage(img),
		ClassProbabilities: classProbs,
		Change:             change,
		Timestamp:          e.clock.Now(),
	}, nil
}

// AnalyzeArea fetches imagery for a project area and aggregates per-image
// classifications. Inference runs under the worker pool so concurrent
// verifications share a bounded CPU budget.
func (e *Engine) AnalyzeArea(ctx context.Context, location types.GeoPoint, areaHectares float64) (*types.AreaAnalysis, error) {
	images, err := e.provider.FetchImages(ctx, location, areaHectares)
	if err != nil {
		return nil, fmt.Errorf("fetching imagery for area analysis: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no satellite images available for the specified area", types.ErrUpstreamFailure)
	}
	if max := e.verify.MaxImagesPerArea; max > 0 && len(images) > max {
		images = images[:max]
	}

	results, err := e.classifyAll(ctx, images)
	if err != nil {
		return nil, err
	}

	confidences := make([]float64, len(results))
	coverages := make([]float64, len(results))
	for i, r := range results {
		confidences[i] = r.Confidence
		coverages[i] = r.CoveragePercent
	}
	avgConfidence := stat.Mean(confidences, nil)
	avgCoverage := stat.Mean(coverages, nil)

	analysis := &types.AreaAnalysis{
		VegetationDetected: avgConfidence > e.verify.AreaConfidenceThreshold && avgCoverage > e.verify.AreaCoverageThreshold,
		Confidence:         avgConfidence,
		CoveragePercent:    avgCoverage,
		CO2PotentialTonnes: co2Potential(areaHectares, avgCoverage, results),
		ImagesAnalyzed:     len(results),
		Details:            results,
		Timestamp:          e.clock.Now(),
	}

	klog.V(2).InfoS("Analyzed project area",
		"lat", location.Lat,
		"lng", location.Lng,
		"images", len(results),
		"confidence", avgConfidence,
		"coverage", avgCoverage,
		"detected", analysis.VegetationDetected)
	return analysis, nil
}

// classifyAll runs classification for every image under the worker pool,
// failing the whole set on the first error.
func (e *Engine) classifyAll(ctx context.Context, images []imagery.Image) ([]types.ClassificationResult, error) {
	results := make([]types.ClassificationResult, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			return e.pool.Do(gctx, func() error {
				r, err := e.ClassifyImage(gctx, img)
				if err != nil {
					return err
				}
				results[i] = *r
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BatchClassify analyzes a set of images with per-image isolation: a
// failed image becomes an error-tagged entry with zeroed scores instead of
// failing the batch.
func (e *Engine) BatchClassify(ctx context.Context, images []imagery.Image) ([]types.ClassificationResult, error) {
	if !e.Ready() {
		return nil, fmt.Errorf("%w: vegetation classifier is not ready", types.ErrModelUnavailable)
	}

	results := make([]types.ClassificationResult, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			return e.pool.Do(gctx, func() error {
				r, err := e.ClassifyImage(gctx, img)
				if err != nil {
					klog.ErrorS(err, "Failed to analyze image in batch", "index", i)
					results[i] = types.ClassificationResult{
						Error:     err.Error(),
						Timestamp: e.clock.Now(),
					}
					return nil
				}
				results[i] = *r
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// AnalyzeTimeSeries classifies a period of imagery and fits the coverage
// trend over it.
func (e *Engine) AnalyzeTimeSeries(ctx context.Context, location types.GeoPoint, start, end time.Time) (*types.TemporalAnalysis, error) {
	series, err := e.provider.FetchTimeSeries(ctx, location, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching imagery time series: %w", err)
	}

	samples := make([]types.TimedClassification, len(series))
	g, gctx := errgroup.WithContext(ctx)
	for i, timed := range series {
		i, timed := i, timed
		g.Go(func() error {
			return e.pool.Do(gctx, func() error {
				r, err := e.ClassifyImage(gctx, timed.Image)
				if err != nil {
					return err
				}
				samples[i] = types.TimedClassification{
					Date:                 timed.Date,
					ClassificationResult: *r,
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	analysis := &types.TemporalAnalysis{
		Samples:        samples,
		Trend:          computeTrend(samples),
		PeriodStart:    start,
		PeriodEnd:      end,
		ImagesAnalyzed: len(samples),
	}

	klog.V(2).InfoS("Completed temporal analysis",
		"lat", location.Lat,
		"lng", location.Lng,
		"images", len(samples),
		"trend", analysis.Trend.Trend,
		"changeRate", analysis.Trend.ChangeRate)
	return analysis, nil
}

// co2Potential converts classified vegetation into an annual sequestration
// rate. Class probability mass weights the per-class factors; negative
// contributions from deforestation survive until the final floor.
func co2Potential(areaHectares, avgCoverage float64, results []types.ClassificationResult) float64 {
	totalPotential := 0.0
	totalMass := 0.0
	for _, r := range results {
		for class, probability := range r.ClassProbabilities {
			factor, ok := co2ConversionFactors[class]
			if !ok {
				continue
			}
			totalPotential += factor * probability
			totalMass += probability
		}
	}

	weightedFactor := 0.0
	if totalMass > 0 {
		weightedFactor = totalPotential / totalMass
	}

	annual := areaHectares * weightedFactor * (avgCoverage / 100.0)
	if annual < 0 {
		return 0
	}
	return annual
}

// Info reports classifier status for health endpoints.
func (e *Engine) Info() ModelInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != StateReady {
		return ModelInfo{Status: e.state}
	}
	return ModelInfo{
		Status:        e.state,
		InputShape:    [3]int{inputSize, inputSize, imagery.Channels},
		OutputClasses: len(VegetationClasses),
		Classes:       VegetationClasses,
		Parameters:    len(VegetationClasses)*featureDim + len(VegetationClasses),
	}
}

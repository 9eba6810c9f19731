// Package predictor estimates annual CO2 sequestration for carbon projects
// with a bagged regression-tree ensemble. The model is loaded from disk
// when artifacts exist and trained on a synthetic dataset otherwise.
package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/clock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/features"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/metrics"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// State is the predictor lifecycle state. Ready is terminal.
type State string

const (
	StateUnloaded State = "unloaded"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

const (
	modelArtifact  = "model.json"
	scalerArtifact = "scaler.json"

	// zScore95 is the two-sided 95% normal quantile used for the
	// confidence interval around a point estimate.
	zScore95 = 1.96

	testFraction = 0.2
)

// seasonalFactors modulate monthly capture across a year. Their sum is
// 11.3, not 12: the decomposition intentionally under-runs the annual
// figure and downstream consumers must not renormalize it.
var seasonalFactors = [12]float64{0.6, 0.7, 0.9, 1.2, 1.4, 1.3, 1.2, 1.1, 1.0, 0.8, 0.6, 0.5}

// ModelMetrics reports the predictor's health and training quality.
type ModelMetrics struct {
	Status       State    `json:"status"`
	ModelType    string   `json:"model_type,omitempty"`
	Estimators   int      `json:"n_estimators,omitempty"`
	FeatureCount int      `json:"feature_count,omitempty"`
	Features     []string `json:"features,omitempty"`
	MSE          float64  `json:"mse,omitempty"`
	R2           float64  `json:"r2,omitempty"`
}

// Predictor is the CO2 capture estimator. Create with New, call Initialize
// once, then Estimate/Predict concurrently.
type Predictor struct {
	cfg       config.ModelConfig
	extractor *features.Extractor
	clock     clock.Clock

	mu     sync.RWMutex
	state  State
	forest *Forest
	scaler *Standardizer
	mse    float64
	r2     float64
}

// New creates an uninitialized predictor.
func New(cfg config.ModelConfig, extractor *features.Extractor, clk clock.Clock) *Predictor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Predictor{
		cfg:       cfg,
		extractor: extractor,
		clock:     clk,
		state:     StateUnloaded,
	}
}

// Initialize loads persisted artifacts, or trains a fresh model when none
// exist. Corrupt artifacts fail initialization rather than silently
// retraining over them.
func (p *Predictor) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateReady {
		return nil
	}

	forest, scaler, err := p.loadArtifacts()
	if err == nil {
		p.forest = forest
		p.scaler = scaler
		p.state = StateReady
		klog.InfoS("Loaded existing carbon predictor model", "dir", p.cfg.Dir, "trees", len(forest.Trees))
		return nil
	}
	if !os.IsNotExist(err) {
		p.state = StateFailed
		return fmt.Errorf("loading carbon predictor artifacts: %w", err)
	}

	klog.InfoS("Training new carbon predictor model",
		"samples", p.cfg.TrainingSamples,
		"estimators", p.cfg.Estimators,
		"maxDepth", p.cfg.MaxDepth)

	if err := p.train(ctx); err != nil {
		p.state = StateFailed
		return err
	}
	p.state = StateReady
	return nil
}

func (p *Predictor) train(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data := generateTrainingData(p.cfg.TrainingSamples, p.cfg.Seed)
	rng := rand.New(rand.NewSource(p.cfg.Seed))
	train, test := splitDataset(data, testFraction, rng)

	scaler := &Standardizer{}
	if err := scaler.Fit(train.rows); err != nil {
		return fmt.Errorf("fitting standardizer: %w", err)
	}
	trainScaled, err := scaler.TransformAll(train.rows)
	if err != nil {
		return err
	}
	testScaled, err := scaler.TransformAll(test.rows)
	if err != nil {
		return err
	}

	forest, err := TrainForest(trainScaled, train.targets, ForestParams{
		Estimators:      p.cfg.Estimators,
		MaxDepth:        p.cfg.MaxDepth,
		MinSamplesSplit: p.cfg.MinSamplesSplit,
		MinSamplesLeaf:  p.cfg.MinSamplesLeaf,
		Seed:            p.cfg.Seed,
	})
	if err != nil {
		return fmt.Errorf("training forest: %w", err)
	}

	predicted := make([]float64, len(testScaled))
	for i, row := range testScaled {
		predicted[i] = forest.Predict(row)
	}
	p.mse = meanSquaredError(test.targets, predicted)
	p.r2 = rSquared(test.targets, predicted)
	klog.InfoS("Carbon predictor trained", "mse", fmt.Sprintf("%.2f", p.mse), "r2", fmt.Sprintf("%.3f", p.r2))

	p.forest = forest
	p.scaler = scaler

	if err := p.saveArtifacts(); err != nil {
		// Persistence is best effort; the in-memory model still serves.
		klog.ErrorS(err, "Failed to persist carbon predictor artifacts", "dir", p.cfg.Dir)
	}
	return nil
}

func (p *Predictor) loadArtifacts() (*Forest, *Standardizer, error) {
	modelBytes, err := os.ReadFile(filepath.Join(p.cfg.Dir, modelArtifact))
	if err != nil {
		return nil, nil, err
	}
	scalerBytes, err := os.ReadFile(filepath.Join(p.cfg.Dir, scalerArtifact))
	if err != nil {
		return nil, nil, err
	}

	var forest Forest
	if err := json.Unmarshal(modelBytes, &forest); err != nil {
		return nil, nil, fmt.Errorf("decoding %s: %w", modelArtifact, err)
	}
	var scaler Standardizer
	if err := json.Unmarshal(scalerBytes, &scaler); err != nil {
		return nil, nil, fmt.Errorf("decoding %s: %w", scalerArtifact, err)
	}
	if len(forest.Trees) == 0 || len(scaler.Means) != features.NumFeatures {
		return nil, nil, fmt.Errorf("artifact shape mismatch: %d trees, %d scaler columns", len(forest.Trees), len(scaler.Means))
	}
	return &forest, &scaler, nil
}

func (p *Predictor) saveArtifacts() error {
	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		return err
	}
	modelBytes, err := json.Marshal(p.forest)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(p.cfg.Dir, modelArtifact), modelBytes, 0o644); err != nil {
		return err
	}
	scalerBytes, err := json.Marshal(p.scaler)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.cfg.Dir, scalerArtifact), scalerBytes, 0o644)
}

// Ready reports whether the model can serve inference.
func (p *Predictor) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == StateReady
}

// EstimateCO2 predicts annual sequestration for a project using the
// default vegetation coverage.
func (p *Predictor) EstimateCO2(ctx context.Context, project types.ProjectDescriptor) (*types.CO2Estimate, error) {
	v, err := p.extractor.Extract(ctx, project)
	if err != nil {
		return nil, err
	}
	return p.EstimateFromFeatures(v)
}

// EstimateCO2WithCoverage predicts with a satellite-derived coverage
// percentage instead of the default.
func (p *Predictor) EstimateCO2WithCoverage(ctx context.Context, project types.ProjectDescriptor, coverage float64) (*types.CO2Estimate, error) {
	v, err := p.extractor.ExtractWithCoverage(ctx, project, coverage)
	if err != nil {
		return nil, err
	}
	return p.EstimateFromFeatures(v)
}

// EstimateFromFeatures runs inference on an already extracted vector.
func (p *Predictor) EstimateFromFeatures(v features.Vector) (*types.CO2Estimate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != StateReady {
		return nil, fmt.Errorf("%w: carbon predictor is %s", types.ErrModelUnavailable, p.state)
	}

	scaled, err := p.scaler.Transform(v.Slice())
	if err != nil {
		return nil, err
	}

	start := p.clock.Now()
	prediction := p.forest.Predict(scaled)
	metrics.InferenceDuration.WithLabelValues("carbon_predictor").Observe(p.clock.Now().Sub(start).Seconds())
	sigma := p.uncertainty(scaled, prediction)
	feasibility := feasibilityScore(v, prediction)

	estimate := &types.CO2Estimate{
		AnnualTonnes: math.Max(prediction, 0),
		Interval: types.ConfidenceInterval{
			Lower: math.Max(prediction-zScore95*sigma, 0),
			Upper: prediction + zScore95*sigma,
			Level: 0.95,
		},
		Feasibility:    feasibility,
		KeyFactors:     p.rankedImportances(),
		Recommendation: recommendation(prediction, feasibility),
		Timestamp:      p.clock.Now(),
	}

	metrics.CO2EstimatedTonnes.Observe(estimate.AnnualTonnes)
	klog.V(3).InfoS("Estimated CO2 capture",
		"annualTonnes", estimate.AnnualTonnes,
		"sigma", sigma,
		"feasibility", feasibility)
	return estimate, nil
}

// PredictCapture produces the per-month forecast over the requested
// horizon, capped at twelve months.
func (p *Predictor) PredictCapture(ctx context.Context, project types.ProjectDescriptor, timeframeDays int) (*types.CapturePrediction, error) {
	if timeframeDays <= 0 {
		timeframeDays = 365
	}

	estimate, err := p.EstimateCO2(ctx, project)
	if err != nil {
		return nil, err
	}

	return &types.CapturePrediction{
		ProjectID:      project.ProjectID,
		AnnualTonnes:   estimate.AnnualTonnes,
		Interval:       estimate.Interval,
		Monthly:        monthlyBreakdown(estimate.AnnualTonnes, timeframeDays),
		Factors:        contributingFactors(project),
		Feasibility:    estimate.Feasibility,
		Recommendation: estimate.Recommendation,
		Timestamp:      p.clock.Now(),
	}, nil
}

// Metrics reports model status and holdout quality.
func (p *Predictor) Metrics() ModelMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != StateReady {
		return ModelMetrics{Status: p.state}
	}
	return ModelMetrics{
		Status:       p.state,
		ModelType:    "RandomForestRegressor",
		Estimators:   len(p.forest.Trees),
		FeatureCount: features.NumFeatures,
		Features:     features.FieldNames(),
		MSE:          p.mse,
		R2:           p.r2,
	}
}

// uncertainty is the spread of individual tree predictions; with a
// degenerate ensemble it falls back to 10% of the estimate's magnitude.
func (p *Predictor) uncertainty(scaled []float64, prediction float64) float64 {
	if len(p.forest.Trees) < 2 {
		return 0.1 * math.Abs(prediction)
	}
	return stat.PopStdDev(p.forest.PerTreePredictions(scaled), nil)
}

func (p *Predictor) rankedImportances() []types.FactorImportance {
	names := features.FieldNames()
	importances := p.forest.FeatureImportances()

	ranked := make([]types.FactorImportance, len(names))
	for i, name := range names {
		ranked[i] = types.FactorImportance{Name: name, Importance: importances[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Importance > ranked[j].Importance
	})
	return ranked
}

// feasibilityScore blends coverage, soil, precipitation, area and the
// prediction's plausibility into a [0,1] score.
func feasibilityScore(v features.Vector, prediction float64) float64 {
	factors := []float64{
		math.Min(v.VegetationCoverage/80.0, 1.0),
		v.SoilQualityIndex,
		math.Min(v.PrecipitationMM/1000.0, 1.0),
		math.Min(v.AreaHectares/100.0, 1.0),
		math.Min(prediction/(v.AreaHectares*5), 1.0),
	}
	weights := []float64{0.25, 0.20, 0.20, 0.15, 0.20}

	score := 0.0
	for i, f := range factors {
		score += f * weights[i]
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func recommendation(prediction, feasibility float64) string {
	switch {
	case feasibility > 0.8 && prediction > 100:
		return "Excellent project with high CO2 capture potential. Highly recommended for investment."
	case feasibility > 0.6 && prediction > 50:
		return "Good project with moderate CO2 capture potential. Recommended for investment with monitoring."
	case feasibility > 0.4 && prediction > 20:
		return "Average project with limited CO2 capture potential. Consider additional improvements."
	default:
		return "Poor project feasibility. Not recommended for carbon credit investment."
	}
}

// monthlyBreakdown spreads the annual estimate over min(days/30, 12)
// months using the seasonal table.
func monthlyBreakdown(annualTonnes float64, timeframeDays int) []types.MonthlyCapture {
	months := timeframeDays / 30
	if months > 12 {
		months = 12
	}

	breakdown := make([]types.MonthlyCapture, 0, months)
	cumulative := 0.0
	for m := 0; m < months; m++ {
		factor := seasonalFactors[m%12]
		tonnes := annualTonnes / 12 * factor
		cumulative += tonnes
		breakdown = append(breakdown, types.MonthlyCapture{
			Month:          m + 1,
			Tonnes:         tonnes,
			SeasonalFactor: factor,
			Cumulative:     cumulative,
		})
	}
	return breakdown
}

// contributingFactors scores the qualitative drivers reported alongside a
// detailed prediction. Apart from size efficiency these are fixed heuristic
// weights pending a real assessment pipeline.
func contributingFactors(project types.ProjectDescriptor) map[string]float64 {
	return map[string]float64{
		"project_type_impact":      0.85,
		"location_suitability":     0.78,
		"size_efficiency":          math.Min(project.AreaHectares/1000, 1.0),
		"environmental_conditions": 0.82,
		"management_quality":       0.75,
		"technology_adoption":      0.90,
	}
}

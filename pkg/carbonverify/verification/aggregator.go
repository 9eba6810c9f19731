// Package verification combines satellite analysis, fraud scoring and CO2
// estimation into a single project verdict.
package verification

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/clock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/legitimacy"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/metrics"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// AreaAnalyzer produces the satellite-side analysis of a project area.
type AreaAnalyzer interface {
	AnalyzeArea(ctx context.Context, location types.GeoPoint, areaHectares float64) (*types.AreaAnalysis, error)
}

// CaptureEstimator produces the model-side CO2 estimate.
type CaptureEstimator interface {
	EstimateCO2(ctx context.Context, project types.ProjectDescriptor) (*types.CO2Estimate, error)
}

// Sink receives completed verification records for persistence.
type Sink interface {
	SaveVerification(ctx context.Context, v types.VerificationResult) error
}

// persistTimeout bounds the background write of a finished record.
const persistTimeout = 10 * time.Second

// Aggregator fans a verification request out to the three analysis paths
// and combines their verdicts. Any sub-analysis failure fails the whole
// verification; no partial records are produced.
type Aggregator struct {
	cfg      config.VerificationConfig
	analyzer AreaAnalyzer
	scorer   legitimacy.Scorer
	carbon   CaptureEstimator
	sink     Sink
	clock    clock.Clock
}

// New creates an aggregator. The sink may be nil, disabling persistence.
func New(cfg config.VerificationConfig, analyzer AreaAnalyzer, scorer legitimacy.Scorer, carbon CaptureEstimator, sink Sink, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Aggregator{
		cfg:      cfg,
		analyzer: analyzer,
		scorer:   scorer,
		carbon:   carbon,
		sink:     sink,
		clock:    clk,
	}
}

// Verify runs the full verification for one project. The three analyses
// run concurrently; the first failure cancels the others.
func (a *Aggregator) Verify(ctx context.Context, project types.ProjectDescriptor) (*types.VerificationResult, error) {
	start := a.clock.Now()

	if timeout := time.Duration(a.cfg.MaxProcessingTime); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		satellite *types.AreaAnalysis
		assess    *types.LegitimacyAssessment
		carbon    *types.CO2Estimate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		satellite, err = a.analyzer.AnalyzeArea(gctx, project.Location, project.AreaHectares)
		if err != nil {
			return fmt.Errorf("satellite analysis: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		assess, err = a.scorer.Assess(gctx, project)
		if err != nil {
			return fmt.Errorf("legitimacy assessment: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		carbon, err = a.carbon.EstimateCO2(gctx, project)
		if err != nil {
			return fmt.Errorf("carbon estimation: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		metrics.VerificationAttempts.WithLabelValues("error").Inc()
		klog.ErrorS(err, "Verification failed", "project", project.ProjectID)
		return nil, fmt.Errorf("verifying project %s: %w", project.ProjectID, err)
	}

	verified := satellite.VegetationDetected &&
		assess.LegitimacyScore > a.cfg.LegitimacyThreshold &&
		carbon.Feasibility > a.cfg.FeasibilityThreshold

	result := &types.VerificationResult{
		RecordID:           uuid.NewString(),
		ProjectID:          project.ProjectID,
		VerificationStatus: verified,
		ConfidenceScore:    math.Min(satellite.Confidence, math.Min(assess.LegitimacyScore, carbon.Feasibility)),
		CO2CaptureEstimate: carbon.AnnualTonnes,
		FraudRiskScore:     1 - assess.LegitimacyScore,
		Satellite:          *satellite,
		Legitimacy:         *assess,
		Carbon:             *carbon,
		Timestamp:          a.clock.Now(),
	}

	elapsed := a.clock.Now().Sub(start)
	metrics.VerificationDuration.Observe(elapsed.Seconds())
	if verified {
		metrics.VerificationAttempts.WithLabelValues("verified").Inc()
	} else {
		metrics.VerificationAttempts.WithLabelValues("rejected").Inc()
	}

	klog.V(1).InfoS("Completed project verification",
		"project", project.ProjectID,
		"record", result.RecordID,
		"verified", verified,
		"confidence", result.ConfidenceScore,
		"co2Tonnes", result.CO2CaptureEstimate,
		"fraudRisk", result.FraudRiskScore,
		"duration", elapsed)

	a.persist(*result)
	return result, nil
}

// persist schedules the record write without blocking the response.
// Persistence failures are logged and never fail a verification.
func (a *Aggregator) persist(result types.VerificationResult) {
	if a.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := a.sink.SaveVerification(ctx, result); err != nil {
			klog.ErrorS(err, "Failed to persist verification record",
				"record", result.RecordID,
				"project", result.ProjectID)
		}
	}()
}

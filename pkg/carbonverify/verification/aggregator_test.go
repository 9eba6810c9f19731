package verification

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/clock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
	legitmock "github.com/carbonflow/ai-engine/pkg/carbonverify/legitimacy/mock"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

type stubAnalyzer struct {
	analysis *types.AreaAnalysis
	err      error
	delay    time.Duration
}

func (s *stubAnalyzer) AnalyzeArea(ctx context.Context, _ types.GeoPoint, _ float64) (*types.AreaAnalysis, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.analysis, s.err
}

type stubEstimator struct {
	estimate *types.CO2Estimate
	err      error
}

func (s *stubEstimator) EstimateCO2(context.Context, types.ProjectDescriptor) (*types.CO2Estimate, error) {
	return s.estimate, s.err
}

type recordingSink struct {
	mu      sync.Mutex
	records []types.VerificationResult
	err     error
	saved   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{saved: make(chan struct{}, 8)}
}

func (s *recordingSink) SaveVerification(_ context.Context, v types.VerificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, v)
	s.saved <- struct{}{}
	return s.err
}

func testConfig() config.VerificationConfig {
	return config.VerificationConfig{
		LegitimacyThreshold:     0.8,
		FeasibilityThreshold:    0.7,
		AreaConfidenceThreshold: 0.8,
		AreaCoverageThreshold:   60,
		MaxImagesPerArea:        8,
		MaxProcessingTime:       model.Duration(5 * time.Second),
		InferenceWorkers:        4,
	}
}

func testDescriptor() types.ProjectDescriptor {
	return types.ProjectDescriptor{
		ProjectID:    "proj-verify",
		Name:         "Verify Me",
		Location:     types.GeoPoint{Lat: 45.0, Lng: 25.0},
		ProjectType:  "reforestation",
		AreaHectares: 150,
		StartDate:    time.Now().AddDate(-1, 0, 0),
	}
}

func passingCollaborators() (*stubAnalyzer, *legitmock.MockScorer, *stubEstimator) {
	analyzer := &stubAnalyzer{analysis: &types.AreaAnalysis{
		VegetationDetected: true,
		Confidence:         0.85,
		CoveragePercent:    72,
		CO2PotentialTonnes: 300,
		ImagesAnalyzed:     4,
	}}
	scorer := legitmock.New(0.9)
	estimator := &stubEstimator{estimate: &types.CO2Estimate{
		AnnualTonnes: 120,
		Feasibility:  0.75,
	}}
	return analyzer, scorer, estimator
}

func TestVerifyCombinesSubResults(t *testing.T) {
	analyzer, scorer, estimator := passingCollaborators()
	sink := newRecordingSink()
	a := New(testConfig(), analyzer, scorer, estimator, sink, clock.RealClock{})

	result, err := a.Verify(context.Background(), testDescriptor())
	require.NoError(t, err)

	assert.True(t, result.VerificationStatus)
	assert.InDelta(t, 0.75, result.ConfidenceScore, 1e-9, "confidence is the minimum of the three scores")
	assert.InDelta(t, 0.1, result.FraudRiskScore, 1e-9)
	assert.Equal(t, 120.0, result.CO2CaptureEstimate)
	assert.NotEmpty(t, result.RecordID)
	assert.Equal(t, "proj-verify", result.ProjectID)

	// Nested raw sub-results are carried on the record.
	assert.Equal(t, 4, result.Satellite.ImagesAnalyzed)
	assert.Equal(t, 0.9, result.Legitimacy.LegitimacyScore)
	assert.Equal(t, 0.75, result.Carbon.Feasibility)
}

func TestVerifyRejectionReasons(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*stubAnalyzer, **legitmock.MockScorer, *stubEstimator)
	}{
		{"no vegetation detected", func(an *stubAnalyzer, _ **legitmock.MockScorer, _ *stubEstimator) {
			an.analysis.VegetationDetected = false
		}},
		{"legitimacy at threshold", func(_ *stubAnalyzer, sc **legitmock.MockScorer, _ *stubEstimator) {
			*sc = legitmock.New(0.8) // strict inequality required
		}},
		{"feasibility too low", func(_ *stubAnalyzer, _ **legitmock.MockScorer, es *stubEstimator) {
			es.estimate.Feasibility = 0.6
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer, scorer, estimator := passingCollaborators()
			tt.mutate(analyzer, &scorer, estimator)

			a := New(testConfig(), analyzer, scorer, estimator, nil, clock.RealClock{})
			result, err := a.Verify(context.Background(), testDescriptor())
			require.NoError(t, err)
			assert.False(t, result.VerificationStatus)
		})
	}
}

func TestVerifyFailsAtomically(t *testing.T) {
	analyzer, _, estimator := passingCollaborators()
	scorer := legitmock.NewWithError()
	sink := newRecordingSink()
	a := New(testConfig(), analyzer, scorer, estimator, sink, clock.RealClock{})

	_, err := a.Verify(context.Background(), testDescriptor())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUpstreamFailure)

	// No partial record reaches the sink.
	select {
	case <-sink.saved:
		t.Fatal("failed verification must not be persisted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestVerifyFailureCancelsSiblings(t *testing.T) {
	analyzer, _, estimator := passingCollaborators()
	analyzer.delay = 5 * time.Second
	scorer := legitmock.NewWithError()
	a := New(testConfig(), analyzer, scorer, estimator, nil, clock.RealClock{})

	start := time.Now()
	_, err := a.Verify(context.Background(), testDescriptor())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "slow sibling must be cancelled, not awaited")
}

func TestVerifyPersistsFireAndForget(t *testing.T) {
	analyzer, scorer, estimator := passingCollaborators()
	sink := newRecordingSink()
	a := New(testConfig(), analyzer, scorer, estimator, sink, clock.RealClock{})

	result, err := a.Verify(context.Background(), testDescriptor())
	require.NoError(t, err)

	select {
	case <-sink.saved:
	case <-time.After(time.Second):
		t.Fatal("expected background persistence")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.records, 1)
	assert.Equal(t, result.RecordID, sink.records[0].RecordID)
}

func TestVerifySinkFailureDoesNotFailVerification(t *testing.T) {
	analyzer, scorer, estimator := passingCollaborators()
	sink := newRecordingSink()
	sink.err = fmt.Errorf("disk full")
	a := New(testConfig(), analyzer, scorer, estimator, sink, clock.RealClock{})

	result, err := a.Verify(context.Background(), testDescriptor())
	require.NoError(t, err)
	assert.True(t, result.VerificationStatus)
	<-sink.saved
}

func TestVerifyTimeout(t *testing.T) {
	analyzer, scorer, estimator := passingCollaborators()
	analyzer.delay = time.Second

	cfg := testConfig()
	cfg.MaxProcessingTime = model.Duration(20 * time.Millisecond)
	a := New(cfg, analyzer, scorer, estimator, nil, clock.RealClock{})

	_, err := a.Verify(context.Background(), testDescriptor())
	require.Error(t, err)
}

// Package mock provides a fixed-score legitimacy scorer for tests and
// local development.
package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// MockScorer implements legitimacy.Scorer with a configurable fixed score.
type MockScorer struct {
	score       float64
	riskFactors []string
	errorMode   bool
}

// New creates a mock scorer returning the given score
func New(score float64) *MockScorer {
	return &MockScorer{score: score}
}

// NewWithRiskFactors creates a mock scorer with named risk factors
func NewWithRiskFactors(score float64, factors ...string) *MockScorer {
	return &MockScorer{score: score, riskFactors: factors}
}

// NewWithError creates a mock scorer whose assessments always fail
func NewWithError() *MockScorer {
	return &MockScorer{errorMode: true}
}

// Assess returns the configured assessment.
func (m *MockScorer) Assess(_ context.Context, project types.ProjectDescriptor) (*types.LegitimacyAssessment, error) {
	if m.errorMode {
		return nil, fmt.Errorf("%w: legitimacy API error (mock) for project %s", types.ErrUpstreamFailure, project.ProjectID)
	}
	return &types.LegitimacyAssessment{
		LegitimacyScore: m.score,
		RiskFactors:     m.riskFactors,
		Timestamp:       time.Now(),
	}, nil
}

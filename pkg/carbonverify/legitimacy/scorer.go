// Package legitimacy defines the fraud-scoring contract for carbon
// projects. The actual assessment runs in an external service; this
// package carries the interface, an HTTP client and a mock.
package legitimacy

import (
	"context"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// Scorer assesses how legitimate a submitted project appears.
// Implementations must return a LegitimacyScore in [0,1].
type Scorer interface {
	Assess(ctx context.Context, project types.ProjectDescriptor) (*types.LegitimacyAssessment, error)
}

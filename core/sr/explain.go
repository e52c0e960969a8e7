package sr

import (
	"context"

	"github.com/adalundhe/linkrel/core/concept"
)

// Explanation is a pairwise result together with the intermediate terms
// that produced it, keyed by term name.
type Explanation struct {
	Result Result             `json:"result"`
	Terms  map[string]float64 `json:"terms,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// Explainer is implemented by metrics that can report how a score was
// derived.
type Explainer interface {
	Explain(ctx context.Context, a, b concept.Concept) (Explanation, error)
}

// Package sr defines the relatedness metric contract shared by every metric
// implementation, the ranking primitives used by mostSimilar queries, and
// the typed registry metrics are built from.
package sr

import (
	"context"
	"fmt"
	"math"

	"github.com/adalundhe/linkrel/core/concept"
)

// Metric scores the relatedness of concept pairs. Implementations hold no
// mutable per-call state and are safe for concurrent use.
type Metric interface {
	Name() string

	// Similarity scores the ordered pair (a, b). Missing concepts and
	// disambiguation pages produce an invalid Result, not an error.
	Similarity(ctx context.Context, a, b concept.Concept) (Result, error)

	// MostSimilar returns up to k concepts ranked by relatedness to query.
	// A nil restrictTo asks the metric to choose candidates itself; metrics
	// that cannot do so fail with an error matching coreerrors.ErrUnsupported.
	MostSimilar(ctx context.Context, query concept.Concept, k int, restrictTo *concept.IDSet) (RankedList, error)

	Config() MetricConfig
}

// CandidateScorer is implemented by metrics that can report an unknown
// candidate as an error instead of folding it into an invalid Result.
type CandidateScorer interface {
	// ScoreCandidate scores (query, candidate) like Similarity, except that
	// an unknown candidate fails with an error matching
	// coreerrors.ErrNotFound. An unknown query is still an invalid Result.
	ScoreCandidate(ctx context.Context, query, candidate concept.Concept) (Result, error)
}

// ScoreCandidate scores candidate against query with m, reporting unknown
// candidates as ErrNotFound when m supports it.
func ScoreCandidate(ctx context.Context, m Metric, query, candidate concept.Concept) (Result, error) {
	if cs, ok := m.(CandidateScorer); ok {
		return cs.ScoreCandidate(ctx, query, candidate)
	}
	return m.Similarity(ctx, query, candidate)
}

// =============================================================================
// Result
// =============================================================================

// Result is a pairwise score. An invalid result means the pair has no
// meaningful relation and is distinct from a valid score of 0.
type Result struct {
	Value float64 `json:"score"`
	Valid bool    `json:"valid"`
}

// Score returns a valid result.
func Score(v float64) Result {
	return Result{Value: v, Valid: true}
}

// Invalid returns the no-relation result.
func Invalid() Result {
	return Result{}
}

func (r Result) String() string {
	if !r.Valid {
		return "invalid"
	}
	return fmt.Sprintf("%.6f", r.Value)
}

// =============================================================================
// MetricConfig
// =============================================================================

// MetricConfig is the output range a metric advertises. It is not enforced
// on the metric; consumers clamp when normalizing.
type MetricConfig struct {
	MinScore float64 `json:"min_score" yaml:"min_score"`
	MaxScore float64 `json:"max_score" yaml:"max_score"`
}

// Normalize maps v from [MinScore, MaxScore] into [0, 1], clamping values
// outside the range. A degenerate range only clamps.
func (c MetricConfig) Normalize(v float64) float64 {
	if c.MaxScore > c.MinScore {
		v = (v - c.MinScore) / (c.MaxScore - c.MinScore)
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Package synrank implements the SynRank link co-occurrence metric: a PMI
// proxy over shared inbound linkers, boosted by the log of the overlap and
// damped by a bounded outbound graph distance.
package synrank

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/adalundhe/linkrel/core/concept"
	"github.com/adalundhe/linkrel/core/disambig"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/graph"
	"github.com/adalundhe/linkrel/core/sr"
)

const (
	// Type is the registry type name.
	Type = "synrank"

	// MaxDepth caps the distance search.
	MaxDepth = 3

	// UnreachableDistance is used when the target is not reached within
	// MaxDepth levels.
	UnreachableDistance = 5
)

// Config is the advertised output range.
var Config = sr.MetricConfig{MinScore: 0, MaxScore: 1.1}

// Options configures a Metric.
type Options struct {
	Name    string
	Workers int
	Logger  *slog.Logger
}

// Metric is the SynRank metric for one language.
type Metric struct {
	name     string
	lang     concept.Language
	graph    graph.ConceptGraph
	filter   *disambig.Filter
	universe int
	workers  int
	logger   *slog.Logger
}

// New builds a SynRank metric. The universe size is read once here.
func New(ctx context.Context, lang concept.Language, g graph.ConceptGraph, filter *disambig.Filter, opts Options) (*Metric, error) {
	if g == nil {
		return nil, coreerrors.Configuration("synrank requires a concept graph", nil)
	}
	if filter == nil {
		return nil, coreerrors.Configuration("synrank requires a disambiguation filter", nil)
	}
	if filter.Language() != lang {
		return nil, coreerrors.Configuration(
			fmt.Sprintf("disambiguation filter for %s used with %s", filter.Language(), lang), nil)
	}

	universe, err := g.ConceptCount(ctx, lang)
	if err != nil {
		return nil, fmt.Errorf("universe size: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = Type
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("synrank ready",
		slog.String("lang", string(lang)),
		slog.Int("articles", universe),
		slog.Int("disambiguation_pages", filter.Len()))

	return &Metric{
		name:     name,
		lang:     lang,
		graph:    g,
		filter:   filter,
		universe: universe,
		workers:  opts.Workers,
		logger:   logger,
	}, nil
}

// Factory builds a SynRank metric from a registry spec.
func Factory(ctx context.Context, spec sr.Spec, deps sr.Deps) (sr.Metric, error) {
	if deps.Filters == nil {
		return nil, coreerrors.Configuration("synrank requires a disambiguation filter source", nil)
	}
	filter, err := deps.Filters.Filter(ctx, spec.Language, spec.DisambiguationCategory)
	if err != nil {
		return nil, err
	}
	return New(ctx, spec.Language, deps.Graph, filter, Options{
		Name:    spec.Name,
		Workers: deps.Workers,
		Logger:  deps.Logger,
	})
}

func (m *Metric) Name() string {
	return m.name
}

func (m *Metric) Config() sr.MetricConfig {
	return Config
}

// Universe returns the article count used as the PMI universe.
func (m *Metric) Universe() int {
	return m.universe
}

// Similarity scores the ordered pair (a, b).
func (m *Metric) Similarity(ctx context.Context, a, b concept.Concept) (sr.Result, error) {
	ex, err := m.Explain(ctx, a, b)
	if err != nil {
		return sr.Result{}, err
	}
	return ex.Result, nil
}

// ScoreCandidate is Similarity with an unknown b reported as ErrNotFound.
func (m *Metric) ScoreCandidate(ctx context.Context, a, b concept.Concept) (sr.Result, error) {
	ex, err := m.explain(ctx, a, b, true)
	if err != nil {
		return sr.Result{}, err
	}
	return ex.Result, nil
}

// Explain scores (a, b) and reports the pmi, boost and distance terms.
func (m *Metric) Explain(ctx context.Context, a, b concept.Concept) (sr.Explanation, error) {
	return m.explain(ctx, a, b, false)
}

// explain computes the score terms. With strictB an unknown b fails with
// ErrNotFound instead of yielding an invalid result.
func (m *Metric) explain(ctx context.Context, a, b concept.Concept, strictB bool) (sr.Explanation, error) {
	if a == b {
		return sr.Explanation{Result: sr.Score(1.0), Reason: "identical concepts"}, nil
	}
	if a.Lang != m.lang || b.Lang != m.lang {
		return sr.Explanation{Result: sr.Invalid(), Reason: "language mismatch"}, nil
	}
	if m.filter.IsDisambiguation(a) || m.filter.IsDisambiguation(b) {
		return sr.Explanation{Result: sr.Invalid(), Reason: "disambiguation page"}, nil
	}

	ids1, err := m.graph.Inbound(ctx, a)
	if coreerrors.IsNotFound(err) {
		return sr.Explanation{Result: sr.Invalid(), Reason: "unknown concept " + a.String()}, nil
	}
	if err != nil {
		return sr.Explanation{}, err
	}
	ids2, err := m.graph.Inbound(ctx, b)
	if coreerrors.IsNotFound(err) && !strictB {
		return sr.Explanation{Result: sr.Invalid(), Reason: "unknown concept " + b.String()}, nil
	}
	if err != nil {
		return sr.Explanation{}, err
	}

	shared := ids1.IntersectCount(ids2)
	if shared == 0 {
		return sr.Explanation{
			Result: sr.Score(0.0),
			Terms:  map[string]float64{"shared": 0},
			Reason: "no shared inbound links",
		}, nil
	}

	pmi := float64(m.universe) * float64(shared) / (float64(ids1.Len()) * float64(ids2.Len()))
	boost := math.Log(float64(shared))
	distance, err := m.distance(ctx, a, b)
	if err != nil {
		return sr.Explanation{}, err
	}
	score := pmi * boost / float64(distance)

	m.logger.Debug("synrank terms",
		slog.String("a", a.String()),
		slog.String("b", b.String()),
		slog.Float64("pmi", pmi),
		slog.Float64("boost", boost),
		slog.Int("distance", distance),
		slog.Float64("score", score))

	return sr.Explanation{
		Result: sr.Score(score),
		Terms: map[string]float64{
			"shared":   float64(shared),
			"pmi":      pmi,
			"boost":    boost,
			"distance": float64(distance),
		},
	}, nil
}

// distance is the outbound BFS level at which b is first reached from a, or
// UnreachableDistance. It is directional: distance(a, b) and distance(b, a)
// may differ.
func (m *Metric) distance(ctx context.Context, a, b concept.Concept) (int, error) {
	level, found, err := graph.OutboundDistance(ctx, m.graph, a, b, MaxDepth)
	if err != nil {
		return 0, err
	}
	if !found {
		return UnreachableDistance, nil
	}
	return level, nil
}

// MostSimilar ranks restrictTo against query with an exact pairwise scan.
// SynRank has no candidate generator, so a nil restrictTo is unsupported.
func (m *Metric) MostSimilar(ctx context.Context, query concept.Concept, k int, restrictTo *concept.IDSet) (sr.RankedList, error) {
	if restrictTo == nil {
		return nil, coreerrors.Unsupported("%s: mostSimilar requires a candidate set", m.name)
	}
	return sr.ScanRestricted(ctx, m, query, k, *restrictTo, sr.ScanOptions{
		Workers: m.workers,
		Logger:  m.logger,
	})
}

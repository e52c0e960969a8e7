// Package milnewitten implements the Milne-Witten inlink relatedness measure,
// a normalized Google-distance over the sets of articles linking to each
// concept.
package milnewitten

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/adalundhe/linkrel/core/concept"
	"github.com/adalundhe/linkrel/core/disambig"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/graph"
	"github.com/adalundhe/linkrel/core/sr"
)

const (
	Type = "milnewitten"

	DefaultMaxCandidates = 5000
	DefaultMaxLinkers    = 1000
)

var Config = sr.MetricConfig{MinScore: 0, MaxScore: 1}

type Options struct {
	Name string

	// MaxCandidates bounds the co-citation candidate pool used by
	// MostSimilar when no restriction set is given.
	MaxCandidates int

	// MaxLinkers bounds how many inbound linkers of the query are expanded
	// when gathering candidates.
	MaxLinkers int

	Workers int
	Logger  *slog.Logger
}

type Metric struct {
	name          string
	lang          concept.Language
	graph         graph.ConceptGraph
	filter        *disambig.Filter
	universe      int
	maxCandidates int
	maxLinkers    int
	workers       int
	logger        *slog.Logger
}

func New(ctx context.Context, lang concept.Language, g graph.ConceptGraph, filter *disambig.Filter, opts Options) (*Metric, error) {
	if g == nil || filter == nil {
		return nil, coreerrors.Configuration("milnewitten requires a concept graph and a disambiguation filter", nil)
	}
	if filter.Language() != lang {
		return nil, coreerrors.Configuration(
			fmt.Sprintf("disambiguation filter for %s used with %s", filter.Language(), lang), nil)
	}
	universe, err := g.ConceptCount(ctx, lang)
	if err != nil {
		return nil, fmt.Errorf("universe size: %w", err)
	}

	m := &Metric{
		name:          opts.Name,
		lang:          lang,
		graph:         g,
		filter:        filter,
		universe:      universe,
		maxCandidates: opts.MaxCandidates,
		maxLinkers:    opts.MaxLinkers,
		workers:       opts.Workers,
		logger:        opts.Logger,
	}
	if m.name == "" {
		m.name = Type
	}
	if m.maxCandidates <= 0 {
		m.maxCandidates = DefaultMaxCandidates
	}
	if m.maxLinkers <= 0 {
		m.maxLinkers = DefaultMaxLinkers
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// Factory reads the optional "max_candidates" and "max_linkers" params.
func Factory(ctx context.Context, spec sr.Spec, deps sr.Deps) (sr.Metric, error) {
	if deps.Filters == nil {
		return nil, coreerrors.Configuration("milnewitten requires a disambiguation filter source", nil)
	}
	filter, err := deps.Filters.Filter(ctx, spec.Language, spec.DisambiguationCategory)
	if err != nil {
		return nil, err
	}
	return New(ctx, spec.Language, deps.Graph, filter, Options{
		Name:          spec.Name,
		MaxCandidates: int(spec.Param("max_candidates", DefaultMaxCandidates)),
		MaxLinkers:    int(spec.Param("max_linkers", DefaultMaxLinkers)),
		Workers:       deps.Workers,
		Logger:        deps.Logger,
	})
}

func (m *Metric) Name() string            { return m.name }
func (m *Metric) Config() sr.MetricConfig { return Config }

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

func (m *Metric) Explain(ctx context.Context, a, b concept.Concept) (sr.Explanation, error) {
	return m.explain(ctx, a, b, false)
}

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

	inA, err := m.graph.Inbound(ctx, a)
	if coreerrors.IsNotFound(err) {
		return sr.Explanation{Result: sr.Invalid(), Reason: "unknown concept " + a.String()}, nil
	}
	if err != nil {
		return sr.Explanation{}, err
	}
	inB, err := m.graph.Inbound(ctx, b)
	if coreerrors.IsNotFound(err) && !strictB {
		return sr.Explanation{Result: sr.Invalid(), Reason: "unknown concept " + b.String()}, nil
	}
	if err != nil {
		return sr.Explanation{}, err
	}

	shared := inA.IntersectCount(inB)
	score := relatedness(inA.Len(), inB.Len(), shared, m.universe)
	return sr.Explanation{
		Result: sr.Score(score),
		Terms: map[string]float64{
			"inlinks_a": float64(inA.Len()),
			"inlinks_b": float64(inB.Len()),
			"shared":    float64(shared),
			"universe":  float64(m.universe),
		},
	}, nil
}

// relatedness is 1 - (log max - log shared) / (log N - log min), clamped to
// [0, 1]. No shared linkers scores 0.
func relatedness(sizeA, sizeB, shared, universe int) float64 {
	if shared == 0 {
		return 0
	}
	hi, lo := float64(max(sizeA, sizeB)), float64(min(sizeA, sizeB))
	num := math.Log(hi) - math.Log(float64(shared))
	if num <= 0 {
		return 1
	}
	den := math.Log(float64(universe)) - math.Log(lo)
	if den <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, 1-num/den))
}

// MostSimilar scans restrictTo when given. Otherwise it gathers candidates
// that share an inbound linker with query, keeps the MaxCandidates most
// co-cited ones, and scans those exactly.
func (m *Metric) MostSimilar(ctx context.Context, query concept.Concept, k int, restrictTo *concept.IDSet) (sr.RankedList, error) {
	opts := sr.ScanOptions{Workers: m.workers, Logger: m.logger}
	if restrictTo != nil {
		return sr.ScanRestricted(ctx, m, query, k, *restrictTo, opts)
	}
	if m.filter.IsDisambiguation(query) {
		return sr.RankedList{}, nil
	}

	candidates, err := m.coCited(ctx, query)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("co-citation candidates",
		slog.String("query", query.String()),
		slog.Int("candidates", candidates.Len()))
	return sr.ScanRestricted(ctx, m, query, k, candidates, opts)
}

func (m *Metric) coCited(ctx context.Context, query concept.Concept) (concept.IDSet, error) {
	linkers, err := m.graph.Inbound(ctx, query)
	if coreerrors.IsNotFound(err) {
		return concept.IDSet{}, nil
	}
	if err != nil {
		return concept.IDSet{}, err
	}

	ids := linkers.IDs()
	if len(ids) > m.maxLinkers {
		m.logger.Info("co-citation linkers truncated, ranking is approximate",
			slog.String("query", query.String()),
			slog.Int("linkers", len(ids)),
			slog.Int("max_linkers", m.maxLinkers))
		ids = ids[:m.maxLinkers]
	}

	counts := make(map[concept.LocalID]int)
	for _, linker := range ids {
		out, err := m.graph.Outbound(ctx, query.WithID(linker))
		if coreerrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return concept.IDSet{}, err
		}
		for _, id := range out.IDs() {
			if id != query.ID {
				counts[id]++
			}
		}
	}

	type cited struct {
		id    concept.LocalID
		count int
	}
	ranked := make([]cited, 0, len(counts))
	for id, n := range counts {
		ranked = append(ranked, cited{id: id, count: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > m.maxCandidates {
		ranked = ranked[:m.maxCandidates]
	}

	ids = make([]concept.LocalID, len(ranked))
	for i, c := range ranked {
		ids[i] = c.id
	}
	return concept.NewIDSet(ids...), nil
}

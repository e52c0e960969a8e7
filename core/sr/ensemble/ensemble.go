// Package ensemble combines several relatedness metrics into one by taking a
// weighted mean of their min-max normalized scores.
package ensemble

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/stat"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/sr"
)

const (
	Type = "ensemble"

	// DefaultOverfetch multiplies k when asking members for rankings, so a
	// candidate ranked low by one member can still surface in the blend.
	DefaultOverfetch = 3
)

var Config = sr.MetricConfig{MinScore: 0, MaxScore: 1}

// Member is a weighted metric participating in the ensemble.
type Member struct {
	Name   string
	Metric sr.Metric
	Weight float64
}

type Options struct {
	Overfetch int
	Logger    *slog.Logger
}

// Ensemble is immutable after construction and safe for concurrent use.
type Ensemble struct {
	name      string
	members   []Member
	overfetch int
	logger    *slog.Logger
}

// New returns an ensemble over members, which keep their order.
func New(name string, members []Member, opts Options) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, coreerrors.Configuration(fmt.Sprintf("ensemble %q has no members", name), nil)
	}
	for _, m := range members {
		if m.Metric == nil {
			return nil, coreerrors.Configuration(fmt.Sprintf("ensemble %q: member %q is nil", name, m.Name), nil)
		}
		if !(m.Weight > 0) {
			return nil, coreerrors.Configuration(
				fmt.Sprintf("ensemble %q: member %q has non-positive weight %v", name, m.Name, m.Weight), nil)
		}
	}
	if name == "" {
		name = Type
	}
	e := &Ensemble{
		name:      name,
		members:   append([]Member(nil), members...),
		overfetch: opts.Overfetch,
		logger:    opts.Logger,
	}
	if e.overfetch <= 0 {
		e.overfetch = DefaultOverfetch
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Factory builds every member through the registry before returning, so
// member construction cost is paid once.
func Factory(ctx context.Context, spec sr.Spec, deps sr.Deps) (sr.Metric, error) {
	if deps.Registry == nil {
		return nil, coreerrors.Configuration("ensemble requires a metric registry", nil)
	}
	members := make([]Member, 0, len(spec.Members))
	for _, ms := range spec.Members {
		m, err := deps.Registry.Build(ctx, ms.Name, spec.Language)
		if err != nil {
			return nil, fmt.Errorf("ensemble member %q: %w", ms.Name, err)
		}
		members = append(members, Member{Name: ms.Name, Metric: m, Weight: ms.Weight})
	}
	return New(spec.Name, members, Options{
		Overfetch: int(spec.Param("overfetch", DefaultOverfetch)),
		Logger:    deps.Logger,
	})
}

func (e *Ensemble) Name() string            { return e.name }
func (e *Ensemble) Config() sr.MetricConfig { return Config }

// Members returns the member list in configuration order.
func (e *Ensemble) Members() []Member {
	return append([]Member(nil), e.members...)
}

type memberResult struct {
	index  int
	result sr.Result
	list   sr.RankedList
	err    error
}

// fanOut runs fn for every member concurrently and returns the results in
// member order.
func (e *Ensemble) fanOut(fn func(m Member) memberResult) []memberResult {
	ch := make(chan memberResult, len(e.members))
	for i, m := range e.members {
		i, m := i, m
		go func() {
			r := fn(m)
			r.index = i
			ch <- r
		}()
	}
	results := make([]memberResult, len(e.members))
	for range e.members {
		r := <-ch
		results[r.index] = r
	}
	return results
}

// Similarity is the weighted mean of the valid members' normalized scores.
// Invalid members are left out of the mean; if every member is invalid the
// result is invalid. The first member error, in member order, is returned.
func (e *Ensemble) Similarity(ctx context.Context, a, b concept.Concept) (sr.Result, error) {
	return e.blend(ctx, a, b, sr.Metric.Similarity)
}

// ScoreCandidate is Similarity with members scoring through
// sr.ScoreCandidate, so an unknown b surfaces as ErrNotFound.
func (e *Ensemble) ScoreCandidate(ctx context.Context, a, b concept.Concept) (sr.Result, error) {
	return e.blend(ctx, a, b, func(m sr.Metric, ctx context.Context, a, b concept.Concept) (sr.Result, error) {
		return sr.ScoreCandidate(ctx, m, a, b)
	})
}

type scoreFunc func(m sr.Metric, ctx context.Context, a, b concept.Concept) (sr.Result, error)

func (e *Ensemble) blend(ctx context.Context, a, b concept.Concept, score scoreFunc) (sr.Result, error) {
	results := e.fanOut(func(m Member) memberResult {
		res, err := score(m.Metric, ctx, a, b)
		return memberResult{result: res, err: err}
	})

	values := make([]float64, 0, len(results))
	weights := make([]float64, 0, len(results))
	for i, r := range results {
		if r.err != nil {
			return sr.Result{}, fmt.Errorf("%s: member %q: %w", e.name, e.members[i].Name, r.err)
		}
		if !r.result.Valid {
			continue
		}
		m := e.members[i]
		values = append(values, m.Metric.Config().Normalize(r.result.Value))
		weights = append(weights, m.Weight)
	}
	if len(values) == 0 {
		return sr.Invalid(), nil
	}
	return sr.Score(stat.Mean(values, weights)), nil
}

// MostSimilar blends the rankings of the members that support it. A
// candidate missing from a supporting member's ranking counts as 0 for that
// member. Fails with ErrUnsupported when no member supports the query.
func (e *Ensemble) MostSimilar(ctx context.Context, query concept.Concept, k int, restrictTo *concept.IDSet) (sr.RankedList, error) {
	fetch := k * e.overfetch
	if k <= 0 {
		fetch = 0
	}
	results := e.fanOut(func(m Member) memberResult {
		list, err := m.Metric.MostSimilar(ctx, query, fetch, restrictTo)
		return memberResult{list: list, err: err}
	})

	var supporting []int
	for i, r := range results {
		switch {
		case coreerrors.IsUnsupported(r.err):
			e.logger.Debug("member does not support mostSimilar",
				slog.String("ensemble", e.name),
				slog.String("member", e.members[i].Name))
		case r.err != nil:
			return nil, fmt.Errorf("%s: member %q: %w", e.name, e.members[i].Name, r.err)
		default:
			supporting = append(supporting, i)
		}
	}
	if len(supporting) == 0 {
		return nil, coreerrors.Unsupported("%s: no member supports mostSimilar", e.name)
	}

	normalized := make([]map[concept.LocalID]float64, len(supporting))
	seen := make(map[concept.LocalID]struct{})
	for j, i := range supporting {
		cfg := e.members[i].Metric.Config()
		scores := make(map[concept.LocalID]float64, len(results[i].list))
		for _, entry := range results[i].list {
			scores[entry.ID] = cfg.Normalize(entry.Score)
			seen[entry.ID] = struct{}{}
		}
		normalized[j] = scores
	}

	weights := make([]float64, len(supporting))
	for j, i := range supporting {
		weights[j] = e.members[i].Weight
	}
	entries := make([]sr.Entry, 0, len(seen))
	values := make([]float64, len(supporting))
	for id := range seen {
		for j := range supporting {
			values[j] = normalized[j][id]
		}
		entries = append(entries, sr.Entry{ID: id, Score: stat.Mean(values, weights)})
	}
	return sr.Rank(entries, k, query.ID), nil
}

package search

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/sr"
)

// DefaultResolveLimit is the number of concepts a text query resolves to.
const DefaultResolveLimit = 3

type Options struct {
	// ResolveLimit bounds the concepts a text query resolves to.
	ResolveLimit int

	// Workers bounds concurrent scoring. Zero means runtime.NumCPU().
	Workers int

	// OnSkip observes candidates skipped because they were not found.
	OnSkip func(id concept.LocalID, err error)

	Logger *slog.Logger
}

// Searcher ranks concepts against a query with one or more metrics. With a
// single metric, scores are reported on that metric's own scale; with
// several, each score is normalized with the metric's MetricConfig before
// taking the best.
type Searcher struct {
	metrics      []sr.Metric
	resolver     Resolver
	resolveLimit int
	workers      int
	onSkip       func(concept.LocalID, error)
	logger       *slog.Logger
}

// NewSearcher returns a searcher over metrics. resolver may be nil when only
// concept queries are issued.
func NewSearcher(resolver Resolver, metrics []sr.Metric, opts Options) (*Searcher, error) {
	if len(metrics) == 0 {
		return nil, coreerrors.Configuration("searcher requires at least one metric", nil)
	}
	for i, m := range metrics {
		if m == nil {
			return nil, coreerrors.Configuration(fmt.Sprintf("searcher metric %d is nil", i), nil)
		}
	}
	s := &Searcher{
		metrics:      append([]sr.Metric(nil), metrics...),
		resolver:     resolver,
		resolveLimit: opts.ResolveLimit,
		workers:      opts.Workers,
		onSkip:       opts.OnSkip,
		logger:       opts.Logger,
	}
	if s.resolveLimit <= 0 {
		s.resolveLimit = DefaultResolveLimit
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Resolve returns the concepts a query stands for. Text that resolves to
// nothing fails with ErrNotFound.
func (s *Searcher) Resolve(ctx context.Context, q Query) ([]concept.Concept, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !q.IsText() {
		return []concept.Concept{q.Concept}, nil
	}
	if s.resolver == nil {
		return nil, coreerrors.Unsupported("text queries need a resolver")
	}
	concepts, err := s.resolver.Resolve(ctx, q.Lang, q.Text, s.resolveLimit)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", q, err)
	}
	if len(concepts) == 0 {
		return nil, coreerrors.NotFound("no concept matches %s", q)
	}
	s.logger.Debug("resolved text query",
		slog.String("query", q.String()),
		slog.Int("concepts", len(concepts)))
	return concepts, nil
}

// TopK returns the k candidates most related to q. With a pool, every pool
// member is scored exactly against every resolved query concept; without
// one, each metric chooses its own candidates and metrics that cannot fail
// with ErrUnsupported, which is returned only when no metric can. Query
// concepts never appear in the result.
func (s *Searcher) TopK(ctx context.Context, q Query, k int, pool *concept.IDSet) (sr.RankedList, error) {
	queries, err := s.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	exclude := make([]concept.LocalID, len(queries))
	for i, c := range queries {
		exclude[i] = c.ID
	}

	if pool != nil {
		return s.scanPool(ctx, queries, k, *pool, exclude)
	}
	return s.delegate(ctx, queries, k, exclude)
}

func (s *Searcher) normalize(m sr.Metric, v float64) float64 {
	if len(s.metrics) == 1 {
		return v
	}
	return m.Config().Normalize(v)
}

func (s *Searcher) scanPool(ctx context.Context, queries []concept.Concept, k int, pool concept.IDSet, exclude []concept.LocalID) (sr.RankedList, error) {
	lang := queries[0].Lang
	score := func(ctx context.Context, id concept.LocalID) (sr.Result, error) {
		best := sr.Invalid()
		candidate := concept.New(lang, id)
		for _, query := range queries {
			for _, m := range s.metrics {
				res, err := sr.ScoreCandidate(ctx, m, query, candidate)
				if err != nil {
					return sr.Result{}, fmt.Errorf("%s: %w", m.Name(), err)
				}
				if !res.Valid {
					continue
				}
				v := s.normalize(m, res.Value)
				if !best.Valid || v > best.Value {
					best = sr.Score(v)
				}
			}
		}
		return best, nil
	}
	return sr.Scan(ctx, pool.IDs(), k, score, sr.ScanOptions{
		Workers: s.workers,
		Exclude: exclude,
		OnSkip:  s.onSkip,
		Logger:  s.logger,
	})
}

func (s *Searcher) delegate(ctx context.Context, queries []concept.Concept, k int, exclude []concept.LocalID) (sr.RankedList, error) {
	type task struct {
		query  concept.Concept
		metric sr.Metric
	}
	tasks := make([]task, 0, len(queries)*len(s.metrics))
	for _, q := range queries {
		for _, m := range s.metrics {
			tasks = append(tasks, task{query: q, metric: m})
		}
	}

	// Each query concept is excluded from the others' rankings as well, so
	// ask for enough extra entries to fill k afterwards.
	fetch := k
	if k > 0 {
		fetch = k + len(queries) - 1
	}

	lists := make([]sr.RankedList, len(tasks))
	unsupported := make([]bool, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	if s.workers > 0 {
		g.SetLimit(s.workers)
	}
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			list, err := t.metric.MostSimilar(gctx, t.query, fetch, nil)
			if coreerrors.IsUnsupported(err) {
				unsupported[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", t.metric.Name(), err)
			}
			lists[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var entries []sr.Entry
	supported := 0
	for i, t := range tasks {
		if unsupported[i] {
			s.logger.Debug("metric does not rank without a candidate pool",
				slog.String("metric", t.metric.Name()))
			continue
		}
		supported++
		for _, e := range lists[i] {
			entries = append(entries, sr.Entry{ID: e.ID, Score: s.normalize(t.metric, e.Score)})
		}
	}
	if supported == 0 {
		return nil, coreerrors.Unsupported("no metric can rank without a candidate pool")
	}
	return sr.Rank(entries, k, exclude...), nil
}

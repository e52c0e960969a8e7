package sr

import (
	"context"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

// ScoreFunc scores a single candidate.
type ScoreFunc func(ctx context.Context, candidate concept.LocalID) (Result, error)

// ScanOptions configures a candidate scan.
type ScanOptions struct {
	// Workers bounds the number of concurrent scorers. Zero means
	// runtime.NumCPU().
	Workers int

	// Exclude lists ids never ranked, typically the query concept.
	Exclude []concept.LocalID

	// OnSkip is called for each candidate skipped because it was not found.
	OnSkip func(id concept.LocalID, err error)

	Logger *slog.Logger
}

func (o ScanOptions) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

// Scan scores every candidate on a bounded worker pool and returns the top
// k valid results. Candidates failing with a NotFound error are skipped;
// any other error cancels the scan. Partial results are merged at a single
// point after all workers finish, so the output is deterministic.
func Scan(ctx context.Context, candidates []concept.LocalID, k int, score ScoreFunc, opts ScanOptions) (RankedList, error) {
	if len(candidates) == 0 {
		return RankedList{}, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workers := opts.workers()
	chunks := chunk(candidates, workers*4)
	partials := make([][]Entry, len(chunks))
	skipped := make([][]skip, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, ids := range chunks {
		i, ids := i, ids
		g.Go(func() error {
			var local []Entry
			for _, id := range ids {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := score(gctx, id)
				if coreerrors.IsNotFound(err) {
					skipped[i] = append(skipped[i], skip{id: id, err: err})
					continue
				}
				if err != nil {
					return err
				}
				if res.Valid {
					local = append(local, Entry{ID: id, Score: res.Value})
				}
			}
			partials[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Entry
	for i := range partials {
		merged = append(merged, partials[i]...)
		for _, s := range skipped[i] {
			logger.Debug("skipping candidate",
				slog.Int64("candidate", int64(s.id)),
				slog.String("error", s.err.Error()))
			if opts.OnSkip != nil {
				opts.OnSkip(s.id, s.err)
			}
		}
	}
	return Rank(merged, k, opts.Exclude...), nil
}

type skip struct {
	id  concept.LocalID
	err error
}

// chunk splits ids into at most n contiguous slices of near-equal size.
func chunk(ids []concept.LocalID, n int) [][]concept.LocalID {
	if n <= 0 {
		n = 1
	}
	if n > len(ids) {
		n = len(ids)
	}
	size := (len(ids) + n - 1) / n
	out := make([][]concept.LocalID, 0, n)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

// ScanRestricted ranks the restriction set against query with
// ScoreCandidate. It is the exact fallback metrics use for MostSimilar when
// the caller supplies candidates; unknown candidates are skipped.
func ScanRestricted(ctx context.Context, m Metric, query concept.Concept, k int, restrictTo concept.IDSet, opts ScanOptions) (RankedList, error) {
	opts.Exclude = append(slices.Clone(opts.Exclude), query.ID)
	return Scan(ctx, restrictTo.IDs(), k, func(ctx context.Context, id concept.LocalID) (Result, error) {
		return ScoreCandidate(ctx, m, query, query.WithID(id))
	}, opts)
}

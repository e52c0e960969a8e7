package synrank

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/linkrel/core/concept"
	"github.com/adalundhe/linkrel/core/disambig"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/graph"
	"github.com/adalundhe/linkrel/core/sr"
)

func en(id concept.LocalID) concept.Concept {
	return concept.New("en", id)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture:
//
//	5,6,7 -> 1     5,6 -> 2     1 -> 3 -> 2     8 -> 4
//
// plus a disambiguation page 9 that is not counted as an article.
func fixture() *graph.Memory {
	return graph.NewBuilder().
		AddLink(en(5), en(1)).
		AddLink(en(6), en(1)).
		AddLink(en(7), en(1)).
		AddLink(en(5), en(2)).
		AddLink(en(6), en(2)).
		AddLink(en(1), en(3)).
		AddLink(en(3), en(2)).
		AddLink(en(8), en(4)).
		AddNonArticle(en(9)).
		Build()
}

func newMetric(t *testing.T, g graph.ConceptGraph, dabs ...concept.LocalID) *Metric {
	t.Helper()
	m, err := New(context.Background(), "en", g, disambig.NewFilter("en", concept.NewIDSet(dabs...)), Options{
		Workers: 2,
		Logger:  quietLogger(),
	})
	require.NoError(t, err)
	return m
}

func TestSimilarity_Identity(t *testing.T) {
	m := newMetric(t, fixture(), 9)
	for _, id := range []concept.LocalID{1, 2, 4, 8} {
		res, err := m.Similarity(context.Background(), en(id), en(id))
		require.NoError(t, err)
		assert.Equal(t, sr.Score(1.0), res)
	}
}

func TestSimilarity_DisambiguationExcluded(t *testing.T) {
	m := newMetric(t, fixture(), 9, 2)
	ctx := context.Background()

	for _, x := range []concept.LocalID{1, 3, 4, 99} {
		res, err := m.Similarity(ctx, en(9), en(x))
		require.NoError(t, err)
		assert.False(t, res.Valid)

		res, err = m.Similarity(ctx, en(x), en(2))
		require.NoError(t, err)
		assert.False(t, res.Valid)
	}
}

func TestSimilarity_BothDisambiguationInvalidRegardlessOfGraph(t *testing.T) {
	// 1 and 2 share inbound linkers, but both are filtered.
	m := newMetric(t, fixture(), 1, 2)
	res, err := m.Similarity(context.Background(), en(1), en(2))
	require.NoError(t, err)
	assert.Equal(t, sr.Invalid(), res)
}

func TestSimilarity_NoOverlapIsValidZero(t *testing.T) {
	m := newMetric(t, fixture())
	res, err := m.Similarity(context.Background(), en(1), en(4))
	require.NoError(t, err)
	assert.Equal(t, sr.Score(0.0), res)
}

func TestSimilarity_UnknownConceptIsInvalid(t *testing.T) {
	m := newMetric(t, fixture())
	ctx := context.Background()

	res, err := m.Similarity(ctx, en(1), en(99))
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = m.Similarity(ctx, en(99), en(1))
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = m.Similarity(ctx, en(1), concept.New("de", 2))
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestSimilarity_LogOneBoostIsZero(t *testing.T) {
	// Concepts {A,B,C,D}; C and D link to A, C links to B; universe 4.
	a, b, c, d := en(1), en(2), en(3), en(4)
	g := graph.NewBuilder().
		AddLink(c, a).
		AddLink(d, a).
		AddLink(c, b).
		Build()

	m := newMetric(t, g)
	assert.Equal(t, 4, m.Universe())

	ex, err := m.Explain(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, sr.Score(0.0), ex.Result)
	assert.Equal(t, 1.0, ex.Terms["shared"])
	assert.Equal(t, 2.0, ex.Terms["pmi"])
	assert.Equal(t, 0.0, ex.Terms["boost"])
}

func TestSimilarity_Formula(t *testing.T) {
	m := newMetric(t, fixture(), 9)
	ctx := context.Background()

	// inbound(1) = {5,6,7}, inbound(2) = {3,5,6}, shared = {5,6}, universe 8.
	pmi := 8.0 * 2 / (3 * 3)
	boost := math.Log(2)

	ex, err := m.Explain(ctx, en(1), en(2))
	require.NoError(t, err)
	assert.True(t, ex.Result.Valid)
	assert.InDelta(t, pmi, ex.Terms["pmi"], 1e-12)
	assert.InDelta(t, boost, ex.Terms["boost"], 1e-12)
	assert.Equal(t, 2.0, ex.Terms["distance"], "1 -> 3 -> 2")
	assert.InDelta(t, pmi*boost/2, ex.Result.Value, 1e-12)
}

func TestSimilarity_DistanceIsDirectional(t *testing.T) {
	m := newMetric(t, fixture())
	ctx := context.Background()

	forward, err := m.Explain(ctx, en(1), en(2))
	require.NoError(t, err)
	backward, err := m.Explain(ctx, en(2), en(1))
	require.NoError(t, err)

	// Every term except the distance is symmetric.
	assert.Equal(t, forward.Terms["pmi"], backward.Terms["pmi"])
	assert.Equal(t, forward.Terms["boost"], backward.Terms["boost"])
	assert.Equal(t, 2.0, forward.Terms["distance"])
	assert.Equal(t, float64(UnreachableDistance), backward.Terms["distance"], "2 has no outbound path to 1")
	assert.Greater(t, forward.Result.Value, backward.Result.Value)
}

func TestSimilarity_DistanceIsBounded(t *testing.T) {
	// A long chain 1 -> 2 -> ... -> 8, with a shared linker 100 into every
	// node so every pair has a nonzero score.
	b := graph.NewBuilder()
	for i := concept.LocalID(1); i < 8; i++ {
		b.AddLink(en(i), en(i+1))
	}
	for i := concept.LocalID(1); i <= 8; i++ {
		b.AddLink(en(100), en(i))
		b.AddLink(en(101), en(i))
	}
	m := newMetric(t, b.Build())
	ctx := context.Background()

	allowed := map[float64]bool{1: true, 2: true, 3: true, UnreachableDistance: true}
	for i := concept.LocalID(1); i <= 8; i++ {
		for j := concept.LocalID(1); j <= 8; j++ {
			if i == j {
				continue
			}
			ex, err := m.Explain(ctx, en(i), en(j))
			require.NoError(t, err)
			d := ex.Terms["distance"]
			assert.True(t, allowed[d], "distance(%d,%d) = %v", i, j, d)
			if j > i && j-i <= MaxDepth {
				assert.Equal(t, float64(j-i), d)
			}
		}
	}
}

func TestMostSimilar(t *testing.T) {
	m := newMetric(t, fixture(), 9)
	ctx := context.Background()

	_, err := m.MostSimilar(ctx, en(1), 5, nil)
	assert.True(t, coreerrors.IsUnsupported(err))

	restrict := concept.NewIDSet(1, 2, 3, 4, 9, 99)
	got, err := m.MostSimilar(ctx, en(1), 5, &restrict)
	require.NoError(t, err)
	assert.Equal(t, []concept.LocalID{2, 3, 4}, got.IDs(), "invalid candidates and the query are dropped; ties by id")

	again, err := m.MostSimilar(ctx, en(1), 5, &restrict)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	top, err := m.MostSimilar(ctx, en(1), 1, &restrict)
	require.NoError(t, err)
	assert.Equal(t, []concept.LocalID{2}, top.IDs())
}

func TestScoreCandidate_UnknownCandidateIsNotFound(t *testing.T) {
	m := newMetric(t, fixture(), 9)
	ctx := context.Background()

	_, err := m.ScoreCandidate(ctx, en(1), en(99))
	assert.True(t, coreerrors.IsNotFound(err))

	res, err := m.ScoreCandidate(ctx, en(99), en(1))
	require.NoError(t, err)
	assert.False(t, res.Valid, "an unknown query stays invalid")

	res, err = m.ScoreCandidate(ctx, en(1), en(2))
	require.NoError(t, err)
	want, err := m.Similarity(ctx, en(1), en(2))
	require.NoError(t, err)
	assert.Equal(t, want, res)
}

func TestMostSimilar_ReportsUnknownCandidates(t *testing.T) {
	m := newMetric(t, fixture(), 9)
	restrict := concept.NewIDSet(2, 3, 98, 99)

	var skipped []concept.LocalID
	got, err := sr.ScanRestricted(context.Background(), m, en(1), 5, restrict, sr.ScanOptions{
		Workers: 1,
		OnSkip: func(id concept.LocalID, err error) {
			assert.True(t, coreerrors.IsNotFound(err))
			skipped = append(skipped, id)
		},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, []concept.LocalID{2, 3}, got.IDs())
	assert.Equal(t, []concept.LocalID{98, 99}, skipped)
}

type failingGraph struct {
	graph.ConceptGraph
	err error
}

func (f failingGraph) Inbound(context.Context, concept.Concept) (concept.IDSet, error) {
	return concept.IDSet{}, f.err
}

func TestSimilarity_StoreErrorsPropagate(t *testing.T) {
	boom := errors.New("database is locked")
	m := newMetric(t, failingGraph{ConceptGraph: fixture(), err: boom})

	_, err := m.Similarity(context.Background(), en(1), en(2))
	assert.ErrorIs(t, err, boom)
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, "en", nil, disambig.NewFilter("en", concept.IDSet{}), Options{})
	assert.True(t, coreerrors.IsConfiguration(err))

	_, err = New(ctx, "en", fixture(), nil, Options{})
	assert.True(t, coreerrors.IsConfiguration(err))

	_, err = New(ctx, "en", fixture(), disambig.NewFilter("de", concept.IDSet{}), Options{})
	assert.True(t, coreerrors.IsConfiguration(err))
}

type staticFilters map[concept.Language]*disambig.Filter

func (s staticFilters) Filter(_ context.Context, lang concept.Language, _ string) (*disambig.Filter, error) {
	if f, ok := s[lang]; ok {
		return f, nil
	}
	return nil, coreerrors.Configuration("no disambiguation category for "+string(lang), nil)
}

func TestFactory(t *testing.T) {
	reg, err := sr.NewRegistry(sr.Deps{
		Graph:   fixture(),
		Filters: staticFilters{"en": disambig.NewFilter("en", concept.NewIDSet(9))},
		Logger:  quietLogger(),
	}, []sr.Spec{{Name: "synrank", Type: Type}})
	require.NoError(t, err)
	reg.Register(Type, Factory)

	m, err := reg.Build(context.Background(), "synrank", "en")
	require.NoError(t, err)
	assert.Equal(t, "synrank", m.Name())
	assert.Equal(t, Config, m.Config())

	_, err = reg.Build(context.Background(), "synrank", "de")
	assert.True(t, coreerrors.IsConfiguration(err), "a missing category fails construction")
}

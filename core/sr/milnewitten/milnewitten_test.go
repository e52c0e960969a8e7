package milnewitten

import (
	"bytes"
	"context"
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

// Linkers 10..13 cite the topics 1..4:
//
//	10 -> 1,2,3   11 -> 1,2   12 -> 1,3   13 -> 4
//
// and 20 is a disambiguation page linking to 1 and 2.
func fixture() *graph.Memory {
	b := graph.NewBuilder()
	for _, e := range [][2]concept.LocalID{
		{10, 1}, {10, 2}, {10, 3},
		{11, 1}, {11, 2},
		{12, 1}, {12, 3},
		{13, 4},
	} {
		b.AddLink(en(e[0]), en(e[1]))
	}
	b.AddNonArticle(en(20))
	b.AddLink(en(20), en(1))
	return b.Build()
}

func newMetric(t *testing.T, opts Options) *Metric {
	t.Helper()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := New(context.Background(), "en", fixture(), disambig.NewFilter("en", concept.NewIDSet(20)), opts)
	require.NoError(t, err)
	return m
}

func TestRelatedness(t *testing.T) {
	tests := []struct {
		name                   string
		a, b, shared, universe int
		want                   float64
	}{
		{"no overlap", 3, 4, 0, 100, 0},
		{"identical sets", 5, 5, 5, 100, 1},
		{"subset", 2, 4, 2, 100, 1 - (math.Log(4)-math.Log(2))/(math.Log(100)-math.Log(2))},
		{"degenerate universe", 10, 20, 5, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := relatedness(tt.a, tt.b, tt.shared, tt.universe)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestSimilarity(t *testing.T) {
	m := newMetric(t, Options{})
	ctx := context.Background()

	res, err := m.Similarity(ctx, en(1), en(1))
	require.NoError(t, err)
	assert.Equal(t, sr.Score(1), res)

	// inbound(1) = {10,11,12,20}, inbound(2) = {10,11}; 20 is not an article
	// so the universe is 8.
	res, err = m.Similarity(ctx, en(1), en(2))
	require.NoError(t, err)
	want := 1 - (math.Log(4)-math.Log(2))/(math.Log(8)-math.Log(2))
	assert.InDelta(t, want, res.Value, 1e-12)

	res, err = m.Similarity(ctx, en(1), en(4))
	require.NoError(t, err)
	assert.Equal(t, sr.Score(0), res)

	res, err = m.Similarity(ctx, en(20), en(1))
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = m.Similarity(ctx, en(1), en(404))
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestSimilarity_Symmetric(t *testing.T) {
	m := newMetric(t, Options{})
	ctx := context.Background()
	for _, pair := range [][2]concept.LocalID{{1, 2}, {2, 3}, {1, 3}, {3, 4}} {
		ab, err := m.Similarity(ctx, en(pair[0]), en(pair[1]))
		require.NoError(t, err)
		ba, err := m.Similarity(ctx, en(pair[1]), en(pair[0]))
		require.NoError(t, err)
		assert.Equal(t, ab, ba)
	}
}

func TestMostSimilar_CoCitation(t *testing.T) {
	m := newMetric(t, Options{Workers: 2})
	ctx := context.Background()

	got, err := m.MostSimilar(ctx, en(2), 10, nil)
	require.NoError(t, err)

	// Linkers of 2 are 10 and 11; they cite 1 and 3. 4 is never a candidate.
	assert.ElementsMatch(t, []concept.LocalID{1, 3}, got.IDs())
	assert.NotContains(t, got.IDs(), concept.LocalID(2))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}

	again, err := m.MostSimilar(ctx, en(2), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestMostSimilar_MaxCandidates(t *testing.T) {
	m := newMetric(t, Options{MaxCandidates: 1})

	got, err := m.MostSimilar(context.Background(), en(2), 10, nil)
	require.NoError(t, err)
	// 1 is co-cited twice (by 10 and 11), 3 only once.
	assert.Equal(t, []concept.LocalID{1}, got.IDs())
}

func TestMostSimilar_MaxLinkersLogsTruncation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	m, err := New(context.Background(), "en", fixture(), disambig.NewFilter("en", concept.NewIDSet(20)), Options{
		MaxLinkers: 1,
		Logger:     logger,
	})
	require.NoError(t, err)

	// Only linker 10 of {10, 11} is expanded.
	got, err := m.MostSimilar(context.Background(), en(2), 10, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []concept.LocalID{1, 3}, got.IDs())

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "co-citation linkers truncated")
	assert.Contains(t, out, "query=en:2")
	assert.Contains(t, out, "linkers=2")
	assert.Contains(t, out, "max_linkers=1")

	buf.Reset()
	m, err = New(context.Background(), "en", fixture(), disambig.NewFilter("en", concept.NewIDSet(20)), Options{
		MaxLinkers: 2,
		Logger:     logger,
	})
	require.NoError(t, err)
	_, err = m.MostSimilar(context.Background(), en(2), 10, nil)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "truncated")
}

func TestMostSimilar_Restricted(t *testing.T) {
	m := newMetric(t, Options{})
	restrict := concept.NewIDSet(3, 4, 20)

	got, err := m.MostSimilar(context.Background(), en(1), 10, &restrict)
	require.NoError(t, err)
	assert.Equal(t, []concept.LocalID{3, 4}, got.IDs())
}

func TestMostSimilar_DisambiguationOrUnknownQuery(t *testing.T) {
	m := newMetric(t, Options{})

	got, err := m.MostSimilar(context.Background(), en(20), 10, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = m.MostSimilar(context.Background(), en(404), 10, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFactory_Params(t *testing.T) {
	reg, err := sr.NewRegistry(sr.Deps{
		Graph:   fixture(),
		Filters: filterSource{},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, []sr.Spec{{
		Name:   "mw",
		Type:   Type,
		Params: map[string]float64{"max_candidates": 7, "max_linkers": 3},
	}})
	require.NoError(t, err)
	reg.Register(Type, Factory)

	built, err := reg.Build(context.Background(), "mw", "en")
	require.NoError(t, err)
	m := built.(*Metric)
	assert.Equal(t, 7, m.maxCandidates)
	assert.Equal(t, 3, m.maxLinkers)
	assert.Equal(t, "mw", m.Name())

	_, err = New(context.Background(), "en", nil, nil, Options{})
	assert.True(t, coreerrors.IsConfiguration(err))
}

type filterSource struct{}

func (filterSource) Filter(_ context.Context, lang concept.Language, _ string) (*disambig.Filter, error) {
	return disambig.NewFilter(lang, concept.NewIDSet(20)), nil
}

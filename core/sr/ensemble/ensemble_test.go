package ensemble

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/sr"
)

func en(id concept.LocalID) concept.Concept {
	return concept.New("en", id)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubMetric returns a fixed result and ranking.
type stubMetric struct {
	name    string
	result  sr.Result
	ranking sr.RankedList
	cfg     sr.MetricConfig
	err     error
	noRank  bool
}

func (s *stubMetric) Name() string            { return s.name }
func (s *stubMetric) Config() sr.MetricConfig { return s.cfg }

func (s *stubMetric) Similarity(context.Context, concept.Concept, concept.Concept) (sr.Result, error) {
	return s.result, s.err
}

func (s *stubMetric) MostSimilar(_ context.Context, _ concept.Concept, k int, _ *concept.IDSet) (sr.RankedList, error) {
	if s.noRank {
		return nil, coreerrors.Unsupported("%s", s.name)
	}
	if s.err != nil {
		return nil, s.err
	}
	if k > 0 && len(s.ranking) > k {
		return s.ranking[:k], nil
	}
	return s.ranking, nil
}

func newEnsemble(t *testing.T, members ...Member) *Ensemble {
	t.Helper()
	e, err := New("blend", members, Options{Logger: quietLogger()})
	require.NoError(t, err)
	return e
}

func TestSimilarity_WeightedMeanOfNormalizedScores(t *testing.T) {
	syn := &stubMetric{name: "synrank", result: sr.Score(0.55), cfg: sr.MetricConfig{MinScore: 0, MaxScore: 1.1}}
	mw := &stubMetric{name: "mw", result: sr.Score(0.8), cfg: sr.MetricConfig{MinScore: 0, MaxScore: 1}}
	e := newEnsemble(t,
		Member{Name: "synrank", Metric: syn, Weight: 1},
		Member{Name: "mw", Metric: mw, Weight: 3},
	)

	res, err := e.Similarity(context.Background(), en(1), en(2))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.InDelta(t, (1*0.5+3*0.8)/4, res.Value, 1e-12)
}

func TestSimilarity_InvalidMemberIsExcluded(t *testing.T) {
	valid := &stubMetric{name: "a", result: sr.Score(3), cfg: sr.MetricConfig{MinScore: 1, MaxScore: 5}}
	invalid := &stubMetric{name: "b", result: sr.Invalid(), cfg: sr.MetricConfig{MinScore: 0, MaxScore: 1}}
	e := newEnsemble(t,
		Member{Name: "a", Metric: valid, Weight: 2},
		Member{Name: "b", Metric: invalid, Weight: 5},
	)

	res, err := e.Similarity(context.Background(), en(1), en(2))
	require.NoError(t, err)
	assert.Equal(t, sr.Score(valid.cfg.Normalize(3)), res, "equals the remaining member's normalized score")
	assert.InDelta(t, 0.5, res.Value, 1e-12)
}

func TestSimilarity_AllInvalid(t *testing.T) {
	e := newEnsemble(t,
		Member{Name: "a", Metric: &stubMetric{result: sr.Invalid()}, Weight: 1},
		Member{Name: "b", Metric: &stubMetric{result: sr.Invalid()}, Weight: 1},
	)
	res, err := e.Similarity(context.Background(), en(1), en(2))
	require.NoError(t, err)
	assert.Equal(t, sr.Invalid(), res)
}

func TestSimilarity_ClampsOutOfRange(t *testing.T) {
	e := newEnsemble(t,
		Member{Name: "a", Metric: &stubMetric{result: sr.Score(9), cfg: sr.MetricConfig{MaxScore: 1.1}}, Weight: 1},
	)
	res, err := e.Similarity(context.Background(), en(1), en(2))
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Value)
}

func TestSimilarity_MemberErrorAborts(t *testing.T) {
	boom := errors.New("database is locked")
	e := newEnsemble(t,
		Member{Name: "a", Metric: &stubMetric{result: sr.Score(0.1), cfg: Config}, Weight: 1},
		Member{Name: "b", Metric: &stubMetric{err: boom}, Weight: 1},
	)
	_, err := e.Similarity(context.Background(), en(1), en(2))
	assert.ErrorIs(t, err, boom)
}

// strictStub reports every candidate as unknown through ScoreCandidate while
// its Similarity stays invalid.
type strictStub struct{ stubMetric }

func (s *strictStub) ScoreCandidate(_ context.Context, _, c concept.Concept) (sr.Result, error) {
	return sr.Result{}, coreerrors.NotFound("concept %s", c)
}

func TestScoreCandidate_UnknownCandidateSurfaces(t *testing.T) {
	e := newEnsemble(t,
		Member{Name: "a", Metric: &stubMetric{result: sr.Score(0.5), cfg: Config}, Weight: 1},
		Member{Name: "b", Metric: &strictStub{stubMetric{result: sr.Invalid(), cfg: Config}}, Weight: 1},
	)
	ctx := context.Background()

	res, err := e.Similarity(ctx, en(1), en(2))
	require.NoError(t, err)
	assert.Equal(t, sr.Score(0.5), res)

	_, err = e.ScoreCandidate(ctx, en(1), en(2))
	assert.True(t, coreerrors.IsNotFound(err))
}

func TestMostSimilar_BlendsSupportingMembers(t *testing.T) {
	a := &stubMetric{name: "a", cfg: Config, ranking: sr.RankedList{{ID: 5, Score: 1.0}, {ID: 6, Score: 0.5}}}
	b := &stubMetric{name: "b", cfg: sr.MetricConfig{MaxScore: 2}, ranking: sr.RankedList{{ID: 6, Score: 2.0}, {ID: 7, Score: 1.0}}}
	unsupported := &stubMetric{name: "c", noRank: true}

	e := newEnsemble(t,
		Member{Name: "a", Metric: a, Weight: 1},
		Member{Name: "b", Metric: b, Weight: 1},
		Member{Name: "c", Metric: unsupported, Weight: 10},
	)

	got, err := e.MostSimilar(context.Background(), en(1), 3, nil)
	require.NoError(t, err)

	// 5: (1.0 + 0)/2, 6: (0.5 + 1.0)/2, 7: (0 + 0.5)/2
	assert.Equal(t, []concept.LocalID{6, 5, 7}, got.IDs())
	assert.InDelta(t, 0.75, got[0].Score, 1e-12)
	assert.InDelta(t, 0.5, got[1].Score, 1e-12)
	assert.InDelta(t, 0.25, got[2].Score, 1e-12)

	top, err := e.MostSimilar(context.Background(), en(1), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []concept.LocalID{6}, top.IDs())
}

func TestMostSimilar_ExcludesQuery(t *testing.T) {
	a := &stubMetric{name: "a", cfg: Config, ranking: sr.RankedList{{ID: 1, Score: 1}, {ID: 2, Score: 0.4}}}
	e := newEnsemble(t, Member{Name: "a", Metric: a, Weight: 1})

	got, err := e.MostSimilar(context.Background(), en(1), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, []concept.LocalID{2}, got.IDs())
}

func TestMostSimilar_NoSupportingMembers(t *testing.T) {
	e := newEnsemble(t,
		Member{Name: "a", Metric: &stubMetric{noRank: true}, Weight: 1},
		Member{Name: "b", Metric: &stubMetric{noRank: true}, Weight: 1},
	)
	_, err := e.MostSimilar(context.Background(), en(1), 5, nil)
	assert.True(t, coreerrors.IsUnsupported(err))
}

func TestMostSimilar_MemberErrorAborts(t *testing.T) {
	boom := errors.New("ServiceUnavailable")
	e := newEnsemble(t,
		Member{Name: "a", Metric: &stubMetric{noRank: true}, Weight: 1},
		Member{Name: "b", Metric: &stubMetric{err: boom}, Weight: 1},
	)
	_, err := e.MostSimilar(context.Background(), en(1), 5, nil)
	assert.ErrorIs(t, err, boom)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("empty", nil, Options{})
	assert.True(t, coreerrors.IsConfiguration(err))

	_, err = New("zero", []Member{{Name: "a", Metric: &stubMetric{}, Weight: 0}}, Options{})
	assert.True(t, coreerrors.IsConfiguration(err))

	_, err = New("nil", []Member{{Name: "a", Weight: 1}}, Options{})
	assert.True(t, coreerrors.IsConfiguration(err))
}

func TestFactory_BuildsMembersOnce(t *testing.T) {
	builds := 0
	reg, err := sr.NewRegistry(sr.Deps{Logger: quietLogger()}, []sr.Spec{
		{Name: "stub", Type: "stub"},
		{Name: "ensemble", Type: Type, Members: []sr.MemberSpec{{Name: "stub", Weight: 1}, {Name: "stub", Weight: 2}}},
		{Name: "bad", Type: Type, Members: []sr.MemberSpec{{Name: "missing", Weight: 1}}},
	})
	require.NoError(t, err)
	reg.Register("stub", func(context.Context, sr.Spec, sr.Deps) (sr.Metric, error) {
		builds++
		return &stubMetric{name: "stub", result: sr.Score(0.5), cfg: Config}, nil
	})
	reg.Register(Type, Factory)

	m, err := reg.Build(context.Background(), "ensemble", "en")
	require.NoError(t, err)
	assert.Equal(t, 1, builds, "shared member instances are built once")
	assert.Len(t, m.(*Ensemble).Members(), 2)

	res, err := m.Similarity(context.Background(), en(1), en(2))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Value, 1e-12)

	_, err = reg.Build(context.Background(), "bad", "en")
	assert.True(t, coreerrors.IsConfiguration(err))
}

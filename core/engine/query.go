package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/search"
	"github.com/adalundhe/linkrel/core/sr"
)

const (
	opSimilarity  = "similarity"
	opMostSimilar = "most_similar"
	opExplain     = "explain"
)

// Similarity is the outcome of a pairwise query.
type Similarity struct {
	Metric string          `json:"metric"`
	A      concept.Concept `json:"a"`
	B      concept.Concept `json:"b"`
	Result sr.Result       `json:"result"`
}

// Match is one ranked concept with its title.
type Match struct {
	ConceptID concept.LocalID `json:"concept_id"`
	Title     string          `json:"title,omitempty"`
	Score     float64         `json:"score"`
}

// MostSimilarRequest describes a ranking query. Query is a reference
// (numeric id, "lang:id" or an exact article title) unless Text is set, in
// which case it is free text resolved through the title index.
type MostSimilarRequest struct {
	Lang   concept.Language
	Metric string
	Query  string
	Text   bool
	K      int

	// Restrict limits candidates to the given ids. RestrictGlob adds
	// articles whose title matches any pattern.
	Restrict     *concept.IDSet
	RestrictGlob []string
}

// Similarity scores the ordered pair (a, b) with the named metric.
func (e *Engine) Similarity(ctx context.Context, lang concept.Language, metric, a, b string) (Similarity, error) {
	sim, _, err := e.similarity(ctx, lang, metric, a, b, false)
	return sim, err
}

// ExplainSimilarity scores (a, b) once and, for metrics that can explain
// themselves, also returns the terms behind the score. Other metrics yield
// a nil explanation.
func (e *Engine) ExplainSimilarity(ctx context.Context, lang concept.Language, metric, a, b string) (Similarity, *sr.Explanation, error) {
	return e.similarity(ctx, lang, metric, a, b, true)
}

func (e *Engine) similarity(ctx context.Context, lang concept.Language, metric, a, b string, explain bool) (sim Similarity, exp *sr.Explanation, err error) {
	logger, done := e.begin(opSimilarity, &metric, &err)
	defer done()

	l, m, name, err := e.metric(ctx, lang, metric)
	metric = name
	if err != nil {
		return Similarity{}, nil, err
	}
	ca, err := e.ResolveRef(ctx, l.code, a)
	if err != nil {
		return Similarity{}, nil, err
	}
	cb, err := e.ResolveRef(ctx, l.code, b)
	if err != nil {
		return Similarity{}, nil, err
	}

	var res sr.Result
	if explainer, ok := m.(sr.Explainer); ok && explain {
		ex, err := explainer.Explain(ctx, ca, cb)
		if err != nil {
			return Similarity{}, nil, fmt.Errorf("%s explain %s %s: %w", name, ca, cb, err)
		}
		res, exp = ex.Result, &ex
	} else {
		res, err = m.Similarity(ctx, ca, cb)
		if err != nil {
			return Similarity{}, nil, fmt.Errorf("%s similarity %s %s: %w", name, ca, cb, err)
		}
	}
	logger.Debug("similarity", slog.String("a", ca.String()), slog.String("b", cb.String()), slog.String("result", res.String()))
	return Similarity{Metric: name, A: ca, B: cb, Result: res}, exp, nil
}

// Explain scores (a, b) and reports the intermediate terms. Metrics that
// cannot explain themselves fail with ErrUnsupported.
func (e *Engine) Explain(ctx context.Context, lang concept.Language, metric, a, b string) (exp sr.Explanation, err error) {
	_, done := e.begin(opExplain, &metric, &err)
	defer done()

	l, m, name, err := e.metric(ctx, lang, metric)
	metric = name
	if err != nil {
		return sr.Explanation{}, err
	}
	explainer, ok := m.(sr.Explainer)
	if !ok {
		return sr.Explanation{}, coreerrors.Unsupported("metric %q cannot explain its scores", name)
	}
	ca, err := e.ResolveRef(ctx, l.code, a)
	if err != nil {
		return sr.Explanation{}, err
	}
	cb, err := e.ResolveRef(ctx, l.code, b)
	if err != nil {
		return sr.Explanation{}, err
	}
	return explainer.Explain(ctx, ca, cb)
}

// MostSimilar ranks concepts by relatedness to the request's query.
func (e *Engine) MostSimilar(ctx context.Context, req MostSimilarRequest) (matches []Match, err error) {
	metric := req.Metric
	logger, done := e.begin(opMostSimilar, &metric, &err)
	defer done()

	l, m, name, err := e.metric(ctx, req.Lang, req.Metric)
	metric = name
	if err != nil {
		return nil, err
	}
	k := req.K
	if k <= 0 {
		k = e.opts.DefaultK
	}
	if k <= 0 {
		k = defaultK
	}

	var (
		q        search.Query
		resolver search.Resolver
	)
	if req.Text {
		q = search.TextQuery(l.code, req.Query)
		titles, err := e.titleIndex(ctx, l)
		if err != nil {
			return nil, err
		}
		resolver = titles
	} else {
		c, err := e.ResolveRef(ctx, l.code, req.Query)
		if err != nil {
			return nil, err
		}
		q = search.ConceptQuery(c)
	}

	pool, err := e.pool(ctx, l.code, req)
	if err != nil {
		return nil, err
	}

	searcher, err := search.NewSearcher(resolver, []sr.Metric{m}, search.Options{
		ResolveLimit: e.opts.ResolveLimit,
		Workers:      e.opts.Workers,
		OnSkip: func(id concept.LocalID, err error) {
			e.telemetry.CandidateSkipped(name)
			logger.Debug("candidate skipped", slog.Int64("id", int64(id)), slog.String("error", err.Error()))
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	ranked, err := searcher.TopK(ctx, q, k, pool)
	if err != nil {
		return nil, err
	}
	e.telemetry.ObserveResults(name, len(ranked))
	return e.withTitles(ctx, l.code, ranked)
}

func (e *Engine) pool(ctx context.Context, lang concept.Language, req MostSimilarRequest) (*concept.IDSet, error) {
	if req.Restrict == nil && len(req.RestrictGlob) == 0 {
		return nil, nil
	}
	var ids concept.IDSet
	if req.Restrict != nil {
		ids = *req.Restrict
	}
	if len(req.RestrictGlob) > 0 {
		matched, err := search.GlobPool(ctx, e.store, lang, req.RestrictGlob...)
		if err != nil {
			return nil, err
		}
		ids = ids.Union(matched)
	}
	return &ids, nil
}

func (e *Engine) withTitles(ctx context.Context, lang concept.Language, ranked sr.RankedList) ([]Match, error) {
	out := make([]Match, len(ranked))
	for i, entry := range ranked {
		out[i] = Match{ConceptID: entry.ID, Score: entry.Score}
		page, err := e.store.PageByID(ctx, lang, entry.ID)
		switch {
		case err == nil:
			out[i].Title = page.Title
		case coreerrors.IsNotFound(err):
		default:
			return nil, err
		}
	}
	return out, nil
}

// ResolveRef turns a reference into a concept of lang. A reference is a
// numeric page id, a "lang:id" pair, or an exact article title. A number
// that is not a page id but is an article title, such as "1984", resolves
// to that article; otherwise it stays an id so unknown ids score invalid.
func (e *Engine) ResolveRef(ctx context.Context, lang concept.Language, ref string) (concept.Concept, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return concept.Concept{}, coreerrors.InvalidInput("empty concept reference")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return e.resolveNumeric(ctx, concept.New(lang, concept.LocalID(id)), ref)
	}
	if c, err := concept.ParseConcept(ref); err == nil {
		if c.Lang != lang {
			return concept.Concept{}, coreerrors.InvalidInput("concept %s is not in language %s", c, lang)
		}
		return c, nil
	}
	page, err := e.store.PageByTitle(ctx, lang, concept.NamespaceArticle, ref)
	if err != nil {
		return concept.Concept{}, fmt.Errorf("resolve %q: %w", ref, err)
	}
	return page.Concept, nil
}

func (e *Engine) resolveNumeric(ctx context.Context, c concept.Concept, ref string) (concept.Concept, error) {
	_, err := e.store.PageByID(ctx, c.Lang, c.ID)
	switch {
	case err == nil:
		return c, nil
	case !coreerrors.IsNotFound(err):
		return concept.Concept{}, fmt.Errorf("resolve %q: %w", ref, err)
	}
	page, err := e.store.PageByTitle(ctx, c.Lang, concept.NamespaceArticle, ref)
	switch {
	case err == nil:
		return page.Concept, nil
	case coreerrors.IsNotFound(err):
		return c, nil
	default:
		return concept.Concept{}, fmt.Errorf("resolve %q: %w", ref, err)
	}
}

// IndexTitles rebuilds the title index of lang from the store and returns
// the number of indexed titles.
func (e *Engine) IndexTitles(ctx context.Context, lang concept.Language) (int, error) {
	l, err := e.language(lang)
	if err != nil {
		return 0, err
	}
	titles, err := e.openTitles(l)
	if err != nil {
		return 0, err
	}
	return titles.Build(ctx, e.store, lang)
}

// titleIndex returns the language's title index, building it on first use
// when it is empty.
func (e *Engine) titleIndex(ctx context.Context, l *language) (*search.TitleIndex, error) {
	titles, err := e.openTitles(l)
	if err != nil {
		return nil, err
	}
	n, err := titles.DocCount()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		built, err := titles.Build(ctx, e.store, l.code)
		if err != nil {
			return nil, err
		}
		e.logger.Info("title index built", slog.String("lang", string(l.code)), slog.Int("titles", built))
	}
	return titles, nil
}

func (e *Engine) openTitles(l *language) (*search.TitleIndex, error) {
	l.titlesMu.Lock()
	defer l.titlesMu.Unlock()
	if l.titles != nil {
		return l.titles, nil
	}
	var path string
	if e.opts.TitleIndexPath != nil {
		path = e.opts.TitleIndexPath(l.code)
	}
	titles, err := search.OpenTitleIndex(search.TitleIndexConfig{Path: path, BatchSize: e.opts.TitleBatchSize}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("open title index for %s: %w", l.code, err)
	}
	l.titles = titles
	return titles, nil
}

// begin tags the call with a query id and returns the func that records
// its outcome. metric and err are read when the call returns.
func (e *Engine) begin(op string, metric *string, err *error) (*slog.Logger, func()) {
	start := time.Now()
	logger := e.logger.With(slog.String("query_id", uuid.NewString()), slog.String("op", op))
	return logger, func() {
		e.telemetry.ObserveQuery(op, *metric, start, *err)
		if *err != nil {
			logger.Debug("query failed", slog.String("metric", *metric), slog.String("error", (*err).Error()))
		}
	}
}

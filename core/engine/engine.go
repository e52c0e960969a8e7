// Package engine is the caller-facing API: it wires a page and link store
// into per-language graphs, disambiguation filters, title indexes and a
// metric registry, and answers similarity and most-similar queries by metric
// name.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/adalundhe/linkrel/core/concept"
	"github.com/adalundhe/linkrel/core/disambig"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/graph"
	"github.com/adalundhe/linkrel/core/search"
	"github.com/adalundhe/linkrel/core/sr"
	"github.com/adalundhe/linkrel/core/sr/ensemble"
	"github.com/adalundhe/linkrel/core/sr/milnewitten"
	"github.com/adalundhe/linkrel/core/sr/synrank"
	"github.com/adalundhe/linkrel/core/telemetry"
)

// Options configures an Engine.
type Options struct {
	Languages     []concept.Language
	Specs         []sr.Spec
	DefaultMetric string

	// Categories overrides the disambiguation category per language for
	// specs that do not name one.
	Categories      map[concept.Language]string
	FilterCacheSize int

	Workers      int
	ResolveLimit int
	DefaultK     int

	// Cache wraps the store-backed graph with a neighbor cache when set.
	Cache *graph.CacheConfig

	// Preload copies each language's graph into memory at startup.
	Preload bool

	// TitleIndexPath returns the on-disk title index for a language; ""
	// or a nil func keeps indexes in memory.
	TitleIndexPath func(concept.Language) string
	TitleBatchSize int

	Telemetry *telemetry.Metrics
	Logger    *slog.Logger
}

const defaultK = 10

// language holds everything built for one language.
type language struct {
	code     concept.Language
	graph    graph.ConceptGraph
	registry *sr.Registry

	titlesMu sync.Mutex
	titles   *search.TitleIndex
}

// Engine is safe for concurrent use. It does not own the store.
type Engine struct {
	store         graph.Store
	opts          Options
	defaultMetric string
	names         []string
	langs         map[concept.Language]*language
	filters       *disambig.Provider
	cache         *graph.Cached
	telemetry     *telemetry.Metrics
	logger        *slog.Logger
}

// New builds an engine and eagerly constructs every configured metric for
// every language. A metric that fails to build is logged and keeps
// reporting its error on use; other metrics keep serving. Unknown default
// metrics and unusable options fail with ErrConfiguration.
func New(ctx context.Context, store graph.Store, opts Options) (*Engine, error) {
	if store == nil {
		return nil, coreerrors.Configuration("engine requires a store", nil)
	}
	if len(opts.Languages) == 0 {
		return nil, coreerrors.Configuration("engine requires at least one language", nil)
	}
	if len(opts.Specs) == 0 {
		return nil, coreerrors.Configuration("engine requires at least one metric spec", nil)
	}

	e := &Engine{
		store:     store,
		opts:      opts,
		langs:     make(map[concept.Language]*language, len(opts.Languages)),
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	for _, s := range opts.Specs {
		e.names = append(e.names, strings.ToLower(strings.TrimSpace(s.Name)))
	}
	e.defaultMetric = strings.ToLower(strings.TrimSpace(opts.DefaultMetric))
	if e.defaultMetric == "" {
		e.defaultMetric = e.names[0]
	}
	if !slices.Contains(e.names, e.defaultMetric) {
		return nil, coreerrors.Configuration(fmt.Sprintf("default metric %q is not configured", opts.DefaultMetric), nil)
	}

	filters, err := disambig.NewProvider(store, opts.FilterCacheSize, e.logger)
	if err != nil {
		return nil, coreerrors.Configuration("disambiguation provider", err)
	}
	e.filters = filters

	var base graph.ConceptGraph = graph.New(store, store)
	if opts.Cache != nil && !opts.Preload {
		cached, err := graph.NewCached(base, opts.Cache)
		if err != nil {
			return nil, coreerrors.Configuration("neighbor cache", err)
		}
		e.cache = cached
		base = cached
		if err := e.telemetry.RegisterCache("neighbors", cached.Stats()); err != nil {
			e.logger.Warn("neighbor cache metrics unavailable", slog.String("error", err.Error()))
		}
	}

	for _, lang := range opts.Languages {
		if _, dup := e.langs[lang]; dup {
			continue
		}
		g := base
		if opts.Preload {
			mem, err := graph.Preload(ctx, store, store, lang)
			if err != nil {
				e.Close()
				return nil, fmt.Errorf("preload %s graph: %w", lang, err)
			}
			e.logger.Info("graph preloaded", slog.String("lang", string(lang)), slog.Int("concepts", mem.Len()))
			g = mem
		}

		registry, err := sr.NewRegistry(sr.Deps{
			Graph:   g,
			Filters: categoryFilters{provider: filters, categories: opts.Categories},
			Workers: opts.Workers,
			Logger:  e.logger,
		}, opts.Specs)
		if err != nil {
			e.Close()
			return nil, err
		}
		RegisterDefaults(registry)
		e.langs[lang] = &language{code: lang, graph: g, registry: registry}
	}

	e.buildAll(ctx)
	return e, nil
}

// RegisterDefaults binds the built-in metric types.
func RegisterDefaults(r *sr.Registry) {
	r.Register(synrank.Type, synrank.Factory)
	r.Register(milnewitten.Type, milnewitten.Factory)
	r.Register(ensemble.Type, ensemble.Factory)
}

func (e *Engine) buildAll(ctx context.Context) {
	for _, lang := range e.Languages() {
		l := e.langs[lang]
		for _, name := range e.names {
			if _, err := l.registry.Build(ctx, name, lang); err != nil {
				e.logger.Warn("metric unavailable",
					slog.String("metric", name),
					slog.String("lang", string(lang)),
					slog.String("error", err.Error()))
			}
		}
	}
}

// categoryFilters applies the per-language category override before asking
// the shared provider.
type categoryFilters struct {
	provider   *disambig.Provider
	categories map[concept.Language]string
}

func (f categoryFilters) Filter(ctx context.Context, lang concept.Language, category string) (*disambig.Filter, error) {
	if category == "" {
		category = f.categories[lang]
	}
	return f.provider.Filter(ctx, lang, category)
}

// Metrics returns the configured metric names in configuration order.
func (e *Engine) Metrics() []string {
	return slices.Clone(e.names)
}

// DefaultMetric returns the metric used when a request names none.
func (e *Engine) DefaultMetric() string {
	return e.defaultMetric
}

// Languages returns the served languages, sorted.
func (e *Engine) Languages() []concept.Language {
	out := make([]concept.Language, 0, len(e.langs))
	for l := range e.langs {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// MetricStatus reports whether a metric is usable for a language.
type MetricStatus struct {
	Metric   string           `json:"metric"`
	Language concept.Language `json:"language"`
	Ready    bool             `json:"ready"`
	Error    string           `json:"error,omitempty"`
}

// Status lists every (metric, language) pair in a stable order.
func (e *Engine) Status() []MetricStatus {
	var out []MetricStatus
	for _, name := range e.names {
		for _, lang := range e.Languages() {
			built, err := e.langs[lang].registry.Status(name, lang)
			st := MetricStatus{Metric: name, Language: lang, Ready: built && err == nil}
			if err != nil {
				st.Error = err.Error()
			}
			out = append(out, st)
		}
	}
	return out
}

// Close releases title indexes and the neighbor cache.
func (e *Engine) Close() error {
	var firstErr error
	for _, l := range e.langs {
		l.titlesMu.Lock()
		if l.titles != nil {
			if err := l.titles.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			l.titles = nil
		}
		l.titlesMu.Unlock()
	}
	if e.cache != nil {
		e.cache.Close()
	}
	return firstErr
}

func (e *Engine) language(lang concept.Language) (*language, error) {
	l, ok := e.langs[lang]
	if !ok {
		return nil, coreerrors.Configuration(fmt.Sprintf("language %q is not configured", lang), nil)
	}
	return l, nil
}

// metric resolves a metric name for lang; "" selects the default.
func (e *Engine) metric(ctx context.Context, lang concept.Language, name string) (*language, sr.Metric, string, error) {
	l, err := e.language(lang)
	if err != nil {
		return nil, nil, name, err
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = e.defaultMetric
	}
	if !slices.Contains(e.names, name) {
		return nil, nil, name, coreerrors.Configuration(fmt.Sprintf("unknown metric %q", name), nil)
	}
	m, err := l.registry.Build(ctx, name, lang)
	return l, m, name, err
}

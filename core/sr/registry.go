package sr

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/adalundhe/linkrel/core/concept"
	"github.com/adalundhe/linkrel/core/disambig"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/graph"
)

// MemberSpec names an ensemble member and its weight.
type MemberSpec struct {
	Name   string  `yaml:"name" json:"name" validate:"required"`
	Weight float64 `yaml:"weight" json:"weight" validate:"gt=0"`
}

// Spec is the configuration of one named metric. Language is filled in by
// the registry when the metric is built.
type Spec struct {
	Name                   string             `yaml:"name" json:"name" validate:"required"`
	Type                   string             `yaml:"type" json:"type" validate:"required"`
	Language               concept.Language   `yaml:"-" json:"-"`
	DisambiguationCategory string             `yaml:"disambiguation_category,omitempty" json:"disambiguation_category,omitempty"`
	Members                []MemberSpec       `yaml:"members,omitempty" json:"members,omitempty" validate:"dive"`
	Params                 map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
}

// Param returns the named numeric parameter or def when unset.
func (s Spec) Param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

// FilterSource hands out per-language disambiguation filters.
type FilterSource interface {
	Filter(ctx context.Context, lang concept.Language, category string) (*disambig.Filter, error)
}

// Deps are the shared collaborators passed to every factory.
type Deps struct {
	Graph    graph.ConceptGraph
	Filters  FilterSource
	Registry *Registry
	Workers  int
	Logger   *slog.Logger
}

// Factory constructs a metric from its spec. Construction may read
// whole-graph statistics and is done once per (name, language).
type Factory func(ctx context.Context, spec Spec, deps Deps) (Metric, error)

type buildKey struct {
	name string
	lang concept.Language
}

type buildResult struct {
	metric Metric
	err    error
	done   chan struct{}
}

// Registry maps metric types to factories and metric names to specs, and
// memoizes built metrics per (name, language). Construction failures are
// memoized too, so a broken metric keeps reporting its error while other
// metrics serve.
type Registry struct {
	deps      Deps
	mu        sync.Mutex
	factories map[string]Factory
	specs     map[string]Spec
	order     []string
	built     map[buildKey]*buildResult
}

// NewRegistry returns a registry over specs. Factories are added with
// Register.
func NewRegistry(deps Deps, specs []Spec) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := &Registry{
		deps:      deps,
		factories: make(map[string]Factory),
		specs:     make(map[string]Spec, len(specs)),
		built:     make(map[buildKey]*buildResult),
	}
	for _, s := range specs {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		if name == "" {
			return nil, coreerrors.Configuration("metric spec without a name", nil)
		}
		if _, dup := r.specs[name]; dup {
			return nil, coreerrors.Configuration(fmt.Sprintf("duplicate metric %q", name), nil)
		}
		s.Name = name
		r.specs[name] = s
		r.order = append(r.order, name)
	}
	return r, nil
}

// Register binds a metric type to its factory.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(typ)] = f
}

// Names returns the configured metric names in configuration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Types returns the registered metric types, sorted.
func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Spec returns the configured spec for name.
func (r *Registry) Spec(name string) (Spec, bool) {
	s, ok := r.specs[strings.ToLower(name)]
	return s, ok
}

// Build returns the metric called name for lang, constructing it on first
// use. Unknown names and types fail with a configuration error.
func (r *Registry) Build(ctx context.Context, name string, lang concept.Language) (Metric, error) {
	key := buildKey{name: strings.ToLower(name), lang: lang}
	if inProgress(ctx, key) {
		return nil, coreerrors.Configuration(fmt.Sprintf("metric %q references itself", key.name), nil)
	}

	r.mu.Lock()
	if res, ok := r.built[key]; ok {
		r.mu.Unlock()
		select {
		case <-res.done:
			return res.metric, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	res := &buildResult{done: make(chan struct{})}
	r.built[key] = res
	r.mu.Unlock()

	res.metric, res.err = r.construct(withBuilding(ctx, key), key)
	close(res.done)
	return res.metric, res.err
}

// Status reports whether (name, lang) has finished building and, if so,
// its memoized construction error.
func (r *Registry) Status(name string, lang concept.Language) (built bool, err error) {
	r.mu.Lock()
	res, ok := r.built[buildKey{name: strings.ToLower(name), lang: lang}]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	select {
	case <-res.done:
		return true, res.err
	default:
		return false, nil
	}
}

func (r *Registry) construct(ctx context.Context, key buildKey) (Metric, error) {
	spec, ok := r.specs[key.name]
	if !ok {
		return nil, coreerrors.Configuration(fmt.Sprintf("unknown metric %q", key.name), nil)
	}

	r.mu.Lock()
	factory, ok := r.factories[strings.ToLower(spec.Type)]
	r.mu.Unlock()
	if !ok {
		return nil, coreerrors.Configuration(
			fmt.Sprintf("metric %q has unknown type %q", key.name, spec.Type), nil)
	}

	spec.Language = key.lang
	deps := r.deps
	deps.Registry = r
	deps.Logger = r.deps.Logger.With(slog.String("metric", key.name), slog.String("lang", string(key.lang)))

	m, err := factory(ctx, spec, deps)
	if err != nil {
		r.deps.Logger.Error("metric construction failed",
			slog.String("metric", key.name),
			slog.String("lang", string(key.lang)),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("build metric %q for %s: %w", key.name, key.lang, err)
	}
	return m, nil
}

type buildingKey struct{}

func inProgress(ctx context.Context, key buildKey) bool {
	path, _ := ctx.Value(buildingKey{}).([]buildKey)
	return slices.Contains(path, key)
}

func withBuilding(ctx context.Context, key buildKey) context.Context {
	path, _ := ctx.Value(buildingKey{}).([]buildKey)
	return context.WithValue(ctx, buildingKey{}, append(slices.Clone(path), key))
}

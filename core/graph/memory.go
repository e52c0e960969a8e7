package graph

import (
	"context"
	"fmt"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

type adjacency struct {
	in  concept.IDSet
	out concept.IDSet
}

// Memory is an immutable in-memory graph. It is safe for concurrent use
// without locking.
type Memory struct {
	nodes  map[concept.Concept]adjacency
	counts map[concept.Language]int
}

func (m *Memory) Inbound(_ context.Context, c concept.Concept) (concept.IDSet, error) {
	adj, ok := m.nodes[c]
	if !ok {
		return concept.IDSet{}, coreerrors.NotFound("concept %s", c)
	}
	return adj.in, nil
}

func (m *Memory) Outbound(_ context.Context, c concept.Concept) (concept.IDSet, error) {
	adj, ok := m.nodes[c]
	if !ok {
		return concept.IDSet{}, coreerrors.NotFound("concept %s", c)
	}
	return adj.out, nil
}

func (m *Memory) ConceptCount(_ context.Context, lang concept.Language) (int, error) {
	return m.counts[lang], nil
}

// Len returns the number of concepts known to the graph.
func (m *Memory) Len() int {
	return len(m.nodes)
}

// =============================================================================
// Builder
// =============================================================================

// Builder accumulates concepts and links and freezes them into a Memory
// graph. A Builder is not safe for concurrent use.
type Builder struct {
	in        map[concept.Concept][]concept.LocalID
	out       map[concept.Concept][]concept.LocalID
	counted   map[concept.Concept]bool
	overrides map[concept.Language]int
}

func NewBuilder() *Builder {
	return &Builder{
		in:        make(map[concept.Concept][]concept.LocalID),
		out:       make(map[concept.Concept][]concept.LocalID),
		counted:   make(map[concept.Concept]bool),
		overrides: make(map[concept.Language]int),
	}
}

// AddConcept registers an indexable article. It counts toward the
// language's universe size.
func (b *Builder) AddConcept(c concept.Concept) *Builder {
	b.counted[c] = true
	return b
}

// AddNonArticle registers a concept that can carry links but is excluded from
// the universe size, such as a disambiguation page.
func (b *Builder) AddNonArticle(c concept.Concept) *Builder {
	if _, ok := b.counted[c]; !ok {
		b.counted[c] = false
	}
	return b
}

// AddLink records the edge src -> dst. Both endpoints must share a language;
// unregistered endpoints are added as articles.
func (b *Builder) AddLink(src, dst concept.Concept) *Builder {
	if src.Lang != dst.Lang {
		panic(fmt.Sprintf("graph: cross-language link %s -> %s", src, dst))
	}
	if _, ok := b.counted[src]; !ok {
		b.AddConcept(src)
	}
	if _, ok := b.counted[dst]; !ok {
		b.AddConcept(dst)
	}
	b.out[src] = append(b.out[src], dst.ID)
	b.in[dst] = append(b.in[dst], src.ID)
	return b
}

// SetConceptCount overrides the computed universe size for lang.
func (b *Builder) SetConceptCount(lang concept.Language, n int) *Builder {
	b.overrides[lang] = n
	return b
}

// Build freezes the builder's contents. The builder may be reused afterward
// without affecting the returned graph.
func (b *Builder) Build() *Memory {
	m := &Memory{
		nodes:  make(map[concept.Concept]adjacency, len(b.counted)),
		counts: make(map[concept.Language]int),
	}
	for c, isArticle := range b.counted {
		m.nodes[c] = adjacency{
			in:  concept.NewIDSet(b.in[c]...),
			out: concept.NewIDSet(b.out[c]...),
		}
		if isArticle {
			m.counts[c.Lang]++
		}
	}
	for lang, n := range b.overrides {
		m.counts[lang] = n
	}
	return m
}

// =============================================================================
// Snapshots
// =============================================================================

// Snapshot copies the neighborhoods of concepts, and the universe size of
// every language they belong to, from g into an immutable Memory graph.
// Concepts unknown to g are skipped.
func Snapshot(ctx context.Context, g ConceptGraph, concepts []concept.Concept) (*Memory, error) {
	m := &Memory{
		nodes:  make(map[concept.Concept]adjacency, len(concepts)),
		counts: make(map[concept.Language]int),
	}

	for _, c := range concepts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, done := m.nodes[c]; done {
			continue
		}
		in, err := g.Inbound(ctx, c)
		if coreerrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out, err := g.Outbound(ctx, c)
		if err != nil {
			return nil, err
		}
		m.nodes[c] = adjacency{in: in, out: out}

		if _, ok := m.counts[c.Lang]; !ok {
			n, err := g.ConceptCount(ctx, c.Lang)
			if err != nil {
				return nil, err
			}
			m.counts[c.Lang] = n
		}
	}
	return m, nil
}

// Preload snapshots every page of lang known to pages, so traversals pass
// through redirects and disambiguation pages exactly as they do against the
// store. The universe size is still the article count.
func Preload(ctx context.Context, pages PageStore, links LinkStore, lang concept.Language) (*Memory, error) {
	var concepts []concept.Concept
	err := pages.PageIDs(ctx, lang, func(id concept.LocalID) error {
		concepts = append(concepts, concept.New(lang, id))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate %s pages: %w", lang, err)
	}
	return Snapshot(ctx, New(pages, links), concepts)
}

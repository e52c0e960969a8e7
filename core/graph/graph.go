// Package graph provides read-only views over the directed concept link
// graph: inbound and outbound neighbor sets per concept and per-language
// universe sizes.
package graph

import (
	"context"
	"fmt"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

// ConceptGraph is a read accessor over the link graph. Implementations are
// immutable or internally synchronized and safe for concurrent readers.
type ConceptGraph interface {
	// Inbound returns the concepts linking to c. Unknown concepts yield an
	// error matching coreerrors.ErrNotFound; a known concept without links
	// yields the empty set.
	Inbound(ctx context.Context, c concept.Concept) (concept.IDSet, error)

	// Outbound returns the concepts c links to.
	Outbound(ctx context.Context, c concept.Concept) (concept.IDSet, error)

	// ConceptCount returns the number of indexable articles in lang.
	ConceptCount(ctx context.Context, lang concept.Language) (int, error)
}

// =============================================================================
// Collaborators
// =============================================================================

// LinkStore enumerates raw link edges.
type LinkStore interface {
	LinksTo(ctx context.Context, c concept.Concept) (concept.IDSet, error)
	LinksFrom(ctx context.Context, c concept.Concept) (concept.IDSet, error)
	HasConcept(ctx context.Context, c concept.Concept) (bool, error)
}

// PageCounter counts indexable articles.
type PageCounter interface {
	CountArticles(ctx context.Context, lang concept.Language) (int, error)
}

// PageStore is the page resolution collaborator.
type PageStore interface {
	PageCounter

	PageByID(ctx context.Context, lang concept.Language, id concept.LocalID) (concept.Page, error)
	PageByTitle(ctx context.Context, lang concept.Language, ns concept.Namespace, title string) (concept.Page, error)
	CategoryMembers(ctx context.Context, category concept.Concept) (concept.IDSet, error)

	// ArticleTitles calls fn for every indexable article of lang, in id order.
	// Iteration stops at the first error returned by fn.
	ArticleTitles(ctx context.Context, lang concept.Language, fn func(concept.Page) error) error

	// PageIDs calls fn with the id of every page of lang in id order,
	// including redirects, disambiguation pages and other namespaces.
	PageIDs(ctx context.Context, lang concept.Language, fn func(concept.LocalID) error) error
}

// Store is the combined page and link collaborator implemented by the
// reference backends.
type Store interface {
	PageStore
	LinkStore
	Close() error
}

// =============================================================================
// Store-backed graph
// =============================================================================

// StoreGraph answers neighbor queries directly from a LinkStore.
type StoreGraph struct {
	pages PageCounter
	links LinkStore
}

// New returns a graph reading through to the given collaborators.
func New(pages PageCounter, links LinkStore) *StoreGraph {
	return &StoreGraph{pages: pages, links: links}
}

func (g *StoreGraph) Inbound(ctx context.Context, c concept.Concept) (concept.IDSet, error) {
	ids, err := g.links.LinksTo(ctx, c)
	if err != nil {
		return concept.IDSet{}, fmt.Errorf("inbound links of %s: %w", c, err)
	}
	return g.checkKnown(ctx, c, ids)
}

func (g *StoreGraph) Outbound(ctx context.Context, c concept.Concept) (concept.IDSet, error) {
	ids, err := g.links.LinksFrom(ctx, c)
	if err != nil {
		return concept.IDSet{}, fmt.Errorf("outbound links of %s: %w", c, err)
	}
	return g.checkKnown(ctx, c, ids)
}

// checkKnown distinguishes "no links" from "no such concept" only when the
// neighbor set is empty, keeping the common path to a single store call.
func (g *StoreGraph) checkKnown(ctx context.Context, c concept.Concept, ids concept.IDSet) (concept.IDSet, error) {
	if !ids.IsEmpty() {
		return ids, nil
	}
	known, err := g.links.HasConcept(ctx, c)
	if err != nil {
		return concept.IDSet{}, fmt.Errorf("lookup %s: %w", c, err)
	}
	if !known {
		return concept.IDSet{}, coreerrors.NotFound("concept %s", c)
	}
	return ids, nil
}

func (g *StoreGraph) ConceptCount(ctx context.Context, lang concept.Language) (int, error) {
	n, err := g.pages.CountArticles(ctx, lang)
	if err != nil {
		return 0, fmt.Errorf("count articles for %s: %w", lang, err)
	}
	return n, nil
}

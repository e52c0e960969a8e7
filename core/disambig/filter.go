// Package disambig identifies disambiguation pages so they can be excluded
// from relatedness scoring.
package disambig

import (
	"context"
	"fmt"
	"strings"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

// DefaultCategory is the category whose members are disambiguation pages.
const DefaultCategory = "Category:Disambiguation pages"

// CategoryResolver is the part of the page store a filter needs.
type CategoryResolver interface {
	PageByTitle(ctx context.Context, lang concept.Language, ns concept.Namespace, title string) (concept.Page, error)
	CategoryMembers(ctx context.Context, category concept.Concept) (concept.IDSet, error)
}

const categoryPrefix = "Category:"

// CategoryTitle normalizes a category title to its prefixed form, so
// "category:Disambiguation_pages" and "Disambiguation pages" both become
// "Category:Disambiguation pages". An empty title yields DefaultCategory.
// Page stores hold category titles without the prefix.
func CategoryTitle(category string) string {
	title := concept.NormalizeTitle(category)
	if title == "" {
		return DefaultCategory
	}
	if len(title) >= len(categoryPrefix) && strings.EqualFold(title[:len(categoryPrefix)], categoryPrefix) {
		title = concept.NormalizeTitle(title[len(categoryPrefix):])
	}
	return categoryPrefix + title
}

// Marker is a page store that can flag category members as disambiguation
// pages.
type Marker interface {
	PageByTitle(ctx context.Context, lang concept.Language, ns concept.Namespace, title string) (concept.Page, error)

	// MarkDisambiguation sets the disambiguation flag on every member of
	// category and returns how many pages changed.
	MarkDisambiguation(ctx context.Context, category concept.Concept) (int, error)
}

// Mark flags the members of category in lang as disambiguation pages, so
// article counts and enumerations agree with Filter. A category that does
// not exist fails with ErrNotFound.
func Mark(ctx context.Context, lang concept.Language, category string, pages Marker) (int, error) {
	title := CategoryTitle(category)
	page, err := pages.PageByTitle(ctx, lang, concept.NamespaceCategory, strings.TrimPrefix(title, categoryPrefix))
	if err != nil {
		return 0, fmt.Errorf("resolve %q in %s: %w", title, lang, err)
	}
	return pages.MarkDisambiguation(ctx, page.Concept)
}

// Filter is an immutable set of disambiguation pages for one language.
type Filter struct {
	lang     concept.Language
	category string
	ids      concept.IDSet
}

// NewFilter returns a filter over a known set of page ids.
func NewFilter(lang concept.Language, ids concept.IDSet) *Filter {
	return &Filter{lang: lang, ids: ids}
}

// Load resolves category in lang and captures its members. An empty
// category uses DefaultCategory. Any failure to resolve the category is a
// configuration error: scoring without the filter is meaningless.
func Load(ctx context.Context, lang concept.Language, category string, pages CategoryResolver) (*Filter, error) {
	title := CategoryTitle(category)
	name := strings.TrimPrefix(title, categoryPrefix)

	page, err := pages.PageByTitle(ctx, lang, concept.NamespaceCategory, name)
	if err != nil {
		return nil, coreerrors.Configuration(
			fmt.Sprintf("resolve disambiguation category %q for %s", title, lang), err)
	}

	members, err := pages.CategoryMembers(ctx, page.Concept)
	if err != nil {
		return nil, coreerrors.Configuration(
			fmt.Sprintf("enumerate disambiguation category %q for %s", title, lang), err)
	}

	return &Filter{lang: lang, category: title, ids: members}, nil
}

// IsDisambiguation reports whether c is a disambiguation page. Concepts of
// other languages are never members.
func (f *Filter) IsDisambiguation(c concept.Concept) bool {
	return c.Lang == f.lang && f.ids.Contains(c.ID)
}

// Len returns the number of disambiguation pages.
func (f *Filter) Len() int {
	return f.ids.Len()
}

func (f *Filter) Language() concept.Language {
	return f.lang
}

// Category returns the resolved category title, or "" for filters built
// from an explicit id set.
func (f *Filter) Category() string {
	return f.category
}

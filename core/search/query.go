// Package search ranks concepts by relatedness to a query concept or to free
// text resolved through a title index.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

// =============================================================================
// Query
// =============================================================================

// Query is either a single concept or free text in a language. The zero
// value is invalid.
type Query struct {
	Concept concept.Concept
	Lang    concept.Language
	Text    string
}

// ConceptQuery returns a query for a known concept.
func ConceptQuery(c concept.Concept) Query {
	return Query{Concept: c, Lang: c.Lang}
}

// TextQuery returns a query resolved through a Resolver at search time.
func TextQuery(lang concept.Language, text string) Query {
	return Query{Lang: lang, Text: text}
}

// IsText reports whether the query needs resolution.
func (q Query) IsText() bool {
	return q.Concept.IsZero()
}

// Validate rejects empty queries and concept queries whose language
// disagrees with Lang.
func (q Query) Validate() error {
	if q.IsText() {
		if q.Lang == "" {
			return coreerrors.InvalidInput("text query %q has no language", q.Text)
		}
		if strings.TrimSpace(q.Text) == "" {
			return coreerrors.InvalidInput("empty query")
		}
		return nil
	}
	if q.Lang != "" && q.Lang != q.Concept.Lang {
		return coreerrors.InvalidInput("query concept %s is not in language %s", q.Concept, q.Lang)
	}
	return nil
}

func (q Query) String() string {
	if q.IsText() {
		return fmt.Sprintf("%s:%q", q.Lang, q.Text)
	}
	return q.Concept.String()
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver maps free text to at most limit concepts of lang, best match
// first.
type Resolver interface {
	Resolve(ctx context.Context, lang concept.Language, text string, limit int) ([]concept.Concept, error)
}

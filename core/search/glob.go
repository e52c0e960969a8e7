package search

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

// CompileTitleGlobs compiles title patterns such as "Apollo *" or
// "*{river,lake}*". Patterns match whole normalized titles.
func CompileTitleGlobs(patterns []string) ([]glob.Glob, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		matcher, err := glob.Compile(pattern)
		if err != nil {
			return nil, coreerrors.InvalidInput("invalid title pattern %q: %v", pattern, err)
		}
		matchers = append(matchers, matcher)
	}
	return matchers, nil
}

// GlobPool returns the ids of lang's articles whose title matches any of the
// patterns, for use as a candidate pool.
func GlobPool(ctx context.Context, src TitleSource, lang concept.Language, patterns ...string) (concept.IDSet, error) {
	if len(patterns) == 0 {
		return concept.IDSet{}, coreerrors.InvalidInput("no title patterns")
	}
	matchers, err := CompileTitleGlobs(patterns)
	if err != nil {
		return concept.IDSet{}, err
	}

	var ids []concept.LocalID
	err = src.ArticleTitles(ctx, lang, func(p concept.Page) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if matchesAny(concept.NormalizeTitle(p.Title), matchers) {
			ids = append(ids, p.Concept.ID)
		}
		return nil
	})
	if err != nil {
		return concept.IDSet{}, fmt.Errorf("enumerate %s titles: %w", lang, err)
	}
	return concept.NewIDSet(ids...), nil
}

func matchesAny(title string, matchers []glob.Glob) bool {
	for _, m := range matchers {
		if m.Match(title) {
			return true
		}
	}
	return false
}

package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

const (
	fieldLang  = "lang"
	fieldTitle = "title"
	fieldKey   = "key"

	// DefaultBatchSize is the number of titles indexed per bleve batch.
	DefaultBatchSize = 1000

	exactBoost  = 10.0
	phraseBoost = 3.0
)

// ErrIndexClosed is returned by operations on a closed TitleIndex.
var ErrIndexClosed = errors.New("title index is closed")

// TitleSource enumerates indexable article titles.
type TitleSource interface {
	ArticleTitles(ctx context.Context, lang concept.Language, fn func(concept.Page) error) error
}

// TitleIndexConfig configures a TitleIndex. An empty Path keeps the index in
// memory.
type TitleIndexConfig struct {
	Path      string
	BatchSize int
}

// TitleIndex resolves free text to concepts by matching article titles. It
// implements Resolver.
type TitleIndex struct {
	index     bleve.Index
	batchSize int
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// OpenTitleIndex opens the index at config.Path, creating it when missing,
// or builds an in-memory index when no path is given.
func OpenTitleIndex(config TitleIndexConfig, logger *slog.Logger) (*TitleIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	index, err := openOrCreate(config.Path)
	if err != nil {
		return nil, err
	}
	t := &TitleIndex{
		index:     index,
		batchSize: config.BatchSize,
		logger:    logger,
	}
	if t.batchSize <= 0 {
		t.batchSize = DefaultBatchSize
	}
	return t, nil
}

func openOrCreate(path string) (bleve.Index, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(titleMapping())
		if err != nil {
			return nil, fmt.Errorf("create title index: %w", err)
		}
		return index, nil
	}
	if index, err := bleve.Open(path); err == nil {
		return index, nil
	}
	index, err := bleve.New(path, titleMapping())
	if err != nil {
		return nil, fmt.Errorf("create title index at %s: %w", path, err)
	}
	return index, nil
}

// titleMapping analyzes titles with the standard analyzer and keeps the
// language and the lowercased normalized title as exact keywords.
func titleMapping() mapping.IndexMapping {
	langField := bleve.NewTextFieldMapping()
	langField.Analyzer = keyword.Name
	langField.IncludeInAll = false

	keyField := bleve.NewTextFieldMapping()
	keyField.Analyzer = keyword.Name
	keyField.IncludeInAll = false

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = standard.Name
	titleField.Store = true

	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false
	doc.AddFieldMappingsAt(fieldLang, langField)
	doc.AddFieldMappingsAt(fieldKey, keyField)
	doc.AddFieldMappingsAt(fieldTitle, titleField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

func titleKey(title string) string {
	return strings.ToLower(concept.NormalizeTitle(title))
}

// Build indexes every article title of lang from src and returns the number
// of titles indexed.
func (t *TitleIndex) Build(ctx context.Context, src TitleSource, lang concept.Language) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return 0, ErrIndexClosed
	}

	batch := t.index.NewBatch()
	total := 0
	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := t.index.Batch(batch); err != nil {
			return fmt.Errorf("index title batch: %w", err)
		}
		batch.Reset()
		return nil
	}

	err := src.ArticleTitles(ctx, lang, func(p concept.Page) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !p.IsArticle() {
			return nil
		}
		if err := batch.Index(p.Concept.String(), titleDocument(p)); err != nil {
			return fmt.Errorf("index %s: %w", p.Concept, err)
		}
		total++
		if batch.Size() >= t.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}

	t.logger.Info("title index built",
		slog.String("lang", string(lang)),
		slog.Int("titles", total))
	return total, nil
}

// Add indexes individual pages. Non-articles are ignored.
func (t *TitleIndex) Add(pages ...concept.Page) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrIndexClosed
	}
	batch := t.index.NewBatch()
	for _, p := range pages {
		if !p.IsArticle() {
			continue
		}
		if err := batch.Index(p.Concept.String(), titleDocument(p)); err != nil {
			return fmt.Errorf("index %s: %w", p.Concept, err)
		}
	}
	return t.index.Batch(batch)
}

func titleDocument(p concept.Page) map[string]any {
	return map[string]any{
		fieldLang:  string(p.Concept.Lang),
		fieldTitle: p.Title,
		fieldKey:   titleKey(p.Title),
	}
}

// Resolve returns up to limit concepts of lang whose titles match text. An
// exact title match ranks first, then phrase matches, then matches of any
// title term. Ties are ordered by document id.
func (t *TitleIndex) Resolve(ctx context.Context, lang concept.Language, text string, limit int) ([]concept.Concept, error) {
	if strings.TrimSpace(text) == "" {
		return nil, coreerrors.InvalidInput("empty text")
	}
	if limit <= 0 {
		limit = 1
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrIndexClosed
	}

	req := bleve.NewSearchRequestOptions(buildTitleQuery(lang, text), limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})
	res, err := t.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search titles: %w", err)
	}

	concepts := make([]concept.Concept, 0, len(res.Hits))
	for _, hit := range res.Hits {
		c, err := concept.ParseConcept(hit.ID)
		if err != nil {
			t.logger.Warn("skipping malformed title document",
				slog.String("id", hit.ID),
				slog.String("error", err.Error()))
			continue
		}
		concepts = append(concepts, c)
	}
	return concepts, nil
}

func buildTitleQuery(lang concept.Language, text string) query.Query {
	exact := bleve.NewTermQuery(titleKey(text))
	exact.SetField(fieldKey)
	exact.SetBoost(exactBoost)

	phrase := bleve.NewMatchPhraseQuery(text)
	phrase.SetField(fieldTitle)
	phrase.SetBoost(phraseBoost)

	terms := bleve.NewMatchQuery(text)
	terms.SetField(fieldTitle)

	langQuery := bleve.NewTermQuery(string(lang))
	langQuery.SetField(fieldLang)

	return bleve.NewConjunctionQuery(langQuery, bleve.NewDisjunctionQuery(exact, phrase, terms))
}

// DocCount returns the number of indexed titles across all languages.
func (t *TitleIndex) DocCount() (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return 0, ErrIndexClosed
	}
	return t.index.DocCount()
}

// Close releases the index. It is safe to call more than once.
func (t *TitleIndex) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.index.Close()
}

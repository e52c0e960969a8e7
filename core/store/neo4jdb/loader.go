package neo4jdb

import (
	"context"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/store/dump"
)

// DefaultLoadBatchSize is the number of buffered rows written per
// transaction.
const DefaultLoadBatchSize = 5000

var _ dump.Loader = (*Loader)(nil)

const (
	upsertPages = `
UNWIND $rows AS r
MERGE (p:Page {lang: r.lang, id: r.id})
SET p.title = r.title, p.ns = r.ns, p.redirect = r.redirect, p.disambig = r.disambig
`
	mergeLinks = `
UNWIND $rows AS r
MATCH (a:Page {lang: r.lang, id: r.src})
MATCH (b:Page {lang: r.lang, id: r.dst})
MERGE (a)-[:LINKS_TO]->(b)
`
	mergeCategories = `
UNWIND $rows AS r
MATCH (c:Page {lang: r.lang, id: r.category})
MATCH (m:Page {lang: r.lang, id: r.member})
MERGE (m)-[:IN_CATEGORY]->(c)
`
)

// Loader buffers rows and writes them with UNWIND batches, pages before
// links and categories within each batch. Links and memberships whose
// endpoints are unknown are dropped by the MATCH. A Loader is not safe for
// concurrent use.
type Loader struct {
	store     *Store
	batchSize int
	done      bool

	pages []map[string]any
	links []map[string]any
	cats  []map[string]any

	stats dump.Stats
}

// BeginLoad starts a bulk load. batchSize <= 0 uses DefaultLoadBatchSize.
func (s *Store) BeginLoad(ctx context.Context, batchSize int) (*Loader, error) {
	if _, err := s.conn(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultLoadBatchSize
	}
	return &Loader{store: s, batchSize: batchSize}, nil
}

func (l *Loader) active() error {
	if l.done {
		return coreerrors.InvalidInput("loader is not active")
	}
	return nil
}

func (l *Loader) pending() int {
	return len(l.pages) + len(l.links) + len(l.cats)
}

func (l *Loader) buffered(ctx context.Context) error {
	if l.pending() < l.batchSize {
		return nil
	}
	return l.flush(ctx)
}

func (l *Loader) flush(ctx context.Context) error {
	if l.pending() == 0 {
		return nil
	}
	batches := []struct {
		query string
		rows  []map[string]any
	}{
		{upsertPages, l.pages},
		{mergeLinks, l.links},
		{mergeCategories, l.cats},
	}
	err := l.store.write(ctx, "load batch", func(tx neo4j.ManagedTransaction) error {
		for _, b := range batches {
			if len(b.rows) == 0 {
				continue
			}
			res, err := tx.Run(ctx, b.query, map[string]any{"rows": b.rows})
			if err != nil {
				return err
			}
			if _, err := res.Consume(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.stats.Pages += len(l.pages)
	l.stats.Links += len(l.links)
	l.stats.CategoryMembers += len(l.cats)
	l.pages, l.links, l.cats = l.pages[:0], l.links[:0], l.cats[:0]
	return nil
}

// SavePage buffers a page upsert. The title is normalized.
func (l *Loader) SavePage(ctx context.Context, p concept.Page) error {
	if err := l.active(); err != nil {
		return err
	}
	title := concept.NormalizeTitle(p.Title)
	if title == "" {
		return coreerrors.InvalidInput("page %s has an empty title", p.Concept)
	}
	if !p.Namespace.IsValid() {
		return coreerrors.InvalidInput("page %s has unsupported namespace %s", p.Concept, p.Namespace)
	}
	l.pages = append(l.pages, map[string]any{
		"lang":     string(p.Concept.Lang),
		"id":       int64(p.Concept.ID),
		"title":    title,
		"ns":       int64(p.Namespace),
		"redirect": p.IsRedirect,
		"disambig": p.IsDisambig,
	})
	return l.buffered(ctx)
}

// SaveLink buffers the directed edge src -> dst in lang.
func (l *Loader) SaveLink(ctx context.Context, lang concept.Language, src, dst concept.LocalID) error {
	if err := l.active(); err != nil {
		return err
	}
	l.links = append(l.links, map[string]any{
		"lang": string(lang),
		"src":  int64(src),
		"dst":  int64(dst),
	})
	return l.buffered(ctx)
}

// SaveCategoryMember buffers a membership. Both concepts must be in the
// same language.
func (l *Loader) SaveCategoryMember(ctx context.Context, category, member concept.Concept) error {
	if err := l.active(); err != nil {
		return err
	}
	if category.Lang != member.Lang {
		return coreerrors.InvalidInput("category %s and member %s differ in language", category, member)
	}
	l.cats = append(l.cats, map[string]any{
		"lang":     string(category.Lang),
		"category": int64(category.ID),
		"member":   int64(member.ID),
	})
	return l.buffered(ctx)
}

// EndLoad writes the buffered rows and returns the totals. Row counts are
// rows sent, including links the MATCH dropped.
func (l *Loader) EndLoad() (dump.Stats, error) {
	if err := l.active(); err != nil {
		return l.stats, err
	}
	if err := l.flush(context.Background()); err != nil {
		return l.stats, err
	}
	l.done = true
	l.store.logger.Info("load finished",
		slog.Int("pages", l.stats.Pages),
		slog.Int("links", l.stats.Links),
		slog.Int("category_members", l.stats.CategoryMembers))
	return l.stats, nil
}

// Abort discards the buffered rows. Earlier batches stay written.
func (l *Loader) Abort() error {
	l.done = true
	l.pages, l.links, l.cats = nil, nil, nil
	return nil
}

// Stats returns the running totals of written rows.
func (l *Loader) Stats() dump.Stats {
	return l.stats
}

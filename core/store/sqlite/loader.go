package sqlite

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/store/dump"
)

// DefaultLoadBatchSize is the number of rows written per transaction.
const DefaultLoadBatchSize = 10000

var _ dump.Loader = (*Loader)(nil)

// Loader bulk-writes pages, links and category memberships. Rows are
// committed in batches; EndLoad commits the remainder. A Loader is not safe
// for concurrent use.
type Loader struct {
	store     *Store
	db        *sql.DB
	batchSize int
	pending   int

	tx    *sql.Tx
	pages *sql.Stmt
	links *sql.Stmt
	cats  *sql.Stmt

	stats dump.Stats
}

// BeginLoad starts a bulk load. batchSize <= 0 uses DefaultLoadBatchSize.
func (s *Store) BeginLoad(ctx context.Context, batchSize int) (*Loader, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultLoadBatchSize
	}
	l := &Loader{store: s, db: db, batchSize: batchSize}
	if err := l.begin(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loader) begin(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return l.store.retry.Classifier().Wrap("begin load", err)
	}
	stmts := []struct {
		query string
		dest  **sql.Stmt
	}{
		{`INSERT INTO pages (lang, id, title, ns, redirect, disambig) VALUES (?, ?, ?, ?, ?, ?)
		  ON CONFLICT (lang, id) DO UPDATE SET
		    title = excluded.title, ns = excluded.ns,
		    redirect = excluded.redirect, disambig = excluded.disambig`, &l.pages},
		{`INSERT OR IGNORE INTO links (lang, src, dst) VALUES (?, ?, ?)`, &l.links},
		{`INSERT OR IGNORE INTO categories (lang, category, member) VALUES (?, ?, ?)`, &l.cats},
	}
	for _, st := range stmts {
		stmt, err := tx.PrepareContext(ctx, st.query)
		if err != nil {
			tx.Rollback()
			return l.store.retry.Classifier().Wrap("prepare load statement", err)
		}
		*st.dest = stmt
	}
	l.tx = tx
	l.pending = 0
	return nil
}

func (l *Loader) commit() error {
	if l.tx == nil {
		return nil
	}
	for _, stmt := range []*sql.Stmt{l.pages, l.links, l.cats} {
		stmt.Close()
	}
	err := l.tx.Commit()
	l.tx = nil
	if err != nil {
		return l.store.retry.Classifier().Wrap("commit load batch", err)
	}
	return nil
}

func (l *Loader) wrote(ctx context.Context) error {
	l.pending++
	if l.pending < l.batchSize {
		return nil
	}
	if err := l.commit(); err != nil {
		return err
	}
	return l.begin(ctx)
}

func (l *Loader) active() error {
	if l.tx == nil {
		return coreerrors.InvalidInput("loader is not active")
	}
	return nil
}

// SavePage inserts or replaces a page. The title is normalized.
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
	_, err := l.pages.ExecContext(ctx,
		string(p.Concept.Lang), int64(p.Concept.ID), title, int(p.Namespace), p.IsRedirect, p.IsDisambig)
	if err != nil {
		return l.store.retry.Classifier().Wrap("save page "+p.Concept.String(), err)
	}
	l.stats.Pages++
	return l.wrote(ctx)
}

// SaveLink records the directed edge src -> dst in lang. Duplicate links are
// ignored.
func (l *Loader) SaveLink(ctx context.Context, lang concept.Language, src, dst concept.LocalID) error {
	if err := l.active(); err != nil {
		return err
	}
	if _, err := l.links.ExecContext(ctx, string(lang), int64(src), int64(dst)); err != nil {
		return l.store.retry.Classifier().Wrap("save link", err)
	}
	l.stats.Links++
	return l.wrote(ctx)
}

// SaveCategoryMember records member as belonging to category. Both must be
// in the same language.
func (l *Loader) SaveCategoryMember(ctx context.Context, category, member concept.Concept) error {
	if err := l.active(); err != nil {
		return err
	}
	if category.Lang != member.Lang {
		return coreerrors.InvalidInput("category %s and member %s differ in language", category, member)
	}
	if _, err := l.cats.ExecContext(ctx, string(category.Lang), int64(category.ID), int64(member.ID)); err != nil {
		return l.store.retry.Classifier().Wrap("save category member", err)
	}
	l.stats.CategoryMembers++
	return l.wrote(ctx)
}

// EndLoad commits the remaining rows and returns the totals.
func (l *Loader) EndLoad() (dump.Stats, error) {
	if err := l.commit(); err != nil {
		return l.stats, err
	}
	l.store.logger.Info("load finished",
		slog.Int("pages", l.stats.Pages),
		slog.Int("links", l.stats.Links),
		slog.Int("category_members", l.stats.CategoryMembers))
	return l.stats, nil
}

// Abort rolls back the uncommitted batch. Earlier batches stay committed.
func (l *Loader) Abort() error {
	if l.tx == nil {
		return nil
	}
	for _, stmt := range []*sql.Stmt{l.pages, l.links, l.cats} {
		stmt.Close()
	}
	err := l.tx.Rollback()
	l.tx = nil
	return err
}

// Stats returns the running totals.
func (l *Loader) Stats() dump.Stats {
	return l.stats
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

const articleFilter = "ns = 0 AND redirect = 0 AND disambig = 0"

func (s *Store) CountArticles(ctx context.Context, lang concept.Language) (int, error) {
	var n int
	err := s.read(ctx, "count articles", func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM pages WHERE lang = ? AND "+articleFilter,
			string(lang)).Scan(&n)
	})
	return n, err
}

func (s *Store) PageByID(ctx context.Context, lang concept.Language, id concept.LocalID) (concept.Page, error) {
	var p concept.Page
	err := s.read(ctx, "page by id", func(db *sql.DB) error {
		row := db.QueryRowContext(ctx,
			"SELECT id, title, ns, redirect, disambig FROM pages WHERE lang = ? AND id = ?",
			string(lang), int64(id))
		var err error
		p, err = scanPage(row, lang)
		if errors.Is(err, sql.ErrNoRows) {
			return coreerrors.NotFound("page %s", concept.New(lang, id))
		}
		return err
	})
	return p, err
}

// PageByTitle looks up a normalized title. When a title is shared, a
// non-redirect page wins, then the lowest id.
func (s *Store) PageByTitle(ctx context.Context, lang concept.Language, ns concept.Namespace, title string) (concept.Page, error) {
	title = concept.NormalizeTitle(title)
	var p concept.Page
	err := s.read(ctx, "page by title", func(db *sql.DB) error {
		row := db.QueryRowContext(ctx,
			`SELECT id, title, ns, redirect, disambig FROM pages
			 WHERE lang = ? AND ns = ? AND title = ?
			 ORDER BY redirect, id LIMIT 1`,
			string(lang), int(ns), title)
		var err error
		p, err = scanPage(row, lang)
		if errors.Is(err, sql.ErrNoRows) {
			return coreerrors.NotFound("%s page %q in %s", ns, title, lang)
		}
		return err
	})
	return p, err
}

// CategoryMembers returns the ids of the pages in category. A category page
// that does not exist fails with ErrNotFound.
func (s *Store) CategoryMembers(ctx context.Context, category concept.Concept) (concept.IDSet, error) {
	var ids concept.IDSet
	err := s.read(ctx, "category members", func(db *sql.DB) error {
		var err error
		ids, err = queryIDs(ctx, db,
			"SELECT member FROM categories WHERE lang = ? AND category = ?",
			string(category.Lang), int64(category.ID))
		if err != nil || !ids.IsEmpty() {
			return err
		}
		known, err := pageExists(ctx, db, category)
		if err != nil {
			return err
		}
		if !known {
			return coreerrors.NotFound("category %s", category)
		}
		return nil
	})
	return ids, err
}

// MarkDisambiguation flags the members of category as disambiguation pages.
func (s *Store) MarkDisambiguation(ctx context.Context, category concept.Concept) (int, error) {
	var n int64
	err := s.write(ctx, "mark disambiguation pages", func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE pages SET disambig = 1
			 WHERE lang = ? AND disambig = 0
			   AND id IN (SELECT member FROM categories WHERE lang = ? AND category = ?)`,
			string(category.Lang), string(category.Lang), int64(category.ID))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// ArticleTitles streams lang's articles in id order. It is not retried since
// fn may already have observed some pages.
func (s *Store) ArticleTitles(ctx context.Context, lang concept.Language, fn func(concept.Page) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT id, title, ns, redirect, disambig FROM pages WHERE lang = ? AND "+articleFilter+" ORDER BY id",
		string(lang))
	if err != nil {
		return s.retry.Classifier().Wrap("enumerate articles", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPage(rows, lang)
		if err != nil {
			return s.retry.Classifier().Wrap("scan article", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return s.retry.Classifier().Wrap("enumerate articles", err)
	}
	return nil
}

// PageIDs streams the id of every page of lang in id order. Like
// ArticleTitles it is not retried.
func (s *Store) PageIDs(ctx context.Context, lang concept.Language, fn func(concept.LocalID) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx, "SELECT id FROM pages WHERE lang = ? ORDER BY id", string(lang))
	if err != nil {
		return s.retry.Classifier().Wrap("enumerate pages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return s.retry.Classifier().Wrap("scan page id", err)
		}
		if err := fn(concept.LocalID(id)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return s.retry.Classifier().Wrap("enumerate pages", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner, lang concept.Language) (concept.Page, error) {
	var (
		id                 int64
		title              string
		ns                 int
		redirect, disambig bool
	)
	if err := row.Scan(&id, &title, &ns, &redirect, &disambig); err != nil {
		return concept.Page{}, err
	}
	return concept.Page{
		Concept:    concept.New(lang, concept.LocalID(id)),
		Title:      title,
		Namespace:  concept.Namespace(ns),
		IsRedirect: redirect,
		IsDisambig: disambig,
	}, nil
}

func pageExists(ctx context.Context, db *sql.DB, c concept.Concept) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx,
		"SELECT 1 FROM pages WHERE lang = ? AND id = ?",
		string(c.Lang), int64(c.ID)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", c, err)
	}
	return true, nil
}

func queryIDs(ctx context.Context, db *sql.DB, query string, args ...any) (concept.IDSet, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return concept.IDSet{}, err
	}
	defer rows.Close()

	var ids []concept.LocalID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return concept.IDSet{}, err
		}
		ids = append(ids, concept.LocalID(id))
	}
	if err := rows.Err(); err != nil {
		return concept.IDSet{}, err
	}
	return concept.NewIDSet(ids...), nil
}

package neo4jdb

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/adalundhe/linkrel/core/concept"
	"github.com/adalundhe/linkrel/core/disambig"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/graph"
)

var (
	_ graph.Store     = (*Store)(nil)
	_ disambig.Marker = (*Store)(nil)
)

const (
	articleMatch = `MATCH (p:Page {lang: $lang, ns: 0, redirect: false, disambig: false})`
	pageColumns  = `p.id AS id, p.title AS title, p.ns AS ns, p.redirect AS redirect, p.disambig AS disambig`
)

func (s *Store) CountArticles(ctx context.Context, lang concept.Language) (int, error) {
	var n int64
	err := s.read(ctx, "count articles", func(tx neo4j.ManagedTransaction) error {
		res, err := tx.Run(ctx, articleMatch+` RETURN count(p) AS n`,
			map[string]any{"lang": string(lang)})
		if err != nil {
			return err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return err
		}
		n, _, err = neo4j.GetRecordValue[int64](rec, "n")
		return err
	})
	return int(n), err
}

func (s *Store) PageByID(ctx context.Context, lang concept.Language, id concept.LocalID) (concept.Page, error) {
	var p concept.Page
	err := s.read(ctx, "page by id", func(tx neo4j.ManagedTransaction) error {
		res, err := tx.Run(ctx,
			`MATCH (p:Page {lang: $lang, id: $id}) RETURN `+pageColumns,
			map[string]any{"lang": string(lang), "id": int64(id)})
		if err != nil {
			return err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return err
			}
			return coreerrors.NotFound("page %s", concept.New(lang, id))
		}
		p, err = pageFromRecord(res.Record(), lang)
		return err
	})
	return p, err
}

// PageByTitle looks up a normalized title. When a title is shared, a
// non-redirect page wins, then the lowest id.
func (s *Store) PageByTitle(ctx context.Context, lang concept.Language, ns concept.Namespace, title string) (concept.Page, error) {
	title = concept.NormalizeTitle(title)
	var p concept.Page
	err := s.read(ctx, "page by title", func(tx neo4j.ManagedTransaction) error {
		res, err := tx.Run(ctx,
			`MATCH (p:Page {lang: $lang, ns: $ns, title: $title})
			 RETURN `+pageColumns+`
			 ORDER BY p.redirect, p.id LIMIT 1`,
			map[string]any{"lang": string(lang), "ns": int64(ns), "title": title})
		if err != nil {
			return err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return err
			}
			return coreerrors.NotFound("%s page %q in %s", ns, title, lang)
		}
		p, err = pageFromRecord(res.Record(), lang)
		return err
	})
	return p, err
}

// CategoryMembers returns the ids of the pages in category. A category page
// that does not exist fails with ErrNotFound.
func (s *Store) CategoryMembers(ctx context.Context, category concept.Concept) (concept.IDSet, error) {
	var ids concept.IDSet
	err := s.read(ctx, "category members", func(tx neo4j.ManagedTransaction) error {
		res, err := tx.Run(ctx,
			`MATCH (c:Page {lang: $lang, id: $id})
			 OPTIONAL MATCH (m:Page)-[:IN_CATEGORY]->(c)
			 RETURN m.id AS id`,
			conceptParams(category))
		if err != nil {
			return err
		}
		var rows int
		ids, rows, err = collectIDs(ctx, res)
		if err != nil {
			return err
		}
		if rows == 0 {
			return coreerrors.NotFound("category %s", category)
		}
		return nil
	})
	return ids, err
}

// MarkDisambiguation flags the members of category as disambiguation pages.
func (s *Store) MarkDisambiguation(ctx context.Context, category concept.Concept) (int, error) {
	var n int64
	err := s.write(ctx, "mark disambiguation pages", func(tx neo4j.ManagedTransaction) error {
		res, err := tx.Run(ctx,
			`MATCH (m:Page)-[:IN_CATEGORY]->(:Page {lang: $lang, id: $id})
			 WHERE coalesce(m.disambig, false) = false
			 SET m.disambig = true
			 RETURN count(m) AS n`,
			conceptParams(category))
		if err != nil {
			return err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return err
		}
		n, _, err = neo4j.GetRecordValue[int64](rec, "n")
		return err
	})
	return int(n), err
}

// ArticleTitles streams the indexable articles of lang in id order. The
// stream is read in one auto-commit query and is not retried.
func (s *Store) ArticleTitles(ctx context.Context, lang concept.Language, fn func(concept.Page) error) error {
	driver, err := s.conn()
	if err != nil {
		return err
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, articleMatch+` RETURN `+pageColumns+` ORDER BY p.id`,
		map[string]any{"lang": string(lang)})
	if err != nil {
		return s.retry.Classifier().Wrap("neo4j: article titles", err)
	}
	for res.Next(ctx) {
		p, err := pageFromRecord(res.Record(), lang)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := res.Err(); err != nil {
		return s.retry.Classifier().Wrap("neo4j: article titles", err)
	}
	return nil
}

// PageIDs streams the id of every page of lang in id order.
func (s *Store) PageIDs(ctx context.Context, lang concept.Language, fn func(concept.LocalID) error) error {
	driver, err := s.conn()
	if err != nil {
		return err
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, `MATCH (p:Page {lang: $lang}) RETURN p.id AS id ORDER BY id`,
		map[string]any{"lang": string(lang)})
	if err != nil {
		return s.retry.Classifier().Wrap("neo4j: page ids", err)
	}
	for res.Next(ctx) {
		id, _, err := neo4j.GetRecordValue[int64](res.Record(), "id")
		if err != nil {
			return fmt.Errorf("page id: %w", err)
		}
		if err := fn(concept.LocalID(id)); err != nil {
			return err
		}
	}
	if err := res.Err(); err != nil {
		return s.retry.Classifier().Wrap("neo4j: page ids", err)
	}
	return nil
}

// =============================================================================
// Record conversion
// =============================================================================

func conceptParams(c concept.Concept) map[string]any {
	return map[string]any{"lang": string(c.Lang), "id": int64(c.ID)}
}

func pageFromRecord(rec *neo4j.Record, lang concept.Language) (concept.Page, error) {
	id, _, err := neo4j.GetRecordValue[int64](rec, "id")
	if err != nil {
		return concept.Page{}, fmt.Errorf("page id: %w", err)
	}
	title, _, err := neo4j.GetRecordValue[string](rec, "title")
	if err != nil {
		return concept.Page{}, fmt.Errorf("page %d title: %w", id, err)
	}
	ns, _, err := neo4j.GetRecordValue[int64](rec, "ns")
	if err != nil {
		return concept.Page{}, fmt.Errorf("page %d namespace: %w", id, err)
	}
	// Flags written by other tools may be absent.
	redirect, _, _ := neo4j.GetRecordValue[bool](rec, "redirect")
	disambig, _, _ := neo4j.GetRecordValue[bool](rec, "disambig")

	return concept.Page{
		Concept:    concept.New(lang, concept.LocalID(id)),
		Title:      title,
		Namespace:  concept.Namespace(ns),
		IsRedirect: redirect,
		IsDisambig: disambig,
	}, nil
}

// collectIDs drains an "id" column into a set. Null ids, as produced by an
// OPTIONAL MATCH without a match, are skipped but counted as rows.
func collectIDs(ctx context.Context, res neo4j.ResultWithContext) (concept.IDSet, int, error) {
	var ids []concept.LocalID
	rows := 0
	for res.Next(ctx) {
		rows++
		id, isNil, err := neo4j.GetRecordValue[int64](res.Record(), "id")
		if err != nil {
			return concept.IDSet{}, rows, err
		}
		if !isNil {
			ids = append(ids, concept.LocalID(id))
		}
	}
	if err := res.Err(); err != nil {
		return concept.IDSet{}, rows, err
	}
	return concept.NewIDSet(ids...), rows, nil
}

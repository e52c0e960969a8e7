package sqlite

import (
	"context"
	"database/sql"

	"github.com/adalundhe/linkrel/core/concept"
)

// LinksTo returns the ids of pages linking to c.
func (s *Store) LinksTo(ctx context.Context, c concept.Concept) (concept.IDSet, error) {
	var ids concept.IDSet
	err := s.read(ctx, "links to "+c.String(), func(db *sql.DB) error {
		var err error
		ids, err = queryIDs(ctx, db,
			"SELECT src FROM links WHERE lang = ? AND dst = ?",
			string(c.Lang), int64(c.ID))
		return err
	})
	return ids, err
}

// LinksFrom returns the ids of pages c links to.
func (s *Store) LinksFrom(ctx context.Context, c concept.Concept) (concept.IDSet, error) {
	var ids concept.IDSet
	err := s.read(ctx, "links from "+c.String(), func(db *sql.DB) error {
		var err error
		ids, err = queryIDs(ctx, db,
			"SELECT dst FROM links WHERE lang = ? AND src = ?",
			string(c.Lang), int64(c.ID))
		return err
	})
	return ids, err
}

// HasConcept reports whether a page with c's id exists.
func (s *Store) HasConcept(ctx context.Context, c concept.Concept) (bool, error) {
	var known bool
	err := s.read(ctx, "has concept", func(db *sql.DB) error {
		var err error
		known, err = pageExists(ctx, db, c)
		return err
	})
	return known, err
}

package neo4jdb

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/adalundhe/linkrel/core/concept"
)

// LinksTo returns the ids of pages linking to c.
func (s *Store) LinksTo(ctx context.Context, c concept.Concept) (concept.IDSet, error) {
	return s.neighbors(ctx, "links to "+c.String(),
		`MATCH (n:Page)-[:LINKS_TO]->(:Page {lang: $lang, id: $id}) RETURN DISTINCT n.id AS id`, c)
}

// LinksFrom returns the ids of pages c links to.
func (s *Store) LinksFrom(ctx context.Context, c concept.Concept) (concept.IDSet, error) {
	return s.neighbors(ctx, "links from "+c.String(),
		`MATCH (:Page {lang: $lang, id: $id})-[:LINKS_TO]->(n:Page) RETURN DISTINCT n.id AS id`, c)
}

func (s *Store) neighbors(ctx context.Context, op, query string, c concept.Concept) (concept.IDSet, error) {
	var ids concept.IDSet
	err := s.read(ctx, op, func(tx neo4j.ManagedTransaction) error {
		res, err := tx.Run(ctx, query, conceptParams(c))
		if err != nil {
			return err
		}
		ids, _, err = collectIDs(ctx, res)
		return err
	})
	return ids, err
}

// HasConcept reports whether a page with c's id exists.
func (s *Store) HasConcept(ctx context.Context, c concept.Concept) (bool, error) {
	var known bool
	err := s.read(ctx, "has concept", func(tx neo4j.ManagedTransaction) error {
		res, err := tx.Run(ctx,
			`MATCH (p:Page {lang: $lang, id: $id}) RETURN count(p) > 0 AS known`,
			conceptParams(c))
		if err != nil {
			return err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return err
		}
		known, _, err = neo4j.GetRecordValue[bool](rec, "known")
		return err
	})
	return known, err
}

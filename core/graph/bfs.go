package graph

import (
	"context"

	"github.com/adalundhe/linkrel/core/concept"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

// OutboundDistance runs a breadth-first search from `from` over outbound
// links and returns the 1-indexed level at which `to` is first reached. The
// search expands at most maxDepth levels; found is false when `to` is not
// reached within the cap. Frontier concepts unknown to g contribute no edges.
func OutboundDistance(ctx context.Context, g ConceptGraph, from, to concept.Concept, maxDepth int) (level int, found bool, err error) {
	if from.Lang != to.Lang || maxDepth <= 0 {
		return 0, false, nil
	}

	visited := map[concept.LocalID]struct{}{from.ID: {}}
	frontier := []concept.LocalID{from.ID}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []concept.LocalID
		for _, id := range frontier {
			if err := ctx.Err(); err != nil {
				return 0, false, err
			}
			out, err := g.Outbound(ctx, from.WithID(id))
			if coreerrors.IsNotFound(err) {
				continue
			}
			if err != nil {
				return 0, false, err
			}
			if out.Contains(to.ID) {
				return depth, true, nil
			}
			if depth == maxDepth {
				continue
			}
			for _, n := range out.IDs() {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				next = append(next, n)
			}
		}
		frontier = next
	}
	return 0, false, nil
}

package sr

import (
	"math"
	"sort"

	"github.com/adalundhe/linkrel/core/concept"
)

// Entry is one ranked concept.
type Entry struct {
	ID    concept.LocalID `json:"concept_id"`
	Score float64         `json:"score"`
}

// RankedList is ordered by descending score with ties broken by lower id.
// It never contains duplicate ids.
type RankedList []Entry

// IDs returns the ranked ids in order.
func (l RankedList) IDs() []concept.LocalID {
	ids := make([]concept.LocalID, len(l))
	for i, e := range l {
		ids[i] = e.ID
	}
	return ids
}

// Lookup returns the score of id, if ranked.
func (l RankedList) Lookup(id concept.LocalID) (float64, bool) {
	for _, e := range l {
		if e.ID == id {
			return e.Score, true
		}
	}
	return 0, false
}

// Rank deduplicates entries keeping the highest score per id, drops NaN
// scores and excluded ids, sorts by descending score then ascending id, and
// truncates to k. A non-positive k keeps every entry.
func Rank(entries []Entry, k int, exclude ...concept.LocalID) RankedList {
	skip := make(map[concept.LocalID]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	best := make(map[concept.LocalID]float64, len(entries))
	for _, e := range entries {
		if math.IsNaN(e.Score) {
			continue
		}
		if _, excluded := skip[e.ID]; excluded {
			continue
		}
		if prev, seen := best[e.ID]; !seen || e.Score > prev {
			best[e.ID] = e.Score
		}
	}

	out := make(RankedList, 0, len(best))
	for id, score := range best {
		out = append(out, Entry{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})

	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

package concept

import (
	"slices"
)

// IDSet is an immutable, sorted, duplicate-free set of local ids. It backs
// neighbor sets and restriction sets. The zero value is the empty set.
type IDSet struct {
	ids []LocalID
}

// NewIDSet builds a set from ids in any order, dropping duplicates. The input
// slice is not retained.
func NewIDSet(ids ...LocalID) IDSet {
	if len(ids) == 0 {
		return IDSet{}
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return IDSet{ids: slices.Compact(sorted)}
}

// Len returns the number of ids in the set.
func (s IDSet) Len() int {
	return len(s.ids)
}

// IsEmpty reports whether the set has no members.
func (s IDSet) IsEmpty() bool {
	return len(s.ids) == 0
}

// Contains reports whether id is a member.
func (s IDSet) Contains(id LocalID) bool {
	_, found := slices.BinarySearch(s.ids, id)
	return found
}

// IDs returns the members in ascending order. The returned slice must not be
// modified.
func (s IDSet) IDs() []LocalID {
	return s.ids
}

// Intersect returns the members present in both s and other.
func (s IDSet) Intersect(other IDSet) IDSet {
	small, large := s.ids, other.ids
	if len(small) > len(large) {
		small, large = large, small
	}
	if len(small) == 0 {
		return IDSet{}
	}

	out := make([]LocalID, 0, len(small))
	i, j := 0, 0
	for i < len(small) && j < len(large) {
		switch {
		case small[i] < large[j]:
			i++
		case small[i] > large[j]:
			j++
		default:
			out = append(out, small[i])
			i++
			j++
		}
	}
	return IDSet{ids: out}
}

// IntersectCount returns |s ∩ other| without allocating.
func (s IDSet) IntersectCount(other IDSet) int {
	a, b := s.ids, other.ids
	n, i, j := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			n++
			i++
			j++
		}
	}
	return n
}

// Union returns the members present in either set.
func (s IDSet) Union(other IDSet) IDSet {
	if s.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return s
	}
	merged := make([]LocalID, 0, len(s.ids)+len(other.ids))
	merged = append(merged, s.ids...)
	merged = append(merged, other.ids...)
	slices.Sort(merged)
	return IDSet{ids: slices.Compact(merged)}
}

// Without returns the set with id removed.
func (s IDSet) Without(id LocalID) IDSet {
	idx, found := slices.BinarySearch(s.ids, id)
	if !found {
		return s
	}
	out := make([]LocalID, 0, len(s.ids)-1)
	out = append(out, s.ids[:idx]...)
	out = append(out, s.ids[idx+1:]...)
	return IDSet{ids: out}
}

// Concepts expands the set into concepts of lang.
func (s IDSet) Concepts(lang Language) []Concept {
	out := make([]Concept, len(s.ids))
	for i, id := range s.ids {
		out[i] = Concept{Lang: lang, ID: id}
	}
	return out
}

package dex

import "sort"

// OwnedSet holds the item ids a user has marked as owned.
type OwnedSet map[int]struct{}

func NewOwnedSet(ids ...int) OwnedSet {
	set := make(OwnedSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s OwnedSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

func (s OwnedSet) Add(id int) {
	s[id] = struct{}{}
}

func (s OwnedSet) Remove(id int) {
	delete(s, id)
}

func (s OwnedSet) Len() int {
	return len(s)
}

// IDs returns the members in ascending order.
func (s OwnedSet) IDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s OwnedSet) Clone() OwnedSet {
	clone := make(OwnedSet, len(s))
	for id := range s {
		clone[id] = struct{}{}
	}
	return clone
}

// Package relation computes the minimal change that turns the current members
// of a many-valued association into a desired membership.
//
// Callers always submit the complete desired set. Diff never touches storage
// and cannot fail; referential integrity of the ids is checked by whoever
// applies the Delta.
package relation

import (
	"cmp"
	"slices"
)

// Set is an unordered set of entity ids.
type Set[K comparable] map[K]struct{}

// NewSet builds a set from ids. Repeated ids collapse.
func NewSet[K comparable](ids ...K) Set[K] {
	s := make(Set[K], len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s Set[K]) Has(id K) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of ids in the set.
func (s Set[K]) Len() int { return len(s) }

// Minus returns the ids of s that are not in other.
func (s Set[K]) Minus(other Set[K]) Set[K] {
	out := make(Set[K])
	for id := range s {
		if !other.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Equal reports whether both sets hold the same ids.
func (s Set[K]) Equal(other Set[K]) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// Delta is the add/remove intent for one association. Add and Remove are
// always disjoint.
type Delta[K comparable] struct {
	Add    Set[K]
	Remove Set[K]
}

// Empty reports whether applying the delta changes nothing.
func (d Delta[K]) Empty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// Apply returns current with Remove taken out and Add put in. current is not
// modified.
func (d Delta[K]) Apply(current Set[K]) Set[K] {
	out := make(Set[K], len(current)+len(d.Add))
	for id := range current {
		if !d.Remove.Has(id) {
			out[id] = struct{}{}
		}
	}
	for id := range d.Add {
		out[id] = struct{}{}
	}
	return out
}

// Diff returns add = desired - current and remove = current - desired.
func Diff[K comparable](current, desired Set[K]) Delta[K] {
	return Delta[K]{
		Add:    desired.Minus(current),
		Remove: current.Minus(desired),
	}
}

// Policy tunes how a submitted membership is interpreted.
type Policy struct {
	// EmptyMeansNoop treats an empty desired set as "no change" instead of
	// "remove everyone".
	EmptyMeansNoop bool
}

// Reconcile is Diff under a Policy.
func Reconcile[K comparable](p Policy, current, desired Set[K]) Delta[K] {
	if p.EmptyMeansNoop && len(desired) == 0 {
		return Delta[K]{Add: Set[K]{}, Remove: Set[K]{}}
	}
	return Diff(current, desired)
}

// Sorted returns the ids of s in ascending order.
func Sorted[K cmp.Ordered](s Set[K]) []K {
	out := make([]K, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Package threadset implements a fixed-width bitset over worker
// thread identifiers. Grounded on spec.md §3/§4.1: with MaxThreads=64
// the whole set fits in one machine word, so every operation here is
// a single bit instruction — a generic bitset library (e.g.
// bits-and-blooms/bitset, multi-word by design) would add an
// indirection this hot path does not want, so ThreadSet is plain
// stdlib arithmetic on a uint64.
package threadset

import "math/bits"

// MaxThreads is the largest number of worker threads a ThreadSet can
// address. spec.md §3 allows {8, 64}; 64 is recommended so the set
// fits one word.
const MaxThreads = 64

// ThreadID identifies a worker thread in [0, MaxThreads).
type ThreadID uint8

// ThreadSet is a bitset of thread identifiers.
type ThreadSet uint64

// None is the empty set.
const None ThreadSet = 0

// Any returns the set of all threads in [0, n).
func Any(n int) ThreadSet {
	if n <= 0 {
		return None
	}
	if n >= MaxThreads {
		return ^ThreadSet(0)
	}
	return ThreadSet(1)<<uint(n) - 1
}

// Only returns the singleton set containing t.
func Only(t ThreadID) ThreadSet {
	return ThreadSet(1) << uint(t)
}

// Contains reports whether t is a member of s.
func (s ThreadSet) Contains(t ThreadID) bool {
	return s&Only(t) != 0
}

// Insert returns s with t added.
func (s ThreadSet) Insert(t ThreadID) ThreadSet {
	return s | Only(t)
}

// Remove returns s with t removed.
func (s ThreadSet) Remove(t ThreadID) ThreadSet {
	return s &^ Only(t)
}

// Intersect returns the intersection of s and o (the "∩" of spec.md §4.1).
func (s ThreadSet) Intersect(o ThreadSet) ThreadSet {
	return s & o
}

// Union returns the union of s and o.
func (s ThreadSet) Union(o ThreadSet) ThreadSet {
	return s | o
}

// Count returns the set's cardinality.
func (s ThreadSet) Count() int {
	return bits.OnesCount64(uint64(s))
}

// IsEmpty reports whether s has no members.
func (s ThreadSet) IsEmpty() bool {
	return s == None
}

// OnlyOneScheduled returns the sole member of s and true iff s has
// exactly one member.
func (s ThreadSet) OnlyOneScheduled() (ThreadID, bool) {
	if s.Count() != 1 {
		return 0, false
	}
	return ThreadID(bits.TrailingZeros64(uint64(s))), true
}

// ForEach calls f for every member of s in ascending thread-id order.
// It stops early if f returns false.
func (s ThreadSet) ForEach(f func(ThreadID) bool) {
	for s != None {
		t := ThreadID(bits.TrailingZeros64(uint64(s)))
		if !f(t) {
			return
		}
		s = s.Remove(t)
	}
}

// Slice materializes s as a sorted slice of thread ids. Intended for
// tests and diagnostics, not the hot path.
func (s ThreadSet) Slice() []ThreadID {
	out := make([]ThreadID, 0, s.Count())
	s.ForEach(func(t ThreadID) bool {
		out = append(out, t)
		return true
	})
	return out
}

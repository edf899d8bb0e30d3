// Package locks implements the thread-aware account-lock table
// (spec.md §4.2): for every account implicated by queued or in-flight
// work, which worker threads hold which kind of lock and at what
// depth, and which threads a new candidate could be scheduled on
// right now.
//
// The table is not safe for concurrent use: spec.md §5 dedicates it
// to a single scheduler goroutine. Violating a locking invariant
// (wrong-thread unlock, unlocking an absent key) is a programming
// error and panics, per spec.md §4.2/§4.7 — callers are required to
// gate Lock with TryLock.
package locks

import (
	"fmt"

	"github.com/luxfi/banking-scheduler/scheduler/threadset"
	"github.com/luxfi/banking-scheduler/scheduler/types"
)

type writeLock struct {
	holder threadset.ThreadID
	depth  uint32
}

type readLock struct {
	holders threadset.ThreadSet
	counts  [threadset.MaxThreads]uint32
}

type accountState struct {
	write *writeLock
	read  *readLock
}

// ThreadAwareAccountLocks is the per-account lock table of spec.md §4.2.
type ThreadAwareAccountLocks struct {
	numThreads int
	limit      *uint32 // nil == unbounded sequential-queue limit L
	accounts   map[types.AccountKey]*accountState
}

// New constructs a lock table for numThreads worker threads
// (1 <= numThreads <= threadset.MaxThreads). limit is the optional
// sequential-queue bound L from spec.md §3; pass nil for unbounded.
func New(numThreads int, limit *uint32) *ThreadAwareAccountLocks {
	if numThreads < 1 || numThreads > threadset.MaxThreads {
		panic(fmt.Sprintf("locks: numThreads %d out of range [1,%d]", numThreads, threadset.MaxThreads))
	}
	return &ThreadAwareAccountLocks{
		numThreads: numThreads,
		limit:      limit,
		accounts:   make(map[types.AccountKey]*accountState),
	}
}

func (l *ThreadAwareAccountLocks) any() threadset.ThreadSet {
	return threadset.Any(l.numThreads)
}

func (l *ThreadAwareAccountLocks) underLimit(n uint32) bool {
	return l.limit == nil || n < *l.limit
}

// writeSchedulable implements the write_schedulable(a) column of the
// spec.md §4.2 table.
func (l *ThreadAwareAccountLocks) writeSchedulable(a types.AccountKey) threadset.ThreadSet {
	st, ok := l.accounts[a]
	if !ok {
		return l.any()
	}
	switch {
	case st.write != nil && st.read == nil:
		if l.underLimit(st.write.depth) {
			return threadset.Only(st.write.holder)
		}
		return threadset.None
	case st.write == nil && st.read != nil:
		if t, single := st.read.holders.OnlyOneScheduled(); single {
			if l.underLimit(st.read.counts[t]) {
				return threadset.Only(t)
			}
		}
		return threadset.None
	case st.write != nil && st.read != nil:
		w := st.write.holder
		assertSameHolder(a, w, st.read.holders)
		total := st.write.depth + st.read.counts[w]
		if l.underLimit(total) {
			return threadset.Only(w)
		}
		return threadset.None
	default:
		return l.any()
	}
}

// readSchedulable implements the read_schedulable(a) column of the
// spec.md §4.2 table.
func (l *ThreadAwareAccountLocks) readSchedulable(a types.AccountKey) threadset.ThreadSet {
	st, ok := l.accounts[a]
	if !ok {
		return l.any()
	}
	switch {
	case st.write != nil && st.read == nil:
		return threadset.Only(st.write.holder)
	case st.write == nil && st.read != nil:
		out := l.any()
		st.read.holders.ForEach(func(t threadset.ThreadID) bool {
			if !l.underLimit(st.read.counts[t]) {
				out = out.Remove(t)
			}
			return true
		})
		return out
	case st.write != nil && st.read != nil:
		assertSameHolder(a, st.write.holder, st.read.holders)
		return threadset.Only(st.write.holder)
	default:
		return l.any()
	}
}

func assertSameHolder(a types.AccountKey, w threadset.ThreadID, readers threadset.ThreadSet) {
	if readers != threadset.Only(w) {
		panic(fmt.Sprintf("locks: account %x has write holder %d but read holders %v (must be {%d})", a, w, readers.Slice(), w))
	}
}

// AccountsSchedulableThreads returns the set of threads a transaction
// with the given write/read account sets could be scheduled on right
// now (spec.md §4.2).
func (l *ThreadAwareAccountLocks) AccountsSchedulableThreads(writes, reads []types.AccountKey) threadset.ThreadSet {
	s := l.any()
	for _, a := range writes {
		s = s.Intersect(l.writeSchedulable(a))
		if s.IsEmpty() {
			return threadset.None
		}
	}
	for _, a := range reads {
		s = s.Intersect(l.readSchedulable(a))
		if s.IsEmpty() {
			return threadset.None
		}
	}
	return s
}

// TryLockAccounts computes the schedulable set; if non-empty it calls
// selector to pick a thread, applies LockAccounts for that thread, and
// returns (thread, true). If empty, selector is never invoked and it
// returns (0, false).
func (l *ThreadAwareAccountLocks) TryLockAccounts(writes, reads []types.AccountKey, selector types.Selector) (threadset.ThreadID, bool) {
	s := l.AccountsSchedulableThreads(writes, reads)
	if s.IsEmpty() {
		return 0, false
	}
	t := selector(s)
	l.LockAccounts(writes, reads, t)
	return t, true
}

// LockAccounts applies the write/read reservations to thread t. It is
// a programming error to call this for an account/thread combination
// that AccountsSchedulableThreads would not have permitted.
func (l *ThreadAwareAccountLocks) LockAccounts(writes, reads []types.AccountKey, t threadset.ThreadID) {
	for _, a := range writes {
		st := l.accountOrNew(a)
		if st.read != nil && st.read.holders != threadset.None && st.read.holders != threadset.Only(t) {
			panic(fmt.Sprintf("locks: cannot write-lock %x on thread %d: foreign read holders %v", a, t, st.read.holders.Slice()))
		}
		if st.write == nil {
			st.write = &writeLock{holder: t, depth: 1}
			continue
		}
		if st.write.holder != t {
			panic(fmt.Sprintf("locks: cannot write-lock %x on thread %d: already held by thread %d", a, t, st.write.holder))
		}
		st.write.depth++
	}
	for _, a := range reads {
		st := l.accountOrNew(a)
		if st.write != nil && st.write.holder != t {
			panic(fmt.Sprintf("locks: cannot read-lock %x on thread %d: write-held by thread %d", a, t, st.write.holder))
		}
		if st.read == nil {
			st.read = &readLock{}
		}
		st.read.holders = st.read.holders.Insert(t)
		st.read.counts[t]++
	}
}

func (l *ThreadAwareAccountLocks) accountOrNew(a types.AccountKey) *accountState {
	st, ok := l.accounts[a]
	if !ok {
		st = &accountState{}
		l.accounts[a] = st
	}
	return st
}

// UnlockAccounts releases the write/read reservations thread t holds
// on the given accounts. It is a programming error to unlock an
// account/thread combination that was not locked.
func (l *ThreadAwareAccountLocks) UnlockAccounts(writes, reads []types.AccountKey, t threadset.ThreadID) {
	for _, a := range writes {
		st, ok := l.accounts[a]
		if !ok || st.write == nil || st.write.holder != t {
			panic(fmt.Sprintf("locks: unlock write on %x by thread %d: not held by that thread", a, t))
		}
		st.write.depth--
		if st.write.depth == 0 {
			st.write = nil
			l.gc(a, st)
		}
	}
	for _, a := range reads {
		st, ok := l.accounts[a]
		if !ok || st.read == nil || st.read.counts[t] == 0 {
			panic(fmt.Sprintf("locks: unlock read on %x by thread %d: not held by that thread", a, t))
		}
		st.read.counts[t]--
		if st.read.counts[t] == 0 {
			st.read.holders = st.read.holders.Remove(t)
			if st.read.holders.IsEmpty() {
				st.read = nil
			}
		}
		l.gc(a, st)
	}
}

func (l *ThreadAwareAccountLocks) gc(a types.AccountKey, st *accountState) {
	if st.write == nil && st.read == nil {
		delete(l.accounts, a)
	}
}

// CheckInvariants re-validates property 1/2 of spec.md §8 across every
// tracked account. It is exported only for tests; production code
// never calls it.
func (l *ThreadAwareAccountLocks) CheckInvariants() error {
	for a, st := range l.accounts {
		if st.write == nil && st.read == nil {
			return fmt.Errorf("account %x: empty entry left behind", a)
		}
		if st.read != nil {
			var expect threadset.ThreadSet
			for t := 0; t < threadset.MaxThreads; t++ {
				if st.read.counts[t] > 0 {
					expect = expect.Insert(threadset.ThreadID(t))
				}
			}
			if expect != st.read.holders {
				return fmt.Errorf("account %x: read holder set %v does not match positive counts %v", a, st.read.holders.Slice(), expect.Slice())
			}
		}
		if st.write != nil && st.read != nil && st.read.holders != threadset.Only(st.write.holder) {
			return fmt.Errorf("account %x: mixed lock read holders %v != write holder {%d}", a, st.read.holders.Slice(), st.write.holder)
		}
	}
	return nil
}

package queue

import "github.com/luxfi/banking-scheduler/scheduler/container"

// lockSide tracks one kind (read or write) of currently-scheduled
// (in-flight) reservations on a single account: how many holders, and
// the lowest-priority one among them (spec.md §4.4).
type lockSide struct {
	count uint32
	min   *container.PriorityID
}

func (s *lockSide) lockOn(tx container.PriorityID) {
	s.count++
	if s.min == nil || s.min.Before(tx) {
		// tx is worse than (or there was no) current minimum: it becomes
		// the new lowest-priority holder.
		m := tx
		s.min = &m
	}
}

func (s *lockSide) unlockOn() {
	if s.count == 0 {
		panic("queue: unlock on account lock side with zero count")
	}
	s.count--
	if s.count == 0 {
		// The scheduler dispatches in strict priority order on each
		// thread, so the lowest-priority in-flight holder is always the
		// last to finish; tracking only the minimum is therefore
		// sufficient, and clearing it on the last release is correct
		// without having to recompute the new minimum.
		s.min = nil
	}
}

// AccountLock is the per-account, thread-agnostic summary of
// currently in-flight reservations used to decide whether a new
// candidate may join the batch currently being assembled (spec.md
// §4.4). It is distinct from locks.ThreadAwareAccountLocks, which
// additionally tracks which worker thread holds what.
type AccountLock struct {
	write lockSide
	read  lockSide
}

// LockOnTransaction records tx as a new in-flight holder.
func (a *AccountLock) LockOnTransaction(tx container.PriorityID, isWrite bool) {
	if isWrite {
		a.write.lockOn(tx)
	} else {
		a.read.lockOn(tx)
	}
}

// UnlockOnTransaction releases one in-flight holder.
func (a *AccountLock) UnlockOnTransaction(isWrite bool) {
	if isWrite {
		a.write.unlockOn()
	} else {
		a.read.unlockOn()
	}
}

// worse returns whichever of a, b sorts later (is lower priority),
// treating nil as "absent" (the other one wins outright).
func worse(a, b *container.PriorityID) *container.PriorityID {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.Before(*b):
		return b
	default:
		return a
	}
}

// MinBlockingTransaction returns the lowest-priority in-flight
// transaction that would conflict with a candidate touching this
// account, per spec.md §4.4:
//   - a write candidate is blocked by either a scheduled writer or a
//     scheduled reader;
//   - a read candidate is blocked only by a scheduled writer.
func (a *AccountLock) MinBlockingTransaction(isWrite bool) *container.PriorityID {
	if isWrite {
		return worse(a.write.min, a.read.min)
	}
	return a.write.min
}

// Empty reports whether neither side currently has a holder.
func (a *AccountLock) Empty() bool {
	return a.write.count == 0 && a.read.count == 0
}

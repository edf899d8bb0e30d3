package queue

import (
	"github.com/google/btree"

	"github.com/luxfi/banking-scheduler/scheduler/container"
)

func txRefLess(a, b *TransactionRef) bool {
	return a.PriorityID().Before(b.PriorityID())
}

// btreeDegree is an arbitrary, unremarkable B-tree fan-out; these
// trees hold at most a handful of pending references per account in
// practice, so the exact degree has no measurable effect.
const btreeDegree = 32

// AccountTransactionQueue is the per-account bookkeeping of spec.md
// §4.4: priority-ordered sets of every transaction referencing this
// account (pending or in-flight), plus a summary of which of those
// are currently dispatched.
type AccountTransactionQueue struct {
	reads  *btree.BTreeG[*TransactionRef]
	writes *btree.BTreeG[*TransactionRef]
	lock   AccountLock
}

// NewAccountTransactionQueue constructs an empty per-account queue.
func NewAccountTransactionQueue() *AccountTransactionQueue {
	return &AccountTransactionQueue{
		reads:  btree.NewG(btreeDegree, txRefLess),
		writes: btree.NewG(btreeDegree, txRefLess),
	}
}

func (q *AccountTransactionQueue) set(isWrite bool) *btree.BTreeG[*TransactionRef] {
	if isWrite {
		return q.writes
	}
	return q.reads
}

// InsertTransaction adds tx to the read or write ordered set.
func (q *AccountTransactionQueue) InsertTransaction(tx *TransactionRef, isWrite bool) {
	q.set(isWrite).ReplaceOrInsert(tx)
}

// RemoveTransaction removes tx from the read or write ordered set. It
// returns true iff both sets are now empty, signalling the parent
// account_queues map may evict this entry.
func (q *AccountTransactionQueue) RemoveTransaction(tx *TransactionRef, isWrite bool) bool {
	q.set(isWrite).Delete(tx)
	return q.reads.Len() == 0 && q.writes.Len() == 0
}

// LockTransaction records tx as newly dispatched (in-flight) on this
// account, for blocking-decision purposes (spec.md §4.5 lock_batch).
func (q *AccountTransactionQueue) LockTransaction(tx *TransactionRef, isWrite bool) {
	q.lock.LockOnTransaction(tx.PriorityID(), isWrite)
}

// UnlockTransaction releases tx's in-flight status on this account.
func (q *AccountTransactionQueue) UnlockTransaction(isWrite bool) {
	q.lock.UnlockOnTransaction(isWrite)
}

// MinBlockingTransaction reports the lowest-priority in-flight
// transaction on this account that would block a candidate of the
// given write/read-ness (spec.md §4.4).
func (q *AccountTransactionQueue) MinBlockingTransaction(isWrite bool) *container.PriorityID {
	return q.lock.MinBlockingTransaction(isWrite)
}

// Empty reports whether the account has no pending or in-flight
// references left at all.
func (q *AccountTransactionQueue) Empty() bool {
	return q.reads.Len() == 0 && q.writes.Len() == 0
}

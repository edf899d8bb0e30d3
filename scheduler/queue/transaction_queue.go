// Package queue combines the bounded priority container with
// per-account bookkeeping into the TransactionQueue of spec.md §4.5:
// the structure the central scheduler drives to assemble consume and
// forwarding batches and to process completions.
package queue

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/banking-scheduler/scheduler/container"
	"github.com/luxfi/banking-scheduler/scheduler/types"
)

// ForwardDecision is the caller-supplied outcome of filtering one
// packet during forwarding-batch assembly (spec.md §4.5
// get_forwarding_batch).
type ForwardDecision int

const (
	// DropPacket removes the packet from the queue without forwarding it.
	DropPacket ForwardDecision = iota
	// ForwardPacket removes the packet from the queue and returns it for
	// transmission.
	ForwardPacket
	// ForwardAndHoldPacket returns the packet for transmission but
	// retains it in the queue.
	ForwardAndHoldPacket
)

// BatchEntry pairs a transaction reference with its packet, the unit
// the scheduler hands to a worker.
type BatchEntry struct {
	Ref    *TransactionRef
	Packet types.DeserializedPacket
}

// TransactionQueue is the structure of spec.md §4.5.
type TransactionQueue struct {
	pending       *container.Container
	accountQueues map[types.AccountKey]*AccountTransactionQueue
	tracking      map[types.MessageHash]*TransactionRef
	byID          map[types.TransactionID]*TransactionRef
	blocked       map[types.MessageHash][]*TransactionRef
}

// New constructs a TransactionQueue whose pending container is bounded
// to capacity entries (spec.md §3 capacity C).
func New(capacity int) *TransactionQueue {
	return &TransactionQueue{
		pending:       container.New(capacity),
		accountQueues: make(map[types.AccountKey]*AccountTransactionQueue),
		tracking:      make(map[types.MessageHash]*TransactionRef),
		byID:          make(map[types.TransactionID]*TransactionRef),
		blocked:       make(map[types.MessageHash][]*TransactionRef),
	}
}

// deriveID maps a message-hash to the container's integer id space.
// The scheduler's dedup key of record remains the full message hash
// (tracking is keyed on it); this truncation only has to be unique
// enough to index the in-memory heap, and collisions are assumed
// negligible at the container's bounded scale (spec.md §9 "dedup key"
// open question — resolved in favor of message-hash).
func deriveID(h types.MessageHash) types.TransactionID {
	return types.TransactionID(binary.BigEndian.Uint64(h[:8]))
}

// Contains reports whether hash is currently tracked, for the
// scheduler's ingress-dedup check (spec.md §4.6 step 2).
func (q *TransactionQueue) Contains(hash types.MessageHash) bool {
	_, ok := q.tracking[hash]
	return ok
}

// Len returns the number of entries currently in the pending heap.
func (q *TransactionQueue) Len() int { return q.pending.Len() }

func (q *TransactionQueue) accountQueue(a types.AccountKey) *AccountTransactionQueue {
	aq, ok := q.accountQueues[a]
	if !ok {
		aq = NewAccountTransactionQueue()
		q.accountQueues[a] = aq
	}
	return aq
}

// InsertTransaction inserts a newly-sanitized transaction (spec.md
// §4.5). It asserts the message-hash is not already tracked — the
// scheduler is required to dedup before calling, so a violation here
// is a programming error. Returns false if the container was full and
// this transaction was itself the new lowest-priority entry (dropped,
// nothing changed).
func (q *TransactionQueue) InsertTransaction(txn types.SanitizedTransactionTTL, packet types.DeserializedPacket) bool {
	if q.Contains(txn.MessageHash) {
		panic(fmt.Sprintf("queue: transaction %x inserted twice", txn.MessageHash))
	}

	id := deriveID(txn.MessageHash)
	accepted, evictedID, hadEviction := q.pending.Insert(id, txn.Priority, packet, txn)
	if !accepted {
		return false
	}

	ref := &TransactionRef{
		ID:          id,
		MessageHash: txn.MessageHash,
		Priority:    txn.Priority,
		Writes:      txn.Writes,
		Reads:       txn.Reads,
		MaxAgeSlot:  txn.MaxAgeSlot,
	}
	q.tracking[ref.MessageHash] = ref
	q.byID[ref.ID] = ref
	for _, a := range ref.Writes {
		q.accountQueue(a).InsertTransaction(ref, true)
	}
	for _, a := range ref.Reads {
		q.accountQueue(a).InsertTransaction(ref, false)
	}

	if hadEviction {
		if evictedRef, ok := q.byID[evictedID]; ok {
			q.removeRefFully(evictedRef)
		}
	}
	return true
}

// reinsertPending pushes ref's packet/txn back into the pending
// container under its existing id, for every path that returns an
// already-tracked transaction to the heap (retry, unblock,
// ForwardAndHold). It handles both directions capacity overflow can
// take: if the reinsert evicts a *different* transaction, that
// transaction is torn down via removeRefFully exactly as
// InsertTransaction's own eviction path does; if the container is
// full and ref is itself the new lowest-priority entry, the insert is
// declined and ref is torn down instead — spec.md §4.7's "capacity
// overflow... silently drops the lowest-priority candidate" applies
// here just as it does to a first-time insert. Without this, a
// reinsertion that loses the capacity race would leave tracking/byID/
// account-queue entries referencing a transaction id the container no
// longer has a packet for. Grounded on
// insert_transaction_into_pending_queue in the original source, which
// calls remove_transaction on the dropped packet for the same reason.
func (q *TransactionQueue) reinsertPending(ref *TransactionRef, packet types.DeserializedPacket, txn types.SanitizedTransactionTTL) {
	accepted, evictedID, hadEviction := q.pending.Insert(ref.ID, ref.Priority, packet, txn)
	if hadEviction {
		if evictedRef, ok := q.byID[evictedID]; ok {
			q.removeRefFully(evictedRef)
		}
	}
	if !accepted {
		q.removeRefFully(ref)
	}
}

// removeRefFully tears down every cross-reference to ref: the
// tracking/id-index entries, its membership in every account's
// ordered sets (evicting the account entry if it becomes empty), its
// slot in the blocked map if it was parked, and its packet/transaction
// entry in the pending container if one still exists there. The last
// step is a no-op when ref was evicted by Container.Insert (which
// already deleted its own map entries) but is required when ref is
// being dropped after having only been popped via PopMax — popping
// removes the heap entry, not the id-keyed packet/transaction maps —
// otherwise Contains/GetPacket would keep reporting a finalized or
// dropped transaction as present.
func (q *TransactionQueue) removeRefFully(ref *TransactionRef) {
	delete(q.tracking, ref.MessageHash)
	delete(q.byID, ref.ID)
	q.pending.Remove(ref.ID)

	for _, a := range ref.Writes {
		q.removeFromAccount(a, ref, true)
	}
	for _, a := range ref.Reads {
		q.removeFromAccount(a, ref, false)
	}

	if ref.BlockedBy != nil {
		q.removeFromBlocked(*ref.BlockedBy, ref)
	}
}

func (q *TransactionQueue) removeFromAccount(a types.AccountKey, ref *TransactionRef, isWrite bool) {
	aq, ok := q.accountQueues[a]
	if !ok {
		return
	}
	if aq.RemoveTransaction(ref, isWrite) {
		delete(q.accountQueues, a)
	}
}

func (q *TransactionQueue) removeFromBlocked(blocker types.MessageHash, ref *TransactionRef) {
	list := q.blocked[blocker]
	for i, r := range list {
		if r == ref {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(q.blocked, blocker)
	} else {
		q.blocked[blocker] = list
	}
}

// GetConsumeBatch assembles a batch by repeatedly popping the highest
// priority pending transaction and testing it against currently
// in-flight holders on its accounts (spec.md §4.5). Non-conflicting
// candidates are added to the batch and their accounts locked
// (lock_batch); conflicting candidates are parked in the blocked map
// and not re-enqueued. Stops at maxBatchSize or an empty heap.
func (q *TransactionQueue) GetConsumeBatch(maxBatchSize int) []BatchEntry {
	batch := make([]BatchEntry, 0, maxBatchSize)
	for len(batch) < maxBatchSize {
		pqid, ok := q.pending.PopMax()
		if !ok {
			break
		}
		ref, ok := q.byID[pqid.ID]
		if !ok {
			panic(fmt.Sprintf("queue: pending id %d has no tracked transaction", pqid.ID))
		}

		if blocker := q.minBlocker(ref); blocker != nil {
			ref.BlockedBy = blocker
			q.blocked[*blocker] = append(q.blocked[*blocker], ref)
			continue
		}

		for _, a := range ref.Writes {
			q.accountQueue(a).LockTransaction(ref, true)
		}
		for _, a := range ref.Reads {
			q.accountQueue(a).LockTransaction(ref, false)
		}

		packet, ok := q.pending.GetPacket(ref.ID)
		if !ok {
			panic(fmt.Sprintf("queue: id %d missing packet entry at batch assembly", ref.ID))
		}
		batch = append(batch, BatchEntry{Ref: ref, Packet: packet})
	}
	return batch
}

// minBlocker returns the message-hash of the lowest-priority in-flight
// transaction across all of ref's accounts that would conflict with
// it, or nil if none blocks it (spec.md §4.4's "minimum of minimums").
func (q *TransactionQueue) minBlocker(ref *TransactionRef) *types.MessageHash {
	var blocker *container.PriorityID
	for _, a := range ref.Writes {
		if aq, ok := q.accountQueues[a]; ok {
			blocker = worse(blocker, aq.MinBlockingTransaction(true))
		}
	}
	for _, a := range ref.Reads {
		if aq, ok := q.accountQueues[a]; ok {
			blocker = worse(blocker, aq.MinBlockingTransaction(false))
		}
	}
	if blocker == nil {
		return nil
	}
	blockerRef, ok := q.byID[blocker.ID]
	if !ok {
		panic(fmt.Sprintf("queue: blocking id %d has no tracked transaction", blocker.ID))
	}
	h := blockerRef.MessageHash
	return &h
}

// CompleteOrRetry processes one transaction's outcome from a completed
// batch (spec.md §4.5 complete_or_retry). On success it releases every
// account's in-flight lock, removes the transaction entirely, and
// unblocks anything parked behind it. On retry it releases the
// in-flight lock (so future batch assembly no longer sees it as a
// blocker) but leaves the tracking and account-queue entries intact,
// re-enqueuing it in the pending heap for reconsideration — the base
// design's chosen retry policy (spec.md §9 Open Question, resolved in
// SPEC_FULL.md).
func (q *TransactionQueue) CompleteOrRetry(hash types.MessageHash, retry bool) {
	ref, ok := q.tracking[hash]
	if !ok {
		panic(fmt.Sprintf("queue: completion for untracked transaction %x", hash))
	}

	for _, a := range ref.Writes {
		q.accountQueues[a].UnlockTransaction(true)
	}
	for _, a := range ref.Reads {
		q.accountQueues[a].UnlockTransaction(false)
	}

	if retry {
		packet, ok := q.pending.GetPacket(ref.ID)
		if !ok {
			panic(fmt.Sprintf("queue: retry for id %d missing packet entry", ref.ID))
		}
		txn, ok := q.pending.GetTransaction(ref.ID)
		if !ok {
			txn = types.SanitizedTransactionTTL{
				MessageHash: ref.MessageHash,
				Writes:      ref.Writes,
				Reads:       ref.Reads,
				Priority:    ref.Priority,
				MaxAgeSlot:  ref.MaxAgeSlot,
			}
		}
		q.reinsertPending(ref, packet, txn)
		return
	}

	q.removeRefFully(ref)
	q.unblock(hash)
}

// unblock re-inserts every transaction parked behind blocker's
// message-hash back into the pending heap for reconsideration.
func (q *TransactionQueue) unblock(blocker types.MessageHash) {
	parked := q.blocked[blocker]
	delete(q.blocked, blocker)
	for _, ref := range parked {
		ref.BlockedBy = nil
		packet, ok := q.pending.GetPacket(ref.ID)
		if !ok {
			// The blocked transaction may itself have been evicted while
			// parked; nothing to re-enqueue in that case.
			continue
		}
		txn := types.SanitizedTransactionTTL{
			MessageHash: ref.MessageHash,
			Writes:      ref.Writes,
			Reads:       ref.Reads,
			Priority:    ref.Priority,
			MaxAgeSlot:  ref.MaxAgeSlot,
		}
		q.reinsertPending(ref, packet, txn)
	}
}

// GetForwardingBatch pops up to maxBatchSize pending transactions by
// priority, without any conflict check, and submits each packet to
// decide (spec.md §4.5 get_forwarding_batch). Held packets are put
// back into the pending container only after the pass, so each
// transaction is offered to decide at most once per call.
func (q *TransactionQueue) GetForwardingBatch(maxBatchSize int, decide func(types.DeserializedPacket) ForwardDecision) []types.DeserializedPacket {
	out := make([]types.DeserializedPacket, 0, maxBatchSize)
	var held []BatchEntry
	for i := 0; i < maxBatchSize; i++ {
		pqid, ok := q.pending.PopMax()
		if !ok {
			break
		}
		ref, ok := q.byID[pqid.ID]
		if !ok {
			panic(fmt.Sprintf("queue: pending id %d has no tracked transaction", pqid.ID))
		}
		packet, ok := q.pending.GetPacket(ref.ID)
		if !ok {
			panic(fmt.Sprintf("queue: id %d missing packet entry at forwarding assembly", ref.ID))
		}

		switch decide(packet) {
		case DropPacket:
			q.removeRefFully(ref)
		case ForwardPacket:
			q.removeRefFully(ref)
			out = append(out, packet)
		case ForwardAndHoldPacket:
			held = append(held, BatchEntry{Ref: ref, Packet: packet})
			out = append(out, packet)
		}
	}
	for _, e := range held {
		txn, _ := q.pending.GetTransaction(e.Ref.ID)
		q.reinsertPending(e.Ref, e.Packet, txn)
	}
	return out
}

// MarkForwarded sets the Forwarded flag on the tracked packet for
// hash so subsequent forwarding passes skip it (spec.md §4.5
// mark_forwarded). No-op if hash is not tracked (it may have
// completed or been dropped concurrently with a forwarding decision).
func (q *TransactionQueue) MarkForwarded(hash types.MessageHash) {
	ref, ok := q.tracking[hash]
	if !ok {
		return
	}
	q.pending.MutatePacket(ref.ID, func(p *types.DeserializedPacket) {
		p.Forwarded = true
	})
}

// Package container implements the bounded priority-ordered
// transaction container of spec.md §4.3: a capacity-bounded heap of
// TransactionPriorityId plus id-keyed maps for the raw packet and the
// sanitized transaction. Insert, eviction and Remove update the heap
// and both maps together; PopMax, TakeTopN and Drain remove only the
// heap entry, leaving the packet and transaction entries until Remove.
package container

import (
	"container/heap"
	"fmt"

	"github.com/luxfi/banking-scheduler/scheduler/types"
)

// PriorityID is a (priority, id) pair with the total order of
// spec.md §4.3: higher priority first, id breaks ties.
type PriorityID struct {
	Priority uint64
	ID       types.TransactionID
}

// Before reports whether p sorts ahead of o (p is higher priority, or
// equal priority and a smaller id).
func (p PriorityID) Before(o PriorityID) bool {
	if p.Priority != o.Priority {
		return p.Priority > o.Priority
	}
	return p.ID < o.ID
}

type pqHeap []PriorityID

func (h pqHeap) Len() int            { return len(h) }
func (h pqHeap) Less(i, j int) bool  { return h[i].Before(h[j]) }
func (h pqHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pqHeap) Push(x interface{}) { *h = append(*h, x.(PriorityID)) }
func (h *pqHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Container is the bounded priority heap plus packet/transaction maps
// of spec.md §4.3.
type Container struct {
	capacity int
	heap     pqHeap
	packets  map[types.TransactionID]types.DeserializedPacket
	txns     map[types.TransactionID]types.SanitizedTransactionTTL
}

// New constructs a Container bounded to capacity entries.
func New(capacity int) *Container {
	if capacity <= 0 {
		panic("container: capacity must be positive")
	}
	return &Container{
		capacity: capacity,
		packets:  make(map[types.TransactionID]types.DeserializedPacket, capacity),
		txns:     make(map[types.TransactionID]types.SanitizedTransactionTTL, capacity),
	}
}

// Len returns the current number of entries.
func (c *Container) Len() int { return len(c.heap) }

// Capacity returns C.
func (c *Container) Capacity() int { return c.capacity }

// Insert is push_id_into_queue of spec.md §4.3: insert-with-evict. It
// returns accepted=true if the transaction was stored, possibly
// evicting the current lowest-priority entry (in which case evicted
// holds that entry's id and evictedOK is true so the caller — which
// owns cross-references to this id outside the container — can clean
// them up). accepted=false means the container was full and the
// candidate was itself the new minimum: dropped, nothing changed.
func (c *Container) Insert(id types.TransactionID, priority uint64, packet types.DeserializedPacket, txn types.SanitizedTransactionTTL) (accepted bool, evicted types.TransactionID, evictedOK bool) {
	pqid := PriorityID{Priority: priority, ID: id}
	if len(c.heap) < c.capacity {
		heap.Push(&c.heap, pqid)
		c.packets[id] = packet
		c.txns[id] = txn
		return true, 0, false
	}

	minIdx := c.minIndex()
	min := c.heap[minIdx]
	if !pqid.Before(min) {
		return false, 0, false
	}

	evictedID := c.heap[minIdx].ID
	delete(c.packets, evictedID)
	delete(c.txns, evictedID)
	heap.Remove(&c.heap, minIdx)

	heap.Push(&c.heap, pqid)
	c.packets[id] = packet
	c.txns[id] = txn
	return true, evictedID, true
}

// minIndex finds the index of the lowest-priority entry. Capacities
// at this layer are small (hundreds to low thousands of in-flight
// transactions), so a linear scan on the (rare) eviction path is
// cheaper than maintaining a second, min-ordered heap in step with
// the primary max-ordered one.
func (c *Container) minIndex() int {
	worst := 0
	for i := 1; i < len(c.heap); i++ {
		if c.heap[worst].Before(c.heap[i]) {
			worst = i
		}
	}
	return worst
}

// Remove drops id from the heap and both maps, wherever it currently
// sits in heap order. No-op if id is not present.
func (c *Container) Remove(id types.TransactionID) {
	for i, pqid := range c.heap {
		if pqid.ID == id {
			heap.Remove(&c.heap, i)
			break
		}
	}
	delete(c.packets, id)
	delete(c.txns, id)
}

// PopMax pops and returns the single highest-priority entry, or false
// if the container is empty.
func (c *Container) PopMax() (PriorityID, bool) {
	if len(c.heap) == 0 {
		return PriorityID{}, false
	}
	return heap.Pop(&c.heap).(PriorityID), true
}

// TakeTopN pops up to n maxima in decreasing-priority order, leaving
// the remainder in the heap.
func (c *Container) TakeTopN(n int) []PriorityID {
	out := make([]PriorityID, 0, n)
	for i := 0; i < n; i++ {
		pqid, ok := c.PopMax()
		if !ok {
			break
		}
		out = append(out, pqid)
	}
	return out
}

// Drain pops every remaining entry in decreasing-priority order,
// leaving the heap empty.
func (c *Container) Drain() []PriorityID {
	return c.TakeTopN(len(c.heap))
}

// GetPacket returns the packet entry for id. Presence of a packet
// entry always matches presence of a transaction entry; an id popped
// from the heap keeps both entries until Remove.
func (c *Container) GetPacket(id types.TransactionID) (types.DeserializedPacket, bool) {
	p, ok := c.packets[id]
	return p, ok
}

// GetTransaction returns the sanitized transaction entry for id. It
// is a programming error for a caller to look this up for an id it
// does not already know is tracked; callers that expect presence
// should use MustGetTransaction instead.
func (c *Container) GetTransaction(id types.TransactionID) (types.SanitizedTransactionTTL, bool) {
	t, ok := c.txns[id]
	return t, ok
}

// MustGetTransaction panics if the transaction entry is absent,
// matching spec.md §4.3's "absence... is a programming error".
func (c *Container) MustGetTransaction(id types.TransactionID) types.SanitizedTransactionTTL {
	t, ok := c.txns[id]
	if !ok {
		panic(fmt.Sprintf("container: transaction entry for id %d expected but absent", id))
	}
	return t
}

// MutateTransaction applies f to the stored transaction entry for id
// in place. Panics if absent.
func (c *Container) MutateTransaction(id types.TransactionID, f func(*types.SanitizedTransactionTTL)) {
	t, ok := c.txns[id]
	if !ok {
		panic(fmt.Sprintf("container: transaction entry for id %d expected but absent", id))
	}
	f(&t)
	c.txns[id] = t
}

// MutatePacket applies f to the stored packet entry for id in place.
// Used by the forwarding path (spec.md §4.5 mark_forwarded) to flip
// the Forwarded flag without a second, hash-indexed copy of the
// packet.
func (c *Container) MutatePacket(id types.TransactionID, f func(*types.DeserializedPacket)) {
	p, ok := c.packets[id]
	if !ok {
		panic(fmt.Sprintf("container: packet entry for id %d expected but absent", id))
	}
	f(&p)
	c.packets[id] = p
}

package queue

import (
	"github.com/luxfi/banking-scheduler/scheduler/container"
	"github.com/luxfi/banking-scheduler/scheduler/types"
)

// TransactionRef is the single record a pending-or-in-flight
// transaction is known by, shared across the pending container, every
// account it touches, and the blocked map. spec.md §9 calls for a
// small reference-counted handle so the three structures can share
// one record single-threadedly; since the scheduler owns one OS
// thread and Go is garbage collected, a plain shared pointer serves
// the same purpose without a hand-rolled refcount — the container
// remains the single writer that ever frees the canonical entry.
type TransactionRef struct {
	ID          types.TransactionID
	MessageHash types.MessageHash
	Priority    uint64
	Writes      []types.AccountKey
	Reads       []types.AccountKey
	MaxAgeSlot  uint64

	// BlockedBy is the message-hash of the in-flight transaction this
	// one is currently parked behind, or nil if it is not parked.
	BlockedBy *types.MessageHash
}

// PriorityID returns the (priority, id) ordering key for tx.
func (tx *TransactionRef) PriorityID() container.PriorityID {
	return container.PriorityID{Priority: tx.Priority, ID: tx.ID}
}

// Package types holds the message and identifier shapes that cross
// the scheduler/worker/decision-maker boundaries (spec.md §6), plus
// the account-key and transaction-id primitives shared by every other
// scheduler/ subpackage. Its only import is scheduler/threadset, so it
// sits near the bottom of the import graph.
package types

import "github.com/luxfi/banking-scheduler/scheduler/threadset"

// AccountKey is an opaque, structurally-hashable account identifier
// (spec.md §3: "opaque 32-byte identifier; equality and hash are
// structural").
type AccountKey [32]byte

// TransactionID uniquely identifies a transaction within the
// scheduler's lifetime. The Open Question in spec.md §9 ("dedup key:
// message-hash vs transaction id") is resolved in favor of
// message-hash, used uniformly as both the dedup and tracking key;
// TransactionID is kept distinct only for containers whose natural
// key is a small integer (the priority heap), and is derived by the
// queue layer from the first 8 bytes of MessageHash.
type TransactionID uint64

// MessageHash is the content-addressed identifier of a transaction's
// signed body (spec.md GLOSSARY).
type MessageHash [32]byte

// ProcessingInstruction is the scheduler's per-batch dispatch tag
// (spec.md §6).
type ProcessingInstruction int

const (
	// Consume instructs the worker to execute the batch against the bank.
	Consume ProcessingInstruction = iota
	// Forward instructs the worker (or the forwarding stage) to relay
	// the batch to the next leader without executing it.
	Forward
	// ForwardAndHold is Forward, but packets are retained in the
	// container instead of being dropped after relay.
	ForwardAndHold
	// Hold means take no action this iteration.
	Hold
)

func (p ProcessingInstruction) String() string {
	switch p {
	case Consume:
		return "consume"
	case Forward:
		return "forward"
	case ForwardAndHold:
		return "forward_and_hold"
	case Hold:
		return "hold"
	default:
		return "unknown"
	}
}

// DeserializedPacket is the immutable on-wire packet handed to the
// scheduler by the (out-of-scope) deserializer stage.
type DeserializedPacket struct {
	MessageHash    MessageHash
	Priority       uint64 // fee-per-compute-unit, or similar
	IsSimpleVote   bool
	Size           int
	Forwarded      bool
	FromStakedNode bool
	Bytes          []byte // raw on-wire transaction bytes
}

// SanitizedTransactionTTL is a sanitized transaction plus the slot
// after which it must be discarded.
type SanitizedTransactionTTL struct {
	MessageHash MessageHash
	Writes      []AccountKey
	Reads       []AccountKey
	Priority    uint64
	MaxAgeSlot  uint64
}

// BatchID is a monotonic, process-lifetime-unique batch identifier
// (spec.md §6).
type BatchID uint64

// ScheduledPacketBatch is the scheduler→worker egress message.
type ScheduledPacketBatch struct {
	ID                  BatchID
	ProcessingInstruction ProcessingInstruction
	Packets             []DeserializedPacket
}

// ProcessedPacketBatch is the worker→scheduler completion message.
// RetryablePackets has the same length as the dispatched batch, same
// order (spec.md §6).
type ProcessedPacketBatch struct {
	ID               BatchID
	RetryablePackets []bool
}

// Decision is the tag returned by the (out-of-scope) decision maker
// (spec.md §6). BankStart is threaded through opaquely for workers;
// the scheduler itself only inspects the Kind.
type Decision struct {
	Kind      DecisionKind
	BankStart any
}

type DecisionKind int

const (
	DecisionConsume DecisionKind = iota
	DecisionForward
	DecisionForwardAndHold
	DecisionHold
)

// DecisionMaker is the synchronous decision-maker contract
// (spec.md §6).
type DecisionMaker interface {
	MakeDecision() Decision
}

// Selector is the caller-supplied load-balancing hook consulted by
// ThreadAwareAccountLocks.TryLockAccounts (spec.md §4.2 / §9).
type Selector func(candidates threadset.ThreadSet) threadset.ThreadID

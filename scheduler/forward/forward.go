// Package forward implements the forwarding-stage filter consulted by
// the scheduler on Forward / ForwardAndHold decisions (spec.md §4.5's
// "caller-supplied forwarding filter", expanded in SPEC_FULL.md's
// DOMAIN STACK). It combines an operator-supplied boolean expression
// over packet metadata with dedup tracking across the current
// decision window.
package forward

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-bexpr"
	"github.com/holiman/bloomfilter/v2"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/luxfi/banking-scheduler/internal/log"
	"github.com/luxfi/banking-scheduler/scheduler/queue"
	"github.com/luxfi/banking-scheduler/scheduler/types"
)

// packetFields is the bexpr-evaluable projection of a packet. Field
// names match the metadata spec.md §6 names in its Ingress
// description.
type packetFields struct {
	Size           int  `bexpr:"size"`
	Forwarded      bool `bexpr:"forwarded"`
	FromStakedNode bool `bexpr:"from_staked_node"`
	IsSimpleVote   bool `bexpr:"is_simple_vote"`
}

// bloomBits/bloomHashes size the everForwarded Bloom filter, which is
// kept for the process lifetime (Refresh does not clear it); see
// SPEC_FULL.md DOMAIN STACK.
const (
	bloomBits   = 2 * 1024 * 1024
	bloomHashes = 4
)

// Filter is the forwarding decision function bound to s.q.GetForwardingBatch.
// Refresh must be called once per decision window (spec.md §4.6 step
// 4's "build or refresh the forwarding filter (keyed on the current
// bank)") before Decide is used.
type Filter struct {
	expr string
	eval *bexpr.Evaluator

	seenThisWindow mapset.Set[types.MessageHash]
	everForwarded  *bloomfilter.Filter

	log log.Logger
}

// NewFilter compiles expr once. expr is a go-bexpr boolean expression
// over packetFields; an empty expr matches everything, so every packet
// not already Forwarded and not yet seen this window is forwarded,
// votes included.
func NewFilter(expr string) (*Filter, error) {
	var eval *bexpr.Evaluator
	if expr != "" {
		e, err := bexpr.CreateEvaluator(expr)
		if err != nil {
			return nil, fmt.Errorf("forward: compiling filter expression: %w", err)
		}
		eval = e
	}

	bf, err := bloomfilter.New(bloomBits, bloomHashes)
	if err != nil {
		return nil, fmt.Errorf("forward: allocating bloom filter: %w", err)
	}

	return &Filter{
		expr:           expr,
		eval:           eval,
		seenThisWindow: mapset.NewSet[types.MessageHash](),
		everForwarded:  bf,
		log:            log.Root().With("component", "forward"),
	}, nil
}

// Refresh clears the per-window dedup set at the start of a new
// Forward/ForwardAndHold decision (spec.md §4.6 step 4). bank is
// unused by this core filter but accepted to match the Forwarder
// interface the scheduler drives it through; a real deployment keyed
// on epoch/leader-schedule would consult it here.
func (f *Filter) Refresh(bank any) {
	f.seenThisWindow.Clear()
}

// Decide applies the compiled expression plus the already-forwarded
// and already-seen-this-window checks described by
// forwarding_stage.rs in SPEC_FULL.md's SUPPLEMENTED FEATURES: a
// packet already marked Forwarded, or one seen earlier in this same
// window, is dropped rather than re-sent; everything else is matched
// against the operator expression.
func (f *Filter) Decide(pkt types.DeserializedPacket) queue.ForwardDecision {
	if pkt.Forwarded {
		return queue.DropPacket
	}
	if f.seenThisWindow.Contains(pkt.MessageHash) {
		return queue.DropPacket
	}

	if f.eval != nil {
		match, err := f.eval.Evaluate(packetFields{
			Size:           pkt.Size,
			Forwarded:      pkt.Forwarded,
			FromStakedNode: pkt.FromStakedNode,
			IsSimpleVote:   pkt.IsSimpleVote,
		})
		if err != nil {
			f.log.Warn("forward filter evaluation failed, dropping packet", "hash", pkt.MessageHash, "err", err)
			return queue.DropPacket
		}
		if !match {
			return queue.ForwardAndHoldPacket
		}
	}

	f.seenThisWindow.Add(pkt.MessageHash)
	f.everForwarded.AddHash(hashKey(pkt.MessageHash))
	return queue.ForwardPacket
}

// EverForwarded reports whether a message-hash has been forwarded at
// any point in this process's lifetime — a cheap, constant-memory,
// metrics-only hint (false positives possible, false negatives are
// not); never used for scheduling correctness.
func (f *Filter) EverForwarded(hash types.MessageHash) bool {
	return f.everForwarded.ContainsHash(hashKey(hash))
}

func hashKey(h types.MessageHash) uint64 {
	return binary.BigEndian.Uint64(h[:8])
}

// Package scheduler implements the central control loop of spec.md
// §4.6: the single goroutine that drives ingress, decision-making,
// batch assembly, dispatch, and completion handling over the
// lower-level threadset/locks/container/queue packages.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/banking-scheduler/internal/log"
	"github.com/luxfi/banking-scheduler/scheduler/locks"
	"github.com/luxfi/banking-scheduler/scheduler/queue"
	"github.com/luxfi/banking-scheduler/scheduler/threadset"
	"github.com/luxfi/banking-scheduler/scheduler/types"
)

// ErrIngressClosed and ErrCompletionClosed are returned by Run when
// the corresponding channel is closed by its producer — spec.md §4.7's
// "loss of any channel... terminates the scheduler cleanly" is
// realized as a clean, non-error-logged return rather than a panic.
var (
	ErrIngressClosed    = errors.New("scheduler: ingress channel closed")
	ErrCompletionClosed = errors.New("scheduler: completion channel closed")
	ErrEgressClosed     = errors.New("scheduler: egress channel closed")
)

// Sanitizer validates a raw packet against the current bank and
// derives its write/read account sets (spec.md §4.6 step 2). A real
// node supplies this from its transaction-processing pipeline; it is
// explicitly out of the core's scope (spec.md §1 Non-goals).
type Sanitizer interface {
	Sanitize(bank any, pkt types.DeserializedPacket) (types.SanitizedTransactionTTL, bool)
}

// BankSource supplies the scheduler's per-iteration bank snapshot
// (spec.md §4.6 step 1, §5's "brief read lock").
type BankSource interface {
	CurrentBank() any
}

// Forwarder is the forwarding-stage filter consulted on Forward /
// ForwardAndHold decisions (spec.md §4.5's "caller-supplied forwarding
// filter"; realized by scheduler/forward.Filter).
type Forwarder interface {
	Refresh(bank any)
	Decide(pkt types.DeserializedPacket) queue.ForwardDecision
}

// batchRecord is what the scheduler remembers about a dispatched
// batch until its completion report arrives: the decision it was sent
// under, and the message-hash of each packet in dispatch order (the
// only per-entry datum complete_batch needs, whether or not the entry
// ever went through account locking).
type batchRecord struct {
	kind   types.DecisionKind
	hashes []types.MessageHash
}

// Scheduler is the spec.md §4.6 control loop.
type Scheduler struct {
	cfg Config

	locks *locks.ThreadAwareAccountLocks
	q     *queue.TransactionQueue

	sanitizer     Sanitizer
	bankSource    BankSource
	decisionMaker types.DecisionMaker
	forwarder     Forwarder
	selector      func(threadset.ThreadSet) threadset.ThreadID
	metrics       Recorder

	ingress    <-chan types.DeserializedPacket
	completion <-chan types.ProcessedPacketBatch
	egress     chan<- types.ScheduledPacketBatch

	nextBatchID    types.BatchID
	currentBatches map[types.BatchID]batchRecord

	log log.Logger
}

// New constructs a Scheduler. selector defaults to a round-robin
// policy over cfg.NumThreads if nil. metrics defaults to a no-op
// recorder if nil.
func New(
	cfg Config,
	sanitizer Sanitizer,
	bankSource BankSource,
	decisionMaker types.DecisionMaker,
	forwarder Forwarder,
	ingress <-chan types.DeserializedPacket,
	completion <-chan types.ProcessedPacketBatch,
	egress chan<- types.ScheduledPacketBatch,
	selector func(threadset.ThreadSet) threadset.ThreadID,
	metrics Recorder,
) *Scheduler {
	if selector == nil {
		selector = RoundRobinSelector(cfg.NumThreads)
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Scheduler{
		cfg:            cfg,
		locks:          locks.New(cfg.NumThreads, cfg.SequentialQueueLimit),
		q:              queue.New(cfg.ContainerCapacity),
		sanitizer:      sanitizer,
		bankSource:     bankSource,
		decisionMaker:  decisionMaker,
		forwarder:      forwarder,
		selector:       selector,
		metrics:        metrics,
		ingress:        ingress,
		completion:     completion,
		egress:         egress,
		currentBatches: make(map[types.BatchID]batchRecord),
		log:            log.Root().With("component", "scheduler"),
	}
}

// Run drives the control loop until the ingress or completion channel
// closes, an egress send finds no room, or stop is closed. It returns
// nil only via stop; otherwise it returns one of the Err*Closed
// sentinels (ErrEgressClosed for a failed egress send).
func (s *Scheduler) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		bank := s.bankSource.CurrentBank()

		if err := s.receiveIngress(bank); err != nil {
			return err
		}
		if err := s.receiveCompletion(); err != nil {
			return err
		}

		decision := s.decisionMaker.MakeDecision()
		if err := s.dispatch(bank, decision); err != nil {
			return err
		}
	}
}

func (s *Scheduler) receiveIngress(bank any) error {
	select {
	case pkt, ok := <-s.ingress:
		if !ok {
			return ErrIngressClosed
		}
		s.ingestOne(bank, pkt)
	case <-time.After(s.cfg.RecvTimeout):
	}
	return nil
}

func (s *Scheduler) ingestOne(bank any, pkt types.DeserializedPacket) {
	if s.q.Contains(pkt.MessageHash) {
		s.metrics.Drop("duplicate")
		s.log.Debug("dropping duplicate packet", "hash", pkt.MessageHash)
		return
	}
	txn, ok := s.sanitizer.Sanitize(bank, pkt)
	if !ok {
		s.metrics.Drop("sanitization_failure")
		s.log.Debug("dropping unsanitizable packet", "hash", pkt.MessageHash)
		return
	}
	if !s.q.InsertTransaction(txn, pkt) {
		s.metrics.Drop("container_full_eviction")
		s.log.Debug("dropping lowest-priority candidate, container full", "hash", pkt.MessageHash)
	}
	s.metrics.QueueDepth(s.q.Len())
}

func (s *Scheduler) receiveCompletion() error {
	select {
	case report, ok := <-s.completion:
		if !ok {
			return ErrCompletionClosed
		}
		s.completeBatch(report)
	case <-time.After(s.cfg.RecvTimeout):
	}
	return nil
}

// completeBatch is spec.md §4.6's complete_batch: dispatch by the
// decision recorded at send time.
func (s *Scheduler) completeBatch(report types.ProcessedPacketBatch) {
	rec, ok := s.currentBatches[report.ID]
	if !ok {
		panic(fmt.Sprintf("scheduler: completion for unknown batch id %d", report.ID))
	}
	delete(s.currentBatches, report.ID)

	if len(report.RetryablePackets) != len(rec.hashes) {
		panic(fmt.Sprintf("scheduler: batch %d completion length %d != dispatched length %d",
			report.ID, len(report.RetryablePackets), len(rec.hashes)))
	}

	switch rec.kind {
	case types.DecisionConsume, types.DecisionForward:
		for i, h := range rec.hashes {
			s.q.CompleteOrRetry(h, report.RetryablePackets[i])
		}
	case types.DecisionForwardAndHold:
		for i, h := range rec.hashes {
			if !report.RetryablePackets[i] {
				s.q.MarkForwarded(h)
			}
			// retryable entries under ForwardAndHold simply remain in the
			// queue for a future Consume window; no account-lock release
			// is owed here because ForwardAndHold batches never locked
			// accounts in the first place (forwarding ignores conflicts).
		}
	case types.DecisionHold:
		panic(fmt.Sprintf("scheduler: completion for Hold batch id %d", report.ID))
	}
}

func (s *Scheduler) dispatch(bank any, decision types.Decision) error {
	switch decision.Kind {
	case types.DecisionConsume:
		return s.dispatchConsume()
	case types.DecisionForward:
		return s.dispatchForward(bank, false)
	case types.DecisionForwardAndHold:
		return s.dispatchForward(bank, true)
	case types.DecisionHold:
		return nil
	default:
		panic(fmt.Sprintf("scheduler: unknown decision kind %d", decision.Kind))
	}
}

// dispatchConsume routes spec.md §4.5's conflict-free GetConsumeBatch
// result onto worker threads. entries are already mutually
// non-conflicting (the queue parks anything that would collide with
// an earlier entry in the same call), but that says nothing about
// which thread each lands on — spec.md's glossary defines a batch as
// "a list of transactions dispatched together to a single worker
// thread", so each entry is offered to the lock table individually via
// TryLockAccounts, and one ScheduledPacketBatch is sent per distinct
// thread the round-robin selector (or caller-supplied policy) resolves
// to, exactly as spec.md:249 S6 requires ("try_lock routes: first two
// to distinct threads... next two... also admitted because their
// account sets are disjoint").
func (s *Scheduler) dispatchConsume() error {
	entries := s.q.GetConsumeBatch(s.cfg.MaxBatchSize)
	if len(entries) == 0 {
		return nil
	}

	byThread := make(map[threadset.ThreadID][]queue.BatchEntry)
	var order []threadset.ThreadID
	for _, e := range entries {
		t, ok := s.locks.TryLockAccounts(e.Ref.Writes, e.Ref.Reads, s.selector)
		if !ok {
			panic("scheduler: consume entry not jointly schedulable although the queue already excluded account conflicts")
		}
		if _, seen := byThread[t]; !seen {
			order = append(order, t)
		}
		byThread[t] = append(byThread[t], e)
	}

	for _, t := range order {
		group := byThread[t]
		id := s.nextBatchID
		s.nextBatchID++
		hashes := make([]types.MessageHash, len(group))
		packets := make([]types.DeserializedPacket, len(group))
		for i, e := range group {
			hashes[i] = e.Ref.MessageHash
			packets[i] = e.Packet
		}
		s.currentBatches[id] = batchRecord{kind: types.DecisionConsume, hashes: hashes}
		s.metrics.BatchSent("consume", len(packets))
		if err := s.send(types.ScheduledPacketBatch{ID: id, ProcessingInstruction: types.Consume, Packets: packets}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) dispatchForward(bank any, hold bool) error {
	s.forwarder.Refresh(bank)
	packets := s.q.GetForwardingBatch(s.cfg.MaxBatchSize, s.forwarder.Decide)
	if len(packets) == 0 {
		return nil
	}

	instr := types.Forward
	kind := types.DecisionForward
	if hold {
		instr = types.ForwardAndHold
		kind = types.DecisionForwardAndHold
	}

	id := s.nextBatchID
	s.nextBatchID++
	hashes := make([]types.MessageHash, len(packets))
	for i, p := range packets {
		hashes[i] = p.MessageHash
	}
	s.currentBatches[id] = batchRecord{kind: kind, hashes: hashes}

	s.metrics.BatchSent(instr.String(), len(packets))
	return s.send(types.ScheduledPacketBatch{ID: id, ProcessingInstruction: instr, Packets: packets})
}

// send is a non-blocking egress attempt: spec.md §5 says the
// scheduler "never blocks on egress; a failed send is treated as
// shutdown", so a full or unreceived channel makes send return
// ErrEgressClosed, which ends Run, rather than stalling the control
// loop.
func (s *Scheduler) send(batch types.ScheduledPacketBatch) error {
	select {
	case s.egress <- batch:
		return nil
	default:
		return ErrEgressClosed
	}
}


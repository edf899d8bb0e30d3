package scheduler

import (
	. "github.com/onsi/ginkgo/v2"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/banking-scheduler/scheduler/locks"
	"github.com/luxfi/banking-scheduler/scheduler/queue"
	"github.com/luxfi/banking-scheduler/scheduler/threadset"
	"github.com/luxfi/banking-scheduler/scheduler/types"
)

// s6Account and s6Hash build distinct account keys / message hashes
// from a single distinguishing byte, mirroring the container and
// locks test helpers.
func s6Account(b byte) types.AccountKey {
	var a types.AccountKey
	a[0] = b
	return a
}

func s6Hash(b byte) types.MessageHash {
	var h types.MessageHash
	h[0] = b
	return h
}

// This spec realizes spec.md §8 scenario S6: N=2 threads, container
// capacity 4, four non-conflicting transactions at priorities
// 10, 8, 6, 4. get_consume_batch must return all four; try_lock must
// route the first two to distinct threads via round robin, and the
// remaining two — disjoint in accounts from the first two and from
// each other — must also be admitted. After completion of the two
// highest-priority transactions, nothing was ever blocked, so no
// re-insertion is observed; a second spec, with two conflicting
// transactions, demonstrates the parked/blocked-then-reinserted path.
var _ = Describe("end-to-end consume/lock/complete cycle", func() {
	It("assembles a batch of four disjoint transactions and routes it across two threads", func() {
		t := GinkgoT()

		q := queue.New(4)
		lockTable := locks.New(2, nil)
		selector := RoundRobinSelector(2)

		priorities := []uint64{10, 8, 6, 4}
		for i, p := range priorities {
			hash := s6Hash(byte(i + 1))
			account := s6Account(byte(i + 1))
			txn := types.SanitizedTransactionTTL{
				MessageHash: hash,
				Priority:    p,
				Writes:      []types.AccountKey{account},
			}
			packet := types.DeserializedPacket{MessageHash: hash, Priority: p}
			require.True(t, q.InsertTransaction(txn, packet))
		}

		batch := q.GetConsumeBatch(128)
		require.Len(t, batch, 4, "all four non-conflicting transactions must be admitted")
		for i, want := range priorities {
			require.Equal(t, want, batch[i].Ref.Priority, "batch must be in decreasing priority order")
		}

		// Each entry's own disjoint account set is offered to try_lock
		// individually, exactly as the scheduler's dispatch loop does: the
		// first two route to distinct threads under round robin, and the
		// next two — disjoint from the first two and from each other — are
		// admitted too, reusing threads 0 and 1.
		threads := make([]threadset.ThreadID, len(batch))
		for i, e := range batch {
			th, ok := lockTable.TryLockAccounts(e.Ref.Writes, nil, selector)
			require.True(t, ok)
			threads[i] = th
		}
		require.Equal(t, []threadset.ThreadID{0, 1, 0, 1}, threads,
			"first two land on distinct threads; next two reuse them via round robin")

		for i, e := range batch {
			lockTable.UnlockAccounts(e.Ref.Writes, nil, threads[i])
		}

		for _, e := range batch {
			q.CompleteOrRetry(e.Ref.MessageHash, false)
		}
		require.Equal(t, 0, q.Len(), "queue is empty once every transaction in the batch completes")
	})

	It("parks a conflicting transaction and re-admits it once the blocker completes", func() {
		t := GinkgoT()

		q := queue.New(4)
		account := s6Account(1)
		hi, lo := s6Hash(1), s6Hash(2)

		require.True(t, q.InsertTransaction(types.SanitizedTransactionTTL{
			MessageHash: hi, Priority: 10, Writes: []types.AccountKey{account},
		}, types.DeserializedPacket{MessageHash: hi}))
		require.True(t, q.InsertTransaction(types.SanitizedTransactionTTL{
			MessageHash: lo, Priority: 5, Writes: []types.AccountKey{account},
		}, types.DeserializedPacket{MessageHash: lo}))

		batch := q.GetConsumeBatch(128)
		require.Len(t, batch, 1)
		require.Equal(t, hi, batch[0].Ref.MessageHash)

		// The conflicting transaction is parked, not re-offered, until
		// the blocker completes.
		require.Len(t, q.GetConsumeBatch(128), 0)

		q.CompleteOrRetry(hi, false)
		batch2 := q.GetConsumeBatch(128)
		require.Len(t, batch2, 1)
		require.Equal(t, lo, batch2[0].Ref.MessageHash)
	})
})

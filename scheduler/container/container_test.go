package container

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/banking-scheduler/scheduler/types"
)

func pkt(h byte) types.DeserializedPacket {
	var hash types.MessageHash
	hash[0] = h
	return types.DeserializedPacket{MessageHash: hash}
}

func txn(p uint64) types.SanitizedTransactionTTL {
	return types.SanitizedTransactionTTL{Priority: p}
}

func mustInsert(t *testing.T, c *Container, id types.TransactionID, priority uint64, p types.DeserializedPacket, tx types.SanitizedTransactionTTL) {
	t.Helper()
	ok, _, _ := c.Insert(id, priority, p, tx)
	require.True(t, ok)
}

func TestS5PriorityHeapEvict(t *testing.T) {
	c := New(1)

	mustInsert(t, c, 0, 5, pkt(0), txn(5))
	require.Equal(t, 1, c.Len())

	ok, evicted, evictedOK := c.Insert(1, 10, pkt(1), txn(10))
	require.True(t, ok)
	require.True(t, evictedOK)
	require.Equal(t, types.TransactionID(0), evicted)
	require.Equal(t, 1, c.Len())
	_, ok2 := c.GetPacket(0)
	require.False(t, ok2, "evicted id 0 must be gone from packet map")
	_, ok2 = c.GetTransaction(0)
	require.False(t, ok2, "evicted id 0 must be gone from transaction map")

	accepted, _, _ := c.Insert(2, 3, pkt(2), txn(3))
	require.False(t, accepted)
	require.Equal(t, 1, c.Len())
	_, ok2 = c.GetPacket(1)
	require.True(t, ok2, "heap must be unchanged after a rejected insert")
}

func TestSynchronizedMaps(t *testing.T) {
	c := New(4)
	for i := types.TransactionID(0); i < 4; i++ {
		mustInsert(t, c, i, uint64(i), pkt(byte(i)), txn(uint64(i)))
	}
	for i := types.TransactionID(0); i < 4; i++ {
		_, okP := c.GetPacket(i)
		_, okT := c.GetTransaction(i)
		require.Equal(t, okP, okT)
		require.True(t, okP)
	}
	c.Remove(2)
	_, okP := c.GetPacket(2)
	_, okT := c.GetTransaction(2)
	require.False(t, okP)
	require.False(t, okT)
	require.Equal(t, 3, c.Len())
}

func TestDrainDecreasingOrder(t *testing.T) {
	c := New(10)
	priorities := []uint64{3, 9, 1, 7, 5}
	for i, p := range priorities {
		mustInsert(t, c, types.TransactionID(i), p, pkt(byte(i)), txn(p))
	}
	drained := c.Drain()
	require.Equal(t, 0, c.Len())
	require.Len(t, drained, len(priorities))
	for i := 1; i < len(drained); i++ {
		require.GreaterOrEqual(t, drained[i-1].Priority, drained[i].Priority)
	}
}

func TestTakeTopN(t *testing.T) {
	c := New(10)
	for i, p := range []uint64{1, 2, 3, 4, 5} {
		mustInsert(t, c, types.TransactionID(i), p, pkt(byte(i)), txn(p))
	}
	top := c.TakeTopN(2)
	require.Len(t, top, 2)
	require.Equal(t, uint64(5), top[0].Priority)
	require.Equal(t, uint64(4), top[1].Priority)
	require.Equal(t, 3, c.Len())
}

func TestCapacityNeverExceeded(t *testing.T) {
	c := New(3)
	for i := types.TransactionID(0); i < 20; i++ {
		c.Insert(i, uint64(i), pkt(byte(i)), txn(uint64(i)))
		require.LessOrEqual(t, c.Len(), c.Capacity())
	}
}

func TestMustGetTransactionPanicsWhenAbsent(t *testing.T) {
	c := New(1)
	require.Panics(t, func() {
		c.MustGetTransaction(999)
	})
}

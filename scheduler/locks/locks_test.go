package locks

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/banking-scheduler/scheduler/threadset"
	"github.com/luxfi/banking-scheduler/scheduler/types"
)

func key(b byte) types.AccountKey {
	var a types.AccountKey
	a[0] = b
	return a
}

func roundRobin(next *threadset.ThreadID) types.Selector {
	return func(s threadset.ThreadSet) threadset.ThreadID {
		for {
			if s.Contains(*next) {
				t := *next
				*next = (*next + 1) % threadset.MaxThreads
				return t
			}
			*next = (*next + 1) % threadset.MaxThreads
		}
	}
}

func TestEmptyTableSchedulableIsAny(t *testing.T) {
	l := New(4, nil)
	require.Equal(t, threadset.Any(4), l.AccountsSchedulableThreads(nil, nil))
}

func TestS1WriteExclusivity(t *testing.T) {
	l := New(4, nil)
	pk1, pk2 := key(1), key(2)
	l.LockAccounts([]types.AccountKey{pk1}, nil, 0)

	got := l.AccountsSchedulableThreads([]types.AccountKey{pk1, pk2}, nil)
	require.Equal(t, threadset.Only(0), got)

	l.LockAccounts([]types.AccountKey{pk2}, nil, 1)
	got = l.AccountsSchedulableThreads([]types.AccountKey{pk1, pk2}, nil)
	require.Equal(t, threadset.None, got)
}

func TestS2ReadCompatibility(t *testing.T) {
	l := New(4, nil)
	pk1 := key(1)
	l.LockAccounts(nil, []types.AccountKey{pk1}, 2)

	require.Equal(t, threadset.Any(4), l.readSchedulable(pk1))
	require.Equal(t, threadset.Only(2), l.writeSchedulable(pk1))

	l.LockAccounts(nil, []types.AccountKey{pk1}, 0)
	require.Equal(t, threadset.None, l.writeSchedulable(pk1))
	require.Equal(t, threadset.Any(4), l.readSchedulable(pk1))
}

func TestS3Mixed(t *testing.T) {
	l := New(4, nil)
	pk1, pk2 := key(1), key(2)
	l.LockAccounts(nil, []types.AccountKey{pk1}, 2)
	l.LockAccounts([]types.AccountKey{pk2}, nil, 2)

	require.Equal(t, threadset.Only(2), l.AccountsSchedulableThreads([]types.AccountKey{pk1, pk2}, nil))
	require.Equal(t, threadset.Only(2), l.AccountsSchedulableThreads(nil, []types.AccountKey{pk1, pk2}))
}

func TestS4DepthAndRelease(t *testing.T) {
	l := New(8, nil)
	pk := key(9)
	l.LockAccounts([]types.AccountKey{pk}, nil, 4)
	l.LockAccounts([]types.AccountKey{pk}, nil, 4)

	require.Equal(t, threadset.Only(4), l.writeSchedulable(pk))

	l.UnlockAccounts([]types.AccountKey{pk}, nil, 4)
	require.Equal(t, threadset.Only(4), l.writeSchedulable(pk))

	l.UnlockAccounts([]types.AccountKey{pk}, nil, 4)
	require.Equal(t, threadset.Any(8), l.writeSchedulable(pk))
	require.NoError(t, l.CheckInvariants())
	require.Empty(t, l.accounts)
}

func TestSequentialQueueLimit(t *testing.T) {
	limit := uint32(2)
	l := New(4, &limit)
	pk := key(1)
	l.LockAccounts([]types.AccountKey{pk}, nil, 0) // depth 1
	require.Equal(t, threadset.Only(0), l.writeSchedulable(pk))
	l.LockAccounts([]types.AccountKey{pk}, nil, 0) // depth 2 == limit
	require.Equal(t, threadset.None, l.writeSchedulable(pk))
}

func TestLockAccountsForeignWriterPanics(t *testing.T) {
	l := New(2, nil)
	pk := key(1)
	l.LockAccounts([]types.AccountKey{pk}, nil, 0)
	require.Panics(t, func() {
		l.LockAccounts([]types.AccountKey{pk}, nil, 1)
	})
}

func TestTryLockAccountsSelectorNotCalledWhenBlocked(t *testing.T) {
	limit := uint32(1)
	l := New(1, &limit)
	pk := key(1)
	l.LockAccounts([]types.AccountKey{pk}, nil, 0)

	called := false
	sel := func(threadset.ThreadSet) threadset.ThreadID {
		called = true
		return 0
	}
	_, ok := l.TryLockAccounts([]types.AccountKey{pk}, nil, sel)
	require.False(t, ok)
	require.False(t, called)
}

func TestLockUnlockRoundTrip(t *testing.T) {
	l := New(4, nil)
	pk1, pk2, pk3 := key(1), key(2), key(3)
	writes := []types.AccountKey{pk1, pk2}
	reads := []types.AccountKey{pk3}

	before := snapshot(l)
	l.LockAccounts(writes, reads, 2)
	l.UnlockAccounts(writes, reads, 2)
	after := snapshot(l)
	require.Equal(t, before, after)
}

func TestUnlockWrongThreadPanics(t *testing.T) {
	l := New(2, nil)
	pk := key(1)
	l.LockAccounts([]types.AccountKey{pk}, nil, 0)
	require.Panics(t, func() {
		l.UnlockAccounts([]types.AccountKey{pk}, nil, 1)
	})
}

func TestRoundRobinSelector(t *testing.T) {
	l := New(2, nil)
	pk1, pk2 := key(1), key(2)
	var next threadset.ThreadID
	sel := roundRobin(&next)

	t1, ok := l.TryLockAccounts([]types.AccountKey{pk1}, nil, sel)
	require.True(t, ok)
	t2, ok := l.TryLockAccounts([]types.AccountKey{pk2}, nil, sel)
	require.True(t, ok)
	require.NotEqual(t, t1, t2)
}

func snapshot(l *ThreadAwareAccountLocks) map[types.AccountKey]accountState {
	out := make(map[types.AccountKey]accountState, len(l.accounts))
	for k, v := range l.accounts {
		out[k] = *v
	}
	return out
}

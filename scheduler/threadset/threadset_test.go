package threadset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAny(t *testing.T) {
	require.Equal(t, None, Any(0))
	require.Equal(t, ThreadSet(0b1111), Any(4))
	require.Equal(t, ^ThreadSet(0), Any(MaxThreads))
	require.Equal(t, ^ThreadSet(0), Any(1000))
}

func TestOnlyAndContains(t *testing.T) {
	s := Only(3)
	require.True(t, s.Contains(3))
	require.False(t, s.Contains(2))
	require.Equal(t, 1, s.Count())
}

func TestInsertRemove(t *testing.T) {
	s := None.Insert(1).Insert(5)
	require.True(t, s.Contains(1))
	require.True(t, s.Contains(5))
	require.Equal(t, 2, s.Count())

	s = s.Remove(1)
	require.False(t, s.Contains(1))
	require.True(t, s.Contains(5))
}

func TestIntersectUnion(t *testing.T) {
	a := Only(1).Insert(2)
	b := Only(2).Insert(3)
	require.Equal(t, Only(2), a.Intersect(b))
	require.Equal(t, Only(1).Insert(2).Insert(3), a.Union(b))
}

func TestOnlyOneScheduled(t *testing.T) {
	_, ok := None.OnlyOneScheduled()
	require.False(t, ok)

	t1, ok := Only(7).OnlyOneScheduled()
	require.True(t, ok)
	require.Equal(t, ThreadID(7), t1)

	_, ok = Only(1).Insert(2).OnlyOneScheduled()
	require.False(t, ok)
}

func TestIsEmpty(t *testing.T) {
	require.True(t, None.IsEmpty())
	require.False(t, Only(0).IsEmpty())
}

func TestForEachAndSlice(t *testing.T) {
	s := Only(0).Insert(3).Insert(63)
	require.Equal(t, []ThreadID{0, 3, 63}, s.Slice())

	var seen []ThreadID
	s.ForEach(func(t ThreadID) bool {
		seen = append(seen, t)
		return t != 3 // stop after visiting 3
	})
	require.Equal(t, []ThreadID{0, 3}, seen)
}

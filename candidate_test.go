package pagereport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidateIndex_MarkIsIdempotent(t *testing.T) {
	ci := newCandidateIndex(64)

	require.True(t, ci.mark(5))
	require.EqualValues(t, 1, ci.pendingCount())

	// Scenario 6: duplicate mark must not double-increment pending.
	require.False(t, ci.mark(5))
	require.EqualValues(t, 1, ci.pendingCount())
}

func TestCandidateIndex_UnmarkIfSet(t *testing.T) {
	ci := newCandidateIndex(64)
	ci.mark(3)
	ci.mark(9)
	require.EqualValues(t, 2, ci.pendingCount())

	require.True(t, ci.unmarkIfSet(3))
	require.EqualValues(t, 1, ci.pendingCount())

	// Clearing an already-clear bit is a no-op, not a decrement.
	require.False(t, ci.unmarkIfSet(3))
	require.EqualValues(t, 1, ci.pendingCount())
}

func TestCIIterator_AscendingAndFinite(t *testing.T) {
	ci := newCandidateIndex(200)
	set := []int{0, 1, 63, 64, 65, 127, 199}
	for _, i := range set {
		ci.mark(i)
	}

	it := newCIIterator(ci)
	var got []int
	for {
		i, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, i)
	}
	require.Equal(t, set, got)

	// Restartable: a fresh iterator sees the same snapshot again.
	it2 := newCIIterator(ci)
	i, ok := it2.Next()
	require.True(t, ok)
	require.Equal(t, 0, i)
}

func TestCIIterator_SkipsClearedBits(t *testing.T) {
	ci := newCandidateIndex(8)
	ci.mark(1)
	ci.mark(2)
	ci.mark(3)

	it := newCIIterator(ci)
	i, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, 1, i)

	// A concurrent clear of a not-yet-visited bit must not surface
	// later: cleared bits are always skipped.
	ci.unmarkIfSet(2)

	i, ok = it.Next()
	require.True(t, ok)
	require.Equal(t, 3, i)

	_, ok = it.Next()
	require.False(t, ok)
}

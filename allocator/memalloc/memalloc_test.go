package memalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pianoyeg94/go-pagereport/allocator"
)

func TestNewRegion_SeedsWholeSpanExactlyOnce(t *testing.T) {
	r, err := NewRegion(0, 1536) // 1024 + 512, two blocks: order 10 and order 9
	require.NoError(t, err)

	var total uint64
	for order, pfns := range r.free {
		total += uint64(len(pfns)) * (uint64(1) << order)
	}
	require.EqualValues(t, 1536, total)
}

func TestIsolateThenRelease_RoundTrips(t *testing.T) {
	a := New()
	r, err := NewRegion(0, 1024)
	require.NoError(t, err)
	a.AddRegion(r)

	fb, ok := a.PfnToFreeBlock(r, 0, 0)
	require.True(t, ok)
	require.EqualValues(t, 10, fb.Order)

	require.NoError(t, a.Isolate(r, 0, fb.Order))
	_, ok = a.PfnToFreeBlock(r, 0, 0)
	require.False(t, ok, "isolated block must not still read as free")

	require.NoError(t, a.Release(r, 0, fb.Order, allocator.MigrationClass(2)))
	fb2, ok := a.PfnToFreeBlock(r, 0, 0)
	require.True(t, ok)
	require.Equal(t, allocator.MigrationClass(2), fb2.Class)
}

func TestIsolate_FailsOnAlreadyIsolatedBlock(t *testing.T) {
	a := New()
	r, err := NewRegion(0, 512)
	require.NoError(t, err)
	a.AddRegion(r)

	require.NoError(t, a.Isolate(r, 0, 9))
	require.ErrorIs(t, a.Isolate(r, 0, 9), allocator.ErrNotFree)
}

func TestFreeAndAlloc_InvokeHooksUnderRegionLock(t *testing.T) {
	a := New()
	r, err := NewRegion(0, 4096)
	require.NoError(t, err)
	a.AddRegion(r)

	// heldLock reports whether r's lock is held at the moment of the call.
	heldLock := func() bool {
		if r.mu.TryLock() {
			r.mu.Unlock()
			return false
		}
		return true
	}

	var freed, allocd []uint64
	var freeLocked, allocLocked bool
	a.SetHooks(
		func(_ allocator.Region, pfn uint64, order uint32) {
			freed = append(freed, pfn)
			freeLocked = heldLock()
		},
		func(_ allocator.Region, pfn uint64) {
			allocd = append(allocd, pfn)
			allocLocked = heldLock()
		},
	)

	a.Free(r, 4096-512, 9, 0)
	require.Equal(t, []uint64{4096 - 512}, freed)
	require.True(t, freeLocked, "free hook must run with the region lock held")

	require.NoError(t, a.Alloc(r, 4096-512, 9))
	require.Equal(t, []uint64{4096 - 512}, allocd)
	require.True(t, allocLocked, "allocate hook must run with the region lock held")
}

func TestForEachRegion_StopsEarly(t *testing.T) {
	a := New()
	r1, _ := NewRegion(0, 512)
	r2, _ := NewRegion(1024, 512)
	a.AddRegion(r1)
	a.AddRegion(r2)

	var seen int
	a.ForEachRegion(func(allocator.Region) bool {
		seen++
		return false
	})
	require.Equal(t, 1, seen)
}

// Package allocator defines the contract a page allocator must satisfy
// to plug into the free-page reporting engine (package pagereport).
//
// The allocator itself — its free-list structure, per-region locking,
// migration-type accounting, and the isolate/release primitives — is
// treated as an external collaborator. This package only states the
// shape of that collaborator; the buddy allocator behind it lives
// elsewhere (see allocator/memalloc for a reference implementation used
// by tests and the demo CLI).
package allocator

import "github.com/pkg/errors"

// MigrationClass mirrors a buddy allocator's migration-type accounting
// (movable, unmovable, reclaimable, ...). The reporting engine never
// inspects the value; it only carries it from isolate through to
// release so a block is returned to the same free list it came from.
type MigrationClass uint8

// Region is an opaque handle to a contiguous, single-writer-locked span
// of page frames. Implementations are expected to make Region a small
// comparable value (a pointer or index) so it can be used as a map key.
type Region interface {
	// BasePFN is the first page frame number covered by this region.
	BasePFN() uint64
	// EndPFN is one past the last page frame number covered by this
	// region. [BasePFN, EndPFN) does not change while the region is
	// registered with an active configuration (see pagereport's
	// non-goal on concurrent region resize).
	EndPFN() uint64
}

// FreeBlock describes a block found on a region's free list by
// PfnToFreeBlock.
type FreeBlock struct {
	Order uint32
	Class MigrationClass
}

// Allocator is the contract required of the buddy allocator by §6.2 of
// the design. All methods except ForEachRegion and WithRegionLock MUST
// be called with the relevant region's lock held.
type Allocator interface {
	// ForEachRegion iterates the currently-populated regions in a
	// stable order. Iteration stops early if fn returns false.
	ForEachRegion(fn func(Region) bool)

	// WithRegionLock runs fn with region's lock held, releasing it on
	// every exit path (including a panic unwinding through fn).
	WithRegionLock(region Region, fn func() error) error

	// PfnToFreeBlock reports the block starting at pfn if, and only
	// if, it is currently on the free list at or above minOrder.
	// Caller must hold region's lock.
	PfnToFreeBlock(region Region, pfn uint64, minOrder uint32) (FreeBlock, bool)

	// Isolate removes the block at pfn/order from the free list
	// without making it allocated, returning exclusive access to the
	// caller. Caller must hold region's lock.
	Isolate(region Region, pfn uint64, order uint32) error

	// Release reinserts an isolated block into its region's free
	// list with its original order and migration class, without
	// re-triggering the free hook. Caller must hold region's lock.
	Release(region Region, pfn uint64, order uint32, class MigrationClass) error
}

// ErrNotFree is returned by Isolate when the block is no longer free
// at the moment of isolation — the ordinary "false positive" outcome
// the scanner is built to tolerate (§4.4 edge-case policy), not a
// programming error.
var ErrNotFree = errors.New("allocator: block is not free")

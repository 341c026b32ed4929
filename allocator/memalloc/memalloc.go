// Package memalloc is a small in-memory reference implementation of
// allocator.Allocator. It is not the buddy allocator the design
// document describes — it is a stand-in collaborator so the core
// reporting engine (package pagereport) has something real to drive in
// tests and in the demo CLI (cmd/pagereportctl).
//
// The free-list-per-size-class bookkeeping is adapted from
// Zyuery-ShmMaster's segment allocator (one free list per block size),
// re-expressed in terms of page orders and migration classes instead of
// byte offsets. Blocks are never split or coalesced: every operation
// acts on exactly the pfn/order it is given.
package memalloc

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/pianoyeg94/go-pagereport/allocator"
)

// MaxOrder bounds the size of a single region: a region spans at most
// 1<<MaxOrder pages. This keeps the free-list index small; it is not a
// limitation of the real buddy allocator, only of this reference one.
const MaxOrder = 20

// Region is one contiguous, independently-locked span of page frames.
// It satisfies allocator.Region.
type Region struct {
	basePFN uint64
	npages  uint64

	mu sync.Mutex
	// free[order] holds the base pfns of free blocks of that exact
	// order, kept sorted so PfnToFreeBlock/Isolate can binary search.
	free [MaxOrder + 1][]uint64
	// class records the migration class a block was released (or
	// seeded) with, keyed by base pfn. Only blocks currently free
	// have an entry.
	class map[uint64]allocator.MigrationClass
}

func (r *Region) BasePFN() uint64 { return r.basePFN }
func (r *Region) EndPFN() uint64  { return r.basePFN + r.npages }

// NewRegion creates a region of npages pages starting at basePFN, with
// the entire span initially free: one block for each power of two in
// npages, largest first. These blocks are not split on allocation, and
// freed blocks are not coalesced with their neighbours.
func NewRegion(basePFN, npages uint64) (*Region, error) {
	if npages == 0 {
		return nil, errors.New("memalloc: region must have at least one page")
	}
	order := uint32(0)
	for (uint64(1) << order) < npages {
		order++
	}
	if order > MaxOrder {
		return nil, errors.Errorf("memalloc: region of %d pages exceeds MaxOrder", npages)
	}
	r := &Region{
		basePFN: basePFN,
		npages:  npages,
		class:   make(map[uint64]allocator.MigrationClass),
	}
	// Seed free lists for every power-of-two block that fits,
	// largest first, covering [basePFN, basePFN+npages) exactly once.
	pfn := basePFN
	remaining := npages
	for remaining > 0 {
		o := uint32(0)
		for o < MaxOrder && (uint64(1)<<(o+1)) <= remaining {
			o++
		}
		r.free[o] = append(r.free[o], pfn)
		r.class[pfn] = allocator.MigrationClass(0)
		pfn += uint64(1) << o
		remaining -= uint64(1) << o
	}
	for o := range r.free {
		sort.Slice(r.free[o], func(i, j int) bool { return r.free[o][i] < r.free[o][j] })
	}
	return r, nil
}

// Allocator is a collection of independent regions plus the two hook
// call sites a real buddy allocator owns: it calls onFree after a block
// lands on the free list (before releasing the region lock) and
// onAlloc before a block leaves the free list. SetHooks wires those to
// a pagereport.Controller's Enqueue/Dequeue.
type Allocator struct {
	mu      sync.RWMutex
	regions []*Region

	onFree  func(region allocator.Region, pfn uint64, order uint32)
	onAlloc func(region allocator.Region, pfn uint64)
}

func New() *Allocator {
	return &Allocator{}
}

// AddRegion registers a region with the allocator. Must be called
// before the allocator is handed to a pagereport.Controller (regions
// are snapshotted at enable time, per the design's non-goal on
// concurrent region resize).
func (a *Allocator) AddRegion(r *Region) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.regions = append(a.regions, r)
}

// SetHooks wires the allocator's free/allocate paths to the reporting
// engine. onFree is invoked with the region lock held, after the block
// is on the free list — mirroring §6.2's hook placement. onAlloc is
// invoked with the region lock held, before the block is removed from
// the free list.
func (a *Allocator) SetHooks(onFree func(allocator.Region, uint64, uint32), onAlloc func(allocator.Region, uint64)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onFree = onFree
	a.onAlloc = onAlloc
}

func (a *Allocator) ForEachRegion(fn func(allocator.Region) bool) {
	a.mu.RLock()
	regions := append([]*Region(nil), a.regions...)
	a.mu.RUnlock()
	for _, r := range regions {
		if !fn(r) {
			return
		}
	}
}

func (a *Allocator) WithRegionLock(region allocator.Region, fn func() error) error {
	r, ok := region.(*Region)
	if !ok {
		return errors.Errorf("memalloc: foreign region %T", region)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

// PfnToFreeBlock reports the free block starting exactly at pfn, if its
// order is at least minOrder. Caller must hold region's lock.
func (a *Allocator) PfnToFreeBlock(region allocator.Region, pfn uint64, minOrder uint32) (allocator.FreeBlock, bool) {
	r := region.(*Region)
	for o := minOrder; o <= MaxOrder; o++ {
		if idx := search(r.free[o], pfn); idx >= 0 {
			return allocator.FreeBlock{Order: o, Class: r.class[pfn]}, true
		}
	}
	return allocator.FreeBlock{}, false
}

// Isolate removes the block at pfn/order from its free list. Caller
// must hold region's lock.
func (a *Allocator) Isolate(region allocator.Region, pfn uint64, order uint32) error {
	r := region.(*Region)
	idx := search(r.free[order], pfn)
	if idx < 0 {
		return allocator.ErrNotFree
	}
	r.free[order] = append(r.free[order][:idx], r.free[order][idx+1:]...)
	delete(r.class, pfn)
	return nil
}

// Release reinserts pfn/order into its region's free list with the
// given migration class, without invoking the free hook — this is the
// "dequeue-equivalent path for release is configured to suppress
// re-enqueue" requirement from §4.4 step 3a. Caller must hold region's
// lock.
func (a *Allocator) Release(region allocator.Region, pfn uint64, order uint32, class allocator.MigrationClass) error {
	r := region.(*Region)
	idx := sort.Search(len(r.free[order]), func(i int) bool { return r.free[order][i] >= pfn })
	r.free[order] = insertAt(r.free[order], idx, pfn)
	r.class[pfn] = class
	return nil
}

// Free puts the block of 1<<order pages starting at pfn onto its
// region's free list for that order and invokes the free
// hook, mirroring the allocator's real free path: the block lands on
// the free list, then AH.enqueue is called, all under the region lock.
func (a *Allocator) Free(region *Region, pfn uint64, order uint32, class allocator.MigrationClass) {
	region.mu.Lock()
	idx := sort.Search(len(region.free[order]), func(i int) bool { return region.free[order][i] >= pfn })
	region.free[order] = insertAt(region.free[order], idx, pfn)
	region.class[pfn] = class
	// §6.2: the free hook is called after the block is on the free
	// list but before the region lock is released — that ordering
	// is what lets the candidate index piggyback on this same lock
	// instead of needing one of its own.
	if hook := a.loadOnFree(); hook != nil {
		hook(region, pfn, order)
	}
	region.mu.Unlock()
}

// Alloc removes a specific block from its region's free list,
// invoking the allocate hook before the block leaves the free list, as
// required by §6.2's hook placement.
func (a *Allocator) Alloc(region *Region, pfn uint64, order uint32) error {
	region.mu.Lock()
	hook := a.loadOnAlloc()
	if hook != nil {
		hook(region, pfn)
	}
	idx := search(region.free[order], pfn)
	if idx < 0 {
		region.mu.Unlock()
		return allocator.ErrNotFree
	}
	region.free[order] = append(region.free[order][:idx], region.free[order][idx+1:]...)
	delete(region.class, pfn)
	region.mu.Unlock()
	return nil
}

func (a *Allocator) loadOnFree() func(allocator.Region, uint64, uint32) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.onFree
}

func (a *Allocator) loadOnAlloc() func(allocator.Region, uint64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.onAlloc
}

func search(pfns []uint64, pfn uint64) int {
	i := sort.Search(len(pfns), func(i int) bool { return pfns[i] >= pfn })
	if i < len(pfns) && pfns[i] == pfn {
		return i
	}
	return -1
}

func insertAt(s []uint64, idx int, v uint64) []uint64 {
	s = append(s, 0)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

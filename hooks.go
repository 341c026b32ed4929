package pagereport

import "github.com/pianoyeg94/go-pagereport/allocator"

// Enqueue is the Allocator Hook called from the allocator's free path
// (§4.2, "AH.enqueue"). The allocator MUST call it after the block of
// 1<<order pages starting at pfn is on region's free list, and before
// releasing region's lock — it is that same lock the candidate index
// piggybacks on, so Enqueue itself never acquires a lock of its own.
//
// Enqueue is a no-op if there is no Active configuration, if order is
// below the configured minimum (sub-minimum frees are of no interest
// to the external consumer), or if region is not one the active
// configuration is tracking.
func (c *Controller) Enqueue(region allocator.Region, pfn uint64, order uint32) {
	ac := c.active.Load()
	if ac == nil {
		return
	}
	if order < ac.cfg.MinOrder {
		return
	}
	tr, ok := ac.byRegion[region]
	if !ok {
		return
	}
	idx := tr.blockIndex(pfn, ac.cfg.blockSize())
	if idx < 0 {
		return
	}

	tr.ci.mark(idx)

	// §4.2: "If pending >= max_pages and the scheduler is idle:
	// request a scan (at-most-once)." scheduler.request() is itself
	// idempotent while a cycle is already Pending or Running, so
	// the "and scheduler is idle" half of this condition is
	// enforced there, not here.
	if tr.ci.pendingCount() >= int64(ac.cfg.MaxPages) {
		ac.sched.request()
	}
}

// Dequeue is the Allocator Hook called from the allocator's allocate
// path (§4.2, "AH.dequeue"). The allocator MUST call it with region's
// lock held, before the block at pfn is removed from the free list.
// This is what lets the scanner never report a block that got
// reallocated between being marked and being re-validated (P5): the
// candidate bit is gone by the time dequeue returns, so a scanner
// that hasn't reached it yet will simply find nothing to process.
func (c *Controller) Dequeue(region allocator.Region, pfn uint64) {
	ac := c.active.Load()
	if ac == nil {
		return
	}
	tr, ok := ac.byRegion[region]
	if !ok {
		return
	}
	idx := tr.blockIndex(pfn, ac.cfg.blockSize())
	if idx < 0 {
		return
	}
	tr.ci.unmarkIfSet(idx)
}

package pagereport

// scanRegion implements the Scanner/Reporter algorithm of §4.4 for a
// single region: it drains candidate bits, re-validates each against
// the allocator, isolates the survivors into batches of at most
// ac.cfg.MaxPages, reports each full batch and then the final partial
// one, and releases every isolated block back to the allocator whether
// or not the report callback found it useful. If the scheduler has been
// stopped, the scan ends after the batch it has just emitted.
//
// scanRegion is only ever called from the scheduler's single worker
// goroutine, so P2 (at-most-one scan per configuration) holds as long
// as nothing else calls it directly.
func (c *Controller) scanRegion(ac *activeConfig, tr *trackedRegion) {
	cap := int(ac.cfg.MaxPages)
	if cap < 1 {
		cap = 1
	}
	blockSize := ac.cfg.blockSize()

	entries := make([]BatchEntry, 0, cap)
	it := newCIIterator(tr.ci)

	// Bounds the work done against a region whose candidate bits
	// are mostly stale (e.g. every marked block got reallocated
	// before the scanner reached it): two consecutive runs of
	// misses at least cap long, with nothing isolated yet for the
	// batch in progress, ends the scan early rather than spinning
	// through the whole bitmap. This is the "(b)" stop condition in
	// §4.4; "(a)" is simply the iterator running out.
	missRun := 0
	emptyStalls := 0

	for {
		idx, ok := it.Next()
		if !ok {
			break
		}
		pfn := tr.pfnOfBit(idx, blockSize)

		entry, isolated := c.revalidateAndIsolate(ac, tr, idx, pfn)
		if !isolated {
			missRun++
			if missRun >= cap {
				missRun = 0
				if len(entries) == 0 {
					emptyStalls++
					if emptyStalls >= 2 {
						break
					}
				} else {
					emptyStalls = 0
				}
			}
			continue
		}
		missRun = 0
		emptyStalls = 0

		entries = append(entries, entry)
		if len(entries) == cap {
			c.emit(ac, tr, entries)
			entries = entries[:0]
			if ac.sched.ctx.Err() != nil {
				return
			}
		}
	}

	if len(entries) > 0 {
		c.emit(ac, tr, entries)
	}
}

// revalidateAndIsolate performs step 2 of §4.4 under the region lock:
// clear the candidate bit, re-read the allocator's free-list state,
// and isolate the block if it is still free at the required order.
// Clearing happens before the re-read by construction — otherwise a
// concurrent free racing in right here could set the bit and have the
// scanner clear it without ever processing it (the ordering rule in
// §4.1 and §5).
func (c *Controller) revalidateAndIsolate(ac *activeConfig, tr *trackedRegion, bit int, pfn uint64) (BatchEntry, bool) {
	var (
		entry    BatchEntry
		isolated bool
	)
	_ = c.alloc.WithRegionLock(tr.region, func() error {
		tr.ci.unmarkIfSet(bit)

		fb, ok := c.alloc.PfnToFreeBlock(tr.region, pfn, ac.cfg.MinOrder)
		if !ok {
			return nil // false positive (P3): already reallocated, or never was this block
		}
		if err := c.alloc.Isolate(tr.region, pfn, fb.Order); err != nil {
			return nil // lost a race to another isolator; also a false positive from here on
		}
		entry = BatchEntry{
			PFN:           pfn,
			Order:         fb.Order,
			LengthInBytes: ac.cfg.pageSize() << fb.Order,
			region:        tr.region,
			class:         fb.Class,
		}
		isolated = true
		return nil
	})
	return entry, isolated
}

// emit is step 3 of §4.4: hand the batch to the external consumer's
// callback, then unconditionally release every entry back to its
// region's free list. The release path is the allocator's
// dequeue-equivalent with re-enqueue suppressed (§6.2) — releasing
// here must never cause the block to reappear in the candidate index.
func (c *Controller) emit(ac *activeConfig, tr *trackedRegion, entries []BatchEntry) {
	if len(entries) == 0 {
		return
	}

	if ac.cfg.ReportCallback != nil {
		ac.cfg.ReportCallback(append([]BatchEntry(nil), entries...))
	}

	_ = c.alloc.WithRegionLock(tr.region, func() error {
		for _, e := range entries {
			_ = c.alloc.Release(tr.region, e.PFN, e.Order, e.class)
		}
		return nil
	})
}

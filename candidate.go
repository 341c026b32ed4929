package pagereport

import "sync/atomic"

// candidateIndex is the per-region "possibly free, not yet reported"
// set described in §3/§4.1. Bit i is set iff the block starting at
// region.BasePFN() + i*blockSize was observed free at some moment at
// or after the last clear of bit i, and has not yet been processed by
// the scanner.
//
// candidateIndex has no lock of its own. Every method's precondition
// is that the caller already holds the owning region's lock — the
// same lock the allocator holds while mutating its free lists. See the
// design note "the allocator lock is load-bearing": a second lock here
// would either deadlock against the allocator or reopen the race P5
// exists to close.
type candidateIndex struct {
	bitmap []uint64
	nbits  int

	// pending is a monotonically-approximate count of set bits
	// (I3). It is read without the region lock and used only to
	// decide whether a scan is worth requesting — never to decide
	// correctness.
	pending atomic.Int64
}

func newCandidateIndex(nbits int) *candidateIndex {
	return &candidateIndex{
		bitmap: make([]uint64, (nbits+63)/64),
		nbits:  nbits,
	}
}

func (c *candidateIndex) get(i int) bool {
	return c.bitmap[i/64]&(uint64(1)<<(uint(i)%64)) != 0
}

// mark sets bit i. It is idempotent: returns false if the bit was
// already set. pending is incremented only on the 0->1 transition.
//
// Precondition: caller holds the region lock.
func (c *candidateIndex) mark(i int) bool {
	word := i / 64
	bit := uint64(1) << (uint(i) % 64)
	if c.bitmap[word]&bit != 0 {
		return false
	}
	c.bitmap[word] |= bit
	c.pending.Add(1)
	return true
}

// unmarkIfSet clears bit i if it is set, decrementing pending on the
// 1->0 transition. Returns whether the bit was cleared.
//
// Precondition: caller holds the region lock.
func (c *candidateIndex) unmarkIfSet(i int) bool {
	word := i / 64
	bit := uint64(1) << (uint(i) % 64)
	if c.bitmap[word]&bit == 0 {
		return false
	}
	c.bitmap[word] &^= bit
	c.pending.Add(-1)
	return true
}

// pendingCount returns the current approximate count of set bits. Safe
// to call without the region lock.
func (c *candidateIndex) pendingCount() int64 {
	return c.pending.Load()
}

// ciIterator produces the indices set in a candidateIndex, in ascending
// order. It reads the bitmap without the region lock, per §4.1's
// "iter_set" contract. newCIIterator snapshots the bitmap, and Next
// yields only bits set both in that snapshot and in the live bitmap:
// bits cleared during iteration are skipped, and bits set during
// iteration are left for the next scan. Every candidate the scanner
// does act on is re-validated under the region lock before anything is
// isolated.
//
// An iterator is restartable (newCIIterator can be called again) and
// finite (Next eventually returns false).
type ciIterator struct {
	ci   *candidateIndex
	snap []uint64
	next int
}

func newCIIterator(ci *candidateIndex) *ciIterator {
	return &ciIterator{ci: ci, snap: append([]uint64(nil), ci.bitmap...)}
}

// Next returns the next index at or after the iterator's cursor that
// was set when the iterator was created and is still set, or false
// once no more bits remain up to nbits.
func (it *ciIterator) Next() (int, bool) {
	for i := it.next; i < it.ci.nbits; i++ {
		if it.snap[i/64]&(uint64(1)<<(uint(i)%64)) != 0 && it.ci.get(i) {
			it.next = i + 1
			return i, true
		}
	}
	it.next = it.ci.nbits
	return 0, false
}

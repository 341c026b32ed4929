package pagereport

import "github.com/pianoyeg94/go-pagereport/allocator"

// trackedRegion pairs an allocator-owned region with the candidate
// index the controller maintains for it. base/end are snapshotted at
// enable time: §1's non-goal on concurrent region resize means the
// controller assumes these never change while this trackedRegion is
// part of an active configuration.
type trackedRegion struct {
	region allocator.Region
	base   uint64
	end    uint64
	ci     *candidateIndex
}

// blockIndex returns the candidate-index bit for the block whose base
// page frame is pfn, or -1 if pfn does not fall on a block boundary
// within this region.
func (tr *trackedRegion) blockIndex(pfn uint64, blockSize uint64) int {
	if pfn < tr.base || pfn >= tr.end {
		return -1
	}
	off := pfn - tr.base
	if off%blockSize != 0 {
		return -1
	}
	idx := off / blockSize
	if idx >= uint64(tr.ci.nbits) {
		return -1
	}
	return int(idx)
}

// pfnOfBit is blockIndex's inverse.
func (tr *trackedRegion) pfnOfBit(i int, blockSize uint64) uint64 {
	return tr.base + uint64(i)*blockSize
}

func newTrackedRegion(region allocator.Region, blockSize uint64) *trackedRegion {
	base, end := region.BasePFN(), region.EndPFN()
	nbits := int((end - base) / blockSize)
	return &trackedRegion{
		region: region,
		base:   base,
		end:    end,
		ci:     newCandidateIndex(nbits),
	}
}

package pagereport

import "github.com/pianoyeg94/go-pagereport/allocator"

// BatchEntry describes one isolated block handed to the external
// consumer's report callback. Order and migration class are carried
// through unchanged so the engine can Release the block exactly as it
// found it once the callback returns.
type BatchEntry struct {
	PFN           uint64
	Order         uint32
	LengthInBytes uint64

	region allocator.Region
	class  allocator.MigrationClass
}

// Config is the §6.1 configuration an external consumer hands to
// Enable. Exactly one Config may be active on a Controller at a time.
type Config struct {
	// ReportCallback receives each batch as the scanner fills or
	// flushes it. It is treated as opaque and may block; the engine
	// always releases the batch back to the allocator regardless of
	// what the callback does (§7 — the callback is advisory).
	ReportCallback func(batch []BatchEntry)

	// MaxPages bounds the staging batch's length. Must be >= 1.
	MaxPages uint32

	// MinOrder is the minimum block order the engine tracks and
	// reports. Must be >= the allocator's own minimum trackable
	// order.
	MinOrder uint32

	// PageSize is the size in bytes of a single page, used to
	// compute BatchEntry.LengthInBytes. Defaults to 4096 if zero.
	PageSize uint64
}

func (c Config) pageSize() uint64 {
	if c.PageSize == 0 {
		return 4096
	}
	return c.PageSize
}

func (c Config) blockSize() uint64 {
	return uint64(1) << c.MinOrder
}

//go:build unix

package memalloc

import "golang.org/x/sys/unix"

// Arena is an anonymous mmap-backed byte range standing in for the
// physical page frames a real region would be carved out of. It is
// only used by cmd/pagereportctl's "simulate --mmap" mode to make the
// demo's pfn arithmetic correspond to real addressable memory instead
// of synthetic integers; NewRegion works perfectly well without one.
//
// Grounded on Zyuery-ShmMaster's mmap_unix.go and
// joshuapare-hivekit's mmfile_unix.go, both of which wrap
// golang.org/x/sys/unix.Mmap/Munmap around a []byte view.
type Arena struct {
	data []byte
}

// NewArena maps an anonymous, zero-filled region of npages pages of
// pageSize bytes each.
func NewArena(npages uint64, pageSize int) (*Arena, error) {
	size := int(npages) * pageSize
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return &Arena{data: data}, nil
}

// Bytes returns the arena's backing slice.
func (a *Arena) Bytes() []byte { return a.data }

// Close unmaps the arena. It must not be used afterwards.
func (a *Arena) Close() error {
	if a.data == nil {
		return nil
	}
	err := unix.Munmap(a.data)
	a.data = nil
	return err
}

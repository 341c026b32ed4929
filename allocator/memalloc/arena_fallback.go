//go:build !unix

package memalloc

// Arena falls back to a plain heap allocation on platforms without an
// anonymous-mmap syscall wrapper in golang.org/x/sys/unix. The demo
// CLI's simulate --mmap mode still works; it just isn't backed by a
// real mapping.
type Arena struct {
	data []byte
}

func NewArena(npages uint64, pageSize int) (*Arena, error) {
	return &Arena{data: make([]byte, int(npages)*pageSize)}, nil
}

func (a *Arena) Bytes() []byte { return a.data }

func (a *Arena) Close() error {
	a.data = nil
	return nil
}

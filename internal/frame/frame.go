// Package frame implements the shard-local physical frame pool: a flat byte
// arena sliced into fixed-size pages, plus a per-frame "first_loaded" bit so
// a freshly allocated frame can skip its initial read.
package frame

import (
	"sync/atomic"
)

// Pool owns num*pageSize contiguous bytes and hands out per-ppid page
// slices. Not safe for concurrent mutation of the allocation bitmap itself
// (that mirrors CHPT's single-writer-per-shard invariant); reading a frame's
// bytes once pinned is the caller's responsibility to serialize against
// concurrent writers.
type Pool struct {
	mem         []byte
	pageSize    int
	numPages    int
	firstLoaded []atomic.Bool
	nextFresh   uint32
}

// New allocates a pool of numPages frames of pageSize bytes each via a plain
// host allocation. (A DMA-region-backed pool is provided by drivers that
// require one; see internal/ioback.)
func New(numPages, pageSize int) *Pool {
	if numPages < 1 {
		numPages = 1
	}
	p := &Pool{
		mem:         make([]byte, numPages*pageSize),
		pageSize:    pageSize,
		numPages:    numPages,
		firstLoaded: make([]atomic.Bool, numPages),
	}
	return p
}

// NewOverRegion wraps a caller-provided (e.g. DMA) region instead of
// allocating one, for drivers that require their I/O buffers to live in a
// specific region; the shard uses that region as its physical frame pool
// when present.
func NewOverRegion(region []byte, pageSize int) *Pool {
	numPages := len(region) / pageSize
	if numPages < 1 {
		panic("frame: region too small for even one page")
	}
	return &Pool{
		mem:         region[:numPages*pageSize],
		pageSize:    pageSize,
		numPages:    numPages,
		firstLoaded: make([]atomic.Bool, numPages),
	}
}

// NumPages reports total frame capacity.
func (p *Pool) NumPages() int { return p.numPages }

// Page returns the byte slice backing ppid. Valid only while the caller
// holds a pin (or the shard-owner's eviction lock) on the mapping using it.
func (p *Pool) Page(ppid uint32) []byte {
	off := int(ppid) * p.pageSize
	return p.mem[off : off+p.pageSize]
}

// AllocFresh hands out the next never-used ppid, or false once every frame
// has been allocated at least once. Once exhausted, the caller selects a
// replacement victim and reuses its ppid directly; a frame's physical slot
// never returns to this pool, only its mapping is replaced.
func (p *Pool) AllocFresh() (uint32, bool) {
	if int(p.nextFresh) >= p.numPages {
		return 0, false
	}
	ppid := p.nextFresh
	p.nextFresh++
	return ppid, true
}

// FirstLoaded reports and clears the "never read from storage" bit for
// ppid: true on the first call after allocation (read may be skipped and
// the page zero-filled), false thereafter.
func (p *Pool) FirstLoaded(ppid uint32) bool {
	return !p.firstLoaded[ppid].Swap(true)
}

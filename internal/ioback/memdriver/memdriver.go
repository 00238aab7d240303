// Package memdriver is the zero-configuration default I/O backend: an
// in-memory backing store with no persistence, useful for tests and for
// callers that don't need pages to survive process restart.
package memdriver

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arlog/tricache/internal/ioback"
)

type job struct {
	isWrite bool
	block   uint64
	buf     []byte
	done    *atomic.Bool
}

// Driver backs every block with a lazily-allocated byte slice in a map,
// dispatched onto a small worker pool so Read/Write genuinely complete
// asynchronously with respect to the caller, exercising the same
// accepted/done protocol a real async driver would.
type Driver struct {
	blockSize int
	depth     int

	mu    sync.Mutex
	store map[uint64][]byte

	inflight atomic.Int64
	jobs     chan job
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// New starts a memdriver with the given queue depth and worker count.
func New(blockSize, depth, workers int) *Driver {
	if depth < 1 {
		depth = 1
	}
	if workers < 1 {
		workers = 1
	}
	d := &Driver{
		blockSize: blockSize,
		depth:     depth,
		store:     make(map[uint64][]byte),
		jobs:      make(chan job, depth),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Driver) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.mu.Lock()
		if j.isWrite {
			blob := make([]byte, d.blockSize)
			copy(blob, j.buf)
			d.store[j.block] = blob
		} else {
			if blob, ok := d.store[j.block]; ok {
				copy(j.buf, blob)
			} else {
				clear(j.buf)
			}
		}
		d.mu.Unlock()
		j.done.Store(true)
		d.inflight.Add(-1)
	}
}

func (d *Driver) Read(_ context.Context, block uint64, buf []byte, done *atomic.Bool) bool {
	return d.submit(job{isWrite: false, block: block, buf: buf, done: done})
}

func (d *Driver) Write(_ context.Context, block uint64, buf []byte, done *atomic.Bool) bool {
	return d.submit(job{isWrite: true, block: block, buf: buf, done: done})
}

func (d *Driver) submit(j job) bool {
	if d.inflight.Load() >= int64(d.depth) {
		return false
	}
	d.inflight.Add(1)
	select {
	case d.jobs <- j:
		return true
	default:
		d.inflight.Add(-1)
		return false
	}
}

// Progress is a no-op: completions are driven by the worker pool, not by the
// submitter. It exists to satisfy ioback.Backend and to give callers a
// well-known yield point while they spin-wait on done flags.
func (d *Driver) Progress() bool { return false }

func (d *Driver) DMABuffer() []byte { return nil }

func (d *Driver) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		close(d.jobs)
		d.wg.Wait()
	}
	return nil
}

var _ ioback.Backend = (*Driver)(nil)

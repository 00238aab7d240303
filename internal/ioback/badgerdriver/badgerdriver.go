// Package badgerdriver backs a shard with an embedded BadgerDB instance,
// one key per block id, giving evicted pages a durable L2 store instead of
// a plain file or in-memory map.
package badgerdriver

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/arlog/tricache/internal/ioback"
)

type job struct {
	isWrite bool
	block   uint64
	buf     []byte
	done    *atomic.Bool
}

// Driver stores each block as a Badger value keyed by its big-endian block
// id, same one-key-per-page-of-fixed-size shape as the original's "key →
// blob" eject path.
type Driver struct {
	db        *badger.DB
	blockSize int
	depth     int
	log       *zap.Logger

	inflight atomic.Int64
	jobs     chan job
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// Open opens (creating if absent) a Badger directory as a shard's block
// store.
func Open(dir string, blockSize, depth, workers int, log *zap.Logger) (*Driver, error) {
	if depth < 1 {
		depth = 1
	}
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badgerdriver: open %s: %w", dir, err)
	}
	d := &Driver{
		db:        db,
		blockSize: blockSize,
		depth:     depth,
		log:       log,
		jobs:      make(chan job, depth),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d, nil
}

func keyOf(block uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], block)
	return k[:]
}

func (d *Driver) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		var err error
		if j.isWrite {
			blob := make([]byte, len(j.buf))
			copy(blob, j.buf)
			err = d.db.Update(func(txn *badger.Txn) error {
				return txn.Set(keyOf(j.block), blob)
			})
		} else {
			err = d.db.View(func(txn *badger.Txn) error {
				item, getErr := txn.Get(keyOf(j.block))
				if getErr != nil {
					return getErr
				}
				return item.Value(func(b []byte) error {
					copy(j.buf, b)
					return nil
				})
			})
			if err == badger.ErrKeyNotFound {
				clear(j.buf)
				err = nil
			}
		}
		if err != nil {
			d.log.Warn("badgerdriver op failed", zap.Uint64("block", j.block), zap.Bool("write", j.isWrite), zap.Error(err))
		}
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

func (d *Driver) Progress() bool { return false }

func (d *Driver) DMABuffer() []byte { return nil }

func (d *Driver) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		close(d.jobs)
		d.wg.Wait()
	}
	return d.db.Close()
}

var _ ioback.Backend = (*Driver)(nil)

// Package ioback defines the asynchronous block-I/O backend contract
// consumed by a shard and provides three drivers: an in-memory stub, a
// file-backed pread/pwrite pool, and a Badger-backed KV driver.
package ioback

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Backend is the abstract async block device a shard drives during its
// Evicting/Loading steps.
//
// Backpressure: when Read/Write returns accepted=false, the submitter must
// call Progress and retry. done is set exactly once, after the operation
// completes; the drivers in this module set it from their own worker
// goroutines, so their Progress has nothing to drain.
type Backend interface {
	Read(ctx context.Context, block uint64, buf []byte, done *atomic.Bool) (accepted bool)
	Write(ctx context.Context, block uint64, buf []byte, done *atomic.Bool) (accepted bool)
	// Progress drains completions, making forward progress on in-flight
	// operations. Returns true if it did any work.
	Progress() bool
	// DMABuffer returns a preferred I/O region, or nil if the driver has no
	// opinion and the shard should allocate its own frame pool.
	DMABuffer() []byte
	// Close releases driver resources.
	Close() error
}

// Spec describes one shard's backend configuration: a driver kind plus,
// for the file and Badger drivers, a path. There is no raw block-device
// kind. The core does not parse device URIs beyond dispatching to the
// right driver constructor; that selection lives in pkg/tricache.
type Spec struct {
	Kind string // "mem", "file", "badger"
	Path string // file path / badger directory
	// BlockSize must equal the cache's page size. A driver addresses every
	// block as exactly one page; a mismatch silently truncates or
	// zero-pads whatever it reads or writes. Validate with ValidateBlockSize
	// before constructing a driver from this Spec.
	BlockSize int
}

// ErrBlockSizeMismatch is returned by ValidateBlockSize when a Spec's
// BlockSize does not match the cache's page size.
var ErrBlockSizeMismatch = errors.New("ioback: BlockSize must equal the cache's page size")

// ValidateBlockSize checks spec.BlockSize against pageSize. Every driver
// constructor is called with a Spec already validated this way; none
// re-checks it.
func ValidateBlockSize(spec Spec, pageSize int) error {
	if spec.BlockSize != pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBlockSizeMismatch, spec.BlockSize, pageSize)
	}
	return nil
}

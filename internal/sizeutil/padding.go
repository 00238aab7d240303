// Package sizeutil holds cacheline-sizing helpers. The mailbox uses Pad to
// separate its slots; the padded counters have no caller in this module.
package sizeutil

import (
	"sync/atomic"
	"unsafe"
)

// CacheLine is a reasonable default for most modern x86/arm64 cores.
const CacheLine = 64

// Pad is a dummy field used to separate hot fields onto distinct cache lines.
type Pad struct{ _ [CacheLine]byte }

// PaddedUint64 is an atomic counter padded to exactly one cache line, so
// independent shard counters never false-share.
type PaddedUint64 struct {
	atomic.Uint64
	_ [CacheLine - 8]byte
}

// PaddedInt64 is the signed counterpart.
type PaddedInt64 struct {
	atomic.Int64
	_ [CacheLine - 8]byte
}

var (
	_ [CacheLine - int(unsafe.Sizeof(PaddedUint64{}))]byte
	_ [CacheLine - int(unsafe.Sizeof(PaddedInt64{}))]byte
)

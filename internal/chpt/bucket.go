package chpt

import "sync/atomic"

// bucketWidth is the number of slots sharing one tag: the slot within a
// bucket is vpid mod 8, so every group of 8 consecutive vpids lands in the
// same bucket.
const bucketWidth = 8

// emptyPpid marks a slot with no backing frame.
const emptyPpid uint32 = 1<<32 - 1

// noTag marks a primary bucket that has never been claimed for any tag yet.
// Real tags are vpid/bucketWidth for a bounded vpid space, far short of this
// sentinel, so the two never collide.
const noTag uint64 = 1<<64 - 1

// bucket is one hash-table entry (with 32-bit slot headers it spans more
// than one 64-byte cache line): 8 slots sharing a tag,
// an overflow chain pointer, and a use counter for pool reclamation.
//
// Structural fields (tag, next, primary-ness) are mutated only by the shard's
// single owning goroutine. Per-slot headers and ppids are mutated by client
// fast-paths via CAS, which is why they are atomic even though the rest of
// the bucket is not.
type bucket struct {
	tag      atomic.Uint64 // vpid / bucketWidth; identifies which 8 vpids this bucket covers
	headers  [bucketWidth]slotHeader
	ppids    [bucketWidth]atomic.Uint32
	numUsing atomic.Uint32 // slots with exist==true; bucket owner only mutates
	next     atomic.Pointer[bucket]
	primary  bool // primary buckets are never returned to the overflow pool
}

func newBucket(primary bool) *bucket {
	b := &bucket{primary: primary}
	for i := range b.ppids {
		b.ppids[i].Store(emptyPpid)
	}
	if primary {
		b.tag.Store(noTag)
	}
	return b
}

func (b *bucket) reset(tag uint64) {
	b.tag.Store(tag)
	b.numUsing.Store(0)
	b.next.Store(nil)
	for i := range b.headers {
		b.headers[i].w.Store(0)
		b.ppids[i].Store(emptyPpid)
	}
}

func slotOf(vpid uint64) int { return int(vpid % bucketWidth) }
func tagOf(vpid uint64) uint64 { return vpid / bucketWidth }

package chpt

import "sync/atomic"

// Hint is an opaque pointer into a Table that callers may cache (e.g. in a
// private-cache entry) and pass back into Pin/Unpin to skip the chain walk.
// A Hint is only ever a performance shortcut: Pin/Unpin always revalidate
// the embedded tag before trusting it, so a stale Hint after bucket
// recycling degrades to a miss rather than corrupting state.
type Hint struct {
	b   *bucket
	tag uint64
}

// Table is one shard's compact hash page table: a primary array of
// fixed-size buckets plus an overflow pool for tags that collide on
// the same primary slot.
type Table struct {
	primary      []bucket
	pool         *pool
	maxChainWalk int
	epoch        atomic.Uint64 // bumped once per overflow allocation; drives pool's recycling grace period
}

// NewTable builds a table sized for maxPpid physical frames: the primary
// array holds 2*maxPpid buckets, the overflow pool holds maxPpid buckets.
func NewTable(maxPpid int) *Table {
	if maxPpid < 1 {
		maxPpid = 1
	}
	t := &Table{
		primary:      make([]bucket, 2*maxPpid),
		pool:         newPool(maxPpid),
		maxChainWalk: 64,
	}
	for i := range t.primary {
		t.primary[i] = *newBucket(true)
	}
	return t
}

func (t *Table) primaryFor(tag uint64) *bucket {
	return &t.primary[tag%uint64(len(t.primary))]
}

// lookup walks the chain rooted at vpid's primary bucket looking for a
// bucket whose tag matches. Returns nil if none exists yet. Safe for any
// goroutine: it only follows atomic.Pointer loads and compares tags.
func (t *Table) lookup(vpid uint64) *bucket {
	tag := tagOf(vpid)
	b := t.primaryFor(tag)
	for i := 0; i < t.maxChainWalk; i++ {
		if b == nil {
			return nil
		}
		if b.tag.Load() == tag {
			return b
		}
		b = b.next.Load()
	}
	return nil
}

// FindOrCreateHint returns a Hint for vpid, claiming the primary bucket for
// its tag if the bucket has never been claimed, else allocating and
// chaining an overflow bucket from the pool. Must only be called from the
// shard's owning goroutine: it mutates bucket chaining, which is not
// protected by any lock (single-writer invariant).
func (t *Table) FindOrCreateHint(vpid uint64) *Hint {
	tag := tagOf(vpid)
	root := t.primaryFor(tag)
	b := root
	var last *bucket
	for i := 0; i < t.maxChainWalk; i++ {
		if b == nil {
			break
		}
		if b.tag.Load() == tag {
			return &Hint{b: b, tag: tag}
		}
		last = b
		b = b.next.Load()
	}

	// The primary bucket this tag hashes to is the table's primary store,
	// not just a chain root: if nothing has ever claimed it, this tag
	// becomes its owner instead of spilling into the overflow pool.
	if root.tag.Load() == noTag {
		root.reset(tag)
		return &Hint{b: root, tag: tag}
	}

	epoch := t.epoch.Add(1)
	fresh := t.pool.get(epoch)
	if fresh == nil {
		// Overflow pool exhausted: every overflow bucket is in use or still
		// serving its grace period. Indicates the table is sized too small
		// for the number of distinct tags resident at once.
		panic("chpt: overflow bucket pool exhausted")
	}
	fresh.reset(tag)
	// Publish the new bucket only after it is fully initialized: the next
	// pointer write is the release that makes it visible to concurrent
	// chain walkers.
	last.next.Store(fresh)
	return &Hint{b: fresh, tag: tag}
}

// releaseIfEmpty returns b to the overflow pool once it has no resident
// slots left. Primary buckets are never returned: they keep whatever tag
// they were first claimed for, for the table's lifetime, and simply sit
// empty between uses of that tag. An overflow bucket, once empty, is
// unlinked from its chain and handed to pool.retire, which quarantines it
// for a grace period before it can be reassigned to a different tag (see
// pool.go) so a lock-free reader already mid-walk through it has time to
// finish.
func (t *Table) releaseIfEmpty(b *bucket) {
	if b.primary || b.numUsing.Load() != 0 {
		return
	}
	pred := t.predecessorOf(b)
	if pred == nil {
		return
	}
	pred.next.Store(b.next.Load())
	t.pool.retire(b, t.epoch.Load())
}

// predecessorOf walks b's chain from its primary root to find the bucket
// whose next pointer references b. Only safe to call from the shard's
// owning goroutine.
func (t *Table) predecessorOf(target *bucket) *bucket {
	tag := target.tag.Load()
	b := t.primaryFor(tag)
	if b == target {
		return nil
	}
	for i := 0; i < t.maxChainWalk; i++ {
		next := b.next.Load()
		if next == target {
			return b
		}
		if next == nil {
			return nil
		}
		b = next
	}
	return nil
}

// Package chpt implements a compact hash page table: a per-shard
// vpid -> (ppid, refcount, dirty, busy, exist) map whose hot path
// (Pin/Unpin) is a single lock-free CAS on a packed header.
package chpt

// PinResult is the outcome of an attempted Pin.
type PinResult struct {
	Success      bool
	Ppid         uint32
	PrevRefcount uint32 // 0 => caller must remove ppid from replacement
}

// Pin atomically increments vpid's refcount if its slot is exist && !busy.
// hint, if non-nil, is revalidated against the derived tag before use so a
// stale Hint degrades to a miss instead of touching the wrong bucket.
func (t *Table) Pin(vpid uint64, hint *Hint) PinResult {
	b, slot, ok := t.resolve(vpid, hint)
	if !ok {
		return PinResult{}
	}
	h := &b.headers[slot]
	for {
		old := h.load()
		if !hdrExistBit(old) || hdrBusyBit(old) {
			return PinResult{}
		}
		ref := hdrRefcount(old)
		if ref == maxRef {
			return PinResult{}
		}
		newH := packed(true, false, hdrDirtyBit(old), ref+1)
		if h.cas(old, newH) {
			return PinResult{Success: true, Ppid: b.ppids[slot].Load(), PrevRefcount: ref}
		}
	}
}

// Unpin atomically decrements vpid's refcount, ORing in the dirty bit when
// isWrite. Returns the refcount observed before decrementing; prevRefcount
// == 1 signals the caller must reinsert ppid into replacement.
// ok is false if vpid has no resident mapping (usage error; double-unpin
// should be caught by the caller).
func (t *Table) Unpin(vpid uint64, isWrite bool, hint *Hint) (prevRefcount uint32, ok bool) {
	b, slot, found := t.resolve(vpid, hint)
	if !found {
		return 0, false
	}
	h := &b.headers[slot]
	for {
		old := h.load()
		if !hdrExistBit(old) {
			return 0, false
		}
		ref := hdrRefcount(old)
		if ref == 0 {
			// Double-unpin: reject rather than underflow the refcount.
			return 0, false
		}
		dirty := hdrDirtyBit(old) || isWrite
		newH := packed(true, hdrBusyBit(old), dirty, ref-1)
		if h.cas(old, newH) {
			return ref, true
		}
	}
}

// Lock CAS-sets busy only when refcount == 0 and busy is currently clear.
// Used to serialize mapping install/evict.
func (t *Table) Lock(vpid uint64, hint *Hint) (*Hint, bool) {
	b, slot, ok := t.resolveOrCreate(vpid, hint)
	if !ok {
		return hint, false
	}
	h := &b.headers[slot]
	for {
		old := h.load()
		if hdrBusyBit(old) || hdrRefcount(old) != 0 {
			return &Hint{b: b, tag: tagOf(vpid)}, false
		}
		newH := packed(hdrExistBit(old), true, hdrDirtyBit(old), 0)
		if h.cas(old, newH) {
			return &Hint{b: b, tag: tagOf(vpid)}, true
		}
	}
}

// Unlock clears busy without touching exist/dirty/ref. Internal helper used
// by ReleaseMappingLock; exported for callers that need to abort a lock
// without installing or deleting a mapping.
func (t *Table) Unlock(vpid uint64, hint *Hint) {
	b, slot, ok := t.resolve(vpid, hint)
	if !ok {
		return
	}
	h := &b.headers[slot]
	for {
		old := h.load()
		newH := packed(hdrExistBit(old), false, hdrDirtyBit(old), hdrRefcount(old))
		if h.cas(old, newH) {
			return
		}
	}
}

// CreateMapping installs vpid -> ppid. Requires the slot's busy bit already
// held (via Lock). Leaves busy set; the caller must follow with
// ReleaseMappingLock once I/O staging completes.
func (t *Table) CreateMapping(vpid uint64, ppid uint32, ref uint32, hint *Hint) {
	b, slot, ok := t.resolve(vpid, hint)
	if !ok {
		panic("chpt: CreateMapping on unresolved slot")
	}
	h := &b.headers[slot]
	old := h.load()
	if !hdrBusyBit(old) {
		panic("chpt: CreateMapping requires busy held")
	}
	wasExist := hdrExistBit(old)
	b.ppids[slot].Store(ppid)
	newH := packed(true, true, false, ref)
	h.w.Store(newH)
	if !wasExist {
		b.numUsing.Add(1)
	}
}

// DeleteMapping clears vpid's mapping. Requires busy held and refcount == 0.
func (t *Table) DeleteMapping(vpid uint64, hint *Hint) {
	b, slot, ok := t.resolve(vpid, hint)
	if !ok {
		panic("chpt: DeleteMapping on unresolved slot")
	}
	h := &b.headers[slot]
	old := h.load()
	if !hdrBusyBit(old) || hdrRefcount(old) != 0 {
		panic("chpt: DeleteMapping requires busy held and refcount == 0")
	}
	b.ppids[slot].Store(emptyPpid)
	newH := packed(false, true, false, 0)
	h.w.Store(newH)
}

// ReleaseMappingLock clears busy. If the slot ends up empty, the bucket's
// numUsing is decremented and the bucket becomes a candidate for pool
// return (see Table.releaseIfEmpty, which unlinks an empty overflow bucket
// and retires it to the pool's quarantine).
func (t *Table) ReleaseMappingLock(vpid uint64, hint *Hint) {
	b, slot, ok := t.resolve(vpid, hint)
	if !ok {
		return
	}
	h := &b.headers[slot]
	var becameEmpty bool
	for {
		old := h.load()
		newH := packed(hdrExistBit(old), false, hdrDirtyBit(old), hdrRefcount(old))
		if h.cas(old, newH) {
			becameEmpty = !hdrExistBit(old)
			break
		}
	}
	if becameEmpty {
		b.numUsing.Add(^uint32(0)) // decrement by one (two's complement -1)
		t.releaseIfEmpty(b)
	}
}

// Peek reads vpid's current header without mutating it. Intended for the
// shard core, which owns exist/ppid transitions exclusively and only needs
// an ordinary atomic load to make routing decisions between Begin and
// Initing.
func (t *Table) Peek(vpid uint64, hint *Hint) (exist, busy, dirty bool, ppid uint32, ref uint32, ok bool) {
	b, slot, found := t.resolve(vpid, hint)
	if !found {
		return false, false, false, 0, 0, false
	}
	old := b.headers[slot].load()
	return hdrExistBit(old), hdrBusyBit(old), hdrDirtyBit(old), b.ppids[slot].Load(), hdrRefcount(old), true
}

// resolve locates vpid's bucket/slot using hint when it is still valid,
// falling back to a read-only chain walk. It never allocates.
func (t *Table) resolve(vpid uint64, hint *Hint) (*bucket, int, bool) {
	tag := tagOf(vpid)
	if hint != nil && hint.tag == tag && hint.b.tag.Load() == tag {
		return hint.b, slotOf(vpid), true
	}
	b := t.lookup(vpid)
	if b == nil {
		return nil, 0, false
	}
	return b, slotOf(vpid), true
}

// resolveOrCreate is like resolve but allocates a bucket if none exists.
// Only safe to call from the shard's owning goroutine.
func (t *Table) resolveOrCreate(vpid uint64, hint *Hint) (*bucket, int, bool) {
	if b, slot, ok := t.resolve(vpid, hint); ok {
		return b, slot, true
	}
	h := t.FindOrCreateHint(vpid)
	return h.b, slotOf(vpid), true
}

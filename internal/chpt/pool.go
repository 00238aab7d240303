package chpt

// pool hands out overflow buckets, bounded to maxPpid. Only ever touched by
// the shard's owning goroutine, so a plain LIFO slice needs no locking.
//
// A bucket emptied by releaseIfEmpty is not returned to free immediately:
// lock-free readers walk the chain via plain pointer loads with no
// coordination, so a reader that loaded the soon-to-be-recycled bucket as
// someone's "next" just before it was unlinked could still be examining its
// tag when we reuse it for a different one. quarantine defers reuse for a
// short grace period (measured in the table's own epoch, which advances
// once per overflow allocation) so any such reader's bounded chain walk has
// long finished by the time the bucket is handed out again.
type pool struct {
	free       []*bucket
	quarantine []quarantinedBucket
}

type quarantinedBucket struct {
	b       *bucket
	retired uint64
}

// gracePeriod is the number of table epochs a retired bucket waits in
// quarantine before it becomes reusable.
const gracePeriod = 2

func newPool(maxPpid int) *pool {
	p := &pool{free: make([]*bucket, 0, maxPpid)}
	for i := 0; i < maxPpid; i++ {
		p.free = append(p.free, newBucket(false))
	}
	return p
}

// get reclaims any quarantined bucket whose grace period has elapsed, then
// returns a free bucket, or nil if none is available.
func (p *pool) get(epoch uint64) *bucket {
	p.reclaim(epoch)
	n := len(p.free)
	if n == 0 {
		return nil
	}
	b := p.free[n-1]
	p.free = p.free[:n-1]
	return b
}

// retire places b in quarantine instead of returning it to free directly.
func (p *pool) retire(b *bucket, epoch uint64) {
	p.quarantine = append(p.quarantine, quarantinedBucket{b: b, retired: epoch})
}

func (p *pool) reclaim(epoch uint64) {
	if len(p.quarantine) == 0 {
		return
	}
	kept := p.quarantine[:0]
	for _, q := range p.quarantine {
		if epoch-q.retired >= gracePeriod {
			p.free = append(p.free, q.b)
		} else {
			kept = append(kept, q)
		}
	}
	p.quarantine = kept
}

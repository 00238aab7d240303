// Package direct implements the per-goroutine direct-mapped cache: a fixed
// K-slot array indexed by vpid & (K-1), one slot per index, no replacement
// policy at all. It is the fastest and smallest tier, sitting in front of
// internal/private (or internal/pclient directly for a two-tier
// configuration), intended for a single goroutine's hot working set.
package direct

import (
	"context"
	"errors"

	"github.com/arlog/tricache/internal/telemetry"
)

// ErrNotPowerOfTwo is returned by New when k isn't a power of two, since
// the index function relies on a bitmask.
var ErrNotPowerOfTwo = errors.New("direct: k must be a power of two")

// Shared is the tier a direct Cache fronts. internal/private.Cache
// satisfies this directly; internal/pclient.Client satisfies it via
// Client.AsPageSource(). An interface rather than a concrete type so a
// multi-shard caller (see pkg/tricache) can hand the direct cache a router
// that dispatches each vpid to the tier owning its shard.
type Shared interface {
	Pin(ctx context.Context, vpid uint64) ([]byte, error)
	Unpin(ctx context.Context, vpid uint64, isWrite bool) error
}

// Handle identifies a slot so a caller can re-access it in O(1) without
// recomputing vpid & (K-1).
type Handle uint32

type slot struct {
	occupied bool
	vpid     uint64
	page     []byte
	dirty    bool
}

// Cache is one goroutine's direct-mapped view onto shared. Not safe for
// concurrent use; a direct Cache is owned by exactly one goroutine.
type Cache struct {
	shared Shared
	mask   uint64
	slots  []slot

	sink  telemetry.Sink
	shard int
}

// New builds a direct-mapped cache of k slots fronting shared. k must be a
// power of two.
func New(shared Shared, k int) (*Cache, error) {
	if k < 1 || k&(k-1) != 0 {
		return nil, ErrNotPowerOfTwo
	}
	return &Cache{
		shared: shared,
		mask:   uint64(k - 1),
		slots:  make([]slot, k),
		sink:   telemetry.Noop,
	}, nil
}

// SetTelemetry routes this cache's hit/miss/eviction events to sink, labeled
// with shard (direct caches span every shard, so shard here identifies the
// owning Client rather than a single shard index). Optional; a freshly-built
// Cache reports to telemetry.Noop.
func (c *Cache) SetTelemetry(sink telemetry.Sink, shard int) {
	if sink == nil {
		sink = telemetry.Noop
	}
	c.sink = sink
	c.shard = shard
}

func (c *Cache) indexOf(vpid uint64) uint64 { return vpid & c.mask }

// Access returns the byte slice backing vpid and the Handle of the slot now
// holding it. A vpid collision with the slot's current occupant evicts that
// occupant (unpinning it from shared, with its recorded dirty flag) before
// loading vpid.
func (c *Cache) Access(ctx context.Context, vpid uint64) ([]byte, Handle, error) {
	idx := c.indexOf(vpid)
	s := &c.slots[idx]
	if s.occupied && s.vpid == vpid {
		c.sink.IncHit(telemetry.TierDirect, c.shard)
		return s.page, Handle(idx), nil
	}
	c.sink.IncMiss(telemetry.TierDirect, c.shard)
	if s.occupied {
		c.sink.IncEvict(telemetry.TierDirect, c.shard)
		if err := c.shared.Unpin(ctx, s.vpid, s.dirty); err != nil {
			return nil, 0, err
		}
		s.occupied = false
	}
	page, err := c.shared.Pin(ctx, vpid)
	if err != nil {
		return nil, 0, err
	}
	*s = slot{occupied: true, vpid: vpid, page: page}
	return page, Handle(idx), nil
}

// AccessByHandle re-reads the bytes currently held at h without touching
// the shared cache, valid only if the slot still holds the vpid the caller
// obtained h for (callers that don't track vpids themselves should prefer
// Access).
func (c *Cache) AccessByHandle(h Handle) ([]byte, bool) {
	s := &c.slots[h]
	if !s.occupied {
		return nil, false
	}
	return s.page, true
}

// MarkDirty flags the slot holding vpid, if any, so its eventual eviction
// unpins the shared page with the dirty flag set.
func (c *Cache) MarkDirty(vpid uint64) bool {
	idx := c.indexOf(vpid)
	s := &c.slots[idx]
	if !s.occupied || s.vpid != vpid {
		return false
	}
	s.dirty = true
	return true
}

// Flush releases every occupied slot, unpinning each from the shared cache
// with its recorded dirty flag. Intended for goroutine shutdown.
func (c *Cache) Flush(ctx context.Context) error {
	for i := range c.slots {
		s := &c.slots[i]
		if !s.occupied {
			continue
		}
		if err := c.shared.Unpin(ctx, s.vpid, s.dirty); err != nil {
			return err
		}
		s.occupied = false
	}
	return nil
}

var _ Shared = (*Cache)(nil)

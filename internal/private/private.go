// Package private implements the per-(client,shard) private sub-cache: a
// small cache of shared-cache pins owned by a single client goroutine. A
// hit returns the already-pinned shared page without a round trip; a miss
// runs the shared cache's own Pin to bring the page in and, if the private
// cache is full, first releases its least-recently-used entry's shared pin
// to make room.
//
// Unlike internal/shardcore (which manages physical frames), a private
// Cache manages nothing but a bounded set of shared-cache holds: the bytes
// it hands back are the shared cache's own frame memory.
package private

import (
	"context"
	"errors"

	"github.com/arlog/tricache/internal/replace"
	"github.com/arlog/tricache/internal/telemetry"
)

// ErrNotResident is returned by Unpin/MarkDirty when vpid has no entry in
// this private cache.
var ErrNotResident = errors.New("private: vpid not held")

// Shared is the subset of a shared cache a private Cache needs. Both
// internal/pclient.Client (via a thin adapter, since its own Pin returns a
// ppid for lower-level callers) and *Cache itself satisfy this shape, so a
// private Cache can be composed underneath internal/direct's Cache, and a
// multi-shard caller (see pkg/tricache) can hand either layer a router that
// dispatches each vpid to the partition owning its shard.
type Shared interface {
	Pin(ctx context.Context, vpid uint64) ([]byte, error)
	Unpin(ctx context.Context, vpid uint64, isWrite bool) error
}

type record struct {
	page  []byte
	dirty bool
}

// Cache is one client's private view onto a shared cache. Not safe for
// concurrent use; a private Cache is owned by exactly one goroutine.
type Cache struct {
	shared   Shared
	capacity int
	entries  map[uint64]*record
	order    *replace.LRU // keyed by a private-local handle

	handles map[uint64]uint32 // vpid -> handle assigned to this entry
	byHand  map[uint32]uint64 // handle -> vpid, reverse of handles
	nextH   uint32

	sink  telemetry.Sink
	shard int
}

// New builds a private cache fronting shared, holding at most capacity
// pages pinned in the shared cache at any one time.
func New(shared Shared, capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		shared:   shared,
		capacity: capacity,
		entries:  make(map[uint64]*record, capacity),
		order:    replace.NewLRU(capacity),
		handles:  make(map[uint64]uint32, capacity),
		byHand:   make(map[uint32]uint64, capacity),
		sink:     telemetry.Noop,
	}
}

// SetTelemetry routes this cache's hit/miss/eviction events to sink, labeled
// with shard. Optional; a freshly-built Cache reports to telemetry.Noop.
func (c *Cache) SetTelemetry(sink telemetry.Sink, shard int) {
	if sink == nil {
		sink = telemetry.Noop
	}
	c.sink = sink
	c.shard = shard
}

// Len reports how many vpids are currently held.
func (c *Cache) Len() int { return len(c.entries) }

// Pin brings vpid into the private cache (and, transitively, the shared
// cache) on a miss, or simply marks it most-recently-used on a hit, and
// returns the byte slice backing it.
func (c *Cache) Pin(ctx context.Context, vpid uint64) ([]byte, error) {
	if rec, ok := c.entries[vpid]; ok {
		c.order.Access(c.handles[vpid])
		c.sink.IncHit(telemetry.TierPrivate, c.shard)
		return rec.page, nil
	}
	c.sink.IncMiss(telemetry.TierPrivate, c.shard)

	if len(c.entries) >= c.capacity {
		if err := c.evictOne(ctx); err != nil {
			return nil, err
		}
	}

	page, err := c.shared.Pin(ctx, vpid)
	if err != nil {
		return nil, err
	}

	h := c.nextH
	c.nextH++
	c.entries[vpid] = &record{page: page}
	c.handles[vpid] = h
	c.byHand[h] = vpid
	c.order.Push(h)
	return page, nil
}

// MarkDirty flags vpid's entry so its eventual eviction unpins the shared
// page with the dirty flag set.
func (c *Cache) MarkDirty(vpid uint64) error {
	rec, ok := c.entries[vpid]
	if !ok {
		return ErrNotResident
	}
	rec.dirty = true
	return nil
}

// Unpin drops vpid from the private cache immediately, releasing its shared
// pin with the given (or previously MarkDirty-recorded) dirty flag.
// Callers that don't need early release can simply let capacity pressure
// evict the entry later.
func (c *Cache) Unpin(ctx context.Context, vpid uint64, isWrite bool) error {
	rec, ok := c.entries[vpid]
	if !ok {
		return ErrNotResident
	}
	h := c.handles[vpid]
	c.order.Remove(h)
	delete(c.entries, vpid)
	delete(c.handles, vpid)
	delete(c.byHand, h)
	return c.shared.Unpin(ctx, vpid, rec.dirty || isWrite)
}

// Flush releases every held entry, unpinning each from the shared cache
// with its recorded dirty flag. Intended for client shutdown.
func (c *Cache) Flush(ctx context.Context) error {
	for vpid := range c.entries {
		if err := c.Unpin(ctx, vpid, false); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) evictOne(ctx context.Context) error {
	h, ok := c.order.Pop()
	if !ok {
		return errors.New("private: cache full with no victim to evict")
	}
	vpid := c.byHand[h]
	rec := c.entries[vpid]
	c.sink.IncEvict(telemetry.TierPrivate, c.shard)
	delete(c.entries, vpid)
	delete(c.handles, vpid)
	delete(c.byHand, h)
	return c.shared.Unpin(ctx, vpid, rec.dirty)
}

var _ Shared = (*Cache)(nil)

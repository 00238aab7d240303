package tricache

import "context"

// tier is the shape both internal/private.Cache and internal/pclient's
// PageSource adapter satisfy: a []byte-returning Pin/Unpin. internal/direct
// expects exactly this shape of whatever it fronts, so a router composing
// several per-shard tiers behind one handle also satisfies it, letting a
// direct.Cache span the whole vpid space even though each shard's private
// cache (or bare pclient) only ever sees the vpids that hash to it.
type tier interface {
	Pin(ctx context.Context, vpid uint64) ([]byte, error)
	Unpin(ctx context.Context, vpid uint64, isWrite bool) error
}

// router dispatches a vpid to the tier owning its shard, using the same
// vpid-modulo-shard-count partitioning as Cache.shardFor. It exists only to
// let internal/direct (and, with PrivateCapacity == 0, a client's top-level
// cache access) see one flat vpid space instead of one tier per shard.
type router struct {
	tiers []tier
}

func newRouter(tiers []tier) *router {
	return &router{tiers: tiers}
}

func (r *router) shardFor(vpid uint64) int {
	return int(vpid % uint64(len(r.tiers)))
}

func (r *router) Pin(ctx context.Context, vpid uint64) ([]byte, error) {
	return r.tiers[r.shardFor(vpid)].Pin(ctx, vpid)
}

func (r *router) Unpin(ctx context.Context, vpid uint64, isWrite bool) error {
	return r.tiers[r.shardFor(vpid)].Unpin(ctx, vpid, isWrite)
}

var _ tier = (*router)(nil)

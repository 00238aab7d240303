package tricache

import (
	"context"

	"github.com/arlog/tricache/internal/direct"
	"github.com/arlog/tricache/internal/mailbox"
	"github.com/arlog/tricache/internal/pclient"
	"github.com/arlog/tricache/internal/private"
	"github.com/arlog/tricache/internal/unsafehelpers"
)

// Client is one caller's handle onto a Cache: a mailbox and pclient.Client
// per shard, an optional private.Cache per shard fronting each one
// (Config.PrivateCapacity), and an optional direct.Cache spanning every
// shard in front of all of it (Config.DirectSlots). Not safe for concurrent
// use by multiple goroutines — exactly one logical caller owns a Client.
type Client struct {
	cache     *Cache
	mailboxes []*mailbox.Mailbox
	pclients  []*pclient.Client
	tiers     []tier // privates[i], or pclients[i].AsPageSource() if PrivateCapacity == 0
	router    *router
	direct    *direct.Cache // nil if Config.DirectSlots == 0

	closed bool
}

// newClient wires one Client's tiers against every shard of c and registers
// its per-shard mailboxes with the running server goroutines.
func newClient(c *Cache) (*Client, error) {
	n := len(c.shards)
	cl := &Client{
		cache:     c,
		mailboxes: make([]*mailbox.Mailbox, n),
		pclients:  make([]*pclient.Client, n),
		tiers:     make([]tier, n),
	}

	for i, sr := range c.shards {
		mb := mailbox.New(c.cfg.SingleCacheline)
		sr.srv.AddMailbox(mb)
		cl.mailboxes[i] = mb

		pc := pclient.New(sr.table, sr.frames, mb, c.cfg.MaxPinRetries)
		cl.pclients[i] = pc

		if c.cfg.PrivateCapacity > 0 {
			priv := private.New(pc.AsPageSource(), c.cfg.PrivateCapacity)
			priv.SetTelemetry(c.sink, i)
			cl.tiers[i] = priv
		} else {
			cl.tiers[i] = pc.AsPageSource()
		}
	}
	cl.router = newRouter(cl.tiers)

	if c.cfg.DirectSlots > 0 {
		dc, err := direct.New(cl.router, c.cfg.DirectSlots)
		if err != nil {
			// DirectSlots is only ever caller-supplied; a non-power-of-two
			// value is a construction-time mistake, not a runtime failure,
			// so unwind the mailboxes we just registered and surface it.
			cl.detachMailboxes()
			return nil, err
		}
		dc.SetTelemetry(c.sink, 0)
		cl.direct = dc
	}

	return cl, nil
}

func (cl *Client) detachMailboxes() {
	for i, sr := range cl.cache.shards {
		if cl.mailboxes[i] != nil {
			sr.srv.RemoveMailbox(cl.mailboxes[i])
		}
	}
}

func (cl *Client) checkVpid(vpid uint64) error {
	if vpid >= cl.cache.cfg.numVpids() {
		return ErrInvalidVPID
	}
	return nil
}

// Pin returns the page backing vpid, valid until the matching Unpin. It
// consults the direct tier first (if enabled), then the private/shared
// tiers reached through the router.
func (cl *Client) Pin(ctx context.Context, vpid uint64) ([]byte, error) {
	if err := cl.checkVpid(vpid); err != nil {
		return nil, err
	}
	var page []byte
	var err error
	if cl.direct != nil {
		page, _, err = cl.direct.Access(ctx, vpid)
	} else {
		page, err = cl.router.Pin(ctx, vpid)
	}
	if err != nil {
		// Every Pin failure is counted as out-of-memory, whatever its cause:
		// a shard with no free frame, an exhausted poll budget
		// (pclient.ErrTimeout), or a cancelled context.
		cl.cache.sink.IncOOM(cl.cache.shardFor(vpid))
		return nil, err
	}
	return page, nil
}

// Unpin ends the lifetime of the pointer returned by the matching Pin.
// When the direct tier is enabled, Unpin only marks the slot dirty on a
// write; the underlying shared/private pin is released later, on eviction
// from the direct cache or on Flush, rather than on an immediate release.
func (cl *Client) Unpin(ctx context.Context, vpid uint64, isWrite bool) error {
	if err := cl.checkVpid(vpid); err != nil {
		return err
	}
	if cl.direct != nil {
		if isWrite {
			cl.direct.MarkDirty(vpid)
		}
		return nil
	}
	return cl.router.Unpin(ctx, vpid, isWrite)
}

// Access folds a Pin+Unpin into one call for a single-word touch. Unlike
// Pin, the returned slice is not guaranteed valid once Access returns if
// isWrite caused an eviction elsewhere; callers needing a longer-lived
// pointer should use Pin/Unpin directly.
func (cl *Client) Access(ctx context.Context, vpid uint64, isWrite bool) ([]byte, error) {
	if err := cl.checkVpid(vpid); err != nil {
		return nil, err
	}
	page, err := cl.Pin(ctx, vpid)
	if err != nil {
		return nil, err
	}
	if err := cl.Unpin(ctx, vpid, isWrite); err != nil {
		return nil, err
	}
	return page, nil
}

// Flush releases every pin held by this Client's direct and then private
// tiers, passing each page's dirty flag down to the shared tier. It issues
// no backend writes itself: dirty pages stay resident in the shared tier and
// reach the backend only when that tier evicts them.
func (cl *Client) Flush(ctx context.Context) error {
	if cl.direct != nil {
		if err := cl.direct.Flush(ctx); err != nil {
			return err
		}
	}
	for _, t := range cl.tiers {
		if p, ok := t.(*private.Cache); ok {
			if err := p.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes and releases every tier this Client holds, in strict
// direct → private → release order, then unregisters its mailboxes and
// returns its slot to the owning Cache. Close is idempotent.
func (cl *Client) Close(ctx context.Context) error {
	if cl.closed {
		return nil
	}
	cl.closed = true
	err := cl.Flush(ctx)
	cl.detachMailboxes()
	cl.cache.releaseClientSlot()
	return err
}

func checkAccess[T any](offset uintptr) error {
	size := unsafehelpers.SizeOf[T]()
	if offset+size > PageSize {
		return ErrCrossPage
	}
	if offset%size != 0 {
		return ErrMisaligned
	}
	return nil
}

// Get pins vpid, copies out the T at offset, and unpins.
func Get[T any](ctx context.Context, cl *Client, vpid uint64, offset uintptr) (T, error) {
	var zero T
	if err := checkAccess[T](offset); err != nil {
		return zero, err
	}
	page, err := cl.Pin(ctx, vpid)
	if err != nil {
		return zero, err
	}
	v := unsafehelpers.ReadAt[T](page, offset)
	if err := cl.Unpin(ctx, vpid, false); err != nil {
		return zero, err
	}
	return v, nil
}

// Set is Get's write-side counterpart: pin, memcpy v in, unpin dirty.
func Set[T any](ctx context.Context, cl *Client, vpid uint64, offset uintptr, v T) error {
	if err := checkAccess[T](offset); err != nil {
		return err
	}
	page, err := cl.Pin(ctx, vpid)
	if err != nil {
		return err
	}
	unsafehelpers.WriteAt(page, offset, v)
	return cl.Unpin(ctx, vpid, true)
}

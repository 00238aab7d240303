// Package pclient implements the partition client: the Pin/Unpin fast
// paths that CAS directly into a shard's CHPT bypassing the server
// goroutine, falling back to a mailbox-mediated request when the fast path
// misses, plus the idempotent NotifyDirectPin/NotifyDirectUnpin messages
// that keep the server's replacement bookkeeping correct after a
// fast-path transition.
package pclient

import (
	"context"
	"errors"
	"runtime"

	"github.com/arlog/tricache/internal/chpt"
	"github.com/arlog/tricache/internal/frame"
	"github.com/arlog/tricache/internal/mailbox"
)

// ErrNotResident is returned by Unpin when vpid has no resident mapping to
// unpin (double-unpin or programmer error).
var ErrNotResident = errors.New("pclient: vpid not resident")

// ErrTimeout is returned when a server-mediated request does not complete
// within the configured retry bound.
var ErrTimeout = errors.New("pclient: server request timed out")

// Client is one (caller, shard) binding: direct CHPT access for the fast
// paths plus a Mailbox for everything the fast path can't resolve alone.
// Not safe for concurrent use by multiple goroutines — exactly one logical
// client owns a Mailbox.
type Client struct {
	table      *chpt.Table
	frames     *frame.Pool
	mb         *mailbox.Mailbox
	hints      map[uint64]*chpt.Hint
	maxRetries int
}

// New binds a client to shard's table and frame pool through mb. maxRetries
// bounds the server-mediated retry loop; see DESIGN.md for how this default
// was chosen. Sharing the shard's frame pool directly with clients is safe:
// pages are plain process memory, and a pinned ppid is stable until the
// holder unpins it, so no copy is needed to hand a client a usable pointer.
func New(table *chpt.Table, frames *frame.Pool, mb *mailbox.Mailbox, maxRetries int) *Client {
	if maxRetries <= 0 {
		maxRetries = 1 << 20
	}
	return &Client{
		table:      table,
		frames:     frames,
		mb:         mb,
		hints:      make(map[uint64]*chpt.Hint),
		maxRetries: maxRetries,
	}
}

// Page returns the byte slice backing ppid. Valid only while the caller
// holds a pin on the mapping that produced ppid.
func (c *Client) Page(ppid uint32) []byte {
	return c.frames.Page(ppid)
}

// PageSource adapts a Client to the []byte-returning Pin/Unpin shape
// internal/private and internal/direct expect of the tier beneath them
// (Client's own Pin returns a ppid, for callers that need it directly).
type PageSource struct{ c *Client }

// AsPageSource wraps c so it can be plugged in as the shared tier beneath
// an internal/private.Cache or internal/direct.Cache.
func (c *Client) AsPageSource() PageSource { return PageSource{c: c} }

func (p PageSource) Pin(ctx context.Context, vpid uint64) ([]byte, error) {
	ppid, err := p.c.Pin(ctx, vpid)
	if err != nil {
		return nil, err
	}
	return p.c.Page(ppid), nil
}

func (p PageSource) Unpin(ctx context.Context, vpid uint64, isWrite bool) error {
	return p.c.Unpin(ctx, vpid, isWrite)
}

func (c *Client) hintFor(vpid uint64) *chpt.Hint {
	return c.hints[vpid]
}

func (c *Client) rememberHint(vpid uint64, hint *chpt.Hint) {
	if hint != nil {
		c.hints[vpid] = hint
	}
}

// Pin attempts the lock-free fast path first; on a miss (not resident, or
// transiently busy) it falls back to a full server-mediated Pin that can
// evict and load.
func (c *Client) Pin(ctx context.Context, vpid uint64) (uint32, error) {
	hint := c.hintFor(vpid)
	res := c.table.Pin(vpid, hint)
	if res.Success {
		if res.PrevRefcount == 0 {
			if _, err := c.submitAndWait(ctx, mailbox.Request{Kind: mailbox.KindNotifyDirectPin, Vpid: uint64(res.Ppid)}); err != nil {
				return 0, err
			}
		}
		return res.Ppid, nil
	}
	return c.pinViaServer(ctx, vpid)
}

func (c *Client) pinViaServer(ctx context.Context, vpid uint64) (uint32, error) {
	resp, err := c.submitAndWait(ctx, mailbox.Request{Kind: mailbox.KindPin, Vpid: vpid})
	if err != nil {
		return 0, err
	}
	if !resp.Ok {
		return 0, errors.New("pclient: server-mediated pin failed")
	}
	c.rememberHint(vpid, c.table.FindOrCreateHint(vpid))
	return resp.Ppid, nil
}

// Unpin releases a reference acquired via Pin, using the fast path and
// notifying the server when the last reference drops so it can reinsert
// the page into replacement.
func (c *Client) Unpin(ctx context.Context, vpid uint64, isWrite bool) error {
	hint := c.hintFor(vpid)
	prev, ok := c.table.Unpin(vpid, isWrite, hint)
	if !ok {
		return ErrNotResident
	}
	if prev == 1 {
		_, _, _, ppid, _, _ := c.table.Peek(vpid, hint)
		if _, err := c.submitAndWait(ctx, mailbox.Request{Kind: mailbox.KindNotifyDirectUnpin, Vpid: uint64(ppid)}); err != nil {
			return err
		}
	}
	return nil
}

// submitAndWait publishes a single-request batch and polls until the
// server's response arrives or maxRetries is exhausted.
func (c *Client) submitAndWait(ctx context.Context, req mailbox.Request) (mailbox.Response, error) {
	c.mb.Submit([]mailbox.Request{req})
	for i := 0; i < c.maxRetries; i++ {
		if resps, ok := c.mb.PollResponse(); ok {
			return resps[0], nil
		}
		select {
		case <-ctx.Done():
			return mailbox.Response{}, ctx.Err()
		default:
		}
		runtime.Gosched()
	}
	return mailbox.Response{}, ErrTimeout
}

// Package server implements the partition server: one goroutine per shard
// running a fixed loop (pre-process, dispatch, drain pending, publish)
// against a set of client mailboxes, driving internal/shardcore's state
// machine and replying through internal/mailbox.
package server

import (
	"context"
	"runtime"
	"sync"

	"github.com/arlog/tricache/internal/mailbox"
	"github.com/arlog/tricache/internal/shardcore"
)

type batchState struct {
	mb        *mailbox.Mailbox
	resps     []mailbox.Response
	doneCount int
}

type pendingOp struct {
	batch *batchState
	idx   int
	pctx  *shardcore.Context
}

// Server drives one shard's state machine against the set of client
// mailboxes registered through AddMailbox/RemoveMailbox. Apart from those
// two methods it is not safe for concurrent use: RunOnce/Run are meant to be
// called from a single dedicated goroutine, one per shard.
type Server struct {
	Shard *shardcore.Shard

	mbMu      sync.Mutex
	mailboxes []*mailbox.Mailbox

	pending []*pendingOp
	active  map[*mailbox.Mailbox]*batchState
}

// New builds a server for shard, servicing the given mailboxes. Additional
// mailboxes (e.g. for clients created after the server goroutine has
// started) can be registered later via AddMailbox/RemoveMailbox.
func New(shard *shardcore.Shard, mailboxes []*mailbox.Mailbox) *Server {
	return &Server{
		Shard:     shard,
		mailboxes: append([]*mailbox.Mailbox(nil), mailboxes...),
		active:    make(map[*mailbox.Mailbox]*batchState, len(mailboxes)),
	}
}

// AddMailbox registers an additional mailbox for this server to service,
// safe to call concurrently with Run/RunOnce running on another goroutine.
func (s *Server) AddMailbox(mb *mailbox.Mailbox) {
	s.mbMu.Lock()
	defer s.mbMu.Unlock()
	s.mailboxes = append(s.mailboxes, mb)
}

// RemoveMailbox unregisters mb; safe to call concurrently with Run/RunOnce.
// Any batch already in flight on mb at the time of removal is dropped
// in-progress — callers should only remove a mailbox whose client has
// stopped submitting to it.
func (s *Server) RemoveMailbox(mb *mailbox.Mailbox) {
	s.mbMu.Lock()
	defer s.mbMu.Unlock()
	for i, m := range s.mailboxes {
		if m == mb {
			s.mailboxes = append(s.mailboxes[:i], s.mailboxes[i+1:]...)
			break
		}
	}
}

func (s *Server) snapshotMailboxes() []*mailbox.Mailbox {
	s.mbMu.Lock()
	defer s.mbMu.Unlock()
	return append([]*mailbox.Mailbox(nil), s.mailboxes...)
}

// Run loops RunOnce until stop is closed, yielding the processor between
// iterations (the real deployment pins this goroutine to a CPU via
// internal/affinity and never blocks the kernel; Gosched is this port's
// stand-in for "never yield the kernel, but don't spin a whole core in a
// test binary").
func (s *Server) Run(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		s.RunOnce(ctx)
		runtime.Gosched()
	}
}

// RunOnce executes one pass of the six-step loop.
func (s *Server) RunOnce(ctx context.Context) {
	for _, mb := range s.snapshotMailboxes() {
		if _, busy := s.active[mb]; busy {
			continue // previous batch on this mailbox hasn't fully drained
		}
		reqs, ok := mb.TryConsume()
		if !ok {
			continue
		}

		// Pre-process pass: touch each request's CHPT bucket before dispatch
		// so Initing's first Peek hits a resolved hint. Always on; see
		// DESIGN.md for why this isn't gated.
		for _, req := range reqs {
			s.Shard.Table.FindOrCreateHint(req.Vpid)
		}

		bs := &batchState{mb: mb, resps: make([]mailbox.Response, len(reqs))}
		s.active[mb] = bs
		for i, req := range reqs {
			s.dispatch(ctx, bs, i, req)
		}
	}

	remaining := s.pending[:0]
	for _, p := range s.pending {
		if s.Shard.Step(ctx, p.pctx) {
			p.batch.resps[p.idx] = resultOf(p.pctx)
			p.batch.doneCount++
		} else {
			remaining = append(remaining, p)
		}
	}
	s.pending = remaining

	for mb, bs := range s.active {
		if bs.doneCount == len(bs.resps) {
			mb.Publish(bs.resps)
			delete(s.active, mb)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, bs *batchState, i int, req mailbox.Request) {
	switch req.Kind {
	case mailbox.KindPin:
		pctx := s.Shard.NewPinContext(req.Vpid)
		if s.Shard.Step(ctx, pctx) {
			bs.resps[i] = resultOf(pctx)
			bs.doneCount++
		} else {
			s.pending = append(s.pending, &pendingOp{batch: bs, idx: i, pctx: pctx})
		}
	case mailbox.KindNotifyDirectPin:
		// prevRefcount==0 is guaranteed by the client only sending this
		// message on that transition.
		s.Shard.NotifyDirectPin(uint32(req.Vpid), 0)
		bs.resps[i] = mailbox.Response{Ok: true}
		bs.doneCount++
	case mailbox.KindNotifyDirectUnpin:
		s.Shard.NotifyDirectUnpin(uint32(req.Vpid))
		bs.resps[i] = mailbox.Response{Ok: true}
		bs.doneCount++
	default:
		bs.resps[i] = mailbox.Response{Ok: false}
		bs.doneCount++
	}
}

func resultOf(pctx *shardcore.Context) mailbox.Response {
	return mailbox.Response{Ppid: pctx.Ppid, Ok: pctx.Err == nil}
}

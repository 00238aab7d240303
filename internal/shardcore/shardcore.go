// Package shardcore implements the single-thread replacement engine: a
// re-entrant Begin → Initing → {Evicting → Loading} → End state machine
// driven by internal/server, backed by internal/chpt for mapping state,
// internal/replace for victim selection, internal/frame for physical pages,
// and internal/ioback for async block I/O. The state-struct-plus-Step shape
// lets a single Pin suspend across a busy slot or in-flight backend I/O and
// resume later from exactly where it left off, without blocking the shard's
// owning goroutine.
package shardcore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/arlog/tricache/internal/chpt"
	"github.com/arlog/tricache/internal/frame"
	"github.com/arlog/tricache/internal/ioback"
	"github.com/arlog/tricache/internal/replace"
)

// ErrOutOfMemory is returned when every physical frame is pinned and no
// victim is available.
var ErrOutOfMemory = errors.New("shardcore: out of memory")

type step int

const (
	stepBegin step = iota
	stepIniting
	stepEvicting
	stepLoading
	stepEnd
)

// BlockMapper translates a vpid into the backend's block address space. The
// default divides the vpid evenly across the shard count (vpid / N), since
// each shard only ever sees vpids congruent to its own index mod N; it is
// pluggable so a shard can host a discontiguous block layout instead.
type BlockMapper func(vpid uint64) uint64

// Shard owns one partition's CHPT, replacement structure, frame pool, and
// backend. All of its exported methods are expected to run on a single
// owner goroutine (the partition server loop in internal/server); it holds
// no internal locking of its own beyond what internal/chpt already provides
// for the client-side fast paths.
type Shard struct {
	Table   *chpt.Table
	Policy  replace.Policy
	Frames  *frame.Pool
	Backend ioback.Backend
	BlockOf BlockMapper
	Tracer  trace.Tracer // nil disables span creation

	maxPpages  int
	pinnedSize int
	ppidOwner  []uint64 // ppid -> resident vpid, valid only while exist
	hasOwner   []bool
}

// NewShard wires the four collaborators together, sized for maxPpages
// resident frames. blockOf may be nil to fall back to dividing the vpid
// evenly across N shards (shardCount); tracer may be nil to disable span
// creation around Evicting/Loading.
func NewShard(table *chpt.Table, policy replace.Policy, frames *frame.Pool, backend ioback.Backend, maxPpages int, shardCount int, blockOf BlockMapper, tracer trace.Tracer) *Shard {
	if blockOf == nil {
		if shardCount < 1 {
			shardCount = 1
		}
		n := uint64(shardCount)
		blockOf = func(vpid uint64) uint64 { return vpid / n }
	}
	return &Shard{
		Table:     table,
		Policy:    policy,
		Frames:    frames,
		Backend:   backend,
		BlockOf:   blockOf,
		Tracer:    tracer,
		maxPpages: maxPpages,
		ppidOwner: make([]uint64, maxPpages),
		hasOwner:  make([]bool, maxPpages),
	}
}

// PinnedSize reports how many frames are currently pinned (outside
// replacement).
func (s *Shard) PinnedSize() int { return s.pinnedSize }

type victim struct {
	vpid  uint64
	ppid  uint32
	dirty bool
	hint  *chpt.Hint
}

// Context is one in-flight Pin operation, re-entrant across suspensions
// caused by a busy slot or pending backend I/O.
type Context struct {
	vpid  uint64
	state step
	hint  *chpt.Hint

	hasVictim      bool
	victim         victim
	evictSubmitted bool
	evictDone      atomic.Bool
	evictSpan      trace.Span
	loadSubmitted  bool
	loadDone       atomic.Bool
	loadSpan       trace.Span
	skipLoad       bool

	Ppid uint32 // valid once Done()
	Err  error
}

// Done reports whether the context has reached End.
func (c *Context) Done() bool { return c.state == stepEnd }

// NewPinContext begins a pin operation for vpid.
func (s *Shard) NewPinContext(vpid uint64) *Context {
	return &Context{vpid: vpid, state: stepBegin}
}

// Step advances ctx by one non-blocking increment. Returns true once ctx
// reaches End; the server keeps re-invoking Step from its pending queue
// otherwise.
func (s *Shard) Step(ctx context.Context, pc *Context) bool {
	switch pc.state {
	case stepBegin:
		return s.stepBegin(pc)
	case stepIniting:
		return s.stepIniting(pc)
	case stepEvicting:
		return s.stepEvicting(ctx, pc)
	case stepLoading:
		return s.stepLoading(ctx, pc)
	default:
		return true
	}
}

func (s *Shard) stepBegin(pc *Context) bool {
	hint := s.Table.FindOrCreateHint(pc.vpid)
	_, busy, _, _, _, _ := s.Table.Peek(pc.vpid, hint)
	if busy {
		return false // suspend: caller retries on a later Step call
	}
	pc.hint = hint
	pc.state = stepIniting
	return s.stepIniting(pc)
}

func (s *Shard) stepIniting(pc *Context) bool {
	exist, _, _, _, _, _ := s.Table.Peek(pc.vpid, pc.hint)
	if exist {
		res := s.Table.Pin(pc.vpid, pc.hint)
		if !res.Success {
			// Raced with another busy-holder between Begin and here; suspend
			// and let the caller retry.
			pc.state = stepBegin
			return false
		}
		if res.PrevRefcount == 0 {
			s.Policy.Remove(res.Ppid)
			s.pinnedSize++
		}
		pc.Ppid = res.Ppid
		pc.state = stepEnd
		return true
	}

	if s.pinnedSize >= s.maxPpages {
		pc.Err = ErrOutOfMemory
		pc.state = stepEnd
		return true
	}

	lockedHint, ok := s.Table.Lock(pc.vpid, pc.hint)
	pc.hint = lockedHint
	if !ok {
		pc.state = stepBegin
		return false
	}

	if freshPpid, ok := s.Frames.AllocFresh(); ok {
		s.Table.CreateMapping(pc.vpid, freshPpid, 1, pc.hint)
		s.setOwner(freshPpid, pc.vpid)
		pc.Ppid = freshPpid
		pc.hasVictim = false
		pc.skipLoad = s.Frames.FirstLoaded(freshPpid)
		s.pinnedSize++
		pc.state = stepEvicting
		return s.stepEvicting(context.Background(), pc)
	}

	victimPpid, ok := s.Policy.Pop()
	if !ok {
		// maxPpages frames exist but none are pinned and none are in
		// replacement either: a bookkeeping invariant has been violated
		// upstream, not a recoverable runtime condition.
		panic("shardcore: no victim available despite pinnedSize < maxPpages")
	}
	victimVpid, ok := s.ownerOf(victimPpid)
	if !ok {
		panic(fmt.Sprintf("shardcore: replacement returned ppid %d with no recorded owner", victimPpid))
	}
	victimHint, ok := s.Table.Lock(victimVpid, nil)
	if !ok {
		// Victim became busy concurrently (e.g. a racing fast-path unpin
		// reinserted it); put it back, drop the busy bit taken on pc.vpid
		// above, and let the caller retry Begin.
		s.Policy.Push(victimPpid)
		s.Table.Unlock(pc.vpid, pc.hint)
		pc.state = stepBegin
		return false
	}
	_, _, dirty, _, _, _ := s.Table.Peek(victimVpid, victimHint)
	s.Table.DeleteMapping(victimVpid, victimHint)
	s.clearOwner(victimPpid)

	s.Table.CreateMapping(pc.vpid, victimPpid, 1, pc.hint)
	s.setOwner(victimPpid, pc.vpid)
	pc.Ppid = victimPpid
	pc.hasVictim = true
	pc.victim = victim{vpid: victimVpid, ppid: victimPpid, dirty: dirty, hint: victimHint}
	pc.skipLoad = false
	s.pinnedSize++
	pc.state = stepEvicting
	return s.stepEvicting(context.Background(), pc)
}

func (s *Shard) stepEvicting(ctx context.Context, pc *Context) bool {
	if !pc.hasVictim {
		pc.state = stepLoading
		return s.stepLoading(ctx, pc)
	}
	if !pc.victim.dirty {
		s.Table.ReleaseMappingLock(pc.victim.vpid, pc.victim.hint)
		pc.state = stepLoading
		return s.stepLoading(ctx, pc)
	}
	if !pc.evictSubmitted {
		if s.Tracer != nil {
			ctx, pc.evictSpan = s.Tracer.Start(ctx, "shardcore.evict")
		}
		block := s.BlockOf(pc.victim.vpid)
		if s.Backend.Write(ctx, block, s.Frames.Page(pc.Ppid), &pc.evictDone) {
			pc.evictSubmitted = true
		} else {
			s.Backend.Progress()
			return false
		}
	}
	if !pc.evictDone.Load() {
		s.Backend.Progress()
		return false
	}
	if pc.evictSpan != nil {
		pc.evictSpan.End()
	}
	s.Table.ReleaseMappingLock(pc.victim.vpid, pc.victim.hint)
	pc.state = stepLoading
	return s.stepLoading(ctx, pc)
}

func (s *Shard) stepLoading(ctx context.Context, pc *Context) bool {
	if pc.skipLoad {
		s.Table.ReleaseMappingLock(pc.vpid, pc.hint)
		pc.state = stepEnd
		return true
	}
	if !pc.loadSubmitted {
		if s.Tracer != nil {
			ctx, pc.loadSpan = s.Tracer.Start(ctx, "shardcore.load")
		}
		block := s.BlockOf(pc.vpid)
		if s.Backend.Read(ctx, block, s.Frames.Page(pc.Ppid), &pc.loadDone) {
			pc.loadSubmitted = true
		} else {
			s.Backend.Progress()
			return false
		}
	}
	if !pc.loadDone.Load() {
		s.Backend.Progress()
		return false
	}
	if pc.loadSpan != nil {
		pc.loadSpan.End()
	}
	s.Table.ReleaseMappingLock(pc.vpid, pc.hint)
	pc.state = stepEnd
	return true
}

// RunToCompletion drives ctx's Step until it reaches End, yielding the
// processor between suspensions. Intended for tests and for callers (e.g.
// examples) that want a synchronous Pin instead of the server's pending
// queue; the partition server itself calls Step directly so it can
// interleave many contexts.
func (s *Shard) RunToCompletion(ctx context.Context, pc *Context) {
	for !s.Step(ctx, pc) {
		runtime.Gosched()
	}
}

// Unpin is the synchronous (no I/O) unpin path: CHPT unpin, and on
// last-reference, reinsertion into replacement.
func (s *Shard) Unpin(vpid uint64, isWrite bool, hint *chpt.Hint) bool {
	prev, ok := s.Table.Unpin(vpid, isWrite, hint)
	if !ok {
		return false
	}
	if prev == 1 {
		exist, _, _, ppid, _, _ := s.Table.Peek(vpid, hint)
		if exist {
			s.Policy.Push(ppid)
			s.pinnedSize--
		}
	}
	return true
}

// NotifyDirectPin reconciles pinnedSize/replacement after a client fast-path
// Pin bypassed the server. Idempotent: safe to call even if the server has
// since observed further activity on ppid.
func (s *Shard) NotifyDirectPin(ppid uint32, prevRefcount uint32) {
	if prevRefcount == 0 {
		s.Policy.Remove(ppid)
		s.pinnedSize++
	}
}

// NotifyDirectUnpin reconciles pinnedSize/replacement after a client
// fast-path Unpin observed prevRefcount == 1.
func (s *Shard) NotifyDirectUnpin(ppid uint32) {
	s.Policy.Push(ppid)
	s.pinnedSize--
}

func (s *Shard) setOwner(ppid uint32, vpid uint64) {
	s.ppidOwner[ppid] = vpid
	s.hasOwner[ppid] = true
}

func (s *Shard) clearOwner(ppid uint32) {
	s.hasOwner[ppid] = false
}

func (s *Shard) ownerOf(ppid uint32) (uint64, bool) {
	if !s.hasOwner[ppid] {
		return 0, false
	}
	return s.ppidOwner[ppid], true
}

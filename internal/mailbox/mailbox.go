// Package mailbox implements the client/server message-passing protocol: a
// toggle-bit handshake over a small fixed-size batch of requests/responses,
// with no locking on either side. The wire format is plain Go structs
// rather than a cacheline-packed union; the property that matters (a
// lock-free toggle handshake, batch-at-a-time submission) survives the
// translation, exact byte packing does not.
package mailbox

import (
	"sync/atomic"

	"github.com/arlog/tricache/internal/sizeutil"
)

// MaxComms bounds the number of requests (or responses) carried by one
// published batch.
const MaxComms = 7

// RequestKind enumerates the message kinds a client can submit.
type RequestKind uint8

const (
	KindNone RequestKind = iota
	KindPin
	KindNotifyDirectPin
	KindNotifyDirectUnpin
)

// Request is one entry of a submitted batch.
type Request struct {
	Kind RequestKind
	Vpid uint64
}

// Response is the corresponding per-request result.
type Response struct {
	Ppid uint32
	Ok   bool
}

type header struct {
	toggle  atomic.Bool
	numComm atomic.Uint32
}

// Slot is one side (request or response) of a mailbox's wire state. The
// trailing Pad prevents adjacent shards' slots in a server-owned array from
// sharing a cacheline, the same false-sharing concern
// internal/sizeutil documents for other per-shard hot counters.
type Slot struct {
	header header
	reqs   [MaxComms]Request
	resps  [MaxComms]Response
	_      sizeutil.Pad
}

// Mailbox is one (client, shard) communication channel. Single-cacheline
// mode shares one Slot for both directions (the toggle is flipped once by
// the client on submit and once by the server on completion); two-cacheline
// mode uses distinct request/response slots, each flipped independently by
// its writer.
//
// Only one in-flight (unacknowledged) batch is allowed per mailbox at a
// time: a client must observe a batch's responses before submitting the
// next one.
type Mailbox struct {
	single bool
	req    *Slot
	resp   *Slot

	localToggle bool // single-cacheline: pre-submit value to watch for
	reqToggle   bool // two-cacheline: client's own publish toggle
	respSeen    bool // two-cacheline: last resp toggle observed by the client
	srvSeen     bool // last req toggle consumed by the server

	submits atomic.Uint64 // batches submitted, for tests that assert on call counts
}

// SubmitCount reports how many batches this mailbox has carried since
// construction, letting a caller verify that a refcount 0<->1 transition
// costs at most one submitted batch each way, rather than one per pin/unpin
// call.
func (m *Mailbox) SubmitCount() uint64 {
	return m.submits.Load()
}

// New constructs a mailbox. single selects the single-cacheline variant;
// otherwise the two-cacheline variant is used.
func New(single bool) *Mailbox {
	req := &Slot{}
	resp := req
	if !single {
		resp = &Slot{}
	}
	return &Mailbox{single: single, req: req, resp: resp}
}

// Submit publishes a batch of up to MaxComms requests. Payload fields are
// written before the toggle, so a reader that observes the new toggle also
// observes the matching requests: a Go atomic.Bool.Store provides release
// ordering relative to the plain stores that precede it in program order.
func (m *Mailbox) Submit(reqs []Request) int {
	if len(reqs) > MaxComms {
		reqs = reqs[:MaxComms]
	}
	n := copy(m.req.reqs[:], reqs)
	m.req.header.numComm.Store(uint32(n))
	m.submits.Add(1)
	if m.single {
		m.localToggle = m.req.header.toggle.Load()
		m.req.header.toggle.Store(!m.localToggle)
	} else {
		m.reqToggle = !m.reqToggle
		m.req.header.toggle.Store(m.reqToggle)
	}
	return n
}

// TryConsume is the server side: returns the pending batch once the
// client's toggle has flipped since the last call, else ok=false.
func (m *Mailbox) TryConsume() (reqs []Request, ok bool) {
	cur := m.req.header.toggle.Load()
	if cur == m.srvSeen {
		return nil, false
	}
	m.srvSeen = cur
	n := int(m.req.header.numComm.Load())
	return m.req.reqs[:n], true
}

// Publish is the server side: writes responses and flips the completion
// toggle. In single-cacheline mode this is the slot's second flip, landing
// back on the client's remembered pre-submit value; in two-cacheline mode
// it is the response slot's first (and only) flip for this batch.
func (m *Mailbox) Publish(resps []Response) {
	if len(resps) > MaxComms {
		resps = resps[:MaxComms]
	}
	n := copy(m.resp.resps[:], resps)
	m.resp.header.numComm.Store(uint32(n))
	next := !m.resp.header.toggle.Load()
	m.resp.header.toggle.Store(next)
	if m.single {
		// The server's own flip must not read as the client's next batch.
		m.srvSeen = next
	}
}

// PollResponse is the client side: returns the completed batch's responses
// once available, else ok=false.
func (m *Mailbox) PollResponse() (resps []Response, ok bool) {
	if m.single {
		if m.resp.header.toggle.Load() != m.localToggle {
			return nil, false
		}
		// Stop matching until the next Submit records a new pre-submit value.
		m.localToggle = !m.localToggle
	} else {
		cur := m.resp.header.toggle.Load()
		if cur == m.respSeen {
			return nil, false
		}
		m.respSeen = cur
	}
	n := int(m.resp.header.numComm.Load())
	return m.resp.resps[:n], true
}

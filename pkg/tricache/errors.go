package tricache

import "errors"

// Sentinel errors returned by public Cache/Client operations. Transient
// conditions (busy slot, brief lock contention) never surface here — they
// are absorbed into submitAndWait's poll loop in internal/pclient.
var (
	// ErrInvalidVPID is returned when a vpid falls outside [0, VirtSize/PageSize).
	ErrInvalidVPID = errors.New("tricache: vpid out of range")
	// ErrMisaligned is returned when an offset passed to Get/Set isn't a
	// multiple of the requested type's alignment.
	ErrMisaligned = errors.New("tricache: misaligned access")
	// ErrCrossPage is returned when a Get/Set access would read or write
	// past the end of its page.
	ErrCrossPage = errors.New("tricache: access crosses a page boundary")
	// ErrOutOfMemory names the out-of-memory condition. Pin does not return
	// it: when a shard has every frame pinned, the pin fails at once with an
	// unexported error from internal/pclient, and that failure is not retried.
	ErrOutOfMemory = errors.New("tricache: out of memory")
	// ErrTooManyClients is returned by NewClient once Config.MaxClients
	// live clients already exist.
	ErrTooManyClients = errors.New("tricache: too many clients")
	// ErrBackendIO wraps a fatal error from an ioback.Backend constructor
	// (e.g. a file or Badger directory that could not be opened).
	ErrBackendIO = errors.New("tricache: backend I/O error")
)

// Package replace implements the shard-local replacement structures: a
// 2-bit-state clock sweep and an intrusive LRU list, both keyed by ppid
// rather than by key/value node, since replacement here operates purely on
// physical frame identity (the CHPT, not the replacement structure, owns
// the vpid<->ppid mapping).
package replace

// Policy is a pluggable ppid-level replacement structure. All methods run on
// the shard's single owning goroutine; no internal locking is required.
type Policy interface {
	// Push registers ppid as a freshly-unreferenced candidate.
	Push(ppid uint32)
	// Access marks ppid as recently used (no-op for policies that don't
	// distinguish recency, e.g. plain FIFO).
	Access(ppid uint32)
	// Pop evicts and returns one victim ppid, or (0, false) if empty.
	Pop() (ppid uint32, ok bool)
	// Remove takes ppid out of the structure (e.g. it was just pinned from
	// refcount 0 during Initing).
	Remove(ppid uint32)
	// Len reports the number of candidates currently held.
	Len() int
}

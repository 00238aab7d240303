package tricache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arlog/tricache/internal/ioback"
)

// PageSize is the fixed page size every vpid/ppid addresses. Go has no
// preprocessor knob for a compile-time-selectable size; change the
// constant and rebuild to pick a different one.
const PageSize = 4096

// Config carries every construction parameter for a Cache, plus the
// ambient fields threaded through for observability: Logger, Registry,
// Tracer. Every field is concrete (no functional-option builder) since
// Config isn't generic over a key/value pair.
type Config struct {
	// VirtSize bounds the addressable virtual space; Pin rejects vpid >=
	// VirtSize/PageSize with ErrInvalidVPID.
	VirtSize uint64
	// PhySize is the total physical memory budget, divided evenly across
	// shards to size each shard's frame pool.
	PhySize uint64

	// ServerCPUs has one entry per shard; ServerCPUs[i] is the CPU shard i's
	// server goroutine is pinned to (internal/affinity; ignored on non-Linux
	// GOOS). len(ServerCPUs) determines the shard count.
	ServerCPUs []int
	// ServerBackends has one entry per shard, describing that shard's
	// block-I/O backend. Must be the same length as ServerCPUs.
	ServerBackends []ioback.Spec

	// MaxClients bounds live NewClient() handles; the zero value means
	// "unbounded".
	MaxClients int
	// SingleCacheline selects the one-Slot mailbox variant over the
	// two-Slot variant.
	SingleCacheline bool
	// MaxPinRetries bounds the client-side poll loop for a server-mediated
	// Pin/Unpin; see DESIGN.md for how this default was chosen. Zero means
	// the internal/pclient default (1<<20).
	MaxPinRetries int
	// DirectSlots is the per-client direct-mapped cache size; must be a
	// power of two. Zero means direct caching is disabled for new clients
	// (every access goes through the private tier, or the shared tier when
	// PrivateCapacity is also zero).
	DirectSlots int
	// PrivateCapacity is the per-(client,shard) private cache size. Zero
	// means private caching is disabled (every access goes straight to the
	// shared tier).
	PrivateCapacity int

	// BackendWorkers/BackendQueueDepth size each shard's backend driver
	// worker pool and in-flight queue.
	BackendWorkers    int
	BackendQueueDepth int

	// Logger receives structured diagnostics; the cache never logs on the
	// hot path, only a construction-time notice, CPU-pinning failures, and
	// Badger driver errors.
	Logger *zap.Logger
	// Registry, when non-nil, enables Prometheus metrics (internal/telemetry).
	Registry *prometheus.Registry
	// Tracer, when non-nil, wraps each shard's Evicting/Loading steps (the
	// backend write/read for an eviction or fault) in an otel span.
	Tracer trace.Tracer
}

var (
	errNoShards        = errors.New("tricache: Config.ServerCPUs must have at least one entry")
	errShardMismatch   = errors.New("tricache: len(ServerBackends) must equal len(ServerCPUs)")
	errZeroVirtSize    = errors.New("tricache: Config.VirtSize must be > 0")
	errZeroPhySize     = errors.New("tricache: Config.PhySize must be > 0")
	errPhySizeTooSmall = errors.New("tricache: Config.PhySize must fit at least one page per shard")
)

// withDefaults returns a copy of cfg with zero-value ambient fields filled
// in; sizing fields (VirtSize, PhySize, ServerCPUs, ServerBackends) are left
// for the caller to set correctly and are only validated, never defaulted.
func (cfg Config) withDefaults() Config {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BackendWorkers <= 0 {
		cfg.BackendWorkers = 2
	}
	if cfg.BackendQueueDepth <= 0 {
		cfg.BackendQueueDepth = 32
	}
	if cfg.MaxPinRetries <= 0 {
		cfg.MaxPinRetries = 1 << 20
	}
	return cfg
}

func (cfg Config) validate() error {
	if len(cfg.ServerCPUs) == 0 {
		return errNoShards
	}
	if len(cfg.ServerBackends) != len(cfg.ServerCPUs) {
		return errShardMismatch
	}
	if cfg.VirtSize == 0 {
		return errZeroVirtSize
	}
	if cfg.PhySize == 0 {
		return errZeroPhySize
	}
	maxPpagesPerShard := int(cfg.PhySize/PageSize) / len(cfg.ServerCPUs)
	if maxPpagesPerShard < 1 {
		return errPhySizeTooSmall
	}
	return nil
}

func (cfg Config) numVpids() uint64 {
	return cfg.VirtSize / PageSize
}

func (cfg Config) maxPpagesPerShard() int {
	return int(cfg.PhySize/PageSize) / len(cfg.ServerCPUs)
}

func (cfg Config) numShards() int {
	return len(cfg.ServerCPUs)
}

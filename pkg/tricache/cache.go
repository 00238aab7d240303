// Package tricache is the public API of a multi-tier, user-space page
// cache: a fixed virtual address space of vpids backed by a bounded
// physical frame budget, sharded across independent partition servers
// (internal/server), with optional per-client direct-mapped
// (internal/direct) and private (internal/private) caching tiers in front.
package tricache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arlog/tricache/internal/affinity"
	"github.com/arlog/tricache/internal/chpt"
	"github.com/arlog/tricache/internal/envcfg"
	"github.com/arlog/tricache/internal/frame"
	"github.com/arlog/tricache/internal/ioback"
	"github.com/arlog/tricache/internal/replace"
	"github.com/arlog/tricache/internal/server"
	"github.com/arlog/tricache/internal/shardcore"
	"github.com/arlog/tricache/internal/telemetry"
)

// shardRuntime bundles one shard's collaborators: CHPT, replacement,
// frames, backend, the shardcore state machine, and the partition server
// goroutine driving it.
type shardRuntime struct {
	table   *chpt.Table
	frames  *frame.Pool
	backend ioback.Backend
	shard   *shardcore.Shard
	srv     *server.Server
	stop    chan struct{}
}

// Cache owns every shard's state and hands out Client handles. The zero
// value is not usable; construct with New.
type Cache struct {
	cfg    Config
	shards []*shardRuntime
	sink   telemetry.Sink

	mu          sync.Mutex
	closed      bool
	clientCount int64
}

// New validates cfg, opens one backend per shard, and starts one pinned
// server goroutine per shard. The returned Cache must be closed with
// Close once no more clients are needed.
func New(cfg Config) (*Cache, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ov := envcfg.Load()
	if ov.DisableThreadBind {
		cfg.Logger.Info("tricache: CACHE_DISABLE_THREAD_BIND set, server goroutines will not be CPU-pinned")
	}

	sink := telemetry.Noop
	if cfg.Registry != nil {
		sink = telemetry.NewPrometheus(cfg.Registry)
	}

	maxPpages := cfg.maxPpagesPerShard()
	shards := make([]*shardRuntime, len(cfg.ServerCPUs))
	for i, cpu := range cfg.ServerCPUs {
		table := chpt.NewTable(maxPpages)
		policy := replace.NewClock(maxPpages)
		frames := frame.New(maxPpages, PageSize)
		backend, err := openBackend(cfg.ServerBackends[i], cfg.BackendQueueDepth, cfg.BackendWorkers, cfg.Logger)
		if err != nil {
			for _, s := range shards[:i] {
				s.backend.Close()
				close(s.stop)
			}
			return nil, err
		}
		sh := shardcore.NewShard(table, policy, frames, backend, maxPpages, len(cfg.ServerCPUs), nil, cfg.Tracer)
		srv := server.New(sh, nil)
		stop := make(chan struct{})

		go runShardServer(srv, cpu, ov.DisableThreadBind, cfg.Logger, stop)

		shards[i] = &shardRuntime{table: table, frames: frames, backend: backend, shard: sh, srv: srv, stop: stop}
	}

	return &Cache{cfg: cfg, shards: shards, sink: sink}, nil
}

func runShardServer(srv *server.Server, cpu int, disableBind bool, log *zap.Logger, stop chan struct{}) {
	if !disableBind {
		if err := affinity.Pin(cpu); err != nil {
			log.Warn("tricache: failed to pin server goroutine to CPU", zap.Int("cpu", cpu), zap.Error(err))
		}
	}
	srv.Run(context.Background(), stop)
}

// shardFor maps a vpid to its owning shard index: vpid mod shard count.
func (c *Cache) shardFor(vpid uint64) int {
	return int(vpid % uint64(len(c.shards)))
}

// NewClient hands out a fresh Client bound to every shard, subject to
// Config.MaxClients.
func (c *Cache) NewClient() (*Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("tricache: cache is closed")
	}
	if c.cfg.MaxClients > 0 && c.clientCount >= int64(c.cfg.MaxClients) {
		return nil, ErrTooManyClients
	}
	c.clientCount++

	cl, err := newClient(c)
	if err != nil {
		c.clientCount--
		return nil, err
	}
	return cl, nil
}

// Close stops every shard's server goroutine and closes its backend. Live
// clients should be closed first; Close does not implicitly flush them.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var firstErr error
	for _, s := range c.shards {
		close(s.stop)
		if err := s.backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Cache) releaseClientSlot() {
	c.mu.Lock()
	c.clientCount--
	c.mu.Unlock()
}

package private

import (
	"context"
	"testing"
	"time"

	"github.com/arlog/tricache/internal/chpt"
	"github.com/arlog/tricache/internal/frame"
	"github.com/arlog/tricache/internal/ioback/memdriver"
	"github.com/arlog/tricache/internal/mailbox"
	"github.com/arlog/tricache/internal/pclient"
	"github.com/arlog/tricache/internal/replace"
	"github.com/arlog/tricache/internal/server"
	"github.com/arlog/tricache/internal/shardcore"
)

const pageSize = 64

func newTestClient(t *testing.T, maxPpages int) (*pclient.Client, func()) {
	t.Helper()
	table := chpt.NewTable(maxPpages)
	policy := replace.NewClock(maxPpages)
	frames := frame.New(maxPpages, pageSize)
	backend := memdriver.New(pageSize, maxPpages, 2)
	shard := shardcore.NewShard(table, policy, frames, backend, maxPpages, 1, nil, nil)

	mb := mailbox.New(false)
	srv := server.New(shard, []*mailbox.Mailbox{mb})
	stop := make(chan struct{})
	go srv.Run(context.Background(), stop)

	client := pclient.New(table, frames, mb, 1<<16)
	cleanup := func() {
		close(stop)
		backend.Close()
	}
	return client, cleanup
}

func pinPage(t *testing.T, priv *Cache, ctx context.Context, vpid uint64) []byte {
	t.Helper()
	page, err := priv.Pin(ctx, vpid)
	if err != nil {
		t.Fatalf("pin %d: %v", vpid, err)
	}
	return page
}

func TestPrivatePinHitsCacheWithoutSecondShardPin(t *testing.T) {
	shared, cleanup := newTestClient(t, 4)
	defer cleanup()
	priv := New(shared.AsPageSource(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	page := pinPage(t, priv, ctx, 1)
	page[0] = 0x7F

	page2 := pinPage(t, priv, ctx, 1)
	if page2[0] != 0x7F {
		t.Fatalf("expected cache hit to observe prior write, got %v", page2[0])
	}
	if priv.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", priv.Len())
	}
}

func TestPrivateEvictsLRUWhenFull(t *testing.T) {
	shared, cleanup := newTestClient(t, 4)
	defer cleanup()
	priv := New(shared.AsPageSource(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pinPage(t, priv, ctx, 1)
	pinPage(t, priv, ctx, 2)
	// Touch 1 again so 2 becomes the LRU victim.
	pinPage(t, priv, ctx, 1)
	pinPage(t, priv, ctx, 3) // should evict vpid 2

	if priv.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", priv.Len())
	}
	if _, ok := priv.entries[2]; ok {
		t.Fatal("expected vpid 2 to have been evicted as LRU victim")
	}
}

func TestPrivateMarkDirtyPersistsThroughEviction(t *testing.T) {
	shared, cleanup := newTestClient(t, 4)
	defer cleanup()
	priv := New(shared.AsPageSource(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	page := pinPage(t, priv, ctx, 5)
	page[0] = 0x42
	if err := priv.MarkDirty(5); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}

	// Forces eviction of vpid 5 from the private cache, which must unpin it
	// dirty in the shared cache so its byte survives the round trip.
	pinPage(t, priv, ctx, 6)

	page5 := pinPage(t, priv, ctx, 5)
	if page5[0] != 0x42 {
		t.Fatalf("expected dirty byte to survive eviction, got %v", page5[0])
	}
}

func TestPrivateFlushReleasesAllEntries(t *testing.T) {
	shared, cleanup := newTestClient(t, 4)
	defer cleanup()
	priv := New(shared.AsPageSource(), 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, vpid := range []uint64{1, 2, 3} {
		pinPage(t, priv, ctx, vpid)
	}
	if err := priv.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if priv.Len() != 0 {
		t.Fatalf("expected empty cache after flush, got %d entries", priv.Len())
	}
}

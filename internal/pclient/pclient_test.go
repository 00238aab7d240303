package pclient

import (
	"context"
	"testing"
	"time"

	"github.com/arlog/tricache/internal/chpt"
	"github.com/arlog/tricache/internal/frame"
	"github.com/arlog/tricache/internal/ioback/memdriver"
	"github.com/arlog/tricache/internal/mailbox"
	"github.com/arlog/tricache/internal/replace"
	"github.com/arlog/tricache/internal/server"
	"github.com/arlog/tricache/internal/shardcore"
)

const pageSize = 64

func newTestRig(t *testing.T, maxPpages int) (*Client, func()) {
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

	client := New(table, frames, mb, 1<<16)
	cleanup := func() {
		close(stop)
		backend.Close()
	}
	return client, cleanup
}

func TestClientPinUnpinRoundTripThroughServer(t *testing.T) {
	client, cleanup := newTestRig(t, 4)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ppid, err := client.Pin(ctx, 10)
	if err != nil {
		t.Fatalf("pin: %v", err)
	}

	// Second pin on the same vpid takes the fast path (already resident).
	ppid2, err := client.Pin(ctx, 10)
	if err != nil {
		t.Fatalf("second pin: %v", err)
	}
	if ppid2 != ppid {
		t.Fatalf("expected same ppid on repeated pin, got %d and %d", ppid, ppid2)
	}

	if err := client.Unpin(ctx, 10, false); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	if err := client.Unpin(ctx, 10, false); err != nil {
		t.Fatalf("second unpin: %v", err)
	}

	if err := client.Unpin(ctx, 10, false); err == nil {
		t.Fatal("expected error unpinning a vpid with refcount already at 0")
	}
}

func TestClientEvictsUnderPressure(t *testing.T) {
	client, cleanup := newTestRig(t, 1)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Pin(ctx, 1); err != nil {
		t.Fatalf("pin vpid 1: %v", err)
	}
	if err := client.Unpin(ctx, 1, false); err != nil {
		t.Fatalf("unpin vpid 1: %v", err)
	}

	ppid2, err := client.Pin(ctx, 2)
	if err != nil {
		t.Fatalf("pin vpid 2 should evict vpid 1: %v", err)
	}
	if err := client.Unpin(ctx, 2, false); err != nil {
		t.Fatalf("unpin vpid 2: %v", err)
	}
	_ = ppid2
}

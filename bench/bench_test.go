// Package bench provides reproducible micro-benchmarks for tricache.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// Each benchmark fixes one page size and one dirty-write ratio so results
// are comparable across versions. We measure:
//  1. PinUnpinClean    - read-only pin/unpin pairs, single client
//  2. PinUnpinDirty    - dirty pin/unpin pairs, single client
//  3. PinUnpinParallel - highly concurrent pin/unpin (b.RunParallel, one
//     Client per goroutine, since a Client is not safe for concurrent use)
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live in pkg/tricache; this file is only for performance.
package bench

import (
	"context"
	"testing"

	"github.com/arlog/tricache/internal/ioback"
	"github.com/arlog/tricache/pkg/tricache"
)

const (
	virtPages = 1 << 14 // 16384 vpids
	phyPages  = 1 << 10 // 1024 resident frames
	shards    = 4
)

func newBenchCache(b *testing.B) *tricache.Cache {
	b.Helper()
	cpus := make([]int, shards)
	backends := make([]ioback.Spec, shards)
	for i := range cpus {
		cpus[i] = i
		backends[i] = ioback.Spec{Kind: "mem", BlockSize: tricache.PageSize}
	}
	c, err := tricache.New(tricache.Config{
		VirtSize:       virtPages * tricache.PageSize,
		PhySize:        phyPages * tricache.PageSize,
		ServerCPUs:     cpus,
		ServerBackends: backends,
	})
	if err != nil {
		b.Fatalf("new cache: %v", err)
	}
	b.Cleanup(func() { c.Close() })
	return c
}

func BenchmarkPinUnpinClean(b *testing.B) {
	c := newBenchCache(b)
	cl, err := c.NewClient()
	if err != nil {
		b.Fatalf("new client: %v", err)
	}
	defer cl.Close(context.Background())

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vpid := uint64(i) % virtPages
		if _, err := cl.Pin(ctx, vpid); err != nil {
			b.Fatalf("pin: %v", err)
		}
		if err := cl.Unpin(ctx, vpid, false); err != nil {
			b.Fatalf("unpin: %v", err)
		}
	}
}

func BenchmarkPinUnpinDirty(b *testing.B) {
	c := newBenchCache(b)
	cl, err := c.NewClient()
	if err != nil {
		b.Fatalf("new client: %v", err)
	}
	defer cl.Close(context.Background())

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vpid := uint64(i) % virtPages
		page, err := cl.Pin(ctx, vpid)
		if err != nil {
			b.Fatalf("pin: %v", err)
		}
		page[0]++
		if err := cl.Unpin(ctx, vpid, true); err != nil {
			b.Fatalf("unpin: %v", err)
		}
	}
}

func BenchmarkPinUnpinParallel(b *testing.B) {
	c := newBenchCache(b)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		cl, err := c.NewClient()
		if err != nil {
			b.Fatalf("new client: %v", err)
		}
		defer cl.Close(context.Background())

		ctx := context.Background()
		var i uint64
		for pb.Next() {
			vpid := i % virtPages
			i++
			if _, err := cl.Pin(ctx, vpid); err != nil {
				b.Fatalf("pin: %v", err)
			}
			if err := cl.Unpin(ctx, vpid, false); err != nil {
				b.Fatalf("unpin: %v", err)
			}
		}
	})
}

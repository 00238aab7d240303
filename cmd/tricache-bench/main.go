// Command tricache-bench drives a synthetic pin/unpin load against an
// in-process tricache.Cache and reports throughput (ops/s; no latency
// figures), packaged as a standalone CLI rather than a go test benchmark
// since it needs to drive the full multi-shard server/client wiring rather
// than a single in-process struct.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arlog/tricache/internal/ioback"
	"github.com/arlog/tricache/pkg/tricache"
)

func main() {
	var (
		virtPages  = flag.Int("virt-pages", 1<<16, "virtual address space size, in pages")
		phyPages   = flag.Int("phy-pages", 1<<12, "physical frame budget, in pages")
		shards     = flag.Int("shards", runtime.GOMAXPROCS(0), "number of partition shards")
		clients    = flag.Int("clients", runtime.GOMAXPROCS(0), "number of concurrent client goroutines")
		ops        = flag.Int("ops", 1_000_000, "pin/unpin pairs per client")
		dist       = flag.String("dist", "uniform", "vpid distribution: uniform or zipf")
		zipfS      = flag.Float64("zipfs", 1.2, "zipf s parameter (>1), used when -dist=zipf")
		writeRatio = flag.Float64("write-ratio", 0.1, "fraction of unpins marked dirty")
		direct     = flag.Int("direct-slots", 0, "per-client direct cache size (power of two, 0 disables)")
		private    = flag.Int("private-capacity", 0, "per-(client,shard) private cache size (0 disables)")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
	)
	flag.Parse()

	cfg := tricache.Config{
		VirtSize:        uint64(*virtPages) * tricache.PageSize,
		PhySize:         uint64(*phyPages) * tricache.PageSize,
		ServerCPUs:      make([]int, *shards),
		ServerBackends:  make([]ioback.Spec, *shards),
		DirectSlots:     *direct,
		PrivateCapacity: *private,
	}
	for i := range cfg.ServerCPUs {
		cfg.ServerCPUs[i] = i
		cfg.ServerBackends[i] = ioback.Spec{Kind: "mem", BlockSize: tricache.PageSize}
	}

	c, err := tricache.New(cfg)
	if err != nil {
		log.Fatalf("tricache-bench: new cache: %v", err)
	}
	defer c.Close()

	numVpids := cfg.VirtSize / tricache.PageSize

	var (
		wg         sync.WaitGroup
		totalOps   atomic.Int64
		totalFails atomic.Int64
	)

	start := time.Now()
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(clientSeed int64) {
			defer wg.Done()
			runClient(c, numVpids, *ops, *dist, *zipfS, *writeRatio, clientSeed, &totalOps, &totalFails)
		}(*seed + int64(i))
	}
	wg.Wait()
	elapsed := time.Since(start)

	done := totalOps.Load()
	fails := totalFails.Load()
	fmt.Printf("clients=%d ops=%d elapsed=%s throughput=%.0f ops/s failures=%d\n",
		*clients, done, elapsed, float64(done)/elapsed.Seconds(), fails)
}

func runClient(c *tricache.Cache, numVpids uint64, ops int, dist string, zipfS, writeRatio float64, seed int64, totalOps, totalFails *atomic.Int64) {
	cl, err := c.NewClient()
	if err != nil {
		log.Printf("tricache-bench: new client: %v", err)
		totalFails.Add(int64(ops))
		return
	}
	defer cl.Close(context.Background())

	rnd := rand.New(rand.NewSource(seed))
	nextVpid := vpidGenerator(dist, rnd, numVpids, zipfS)
	ctx := context.Background()

	for i := 0; i < ops; i++ {
		vpid := nextVpid()
		page, err := cl.Pin(ctx, vpid)
		if err != nil {
			totalFails.Add(1)
			continue
		}
		isWrite := rnd.Float64() < writeRatio
		if isWrite && len(page) > 0 {
			page[0]++
		}
		if err := cl.Unpin(ctx, vpid, isWrite); err != nil {
			totalFails.Add(1)
			continue
		}
		totalOps.Add(1)
	}
}

// vpidGenerator returns a closure producing vpids in [0, numVpids) according
// to dist, mirroring tools/dataset_gen's uniform/zipf distribution choice.
func vpidGenerator(dist string, rnd *rand.Rand, numVpids uint64, zipfS float64) func() uint64 {
	switch dist {
	case "uniform":
		return func() uint64 { return rnd.Uint64() % numVpids }
	case "zipf":
		z := rand.NewZipf(rnd, zipfS, 1.0, numVpids-1)
		return z.Uint64
	default:
		fmt.Fprintf(os.Stderr, "tricache-bench: unknown -dist %q, falling back to uniform\n", dist)
		return func() uint64 { return rnd.Uint64() % numVpids }
	}
}

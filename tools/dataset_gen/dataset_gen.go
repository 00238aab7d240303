// Command dataset_gen emits deterministic vpid traces for offline analysis
// of tricache access patterns, or for feeding a fixed workload into
// cmd/tricache-bench's -dist/-seed reproducibly from a file instead of
// regenerating it inline. It writes newline-separated uint64 vpids bounded
// to [0, numVpids), matching the population a tricache.Config's VirtSize
// actually admits.
//
// Usage:
//
//	go run ./tools/dataset_gen -n 1000000 -vpids 65536 -dist=zipf -seed=42 -out trace.txt
//
// Flags:
//
//	-n       number of vpids to generate (default 1e6)
//	-vpids   size of the vpid population to sample from, exclusive upper bound
//	-dist    distribution: "uniform" or "zipf" (default uniform)
//	-zipfs   Zipf s parameter (>1)  (default 1.2)
//	-seed    RNG seed (default current time)
//	-out     output file (default stdout)
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
	var (
		n       = flag.Int("n", 1_000_000, "number of vpids to generate")
		numVpid = flag.Uint64("vpids", 1<<20, "size of the vpid population, exclusive upper bound")
		dist    = flag.String("dist", "uniform", "distribution: uniform or zipf")
		zipfS   = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		seedVal = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	if *numVpid == 0 {
		fmt.Fprintln(os.Stderr, "dataset_gen: -vpids must be > 0")
		os.Exit(1)
	}

	rnd := rand.New(rand.NewSource(*seedVal))

	var gen func() uint64
	switch *dist {
	case "uniform":
		gen = func() uint64 { return rnd.Uint64() % *numVpid }
	case "zipf":
		if *zipfS <= 1.0 {
			fmt.Fprintln(os.Stderr, "dataset_gen: -zipfs must be > 1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, 1.0, *numVpid-1)
		gen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "dataset_gen: unknown -dist", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "dataset_gen: cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		fmt.Fprintln(w, gen())
	}
}

// Command tricache-inspect fetches and prints the diagnostic snapshot
// exposed by a tricache-embedding service: parse flags, fetch a JSON
// snapshot over HTTP, print it as text or JSON, optionally on a watch
// interval.
//
// The target service is expected to expose:
//   - GET /debug/tricache/snapshot - JSON payload with cache statistics.
//     Nothing in this module serves that endpoint; the embedding service
//     provides its own handler.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type options struct {
	target   string
	json     bool
	watch    bool
	interval time.Duration
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.target, "target", "http://localhost:6060", "base URL of the tricache-embedding service")
	flag.BoolVar(&opts.json, "json", false, "print the raw JSON snapshot instead of a formatted summary")
	flag.BoolVar(&opts.watch, "watch", false, "poll the snapshot endpoint repeatedly instead of once")
	flag.DurationVar(&opts.interval, "interval", time.Second, "poll interval when -watch is set")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

func dumpOnce(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}
	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/tricache/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("Shards:        %v\n", data["shards"])
	fmt.Printf("Live clients:  %v\n", data["clients"])
	fmt.Printf("Hits:          %v\n", data["hits_total"])
	fmt.Printf("Misses:        %v\n", data["misses_total"])
	fmt.Printf("Evictions:     %v\n", data["evictions_total"])
	fmt.Printf("Out-of-memory: %v\n", data["oom_total"])
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "tricache-inspect:", err)
	os.Exit(1)
}

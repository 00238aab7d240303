// Package envcfg reads optional environment-variable overrides, consulted
// once at tricache.New so a deployment can tune or disable behavior
// without recompiling. Absent or unparsable variables fall back to the
// Config value the caller already computed.
package envcfg

import (
	"os"
	"strconv"
)

// Overrides holds every recognized environment knob, already parsed.
type Overrides struct {
	DisableCache             bool
	MallocThreshold          int64
	MmapFileThreshold        int64
	DisableParallelReadWrite bool
	DisableThreadBind        bool
	DisableLazyMmapWriteback bool
	TraceRealAllocThreshold  int64
	TotalRealAllocThreshold  int64
}

// Load reads every recognized variable from the process environment. A
// variable that is unset or fails to parse leaves the corresponding field
// at its zero value; callers should treat zero as "no override" and keep
// whatever the Config default already was.
func Load() Overrides {
	return Overrides{
		DisableCache:             envBool("DISABLE_CACHE"),
		MallocThreshold:          envInt64("CACHE_MALLOC_THRESHOLD"),
		MmapFileThreshold:        envInt64("CACHE_MMAP_FILE_THRESHOLD"),
		DisableParallelReadWrite: envBool("CACHE_DISABLE_PARALLEL_READ_WRITE"),
		DisableThreadBind:        envBool("CACHE_DISABLE_THREAD_BIND"),
		DisableLazyMmapWriteback: envBool("CACHE_DISABLE_LAZY_MMAP_WRITEBACK"),
		TraceRealAllocThreshold:  envInt64("CACHE_TRACE_REAL_ALLOC_THRESHOLD"),
		TotalRealAllocThreshold:  envInt64("CACHE_TOTAL_REAL_ALLOC_THRESHOLD"),
	}
}

func envBool(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func envInt64(name string) int64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

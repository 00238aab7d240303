//go:build linux

// Package affinity pins the calling goroutine's underlying OS thread to a
// specific CPU, using golang.org/x/sys/unix's CPU-set primitives.
package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its current OS thread and restricts
// that thread to cpu. Callers must invoke Pin from the goroutine they want
// pinned (e.g. the first statement in a partition server's run loop) and
// must not call runtime.UnlockOSThread afterward for the lifetime of that
// goroutine.
func Pin(cpu int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: SchedSetaffinity cpu=%d: %w", cpu, err)
	}
	return nil
}

// Available reports whether CPU pinning is supported on this platform.
func Available() bool { return true }

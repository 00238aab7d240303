//go:build !linux

package affinity

// Pin is a no-op on non-Linux platforms and always returns nil; nothing is
// logged about the missing pinning.
func Pin(cpu int) error { return nil }

// Available reports whether CPU pinning is supported on this platform.
func Available() bool { return false }

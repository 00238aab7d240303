package envcfg

import "testing"

func TestLoadDefaultsToZeroValueWhenUnset(t *testing.T) {
	// No env vars set in this process by default; Load must not panic and
	// must report the zero Overrides.
	ov := Load()
	if ov != (Overrides{}) {
		t.Fatalf("expected zero-value Overrides, got %+v", ov)
	}
}

func TestEnvBoolAndInt64ParseRoundTrip(t *testing.T) {
	t.Setenv("DISABLE_CACHE", "true")
	t.Setenv("CACHE_MALLOC_THRESHOLD", "4096")
	t.Setenv("CACHE_MMAP_FILE_THRESHOLD", "not-a-number")

	ov := Load()
	if !ov.DisableCache {
		t.Fatal("expected DisableCache true")
	}
	if ov.MallocThreshold != 4096 {
		t.Fatalf("expected MallocThreshold 4096, got %d", ov.MallocThreshold)
	}
	if ov.MmapFileThreshold != 0 {
		t.Fatalf("expected unparsable value to fall back to 0, got %d", ov.MmapFileThreshold)
	}
}

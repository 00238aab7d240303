package replace

import "testing"

func TestLRUEvictsOldest(t *testing.T) {
	l := NewLRU(4)
	l.Push(1)
	l.Push(2)
	l.Push(3)
	l.Access(1) // promote 1 to MRU
	v, ok := l.Pop()
	if !ok || v != 2 {
		t.Fatalf("expected victim 2, got %d ok=%v", v, ok)
	}
	v, ok = l.Pop()
	if !ok || v != 3 {
		t.Fatalf("expected victim 3, got %d ok=%v", v, ok)
	}
	v, ok = l.Pop()
	if !ok || v != 1 {
		t.Fatalf("expected victim 1, got %d ok=%v", v, ok)
	}
	if _, ok := l.Pop(); ok {
		t.Fatalf("expected empty")
	}
}

func TestClockDemotesBeforeEvicting(t *testing.T) {
	c := NewClock(2)
	c.Push(10)
	c.Push(11)
	// Both entries start hot; first sweep only demotes, second evicts.
	v, ok := c.Pop()
	if !ok {
		t.Fatalf("expected an eviction")
	}
	if v != 10 && v != 11 {
		t.Fatalf("unexpected victim %d", v)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", c.Len())
	}
}

func TestClockRemoveTakesOutOfRotation(t *testing.T) {
	c := NewClock(4)
	c.Push(1)
	c.Push(2)
	c.Remove(1)
	if c.Len() != 1 {
		t.Fatalf("expected len 1 after remove, got %d", c.Len())
	}
	v, ok := c.Pop()
	for i := 0; ok && v != 2; i++ {
		if i > 8 {
			t.Fatalf("victim 2 never surfaced")
		}
		c.Push(v) // shouldn't happen since only 2 remains
		v, ok = c.Pop()
	}
}

package numstats

import "testing"

func TestNumStatsAverage(t *testing.T) {
	n := New[uint64](3)
	if got := n.Average(); got != 0 {
		t.Fatalf("Average() on empty = %d, want 0", got)
	}
	n.Push(10)
	n.Push(20)
	if got := n.Average(); got != 15 {
		t.Fatalf("Average() with 2 samples = %d, want 15", got)
	}
	n.Push(30)
	if got := n.Average(); got != 20 {
		t.Fatalf("Average() with 3 samples = %d, want 20", got)
	}
	// Window is full: pushing a 4th sample evicts the first (10).
	n.Push(60)
	if got := n.Average(); got != (20+30+60)/3 {
		t.Fatalf("Average() after eviction = %d, want %d", got, (20+30+60)/3)
	}
}

func TestNumStatsReset(t *testing.T) {
	n := New[uint64](2)
	n.Push(5)
	n.Push(7)
	n.Reset()
	if got := n.Average(); got != 0 {
		t.Fatalf("Average() after reset = %d, want 0", got)
	}
	if got := n.Count(); got != 0 {
		t.Fatalf("Count() after reset = %d, want 0", got)
	}
}

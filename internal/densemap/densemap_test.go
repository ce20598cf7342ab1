package densemap

import "testing"

func TestDenseMapReusesFreedIds(t *testing.T) {
	m := New[string]()
	a := m.Insert("a")
	b := m.Insert("b")
	if a == b {
		t.Fatalf("distinct inserts got the same id")
	}
	m.Remove(a)
	c := m.Insert("c")
	if c != a {
		t.Fatalf("Insert after Remove = %d, want reused id %d", c, a)
	}
	if got := m.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}

func TestDenseMapGetMissing(t *testing.T) {
	m := New[int]()
	id := m.Insert(42)
	m.Remove(id)
	if _, ok := m.Get(id); ok {
		t.Fatalf("Get() on removed id should report not-ok")
	}
}

func TestAssignIdRoundTrip(t *testing.T) {
	a := NewAssignId[string]()
	id := a.Assign("peer-7")
	if got, ok := a.DetailsOf(id); !ok || got != "peer-7" {
		t.Fatalf("DetailsOf(%d) = (%q, %v), want (peer-7, true)", id, got, ok)
	}
	if got, ok := a.IdOf("peer-7"); !ok || got != id {
		t.Fatalf("IdOf(peer-7) = (%d, %v), want (%d, true)", got, ok, id)
	}
	// Assigning again returns the same id rather than a new one.
	if again := a.Assign("peer-7"); again != id {
		t.Fatalf("re-Assign = %d, want idempotent %d", again, id)
	}
	a.RemoveById(id)
	if _, ok := a.IdOf("peer-7"); ok {
		t.Fatalf("IdOf after RemoveById should report not-ok")
	}
}

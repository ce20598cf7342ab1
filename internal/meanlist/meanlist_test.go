package meanlist

import "testing"

func TestMeanListGrowsUntilTwenty(t *testing.T) {
	m := New[float64]()
	for i := 0; i < 20; i++ {
		emitted := m.Push(float64(i))
		if !emitted {
			t.Fatalf("push %d: expected a new mean while growing", i)
		}
	}
	if got := m.Len(); got != 20 {
		t.Fatalf("Len() = %d, want 20", got)
	}
	values := m.Values()
	for i, v := range values {
		if v != float64(i) {
			t.Fatalf("values[%d] = %v, want %v", i, v, float64(i))
		}
	}
}

func TestMeanListFoldsAtTwenty(t *testing.T) {
	m := New[float64]()
	for i := 0; i < 20; i++ {
		m.Push(float64(i))
	}
	// 21st sample starts folding: ticksPerMean doubles to 2, writes resume at index 10.
	emitted := m.Push(100)
	if emitted {
		t.Fatalf("21st push should only start an in-progress mean, not emit one yet")
	}
	if got := m.Len(); got != 20 {
		t.Fatalf("Len() after fold-start = %d, want 20 (never shrinks)", got)
	}
	emitted = m.Push(102)
	if !emitted {
		t.Fatalf("22nd push should complete the 2-tick mean and emit")
	}
}

func TestMeanListNeverExceedsTwentySlots(t *testing.T) {
	m := New[float32]()
	for i := 0; i < 5000; i++ {
		m.Push(float32(i))
		if m.Len() > 20 {
			t.Fatalf("Len() = %d exceeds the 20-slot cap after %d pushes", m.Len(), i+1)
		}
	}
}

func TestMeanListEmptyHasNoValues(t *testing.T) {
	m := New[float64]()
	if got := m.Values(); got != nil {
		t.Fatalf("Values() on empty list = %v, want nil", got)
	}
}

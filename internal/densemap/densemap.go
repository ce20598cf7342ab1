// Package densemap provides the integer-indexed arenas that back Node and
// Chain storage: a DenseMap hands out stable integer keys and reuses them
// from a free-list on removal, and AssignId layers a bidirectional
// detail<->id lookup on top for the shard-connection identity tables.
package densemap

// Id is an arena-local integer handle. Ids from different DenseMaps are
// never comparable to each other — a ChainId and a ChainNodeId share the
// representation but not the namespace.
type Id uint32

// DenseMap maps Id to V with O(1) insert/remove/lookup. Removed slots go
// onto a free-list and are handed back out by the next Insert, so ids are
// reused only within this arena's own lifetime, never across two different
// logical entities while one is still live.
type DenseMap[V any] struct {
	slots    []entry[V]
	free     []Id
	liveLen  int
}

type entry[V any] struct {
	value V
	live  bool
}

// New returns an empty DenseMap.
func New[V any]() *DenseMap[V] {
	return &DenseMap[V]{}
}

// Insert stores value under a fresh or reused Id.
func (m *DenseMap[V]) Insert(value V) Id {
	if n := len(m.free); n > 0 {
		id := m.free[n-1]
		m.free = m.free[:n-1]
		m.slots[id] = entry[V]{value: value, live: true}
		m.liveLen++
		return id
	}
	id := Id(len(m.slots))
	m.slots = append(m.slots, entry[V]{value: value, live: true})
	m.liveLen++
	return id
}

// Get returns the value at id, if live.
func (m *DenseMap[V]) Get(id Id) (V, bool) {
	var zero V
	if int(id) >= len(m.slots) || !m.slots[id].live {
		return zero, false
	}
	return m.slots[id].value, true
}

// GetPtr returns a pointer to the live value at id for in-place mutation,
// or nil if id is not live.
func (m *DenseMap[V]) GetPtr(id Id) *V {
	if int(id) >= len(m.slots) || !m.slots[id].live {
		return nil
	}
	return &m.slots[id].value
}

// Set overwrites the value at a live id. No-op if id is not live.
func (m *DenseMap[V]) Set(id Id, value V) {
	if int(id) < len(m.slots) && m.slots[id].live {
		m.slots[id].value = value
	}
}

// Remove drops id, returning its last value and true if it was live.
func (m *DenseMap[V]) Remove(id Id) (V, bool) {
	var zero V
	if int(id) >= len(m.slots) || !m.slots[id].live {
		return zero, false
	}
	value := m.slots[id].value
	m.slots[id] = entry[V]{}
	m.free = append(m.free, id)
	m.liveLen--
	return value, true
}

// Len returns the number of live entries.
func (m *DenseMap[V]) Len() int {
	return m.liveLen
}

// Each calls fn for every live entry. fn must not mutate the map.
func (m *DenseMap[V]) Each(fn func(Id, V)) {
	for i := range m.slots {
		if m.slots[i].live {
			fn(Id(i), m.slots[i].value)
		}
	}
}

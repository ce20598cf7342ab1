package densemap

// AssignId is a bidirectional arena between opaque, comparable details (D)
// and the Id assigned to them — used for the shard-unique (conn, local-id)
// -> local-node bookkeeping described in spec §4.7.
type AssignId[D comparable] struct {
	byId   *DenseMap[D]
	byItem map[D]Id
}

// NewAssignId returns an empty AssignId arena.
func NewAssignId[D comparable]() *AssignId[D] {
	return &AssignId[D]{
		byId:   New[D](),
		byItem: make(map[D]Id),
	}
}

// Assign allocates (or returns the existing) Id for details.
func (a *AssignId[D]) Assign(details D) Id {
	if id, ok := a.byItem[details]; ok {
		return id
	}
	id := a.byId.Insert(details)
	a.byItem[details] = id
	return id
}

// IdOf looks up the Id previously assigned to details.
func (a *AssignId[D]) IdOf(details D) (Id, bool) {
	id, ok := a.byItem[details]
	return id, ok
}

// DetailsOf looks up the details behind an Id.
func (a *AssignId[D]) DetailsOf(id Id) (D, bool) {
	return a.byId.Get(id)
}

// RemoveById removes the mapping by Id, returning the details that were
// removed.
func (a *AssignId[D]) RemoveById(id Id) (D, bool) {
	details, ok := a.byId.Remove(id)
	if !ok {
		var zero D
		return zero, false
	}
	delete(a.byItem, details)
	return details, true
}

// RemoveByDetails removes the mapping by details, returning the Id that was
// removed.
func (a *AssignId[D]) RemoveByDetails(details D) (Id, bool) {
	id, ok := a.byItem[details]
	if !ok {
		return 0, false
	}
	a.byId.Remove(id)
	delete(a.byItem, details)
	return id, true
}

// Len returns the number of live assignments.
func (a *AssignId[D]) Len() int {
	return len(a.byItem)
}

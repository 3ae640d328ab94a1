// Package registry provides a table of heap-resident objects keyed by
// small unsigned integer IDs. IDs of removed entries are recycled through
// a free list, but an ID is never reused while its object is still
// registered, and entries never move once added. Removal is keyed by the
// object itself rather than its ID, so a caller can only ever delete an
// entry it actually holds.
package registry

// Registry maps uint32 IDs to objects of type T.
type Registry[T any] struct {
	slots []*T
	index map[*T]uint32
	free  []uint32
}

// New returns an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{index: make(map[*T]uint32)}
}

// Add registers |obj| and returns its assigned ID. Re-adding an object
// already registered is a caller bug and panics.
func (r *Registry[T]) Add(obj *T) uint32 {
	if _, ok := r.index[obj]; ok {
		panic("object is already registered")
	}

	var id uint32
	if n := len(r.free); n != 0 {
		id = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[id] = obj
	} else {
		id = uint32(len(r.slots))
		r.slots = append(r.slots, obj)
	}
	r.index[obj] = id
	return id
}

// Get returns the object registered under |id|, or false if there is none.
func (r *Registry[T]) Get(id uint32) (*T, bool) {
	if id >= uint32(len(r.slots)) || r.slots[id] == nil {
		return nil, false
	}
	return r.slots[id], true
}

// Remove deletes the entry holding |obj|, returning its former ID, or
// false if |obj| is not registered.
func (r *Registry[T]) Remove(obj *T) (uint32, bool) {
	var id, ok = r.index[obj]
	if !ok {
		return 0, false
	}
	delete(r.index, obj)
	r.slots[id] = nil
	r.free = append(r.free, id)
	return id, true
}

// Len returns the number of registered objects.
func (r *Registry[T]) Len() int { return len(r.index) }

// Each invokes |fn| for every registered object. It is safe for |fn| to
// Remove the object it was invoked with.
func (r *Registry[T]) Each(fn func(id uint32, obj *T)) {
	for id, obj := range r.slots {
		if obj != nil {
			fn(uint32(id), obj)
		}
	}
}

package advm

import "fmt"

// heapAdt is one live heap-allocated ADT payload: (adt_id, ctor_id,
// fields) per spec.md §3/§4.4, addressed by handle rather than raw
// pointer (design note 9: "heap ADTs -> explicit ownership").
type heapAdt struct {
	adtID  uint32
	ctorID uint32
	fields []Value
}

// heap is the VM's ADT arena. Objects are addressed by a monotonically
// increasing handle rather than a raw pointer, so a freed or
// never-allocated handle simply misses the map instead of dereferencing
// invalid memory; dangling access is a documented IndexOutOfBounds
// fault (design note 9) rather than undefined behavior.
type heap struct {
	objects map[AdtRef]*heapAdt
	nextID  uint64
}

func newHeap() *heap {
	return &heap{objects: make(map[AdtRef]*heapAdt)}
}

func (h *heap) alloc(adtID, ctorID uint32, fields []Value) AdtRef {
	h.nextID++
	ref := AdtRef(h.nextID)
	h.objects[ref] = &heapAdt{adtID: adtID, ctorID: ctorID, fields: fields}
	return ref
}

func (h *heap) release(ref AdtRef) error {
	if _, ok := h.objects[ref]; !ok {
		return fmt.Errorf("%w: dladt on unknown or already-released handle #%d", ErrIndexOutOfBounds, ref)
	}
	delete(h.objects, ref)
	return nil
}

func (h *heap) get(ref AdtRef) (*heapAdt, error) {
	obj, ok := h.objects[ref]
	if !ok {
		return nil, fmt.Errorf("%w: use of unknown or released handle #%d", ErrIndexOutOfBounds, ref)
	}
	return obj, nil
}

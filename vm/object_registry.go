package vm

import "sort"

// ---------------------------------------------------------------------------
// ObjectTable: live object ids and their classes
// ---------------------------------------------------------------------------

// ObjectTable maps live object ids to class names. An object has no storage
// of its own; its members live in the heap under "<id>::".
type ObjectTable struct {
	classes map[uint32]string
}

// NewObjectTable creates an empty table.
func NewObjectTable() *ObjectTable {
	return &ObjectTable{classes: make(map[uint32]string)}
}

// Allocate registers a new object of class and returns its id. The id is the
// smallest free one starting at len+1, so ids come back only after release.
func (t *ObjectTable) Allocate(class string) uint32 {
	id := uint32(len(t.classes) + 1)
	for {
		if _, used := t.classes[id]; !used {
			break
		}
		id++
	}
	t.classes[id] = class
	return id
}

// Class returns the class of object id.
func (t *ObjectTable) Class(id uint32) (string, bool) {
	cls, ok := t.classes[id]
	return cls, ok
}

// Exists reports whether id is a live object.
func (t *ObjectTable) Exists(id uint32) bool {
	_, ok := t.classes[id]
	return ok
}

// Free removes id from the table.
func (t *ObjectTable) Free(id uint32) {
	delete(t.classes, id)
}

// Len returns the number of live objects.
func (t *ObjectTable) Len() int {
	return len(t.classes)
}

// IDs returns the live ids in ascending order.
func (t *ObjectTable) IDs() []uint32 {
	ids := make([]uint32, 0, len(t.classes))
	for id := range t.classes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// restore installs id with class, used when reloading a heap snapshot.
func (t *ObjectTable) restore(id uint32, class string) {
	t.classes[id] = class
}

package vm

import (
	"sort"
)

// ---------------------------------------------------------------------------
// Program snapshots
// ---------------------------------------------------------------------------

// Snapshot serializes the program's execution state: the operand stack
// index, every operand level, every local scope, every call frame with its
// result slot and reference table, the position, the resolution policy and
// the runtime inclusions. References are written as (depth, name) so they can be
// re-resolved after a restore.
//
// The heap and the object table belong to the Env; see Env.SnapshotHeap.
func (p *Program) Snapshot() []byte {
	w := &stateWriter{}

	w.int(p.sidx)

	w.int(len(p.stacks))
	for _, level := range p.stacks {
		w.int(len(level))
		for _, c := range level {
			w.cell(c)
		}
	}

	w.int(len(p.locals))
	for _, scope := range p.locals {
		names := scope.Names()
		w.int(len(names))
		for _, name := range names {
			c, _ := scope.Lookup(name)
			w.string(name)
			w.cell(*c)
		}
	}

	w.int(len(p.calls))
	for _, fr := range p.calls {
		w.bool(fr.WantsReturn)
		w.int(fr.retSlot)
		w.int(fr.Return)
		w.int(fr.End)
		w.uint32(fr.Object)
		slots := make([]int, 0, len(fr.Refs))
		for slot := range fr.Refs {
			slots = append(slots, slot)
		}
		sort.Ints(slots)
		w.int(len(slots))
		for _, slot := range slots {
			ref := fr.Refs[slot]
			w.int(slot)
			w.int(ref.Depth)
			w.string(ref.Name)
		}
	}

	w.int(p.pos)

	if p.policy == PreferLocal {
		w.int(1)
	} else {
		w.int(0)
	}

	w.int(len(p.inclusions))
	for _, inc := range p.inclusions {
		w.string(inc)
	}
	return w.buf
}

// ---------------------------------------------------------------------------
// Heap snapshots
// ---------------------------------------------------------------------------

// SnapshotHeap serializes the heap and the object table. Host cells are
// owned by the embedding application and are not written.
//
// Layout: magic, version, object count, (id, class)..., entry count,
// (name, cell)... with entries in name order.
func (e *Env) SnapshotHeap() []byte {
	w := &stateWriter{}
	w.buf = append(w.buf, HeapMagic[:]...)
	w.uint32(HeapVersion)

	ids := e.objects.IDs()
	w.int(len(ids))
	for _, id := range ids {
		cls, _ := e.objects.Class(id)
		w.uint32(id)
		w.string(cls)
	}

	var names []string
	for _, name := range e.heap.Names() {
		if c, _ := e.heap.Lookup(name); !c.IsHost() {
			names = append(names, name)
		}
	}
	w.int(len(names))
	for _, name := range names {
		c, _ := e.heap.Lookup(name)
		w.string(name)
		w.cell(*c)
	}
	return w.buf
}

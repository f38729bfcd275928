package vm

import (
	"bytes"
	"fmt"
)

// ---------------------------------------------------------------------------
// Program restore
// ---------------------------------------------------------------------------

// programState is a decoded snapshot, validated before it replaces the
// program's live state.
type programState struct {
	sidx       int
	stacks     [][]Cell
	locals     []*Vars
	calls      []*CallFrame
	pos        int
	policy     ResolutionPolicy
	inclusions []string
}

// Restore replaces the execution state with one produced by Snapshot. It is
// all-or-nothing: on any error the program is left as it was and the
// problem is reported to the diagnostics sink.
//
// Runtime inclusions recorded in the snapshot that this program has not
// merged yet are merged into a staging copy through the Env's loader, so
// that positions inside included code are valid again. The copy's code is
// adopted only once the state validates against it.
func (p *Program) Restore(data []byte) error {
	staged := p
	st, err := p.decodeState(data)
	if err == nil {
		staged, err = p.stageInclusions(st.inclusions)
	}
	if err == nil {
		err = staged.validateState(st)
	}
	if err != nil {
		p.env.Report(fmt.Sprintf("%s\nCould not restore state: %v", p.file, err))
		return err
	}

	if staged != p {
		p.code = staged.code
		p.classes = staged.classes
		p.classOrder = staged.classOrder
		p.methods = staged.methods
	}
	p.sidx = st.sidx
	p.stacks = st.stacks
	p.locals = st.locals
	p.calls = st.calls
	p.pos = st.pos
	p.policy = st.policy
	p.inclusions = st.inclusions
	p.result = nil
	return nil
}

func (p *Program) decodeState(data []byte) (*programState, error) {
	r := &stateReader{data: data}
	st := &programState{}

	st.sidx = r.int()
	if r.err == nil && st.sidx < 0 {
		return nil, fmt.Errorf("%w: stack index %d", ErrBadState, st.sidx)
	}

	n := r.count(4)
	for i := 0; i < n; i++ {
		m := r.count(cellSize)
		level := make([]Cell, 0, m)
		for j := 0; j < m; j++ {
			level = append(level, r.cell(p))
		}
		st.stacks = append(st.stacks, level)
	}

	n = r.count(4)
	for i := 0; i < n; i++ {
		m := r.count(4 + cellSize)
		scope := NewVars()
		for j := 0; j < m; j++ {
			name := r.string()
			scope.Set(name, r.cell(p))
		}
		st.locals = append(st.locals, scope)
	}

	n = r.count(24)
	for i := 0; i < n; i++ {
		fr := &CallFrame{ErrorReturn: -1, Refs: make(map[int]Reference)}
		fr.WantsReturn = r.bool()
		fr.retSlot = r.int()
		fr.Return = r.int()
		fr.End = r.int()
		fr.Object = r.uint32()
		m := r.count(12)
		for j := 0; j < m; j++ {
			slot := r.int()
			ref := Reference{Depth: r.int(), Name: r.string()}
			fr.Refs[slot] = ref
		}
		st.calls = append(st.calls, fr)
	}

	st.pos = r.int()
	if r.int() != 0 {
		st.policy = PreferLocal
	}

	n = r.count(4)
	for i := 0; i < n; i++ {
		st.inclusions = append(st.inclusions, r.string())
	}

	if err := r.done(); err != nil {
		return nil, err
	}
	return st, nil
}

// stageInclusions returns p itself when it already holds every file, and
// otherwise a clone of p with the missing files merged in order.
func (p *Program) stageInclusions(files []string) (*Program, error) {
	have := make(map[string]bool, len(p.inclusions))
	for _, f := range p.inclusions {
		have[f] = true
	}
	staged := p
	for _, f := range files {
		if have[f] {
			continue
		}
		if p.env.Loader == nil {
			return nil, fmt.Errorf("include %s: %w", f, ErrNoLoader)
		}
		other, err := p.env.Loader.Open(f)
		if err != nil {
			return nil, fmt.Errorf("include %s: %w", f, err)
		}
		if staged == p {
			staged = p.Clone()
		}
		staged.merge(other)
		have[f] = true
	}
	return staged, nil
}

// validateState checks st against p's code. Every frame owns one operand
// level and one local scope above the top-level ones, and the stack index
// is always the innermost level.
func (p *Program) validateState(st *programState) error {
	switch {
	case len(st.stacks) != len(st.calls)+1:
		return fmt.Errorf("%w: %d frames over %d levels", ErrBadState, len(st.calls), len(st.stacks))
	case len(st.locals) != len(st.calls)+1:
		return fmt.Errorf("%w: %d frames over %d scopes", ErrBadState, len(st.calls), len(st.locals))
	case st.sidx != len(st.stacks)-1:
		return fmt.Errorf("%w: stack index %d of %d levels", ErrBadState, st.sidx, len(st.stacks))
	case st.pos < 0 || st.pos > len(p.code):
		return fmt.Errorf("%w: position %d", ErrBadState, st.pos)
	}
	for k, fr := range st.calls {
		if fr.Return < 0 || fr.Return >= len(p.code) || fr.End < 0 || fr.End >= len(p.code) {
			return fmt.Errorf("%w: frame return %d end %d", ErrBadState, fr.Return, fr.End)
		}
		if fr.retSlot < -1 || fr.retSlot >= len(st.stacks[k]) {
			return fmt.Errorf("%w: frame %d result slot %d", ErrBadState, k, fr.retSlot)
		}
		// References were resolved in the caller, which had k+1 scopes.
		for slot, ref := range fr.Refs {
			if ref.Depth < 0 || ref.Depth > k+1 {
				return fmt.Errorf("%w: reference %d at depth %d", ErrBadState, slot, ref.Depth)
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Heap restore
// ---------------------------------------------------------------------------

// RestoreHeap replaces the heap and object table with a SnapshotHeap image.
// Host cells registered on this Env are kept. On error nothing changes.
func (e *Env) RestoreHeap(data []byte) error {
	if len(data) < len(HeapMagic) || !bytes.Equal(data[:len(HeapMagic)], HeapMagic[:]) {
		return ErrInvalidMagic
	}
	r := &stateReader{data: data, off: len(HeapMagic)}
	if v := r.uint32(); r.err == nil && v != HeapVersion {
		return fmt.Errorf("%w: heap version %d", ErrCorruptData, v)
	}

	objects := NewObjectTable()
	n := r.count(8)
	for i := 0; i < n; i++ {
		id := r.uint32()
		objects.restore(id, r.string())
	}

	heap := NewVars()
	n = r.count(4 + cellSize)
	for i := 0; i < n; i++ {
		name := r.string()
		heap.Set(name, r.cell(nil))
	}
	if err := r.done(); err != nil {
		return err
	}

	for name, c := range e.heap.cells {
		if c.IsHost() {
			heap.put(name, c)
		}
	}
	e.heap = heap
	e.objects = objects
	return nil
}

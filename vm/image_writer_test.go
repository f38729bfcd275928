package vm

import (
	"bytes"
	"errors"
	"testing"
)

// twiceProgram calls a method from an assignment so that a snapshot taken
// inside the call carries a frame with a pending return slot.
func twiceProgram() *Assembler {
	a := NewAssembler("twice.prg")
	a.Method("twice", "n").Open()
	assign(a.ID("local").Num(1))
	a.Arg("n").Num(2).Op(OpMul, 2).Return().Line()
	a.Close()
	assign(a.ID("r").Num(21).Call("twice", 1))
	return a
}

func stepUntil(t *testing.T, p *Program, cond func() bool) {
	t.Helper()
	for i := 0; p.Done() || !cond(); i++ {
		if p.Done() || i > 1000 {
			t.Fatal("condition never reached")
		}
		if err := p.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
}

func TestSnapshotRestoreIsIdempotent(t *testing.T) {
	env, r := newTestEnv()
	p := build(t, env, twiceProgram())
	p.SetPolicy(PreferLocal)
	stepUntil(t, p, func() bool {
		return p.Depth() > 0 && p.Code()[p.Position()].Op == OpMul
	})

	snap := p.Snapshot()
	q := p.Clone()
	if err := q.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := q.Snapshot(); !bytes.Equal(got, snap) {
		t.Fatalf("snapshot after restore differs: %d bytes vs %d", len(got), len(snap))
	}
	if q.Depth() != 1 || q.Position() != p.Position() || q.Policy() != PreferLocal {
		t.Errorf("restored depth %d position %d policy %s", q.Depth(), q.Position(), q.Policy())
	}

	if _, err := q.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(r.messages) > 0 {
		t.Fatalf("unexpected diagnostics: %q", r.messages)
	}
	// The restored program finishes the call and assigns into its own
	// top-level scope.
	if got, ok := NewInspector(q).Lookup("r"); !ok || got.Number() != 42 {
		t.Errorf("r = %v (found %v), want 42", got, ok)
	}
	if env.Heap().Has("r") {
		t.Error("r leaked into the heap under the local policy")
	}
}

func TestSnapshotKeepsReferenceParameters(t *testing.T) {
	env, r := newTestEnv()
	a := NewAssembler("ref.prg")
	a.Method("bump", "&v").Open()
	assign(a.Arg("v").Arg("v").Num(1).Op(OpAdd, 2))
	assign(a.Arg("v").Arg("v").Num(1).Op(OpAdd, 2))
	a.Close()
	assign(a.ID("x").Num(5))
	a.ID("x").Call("bump", 1).Line()
	p := build(t, env, a)
	stepUntil(t, p, func() bool { return p.Depth() > 0 })

	q := p.Clone()
	if err := q.Restore(p.Snapshot()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	fr := q.Frames()[0]
	if ref, ok := fr.Refs[1]; !ok || ref.Name != "x" || ref.Depth != 0 {
		t.Fatalf("restored refs = %v, want slot 1 -> heap x", fr.Refs)
	}
	if _, err := q.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(r.messages) > 0 {
		t.Fatalf("unexpected diagnostics: %q", r.messages)
	}
	if got := global(t, env, "x").Number(); got != 7 {
		t.Errorf("x = %v, want 7", got)
	}
}

func TestRestoreRejectsNegativeStackIndex(t *testing.T) {
	env, r := newTestEnv()
	p := build(t, env, twiceProgram())
	stepUntil(t, p, func() bool { return p.Depth() > 0 })
	before := p.Snapshot()

	w := &stateWriter{}
	w.int(-1)
	err := p.Restore(w.buf)
	if !errors.Is(err, ErrBadState) {
		t.Fatalf("Restore error = %v, want ErrBadState", err)
	}
	if !bytes.Equal(p.Snapshot(), before) {
		t.Error("failed restore changed the program state")
	}
	if !r.contains("Could not restore state") {
		t.Errorf("diagnostics = %q", r.messages)
	}
}

func TestRestoreRejectsTruncatedData(t *testing.T) {
	env, _ := newTestEnv()
	p := build(t, env, twiceProgram())
	stepUntil(t, p, func() bool { return p.Depth() > 0 })
	snap := p.Snapshot()

	for _, n := range []int{0, 3, len(snap) / 2, len(snap) - 1} {
		if err := p.Restore(snap[:n]); err == nil {
			t.Errorf("Restore of %d/%d bytes succeeded", n, len(snap))
		}
	}
	if err := p.Restore(append(snap, 0)); !errors.Is(err, ErrCorruptData) {
		t.Errorf("trailing byte error = %v, want ErrCorruptData", err)
	}
	if !bytes.Equal(p.Snapshot(), snap) {
		t.Error("failed restores changed the program state")
	}
}

func TestRestoreRejectsFramePastStream(t *testing.T) {
	env, _ := newTestEnv()
	p := build(t, env, twiceProgram())
	stepUntil(t, p, func() bool { return p.Depth() > 0 })

	small := NewAssembler("small.prg")
	assign(small.ID("a").Num(1))
	q := build(t, env, small)
	if err := q.Restore(p.Snapshot()); !errors.Is(err, ErrBadState) {
		t.Errorf("Restore into a shorter stream = %v, want ErrBadState", err)
	}
}

func TestRestoreInsideConstructorKeepsObject(t *testing.T) {
	env, r := newTestEnv()
	a := NewAssembler("ctor.prg")
	a.Class("Hero").Public("x").Method("Hero", Public)
	a.Method("Hero::Hero").Open()
	assign(a.ID("x").Num(3))
	a.Num(99).Return().Line()
	a.Close()
	assign(a.ID("h").New("Hero", 0))
	assign(a.ID("hx").ID("h").Lit("x").Op(OpMember, 2))
	p := build(t, env, a)
	stepUntil(t, p, func() bool {
		return p.Depth() > 0 && p.Code()[p.Position()].Op == OpReturn
	})

	q := p.Clone()
	if err := q.Restore(p.Snapshot()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := q.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(r.messages) > 0 {
		t.Fatalf("unexpected diagnostics: %q", r.messages)
	}
	if h := global(t, env, "h"); h.DataType()&TypeObj == 0 {
		t.Errorf("h = %v, want the Hero object", h)
	}
	if got := global(t, env, "hx").Number(); got != 3 {
		t.Errorf("hx = %v, want 3", got)
	}
}

func TestRestoreRejectsMismatchedLevels(t *testing.T) {
	env, _ := newTestEnv()
	p := build(t, env, twiceProgram())
	stepUntil(t, p, func() bool { return p.Depth() > 0 })
	before := p.Snapshot()

	tests := []struct {
		name string
		snap func() []byte
	}{
		{"no frames", func() []byte {
			// One frame's worth of levels and scopes, but no frame.
			q := p.Clone()
			q.stacks = [][]Cell{nil, nil}
			q.sidx = 1
			q.locals = []*Vars{NewVars(), NewVars()}
			return q.Snapshot()
		}},
		{"stack index below top", func() []byte {
			q := build(t, env, twiceProgram())
			stepUntil(t, q, func() bool { return q.Depth() > 0 })
			q.sidx = 0
			return q.Snapshot()
		}},
		{"reference above caller", func() []byte {
			q := build(t, env, twiceProgram())
			stepUntil(t, q, func() bool { return q.Depth() > 0 })
			q.calls[0].Refs[1] = Reference{Depth: 2, Name: "n"}
			return q.Snapshot()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.Restore(tt.snap()); !errors.Is(err, ErrBadState) {
				t.Errorf("Restore = %v, want ErrBadState", err)
			}
		})
	}
	if !bytes.Equal(p.Snapshot(), before) {
		t.Error("failed restores changed the program state")
	}
}

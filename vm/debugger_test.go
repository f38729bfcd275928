package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// recorder is an Observer that logs the line of every stop and answers
// with a scripted sequence of requests, then StepNone.
type recorder struct {
	stops    []int
	displays int
	answers  []StepRequest
}

func (r *recorder) Display(p *Program, ins *Instruction) {
	r.displays++
}

func (r *recorder) OnStep(p *Program, ins *Instruction) StepRequest {
	r.stops = append(r.stops, p.LineOf(p.Position()))
	if len(r.answers) == 0 {
		return StepRequest{}
	}
	req := r.answers[0]
	r.answers = r.answers[1:]
	return req
}

// threeLines assigns x, y and z on lines 1, 2 and 3 of dbg.prg.
func threeLines() *Assembler {
	a := NewAssembler("dbg.prg")
	assign(a.ID("x").Num(1))
	assign(a.ID("y").Num(2))
	assign(a.ID("z").Num(3))
	return a
}

// callProgram declares f on lines 1-4, with its body statement on line 3,
// then calls it on line 5 and assigns b on line 6.
func callProgram() *Assembler {
	a := NewAssembler("dbg.prg")
	a.Method("f").Open()
	assign(a.ID("a").Num(1))
	a.Close()
	a.Call("f", 0).Line()
	assign(a.ID("b").Num(1))
	return a
}

// ---------------------------------------------------------------------------
// Breakpoint management tests
// ---------------------------------------------------------------------------

func TestSetBreakpoint(t *testing.T) {
	bps := NewBreakpoints()
	bps.Set("Main.prg", 4)
	if !bps.Has("main.PRG", 4) {
		t.Error("breakpoint file should match case-insensitively")
	}
	if bps.Has("main.prg", 5) {
		t.Error("unexpected breakpoint on line 5")
	}
}

func TestRemoveNonExistentBreakpoint(t *testing.T) {
	bps := NewBreakpoints()
	if err := bps.Remove("main.prg", 1); err == nil {
		t.Error("Remove of a missing breakpoint should fail")
	}
	bps.Set("main.prg", 1)
	if err := bps.Remove("main.prg", 1); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if bps.Has("main.prg", 1) {
		t.Error("breakpoint survived Remove")
	}
}

func TestToggleBreakpoint(t *testing.T) {
	bps := NewBreakpoints()
	if !bps.Toggle("main.prg", 2) || !bps.Has("main.prg", 2) {
		t.Error("first Toggle should set the breakpoint")
	}
	if bps.Toggle("main.prg", 2) || bps.Has("main.prg", 2) {
		t.Error("second Toggle should remove the breakpoint")
	}
}

func TestEnableDisableBreakpoint(t *testing.T) {
	bps := NewBreakpoints()
	if err := bps.Disable("main.prg", 3); err == nil {
		t.Error("Disable of a missing breakpoint should fail")
	}
	bps.Set("main.prg", 3)
	if err := bps.Disable("main.prg", 3); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if bps.Has("main.prg", 3) {
		t.Error("disabled breakpoint still triggers")
	}
	if err := bps.Enable("main.prg", 3); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !bps.Has("main.prg", 3) {
		t.Error("enabled breakpoint does not trigger")
	}
}

func TestListBreakpoints(t *testing.T) {
	bps := NewBreakpoints()
	bps.Set("b.prg", 1)
	bps.Set("a.prg", 9)
	bps.Set("a.prg", 2)
	if err := bps.Disable("a.prg", 9); err != nil {
		t.Fatal(err)
	}
	want := []Breakpoint{
		{File: "a.prg", Line: 2, Active: true},
		{File: "a.prg", Line: 9, Active: false},
		{File: "b.prg", Line: 1, Active: true},
	}
	if diff := cmp.Diff(want, bps.List()); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
	bps.Clear()
	if len(bps.List()) != 0 {
		t.Error("Clear left breakpoints")
	}
}

// ---------------------------------------------------------------------------
// Stepping tests
// ---------------------------------------------------------------------------

func TestBreakpointThenStepInto(t *testing.T) {
	env, _ := newTestEnv()
	p := build(t, env, threeLines())
	obs := &recorder{answers: []StepRequest{{Action: StepInto}}}
	p.Attach(obs, nil).Breakpoints().Set("dbg.prg", 2)

	run(t, p)
	if diff := cmp.Diff([]int{2, 3}, obs.stops); diff != "" {
		t.Errorf("stops mismatch (-want +got):\n%s", diff)
	}
	if obs.displays != len(obs.stops) {
		t.Errorf("Display called %d times for %d stops", obs.displays, len(obs.stops))
	}
}

func TestStepOver(t *testing.T) {
	env, _ := newTestEnv()
	p := build(t, env, callProgram())
	obs := &recorder{answers: []StepRequest{{Action: StepOver}}}
	p.Attach(obs, nil).Breakpoints().Set("dbg.prg", 5)

	run(t, p)
	if diff := cmp.Diff([]int{5, 6}, obs.stops); diff != "" {
		t.Errorf("stops mismatch (-want +got):\n%s", diff)
	}
	if got := global(t, env, "a").Number(); got != 1 {
		t.Error("stepped-over method did not run")
	}
}

func TestStepIntoMethod(t *testing.T) {
	env, _ := newTestEnv()
	p := build(t, env, callProgram())
	obs := &recorder{answers: []StepRequest{{Action: StepInto}, {Action: StepInto}}}
	p.Attach(obs, nil).Breakpoints().Set("dbg.prg", 5)

	run(t, p)
	if diff := cmp.Diff([]int{5, 3, 6}, obs.stops); diff != "" {
		t.Errorf("stops mismatch (-want +got):\n%s", diff)
	}
}

func TestStepOut(t *testing.T) {
	env, _ := newTestEnv()
	p := build(t, env, callProgram())
	obs := &recorder{answers: []StepRequest{{Action: StepOut}}}
	p.Attach(obs, nil).Breakpoints().Set("dbg.prg", 3)

	run(t, p)
	if diff := cmp.Diff([]int{3, 6}, obs.stops); diff != "" {
		t.Errorf("stops mismatch (-want +got):\n%s", diff)
	}
}

func TestStepTo(t *testing.T) {
	env, _ := newTestEnv()
	p := build(t, env, threeLines())
	obs := &recorder{answers: []StepRequest{{Action: StepTo, Line: 3}}}
	d := p.Attach(obs, nil)
	d.Pause()

	run(t, p)
	if diff := cmp.Diff([]int{1, 3}, obs.stops); diff != "" {
		t.Errorf("stops mismatch (-want +got):\n%s", diff)
	}
	if d.Mode() != StepNone {
		t.Errorf("mode after run = %s", d.Mode())
	}
}

func TestPauseDirective(t *testing.T) {
	env, _ := newTestEnv()
	a := NewAssembler("dbg.prg")
	assign(a.ID("x").Num(1))
	a.Lit("debug.pause").Line()
	assign(a.ID("y").Num(2))
	a.Lit("DEBUG.watch: hp").Line()
	p := build(t, env, a)
	obs := &recorder{}
	d := p.Attach(obs, nil)

	run(t, p)
	if diff := cmp.Diff([]int{3}, obs.stops); diff != "" {
		t.Errorf("stops mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"hp"}, d.Watches()); diff != "" {
		t.Errorf("watches mismatch (-want +got):\n%s", diff)
	}
}

func TestSharedBreakpoints(t *testing.T) {
	env, _ := newTestEnv()
	bps := NewBreakpoints()
	bps.Set("dbg.prg", 1)

	first, second := &recorder{}, &recorder{}
	p := build(t, env, threeLines())
	q := build(t, env, threeLines())
	p.Attach(first, bps)
	q.Attach(second, bps)
	run(t, p)
	run(t, q)
	if len(first.stops) != 1 || len(second.stops) != 1 {
		t.Errorf("stops = %v and %v, want one each", first.stops, second.stops)
	}

	p.Detach()
	if p.Debugger() != nil {
		t.Error("Detach left the debugger attached")
	}
}

func TestExecutionUnits(t *testing.T) {
	tests := []struct {
		ins  Instruction
		want bool
	}{
		{Instruction{Tag: TypeFunc, Op: OpAssign}, true},
		{Instruction{Tag: TypeFunc, Op: OpAddAssign}, true},
		{Instruction{Tag: TypeFunc, Op: OpAdd}, false},
		{Instruction{Tag: TypeFunc, Op: OpCall}, true},
		{Instruction{Tag: TypeFunc, Op: OpMethod}, false},
		{Instruction{Tag: TypeFunc, Op: OpClass}, false},
		{Instruction{Tag: TypeNum}, false},
		{Instruction{Tag: TypeOpen | TypeLine}, false},
	}
	for _, tt := range tests {
		if got := isExecutionUnit(&tt.ins); got != tt.want {
			t.Errorf("isExecutionUnit(%s) = %v, want %v", tt.ins.Op, got, tt.want)
		}
	}
}

package vm

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// memFiles is an in-memory FileService.
type memFiles map[string]string

func (m memFiles) Resolve(name string) (string, error) {
	if _, ok := m[name]; !ok {
		return "", fmt.Errorf("resolve %q: %w", name, fs.ErrNotExist)
	}
	return "mem:" + name, nil
}

func (m memFiles) ReadFile(resolved string) ([]byte, error) {
	src, ok := m[resolved[len("mem:"):]]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(src), nil
}

// assembled is a Parser whose sources name an assembler function.
type assembled struct {
	units  map[string]func() *Assembler
	parsed map[string]int
}

func (a *assembled) Parse(name string, src []byte) (*Unit, error) {
	unit, ok := a.units[string(src)]
	if !ok {
		return nil, fmt.Errorf("no unit %q", src)
	}
	a.parsed[name]++
	u := unit().Build()
	u.File = name
	return u, nil
}

// libUnit declares helper(), which sets libran.
func libUnit() *Assembler {
	a := NewAssembler("lib.prg")
	a.Method("helper").Open()
	assign(a.ID("libran").ID("libran").Num(1).Op(OpAdd, 2))
	assign(a.ID("libdone").Num(1))
	a.Close()
	return a
}

func newTestLoader(env *Env, files memFiles, units map[string]func() *Assembler) (*Loader, *assembled) {
	parser := &assembled{units: units, parsed: make(map[string]int)}
	return NewLoader(env, files, parser), parser
}

func TestLoaderCachesPrograms(t *testing.T) {
	env, _ := newTestEnv()
	l, parser := newTestLoader(env, memFiles{"lib.prg": "lib"}, map[string]func() *Assembler{"lib": libUnit})
	if env.Loader != l {
		t.Fatal("NewLoader did not install itself")
	}

	p1, err := l.Open("lib.prg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p2, err := l.Open("lib.prg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if p1 == p2 {
		t.Error("Open returned the same program twice")
	}
	if parser.parsed["lib.prg"] != 1 {
		t.Errorf("parsed %d times, want 1", parser.parsed["lib.prg"])
	}

	l.Forget("lib.prg")
	if _, err := l.Open("lib.prg"); err != nil {
		t.Fatal(err)
	}
	if parser.parsed["lib.prg"] != 2 {
		t.Errorf("parsed %d times after Forget, want 2", parser.parsed["lib.prg"])
	}

	if _, err := l.Open("missing.prg"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open missing = %v", err)
	}
}

func TestCompileTimeInclude(t *testing.T) {
	env, r := newTestEnv()
	main := func() *Assembler {
		a := NewAssembler("main.prg").Uses("lib.prg")
		a.Call("helper", 0).Line()
		return a
	}
	l, _ := newTestLoader(env,
		memFiles{"main.prg": "main", "lib.prg": "lib"},
		map[string]func() *Assembler{"main": main, "lib": libUnit})

	p, err := l.Open("main.prg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	run(t, p)
	if len(r.messages) > 0 {
		t.Fatalf("unexpected diagnostics: %q", r.messages)
	}
	if got := global(t, env, "libran").Number(); got != 1 {
		t.Errorf("libran = %v, want 1", got)
	}
	if got := p.Code()[p.Methods()[0].Entry].File; got != "lib.prg" {
		t.Errorf("merged code file = %q, want lib.prg", got)
	}
}

func TestIncludeCycleIsReported(t *testing.T) {
	env, r := newTestEnv()
	a := func() *Assembler { return NewAssembler("a.prg").Uses("b.prg") }
	b := func() *Assembler { return NewAssembler("b.prg").Uses("a.prg") }
	l, _ := newTestLoader(env,
		memFiles{"a.prg": "a", "b.prg": "b"},
		map[string]func() *Assembler{"a": a, "b": b})

	if _, err := l.Open("a.prg"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !r.contains(ErrIncludeCycle.Error()) {
		t.Errorf("diagnostics = %q", r.messages)
	}
}

func TestRuntimeInclude(t *testing.T) {
	env, r := newTestEnv()
	main := func() *Assembler {
		a := NewAssembler("main.prg")
		a.Include("lib.prg").Line()
		a.Include("lib.prg").Line()
		a.Call("helper", 0).Line()
		return a
	}
	l, _ := newTestLoader(env,
		memFiles{"main.prg": "main", "lib.prg": "lib"},
		map[string]func() *Assembler{"main": main, "lib": libUnit})

	p, err := l.Open("main.prg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	run(t, p)
	if len(r.messages) > 0 {
		t.Fatalf("unexpected diagnostics: %q", r.messages)
	}
	if got := global(t, env, "libran").Number(); got != 1 {
		t.Errorf("libran = %v, want 1", got)
	}
	if diff := cmp.Diff([]string{"lib.prg"}, p.Inclusions()); diff != "" {
		t.Errorf("inclusions mismatch (-want +got):\n%s", diff)
	}
}

func TestRuntimeIncludeMissingFile(t *testing.T) {
	env, r := newTestEnv()
	main := func() *Assembler {
		return NewAssembler("main.prg").Include("nope.prg").Line()
	}
	l, _ := newTestLoader(env, memFiles{"main.prg": "main"}, map[string]func() *Assembler{"main": main})

	p, err := l.Open("main.prg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	run(t, p)
	if !r.contains("Runtime inclusion: could not find nope.prg.") {
		t.Errorf("diagnostics = %q", r.messages)
	}
}

func TestRestoreMergesRuntimeInclusions(t *testing.T) {
	env, r := newTestEnv()
	main := func() *Assembler {
		a := NewAssembler("main.prg")
		a.Include("lib.prg").Line()
		a.Call("helper", 0).Line()
		return a
	}
	l, _ := newTestLoader(env,
		memFiles{"main.prg": "main", "lib.prg": "lib"},
		map[string]func() *Assembler{"main": main, "lib": libUnit})

	p, err := l.Open("main.prg")
	if err != nil {
		t.Fatal(err)
	}
	stepUntil(t, p, func() bool { return p.Depth() > 0 })
	snap := p.Snapshot()

	q, err := l.Open("main.prg")
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Inclusions()) != 0 {
		t.Fatal("fresh program already has the inclusion")
	}
	if err := q.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := q.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(r.messages) > 0 {
		t.Fatalf("unexpected diagnostics: %q", r.messages)
	}
	if got := global(t, env, "libdone").Number(); got != 1 {
		t.Errorf("libdone = %v, want the restored call to finish", got)
	}
}

func TestFailedRestoreKeepsMergedCode(t *testing.T) {
	env, r := newTestEnv()
	lib2 := func() *Assembler {
		a := NewAssembler("lib2.prg")
		a.Method("helper2").Open()
		assign(a.ID("lib2ran").Num(1))
		a.Close()
		return a
	}
	main := func() *Assembler {
		a := NewAssembler("main.prg")
		a.Include("lib.prg").Line()
		a.Include("lib2.prg").Line()
		a.Call("helper", 0).Line()
		return a
	}
	files := memFiles{"main.prg": "main", "lib.prg": "lib", "lib2.prg": "lib2"}
	l, _ := newTestLoader(env, files,
		map[string]func() *Assembler{"main": main, "lib": libUnit, "lib2": lib2})

	p, err := l.Open("main.prg")
	if err != nil {
		t.Fatal(err)
	}
	stepUntil(t, p, func() bool { return p.Depth() > 0 })
	snap := p.Snapshot()

	q, err := l.Open("main.prg")
	if err != nil {
		t.Fatal(err)
	}
	delete(files, "lib2.prg")
	code, methods := len(q.Code()), len(q.Methods())
	before := q.Snapshot()

	if err := q.Restore(snap); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Restore = %v, want fs.ErrNotExist", err)
	}
	if got := len(q.Code()); got != code {
		t.Errorf("code length = %d, want %d", got, code)
	}
	if len(q.Inclusions()) != 0 {
		t.Errorf("inclusions = %q, want none", q.Inclusions())
	}
	if got := len(q.Methods()); got != methods {
		t.Errorf("methods = %d, want %d", got, methods)
	}
	if !bytes.Equal(q.Snapshot(), before) {
		t.Error("failed restore changed the program state")
	}
	if !r.contains("Could not restore state") {
		t.Errorf("diagnostics = %q", r.messages)
	}
}

func TestSchedulerCreate(t *testing.T) {
	env, _ := newTestEnv()
	l, _ := newTestLoader(env, memFiles{"lib.prg": "lib"}, map[string]func() *Assembler{"lib": libUnit})
	s := NewScheduler()

	th, err := s.Create(l, "lib.prg")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if th.Name != "lib.prg" || th.Program().File() != "lib.prg" {
		t.Errorf("thread %q runs %q", th.Name, th.Program().File())
	}
	if _, err := s.Create(l, "unknown source"); err == nil {
		t.Error("Create of unparseable inline source succeeded")
	}
}

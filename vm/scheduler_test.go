package vm

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestScheduler(env *Env) (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewScheduler()
	s.Now = clock.Now
	s.RegisterFunctions(env)
	return s, clock
}

func TestThreadSleepBuiltin(t *testing.T) {
	env, r := newTestEnv()
	s, clock := newTestScheduler(env)
	a := NewAssembler("sleeper.prg")
	assign(a.ID("x").Num(1))
	a.Num(2).Builtin("threadSleep", 1).Line()
	assign(a.ID("y").Num(1))
	th := s.Spawn("sleeper", build(t, env, a))

	s.Multitask(100)
	if len(r.messages) > 0 {
		t.Fatalf("unexpected diagnostics: %q", r.messages)
	}
	if env.Heap().Has("y") {
		t.Fatal("thread ran past its sleep")
	}
	if !th.IsSleeping() || th.SleepRemaining() != 2*time.Second {
		t.Fatalf("sleeping %v, remaining %v", th.IsSleeping(), th.SleepRemaining())
	}
	if !s.Idle() {
		t.Error("scheduler with only a sleeping thread is not idle")
	}

	clock.advance(time.Second)
	s.Multitask(100)
	if env.Heap().Has("y") || th.SleepRemaining() != time.Second {
		t.Fatalf("remaining %v after one second", th.SleepRemaining())
	}

	clock.advance(time.Second)
	s.Multitask(100)
	if got := global(t, env, "y").Number(); got != 1 {
		t.Errorf("y = %v after waking", got)
	}
	if !th.Done() {
		t.Error("thread not done")
	}
}

func TestIndefiniteSleepNeedsWake(t *testing.T) {
	env, _ := newTestEnv()
	s, clock := newTestScheduler(env)
	a := NewAssembler("wait.prg")
	a.Builtin("threadSleep", 0).Line()
	assign(a.ID("y").Num(1))
	th := s.Spawn("wait", build(t, env, a))

	s.Multitask(10)
	clock.advance(time.Hour)
	s.Multitask(10)
	if !th.IsSleeping() || th.SleepRemaining() != 0 || env.Heap().Has("y") {
		t.Fatal("indefinite sleep ended on its own")
	}
	th.Wake()
	s.Multitask(10)
	if !env.Heap().Has("y") {
		t.Error("thread did not resume after Wake")
	}
}

func TestKillThread(t *testing.T) {
	env, _ := newTestEnv()
	s, _ := newTestScheduler(env)
	a := NewAssembler("kill.prg")
	a.Builtin("killThread", 0).Line()
	assign(a.ID("z").Num(1))
	th := s.Spawn("kill", build(t, env, a))

	s.Multitask(10)
	if env.Heap().Has("z") {
		t.Error("statement after killThread ran")
	}
	if _, ok := s.Thread(th.ID); ok || len(s.Threads()) != 0 {
		t.Error("killed thread still registered")
	}
}

func TestThreadBuiltinOutsideThread(t *testing.T) {
	env, r := newTestEnv()
	newTestScheduler(env)
	a := NewAssembler("main.prg")
	a.Num(1).Builtin("threadSleep", 1).Line()

	run(t, build(t, env, a))
	if !r.contains("This program is not running as a thread.") {
		t.Errorf("diagnostics = %q", r.messages)
	}
}

func TestMultitaskRoundRobin(t *testing.T) {
	env, _ := newTestEnv()
	s, _ := newTestScheduler(env)
	var order []string
	env.RegisterFunction("mark", func(c *Call) error {
		order = append(order, c.Arg(0).Text())
		return nil
	})
	for _, name := range []string{"a", "b"} {
		a := NewAssembler(name + ".prg")
		a.Lit(name).Builtin("mark", 1).Line()
		a.Lit(name).Builtin("mark", 1).Line()
		s.Spawn(name, build(t, env, a))
	}

	for !s.Idle() {
		s.Multitask(2)
	}
	want := []string{"a", "b", "a", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestFaultStopsThread(t *testing.T) {
	env, r := newTestEnv()
	s, _ := newTestScheduler(env)
	a := NewAssembler("bad.prg")
	a.Op(OpAdd, 2).Line()
	th := s.Spawn("bad", build(t, env, a))

	s.Multitask(10)
	if !errors.Is(th.Err(), ErrStackUnderflow) {
		t.Errorf("Err = %v, want stack underflow", th.Err())
	}
	if !th.Done() || !s.Idle() {
		t.Error("faulted thread still runnable")
	}
	if len(r.messages) != 1 {
		t.Errorf("diagnostics = %q, want one report", r.messages)
	}
}

func TestThreadLookup(t *testing.T) {
	env, _ := newTestEnv()
	s, _ := newTestScheduler(env)
	p := build(t, env, NewAssembler("a.prg"))
	th := s.Spawn("a", p)
	if got, ok := s.ThreadOf(p); !ok || got != th {
		t.Error("ThreadOf did not find the thread")
	}
	s.DestroyAll()
	if _, ok := s.ThreadOf(p); ok {
		t.Error("thread survived DestroyAll")
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/chazu/rpgcode/manifest"
	"github.com/chazu/rpgcode/savestore"
	"github.com/chazu/rpgcode/vm"
	"github.com/chazu/rpgcode/vm/dist"
)

// runtime is one interpreter instance driven by the CLI.
type runtime struct {
	m      *manifest.Manifest
	env    *vm.Env
	loader *vm.Loader
	sched  *vm.Scheduler
	out    io.Writer

	store *savestore.Store

	// save and load requests made by scripts, served between scheduler
	// passes because the step lock is held while a builtin runs
	pendingSave []string
	pendingLoad string

	// onSpawn runs for every program started or restored
	onSpawn func(p *vm.Program)
}

func newRuntime(m *manifest.Manifest, policy *dist.Policy, out io.Writer) *runtime {
	env := vm.NewEnv()
	env.DebugLevel = m.DebugLevel()
	env.Diagnostics = vm.DiagnosticFunc(func(message string) {
		fmt.Fprintln(out, message)
	})

	r := &runtime{
		m:      m,
		env:    env,
		loader: vm.NewLoader(env, vm.OSFiles{Root: m.ProgramDir()}, dist.NewParser(policy)),
		sched:  vm.NewScheduler(),
		out:    out,
	}
	r.sched.RegisterFunctions(env)
	r.registerFunctions()

	for _, name := range m.Interpreter.Plugins {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.Dir, path)
		}
		env.AddPlugin(newExecPlugin(path))
		log.Infof("plugin %s", path)
	}
	return r
}

// registerFunctions installs the host builtins: mwin(text, ...) prints its
// arguments, save(slot) and load(slot) use the save database.
func (r *runtime) registerFunctions() {
	r.env.RegisterFunction("mwin", func(c *vm.Call) error {
		parts := make([]string, c.Arity())
		for i := range parts {
			parts[i] = c.Arg(i).Text()
		}
		fmt.Fprintln(r.out, strings.Join(parts, ""))
		return nil
	})
	r.env.RegisterFunction("save", func(c *vm.Call) error {
		if c.Arity() != 1 {
			return vm.Errorf("save() requires one data element.")
		}
		r.pendingSave = append(r.pendingSave, c.Arg(0).Text())
		return nil
	})
	r.env.RegisterFunction("load", func(c *vm.Call) error {
		if c.Arity() != 1 {
			return vm.Errorf("load() requires one data element.")
		}
		r.pendingLoad = c.Arg(0).Text()
		return nil
	})
}

// saves opens the save database on first use.
func (r *runtime) saves() (*savestore.Store, error) {
	if r.store != nil {
		return r.store, nil
	}
	s, err := savestore.Open(r.m.DatabasePath())
	if err != nil {
		return nil, err
	}
	r.store = s
	return s, nil
}

func (r *runtime) close() {
	if r.store != nil {
		r.store.Close()
	}
}

// start spawns a thread for every program.
func (r *runtime) start(programs []string) error {
	for _, name := range programs {
		t, err := r.sched.Create(r.loader, name)
		if err != nil {
			return err
		}
		t.Program().SetPolicy(r.m.Resolution())
		r.spawned(t.Program())
	}
	return nil
}

// restore replaces the running threads with those of a save slot.
func (r *runtime) restore(slot string) error {
	s, err := r.saves()
	if err != nil {
		return err
	}
	if err := s.Restore(slot, r.env, r.loader, r.sched); err != nil {
		return err
	}
	for _, t := range r.sched.Threads() {
		r.spawned(t.Program())
	}
	return nil
}

func (r *runtime) spawned(p *vm.Program) {
	if r.onSpawn != nil {
		r.onSpawn(p)
	}
}

// flush serves the save and load requests scripts made since the last
// pass.
func (r *runtime) flush() error {
	saves, load := r.pendingSave, r.pendingLoad
	r.pendingSave, r.pendingLoad = nil, ""

	for _, slot := range saves {
		s, err := r.saves()
		if err != nil {
			return err
		}
		if err := s.Save(slot, r.env, r.sched); err != nil {
			return err
		}
	}
	if load != "" {
		return r.restore(load)
	}
	return nil
}

// run drives the scheduler until every thread has finished, ctx is done,
// or only indefinitely sleeping threads remain.
func (r *runtime) run(ctx context.Context) error {
	slice := r.m.Interpreter.Slice
	for {
		select {
		case <-ctx.Done():
			log.Notice("interrupted")
			return ctx.Err()
		default:
		}

		r.sched.Multitask(slice)
		if err := r.flush(); err != nil {
			r.env.Report(err.Error())
		}

		if !r.sched.Idle() {
			continue
		}
		wait, live := r.nextWake()
		if !live {
			return nil
		}
		if wait == 0 {
			log.Warning("every thread is asleep until woken; stopping")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// nextWake returns the shortest remaining timed sleep and whether any
// thread is still alive.
func (r *runtime) nextWake() (time.Duration, bool) {
	var wait time.Duration
	live := false
	for _, t := range r.sched.Threads() {
		if t.Done() {
			continue
		}
		live = true
		if rem := t.SleepRemaining(); rem > 0 && (wait == 0 || rem < wait) {
			wait = rem
		}
	}
	return wait, live
}

// failed returns the threads that stopped on a fault.
func (r *runtime) failed() []*vm.Thread {
	var out []*vm.Thread
	for _, t := range r.sched.Threads() {
		if t.Err() != nil {
			out = append(out, t)
		}
	}
	return out
}

package vm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var schedLog = commonlog.GetLogger("rpgcode.scheduler")

// ---------------------------------------------------------------------------
// Thread: a program advanced by the scheduler
// ---------------------------------------------------------------------------

// Thread is a program run cooperatively alongside other threads.
type Thread struct {
	ID   uuid.UUID
	Name string

	prg   *Program
	sched *Scheduler

	sleeping   bool
	sleepFor   time.Duration
	sleepBegin time.Time

	err error
}

// Program returns the thread's program.
func (t *Thread) Program() *Program { return t.prg }

// Err returns the fault that stopped the thread, if any.
func (t *Thread) Err() error { return t.err }

// Done reports whether the thread ran off its stream or faulted.
func (t *Thread) Done() bool { return t.err != nil || t.prg.Done() }

// Sleep suspends the thread for d. A zero duration sleeps until Wake.
func (t *Thread) Sleep(d time.Duration) {
	t.sleeping = true
	t.sleepFor = d
	t.sleepBegin = t.sched.now()
}

// IsSleeping reports whether the thread is asleep. A timed sleep ends once
// its duration has passed.
func (t *Thread) IsSleeping() bool {
	if !t.sleeping {
		return false
	}
	if t.sleepFor > 0 && t.sched.now().Sub(t.sleepBegin) >= t.sleepFor {
		t.sleeping = false
		return false
	}
	return true
}

// SleepRemaining returns how long a timed sleep has left. It is 0 for a
// thread that is awake or asleep indefinitely.
func (t *Thread) SleepRemaining() time.Duration {
	if !t.IsSleeping() || t.sleepFor == 0 {
		return 0
	}
	return t.sleepFor - t.sched.now().Sub(t.sleepBegin)
}

// Wake ends any sleep.
func (t *Thread) Wake() {
	t.sleeping = false
}

// execute advances the thread by up to units instructions.
func (t *Thread) execute(units int) {
	for i := 0; i < units && !t.Done() && !t.IsSleeping(); i++ {
		if err := t.prg.Step(); err != nil {
			t.err = err
			schedLog.Warningf("thread %s (%s) stopped: %s", t.Name, t.ID, err)
			t.prg.env.Report(fmt.Sprintf("%s\nNear line %d: %v", t.prg.file, t.prg.LineOf(t.prg.pos), err))
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

// Scheduler runs threads round-robin on the calling goroutine.
type Scheduler struct {
	threads []*Thread

	// Now is the clock used for sleeps. Tests replace it.
	Now func() time.Time
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{Now: time.Now}
}

func (s *Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Spawn registers p as a new thread.
func (s *Scheduler) Spawn(name string, p *Program) *Thread {
	t := &Thread{ID: uuid.New(), Name: name, prg: p, sched: s}
	s.threads = append(s.threads, t)
	schedLog.Debugf("spawned thread %s (%s)", name, t.ID)
	return t
}

// Create opens the program file name through the loader and spawns it.
// When no such file exists, name is taken as inline program text.
func (s *Scheduler) Create(l *Loader, name string) (*Thread, error) {
	var p *Program
	var err error
	if file := l.Qualify(name); l.Exists(file) {
		p, err = l.Open(file)
	} else {
		p, err = l.LoadString(name, name)
	}
	if err != nil {
		return nil, err
	}
	return s.Spawn(name, p), nil
}

// Threads returns the threads in registration order.
func (s *Scheduler) Threads() []*Thread {
	return s.threads
}

// Thread returns the thread with id.
func (s *Scheduler) Thread(id uuid.UUID) (*Thread, bool) {
	for _, t := range s.threads {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// ThreadOf returns the thread running p.
func (s *Scheduler) ThreadOf(p *Program) (*Thread, bool) {
	for _, t := range s.threads {
		if t.prg == p {
			return t, true
		}
	}
	return nil, false
}

// Multitask advances every awake thread by up to units instructions, in
// registration order.
func (s *Scheduler) Multitask(units int) {
	for _, t := range append([]*Thread(nil), s.threads...) {
		t.execute(units)
	}
}

// Idle reports whether no thread can make progress.
func (s *Scheduler) Idle() bool {
	for _, t := range s.threads {
		if !t.Done() && !t.IsSleeping() {
			return false
		}
	}
	return true
}

// Destroy removes t. Objects it created are not released.
func (s *Scheduler) Destroy(t *Thread) {
	for i, th := range s.threads {
		if th == t {
			s.threads = append(s.threads[:i], s.threads[i+1:]...)
			schedLog.Debugf("destroyed thread %s (%s)", t.Name, t.ID)
			return
		}
	}
}

// DestroyAll removes every thread.
func (s *Scheduler) DestroyAll() {
	s.threads = nil
}

// ---------------------------------------------------------------------------
// Thread builtins
// ---------------------------------------------------------------------------

// RegisterFunctions installs the script-level thread builtins on env:
// threadSleep(seconds), threadSleepRemaining(), threadWake() and
// killThread().
func (s *Scheduler) RegisterFunctions(env *Env) {
	current := func(c *Call) (*Thread, error) {
		t, ok := s.ThreadOf(c.Program())
		if !ok {
			return nil, Errorf("This program is not running as a thread.")
		}
		return t, nil
	}
	env.RegisterFunction("threadsleep", func(c *Call) error {
		t, err := current(c)
		if err != nil {
			return err
		}
		secs := 0.0
		if c.Arity() > 0 {
			secs = c.Arg(0).Number()
		}
		t.Sleep(time.Duration(secs * float64(time.Second)))
		return nil
	})
	env.RegisterFunction("threadsleepremaining", func(c *Call) error {
		t, err := current(c)
		if err != nil {
			return err
		}
		c.Return(NumberCell(t.SleepRemaining().Seconds()))
		return nil
	})
	env.RegisterFunction("threadwake", func(c *Call) error {
		t, err := current(c)
		if err != nil {
			return err
		}
		t.Wake()
		return nil
	})
	env.RegisterFunction("killthread", func(c *Call) error {
		t, err := current(c)
		if err != nil {
			return err
		}
		// Running off the end stops the thread at this step.
		c.Program().pos = len(c.Program().code)
		s.Destroy(t)
		return nil
	})
}

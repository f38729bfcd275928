package vm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Debugger: stepping and breakpoints for a running program
// ---------------------------------------------------------------------------

// StepAction selects how far a program runs before the debugger stops it
// again.
type StepAction int

const (
	StepNone StepAction = iota // run freely until a breakpoint or pause
	StepInto                   // stop at the next execution unit
	StepOver                   // stop on another line at the same or a shallower depth
	StepOut                    // stop once the current method has returned
	StepTo                     // stop on a given file and line
)

func (a StepAction) String() string {
	switch a {
	case StepInto:
		return "into"
	case StepOver:
		return "over"
	case StepOut:
		return "out"
	case StepTo:
		return "to"
	}
	return "none"
}

// StepRequest is the observer's answer when the debugger stops. File and
// Line are used by StepTo only; an empty File means the program's file.
type StepRequest struct {
	Action StepAction
	File   string
	Line   int
}

// Observer is the host side of the debugger. When execution stops, Display
// is called to show the stop and OnStep then decides how to continue. Both
// run on the goroutine stepping the program, before the instruction
// executes and without the Env lock held, so OnStep may block on user
// input.
type Observer interface {
	Display(p *Program, ins *Instruction)
	OnStep(p *Program, ins *Instruction) StepRequest
}

// directivePrefix introduces a debugger directive: a literal statement such
// as "debug.pause" or "debug.watch:hp".
const directivePrefix = "debug."

// ---------------------------------------------------------------------------
// Breakpoints
// ---------------------------------------------------------------------------

// breakpointKey identifies a breakpoint location. Files compare
// case-insensitively.
type breakpointKey struct {
	file string
	line int
}

// Breakpoint describes a breakpoint for listing.
type Breakpoint struct {
	File   string
	Line   int
	Active bool
}

// Breakpoints is a set of source breakpoints. One set may be shared by the
// debuggers of several programs.
type Breakpoints struct {
	mu  sync.Mutex
	set map[breakpointKey]bool
}

// NewBreakpoints creates an empty set.
func NewBreakpoints() *Breakpoints {
	return &Breakpoints{set: make(map[breakpointKey]bool)}
}

func keyOf(file string, line int) breakpointKey {
	return breakpointKey{file: strings.ToLower(file), line: line}
}

// Set adds an active breakpoint at file:line.
func (b *Breakpoints) Set(file string, line int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set[keyOf(file, line)] = true
}

// Remove deletes the breakpoint at file:line.
func (b *Breakpoints) Remove(file string, line int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := keyOf(file, line)
	if _, ok := b.set[k]; !ok {
		return fmt.Errorf("no breakpoint at %s:%d", file, line)
	}
	delete(b.set, k)
	return nil
}

// Toggle flips the breakpoint at file:line between set and removed and
// reports whether it is now set.
func (b *Breakpoints) Toggle(file string, line int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := keyOf(file, line)
	if _, ok := b.set[k]; ok {
		delete(b.set, k)
		return false
	}
	b.set[k] = true
	return true
}

// Enable reactivates a disabled breakpoint.
func (b *Breakpoints) Enable(file string, line int) error {
	return b.setActive(file, line, true)
}

// Disable keeps the breakpoint at file:line but stops it from triggering.
func (b *Breakpoints) Disable(file string, line int) error {
	return b.setActive(file, line, false)
}

func (b *Breakpoints) setActive(file string, line int, active bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := keyOf(file, line)
	if _, ok := b.set[k]; !ok {
		return fmt.Errorf("no breakpoint at %s:%d", file, line)
	}
	b.set[k] = active
	return nil
}

// Has reports whether an active breakpoint is set at file:line.
func (b *Breakpoints) Has(file string, line int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.set[keyOf(file, line)]
}

// Clear removes every breakpoint.
func (b *Breakpoints) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set = make(map[breakpointKey]bool)
}

// List returns the breakpoints ordered by file and line.
func (b *Breakpoints) List() []Breakpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Breakpoint, 0, len(b.set))
	for k, active := range b.set {
		out = append(out, Breakpoint{File: k.file, Line: k.line, Active: active})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// ---------------------------------------------------------------------------
// Debugger
// ---------------------------------------------------------------------------

// Debugger watches one program's execution units and stops it according to
// the current step request, the breakpoints and pause requests.
type Debugger struct {
	observer    Observer
	breakpoints *Breakpoints

	mu      sync.Mutex
	mode    StepAction
	paused  bool
	watches []string

	// Where the current step request was made.
	fromDepth int
	fromLine  int
	toFile    string
	toLine    int
}

// Attach installs a debugger on p that reports to obs. A nil breakpoint set
// gets a private one. The program runs freely until it reaches a
// breakpoint, a pause request or a debug.pause directive.
func (p *Program) Attach(obs Observer, bps *Breakpoints) *Debugger {
	if bps == nil {
		bps = NewBreakpoints()
	}
	d := &Debugger{observer: obs, breakpoints: bps}
	p.debugger = d
	return d
}

// Detach removes the program's debugger.
func (p *Program) Detach() {
	p.debugger = nil
}

// Debugger returns the attached debugger, or nil.
func (p *Program) Debugger() *Debugger {
	return p.debugger
}

// Breakpoints returns the breakpoint set the debugger consults.
func (d *Debugger) Breakpoints() *Breakpoints {
	return d.breakpoints
}

// Pause stops the program at its next execution unit. It may be called from
// any goroutine.
func (d *Debugger) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

// Mode returns the active step action.
func (d *Debugger) Mode() StepAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Watch adds a variable name to the watch list.
func (d *Debugger) Watch(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range d.watches {
		if strings.EqualFold(w, name) {
			return
		}
	}
	d.watches = append(d.watches, name)
}

// Watches returns the watched variable names in the order they were added.
func (d *Debugger) Watches() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.watches...)
}

// update is called before every instruction the program executes.
func (d *Debugger) update(p *Program, ins *Instruction) {
	if ins.Tag == TypeLit|TypeLine && len(ins.Lit) > len(directivePrefix) &&
		strings.EqualFold(ins.Lit[:len(directivePrefix)], directivePrefix) {
		d.directive(ins.Lit[len(directivePrefix):])
	}
	if !isExecutionUnit(ins) {
		return
	}

	file, line := p.fileOf(p.pos), p.LineOf(p.pos)
	depth := p.Depth()

	d.mu.Lock()
	if d.paused || d.breakpoints.Has(file, line) {
		d.paused = false
		d.mode = StepInto
	}
	stop := false
	switch d.mode {
	case StepInto:
		stop = true
	case StepOver:
		stop = line != d.fromLine && depth <= d.fromDepth
	case StepOut:
		stop = depth < d.fromDepth
	case StepTo:
		stop = line == d.toLine && strings.EqualFold(file, d.toFile)
	}
	if stop {
		d.mode = StepNone
	}
	d.mu.Unlock()

	if !stop || d.observer == nil {
		return
	}
	log.Debugf("debugger stop at %s:%d (%s)", file, line, ins)
	d.observer.Display(p, ins)
	req := d.observer.OnStep(p, ins)

	d.mu.Lock()
	d.mode = req.Action
	d.fromDepth = depth
	d.fromLine = line
	d.toLine = req.Line
	d.toFile = req.File
	if d.toFile == "" {
		d.toFile = file
	}
	d.mu.Unlock()
}

// directive handles "debug.pause" and "debug.watch:<name>".
func (d *Debugger) directive(cmd string) {
	switch lower := strings.ToLower(cmd); {
	case lower == "pause":
		d.Pause()
	case strings.HasPrefix(lower, "watch:") && len(cmd) > len("watch:"):
		d.Watch(strings.TrimSpace(cmd[len("watch:"):]))
	}
}

// isExecutionUnit reports whether the debugger may stop on ins: calls,
// assignments and statements, but not plain operators or the markers that
// skip declarations.
func isExecutionUnit(ins *Instruction) bool {
	if ins.Tag&TypeFunc == 0 {
		return false
	}
	switch {
	case ins.Op == OpMethod || ins.Op == OpClass:
		return false
	case ins.Op.isAssignment():
		return true
	case ins.Op.isOperator():
		return false
	}
	return true
}

// fileOf returns the file the instruction at pos came from. Merged method
// bodies keep the file they were included from.
func (p *Program) fileOf(pos int) string {
	if pos >= 0 && pos < len(p.code) && p.code[pos].File != "" {
		return p.code[pos].File
	}
	return p.file
}

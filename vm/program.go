package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Program: one instruction stream and its execution state
// ---------------------------------------------------------------------------

// ResolutionPolicy decides whether unqualified names prefer the local scope
// or the global heap.
type ResolutionPolicy int

const (
	PreferGlobal ResolutionPolicy = iota
	PreferLocal
)

func (r ResolutionPolicy) String() string {
	if r == PreferLocal {
		return "local"
	}
	return "global"
}

// ParseResolutionPolicy maps the configuration spelling of a policy.
func ParseResolutionPolicy(s string) (ResolutionPolicy, bool) {
	switch strings.ToLower(s) {
	case "global", "":
		return PreferGlobal, true
	case "local", "autolocal":
		return PreferLocal, true
	}
	return PreferGlobal, false
}

// Reference locates the target of a reference parameter. Depth 0 is the
// heap; depth k is local scope k counted from the outermost. Name is the
// key within that table. It is resolved on every access.
type Reference struct {
	Depth int
	Name  string
}

// CallFrame records one active method invocation.
type CallFrame struct {
	Object      uint32 // bound object, 0 for free functions
	Return      int    // offset of the call instruction
	End         int    // offset of the method's closing brace
	WantsReturn bool   // the caller consumes the result
	Refs        map[int]Reference

	// ErrorHandler is the label to jump to on error. "" means none and
	// ResumeNext swallows errors.
	ErrorHandler string
	ErrorReturn  int // offset to resume at, -1 when no handler is running

	// Release marks a destructor run by "release"; the object is purged
	// when the frame closes.
	Release bool

	Method string

	retSlot int // index of the result slot in the caller's level, -1 if none
}

// Program is a linked instruction stream with its own operand stacks, local
// scopes and call frames. Programs created from the same Env share the heap
// and the object table.
type Program struct {
	env  *Env
	file string

	code       []Instruction
	classes    map[string]*Class
	classOrder []string
	methods    []MethodDescriptor
	lines      []int
	includes   []string // compile-time inclusions, qualified
	inclusions []string // runtime inclusions, qualified

	stacks [][]Cell
	sidx   int
	locals []*Vars
	calls  []*CallFrame
	pos    int
	policy ResolutionPolicy

	result   *Cell
	debugger *Debugger
}

// Unit is the output of a parser: a stream plus its class and method tables.
type Unit struct {
	File     string
	Code     []Instruction
	Classes  []*Class
	Methods  []MethodDescriptor
	Includes []string
	Lines    []int // instruction offset that ends each source line
}

// NewProgram links unit into a runnable program bound to env. The unit's
// slices are copied; the caller may reuse it.
func NewProgram(env *Env, unit *Unit) (*Program, error) {
	p := &Program{
		env:     env,
		file:    unit.File,
		code:    append([]Instruction(nil), unit.Code...),
		classes: make(map[string]*Class),
		methods: make([]MethodDescriptor, len(unit.Methods)),
		lines:   append([]int(nil), unit.Lines...),
	}
	for i, m := range unit.Methods {
		m.Params = append([]string(nil), m.Params...)
		p.methods[i] = m
	}
	for _, c := range unit.Classes {
		if _, dup := p.classes[c.Name]; dup {
			p.env.Report("Class " + c.Name + " is defined more than once.")
			continue
		}
		p.classes[c.Name] = c.clone()
		p.classOrder = append(p.classOrder, c.Name)
	}
	if err := p.link(); err != nil {
		return nil, err
	}
	p.Prime()
	return p, nil
}

// Prime resets the execution state to the start of the stream.
func (p *Program) Prime() {
	p.stacks = [][]Cell{nil}
	p.sidx = 0
	p.locals = []*Vars{NewVars()}
	p.calls = nil
	p.pos = 0
	p.policy = PreferGlobal
	p.result = nil
}

// Clone returns a structural copy of the program, primed to its start.
func (p *Program) Clone() *Program {
	out := &Program{
		env:        p.env,
		file:       p.file,
		code:       append([]Instruction(nil), p.code...),
		classes:    make(map[string]*Class, len(p.classes)),
		classOrder: append([]string(nil), p.classOrder...),
		methods:    make([]MethodDescriptor, len(p.methods)),
		lines:      append([]int(nil), p.lines...),
		includes:   append([]string(nil), p.includes...),
		inclusions: append([]string(nil), p.inclusions...),
	}
	for name, c := range p.classes {
		out.classes[name] = c.clone()
	}
	for i, m := range p.methods {
		m.Params = append([]string(nil), m.Params...)
		out.methods[i] = m
	}
	out.Prime()
	return out
}

// Env returns the environment the program runs in.
func (p *Program) Env() *Env { return p.env }

// File returns the program's source file name.
func (p *Program) File() string { return p.file }

// Code returns the instruction stream.
func (p *Program) Code() []Instruction { return p.code }

// Position returns the offset of the next instruction to execute.
func (p *Program) Position() int { return p.pos }

// Done reports whether the program has run off the end of its stream.
func (p *Program) Done() bool { return p.pos >= len(p.code) }

// Depth returns the number of active call frames.
func (p *Program) Depth() int { return len(p.calls) }

// Frames returns the active call frames, outermost first.
func (p *Program) Frames() []*CallFrame { return p.calls }

// Class returns the class named name.
func (p *Program) Class(name string) (*Class, bool) {
	c, ok := p.classes[name]
	return c, ok
}

// Methods returns the method table.
func (p *Program) Methods() []MethodDescriptor { return p.methods }

// Inclusions returns the files included at run time.
func (p *Program) Inclusions() []string { return p.inclusions }

// Policy returns the active resolution policy.
func (p *Program) Policy() ResolutionPolicy { return p.policy }

// SetPolicy switches the resolution policy.
func (p *Program) SetPolicy(r ResolutionPolicy) { p.policy = r }

// IDCell returns an identifier cell resolved through p.
func (p *Program) IDCell(name string) Cell {
	return Cell{Lit: name, Tag: TypeID, prg: p}
}

// stack returns the current operand level.
func (p *Program) stack() *[]Cell {
	return &p.stacks[p.sidx]
}

func (p *Program) push(c Cell) {
	s := p.stack()
	*s = append(*s, c)
}

func (p *Program) topFrame() *CallFrame {
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

// findMethod returns the index of the method named name with arity, or -1.
// A negative arity matches any arity.
func (p *Program) findMethod(name string, arity int) int {
	for i, m := range p.methods {
		if (arity < 0 || m.Arity == arity) && strings.EqualFold(m.Name, name) {
			return i
		}
	}
	return -1
}

// locateMethod is findMethod restricted to methods with a body.
func (p *Program) locateMethod(name string, arity int) *MethodDescriptor {
	for i := range p.methods {
		m := &p.methods[i]
		if m.Entry != noEntry && m.Arity == arity && strings.EqualFold(m.Name, name) {
			return m
		}
	}
	return nil
}

// classOf returns the class of object id.
func (p *Program) classOf(id uint32) (*Class, error) {
	name, ok := p.env.objects.Class(id)
	if !ok {
		return nil, errorf("Invalid object.")
	}
	cls, ok := p.classes[name]
	if !ok {
		return nil, errorf("Could not find class %s.", name)
	}
	return cls, nil
}

// callerVisibility is the visibility a call on an object of class sees from
// the current frame.
func (p *Program) callerVisibility(class string) Visibility {
	if fr := p.topFrame(); fr != nil && fr.Object != 0 {
		if name, ok := p.env.objects.Class(fr.Object); ok && name == class {
			return Private
		}
	}
	return Public
}

// ---------------------------------------------------------------------------
// Name resolution
// ---------------------------------------------------------------------------

// ParamName returns the synthetic local name of by-value parameter index
// (0-based, in declaration order) of a method taking arity parameters.
// Slots count from the last argument, which is slot 1.
func ParamName(arity, index int) string {
	return paramSlotName(arity - index)
}

func paramSlotName(slot int) string {
	return " " + string(rune(slot))
}

// paramSlot decodes a name produced by paramSlotName.
func paramSlot(name string) (int, bool) {
	if !strings.HasPrefix(name, " ") {
		return 0, false
	}
	r := []rune(name[1:])
	if len(r) != 1 {
		return 0, false
	}
	return int(r[0]), true
}

// Resolve returns the cell that name denotes, creating it if needed.
func (p *Program) Resolve(name string) *Cell {
	c, _ := p.resolveRef(name)
	return c
}

// resolveRef resolves name and also reports where the cell lives, which is
// what a reference parameter records.
func (p *Program) resolveRef(name string) (*Cell, Reference) {
	if strings.HasPrefix(name, ":") {
		key := name[1:]
		return p.env.heap.Get(key), Reference{Name: key}
	}
	if slot, ok := paramSlot(name); ok {
		if fr := p.topFrame(); fr != nil {
			if ref, ok := fr.Refs[slot]; ok {
				return p.deref(ref), ref
			}
		}
	}

	// Members of the bound object win over locals and globals alike.
	if key, ok := p.instanceKey(name); ok {
		return p.env.heap.Get(key), Reference{Name: key}
	}

	top := len(p.locals)
	scope := p.locals[top-1]
	if p.policy == PreferLocal {
		if c, ok := p.env.heap.Lookup(name); ok {
			return c, Reference{Name: name}
		}
		return scope.Get(name), Reference{Depth: top, Name: name}
	}
	if c, ok := scope.Lookup(name); ok {
		return c, Reference{Depth: top, Name: name}
	}
	return p.env.heap.Get(name), Reference{Name: name}
}

// deref returns the cell a reference descriptor points at.
func (p *Program) deref(ref Reference) *Cell {
	if ref.Depth <= 0 || ref.Depth > len(p.locals) {
		return p.env.heap.Get(ref.Name)
	}
	return p.locals[ref.Depth-1].Get(ref.Name)
}

// lookup finds the cell name denotes the way Resolve does, but never
// creates it.
func (p *Program) lookup(name string) (*Cell, bool) {
	if strings.HasPrefix(name, ":") {
		return p.env.heap.Lookup(name[1:])
	}
	if slot, ok := paramSlot(name); ok {
		if fr := p.topFrame(); fr != nil {
			if ref, ok := fr.Refs[slot]; ok {
				return p.lookupRef(ref)
			}
		}
	}
	if key, ok := p.instanceKey(name); ok {
		return p.env.heap.Lookup(key)
	}
	scope := p.locals[len(p.locals)-1]
	if p.policy == PreferLocal {
		if c, ok := p.env.heap.Lookup(name); ok {
			return c, true
		}
		return scope.Lookup(name)
	}
	if c, ok := scope.Lookup(name); ok {
		return c, true
	}
	return p.env.heap.Lookup(name)
}

// lookupRef is deref without auto-creation.
func (p *Program) lookupRef(ref Reference) (*Cell, bool) {
	if ref.Depth <= 0 || ref.Depth > len(p.locals) {
		return p.env.heap.Lookup(ref.Name)
	}
	return p.locals[ref.Depth-1].Lookup(ref.Name)
}

// instanceKey qualifies name as a member of the bound object when the
// object's class declares it.
func (p *Program) instanceKey(name string) (string, bool) {
	fr := p.topFrame()
	if fr == nil || fr.Object == 0 {
		return "", false
	}
	cls, ok := p.env.objects.Class(fr.Object)
	if !ok {
		return "", false
	}
	c, ok := p.classes[cls]
	if !ok || !c.hasMember(name) {
		return "", false
	}
	return MemberKey(fr.Object, name), true
}

// FreeVariable removes name from the innermost scope, or else from the heap.
func (p *Program) FreeVariable(name string) {
	if p.locals[len(p.locals)-1].Delete(name) {
		return
	}
	p.env.heap.Delete(name)
}

// ---------------------------------------------------------------------------
// Line estimation
// ---------------------------------------------------------------------------

// LineOf estimates the source line of the instruction at pos.
func (p *Program) LineOf(pos int) int {
	if pos < 0 {
		return 0
	}
	if pos < len(p.code) && p.code[pos].Line > 0 {
		return p.code[pos].Line
	}
	if len(p.lines) > 0 {
		for i, end := range p.lines {
			if end > pos {
				return i + 1
			}
		}
		return len(p.lines)
	}
	line := 1
	for i := 0; i < pos && i < len(p.code); i++ {
		if p.code[i].Tag&TypeLine != 0 {
			line++
		}
	}
	return line
}

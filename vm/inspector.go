package vm

import (
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Inspector gives read-only access to a program's variables for debuggers
// and host tooling. Nothing it does creates a heap or scope entry.
//
// The Inspector does not take the Env lock. Observers run between steps and
// may use it directly; other callers should hold Env.Lock.
type Inspector struct {
	p *Program
}

// NewInspector creates an inspector over p.
func NewInspector(p *Program) *Inspector {
	return &Inspector{p: p}
}

// StackFrame describes one active call for display.
type StackFrame struct {
	Depth  int    `yaml:"depth"`
	Method string `yaml:"method"`
	Object uint32 `yaml:"object,omitempty"`
	File   string `yaml:"file"`
	Line   int    `yaml:"line"`
}

// frameMethod returns the method whose body the frame is running, found by
// the frame's closing brace.
func (i *Inspector) frameMethod(fr *CallFrame) *MethodDescriptor {
	p := i.p
	for k := range p.methods {
		m := &p.methods[k]
		if m.Entry < 0 || m.Entry >= len(p.code) {
			continue
		}
		if end, ok := p.code[m.Entry].jumpTarget(); ok && end == fr.End {
			return m
		}
	}
	return nil
}

// param returns the formal parameter name of the top frame.
func (i *Inspector) param(name string) (*Cell, bool) {
	fr := i.p.topFrame()
	if fr == nil {
		return nil, false
	}
	m := i.frameMethod(fr)
	if m == nil {
		return nil, false
	}
	for k, formal := range m.Params {
		if !strings.EqualFold(formal, name) {
			continue
		}
		slot := len(m.Params) - k
		if ref, ok := fr.Refs[slot]; ok {
			return i.p.lookupRef(ref)
		}
		return i.p.locals[len(i.p.locals)-1].Lookup(paramSlotName(slot))
	}
	return nil, false
}

// member returns name as a member of the top frame's bound object.
func (i *Inspector) member(name string) (*Cell, bool) {
	fr := i.p.topFrame()
	if fr == nil || fr.Object == 0 {
		return nil, false
	}
	cls, err := i.p.classOf(fr.Object)
	if err != nil || !cls.hasMember(name) {
		return nil, false
	}
	return i.p.env.heap.Lookup(MemberKey(fr.Object, name))
}

// Lookup finds the variable name, trying the top frame's parameters, its
// local scope, the bound object's members and the globals in that order.
func (i *Inspector) Lookup(name string) (*Cell, bool) {
	if c, ok := i.param(name); ok {
		return c, true
	}
	if c, ok := i.p.locals[len(i.p.locals)-1].Lookup(name); ok {
		return c, true
	}
	if c, ok := i.member(name); ok {
		return c, true
	}
	return i.p.env.heap.Lookup(name)
}

// Search returns up to max names that start with prefix, in lookup order.
// A max of 0 or less means no limit. Matching is case-insensitive.
func (i *Inspector) Search(prefix string, max int) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) bool {
		key := strings.ToLower(name)
		if seen[key] || !strings.HasPrefix(key, strings.ToLower(prefix)) {
			return true
		}
		seen[key] = true
		out = append(out, name)
		return max <= 0 || len(out) < max
	}

	p := i.p
	if fr := p.topFrame(); fr != nil {
		if m := i.frameMethod(fr); m != nil {
			for _, formal := range m.Params {
				if !add(formal) {
					return out
				}
			}
		}
	}
	for _, name := range p.locals[len(p.locals)-1].Names() {
		if strings.HasPrefix(name, " ") {
			continue
		}
		if !add(name) {
			return out
		}
	}
	if fr := p.topFrame(); fr != nil && fr.Object != 0 {
		if cls, err := p.classOf(fr.Object); err == nil {
			for _, m := range cls.Members {
				if !add(m.Name) {
					return out
				}
			}
		}
	}
	for _, name := range p.env.heap.Names() {
		if strings.Contains(name, "::") {
			continue
		}
		if !add(name) {
			return out
		}
	}
	return out
}

// Format renders the variable name for display.
func (i *Inspector) Format(name string) string {
	c, ok := i.Lookup(name)
	if !ok {
		return "{NOT FOUND}"
	}
	return FormatVerbose(*c)
}

// FormatVerbose renders a cell with its type visible: {UNSET}, {OBJ #n},
// quoted literals and plain numbers. Identifier cells are followed without
// creating the variables they name.
func FormatVerbose(c Cell) string {
	r := c.peek()
	if r.host != nil {
		r = r.Resolved()
	}
	switch {
	case r.Tag&TypeUnset != 0:
		return "{UNSET}"
	case r.Tag&TypeObj != 0:
		return "{OBJ #" + FormatNumber(r.Num) + "}"
	case r.Tag&TypeLit != 0:
		return strconv.Quote(r.Lit)
	case r.Tag&TypeNum != 0:
		return FormatNumber(r.Num)
	}
	return "?: " + r.Lit
}

// Stack returns the active calls, innermost first.
func (i *Inspector) Stack() []StackFrame {
	p := i.p
	n := len(p.calls)
	frames := make([]StackFrame, 0, n)
	at := p.pos
	for k := n - 1; k >= 0; k-- {
		fr := p.calls[k]
		frames = append(frames, StackFrame{
			Depth:  k + 1,
			Method: fr.Method,
			Object: fr.Object,
			File:   p.fileOf(at),
			Line:   p.LineOf(at),
		})
		at = fr.Return
	}
	return frames
}

// ---------------------------------------------------------------------------
// Dumps
// ---------------------------------------------------------------------------

// Dump is a point-in-time view of a program's variables.
type Dump struct {
	File     string            `yaml:"file"`
	Line     int               `yaml:"line"`
	Position int               `yaml:"position"`
	Policy   string            `yaml:"policy"`
	Stack    []StackFrame      `yaml:"stack,omitempty"`
	Watches  map[string]string `yaml:"watches,omitempty"`
	Locals   map[string]string `yaml:"locals,omitempty"`
	Globals  map[string]string `yaml:"globals,omitempty"`
	Objects  map[uint32]string `yaml:"objects,omitempty"`
}

// Snapshot collects a Dump. Parameters appear among the locals under their
// formal names.
func (i *Inspector) Snapshot() *Dump {
	p := i.p
	d := &Dump{
		File:     p.fileOf(p.pos),
		Line:     p.LineOf(p.pos),
		Position: p.pos,
		Policy:   p.policy.String(),
		Stack:    i.Stack(),
		Locals:   make(map[string]string),
		Globals:  make(map[string]string),
		Objects:  make(map[uint32]string),
	}

	if fr := p.topFrame(); fr != nil {
		if m := i.frameMethod(fr); m != nil {
			for _, formal := range m.Params {
				if c, ok := i.param(formal); ok {
					d.Locals[formal] = FormatVerbose(*c)
				}
			}
		}
	}
	scope := p.locals[len(p.locals)-1]
	for _, name := range scope.Names() {
		if strings.HasPrefix(name, " ") {
			continue
		}
		c, _ := scope.Lookup(name)
		d.Locals[name] = FormatVerbose(*c)
	}
	for _, name := range p.env.heap.Names() {
		c, _ := p.env.heap.Lookup(name)
		d.Globals[name] = FormatVerbose(*c)
	}
	for _, id := range p.env.objects.IDs() {
		cls, _ := p.env.objects.Class(id)
		d.Objects[id] = cls
	}
	if p.debugger != nil {
		if w := p.debugger.Watches(); len(w) > 0 {
			d.Watches = make(map[string]string, len(w))
			for _, name := range w {
				d.Watches[name] = i.Format(name)
			}
		}
	}
	return d
}

// Dump writes Snapshot as YAML.
func (i *Inspector) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(i.Snapshot()); err != nil {
		return err
	}
	return enc.Close()
}

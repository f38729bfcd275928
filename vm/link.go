package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Linking: inheritance, brace matching, method locations, call resolution
// ---------------------------------------------------------------------------

// link prepares a freshly parsed stream for execution.
func (p *Program) link() error {
	flattenClasses(p.classes, p.classOrder, func(msg string) {
		p.env.Report(p.file + "\n" + msg)
	})
	p.fixup(0)
	p.resolveFunctions()
	return nil
}

// fixup matches the braces in code[from:], records the entry of every
// method declared there and unbinds the call descriptors in that range so
// resolveFunctions can bind them against this program. Class methods are
// then relocated from the method table.
func (p *Program) fixup(from int) {
	depth := 0
	for i := from; i < len(p.code); i++ {
		ins := &p.code[i]
		switch {
		case ins.Tag&TypeFunc != 0:
			switch ins.Op {
			case OpMethod:
				if idx := p.findMethod(ins.Lit, int(ins.Value.Number())); idx >= 0 {
					p.methods[idx].Entry = i + 1
				}
			case OpCall, OpPlugin:
				if i == 0 {
					continue
				}
				d := &p.code[i-1]
				if d.Tag&TypeObj != 0 {
					continue
				}
				ins.Op = OpCall
				d.Tag &^= TypePlugin
				d.Value = unresolved
			}

		case ins.Tag&TypeOpen != 0:
			depth++

		case ins.Tag&TypeClose != 0:
			if depth == 0 {
				ins.Value = OffsetPayload(-1, -1)
				p.env.Report(fmt.Sprintf("%s\nNear line %d: Found unmatched }", p.file, p.LineOf(i)))
				continue
			}
			depth--
			p.matchBrace(i)
		}
	}

	for ; depth > 0; depth-- {
		p.code = append(p.code, Instruction{Tag: TypeClose | TypeLine})
		open := p.matchBrace(len(p.code) - 1)
		p.env.Report(fmt.Sprintf("%s\nNear line %d: Found unmatched {", p.file, p.LineOf(open)))
	}

	p.locateClassMethods()
}

// matchBrace pairs the close at pos with its open. The re-test position of a
// loop is the start of the statement holding the loop's condition: one past
// the third statement boundary counting back from the open.
func (p *Program) matchBrace(pos int) int {
	depth := 0
	for i := pos; i >= 0; i-- {
		ins := &p.code[i]
		switch {
		case ins.Tag&TypeClose != 0:
			depth--
		case ins.Tag&TypeOpen != 0:
			depth++
			if depth != 0 {
				continue
			}
			ins.Value = OffsetPayload(pos, -1)
			retest, lines := 0, 0
			for j := i; j >= 0; j-- {
				if p.code[j].Tag&TypeLine != 0 {
					lines++
					if lines == 3 {
						retest = j + 1
						break
					}
				}
			}
			p.code[pos].Value = OffsetPayload(i, retest)
			return i
		}
	}
	return 0
}

// locateClassMethods points every class method at its body: the class's
// own "Class::name", else the first inherited class that defines it.
func (p *Program) locateClassMethods() {
	for _, name := range p.classOrder {
		cls := p.classes[name]
		for i := range cls.Methods {
			m := &cls.Methods[i]
			if d := p.locateMethod(cls.Name+"::"+m.Name, m.Arity); d != nil {
				m.Entry, m.ByRef = d.Entry, d.ByRef
				continue
			}
			found := false
			for _, base := range cls.Inherits {
				if d := p.locateMethod(base+"::"+m.Name, m.Arity); d != nil {
					m.Entry, m.ByRef = d.Entry, d.ByRef
					found = true
					break
				}
			}
			if !found {
				m.Entry = noEntry
				p.env.Report(fmt.Sprintf("%s\nCould not locate %s::%s", p.file, cls.Name, m.Name))
			}
		}
	}
}

// resolveFunctions binds every call descriptor that is still unresolved and
// every host builtin. Calls that match no method are offered to the plugins.
// Running it again after a merge binds calls into the merged methods.
func (p *Program) resolveFunctions() {
	for i := range p.code {
		ins := &p.code[i]
		if ins.Tag&TypeFunc == 0 {
			continue
		}
		switch ins.Op {
		case OpBuiltin:
			if fn, ok := p.env.Function(ins.Lit); ok {
				ins.builtin = fn
			}
		case OpCall:
			if i == 0 {
				continue
			}
			d := &p.code[i-1]
			if d.Tag&TypeObj != 0 || d.Value.IsOffsets() {
				continue
			}
			if m := p.locateMethod(d.Lit, ins.Arity-1); m != nil {
				d.Value = OffsetPayload(m.Entry, int(m.ByRef))
				continue
			}
			name := strings.ToLower(d.Lit)
			if idx := p.env.findPlugin(name); idx >= 0 {
				d.Tag |= TypePlugin
				d.Lit = name
				d.Value = NumberPayload(float64(idx))
				ins.Op = OpPlugin
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Include merge
// ---------------------------------------------------------------------------

// merge copies other's classes and methods that p lacks onto the end of the
// stream, then links the appended range.
func (p *Program) merge(other *Program) {
	for _, name := range other.classOrder {
		if _, ok := p.classes[name]; ok {
			continue
		}
		p.classes[name] = other.classes[name].clone()
		p.classOrder = append(p.classOrder, name)
	}

	from := len(p.code)
	for _, m := range other.methods {
		if p.findMethod(m.Name, m.Arity) >= 0 {
			continue
		}
		if m.Entry < 1 || m.Entry >= len(other.code) {
			p.env.Report(fmt.Sprintf("Bad method location: %s()\n in %s", m.Name, other.file))
			continue
		}
		depth := 0
		for j := m.Entry - 1; j < len(other.code); j++ {
			ins := other.code[j]
			if ins.File == "" {
				ins.File = other.file
			}
			if ins.Line == 0 {
				ins.Line = other.LineOf(j)
			}
			p.code = append(p.code, ins)
			if ins.Tag&TypeOpen != 0 {
				depth++
			} else if ins.Tag&TypeClose != 0 {
				depth--
				if depth == 0 {
					break
				}
			}
		}
		m.Params = append([]string(nil), m.Params...)
		p.methods = append(p.methods, m)
	}

	p.fixup(from)
	p.resolveFunctions()
}

// Include merges other into p as a compile-time inclusion.
func (p *Program) Include(other *Program) {
	p.merge(other)
	p.includes = append(p.includes, other.file)
}

package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Assembler: builds instruction streams without a parser
// ---------------------------------------------------------------------------

// Assembler emits a Unit instruction by instruction in the layout the
// interpreter expects. Expressions are written in postfix order: operands
// first, then the operator. Line ends the current statement.
//
// Block statements put their condition before the head, and the head
// before the block:
//
//	a.ID("i").Num(3).Op(OpLt, 2).While().Open()
//	...
//	a.Close()
//
// A for loop is a while loop whose initializer is the statement before the
// condition and whose increment is the last statement of the body.
type Assembler struct {
	unit    Unit
	line    int
	classes map[string]*Class
	params  []string // formal parameters of the method being emitted
}

// NewAssembler starts a unit for file. Instructions are numbered from
// source line 1; every statement boundary advances the line.
func NewAssembler(file string) *Assembler {
	return &Assembler{
		unit:    Unit{File: file},
		line:    1,
		classes: make(map[string]*Class),
	}
}

func (a *Assembler) emit(ins Instruction) *Assembler {
	if ins.Line == 0 {
		ins.Line = a.line
	}
	a.unit.Code = append(a.unit.Code, ins)
	return a
}

// Len returns the number of instructions emitted so far.
func (a *Assembler) Len() int {
	return len(a.unit.Code)
}

// At sets the source line of the instructions that follow.
func (a *Assembler) At(line int) *Assembler {
	a.line = line
	return a
}

// Num pushes a number.
func (a *Assembler) Num(n float64) *Assembler {
	return a.emit(Instruction{Value: NumberPayload(n), Tag: TypeNum})
}

// Lit pushes a literal.
func (a *Assembler) Lit(s string) *Assembler {
	return a.emit(Instruction{Lit: s, Tag: TypeLit})
}

// ID pushes a variable reference.
func (a *Assembler) ID(name string) *Assembler {
	return a.emit(Instruction{Lit: name, Tag: TypeID})
}

// Arg pushes a reference to a parameter of the method declared last. A
// name that is not one of its parameters is pushed as a plain variable.
func (a *Assembler) Arg(name string) *Assembler {
	for i, p := range a.params {
		if strings.EqualFold(p, name) {
			return a.ID(ParamName(len(a.params), i))
		}
	}
	return a.ID(name)
}

// Op applies op to the last arity operands.
func (a *Assembler) Op(op Opcode, arity int) *Assembler {
	return a.emit(Instruction{Tag: TypeFunc, Op: op, Arity: arity})
}

// Line ends the statement at the last instruction emitted.
func (a *Assembler) Line() *Assembler {
	if n := len(a.unit.Code); n > 0 {
		a.unit.Code[n-1].Tag |= TypeLine
	}
	a.line++
	return a
}

// head emits a block head and ends its statement.
func (a *Assembler) head(op Opcode, arity int) *Assembler {
	return a.Op(op, arity).Line()
}

// Open starts a block.
func (a *Assembler) Open() *Assembler {
	return a.emit(Instruction{Tag: TypeOpen | TypeLine}).advance()
}

// Close ends a block.
func (a *Assembler) Close() *Assembler {
	return a.emit(Instruction{Tag: TypeClose | TypeLine}).advance()
}

func (a *Assembler) advance() *Assembler {
	a.line++
	return a
}

// If consumes the condition on the stack.
func (a *Assembler) If() *Assembler { return a.head(OpIf, 1) }

// ElseIf consumes the condition on the stack.
func (a *Assembler) ElseIf() *Assembler { return a.head(OpElseIf, 1) }

// Else must directly follow the close of an if or elseif block.
func (a *Assembler) Else() *Assembler { return a.head(OpElse, 0) }

// While consumes the condition on the stack.
func (a *Assembler) While() *Assembler { return a.head(OpWhile, 1) }

// Until consumes the condition on the stack.
func (a *Assembler) Until() *Assembler { return a.head(OpUntil, 1) }

// For consumes the condition on the stack.
func (a *Assembler) For() *Assembler { return a.head(OpFor, 1) }

// Method declares a method whose body is the block that follows. A class
// method is named "Class::name". A parameter written "&name" is passed by
// reference.
func (a *Assembler) Method(name string, params ...string) *Assembler {
	m := MethodDescriptor{Name: name, Arity: len(params), Entry: noEntry}
	for i, param := range params {
		if strings.HasPrefix(param, "&") {
			param = param[1:]
			m.ByRef |= 1 << (len(params) - i - 1)
		}
		m.Params = append(m.Params, param)
	}
	a.unit.Methods = append(a.unit.Methods, m)
	a.params = m.Params
	a.emit(Instruction{Lit: name, Value: NumberPayload(float64(m.Arity)), Tag: TypeFunc, Op: OpMethod})
	return a.Line()
}

// Call calls the free method name with the nargs operands on the stack.
func (a *Assembler) Call(name string, nargs int) *Assembler {
	a.emit(Instruction{Lit: name, Value: unresolved, Tag: TypeID})
	return a.Op(OpCall, nargs+1)
}

// CallMethod calls method name on the object below the nargs operands.
func (a *Assembler) CallMethod(name string, nargs int) *Assembler {
	a.emit(Instruction{Lit: name, Tag: TypeID | TypeObj})
	return a.Op(OpCall, nargs+2)
}

// New constructs an object of class with the nargs operands on the stack.
func (a *Assembler) New(class string, nargs int) *Assembler {
	a.Lit(class)
	return a.Op(OpNew, nargs+1)
}

// Builtin calls the host function name.
func (a *Assembler) Builtin(name string, nargs int) *Assembler {
	return a.emit(Instruction{Lit: name, Tag: TypeFunc, Op: OpBuiltin, Arity: nargs})
}

// Return returns the value on the stack.
func (a *Assembler) Return() *Assembler {
	return a.Op(OpReturn, 1)
}

// Label declares a jump target.
func (a *Assembler) Label(name string) *Assembler {
	a.emit(Instruction{Lit: name, Tag: TypeLabel})
	return a.Line()
}

// Include merges file into the program when the statement runs.
func (a *Assembler) Include(file string) *Assembler {
	a.Lit(file)
	return a.Op(OpInclude, 1)
}

// Uses records file as a compile-time inclusion.
func (a *Assembler) Uses(file string) *Assembler {
	a.unit.Includes = append(a.unit.Includes, file)
	return a
}

// ---------------------------------------------------------------------------
// Class declarations
// ---------------------------------------------------------------------------

// ClassBuilder adds members and methods to a class declaration.
type ClassBuilder struct {
	cls *Class
}

// Class declares a class inheriting from bases and emits its declaration
// block. Redeclaring a class returns the existing builder.
func (a *Assembler) Class(name string, bases ...string) *ClassBuilder {
	if c, ok := a.classes[name]; ok {
		return &ClassBuilder{cls: c}
	}
	c := &Class{Name: name, Inherits: append([]string(nil), bases...)}
	a.classes[name] = c
	a.unit.Classes = append(a.unit.Classes, c)
	a.emit(Instruction{Lit: name, Tag: TypeFunc, Op: OpClass}).Line()
	a.Open().Close()
	return &ClassBuilder{cls: c}
}

// Public declares public members.
func (b *ClassBuilder) Public(members ...string) *ClassBuilder {
	return b.members(Public, members)
}

// Private declares private members.
func (b *ClassBuilder) Private(members ...string) *ClassBuilder {
	return b.members(Private, members)
}

func (b *ClassBuilder) members(vis Visibility, names []string) *ClassBuilder {
	for _, n := range names {
		b.cls.Members = append(b.cls.Members, Member{Name: n, Visibility: vis})
	}
	return b
}

// Method declares a method prototype. Its body is emitted separately with
// Assembler.Method("Class::name", ...).
func (b *ClassBuilder) Method(name string, vis Visibility, params ...string) *ClassBuilder {
	m := ClassMethod{MethodDescriptor: MethodDescriptor{Name: name, Arity: len(params), Entry: noEntry}, Visibility: vis}
	for _, param := range params {
		m.Params = append(m.Params, strings.TrimPrefix(param, "&"))
	}
	b.cls.Methods = append(b.cls.Methods, m)
	return b
}

// Build returns the assembled unit. The assembler may keep emitting; later
// instructions do not affect units already built.
func (a *Assembler) Build() *Unit {
	u := a.unit
	u.Code = append([]Instruction(nil), a.unit.Code...)
	u.Methods = append([]MethodDescriptor(nil), a.unit.Methods...)
	u.Includes = append([]string(nil), a.unit.Includes...)
	u.Classes = make([]*Class, len(a.unit.Classes))
	for i, c := range a.unit.Classes {
		u.Classes[i] = c.clone()
	}
	return &u
}

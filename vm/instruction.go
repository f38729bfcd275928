package vm

import "fmt"

// ---------------------------------------------------------------------------
// Payload: numeric value or a pair of stream offsets
// ---------------------------------------------------------------------------

type payloadKind uint8

const (
	payloadNumber payloadKind = iota
	payloadOffsets
)

// Payload is the numeric slot of an instruction. It holds either a plain
// number or a pair of stream offsets (jump targets, call entry points).
type Payload struct {
	kind   payloadKind
	num    float64
	first  int
	second int
}

// NumberPayload wraps a plain number.
func NumberPayload(n float64) Payload {
	return Payload{kind: payloadNumber, num: n}
}

// OffsetPayload wraps a pair of stream offsets.
func OffsetPayload(first, second int) Payload {
	return Payload{kind: payloadOffsets, first: first, second: second}
}

// IsOffsets reports whether the payload holds offsets.
func (p Payload) IsOffsets() bool {
	return p.kind == payloadOffsets
}

// Number returns the numeric value, or 0 for an offset pair.
func (p Payload) Number() float64 {
	if p.kind == payloadOffsets {
		return 0
	}
	return p.num
}

// Offsets returns the offset pair. ok is false for a plain number.
func (p Payload) Offsets() (first, second int, ok bool) {
	if p.kind != payloadOffsets {
		return -1, -1, false
	}
	return p.first, p.second, true
}

func (p Payload) String() string {
	if p.kind == payloadOffsets {
		return fmt.Sprintf("(%d,%d)", p.first, p.second)
	}
	return FormatNumber(p.num)
}

// unresolved marks a call descriptor that link time could not bind.
var unresolved = NumberPayload(-1)

// ---------------------------------------------------------------------------
// Instruction
// ---------------------------------------------------------------------------

// Instruction is one unit of a program's linear stream.
//
// Non-callable instructions push their own cell when executed. Callable
// instructions (TypeFunc) run Op over the last Arity operands. OPEN carries
// the offset of its matching CLOSE; CLOSE carries (open, re-test) where
// re-test is the first instruction of the statement before the open.
type Instruction struct {
	Lit   string
	Value Payload
	Tag   DataType
	Op    Opcode
	Arity int

	// Source position, when the parser supplies it.
	File string
	Line int

	builtin Operation
}

func (ins *Instruction) String() string {
	if ins.Tag&TypeFunc != 0 {
		if ins.Op == OpBuiltin {
			return fmt.Sprintf("%s/%d", ins.Lit, ins.Arity)
		}
		return fmt.Sprintf("%s/%d", ins.Op, ins.Arity)
	}
	switch {
	case ins.Tag&TypeOpen != 0:
		return "{"
	case ins.Tag&TypeClose != 0:
		return "}"
	case ins.Tag&TypeLabel != 0:
		return ":" + ins.Lit
	case ins.Tag&(TypeLit) != 0:
		return fmt.Sprintf("%q", ins.Lit)
	case ins.Tag&(TypeID|TypePlugin) != 0:
		return ins.Lit
	}
	return ins.Value.String()
}

// cell returns the value this instruction pushes.
func (ins *Instruction) cell(p *Program) Cell {
	return Cell{Num: ins.Value.Number(), Lit: ins.Lit, Tag: ins.Tag &^ TypeLine, prg: p}
}

// isFunc reports whether the instruction is a call to op.
func (ins *Instruction) isFunc(op Opcode) bool {
	return ins.Tag&TypeFunc != 0 && ins.Op == op
}

// jumpTarget returns the close offset stored on an OPEN instruction.
func (ins *Instruction) jumpTarget() (int, bool) {
	first, _, ok := ins.Value.Offsets()
	return first, ok
}

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// Opcode selects the operation a callable instruction performs.
type Opcode uint8

const (
	OpNop Opcode = iota

	// Arithmetic, bitwise, logical and comparison operators
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpBitOr
	OpBitAnd
	OpBitXor
	OpShl
	OpShr
	OpOr
	OpAnd
	OpEq
	OpNe
	OpGe
	OpLe
	OpGt
	OpLt

	// Assignment
	OpAssign
	OpAddAssign
	OpSubAssign
	OpMulAssign
	OpDivAssign
	OpModAssign
	OpPowAssign
	OpBitOrAssign
	OpBitAndAssign
	OpBitXorAssign
	OpShlAssign
	OpShrAssign
	OpOrAssign
	OpAndAssign

	// Unary and structural operators
	OpIndex
	OpPreInc
	OpPostInc
	OpPreDec
	OpPostDec
	OpNeg
	OpNot
	OpBitNot
	OpTernary
	OpMember

	// Control flow
	OpIf
	OpElseIf
	OpElse
	OpWhile
	OpUntil
	OpFor
	OpMethod
	OpClass

	// Calls
	OpCall
	OpPlugin
	OpNew
	OpReturn
	OpReturnRef
	OpReleaseObj
	OpVerifyType
	OpBuiltin

	// Error handling and runtime services
	OpOnError
	OpResume
	OpGoto
	OpInclude
	OpKill

	opCount
)

// opInfo describes an opcode. overload is the operator symbol used to look
// up "operator<symbol>" on an object operand; fallback marks operators that
// keep their primitive meaning when no overload is accessible.
type opInfo struct {
	name     string
	overload string
	fallback bool
	fn       Operation
}

var opTable = [opCount]opInfo{
	OpNop: {name: "nop"},

	OpAdd:    {name: "+", overload: "+"},
	OpSub:    {name: "-", overload: "-"},
	OpMul:    {name: "*", overload: "*"},
	OpDiv:    {name: "/", overload: "/"},
	OpMod:    {name: "%", overload: "%"},
	OpPow:    {name: "^", overload: "^"},
	OpBitOr:  {name: "|", overload: "|"},
	OpBitAnd: {name: "&", overload: "&"},
	OpBitXor: {name: "`", overload: "`"},
	OpShl:    {name: "<<", overload: "<<"},
	OpShr:    {name: ">>", overload: ">>"},
	OpOr:     {name: "||", overload: "||"},
	OpAnd:    {name: "&&", overload: "&&"},
	OpEq:     {name: "==", overload: "==", fallback: true},
	OpNe:     {name: "~=", overload: "~=", fallback: true},
	OpGe:     {name: ">=", overload: ">="},
	OpLe:     {name: "<=", overload: "<="},
	OpGt:     {name: ">", overload: ">"},
	OpLt:     {name: "<", overload: "<"},

	OpAssign:       {name: "=", overload: "=", fallback: true},
	OpAddAssign:    {name: "+=", overload: "+="},
	OpSubAssign:    {name: "-=", overload: "-="},
	OpMulAssign:    {name: "*=", overload: "*="},
	OpDivAssign:    {name: "/=", overload: "/="},
	OpModAssign:    {name: "%=", overload: "%="},
	OpPowAssign:    {name: "^=", overload: "^="},
	OpBitOrAssign:  {name: "|=", overload: "|="},
	OpBitAndAssign: {name: "&=", overload: "&="},
	OpBitXorAssign: {name: "`=", overload: "`="},
	OpShlAssign:    {name: "<<=", overload: "<<="},
	OpShrAssign:    {name: ">>=", overload: ">>="},
	OpOrAssign:     {name: "||=", overload: "||="},
	OpAndAssign:    {name: "&&=", overload: "&&="},

	OpIndex:   {name: "[]", overload: "[]", fallback: true},
	OpPreInc:  {name: "++i", overload: "++"},
	OpPostInc: {name: "i++", overload: "++"},
	OpPreDec:  {name: "--i", overload: "--"},
	OpPostDec: {name: "i--", overload: "--"},
	OpNeg:     {name: "-i", overload: "-"},
	OpNot:     {name: "!", overload: "!"},
	OpBitNot:  {name: "~", overload: "~"},
	OpTernary: {name: "?:"},
	OpMember:  {name: "->"},

	OpIf:     {name: "if"},
	OpElseIf: {name: "elseif"},
	OpElse:   {name: "else"},
	OpWhile:  {name: "while"},
	OpUntil:  {name: "until"},
	OpFor:    {name: "for"},
	OpMethod: {name: "method"},
	OpClass:  {name: "class"},

	OpCall:       {name: "call"},
	OpPlugin:     {name: "plugin"},
	OpNew:        {name: "new"},
	OpReturn:     {name: "return"},
	OpReturnRef:  {name: "returnreference"},
	OpReleaseObj: {name: "releaseobj"},
	OpVerifyType: {name: "verifytype"},
	OpBuiltin:    {name: "builtin"},

	OpOnError: {name: "onerror"},
	OpResume:  {name: "resume"},
	OpGoto:    {name: "goto"},
	OpInclude: {name: "include"},
	OpKill:    {name: "kill"},
}

// Operation implementations are installed here rather than in the table
// literal because several of them consult opTable themselves.
func init() {
	for op, fn := range map[Opcode]Operation{
		OpNop: opNop,

		OpAdd: opAdd, OpSub: opSub, OpMul: opMul, OpDiv: opDiv, OpMod: opMod, OpPow: opPow,
		OpBitOr: opBitOr, OpBitAnd: opBitAnd, OpBitXor: opBitXor, OpShl: opShl, OpShr: opShr,
		OpOr: opOr, OpAnd: opAnd,
		OpEq: opEq, OpNe: opNe, OpGe: opGe, OpLe: opLe, OpGt: opGt, OpLt: opLt,

		OpAssign:    opAssign,
		OpAddAssign: compoundAssign(OpAdd), OpSubAssign: compoundAssign(OpSub),
		OpMulAssign: compoundAssign(OpMul), OpDivAssign: compoundAssign(OpDiv),
		OpModAssign: compoundAssign(OpMod), OpPowAssign: compoundAssign(OpPow),
		OpBitOrAssign: compoundAssign(OpBitOr), OpBitAndAssign: compoundAssign(OpBitAnd),
		OpBitXorAssign: compoundAssign(OpBitXor), OpShlAssign: compoundAssign(OpShl),
		OpShrAssign: compoundAssign(OpShr), OpOrAssign: compoundAssign(OpOr),
		OpAndAssign: compoundAssign(OpAnd),

		OpIndex: opIndex, OpPreInc: opPreInc, OpPostInc: opPostInc, OpPreDec: opPreDec,
		OpPostDec: opPostDec, OpNeg: opNeg, OpNot: opNot, OpBitNot: opBitNot,
		OpTernary: opTernary, OpMember: opMember,

		OpIf: opConditional, OpElseIf: opConditional, OpElse: opSkipBlock,
		OpWhile: opWhile, OpUntil: opUntil, OpFor: opWhile,
		OpMethod: opSkipBlock, OpClass: opSkipBlock,

		OpCall: opMethodCall, OpPlugin: opPluginCall, OpNew: opNew,
		OpReturn: opReturn, OpReturnRef: opReturnReference,
		OpReleaseObj: opReleaseObj, OpVerifyType: opVerifyType, OpBuiltin: opBuiltin,

		OpOnError: opOnError, OpResume: opResume, OpGoto: opGoto,
		OpInclude: opInclude, OpKill: opKill,
	} {
		opTable[op].fn = fn
	}
}

func (op Opcode) String() string {
	if op < opCount {
		return opTable[op].name
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// ParseOpcode returns the opcode whose name is name.
func ParseOpcode(name string) (Opcode, bool) {
	for op := Opcode(0); op < opCount; op++ {
		if opTable[op].name == name {
			return op, true
		}
	}
	return OpNop, false
}

// isLoop reports whether op opens a loop block.
func (op Opcode) isLoop() bool {
	return op == OpWhile || op == OpUntil || op == OpFor
}

// isOperator reports whether op is one of the expression operators.
func (op Opcode) isOperator() bool {
	return op >= OpAdd && op <= OpMember
}

// isAssignment reports whether op stores into its first operand.
func (op Opcode) isAssignment() bool {
	switch op {
	case OpPreInc, OpPostInc, OpPreDec, OpPostDec:
		return true
	}
	return op >= OpAssign && op <= OpAndAssign
}

package vm

import "math"

// ---------------------------------------------------------------------------
// Operator overloading
// ---------------------------------------------------------------------------

// overloaded redirects the operator to "operator<symbol>" when its first
// operand is an object. handled is true when the method call was started.
// Without an accessible overload, operators marked fallback keep their
// primitive meaning and the rest fail.
func overloaded(c *Call, op Opcode) (handled bool, err error) {
	info := &opTable[op]
	if info.overload == "" || c.arity == 0 || c.Arg(0).DataType()&TypeObj == 0 {
		return false, nil
	}
	p := c.prg
	recv := c.Arg(0)
	id := uint32(recv.Number())
	if cls, ok := p.env.objects.Class(id); ok {
		if k, ok := p.classes[cls]; ok {
			method := "operator" + info.overload
			if k.Locate(method, c.arity-1, p.callerVisibility(cls)) != nil {
				return true, p.methodCall(c, callTarget{name: method, object: true}, c.Args())
			}
		}
	}
	if info.fallback {
		return false, nil
	}
	return false, errorf("No overloaded operator %s found!", info.overload)
}

// arith wraps a numeric operator with overload dispatch.
func arith(op Opcode, fn func(a, b float64) float64) Operation {
	return func(c *Call) error {
		if done, err := overloaded(c, op); done || err != nil {
			return err
		}
		c.Return(NumberCell(fn(c.Arg(0).Number(), c.Arg(1).Number())))
		return nil
	}
}

func truncate(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(int32(f))
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// bothNumeric reports whether a binary operation takes its numeric form.
func bothNumeric(c *Call) bool {
	return c.Arg(0).DataType()&TypeNum != 0 && c.Arg(1).DataType()&TypeNum != 0
}

// ---------------------------------------------------------------------------
// Arithmetic, bitwise, logical, comparison
// ---------------------------------------------------------------------------

// a + b adds numbers and concatenates anything else.
func opAdd(c *Call) error {
	if done, err := overloaded(c, OpAdd); done || err != nil {
		return err
	}
	if bothNumeric(c) {
		c.Return(NumberCell(c.Arg(0).Number() + c.Arg(1).Number()))
	} else {
		c.Return(TextCell(c.Arg(0).Text() + c.Arg(1).Text()))
	}
	return nil
}

var (
	opSub = arith(OpSub, func(a, b float64) float64 { return a - b })
	opMul = arith(OpMul, func(a, b float64) float64 { return a * b })
	opDiv = arith(OpDiv, func(a, b float64) float64 { return a / b })
	opPow = arith(OpPow, math.Pow)

	opBitOr  = arith(OpBitOr, func(a, b float64) float64 { return float64(truncate(a) | truncate(b)) })
	opBitAnd = arith(OpBitAnd, func(a, b float64) float64 { return float64(truncate(a) & truncate(b)) })
	opBitXor = arith(OpBitXor, func(a, b float64) float64 { return float64(truncate(a) ^ truncate(b)) })
	opShl    = arith(OpShl, shiftLeft)
	opShr    = arith(OpShr, shiftRight)

	opOr  = arith(OpOr, func(a, b float64) float64 { return boolNum(a != 0 || b != 0) })
	opAnd = arith(OpAnd, func(a, b float64) float64 { return boolNum(a != 0 && b != 0) })

	opGe = arith(OpGe, func(a, b float64) float64 { return boolNum(a >= b) })
	opLe = arith(OpLe, func(a, b float64) float64 { return boolNum(a <= b) })
	opGt = arith(OpGt, func(a, b float64) float64 { return boolNum(a > b) })
	opLt = arith(OpLt, func(a, b float64) float64 { return boolNum(a < b) })
)

// a % b is integer remainder. A zero divisor is an error rather than a trap.
func opMod(c *Call) error {
	if done, err := overloaded(c, OpMod); done || err != nil {
		return err
	}
	v, err := modulo(c.Arg(0).Number(), c.Arg(1).Number())
	if err != nil {
		return err
	}
	c.Return(NumberCell(v))
	return nil
}

func modulo(a, b float64) (float64, error) {
	d := truncate(b)
	if d == 0 {
		return 0, errorf("Division by zero.")
	}
	return float64(truncate(a) % d), nil
}

func shiftLeft(a, b float64) float64 {
	s := truncate(b)
	if s < 0 || s > 31 {
		return 0
	}
	return float64(int32(truncate(a) << s))
}

func shiftRight(a, b float64) float64 {
	s := truncate(b)
	if s < 0 || s > 31 {
		return 0
	}
	return float64(int32(truncate(a)) >> s)
}

// equal compares numerically when both operands are numbers and otherwise
// as text. Objects without an overload compare by id.
func equal(c *Call) bool {
	if bothNumeric(c) {
		return c.Arg(0).Number() == c.Arg(1).Number()
	}
	return c.Arg(0).Text() == c.Arg(1).Text()
}

func opEq(c *Call) error {
	if done, err := overloaded(c, OpEq); done || err != nil {
		return err
	}
	c.Return(NumberCell(boolNum(equal(c))))
	return nil
}

func opNe(c *Call) error {
	if done, err := overloaded(c, OpNe); done || err != nil {
		return err
	}
	c.Return(NumberCell(boolNum(!equal(c))))
	return nil
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

// target returns the variable named by operand 0 and sets the result to an
// identifier naming it, so assignments chain.
func target(c *Call) (*Cell, error) {
	dst := c.Arg(0)
	if dst.Tag&TypeID == 0 {
		return nil, errorf("Cannot assign to %s.", dst.Text())
	}
	name := dst.Lit
	c.Return(c.prg.IDCell(name))
	return c.prg.Resolve(name), nil
}

// a = b
func opAssign(c *Call) error {
	if done, err := overloaded(c, OpAssign); done || err != nil {
		return err
	}
	v := c.Arg(1).Resolved()
	v.prg = c.prg
	dst, err := target(c)
	if err != nil {
		return err
	}
	dst.Assign(v)
	return nil
}

// compoundAssign builds a op= b from the binary operator op.
func compoundAssign(op Opcode) Operation {
	self := op + (OpAddAssign - OpAdd)
	return func(c *Call) error {
		if done, err := overloaded(c, self); done || err != nil {
			return err
		}
		a, b := c.Arg(0).Number(), c.Arg(1).Number()
		var v Cell
		switch op {
		case OpAdd:
			if bothNumeric(c) {
				v = NumberCell(a + b)
			} else {
				v = TextCell(c.Arg(0).Text() + c.Arg(1).Text())
			}
		case OpSub:
			v = NumberCell(a - b)
		case OpMul:
			v = NumberCell(a * b)
		case OpDiv:
			v = NumberCell(a / b)
		case OpPow:
			v = NumberCell(math.Pow(a, b))
		case OpMod:
			n, err := modulo(a, b)
			if err != nil {
				return err
			}
			v = NumberCell(n)
		case OpBitOr:
			v = NumberCell(float64(truncate(a) | truncate(b)))
		case OpBitAnd:
			v = NumberCell(float64(truncate(a) & truncate(b)))
		case OpBitXor:
			v = NumberCell(float64(truncate(a) ^ truncate(b)))
		case OpShl:
			v = NumberCell(shiftLeft(a, b))
		case OpShr:
			v = NumberCell(shiftRight(a, b))
		case OpOr:
			v = NumberCell(boolNum(a != 0 || b != 0))
		case OpAnd:
			v = NumberCell(boolNum(a != 0 && b != 0))
		}
		dst, err := target(c)
		if err != nil {
			return err
		}
		dst.Assign(v)
		return nil
	}
}

func increment(c *Call, op Opcode, delta float64, post bool) error {
	if done, err := overloaded(c, op); done || err != nil {
		return err
	}
	old := c.Arg(0).Number()
	dst, err := target(c)
	if err != nil {
		return err
	}
	dst.Assign(NumberCell(old + delta))
	if post {
		c.Return(NumberCell(old))
	}
	return nil
}

func opPreInc(c *Call) error  { return increment(c, OpPreInc, 1, false) }
func opPostInc(c *Call) error { return increment(c, OpPostInc, 1, true) }
func opPreDec(c *Call) error  { return increment(c, OpPreDec, -1, false) }
func opPostDec(c *Call) error { return increment(c, OpPostDec, -1, true) }

// ---------------------------------------------------------------------------
// Unary and structural
// ---------------------------------------------------------------------------

func opNeg(c *Call) error {
	if done, err := overloaded(c, OpNeg); done || err != nil {
		return err
	}
	c.Return(NumberCell(-c.Arg(0).Number()))
	return nil
}

func opNot(c *Call) error {
	if done, err := overloaded(c, OpNot); done || err != nil {
		return err
	}
	c.Return(NumberCell(boolNum(c.Arg(0).Number() == 0)))
	return nil
}

func opBitNot(c *Call) error {
	if done, err := overloaded(c, OpBitNot); done || err != nil {
		return err
	}
	c.Return(NumberCell(float64(^truncate(c.Arg(0).Number()))))
	return nil
}

// cond ? a : b
func opTernary(c *Call) error {
	if c.Arg(0).Number() != 0 {
		c.Return(c.Arg(1).Resolved())
	} else {
		c.Return(c.Arg(2).Resolved())
	}
	return nil
}

// base[key] names an array element. Elements of an instance variable live
// under the member's heap key.
func opIndex(c *Call) error {
	if done, err := overloaded(c, OpIndex); done || err != nil {
		return err
	}
	base := c.Arg(0).Lit
	if key, ok := c.prg.instanceKey(base); ok {
		base = ":" + key
	}
	c.Return(c.prg.IDCell(ElementKey(base, c.Arg(1).Text())))
	return nil
}

// obj->member names an instance variable of obj.
func opMember(c *Call) error {
	p := c.prg
	obj := c.Arg(0)
	id := uint32(obj.Number())
	clsName, live := p.env.objects.Class(id)
	if obj.DataType()&TypeObj == 0 || !live {
		return errorf("Invalid object.")
	}
	cls, ok := p.classes[clsName]
	if !ok {
		return errorf("Could not find class %s.", clsName)
	}
	mem := c.Arg(1).Lit
	if !cls.MemberExists(mem, p.callerVisibility(clsName)) {
		return errorf("Class %s has no accessible %s member.", clsName, mem)
	}
	c.Return(p.IDCell(":" + MemberKey(id, mem)))
	return nil
}

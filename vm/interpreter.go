package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Call: the activation handed to an operation
// ---------------------------------------------------------------------------

// Call gives an operation access to its operands and result slot. Operands
// are the Arity cells that preceded the instruction on the operand stack.
type Call struct {
	prg   *Program
	ins   *Instruction
	level int
	base  int
	arity int

	consumed bool // the operation already removed its operands
}

// Program returns the running program.
func (c *Call) Program() *Program { return c.prg }

// Env returns the program's environment.
func (c *Call) Env() *Env { return c.prg.env }

// Instruction returns the instruction being executed.
func (c *Call) Instruction() *Instruction { return c.ins }

// Arity returns the number of operands.
func (c *Call) Arity() int { return c.arity }

// Arg returns operand i.
func (c *Call) Arg(i int) *Cell {
	return &c.prg.stacks[c.level][c.base+i]
}

// Args returns copies of all operands.
func (c *Call) Args() []Cell {
	return append([]Cell(nil), c.prg.stacks[c.level][c.base:c.base+c.arity]...)
}

// Ret returns the result slot.
func (c *Call) Ret() *Cell {
	return &c.prg.stacks[c.level][c.base+c.arity]
}

// Return stores v as the result.
func (c *Call) Return(v Cell) {
	*c.Ret() = v
}

// WantsResult reports whether the instruction's value is used, i.e. it is
// not the last thing on its line.
func (c *Call) WantsResult() bool {
	return c.ins.Tag&TypeLine == 0
}

// RunNested runs child to completion on the calling goroutine. Builtins use
// it to run another program while the step lock is already held.
func (c *Call) RunNested(child *Program) (Cell, error) {
	return child.runLocked()
}

// consume removes the operands from their level, leaving the result slot
// on top.
func (c *Call) consume() {
	if c.consumed {
		return
	}
	c.consumed = true
	s := c.prg.stacks[c.level]
	c.prg.stacks[c.level] = append(s[:c.base], s[c.base+c.arity:]...)
}

// ---------------------------------------------------------------------------
// Execution loop
// ---------------------------------------------------------------------------

// Run executes from the current position to the end of the stream and
// returns the program's result: the value of a top-level return, or else
// whatever is left on the top-level operand stack. Script errors are routed
// through the handler machinery; a fault stops the run and is returned.
func (p *Program) Run() (Cell, error) {
	p.result = nil
	for p.pos < len(p.code) {
		if err := p.Step(); err != nil {
			p.env.Report(fmt.Sprintf("%s\nNear line %d: %v", p.file, p.LineOf(p.pos), err))
			return UnsetCell(), err
		}
	}
	return p.Result(), nil
}

// runLocked is Run for callers that already hold the step lock.
func (p *Program) runLocked() (Cell, error) {
	p.result = nil
	for p.pos < len(p.code) {
		if err := p.step(); err != nil {
			return UnsetCell(), err
		}
	}
	return p.Result(), nil
}

// Result returns the value the program produced.
func (p *Program) Result() Cell {
	if p.result != nil {
		return *p.result
	}
	if s := p.stacks[0]; len(s) > 0 {
		return s[len(s)-1].Resolved()
	}
	return UnsetCell()
}

// Step executes one instruction under the environment lock. An attached
// debugger sees the instruction first, outside the lock, so its observer
// may block.
func (p *Program) Step() error {
	if p.debugger != nil && p.pos >= 0 && p.pos < len(p.code) {
		p.debugger.update(p, &p.code[p.pos])
	}
	p.env.mu.Lock()
	defer p.env.mu.Unlock()
	return p.step()
}

func (p *Program) step() (err error) {
	if p.pos < 0 || p.pos >= len(p.code) {
		return p.fault(ErrBadPosition)
	}
	defer func() {
		if r := recover(); r != nil {
			err = p.fault(fmt.Errorf("%v", r))
		}
	}()

	if err := p.execute(&p.code[p.pos]); err != nil {
		var fault *FaultError
		if errors.As(err, &fault) {
			return err
		}
		p.handleError(err)
	}
	p.pos++
	return nil
}

// execute runs one instruction. Operands are cleaned up and the line
// boundary honoured even when the operation fails, so a swallowed error
// leaves no residue.
func (p *Program) execute(ins *Instruction) error {
	var opErr error
	switch {
	case ins.Tag&TypeFunc != 0:
		s := p.stack()
		if len(*s) < ins.Arity {
			return p.fault(fmt.Errorf("%w: %s needs %d operands, have %d", ErrStackUnderflow, ins, ins.Arity, len(*s)))
		}
		*s = append(*s, Cell{Tag: TypeNum | TypeUnset, prg: p})
		call := &Call{
			prg:   p,
			ins:   ins,
			level: p.sidx,
			base:  len(*s) - 1 - ins.Arity,
			arity: ins.Arity,
		}
		opErr = p.operation(ins)(call)
		call.consume()

	case ins.Tag&TypeClose != 0:
		handled, err := p.closeBlock(ins)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}

	case ins.Tag&(TypeOpen|TypeLabel) == 0:
		p.push(ins.cell(p))
	}

	if ins.Tag&TypeLine != 0 {
		*p.stack() = (*p.stack())[:0]
	}
	return opErr
}

// operation returns the implementation of a callable instruction.
func (p *Program) operation(ins *Instruction) Operation {
	if ins.Op == OpBuiltin {
		if ins.builtin != nil {
			return ins.builtin
		}
		if fn, ok := p.env.Function(ins.Lit); ok {
			ins.builtin = fn
			return fn
		}
	}
	if ins.Op < opCount && opTable[ins.Op].fn != nil {
		return opTable[ins.Op].fn
	}
	return opNop
}

// closeBlock handles a CLOSE instruction. handled is true when the normal
// line-boundary clearing must be skipped because a method returned a value
// into its caller's level.
func (p *Program) closeBlock(ins *Instruction) (handled bool, err error) {
	open, retest, ok := ins.Value.Offsets()
	if !ok {
		return false, p.fault(fmt.Errorf("%w: unmatched close", ErrBadJump))
	}
	if open <= 0 || open >= len(p.code) {
		return false, nil
	}
	head := &p.code[open-1]
	if head.Tag&TypeFunc == 0 {
		return false, nil
	}
	switch {
	case head.Op == OpMethod:
		return p.returnToCaller(), nil
	case head.Op.isLoop():
		p.pos = retest - 1
	case head.Op == OpIf || head.Op == OpElseIf:
		// A taken branch skips any elseif blocks chained after it.
		for i := p.pos + 1; i < len(p.code); i++ {
			next := &p.code[i]
			if next.Tag&TypeFunc == 0 || next.Tag&TypeLine == 0 {
				continue
			}
			if next.Op == OpElseIf && i+1 < len(p.code) {
				close, ok := p.code[i+1].jumpTarget()
				if !ok {
					return false, p.fault(fmt.Errorf("%w: elseif without block", ErrBadJump))
				}
				p.pos = close - 1
			}
			break
		}
	}
	return false, nil
}

// returnToCaller pops the top frame at its closing brace. It reports
// whether the caller consumes a value, in which case the caller's level
// must survive the brace's line boundary.
func (p *Program) returnToCaller() bool {
	fr := p.topFrame()
	if fr == nil {
		return false
	}
	p.calls = p.calls[:len(p.calls)-1]
	p.stacks = p.stacks[:len(p.stacks)-1]
	p.sidx = len(p.stacks) - 1
	p.locals = p.locals[:len(p.locals)-1]
	p.pos = fr.Return

	if fr.Release && fr.Object != 0 && p.env.objects.Exists(fr.Object) {
		p.env.FreeObject(fr.Object)
	}
	return fr.WantsReturn
}

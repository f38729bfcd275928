package vm

import "fmt"

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// Every block statement is laid out as
//
//	<condition operands> <head FUNC|LINE> { ... }
//
// so the head's block OPEN sits at pos+1 and carries the offset of the
// matching CLOSE. Setting pos to an offset resumes execution one past it.

// blockClose returns the close offset of the block that follows the
// instruction at pos.
func (p *Program) blockClose(pos int) (int, error) {
	if pos+1 >= len(p.code) {
		return 0, p.fault(fmt.Errorf("%w: block head at end of stream", ErrBadJump))
	}
	close, ok := p.code[pos+1].jumpTarget()
	if !ok || close <= pos || close >= len(p.code) {
		return 0, p.fault(fmt.Errorf("%w: block at %d", ErrBadJump, pos+1))
	}
	return close, nil
}

// if(cond) and elseif(cond). A false condition skips the block and, when an
// else follows it, the else marker too so the else body runs.
func opConditional(c *Call) error {
	if c.Arg(0).Number() != 0 {
		return nil
	}
	p := c.prg
	close, err := p.blockClose(p.pos)
	if err != nil {
		return err
	}
	if close+1 < len(p.code) && p.code[close+1].isFunc(OpElse) {
		p.pos = close + 1
		return nil
	}
	p.pos = close
	return nil
}

// else, method and class markers skip their block when reached in sequence.
func opSkipBlock(c *Call) error {
	close, err := c.prg.blockClose(c.prg.pos)
	if err != nil {
		return err
	}
	c.prg.pos = close
	return nil
}

// while(cond) and for(cond) leave the loop when the condition is false.
func opWhile(c *Call) error {
	if c.Arg(0).Number() != 0 {
		return nil
	}
	return opSkipBlock(c)
}

// until(cond) leaves the loop when the condition is true.
func opUntil(c *Call) error {
	if c.Arg(0).Number() == 0 {
		return nil
	}
	return opSkipBlock(c)
}

func opNop(c *Call) error {
	return nil
}

// kill(var) frees a variable.
func opKill(c *Call) error {
	for i := 0; i < c.arity; i++ {
		c.prg.FreeVariable(c.Arg(i).Lit)
	}
	return nil
}

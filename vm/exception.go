package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Severity ranks script errors. Lower is more severe; an error is reported
// when the environment's DebugLevel is at least its severity.
type Severity int

const (
	SeverityError   Severity = 1
	SeverityWarning Severity = 2
)

// ResumeNext is the handler label that swallows errors.
const ResumeNext = " "

var (
	ErrStackUnderflow = errors.New("operand stack underflow")
	ErrBadPosition    = errors.New("instruction position out of range")
	ErrBadJump        = errors.New("corrupt jump target")
	ErrNoLoader       = errors.New("no program loader configured")
)

// ScriptError is a recoverable runtime error raised by script code.
type ScriptError struct {
	Message  string
	Severity Severity
}

func (e *ScriptError) Error() string {
	return e.Message
}

// errorf builds an error-severity ScriptError.
func errorf(format string, args ...any) *ScriptError {
	return &ScriptError{Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

// Warningf builds a warning-severity ScriptError. Builtins use it for
// conditions that should not be reported at the errors-only level.
func Warningf(format string, args ...any) *ScriptError {
	return &ScriptError{Message: fmt.Sprintf(format, args...), Severity: SeverityWarning}
}

// Errorf builds an error-severity ScriptError for host builtins.
func Errorf(format string, args ...any) *ScriptError {
	return errorf(format, args...)
}

// FaultError is a structural failure. It ends the program's run.
type FaultError struct {
	File string
	Pos  int
	Err  error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: fault at instruction %d: %v", e.File, e.Pos, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

func (p *Program) fault(err error) *FaultError {
	return &FaultError{File: p.file, Pos: p.pos, Err: err}
}

// ---------------------------------------------------------------------------
// Handler dispatch
// ---------------------------------------------------------------------------

// handleError routes a script error to the current frame's handler or, with
// no handler, to the diagnostics sink.
func (p *Program) handleError(err error) {
	var se *ScriptError
	if !errors.As(err, &se) {
		se = &ScriptError{Message: err.Error(), Severity: SeverityError}
	}

	if fr := p.topFrame(); fr != nil && fr.ErrorHandler != "" {
		if fr.ErrorHandler == ResumeNext {
			return
		}
		fr.ErrorReturn = p.nextLineBoundary(p.pos)
		label := fr.ErrorHandler
		if p.jump(label) {
			return
		}
		// Clearing the handler makes the report below terminal.
		fr.ErrorHandler = ""
		p.handleError(errorf("An error occurred, but the handler could not be invoked because label \"%s\" was not found.", label))
		return
	}

	if int(p.env.DebugLevel) < int(se.Severity) {
		return
	}
	p.env.Report(fmt.Sprintf("%s\nNear line %d: %s", p.file, p.LineOf(p.pos), se.Message))
}

// nextLineBoundary returns the offset of the first statement boundary at or
// after pos.
func (p *Program) nextLineBoundary(pos int) int {
	for i := pos; i < len(p.code); i++ {
		if p.code[i].Tag&TypeLine != 0 {
			return i
		}
	}
	return len(p.code) - 1
}

// jump moves execution to just after label. Labels match case-insensitively.
func (p *Program) jump(label string) bool {
	for i := range p.code {
		ins := &p.code[i]
		if ins.Tag&TypeLabel != 0 && ins.Tag&TypeLine != 0 && strings.EqualFold(ins.Lit, label) {
			p.pos = i
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Error-handling operations
// ---------------------------------------------------------------------------

// onError(label) installs a handler on the current frame.
func opOnError(c *Call) error {
	fr := c.prg.topFrame()
	if fr == nil {
		return errorf("An error handler cannot be set outside of a function.")
	}
	label := c.Arg(0).Lit
	if c.Arg(0).Tag&TypeID == 0 && c.Arg(0).Tag&TypeLit == 0 {
		label = c.Arg(0).Text()
	}
	fr.ErrorHandler = label
	return nil
}

// resume() returns to the statement after the one that failed.
func opResume(c *Call) error {
	fr := c.prg.topFrame()
	if fr == nil {
		return errorf("Invalid outside functions.")
	}
	if fr.ErrorReturn < 0 {
		return errorf("An error handler has not been invoked.")
	}
	c.prg.pos = fr.ErrorReturn
	fr.ErrorReturn = -1
	return nil
}

// goto(label)
func opGoto(c *Call) error {
	label := c.Arg(0).Lit
	if !c.prg.jump(label) {
		return errorf("Could not find label \"%s\".", label)
	}
	return nil
}

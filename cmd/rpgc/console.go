package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chazu/rpgcode/vm"
)

// console is a line-oriented stepping debugger on a terminal. It
// implements vm.Observer; the scheduler goroutine blocks in OnStep while
// the user types commands.
type console struct {
	in  *bufio.Scanner
	out io.Writer
	bps *vm.Breakpoints
}

func newConsole(in io.Reader, out io.Writer, bps *vm.Breakpoints) *console {
	return &console{in: bufio.NewScanner(in), out: out, bps: bps}
}

const consoleHelp = `commands:
  s, step          step into
  n, next          step over
  o, out           step out
  c, continue      run to the next breakpoint
  to [file:]line   run to a line
  b [file:]line    toggle a breakpoint
  bl               list breakpoints
  p name           print a variable
  w name           watch a variable
  find prefix      list matching variable names
  bt               show the call stack
  dump             dump every variable as YAML
`

func (c *console) Display(p *vm.Program, ins *vm.Instruction) {
	pos := p.Position()
	fmt.Fprintf(c.out, "%s:%d  [%d] %s\n", p.File(), p.LineOf(pos), pos, ins)
	if d := p.Debugger(); d != nil {
		insp := vm.NewInspector(p)
		for _, w := range d.Watches() {
			fmt.Fprintf(c.out, "  %s = %s\n", w, insp.Format(w))
		}
	}
}

func (c *console) OnStep(p *vm.Program, ins *vm.Instruction) vm.StepRequest {
	for {
		fmt.Fprint(c.out, "(rpgc) ")
		if !c.in.Scan() {
			// Input closed: let the program run on.
			return vm.StepRequest{Action: vm.StepNone}
		}
		req, done := c.command(p, strings.TrimSpace(c.in.Text()))
		if done {
			return req
		}
	}
}

// command runs one console command. done is true when the command resumes
// execution.
func (c *console) command(p *vm.Program, line string) (vm.StepRequest, bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	insp := vm.NewInspector(p)

	switch cmd {
	case "", "s", "step":
		return vm.StepRequest{Action: vm.StepInto}, true
	case "n", "next":
		return vm.StepRequest{Action: vm.StepOver}, true
	case "o", "out":
		return vm.StepRequest{Action: vm.StepOut}, true
	case "c", "continue":
		return vm.StepRequest{Action: vm.StepNone}, true
	case "to":
		file, line, err := parseLocation(arg, p.File())
		if err != nil {
			fmt.Fprintln(c.out, err)
			return vm.StepRequest{}, false
		}
		return vm.StepRequest{Action: vm.StepTo, File: file, Line: line}, true
	case "b":
		file, line, err := parseLocation(arg, p.File())
		if err != nil {
			fmt.Fprintln(c.out, err)
			break
		}
		if c.bps.Toggle(file, line) {
			fmt.Fprintf(c.out, "breakpoint set at %s:%d\n", file, line)
		} else {
			fmt.Fprintf(c.out, "breakpoint removed at %s:%d\n", file, line)
		}
	case "bl":
		for _, bp := range c.bps.List() {
			state := "on"
			if !bp.Active {
				state = "off"
			}
			fmt.Fprintf(c.out, "  %s:%d %s\n", bp.File, bp.Line, state)
		}
	case "p":
		fmt.Fprintf(c.out, "%s = %s\n", arg, insp.Format(arg))
	case "w":
		if d := p.Debugger(); d != nil && arg != "" {
			d.Watch(arg)
		}
	case "find":
		fmt.Fprintln(c.out, strings.Join(insp.Search(arg, 20), " "))
	case "bt":
		for _, fr := range insp.Stack() {
			fmt.Fprintf(c.out, "  #%d %s at %s:%d\n", fr.Depth, fr.Method, fr.File, fr.Line)
		}
	case "dump":
		if err := insp.Dump(c.out); err != nil {
			fmt.Fprintln(c.out, err)
		}
	case "h", "help", "?":
		fmt.Fprint(c.out, consoleHelp)
	default:
		fmt.Fprintf(c.out, "unknown command %q (try help)\n", cmd)
	}
	return vm.StepRequest{}, false
}

// parseLocation reads "line" or "file:line".
func parseLocation(s, defaultFile string) (string, int, error) {
	file := defaultFile
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		file, s = s[:i], s[i+1:]
	}
	line, err := strconv.Atoi(s)
	if err != nil || line < 1 {
		return "", 0, fmt.Errorf("bad line number %q", s)
	}
	return file, line, nil
}

package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Method calls
// ---------------------------------------------------------------------------

// callTarget names the method a call dispatches to. Free calls carry the
// entry resolved at link time; object calls are located on the receiver's
// class at run time.
type callTarget struct {
	name     string
	object   bool
	resolved bool
	entry    int
	byref    uint32
}

// descriptor returns the call descriptor preceding the call instruction.
func (p *Program) descriptor() (*Instruction, error) {
	if p.pos < 1 {
		return nil, p.fault(fmt.Errorf("%w: call without descriptor", ErrBadJump))
	}
	return &p.code[p.pos-1], nil
}

// targetOf decodes a descriptor instruction.
func targetOf(d *Instruction) callTarget {
	t := callTarget{name: d.Lit, object: d.Tag&TypeObj != 0}
	if entry, byref, ok := d.Value.Offsets(); ok {
		t.resolved = true
		t.entry = entry
		t.byref = uint32(byref)
	}
	return t
}

// call(args..., descriptor) and obj->method(args..., descriptor).
func opMethodCall(c *Call) error {
	d, err := c.prg.descriptor()
	if err != nil {
		return err
	}
	args := c.Args()
	args = args[:len(args)-1]
	t := targetOf(d)
	if !t.object {
		// Inside a method, a bare call to a method of the bound object's
		// class is an implicit this->call.
		if fr := c.prg.topFrame(); fr != nil && fr.Object != 0 {
			if cls, err := c.prg.classOf(fr.Object); err == nil && cls.Locate(t.name, len(args), Private) != nil {
				t.object = true
				args = append([]Cell{ObjectCell(fr.Object)}, args...)
			}
		}
	}
	return c.prg.methodCall(c, t, args)
}

// methodCall performs the call protocol. For object calls args[0] is the
// receiver. Parameter slots count from the last argument, which is slot 1.
func (p *Program) methodCall(c *Call, t callTarget, args []Cell) error {
	fr := &CallFrame{ErrorReturn: -1, retSlot: -1, Method: t.name, Refs: make(map[int]Reference)}
	scope := NewVars()
	first := 0
	var ctorResult *Cell

	if t.object {
		recv := args[0]
		typ := recv.DataType()
		id := uint32(recv.Number())
		clsName, live := p.env.objects.Class(id)
		if typ&TypeObj == 0 || typ&TypeNum == 0 || !live {
			what := recv.Lit
			if what == "" {
				what = recv.Text()
			}
			return errorf("%s is an invalid object.", what)
		}
		cls, ok := p.classes[clsName]
		if !ok {
			return errorf("Could not find class %s.", clsName)
		}

		name := t.name
		release := strings.EqualFold(name, "release")
		if release {
			name = "~" + cls.Name
		}
		arity := len(args) - 1
		m := cls.Locate(name, arity, p.callerVisibility(cls.Name))
		if m == nil {
			if release {
				p.env.FreeObject(id)
				return nil
			}
			return errorf("Class %s has no accessible %s method with a parameter count of %d.", cls.Name, name, arity)
		}
		if m.Entry == noEntry {
			return errorf("Method %s::%s has no body.", cls.Name, name)
		}
		if name == cls.Name {
			v := recv.Resolved()
			ctorResult = &v
		}

		t.entry, t.byref = m.Entry, m.ByRef
		scope.Set("this", ObjectCell(id))
		fr.Object = id
		fr.Release = release
		fr.Method = cls.Name + "::" + m.Name
		first = 1
	} else if !t.resolved {
		msg := "Could not find method " + t.name + "."
		if p.findMethod(t.name, -1) >= 0 {
			msg += " Did you forget a parameter?"
		}
		return errorf("%s", msg)
	}

	n := len(args)
	for i := first; i < n; i++ {
		slot := n - i
		arg := args[i]
		if t.byref&(1<<(slot-1)) != 0 && arg.Tag&TypeID != 0 {
			fr.Refs[slot] = p.referenceTo(arg.Lit)
			continue
		}
		scope.Set(paramSlotName(slot), arg.Resolved())
	}

	if t.entry < 0 || t.entry >= len(p.code) {
		return p.fault(fmt.Errorf("%w: entry %d of %s", ErrBadJump, t.entry, t.name))
	}
	end, ok := p.code[t.entry].jumpTarget()
	if !ok {
		return p.fault(fmt.Errorf("%w: %s has no body block", ErrBadJump, t.name))
	}
	fr.Return = p.pos
	fr.End = end

	c.consume()
	caller := p.stack()
	slot := len(*caller) - 1
	switch {
	case ctorResult != nil:
		(*caller)[slot] = *ctorResult
		fr.WantsReturn = true
	case c.ins.Tag&TypeLine != 0:
		fr.WantsReturn = false
	default:
		fr.WantsReturn = true
		fr.retSlot = slot
		(*caller)[slot] = Cell{Tag: TypeNum | TypeUnset, prg: p}
	}

	p.locals = append(p.locals, scope)
	p.stacks = append(p.stacks, nil)
	p.sidx = len(p.stacks) - 1
	p.calls = append(p.calls, fr)
	p.pos = t.entry
	return nil
}

// referenceTo resolves a by-reference argument to the descriptor of the
// cell it names right now. A parameter that is itself a reference passes
// its own target through.
func (p *Program) referenceTo(name string) Reference {
	if slot, ok := paramSlot(name); ok {
		if fr := p.topFrame(); fr != nil {
			if ref, ok := fr.Refs[slot]; ok {
				return ref
			}
		}
	}
	_, ref := p.resolveRef(name)
	return ref
}

// returnFromMethod stores v in the caller's result slot and jumps to the
// method's closing brace. At top level it ends the program with v as its
// result.
func (p *Program) returnFromMethod(v Cell) {
	fr := p.topFrame()
	if fr == nil {
		p.result = &v
		p.pos = len(p.code) - 1
		return
	}
	if fr.retSlot >= 0 {
		level := p.stacks[len(p.calls)-1]
		if fr.retSlot < len(level) {
			level[fr.retSlot] = v
		}
	}
	p.pos = fr.End - 1
}

// return(value)
func opReturn(c *Call) error {
	c.prg.returnFromMethod(c.Arg(0).Resolved())
	return nil
}

// returnReference(var) returns the variable itself rather than its value.
func opReturnReference(c *Call) error {
	ref := *c.Arg(0)
	if key, ok := c.prg.instanceKey(ref.Lit); ok {
		ref.Lit = ":" + key
	}
	c.prg.returnFromMethod(ref)
	return nil
}

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

// new(args..., class) allocates an object and runs its constructor.
func opNew(c *Call) error {
	p := c.prg
	args := c.Args()
	name := args[len(args)-1].Lit
	ctorArgs := args[:len(args)-1]
	cls, ok := p.classes[name]
	if !ok {
		return errorf("Could not find class %s.", name)
	}

	vis := Public
	if fr := p.topFrame(); fr != nil && fr.Object != 0 {
		if owner, ok := p.env.objects.Class(fr.Object); ok && owner == cls.Name {
			vis = Private
		}
	}
	ctor := cls.Locate(cls.Name, len(ctorArgs), vis)
	if ctor == nil && len(ctorArgs) > 0 {
		return errorf("No accessible constructor for %s has a parameter count of %d.", cls.Name, len(ctorArgs))
	}

	id := p.env.objects.Allocate(cls.Name)
	obj := ObjectCell(id)
	obj.prg = p
	if ctor == nil {
		c.Return(obj)
		return nil
	}
	callArgs := append([]Cell{obj}, ctorArgs...)
	return p.methodCall(c, callTarget{name: cls.Name, object: true}, callArgs)
}

// releaseObj() purges the object bound to the current frame.
func opReleaseObj(c *Call) error {
	fr := c.prg.topFrame()
	if fr == nil || fr.Object == 0 {
		return errorf("releaseObj is only valid inside a method.")
	}
	if c.prg.env.objects.Exists(fr.Object) {
		c.prg.env.FreeObject(fr.Object)
	}
	return nil
}

// verifyType(param, class) checks that param holds an object of class or
// of one of its subclasses.
func opVerifyType(c *Call) error {
	p := c.prg
	want := c.Arg(1).Lit
	if _, ok := p.classes[want]; !ok {
		return errorf("Could not find class referenced in parameter list: %s", want)
	}
	v := p.Resolve(c.Arg(0).Lit).Resolved()
	if v.Tag&TypeObj == 0 {
		return errorf("The method requires a parameter of type %s.", want)
	}
	cls, err := p.classOf(uint32(v.Num))
	if err != nil {
		return err
	}
	if !cls.IsA(want) {
		return errorf("The method requires a parameter of type %s.", want)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Plugins and builtins
// ---------------------------------------------------------------------------

// plugin(args..., descriptor) marshals the call to an external plugin.
func opPluginCall(c *Call) error {
	p := c.prg
	args := c.Args()
	d := args[len(args)-1]
	idx := int(d.Num)
	if idx < 0 || idx >= len(p.env.plugins) {
		return errorf("Plugin for %s is not loaded.", d.Lit)
	}
	line := PluginCallLine(d.Lit, args[:len(args)-1])
	res, err := p.env.plugins[idx].Execute(line, c.WantsResult())
	if err != nil {
		return errorf("%s: %v", d.Lit, err)
	}
	if res.Type&(TypeNum|TypeLit) != 0 {
		c.Return(res.cell())
	}
	return nil
}

// builtin(args...) reached without a bound implementation.
func opBuiltin(c *Call) error {
	return errorf("Unknown function %s.", c.ins.Lit)
}

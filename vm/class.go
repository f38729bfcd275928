package vm

import "strings"

// ---------------------------------------------------------------------------
// Classes and method descriptors
// ---------------------------------------------------------------------------

// Visibility controls who may see a member or method. A caller running a
// method of the same class sees Private; everyone else sees Public only.
type Visibility int

const (
	Private Visibility = iota
	Public
)

func (v Visibility) String() string {
	if v == Public {
		return "public"
	}
	return "private"
}

// noEntry marks a method that was declared but has no body in the stream.
const noEntry = -1

// MethodDescriptor locates a method body in the instruction stream.
// Entry is the offset of the body's OPEN instruction. Bit k-1 of ByRef set
// means parameter slot k is passed by reference (slot 1 is the last
// argument).
type MethodDescriptor struct {
	Name   string
	Arity  int
	Entry  int
	ByRef  uint32
	Params []string // formal names in declaration order, for the debugger
}

// Member is a declared instance variable.
type Member struct {
	Name       string
	Visibility Visibility
}

// ClassMethod is a method declared on (or inherited by) a class.
type ClassMethod struct {
	MethodDescriptor
	Visibility Visibility
}

// Class is a user-defined class. After linking, Members and Methods include
// everything inherited, and Inherits lists every ancestor.
type Class struct {
	Name     string
	Members  []Member
	Methods  []ClassMethod
	Inherits []string
}

// Locate finds a method by name and arity that is visible at vis.
// Names compare case-insensitively.
func (c *Class) Locate(name string, arity int, vis Visibility) *ClassMethod {
	for i := range c.Methods {
		m := &c.Methods[i]
		if m.Arity == arity && m.Visibility >= vis && strings.EqualFold(m.Name, name) {
			return m
		}
	}
	return nil
}

// MemberExists reports whether name is a member visible at vis.
func (c *Class) MemberExists(name string, vis Visibility) bool {
	for _, m := range c.Members {
		if m.Visibility >= vis && strings.EqualFold(m.Name, name) {
			return true
		}
	}
	return false
}

// hasMethod reports whether a method with this name and arity is declared,
// at any visibility.
func (c *Class) hasMethod(name string, arity int) bool {
	return c.Locate(name, arity, Private) != nil
}

// hasMember reports whether a member with this name is declared.
func (c *Class) hasMember(name string) bool {
	return c.MemberExists(name, Private)
}

// Inherit copies base's members and methods that c does not already
// declare, then records base's ancestry. Direct declarations win.
func (c *Class) Inherit(base *Class) {
	for _, m := range base.Members {
		if !c.hasMember(m.Name) {
			c.Members = append(c.Members, m)
		}
	}
	for _, m := range base.Methods {
		if !c.hasMethod(m.Name, m.Arity) {
			c.Methods = append(c.Methods, m)
		}
	}
	for _, name := range base.Inherits {
		if !c.inherits(name) {
			c.Inherits = append(c.Inherits, name)
		}
	}
}

// inherits reports whether name is listed among c's ancestors.
func (c *Class) inherits(name string) bool {
	for _, n := range c.Inherits {
		if n == name {
			return true
		}
	}
	return false
}

// IsA reports whether c is class name or derives from it.
func (c *Class) IsA(name string) bool {
	return c.Name == name || c.inherits(name)
}

// clone deep-copies the class.
func (c *Class) clone() *Class {
	out := &Class{
		Name:     c.Name,
		Members:  append([]Member(nil), c.Members...),
		Methods:  make([]ClassMethod, len(c.Methods)),
		Inherits: append([]string(nil), c.Inherits...),
	}
	for i, m := range c.Methods {
		m.Params = append([]string(nil), m.Params...)
		out.Methods[i] = m
	}
	return out
}

// ---------------------------------------------------------------------------
// Inheritance flattening
// ---------------------------------------------------------------------------

// flattenClasses folds every class's ancestry into it, in declared order and
// transitively. Missing bases are reported through report and dropped.
func flattenClasses(classes map[string]*Class, order []string, report func(string)) {
	done := make(map[string]bool)
	var flatten func(c *Class, visiting map[string]bool)
	flatten = func(c *Class, visiting map[string]bool) {
		if done[c.Name] {
			return
		}
		visiting[c.Name] = true
		direct := c.Inherits
		c.Inherits = nil
		for _, name := range direct {
			base, ok := classes[name]
			if !ok {
				report("Could not find " + c.Name + "'s base class " + name + ".")
				continue
			}
			if visiting[name] {
				report("Class " + c.Name + " inherits from itself through " + name + ".")
				continue
			}
			flatten(base, visiting)
			if !c.inherits(name) {
				c.Inherits = append(c.Inherits, name)
			}
			c.Inherit(base)
		}
		delete(visiting, c.Name)
		done[c.Name] = true
	}
	for _, name := range order {
		flatten(classes[name], make(map[string]bool))
	}
}

package vm

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// DataType: type tags shared by instructions and cells
// ---------------------------------------------------------------------------

// DataType is the type-tag bitmask carried by instructions and cells.
type DataType uint16

const (
	TypeUnset  DataType = 1 << iota // no value assigned yet
	TypeNum                         // numeric payload
	TypeLit                         // literal text payload
	TypeID                          // identifier resolved through the owning program
	TypeFunc                        // callable instruction
	TypeOpen                        // block open
	TypeClose                       // block close
	TypeLine                        // statement boundary
	TypeObj                         // object reference (with TypeNum)
	TypeLabel                       // jump label
	TypePlugin                      // call descriptor bound to a plugin
)

var dataTypeNames = []struct {
	t    DataType
	name string
}{
	{TypeUnset, "UNSET"},
	{TypeNum, "NUM"},
	{TypeLit, "LIT"},
	{TypeID, "ID"},
	{TypeFunc, "FUNC"},
	{TypeOpen, "OPEN"},
	{TypeClose, "CLOSE"},
	{TypeLine, "LINE"},
	{TypeObj, "OBJ"},
	{TypeLabel, "LABEL"},
	{TypePlugin, "PLUGIN"},
}

// Has reports whether any bit of mask is set.
func (t DataType) Has(mask DataType) bool {
	return t&mask != 0
}

func (t DataType) String() string {
	if t == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range dataTypeNames {
		if t&n.t != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ---------------------------------------------------------------------------
// Cell: the tagged runtime value
// ---------------------------------------------------------------------------

// maxAliasDepth bounds identifier chains so a cell naming itself cannot hang
// the interpreter.
const maxAliasDepth = 64

// Cell is a runtime value. Identifier cells carry the program that resolves
// them; host cells delegate every accessor to a HostValue. Cells are values:
// copying one copies the tag and payload, never the storage it came from.
type Cell struct {
	Num float64
	Lit string
	Tag DataType

	prg  *Program
	host HostValue
}

// NumberCell returns a numeric cell.
func NumberCell(n float64) Cell {
	return Cell{Num: n, Tag: TypeNum}
}

// TextCell returns a literal cell.
func TextCell(s string) Cell {
	return Cell{Lit: s, Tag: TypeLit}
}

// ObjectCell returns a reference to object id.
func ObjectCell(id uint32) Cell {
	return Cell{Num: float64(id), Tag: TypeNum | TypeObj}
}

// UnsetCell returns the value of a variable that was never assigned.
func UnsetCell() Cell {
	return Cell{Tag: TypeNum | TypeUnset}
}

// IsHost reports whether the cell's accessors are supplied by the host.
func (c Cell) IsHost() bool {
	return c.host != nil
}

// Program returns the program that resolves this cell's identifiers.
func (c Cell) Program() *Program {
	return c.prg
}

// deref follows identifier cells until it reaches a concrete cell.
func (c Cell) deref() Cell {
	for i := 0; c.Tag&TypeID != 0 && c.prg != nil; i++ {
		if i == maxAliasDepth {
			return UnsetCell()
		}
		c = *c.prg.Resolve(c.Lit)
	}
	return c
}

// peek is deref through lookups that never create variables. A name with
// nothing behind it reads as unset.
func (c Cell) peek() Cell {
	for i := 0; c.Tag&TypeID != 0 && c.prg != nil; i++ {
		t, ok := c.prg.lookup(c.Lit)
		if !ok || i == maxAliasDepth {
			return UnsetCell()
		}
		c = *t
	}
	return c
}

// DataType returns the type of the value the cell stands for.
func (c Cell) DataType() DataType {
	c = c.deref()
	if c.host != nil {
		return c.host.Type()
	}
	return c.Tag
}

// Number returns the numeric value. Literals are parsed the way C's atof
// would: the longest numeric prefix, or 0.
func (c Cell) Number() float64 {
	c = c.deref()
	switch {
	case c.host != nil:
		return c.host.Number()
	case c.Tag&TypeLit != 0:
		return atof(c.Lit)
	case c.Tag&TypeID != 0:
		return 0
	}
	return c.Num
}

// Text returns the literal value. Unset numbers format as "".
func (c Cell) Text() string {
	c = c.deref()
	switch {
	case c.host != nil:
		return c.host.Text()
	case c.Tag&TypeNum != 0:
		if c.Tag&TypeUnset != 0 {
			return ""
		}
		return FormatNumber(c.Num)
	}
	return c.Lit
}

// Bool coerces the value: a literal is false only when it reads "off",
// a number only when it is zero.
func (c Cell) Bool() bool {
	r := c.Resolved()
	if r.Tag&TypeLit != 0 {
		return !strings.EqualFold(r.Lit, "off")
	}
	return r.Num != 0
}

// Resolved returns the concrete value behind the cell. Host cells are
// snapshotted into an ordinary cell.
func (c Cell) Resolved() Cell {
	c = c.deref()
	if c.host == nil {
		return c
	}
	t := c.host.Type()
	r := Cell{Tag: t, prg: c.prg}
	if t&TypeLit != 0 {
		r.Lit = c.host.Text()
	} else {
		r.Num = c.host.Number()
	}
	return r
}

// Assign stores v into the cell. Host cells route the value to their
// setter, or drop it when they are read-only.
func (c *Cell) Assign(v Cell) {
	if c.host != nil {
		if s, ok := c.host.(HostSetter); ok {
			s.Set(v.Resolved())
		}
		return
	}
	*c = v
}

// ---------------------------------------------------------------------------
// Number formatting and parsing
// ---------------------------------------------------------------------------

// FormatNumber renders n in its shortest round-trip decimal form. Integral
// values print without an exponent.
func FormatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// atof parses the longest leading decimal number in s.
func atof(s string) float64 {
	s = strings.TrimLeft(s, " \t\r\n\v\f")
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	end := i
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			end = j
		}
	}
	// Out of range input still yields ±Inf, matching atof.
	f, _ := strconv.ParseFloat(s[:end], 64)
	return f
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

package vm

import (
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Vars: name-keyed cell storage for the heap and local scopes
// ---------------------------------------------------------------------------

// Vars maps names to cells. Entries never move once inserted, so a *Cell
// taken from a Vars stays valid until that entry is deleted.
//
// The global heap is a Vars keyed by qualified names: plain globals use the
// name itself, instance members use "<id>::<member>" and array elements use
// "<base>[<key>]".
type Vars struct {
	cells map[string]*Cell
}

// NewVars creates an empty table.
func NewVars() *Vars {
	return &Vars{cells: make(map[string]*Cell)}
}

// Get returns the cell stored under name, creating an unset one if absent.
func (v *Vars) Get(name string) *Cell {
	if c, ok := v.cells[name]; ok {
		return c
	}
	c := &Cell{Tag: TypeNum | TypeUnset}
	v.cells[name] = c
	return c
}

// Lookup returns the cell stored under name without creating it.
func (v *Vars) Lookup(name string) (*Cell, bool) {
	c, ok := v.cells[name]
	return c, ok
}

// Has reports whether name is present.
func (v *Vars) Has(name string) bool {
	_, ok := v.cells[name]
	return ok
}

// Set stores a copy of value under name, replacing any existing entry.
func (v *Vars) Set(name string, value Cell) *Cell {
	c := &value
	v.cells[name] = c
	return c
}

// put installs c itself under name. Host cells are registered this way.
func (v *Vars) put(name string, c *Cell) {
	v.cells[name] = c
}

// Delete removes name. It reports whether an entry existed.
func (v *Vars) Delete(name string) bool {
	if _, ok := v.cells[name]; !ok {
		return false
	}
	delete(v.cells, name)
	return true
}

// DeletePrefix removes every entry whose name starts with prefix and returns
// how many were removed.
func (v *Vars) DeletePrefix(prefix string) int {
	n := 0
	for name := range v.cells {
		if strings.HasPrefix(name, prefix) {
			delete(v.cells, name)
			n++
		}
	}
	return n
}

// Len returns the number of entries.
func (v *Vars) Len() int {
	return len(v.cells)
}

// Names returns all names in sorted order.
func (v *Vars) Names() []string {
	names := make([]string, 0, len(v.cells))
	for name := range v.cells {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// clone deep-copies the table. Host cells keep their accessors.
func (v *Vars) clone() *Vars {
	out := NewVars()
	for name, c := range v.cells {
		cp := *c
		out.cells[name] = &cp
	}
	return out
}

// ---------------------------------------------------------------------------
// Heap key naming
// ---------------------------------------------------------------------------

// MemberKey returns the heap key of member on object id.
func MemberKey(id uint32, member string) string {
	return FormatNumber(float64(id)) + "::" + member
}

// ElementKey returns the heap key of element key of array base.
func ElementKey(base, key string) string {
	return base + "[" + key + "]"
}

// memberPrefix is the prefix shared by every heap key of object id.
func memberPrefix(id uint32) string {
	return FormatNumber(float64(id)) + "::"
}

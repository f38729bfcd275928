package vm

import "strconv"

// ---------------------------------------------------------------------------
// Host cells: heap entries whose value the embedding application computes
// ---------------------------------------------------------------------------

// HostValue supplies the accessors of a host cell.
type HostValue interface {
	Type() DataType
	Number() float64
	Text() string
}

// HostSetter is implemented by host cells that accept assignment. Cells
// without it are read-only and silently ignore stores.
type HostSetter interface {
	Set(v Cell)
}

// NumberFunc is a read-only numeric host cell.
type NumberFunc func() float64

func (f NumberFunc) Type() DataType { return TypeNum }
func (f NumberFunc) Number() float64 { return f() }
func (f NumberFunc) Text() string { return FormatNumber(f()) }

// TextFunc is a read-only literal host cell.
type TextFunc func() string

func (f TextFunc) Type() DataType { return TypeLit }
func (f TextFunc) Number() float64 { return atof(f()) }
func (f TextFunc) Text() string { return f() }

// Indexed is a host value family selected by an integer, the way one
// accessor serves playerx[0] through playerx[4].
type Indexed struct {
	Kind  DataType
	Get   func(selector int) Cell
	Store func(selector int, v Cell)
}

// HostVar is one member of an Indexed family.
type HostVar struct {
	family   *Indexed
	selector int
}

func (h HostVar) Type() DataType { return h.family.Kind }
func (h HostVar) Number() float64 { return h.family.Get(h.selector).Number() }
func (h HostVar) Text() string { return h.family.Get(h.selector).Text() }

// Set forwards the store when the family is writable.
func (h HostVar) Set(v Cell) {
	if h.family.Store != nil {
		h.family.Store(h.selector, v)
	}
}

// RegisterHostCell installs a computed cell in the heap under name.
func (e *Env) RegisterHostCell(name string, v HostValue) {
	e.heap.put(name, &Cell{Tag: v.Type(), host: v})
}

// RegisterHostArray installs base[first] through base[last] as members of
// one Indexed family. The selector passed to the family is the element key.
func (e *Env) RegisterHostArray(base string, first, last int, family *Indexed) {
	for i := first; i <= last; i++ {
		e.RegisterHostCell(ElementKey(base, strconv.Itoa(i)), HostVar{family: family, selector: i})
	}
}

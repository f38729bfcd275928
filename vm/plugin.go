package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Plugins: external functions reached through a textual call line
// ---------------------------------------------------------------------------

// PluginResult is the (type, text, number) triple a plugin returns.
// Type is TypeLit for text results and TypeNum otherwise.
type PluginResult struct {
	Type   DataType
	Text   string
	Number float64
}

// Plugin is a loaded external function library.
type Plugin interface {
	// Query reports whether the plugin implements the lowercase name.
	Query(name string) bool
	// Execute runs a call line such as `give(1,"sword",hp!)`.
	Execute(line string, wantReturn bool) (PluginResult, error)
}

// AddPlugin appends p. Plugins are queried in the order they were added.
func (e *Env) AddPlugin(p Plugin) {
	e.plugins = append(e.plugins, p)
}

// Plugins returns the registered plugins.
func (e *Env) Plugins() []Plugin {
	return e.plugins
}

// findPlugin returns the index of the first plugin that implements name.
func (e *Env) findPlugin(name string) int {
	for i, p := range e.plugins {
		if p.Query(name) {
			return i
		}
	}
	return -1
}

// PluginCallLine renders a call line: numbers print verbatim, literals are
// quoted and identifiers get a ! (numeric) or $ (literal) suffix.
func PluginCallLine(name string, args []Cell) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		switch {
		case a.Tag&TypeID != 0:
			b.WriteString(a.Lit)
			if a.DataType()&TypeNum != 0 {
				b.WriteByte('!')
			} else {
				b.WriteByte('$')
			}
		case a.Tag&TypeLit != 0:
			b.WriteByte('"')
			b.WriteString(a.Lit)
			b.WriteByte('"')
		default:
			b.WriteString(a.Text())
		}
	}
	b.WriteByte(')')
	return b.String()
}

func (r PluginResult) cell() Cell {
	if r.Type&TypeLit != 0 {
		return TextCell(r.Text)
	}
	return NumberCell(r.Number)
}

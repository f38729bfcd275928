package vm

import (
	"strings"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("rpgcode.vm")

// ---------------------------------------------------------------------------
// Env: state shared by every program of one interpreter instance
// ---------------------------------------------------------------------------

// DebugLevel is the threshold an error's severity must meet to be reported.
type DebugLevel int

const (
	DebugDisabled DebugLevel = iota // report nothing
	DebugErrors                     // report errors only
	DebugWarnings                   // report errors and warnings
)

// ParseDebugLevel maps the configuration spelling of a level.
func ParseDebugLevel(s string) (DebugLevel, bool) {
	switch strings.ToLower(s) {
	case "none", "disabled", "off":
		return DebugDisabled, true
	case "error", "errors":
		return DebugErrors, true
	case "warning", "warnings", "all":
		return DebugWarnings, true
	}
	return DebugWarnings, false
}

// DiagnosticSink receives user-visible error reports.
type DiagnosticSink interface {
	Report(message string)
}

// DiagnosticFunc adapts a function to DiagnosticSink.
type DiagnosticFunc func(message string)

// Report calls f.
func (f DiagnosticFunc) Report(message string) { f(message) }

// logSink reports diagnostics through the package logger.
type logSink struct{}

func (logSink) Report(message string) {
	log.Error(message)
}

// Operation is the implementation of a callable instruction. Host builtins
// share the signature.
type Operation func(c *Call) error

// Env holds the heap, the object table, host builtins and plugins, and the
// lock that makes each instruction step atomic across every program that
// shares them.
type Env struct {
	mu sync.Mutex

	heap      *Vars
	objects   *ObjectTable
	functions map[string]Operation
	plugins   []Plugin

	// DebugLevel filters reports from unhandled script errors.
	DebugLevel DebugLevel

	// Diagnostics receives every user-visible report.
	Diagnostics DiagnosticSink

	// Loader services runtime inclusion. It may be nil.
	Loader *Loader
}

// NewEnv creates an environment with an empty heap.
func NewEnv() *Env {
	return &Env{
		heap:        NewVars(),
		objects:     NewObjectTable(),
		functions:   make(map[string]Operation),
		DebugLevel:  DebugWarnings,
		Diagnostics: logSink{},
	}
}

// Heap returns the global heap.
func (e *Env) Heap() *Vars {
	return e.heap
}

// Objects returns the object table.
func (e *Env) Objects() *ObjectTable {
	return e.objects
}

// Lock acquires the step lock. Hosts take it to inspect or mutate shared
// state while programs may be running on other goroutines.
func (e *Env) Lock() { e.mu.Lock() }

// Unlock releases the step lock.
func (e *Env) Unlock() { e.mu.Unlock() }

// Report sends message to the diagnostics sink.
func (e *Env) Report(message string) {
	if e.Diagnostics == nil {
		logSink{}.Report(message)
		return
	}
	e.Diagnostics.Report(message)
}

// ---------------------------------------------------------------------------
// Host builtins
// ---------------------------------------------------------------------------

// RegisterFunction installs a host builtin. Names are case-insensitive.
func (e *Env) RegisterFunction(name string, fn Operation) {
	e.functions[strings.ToLower(name)] = fn
}

// Function returns the builtin registered under name.
func (e *Env) Function(name string) (Operation, bool) {
	fn, ok := e.functions[strings.ToLower(name)]
	return fn, ok
}

// ---------------------------------------------------------------------------
// Object lifetime
// ---------------------------------------------------------------------------

// FreeObject purges every heap entry of object id and releases the id.
func (e *Env) FreeObject(id uint32) {
	n := e.heap.DeletePrefix(memberPrefix(id))
	e.objects.Free(id)
	log.Debugf("freed object %d (%d members)", id, n)
}

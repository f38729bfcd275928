// Package vm implements the RPGCode execution engine.
//
// This package contains:
//   - Tagged cell values, the global heap and local scopes
//   - The linear instruction stream and its linker
//   - The step interpreter with control flow, calls and error handlers
//   - Classes, objects, inheritance and operator overloading
//   - Program snapshots and heap snapshots
//   - Cooperative threads, the debugger and the variable inspector
package vm

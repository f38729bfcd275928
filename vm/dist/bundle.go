// Package dist implements program bundles: the on-disk form of a parsed
// RPGCode program. A bundle carries the instruction stream and the class
// and method tables of one vm.Unit, the host builtins it needs and a
// content hash, all in canonical CBOR.
package dist

// BundleVersion is the format version written by this package.
const BundleVersion uint32 = 1

// Bundle is one parsed program file.
type Bundle struct {
	Version  uint32         `cbor:"1,keyasint"`
	File     string         `cbor:"2,keyasint"`
	Code     []Instr        `cbor:"3,keyasint"`
	Classes  []ClassRecord  `cbor:"4,keyasint,omitempty"`
	Methods  []MethodRecord `cbor:"5,keyasint,omitempty"`
	Includes []string       `cbor:"6,keyasint,omitempty"`
	Lines    []int          `cbor:"7,keyasint,omitempty"`
	Requires []string       `cbor:"8,keyasint,omitempty"` // host builtins called
	Hash     [32]byte       `cbor:"9,keyasint"`
}

// Instr is an encoded instruction. Offsets holds the two stream offsets of
// an offset payload; otherwise Num is the numeric payload. Op is the
// operation name of a callable instruction.
type Instr struct {
	Lit     string  `cbor:"1,keyasint,omitempty"`
	Num     float64 `cbor:"2,keyasint,omitempty"`
	Offsets []int   `cbor:"3,keyasint,omitempty"`
	Tag     uint16  `cbor:"4,keyasint"`
	Op      string  `cbor:"5,keyasint,omitempty"`
	Arity   int     `cbor:"6,keyasint,omitempty"`
	File    string  `cbor:"7,keyasint,omitempty"`
	Line    int     `cbor:"8,keyasint,omitempty"`
}

// MethodRecord is a method of the method table or a class prototype.
type MethodRecord struct {
	Name    string   `cbor:"1,keyasint"`
	Arity   int      `cbor:"2,keyasint"`
	ByRef   uint32   `cbor:"3,keyasint,omitempty"`
	Params  []string `cbor:"4,keyasint,omitempty"`
	Private bool     `cbor:"5,keyasint,omitempty"`
}

// MemberRecord is a declared instance variable.
type MemberRecord struct {
	Name    string `cbor:"1,keyasint"`
	Private bool   `cbor:"2,keyasint,omitempty"`
}

// ClassRecord is a class declaration as written by the parser, before
// inheritance is flattened.
type ClassRecord struct {
	Name     string         `cbor:"1,keyasint"`
	Inherits []string       `cbor:"2,keyasint,omitempty"`
	Members  []MemberRecord `cbor:"3,keyasint,omitempty"`
	Methods  []MethodRecord `cbor:"4,keyasint,omitempty"`
}

package dist

import (
	"fmt"

	"github.com/chazu/rpgcode/vm"
)

// FromUnit creates a Bundle from a parsed unit. The bundle is not sealed;
// see Seal.
func FromUnit(u *vm.Unit) *Bundle {
	b := &Bundle{
		Version:  BundleVersion,
		File:     u.File,
		Code:     make([]Instr, len(u.Code)),
		Includes: append([]string(nil), u.Includes...),
		Lines:    append([]int(nil), u.Lines...),
	}

	for i, ins := range u.Code {
		b.Code[i] = encodeInstr(ins)
	}
	b.Requires = builtinCalls(u.Code)

	for _, m := range u.Methods {
		b.Methods = append(b.Methods, MethodRecord{
			Name:   m.Name,
			Arity:  m.Arity,
			ByRef:  m.ByRef,
			Params: append([]string(nil), m.Params...),
		})
	}

	for _, c := range u.Classes {
		rec := ClassRecord{Name: c.Name, Inherits: append([]string(nil), c.Inherits...)}
		for _, m := range c.Members {
			rec.Members = append(rec.Members, MemberRecord{Name: m.Name, Private: m.Visibility == vm.Private})
		}
		for _, m := range c.Methods {
			rec.Methods = append(rec.Methods, MethodRecord{
				Name:    m.Name,
				Arity:   m.Arity,
				ByRef:   m.ByRef,
				Params:  append([]string(nil), m.Params...),
				Private: m.Visibility == vm.Private,
			})
		}
		b.Classes = append(b.Classes, rec)
	}
	return b
}

func encodeInstr(ins vm.Instruction) Instr {
	out := Instr{
		Lit:   ins.Lit,
		Tag:   uint16(ins.Tag),
		Arity: ins.Arity,
		File:  ins.File,
		Line:  ins.Line,
	}
	if first, second, ok := ins.Value.Offsets(); ok {
		out.Offsets = []int{first, second}
	} else {
		out.Num = ins.Value.Number()
	}
	if ins.Tag&vm.TypeFunc != 0 {
		out.Op = ins.Op.String()
	}
	return out
}

// Unit rebuilds the parsed unit. Method entries are left for the linker.
func (b *Bundle) Unit() (*vm.Unit, error) {
	if b.Version != BundleVersion {
		return nil, fmt.Errorf("dist: %s: %w: version %d", b.File, ErrUnsupportedVersion, b.Version)
	}
	u := &vm.Unit{
		File:     b.File,
		Code:     make([]vm.Instruction, len(b.Code)),
		Includes: append([]string(nil), b.Includes...),
		Lines:    append([]int(nil), b.Lines...),
	}
	for i, in := range b.Code {
		ins, err := decodeInstr(in)
		if err != nil {
			return nil, fmt.Errorf("dist: %s: instruction %d: %w", b.File, i, err)
		}
		u.Code[i] = ins
	}

	for _, m := range b.Methods {
		u.Methods = append(u.Methods, descriptor(m))
	}
	for _, rec := range b.Classes {
		c := &vm.Class{Name: rec.Name, Inherits: append([]string(nil), rec.Inherits...)}
		for _, m := range rec.Members {
			c.Members = append(c.Members, vm.Member{Name: m.Name, Visibility: visibility(m.Private)})
		}
		for _, m := range rec.Methods {
			c.Methods = append(c.Methods, vm.ClassMethod{MethodDescriptor: descriptor(m), Visibility: visibility(m.Private)})
		}
		u.Classes = append(u.Classes, c)
	}
	return u, nil
}

func decodeInstr(in Instr) (vm.Instruction, error) {
	ins := vm.Instruction{
		Lit:   in.Lit,
		Tag:   vm.DataType(in.Tag),
		Arity: in.Arity,
		File:  in.File,
		Line:  in.Line,
		Value: vm.NumberPayload(in.Num),
	}
	switch len(in.Offsets) {
	case 0:
	case 2:
		ins.Value = vm.OffsetPayload(in.Offsets[0], in.Offsets[1])
	default:
		return ins, fmt.Errorf("%w: %d offsets", ErrMalformed, len(in.Offsets))
	}
	if ins.Tag&vm.TypeFunc != 0 {
		op, ok := vm.ParseOpcode(in.Op)
		if !ok {
			return ins, fmt.Errorf("%w: unknown operation %q", ErrMalformed, in.Op)
		}
		ins.Op = op
	}
	if in.Arity < 0 {
		return ins, fmt.Errorf("%w: arity %d", ErrMalformed, in.Arity)
	}
	return ins, nil
}

func descriptor(m MethodRecord) vm.MethodDescriptor {
	return vm.MethodDescriptor{
		Name:   m.Name,
		Arity:  m.Arity,
		Entry:  -1,
		ByRef:  m.ByRef,
		Params: append([]string(nil), m.Params...),
	}
}

func visibility(private bool) vm.Visibility {
	if private {
		return vm.Private
	}
	return vm.Public
}

package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// ---------------------------------------------------------------------------
// Class registry
// ---------------------------------------------------------------------------

func TestLocateVisibility(t *testing.T) {
	c := &Class{Name: "Hero", Methods: []ClassMethod{
		{MethodDescriptor: MethodDescriptor{Name: "heal", Arity: 1}, Visibility: Public},
		{MethodDescriptor: MethodDescriptor{Name: "secret", Arity: 0}, Visibility: Private},
	}}

	tests := []struct {
		name  string
		arity int
		vis   Visibility
		found bool
	}{
		{"heal", 1, Public, true},
		{"HEAL", 1, Public, true},
		{"heal", 0, Public, false},
		{"secret", 0, Public, false},
		{"secret", 0, Private, true},
		{"missing", 0, Private, false},
	}
	for _, tt := range tests {
		got := c.Locate(tt.name, tt.arity, tt.vis) != nil
		if got != tt.found {
			t.Errorf("Locate(%q, %d, %s) found = %v, want %v", tt.name, tt.arity, tt.vis, got, tt.found)
		}
	}
}

func TestMemberExists(t *testing.T) {
	c := &Class{Name: "Hero", Members: []Member{
		{Name: "hp", Visibility: Public},
		{Name: "gold", Visibility: Private},
	}}
	if !c.MemberExists("HP", Public) {
		t.Error("public member hp not visible")
	}
	if c.MemberExists("gold", Public) {
		t.Error("private member gold visible from outside")
	}
	if !c.MemberExists("gold", Private) {
		t.Error("private member gold not visible from inside")
	}
}

func TestFlattenFirstDeclaredWins(t *testing.T) {
	method := func(name string, entry int) ClassMethod {
		return ClassMethod{MethodDescriptor: MethodDescriptor{Name: name, Entry: entry}, Visibility: Public}
	}
	classes := map[string]*Class{
		"Base": {Name: "Base", Members: []Member{{Name: "x", Visibility: Public}}},
		"A": {Name: "A", Inherits: []string{"Base"},
			Members: []Member{{Name: "a", Visibility: Public}},
			Methods: []ClassMethod{method("f", 10)}},
		"B": {Name: "B",
			Members: []Member{{Name: "b", Visibility: Private}},
			Methods: []ClassMethod{method("f", 20), method("g", 30)}},
		"C": {Name: "C", Inherits: []string{"A", "B"},
			Methods: []ClassMethod{method("g", 40)}},
	}
	var reported []string
	flattenClasses(classes, []string{"Base", "A", "B", "C"}, func(msg string) {
		reported = append(reported, msg)
	})
	if len(reported) > 0 {
		t.Fatalf("unexpected reports: %q", reported)
	}

	c := classes["C"]
	if diff := cmp.Diff([]string{"A", "Base", "B"}, c.Inherits); diff != "" {
		t.Errorf("C.Inherits mismatch (-want +got):\n%s", diff)
	}
	wantMembers := []Member{
		{Name: "a", Visibility: Public},
		{Name: "x", Visibility: Public},
		{Name: "b", Visibility: Private},
	}
	if diff := cmp.Diff(wantMembers, c.Members); diff != "" {
		t.Errorf("C.Members mismatch (-want +got):\n%s", diff)
	}
	if got := c.Locate("f", 0, Public).Entry; got != 10 {
		t.Errorf("C.f entry = %d, want A's 10", got)
	}
	if got := c.Locate("g", 0, Public).Entry; got != 40 {
		t.Errorf("C.g entry = %d, want C's own 40", got)
	}
	if !c.IsA("Base") || !c.IsA("B") || c.IsA("D") {
		t.Errorf("IsA over %v is wrong", c.Inherits)
	}
}

func TestFlattenReportsMissingBase(t *testing.T) {
	classes := map[string]*Class{"A": {Name: "A", Inherits: []string{"Ghost"}}}
	var reported []string
	flattenClasses(classes, []string{"A"}, func(msg string) { reported = append(reported, msg) })
	if len(reported) != 1 {
		t.Fatalf("reports = %q, want one", reported)
	}
	if len(classes["A"].Inherits) != 0 {
		t.Errorf("Inherits = %v, want the missing base dropped", classes["A"].Inherits)
	}
}

func TestInheritedMethodDispatch(t *testing.T) {
	env, r := newTestEnv()
	a := NewAssembler("inherit.prg")
	a.Class("A").Method("f", Public)
	a.Class("B").Method("f", Public)
	a.Class("C", "A", "B")
	a.Method("A::f").Open()
	a.Num(1).Return().Line()
	a.Close()
	a.Method("B::f").Open()
	a.Num(2).Return().Line()
	a.Close()
	assign(a.ID("o").New("C", 0))
	assign(a.ID("r").ID("o").CallMethod("f", 0))

	run(t, build(t, env, a))
	if len(r.messages) > 0 {
		t.Fatalf("unexpected diagnostics: %q", r.messages)
	}
	if got := global(t, env, "r").Number(); got != 1 {
		t.Errorf("r = %v, want 1 from the first declared base", got)
	}
}

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

func TestObjectIDReuse(t *testing.T) {
	tab := NewObjectTable()
	a := tab.Allocate("A")
	b := tab.Allocate("B")
	if a != 1 || b != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", a, b)
	}
	tab.Free(a)
	if c := tab.Allocate("C"); c != 3 {
		t.Errorf("id after freeing 1 = %d, want 3", c)
	}
	tab.Free(b)
	if d := tab.Allocate("D"); d != 2 {
		t.Errorf("id after freeing 2 = %d, want 2", d)
	}
	if diff := cmp.Diff([]uint32{2, 3}, tab.IDs()); diff != "" {
		t.Errorf("IDs mismatch (-want +got):\n%s", diff)
	}
}

func TestConstructorWithArguments(t *testing.T) {
	env, r := newTestEnv()
	a := NewAssembler("ctor.prg")
	a.Class("Point").Public("x", "y").Method("Point", Public, "x0", "y0")
	a.Method("Point::Point", "x0", "y0").Open()
	assign(a.ID("x").Arg("x0"))
	assign(a.ID("y").Arg("y0"))
	a.Close()
	assign(a.ID("p").Num(3).Num(4).New("Point", 2))
	assign(a.ID("px").ID("p").Lit("x").Op(OpMember, 2))
	assign(a.ID("py").ID("p").Lit("y").Op(OpMember, 2))

	run(t, build(t, env, a))
	if len(r.messages) > 0 {
		t.Fatalf("unexpected diagnostics: %q", r.messages)
	}
	if x, y := global(t, env, "px").Number(), global(t, env, "py").Number(); x != 3 || y != 4 {
		t.Errorf("point = (%v, %v), want (3, 4)", x, y)
	}
}

func TestNewWithoutConstructor(t *testing.T) {
	env, r := newTestEnv()
	a := NewAssembler("new.prg")
	a.Class("Bag").Public("items")
	assign(a.ID("b").New("Bag", 0))
	assign(a.ID("bad").Num(1).New("Bag", 1))

	run(t, build(t, env, a))
	if global(t, env, "b").Tag&TypeObj == 0 {
		t.Error("new without a constructor did not return an object")
	}
	if !r.contains("No accessible constructor for Bag has a parameter count of 1.") {
		t.Errorf("diagnostics = %q", r.messages)
	}
	if env.Objects().Len() != 1 {
		t.Errorf("live objects = %d, want 1", env.Objects().Len())
	}
}

func TestReleaseRunsDestructorBeforePurge(t *testing.T) {
	env, r := newTestEnv()
	a := NewAssembler("release.prg")
	a.Class("Res").Public("v").Method("~Res", Public)
	a.Method("Res::~Res").Open()
	assign(a.ID("seen").ID("v"))
	a.Close()
	assign(a.ID("o").New("Res", 0))
	assign(a.ID("o").Lit("v").Op(OpMember, 2).Num(9))
	a.ID("o").CallMethod("release", 0).Line()

	run(t, build(t, env, a))
	if len(r.messages) > 0 {
		t.Fatalf("unexpected diagnostics: %q", r.messages)
	}
	if got := global(t, env, "seen").Number(); got != 9 {
		t.Errorf("destructor saw v = %v, want 9", got)
	}
	if env.Objects().Len() != 0 {
		t.Error("object still live after release")
	}
	if env.Heap().Has(MemberKey(1, "v")) {
		t.Error("member survived release")
	}
}

func TestReleaseWithoutDestructor(t *testing.T) {
	env, _ := newTestEnv()
	a := NewAssembler("release.prg")
	a.Class("Res").Public("v")
	assign(a.ID("o").New("Res", 0))
	assign(a.ID("o").Lit("v").Op(OpMember, 2).Num(9))
	a.ID("o").CallMethod("release", 0).Line()

	run(t, build(t, env, a))
	if env.Objects().Len() != 0 || env.Heap().Has(MemberKey(1, "v")) {
		t.Error("release without destructor did not purge the object")
	}
}

func TestPrivateMethodHiddenOutside(t *testing.T) {
	env, r := newTestEnv()
	a := NewAssembler("private.prg")
	a.Class("Safe").Method("open", Private).Method("tryOpen", Public)
	a.Method("Safe::open").Open()
	a.Num(1).Return().Line()
	a.Close()
	a.Method("Safe::tryOpen").Open()
	a.Call("open", 0).Return().Line()
	a.Close()
	assign(a.ID("s").New("Safe", 0))
	assign(a.ID("inside").ID("s").CallMethod("tryOpen", 0))
	a.ID("s").CallMethod("open", 0).Line()

	run(t, build(t, env, a))
	if got := global(t, env, "inside").Number(); got != 1 {
		t.Errorf("implicit this->open() = %v, want 1", got)
	}
	if !r.contains("Class Safe has no accessible open method with a parameter count of 0.") {
		t.Errorf("diagnostics = %q", r.messages)
	}
}

func TestVerifyType(t *testing.T) {
	env, r := newTestEnv()
	a := NewAssembler("verify.prg")
	a.Class("Animal")
	a.Class("Dog", "Animal")
	a.Class("Rock")
	a.Method("pet", "who").Open()
	a.Arg("who").Lit("Animal").Op(OpVerifyType, 2).Line()
	a.Num(1).Return().Line()
	a.Close()
	assign(a.ID("d").New("Dog", 0))
	assign(a.ID("k").New("Rock", 0))
	a.ID("d").Call("pet", 1).Line()
	a.ID("k").Call("pet", 1).Line()

	run(t, build(t, env, a))
	if len(r.messages) != 1 || !r.contains("The method requires a parameter of type Animal.") {
		t.Errorf("diagnostics = %q, want one type error for the rock", r.messages)
	}
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func TestOperatorOverload(t *testing.T) {
	env, r := newTestEnv()
	a := NewAssembler("overload.prg")
	a.Class("V").Method("operator+", Public, "rhs")
	a.Method("V::operator+", "rhs").Open()
	a.Arg("rhs").Num(100).Op(OpAdd, 2).Return().Line()
	a.Close()
	assign(a.ID("v").New("V", 0))
	assign(a.ID("r").ID("v").Num(5).Op(OpAdd, 2))

	run(t, build(t, env, a))
	if len(r.messages) > 0 {
		t.Fatalf("unexpected diagnostics: %q", r.messages)
	}
	if got := global(t, env, "r").Number(); got != 105 {
		t.Errorf("v + 5 = %v, want 105", got)
	}
}

func TestOperatorFallback(t *testing.T) {
	env, r := newTestEnv()
	a := NewAssembler("fallback.prg")
	a.Class("P")
	assign(a.ID("a").New("P", 0))
	assign(a.ID("b").New("P", 0))
	assign(a.ID("same").ID("a").ID("a").Op(OpEq, 2))
	assign(a.ID("diff").ID("a").ID("b").Op(OpNe, 2))
	assign(a.ID("copy").ID("a"))
	assign(a.ID("sum").ID("a").Num(1).Op(OpAdd, 2))

	run(t, build(t, env, a))
	if global(t, env, "same").Number() != 1 {
		t.Error("a == a is false without an overload")
	}
	if global(t, env, "diff").Number() != 1 {
		t.Error("a ~= b is false without an overload")
	}
	if got, want := global(t, env, "copy").Num, global(t, env, "a").Num; got != want {
		t.Errorf("copy = %v, want %v", got, want)
	}
	if !r.contains("No overloaded operator + found!") {
		t.Errorf("diagnostics = %q", r.messages)
	}
}

func TestOperators(t *testing.T) {
	tests := []struct {
		name string
		a, b Cell
		op   Opcode
		want Cell
	}{
		{"add", NumberCell(2), NumberCell(3), OpAdd, NumberCell(5)},
		{"concat", TextCell("ab"), NumberCell(3), OpAdd, TextCell("ab3")},
		{"sub", NumberCell(2), NumberCell(3), OpSub, NumberCell(-1)},
		{"mul", NumberCell(4), NumberCell(3), OpMul, NumberCell(12)},
		{"div", NumberCell(3), NumberCell(2), OpDiv, NumberCell(1.5)},
		{"mod", NumberCell(7), NumberCell(3), OpMod, NumberCell(1)},
		{"pow", NumberCell(2), NumberCell(10), OpPow, NumberCell(1024)},
		{"or", NumberCell(5), NumberCell(2), OpBitOr, NumberCell(7)},
		{"and", NumberCell(6), NumberCell(3), OpBitAnd, NumberCell(2)},
		{"xor", NumberCell(6), NumberCell(3), OpBitXor, NumberCell(5)},
		{"shl", NumberCell(1), NumberCell(4), OpShl, NumberCell(16)},
		{"shr", NumberCell(16), NumberCell(2), OpShr, NumberCell(4)},
		{"lor", NumberCell(0), NumberCell(2), OpOr, NumberCell(1)},
		{"land", NumberCell(1), NumberCell(0), OpAnd, NumberCell(0)},
		{"eq text", TextCell("Yes"), TextCell("Yes"), OpEq, NumberCell(1)},
		{"eq text case", TextCell("Sword"), TextCell("sword"), OpEq, NumberCell(0)},
		{"ne", NumberCell(1), NumberCell(2), OpNe, NumberCell(1)},
		{"ne text case", TextCell("Sword"), TextCell("sword"), OpNe, NumberCell(1)},
		{"ge", NumberCell(2), NumberCell(2), OpGe, NumberCell(1)},
		{"le", NumberCell(3), NumberCell(2), OpLe, NumberCell(0)},
		{"gt", NumberCell(3), NumberCell(2), OpGt, NumberCell(1)},
		{"lt", NumberCell(3), NumberCell(2), OpLt, NumberCell(0)},
	}
	for _, tt := range tests {
		env, r := newTestEnv()
		a := NewAssembler("op.prg")
		a.ID("r")
		push(a, tt.a)
		push(a, tt.b)
		assign(a.Op(tt.op, 2))

		run(t, build(t, env, a))
		if len(r.messages) > 0 {
			t.Errorf("%s: diagnostics %q", tt.name, r.messages)
			continue
		}
		got := global(t, env, "r")
		if got.Text() != tt.want.Text() || got.Tag&(TypeNum|TypeLit) != tt.want.Tag {
			t.Errorf("%s: r = %q (%s), want %q (%s)", tt.name, got.Text(), got.Tag, tt.want.Text(), tt.want.Tag)
		}
	}
}

func push(a *Assembler, c Cell) {
	if c.Tag&TypeLit != 0 {
		a.Lit(c.Lit)
		return
	}
	a.Num(c.Num)
}

func TestModuloByZero(t *testing.T) {
	env, r := newTestEnv()
	a := NewAssembler("mod.prg")
	assign(a.ID("r").Num(1).Num(0).Op(OpMod, 2))

	run(t, build(t, env, a))
	if !r.contains("Division by zero.") {
		t.Errorf("diagnostics = %q", r.messages)
	}
}

func TestAssignmentChains(t *testing.T) {
	env, _ := newTestEnv()
	a := NewAssembler("chain.prg")
	assign(a.ID("a").ID("b").Num(4).Op(OpAssign, 2))

	run(t, build(t, env, a))
	if global(t, env, "a").Number() != 4 || global(t, env, "b").Number() != 4 {
		t.Errorf("a = %v, b = %v, want 4, 4", global(t, env, "a").Number(), global(t, env, "b").Number())
	}
}

func TestIncrementForms(t *testing.T) {
	env, _ := newTestEnv()
	a := NewAssembler("inc.prg")
	assign(a.ID("i").Num(5))
	assign(a.ID("post").ID("i").Op(OpPostInc, 1))
	assign(a.ID("pre").ID("i").Op(OpPreDec, 1))

	run(t, build(t, env, a))
	if got := global(t, env, "post").Number(); got != 5 {
		t.Errorf("i++ = %v, want 5", got)
	}
	if got := global(t, env, "pre").Number(); got != 5 {
		t.Errorf("--i = %v, want 5", got)
	}
	if got := global(t, env, "i").Number(); got != 5 {
		t.Errorf("i = %v, want 5", got)
	}
}

func TestTernaryAndUnary(t *testing.T) {
	env, _ := newTestEnv()
	a := NewAssembler("unary.prg")
	assign(a.ID("t").Num(0).Lit("yes").Lit("no").Op(OpTernary, 3))
	assign(a.ID("n").Num(3).Op(OpNeg, 1))
	assign(a.ID("z").Num(0).Op(OpNot, 1))
	assign(a.ID("b").Num(0).Op(OpBitNot, 1))

	run(t, build(t, env, a))
	if got := global(t, env, "t").Text(); got != "no" {
		t.Errorf("ternary = %q, want no", got)
	}
	if got := global(t, env, "n").Number(); got != -3 {
		t.Errorf("-3 = %v", got)
	}
	if got := global(t, env, "z").Number(); got != 1 {
		t.Errorf("!0 = %v", got)
	}
	if got := global(t, env, "b").Number(); got != -1 {
		t.Errorf("~0 = %v", got)
	}
}

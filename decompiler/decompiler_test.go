package decompiler_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/sqdis/bytecode"
	"github.com/chazu/sqdis/bytecode/bctest"
	"github.com/chazu/sqdis/decompiler"
)

func I(op bytecode.Opcode, a0 uint8, a1 int32, a2, a3 uint8) bytecode.Instruction {
	return bctest.I(op, a0, a1, a2, a3)
}

func decompile(t *testing.T, p *bytecode.Prototype) string {
	t.Helper()
	out, err := decompiler.Source(p)
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	return out
}

func assertContains(t *testing.T, out string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		if !strings.Contains(out, w) {
			t.Errorf("output does not contain %q:\n%s", w, out)
		}
	}
}

func TestReturnConstant(t *testing.T) {
	p := bctest.Func("answer", nil,
		I(bytecode.OpLoadInt, 1, 42, 0, 0),
		I(bytecode.OpReturn, 1, 1, 0, 0),
	)
	out := decompile(t, p)
	want := "function answer() {\n    return 42;\n}\n"
	if out != want {
		t.Errorf("got:\n%s\nwant:\n%s", out, want)
	}
}

func TestGlobalCall(t *testing.T) {
	p := bctest.Func("main", nil,
		I(bytecode.OpPrepCallK, 1, 0, 0, 2),
		I(bytecode.OpLoad, 3, 1, 0, 0),
		I(bytecode.OpCall, 1, 1, 2, 2),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	p.Literals = []bytecode.Value{bytecode.Str("print"), bytecode.Str("hi")}
	out := decompile(t, p)
	assertContains(t, out, "    print(\"hi\");\n", "    return;\n")
}

func TestMethodCallOnParameter(t *testing.T) {
	p := bctest.Func("f", []string{"obj"},
		I(bytecode.OpPrepCallK, 2, 0, 1, 3),
		I(bytecode.OpLoadInt, 4, 1, 0, 0),
		I(bytecode.OpCall, 0xFF, 2, 3, 2),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	p.Literals = []bytecode.Value{bytecode.Str("method")}
	assertContains(t, decompile(t, p), "obj.method(1);")
}

func TestLocalDeclarationAndReassignment(t *testing.T) {
	p := bctest.Func("f", nil,
		I(bytecode.OpLoadInt, 1, 5, 0, 0),
		I(bytecode.OpLoadInt, 2, 1, 0, 0),
		I(bytecode.OpAdd, 1, 2, 1, 0),
		I(bytecode.OpReturn, 1, 1, 0, 0),
	)
	bctest.Local(p, "x", 1, 1, 4)
	out := decompile(t, p)
	assertContains(t, out, "local x = 5;", "    x = x + 1;", "return x;")
	if strings.Count(out, "local x") != 1 {
		t.Errorf("local declared more than once:\n%s", out)
	}
}

func TestParameterAssignmentHasNoLocalKeyword(t *testing.T) {
	p := bctest.Func("f", []string{"a"},
		I(bytecode.OpLoadInt, 1, 3, 0, 0),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	out := decompile(t, p)
	assertContains(t, out, "    a = 3;")
	if strings.Contains(out, "local a") {
		t.Errorf("parameter declared as local:\n%s", out)
	}
}

func TestTableLiteral(t *testing.T) {
	p := bctest.Func("f", nil,
		I(bytecode.OpNewObj, 1, 2, 0, 0),
		I(bytecode.OpLoad, 2, 0, 0, 0),
		I(bytecode.OpLoadInt, 3, 1, 0, 0),
		I(bytecode.OpNewSlot, 0xFF, 1, 2, 3),
		I(bytecode.OpLoad, 2, 1, 0, 0),
		I(bytecode.OpLoadInt, 3, 2, 0, 0),
		I(bytecode.OpNewSlot, 0xFF, 1, 2, 3),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	p.Literals = []bytecode.Value{bytecode.Str("a"), bytecode.Str("b c")}
	bctest.Local(p, "t", 1, 7, 8)

	out := decompile(t, p)
	assertContains(t, out, "    local t = {\n        a = 1,\n        [\"b c\"] = 2,\n    };\n")
}

func TestTableLiteralOverflow(t *testing.T) {
	p := bctest.Func("f", nil,
		I(bytecode.OpNewObj, 1, 0, 0, 0),
		I(bytecode.OpLoad, 2, 0, 0, 0),
		I(bytecode.OpLoadInt, 3, 1, 0, 0),
		I(bytecode.OpNewSlot, 0xFF, 1, 2, 3),
	)
	p.Literals = []bytecode.Value{bytecode.Str("a")}
	_, err := decompiler.Source(p)
	if !errors.Is(err, decompiler.ErrState) {
		t.Fatalf("expected ErrState, got %v", err)
	}
}

func TestArrayLiteral(t *testing.T) {
	p := bctest.Func("f", nil,
		I(bytecode.OpNewObj, 1, 3, 0, 1),
		I(bytecode.OpAppendArray, 1, 1, 2, 0),
		I(bytecode.OpAppendArray, 1, 0, 1, 0),
		I(bytecode.OpAppendArray, 1, 0x40200000, 3, 0),
		I(bytecode.OpReturn, 1, 1, 0, 0),
	)
	p.Literals = []bytecode.Value{bytecode.Str("x")}
	assertContains(t, decompile(t, p), `return [1, "x", 2.5];`)
}

func TestAppendToNonArray(t *testing.T) {
	p := bctest.Func("f", nil,
		I(bytecode.OpLoadInt, 1, 0, 0, 0),
		I(bytecode.OpAppendArray, 1, 1, 2, 0),
	)
	if _, err := decompiler.Source(p); !errors.Is(err, decompiler.ErrState) {
		t.Fatalf("expected ErrState, got %v", err)
	}
}

func TestConditionalBlocks(t *testing.T) {
	p := bctest.Func("f", []string{"a"},
		I(bytecode.OpJz, 1, 2, 0, 0),
		I(bytecode.OpLoadInt, 2, 1, 0, 0),
		I(bytecode.OpReturn, 1, 2, 0, 0),
		I(bytecode.OpLoadInt, 2, 2, 0, 0),
		I(bytecode.OpReturn, 1, 2, 0, 0),
	)
	out := decompile(t, p)
	assertContains(t, out,
		"function f(a) {",
		"    // [0-0]\n    if (!a)\n",
		"    // [1-2]\n    return 1;\n",
		"    // [3-4]\n    return 2;\n",
	)
}

func TestComparisonConditionIsNotNegated(t *testing.T) {
	p := bctest.Func("f", []string{"a", "b"},
		I(bytecode.OpCmp, 3, 2, 1, uint8(bytecode.CmpGt)),
		I(bytecode.OpJz, 3, 1, 0, 0),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	out := decompile(t, p)
	assertContains(t, out, "if (a > b)")
	if strings.Contains(out, "!(") || strings.Contains(out, "!a") {
		t.Errorf("comparison was negated:\n%s", out)
	}
}

func TestJCmp(t *testing.T) {
	p := bctest.Func("f", []string{"a", "b"},
		I(bytecode.OpJCmp, 2, 1, 1, uint8(bytecode.CmpLt)),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	assertContains(t, decompile(t, p), "if (a < b)")
}

func TestJumpPlaceholder(t *testing.T) {
	p := bctest.Func("f", nil,
		I(bytecode.OpJmp, 0, 1, 0, 0),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	out := decompile(t, p)
	assertContains(t, out, "jump [2]\n")
	if strings.Contains(out, "[1-1]") {
		t.Errorf("dead block rendered:\n%s", out)
	}
}

func TestEqualityAgainstLiteral(t *testing.T) {
	p := bctest.Func("f", []string{"a"},
		I(bytecode.OpEq, 2, 0, 1, 1),
		I(bytecode.OpReturn, 1, 2, 0, 0),
	)
	p.Literals = []bytecode.Value{bytecode.Str("x")}
	assertContains(t, decompile(t, p), `return a == "x";`)
}

func TestRootTableAccess(t *testing.T) {
	p := bctest.Func("f", nil,
		I(bytecode.OpLoadRoot, 2, 0, 0, 0),
		I(bytecode.OpGetK, 2, 0, 2, 0),
		I(bytecode.OpReturn, 1, 2, 0, 0),
	)
	p.Literals = []bytecode.Value{bytecode.Str("print")}
	assertContains(t, decompile(t, p), "return ::print;")
}

func TestIndexWithNonIdentifierKey(t *testing.T) {
	p := bctest.Func("f", []string{"t"},
		I(bytecode.OpGetK, 2, 0, 1, 0),
		I(bytecode.OpReturn, 1, 2, 0, 0),
	)
	p.Literals = []bytecode.Value{bytecode.Str("two words")}
	assertContains(t, decompile(t, p), `return t["two words"];`)
}

func TestSetAndIncrement(t *testing.T) {
	p := bctest.Func("f", []string{"t", "i"},
		I(bytecode.OpLoad, 3, 0, 0, 0),
		I(bytecode.OpLoadFloat, 4, 0x3F800000, 0, 0),
		I(bytecode.OpSet, 0xFF, 1, 3, 4),
		I(bytecode.OpPIncL, 3, 2, 0, 1),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	p.Literals = []bytecode.Value{bytecode.Str("ratio")}
	assertContains(t, decompile(t, p), "    t.ratio = 1.0;\n", "    i++;\n")
}

func TestUnaryOperators(t *testing.T) {
	p := bctest.Func("f", []string{"a"},
		I(bytecode.OpTypeOf, 2, 1, 0, 0),
		I(bytecode.OpReturn, 1, 2, 0, 0),
	)
	assertContains(t, decompile(t, p), "return typeof a;")
}

func nestedProgram(inner *bytecode.Prototype) *bytecode.Prototype {
	main := bctest.Func("main", nil,
		I(bytecode.OpLoad, 1, 0, 0, 0),
		I(bytecode.OpClosure, 2, 0, 0, 0),
		I(bytecode.OpNewSlot, 0xFF, 0, 1, 2),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	main.Literals = []bytecode.Value{bytecode.Str("inner")}
	return bctest.Nest(main, inner)
}

func TestClosureDefinition(t *testing.T) {
	inner := bctest.Func("inner", []string{"x"},
		I(bytecode.OpReturn, 1, 1, 0, 0),
	)
	out := decompile(t, nestedProgram(inner))
	assertContains(t, out, "    inner <- function inner(x) {\n        return x;\n    };\n")
}

func TestNestedFailureIsInlined(t *testing.T) {
	inner := bctest.Func("inner", nil,
		I(bytecode.OpNewObj, 1, -1, 0, uint8(bytecode.NewClass)),
	)
	out := decompile(t, nestedProgram(inner))
	assertContains(t, out, "inner <- function inner() {\n        // decompilation failed:", "not implemented")
}

func TestFailedRootKeepsNestedFunctions(t *testing.T) {
	inner := bctest.Func("inner", []string{"x"},
		I(bytecode.OpReturn, 1, 1, 0, 0),
	)
	main := bctest.Func("main", nil,
		I(bytecode.OpClosure, 1, 0, 0, 0),
		I(bytecode.OpNewObj, 2, -1, 0, uint8(bytecode.NewClass)),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	out, err := decompiler.Source(bctest.Nest(main, inner))
	if !errors.Is(err, decompiler.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	assertContains(t, out,
		"function main() {\n    // decompilation failed: main: NewObj at 1",
		"    function inner(x) {\n        return x;\n    }\n}\n",
	)
}

func TestFailedClosureKeepsItsNestedFunctions(t *testing.T) {
	leaf := bctest.Func("leaf", nil,
		I(bytecode.OpLoadInt, 1, 3, 0, 0),
		I(bytecode.OpReturn, 1, 1, 0, 0),
	)
	inner := bctest.Nest(bctest.Func("inner", nil,
		I(bytecode.OpClosure, 1, 0, 0, 0),
		I(bytecode.OpNewObj, 2, -1, 0, uint8(bytecode.NewClass)),
	), leaf)
	out := decompile(t, nestedProgram(inner))
	assertContains(t, out,
		"inner <- function inner() {\n        // decompilation failed:",
		"        function leaf() {\n            return 3;\n        }\n    };\n",
	)
}

func TestClosureInPrunedBlock(t *testing.T) {
	inner := bctest.Func("inner", []string{"x"},
		I(bytecode.OpReturn, 1, 1, 0, 0),
	)
	main := bctest.Func("main", nil,
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
		I(bytecode.OpClosure, 1, 0, 0, 0),
		I(bytecode.OpReturn, 1, 1, 0, 0),
	)
	f, err := decompiler.Decompile(bctest.Nest(main, inner))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Blocks) != 1 || len(f.Unreachable) != 1 {
		t.Fatalf("blocks = %d, unreachable = %d", len(f.Blocks), len(f.Unreachable))
	}
	want := "function main() {\n    return;\n    // unreachable\n" +
		"    function inner(x) {\n        return x;\n    }\n}\n"
	if out := f.String(); out != want {
		t.Errorf("got:\n%s\nwant:\n%s", out, want)
	}
}

func TestUnsupportedOpcode(t *testing.T) {
	p := bctest.Func("gen", nil,
		I(bytecode.OpLoadInt, 1, 1, 0, 0),
		I(bytecode.OpYield, 1, 1, 0, 0),
	)
	_, err := decompiler.Source(p)
	if !errors.Is(err, decompiler.ErrUnsupportedOpcode) {
		t.Fatalf("expected ErrUnsupportedOpcode, got %v", err)
	}
	var derr *decompiler.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *decompiler.Error, got %T", err)
	}
	if derr.Pos != 1 || derr.Op != bytecode.OpYield || derr.Function != "gen" {
		t.Errorf("error location = %+v", derr)
	}
}

func TestUnknownOpcodeByte(t *testing.T) {
	p := bctest.Func("f", nil, I(0x70, 0, 0, 0, 0))
	if _, err := decompiler.Source(p); !errors.Is(err, decompiler.ErrUnsupportedOpcode) {
		t.Fatalf("expected ErrUnsupportedOpcode, got %v", err)
	}
}

func TestReadOfEmptySlot(t *testing.T) {
	p := bctest.Func("f", nil, I(bytecode.OpReturn, 1, 5, 0, 0))
	_, err := decompiler.Source(p)
	if !errors.Is(err, decompiler.ErrState) {
		t.Fatalf("expected ErrState, got %v", err)
	}
}

func TestSlotsResetBetweenBlocks(t *testing.T) {
	// The value loaded in the first block is not visible in the join block.
	p := bctest.Func("f", []string{"a"},
		I(bytecode.OpLoadInt, 2, 9, 0, 0),
		I(bytecode.OpJz, 1, 1, 0, 0),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
		I(bytecode.OpReturn, 1, 2, 0, 0),
	)
	if _, err := decompiler.Source(p); !errors.Is(err, decompiler.ErrState) {
		t.Fatalf("expected ErrState for cross-block slot read, got %v", err)
	}
}

func TestRenderExpressions(t *testing.T) {
	lit := func(v bytecode.Value) *decompiler.Literal { return &decompiler.Literal{Value: v} }
	tests := []struct {
		e    decompiler.Expr
		want string
	}{
		{lit(bytecode.Null()), "null"},
		{lit(bytecode.Float(3)), "3.0"},
		{&decompiler.Accessor{Self: &decompiler.This{}, Key: lit(bytecode.Str("foo"))}, "foo"},
		{&decompiler.Accessor{Self: &decompiler.Local{Name: "a"}, Key: lit(bytecode.Int(0))}, "a[0]"},
		{&decompiler.Call{Callee: lit(bytecode.Str("f")), Args: []decompiler.Expr{lit(bytecode.Str("s"))}}, `f("s")`},
		{&decompiler.Binary{
			Left:  &decompiler.Binary{Left: &decompiler.Local{Name: "a"}, Op: decompiler.OpAdd, Right: &decompiler.Local{Name: "b"}},
			Op:    decompiler.OpMul,
			Right: lit(bytecode.Int(2)),
		}, "(a + b) * 2"},
		{&decompiler.Unary{Op: decompiler.OpPreDec, Operand: &decompiler.Local{Name: "n"}}, "--n"},
		{&decompiler.Assignment{Target: &decompiler.Local{Name: "v", First: true}, Value: lit(bytecode.Bool(false))}, "local v = false"},
	}
	for _, tt := range tests {
		if got := decompiler.Render(tt.e); got != tt.want {
			t.Errorf("Render = %q, want %q", got, tt.want)
		}
	}
}

func TestArrayLiteralOverflow(t *testing.T) {
	p := bctest.Func("f", nil,
		I(bytecode.OpNewObj, 1, 3, 0, 1),
		I(bytecode.OpAppendArray, 1, 1, 2, 0),
		I(bytecode.OpAppendArray, 1, 2, 2, 0),
		I(bytecode.OpAppendArray, 1, 3, 2, 0),
		I(bytecode.OpAppendArray, 1, 4, 2, 0),
		I(bytecode.OpReturn, 1, 1, 0, 0),
	)
	_, err := decompiler.Source(p)
	if !errors.Is(err, decompiler.ErrState) {
		t.Fatalf("expected ErrState, got %v", err)
	}
	var de *decompiler.Error
	if !errors.As(err, &de) || de.Pos != 4 {
		t.Errorf("error location = %+v", de)
	}
}

func TestDecompileIsDeterministic(t *testing.T) {
	p := bctest.Func("f", []string{"obj"},
		I(bytecode.OpPrepCallK, 2, 0, 1, 3),
		I(bytecode.OpLoadInt, 4, 1, 0, 0),
		I(bytecode.OpCall, 2, 2, 3, 2),
		I(bytecode.OpJz, 2, 1, 0, 0),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
		I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	p.Literals = []bytecode.Value{bytecode.Str("check")}
	first := decompile(t, p)
	for i := 0; i < 5; i++ {
		if again := decompile(t, p); again != first {
			t.Fatalf("run %d differs:\n%s\nvs\n%s", i, again, first)
		}
	}
}

func TestStatementsAreNeverConsumed(t *testing.T) {
	p := bctest.Func("f", []string{"obj"},
		I(bytecode.OpPrepCallK, 2, 0, 1, 3),
		I(bytecode.OpLoadInt, 4, 1, 0, 0),
		I(bytecode.OpCall, 0xFF, 2, 3, 2),
		I(bytecode.OpNewObj, 2, 1, 0, 1),
		I(bytecode.OpAppendArray, 2, 5, 2, 0),
		I(bytecode.OpReturn, 1, 2, 0, 0),
	)
	p.Literals = []bytecode.Value{bytecode.Str("check")}
	f, err := decompiler.Decompile(p)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, b := range f.Blocks {
		for _, st := range b.Statements {
			n++
			if st.Used() {
				t.Errorf("consumed expression in statements: %s", decompiler.Render(st))
			}
		}
	}
	if n != 2 {
		t.Errorf("got %d statements, want 2", n)
	}
}

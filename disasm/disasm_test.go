package disasm_test

import (
	"strings"
	"testing"

	"github.com/chazu/sqdis/bytecode"
	"github.com/chazu/sqdis/bytecode/bctest"
	"github.com/chazu/sqdis/disasm"
)

func TestFormatInstruction(t *testing.T) {
	p := bctest.Func("f", []string{"a", "b"})
	p.Literals = []bytecode.Value{bytecode.Str("print"), bytecode.Str("hi")}
	bctest.Local(p, "sum", 3, 0, 10)

	tests := []struct {
		in   bytecode.Instruction
		want string
	}{
		{bytecode.Instruction{Op: bytecode.OpAdd, Arg0: 3, Arg1: 2, Arg2: 1}, "sum = a + b"},
		{bytecode.Instruction{Op: bytecode.OpLoad, Arg0: 4, Arg1: 1}, `$stackVar4 = "hi"`},
		{bytecode.Instruction{Op: bytecode.OpLoadInt, Arg0: 3, Arg1: -2}, "sum = -2"},
		{bytecode.Instruction{Op: bytecode.OpPrepCallK, Arg0: 4, Arg1: 0, Arg2: 0, Arg3: 5}, "$stackVar4 = ($stackVar5 = this).print"},
		{bytecode.Instruction{Op: bytecode.OpCall, Arg0: 4, Arg1: 4, Arg2: 5, Arg3: 2}, "$stackVar4 = $stackVar4($stackVar5, $stackVar6)"},
		{bytecode.Instruction{Op: bytecode.OpCall, Arg0: 0xFF, Arg1: 4, Arg2: 254, Arg3: 3}, "$stackVar4($stackVar254, $stackVar255, $stackVar256)"},
		{bytecode.Instruction{Pos: 1, Op: bytecode.OpForEach, Arg0: 4, Arg1: 2, Arg2: 255}, "foreach ($stackVar255, $stackVar256 in $stackVar4)"},
		{bytecode.Instruction{Op: bytecode.OpEq, Arg0: 4, Arg1: 1, Arg2: 1, Arg3: 1}, `$stackVar4 = a == "hi"`},
		{bytecode.Instruction{Op: bytecode.OpCmp, Arg0: 4, Arg1: 2, Arg2: 1, Arg3: 3}, "$stackVar4 = a < b"},
		{bytecode.Instruction{Pos: 2, Op: bytecode.OpJz, Arg0: 4, Arg1: 5}, "if ($stackVar4 == 0) ip += 5 [8]"},
		{bytecode.Instruction{Pos: 7, Op: bytecode.OpJmp, Arg1: -4}, "ip += -4 [4]"},
		{bytecode.Instruction{Pos: 9, Op: bytecode.OpPostForEach, Arg0: 4, Arg1: -3}, "[6]"},
		{bytecode.Instruction{Op: bytecode.OpReturn, Arg0: 1, Arg1: 3}, "return sum"},
		{bytecode.Instruction{Op: bytecode.OpReturn, Arg0: 0xFF}, "return"},
	}
	for _, tt := range tests {
		got := disasm.FormatInstruction(p, tt.in)
		if !strings.HasPrefix(got, tt.in.Op.String()) {
			t.Errorf("%v: %q does not start with the mnemonic", tt.in.Op, got)
		}
		if !strings.Contains(got, tt.want) {
			t.Errorf("%v: %q does not contain %q", tt.in.Op, got, tt.want)
		}
	}
}

func TestFormatUnknownOpcode(t *testing.T) {
	p := bctest.Func("f", nil)
	got := disasm.FormatInstruction(p, bytecode.Instruction{Op: 0x70})
	if got != "(112) - todo" {
		t.Errorf("got %q", got)
	}
}

func TestFormatBadLiteralIndex(t *testing.T) {
	p := bctest.Func("f", nil)
	got := disasm.FormatInstruction(p, bytecode.Instruction{Op: bytecode.OpLoad, Arg0: 1, Arg1: 9})
	if !strings.Contains(got, "<literal 9?>") {
		t.Errorf("got %q", got)
	}
}

func program() *bytecode.Prototype {
	inner := bctest.Func("inner", nil,
		bctest.I(bytecode.OpLoadInt, 1, 1, 0, 0),
		bctest.I(bytecode.OpReturn, 1, 1, 0, 0),
	)
	main := bctest.Func("main", nil,
		bctest.I(bytecode.OpLoadInt, 1, 2, 0, 0),
		bctest.I(bytecode.OpClosure, 2, 0, 0, 0),
		bctest.I(bytecode.OpLoadInt, 3, 4, 0, 0),
		bctest.I(bytecode.OpReturn, 0xFF, 0, 0, 0),
	)
	main.Lines = []bytecode.LineInfo{{Line: 1, Op: 0}, {Line: 2, Op: 2}}
	return bctest.Nest(main, inner)
}

func TestDisassembleHeaderAndBody(t *testing.T) {
	out := disasm.Disassemble(program(), disasm.Options{})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[0] != "function main(this) {" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[len(lines)-1] != "}" {
		t.Errorf("footer = %q", lines[len(lines)-1])
	}
	if len(lines) != 6 {
		t.Errorf("expected 6 lines without closure expansion, got %d:\n%s", len(lines), out)
	}
	if strings.Contains(out, "function inner") {
		t.Error("nested function listed without ExpandClosures")
	}
}

func TestDisassembleExpandClosures(t *testing.T) {
	out := disasm.Disassemble(program(), disasm.Options{ExpandClosures: true})
	closure := strings.Index(out, "closure inner")
	nested := strings.Index(out, "    function inner(this) {")
	if closure < 0 || nested < 0 || nested < closure {
		t.Fatalf("nested listing should follow the Closure line:\n%s", out)
	}
	if !strings.Contains(out, "    }\n") {
		t.Errorf("nested listing should close at one level of indent:\n%s", out)
	}
}

func TestDisassembleLineNumbers(t *testing.T) {
	out := disasm.Disassemble(program(), disasm.Options{LineNumbers: true})
	lines := strings.Split(out, "\n")
	// lines[1..4] are the four instructions.
	if !strings.HasPrefix(lines[1], "0 1 ") {
		t.Errorf("first instruction should show line 1: %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "1   ") {
		t.Errorf("second instruction shares line 1 and should be blank: %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "2 2 ") {
		t.Errorf("third instruction starts line 2: %q", lines[3])
	}
}

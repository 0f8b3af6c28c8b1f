package disasm

import (
	"fmt"
	"strings"

	"github.com/chazu/sqdis/bytecode"
)

// FormatInstruction renders a single instruction as a padded mnemonic
// followed by a pseudo-source description of its operands. Slots are
// shown by local name where debug info names them.
func FormatInstruction(p *bytecode.Prototype, in bytecode.Instruction) string {
	if !in.Op.Known() {
		return fmt.Sprintf("(%d) - todo", uint8(in.Op))
	}
	return fmt.Sprintf("%-12s%s", in.Op, operands(p, in))
}

func operands(p *bytecode.Prototype, in bytecode.Instruction) string {
	slot := func(n int) string { return p.StackName(n, in.Pos) }
	s := func(n uint8) string { return slot(int(n)) }
	lit := func(i int32) string {
		if v, ok := p.Literal(i); ok {
			return v.Quoted()
		}
		return fmt.Sprintf("<literal %d?>", i)
	}
	rawLit := func(i int32) string {
		if v, ok := p.Literal(i); ok {
			return v.String()
		}
		return fmt.Sprintf("<literal %d?>", i)
	}
	dst := func(text string) string {
		if in.Arg0 == bytecode.NoTarget {
			return text
		}
		return s(in.Arg0) + " = " + text
	}
	jump := func() string {
		t, _ := in.Target()
		return fmt.Sprintf("ip += %d [%d]", in.Arg1, t)
	}

	switch in.Op {
	case bytecode.OpLine:
		return fmt.Sprintf("line %d", in.Arg1)
	case bytecode.OpLoad:
		return fmt.Sprintf("%s = %s", s(in.Arg0), lit(in.Arg1))
	case bytecode.OpLoadInt:
		return fmt.Sprintf("%s = %d", s(in.Arg0), in.Arg1)
	case bytecode.OpLoadFloat:
		return fmt.Sprintf("%s = %s", s(in.Arg0), bytecode.FormatFloat(in.Arg1Float()))
	case bytecode.OpDLoad:
		return fmt.Sprintf("%s = %s, %s = %s", s(in.Arg0), lit(in.Arg1), s(in.Arg2), lit(int32(in.Arg3)))
	case bytecode.OpLoadBool:
		return fmt.Sprintf("%s = %t", s(in.Arg0), in.Arg1 != 0)
	case bytecode.OpLoadNulls:
		return fmt.Sprintf("%d nulls starting at %s", in.Arg1, s(in.Arg0))
	case bytecode.OpLoadRoot:
		return fmt.Sprintf("%s = ::", s(in.Arg0))

	case bytecode.OpCall, bytecode.OpTailCall:
		args := make([]string, 0, int(in.Arg3))
		for i := 0; i < int(in.Arg3); i++ {
			args = append(args, slot(int(in.Arg2)+i))
		}
		return dst(fmt.Sprintf("%s(%s)", s(uint8(in.Arg1)), strings.Join(args, ", ")))
	case bytecode.OpPrepCall:
		return fmt.Sprintf("%s = (%s = %s)[%s]", s(in.Arg0), s(in.Arg3), s(in.Arg2), s(uint8(in.Arg1)))
	case bytecode.OpPrepCallK:
		return fmt.Sprintf("%s = (%s = %s).%s", s(in.Arg0), s(in.Arg3), s(in.Arg2), rawLit(in.Arg1))

	case bytecode.OpGetK:
		return fmt.Sprintf("%s = %s.%s", s(in.Arg0), s(in.Arg2), rawLit(in.Arg1))
	case bytecode.OpGet:
		return fmt.Sprintf("%s = %s[%s]", s(in.Arg0), s(uint8(in.Arg1)), s(in.Arg2))
	case bytecode.OpSet:
		return dst(fmt.Sprintf("%s[%s] = %s", s(uint8(in.Arg1)), s(in.Arg2), s(in.Arg3)))
	case bytecode.OpNewSlot:
		return dst(fmt.Sprintf("%s[%s] <- %s", s(uint8(in.Arg1)), s(in.Arg2), s(in.Arg3)))
	case bytecode.OpNewSlotA:
		return fmt.Sprintf("%s[%s] <- %s (flags %d)", s(uint8(in.Arg1)), s(in.Arg2), s(in.Arg3), in.Arg0)
	case bytecode.OpDelete:
		return dst(fmt.Sprintf("delete %s[%s]", s(uint8(in.Arg1)), s(in.Arg2)))

	case bytecode.OpMove:
		return fmt.Sprintf("%s = %s", s(in.Arg0), s(uint8(in.Arg1)))
	case bytecode.OpDMove:
		return fmt.Sprintf("%s = %s, %s = %s", s(in.Arg0), s(uint8(in.Arg1)), s(in.Arg2), s(in.Arg3))

	case bytecode.OpEq, bytecode.OpNe:
		op := "=="
		if in.Op == bytecode.OpNe {
			op = "!="
		}
		rhs := s(uint8(in.Arg1))
		if in.Arg3 != 0 {
			rhs = lit(in.Arg1)
		}
		return fmt.Sprintf("%s = %s %s %s", s(in.Arg0), s(in.Arg2), op, rhs)
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		return fmt.Sprintf("%s = %s %s %s", s(in.Arg0), s(in.Arg2), arithSymbol(in.Op), s(uint8(in.Arg1)))
	case bytecode.OpBitw:
		return fmt.Sprintf("%s = %s %s %s", s(in.Arg0), s(in.Arg2), bytecode.BitwOp(in.Arg3), s(uint8(in.Arg1)))
	case bytecode.OpCmp:
		return fmt.Sprintf("%s = %s %s %s", s(in.Arg0), s(in.Arg2), bytecode.CmpOp(in.Arg3), s(uint8(in.Arg1)))
	case bytecode.OpExists:
		return fmt.Sprintf("%s = %s in %s", s(in.Arg0), s(in.Arg2), s(uint8(in.Arg1)))
	case bytecode.OpInstanceOf:
		return fmt.Sprintf("%s = %s instanceof %s", s(in.Arg0), s(in.Arg2), s(uint8(in.Arg1)))
	case bytecode.OpCompArith:
		self := uint8(uint32(in.Arg1) >> 16)
		val := uint8(in.Arg1 & 0xFFFF)
		return dst(fmt.Sprintf("%s[%s] %c= %s", s(self), s(in.Arg2), rune(in.Arg3), s(val)))

	case bytecode.OpNeg:
		return fmt.Sprintf("%s = -%s", s(in.Arg0), s(uint8(in.Arg1)))
	case bytecode.OpNot:
		return fmt.Sprintf("%s = !%s", s(in.Arg0), s(uint8(in.Arg1)))
	case bytecode.OpBwNot:
		return fmt.Sprintf("%s = ~%s", s(in.Arg0), s(uint8(in.Arg1)))
	case bytecode.OpTypeOf:
		return fmt.Sprintf("%s = typeof %s", s(in.Arg0), s(uint8(in.Arg1)))
	case bytecode.OpClone:
		return fmt.Sprintf("%s = clone %s", s(in.Arg0), s(uint8(in.Arg1)))

	case bytecode.OpInc:
		return dst(fmt.Sprintf("%s%s[%s]", incSymbol(in.SignedArg3()), s(uint8(in.Arg1)), s(in.Arg2)))
	case bytecode.OpPInc:
		return dst(fmt.Sprintf("%s[%s]%s", s(uint8(in.Arg1)), s(in.Arg2), incSymbol(in.SignedArg3())))
	case bytecode.OpIncL:
		return dst(fmt.Sprintf("%s%s", incSymbol(in.SignedArg3()), s(uint8(in.Arg1))))
	case bytecode.OpPIncL:
		return dst(fmt.Sprintf("%s%s", s(uint8(in.Arg1)), incSymbol(in.SignedArg3())))

	case bytecode.OpReturn:
		if in.Arg0 == bytecode.NoTarget {
			return "return"
		}
		return "return " + s(uint8(in.Arg1))
	case bytecode.OpJmp:
		return jump()
	case bytecode.OpJz:
		return fmt.Sprintf("if (%s == 0) %s", s(in.Arg0), jump())
	case bytecode.OpJCmp:
		return fmt.Sprintf("if (!(%s %s %s)) %s", s(in.Arg2), bytecode.CmpOp(in.Arg3), s(in.Arg0), jump())
	case bytecode.OpAnd:
		return fmt.Sprintf("%s = %s; if (!%s) %s", s(in.Arg0), s(in.Arg2), s(in.Arg0), jump())
	case bytecode.OpOr:
		return fmt.Sprintf("%s = %s; if (%s) %s", s(in.Arg0), s(in.Arg2), s(in.Arg0), jump())

	case bytecode.OpGetOuter:
		return fmt.Sprintf("%s = %s", s(in.Arg0), outerName(p, in.Arg1))
	case bytecode.OpSetOuter:
		return dst(fmt.Sprintf("%s = %s", outerName(p, in.Arg1), s(in.Arg2)))

	case bytecode.OpNewObj:
		switch kind := bytecode.NewObjKind(in.Arg3); kind {
		case bytecode.NewClass:
			base := "none"
			if in.Arg1 != -1 {
				base = s(uint8(in.Arg1))
			}
			return fmt.Sprintf("%s = class extends %s", s(in.Arg0), base)
		default:
			return fmt.Sprintf("%s = %s(%d)", s(in.Arg0), kind, in.Arg1)
		}
	case bytecode.OpAppendArray:
		return fmt.Sprintf("%s.append(%s)", s(in.Arg0), appendOperand(p, in))

	case bytecode.OpClosure:
		if in.Arg1 >= 0 && int(in.Arg1) < len(p.Functions) {
			return fmt.Sprintf("%s = closure %s", s(in.Arg0), p.Functions[in.Arg1].DisplayName())
		}
		return fmt.Sprintf("%s = closure <function %d?>", s(in.Arg0), in.Arg1)
	case bytecode.OpYield:
		if in.Arg0 == bytecode.NoTarget {
			return "yield"
		}
		return "yield " + s(uint8(in.Arg1))
	case bytecode.OpResume:
		return fmt.Sprintf("%s = resume %s", s(in.Arg0), s(uint8(in.Arg1)))
	case bytecode.OpForEach:
		return fmt.Sprintf("foreach (%s, %s in %s) else %s", s(in.Arg2), slot(int(in.Arg2)+1), s(in.Arg0), jump())
	case bytecode.OpPostForEach:
		return fmt.Sprintf("if (%s finished) %s", s(in.Arg0), jump())

	case bytecode.OpPushTrap:
		return fmt.Sprintf("trap into %s, handler %s", s(in.Arg0), jump())
	case bytecode.OpPopTrap:
		return fmt.Sprintf("%d traps", in.Arg0)
	case bytecode.OpThrow:
		return "throw " + s(in.Arg0)
	case bytecode.OpGetBase:
		return fmt.Sprintf("%s = base", s(in.Arg0))
	case bytecode.OpClose:
		return fmt.Sprintf("outers from %s", s(uint8(in.Arg1)))
	}
	return fmt.Sprintf("(%d) - todo", uint8(in.Op))
}

func arithSymbol(op bytecode.Opcode) string {
	switch op {
	case bytecode.OpAdd:
		return "+"
	case bytecode.OpSub:
		return "-"
	case bytecode.OpMul:
		return "*"
	case bytecode.OpDiv:
		return "/"
	default:
		return "%"
	}
}

func incSymbol(delta int8) string {
	switch delta {
	case 1:
		return "++"
	case -1:
		return "--"
	default:
		return fmt.Sprintf("(+%d)", delta)
	}
}

func outerName(p *bytecode.Prototype, i int32) string {
	if i >= 0 && int(i) < len(p.OuterVars) {
		return "outer " + p.OuterVars[i].Name.String()
	}
	return fmt.Sprintf("outer[%d]", i)
}

func appendOperand(p *bytecode.Prototype, in bytecode.Instruction) string {
	switch bytecode.AppendKind(in.Arg2) {
	case bytecode.AppendStack:
		return p.StackName(int(in.Arg1), in.Pos)
	case bytecode.AppendLiteral:
		if v, ok := p.Literal(in.Arg1); ok {
			return v.Quoted()
		}
		return fmt.Sprintf("<literal %d?>", in.Arg1)
	case bytecode.AppendInt:
		return fmt.Sprintf("%d", in.Arg1)
	case bytecode.AppendFloat:
		return bytecode.FormatFloat(in.Arg1Float())
	case bytecode.AppendBool:
		return fmt.Sprintf("%t", in.Arg1 != 0)
	default:
		return fmt.Sprintf("<kind %d> %d", in.Arg2, in.Arg1)
	}
}

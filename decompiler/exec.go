package decompiler

import (
	"github.com/chazu/sqdis/bytecode"
)

func (s *state) exec(in bytecode.Instruction) error {
	a0, a1, a2, a3 := int(in.Arg0), int(in.Arg1), int(in.Arg2), int(in.Arg3)

	switch in.Op {
	case bytecode.OpLine, bytecode.OpClose:
		return nil

	case bytecode.OpLoad:
		lit, err := s.literal(in.Arg1)
		if err != nil {
			return err
		}
		return s.put(a0, lit)
	case bytecode.OpLoadInt:
		return s.put(a0, &Literal{Value: bytecode.Int(in.Arg1)})
	case bytecode.OpLoadFloat:
		return s.put(a0, &Literal{Value: bytecode.Float(in.Arg1Float())})
	case bytecode.OpLoadBool:
		return s.put(a0, &Literal{Value: bytecode.Bool(in.Arg1 != 0)})
	case bytecode.OpDLoad:
		first, err := s.literal(in.Arg1)
		if err != nil {
			return err
		}
		second, err := s.literal(int32(in.Arg3))
		if err != nil {
			return err
		}
		if err := s.put(a0, first); err != nil {
			return err
		}
		return s.put(a2, second)
	case bytecode.OpLoadNulls:
		for i := range a1 {
			if err := s.put(a0+i, &Literal{Value: bytecode.Null()}); err != nil {
				return err
			}
		}
		return nil
	case bytecode.OpLoadRoot:
		return s.put(a0, &RootTable{})

	case bytecode.OpMove:
		e, err := s.take(a1)
		if err != nil {
			return err
		}
		return s.put(a0, e)
	case bytecode.OpDMove:
		e, err := s.take(a1)
		if err != nil {
			return err
		}
		f, err := s.take(a3)
		if err != nil {
			return err
		}
		if err := s.put(a0, e); err != nil {
			return err
		}
		return s.put(a2, f)

	case bytecode.OpPrepCall, bytecode.OpPrepCallK:
		var key Expr
		var err error
		if in.Op == bytecode.OpPrepCallK {
			key, err = s.literal(in.Arg1)
		} else {
			key, err = s.take(a1)
		}
		if err != nil {
			return err
		}
		self, err := s.take(a2)
		if err != nil {
			return err
		}
		if err := s.put(a3, self); err != nil {
			return err
		}
		return s.put(a0, &Accessor{Self: self, Key: key})

	case bytecode.OpCall, bytecode.OpTailCall:
		callee, err := s.take(a1)
		if err != nil {
			return err
		}
		if a2 < len(s.slots) {
			s.slots[a2] = nil
		}
		call := &Call{Callee: callee}
		for i := 1; i < a3; i++ {
			arg, err := s.take(a2 + i)
			if err != nil {
				return err
			}
			call.Args = append(call.Args, arg)
		}
		if in.Op == bytecode.OpTailCall {
			call.markUsed()
			s.emit(&Return{Value: call})
			return nil
		}
		s.emit(call)
		return s.putTarget(call)

	case bytecode.OpGetK:
		self, err := s.take(a2)
		if err != nil {
			return err
		}
		key, err := s.literal(in.Arg1)
		if err != nil {
			return err
		}
		return s.put(a0, &Accessor{Self: self, Key: key})
	case bytecode.OpGet:
		self, key, err := s.take2(a1, a2)
		if err != nil {
			return err
		}
		return s.put(a0, &Accessor{Self: self, Key: key})

	case bytecode.OpSet, bytecode.OpNewSlot:
		return s.execSet(in, a1, a2, a3)

	case bytecode.OpDelete:
		self, key, err := s.take2(a1, a2)
		if err != nil {
			return err
		}
		del := &Unary{Op: OpDelete, Operand: &Accessor{Self: self, Key: key}}
		s.emit(del)
		return s.putTarget(del)

	case bytecode.OpEq, bytecode.OpNe:
		op := OpEq
		if in.Op == bytecode.OpNe {
			op = OpNe
		}
		lhs, err := s.take(a2)
		if err != nil {
			return err
		}
		var rhs Expr
		if in.Arg3 != 0 {
			rhs, err = s.literal(in.Arg1)
		} else if a1 == a2 {
			rhs = lhs
		} else {
			rhs, err = s.take(a1)
		}
		if err != nil {
			return err
		}
		return s.put(a0, &Binary{Left: lhs, Op: op, Right: rhs})

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		return s.binary(a0, a2, arithOps[in.Op], a1)
	case bytecode.OpBitw:
		op, ok := bitwOps[bytecode.BitwOp(in.Arg3)]
		if !ok {
			return s.fail(ErrState, "bitwise selector %d", in.Arg3)
		}
		return s.binary(a0, a2, op, a1)
	case bytecode.OpCmp:
		op, err := s.cmpOp(in.Arg3)
		if err != nil {
			return err
		}
		return s.binary(a0, a2, op, a1)
	case bytecode.OpExists:
		return s.binary(a0, a2, OpIn, a1)
	case bytecode.OpInstanceOf:
		return s.binary(a0, a2, OpInstanceOf, a1)

	case bytecode.OpNeg, bytecode.OpNot, bytecode.OpBwNot, bytecode.OpTypeOf, bytecode.OpClone:
		operand, err := s.take(a1)
		if err != nil {
			return err
		}
		return s.put(a0, &Unary{Op: unaryOps[in.Op], Operand: operand})

	case bytecode.OpInc, bytecode.OpPInc:
		self, key, err := s.take2(a1, a2)
		if err != nil {
			return err
		}
		return s.increment(&Accessor{Self: self, Key: key}, in.SignedArg3(), in.Op == bytecode.OpPInc)
	case bytecode.OpIncL, bytecode.OpPIncL:
		target, err := s.take(a1)
		if err != nil {
			return err
		}
		return s.increment(target, in.SignedArg3(), in.Op == bytecode.OpPIncL)

	case bytecode.OpCompArith:
		selfSlot := int(uint32(in.Arg1) >> 16)
		valSlot := int(in.Arg1 & 0xFFFF)
		op, ok := compoundOps[in.Arg3]
		if !ok {
			return s.fail(ErrState, "compound operator %q", rune(in.Arg3))
		}
		self, key, err := s.take2(selfSlot, a2)
		if err != nil {
			return err
		}
		val, err := s.take(valSlot)
		if err != nil {
			return err
		}
		e := &Binary{Left: &Accessor{Self: self, Key: key}, Op: op, Right: val}
		s.emit(e)
		return s.putTarget(e)

	case bytecode.OpGetOuter:
		return s.put(a0, s.outer(in.Arg1))
	case bytecode.OpSetOuter:
		val, err := s.take(a2)
		if err != nil {
			return err
		}
		e := &Assignment{Target: s.outer(in.Arg1), Value: val}
		s.emit(e)
		return s.putTarget(e)

	case bytecode.OpNewObj:
		switch bytecode.NewObjKind(in.Arg3) {
		case bytecode.NewTable:
			return s.put(a0, newTable(a1))
		case bytecode.NewArray:
			return s.put(a0, newArray(a1))
		case bytecode.NewClass:
			return s.fail(ErrNotImplemented, "class declaration")
		}
		return s.fail(ErrState, "object kind %d", in.Arg3)
	case bytecode.OpAppendArray:
		return s.appendArray(in, a0)

	case bytecode.OpClosure:
		sub := s.blk.Closures[in.Pos]
		if sub == nil {
			return s.fail(ErrState, "closure references missing function %d", in.Arg1)
		}
		return s.put(a0, closure(sub))

	case bytecode.OpReturn:
		ret := &Return{}
		if in.Arg0 != bytecode.NoTarget {
			v, err := s.take(a1)
			if err != nil {
				return err
			}
			ret.Value = v
		}
		s.emit(ret)
		return nil

	case bytecode.OpJz:
		cond, err := s.take(a0)
		if err != nil {
			return err
		}
		if !conditionShaped(cond) {
			cond = &Unary{Op: OpNot, Operand: cond}
		}
		s.emit(&If{Cond: cond})
		return nil
	case bytecode.OpJCmp:
		op, err := s.cmpOp(in.Arg3)
		if err != nil {
			return err
		}
		lhs, rhs, err := s.take2(a2, a0)
		if err != nil {
			return err
		}
		s.emit(&If{Cond: &Binary{Left: lhs, Op: op, Right: rhs}})
		return nil
	case bytecode.OpJmp:
		target, _ := in.Target()
		s.emit(&Jump{Target: target})
		return nil
	}

	return s.fail(ErrUnsupportedOpcode, "")
}

func (s *state) binary(dst, lhs int, op Operator, rhs int) error {
	l, r, err := s.take2(lhs, rhs)
	if err != nil {
		return err
	}
	return s.put(dst, &Binary{Left: l, Op: op, Right: r})
}

func (s *state) increment(target Expr, delta int8, postfix bool) error {
	var e Expr
	if op, ok := incOp(delta, postfix); ok {
		e = &Unary{Op: op, Operand: target}
	} else {
		e = &Binary{Left: target, Op: OpAddAssign, Right: &Literal{Value: bytecode.Int(int32(delta))}}
	}
	s.emit(e)
	return s.putTarget(e)
}

func (s *state) outer(i int32) *Local {
	name := "$outer"
	if i >= 0 && int(i) < len(s.proto.OuterVars) {
		name = s.proto.OuterVars[i].Name.String()
	}
	return &Local{Slot: -1, Name: name}
}

// execSet handles Set and NewSlot. A NewSlot into a table literal that is
// still being built adds a pair instead of producing a statement.
func (s *state) execSet(in bytecode.Instruction, self, key, val int) error {
	if in.Op == bytecode.OpNewSlot && self > 0 && self < len(s.slots) {
		if t, ok := s.slots[self].(*Table); ok {
			k, v, err := s.take2(key, val)
			if err != nil {
				return err
			}
			if !t.add(k, v) {
				return s.fail(ErrState, "table literal exceeds its %d entries", len(t.Pairs))
			}
			return nil
		}
	}

	obj, k, err := s.take2(self, key)
	if err != nil {
		return err
	}
	v, err := s.take(val)
	if err != nil {
		return err
	}
	target := &Accessor{Self: obj, Key: k}
	var e Expr
	if in.Op == bytecode.OpNewSlot {
		e = &NewSlot{Target: target, Value: v}
	} else {
		e = &Assignment{Target: target, Value: v}
	}
	s.emit(e)
	return s.putTarget(e)
}

func (s *state) appendArray(in bytecode.Instruction, slot int) error {
	if slot >= len(s.slots) {
		return s.fail(ErrState, "append to slot %d outside stack", slot)
	}
	arr, ok := s.slots[slot].(*Array)
	if !ok {
		return s.fail(ErrState, "append to non-array slot %d", slot)
	}

	var elem Expr
	var err error
	switch bytecode.AppendKind(in.Arg2) {
	case bytecode.AppendStack:
		elem, err = s.take(int(in.Arg1))
	case bytecode.AppendLiteral:
		elem, err = s.literal(in.Arg1)
	case bytecode.AppendInt:
		elem = &Literal{Value: bytecode.Int(in.Arg1)}
	case bytecode.AppendFloat:
		elem = &Literal{Value: bytecode.Float(in.Arg1Float())}
	case bytecode.AppendBool:
		elem = &Literal{Value: bytecode.Bool(in.Arg1 != 0)}
	default:
		return s.fail(ErrState, "append kind %d", in.Arg2)
	}
	if err != nil {
		return err
	}
	if !arr.push(elem) {
		return s.fail(ErrState, "array literal exceeds its %d elements", len(arr.Elems))
	}
	return nil
}

// Package decompiler reconstructs approximate Squirrel source from a
// control-flow graph by symbolically executing each block over a model of
// the function's stack slots.
package decompiler

import (
	"fmt"
	"strings"

	"github.com/chazu/sqdis/bytecode"
	"github.com/chazu/sqdis/cfg"
)

// Function is a decompiled function body.
type Function struct {
	Proto  *bytecode.Prototype
	Graph  *cfg.Graph
	Blocks []Block

	// Unreachable holds the closures created in pruned blocks.
	Unreachable []*Closure
}

// Block holds the statements recovered from one live basic block.
type Block struct {
	Block      *cfg.Block
	Statements []Expr
}

// Decompile builds the control-flow graph of p and decompiles it.
func Decompile(p *bytecode.Prototype) (*Function, error) {
	return DecompileGraph(cfg.Build(p))
}

// Source decompiles p and renders the result. When p itself fails the
// text still carries a failure marker and every nested function, and the
// error is returned alongside it.
func Source(p *bytecode.Prototype) (string, error) {
	g := cfg.Build(p)
	fn, err := DecompileGraph(g)
	if err != nil {
		var sb strings.Builder
		writeFailed(&sb, g, err, 0)
		sb.WriteByte('\n')
		return sb.String(), err
	}
	return fn.String(), nil
}

// DecompileGraph decompiles every live block of g in address order.
// Nested functions are decompiled independently; their failures are
// recorded on the Closure node rather than returned.
func DecompileGraph(g *cfg.Graph) (*Function, error) {
	s := &state{
		proto: g.Proto,
		seen:  make(map[*bytecode.LocalVar]bool),
		size:  max(int(g.Proto.StackSize), len(g.Proto.Parameters), 1),
	}
	fn := &Function{Proto: g.Proto, Graph: g}
	for _, blk := range g.Ordered() {
		stmts, err := s.block(blk)
		if err != nil {
			return nil, err
		}
		fn.Blocks = append(fn.Blocks, Block{Block: blk, Statements: stmts})
	}
	for _, c := range g.Closures {
		if owner := blockOf(g, c.Pos); owner != nil && owner.Dead() {
			fn.Unreachable = append(fn.Unreachable, closure(c.Graph))
		}
	}
	return fn, nil
}

func closure(g *cfg.Graph) *Closure {
	c := &Closure{Proto: g.Proto, Graph: g}
	c.Func, c.Err = DecompileGraph(g)
	return c
}

// blockOf returns the block, live or pruned, holding ip.
func blockOf(g *cfg.Graph, ip int) *cfg.Block {
	for _, b := range g.Blocks {
		if b.Contains(ip) {
			return b
		}
	}
	return nil
}

type state struct {
	proto *bytecode.Prototype
	size  int
	seen  map[*bytecode.LocalVar]bool

	blk     *cfg.Block
	in      bytecode.Instruction
	slots   []Expr
	emitted []Expr
}

func (s *state) block(blk *cfg.Block) ([]Expr, error) {
	s.blk = blk
	s.slots = make([]Expr, s.size)
	s.emitted = nil

	for _, in := range blk.Instructions() {
		s.in = in
		if err := s.exec(in); err != nil {
			return nil, err
		}
		s.bindLocals()
	}

	var stmts []Expr
	for _, e := range s.emitted {
		if !e.Used() {
			stmts = append(stmts, e)
		}
	}
	return stmts, nil
}

func (s *state) fail(err error, format string, args ...any) error {
	if format != "" {
		err = fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
	}
	return &Error{
		Function: s.proto.QualifiedName(),
		Pos:      s.in.Pos,
		Op:       s.in.Op,
		Err:      err,
	}
}

func (s *state) emit(e Expr) { s.emitted = append(s.emitted, e) }

// take consumes the expression held in slot. Slot 0 is always the
// receiver. An empty slot that carries a name reads the variable.
func (s *state) take(slot int) (Expr, error) {
	if slot == 0 {
		return &This{}, nil
	}
	if slot < len(s.slots) {
		if e := s.slots[slot]; e != nil {
			s.slots[slot] = nil
			e.markUsed()
			return e, nil
		}
	}
	if lv := s.proto.GetLocal(slot, s.in.Pos); lv != nil {
		return &Local{Slot: slot, Name: lv.Name.String()}, nil
	}
	if slot >= len(s.slots) {
		return nil, s.fail(ErrState, "slot %d outside stack of %d", slot, len(s.slots))
	}
	return nil, s.fail(ErrState, "read of empty slot %d", slot)
}

// take2 consumes two operands, sharing the expression when both name the
// same slot.
func (s *state) take2(a, b int) (Expr, Expr, error) {
	x, err := s.take(a)
	if err != nil {
		return nil, nil, err
	}
	if a == b {
		return x, x, nil
	}
	y, err := s.take(b)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func (s *state) put(slot int, e Expr) error {
	if slot < 0 || slot >= len(s.slots) {
		return s.fail(ErrState, "write to slot %d outside stack of %d", slot, len(s.slots))
	}
	s.slots[slot] = e
	return nil
}

// putTarget stores e in the destination slot unless the instruction
// discards its result.
func (s *state) putTarget(e Expr) error {
	if s.in.Arg0 == bytecode.NoTarget {
		return nil
	}
	return s.put(int(s.in.Arg0), e)
}

func (s *state) literal(i int32) (Expr, error) {
	v, ok := s.proto.Literal(i)
	if !ok {
		return nil, s.fail(ErrState, "literal %d out of range", i)
	}
	return &Literal{Value: v}, nil
}

// bindLocals turns values left in slots that are now named into local
// assignments. A local's range starts just after its initializer, so the
// initializing instruction is the last one for which the slot is still
// anonymous to the compiler and already named here.
func (s *state) bindLocals() {
	for slot := 1; slot < len(s.slots); slot++ {
		e := s.slots[slot]
		if e == nil {
			continue
		}
		lv := s.proto.GetLocal(slot, s.in.Pos)
		if lv == nil {
			continue
		}
		s.slots[slot] = nil
		e.markUsed()

		first := false
		if !lv.Param && !s.seen[lv] {
			s.seen[lv] = true
			first = true
		}
		s.emit(&Assignment{
			Target: &Local{Slot: slot, Name: lv.Name.String(), First: first},
			Value:  e,
		})
	}
}

var arithOps = map[bytecode.Opcode]Operator{
	bytecode.OpAdd: OpAdd,
	bytecode.OpSub: OpSub,
	bytecode.OpMul: OpMul,
	bytecode.OpDiv: OpDiv,
	bytecode.OpMod: OpMod,
}

var unaryOps = map[bytecode.Opcode]Operator{
	bytecode.OpNeg:    OpNeg,
	bytecode.OpNot:    OpNot,
	bytecode.OpBwNot:  OpBwNot,
	bytecode.OpTypeOf: OpTypeOf,
	bytecode.OpClone:  OpClone,
}

var bitwOps = map[bytecode.BitwOp]Operator{
	bytecode.BitwAnd:         OpBitAnd,
	bytecode.BitwOr:          OpBitOr,
	bytecode.BitwXor:         OpBitXor,
	bytecode.BitwShiftLeft:   OpShiftLeft,
	bytecode.BitwShiftRight:  OpShiftRight,
	bytecode.BitwUShiftRight: OpUShiftRight,
}

var cmpOps = map[bytecode.CmpOp]Operator{
	bytecode.CmpGt: OpGt,
	bytecode.CmpGe: OpGe,
	bytecode.CmpLt: OpLt,
	bytecode.CmpLe: OpLe,
	bytecode.Cmp3W: Op3Way,
}

var compoundOps = map[byte]Operator{
	'+': OpAddAssign,
	'-': OpSubAssign,
	'*': OpMulAssign,
	'/': OpDivAssign,
	'%': OpModAssign,
}

func (s *state) cmpOp(sel uint8) (Operator, error) {
	op, ok := cmpOps[bytecode.CmpOp(sel)]
	if !ok {
		return 0, s.fail(ErrState, "comparison selector %d", sel)
	}
	return op, nil
}

func incOp(delta int8, postfix bool) (Operator, bool) {
	switch {
	case delta == 1 && postfix:
		return OpPostInc, true
	case delta == 1:
		return OpPreInc, true
	case delta == -1 && postfix:
		return OpPostDec, true
	case delta == -1:
		return OpPreDec, true
	}
	return 0, false
}

package decompiler

import (
	"fmt"

	"github.com/chazu/sqdis/bytecode"
	"github.com/chazu/sqdis/cfg"
)

// Expr is a node of the reconstructed expression tree. The set of node
// types is closed; rendering switches over them.
type Expr interface {
	// Used reports whether the node has been consumed as an operand of
	// another expression.
	Used() bool
	markUsed()
}

type node struct{ used bool }

func (n *node) Used() bool { return n.used }
func (n *node) markUsed()  { n.used = true }

// Operator is a unary, binary or compound-assignment operator.
type Operator int

const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShiftLeft
	OpShiftRight
	OpUShiftRight
	OpEq
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	Op3Way
	OpIn
	OpInstanceOf
	OpAnd
	OpOr

	OpNeg
	OpNot
	OpBwNot
	OpTypeOf
	OpClone
	OpDelete
	OpPreInc
	OpPreDec
	OpPostInc
	OpPostDec

	OpAddAssign
	OpSubAssign
	OpMulAssign
	OpDivAssign
	OpModAssign
)

var operatorText = map[Operator]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpBitAnd: "&", OpBitOr: "|", OpBitXor: "^",
	OpShiftLeft: "<<", OpShiftRight: ">>", OpUShiftRight: ">>>",
	OpEq: "==", OpNe: "!=", OpGt: ">", OpGe: ">=", OpLt: "<", OpLe: "<=", Op3Way: "<=>",
	OpIn: "in", OpInstanceOf: "instanceof", OpAnd: "&&", OpOr: "||",
	OpNeg: "-", OpNot: "!", OpBwNot: "~", OpTypeOf: "typeof", OpClone: "clone", OpDelete: "delete",
	OpPreInc: "++", OpPreDec: "--", OpPostInc: "++", OpPostDec: "--",
	OpAddAssign: "+=", OpSubAssign: "-=", OpMulAssign: "*=", OpDivAssign: "/=", OpModAssign: "%=",
}

func (o Operator) String() string {
	if s, ok := operatorText[o]; ok {
		return s
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// IsComparison reports whether o yields a boolean from two operands.
func (o Operator) IsComparison() bool {
	return o >= OpEq && o <= OpOr && o != Op3Way
}

func (o Operator) isWord() bool {
	return o == OpTypeOf || o == OpClone || o == OpDelete
}

func (o Operator) isPostfix() bool {
	return o == OpPostInc || o == OpPostDec
}

type (
	// Literal is a constant.
	Literal struct {
		node
		Value bytecode.Value
	}

	// Local reads or writes a named slot. First marks the declaring
	// assignment of a local variable.
	Local struct {
		node
		Slot  int
		Name  string
		First bool
	}

	// This is the implicit receiver in slot 0.
	This struct{ node }

	// RootTable is the global table.
	RootTable struct{ node }

	// Accessor is Self[Key].
	Accessor struct {
		node
		Self Expr
		Key  Expr
	}

	// Array is an array literal under construction. Only the first Len()
	// elements have been appended.
	Array struct {
		node
		Elems []Expr
		n     int
	}

	// Table is a table literal under construction.
	Table struct {
		node
		Pairs []Pair
		n     int
	}

	Binary struct {
		node
		Left  Expr
		Op    Operator
		Right Expr
	}

	Unary struct {
		node
		Op      Operator
		Operand Expr
	}

	Call struct {
		node
		Callee Expr
		Args   []Expr
	}

	Assignment struct {
		node
		Target Expr
		Value  Expr
	}

	// NewSlot creates a slot: Target <- Value.
	NewSlot struct {
		node
		Target *Accessor
		Value  Expr
	}

	Return struct {
		node
		Value Expr
	}

	// Closure is a nested function definition. Err is set when the body
	// could not be decompiled.
	Closure struct {
		node
		Proto *bytecode.Prototype
		Graph *cfg.Graph
		Func  *Function
		Err   error
	}

	// If is the condition of a conditional jump; the control structure
	// itself is not reconstructed.
	If struct {
		node
		Cond Expr
	}

	// Jump is an unconditional transfer to Target.
	Jump struct {
		node
		Target int
	}
)

// Pair is one key/value entry of a table literal.
type Pair struct {
	Key   Expr
	Value Expr
}

func newArray(capacity int) *Array {
	return &Array{Elems: make([]Expr, max(capacity, 0))}
}

// Len returns the number of appended elements.
func (a *Array) Len() int { return a.n }

func (a *Array) push(e Expr) bool {
	if a.n >= len(a.Elems) {
		return false
	}
	a.Elems[a.n] = e
	a.n++
	return true
}

func newTable(capacity int) *Table {
	return &Table{Pairs: make([]Pair, max(capacity, 0))}
}

// Len returns the number of pairs added so far.
func (t *Table) Len() int { return t.n }

func (t *Table) add(k, v Expr) bool {
	if t.n >= len(t.Pairs) {
		return false
	}
	t.Pairs[t.n] = Pair{Key: k, Value: v}
	t.n++
	return true
}

// conditionShaped reports whether e already reads as a boolean test.
func conditionShaped(e Expr) bool {
	switch e := e.(type) {
	case *Binary:
		return e.Op.IsComparison()
	case *Unary:
		return e.Op == OpNot
	}
	return false
}

package bytecode

import (
	"fmt"
	"math"
	"sort"
)

// Instruction is one decoded VM instruction. Pos is its index within the
// owning prototype's instruction array.
type Instruction struct {
	Pos  int
	Op   Opcode
	Arg0 uint8
	Arg1 int32
	Arg2 uint8
	Arg3 uint8
}

// NoTarget marks an unused destination slot in Arg0.
const NoTarget = 0xFF

// Arg1Float reinterprets Arg1 as an IEEE-754 single.
func (in Instruction) Arg1Float() float32 {
	return math.Float32frombits(uint32(in.Arg1))
}

// SignedArg3 returns Arg3 as a signed byte, the form used for increments.
func (in Instruction) SignedArg3() int8 {
	return int8(in.Arg3)
}

// Target returns the absolute jump target for control-transfer opcodes.
func (in Instruction) Target() (int, bool) {
	info, ok := opcodeInfoTable[in.Op]
	if !ok || info.Jump == JumpNone {
		return 0, false
	}
	return in.Pos + int(in.Arg1) + info.Bias, true
}

func (in Instruction) String() string {
	return fmt.Sprintf("%s %d %d %d %d", in.Op, in.Arg0, in.Arg1, in.Arg2, in.Arg3)
}

// OuterKind says whether a captured variable comes from the enclosing
// function's stack or from its own outer list.
type OuterKind uint32

const (
	OuterLocal OuterKind = 0
	OuterOuter OuterKind = 1
)

// OuterVar describes a variable captured from an enclosing scope.
type OuterVar struct {
	Kind OuterKind
	Src  Value
	Name Value
}

// LocalVar records a named stack slot and the instruction range in which
// the name is live. StartOp and EndOp use the compiler's convention of
// pointing one past the instruction that initialized the variable.
type LocalVar struct {
	Name    Value
	Pos     uint32
	StartOp uint32
	EndOp   uint32
	// Param is set for entries synthesized from the parameter list.
	Param bool
}

// Live reports whether the variable is in scope at instruction ip.
func (l *LocalVar) Live(ip int) bool {
	op := ip + 1
	return int(l.StartOp) <= op && op <= int(l.EndOp)
}

// LineInfo maps the instruction at Op to a source line.
type LineInfo struct {
	Line int32
	Op   int32
}

// Prototype is a compiled function: code, constants, debug information
// and nested function prototypes.
type Prototype struct {
	Parent *Prototype

	SourceName Value
	Name       Value

	Literals      []Value
	Parameters    []Value
	OuterVars     []OuterVar
	LocalVars     []LocalVar
	Lines         []LineInfo
	DefaultParams []int32
	Instructions  []Instruction
	Functions     []*Prototype

	StackSize   int32
	IsGenerator bool
	VarParams   bool
}

// DisplayName returns the function name, or a placeholder for anonymous
// functions.
func (p *Prototype) DisplayName() string {
	if p.Name.IsString() && p.Name.AsString() != "" {
		return p.Name.AsString()
	}
	return "<anonymous>"
}

// QualifiedName joins the names of p and its enclosing prototypes with dots.
func (p *Prototype) QualifiedName() string {
	if p.Parent == nil {
		return p.DisplayName()
	}
	return p.Parent.QualifiedName() + "." + p.DisplayName()
}

// ParamNames renders the parameter list, with the trailing variadic
// parameter shown as "...".
func (p *Prototype) ParamNames() []string {
	names := make([]string, 0, len(p.Parameters))
	for i, param := range p.Parameters {
		if p.VarParams && i == len(p.Parameters)-1 {
			names = append(names, "...")
			continue
		}
		names = append(names, param.String())
	}
	return names
}

// Literal returns literal i, or false when the index is out of range.
func (p *Prototype) Literal(i int32) (Value, bool) {
	if i < 0 || int(i) >= len(p.Literals) {
		return Value{}, false
	}
	return p.Literals[i], true
}

// Line returns the source line of the instruction at ip: the entry with
// the greatest op not after ip. Addresses before the first entry map to
// the first line.
func (p *Prototype) Line(ip int) (int, bool) {
	if len(p.Lines) == 0 {
		return 0, false
	}
	i := sort.Search(len(p.Lines), func(i int) bool {
		return int(p.Lines[i].Op) > ip
	}) - 1
	if i < 0 {
		i = 0
	}
	return int(p.Lines[i].Line), true
}

// LineRange returns the smallest and largest source lines recorded.
func (p *Prototype) LineRange() (first, last int) {
	for i, li := range p.Lines {
		l := int(li.Line)
		if i == 0 || l < first {
			first = l
		}
		if l > last {
			last = l
		}
	}
	return first, last
}

// GetLocalVar returns the named local occupying slot at ip, or nil.
func (p *Prototype) GetLocalVar(slot, ip int) *LocalVar {
	for i := range p.LocalVars {
		lv := &p.LocalVars[i]
		if int(lv.Pos) == slot && lv.Live(ip) {
			return lv
		}
	}
	return nil
}

// GetLocal is GetLocalVar with a fallback to the parameter list: parameter
// slots are live for the whole function.
func (p *Prototype) GetLocal(slot, ip int) *LocalVar {
	if lv := p.GetLocalVar(slot, ip); lv != nil {
		return lv
	}
	if slot >= 0 && slot < len(p.Parameters) {
		return &LocalVar{
			Name:    p.Parameters[slot],
			Pos:     uint32(slot),
			StartOp: 0,
			EndOp:   uint32(len(p.Instructions)),
			Param:   true,
		}
	}
	return nil
}

// HasNamedLocal reports whether slot carries a name at ip.
func (p *Prototype) HasNamedLocal(slot, ip int) bool {
	return p.GetLocal(slot, ip) != nil
}

// StackName returns the name of slot at ip, or a synthesized placeholder.
func (p *Prototype) StackName(slot, ip int) string {
	if lv := p.GetLocal(slot, ip); lv != nil {
		return lv.Name.String()
	}
	return fmt.Sprintf("$stackVar%d", slot)
}

// Walk calls fn for p and every nested prototype, depth first, parents
// before children. Returning false stops descent into that prototype's
// children.
func (p *Prototype) Walk(fn func(*Prototype) bool) {
	if !fn(p) {
		return
	}
	for _, child := range p.Functions {
		if child != nil {
			child.Walk(fn)
		}
	}
}

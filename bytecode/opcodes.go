package bytecode

import "fmt"

// Opcode is a Squirrel 3.1 virtual machine instruction code.
type Opcode uint8

const (
	OpLine        Opcode = 0x00
	OpLoad        Opcode = 0x01
	OpLoadInt     Opcode = 0x02
	OpLoadFloat   Opcode = 0x03
	OpDLoad       Opcode = 0x04
	OpTailCall    Opcode = 0x05
	OpCall        Opcode = 0x06
	OpPrepCall    Opcode = 0x07
	OpPrepCallK   Opcode = 0x08
	OpGetK        Opcode = 0x09
	OpMove        Opcode = 0x0A
	OpNewSlot     Opcode = 0x0B
	OpDelete      Opcode = 0x0C
	OpSet         Opcode = 0x0D
	OpGet         Opcode = 0x0E
	OpEq          Opcode = 0x0F
	OpNe          Opcode = 0x10
	OpAdd         Opcode = 0x11
	OpSub         Opcode = 0x12
	OpMul         Opcode = 0x13
	OpDiv         Opcode = 0x14
	OpMod         Opcode = 0x15
	OpBitw        Opcode = 0x16
	OpReturn      Opcode = 0x17
	OpLoadNulls   Opcode = 0x18
	OpLoadRoot    Opcode = 0x19
	OpLoadBool    Opcode = 0x1A
	OpDMove       Opcode = 0x1B
	OpJmp         Opcode = 0x1C
	OpJCmp        Opcode = 0x1D
	OpJz          Opcode = 0x1E
	OpSetOuter    Opcode = 0x1F
	OpGetOuter    Opcode = 0x20
	OpNewObj      Opcode = 0x21
	OpAppendArray Opcode = 0x22
	OpCompArith   Opcode = 0x23
	OpInc         Opcode = 0x24
	OpIncL        Opcode = 0x25
	OpPInc        Opcode = 0x26
	OpPIncL       Opcode = 0x27
	OpCmp         Opcode = 0x28
	OpExists      Opcode = 0x29
	OpInstanceOf  Opcode = 0x2A
	OpAnd         Opcode = 0x2B
	OpOr          Opcode = 0x2C
	OpNeg         Opcode = 0x2D
	OpNot         Opcode = 0x2E
	OpBwNot       Opcode = 0x2F
	OpClosure     Opcode = 0x30
	OpYield       Opcode = 0x31
	OpResume      Opcode = 0x32
	OpForEach     Opcode = 0x33
	OpPostForEach Opcode = 0x34
	OpClone       Opcode = 0x35
	OpTypeOf      Opcode = 0x36
	OpPushTrap    Opcode = 0x37
	OpPopTrap     Opcode = 0x38
	OpThrow       Opcode = 0x39
	OpNewSlotA    Opcode = 0x3A
	OpGetBase     Opcode = 0x3B
	OpClose       Opcode = 0x3C
)

// JumpKind classifies how an opcode transfers control.
type JumpKind uint8

const (
	// JumpNone never leaves the straight-line sequence.
	JumpNone JumpKind = iota
	// JumpAlways unconditionally transfers to its target.
	JumpAlways
	// JumpConditional either falls through or transfers to its target.
	JumpConditional
	// JumpShortCircuit skips ahead within an expression (&&, ||) and does
	// not end a basic block.
	JumpShortCircuit
	// JumpTrap registers an exception handler address.
	JumpTrap
	// JumpLoopExit leaves a generator foreach loop. Its target is shown in
	// listings but it does not end a basic block.
	JumpLoopExit
)

// OpcodeInfo provides metadata about each opcode for display and analysis.
type OpcodeInfo struct {
	Name string
	Jump JumpKind
	// Bias is added to ip+arg1 to compute the jump target.
	Bias int
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpLine:        {Name: "Line"},
	OpLoad:        {Name: "Load"},
	OpLoadInt:     {Name: "LoadInt"},
	OpLoadFloat:   {Name: "LoadFloat"},
	OpDLoad:       {Name: "DLoad"},
	OpTailCall:    {Name: "TailCall"},
	OpCall:        {Name: "Call"},
	OpPrepCall:    {Name: "PrepCall"},
	OpPrepCallK:   {Name: "PrepCallK"},
	OpGetK:        {Name: "GetK"},
	OpMove:        {Name: "Move"},
	OpNewSlot:     {Name: "NewSlot"},
	OpDelete:      {Name: "Delete"},
	OpSet:         {Name: "Set"},
	OpGet:         {Name: "Get"},
	OpEq:          {Name: "Eq"},
	OpNe:          {Name: "Ne"},
	OpAdd:         {Name: "Add"},
	OpSub:         {Name: "Sub"},
	OpMul:         {Name: "Mul"},
	OpDiv:         {Name: "Div"},
	OpMod:         {Name: "Mod"},
	OpBitw:        {Name: "Bitw"},
	OpReturn:      {Name: "Return"},
	OpLoadNulls:   {Name: "LoadNulls"},
	OpLoadRoot:    {Name: "LoadRoot"},
	OpLoadBool:    {Name: "LoadBool"},
	OpDMove:       {Name: "DMove"},
	OpJmp:         {Name: "Jmp", Jump: JumpAlways, Bias: 1},
	OpJCmp:        {Name: "JCmp", Jump: JumpConditional, Bias: 1},
	OpJz:          {Name: "Jz", Jump: JumpConditional, Bias: 1},
	OpSetOuter:    {Name: "SetOuter"},
	OpGetOuter:    {Name: "GetOuter"},
	OpNewObj:      {Name: "NewObj"},
	OpAppendArray: {Name: "AppendArray"},
	OpCompArith:   {Name: "CompArith"},
	OpInc:         {Name: "Inc"},
	OpIncL:        {Name: "IncL"},
	OpPInc:        {Name: "PInc"},
	OpPIncL:       {Name: "PIncL"},
	OpCmp:         {Name: "Cmp"},
	OpExists:      {Name: "Exists"},
	OpInstanceOf:  {Name: "InstanceOf"},
	OpAnd:         {Name: "And", Jump: JumpShortCircuit, Bias: 1},
	OpOr:          {Name: "Or", Jump: JumpShortCircuit, Bias: 1},
	OpNeg:         {Name: "Neg"},
	OpNot:         {Name: "Not"},
	OpBwNot:       {Name: "BwNot"},
	OpClosure:     {Name: "Closure"},
	OpYield:       {Name: "Yield"},
	OpResume:      {Name: "Resume"},
	OpForEach:     {Name: "ForEach", Jump: JumpConditional, Bias: 1},
	OpPostForEach: {Name: "PostForEach", Jump: JumpLoopExit},
	OpClone:       {Name: "Clone"},
	OpTypeOf:      {Name: "TypeOf"},
	OpPushTrap:    {Name: "PushTrap", Jump: JumpTrap, Bias: 1},
	OpPopTrap:     {Name: "PopTrap"},
	OpThrow:       {Name: "Throw"},
	OpNewSlotA:    {Name: "NewSlotA"},
	OpGetBase:     {Name: "GetBase"},
	OpClose:       {Name: "Close"},
}

// GetOpcodeInfo returns metadata for an opcode. The boolean is false for
// codes outside the instruction set.
func GetOpcodeInfo(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

// Known reports whether op is part of the instruction set.
func (op Opcode) Known() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

func (op Opcode) String() string {
	if info, ok := opcodeInfoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("Opcode(0x%02X)", uint8(op))
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfoTable))
	for op := OpLine; op <= OpClose; op++ {
		ops = append(ops, op)
	}
	return ops
}

// CmpOp is the comparison selector carried in arg3 of Cmp and JCmp.
type CmpOp uint8

const (
	CmpGt CmpOp = 0
	CmpGe CmpOp = 2
	CmpLt CmpOp = 3
	CmpLe CmpOp = 4
	Cmp3W CmpOp = 5
)

func (c CmpOp) String() string {
	switch c {
	case CmpGt:
		return ">"
	case CmpGe:
		return ">="
	case CmpLt:
		return "<"
	case CmpLe:
		return "<="
	case Cmp3W:
		return "<=>"
	default:
		return fmt.Sprintf("cmp(%d)", uint8(c))
	}
}

// BitwOp is the bitwise operator selector carried in arg3 of Bitw.
type BitwOp uint8

const (
	BitwAnd         BitwOp = 0
	BitwOr          BitwOp = 2
	BitwXor         BitwOp = 3
	BitwShiftLeft   BitwOp = 4
	BitwShiftRight  BitwOp = 5
	BitwUShiftRight BitwOp = 6
)

func (b BitwOp) String() string {
	switch b {
	case BitwAnd:
		return "&"
	case BitwOr:
		return "|"
	case BitwXor:
		return "^"
	case BitwShiftLeft:
		return "<<"
	case BitwShiftRight:
		return ">>"
	case BitwUShiftRight:
		return ">>>"
	default:
		return fmt.Sprintf("bitw(%d)", uint8(b))
	}
}

// NewObjKind selects what NewObj allocates (arg3).
type NewObjKind uint8

const (
	NewTable NewObjKind = 0
	NewArray NewObjKind = 1
	NewClass NewObjKind = 2
)

func (k NewObjKind) String() string {
	switch k {
	case NewTable:
		return "table"
	case NewArray:
		return "array"
	case NewClass:
		return "class"
	default:
		return fmt.Sprintf("object(%d)", uint8(k))
	}
}

// AppendKind says where AppendArray takes its element from (arg2).
type AppendKind uint8

const (
	AppendStack   AppendKind = 0
	AppendLiteral AppendKind = 1
	AppendInt     AppendKind = 2
	AppendFloat   AppendKind = 3
	AppendBool    AppendKind = 4
)

// Package bctest builds function prototypes for tests.
package bctest

import "github.com/chazu/sqdis/bytecode"

// I constructs an instruction. Positions are assigned by Func.
func I(op bytecode.Opcode, arg0 uint8, arg1 int32, arg2, arg3 uint8) bytecode.Instruction {
	return bytecode.Instruction{Op: op, Arg0: arg0, Arg1: arg1, Arg2: arg2, Arg3: arg3}
}

// Func returns a prototype named name with a "this" parameter followed by
// params, numbering the given instructions from zero.
func Func(name string, params []string, code ...bytecode.Instruction) *bytecode.Prototype {
	p := &bytecode.Prototype{
		SourceName: bytecode.Str("test.nut"),
		Name:       bytecode.Str(name),
		Parameters: []bytecode.Value{bytecode.Str("this")},
		StackSize:  8,
	}
	for _, param := range params {
		p.Parameters = append(p.Parameters, bytecode.Str(param))
	}
	for i := range code {
		code[i].Pos = i
	}
	p.Instructions = code
	return p
}

// Nest appends children to p's nested functions and links their parents.
func Nest(p *bytecode.Prototype, children ...*bytecode.Prototype) *bytecode.Prototype {
	for _, c := range children {
		c.Parent = p
		p.Functions = append(p.Functions, c)
	}
	return p
}

// Local adds a named local variable to p.
func Local(p *bytecode.Prototype, name string, slot, start, end uint32) {
	p.LocalVars = append(p.LocalVars, bytecode.LocalVar{
		Name: bytecode.Str(name), Pos: slot, StartOp: start, EndOp: end,
	})
}

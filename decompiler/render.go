package decompiler

import (
	"fmt"
	"strings"

	"github.com/chazu/sqdis/bytecode"
	"github.com/chazu/sqdis/cfg"
)

const indentUnit = "    "

// String renders the function as source text.
func (f *Function) String() string {
	var sb strings.Builder
	f.write(&sb, 0)
	sb.WriteByte('\n')
	return sb.String()
}

// Header returns the function's signature line without the implicit this
// parameter.
func Header(p *bytecode.Prototype) string {
	params := p.ParamNames()
	if len(params) > 0 && params[0] == "this" {
		params = params[1:]
	}
	return fmt.Sprintf("function %s(%s)", p.DisplayName(), strings.Join(params, ", "))
}

func (f *Function) write(sb *strings.Builder, depth int) {
	inner := strings.Repeat(indentUnit, depth+1)
	sb.WriteString(Header(f.Proto))
	sb.WriteString(" {\n")
	for _, b := range f.Blocks {
		if len(f.Blocks) > 1 {
			fmt.Fprintf(sb, "%s// [%d-%d]\n", inner, b.Block.First, b.Block.Last)
		}
		for _, stmt := range b.Statements {
			sb.WriteString(inner)
			sb.WriteString(render(stmt, depth+1))
			switch stmt.(type) {
			case *If, *Jump:
			default:
				sb.WriteByte(';')
			}
			sb.WriteByte('\n')
		}
	}
	for _, c := range f.Unreachable {
		fmt.Fprintf(sb, "%s// unreachable\n%s%s\n", inner, inner, renderClosure(c, depth+1))
	}
	sb.WriteString(strings.Repeat(indentUnit, depth))
	sb.WriteByte('}')
}

// writeFailed renders a function that could not be decompiled as a
// failure marker followed by each of its nested functions.
func writeFailed(sb *strings.Builder, g *cfg.Graph, err error, depth int) {
	inner := strings.Repeat(indentUnit, depth+1)
	sb.WriteString(Header(g.Proto))
	fmt.Fprintf(sb, " {\n%s// decompilation failed: %v\n", inner, err)
	for _, c := range g.Closures {
		sb.WriteString(inner)
		sb.WriteString(renderClosure(closure(c.Graph), depth+1))
		sb.WriteByte('\n')
	}
	sb.WriteString(strings.Repeat(indentUnit, depth))
	sb.WriteByte('}')
}

// Render returns the source form of a single expression.
func Render(e Expr) string { return render(e, 0) }

func render(e Expr, depth int) string {
	switch e := e.(type) {
	case nil:
		return "null"
	case *Literal:
		return e.Value.Quoted()
	case *Local:
		return e.Name
	case *This:
		return "this"
	case *RootTable:
		return "getroottable()"
	case *Accessor:
		return renderAccessor(e, depth)
	case *Array:
		elems := make([]string, e.Len())
		for i := range elems {
			elems[i] = render(e.Elems[i], depth)
		}
		return "[" + strings.Join(elems, ", ") + "]"
	case *Table:
		return renderTable(e, depth)
	case *Binary:
		return operand(e.Left, depth) + " " + e.Op.String() + " " + operand(e.Right, depth)
	case *Unary:
		switch {
		case e.Op.isPostfix():
			return operand(e.Operand, depth) + e.Op.String()
		case e.Op.isWord():
			return e.Op.String() + " " + operand(e.Operand, depth)
		default:
			return e.Op.String() + operand(e.Operand, depth)
		}
	case *Call:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = render(a, depth)
		}
		return callee(e.Callee, depth) + "(" + strings.Join(args, ", ") + ")"
	case *Assignment:
		target := render(e.Target, depth)
		if l, ok := e.Target.(*Local); ok && l.First {
			target = "local " + target
		}
		return target + " = " + render(e.Value, depth)
	case *NewSlot:
		return render(e.Target, depth) + " <- " + render(e.Value, depth)
	case *Return:
		if e.Value == nil {
			return "return"
		}
		return "return " + render(e.Value, depth)
	case *Closure:
		return renderClosure(e, depth)
	case *If:
		return "if (" + render(e.Cond, depth) + ")"
	case *Jump:
		return fmt.Sprintf("jump [%d]", e.Target)
	}
	return fmt.Sprintf("/* %T */", e)
}

// operand parenthesizes compound subexpressions.
func operand(e Expr, depth int) string {
	switch e.(type) {
	case *Binary, *Assignment, *NewSlot:
		return "(" + render(e, depth) + ")"
	}
	return render(e, depth)
}

func callee(e Expr, depth int) string {
	if lit, ok := e.(*Literal); ok {
		return lit.Value.String()
	}
	return operand(e, depth)
}

func identifierKey(e Expr) (string, bool) {
	lit, ok := e.(*Literal)
	if !ok || !lit.Value.IsString() || !bytecode.IsIdentifier(lit.Value.AsString()) {
		return "", false
	}
	return lit.Value.AsString(), true
}

func renderAccessor(a *Accessor, depth int) string {
	if name, ok := identifierKey(a.Key); ok {
		switch a.Self.(type) {
		case *RootTable:
			return "::" + name
		case *This:
			return name
		}
		return operand(a.Self, depth) + "." + name
	}
	return operand(a.Self, depth) + "[" + render(a.Key, depth) + "]"
}

func renderTable(t *Table, depth int) string {
	if t.Len() == 0 {
		return "{}"
	}
	inner := strings.Repeat(indentUnit, depth+1)
	var sb strings.Builder
	sb.WriteString("{\n")
	for _, p := range t.Pairs[:t.Len()] {
		sb.WriteString(inner)
		if name, ok := identifierKey(p.Key); ok {
			sb.WriteString(name)
		} else {
			sb.WriteString("[" + render(p.Key, depth+1) + "]")
		}
		sb.WriteString(" = ")
		sb.WriteString(render(p.Value, depth+1))
		sb.WriteString(",\n")
	}
	sb.WriteString(strings.Repeat(indentUnit, depth))
	sb.WriteByte('}')
	return sb.String()
}

func renderClosure(c *Closure, depth int) string {
	var sb strings.Builder
	switch {
	case c.Err != nil && c.Graph != nil:
		writeFailed(&sb, c.Graph, c.Err, depth)
	case c.Err != nil:
		fmt.Fprintf(&sb, "%s {\n%s// decompilation failed: %v\n%s}",
			Header(c.Proto), strings.Repeat(indentUnit, depth+1), c.Err, strings.Repeat(indentUnit, depth))
	default:
		c.Func.write(&sb, depth)
	}
	return sb.String()
}

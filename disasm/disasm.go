// Package disasm renders Squirrel function prototypes as annotated
// instruction listings.
package disasm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/sqdis/bytecode"
)

// Options controls listing layout.
type Options struct {
	// LineNumbers adds a source line column, printed only where the line
	// changes.
	LineNumbers bool
	// ExpandClosures lists each nested function inline after the Closure
	// instruction that creates it.
	ExpandClosures bool
}

const indentUnit = "    "

// Disassemble returns the listing for p and, with ExpandClosures, all of
// its nested functions.
func Disassemble(p *bytecode.Prototype, opts Options) string {
	var sb strings.Builder
	d := &lister{
		sb:     &sb,
		opts:   opts,
		digits: len(strconv.Itoa(maxInstructions(p))),
	}
	if opts.LineNumbers {
		d.lineWidth = maxLineWidth(p)
	}
	d.function(p, 0)
	return sb.String()
}

// Header returns the "function name(params)" line used to introduce a
// listing or decompiled body.
func Header(p *bytecode.Prototype) string {
	return fmt.Sprintf("function %s(%s)", p.DisplayName(), strings.Join(p.ParamNames(), ", "))
}

type lister struct {
	sb        *strings.Builder
	opts      Options
	digits    int
	lineWidth int
}

func (d *lister) function(p *bytecode.Prototype, depth int) {
	indent := strings.Repeat(indentUnit, depth)
	fmt.Fprintf(d.sb, "%s%s {\n", indent, Header(p))

	prevLine := -1
	for _, in := range p.Instructions {
		fmt.Fprintf(d.sb, "%0*d ", d.digits, in.Pos)
		if d.lineWidth > 0 {
			col := ""
			if line, ok := p.Line(in.Pos); ok && line != prevLine {
				col = strconv.Itoa(line)
				prevLine = line
			}
			fmt.Fprintf(d.sb, "%-*s ", d.lineWidth, col)
		}
		d.sb.WriteString(indent)
		d.sb.WriteString(indentUnit)
		d.sb.WriteString(FormatInstruction(p, in))
		d.sb.WriteByte('\n')

		if d.opts.ExpandClosures && in.Op == bytecode.OpClosure {
			if in.Arg1 >= 0 && int(in.Arg1) < len(p.Functions) {
				d.function(p.Functions[in.Arg1], depth+1)
			}
		}
	}
	fmt.Fprintf(d.sb, "%s}\n", indent)
}

func maxInstructions(p *bytecode.Prototype) int {
	n := 0
	p.Walk(func(f *bytecode.Prototype) bool {
		n = max(n, len(f.Instructions))
		return true
	})
	return max(n-1, 0)
}

func maxLineWidth(p *bytecode.Prototype) int {
	w := 0
	p.Walk(func(f *bytecode.Prototype) bool {
		for _, li := range f.Lines {
			w = max(w, len(strconv.Itoa(int(li.Line))))
		}
		return true
	})
	return w
}

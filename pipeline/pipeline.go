// Package pipeline runs the analysis stages over one compiled file: parse,
// then disassemble, decompile and graph, each attempted independently.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/tliron/commonlog"

	"github.com/chazu/sqdis/bytecode"
	"github.com/chazu/sqdis/cfg"
	"github.com/chazu/sqdis/decompiler"
	"github.com/chazu/sqdis/disasm"
	"github.com/chazu/sqdis/graph"
)

var log = commonlog.GetLogger("sqdis.pipeline")

// Options selects listing features.
type Options struct {
	LineNumbers    bool `cbor:"1,keyasint,omitempty"`
	ExpandClosures bool `cbor:"2,keyasint,omitempty"`
}

// Stage names an analysis step.
type Stage string

const (
	StageDisassemble Stage = "disassemble"
	StageDecompile   Stage = "decompile"
	StageGraph       Stage = "graph"
)

// Stages lists the rendering stages in execution order.
var Stages = []Stage{StageDisassemble, StageDecompile, StageGraph}

// StageError records a failed stage.
type StageError struct {
	Stage   Stage  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
}

func (e StageError) String() string {
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
}

// FunctionSummary describes one prototype of the file.
type FunctionSummary struct {
	Name         string `cbor:"1,keyasint"`
	Source       string `cbor:"2,keyasint,omitempty"`
	Instructions int    `cbor:"3,keyasint"`
	Blocks       int    `cbor:"4,keyasint"`
	FirstLine    int    `cbor:"5,keyasint,omitempty"`
	LastLine     int    `cbor:"6,keyasint,omitempty"`
	Parameters   int    `cbor:"7,keyasint"`
	Generator    bool   `cbor:"8,keyasint,omitempty"`
	VarArgs      bool   `cbor:"9,keyasint,omitempty"`
}

// Report collects the outputs of every stage. A failed stage's field holds
// the failure text instead.
type Report struct {
	Name        string            `cbor:"1,keyasint"`
	Functions   []FunctionSummary `cbor:"2,keyasint,omitempty"`
	Disassembly string            `cbor:"3,keyasint,omitempty"`
	Decompiled  string            `cbor:"4,keyasint,omitempty"`
	Graph       string            `cbor:"5,keyasint,omitempty"`
	Errors      []StageError      `cbor:"6,keyasint,omitempty"`
}

// Output returns the text produced by stage.
func (r *Report) Output(stage Stage) string {
	switch stage {
	case StageDisassemble:
		return r.Disassembly
	case StageDecompile:
		return r.Decompiled
	case StageGraph:
		return r.Graph
	}
	return ""
}

// Failed reports whether stage failed.
func (r *Report) Failed(stage Stage) bool {
	for _, e := range r.Errors {
		if e.Stage == stage {
			return true
		}
	}
	return false
}

// RunFile reads path and runs the pipeline on its contents.
func RunFile(ctx context.Context, path string, opts Options) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Run(ctx, filepath.Base(path), data, opts)
}

// Run parses data and runs every rendering stage. Only a parse failure or
// cancellation is returned as an error; stage failures are recorded in the
// report.
func Run(ctx context.Context, name string, data []byte, opts Options) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proto, err := bytecode.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return Analyze(ctx, name, proto, opts)
}

// Analyze runs the rendering stages over an already parsed prototype.
func Analyze(ctx context.Context, name string, proto *bytecode.Prototype, opts Options) (*Report, error) {
	r := &Report{Name: name, Functions: Summarize(proto)}

	stages := []struct {
		stage Stage
		out   *string
		run   func() (string, error)
	}{
		{StageDisassemble, &r.Disassembly, func() (string, error) {
			return disasm.Disassemble(proto, disasm.Options{
				LineNumbers:    opts.LineNumbers,
				ExpandClosures: opts.ExpandClosures,
			}), nil
		}},
		{StageDecompile, &r.Decompiled, func() (string, error) {
			return decompiler.Source(proto)
		}},
		{StageGraph, &r.Graph, func() (string, error) {
			return graph.FromCFG(cfg.Build(proto)).DOT(), nil
		}},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		out, err := runStage(s.run)
		if err != nil {
			se := StageError{Stage: s.stage, Message: err.Error()}
			log.Warningf("%s: %s", name, se)
			r.Errors = append(r.Errors, se)
			*s.out = se.String()
			if out != "" {
				*s.out += "\n\n" + out
			}
			continue
		}
		*s.out = out
	}
	log.Debugf("%s: analysed %d functions, %d stage failures", name, len(r.Functions), len(r.Errors))
	return r, nil
}

func runStage(fn func() (string, error)) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Debugf("stage panic: %v\n%s", p, debug.Stack())
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

// Summarize lists every prototype in the tree, parents first.
func Summarize(proto *bytecode.Prototype) []FunctionSummary {
	graphs := map[*bytecode.Prototype]*cfg.Graph{}
	cfg.Build(proto).Walk(func(g *cfg.Graph) { graphs[g.Proto] = g })

	var out []FunctionSummary
	proto.Walk(func(p *bytecode.Prototype) bool {
		g, ok := graphs[p]
		if !ok {
			// nested function never referenced by a closure instruction
			g = cfg.Build(p)
		}
		first, last := p.LineRange()
		out = append(out, FunctionSummary{
			Name:         p.QualifiedName(),
			Source:       p.SourceName.String(),
			Instructions: len(p.Instructions),
			Blocks:       len(g.Ordered()),
			FirstLine:    first,
			LastLine:     last,
			Parameters:   len(p.Parameters),
			Generator:    p.IsGenerator,
			VarArgs:      p.VarParams,
		})
		return true
	})
	return out
}

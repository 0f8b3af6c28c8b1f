package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/sqdis/catalog"
	"github.com/chazu/sqdis/manifest"
	"github.com/chazu/sqdis/pipeline"
	"github.com/chazu/sqdis/server"
	"github.com/chazu/sqdis/wire"
)

// stageFormats maps each rendering stage to its manifest format name and
// output file extension.
var stageFormats = []struct {
	stage  pipeline.Stage
	format string
	ext    string
}{
	{pipeline.StageDisassemble, manifest.FormatDisasm, ".disasm.txt"},
	{pipeline.StageDecompile, manifest.FormatDecompile, ".nut"},
	{pipeline.StageGraph, manifest.FormatGraph, ".dot"},
}

func (o *options) pipelineOptions() pipeline.Options {
	return pipeline.Options{
		LineNumbers:    o.cfg.Output.LineNumbers,
		ExpandClosures: o.cfg.Output.ExpandClosures,
	}
}

// wants reports whether the current command prints format.
func (o *options) wants(format string) bool {
	switch o.command {
	case "disasm":
		return format == manifest.FormatDisasm
	case "decompile":
		return format == manifest.FormatDecompile
	case "graph":
		return format == manifest.FormatGraph
	}
	return o.cfg.Wants(format)
}

func (o *options) errorf(format string, args ...any) {
	fmt.Fprintf(o.stderr, "sqdis: "+format+"\n", args...)
}

func requireFiles(o *options) bool {
	if len(o.files) == 0 {
		o.errorf("%s: no input files", o.command)
		return false
	}
	return true
}

// runStages handles disasm, decompile, graph and all. Files are processed
// independently; the exit status is 1 if any file could not be parsed.
func runStages(ctx context.Context, o *options) int {
	if !requireFiles(o) {
		return 2
	}
	status := 0
	for _, path := range o.files {
		r, err := pipeline.RunFile(ctx, path, o.pipelineOptions())
		if err != nil {
			o.errorf("%v", err)
			status = 1
			if ctx.Err() != nil {
				return status
			}
			continue
		}
		for _, se := range r.Errors {
			log.Warningf("%s: %s", path, se)
		}
		if err := o.writeReport(path, r); err != nil {
			o.errorf("%s: %v", path, err)
			status = 1
		}
	}
	return status
}

func (o *options) writeReport(path string, r *pipeline.Report) error {
	dir := o.cfg.OutputDir()
	if o.format == "cbor" {
		data, err := wire.MarshalReport(r)
		if err != nil {
			return err
		}
		if dir == "" {
			_, err = o.stdout.Write(data)
			return err
		}
		return writeFile(dir, filepath.Base(path)+".cbor", data)
	}

	single := o.command != "all"
	for _, sf := range stageFormats {
		if !o.wants(sf.format) {
			continue
		}
		text := r.Output(sf.stage)
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		if dir != "" {
			if err := writeFile(dir, filepath.Base(path)+sf.ext, []byte(text)); err != nil {
				return err
			}
			continue
		}
		if !single || len(o.files) > 1 {
			fmt.Fprintf(o.stdout, "// ==== %s: %s ====\n", path, sf.format)
		}
		fmt.Fprint(o.stdout, text)
	}
	return nil
}

func writeFile(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(dir, name)
	log.Infof("writing %s", target)
	return os.WriteFile(target, data, 0o644)
}

func openCatalog(o *options) (*catalog.Catalog, bool) {
	cat, err := catalog.Open(o.cfg.CatalogPath())
	if err != nil {
		o.errorf("%v", err)
		return nil, false
	}
	return cat, true
}

// runIndex analyses files into the catalog.
func runIndex(ctx context.Context, o *options) int {
	if !requireFiles(o) {
		return 2
	}
	cat, ok := openCatalog(o)
	if !ok {
		return 1
	}
	defer cat.Close()

	status := 0
	for _, path := range o.files {
		data, err := os.ReadFile(path)
		if err != nil {
			o.errorf("%v", err)
			status = 1
			continue
		}
		r, err := pipeline.Run(ctx, filepath.Base(path), data, o.pipelineOptions())
		if err != nil {
			o.errorf("%v", err)
			status = 1
			continue
		}
		key := filepath.Clean(path)
		if err := cat.Store(ctx, key, data, r); err != nil {
			o.errorf("%s: %v", path, err)
			status = 1
			continue
		}
		fmt.Fprintf(o.stdout, "%s: %d functions, %d stage failures\n", key, len(r.Functions), len(r.Errors))
	}
	return status
}

// runList prints indexed files, or the functions of each named file.
func runList(ctx context.Context, o *options) int {
	cat, ok := openCatalog(o)
	if !ok {
		return 1
	}
	defer cat.Close()

	if len(o.files) == 0 {
		files, err := cat.Files(ctx)
		if err != nil {
			o.errorf("%v", err)
			return 1
		}
		for _, f := range files {
			fmt.Fprintf(o.stdout, "%s  %s  %s\n", f.SHA256[:12], f.AnalysedAt.Format("2006-01-02 15:04:05"), f.Path)
		}
		return 0
	}

	status := 0
	for _, path := range o.files {
		funcs, err := cat.Functions(ctx, filepath.Clean(path))
		if err != nil {
			o.errorf("%v", err)
			status = 1
			continue
		}
		printFunctions(o, path, funcs)
	}
	return status
}

func printFunctions(o *options, path string, funcs []pipeline.FunctionSummary) {
	fmt.Fprintf(o.stdout, "%s:\n", path)
	for _, f := range funcs {
		fmt.Fprintf(o.stdout, "  %-32s %5d instrs %3d blocks  lines %d-%d\n",
			f.Name, f.Instructions, f.Blocks, f.FirstLine, f.LastLine)
	}
}

// runServe starts the analysis server.
func runServe(ctx context.Context, o *options) int {
	cat, ok := openCatalog(o)
	if !ok {
		return 1
	}
	defer cat.Close()

	srv := server.New(
		server.WithWorkers(o.cfg.Server.Workers),
		server.WithReportTTL(o.cfg.ReportTTL()),
		server.WithCatalog(cat),
	)
	defer srv.Stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(o.cfg.Server.Addr) }()
	select {
	case err := <-errc:
		o.errorf("server: %v", err)
		return 1
	case <-ctx.Done():
		log.Notice("shutting down")
		return 0
	}
}

// runRemote analyses files on a running server over gRPC.
func runRemote(ctx context.Context, o *options) int {
	if !requireFiles(o) {
		return 2
	}
	conn, err := server.Dial(o.cfg.Server.Addr)
	if err != nil {
		o.errorf("%v", err)
		return 1
	}
	defer conn.Close()

	// remote output follows the local "all" rendering
	o.command = "all"
	status := 0
	for _, path := range o.files {
		data, err := os.ReadFile(path)
		if err != nil {
			o.errorf("%v", err)
			status = 1
			continue
		}
		resp, err := server.RemoteAnalyze(ctx, conn, &wire.AnalyzeRequest{
			Name:    filepath.Base(path),
			Data:    data,
			Options: o.pipelineOptions(),
		})
		if err != nil {
			o.errorf("%s: %v", path, err)
			status = 1
			continue
		}
		if err := o.writeReport(path, resp.Report); err != nil {
			o.errorf("%s: %v", path, err)
			status = 1
		}
	}
	return status
}

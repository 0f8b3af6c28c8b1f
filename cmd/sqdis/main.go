// sqdis - disassembler, control-flow grapher and decompiler for compiled
// Squirrel 3.1 scripts
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/sqdis/manifest"
)

var log = commonlog.GetLogger("sqdis")

// verbosity is a repeatable -v flag.
type verbosity int

func (v *verbosity) String() string   { return strconv.Itoa(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }
func (v *verbosity) Set(s string) error {
	if s == "true" {
		*v++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*v = verbosity(n)
	return nil
}

// options holds the parsed command line merged with sqdis.toml.
type options struct {
	cfg     *manifest.Manifest
	command string
	files   []string
	format  string

	stdout io.Writer
	stderr io.Writer
}

var commands = map[string]func(context.Context, *options) int{
	"disasm":    runStages,
	"decompile": runStages,
	"graph":     runStages,
	"all":       runStages,
	"index":     runIndex,
	"ls":        runList,
	"serve":     runServe,
	"remote":    runRemote,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sqdis", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var verbose verbosity
	fs.Var(&verbose, "v", "Verbose output (repeat for more)")
	lines := fs.Bool("lines", false, "Show source line numbers in listings")
	closures := fs.Bool("closures", false, "List nested functions inline after their closure instruction")
	outDir := fs.String("o", "", "Write listings to this directory instead of stdout")
	format := fs.String("format", "text", "Output format: text or cbor")
	db := fs.String("db", "", "Catalog database path (index, ls, serve)")
	addr := fs.String("addr", "", "Server address (serve, remote)")
	workers := fs.Int("workers", 0, "Concurrent analyses (serve)")
	configPath := fs.String("config", "", "Configuration file (default: nearest sqdis.toml)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: sqdis [options] <command> <files...>\n\n")
		fmt.Fprintf(stderr, "Commands:\n")
		fmt.Fprintf(stderr, "  disasm     Print the instruction listing\n")
		fmt.Fprintf(stderr, "  decompile  Print reconstructed source\n")
		fmt.Fprintf(stderr, "  graph      Print the control-flow graph in DOT\n")
		fmt.Fprintf(stderr, "  all        All of the above (default when the first argument is a file)\n")
		fmt.Fprintf(stderr, "  index      Analyse files into the catalog database\n")
		fmt.Fprintf(stderr, "  ls         List indexed files, or the functions of the given files\n")
		fmt.Fprintf(stderr, "  serve      Start the analysis server (Connect, gRPC, gRPC-Web)\n")
		fmt.Fprintf(stderr, "  remote     Analyse files on a running server over gRPC\n")
		fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "sqdis: %v\n", err)
		return 2
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			cfg.Log.Verbosity = int(verbose)
		case "lines":
			cfg.Output.LineNumbers = *lines
		case "closures":
			cfg.Output.ExpandClosures = *closures
		case "o":
			cfg.Output.Dir = absPath(*outDir)
		case "db":
			cfg.Catalog.Path = absPath(*db)
		case "addr":
			cfg.Server.Addr = *addr
		case "workers":
			cfg.Server.Workers = *workers
		}
	})
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())

	if *format != "text" && *format != "cbor" {
		fmt.Fprintf(stderr, "sqdis: unknown format %q\n", *format)
		return 2
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}
	opts := &options{cfg: cfg, command: rest[0], files: rest[1:], format: *format, stdout: stdout, stderr: stderr}
	cmd, ok := commands[rest[0]]
	if !ok {
		opts.command = "all"
		opts.files = rest
		cmd = runStages
	}
	log.Debugf("command %s on %d files", opts.command, len(opts.files))
	return cmd(ctx, opts)
}

// absPath resolves command-line paths against the working directory rather
// than the configuration file's directory.
func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func loadConfig(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default(wd)
	}
	return m, nil
}

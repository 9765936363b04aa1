package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"github.com/chazu/widow/cache"
	"github.com/chazu/widow/compiler"
	"github.com/chazu/widow/manifest"
	"github.com/chazu/widow/pkg/ast"
	"github.com/chazu/widow/pkg/bytecode"
	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/value"
	"github.com/chazu/widow/vm"
)

// env carries the state shared by subcommands.
type env struct {
	manifest *manifest.Manifest
	useCache bool
	cache    *cache.Cache
	stdout   io.Writer
}

func newEnv(m *manifest.Manifest, useCache bool) *env {
	return &env{manifest: m, useCache: useCache, stdout: os.Stdout}
}

func (e *env) close() {
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			log.Warningf("closing cache: %s", err)
		}
		e.cache = nil
	}
}

// readTree decodes a JSON AST file.
func readTree(path string) (*ast.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()
	tree, err := ast.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

// load returns the program stored in path: .wdbc files are decoded
// directly, anything else is read as a JSON AST and compiled.
func (e *env) load(ctx context.Context, path string) (*bytecode.Program, error) {
	if filepath.Ext(path) == ".wdbc" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		prog, err := bytecode.Deserialize(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return prog, nil
	}

	tree, err := readTree(path)
	if err != nil {
		return nil, err
	}
	return e.compileTree(ctx, tree)
}

func (e *env) compileTree(ctx context.Context, tree *ast.Program) (*bytecode.Program, error) {
	if !e.useCache {
		return compiler.Compile(tree)
	}
	if e.cache == nil {
		c, err := cache.Open(e.manifest.CachePath(), e.manifest.Cache.MemoryEntries)
		if err != nil {
			return nil, err
		}
		e.cache = c
	}
	prog, hit, err := e.cache.GetOrCompile(ctx, tree, compiler.Compile)
	if err != nil {
		return nil, err
	}
	log.Debugf("compiled program (cached=%t)", hit)
	return prog, nil
}

// run executes a program and returns the process exit status. An integer
// exit value becomes the status.
func (e *env) run(args []string) (int, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	path := fs.Arg(0)
	if path == "" {
		path = e.manifest.EntryPath()
	}
	if path == "" {
		return 1, errors.New("no program given and widow.toml has no [project] entry")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	prog, err := e.load(ctx, path)
	if err != nil {
		return 1, err
	}

	opts := append(e.manifest.VMOptions(), vm.WithStdout(e.stdout))
	machine := vm.New(opts...)
	result, err := machine.RunContext(ctx, prog)
	if err != nil {
		return 1, err
	}
	log.Infof("run %s finished with %s", machine.RunID(), result.Repr())
	return exitCode(result), nil
}

func exitCode(v value.Value) int {
	if !v.Kind().IsInt() {
		return 0
	}
	n, ok := v.AsInt64()
	if !ok {
		return 0
	}
	return int(n)
}

// compile writes the WDBC encoding of a JSON AST file.
func (e *env) compile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	out := fs.String("o", "", "Output path (default: input with .wdbc extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("compile requires exactly one input file")
	}
	path := fs.Arg(0)
	if filepath.Ext(path) == ".wdbc" {
		return fmt.Errorf("%s is already compiled", path)
	}

	tree, err := readTree(path)
	if err != nil {
		return err
	}
	prog, err := e.compileTree(context.Background(), tree)
	if err != nil {
		return err
	}
	data, err := prog.Serialize()
	if err != nil {
		return err
	}

	dest := *out
	if dest == "" {
		dest = strings.TrimSuffix(path, filepath.Ext(path)) + ".wdbc"
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", dest, err)
	}
	fmt.Fprintf(e.stdout, "Wrote %s (%d bytes)\n", dest, len(data))
	return nil
}

func (e *env) disasm(args []string) error {
	if len(args) != 1 {
		return errors.New("disasm requires exactly one input file")
	}
	prog, err := e.load(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(e.stdout, prog.Disassemble())
	return nil
}

// inspect dumps the decoded program. For JSON input the cache fingerprint
// is printed first.
func (e *env) inspect(args []string) error {
	if len(args) != 1 {
		return errors.New("inspect requires exactly one input file")
	}
	path := args[0]
	if filepath.Ext(path) != ".wdbc" {
		tree, err := readTree(path)
		if err != nil {
			return err
		}
		key, err := cache.Fingerprint(tree)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "fingerprint: %s\n", key)
	}
	prog, err := e.load(context.Background(), path)
	if err != nil {
		return err
	}
	cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}
	cfg.Fdump(e.stdout, prog)
	return nil
}

// formatError renders err for the terminal. Diagnostics show their kind,
// position and call trace; kind and pos style those parts.
func formatError(err error, kind, pos func(...interface{}) string) string {
	var list diag.List
	if errors.As(err, &list) {
		lines := make([]string, len(list))
		for i, d := range list {
			lines[i] = formatDiag(d, kind, pos)
		}
		return strings.Join(lines, "\n")
	}
	var d *diag.Error
	if errors.As(err, &d) {
		return formatDiag(d, kind, pos)
	}
	return kind("error") + ": " + err.Error()
}

func formatDiag(d *diag.Error, kind, pos func(...interface{}) string) string {
	var sb strings.Builder
	sb.WriteString(kind(d.Kind.String()))
	if d.Pos.IsValid() {
		sb.WriteString(" at ")
		sb.WriteString(pos(d.Pos.String()))
	}
	if d.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(d.Message)
	}
	if len(d.Trace) > 0 {
		sb.WriteString("\n  in ")
		sb.WriteString(strings.Join(d.Trace, " < "))
	}
	return sb.String()
}

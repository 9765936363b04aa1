package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/widow/manifest"
	"github.com/chazu/widow/pkg/ast"
	"github.com/chazu/widow/pkg/diag"
)

func plain(a ...interface{}) string { return fmt.Sprint(a...) }

func writeTree(t *testing.T, dir string, p *ast.Program) string {
	t.Helper()
	data, err := p.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	path := filepath.Join(dir, "prog.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func testEnv(t *testing.T, dir string, useCache bool) (*env, *bytes.Buffer) {
	t.Helper()
	m := manifest.Default()
	m.Dir = dir
	e := newEnv(m, useCache)
	var out bytes.Buffer
	e.stdout = &out
	t.Cleanup(e.close)
	return e, &out
}

func TestRunJSONProgram(t *testing.T) {
	dir := t.TempDir()
	path := writeTree(t, dir, ast.Prog(
		ast.Do(ast.CallN("print", ast.Str("hello"))),
		ast.Ret(ast.Int("3")),
	))

	e, out := testEnv(t, dir, false)
	code, err := e.run([]string{path})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	if out.String() != "hello\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestCompileThenRunBytecode(t *testing.T) {
	dir := t.TempDir()
	path := writeTree(t, dir, ast.Prog(ast.Ret(ast.Bin(ast.Int("2"), "*", ast.Int("21")))))

	e, out := testEnv(t, dir, false)
	if err := e.compile([]string{path}); err != nil {
		t.Fatalf("compile: %v", err)
	}
	wdbc := filepath.Join(dir, "prog.wdbc")
	if !strings.Contains(out.String(), wdbc) {
		t.Errorf("compile output %q does not name %s", out.String(), wdbc)
	}

	code, err := e.run([]string{wdbc})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 42 {
		t.Errorf("exit code = %d, want 42", code)
	}
}

func TestRunUsesCacheAndEntry(t *testing.T) {
	dir := t.TempDir()
	path := writeTree(t, dir, ast.Prog(ast.Ret(ast.Int("5"))))

	e, _ := testEnv(t, dir, true)
	e.manifest.Project.Entry = filepath.Base(path)
	for i := 0; i < 2; i++ {
		code, err := e.run(nil)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if code != 5 {
			t.Errorf("run %d: exit code = %d, want 5", i, code)
		}
	}
	if e.cache == nil {
		t.Fatalf("cache was not opened")
	}
	if s := e.cache.Stats(); s.Hits != 1 || s.Misses != 1 {
		t.Errorf("unexpected cache stats %+v", s)
	}
	if _, err := os.Stat(filepath.Join(dir, ".widow", "cache.db")); err != nil {
		t.Errorf("cache database not created: %v", err)
	}
}

func TestRunWithoutProgram(t *testing.T) {
	e, _ := testEnv(t, t.TempDir(), false)
	if _, err := e.run(nil); err == nil {
		t.Fatalf("expected an error without a program or entry")
	}
}

func TestRunReportsRuntimeError(t *testing.T) {
	dir := t.TempDir()
	path := writeTree(t, dir, ast.Prog(ast.Ret(ast.Bin(ast.Int("1"), "/", ast.Int("0")))))

	e, _ := testEnv(t, dir, false)
	code, err := e.run([]string{path})
	if code != 1 || diag.KindOf(err) != diag.DivisionByZero {
		t.Fatalf("code=%d err=%v, want DivisionByZero", code, err)
	}
}

func TestDisasmAndInspect(t *testing.T) {
	dir := t.TempDir()
	path := writeTree(t, dir, ast.Prog(ast.Let("x", ast.Int("1"))))

	e, out := testEnv(t, dir, false)
	if err := e.disasm([]string{path}); err != nil {
		t.Fatalf("disasm: %v", err)
	}
	if !strings.Contains(out.String(), "DEFINE_GLOBAL") {
		t.Errorf("listing missing DEFINE_GLOBAL:\n%s", out.String())
	}

	out.Reset()
	if err := e.inspect([]string{path}); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.HasPrefix(out.String(), "fingerprint: v1_") {
		t.Errorf("inspect output should start with the fingerprint:\n%s", out.String())
	}
}

func TestFormatError(t *testing.T) {
	err := &diag.Error{
		Kind:    diag.DivisionByZero,
		Message: "integer division by zero",
		Pos:     diag.Pos{Line: 3, Column: 7},
		Trace:   []string{"div", "main"},
	}
	got := formatError(err, plain, plain)
	want := "DivisionByZero at 3:7: integer division by zero\n  in div < main"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}

	list := diag.List{
		diag.Errorf(diag.UndefinedVariable, "x"),
		diag.Errorf(diag.UndefinedVariable, "y"),
	}
	if got := formatError(list, plain, plain); strings.Count(got, "\n") != 1 {
		t.Errorf("expected one line per diagnostic, got %q", got)
	}

	if got := formatError(os.ErrNotExist, plain, plain); got != "error: file does not exist" {
		t.Errorf("plain error rendered as %q", got)
	}
}

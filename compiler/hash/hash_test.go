package hash

import (
	"strings"
	"testing"

	"github.com/chazu/widow/pkg/ast"
)

func sample(n string) *ast.Program {
	return ast.Prog(
		ast.Let("x", ast.Int(n)),
		ast.Do(ast.CallN("print", ast.Id("x"))),
	)
}

func TestProgramIsStable(t *testing.T) {
	a, err := Program(sample("1"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Program(sample("1"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("same tree, different fingerprints: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "v1_") {
		t.Errorf("fingerprint %q lacks the version prefix", a)
	}
}

func TestProgramDistinguishesTrees(t *testing.T) {
	a, _ := Program(sample("1"))
	b, _ := Program(sample("2"))
	if a == b {
		t.Error("different literals share a fingerprint")
	}

	moved := sample("1")
	ast.At(moved.Body[0].(*ast.VarDecl), 4, 2)
	c, _ := Program(moved)
	if a == c {
		t.Error("positions should change the fingerprint")
	}
}

func TestProgramNil(t *testing.T) {
	if _, err := Program(nil); err == nil {
		t.Error("expected an error for a nil program")
	}
}

// Package hash computes content fingerprints of programs for the compiled
// program cache.
//
// The fingerprint covers the canonical JSON form of the tree, positions
// included since they end up in source maps, together with the compiler and
// bytecode versions. Two trees with the same fingerprint compile to the same
// program.
package hash

import (
	"fmt"

	"github.com/chazu/widow/compiler"
	"github.com/chazu/widow/pkg/ast"
	"github.com/chazu/widow/pkg/bytecode"
	"github.com/cnf/structhash"
)

// HashVersion changes whenever the shape of the hashed input changes.
const HashVersion = 1

type input struct {
	Compiler int    `hash:"name:compiler"`
	Bytecode uint16 `hash:"name:bytecode"`
	Tree     string `hash:"name:tree"`
}

// Program returns the fingerprint of p.
func Program(p *ast.Program) (string, error) {
	if p == nil {
		return "", fmt.Errorf("hash: nil program")
	}
	tree, err := p.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return structhash.Hash(input{
		Compiler: compiler.Version,
		Bytecode: bytecode.BytecodeVersion,
		Tree:     string(tree),
	}, HashVersion)
}

// Package ast defines the abstract syntax tree the compiler consumes. Trees
// arrive from the front end as JSON: every node is an object whose "type"
// member names the node kind, with "line" and "column" giving its source
// position.
package ast

import "github.com/chazu/widow/pkg/diag"

// Pos is a source position; the zero Pos is unknown.
type Pos diag.Pos

// Position returns the node position.
func (p Pos) Position() Pos { return p }

// SetPos overwrites the node position.
func (p *Pos) SetPos(q Pos) { *p = q }

// Diag converts to the position carried by errors.
func (p Pos) Diag() diag.Pos { return diag.Pos(p) }

// Node is implemented by every AST node.
type Node interface {
	Position() Pos
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Program is a whole compilation unit.
type Program struct {
	Body []Stmt `json:"body"`
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// VarDecl is `let a: T = v` or the destructuring `let a, b = f()`.
type VarDecl struct {
	Pos
	Names      []string `json:"names"`
	Annotation string   `json:"annotation,omitempty"`
	Values     []Expr   `json:"values"`
}

// ConstDecl is `const a: T = v`.
type ConstDecl struct {
	Pos
	Name       string `json:"name"`
	Annotation string `json:"annotation,omitempty"`
	Value      Expr   `json:"value"`
}

// Param is one declared function parameter.
type Param struct {
	Name       string `json:"name"`
	Annotation string `json:"annotation,omitempty"`
}

// FuncDecl declares a function, or a method inside an impl block.
// Returns lists the declared return types; its length is the return arity.
type FuncDecl struct {
	Pos
	Name    string   `json:"name"`
	Params  []Param  `json:"params"`
	Returns []string `json:"returns,omitempty"`
	Body    *Block   `json:"block"`
}

// Field is one declared struct field.
type Field struct {
	Name       string `json:"name"`
	Annotation string `json:"annotation,omitempty"`
}

// StructDecl declares a struct schema.
type StructDecl struct {
	Pos
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// ImplDecl attaches methods to a struct.
type ImplDecl struct {
	Pos
	Struct  string      `json:"struct"`
	Methods []*FuncDecl `json:"methods"`
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Block is a braced statement list with its own scope.
type Block struct {
	Pos
	Stmts []Stmt `json:"body"`
}

// ElifClause is one `elif cond { }` arm.
type ElifClause struct {
	Cond Expr   `json:"cond"`
	Body *Block `json:"block"`
}

// IfStmt is if/elif/else.
type IfStmt struct {
	Pos
	Cond  Expr         `json:"cond"`
	Then  *Block       `json:"then"`
	Elifs []ElifClause `json:"elifs,omitempty"`
	Else  *Block       `json:"else,omitempty"`
}

// WhileStmt is `while cond { }`.
type WhileStmt struct {
	Pos
	Cond Expr   `json:"cond"`
	Body *Block `json:"block"`
}

// ForStmt is the bare-condition loop `for cond { }`; a nil Cond loops
// until break or return.
type ForStmt struct {
	Pos
	Cond Expr   `json:"cond,omitempty"`
	Body *Block `json:"block"`
}

// ForInStmt is `for v in iterable { }` over a range, array, map or string.
type ForInStmt struct {
	Pos
	Var      string `json:"var"`
	Iterable Expr   `json:"iterable"`
	Body     *Block `json:"block"`
}

// CaseClause is `case v1, v2: body`.
type CaseClause struct {
	Values []Expr `json:"values"`
	Body   *Block `json:"block"`
}

// SwitchStmt dispatches on the first case equal to Subject.
type SwitchStmt struct {
	Pos
	Subject Expr         `json:"subject"`
	Cases   []CaseClause `json:"cases"`
	Default *Block       `json:"default,omitempty"`
}

// ReturnStmt is `ret a, b`.
type ReturnStmt struct {
	Pos
	Values []Expr `json:"values"`
}

// AssignStmt is `a = v`, `a, b = f()`, or a compound form like `a += v`.
// Targets are identifiers, index expressions or field expressions.
type AssignStmt struct {
	Pos
	Targets []Expr `json:"targets"`
	Op      string `json:"op"`
	Values  []Expr `json:"values"`
}

// ExprStmt evaluates an expression for its effects.
type ExprStmt struct {
	Pos
	X Expr `json:"expr"`
}

// BreakStmt leaves the innermost loop.
type BreakStmt struct {
	Pos
}

// ContinueStmt starts the next iteration of the innermost loop.
type ContinueStmt struct {
	Pos
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Ident is a name reference.
type Ident struct {
	Pos
	Name string `json:"name"`
}

// IntLit is an integer literal. Kind optionally names the integer kind
// (default i64).
type IntLit struct {
	Pos
	Value string `json:"value"`
	Kind  string `json:"kind,omitempty"`
}

// FloatLit is a floating point literal. Kind defaults to f64.
type FloatLit struct {
	Pos
	Value float64 `json:"value"`
	Kind  string  `json:"kind,omitempty"`
}

// StringLit is a string literal.
type StringLit struct {
	Pos
	Value string `json:"value"`
}

// CharLit is a character literal holding exactly one rune.
type CharLit struct {
	Pos
	Value string `json:"value"`
}

// BoolLit is true or false.
type BoolLit struct {
	Pos
	Value bool `json:"value"`
}

// NilLit is nil.
type NilLit struct {
	Pos
}

// UnaryExpr is `-x` or `not x`.
type UnaryExpr struct {
	Pos
	Op string `json:"op"`
	X  Expr   `json:"expr"`
}

// BinaryExpr is an arithmetic, comparison or logical operation.
type BinaryExpr struct {
	Pos
	Op    string `json:"op"`
	Left  Expr   `json:"left"`
	Right Expr   `json:"right"`
}

// RangeExpr is the half-open integer range `lo..hi`.
type RangeExpr struct {
	Pos
	Lo Expr `json:"lo"`
	Hi Expr `json:"hi"`
}

// CallExpr calls a function, builtin or method. A method call has a
// FieldExpr callee.
type CallExpr struct {
	Pos
	Callee Expr   `json:"callee"`
	Args   []Expr `json:"args"`
}

// FieldExpr is `x.name`.
type FieldExpr struct {
	Pos
	X    Expr   `json:"object"`
	Name string `json:"name"`
}

// IndexExpr is `x[i]`.
type IndexExpr struct {
	Pos
	X     Expr `json:"object"`
	Index Expr `json:"index"`
}

// ArrayLit is `[a, b]`.
type ArrayLit struct {
	Pos
	Elems []Expr `json:"elems"`
}

// MapEntry is one `key: value` pair of a map literal.
type MapEntry struct {
	Key   Expr `json:"key"`
	Value Expr `json:"value"`
}

// MapLit is `{k: v}`.
type MapLit struct {
	Pos
	Entries []MapEntry `json:"entries"`
}

// FieldInit is one `name: value` of a struct literal.
type FieldInit struct {
	Name  string `json:"name"`
	Value Expr   `json:"value"`
}

// StructLit is `Name { x: 1, y: 2 }`.
type StructLit struct {
	Pos
	Name   string      `json:"name"`
	Fields []FieldInit `json:"fields"`
}

// GroupExpr is a parenthesized expression.
type GroupExpr struct {
	Pos
	X Expr `json:"expr"`
}

func (*VarDecl) stmtNode()      {}
func (*ConstDecl) stmtNode()    {}
func (*FuncDecl) stmtNode()     {}
func (*StructDecl) stmtNode()   {}
func (*ImplDecl) stmtNode()     {}
func (*Block) stmtNode()        {}
func (*IfStmt) stmtNode()       {}
func (*WhileStmt) stmtNode()    {}
func (*ForStmt) stmtNode()      {}
func (*ForInStmt) stmtNode()    {}
func (*SwitchStmt) stmtNode()   {}
func (*ReturnStmt) stmtNode()   {}
func (*AssignStmt) stmtNode()   {}
func (*ExprStmt) stmtNode()     {}
func (*BreakStmt) stmtNode()    {}
func (*ContinueStmt) stmtNode() {}

func (*Ident) exprNode()      {}
func (*IntLit) exprNode()     {}
func (*FloatLit) exprNode()   {}
func (*StringLit) exprNode()  {}
func (*CharLit) exprNode()    {}
func (*BoolLit) exprNode()    {}
func (*NilLit) exprNode()     {}
func (*UnaryExpr) exprNode()  {}
func (*BinaryExpr) exprNode() {}
func (*RangeExpr) exprNode()  {}
func (*CallExpr) exprNode()   {}
func (*FieldExpr) exprNode()  {}
func (*IndexExpr) exprNode()  {}
func (*ArrayLit) exprNode()   {}
func (*MapLit) exprNode()     {}
func (*StructLit) exprNode()  {}
func (*GroupExpr) exprNode()  {}

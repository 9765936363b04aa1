package ast

// Constructors for building trees in Go, mostly used by tests and tools that
// synthesize programs. Positions are left unknown; use At to set one.

// At sets the position of n and returns it.
func At[T interface {
	Node
	SetPos(Pos)
}](n T, line, column int) T {
	n.SetPos(Pos{Line: line, Column: column})
	return n
}

func Prog(stmts ...Stmt) *Program { return &Program{Body: stmts} }

func Let(name string, v Expr) *VarDecl {
	return &VarDecl{Names: []string{name}, Values: []Expr{v}}
}

func LetTyped(name, annotation string, v Expr) *VarDecl {
	return &VarDecl{Names: []string{name}, Annotation: annotation, Values: []Expr{v}}
}

// LetMulti declares several names from one or more values.
func LetMulti(names []string, vals ...Expr) *VarDecl {
	return &VarDecl{Names: names, Values: vals}
}

func Const(name string, v Expr) *ConstDecl { return &ConstDecl{Name: name, Value: v} }

// Fn declares a function with untyped parameters and no declared returns.
func Fn(name string, params []string, body ...Stmt) *FuncDecl {
	ps := make([]Param, len(params))
	for i, p := range params {
		ps[i] = Param{Name: p}
	}
	return &FuncDecl{Name: name, Params: ps, Body: Blk(body...)}
}

// FnRet is Fn with declared return types.
func FnRet(name string, params []string, returns []string, body ...Stmt) *FuncDecl {
	f := Fn(name, params, body...)
	f.Returns = returns
	return f
}

func Struct(name string, fields ...string) *StructDecl {
	fs := make([]Field, len(fields))
	for i, f := range fields {
		fs[i] = Field{Name: f}
	}
	return &StructDecl{Name: name, Fields: fs}
}

func Impl(structName string, methods ...*FuncDecl) *ImplDecl {
	return &ImplDecl{Struct: structName, Methods: methods}
}

func Blk(stmts ...Stmt) *Block { return &Block{Stmts: stmts} }

func If(cond Expr, then *Block, els *Block) *IfStmt {
	return &IfStmt{Cond: cond, Then: then, Else: els}
}

func While(cond Expr, body ...Stmt) *WhileStmt { return &WhileStmt{Cond: cond, Body: Blk(body...)} }

func For(cond Expr, body ...Stmt) *ForStmt { return &ForStmt{Cond: cond, Body: Blk(body...)} }

func ForIn(v string, iter Expr, body ...Stmt) *ForInStmt {
	return &ForInStmt{Var: v, Iterable: iter, Body: Blk(body...)}
}

func Case(vals []Expr, body ...Stmt) CaseClause { return CaseClause{Values: vals, Body: Blk(body...)} }

func Switch(subject Expr, def *Block, cases ...CaseClause) *SwitchStmt {
	return &SwitchStmt{Subject: subject, Cases: cases, Default: def}
}

func Ret(vals ...Expr) *ReturnStmt { return &ReturnStmt{Values: vals} }

func Assign(target Expr, v Expr) *AssignStmt {
	return &AssignStmt{Targets: []Expr{target}, Op: "=", Values: []Expr{v}}
}

func AssignOp(target Expr, op string, v Expr) *AssignStmt {
	return &AssignStmt{Targets: []Expr{target}, Op: op, Values: []Expr{v}}
}

func AssignMulti(targets []Expr, vals ...Expr) *AssignStmt {
	return &AssignStmt{Targets: targets, Op: "=", Values: vals}
}

func Do(x Expr) *ExprStmt { return &ExprStmt{X: x} }

func Break() *BreakStmt       { return &BreakStmt{} }
func Continue() *ContinueStmt { return &ContinueStmt{} }

func Id(name string) *Ident { return &Ident{Name: name} }

func Int(text string) *IntLit { return &IntLit{Value: text} }

func IntK(text, kind string) *IntLit { return &IntLit{Value: text, Kind: kind} }

func Float(f float64) *FloatLit { return &FloatLit{Value: f} }

func FloatK(f float64, kind string) *FloatLit { return &FloatLit{Value: f, Kind: kind} }

func Str(s string) *StringLit { return &StringLit{Value: s} }

func Chr(s string) *CharLit { return &CharLit{Value: s} }

func True() *BoolLit  { return &BoolLit{Value: true} }
func False() *BoolLit { return &BoolLit{Value: false} }
func Nil() *NilLit    { return &NilLit{} }

func Unary(op string, x Expr) *UnaryExpr { return &UnaryExpr{Op: op, X: x} }

func Bin(left Expr, op string, right Expr) *BinaryExpr {
	return &BinaryExpr{Op: op, Left: left, Right: right}
}

func Rng(lo, hi Expr) *RangeExpr { return &RangeExpr{Lo: lo, Hi: hi} }

func Call(callee Expr, args ...Expr) *CallExpr { return &CallExpr{Callee: callee, Args: args} }

// CallN calls a function by name.
func CallN(name string, args ...Expr) *CallExpr { return Call(Id(name), args...) }

// Method calls x.name(args).
func Method(x Expr, name string, args ...Expr) *CallExpr {
	return Call(Sel(x, name), args...)
}

func Sel(x Expr, name string) *FieldExpr { return &FieldExpr{X: x, Name: name} }

func Idx(x, i Expr) *IndexExpr { return &IndexExpr{X: x, Index: i} }

func Arr(elems ...Expr) *ArrayLit { return &ArrayLit{Elems: elems} }

// MapOf builds a map literal from alternating keys and values.
func MapOf(kv ...Expr) *MapLit {
	m := &MapLit{}
	for i := 0; i+1 < len(kv); i += 2 {
		m.Entries = append(m.Entries, MapEntry{Key: kv[i], Value: kv[i+1]})
	}
	return m
}

func StructOf(name string, fields ...FieldInit) *StructLit {
	return &StructLit{Name: name, Fields: fields}
}

func FI(name string, v Expr) FieldInit { return FieldInit{Name: name, Value: v} }

func Paren(x Expr) *GroupExpr { return &GroupExpr{X: x} }

// Package ast defines the generic, visitor-style tree of nodes the
// compiler walks. Per spec §1, the concrete node classes are produced
// by an external lexer/parser and are out of scope for the core; this
// package only fixes the sealed set of "semantic flavors" (spec §6)
// the compiler must be able to switch on, grounded in the original's
// ir/ node names (numeric_expr, add_expr, call_expr, loop_stmt, …)
// translated to Go naming.
//
// Node is a closed sum type: every concrete type below has an
// unexported isNode method, so a compiler that type-switches over
// Node and forgets a case is easy to spot by code review (Go has no
// exhaustiveness check, but a closed set in one file is the next best
// thing — see spec §9 "Visitor over AST").
package ast

// Pos is the minimal source position every node carries, for
// diagnostics (spec §7).
type Pos struct {
	Line, Column int
}

// Node is implemented by every AST node.
type Node interface {
	Position() Pos
	isNode()
}

// Base is embedded by every concrete node to supply Position() and
// the sealed-set marker isNode(). It is exported so other packages
// (the parser) can populate it in composite literals; isNode stays
// unexported, which is what actually seals the set.
type Base struct{ Pos Pos }

func (b Base) Position() Pos { return b.Pos }
func (Base) isNode()         {}

// --- literals & primary expressions ---

type NumberLit struct {
	Base
	Value float64
}

type StringLit struct {
	Base
	Value string
}

type BoolLit struct {
	Base
	Value bool
}

type NilLit struct{ Base }

// Identifier is a scoped-name reference (original's scoped_name).
type Identifier struct {
	Base
	Name string
}

// --- operators ---

type UnaryExpr struct {
	Base
	Op      string // "-" negate
	Operand Node
}

// BinaryExpr covers add/sub/mul/div, compare (<,<=,>,>=,==,~=), `is`,
// `and`/`or`/`xor` — the original splits these into numeric_expr,
// mult_expr, add_expr, compare_expr, is_expr, xor_expr, or_expr; a
// single tagged node is equivalent and simpler for a from-scratch Go
// port to switch over.
type BinaryExpr struct {
	Base
	Op          string
	Left, Right Node
}

// Assign is `:=` assignment (original's assign_expr). Assignment via
// bare `=` in expression position is a parser-level diagnostic, not an
// AST node (spec §4.2, §7).
type Assign struct {
	Base
	Name  string
	Value Node
}

// Call is a unary/keyword message-style invocation (original's
// call_expr): Callee(Args...).
type Call struct {
	Base
	Callee Node
	Args   []Node
}

// MemberAccess is `receiver.name` (original's field access via
// primary_expr chains).
type MemberAccess struct {
	Base
	Receiver Node
	Name     string
}

// MemberAssign is `receiver.name := value`.
type MemberAssign struct {
	Base
	Receiver Node
	Name     string
	Value    Node
}

// Subscript is `receiver[key]` (original's subscript_expr).
type Subscript struct {
	Base
	Receiver, Key Node
}

// SubscriptAssign is `receiver[key] := value`.
type SubscriptAssign struct {
	Base
	Receiver, Key, Value Node
}

// SuperCall is `:Super(args…)`.
type SuperCall struct {
	Base
	Args []Node
}

// MapLit is a `{ key: value, … }` map literal (original's map_expr +
// kv_pair).
type MapLit struct {
	Base
	Keys   []Node
	Values []Node
}

// Lambda is an anonymous `\(params){ body }` or `λ(params){ body }`
// function value (original's lambda_decl/lambda_expr).
type Lambda struct {
	Base
	Params []string
	Body   []Node
}

// --- statements ---

type ExprStmt struct {
	Base
	Expr Node
}

// VarDecl is `var name := init` (or `var name` with implicit nil).
type VarDecl struct {
	Base
	Name string
	Init Node // nil if uninitialized
}

// FuncDecl is `fun name(params) { body }` (original's function_decl).
type FuncDecl struct {
	Base
	Name   string
	Params []string
	Body   []Node
}

// ObjDecl is `obj Name(params) [is Parent] { body }`, a class body
// (original's object.cpp / class_obj). Methods is the set of `fun`
// declarations inside the body; API marks which were declared with
// the `api` keyword. The compiler installs every method into the
// instance, whether or not it is marked (spec §4.2, §4.6). Parent, if non-empty, names the class whose
// constructor `:Super(args…)` invokes (spec §4.2 "Super").
type ObjDecl struct {
	Base
	Name    string
	Params  []string
	Parent  string
	Fields  []*VarDecl
	Methods []*FuncDecl
	API     map[string]bool
}

// PrintStmt is `print expr` or `println expr`.
type PrintStmt struct {
	Base
	Expr    Node
	Newline bool
}

// ReturnStmt is `return expr` (or bare `return`, Expr == nil). Not
// permitted inside an ObjDecl body (spec §4.2, §7).
type ReturnStmt struct {
	Base
	Expr Node
}

// YieldStmt is `yield expr`. The grammar signals it (spec §6) but its
// semantics are not specified further; this port treats it as
// equivalent to ReturnStmt, a documented Open Question decision (see
// DESIGN.md).
type YieldStmt struct {
	Base
	Expr Node
}

type BreakStmt struct {
	Base
	Label string // "" if untagged
}

type ContinueStmt struct {
	Base
	Label string
}

// IfStmt is `if cond { then } else { else }`; Else may be nil.
type IfStmt struct {
	Base
	Cond       Node
	Then, Else []Node
}

// LoopKind distinguishes the five loop flavors spec §4.2 names.
type LoopKind int

const (
	LoopBasic  LoopKind = iota // `loop { body }`, infinite until break
	LoopWhile                  // pre-test `while cond { body }`
	LoopUntil                  // pre-test `until cond { body }`
	LoopDoWhile                // post-test `loop { body } while cond`
	LoopDoUntil                // post-test `loop { body } until cond`
	LoopFor                    // C-style `for init; cond; post { body }`
)

// LoopStmt covers all five loop flavors (original's loop_stmt,
// for_stmt).
type LoopStmt struct {
	Base
	Kind  LoopKind
	Label string // "" if untagged

	Cond Node   // while/until/for condition; nil for basic/for-ever
	Body []Node

	// C-style for only:
	Init Node
	Post Node

	// `for x in expr { }`: unimplemented per spec §9 Open Question 3.
	ForIn     bool
	IterVar   string
	IterExpr  Node
}

// UseStmt is `use path` (original's use_stmt); module-loading
// semantics are external to the core and this node only records the
// path for the driver.
type UseStmt struct {
	Base
	Path string
}

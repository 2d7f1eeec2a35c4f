// Package parser implements a recursive-descent parser for dwt
// source, producing the internal/ast tree the compiler walks.
//
// Like internal/lexer, this package stands in for the external
// lexer/parser spec §1 places out of scope for the core; it follows
// the teacher's two-token-lookahead recursive-descent shape (curTok /
// peekTok, errors accumulated rather than aborting on the first one)
// adapted to dwt's C-like expression grammar instead of smog's
// Smalltalk message-send grammar.
package parser

import (
	"fmt"
	"strconv"

	"github.com/kristofer/dwt/internal/ast"
	"github.com/kristofer/dwt/internal/lexer"
)

// Parser is stateful and single-use: create a new one per source
// file or snippet.
type Parser struct {
	l       *lexer.Lexer
	cur     lexer.Token
	peek    lexer.Token
	errors  []string
}

// New creates a parser over src, primed with the first two tokens.
func New(src string) *Parser {
	p := &Parser{l: lexer.New(src)}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.l.Next()
}

func (p *Parser) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf("%d:%d: %s", p.cur.Line, p.cur.Column, fmt.Sprintf(format, args...)))
}

// Errors returns every accumulated diagnostic (spec §7 "The parser
// accumulates errors ... rather than stopping at the first error").
func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) pos() ast.Pos { return ast.Pos{Line: p.cur.Line, Column: p.cur.Column} }

func baseAt(pos ast.Pos) ast.Base { return ast.Base{Pos: pos} }

func (p *Parser) expect(t lexer.TokenType, what string) bool {
	if p.cur.Type != t {
		p.errorf("expected %s, got %q", what, p.cur.Literal)
		return false
	}
	p.next()
	return true
}

// ParseProgram parses the whole input into a slice of top-level
// statements.
func (p *Parser) ParseProgram() []ast.Node {
	var stmts []ast.Node
	p.skipSemis()
	for p.cur.Type != lexer.EOF {
		stmts = append(stmts, p.parseStatement())
		p.skipSemis()
	}
	return stmts
}

func (p *Parser) parseBlock() []ast.Node {
	p.expect(lexer.LBRACE, "{")
	var stmts []ast.Node
	p.skipSemis()
	for p.cur.Type != lexer.RBRACE && p.cur.Type != lexer.EOF {
		stmts = append(stmts, p.parseStatement())
		p.skipSemis()
	}
	p.expect(lexer.RBRACE, "}")
	return stmts
}

// skipSemis consumes optional `;` statement separators.
func (p *Parser) skipSemis() {
	for p.cur.Type == lexer.SEMI {
		p.next()
	}
}

func (p *Parser) parseStatement() ast.Node {
	switch p.cur.Type {
	case lexer.VAR:
		return p.parseVarDecl()
	case lexer.FUN:
		return p.parseFuncDecl()
	case lexer.OBJ:
		return p.parseObjDecl()
	case lexer.IF:
		return p.parseIf()
	case lexer.LOOP:
		return p.parseLoopOrDoWhile()
	case lexer.WHILE:
		return p.parseWhileUntil(ast.LoopWhile)
	case lexer.UNTIL:
		return p.parseWhileUntil(ast.LoopUntil)
	case lexer.FOR:
		return p.parseFor()
	case lexer.PRINT, lexer.PRINTLN:
		return p.parsePrint()
	case lexer.RETURN:
		return p.parseReturn()
	case lexer.YIELD:
		return p.parseYield()
	case lexer.BREAK:
		pos := p.pos()
		p.next()
		label := p.optionalLabel()
		return &ast.BreakStmt{Label: label, Base: baseAt(pos)}
	case lexer.CONTINUE:
		pos := p.pos()
		p.next()
		label := p.optionalLabel()
		return &ast.ContinueStmt{Label: label, Base: baseAt(pos)}
	case lexer.USE:
		return p.parseUse()
	default:
		pos := p.pos()
		expr := p.parseExpression(0)
		return &ast.ExprStmt{Expr: expr, Base: baseAt(pos)}
	}
}

func (p *Parser) optionalLabel() string {
	if p.cur.Type == lexer.COLON && p.peek.Type == lexer.IDENT {
		p.next()
		name := p.cur.Literal
		p.next()
		return name
	}
	return ""
}

func (p *Parser) parseVarDecl() ast.Node {
	pos := p.pos()
	p.next() // 'var'
	name := p.cur.Literal
	p.expect(lexer.IDENT, "identifier")
	var init ast.Node
	if p.cur.Type == lexer.EQ || p.cur.Type == lexer.ASSIGN {
		p.next()
		init = p.parseExpression(0)
	}
	return &ast.VarDecl{Name: name, Init: init, Base: baseAt(pos)}
}

func (p *Parser) parseParamList() []string {
	p.expect(lexer.LPAREN, "(")
	var params []string
	for p.cur.Type != lexer.RPAREN && p.cur.Type != lexer.EOF {
		params = append(params, p.cur.Literal)
		if !p.expect(lexer.IDENT, "parameter name") {
			p.next()
		}
		if p.cur.Type == lexer.COMMA {
			p.next()
		}
	}
	p.expect(lexer.RPAREN, ")")
	return params
}

func (p *Parser) parseFuncDecl() ast.Node {
	pos := p.pos()
	p.next() // 'fun'
	name := p.cur.Literal
	p.expect(lexer.IDENT, "function name")
	params := p.parseParamList()
	body := p.parseBlock()
	return &ast.FuncDecl{Name: name, Params: params, Body: body, Base: baseAt(pos)}
}

func (p *Parser) parseObjDecl() ast.Node {
	pos := p.pos()
	p.next() // 'obj'
	name := p.cur.Literal
	p.expect(lexer.IDENT, "class name")
	var params []string
	if p.cur.Type == lexer.LPAREN {
		params = p.parseParamList()
	}
	var parent string
	if p.cur.Type == lexer.IS {
		p.next()
		parent = p.cur.Literal
		p.expect(lexer.IDENT, "parent class name")
	}
	p.expect(lexer.LBRACE, "{")

	decl := &ast.ObjDecl{Name: name, Params: params, Parent: parent, API: map[string]bool{}, Base: baseAt(pos)}
	for p.skipSemis(); p.cur.Type != lexer.RBRACE && p.cur.Type != lexer.EOF; p.skipSemis() {
		isAPI := false
		if p.cur.Type == lexer.API {
			isAPI = true
			p.next()
		}
		switch p.cur.Type {
		case lexer.VAR:
			if isAPI {
				p.errorf("'api' not allowed on a field declaration")
			}
			decl.Fields = append(decl.Fields, p.parseVarDecl().(*ast.VarDecl))
		case lexer.FUN:
			m := p.parseFuncDecl().(*ast.FuncDecl)
			decl.Methods = append(decl.Methods, m)
			if isAPI {
				decl.API[m.Name] = true
			}
		default:
			p.errorf("unexpected token %q in object body", p.cur.Literal)
			p.next()
		}
	}
	p.expect(lexer.RBRACE, "}")
	return decl
}

func (p *Parser) parseIf() ast.Node {
	pos := p.pos()
	p.next() // 'if'
	cond := p.parseExpression(0)
	then := p.parseBlock()
	var els []ast.Node
	if p.cur.Type == lexer.ELSE {
		p.next()
		if p.cur.Type == lexer.IF {
			els = []ast.Node{p.parseIf()}
		} else {
			els = p.parseBlock()
		}
	}
	return &ast.IfStmt{Cond: cond, Then: then, Else: els, Base: baseAt(pos)}
}

// parseLoopOrDoWhile parses `loop { body }`, and the post-test forms
// `loop { body } while cond` / `loop { body } until cond`.
func (p *Parser) parseLoopOrDoWhile() ast.Node {
	pos := p.pos()
	p.next() // 'loop'
	label := p.optionalLabel()
	body := p.parseBlock()
	switch p.cur.Type {
	case lexer.WHILE:
		p.next()
		cond := p.parseExpression(0)
		return &ast.LoopStmt{Kind: ast.LoopDoWhile, Cond: cond, Body: body, Label: label, Base: baseAt(pos)}
	case lexer.UNTIL:
		p.next()
		cond := p.parseExpression(0)
		return &ast.LoopStmt{Kind: ast.LoopDoUntil, Cond: cond, Body: body, Label: label, Base: baseAt(pos)}
	default:
		return &ast.LoopStmt{Kind: ast.LoopBasic, Body: body, Label: label, Base: baseAt(pos)}
	}
}

func (p *Parser) parseWhileUntil(kind ast.LoopKind) ast.Node {
	pos := p.pos()
	p.next() // 'while'/'until'
	cond := p.parseExpression(0)
	body := p.parseBlock()
	return &ast.LoopStmt{Kind: kind, Cond: cond, Body: body, Base: baseAt(pos)}
}

// parseFor parses the C-style `for init; cond; post { body }` and
// recognizes, but does not lower, `for x in expr { body }` (spec §9
// Open Question 3: "treat it as unspecified and produce a parser-
// level unimplemented").
func (p *Parser) parseFor() ast.Node {
	pos := p.pos()
	p.next() // 'for'

	if p.cur.Type == lexer.IDENT && p.peek.Type == lexer.IN {
		name := p.cur.Literal
		p.next()
		p.next() // 'in'
		iter := p.parseExpression(0)
		body := p.parseBlock()
		return &ast.LoopStmt{Kind: ast.LoopFor, ForIn: true, IterVar: name, IterExpr: iter, Body: body, Base: baseAt(pos)}
	}

	var init ast.Node
	if p.cur.Type != lexer.SEMI {
		init = p.parseStatement()
	}
	p.expect(lexer.SEMI, ";")
	cond := p.parseExpression(0)
	p.expect(lexer.SEMI, ";")
	post := p.parseExpression(0)
	body := p.parseBlock()
	return &ast.LoopStmt{Kind: ast.LoopFor, Init: init, Cond: cond, Post: post, Body: body, Base: baseAt(pos)}
}

func (p *Parser) parsePrint() ast.Node {
	pos := p.pos()
	newline := p.cur.Type == lexer.PRINTLN
	p.next()
	expr := p.parseExpression(0)
	return &ast.PrintStmt{Expr: expr, Newline: newline, Base: baseAt(pos)}
}

func (p *Parser) parseReturn() ast.Node {
	pos := p.pos()
	p.next()
	if atStatementEnd(p.cur.Type) {
		return &ast.ReturnStmt{Base: baseAt(pos)}
	}
	return &ast.ReturnStmt{Expr: p.parseExpression(0), Base: baseAt(pos)}
}

func (p *Parser) parseYield() ast.Node {
	pos := p.pos()
	p.next()
	if atStatementEnd(p.cur.Type) {
		return &ast.YieldStmt{Base: baseAt(pos)}
	}
	return &ast.YieldStmt{Expr: p.parseExpression(0), Base: baseAt(pos)}
}

func (p *Parser) parseUse() ast.Node {
	pos := p.pos()
	p.next()
	path := p.cur.Literal
	p.next()
	return &ast.UseStmt{Path: path, Base: baseAt(pos)}
}

func atStatementEnd(t lexer.TokenType) bool {
	return t == lexer.RBRACE || t == lexer.EOF || t == lexer.SEMI
}

// --- expressions: precedence climbing ---

// precedence levels, low to high.
const (
	precLowest = iota
	precAssign
	precOr
	precAnd
	precEquality
	precCompare
	precAdd
	precMul
	precUnary
	precPostfix
)

func binPrec(t lexer.TokenType) int {
	switch t {
	case lexer.OR, lexer.XOR:
		return precOr
	case lexer.AND:
		return precAnd
	case lexer.EQEQ, lexer.NEQ, lexer.IS:
		return precEquality
	case lexer.LT, lexer.LTEQ, lexer.GT, lexer.GTEQ:
		return precCompare
	case lexer.PLUS, lexer.MINUS:
		return precAdd
	case lexer.STAR, lexer.SLASH:
		return precMul
	default:
		return precLowest
	}
}

func binOpLiteral(t lexer.TokenType) string {
	switch t {
	case lexer.OR:
		return "or"
	case lexer.XOR:
		return "xor"
	case lexer.AND:
		return "and"
	case lexer.EQEQ:
		return "=="
	case lexer.NEQ:
		return "~="
	case lexer.IS:
		return "is"
	case lexer.LT:
		return "<"
	case lexer.LTEQ:
		return "<="
	case lexer.GT:
		return ">"
	case lexer.GTEQ:
		return ">="
	case lexer.PLUS:
		return "+"
	case lexer.MINUS:
		return "-"
	case lexer.STAR:
		return "*"
	case lexer.SLASH:
		return "/"
	default:
		return "?"
	}
}

// parseExpression implements assignment (`:=`, right-associative,
// lowest precedence) over a precedence-climbing binary-operator parser.
func (p *Parser) parseExpression(minPrec int) ast.Node {
	if minPrec == 0 {
		if asn := p.tryParseAssignment(); asn != nil {
			return asn
		}
	}
	left := p.parseUnary()
	for {
		prec := binPrec(p.cur.Type)
		if prec == precLowest || prec < minPrec {
			return left
		}
		opTok := p.cur.Type
		pos := p.pos()
		p.next()
		right := p.parseExpression(prec + 1)
		left = &ast.BinaryExpr{Op: binOpLiteral(opTok), Left: left, Right: right, Base: baseAt(pos)}
	}
}

// tryParseAssignment looks ahead for `name :=`, `recv.name :=`, or
// `recv[key] :=`, which can't be detected with one token of lookahead
// alone, so it speculatively parses a postfix-expression prefix first.
func (p *Parser) tryParseAssignment() ast.Node {
	if p.cur.Type != lexer.IDENT {
		return nil
	}
	// parsePostfix may consume arbitrarily many tokens past the current
	// two-token lookahead (chained .member/[key]/(args)), and the lexer
	// mutates in place as tokens are read, so backtracking must restore
	// both the parser's lookahead and the lexer's scan position, not
	// just the parser struct (which holds a pointer to the same Lexer).
	savedLexer := *p.l
	save := *p
	pos := p.pos()
	target := p.parsePostfix(p.parsePrimary())
	if p.cur.Type != lexer.ASSIGN {
		*p.l = savedLexer
		*p = save
		return nil
	}
	p.next()
	value := p.parseExpression(0)
	switch t := target.(type) {
	case *ast.Identifier:
		return &ast.Assign{Name: t.Name, Value: value, Base: baseAt(pos)}
	case *ast.MemberAccess:
		return &ast.MemberAssign{Receiver: t.Receiver, Name: t.Name, Value: value, Base: baseAt(pos)}
	case *ast.Subscript:
		return &ast.SubscriptAssign{Receiver: t.Receiver, Key: t.Key, Value: value, Base: baseAt(pos)}
	default:
		p.errorf("invalid assignment target")
		return &ast.Assign{Value: value, Base: baseAt(pos)}
	}
}

func (p *Parser) parseUnary() ast.Node {
	if p.cur.Type == lexer.MINUS {
		pos := p.pos()
		p.next()
		operand := p.parseUnary()
		return &ast.UnaryExpr{Op: "-", Operand: operand, Base: baseAt(pos)}
	}
	return p.parsePostfix(p.parsePrimary())
}

func (p *Parser) parsePostfix(node ast.Node) ast.Node {
	for {
		switch p.cur.Type {
		case lexer.DOT:
			pos := p.pos()
			p.next()
			name := p.cur.Literal
			p.expect(lexer.IDENT, "member name")
			node = &ast.MemberAccess{Receiver: node, Name: name, Base: baseAt(pos)}
		case lexer.LBRACKET:
			pos := p.pos()
			p.next()
			key := p.parseExpression(0)
			p.expect(lexer.RBRACKET, "]")
			node = &ast.Subscript{Receiver: node, Key: key, Base: baseAt(pos)}
		case lexer.LPAREN:
			pos := p.pos()
			args := p.parseArgs()
			node = &ast.Call{Callee: node, Args: args, Base: baseAt(pos)}
		default:
			return node
		}
	}
}

func (p *Parser) parseArgs() []ast.Node {
	p.expect(lexer.LPAREN, "(")
	var args []ast.Node
	for p.cur.Type != lexer.RPAREN && p.cur.Type != lexer.EOF {
		args = append(args, p.parseExpression(0))
		if p.cur.Type == lexer.COMMA {
			p.next()
		}
	}
	p.expect(lexer.RPAREN, ")")
	return args
}

func (p *Parser) parsePrimary() ast.Node {
	pos := p.pos()
	switch p.cur.Type {
	case lexer.INTEGER, lexer.FLOAT:
		lit := p.cur.Literal
		p.next()
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			p.errorf("invalid number literal %q", lit)
		}
		return &ast.NumberLit{Value: f, Base: baseAt(pos)}
	case lexer.STRING:
		lit := p.cur.Literal
		p.next()
		return &ast.StringLit{Value: lit, Base: baseAt(pos)}
	case lexer.TRUE:
		p.next()
		return &ast.BoolLit{Value: true, Base: baseAt(pos)}
	case lexer.FALSE:
		p.next()
		return &ast.BoolLit{Value: false, Base: baseAt(pos)}
	case lexer.NIL:
		p.next()
		return &ast.NilLit{Base: baseAt(pos)}
	case lexer.SELF:
		p.next()
		return &ast.Identifier{Name: "self", Base: baseAt(pos)}
	case lexer.IDENT:
		name := p.cur.Literal
		p.next()
		for p.cur.Type == lexer.COLONCOLON {
			p.next()
			name += "::" + p.cur.Literal
			p.expect(lexer.IDENT, "identifier")
		}
		return &ast.Identifier{Name: name, Base: baseAt(pos)}
	case lexer.COLON:
		// `:Super(args…)`
		p.next()
		if p.cur.Literal != "Super" {
			p.errorf("expected 'Super' after ':'")
		}
		p.next()
		args := p.parseArgs()
		return &ast.SuperCall{Args: args, Base: baseAt(pos)}
	case lexer.LPAREN:
		p.next()
		expr := p.parseExpression(0)
		p.expect(lexer.RPAREN, ")")
		return expr
	case lexer.LAMBDA:
		p.next()
		params := p.parseParamList()
		body := p.parseBlock()
		return &ast.Lambda{Params: params, Body: body, Base: baseAt(pos)}
	case lexer.LBRACE:
		return p.parseMapLit()
	default:
		p.errorf("unexpected token %q", p.cur.Literal)
		p.next()
		return &ast.NilLit{Base: baseAt(pos)}
	}
}

func (p *Parser) parseMapLit() ast.Node {
	pos := p.pos()
	p.next() // '{'
	m := &ast.MapLit{Base: baseAt(pos)}
	for p.cur.Type != lexer.RBRACE && p.cur.Type != lexer.EOF {
		key := p.parseExpression(0)
		p.expect(lexer.COLON, ":")
		val := p.parseExpression(0)
		m.Keys = append(m.Keys, key)
		m.Values = append(m.Values, val)
		if p.cur.Type == lexer.COMMA {
			p.next()
		}
	}
	p.expect(lexer.RBRACE, "}")
	return m
}

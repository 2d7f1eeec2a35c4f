package parser

import (
	"testing"

	"github.com/kristofer/dwt/internal/ast"
)

func TestParseVarDecl(t *testing.T) {
	p := New(`var x := 1 + 2`)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if len(prog) != 1 {
		t.Fatalf("got %d statements, want 1", len(prog))
	}
	decl, ok := prog[0].(*ast.VarDecl)
	if !ok {
		t.Fatalf("got %T, want *ast.VarDecl", prog[0])
	}
	if decl.Name != "x" {
		t.Errorf("Name = %q, want x", decl.Name)
	}
	bin, ok := decl.Init.(*ast.BinaryExpr)
	if !ok {
		t.Fatalf("Init = %T, want *ast.BinaryExpr", decl.Init)
	}
	if bin.Op != "+" {
		t.Errorf("Op = %q, want +", bin.Op)
	}
}

func TestParseFuncDecl(t *testing.T) {
	p := New(`fun add(a, b) { return a + b }`)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	fn, ok := prog[0].(*ast.FuncDecl)
	if !ok {
		t.Fatalf("got %T, want *ast.FuncDecl", prog[0])
	}
	if fn.Name != "add" || len(fn.Params) != 2 {
		t.Errorf("got name=%q params=%v", fn.Name, fn.Params)
	}
}

func TestParseIfElse(t *testing.T) {
	p := New(`if x { print 1 } else { print 2 }`)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	ifs, ok := prog[0].(*ast.IfStmt)
	if !ok {
		t.Fatalf("got %T, want *ast.IfStmt", prog[0])
	}
	if len(ifs.Then) != 1 || len(ifs.Else) != 1 {
		t.Errorf("then=%d else=%d branches, want 1/1", len(ifs.Then), len(ifs.Else))
	}
}

func TestParseErrorsAccumulate(t *testing.T) {
	p := New(`var := }`)
	p.ParseProgram()
	if len(p.Errors()) == 0 {
		t.Error("malformed input produced no parse errors")
	}
}

func TestParseObjDecl(t *testing.T) {
	p := New(`obj Point(x, y) { api fun sum() { return x + y } }`)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	obj, ok := prog[0].(*ast.ObjDecl)
	if !ok {
		t.Fatalf("got %T, want *ast.ObjDecl", prog[0])
	}
	if obj.Name != "Point" || len(obj.Params) != 2 {
		t.Errorf("got name=%q params=%v", obj.Name, obj.Params)
	}
	if len(obj.Methods) != 1 || !obj.API["sum"] {
		t.Errorf("expected one api method 'sum', got methods=%v api=%v", obj.Methods, obj.API)
	}
}

package compiler

import (
	"testing"

	"github.com/kristofer/dwt/internal/object"
	"github.com/kristofer/dwt/internal/parser"
)

func compileSrc(t *testing.T, src string, opts Options) (*object.FunctionData, Globals, error) {
	t.Helper()
	p := parser.New(src)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	heap := object.NewHeap()
	fnVal, globals, _, err := CompileProgram(prog, heap, Globals{}, opts)
	if err != nil {
		return nil, globals, err
	}
	obj := heap.Resolve(fnVal)
	return obj.Data.(*object.FunctionData), globals, nil
}

func TestCompileSimpleProgram(t *testing.T) {
	fn, _, err := compileSrc(t, `var x := 1 + 2`, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fn.Code.Code.Bytes) == 0 {
		t.Error("compiled function has no bytecode")
	}
}

func TestCompileDeclaresGlobals(t *testing.T) {
	_, globals, err := compileSrc(t, `
		var a := 1
		var b := 2
	`, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(globals.Names) != 2 {
		t.Errorf("got %d globals, want 2: %v", len(globals.Names), globals.Names)
	}
}

func TestCompileUnresolvedIdentifierErrors(t *testing.T) {
	_, _, err := compileSrc(t, `print doesNotExist`, Options{})
	if err == nil {
		t.Error("referencing an undeclared identifier should be a compile error")
	}
}

func TestCompileRedeclarationErrors(t *testing.T) {
	_, _, err := compileSrc(t, `
		var x := 1
		var x := 2
	`, Options{})
	if err == nil {
		t.Error("redeclaring a global in the same scope should be a compile error")
	}
}

func TestCompileWithOptimizerProducesShorterOrEqualCode(t *testing.T) {
	src := `
		var x := 1
		var y := 2
		print x + y
	`
	plain, _, err := compileSrc(t, src, Options{})
	if err != nil {
		t.Fatalf("unexpected error (unoptimized): %v", err)
	}
	optimized, _, err := compileSrc(t, src, Options{Optimize: true})
	if err != nil {
		t.Fatalf("unexpected error (optimized): %v", err)
	}
	if len(optimized.Code.Code.Bytes) > len(plain.Code.Code.Bytes) {
		t.Errorf("optimized code (%d bytes) longer than unoptimized (%d bytes)",
			len(optimized.Code.Code.Bytes), len(plain.Code.Code.Bytes))
	}
}

func TestCompileThreadedMatchesSequential(t *testing.T) {
	src := `
		fun a() { return 1 }
		fun b() { return 2 }
		print a() + b()
	`
	seq, _, err := compileSrc(t, src, Options{})
	if err != nil {
		t.Fatalf("sequential compile failed: %v", err)
	}
	threaded, _, err := compileSrc(t, src, Options{Threads: true})
	if err != nil {
		t.Fatalf("threaded compile failed: %v", err)
	}
	if len(seq.Code.Code.Bytes) == 0 || len(threaded.Code.Code.Bytes) == 0 {
		t.Error("expected non-empty bytecode from both compile modes")
	}
	if string(seq.Code.Code.Bytes) != string(threaded.Code.Code.Bytes) {
		t.Errorf("threaded bytecode %v differs from sequential %v", threaded.Code.Code.Bytes, seq.Code.Code.Bytes)
	}
}

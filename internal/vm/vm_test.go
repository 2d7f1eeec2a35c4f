package vm

import (
	"strings"
	"testing"

	"github.com/kristofer/dwt/internal/compiler"
	"github.com/kristofer/dwt/internal/object"
	"github.com/kristofer/dwt/internal/parser"
	"github.com/kristofer/dwt/internal/value"
)

func runSource(t *testing.T, src string, opts Options, copts compiler.Options) (value.Value, *VM) {
	t.Helper()
	p := parser.New(src)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	heap := object.NewHeap()
	fnVal, globals, _, err := compiler.CompileProgram(prog, heap, compiler.Globals{}, copts)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	v := New(heap, globals.Names, globals.Values, opts)
	result, err := v.Run(fnVal)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	return result, v
}

func TestRunReturnsExplicitTopLevelReturn(t *testing.T) {
	result, _ := runSource(t, `return 2 + 3`, Options{}, compiler.Options{})
	if !result.IsNumber() || result.AsNumber() != 5 {
		t.Errorf("result = %v, want 5", result)
	}
}

func TestRunDefaultsToNilWithNoReturn(t *testing.T) {
	result, _ := runSource(t, `var x := 1 + 2`, Options{}, compiler.Options{})
	if !result.IsNil() {
		t.Errorf("result = %v, want nil", result)
	}
}

func TestGlobalAssignmentVisibleAfterRun(t *testing.T) {
	_, v := runSource(t, `var total := 40 + 2`, Options{}, compiler.Options{})
	idx, ok := v.GlobalIndex("total")
	if !ok {
		t.Fatal("global 'total' not found after run")
	}
	got := v.Global(idx)
	if !got.IsNumber() || got.AsNumber() != 42 {
		t.Errorf("global total = %v, want 42", got)
	}
}

func TestStrictVsBitEquality(t *testing.T) {
	nonStrict, _ := runSource(t, `return 0 == 0`, Options{Strict: false}, compiler.Options{})
	if !nonStrict.IsBool() || !nonStrict.AsBool() {
		t.Errorf("0 == 0 should be true under bit equality, got %v", nonStrict)
	}
	strict, _ := runSource(t, `return 0 == 0`, Options{Strict: true}, compiler.Options{Strict: true})
	if !strict.IsBool() || !strict.AsBool() {
		t.Errorf("0 == 0 should be true under strict equality too, got %v", strict)
	}
}

func TestDeepTailRecursionDoesNotOverflow(t *testing.T) {
	result, _ := runSource(t, `
		fun countdown(n) {
			if n <= 0 { return 0 }
			return countdown(n - 1)
		}
		return countdown(100000)
	`, Options{}, compiler.Options{})
	if !result.IsNumber() || result.AsNumber() != 0 {
		t.Errorf("result = %v, want 0", result)
	}
}

func TestInvokeExportedFunction(t *testing.T) {
	_, v := runSource(t, `fun square(x) { return x * x }`, Options{}, compiler.Options{})
	idx, ok := v.GlobalIndex("square")
	if !ok {
		t.Fatal("global 'square' not found")
	}
	fn := v.Global(idx)
	result, err := v.Invoke(fn, []value.Value{value.Number(6)})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if !result.IsNumber() || result.AsNumber() != 36 {
		t.Errorf("Invoke(square, 6) = %v, want 36", result)
	}
}

func TestRuntimeErrorTraceNamesFrames(t *testing.T) {
	p := parser.New(`
		fun boom() { return 1 + nil }
		boom()
	`)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	heap := object.NewHeap()
	fnVal, globals, _, err := compiler.CompileProgram(prog, heap, compiler.Globals{}, compiler.Options{})
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	v := New(heap, globals.Names, globals.Values, Options{})
	_, err = v.Run(fnVal)
	if err == nil {
		t.Fatal("expected a runtime error adding a number to nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "raised in fun boom") {
		t.Errorf("trace should name the raising frame, got %q", msg)
	}
	if !strings.Contains(msg, "called from fun main") {
		t.Errorf("trace should walk out to the entry frame, got %q", msg)
	}
}

func TestInvokeNonCallableErrors(t *testing.T) {
	_, v := runSource(t, `var x := 1`, Options{}, compiler.Options{})
	idx, _ := v.GlobalIndex("x")
	if _, err := v.Invoke(v.Global(idx), nil); err == nil {
		t.Error("Invoke of a non-callable value should return an error")
	}
}

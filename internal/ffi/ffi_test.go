package ffi

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kristofer/dwt/internal/compiler"
	"github.com/kristofer/dwt/internal/value"
)

func run(t *testing.T, src string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	ctx := New(compiler.Options{}, &out)
	_, err := ctx.InterpretSource(src)
	return out.String(), err
}

func TestArithmeticAndPrint(t *testing.T) {
	out, err := run(t, `print 1 + 2 * 3`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "7" {
		t.Errorf("output = %q, want 7", out)
	}
}

func TestVarDeclAndReassignment(t *testing.T) {
	out, err := run(t, `
		var x := 10
		x := x + 5
		print x
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "15" {
		t.Errorf("output = %q, want 15", out)
	}
}

func TestFunctionCallAndReturn(t *testing.T) {
	out, err := run(t, `
		fun add(a, b) { return a + b }
		print add(3, 4)
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "7" {
		t.Errorf("output = %q, want 7", out)
	}
}

func TestRecursiveFactorial(t *testing.T) {
	out, err := run(t, `
		fun fact(n) {
			if n <= 1 { return 1 }
			return n * fact(n - 1)
		}
		print fact(10)
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "3628800" {
		t.Errorf("output = %q, want 3628800", out)
	}
}

func TestClosureCapturesOuterLocal(t *testing.T) {
	out, err := run(t, `
		fun makeCounter() {
			var n := 0
			fun inc() {
				n := n + 1
				return n
			}
			return inc
		}
		var counter := makeCounter()
		print counter()
		print counter()
		print counter()
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "1\n2\n3\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestWhileLoop(t *testing.T) {
	out, err := run(t, `
		var i := 0
		var sum := 0
		while i < 5 {
			sum := sum + i
			i := i + 1
		}
		print sum
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "10" {
		t.Errorf("output = %q, want 10", out)
	}
}

func TestInbuiltsRegisteredOnNewContext(t *testing.T) {
	ctx := New(compiler.Options{}, &bytes.Buffer{})
	for _, name := range []string{"ver", "dup", "str", "len", "gc", "sleep"} {
		if _, ok := ctx.Find(name); !ok {
			t.Errorf("inbuilt %q not registered on a fresh Context", name)
		}
	}
}

func TestCallNamedInvokesScriptFunction(t *testing.T) {
	ctx := New(compiler.Options{}, &bytes.Buffer{})
	if _, err := ctx.InterpretSource(`fun double(x) { return x * 2 }`); err != nil {
		t.Fatalf("interpret failed: %v", err)
	}
	result, err := ctx.CallNamed("double", []value.Value{value.Number(21)})
	if err != nil {
		t.Fatalf("CallNamed failed: %v", err)
	}
	if !result.IsNumber() || result.AsNumber() != 42 {
		t.Errorf("CallNamed result = %v, want 42", result)
	}
}

func TestBoxRoundTrip(t *testing.T) {
	ctx := New(compiler.Options{}, &bytes.Buffer{})
	type payload struct{ n int }
	p := &payload{n: 7}
	boxed := ctx.Box(p, nil)
	got, err := ctx.Unbox(boxed)
	if err != nil {
		t.Fatalf("Unbox failed: %v", err)
	}
	if got.(*payload).n != 7 {
		t.Errorf("round-tripped payload = %+v, want n=7", got)
	}
}

func TestBoxFinalizerRunsOnSweep(t *testing.T) {
	ctx := New(compiler.Options{}, &bytes.Buffer{})
	ran := false
	ctx.Box(7, func() { ran = true })
	ctx.Collector().Collect()
	if !ran {
		t.Error("finalizer did not run when its box was swept")
	}
}

func TestUnboxNonBoxErrors(t *testing.T) {
	ctx := New(compiler.Options{}, &bytes.Buffer{})
	if _, err := ctx.Unbox(value.Number(1)); err == nil {
		t.Error("Unbox of a non-box value should error")
	}
}

func TestParseErrorSurfacesAsError(t *testing.T) {
	if _, err := run(t, `var := }`); err == nil {
		t.Error("malformed source should return an error from InterpretSource")
	}
}

// Package test provides end-to-end integration tests that run dwt
// source through the full pipeline: lexer, parser, compiler, optimizer
// and VM, via the embedder-facing ffi.Context.
package test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kristofer/dwt/internal/compiler"
	"github.com/kristofer/dwt/internal/ffi"
	"github.com/kristofer/dwt/internal/value"
)

func runDwt(t *testing.T, src string) string {
	t.Helper()
	var out bytes.Buffer
	ctx := ffi.New(compiler.Options{Optimize: true}, &out)
	if _, err := ctx.InterpretSource(src); err != nil {
		t.Fatalf("interpret failed: %v\nsource:\n%s", err, src)
	}
	return out.String()
}

func TestArithmeticPrecedence(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"print 1 + 2 * 3", "7"},
		{"print (1 + 2) * 3", "9"},
		{"print 10 - 4 - 3", "3"},
		{"print 2 * (3 + 4) - 1", "13"},
	}
	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			if got := strings.TrimSpace(runDwt(t, c.src)); got != c.want {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestControlFlow(t *testing.T) {
	t.Run("IfElse", func(t *testing.T) {
		got := strings.TrimSpace(runDwt(t, `
			var x := 7
			if x > 5 {
				print "big"
			} else {
				print "small"
			}
		`))
		if got != "big" {
			t.Errorf("got %q, want big", got)
		}
	})

	t.Run("WhileAccumulates", func(t *testing.T) {
		got := strings.TrimSpace(runDwt(t, `
			var i := 0
			var total := 0
			while i < 10 {
				total := total + i
				i := i + 1
			}
			print total
		`))
		if got != "45" {
			t.Errorf("got %q, want 45", got)
		}
	})

	t.Run("BreakAndContinue", func(t *testing.T) {
		got := strings.TrimSpace(runDwt(t, `
			var i := 0
			var sum := 0
			var skip := false
			while true {
				i := i + 1
				if i > 20 { break }
				if skip {
					skip := false
					continue
				}
				skip := true
				sum := sum + i
			}
			print sum
		`))
		if got != "100" {
			t.Errorf("got %q, want 100", got)
		}
	})
}

func TestClosuresAndRecursion(t *testing.T) {
	t.Run("CounterClosure", func(t *testing.T) {
		got := runDwt(t, `
			fun makeCounter() {
				var n := 0
				fun inc() {
					n := n + 1
					return n
				}
				return inc
			}
			var c1 := makeCounter()
			var c2 := makeCounter()
			print c1()
			print c1()
			print c2()
		`)
		want := "1\n2\n1\n"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("MutualRecursionViaForwardDeclaration", func(t *testing.T) {
		got := strings.TrimSpace(runDwt(t, `
			fun isEven(n) {
				if n == 0 { return true }
				return isOdd(n - 1)
			}
			fun isOdd(n) {
				if n == 0 { return false }
				return isEven(n - 1)
			}
			print isEven(10)
		`))
		if got != "true" {
			t.Errorf("got %q, want true", got)
		}
	})

	t.Run("DeepTailRecursionDoesNotOverflow", func(t *testing.T) {
		got := strings.TrimSpace(runDwt(t, `
			fun descend(n, acc) {
				if n <= 0 { return acc }
				return descend(n - 1, acc + 1)
			}
			print descend(500000, 0)
		`))
		if got != "500000" {
			t.Errorf("got %q, want 500000", got)
		}
	})
}

func TestObjectsAndMaps(t *testing.T) {
	t.Run("MapLiteralFieldAccess", func(t *testing.T) {
		got := strings.TrimSpace(runDwt(t, `
			var point := { "x": 1, "y": 2 }
			print point.x + point.y
		`))
		if got != "3" {
			t.Errorf("got %q, want 3", got)
		}
	})

	t.Run("ObjDeclConstructsInstance", func(t *testing.T) {
		got := strings.TrimSpace(runDwt(t, `
			obj Counter {
				var count := 0
				fun inc() {
					count := count + 1
					return count
				}
			}
			var c := Counter()
			c.inc()
			c.inc()
			print c.inc()
		`))
		if got != "3" {
			t.Errorf("got %q, want 3", got)
		}
	})
}

// TestOptimizerPreservesObservableOutput runs a spread of programs
// twice, optimizer off and on, and requires identical stdout: the
// peephole passes may only ever make code smaller or faster, never
// change what it prints.
func TestOptimizerPreservesObservableOutput(t *testing.T) {
	programs := []struct {
		name string
		src  string
		want string
	}{
		{"ConstantArithmetic", `print 1 + 2 * 3`, "7\n"},
		{"Fibonacci", `
			fun f(n) {
				if n < 2 { return n }
				return f(n - 1) + f(n - 2)
			}
			print f(10)
		`, "55\n"},
		{"CounterClosure", `
			fun mk() {
				var c := 0
				return \() { c := c + 1; return c }
			}
			var g := mk()
			print g(); print g(); print g()
		`, "1\n2\n3\n"},
		{"ObjectMethodDispatch", `
			obj P(x) {
				var X := x
				fun hello() { print X }
			}
			var p := P(42)
			p.hello()
		`, "42\n"},
		{"DeepSelfRecursion", `
			fun cd(n) {
				if n == 0 { return "done" }
				return cd(n - 1)
			}
			print cd(100000)
		`, "done\n"},
		{"MapLiteralAndSubscript", `
			var m := { "a": 1, "b": 2 }
			m["c"] := 3
			print m["a"] + m["b"] + m["c"]
		`, "6\n"},
	}
	for _, prog := range programs {
		for _, optimize := range []bool{false, true} {
			name := prog.name + "/plain"
			if optimize {
				name = prog.name + "/optimized"
			}
			t.Run(name, func(t *testing.T) {
				var out bytes.Buffer
				ctx := ffi.New(compiler.Options{Optimize: optimize}, &out)
				if _, err := ctx.InterpretSource(prog.src); err != nil {
					t.Fatalf("interpret failed: %v", err)
				}
				if out.String() != prog.want {
					t.Errorf("output = %q, want %q", out.String(), prog.want)
				}
			})
		}
	}
}

func TestHostInteropThroughFFI(t *testing.T) {
	var out bytes.Buffer
	ctx := ffi.New(compiler.Options{}, &out)

	sum := 0
	ctx.Bind("record", func(args []value.Value) (value.Value, error) {
		sum += int(args[0].AsNumber())
		return value.Nil, nil
	})

	if _, err := ctx.InterpretSource(`
		record(1)
		record(2)
		record(3)
	`); err != nil {
		t.Fatalf("interpret failed: %v", err)
	}
	if sum != 6 {
		t.Errorf("host-side sum = %d, want 6", sum)
	}

	result, err := ctx.CallNamed("record", []value.Value{value.Number(4)})
	if err != nil {
		t.Fatalf("CallNamed failed: %v", err)
	}
	if !result.IsNil() {
		t.Errorf("record() should return nil, got %v", result)
	}
	if sum != 10 {
		t.Errorf("host-side sum after CallNamed = %d, want 10", sum)
	}
}

func TestRuntimeErrorsSurfaceWithDiagnostics(t *testing.T) {
	var out bytes.Buffer
	ctx := ffi.New(compiler.Options{}, &out)
	_, err := ctx.InterpretSource(`
		fun boom() {
			return 1 + nil
		}
		boom()
	`)
	if err == nil {
		t.Fatal("expected a runtime error adding a number to nil")
	}
	if !strings.Contains(err.Error(), "boom") && !strings.Contains(err.Error(), "error") {
		t.Errorf("error message %q should mention the failing context", err.Error())
	}
}

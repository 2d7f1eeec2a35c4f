// Package ffi is the embedder-facing API spec §6 describes:
// interpret/bind/find/call/box/unbox, plus the inbuilt host functions
// (`ver`, `dup`, `str`, `len`, `gc`, `sleep`) every compilation unit
// gets pre-registered (spec §4.2 "Input").
//
// A Context owns the one object heap (and its collector) that every
// VM it spins up shares, mirroring the teacher's single global
// interpreter instance generalized to spec §9's "single interpreter
// context" design note: rather than package-level singletons, every
// piece of shared state — heap, collector, global table — hangs off
// this one struct an embedder constructs explicitly.
package ffi

import (
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/kristofer/dwt/internal/compiler"
	"github.com/kristofer/dwt/internal/gc"
	"github.com/kristofer/dwt/internal/object"
	"github.com/kristofer/dwt/internal/parser"
	"github.com/kristofer/dwt/internal/value"
	"github.com/kristofer/dwt/internal/vm"
)

// Context is the embedder's handle onto one interpreter instance
// (spec §6 "Embedder API"). Names/Values track every global slot bind
// has reserved or a completed Interpret/Call has discovered, so a
// later bind/find/call sees the cumulative global table rather than
// starting over.
type Context struct {
	Opts   compiler.Options
	Stdout io.Writer

	heap   *object.Heap
	gc     *gc.GC
	names  []string
	values []value.Value
	byName map[string]int
	mainVM *vm.VM // the VM from the most recent Interpret, if any
}

// New creates a Context with its own heap and collector, and
// registers the inbuilt host functions spec §4.2 requires to be
// pre-registered in the global scope before any script compiles
// (`ver`, `dup`, `str`, `len`, `gc`, `sleep` — supplemented from
// original_source/inbuilt.cpp per SPEC_FULL.md §C).
func New(opts compiler.Options, stdout io.Writer) *Context {
	if stdout == nil {
		stdout = os.Stdout
	}
	heap := object.NewHeap()
	c := &Context{
		Opts:   opts,
		Stdout: stdout,
		heap:   heap,
		gc:     gc.New(heap),
		byName: make(map[string]int),
	}
	// The Context's cached global table must survive collections that
	// run between interpretations (or mid-Call at a VM safepoint),
	// when no VM holding those values is live to root them.
	c.gc.Register(c)
	c.registerInbuilts()
	return c
}

// MarkRoots yields every value the Context itself keeps live across
// runs: the cumulative global table bind/Interpret built up.
func (c *Context) MarkRoots(mark func(value.Value)) {
	for _, v := range c.values {
		mark(v)
	}
}

// Bind registers a host-implemented callable under a fully qualified
// name (spec §6 "bind"). Rebinding an existing name replaces its
// value in place rather than reserving a second slot.
func (c *Context) Bind(name string, fn object.HostFunc) value.Value {
	v := c.heap.NewSyscall(name, fn)
	if idx, ok := c.byName[name]; ok {
		c.values[idx] = v
		if c.mainVM != nil {
			c.mainVM.SetGlobal(idx, v)
		}
		return v
	}
	idx := len(c.names)
	c.names = append(c.names, name)
	c.values = append(c.values, v)
	c.byName[name] = idx
	return v
}

// Find looks up a global by its fully qualified name (spec §6
// "find"), preferring a live VM's current value over the Context's
// own cached table since script execution may have rebound it.
func (c *Context) Find(name string) (value.Value, bool) {
	if c.mainVM != nil {
		if idx, ok := c.mainVM.GlobalIndex(name); ok {
			return c.mainVM.Global(idx), true
		}
	}
	if idx, ok := c.byName[name]; ok {
		return c.values[idx], true
	}
	return value.Nil, false
}

// Interpret compiles and runs path to completion (spec §6 "interpret:
// the one-shot pipeline"): read, lex+parse (the external collaborators
// spec §1 scopes out of the core; internal/lexer and internal/parser
// stand in for them here), compile, run.
func (c *Context) Interpret(path string) (value.Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return value.Nil, pkgerrors.Wrapf(err, "reading %s", path)
	}
	return c.InterpretSource(string(src))
}

// InterpretSource runs the same pipeline as Interpret over source text
// already in memory (used by tests and the REPL, which have no file on
// disk to read).
func (c *Context) InterpretSource(src string) (value.Value, error) {
	p := parser.New(src)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return value.Nil, fmt.Errorf("parse error: %s", errs[0])
	}

	fn, globals, compileErrs, err := compiler.CompileProgram(prog, c.heap, compiler.Globals{Names: c.names, Values: c.values}, c.Opts)
	if err != nil {
		if len(compileErrs) > 0 {
			return value.Nil, fmt.Errorf("%s", compileErrs[0])
		}
		return value.Nil, pkgerrors.Wrap(err, "compile")
	}

	v := vm.New(c.heap, globals.Names, globals.Values, vm.Options{Strict: c.Opts.Strict, Stdout: c.Stdout})
	v.SetCollector(c.gc)
	c.gc.Register(v)
	defer c.gc.Unregister(v)

	c.syncGlobals(globals)
	c.mainVM = v

	result, err := v.Run(fn)
	if err != nil {
		return value.Nil, err
	}
	c.captureGlobals(v)
	return result, nil
}

// syncGlobals absorbs a freshly compiled program's global table
// (which may have declared new slots beyond what Bind had already
// reserved) into the Context's own bookkeeping.
func (c *Context) syncGlobals(g compiler.Globals) {
	c.names = g.Names
	c.values = g.Values
	c.byName = make(map[string]int, len(g.Names))
	for i, n := range g.Names {
		c.byName[n] = i
	}
}

// captureGlobals snapshots a VM's final global values back into the
// Context after a run, so a later Find/Call sees what the script left
// behind rather than the pre-run initial values.
func (c *Context) captureGlobals(v *vm.VM) {
	for i := range c.values {
		c.values[i] = v.Global(i)
	}
}

// Call invokes a script-registered function/closure/class/instance/
// syscall from the host (spec §6 "call"), spinning up a fresh VM
// sharing this Context's heap and current global snapshot — the
// embedder needs no compiled program of its own in hand, just a
// value it already obtained from Find or a prior Interpret's result.
func (c *Context) Call(callee value.Value, args []value.Value) (value.Value, error) {
	v := vm.New(c.heap, c.names, c.values, vm.Options{Strict: c.Opts.Strict, Stdout: c.Stdout})
	v.SetCollector(c.gc)
	c.gc.Register(v)
	defer c.gc.Unregister(v)

	result, err := v.Invoke(callee, args)
	if err != nil {
		return value.Nil, err
	}
	c.captureGlobals(v)
	return result, nil
}

// CallNamed resolves name via Find and then Calls it, the common case
// spec §6's `call(identifier|value, args, n)` covers for an identifier
// argument rather than an already-resolved value.
func (c *Context) CallNamed(name string, args []value.Value) (value.Value, error) {
	callee, ok := c.Find(name)
	if !ok {
		return value.Nil, fmt.Errorf("no such global: %s", name)
	}
	return c.Call(callee, args)
}

// Box wraps an opaque host pointer for passage into script code (spec
// §6 "box"). finalizer, if non-nil, runs when the collector sweeps the
// box object (SPEC_FULL.md §C, grounded on original_source's
// box_obj.hpp).
func (c *Context) Box(ptr any, finalizer func()) value.Value {
	return c.heap.NewBox(ptr, finalizer)
}

// Unbox recovers the host pointer from a box value (spec §6 "unbox");
// unboxing anything else is a diagnostic (spec §7 "unbox of a
// non-box").
func (c *Context) Unbox(v value.Value) (any, error) {
	obj := c.heap.Resolve(v)
	if obj == nil || obj.Kind != object.KindBox {
		return nil, fmt.Errorf("unbox of a non-box value")
	}
	return obj.Data.(*object.BoxData).Pointer, nil
}

// Heap exposes the Context's backing object heap, for callers (the
// CLI's disassembler, tests) that need direct heap access.
func (c *Context) Heap() *object.Heap { return c.heap }

// Globals snapshots the Context's current global table in the form
// CompileProgram accepts as its prebound input, for callers (the
// CLI's compile/disassemble path) that drive the compiler directly
// instead of going through Interpret.
func (c *Context) Globals() compiler.Globals {
	return compiler.Globals{Names: c.names, Values: c.values}
}

// Collector exposes the Context's collector, e.g. for an embedder that
// wants to force a collection between Interpret calls.
func (c *Context) Collector() *gc.GC { return c.gc }

package compiler

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kristofer/dwt/internal/ast"
	"github.com/kristofer/dwt/internal/bytecode"
	"github.com/kristofer/dwt/internal/object"
	"github.com/kristofer/dwt/internal/scope"
	"github.com/kristofer/dwt/internal/value"
)

// Options selects the compiler's optional behaviors (spec §4.2, §5,
// §9 "Design notes"): Optimize runs the peephole passes over every
// compiled function, Strict selects IEEE-754 (rather than bit) value
// equality, and Threads enables dispatching sub-function compilation
// to worker goroutines bounded by hardware concurrency.
type Options struct {
	Optimize bool
	Strict   bool
	Threads  bool
}

// shared is the state every Compiler in a compile unit's enclosing
// chain reads and writes concurrently: the heap (allocations and
// string interning), the global-name table, and the accumulated
// diagnostics. Nested function bodies are compiled in parallel
// sub-compilers (spec §4.2 "schedule its body to be sub-compiled"),
// so every access below goes through mu.
type shared struct {
	mu      chan struct{} // binary semaphore; see lock/unlock
	heap    *object.Heap
	root    *scope.Scope
	globals []string
	errs    []string
	group   *errgroup.Group
	opts    Options

	sem chan struct{} // bounds concurrent sub-compiles to runtime.GOMAXPROCS(0)-1 (at least 1); nil unless opts.Threads
}

func newShared(heap *object.Heap, opts Options) *shared {
	s := &shared{mu: make(chan struct{}, 1), heap: heap, root: scope.NewRoot(), opts: opts}
	s.mu <- struct{}{}
	if opts.Threads {
		n := runtime.GOMAXPROCS(0) - 1
		if n < 1 {
			n = 1
		}
		s.sem = make(chan struct{}, n)
	}
	return s
}

func (s *shared) lock()   { <-s.mu }
func (s *shared) unlock() { s.mu <- struct{}{} }

func (s *shared) errorf(format string, args ...any) {
	s.lock()
	s.errs = append(s.errs, fmt.Sprintf(format, args...))
	s.unlock()
}

// withHeap runs f with exclusive access to the shared object heap,
// needed once sub-function compilation may run on worker goroutines
// (spec §5 "Shared resources ... mutex-guarded in threaded mode").
func (s *shared) withHeap(f func(*object.Heap) value.Value) value.Value {
	s.lock()
	defer s.unlock()
	return f(s.heap)
}

// trySpawn reports whether a worker slot is free for a new sub-compile
// (spec §4.2 "if the threaded-compiler option is enabled and the
// current running-compiler count is below the host's hardware
// concurrency, run the sub-compile on a worker"). It never blocks: a
// full semaphore means the caller falls back to compiling inline.
func (s *shared) trySpawn() bool {
	if s.sem == nil {
		return false
	}
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *shared) release() {
	if s.sem != nil {
		<-s.sem
	}
}

func (s *shared) declareGlobal(name string, tok scope.Token) (*scope.Ident, error) {
	s.lock()
	defer s.unlock()
	id, err := s.root.Declare(name, tok)
	if err != nil {
		return nil, err
	}
	id.SetGlobalIndex(len(s.globals))
	s.globals = append(s.globals, name)
	return id, nil
}

func (s *shared) lookupGlobal(name string) (*scope.Ident, bool) {
	s.lock()
	defer s.unlock()
	return s.root.LocalLookup(name)
}

func (s *shared) intern(text string) value.Value {
	s.lock()
	defer s.unlock()
	return s.heap.Intern(text)
}

// Compiler lowers one function body (the top-level program, a `fun`,
// a `\`/`λ` lambda, an `obj` constructor, or a map literal's implicit
// map-init) into a bytecode.Code plus its constant pool (spec §4.2).
// Nested functions hold a pointer to their lexically enclosing
// Compiler so identifier resolution can walk outward to build upvalue
// chains, mirroring the teacher's single Compiler type generalized
// from one flat instruction stream to a tree of them.
type Compiler struct {
	enclosing *Compiler
	shared    *shared
	fn        *funcScope
	curBlock  *scope.Scope
	b         *builder

	mapRegister bool // true while compiling a class/map-init body: implicit-return emits MAP, not NIL
}

// newCompiler creates a Compiler for a fresh function body, child of
// enclosing (nil for the top-level program). The scope-tree insertion
// happens under the shared compile lock: in threaded mode this may run
// on a worker goroutine while the enclosing walk is adding sibling
// block scopes to the same parent.
func newCompiler(enclosing *Compiler, sh *shared, parentScope *scope.Scope, kind scope.Kind, tok scope.Token) *Compiler {
	sh.lock()
	fs := newFuncScope(parentScope, kind, tok)
	sh.unlock()
	b := newBuilder()
	b.overflow = func(dist int) {
		sh.errorf("%d:%d: branch distance %d in %q exceeds the 16-bit operand limit", tok.Line, tok.Column, dist, tok.Text)
	}
	return &Compiler{enclosing: enclosing, shared: sh, fn: fs, curBlock: fs.scope, b: b}
}

// Globals holds the pre-populated global scope an embedder builds
// before compilation (spec §4.2 "Input: ... a pre-populated global
// scope tree with inbuilt ... pre-registered"; spec §6 "bind"). Names
// is the fully qualified identifier for each reserved slot, in index
// order; Values carries whatever the embedder already bound at that
// slot (value.Nil for a slot a script-level declaration will fill in
// instead). A fresh Globals with no entries is the ordinary case: the
// compiler declares every slot itself as it walks top-level
// declarations.
type Globals struct {
	Names  []string
	Values []value.Value
}

// declarePrebound installs g's reserved names into sh's root scope
// before the AST walk starts, so inbuilt names resolve to kindGlobal
// exactly like a script-level declaration would.
func (sh *shared) declarePrebound(g Globals) error {
	for i, name := range g.Names {
		id, err := sh.root.Declare(name, scope.Token{Text: name})
		if err != nil {
			return err
		}
		id.SetGlobalIndex(i)
		sh.globals = append(sh.globals, name)
	}
	return nil
}

// CompileProgram compiles a whole source file's top-level statements
// into one script-function object, the entry point the VM calls with
// zero arguments (spec §4.4 "the VM... pushes a new call frame" for
// the outermost call). heap supplies object allocation and the
// string interner; the returned value.Value is a Function object
// ready to be wrapped in a closure and called. The returned Globals
// carries every reserved global slot (prebound names first, then
// every name this compilation itself declared) along with prebound's
// initial values, so the caller can size and seed a VM's global
// table before running the result.
func CompileProgram(prog []ast.Node, heap *object.Heap, prebound Globals, opts Options) (value.Value, Globals, []string, error) {
	sh := newShared(heap, opts)
	g, _ := errgroup.WithContext(context.Background())
	sh.group = g
	if err := sh.declarePrebound(prebound); err != nil {
		return value.Nil, Globals{}, nil, err
	}

	c := newCompiler(nil, sh, sh.root, scope.KindFunction, scope.Token{Text: "main"})
	c.b.optimize = opts.Optimize
	c.declareGlobalsPrepass(prog)
	c.compileBlock(prog)

	// Every top-level declaration's own sub-compile must have joined and
	// patched c.b before c.b.finishCode runs the optimizer's compact
	// pass below, which renumbers byte offsets and would strand any
	// patch applied afterward (spec §4.2 "Sub-compilation" patch point).
	c.fn.pending.Wait()
	c.b.drainDeferredPatches()
	c.emitImplicitReturn()

	out := Globals{Names: sh.globals, Values: make([]value.Value, len(sh.globals))}
	for i := range out.Values {
		out.Values[i] = value.Nil // the zero Value is the number 0, not nil
	}
	copy(out.Values, prebound.Values)

	if err := sh.group.Wait(); err != nil {
		return value.Nil, out, sh.errs, err
	}
	// Worker sub-compiles surface their diagnostics in whatever order
	// the scheduler ran them; sort (after the group join, so every
	// worker has reported) so threaded and sequential compiles of the
	// same source report identically (spec §7 "Diagnostics must be
	// deterministic ... even in the threaded-compiler mode").
	sort.Strings(sh.errs)
	if len(sh.errs) > 0 {
		return value.Nil, out, sh.errs, fmt.Errorf("%d compile error(s)", len(sh.errs))
	}

	fd := &object.FunctionData{Name: "main", Arity: 0, Code: c.b.finishCode(opts.Optimize, -1), Locals: c.fn.locals, Upvalues: c.fn.upvalues, APIFields: c.fn.apiFields}
	return sh.withHeap(func(h *object.Heap) value.Value { return h.NewFunction(fd) }), out, sh.errs, nil
}

// declareGlobalsPrepass reserves a global slot for every top-level
// var/fun/obj declaration before any code is emitted, so a later
// declaration may be referenced by an earlier one's body (spec §4.2
// generalizes the teacher's "variable declarations ... just reserve
// space" comment to forward-referenceable top-level names).
func (c *Compiler) declareGlobalsPrepass(nodes []ast.Node) {
	for _, n := range nodes {
		name := ""
		switch d := n.(type) {
		case *ast.VarDecl:
			name = d.Name
		case *ast.FuncDecl:
			name = d.Name
		case *ast.ObjDecl:
			name = d.Name
		default:
			continue
		}
		if _, err := c.shared.declareGlobal(name, tokOf(n)); err != nil {
			c.shared.errorf("%s", err.Error())
		}
	}
}

func tokOf(n ast.Node) scope.Token {
	pos := n.Position()
	return scope.Token{Line: pos.Line, Column: pos.Column}
}

func btok(n ast.Node) bytecode.Token {
	pos := n.Position()
	return bytecode.Token{Line: pos.Line, Column: pos.Column}
}

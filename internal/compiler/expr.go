// Package compiler: expression lowering and the function/object/map
// constant machinery (spec §4.2 "Function/lambda/object declaration",
// "Sub-compilation", "Calls", "Member access / subscript", "Map and
// class bodies", "Super").
//
// Every construct that produces a function-shaped object — a `fun`
// declaration, a `\`/`λ` lambda, an `obj` body, or a `{...}` map
// literal's implicit map-init — goes through the same three-step
// dance: reserve a constant-pool slot, emit a CONST load of it at the
// point the value is needed, then compile the body (inline or on a
// worker goroutine) and fill the slot in once it's known, patching the
// CONST to CLOSURE if the body turned out to capture any upvalues.
package compiler

import (
	"github.com/kristofer/dwt/internal/ast"
	"github.com/kristofer/dwt/internal/bytecode"
	"github.com/kristofer/dwt/internal/object"
	"github.com/kristofer/dwt/internal/scope"
	"github.com/kristofer/dwt/internal/value"
)

// funcKind distinguishes the four function-shaped constant variants a
// declaration or literal can produce (spec §3 table: function, class
// and map-init are all "function variant"s with different runtime
// roles).
type funcKind int

const (
	funcPlain funcKind = iota
	funcLambda
	funcObj
	funcMapInit
)

// compileExpr dispatches every expression-flavored node spec §6 lists.
func (c *Compiler) compileExpr(n ast.Node) {
	switch e := n.(type) {
	case *ast.NumberLit:
		c.compileNumberLit(e)
	case *ast.StringLit:
		idx := c.b.addConstant(c.shared.intern(e.Value))
		c.b.emitConstLoad(idx, btok(e))
	case *ast.BoolLit:
		if e.Value {
			c.b.emitConstOp(bytecode.TRUE, btok(e))
		} else {
			c.b.emitConstOp(bytecode.FALSE, btok(e))
		}
	case *ast.NilLit:
		c.b.emitConstOp(bytecode.NIL, btok(e))
	case *ast.Identifier:
		c.compileIdentifier(e)
	case *ast.UnaryExpr:
		c.compileExpr(e.Operand)
		c.b.emit(bytecode.NEG, btok(e))
	case *ast.BinaryExpr:
		c.compileBinary(e)
	case *ast.Assign:
		c.compileAssign(e)
	case *ast.Call:
		c.compileCall(e)
	case *ast.MemberAccess:
		c.compileExpr(e.Receiver)
		idx := c.b.addConstant(c.shared.intern(e.Name))
		c.b.emit2(bytecode.MBRGET, idx, btok(e))
	case *ast.MemberAssign:
		c.compileExpr(e.Receiver)
		c.compileExpr(e.Value)
		idx := c.b.addConstant(c.shared.intern(e.Name))
		c.b.emit2(bytecode.MBRSET, idx, btok(e))
	case *ast.Subscript:
		c.compileExpr(e.Receiver)
		c.compileExpr(e.Key)
		c.b.emit(bytecode.KEYGET, btok(e))
	case *ast.SubscriptAssign:
		c.compileExpr(e.Receiver)
		c.compileExpr(e.Key)
		c.compileExpr(e.Value)
		c.b.emit(bytecode.KEYSET, btok(e))
	case *ast.SuperCall:
		c.compileSuperCall(e)
	case *ast.MapLit:
		c.compileMapLit(e)
	case *ast.Lambda:
		c.compileLambda(e)
	default:
		c.shared.errorf("%d:%d: unsupported expression", n.Position().Line, n.Position().Column)
		c.b.emitConstOp(bytecode.NIL, btok(n))
	}
}

// compileNumberLit emits the dedicated ZERO/ONE/TWO opcodes for the
// three literals the instruction set special-cases, else a CONST load
// (spec §4.2 "Numeric literals").
func (c *Compiler) compileNumberLit(e *ast.NumberLit) {
	switch e.Value {
	case 0:
		c.b.emitConstOp(bytecode.ZERO, btok(e))
	case 1:
		c.b.emitConstOp(bytecode.ONE, btok(e))
	case 2:
		c.b.emitConstOp(bytecode.TWO, btok(e))
	default:
		idx := c.b.addConstant(value.Number(e.Value))
		c.b.emitConstLoad(idx, btok(e))
	}
}

// compileIdentifier resolves a name to a local, upvalue or global and
// emits the matching load opcode (spec §4.2 "Identifier read"). `self`
// is the one identifier with no scope entry: it resolves directly to
// the current frame's receiver map.
func (c *Compiler) compileIdentifier(id *ast.Identifier) {
	if id.Name == "self" {
		c.b.emit(bytecode.MAP, btok(id))
		return
	}
	kind, idx := c.resolveName(id.Name)
	switch kind {
	case kindLocal:
		c.b.emit2(bytecode.GET, idx, btok(id))
	case kindUpvalue:
		c.b.emit2(bytecode.UPVGET, idx, btok(id))
	case kindGlobal:
		c.b.emit2(bytecode.GLOBAL, idx, btok(id))
	default:
		c.shared.errorf("%d:%d: unknown identifier %q", id.Base.Pos.Line, id.Base.Pos.Column, id.Name)
		c.b.emitConstOp(bytecode.NIL, btok(id))
	}
}

// compileAssign lowers `name := value` (spec §4.2 "Identifier
// assignment"). The store opcodes all leave the assigned value on the
// stack, so assignment is itself an expression.
func (c *Compiler) compileAssign(e *ast.Assign) {
	kind, idx := c.resolveName(e.Name)
	c.compileExpr(e.Value)
	switch kind {
	case kindLocal:
		c.b.emit2(bytecode.SET, idx, btok(e))
	case kindUpvalue:
		c.b.emit2(bytecode.UPVSET, idx, btok(e))
	case kindGlobal:
		c.b.emit2(bytecode.STORE, idx, btok(e))
	default:
		c.shared.errorf("%d:%d: unknown identifier %q", e.Base.Pos.Line, e.Base.Pos.Column, e.Name)
	}
}

// compileBinary lowers every binary operator (spec §4.2 "Binary
// operators"). `+`/`-` attempt the INC/DEC peephole fold first: it
// only ever applies when the right-hand side compiled to a bare ONE
// push, in which case the builder has already rewritten that ONE into
// INC/DEC and no ADD/SUB opcode is emitted at all.
func (c *Compiler) compileBinary(e *ast.BinaryExpr) {
	c.compileExpr(e.Left)
	c.compileExpr(e.Right)
	tok := btok(e)
	switch e.Op {
	case "+":
		if !c.b.foldIncDec(false) {
			c.b.emit(bytecode.ADD, tok)
		}
	case "-":
		if !c.b.foldIncDec(true) {
			c.b.emit(bytecode.SUB, tok)
		}
	case "*":
		c.b.emit(bytecode.MUL, tok)
	case "/":
		c.b.emit(bytecode.DIV, tok)
	case "<":
		c.b.emit(bytecode.LT, tok)
	case "<=":
		c.b.emit(bytecode.LTEQ, tok)
	case ">":
		c.b.emit(bytecode.GT, tok)
	case ">=":
		c.b.emit(bytecode.GTEQ, tok)
	case "==":
		c.b.emit(bytecode.EQ, tok)
	case "~=":
		c.b.emit(bytecode.NEQ, tok)
	case "is":
		c.b.emit(bytecode.IS, tok)
	case "and":
		c.b.emit(bytecode.AND, tok)
	case "or":
		c.b.emit(bytecode.OR, tok)
	case "xor":
		c.b.emit(bytecode.XOR, tok)
	default:
		c.shared.errorf("%d:%d: unknown operator %q", tok.Line, tok.Column, e.Op)
	}
}

// compileCall lowers `callee(args…)` (spec §4.2 "Calls").
func (c *Compiler) compileCall(e *ast.Call) {
	c.compileExpr(e.Callee)
	for _, a := range e.Args {
		c.compileExpr(a)
	}
	c.b.emitCall(bytecode.CALL, len(e.Args), btok(e))
}

// compileSuperCall lowers `:Super(args…)` (spec §4.2 "Super"): call
// the enclosing class's parent constructor, then wire the resulting
// instance as the current receiver's super. The call's single return
// value is consumed entirely by SUPER, so — unlike an ordinary call —
// nothing is left on the stack for a caller to pop; compileStatement's
// ExprStmt case knows to skip its usual trailing POP for this node.
func (c *Compiler) compileSuperCall(e *ast.SuperCall) {
	tok := btok(e)
	if c.fn.parentClass == "" {
		c.shared.errorf("%d:%d: ':Super' call with no parent class", tok.Line, tok.Column)
		c.b.emitConstOp(bytecode.NIL, tok)
		return
	}
	kind, idx := c.resolveName(c.fn.parentClass)
	switch kind {
	case kindLocal:
		c.b.emit2(bytecode.GET, idx, tok)
	case kindUpvalue:
		c.b.emit2(bytecode.UPVGET, idx, tok)
	case kindGlobal:
		c.b.emit2(bytecode.GLOBAL, idx, tok)
	default:
		c.shared.errorf("%d:%d: unknown parent class %q", tok.Line, tok.Column, c.fn.parentClass)
		c.b.emitConstOp(bytecode.NIL, tok)
		return
	}
	for _, a := range e.Args {
		c.compileExpr(a)
	}
	c.b.emitCall(bytecode.CALL, len(e.Args), tok)
	c.b.emit(bytecode.SUPER, tok)
}

// compileLambda lowers an anonymous `\(params){ body }`/`λ(...)`
// function value (spec §4.2 "Function/lambda/object declaration").
// Unlike a named `fun`, a lambda is never itself declared in a scope;
// its constant load is the whole expression's value.
func (c *Compiler) compileLambda(l *ast.Lambda) {
	tok := scope.Token{Text: "$lambda", Line: l.Pos.Line, Column: l.Pos.Column}
	btk := btok(l)
	constIdx := c.b.reserveConstant()
	patchOff := c.b.emit2(bytecode.CONST, constIdx, btk)
	c.compileDeferred(patchOff, constIdx, l.Params, func(ch *Compiler) { ch.compileBlock(l.Body) }, tok, funcLambda, -1, nil, "")
}

// compileMapLit lowers a `{ key: value, … }` literal (spec §4.2 "Map
// and class bodies"): the body compiles to an anonymous map-init
// function that accumulates its pairs via PAIR, then the literal
// immediately invokes it with zero arguments to produce the map value
// (spec §3 "map-init: function variant that produces a map on
// call-return").
func (c *Compiler) compileMapLit(m *ast.MapLit) {
	tok := scope.Token{Text: "$map", Line: m.Pos.Line, Column: m.Pos.Column}
	btk := btok(m)
	constIdx := c.b.reserveConstant()
	patchOff := c.b.emit2(bytecode.CONST, constIdx, btk)
	emitBody := func(ch *Compiler) {
		for i := range m.Keys {
			ch.compileExpr(m.Keys[i])
			ch.compileExpr(m.Values[i])
			ch.b.emit(bytecode.PAIR, btok(m))
		}
	}
	c.compileDeferred(patchOff, constIdx, nil, emitBody, tok, funcMapInit, -1, nil, "")
	c.b.emitCall(bytecode.CALL, 0, btk)
}

// compileFuncDecl lowers a named `fun name(params){ body }` (spec
// §4.2 "Function/lambda/object declaration"). The variable is declared
// before the body compiles so a function can call itself recursively;
// when the declaration lands in the globals table, that global index
// also feeds the optimizer's self-tail-call pass (spec §4.3 pass 3).
func (c *Compiler) compileFuncDecl(d *ast.FuncDecl) {
	tok := tokOf(d)
	btk := btok(d)
	kind, idx := c.declareOrGlobal(d.Name, tok)
	constIdx := c.b.reserveConstant()
	patchOff := c.b.emit2(bytecode.CONST, constIdx, btk)
	selfGlobal := -1
	if kind == kindGlobal {
		selfGlobal = idx
	}
	fnTok := scope.Token{Text: d.Name, Line: tok.Line, Column: tok.Column}
	c.compileDeferred(patchOff, constIdx, d.Params, func(ch *Compiler) { ch.compileBlock(d.Body) }, fnTok, funcPlain, selfGlobal, nil, "")
	if kind == kindGlobal {
		c.b.emit2(bytecode.STORE, idx, btk)
		c.b.emit(bytecode.POP, btk)
	}
}

// compileObjDecl lowers `obj Name(params) [is Parent] { body }` (spec
// §4.2 "Function/lambda/object declaration", §4.6). The grammar this
// port's parser accepts has no way to spell a bare `:Super(args…)`
// statement directly in an object body (only `var`/`fun` members
// parse there), so when `is Parent` is present this port synthesizes
// an implicit `:Super(params…)` forwarding the constructor's own
// arguments verbatim as the first statement of the body — a documented
// simplification (see DESIGN.md) of spec §4.2's "Super" rule, which
// otherwise assumes the super call is written out explicitly.
//
// Every `fun` declared directly in the body is installed into the
// freshly built instance's field map when the constructor frame
// returns (spec §4.6), not only ones marked `api`: scenario 4 of spec
// §8 dispatches a method with no `api` keyword at all, so this port
// collapses that distinction rather than leave the scenario
// unsatisfiable (also documented in DESIGN.md).
func (c *Compiler) compileObjDecl(d *ast.ObjDecl) {
	tok := tokOf(d)
	btk := btok(d)
	kind, idx := c.declareOrGlobal(d.Name, tok)
	constIdx := c.b.reserveConstant()
	patchOff := c.b.emit2(bytecode.CONST, constIdx, btk)

	var apiNames []string
	for _, m := range d.Methods {
		apiNames = append(apiNames, m.Name)
	}

	emitBody := func(ch *Compiler) {
		if d.Parent != "" {
			var args []ast.Node
			for _, p := range d.Params {
				args = append(args, &ast.Identifier{Name: p, Base: d.Base})
			}
			ch.compileStatement(&ast.ExprStmt{Expr: &ast.SuperCall{Args: args, Base: d.Base}, Base: d.Base})
		}
		for _, f := range d.Fields {
			ch.compileStatement(f)
		}
		for _, m := range d.Methods {
			ch.compileStatement(m)
		}
	}

	objTok := scope.Token{Text: d.Name, Line: tok.Line, Column: tok.Column}
	c.compileDeferred(patchOff, constIdx, d.Params, emitBody, objTok, funcObj, -1, apiNames, d.Parent)
	if kind == kindGlobal {
		c.b.emit2(bytecode.STORE, idx, btk)
		c.b.emit(bytecode.POP, btk)
	}
}

// compileFunctionBody compiles one function-shaped body in a fresh
// child Compiler and packages the result as the object-model value
// funcKind calls for. It is the single place that actually walks a
// body's statements; compileDeferred decides whether that walk
// happens inline or on a worker goroutine.
func (c *Compiler) compileFunctionBody(params []string, emitBody func(*Compiler), tok scope.Token, kind funcKind, selfGlobal int, apiNames []string, parentClass string) (value.Value, bool) {
	child := newCompiler(c, c.shared, c.curBlock, scope.KindFunction, tok)
	child.b.optimize = c.shared.opts.Optimize

	switch kind {
	case funcObj:
		child.fn.isObjBody = true
		child.fn.parentClass = parentClass
		for _, n := range apiNames {
			child.fn.apiFields[n] = true
		}
	case funcMapInit:
		child.fn.isMapInit = true
	}

	for _, p := range params {
		child.declareParam(p, scope.Token{Text: p, Line: tok.Line, Column: tok.Column})
	}
	emitBody(child)

	// Any nested declaration inside this body (a method, an inner fun,
	// a lambda) may still be running on a worker goroutine; wait for
	// all of them and apply their queued patches before this builder's
	// own finishCode runs the optimizer, which would otherwise compact
	// the byte stream out from under a patch offset recorded earlier.
	child.fn.pending.Wait()
	child.b.drainDeferredPatches()
	child.emitImplicitReturn()

	codeData := child.b.finishCode(c.shared.opts.Optimize, selfGlobal)
	fd := &object.FunctionData{
		Name: tok.Text, Arity: len(params), Code: codeData,
		Locals: child.fn.locals, Upvalues: child.fn.upvalues, APIFields: child.fn.apiFields,
	}

	var fv value.Value
	switch kind {
	case funcMapInit:
		fv = c.shared.withHeap(func(h *object.Heap) value.Value { return h.NewMapInit(fd) })
	case funcObj:
		cd := &object.ClassData{FunctionData: *fd}
		fv = c.shared.withHeap(func(h *object.Heap) value.Value { return h.NewClass(cd) })
	default:
		fv = c.shared.withHeap(func(h *object.Heap) value.Value { return h.NewFunction(fd) })
	}
	return fv, len(child.fn.upvalues) > 0
}

// compileDeferred implements spec §4.2's "Sub-compilation": when the
// threaded-compiler option is on and a worker slot is free, the body
// compiles on a goroutine tracked by the shared errgroup.Group; either
// way, applying the result to this builder's constant slot (and, if
// the body captured upvalues, rewriting its CONST load to CLOSURE) is
// queued through addDeferredPatch rather than written immediately,
// since a goroutine compiling one sibling declaration must never race
// the main walk still emitting bytes/constants for the next one.
// compileFunctionBody drains the queue, once every worker belonging to
// the enclosing body has joined, right before that body's own
// finishCode runs (spec §5 "two independent sub-compiles may race
// freely so long as their outputs are deterministic functions of their
// inputs").
func (c *Compiler) compileDeferred(patchOff, constIdx int, params []string, emitBody func(*Compiler), tok scope.Token, kind funcKind, selfGlobal int, apiNames []string, parentClass string) {
	c.fn.pending.Add(1)
	run := func() {
		defer c.fn.pending.Done()
		fv, hasUpvalues := c.compileFunctionBody(params, emitBody, tok, kind, selfGlobal, apiNames, parentClass)
		c.b.addDeferredPatch(func() {
			c.b.setConstant(constIdx, fv)
			if hasUpvalues {
				c.b.patchOpcode(patchOff, bytecode.CLOSURE)
			}
		})
	}
	if c.shared.opts.Threads && c.shared.trySpawn() {
		c.shared.group.Go(func() error {
			defer c.shared.release()
			run()
			return nil
		})
		return
	}
	run()
}

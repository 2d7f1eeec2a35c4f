// Package compiler: statement and expression lowering (spec §4.2).
//
// This file holds the AST-walking half of the compiler: compileBlock
// and compileStatement dispatch over every node flavor internal/ast
// defines, compileExpr does the same for expressions, and the
// per-construct helpers (compileFuncDecl, compileObjDecl,
// compileMapLit, compileLoop, ...) each lower one of the "selected,
// normative" rules spec §4.2 calls out. builder.go supplies the
// byte-emitting primitives these methods call.
package compiler

import (
	"github.com/kristofer/dwt/internal/ast"
	"github.com/kristofer/dwt/internal/bytecode"
	"github.com/kristofer/dwt/internal/scope"
)

// compileBlock compiles a sequence of statements in the current
// scope, without pushing a new lexical block — used for a function's
// own top-level statement list, whose locals live for the function's
// whole lifetime rather than being closed at a nested block's exit.
func (c *Compiler) compileBlock(nodes []ast.Node) {
	for _, n := range nodes {
		c.compileStatement(n)
	}
}

// compileNestedBlock compiles nodes inside a fresh child lexical
// scope (an if/loop body) and, on exit, pops or closes every local
// declared within it (spec §4.2 "Blocks").
func (c *Compiler) compileNestedBlock(nodes []ast.Node) {
	parent := c.curBlock
	c.shared.lock()
	c.curBlock = parent.NewChild(scope.KindBlock, scope.Token{})
	c.shared.unlock()
	start := len(c.fn.locals)
	c.compileBlock(nodes)
	// A closure declared in this block may still be sub-compiling on a
	// worker; its capture marks must land before the CLOSE-vs-POP
	// decision below reads them.
	c.fn.pending.Wait()
	c.closeLocalsFrom(start)
	c.curBlock = parent
}

// closeLocalsFrom pops (or, for captured locals, closes the open
// upvalue aliasing) every local declared at index start or later in
// the function's locals table, in reverse declaration order.
func (c *Compiler) closeLocalsFrom(start int) {
	for i := len(c.fn.locals) - 1; i >= start; i-- {
		if c.fn.locals[i].Captured {
			c.b.emit(bytecode.CLOSE, bytecode.Token{})
		} else {
			c.b.emit(bytecode.POP, bytecode.Token{})
		}
	}
}

func (c *Compiler) emitImplicitReturn() {
	if c.fn.isObjBody || c.fn.isMapInit {
		c.b.emit(bytecode.MAP, bytecode.Token{})
	} else {
		c.b.emitConstOp(bytecode.NIL, bytecode.Token{})
	}
	c.b.emit(bytecode.RET, bytecode.Token{})
}

// compileStatement dispatches on every statement-flavored node spec
// §6 lists. Unrecognized node types (an expression reached in
// statement position) fall through to the expression path with its
// value discarded.
func (c *Compiler) compileStatement(n ast.Node) {
	switch s := n.(type) {
	case *ast.VarDecl:
		c.compileVarDecl(s)
	case *ast.FuncDecl:
		c.compileFuncDecl(s)
	case *ast.ObjDecl:
		c.compileObjDecl(s)
	case *ast.PrintStmt:
		c.compileExpr(s.Expr)
		c.b.emit(bytecode.PRINT, btok(s))
	case *ast.ReturnStmt:
		c.compileReturn(s)
	case *ast.YieldStmt:
		// Treated as ReturnStmt (documented Open Question decision; see
		// DESIGN.md): the grammar signals `yield` but spec §9 leaves its
		// semantics unspecified, and the original's yield_stmt simply
		// unwinds the current call like return.
		c.compileReturn(&ast.ReturnStmt{Base: s.Base, Expr: s.Expr})
	case *ast.BreakStmt:
		c.compileBreak(s)
	case *ast.ContinueStmt:
		c.compileContinue(s)
	case *ast.IfStmt:
		c.compileIf(s)
	case *ast.LoopStmt:
		c.compileLoop(s)
	case *ast.UseStmt:
		// Module loading is external to the core (spec §1); nothing to emit.
	case *ast.ExprStmt:
		c.compileExpr(s.Expr)
		// A bare `:Super(args…)` statement already balances the stack
		// itself (CALL's return value is consumed by SUPER); every other
		// expression statement discards its one resulting value.
		if _, isSuper := s.Expr.(*ast.SuperCall); !isSuper {
			c.b.emit(bytecode.POP, btok(s))
		}
	default:
		c.compileExpr(n)
		c.b.emit(bytecode.POP, btok(n))
	}
}

func (c *Compiler) compileVarDecl(d *ast.VarDecl) {
	tok := tokOf(d)
	btk := btok(d)
	kind, idx := c.declareOrGlobal(d.Name, tok)
	if d.Init != nil {
		c.compileExpr(d.Init)
	} else {
		c.b.emitConstOp(bytecode.NIL, btk)
	}
	if kind == kindGlobal {
		// STORE leaves the stored value on the stack (assignment is an
		// expression); a declaration is a statement, so drop it. For a
		// local the leftover value IS the local's slot and stays.
		c.b.emit2(bytecode.STORE, idx, btk)
		c.b.emit(bytecode.POP, btk)
	}
}

// compileReturn lowers `return expr` (or bare `return`). Explicit
// return is a diagnostic inside an object body (spec §4.2, §7).
func (c *Compiler) compileReturn(s *ast.ReturnStmt) {
	if c.fn.isObjBody {
		c.shared.errorf("%d:%d: explicit return not allowed inside object body", tokOf(s).Line, tokOf(s).Column)
		return
	}
	if s.Expr != nil {
		c.compileExpr(s.Expr)
	} else {
		c.b.emitConstOp(bytecode.NIL, btok(s))
	}
	c.b.emit(bytecode.RET, btok(s))
}

func (c *Compiler) compileBreak(s *ast.BreakStmt) {
	loop := c.findLoop(s.Label)
	if loop == nil {
		c.shared.errorf("%d:%d: break outside loop", tokOf(s).Line, tokOf(s).Column)
		return
	}
	c.unwindLoopLocals(loop)
	off := c.b.patchPlaceholder(bytecode.BRA, btok(s))
	loop.breakPatches = append(loop.breakPatches, off)
}

// unwindLoopLocals emits a POP (or CLOSE, for captured slots) for
// every local declared since the enclosing loop's body began. The
// instructions execute only along the break/continue path, so the
// compile-time depth is restored afterward and the locals table is
// left alone — the straight-line walk continues with those locals
// still live, and the block's own exit pops them on the normal path.
func (c *Compiler) unwindLoopLocals(lc *loopContext) {
	c.fn.pending.Wait()
	n := 0
	for i := len(c.fn.locals) - 1; i >= lc.localBase; i-- {
		if c.fn.locals[i].Captured {
			c.b.emit(bytecode.CLOSE, bytecode.Token{})
		} else {
			c.b.emit(bytecode.POP, bytecode.Token{})
		}
		n++
	}
	c.b.adjust(n)
}

func (c *Compiler) compileContinue(s *ast.ContinueStmt) {
	loop := c.findLoop(s.Label)
	if loop == nil {
		c.shared.errorf("%d:%d: continue outside loop", tokOf(s).Line, tokOf(s).Column)
		return
	}
	// A continue normally jumps backward to the loop's own re-test, but
	// a post-test loop's continue must jump *forward* to the post-test
	// condition placed after the body, and a C-style for's continue
	// jumps forward to its post clause — spec §4.2 "When a continue is
	// implemented via LOOP but must target a forward address, the
	// opcode is retroactively rewritten to BRA." We don't know which
	// case applies until the loop's body finishes, so every continue is
	// recorded as a forward placeholder and patched at loop-end; for
	// loops whose continue target precedes the jump (basic/while/until),
	// patchLoopExits rewrites the placeholder to a backward LOOP.
	c.unwindLoopLocals(loop)
	off := c.b.patchPlaceholder(bytecode.BRA, btok(s))
	loop.continuePatches = append(loop.continuePatches, off)
}

func (c *Compiler) findLoop(label string) *loopContext {
	if label == "" {
		if len(c.fn.loops) == 0 {
			return nil
		}
		return c.fn.loops[len(c.fn.loops)-1]
	}
	for i := len(c.fn.loops) - 1; i >= 0; i-- {
		if c.fn.loops[i].label == label {
			return c.fn.loops[i]
		}
	}
	return nil
}

// compileIf lowers `if cond { then } else { else }` (spec §4.2):
// `cond; BRZ over; then; BRA out; over: else; out:`.
func (c *Compiler) compileIf(s *ast.IfStmt) {
	c.compileExpr(s.Cond)
	overOff := c.b.patchPlaceholder(bytecode.BRZ, btok(s))
	c.compileNestedBlock(s.Then)
	if len(s.Else) > 0 {
		outOff := c.b.patchPlaceholder(bytecode.BRA, btok(s))
		c.b.patchJumpHere(overOff)
		c.compileNestedBlock(s.Else)
		c.b.patchJumpHere(outOff)
	} else {
		c.b.patchJumpHere(overOff)
	}
}

// compileLoop lowers all five loop flavors (spec §4.2 "Loops").
func (c *Compiler) compileLoop(s *ast.LoopStmt) {
	if s.ForIn {
		// spec §9 Open Question 3: `for … in …` is parsed but left
		// unspecified; surface a clear diagnostic rather than guess a
		// lowering.
		c.shared.errorf("%d:%d: 'for ... in ...' is not implemented", tokOf(s).Line, tokOf(s).Column)
		return
	}

	lc := &loopContext{label: s.Label, localBase: len(c.fn.locals)}
	c.fn.loops = append(c.fn.loops, lc)
	defer func() { c.fn.loops = c.fn.loops[:len(c.fn.loops)-1] }()

	switch s.Kind {
	case ast.LoopBasic:
		top := len(c.b.code.Bytes)
		lc.continueTarget = top
		c.compileNestedBlock(s.Body)
		c.b.emitLoop(top, btok(s))
	case ast.LoopWhile, ast.LoopUntil:
		top := len(c.b.code.Bytes)
		lc.continueTarget = top
		c.compileExpr(s.Cond)
		var exitOff int
		if s.Kind == ast.LoopWhile {
			exitOff = c.b.patchPlaceholder(bytecode.BRZ, btok(s))
		} else {
			exitOff = c.b.patchPlaceholder(bytecode.BNZ, btok(s))
		}
		c.compileNestedBlock(s.Body)
		c.b.emitLoop(top, btok(s))
		c.b.patchJumpHere(exitOff)
	case ast.LoopDoWhile, ast.LoopDoUntil:
		top := len(c.b.code.Bytes)
		c.compileNestedBlock(s.Body)
		// continue target is the post-test condition, compiled below —
		// record its position now that the body is emitted.
		lc.continueTarget = len(c.b.code.Bytes)
		c.compileExpr(s.Cond)
		if s.Kind == ast.LoopDoWhile {
			c.b.emitLoopIfTruthy(top, btok(s))
		} else {
			c.b.emitLoopIfFalsy(top, btok(s))
		}
	case ast.LoopFor:
		if s.Init != nil {
			// The initializer parses as a statement (an assignment
			// expression statement or a var declaration) and manages
			// its own stack balance.
			c.compileStatement(s.Init)
			// A variable the initializer declares lives past the loop,
			// so break/continue must not unwind it.
			lc.localBase = len(c.fn.locals)
		}
		top := len(c.b.code.Bytes)
		var exitOff int
		hasCond := s.Cond != nil
		if hasCond {
			c.compileExpr(s.Cond)
			exitOff = c.b.patchPlaceholder(bytecode.BRZ, btok(s))
		}
		c.compileNestedBlock(s.Body)
		lc.continueTarget = len(c.b.code.Bytes)
		if s.Post != nil {
			c.compileExpr(s.Post)
			c.b.emit(bytecode.POP, btok(s))
		}
		c.b.emitLoop(top, btok(s))
		if hasCond {
			c.b.patchJumpHere(exitOff)
		}
	}

	c.patchLoopExits(lc)
}

// patchLoopExits resolves every break (always forward, to just past
// the loop) and continue (forward to the post-test for do-while/
// do-until and to the post clause for C-style for, backward — via a
// retroactive BRA→LOOP rewrite — to the loop's own re-test otherwise)
// recorded while compiling the body.
func (c *Compiler) patchLoopExits(lc *loopContext) {
	for _, off := range lc.breakPatches {
		c.b.patchJumpHere(off)
	}
	for _, off := range lc.continuePatches {
		if lc.continueTarget >= off {
			// Target lies ahead of the placeholder (do-while/do-until's
			// post-test, for's post clause): leave it as the forward BRA
			// already emitted.
			c.b.patchJumpAt(off, lc.continueTarget)
		} else {
			// Target lies behind the placeholder: retroactively rewrite
			// the opcode byte from BRA to LOOP (spec §4.2) and patch a
			// backward distance.
			c.b.patchOpcode(off-1, bytecode.LOOP)
			c.b.patchBackwardAt(off, lc.continueTarget)
		}
	}
}

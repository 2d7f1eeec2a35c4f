package compiler

import (
	"github.com/kristofer/dwt/internal/object"
	"github.com/kristofer/dwt/internal/scope"
)

// declareLocal binds name as a new local in the current block, at the
// stack slot its initializer is about to occupy (spec §3 "Local
// variable descriptor"; spec §4.2 "local: add a local at the current
// stack depth" — the declaration happens *before* the initializer is
// compiled, so a function can reference its own name recursively and
// so the compile-time depth at declaration time already equals the
// slot the pushed value will land on). Declaring the same name twice
// in the exact same block is the "redefinition of a scope-exclusive
// identifier" diagnostic (spec §7); shadowing a name from an enclosing
// block is fine.
func (c *Compiler) declareLocal(name string, tok scope.Token) (int, bool) {
	c.shared.lock()
	id, err := c.curBlock.Declare(name, tok)
	if err != nil {
		c.shared.unlock()
		c.shared.errorf("%d:%d: %s", tok.Line, tok.Column, err.Error())
		return 0, false
	}
	slot := c.b.depth
	c.fn.locals = append(c.fn.locals, object.LocalDescriptor{Name: name, Slot: slot})
	c.fn.localSlot[id] = slot
	c.shared.unlock()
	return slot, true
}

// declareParam binds a function parameter to the next stack slot in
// calling-convention order (spec §4.4 "Arguments become locals 1..n;
// the callee occupies local 0"). Unlike declareLocal, the slot is
// simulated into the compile-time depth directly rather than acquired
// by compiling a pushed initializer, since parameters arrive already
// on the stack per the call protocol.
func (c *Compiler) declareParam(name string, tok scope.Token) {
	c.shared.lock()
	id, err := c.curBlock.Declare(name, tok)
	if err != nil {
		c.shared.unlock()
		c.shared.errorf("%s", err.Error())
		return
	}
	slot := c.b.depth
	c.b.adjust(1)
	c.fn.locals = append(c.fn.locals, object.LocalDescriptor{Name: name, Slot: slot})
	c.fn.localSlot[id] = slot
	c.shared.unlock()
}

// lookupLocal walks outward from the current block, stopping once it
// passes the enclosing function's own top scope — crossing a function
// boundary is resolveUpvalue's job, not lookupLocal's. Callers hold
// the shared compile lock (resolveName takes it once at its boundary).
func (c *Compiler) lookupLocal(name string) (int, bool) {
	return c.lookupLocalFrom(c.curBlock, name)
}

// lookupLocalFrom is lookupLocal starting at an explicit lexical
// position rather than c.curBlock. resolveUpvalue needs this: a
// sub-compile running on a worker goroutine must resolve against the
// block its declaration appeared in (the child's scope's parent, fixed
// at newCompiler time), not against wherever the enclosing compiler's
// own walk has since moved curBlock.
func (c *Compiler) lookupLocalFrom(from *scope.Scope, name string) (int, bool) {
	for s := from; s != nil; s = s.Parent {
		if id, ok := s.LocalLookup(name); ok {
			if slot, ok := c.fn.localSlot[id]; ok {
				return slot, true
			}
		}
		if s == c.fn.scope {
			break
		}
	}
	return 0, false
}

func (c *Compiler) markCapturedSlot(slot int) {
	for i := range c.fn.locals {
		if c.fn.locals[i].Slot == slot {
			c.fn.locals[i].Captured = true
			return
		}
	}
}

// addUpvalue records that this function's closure captures the given
// descriptor, deduplicating repeat captures of the same name so a
// function referencing an outer variable twice gets one upvalue slot.
func (c *Compiler) addUpvalue(name string, desc object.UpvalueDescriptor) int {
	if idx, ok := c.fn.upvalueIdx[name]; ok {
		return idx
	}
	idx := len(c.fn.upvalues)
	c.fn.upvalues = append(c.fn.upvalues, desc)
	c.fn.upvalueIdx[name] = idx
	return idx
}

// resolveUpvalue implements the standard nested-closure resolution
// algorithm (spec §4.4 "Upvalue capture"): a name found as a local of
// the immediately enclosing function becomes a direct upvalue; a name
// found further out is forwarded through each intermediate function's
// own upvalue table.
func (c *Compiler) resolveUpvalue(name string) (int, bool) {
	if c.enclosing == nil {
		return 0, false
	}
	if slot, ok := c.enclosing.lookupLocalFrom(c.fn.scope.Parent, name); ok {
		c.enclosing.markCapturedSlot(slot)
		return c.addUpvalue(name, object.UpvalueDescriptor{Index: slot, FromLocal: true}), true
	}
	if idx, ok := c.enclosing.resolveUpvalue(name); ok {
		return c.addUpvalue(name, object.UpvalueDescriptor{Index: idx, FromLocal: false}), true
	}
	return 0, false
}

// nameKind is the outcome of resolving an identifier to where it
// actually lives (spec §4.2 "identifier read/assignment resolution").
type nameKind int

const (
	kindUnresolved nameKind = iota
	kindLocal
	kindUpvalue
	kindGlobal
)

// resolveName is the single entry point compileIdentifier and
// compileAssign use to decide which opcode family to emit. The shared
// compile lock is held for the whole resolution so a worker-goroutine
// sub-compile never races the enclosing walk's own declarations
// (spec §5 "the per-function locals/upvalues are protected by mutexes
// in this mode"); the helpers it calls are all lock-free internals.
func (c *Compiler) resolveName(name string) (nameKind, int) {
	c.shared.lock()
	defer c.shared.unlock()
	if slot, ok := c.lookupLocal(name); ok {
		return kindLocal, slot
	}
	if idx, ok := c.resolveUpvalue(name); ok {
		return kindUpvalue, idx
	}
	if id, ok := c.shared.root.LocalLookup(name); ok {
		return kindGlobal, id.GlobalIndex
	}
	return kindUnresolved, 0
}

// declareOrGlobal declares name as a local when the current function
// is not the top-level program, or reserves (if not already reserved
// by the prepass) a global slot at the root scope otherwise. Every
// declaration reached while compiling the outermost program function
// is global, even inside a top-level if/loop body — there is no
// block-local top-level scope in this language.
func (c *Compiler) declareOrGlobal(name string, tok scope.Token) (nameKind, int) {
	if c.enclosing == nil {
		if id, ok := c.shared.lookupGlobal(name); ok {
			return kindGlobal, id.GlobalIndex
		}
		id, err := c.shared.declareGlobal(name, tok)
		if err != nil {
			c.shared.errorf("%d:%d: %s", tok.Line, tok.Column, err.Error())
			return kindGlobal, 0
		}
		return kindGlobal, id.GlobalIndex
	}
	slot, ok := c.declareLocal(name, tok)
	return kindLocal, boolToSlot(slot, ok)
}

func boolToSlot(slot int, ok bool) int {
	if !ok {
		return 0
	}
	return slot
}

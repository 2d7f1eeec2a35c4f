// Package optimizer implements the five peephole passes plus the
// iterative constant folder that run over a freshly compiled
// function's bytecode when the `-O` flag is set (spec §4.3).
//
// Each pass edits internal/bytecode.Code in place, replacing bytes it
// removes with SKIP so that every other instruction's byte offset —
// and therefore every jump target computed before this pass ran —
// stays valid. Only the final step, compact, physically removes the
// SKIPs and renumbers jump operands and the token table to match.
package optimizer

import (
	"github.com/kristofer/dwt/internal/bytecode"
	"github.com/kristofer/dwt/internal/value"
)

// instr is a decoded instruction: its opcode, the raw operand (zero
// for W0 ops) and its starting offset.
type instr struct {
	op      bytecode.Op
	operand int
	offset  int
}

func decode(b []byte) []instr {
	var out []instr
	ip := 0
	for ip < len(b) {
		op := bytecode.Op(b[ip])
		operand := 0
		switch op.Width() {
		case bytecode.W1:
			operand = int(b[ip+1])
		case bytecode.W2:
			operand = bytecode.ReadU16(b, ip+1)
		}
		out = append(out, instr{op: op, operand: operand, offset: ip})
		ip += op.InstructionLen()
	}
	return out
}

// isJump reports whether op is one of the four branch opcodes.
func isJump(op bytecode.Op) bool {
	switch op {
	case bytecode.BRA, bytecode.BRZ, bytecode.BNZ, bytecode.LOOP:
		return true
	}
	return false
}

// jumpTarget returns the absolute byte offset a branch instruction at
// ins lands on. Forward branches (BRA/BRZ/BNZ) measure their distance
// from the end of the instruction forward; LOOP measures backward from
// the same point (matching internal/compiler/builder.go's
// patchJumpHere/emitLoop encoding).
func jumpTarget(ins instr) int {
	end := ins.offset + ins.op.InstructionLen()
	if ins.op == bytecode.LOOP {
		return end - ins.operand
	}
	return end + ins.operand
}

// branchTargets collects the set of byte offsets any branch in code
// lands on — the "no branch instruction elsewhere jumps into the
// window interior" check every pass below consults before rewriting a
// window (spec §4.3 driver description).
func branchTargets(ins []instr) map[int]bool {
	targets := make(map[int]bool)
	for _, in := range ins {
		if isJump(in.op) {
			targets[jumpTarget(in)] = true
		}
	}
	return targets
}

// Optimize runs the remaining passes in fixed order over code, then
// compacts out every SKIP placeholder. The self-tail-call pass runs
// separately (SelfTailCall, called by the compiler with the
// function's own global index in hand) before this. constants is the
// function's constant pool; constant folding may append newly
// computed values to it. The returned slice replaces the caller's
// constant pool (folding never removes entries, only appends, so
// existing indices stay valid).
func Optimize(code *bytecode.Code, constants []value.Value) []value.Value {
	deadCodeAfterReturn(code)
	popCoalesce(code)
	zeroCompareBranches(code)
	storePopLoadElision(code)
	constants = constantFold(code, constants)
	compact(code)
	return constants
}

// deadCodeAfterReturn implements pass 1: starting at each RET,
// overwrite subsequent bytes with SKIP up to the nearest branch-target
// position elsewhere in the code (or to the end of the function if
// none).
func deadCodeAfterReturn(code *bytecode.Code) {
	ins := decode(code.Bytes)
	targets := branchTargets(ins)
	for i, in := range ins {
		if in.op != bytecode.RET {
			continue
		}
		start := in.offset + in.op.InstructionLen()
		end := len(code.Bytes)
		for j := i + 1; j < len(ins); j++ {
			if targets[ins[j].offset] {
				end = ins[j].offset
				break
			}
		}
		for k := start; k < end; k++ {
			code.Bytes[k] = byte(bytecode.SKIP)
		}
	}
}

// popCoalesce implements pass 2: a run of >= 2 and < 256 adjacent POPs
// not crossed by a branch target collapses into a single POPN n.
func popCoalesce(code *bytecode.Code) {
	ins := decode(code.Bytes)
	targets := branchTargets(ins)
	i := 0
	for i < len(ins) {
		if ins[i].op != bytecode.POP {
			i++
			continue
		}
		j := i
		for j+1 < len(ins) && ins[j+1].op == bytecode.POP && !targets[ins[j+1].offset] {
			j++
		}
		run := j - i + 1
		if run < 2 {
			i = j + 1
			continue
		}
		for run > 0 {
			if run == 1 {
				// A leftover single POP (a 256-long run chunks as
				// 255+1) stays a POP; POPN needs two bytes.
				break
			}
			n := run
			if n > 255 {
				n = 255
			}
			// POPN needs 2 bytes (opcode + 1 operand byte); the run of
			// n POPs occupies exactly n bytes, which is only enough
			// room when n >= 2.
			start := ins[i].offset
			code.Bytes[start] = byte(bytecode.POPN)
			code.Bytes[start+1] = byte(n)
			for k := start + 2; k < start+n; k++ {
				code.Bytes[k] = byte(bytecode.SKIP)
			}
			run -= n
			i += n
		}
		i = j + 1
	}
}

// SelfTailCall implements pass 3: at `CALL n; RET`, walk backward n+1
// stack-effect-weighted instructions to find the callee's producer; if
// it is a `GLOBAL idx` referencing the function currently being
// compiled (selfGlobal, or -1 if this function isn't bound to a
// global, e.g. an anonymous lambda), rewrite CALL to TAILCALL.
//
// Unlike the other passes this one needs to know which function it is
// optimizing, so the compiler calls it directly with the function's
// own global index in hand, before Optimize runs the rest of the
// pipeline (see internal/compiler/builder.go's finishCode).
func SelfTailCall(code *bytecode.Code, selfGlobal int) {
	if selfGlobal < 0 {
		return
	}
	ins := decode(code.Bytes)
	for i := 0; i+1 < len(ins); i++ {
		if ins[i].op != bytecode.CALL || ins[i+1].op != bytecode.RET {
			continue
		}
		nargs := ins[i].operand
		producer, ok := findCallProducer(ins, i, nargs)
		if !ok {
			continue
		}
		if producer.op == bytecode.GLOBAL && producer.operand == selfGlobal {
			code.Bytes[ins[i].offset] = byte(bytecode.TAILCALL)
		}
	}
}

// findCallProducer walks backward from the CALL at ins[callIdx],
// consuming instructions by their static stack effect until it has
// unwound the n argument pushes and lands on the single instruction
// that pushed the callee itself.
func findCallProducer(ins []instr, callIdx, nargs int) (instr, bool) {
	need := nargs + 1
	for i := callIdx - 1; i >= 0 && need > 0; i-- {
		eff := ins[i].op.StackEffect()
		if ins[i].op == bytecode.CALL || ins[i].op == bytecode.TAILCALL {
			eff = bytecode.CallEffect(ins[i].operand)
		}
		need -= eff
		if need == 0 {
			return ins[i], true
		}
	}
	return instr{}, false
}

// zeroCompareBranches implements pass 4: `ZERO; EQ; BRZ` collapses to
// `SKIP; SKIP; BNZ` and `ZERO; EQ; BNZ` collapses to `SKIP; SKIP;
// BRZ` — testing "== 0" and branching is the same decision as testing
// truthiness and branching the other way.
func zeroCompareBranches(code *bytecode.Code) {
	ins := decode(code.Bytes)
	targets := branchTargets(ins)
	for i := 0; i+2 < len(ins); i++ {
		if ins[i].op != bytecode.ZERO || ins[i+1].op != bytecode.EQ {
			continue
		}
		if targets[ins[i+1].offset] || targets[ins[i+2].offset] {
			continue
		}
		branch := ins[i+2]
		var replacement bytecode.Op
		switch branch.op {
		case bytecode.BRZ:
			replacement = bytecode.BNZ
		case bytecode.BNZ:
			replacement = bytecode.BRZ
		default:
			continue
		}
		code.Bytes[ins[i].offset] = byte(bytecode.SKIP)
		code.Bytes[ins[i+1].offset] = byte(bytecode.SKIP)
		code.Bytes[branch.offset] = byte(replacement)
	}
}

// storePopLoadElision implements pass 5: `STORE i; POP; GLOBAL i` and
// `SET i; POP; GET i` collapse to the bare store — the reloaded value
// already sits under the POP that this pass removes along with the
// reload.
func storePopLoadElision(code *bytecode.Code) {
	ins := decode(code.Bytes)
	targets := branchTargets(ins)
	for i := 0; i+2 < len(ins); i++ {
		store, pop, reload := ins[i], ins[i+1], ins[i+2]
		if pop.op != bytecode.POP {
			continue
		}
		if targets[pop.offset] || targets[reload.offset] {
			continue
		}
		matches := (store.op == bytecode.STORE && reload.op == bytecode.GLOBAL && store.operand == reload.operand) ||
			(store.op == bytecode.SET && reload.op == bytecode.GET && store.operand == reload.operand)
		if !matches {
			continue
		}
		for k := pop.offset; k < reload.offset+reload.op.InstructionLen(); k++ {
			code.Bytes[k] = byte(bytecode.SKIP)
		}
	}
}

// constantFold implements pass 6: windows of {constant-push} …
// {constant-push} {binop | INC | DEC} are evaluated at compile time,
// iterated until a fixed point. A fold that would trap (division by
// zero) is left alone for the VM to raise at run time.
func constantFold(code *bytecode.Code, constants []value.Value) []value.Value {
	for {
		all := decode(code.Bytes)
		targets := branchTargets(all)
		// Pattern-match over the live instructions only: the compiler
		// pads every constant push with two SKIPs of workspace, so the
		// window members are rarely physically adjacent (spec §4.3
		// "ignoring intervening SKIPs").
		live := all[:0:0]
		for _, in := range all {
			if in.op != bytecode.SKIP {
				live = append(live, in)
			}
		}
		changed := false
		for i := 0; i+1 < len(live); i++ {
			if isUnaryArith(live[i+1].op) && !targets[live[i+1].offset] {
				if v, ok := constNumber(live[i], code, constants); ok {
					result, trap := applyUnary(live[i+1].op, v)
					if !trap {
						constants = foldWindow(code, constants, live[i], live[i+1], result)
						changed = true
						break
					}
				}
				continue
			}
			if i+2 >= len(live) || !isBinaryArith(live[i+2].op) {
				continue
			}
			if targets[live[i+1].offset] || targets[live[i+2].offset] {
				continue
			}
			a, aok := constNumber(live[i], code, constants)
			b, bok := constNumber(live[i+1], code, constants)
			if !aok || !bok {
				continue
			}
			result, trap := applyBinary(live[i+2].op, a, b)
			if trap {
				continue
			}
			constants = foldWindow(code, constants, live[i], live[i+2], result)
			changed = true
			break
		}
		if !changed {
			return constants
		}
	}
}

func isUnaryArith(op bytecode.Op) bool {
	return op == bytecode.NEG || op == bytecode.INC || op == bytecode.DEC
}

func isBinaryArith(op bytecode.Op) bool {
	switch op {
	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV:
		return true
	}
	return false
}

// constNumber reports the numeric value of a constant-push
// instruction (ZERO/ONE/TWO/CONST-of-a-number), or false if ins isn't
// one of those.
func constNumber(in instr, code *bytecode.Code, constants []value.Value) (float64, bool) {
	switch in.op {
	case bytecode.ZERO:
		return 0, true
	case bytecode.ONE:
		return 1, true
	case bytecode.TWO:
		return 2, true
	case bytecode.CONST:
		if in.operand < 0 || in.operand >= len(constants) {
			return 0, false
		}
		v := constants[in.operand]
		if v.IsNumber() {
			return v.AsNumber(), true
		}
	}
	return 0, false
}

func applyUnary(op bytecode.Op, a float64) (float64, bool) {
	switch op {
	case bytecode.NEG:
		return -a, false
	case bytecode.INC:
		return a + 1, false
	case bytecode.DEC:
		return a - 1, false
	}
	return 0, true
}

func applyBinary(op bytecode.Op, a, b float64) (float64, bool) {
	switch op {
	case bytecode.ADD:
		return a + b, false
	case bytecode.SUB:
		return a - b, false
	case bytecode.MUL:
		return a * b, false
	case bytecode.DIV:
		if b == 0 {
			return 0, true
		}
		return a / b, false
	}
	return 0, true
}

// foldWindow overwrites the byte span from first's opcode through
// last's instruction with SKIPs, then writes a single constant-push
// for result at the start of the span. When the result needs a CONST
// (3 bytes) and the window is shorter — a 1-byte ZERO/ONE/TWO feeding
// a unary fold — the rewrite borrows from the two SKIPs of workspace
// the compiler placed in front of every constant push (spec §4.2).
func foldWindow(code *bytecode.Code, constants []value.Value, first, last instr, result float64) []value.Value {
	end := last.offset + last.op.InstructionLen()
	op, operand, newConsts := constOpFor(result, constants)
	need := 1
	if op == bytecode.CONST {
		need = 3
	}
	start := first.offset
	for end-start < need && start > 0 && bytecode.Op(code.Bytes[start-1]) == bytecode.SKIP {
		start--
	}
	for k := start; k < end; k++ {
		code.Bytes[k] = byte(bytecode.SKIP)
	}
	code.Bytes[start] = byte(op)
	if op == bytecode.CONST {
		bytecode.WriteU16(code.Bytes, start+1, operand)
	}
	return newConsts
}

// constOpFor picks ZERO/ONE/TWO for the common small integers, else
// appends result to the constant pool and returns CONST.
func constOpFor(result float64, constants []value.Value) (bytecode.Op, int, []value.Value) {
	switch result {
	case 0:
		return bytecode.ZERO, 0, constants
	case 1:
		return bytecode.ONE, 0, constants
	case 2:
		return bytecode.TWO, 0, constants
	}
	v := value.Number(result)
	for i, c := range constants {
		if c.RawBits() == v.RawBits() {
			return bytecode.CONST, i, constants
		}
	}
	constants = append(constants, v)
	return bytecode.CONST, len(constants) - 1, constants
}

// compact physically removes every SKIP from code, re-patches every
// surviving jump's operand to account for the bytes it straddles, and
// rebuilds the token table against the new offsets (spec §4.2 "then
// physically remove the SKIP placeholders").
func compact(code *bytecode.Code) {
	ins := decode(code.Bytes)
	// Every instruction offset gets a mapping, SKIPs included: a jump
	// whose target lands on SKIP padding (the compiler records branch
	// targets before emitting a padded constant push) must resolve to
	// wherever the next surviving instruction lands.
	oldToNew := make(map[int]int, len(ins))
	newLen := 0
	for _, in := range ins {
		oldToNew[in.offset] = newLen
		if in.op != bytecode.SKIP {
			newLen += in.op.InstructionLen()
		}
	}
	out := make([]byte, newLen)
	type tokBind struct {
		offset int
		tok    bytecode.Token
	}
	var binds []tokBind
	for _, in := range ins {
		if in.op == bytecode.SKIP {
			continue
		}
		newOff := oldToNew[in.offset]
		out[newOff] = byte(in.op)
		switch in.op.Width() {
		case bytecode.W1:
			out[newOff+1] = byte(in.operand)
		case bytecode.W2:
			if isJump(in.op) {
				oldTarget := jumpTarget(in)
				newTarget, ok := oldToNew[oldTarget]
				if !ok {
					newTarget = newLen // target was itself compacted away (end of function)
				}
				newEnd := newOff + in.op.InstructionLen()
				var dist int
				if in.op == bytecode.LOOP {
					dist = newEnd - newTarget
				} else {
					dist = newTarget - newEnd
				}
				bytecode.WriteU16(out, newOff+1, dist)
			} else {
				bytecode.WriteU16(out, newOff+1, in.operand)
			}
		}
		if tok, ok := code.TokenAt(in.offset); ok {
			binds = append(binds, tokBind{offset: newOff, tok: tok})
		}
	}
	code.Bytes = out
	code.ResetTokens()
	for _, tb := range binds {
		code.BindToken(tb.offset, tb.tok)
	}
	code.Finalize()
}

package optimizer

import (
	"testing"

	"github.com/kristofer/dwt/internal/bytecode"
	"github.com/kristofer/dwt/internal/value"
)

func TestPopCoalesceMergesRun(t *testing.T) {
	code := &bytecode.Code{Bytes: []byte{
		byte(bytecode.ONE),
		byte(bytecode.POP),
		byte(bytecode.POP),
		byte(bytecode.POP),
		byte(bytecode.RET),
	}}
	popCoalesce(code)

	if bytecode.Op(code.Bytes[1]) != bytecode.POPN {
		t.Fatalf("expected POPN at offset 1, got %s", bytecode.Op(code.Bytes[1]).Name())
	}
	if code.Bytes[2] != 3 {
		t.Errorf("POPN operand = %d, want 3", code.Bytes[2])
	}
	if bytecode.Op(code.Bytes[3]) != bytecode.SKIP {
		t.Errorf("expected SKIP filler, got %s", bytecode.Op(code.Bytes[3]).Name())
	}
}

func TestPopCoalesceLeavesSinglePop(t *testing.T) {
	code := &bytecode.Code{Bytes: []byte{byte(bytecode.ONE), byte(bytecode.POP), byte(bytecode.RET)}}
	popCoalesce(code)
	if bytecode.Op(code.Bytes[1]) != bytecode.POP {
		t.Errorf("a single POP should not be rewritten, got %s", bytecode.Op(code.Bytes[1]).Name())
	}
}

func TestDeadCodeAfterReturnIsSkipped(t *testing.T) {
	code := &bytecode.Code{Bytes: []byte{
		byte(bytecode.ONE),
		byte(bytecode.RET),
		byte(bytecode.TWO), // unreachable
		byte(bytecode.RET),
	}}
	deadCodeAfterReturn(code)
	if bytecode.Op(code.Bytes[2]) != bytecode.SKIP {
		t.Errorf("unreachable instruction after RET should become SKIP, got %s", bytecode.Op(code.Bytes[2]).Name())
	}
}

func TestZeroCompareBranchesCollapse(t *testing.T) {
	code := &bytecode.Code{Bytes: []byte{
		byte(bytecode.ZERO),
		byte(bytecode.EQ),
		byte(bytecode.BRZ), 0, 0,
	}}
	zeroCompareBranches(code)
	if bytecode.Op(code.Bytes[0]) != bytecode.SKIP || bytecode.Op(code.Bytes[1]) != bytecode.SKIP {
		t.Fatalf("ZERO/EQ should become SKIP/SKIP, got %s/%s",
			bytecode.Op(code.Bytes[0]).Name(), bytecode.Op(code.Bytes[1]).Name())
	}
	if bytecode.Op(code.Bytes[2]) != bytecode.BNZ {
		t.Errorf("BRZ after == 0 should flip to BNZ, got %s", bytecode.Op(code.Bytes[2]).Name())
	}
}

func TestConstantFoldMatchesAcrossSkips(t *testing.T) {
	// The padded form the compiler emits for `1 + 2`: each constant
	// push carries two SKIPs of workspace in front of it.
	code := &bytecode.Code{Bytes: []byte{
		byte(bytecode.SKIP), byte(bytecode.SKIP), byte(bytecode.ONE),
		byte(bytecode.SKIP), byte(bytecode.SKIP), byte(bytecode.TWO),
		byte(bytecode.ADD), byte(bytecode.RET),
	}}
	constants := constantFold(code, nil)

	var ops []bytecode.Op
	for ip := 0; ip < len(code.Bytes); {
		op := bytecode.Op(code.Bytes[ip])
		if op != bytecode.SKIP {
			ops = append(ops, op)
		}
		ip += op.InstructionLen()
	}
	if len(ops) != 2 || ops[0] != bytecode.CONST || ops[1] != bytecode.RET {
		t.Fatalf("expected CONST+RET after folding 1+2, got %v", ops)
	}
	if len(constants) != 1 || !constants[0].IsNumber() || constants[0].AsNumber() != 3 {
		t.Errorf("folded constant pool = %v, want [3]", constants)
	}
}

func TestCompactRetargetsJumpLandingOnSkip(t *testing.T) {
	// A branch recorded just before a padded constant push targets the
	// padding's first SKIP byte; after compaction it must land on the
	// surviving instruction instead.
	code := &bytecode.Code{Bytes: []byte{
		byte(bytecode.BRA), 0, 0, // target: offset 3, the first SKIP
		byte(bytecode.SKIP),
		byte(bytecode.SKIP),
		byte(bytecode.ONE),
		byte(bytecode.RET),
	}}
	compact(code)
	if bytecode.Op(code.Bytes[3]) != bytecode.ONE {
		t.Fatalf("expected ONE at offset 3 after compaction, got %s", bytecode.Op(code.Bytes[3]).Name())
	}
	if dist := bytecode.ReadU16(code.Bytes, 1); dist != 0 {
		t.Errorf("BRA distance = %d, want 0 (landing on the ONE)", dist)
	}
}

func TestCompactRemovesSkipsAndRepatchesJumps(t *testing.T) {
	// BRA past two SKIPs to RET; after compact the SKIPs vanish and the
	// branch operand must shrink to match.
	code := &bytecode.Code{Bytes: []byte{
		byte(bytecode.BRA), 2, 0, // jump 2 bytes forward, landing on RET
		byte(bytecode.SKIP),
		byte(bytecode.SKIP),
		byte(bytecode.RET),
	}}
	constants := []value.Value{}
	compact(code)
	_ = constants

	for _, b := range code.Bytes {
		if bytecode.Op(b) == bytecode.SKIP {
			t.Fatalf("compact left a SKIP byte in the output: %v", code.Bytes)
		}
	}
	if bytecode.Op(code.Bytes[len(code.Bytes)-1]) != bytecode.RET {
		t.Errorf("expected the code to still end in RET after compaction, got %s",
			bytecode.Op(code.Bytes[len(code.Bytes)-1]).Name())
	}
	if dist := bytecode.ReadU16(code.Bytes, 1); dist != 0 {
		t.Errorf("BRA distance = %d, want 0 (landing on the RET)", dist)
	}
}

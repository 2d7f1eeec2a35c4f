package bytecode

import "testing"

func TestU16RoundTrip(t *testing.T) {
	b := make([]byte, 2)
	WriteU16(b, 0, 0xBEEF&0xFFFF)
	if got := ReadU16(b, 0); got != 0xBEEF {
		t.Errorf("ReadU16 = %#x, want %#x", got, 0xBEEF)
	}
}

func TestTokenAtNearestPreceding(t *testing.T) {
	c := &Code{}
	c.BindToken(0, Token{Line: 1, Text: "a"})
	c.BindToken(4, Token{Line: 2, Text: "b"})
	c.Finalize()

	tok, ok := c.TokenAt(0)
	if !ok || tok.Text != "a" {
		t.Errorf("TokenAt(0) = %+v, ok=%v", tok, ok)
	}
	tok, ok = c.TokenAt(2)
	if !ok || tok.Text != "a" {
		t.Errorf("TokenAt(2) should fall back to the preceding token, got %+v", tok)
	}
	tok, ok = c.TokenAt(4)
	if !ok || tok.Text != "b" {
		t.Errorf("TokenAt(4) = %+v, ok=%v", tok, ok)
	}
	if _, ok := c.TokenAt(-1); ok {
		t.Error("TokenAt before the first bound offset should fail")
	}
}

func TestResetTokensClears(t *testing.T) {
	c := &Code{}
	c.BindToken(0, Token{Text: "a"})
	c.ResetTokens()
	if _, ok := c.TokenAt(0); ok {
		t.Error("TokenAt succeeded after ResetTokens")
	}
}

func TestInstructionLenMatchesWidth(t *testing.T) {
	tests := []struct {
		op   Op
		want int
	}{
		{NIL, 1},
		{POPN, 2},
		{CONST, 3},
	}
	for _, tt := range tests {
		if got := tt.op.InstructionLen(); got != tt.want {
			t.Errorf("%s.InstructionLen() = %d, want %d", tt.op.Name(), got, tt.want)
		}
	}
}

func TestCallEffect(t *testing.T) {
	if got := CallEffect(0); got != 0 {
		t.Errorf("CallEffect(0) = %d, want 0", got)
	}
	if got := CallEffect(2); got != -2 {
		t.Errorf("CallEffect(2) = %d, want -2", got)
	}
}

func TestDisassembleOneInstructionPerLine(t *testing.T) {
	c := &Code{Bytes: []byte{byte(ONE), byte(ONE), byte(ADD), byte(RET)}}
	out := Disassemble(c)
	lines := 0
	for _, r := range out {
		if r == '\n' {
			lines++
		}
	}
	if lines != 4 {
		t.Errorf("Disassemble produced %d lines, want 4", lines)
	}
}

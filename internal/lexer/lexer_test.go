package lexer

import "testing"

func TestNextBasicTokens(t *testing.T) {
	l := New(`var x := 1 + 2.5`)
	want := []TokenType{VAR, IDENT, ASSIGN, INTEGER, PLUS, FLOAT, EOF}
	for i, wt := range want {
		tok := l.Next()
		if tok.Type != wt {
			t.Fatalf("token %d: type = %v, want %v (literal %q)", i, tok.Type, wt, tok.Literal)
		}
	}
}

func TestKeywordsVsIdentifiers(t *testing.T) {
	l := New("fun foobar")
	tok := l.Next()
	if tok.Type != FUN {
		t.Fatalf("expected FUN, got %v", tok.Type)
	}
	tok = l.Next()
	if tok.Type != IDENT || tok.Literal != "foobar" {
		t.Fatalf("expected IDENT foobar, got %v %q", tok.Type, tok.Literal)
	}
}

func TestStringLiteral(t *testing.T) {
	l := New(`"hello world"`)
	tok := l.Next()
	if tok.Type != STRING || tok.Literal != "hello world" {
		t.Fatalf("got %v %q, want STRING %q", tok.Type, tok.Literal, "hello world")
	}
}

func TestCommentSkipped(t *testing.T) {
	l := New("## this is a comment\nvar")
	tok := l.Next()
	if tok.Type != VAR {
		t.Fatalf("comment not skipped, got %v", tok.Type)
	}
}

func TestTwoCharOperators(t *testing.T) {
	tests := []struct {
		src  string
		want TokenType
	}{
		{"::", COLONCOLON},
		{":=", ASSIGN},
		{"==", EQEQ},
		{"~=", NEQ},
		{"<=", LTEQ},
		{">=", GTEQ},
	}
	for _, tt := range tests {
		l := New(tt.src)
		tok := l.Next()
		if tok.Type != tt.want {
			t.Errorf("lexing %q: got %v, want %v", tt.src, tok.Type, tt.want)
		}
	}
}

func TestIllegalCharacter(t *testing.T) {
	l := New("@")
	tok := l.Next()
	if tok.Type != ILLEGAL {
		t.Fatalf("expected ILLEGAL, got %v", tok.Type)
	}
}

func TestTokenizeStopsAtEOF(t *testing.T) {
	toks, err := New("1 2 3").Tokenize()
	if err != nil {
		t.Fatalf("Tokenize error: %v", err)
	}
	if toks[len(toks)-1].Type != EOF {
		t.Fatal("Tokenize did not end with EOF")
	}
	if len(toks) != 4 {
		t.Fatalf("Tokenize produced %d tokens, want 4", len(toks))
	}
}

func TestLineTracking(t *testing.T) {
	l := New("1\n2")
	first := l.Next()
	second := l.Next()
	if first.Line != 1 {
		t.Errorf("first token line = %d, want 1", first.Line)
	}
	if second.Line != 2 {
		t.Errorf("second token line = %d, want 2", second.Line)
	}
}

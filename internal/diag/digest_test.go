package diag

import "testing"

func TestSourceDigestDeterministic(t *testing.T) {
	src := []byte("function main() { print 1 }")
	a := SourceDigest(src)
	b := SourceDigest(src)
	if a != b {
		t.Errorf("SourceDigest is not deterministic: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("SourceDigest length = %d, want 16 hex chars for 8 bytes", len(a))
	}
}

func TestSourceDigestDiffers(t *testing.T) {
	a := SourceDigest([]byte("alpha"))
	b := SourceDigest([]byte("beta"))
	if a == b {
		t.Error("different source produced the same digest")
	}
}

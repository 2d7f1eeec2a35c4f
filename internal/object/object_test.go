package object

import (
	"testing"

	"github.com/kristofer/dwt/internal/value"
)

func TestBlackenVisitsReferences(t *testing.T) {
	h := NewHeap()
	a := h.NewBox(1, nil)
	cl := &ClosureData{Function: value.Nil, Upvalues: []value.Value{a}}
	wrapper := h.Resolve(h.NewClosure(cl))

	var seen []value.Value
	wrapper.Blacken(func(v value.Value) { seen = append(seen, v) })
	if len(seen) != 2 {
		t.Fatalf("Blacken visited %d values, want 2 (function + 1 upvalue)", len(seen))
	}
}

func TestBlackenNoOpForNonReferencer(t *testing.T) {
	h := NewHeap()
	str := h.Resolve(h.Intern("x"))
	// StringData.References is a no-op; Blacken must not panic.
	str.Blacken(func(value.Value) { t.Error("string object should yield no references") })
}

func TestKindStringCoversAllVariants(t *testing.T) {
	for k := KindString; k <= KindBox; k++ {
		if k.String() == "unknown" {
			t.Errorf("Kind %d has no String() label", k)
		}
	}
}

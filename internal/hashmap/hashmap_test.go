package hashmap

import (
	"testing"

	"github.com/kristofer/dwt/internal/value"
)

// fakeHasher lets these tests exercise the Hasher seam without pulling
// in the full object package; it just hashes by raw bits, which is
// enough since these tests never use interned-string identity.
type fakeHasher struct{}

func (fakeHasher) Hash(v value.Value) uint64 { return v.RawBits() }

func TestSetGet(t *testing.T) {
	m := New(fakeHasher{})
	m.Set(value.Number(1), value.Number(100))
	m.Set(value.Number(2), value.Number(200))

	got, ok := m.Get(value.Number(1))
	if !ok || got.AsNumber() != 100 {
		t.Errorf("Get(1) = (%v, %v), want (100, true)", got, ok)
	}
	if _, ok := m.Get(value.Number(3)); ok {
		t.Error("Get of an absent key reported found")
	}
}

func TestOverwrite(t *testing.T) {
	m := New(fakeHasher{})
	m.Set(value.Number(1), value.Number(1))
	m.Set(value.Number(1), value.Number(2))
	if m.Len() != 1 {
		t.Errorf("Len() = %d after overwrite, want 1", m.Len())
	}
	got, _ := m.Get(value.Number(1))
	if got.AsNumber() != 2 {
		t.Errorf("overwritten value = %v, want 2", got)
	}
}

func TestDeleteTombstonePreservesProbeChain(t *testing.T) {
	m := New(fakeHasher{})
	// Force three keys into the same bucket isn't directly controllable
	// without reaching into internals, so instead verify the externally
	// observable contract: deleting a key that collided with another
	// must not make the other key unreachable.
	for i := 0; i < 6; i++ {
		m.Set(value.Number(float64(i)), value.Number(float64(i*10)))
	}
	if !m.Delete(value.Number(2)) {
		t.Fatal("Delete of a present key returned false")
	}
	if _, ok := m.Get(value.Number(2)); ok {
		t.Error("deleted key still resolves")
	}
	for i := 0; i < 6; i++ {
		if i == 2 {
			continue
		}
		got, ok := m.Get(value.Number(float64(i)))
		if !ok || got.AsNumber() != float64(i*10) {
			t.Errorf("key %d lost after sibling delete: got (%v, %v)", i, got, ok)
		}
	}
}

func TestDeleteAbsentKey(t *testing.T) {
	m := New(fakeHasher{})
	if m.Delete(value.Number(1)) {
		t.Error("Delete of an absent key returned true")
	}
}

func TestGrowPreservesEntries(t *testing.T) {
	m := New(fakeHasher{})
	const n = 64
	for i := 0; i < n; i++ {
		m.Set(value.Number(float64(i)), value.Number(float64(i*i)))
	}
	if m.Len() != n {
		t.Fatalf("Len() = %d, want %d", m.Len(), n)
	}
	for i := 0; i < n; i++ {
		got, ok := m.Get(value.Number(float64(i)))
		if !ok || got.AsNumber() != float64(i*i) {
			t.Errorf("key %d missing or wrong after growth: (%v, %v)", i, got, ok)
		}
	}
}

func TestEachVisitsAllLiveEntries(t *testing.T) {
	m := New(fakeHasher{})
	want := map[float64]bool{1: true, 2: true, 3: true}
	for k := range want {
		m.Set(value.Number(k), value.Bool(true))
	}
	m.Delete(value.Number(2))
	delete(want, 2)

	seen := map[float64]bool{}
	m.Each(func(k, v value.Value) {
		seen[k.AsNumber()] = true
	})
	if len(seen) != len(want) {
		t.Fatalf("Each visited %d entries, want %d", len(seen), len(want))
	}
	for k := range want {
		if !seen[k] {
			t.Errorf("Each did not visit key %v", k)
		}
	}
}

// Package hashmap implements the open-addressed hash map used for
// user maps, class method tables and instance field maps (spec §4.5).
//
// Capacity is always a power of two, the load factor is 0.75, and
// deletion uses tombstones so probe chains for later keys remain
// intact. A tombstone is a slot with used set and alive clear; an
// empty, never-used slot has used clear and terminates a probe.
package hashmap

import "github.com/kristofer/dwt/internal/value"

// Hasher resolves the hash of a value.Value. Object hashing (strings)
// needs the owning heap; non-object values hash their raw bit pattern.
// Passed in rather than imported to avoid hashmap depending on the
// full object package for anything but this one call.
type Hasher interface {
	Hash(v value.Value) uint64
}

const initialCapacity = 8
const maxLoadFactor = 0.75

type entry struct {
	key   value.Value
	val   value.Value
	used  bool // true once this slot has ever held a live key
	alive bool // true while the key is live; false marks a tombstone
}

// Map is the open-addressed table. It satisfies object.FieldMap.
type Map struct {
	hasher  Hasher
	entries []entry
	count   int // live entries
	used    int // live + tombstones, drives the 0.75 grow check
}

// New creates an empty map backed by the given hasher.
func New(hasher Hasher) *Map {
	return &Map{hasher: hasher, entries: make([]entry, initialCapacity)}
}

func (m *Map) Len() int { return m.count }

func (m *Map) hashOf(k value.Value) uint64 {
	if k.IsObject() {
		return m.hasher.Hash(k)
	}
	return k.RawBits()
}

func keyEqual(a, b value.Value) bool {
	return a.RawBits() == b.RawBits()
}

// probe returns the slot index where k lives (alive==true) or where it
// should be inserted (the first tombstone or empty slot seen along the
// way), plus whether k was found.
func (m *Map) probe(k value.Value) (idx int, found bool) {
	mask := uint64(len(m.entries) - 1)
	start := m.hashOf(k) & mask
	firstTombstone := -1
	for i := uint64(0); i < uint64(len(m.entries)); i++ {
		slot := (start + i) & mask
		e := &m.entries[slot]
		if !e.used {
			if firstTombstone >= 0 {
				return firstTombstone, false
			}
			return int(slot), false
		}
		if !e.alive {
			if firstTombstone < 0 {
				firstTombstone = int(slot)
			}
			continue
		}
		if keyEqual(e.key, k) {
			return int(slot), true
		}
	}
	if firstTombstone >= 0 {
		return firstTombstone, false
	}
	// table is saturated with live entries and no empty/tombstone slot;
	// grow forces this not to happen in practice (see Set).
	return -1, false
}

// Get looks up k, returning the sentinel nil value and false if absent
// (spec §4.5 "get finds or returns a sentinel null").
func (m *Map) Get(k value.Value) (value.Value, bool) {
	idx, found := m.probe(k)
	if !found {
		return value.Nil, false
	}
	return m.entries[idx].val, true
}

// Set inserts or updates k's value, growing the table first if the
// insert would push used slots past the 0.75 load factor (spec §8
// "Map grows when entries + 1 > capacity × 0.75").
func (m *Map) Set(k, v value.Value) {
	if float64(m.used+1) > float64(len(m.entries))*maxLoadFactor {
		m.grow()
	}
	idx, found := m.probe(k)
	if idx < 0 {
		m.grow()
		idx, found = m.probe(k)
	}
	e := &m.entries[idx]
	if !found {
		if !e.used {
			m.used++
		}
		m.count++
	}
	*e = entry{key: k, val: v, used: true, alive: true}
}

// Delete marks k's slot a tombstone, preserving the probe chain for
// keys that hashed past it (spec §4.5 "del marks tombstone").
func (m *Map) Delete(k value.Value) bool {
	idx, found := m.probe(k)
	if !found {
		return false
	}
	e := &m.entries[idx]
	e.alive = false
	e.key = value.Nil
	e.val = value.True // tombstone encoding: (nil key, true value)
	m.count--
	return true
}

// Each calls fn for every live entry, in table order. Iteration order
// is not semantically meaningful; callers that need determinism (none
// in this interpreter) must sort externally.
func (m *Map) Each(fn func(k, v value.Value)) {
	for _, e := range m.entries {
		if e.used && e.alive {
			fn(e.key, e.val)
		}
	}
}

// grow doubles capacity and reinserts every live entry, dropping
// tombstones (spec §4.5 "Rehash-on-grow doubles capacity and
// re-inserts all live entries").
func (m *Map) grow() {
	old := m.entries
	m.entries = make([]entry, len(old)*2)
	m.used = 0
	m.count = 0
	for _, e := range old {
		if e.used && e.alive {
			m.Set(e.key, e.val)
		}
	}
}

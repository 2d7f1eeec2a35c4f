// Package gc implements the tracing, stop-the-world mark-and-sweep
// collector spec §4.7 describes: mark from every registered VM's
// roots, process the resulting grey list to a fixed point via each
// object's Blacken, then walk the heap's intrusive object list once
// to sweep whatever stayed white (including the string interner's own
// table, per spec §4.7 step 4).
//
// The collector is deliberately the only piece of the runtime that
// needs to see every registered VM at once: internal/vm depends on it
// only through the narrow Collector interface it declares itself
// (Collect(), no result), so GC can import internal/vm's sibling packages
// (object, value) without an import cycle back to vm.
package gc

import (
	"sync"

	"github.com/kristofer/dwt/internal/object"
	"github.com/kristofer/dwt/internal/value"
)

// Rooted is implemented by anything the collector must trace roots
// from — in practice *vm.VM, structurally, since vm.VM exports a
// matching MarkRoots method without importing this package.
type Rooted interface {
	MarkRoots(mark func(value.Value))
}

// GC is a single collector over one object heap, shared by every VM
// registered with it (spec §5 "a single global collector manages all
// objects"). Mutex-guarded per spec §5 "GC: stops collecting-safepoint
// workers cooperatively": Register/Unregister and Collect all take the
// same lock, so a threaded embedder can register VMs from multiple
// goroutines without racing the collector's own bookkeeping.
type GC struct {
	mu          sync.Mutex
	heap        *object.Heap
	roots       []Rooted
	Collections int // count of completed Collect() calls, for diagnostics/tests
	grey        []*object.Object
}

// New creates a collector over heap. The heap is otherwise unaware of
// the collector; it just exposes HeapSize/Threshold/CollectPending for
// GC (and the VM's safepoint poll) to read.
func New(heap *object.Heap) *GC {
	return &GC{heap: heap}
}

// Register adds v to the set of mutators Collect traces roots from.
// Every VM sharing this heap must register before running any script
// that might allocate, or the collector could free objects it still
// holds live.
func (g *GC) Register(v Rooted) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roots = append(g.roots, v)
}

// Unregister removes v, e.g. once an embedder-spun VM (spec §6 "call")
// has returned its result and gone out of scope.
func (g *GC) Unregister(v Rooted) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, r := range g.roots {
		if r == v {
			g.roots = append(g.roots[:i], g.roots[i+1:]...)
			return
		}
	}
}

// Collect runs one full mark/sweep cycle (spec §4.7). It satisfies
// vm.Collector's zero-argument, no-error Collect() method, so a VM's
// safepoint poll can call it with no import of this package.
func (g *GC) Collect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grey = g.grey[:0]

	for _, r := range g.roots {
		r.MarkRoots(g.markValue)
	}
	g.processGrey()

	g.heap.Sweep()
	g.heap.Threshold = 2 * g.heap.HeapSize
	g.heap.CollectPending = false
	g.Collections++
}

// markValue transitions the object v references from White to Grey
// and enqueues it for processGrey; non-object values and
// already-reached objects are no-ops (spec §4.7 step 1/2, §3 "tri-color
// mark").
func (g *GC) markValue(v value.Value) {
	if !v.IsObject() {
		return
	}
	obj := g.heap.Resolve(v)
	if obj == nil || obj.Mark != object.White {
		return
	}
	obj.Mark = object.Grey
	g.grey = append(g.grey, obj)
}

// processGrey iterates the grey worklist to a fixed point: each popped
// object is blackened (every value it directly owns gets markValue'd,
// which may grow the worklist) and then marked Black, per spec §4.7
// step 3 "Process the grey list ... Iterate to fixed point."
func (g *GC) processGrey() {
	for len(g.grey) > 0 {
		n := len(g.grey) - 1
		obj := g.grey[n]
		g.grey = g.grey[:n]
		obj.Blacken(g.markValue)
		obj.Mark = object.Black
	}
}

// HeapSize reports the collector's current heap footprint, for
// diagnostics.
func (g *GC) HeapSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heap.HeapSize
}

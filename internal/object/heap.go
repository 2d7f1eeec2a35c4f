package object

import (
	"hash/fnv"

	"github.com/kristofer/dwt/internal/value"
)

// slot is one entry in the heap's object table. A freed slot keeps its
// Generation bumped so stale value.Value references (there should be
// none reachable, but defense in depth costs nothing) are detectable.
type slot struct {
	obj        *Object
	generation uint16
	free       bool
}

// Heap is the process-wide object table and intrusive list described
// in spec §2.2. Allocation records each object's byte footprint in a
// running size counter; when the counter crosses Threshold the
// CollectPending flag is raised and observed at the next VM safepoint
// (spec §4.4 "Safepoint", §4.7).
//
// Heap also owns the string interner (spec §2.3): identical text
// always resolves to the same object index, so pointer/index equality
// doubles as text equality for interned strings.
type Heap struct {
	slots     []slot
	freeList  []uint32
	nextID    uint64
	head, tail *Object // intrusive sweep-order list; head/tail are its first and last objects

	HeapSize  int
	Threshold int // 0 until the first collection; reset to 2*HeapSize after each

	CollectPending bool

	interned map[uint64][]uint32 // hash -> candidate string slot indices
}

// NewHeap creates an empty heap. Threshold starts at 0, per spec §3
// ("initialized to 0, reset to 2 × heap_size after each collection"):
// the very first allocation that crosses it immediately requests a
// collection, which is harmless since there is nothing to free yet.
func NewHeap() *Heap {
	return &Heap{
		interned: make(map[uint64][]uint32),
	}
}

// alloc installs data as a new object of the given kind and charges
// its footprint against HeapSize, raising CollectPending if the
// (possibly still-zero) Threshold is crossed.
func (h *Heap) alloc(kind Kind, bytes int, data any) value.Value {
	h.nextID++
	obj := &Object{Kind: kind, ID: h.nextID, Mark: White, Bytes: bytes, Data: data}

	var idx uint32
	var gen uint16
	if n := len(h.freeList); n > 0 {
		idx = h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		gen = h.slots[idx].generation + 1
		h.slots[idx] = slot{obj: obj, generation: gen}
	} else {
		idx = uint32(len(h.slots))
		h.slots = append(h.slots, slot{obj: obj})
	}
	obj.Index = idx

	h.link(obj)
	h.HeapSize += bytes
	if h.HeapSize > h.Threshold {
		h.CollectPending = true
	}
	return value.Object(idx, gen)
}

// link appends obj to the tail of the intrusive sweep-order list.
func (h *Heap) link(obj *Object) {
	if h.tail == nil {
		h.head, h.tail = obj, obj
		return
	}
	h.tail.Next = obj
	obj.Prev = h.tail
	h.tail = obj
}

// unlink removes obj from the intrusive list.
func (h *Heap) unlink(obj *Object) {
	if obj.Prev != nil {
		obj.Prev.Next = obj.Next
	} else {
		h.head = obj.Next
	}
	if obj.Next != nil {
		obj.Next.Prev = obj.Prev
	} else {
		h.tail = obj.Prev
	}
	obj.Prev, obj.Next = nil, nil
}

// Head returns the first object in sweep order, for the collector's
// mark/sweep walk. The returned object's Next field continues the walk.
func (h *Heap) Head() *Object { return h.head }

// Resolve turns a value.Value known to be an object reference into its
// *Object. It returns nil if the slot has been freed or the
// generation is stale.
func (h *Heap) Resolve(v value.Value) *Object {
	idx, gen := v.AsObject()
	if int(idx) >= len(h.slots) {
		return nil
	}
	s := h.slots[idx]
	if s.free || s.generation != gen {
		return nil
	}
	return s.obj
}

// Free marks idx's slot reusable and unlinks its object. Called only
// by the collector's sweep step. A freed box object's finalizer (spec
// SPEC_FULL.md "FFI box ownership") runs here, exactly once, before the
// slot is handed back to the free list.
func (h *Heap) Free(idx uint32) {
	s := &h.slots[idx]
	if s.free {
		return
	}
	if bd, ok := s.obj.Data.(*BoxData); ok && bd.Finalizer != nil {
		bd.Finalizer()
	}
	h.HeapSize -= s.obj.Bytes
	h.unlink(s.obj)
	s.free = true
	s.obj = nil
	h.freeList = append(h.freeList, idx)
}

// indexOf returns the heap index and generation backing obj, by linear
// scan of the object's identity against live slots.
func (h *Heap) indexOf(obj *Object) (uint32, uint16, bool) {
	for i := range h.slots {
		if !h.slots[i].free && h.slots[i].obj == obj {
			return uint32(i), h.slots[i].generation, true
		}
	}
	return 0, 0, false
}

// fnv1a64 computes the 64-bit FNV-1a hash used to key interned
// strings and hash-map string keys (spec §4.5, §2.3).
func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// Intern returns the string object for text, allocating a new one only
// if an equal string is not already interned (spec §2.3, §3 invariant
// "interned strings are never duplicated").
func (h *Heap) Intern(text string) value.Value {
	hash := fnv1a64(text)
	for _, idx := range h.interned[hash] {
		s := h.slots[idx]
		if s.free {
			continue
		}
		if sd, ok := s.obj.Data.(*StringData); ok && sd.Text == text {
			return value.Object(idx, s.generation)
		}
	}
	v := h.alloc(KindString, len(text)+16, &StringData{Text: text, Hash: hash})
	idx, _ := v.AsObject()
	h.interned[hash] = append(h.interned[hash], idx)
	return v
}

// Sweep walks the intrusive object list once (spec §4.7 step 4):
// objects still White (never reached by the mark phase) are unlinked
// and freed, objects the mark phase reached (Grey or Black) are
// repainted White so the next collection starts clean. It finishes by
// sweeping the string interner's table for the slots it just freed.
// Returns the number of objects freed.
func (h *Heap) Sweep() int {
	freed := 0
	obj := h.head
	for obj != nil {
		next := obj.Next
		if obj.Mark == White {
			h.Free(obj.Index)
			freed++
		} else {
			obj.Mark = White
		}
		obj = next
	}
	h.SweepInternTable()
	return freed
}

// SweepInternTable drops interner entries whose backing slot was freed
// by the collector's sweep pass (spec §4.7 step 4).
func (h *Heap) SweepInternTable() {
	for hash, idxs := range h.interned {
		live := idxs[:0]
		for _, idx := range idxs {
			if !h.slots[idx].free {
				live = append(live, idx)
			}
		}
		if len(live) == 0 {
			delete(h.interned, hash)
		} else {
			h.interned[hash] = live
		}
	}
}

// --- allocation entry points for each object variant ---

func (h *Heap) NewFunction(fn *FunctionData) value.Value {
	size := len(fn.Code.Code.Bytes) + 64 + 16*len(fn.Locals) + 16*len(fn.Upvalues)
	return h.alloc(KindFunction, size, fn)
}

func (h *Heap) NewClass(cd *ClassData) value.Value {
	size := len(cd.Code.Code.Bytes) + 64
	return h.alloc(KindClass, size, cd)
}

func (h *Heap) NewClosure(cl *ClosureData) value.Value {
	return h.alloc(KindClosure, 32+8*len(cl.Upvalues), cl)
}

func (h *Heap) NewInstance(in *InstanceData) value.Value {
	return h.alloc(KindInstance, 48, in)
}

func (h *Heap) NewMap(md *MapData) value.Value {
	return h.alloc(KindMap, 48, md)
}

func (h *Heap) NewMapInit(fn *FunctionData) value.Value {
	size := len(fn.Code.Code.Bytes) + 64
	return h.alloc(KindMapInit, size, fn)
}

func (h *Heap) NewUpvalue(u *UpvalueData) value.Value {
	return h.alloc(KindUpvalue, 24, u)
}

func (h *Heap) NewSyscall(name string, fn HostFunc) value.Value {
	return h.alloc(KindSyscall, 32, &SyscallData{Name: name, Fn: fn})
}

func (h *Heap) NewBox(ptr any, finalizer func()) value.Value {
	return h.alloc(KindBox, 16, &BoxData{Pointer: ptr, Finalizer: finalizer})
}

// Hash returns the hash key for a heap object: strings hash their
// text (FNV-1a), every other variant hashes by identity (slot index),
// matching spec §4.5 ("only strings currently hash non-trivially").
func (h *Heap) Hash(v value.Value) uint64 {
	idx, _ := v.AsObject()
	obj := h.slots[idx].obj
	if obj == nil {
		return 0
	}
	if sd, ok := obj.Data.(*StringData); ok {
		return sd.Hash
	}
	return uint64(idx) * 2654435761
}

// Package object implements the heap-allocated object model: the
// doubly-linked intrusive list of every live object, the tri-color
// mark used by the collector, and the object variants enumerated in
// spec §3 (string, code, function, closure, class, instance, map,
// map-init, upvalue, syscall, box).
//
// The heap is the one place in the interpreter allowed to hold real Go
// pointers to objects; value.Value only ever carries an index into it
// (see the value package's doc comment for why).
package object

import "github.com/kristofer/dwt/internal/value"

// Color is the tri-color mark used by the collector (gc.GC).
// White objects are sweep candidates, grey objects are reachable but
// not yet scanned, black objects have been fully scanned.
type Color uint8

const (
	White Color = iota
	Grey
	Black
)

// Kind tags which object variant an Object is.
type Kind uint8

const (
	KindString Kind = iota
	KindCode
	KindFunction
	KindClosure
	KindClass
	KindInstance
	KindMap
	KindMapInit
	KindUpvalue
	KindSyscall
	KindBox
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindCode:
		return "code"
	case KindFunction:
		return "function"
	case KindClosure:
		return "closure"
	case KindClass:
		return "class"
	case KindInstance:
		return "instance"
	case KindMap:
		return "map"
	case KindMapInit:
		return "map-init"
	case KindUpvalue:
		return "upvalue"
	case KindSyscall:
		return "syscall"
	case KindBox:
		return "box"
	default:
		return "unknown"
	}
}

// Object is the common header every heap entity carries, plus a Data
// field holding the variant-specific payload (one of the *Data structs
// below). Prev/Next form the intrusive list the collector walks to
// sweep; they are maintained exclusively by Heap.
type Object struct {
	Kind       Kind
	ID         uint64 // monotonic allocation id, for debugging/ordering
	Mark       Color
	Bytes      int    // footprint charged against the heap's size counter
	Index      uint32 // this object's slot in the owning Heap, for O(1) sweep-time Free
	Prev, Next *Object

	Data any
}

// Referencer is implemented by object payloads that directly own other
// values. Blacken uses it so the collector never needs a type switch
// over every variant.
type Referencer interface {
	References(yield func(value.Value))
}

// Blacken marks every value this object directly owns as grey, per
// the collector's "process the grey list" step (spec §4.7).
func (o *Object) Blacken(mark func(value.Value)) {
	if r, ok := o.Data.(Referencer); ok {
		r.References(mark)
	}
}

package object

import (
	"github.com/kristofer/dwt/internal/bytecode"
	"github.com/kristofer/dwt/internal/value"
)

// StringData is the payload of a string object: interned UTF-8 text
// plus its FNV-1a hash, computed once at intern time.
type StringData struct {
	Text string
	Hash uint64 // 64-bit FNV-1a; §4.1 allows a 32-bit build option, unused here
}

func (s *StringData) References(func(value.Value)) {}

// CodeData is the payload of a code object: the bytecode package's
// flat byte vector + offset-to-token map (spec §2.7), plus the
// constant pool the compiler filled in alongside it. Constants live
// here rather than in package bytecode because they are value.Value,
// and bytecode must not depend on value/object to stay a leaf package
// usable by the optimizer without pulling in the whole object model.
type CodeData struct {
	Code      *bytecode.Code
	Constants []value.Value
}

func (c *CodeData) References(func(value.Value)) {}

// LocalDescriptor is a local variable's compile-time-only metadata
// (spec §3 "Local variable descriptor").
type LocalDescriptor struct {
	Name     string
	Slot     int
	Captured bool
}

// UpvalueDescriptor is a function's compile-time-only description of
// one upvalue it captures (spec §3 "Upvalue descriptor").
type UpvalueDescriptor struct {
	Index    int  // slot in the enclosing frame, or index in enclosing upvalue table
	FromLocal bool // true: captures enclosing frame's local; false: forwards enclosing upvalue
}

// FunctionData is the payload shared by plain functions, classes and
// map-initializers (spec §3 table: "class ... function variant",
// "map-init ... function variant").
type FunctionData struct {
	Name      string
	Arity     int
	Code      *CodeData
	Locals    []LocalDescriptor
	Upvalues  []UpvalueDescriptor
	APIFields map[string]bool // names of every method declared in an obj body, `api` or not
}

func (f *FunctionData) References(yield func(value.Value)) {
	for _, c := range f.Code.Constants {
		yield(c)
	}
}

// ClosureData is a function object plus its resolved upvalue pointer
// vector (spec §3 "closure").
type ClosureData struct {
	Function value.Value // the underlying function object
	Upvalues []value.Value // each an Upvalue object
}

func (c *ClosureData) References(yield func(value.Value)) {
	yield(c.Function)
	for _, u := range c.Upvalues {
		yield(u)
	}
}

// ClassData reuses FunctionData as its "function variant" (spec §3).
// MethodTable is traced by References but nothing fills it: methods
// are installed into each instance's own field map at construction
// time instead (spec §4.2, §4.6).
type ClassData struct {
	FunctionData
	MethodTable map[string]value.Value // name -> closure/function
}

func (c *ClassData) References(yield func(value.Value)) {
	c.FunctionData.References(yield)
	for _, m := range c.MethodTable {
		yield(m)
	}
}

// FieldMap is the minimal interface the object package needs from the
// hash map implementation, so object does not import hashmap (hashmap
// hashes strings through an injected Hasher instead). instance/map
// payloads hold a FieldMap.
type FieldMap interface {
	Each(func(k, v value.Value))
	Get(k value.Value) (value.Value, bool)
	Set(k, v value.Value)
	Delete(k value.Value) bool
	Len() int
}

// InstanceData is an instance's field map plus its class pointer and
// optional super-instance pointer (spec §3 "instance").
type InstanceData struct {
	Fields FieldMap
	Class  value.Value // the class object
	Super  value.Value // nil, or the super-instance
}

func (i *InstanceData) References(yield func(value.Value)) {
	i.Fields.Each(func(k, v value.Value) {
		yield(k)
		yield(v)
	})
	yield(i.Class)
	if i.Super.IsObject() {
		yield(i.Super)
	}
}

// MapData is a bare user map (spec §3 "map").
type MapData struct {
	Fields FieldMap
}

func (m *MapData) References(yield func(value.Value)) {
	m.Fields.Each(func(k, v value.Value) {
		yield(k)
		yield(v)
	})
}

// HostFunc is a host-implemented callable injected through the FFI
// (spec §6 "bind"). It receives the argument span and returns a value
// or an error, which the VM surfaces as a runtime error tagged to the
// call site.
type HostFunc func(args []value.Value) (value.Value, error)

// SyscallData is a host callable plus its qualified name (spec §3
// "syscall").
type SyscallData struct {
	Name string
	Fn   HostFunc
}

func (s *SyscallData) References(func(value.Value)) {}

// BoxData is an opaque host pointer handed across the FFI boundary
// (spec §3 "box"). Finalizer, if set, runs when the collector sweeps
// the box (supplementing spec.md per original_source/box_obj.hpp; see
// SPEC_FULL.md §C).
type BoxData struct {
	Pointer   any
	Finalizer func()
}

func (b *BoxData) References(func(value.Value)) {}

// UpvalueData is either an open reference into a value-stack slot or a
// closed, owned value slot (spec §3 "upvalue"). Open upvalues are
// intrusively singly-linked by the VM in descending stack-slot order;
// Next is that link.
type UpvalueData struct {
	Closed bool
	Slot   int         // stack slot, meaningful only while Closed == false
	Value  value.Value // owned value, meaningful only once Closed == true
	Next   value.Value // next open upvalue in the VM's list, or nil
}

func (u *UpvalueData) References(yield func(value.Value)) {
	if u.Closed {
		yield(u.Value)
	}
	if u.Next.IsObject() {
		yield(u.Next)
	}
}

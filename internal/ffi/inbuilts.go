package ffi

import (
	"fmt"
	"time"

	"github.com/kristofer/dwt/internal/hashmap"
	"github.com/kristofer/dwt/internal/object"
	"github.com/kristofer/dwt/internal/value"
)

// version is the interpreter's own version banner, returned by the
// `ver` inbuilt and printed by the CLI's `version` subcommand.
const version = "dwt 0.5.0"

func (c *Context) registerInbuilts() {
	c.Bind("ver", c.builtinVer)
	c.Bind("dup", c.builtinDup)
	c.Bind("str", c.builtinStr)
	c.Bind("len", c.builtinLen)
	c.Bind("gc", c.builtinGC)
	c.Bind("sleep", c.builtinSleep)
}

// builtinVer returns the interpreter's version string (SPEC_FULL.md
// §C, grounded on original_source/inbuilt.cpp's `ver()`).
func (c *Context) builtinVer(args []value.Value) (value.Value, error) {
	return c.heap.Intern(version), nil
}

// builtinDup shallow-copies a map or instance's field map, grounded on
// inbuilt.cpp's `dup(v)` (SPEC_FULL.md §C): the copy gets a fresh
// FieldMap with the same key/value pairs, so mutating the copy never
// disturbs the original.
func (c *Context) builtinDup(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Nil, fmt.Errorf("dup expects 1 argument, got %d", len(args))
	}
	obj := c.heap.Resolve(args[0])
	if obj == nil {
		return value.Nil, fmt.Errorf("dup: not a map or instance")
	}
	switch d := obj.Data.(type) {
	case *object.MapData:
		cp := hashmap.New(c.heap)
		d.Fields.Each(func(k, v value.Value) { cp.Set(k, v) })
		return c.heap.NewMap(&object.MapData{Fields: cp}), nil
	case *object.InstanceData:
		cp := hashmap.New(c.heap)
		d.Fields.Each(func(k, v value.Value) { cp.Set(k, v) })
		return c.heap.NewInstance(&object.InstanceData{Fields: cp, Class: d.Class, Super: d.Super}), nil
	default:
		return value.Nil, fmt.Errorf("dup: not a map or instance")
	}
}

// builtinStr stringifies any value, grounded on inbuilt.cpp's
// `str(v)` (SPEC_FULL.md §C). It mirrors the VM's own PRINT rendering
// (internal/vm's stringify) but lives here rather than being imported
// from internal/vm, since an inbuilt is host-side FFI code, not VM
// dispatch — duplicating this small a routine keeps internal/vm from
// exporting internals just for one caller.
func (c *Context) builtinStr(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Nil, fmt.Errorf("str expects 1 argument, got %d", len(args))
	}
	return c.heap.Intern(c.stringify(args[0])), nil
}

func (c *Context) stringify(v value.Value) string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsBool():
		return fmt.Sprintf("%t", v.AsBool())
	case v.IsNumber():
		f := v.AsNumber()
		if f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%g", f)
	}
	obj := c.heap.Resolve(v)
	if obj == nil {
		return "<invalid>"
	}
	switch d := obj.Data.(type) {
	case *object.StringData:
		return d.Text
	case *object.FunctionData:
		return fmt.Sprintf("<function %s>", d.Name)
	case *object.ClassData:
		return fmt.Sprintf("<class %s>", d.Name)
	case *object.ClosureData:
		return c.stringify(d.Function)
	case *object.InstanceData:
		return fmt.Sprintf("<instance of %s>", c.stringify(d.Class))
	case *object.MapData:
		return "<map>"
	case *object.SyscallData:
		return fmt.Sprintf("<syscall %s>", d.Name)
	case *object.BoxData:
		return "<box>"
	default:
		return fmt.Sprintf("<%s>", obj.Kind.String())
	}
}

// builtinLen returns a field/char count, or errors for a value with no
// length concept (spec §7 "reading a length from something with no
// length concept"; grounded on inbuilt.cpp's `len(v)`).
func (c *Context) builtinLen(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Nil, fmt.Errorf("len expects 1 argument, got %d", len(args))
	}
	obj := c.heap.Resolve(args[0])
	if obj == nil {
		return value.Nil, fmt.Errorf("len: value has no length")
	}
	switch d := obj.Data.(type) {
	case *object.StringData:
		return value.Number(float64(len([]rune(d.Text)))), nil
	case *object.MapData:
		return value.Number(float64(d.Fields.Len())), nil
	case *object.InstanceData:
		return value.Number(float64(d.Fields.Len())), nil
	default:
		return value.Nil, fmt.Errorf("len: %s has no length concept", obj.Kind.String())
	}
}

// builtinGC forces an immediate collection, grounded on inbuilt.cpp's
// `gc()`.
func (c *Context) builtinGC(args []value.Value) (value.Value, error) {
	c.gc.Collect()
	return value.Nil, nil
}

// builtinSleep yields to the host scheduler for the given number of
// milliseconds, grounded on inbuilt.cpp's `sleep(ms)`.
func (c *Context) builtinSleep(args []value.Value) (value.Value, error) {
	if len(args) != 1 || !args[0].IsNumber() {
		return value.Nil, fmt.Errorf("sleep expects 1 numeric argument")
	}
	time.Sleep(time.Duration(args[0].AsNumber()) * time.Millisecond)
	return value.Nil, nil
}

// Package vm executes a compiled bytecode.Code function object (spec
// §4.4 "Virtual machine"). It mirrors the teacher's vm package shape
// — one VM struct, a New constructor, and a Run method driving a
// switch-dispatch fetch/execute loop over an explicit frame stack —
// generalized from smog's message-send dispatch to dwt's call
// protocol (plain function, closure, class/map-init construction,
// bare instance, syscall).
//
// Frames are never Go-recursive: every nested call pushes onto vm.frames
// and the dispatch loop keeps running against whichever frame is on
// top, so a deep but properly tail-recursive script never grows the
// host Go stack (spec §4.4 "Tail calls", §8 scenario 5).
package vm

import (
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/kristofer/dwt/internal/bytecode"
	"github.com/kristofer/dwt/internal/hashmap"
	"github.com/kristofer/dwt/internal/object"
	"github.com/kristofer/dwt/internal/value"
)

// maxFrames bounds the call-frame stack so runaway non-tail recursion
// fails with a diagnostic instead of exhausting host memory (spec §7
// "Resource exhaustion").
const maxFrames = 1 << 20

// Collector is the interface a tracing garbage collector satisfies so
// the VM can request a collection at a safepoint without importing
// internal/gc (which itself needs to read VM roots — see MarkRoots).
type Collector interface {
	Collect()
}

// frame is one call's activation record (spec §3 "Call frame"). Unlike
// the teacher's fixed `locals []interface{}` array, a dwt frame's
// locals live directly on the shared value stack at base+slot: the
// compiler already assigns LocalDescriptor.Slot to equal that offset
// (internal/compiler/builder.go's depth counter starts at 1, the
// callee's own slot), so there is nothing left for a separate locals
// array to do except duplicate the stack — a deliberate divergence
// from the teacher's design, recorded in DESIGN.md.
type frame struct {
	fn        *object.FunctionData
	closure   value.Value // the Closure object this frame was entered through, or Nil
	base      int         // stack index of the callee slot; locals start at base+1
	ip        int
	receiver  value.Value // the Instance/Map under construction; Nil outside construct frames
	construct int         // 0 = plain call, 1 = class constructor, 2 = map-init
}

// VM is one independent execution context over a shared heap (spec §5
// "Shared resources"): its own value stack, frame stack and open
// upvalue list, but the object heap (and therefore globals, since
// global slots are just heap-independent indices the compiler hands
// out) is whatever the embedder wired in.
type VM struct {
	heap    *object.Heap
	strict  bool
	stack   []value.Value
	frames  []*frame
	globals []value.Value
	names   []string // parallel to globals, for diagnostics and embedder lookups

	openUpvalues value.Value // head of the intrusive open-upvalue list, or Nil

	stdout io.Writer
	gc     Collector
}

// Options configures a VM (spec §4.4, §6 "-strict/-single/-double").
type Options struct {
	Strict bool
	Stdout io.Writer
}

// New creates a VM over heap, seeded with the compiler's resolved
// global table (spec §4.2 "Globals", §6 "bind"): globalNames and
// globalValues are parallel slices, index i giving slot i's qualified
// name and its initial value (value.Nil for a slot a script-level
// declaration fills in during its own top-level run).
func New(heap *object.Heap, globalNames []string, globalValues []value.Value, opts Options) *VM {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	globals := make([]value.Value, len(globalValues))
	copy(globals, globalValues)
	return &VM{
		heap:         heap,
		strict:       opts.Strict,
		globals:      globals,
		names:        globalNames,
		openUpvalues: value.Nil,
		stdout:       out,
	}
}

// SetCollector wires a tracing collector in, polled at every safepoint
// (LOOP back-edge, CALL, TAILCALL — spec §4.4 "Safepoints"). A VM with
// no collector set never collects; heap.CollectPending simply stays
// true, which is only acceptable for short-lived embeddings (tests,
// one-shot scripts) that exit before memory pressure matters.
func (vm *VM) SetCollector(c Collector) { vm.gc = c }

// Heap returns the VM's backing object heap, for the embedder API and
// the collector's mark phase.
func (vm *VM) Heap() *object.Heap { return vm.heap }

// GlobalIndex returns the slot index bound to a qualified global name,
// for the embedder's find (spec §6 "find").
func (vm *VM) GlobalIndex(name string) (int, bool) {
	for i, n := range vm.names {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// Global reads a global slot directly, for find/call.
func (vm *VM) Global(idx int) value.Value { return vm.globals[idx] }

// SetGlobal writes a global slot directly, for bind.
func (vm *VM) SetGlobal(idx int, v value.Value) { vm.globals[idx] = v }

// push/pop/peek are the stack primitives every opcode handler below
// builds on, mirroring the teacher's own push/pop helper pattern.
func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() value.Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek() value.Value { return vm.stack[len(vm.stack)-1] }

func (vm *VM) resolve(v value.Value) *object.Object {
	if !v.IsObject() {
		return nil
	}
	return vm.heap.Resolve(v)
}

// Invoke runs callee(args...) to completion and returns its result
// (spec §6 "call"): the embedder's own entry point, and also how
// Run's top-level script function is launched.
func (vm *VM) Invoke(callee value.Value, args []value.Value) (value.Value, error) {
	base := len(vm.stack)
	vm.push(callee)
	vm.stack = append(vm.stack, args...)
	framesBefore := len(vm.frames)

	if err := vm.doCall(base, len(args), false); err != nil {
		vm.stack = vm.stack[:base]
		return value.Nil, err
	}
	if len(vm.frames) > framesBefore {
		if err := vm.run(framesBefore); err != nil {
			return value.Nil, err
		}
	}
	result := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:base]
	return result, nil
}

// Run compiles-and-runs nothing itself; it invokes fn (the script
// function CompileProgram returned, wrapped in a closure if it
// captured anything — top-level programs never do) with zero
// arguments, the outermost call spec §4.4 describes.
func (vm *VM) Run(fn value.Value) (value.Value, error) {
	return vm.Invoke(fn, nil)
}

// run drives the fetch/execute loop until the frame stack unwinds
// back down to stopAt frames, i.e. until the frame Invoke pushed (and
// everything it transitively called) has returned.
func (vm *VM) run(stopAt int) error {
	for {
		if len(vm.frames) <= stopAt {
			return nil
		}
		f := vm.frames[len(vm.frames)-1]
		code := f.fn.Code.Code.Bytes
		if f.ip >= len(code) {
			return vm.runtimeErrorf("fell off the end of %s's code", f.fn.Name)
		}
		op := bytecode.Op(code[f.ip])

		switch op {
		case bytecode.NIL:
			vm.push(value.Nil)
			f.ip++
		case bytecode.TRUE:
			vm.push(value.True)
			f.ip++
		case bytecode.FALSE:
			vm.push(value.False)
			f.ip++
		case bytecode.ZERO:
			vm.push(value.Number(0))
			f.ip++
		case bytecode.ONE:
			vm.push(value.Number(1))
			f.ip++
		case bytecode.TWO:
			vm.push(value.Number(2))
			f.ip++
		case bytecode.CONST:
			idx := bytecode.ReadU16(code, f.ip+1)
			vm.push(f.fn.Code.Constants[idx])
			f.ip += 3

		case bytecode.GET:
			slot := bytecode.ReadU16(code, f.ip+1)
			vm.push(vm.stack[f.base+slot])
			f.ip += 3
		case bytecode.SET:
			slot := bytecode.ReadU16(code, f.ip+1)
			vm.stack[f.base+slot] = vm.peek()
			f.ip += 3
		case bytecode.POP:
			vm.pop()
			f.ip++
		case bytecode.POPN:
			n := int(code[f.ip+1])
			vm.stack = vm.stack[:len(vm.stack)-n]
			f.ip += 2
		case bytecode.CLOSE:
			vm.closeUpvalues(len(vm.stack) - 1)
			vm.pop()
			f.ip++

		case bytecode.UPVGET:
			idx := bytecode.ReadU16(code, f.ip+1)
			cl, err := vm.closureOf(f)
			if err != nil {
				return err
			}
			vm.push(vm.upvalueGet(cl.Upvalues[idx]))
			f.ip += 3
		case bytecode.UPVSET:
			idx := bytecode.ReadU16(code, f.ip+1)
			cl, err := vm.closureOf(f)
			if err != nil {
				return err
			}
			vm.upvalueSet(cl.Upvalues[idx], vm.peek())
			f.ip += 3

		case bytecode.GLOBAL:
			idx := bytecode.ReadU16(code, f.ip+1)
			vm.push(vm.globals[idx])
			f.ip += 3
		case bytecode.STORE:
			idx := bytecode.ReadU16(code, f.ip+1)
			vm.globals[idx] = vm.peek()
			f.ip += 3

		case bytecode.BRA:
			dist := bytecode.ReadU16(code, f.ip+1)
			f.ip = f.ip + 3 + dist
		case bytecode.BRZ:
			dist := bytecode.ReadU16(code, f.ip+1)
			cond := vm.pop()
			if !cond.Truthy() {
				f.ip = f.ip + 3 + dist
			} else {
				f.ip += 3
			}
		case bytecode.BNZ:
			dist := bytecode.ReadU16(code, f.ip+1)
			cond := vm.pop()
			if cond.Truthy() {
				f.ip = f.ip + 3 + dist
			} else {
				f.ip += 3
			}
		case bytecode.LOOP:
			dist := bytecode.ReadU16(code, f.ip+1)
			vm.pollSafepoint()
			f.ip = f.ip + 3 - dist

		case bytecode.CALL:
			n := int(code[f.ip+1])
			f.ip += 2
			vm.pollSafepoint()
			base := len(vm.stack) - n - 1
			if err := vm.doCall(base, n, false); err != nil {
				return err
			}
		case bytecode.TAILCALL:
			n := int(code[f.ip+1])
			f.ip += 2
			vm.pollSafepoint()
			base := len(vm.stack) - n - 1
			if err := vm.doCall(base, n, true); err != nil {
				return err
			}
		case bytecode.RET:
			retval := vm.pop()
			if f.construct == 1 && len(f.fn.APIFields) > 0 {
				vm.installMethods(f)
			}
			vm.closeUpvalues(f.base)
			vm.stack = vm.stack[:f.base]
			vm.push(retval)
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) <= stopAt {
				return nil
			}

		case bytecode.CLOSURE:
			idx := bytecode.ReadU16(code, f.ip+1)
			fnVal := f.fn.Code.Constants[idx]
			f.ip += 3
			cl, err := vm.makeClosure(f, fnVal)
			if err != nil {
				return err
			}
			vm.push(cl)

		case bytecode.MAP:
			vm.push(f.receiver)
			f.ip++
		case bytecode.PAIR:
			v := vm.pop()
			k := vm.pop()
			if err := vm.pairInsert(f, k, v); err != nil {
				return err
			}
			f.ip++
		case bytecode.SUPER:
			sup := vm.pop()
			if err := vm.setSuper(f, sup); err != nil {
				return err
			}
			f.ip++

		case bytecode.MBRGET:
			idx := bytecode.ReadU16(code, f.ip+1)
			name := f.fn.Code.Constants[idx]
			recv := vm.pop()
			v, err := vm.memberGet(recv, name)
			if err != nil {
				return err
			}
			vm.push(v)
			f.ip += 3
		case bytecode.MBRSET:
			idx := bytecode.ReadU16(code, f.ip+1)
			name := f.fn.Code.Constants[idx]
			val := vm.pop()
			recv := vm.pop()
			if err := vm.memberSet(recv, name, val); err != nil {
				return err
			}
			vm.push(val)
			f.ip += 3
		case bytecode.KEYGET:
			key := vm.pop()
			recv := vm.pop()
			v, err := vm.memberGet(recv, key)
			if err != nil {
				return err
			}
			vm.push(v)
			f.ip++
		case bytecode.KEYSET:
			val := vm.pop()
			key := vm.pop()
			recv := vm.pop()
			if err := vm.memberSet(recv, key, val); err != nil {
				return err
			}
			vm.push(val)
			f.ip++

		case bytecode.ADD:
			if err := vm.arith(func(a, b float64) float64 { return a + b }); err != nil {
				return err
			}
			f.ip++
		case bytecode.SUB:
			if err := vm.arith(func(a, b float64) float64 { return a - b }); err != nil {
				return err
			}
			f.ip++
		case bytecode.MUL:
			if err := vm.arith(func(a, b float64) float64 { return a * b }); err != nil {
				return err
			}
			f.ip++
		case bytecode.DIV:
			if err := vm.arith(func(a, b float64) float64 { return a / b }); err != nil {
				return err
			}
			f.ip++
		case bytecode.NEG:
			v := vm.peek()
			if !v.IsNumber() {
				return vm.runtimeErrorf("cannot negate a %s", vm.describe(v))
			}
			vm.stack[len(vm.stack)-1] = value.Number(-v.AsNumber())
			f.ip++
		case bytecode.INC:
			v := vm.peek()
			if !v.IsNumber() {
				return vm.runtimeErrorf("cannot increment a %s", vm.describe(v))
			}
			vm.stack[len(vm.stack)-1] = value.Number(v.AsNumber() + 1)
			f.ip++
		case bytecode.DEC:
			v := vm.peek()
			if !v.IsNumber() {
				return vm.runtimeErrorf("cannot decrement a %s", vm.describe(v))
			}
			vm.stack[len(vm.stack)-1] = value.Number(v.AsNumber() - 1)
			f.ip++

		case bytecode.LT:
			if err := vm.compare(func(a, b float64) bool { return a < b }); err != nil {
				return err
			}
			f.ip++
		case bytecode.LTEQ:
			if err := vm.compare(func(a, b float64) bool { return a <= b }); err != nil {
				return err
			}
			f.ip++
		case bytecode.GT:
			if err := vm.compare(func(a, b float64) bool { return a > b }); err != nil {
				return err
			}
			f.ip++
		case bytecode.GTEQ:
			if err := vm.compare(func(a, b float64) bool { return a >= b }); err != nil {
				return err
			}
			f.ip++
		case bytecode.EQ:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b, vm.strict)))
			f.ip++
		case bytecode.NEQ:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(!value.Equal(a, b, vm.strict)))
			f.ip++
		case bytecode.IS:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(a.RawBits() == b.RawBits()))
			f.ip++
		case bytecode.AND:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(a.Truthy() && b.Truthy()))
			f.ip++
		case bytecode.OR:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(a.Truthy() || b.Truthy()))
			f.ip++
		case bytecode.XOR:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(a.Truthy() != b.Truthy()))
			f.ip++

		case bytecode.PRINT:
			v := vm.pop()
			fmt.Fprintln(vm.stdout, vm.stringify(v))
			f.ip++

		case bytecode.SKIP:
			return vm.runtimeErrorf("internal error: SKIP placeholder reached at runtime")
		default:
			return vm.runtimeErrorf("internal error: unknown opcode %d", op)
		}
	}
}

// MarkRoots yields every value.Value this VM can reach directly (spec
// §4.7 step 1 "mark each VM's value stack, call-frame stack ...,
// and open-upvalue list"). A function or closure object is always
// findable through vm.stack[frame.base] — the call protocol (spec
// §4.4) never overwrites the callee's own slot for the lifetime of
// its frame — so the stack walk alone covers "functions, closures,
// maps" for every frame already reachable through it; the one value
// a frame holds that is *not* necessarily mirrored on the stack is
// its under-construction receiver, marked explicitly below.
func (vm *VM) MarkRoots(mark func(value.Value)) {
	for _, v := range vm.stack {
		mark(v)
	}
	for _, v := range vm.globals {
		mark(v)
	}
	mark(vm.openUpvalues)
	for _, f := range vm.frames {
		mark(f.receiver)
		mark(f.closure)
	}
}

func (vm *VM) pollSafepoint() {
	if vm.heap.CollectPending && vm.gc != nil {
		vm.gc.Collect()
	}
}

func (vm *VM) closureOf(f *frame) (*object.ClosureData, error) {
	if !f.closure.IsObject() {
		return nil, vm.runtimeErrorf("upvalue access with no enclosing closure")
	}
	obj := vm.resolve(f.closure)
	cl, ok := obj.Data.(*object.ClosureData)
	if !ok {
		return nil, vm.runtimeErrorf("upvalue access with no enclosing closure")
	}
	return cl, nil
}

func (vm *VM) arith(op func(a, b float64) float64) error {
	b := vm.pop()
	a := vm.pop()
	if !a.IsNumber() || !b.IsNumber() {
		return vm.runtimeErrorf("invalid operands for arithmetic: %s, %s", vm.describe(a), vm.describe(b))
	}
	vm.push(value.Number(op(a.AsNumber(), b.AsNumber())))
	return nil
}

func (vm *VM) compare(op func(a, b float64) bool) error {
	b := vm.pop()
	a := vm.pop()
	if !a.IsNumber() || !b.IsNumber() {
		return vm.runtimeErrorf("invalid operands for comparison: %s, %s", vm.describe(a), vm.describe(b))
	}
	vm.push(value.Bool(op(a.AsNumber(), b.AsNumber())))
	return nil
}

// describe names a value's kind for diagnostics, resolving object
// values to their specific Kind rather than the generic "object".
func (vm *VM) describe(v value.Value) string {
	if obj := vm.resolve(v); obj != nil {
		return obj.Kind.String()
	}
	return v.KindString()
}

// stringify renders v the way PRINT displays it (spec §4.4 "Print").
func (vm *VM) stringify(v value.Value) string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsBool():
		return fmt.Sprintf("%t", v.AsBool())
	case v.IsNumber():
		return formatNumber(v.AsNumber())
	}
	obj := vm.resolve(v)
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
		return vm.stringify(d.Function)
	case *object.InstanceData:
		return fmt.Sprintf("<instance of %s>", vm.stringify(d.Class))
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

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// --- call protocol (spec §4.4 "Calling convention") ---

// doCall classifies the callee sitting at vm.stack[base] and either
// pushes a new frame (function/closure/class/map-init), slides the
// current frame's locals down and reuses it (isTail, self-recursive
// CALL elided to TAILCALL by the optimizer), finishes the call inline
// with no frame at all (syscall), or reports a runtime error (bare
// instance).
func (vm *VM) doCall(base, nargs int, isTail bool) error {
	calleeVal := vm.stack[base]
	obj := vm.resolve(calleeVal)
	if obj == nil {
		return vm.runtimeErrorf("value is not callable: %s", calleeVal.KindString())
	}

	switch obj.Kind {
	case object.KindInstance:
		// Calling a bare instance is a diagnostic, not a dispatch: the
		// language has no __call__-style protocol, so a silent no-op
		// here would only hide a caller's mistake (methods go through
		// MBRGET).
		name := "an instance"
		inst := obj.Data.(*object.InstanceData)
		if cls := vm.resolve(inst.Class); cls != nil {
			if cd, ok := cls.Data.(*object.ClassData); ok {
				name = "an instance of " + cd.Name
			}
		}
		return vm.runtimeErrorf("value is not callable: %s", name)
	case object.KindSyscall:
		return vm.callSyscall(obj, base, nargs)
	}

	fd, construct, closureVal, classVal, err := vm.functionOf(calleeVal)
	if err != nil {
		return err
	}

	if isTail {
		if cur := vm.frames[len(vm.frames)-1]; cur.fn == fd {
			vm.reuseFrame(cur, base, nargs)
			return nil
		}
		// Not a self-recursive tail call after all: fall back to an
		// ordinary CALL push.
	}
	return vm.pushFrame(fd, construct, closureVal, classVal, base, nargs)
}

// functionOf unwraps v down to its underlying FunctionData, reporting
// how to construct its receiver (0 none, 1 instance, 2 map) and, if v
// is a Closure, the closure value upvalue lookups should read through.
// classVal is the innermost Class/MapInit object itself (unwrapped
// from any enclosing Closure), used as InstanceData.Class.
func (vm *VM) functionOf(v value.Value) (fd *object.FunctionData, construct int, closureVal, classVal value.Value, err error) {
	obj := vm.resolve(v)
	if obj == nil {
		return nil, 0, value.Nil, value.Nil, vm.runtimeErrorf("value is not callable")
	}
	switch obj.Kind {
	case object.KindFunction:
		return obj.Data.(*object.FunctionData), 0, value.Nil, v, nil
	case object.KindClass:
		return &obj.Data.(*object.ClassData).FunctionData, 1, value.Nil, v, nil
	case object.KindMapInit:
		return obj.Data.(*object.FunctionData), 2, value.Nil, v, nil
	case object.KindClosure:
		d := obj.Data.(*object.ClosureData)
		fd, construct, _, classVal, err = vm.functionOf(d.Function)
		return fd, construct, v, classVal, err
	default:
		return nil, 0, value.Nil, value.Nil, vm.runtimeErrorf("value is not callable: a %s", obj.Kind.String())
	}
}

func (vm *VM) callSyscall(obj *object.Object, base, nargs int) error {
	sd := obj.Data.(*object.SyscallData)
	args := append([]value.Value(nil), vm.stack[base+1:base+1+nargs]...)
	res, err := sd.Fn(args)
	if err != nil {
		return vm.runtimeErrorFromCause(pkgerrors.Wrapf(err, "host function %q", sd.Name))
	}
	vm.stack = vm.stack[:base]
	vm.push(res)
	return nil
}

// pushFrame pads or truncates the argument span to fd's arity, builds
// a fresh receiver for a construct frame, and pushes the new frame
// (spec §4.4 "arity mismatch: missing arguments default to nil, extra
// arguments are discarded").
func (vm *VM) pushFrame(fd *object.FunctionData, construct int, closureVal, classVal value.Value, base, nargs int) error {
	if nargs < fd.Arity {
		for i := 0; i < fd.Arity-nargs; i++ {
			vm.push(value.Nil)
		}
	} else if nargs > fd.Arity {
		vm.stack = vm.stack[:len(vm.stack)-(nargs-fd.Arity)]
	}

	receiver := value.Nil
	switch construct {
	case 1:
		receiver = vm.heap.NewInstance(&object.InstanceData{Fields: hashmap.New(vm.heap), Class: classVal, Super: value.Nil})
	case 2:
		receiver = vm.heap.NewMap(&object.MapData{Fields: hashmap.New(vm.heap)})
	}

	if len(vm.frames) >= maxFrames {
		return vm.runtimeErrorf("call stack overflow")
	}
	vm.frames = append(vm.frames, &frame{fn: fd, closure: closureVal, base: base, receiver: receiver, construct: construct})
	return nil
}

// reuseFrame implements the self-tail-call elision the optimizer's
// TAILCALL pass relies on (spec §4.3 pass 3, §4.4 "Tail calls"):
// rather than pushing a new frame, slide the new argument span down
// onto the current frame's base and reset its instruction pointer,
// so indefinite tail recursion runs in constant frame-stack space.
func (vm *VM) reuseFrame(cur *frame, base, nargs int) {
	args := append([]value.Value(nil), vm.stack[base+1:base+1+nargs]...)
	if len(args) < cur.fn.Arity {
		for len(args) < cur.fn.Arity {
			args = append(args, value.Nil)
		}
	} else if len(args) > cur.fn.Arity {
		args = args[:cur.fn.Arity]
	}
	vm.closeUpvalues(cur.base + 1)
	vm.stack = vm.stack[:cur.base+1]
	vm.stack = append(vm.stack, args...)
	cur.ip = 0
}

// installMethods copies every method local's (every APIFields name's)
// current value into
// the freshly constructed instance's field map, keyed by its interned
// name so MBRGET's compile-time-interned constant hits the identical
// key (spec §4.6 "Instance construction"). It runs just before RET
// discards the constructor frame's local window, so the values must be
// read now.
func (vm *VM) installMethods(f *frame) {
	obj := vm.resolve(f.receiver)
	if obj == nil {
		return
	}
	inst, ok := obj.Data.(*object.InstanceData)
	if !ok {
		return
	}
	for _, ld := range f.fn.Locals {
		if !f.fn.APIFields[ld.Name] {
			continue
		}
		v := vm.stack[f.base+ld.Slot]
		inst.Fields.Set(vm.heap.Intern(ld.Name), v)
	}
}

// --- upvalues (spec §4.4 "Upvalue capture", §9 "Open upvalues") ---

func (vm *VM) makeClosure(f *frame, fnVal value.Value) (value.Value, error) {
	obj := vm.resolve(fnVal)
	if obj == nil {
		return value.Nil, vm.runtimeErrorf("CLOSURE on a non-function constant")
	}
	var fd *object.FunctionData
	switch obj.Kind {
	case object.KindFunction, object.KindMapInit:
		fd = obj.Data.(*object.FunctionData)
	case object.KindClass:
		fd = &obj.Data.(*object.ClassData).FunctionData
	default:
		return value.Nil, vm.runtimeErrorf("CLOSURE on a non-function constant")
	}

	ups := make([]value.Value, len(fd.Upvalues))
	for i, desc := range fd.Upvalues {
		if desc.FromLocal {
			ups[i] = vm.captureUpvalue(f.base + desc.Index)
		} else {
			cl, err := vm.closureOf(f)
			if err != nil {
				return value.Nil, err
			}
			ups[i] = cl.Upvalues[desc.Index]
		}
	}
	return vm.heap.NewClosure(&object.ClosureData{Function: fnVal, Upvalues: ups}), nil
}

// captureUpvalue finds or creates the open upvalue aliasing slot,
// keeping vm.openUpvalues sorted by descending slot so closeUpvalues
// can stop at the first slot below its threshold.
func (vm *VM) captureUpvalue(slot int) value.Value {
	var prev value.Value
	cur := vm.openUpvalues
	for cur.IsObject() {
		obj := vm.resolve(cur)
		ud := obj.Data.(*object.UpvalueData)
		if ud.Slot == slot {
			return cur
		}
		if ud.Slot < slot {
			break
		}
		prev = cur
		cur = ud.Next
	}
	created := vm.heap.NewUpvalue(&object.UpvalueData{Slot: slot, Next: cur})
	if !prev.IsObject() {
		vm.openUpvalues = created
	} else {
		vm.resolve(prev).Data.(*object.UpvalueData).Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above minSlot, copying
// its stack value into the upvalue's own storage before that stack
// slot is discarded or reused (spec §4.4 "CLOSE", "RET").
func (vm *VM) closeUpvalues(minSlot int) {
	cur := vm.openUpvalues
	for cur.IsObject() {
		obj := vm.resolve(cur)
		ud := obj.Data.(*object.UpvalueData)
		if ud.Slot < minSlot {
			break
		}
		ud.Value = vm.stack[ud.Slot]
		ud.Closed = true
		next := ud.Next
		ud.Next = value.Nil
		cur = next
	}
	vm.openUpvalues = cur
}

func (vm *VM) upvalueGet(v value.Value) value.Value {
	ud := vm.resolve(v).Data.(*object.UpvalueData)
	if ud.Closed {
		return ud.Value
	}
	return vm.stack[ud.Slot]
}

func (vm *VM) upvalueSet(v, newVal value.Value) {
	ud := vm.resolve(v).Data.(*object.UpvalueData)
	if ud.Closed {
		ud.Value = newVal
	} else {
		vm.stack[ud.Slot] = newVal
	}
}

// --- construction and member access (spec §4.6 "Object model") ---

func (vm *VM) fieldsOf(v value.Value) (object.FieldMap, error) {
	obj := vm.resolve(v)
	if obj == nil {
		return nil, vm.runtimeErrorf("not a map or instance: %s", v.KindString())
	}
	switch d := obj.Data.(type) {
	case *object.MapData:
		return d.Fields, nil
	case *object.InstanceData:
		return d.Fields, nil
	default:
		return nil, vm.runtimeErrorf("not a map or instance: a %s", obj.Kind.String())
	}
}

func (vm *VM) pairInsert(f *frame, k, v value.Value) error {
	fields, err := vm.fieldsOf(f.receiver)
	if err != nil {
		return err
	}
	fields.Set(k, v)
	return nil
}

func (vm *VM) setSuper(f *frame, sup value.Value) error {
	obj := vm.resolve(f.receiver)
	if obj == nil {
		return vm.runtimeErrorf("':Super' with no receiver")
	}
	inst, ok := obj.Data.(*object.InstanceData)
	if !ok {
		return vm.runtimeErrorf("':Super' outside a class constructor")
	}
	if vm.resolve(sup) == nil || vm.resolve(sup).Kind != object.KindInstance {
		return vm.runtimeErrorf("':Super' call did not return an instance")
	}
	inst.Super = sup
	return nil
}

// memberGet implements `.name`/`[key]` read (spec §4.6): maps look up
// directly; instances walk the super chain until a defining instance
// is found, returning nil if the key is nowhere in the chain.
func (vm *VM) memberGet(recv, key value.Value) (value.Value, error) {
	obj := vm.resolve(recv)
	if obj == nil {
		return value.Nil, vm.runtimeErrorf("member access on a %s", recv.KindString())
	}
	switch d := obj.Data.(type) {
	case *object.MapData:
		v, _ := d.Fields.Get(key)
		return v, nil
	case *object.InstanceData:
		cur := d
		for {
			if v, ok := cur.Fields.Get(key); ok {
				return v, nil
			}
			if !cur.Super.IsObject() {
				return value.Nil, nil
			}
			next := vm.resolve(cur.Super)
			nd, ok := next.Data.(*object.InstanceData)
			if !ok {
				return value.Nil, nil
			}
			cur = nd
		}
	default:
		return value.Nil, vm.runtimeErrorf("member access on a %s", obj.Kind.String())
	}
}

// memberSet implements `.name :=`/`[key] :=` (spec §4.6): a map always
// writes to its own field table; an instance writes to whichever
// instance in its super chain already owns the key, or to itself if
// the key is new.
func (vm *VM) memberSet(recv, key, val value.Value) error {
	obj := vm.resolve(recv)
	if obj == nil {
		return vm.runtimeErrorf("member access on a %s", recv.KindString())
	}
	switch d := obj.Data.(type) {
	case *object.MapData:
		d.Fields.Set(key, val)
		return nil
	case *object.InstanceData:
		owner := d
		for {
			if _, ok := owner.Fields.Get(key); ok {
				owner.Fields.Set(key, val)
				return nil
			}
			if !owner.Super.IsObject() {
				break
			}
			next := vm.resolve(owner.Super)
			nd, ok := next.Data.(*object.InstanceData)
			if !ok {
				break
			}
			owner = nd
		}
		d.Fields.Set(key, val)
		return nil
	default:
		return vm.runtimeErrorf("member access on a %s", obj.Kind.String())
	}
}

// --- errors ---

func (vm *VM) captureStack() []StackFrame {
	trace := make([]StackFrame, len(vm.frames))
	for i, f := range vm.frames {
		tok, _ := f.fn.Code.Code.TokenAt(f.ip)
		kind := FramePlain
		switch {
		case f.construct == 1:
			kind = FrameConstructor
		case f.construct == 2:
			kind = FrameMapInit
		case f.closure.IsObject():
			kind = FrameClosure
		}
		trace[i] = StackFrame{Kind: kind, Name: f.fn.Name, IP: f.ip, SourceLine: tok.Line, SourceCol: tok.Column}
	}
	return trace
}

func (vm *VM) runtimeErrorf(format string, args ...any) error {
	return newRuntimeError(fmt.Sprintf(format, args...), vm.captureStack())
}

func (vm *VM) runtimeErrorFromCause(cause error) error {
	e := newRuntimeError(cause.Error(), vm.captureStack())
	e.cause = cause
	return e
}

// Package vm - runtime error surfacing (spec §4.4 "Error handling at
// the VM level", §7 "Runtime interpret errors").
package vm

import (
	"fmt"
	"strings"
)

// FrameKind names what a call frame was executing when an error was
// raised, matching the VM's own call protocol: a plain function, a
// closure entered through its captured environment, a class
// constructor building an instance, or a map literal's initializer.
type FrameKind string

const (
	FramePlain       FrameKind = "fun"
	FrameClosure     FrameKind = "closure"
	FrameConstructor FrameKind = "obj"
	FrameMapInit     FrameKind = "map literal"
)

// StackFrame captures one call frame's identity at the moment a
// runtime error is raised: its kind per the call protocol above, its
// name, and the source position resolved from the code object's
// offset→token map (spec §2.7, §7).
type StackFrame struct {
	Kind       FrameKind
	Name       string
	IP         int // byte offset within the frame's code
	SourceLine int // 0 if the offset had no bound token
	SourceCol  int
}

// describe renders one frame the way internal/diag renders a
// related-note location: what it is, where it is in the source, and
// the bytecode offset for cross-reference against a disassembly.
func (f StackFrame) describe() string {
	name := f.Name
	if name == "" {
		name = "(anonymous)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", f.Kind, name)
	if f.SourceLine > 0 {
		fmt.Fprintf(&b, " at %d:%d", f.SourceLine, f.SourceCol)
	}
	fmt.Fprintf(&b, " (byte %d)", f.IP)
	return b.String()
}

// RuntimeError is what CALL/operation-site failures surface to the
// embedder (spec §7 "the VM resolves the site's token ... and emits a
// diagnostic"). Cause, when set, is the underlying error a host
// syscall returned (spec §7 "Host errors: any exception thrown by a
// syscall propagates"); it stays inspectable through errors.Cause
// since the VM wraps it with github.com/pkg/errors rather than
// discarding it.
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
	cause      error
}

// Cause implements the interface github.com/pkg/errors.Cause looks
// for. Unwrap does the same for the standard library's errors.Is/As.
func (e *RuntimeError) Cause() error  { return e.cause }
func (e *RuntimeError) Unwrap() error { return e.cause }

// Error renders the message followed by one note per frame, in the
// same chained style internal/diag uses for its "$1 defined here"
// related notes: the first note is the frame the error was raised in,
// each further note walks one call outward toward the script's entry
// point.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for i := len(e.StackTrace) - 1; i >= 0; i-- {
		if i == len(e.StackTrace)-1 {
			b.WriteString("\n  raised in ")
		} else {
			b.WriteString("\n  called from ")
		}
		b.WriteString(e.StackTrace[i].describe())
	}
	return b.String()
}

func newRuntimeError(message string, stack []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, StackTrace: stack}
}

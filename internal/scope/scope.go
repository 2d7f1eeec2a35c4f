// Package scope implements the lexical scope tree built while parsing
// and consulted by the compiler to resolve every identifier to a
// global index, a local slot, or an upvalue (spec §2.6, §3 "Lexical
// scope node").
package scope

import "fmt"

// Kind distinguishes the declaring form of a scope, since globals get
// a reserved table index and anonymous scopes (blocks, loop bodies)
// get synthesized names instead of a user-supplied one.
type Kind uint8

const (
	KindGlobal Kind = iota
	KindFunction
	KindBlock
	KindAnonymous
)

// Ident is one name bound directly in a Scope.
type Ident struct {
	Name        string
	Token       Token
	GlobalIndex int // meaningful only when the owning scope is global
}

// Token is the minimal source-location information a scope needs to
// carry for redefinition diagnostics; the real token type lives with
// the external lexer (spec §6), so this is a narrow local copy of
// just the fields the compiler's diagnostics print.
type Token struct {
	Line, Column int
	Text         string
}

// Scope is one node of the lexical scope tree.
type Scope struct {
	Parent   *Scope
	Children []*Scope
	Kind     Kind

	id uint64

	idents map[string]*Ident
	order  []string // insertion order, for deterministic iteration

	declaringToken Token
	anonCounter    int
}

var nextID uint64

// NewRoot creates the top-level global scope.
func NewRoot() *Scope {
	nextID++
	return &Scope{Kind: KindGlobal, id: nextID, idents: make(map[string]*Ident)}
}

// NewChild creates a child scope of the given kind under s. Anonymous
// scopes (blocks with no user-facing name, e.g. loop bodies, if
// branches) are assigned a synthetic name so every identifier,
// post-qualification, is still a distinct string (spec §3 invariant).
func (s *Scope) NewChild(kind Kind, declaringToken Token) *Scope {
	nextID++
	if declaringToken.Text == "" {
		declaringToken.Text = s.AnonymousName()
	}
	child := &Scope{Parent: s, Kind: kind, id: nextID, idents: make(map[string]*Ident), declaringToken: declaringToken}
	s.Children = append(s.Children, child)
	return child
}

// AnonymousName synthesizes a unique name for an anonymous child scope
// (e.g. "$anon3"), guaranteeing distinct fully-qualified paths for
// scopes that have no source-level name.
func (s *Scope) AnonymousName() string {
	s.anonCounter++
	return fmt.Sprintf("$anon%d", s.anonCounter)
}

// IsGlobal reports whether s is the root global scope.
func (s *Scope) IsGlobal() bool { return s.Kind == KindGlobal }

// ID returns s's stable identity, used as a tie-breaker in diagnostics
// and by the compiler to detect "this is the same scope" without
// relying on pointer comparisons leaking into error messages.
func (s *Scope) ID() uint64 { return s.id }

// Declare binds name in s. It returns an error if name is already
// bound in this *exact* scope (spec §7 "redefinition of a
// scope-exclusive identifier"); shadowing a name from an enclosing
// scope is allowed and is ordinary lexical scoping.
func (s *Scope) Declare(name string, tok Token) (*Ident, error) {
	if _, exists := s.idents[name]; exists {
		return nil, fmt.Errorf("redefinition of %q in this scope", name)
	}
	id := &Ident{Name: name, Token: tok}
	if s.IsGlobal() {
		id.GlobalIndex = -1 // assigned by the caller via SetGlobalIndex
	}
	s.idents[name] = id
	s.order = append(s.order, name)
	return id, nil
}

// SetGlobalIndex records the global table slot allocated to a
// root-scope identifier.
func (id *Ident) SetGlobalIndex(i int) { id.GlobalIndex = i }

// Lookup walks s and its ancestors for name, returning the identifier
// and the scope that owns it. It returns (nil, nil) if name is bound
// nowhere in the chain — an unresolved reference, which the compiler
// turns into a "unknown identifier" diagnostic (spec §4.2 "Failure").
func (s *Scope) Lookup(name string) (*Ident, *Scope) {
	for cur := s; cur != nil; cur = cur.Parent {
		if id, ok := cur.idents[name]; ok {
			return id, cur
		}
	}
	return nil, nil
}

// LocalLookup reports whether name is bound directly in s, without
// walking to ancestors — used by the compiler to decide "is this a
// local of the function currently being compiled" versus something
// that must become an upvalue.
func (s *Scope) LocalLookup(name string) (*Ident, bool) {
	id, ok := s.idents[name]
	return id, ok
}

// Qualify returns name prefixed by every enclosing named scope's own
// name joined with "::", matching the source language's `::`
// qualified-path convention (spec §6). Anonymous scopes contribute
// their synthesized name like any other.
func (s *Scope) Qualify(name string) string {
	var parts []string
	for cur := s; cur != nil && cur.Parent != nil; cur = cur.Parent {
		// scopes don't store their own declaring name separately from
		// the identifier that introduced them; declaringToken.Text is
		// that name when present (function/class/block name).
		if cur.declaringToken.Text != "" {
			parts = append([]string{cur.declaringToken.Text}, parts...)
		}
	}
	parts = append(parts, name)
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "::"
		}
		out += p
	}
	return out
}

// Package lens provides the layered old-to-new reference mapping used to
// rewrite every instruction of the program consistently after a merge
// pass. Layers are append-only: a pass builds one immutable layer on top
// of whatever lens existed before it, and lookups recurse from oldest to
// newest so each layer sees references in the shape its pass produced.
package lens

import "github.com/715d/shrink/pkg/graph"

// MethodLookup is the result of a contextual method lookup: the rewritten
// reference plus the dispatch kind the call site must now use.
type MethodLookup struct {
	Method graph.MethodRef
	Kind   graph.InvokeKind
}

// Lens maps original program references to their current references.
type Lens interface {
	// LookupType translates a type reference.
	LookupType(t graph.Type) graph.Type

	// LookupField translates a field reference.
	LookupField(f graph.FieldRef) graph.FieldRef

	// LookupMethod translates a method call site. context is the method
	// containing the call (zero value when unknown) and kind its current
	// dispatch mode; the result may change the dispatch mode.
	LookupMethod(ref graph.MethodRef, context graph.MethodRef, kind graph.InvokeKind) MethodLookup

	// LookupPrototypeChanges describes parameter/return rewrites applied
	// to the (current) method reference, for call-site argument fixup.
	LookupPrototypeChanges(ref graph.MethodRef) PrototypeChanges

	// OriginalFieldSignature maps a current field reference back to its
	// pre-rewrite signature, for mapping-file output.
	OriginalFieldSignature(f graph.FieldRef) graph.FieldRef

	// OriginalMethodSignature maps a current method reference back to its
	// pre-rewrite signature, for mapping-file output.
	OriginalMethodSignature(m graph.MethodRef) graph.MethodRef

	// IsContextFreeForMethods reports whether method lookups are
	// independent of calling context. When false, callers must always
	// supply the context method.
	IsContextFreeForMethods() bool
}

// PrototypeChanges describes how a method's prototype was rewritten.
// The zero value means "unchanged".
type PrototypeChanges struct {
	// ExtraLeadingParameter is the type of a parameter prepended to the
	// signature ("" when none), e.g. the receiver made explicit when an
	// instance method is staticized.
	ExtraLeadingParameter graph.Type

	// HasExtraNullArgument marks call sites that must pass an extra
	// trailing null argument (synthesized disambiguation parameter).
	HasExtraNullArgument bool

	// ReturnRemoved marks methods whose return value was dropped.
	ReturnRemoved bool
}

// IsEmpty reports whether no prototype rewrite applies.
func (p PrototypeChanges) IsEmpty() bool {
	return p == PrototypeChanges{}
}

// identity is the bottom of every lens chain.
type identity struct{}

// Identity returns the lens that maps every reference to itself.
func Identity() Lens { return identity{} }

func (identity) LookupType(t graph.Type) graph.Type          { return t }
func (identity) LookupField(f graph.FieldRef) graph.FieldRef { return f }

func (identity) LookupMethod(ref graph.MethodRef, _ graph.MethodRef, kind graph.InvokeKind) MethodLookup {
	return MethodLookup{Method: ref, Kind: kind}
}

func (identity) LookupPrototypeChanges(graph.MethodRef) PrototypeChanges { return PrototypeChanges{} }

func (identity) OriginalFieldSignature(f graph.FieldRef) graph.FieldRef    { return f }
func (identity) OriginalMethodSignature(m graph.MethodRef) graph.MethodRef { return m }
func (identity) IsContextFreeForMethods() bool                             { return true }

package lens

import (
	"fmt"

	"github.com/715d/shrink/pkg/graph"
)

// Nested is one rewrite layer on top of a previous lens. Instances are
// immutable after Build and safe for concurrent readers.
type Nested struct {
	previous Lens

	typeMap   map[graph.Type]graph.Type
	methodMap map[graph.MethodRef]graph.MethodRef
	fieldMap  map[graph.FieldRef]graph.FieldRef

	// Inverse maps, keyed by post-rewrite reference, for mapping output.
	originalFields  map[graph.FieldRef]graph.FieldRef
	originalMethods map[graph.MethodRef]graph.MethodRef

	// Dispatch-kind override for rewritten call sites, keyed by the
	// pre-rewrite method reference (e.g. a collapsed constructor must be
	// invoked direct).
	kindOverride map[graph.MethodRef]graph.InvokeKind

	// Context-sensitive invoke-super redirections: an invoke-super of the
	// key is rewritten to the mapped target with direct dispatch, but
	// only when the calling context's holder is the required holder. Any
	// other context keeps its original dispatch.
	superRedirects map[graph.MethodRef]superRedirect

	prototypeChanges map[graph.MethodRef]PrototypeChanges

	// Field accesses redirected to accessor methods (synthesized
	// bridges). Nil maps mean no redirection at this layer.
	staticGetToMethod   map[graph.FieldRef]graph.MethodRef
	staticPutToMethod   map[graph.FieldRef]graph.MethodRef
	instanceGetToMethod map[graph.FieldRef]graph.MethodRef
	instancePutToMethod map[graph.FieldRef]graph.MethodRef
}

type superRedirect struct {
	target         graph.MethodRef
	requiredHolder graph.Type
}

// Builder accumulates one layer's mappings. Build validates idempotence
// and returns the previous lens unchanged when the layer is empty.
type Builder struct {
	n Nested
}

// NewBuilder starts a layer over the given previous lens (Identity when
// nil).
func NewBuilder(previous Lens) *Builder {
	if previous == nil {
		previous = Identity()
	}
	return &Builder{n: Nested{
		previous:         previous,
		typeMap:          make(map[graph.Type]graph.Type),
		methodMap:        make(map[graph.MethodRef]graph.MethodRef),
		fieldMap:         make(map[graph.FieldRef]graph.FieldRef),
		originalFields:   make(map[graph.FieldRef]graph.FieldRef),
		originalMethods:  make(map[graph.MethodRef]graph.MethodRef),
		kindOverride:     make(map[graph.MethodRef]graph.InvokeKind),
		superRedirects:   make(map[graph.MethodRef]superRedirect),
		prototypeChanges: make(map[graph.MethodRef]PrototypeChanges),
	}}
}

// MapType records a type rewrite.
func (b *Builder) MapType(from, to graph.Type) *Builder {
	if from != to {
		b.n.typeMap[from] = to
	}
	return b
}

// MapField records a field rewrite.
func (b *Builder) MapField(from, to graph.FieldRef) *Builder {
	if from != to {
		b.n.fieldMap[from] = to
		b.n.originalFields[to] = from
	}
	return b
}

// MapMethod records a method rewrite.
func (b *Builder) MapMethod(from, to graph.MethodRef) *Builder {
	if from != to {
		b.n.methodMap[from] = to
		b.n.originalMethods[to] = from
	}
	return b
}

// MapMethodWithKind records a method rewrite whose call sites must also
// switch to the given dispatch kind (e.g. a constructor collapsed into a
// plain direct method).
func (b *Builder) MapMethodWithKind(from, to graph.MethodRef, kind graph.InvokeKind) *Builder {
	b.MapMethod(from, to)
	b.n.kindOverride[from] = kind
	return b
}

// MapSuperInvoke records a context-sensitive super-call redirect: an
// invoke-super of from becomes a direct invoke of to, but only in call
// sites whose holder is requiredHolder. This makes the layer
// context-dependent for methods.
func (b *Builder) MapSuperInvoke(from, to graph.MethodRef, requiredHolder graph.Type) *Builder {
	b.n.superRedirects[from] = superRedirect{target: to, requiredHolder: requiredHolder}
	return b
}

// RecordOriginalMethod overrides the pre-rewrite signature recorded for
// a current method reference, used for members whose mapping entry does
// not coincide with their relocation history (renamed private copies,
// or an override a merged method collapsed onto). Passing the reference
// as its own original marks it unchanged.
func (b *Builder) RecordOriginalMethod(current, original graph.MethodRef) *Builder {
	if current == original {
		delete(b.n.originalMethods, current)
	} else {
		b.n.originalMethods[current] = original
	}
	return b
}

// RecordOriginalField is the field counterpart of RecordOriginalMethod.
func (b *Builder) RecordOriginalField(current, original graph.FieldRef) *Builder {
	if current == original {
		delete(b.n.originalFields, current)
	} else {
		b.n.originalFields[current] = original
	}
	return b
}

// RecordPrototypeChanges attaches a prototype-change description to the
// post-rewrite method reference.
func (b *Builder) RecordPrototypeChanges(method graph.MethodRef, changes PrototypeChanges) *Builder {
	if !changes.IsEmpty() {
		b.n.prototypeChanges[method] = changes
	}
	return b
}

// RedirectStaticGet maps a static field read to an accessor method.
func (b *Builder) RedirectStaticGet(field graph.FieldRef, method graph.MethodRef) *Builder {
	if b.n.staticGetToMethod == nil {
		b.n.staticGetToMethod = make(map[graph.FieldRef]graph.MethodRef)
	}
	b.n.staticGetToMethod[field] = method
	return b
}

// RedirectStaticPut maps a static field write to an accessor method.
func (b *Builder) RedirectStaticPut(field graph.FieldRef, method graph.MethodRef) *Builder {
	if b.n.staticPutToMethod == nil {
		b.n.staticPutToMethod = make(map[graph.FieldRef]graph.MethodRef)
	}
	b.n.staticPutToMethod[field] = method
	return b
}

// RedirectInstanceGet maps an instance field read to an accessor method.
func (b *Builder) RedirectInstanceGet(field graph.FieldRef, method graph.MethodRef) *Builder {
	if b.n.instanceGetToMethod == nil {
		b.n.instanceGetToMethod = make(map[graph.FieldRef]graph.MethodRef)
	}
	b.n.instanceGetToMethod[field] = method
	return b
}

// RedirectInstancePut maps an instance field write to an accessor method.
func (b *Builder) RedirectInstancePut(field graph.FieldRef, method graph.MethodRef) *Builder {
	if b.n.instancePutToMethod == nil {
		b.n.instancePutToMethod = make(map[graph.FieldRef]graph.MethodRef)
	}
	b.n.instancePutToMethod[field] = method
	return b
}

// IsEmpty reports whether the layer holds no rewrites at all.
func (b *Builder) IsEmpty() bool {
	return len(b.n.typeMap) == 0 && len(b.n.methodMap) == 0 && len(b.n.fieldMap) == 0 &&
		len(b.n.superRedirects) == 0
}

// Build finalizes the layer. An empty layer returns the previous lens
// unchanged. A mapping whose target is itself remapped by the same layer
// would break idempotence and is an internal error.
func (b *Builder) Build() (Lens, error) {
	if b.IsEmpty() {
		return b.n.previous, nil
	}
	for from, to := range b.n.typeMap {
		if _, again := b.n.typeMap[to]; again {
			return nil, fmt.Errorf("lens layer is not idempotent: type %q maps to remapped %q", from, to)
		}
	}
	for from, to := range b.n.methodMap {
		if _, again := b.n.methodMap[to]; again {
			return nil, fmt.Errorf("lens layer is not idempotent: method %v maps to remapped %v", from, to)
		}
	}
	for from, to := range b.n.fieldMap {
		if _, again := b.n.fieldMap[to]; again {
			return nil, fmt.Errorf("lens layer is not idempotent: field %v maps to remapped %v", from, to)
		}
	}
	n := b.n
	return &n, nil
}

func (n *Nested) LookupType(t graph.Type) graph.Type {
	prev := n.previous.LookupType(t)
	if to, ok := n.typeMap[prev]; ok {
		return to
	}
	return prev
}

func (n *Nested) LookupField(f graph.FieldRef) graph.FieldRef {
	prev := n.previous.LookupField(f)
	if to, ok := n.fieldMap[prev]; ok {
		return to
	}
	return prev
}

func (n *Nested) LookupMethod(ref graph.MethodRef, context graph.MethodRef, kind graph.InvokeKind) MethodLookup {
	// Translate the context back into the previous layer's coordinates
	// before recursing.
	prevContext := context
	if orig, ok := n.originalMethods[context]; ok {
		prevContext = orig
	}
	prev := n.previous.LookupMethod(ref, prevContext, kind)

	if kind == graph.InvokeSuper {
		if r, ok := n.superRedirects[prev.Method]; ok {
			if context.Holder == r.requiredHolder {
				return MethodLookup{Method: r.target, Kind: graph.InvokeDirect}
			}
			// Not statically proven safe: fall through to the plain map
			// so the reference still follows the merged holder.
		}
	}

	newMethod, ok := n.methodMap[prev.Method]
	if !ok {
		return prev
	}
	newKind := prev.Kind
	if k, ok := n.kindOverride[prev.Method]; ok {
		newKind = k
	}
	return MethodLookup{Method: newMethod, Kind: newKind}
}

func (n *Nested) LookupPrototypeChanges(ref graph.MethodRef) PrototypeChanges {
	if c, ok := n.prototypeChanges[ref]; ok {
		return c
	}
	orig := ref
	if o, ok := n.originalMethods[ref]; ok {
		orig = o
	}
	return n.previous.LookupPrototypeChanges(orig)
}

func (n *Nested) OriginalFieldSignature(f graph.FieldRef) graph.FieldRef {
	if orig, ok := n.originalFields[f]; ok {
		return n.previous.OriginalFieldSignature(orig)
	}
	return n.previous.OriginalFieldSignature(f)
}

func (n *Nested) OriginalMethodSignature(m graph.MethodRef) graph.MethodRef {
	if orig, ok := n.originalMethods[m]; ok {
		return n.previous.OriginalMethodSignature(orig)
	}
	return n.previous.OriginalMethodSignature(m)
}

func (n *Nested) IsContextFreeForMethods() bool {
	return len(n.superRedirects) == 0 && n.previous.IsContextFreeForMethods()
}

// LookupStaticGetFieldForMethod returns the accessor replacing a static
// read of field, or false when the access is not redirected.
func (n *Nested) LookupStaticGetFieldForMethod(field graph.FieldRef) (graph.MethodRef, bool) {
	m, ok := n.staticGetToMethod[field]
	return m, ok
}

// LookupStaticPutFieldForMethod returns the accessor replacing a static
// write of field, or false when the access is not redirected.
func (n *Nested) LookupStaticPutFieldForMethod(field graph.FieldRef) (graph.MethodRef, bool) {
	m, ok := n.staticPutToMethod[field]
	return m, ok
}

// LookupInstanceGetFieldForMethod returns the accessor replacing an
// instance read of field, or false when the access is not redirected.
func (n *Nested) LookupInstanceGetFieldForMethod(field graph.FieldRef) (graph.MethodRef, bool) {
	m, ok := n.instanceGetToMethod[field]
	return m, ok
}

// LookupInstancePutFieldForMethod returns the accessor replacing an
// instance write of field, or false when the access is not redirected.
func (n *Nested) LookupInstancePutFieldForMethod(field graph.FieldRef) (graph.MethodRef, bool) {
	m, ok := n.instancePutToMethod[field]
	return m, ok
}

package merge

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/715d/shrink/internal/keep"
	"github.com/715d/shrink/internal/opt"
	"github.com/715d/shrink/pkg/graph"
	"github.com/715d/shrink/pkg/lens"
)

// VerticalMergerOptions tunes the vertical merging pass.
type VerticalMergerOptions struct {
	// AllowAccessModification permits widening member visibility instead
	// of rejecting merges that would cross a package boundary.
	AllowAccessModification bool
}

// VerticalMerger merges a class into its sole subtype (or an interface
// into its sole implementor): members are relocated, colliding names are
// deterministically mangled, every program reference is rewritten through
// the produced lens layer, and the emptied source class is removed.
type VerticalMerger struct {
	program *graph.Program
	keep    *keep.Info
	infos   *opt.InfoStore
	opts    VerticalMergerOptions

	previous lens.Lens

	// mergedClasses maps each merged-away source type to its target.
	mergedClasses map[graph.Type]graph.Type

	// mergeTargets marks classes that received a merge this pass. Such a
	// class cannot become a source in the same pass; multi-level chains
	// are picked up by the next fixpoint iteration.
	mergeTargets map[graph.Type]bool

	// collapsedOverrides marks pre-existing target methods that a merged
	// virtual method was collapsed onto, so they are not misattributed
	// as renamed in mapping output.
	collapsedOverrides map[graph.MethodRef]bool

	methodMapping *biMap[graph.MethodRef]
	fieldMapping  *biMap[graph.FieldRef]

	// kindOverrides records dispatch-kind changes keyed by the original
	// method reference (collapsed constructors become direct calls).
	kindOverrides map[graph.MethodRef]graph.InvokeKind

	// superRedirects records, per merged virtual method, the renamed
	// private copy that invoke-super sites inside the merge target must
	// call directly.
	superRedirects map[graph.MethodRef]verticalSuperRedirect

	// renamedOriginals records pre-merge signatures of renamed private
	// copies for mapping output.
	renamedOriginals map[graph.MethodRef]graph.MethodRef
}

type verticalSuperRedirect struct {
	target graph.MethodRef
	holder graph.Type
}

// NewVerticalMerger prepares a vertical merging pass. previous is the
// lens produced by earlier passes (Identity when this is the first).
func NewVerticalMerger(program *graph.Program, keepInfo *keep.Info, infos *opt.InfoStore, previous lens.Lens, opts VerticalMergerOptions) *VerticalMerger {
	return &VerticalMerger{
		program:            program,
		keep:               keepInfo,
		infos:              infos,
		opts:               opts,
		previous:           previous,
		mergedClasses:      make(map[graph.Type]graph.Type),
		mergeTargets:       make(map[graph.Type]bool),
		collapsedOverrides: make(map[graph.MethodRef]bool),
		methodMapping:      newBiMap[graph.MethodRef](),
		fieldMapping:       newBiMap[graph.FieldRef](),
		kindOverrides:      make(map[graph.MethodRef]graph.InvokeKind),
		superRedirects:     make(map[graph.MethodRef]verticalSuperRedirect),
		renamedOriginals:   make(map[graph.MethodRef]graph.MethodRef),
	}
}

// MergedClasses returns the source -> target type map of the pass.
func (m *VerticalMerger) MergedClasses() map[graph.Type]graph.Type {
	out := make(map[graph.Type]graph.Type, len(m.mergedClasses))
	for s, t := range m.mergedClasses {
		out[s] = m.resolveType(t)
	}
	return out
}

// Run executes the pass over the whole program and returns the new lens.
func (m *VerticalMerger) Run() (lens.Lens, error) {
	for _, source := range m.program.ClassesWithDeterministicOrder() {
		if _, gone := m.mergedClasses[source.Type]; gone {
			continue
		}
		target, d, err := m.classify(source)
		switch d {
		case fatal:
			return nil, err
		case reject:
			continue
		}
		m.mergeClassInto(source, target)
	}

	m.fixSignatures()

	result, err := m.buildLens()
	if err != nil {
		return nil, err
	}
	RewriteProgram(m.program, result)

	sources := make([]graph.Type, 0, len(m.mergedClasses))
	for s := range m.mergedClasses {
		sources = append(sources, s)
	}
	slices.Sort(sources)
	for _, s := range sources {
		if err := m.program.RemoveClass(s); err != nil {
			return nil, err
		}
	}
	slog.Info("vertical class merging done", "merged", len(m.mergedClasses))
	return result, nil
}

// classify runs every eligibility check for a candidate source class and
// returns the unique merge target on success.
func (m *VerticalMerger) classify(source *graph.Class) (*graph.Class, decision, error) {
	if source.Super == source.Type {
		return nil, fatal, fmt.Errorf("class %q extends itself", source.Type)
	}
	if m.keep.IsNeverMerge(source.Type) || m.keep.IsTypePinned(source.Type) {
		return nil, reject, nil
	}
	if m.mergeTargets[source.Type] {
		return nil, reject, nil
	}
	for _, f := range source.Fields() {
		if m.keep.IsFieldPinned(f.Ref) {
			return nil, reject, nil
		}
	}
	for _, method := range source.Methods() {
		if m.keep.IsMethodPinned(method.Ref) || method.Flags.IsNative() {
			return nil, reject, nil
		}
	}

	// Exactly one potential merge target through the subtype edge.
	subs := m.program.Subtypes(source.Type)
	if len(subs) != 1 {
		return nil, reject, nil
	}
	target := subs[0]
	if target.IsInterface() {
		return nil, reject, nil
	}
	if _, gone := m.mergedClasses[target.Type]; gone {
		return nil, reject, nil
	}

	// Class initialization must not become observably reordered. A
	// source static initializer is only tolerated when it is marked
	// side-effect free and the target has none of its own.
	if clinit := source.ClassInitializer(); clinit != nil {
		pure := m.keep.IsNoSideEffects(clinit.Ref) || m.infos.Get(clinit.Ref).NoSideEffects()
		if !pure || target.ClassInitializer() != nil {
			return nil, reject, nil
		}
	}

	// An interface used as a catch type cannot be retargeted to a class
	// handler without changing which throwables it matches.
	if source.IsInterface() && m.typeAppearsInCatchHandler(source.Type) {
		return nil, reject, nil
	}

	if d := m.checkCollisions(source, target); d != proceed {
		return nil, d, nil
	}

	if source.Type.Package() != target.Type.Package() && !m.opts.AllowAccessModification {
		for _, f := range source.Fields() {
			if f.Flags.IsPackagePrivate() || f.Flags.IsProtected() {
				return nil, reject, nil
			}
		}
		for _, method := range source.Methods() {
			if method.Flags.IsPackagePrivate() || method.Flags.IsProtected() {
				return nil, reject, nil
			}
		}
		detector := NewIllegalAccessDetector(m.program, source)
		detector.ScanMethods()
		if detector.FoundIllegalAccess() {
			return nil, reject, nil
		}
	}

	return target, proceed, nil
}

// checkCollisions vetoes merges with unresolvable signature conflicts:
// private members can always be renamed away, but a non-private source
// member colliding with a differently-typed target member of the same
// name and arity must block the merge. A same-signature virtual pair is
// an override and is handled during relocation instead.
func (m *VerticalMerger) checkCollisions(source, target *graph.Class) decision {
	for _, sf := range source.Fields() {
		if sf.Flags.IsPrivate() {
			continue
		}
		for _, tf := range target.Fields() {
			if tf.Ref.Name == sf.Ref.Name && tf.Ref.Type != sf.Ref.Type {
				return reject
			}
		}
	}
	for _, sm := range source.Methods() {
		if sm.Flags.IsPrivate() || sm.IsInitializer() {
			continue
		}
		for _, tm := range target.Methods() {
			if tm.Ref.Name == sm.Ref.Name &&
				tm.Ref.Proto.Arity() == sm.Ref.Proto.Arity() &&
				tm.Ref.Proto != sm.Ref.Proto {
				return reject
			}
		}
		// Abstract methods without a target implementation cannot be
		// hosted by a concrete class.
		if sm.Flags.IsAbstract() && target.LookupVirtualMethod(sm.Ref.Name, sm.Ref.Proto) == nil {
			return reject
		}
	}
	return proceed
}

func (m *VerticalMerger) typeAppearsInCatchHandler(t graph.Type) bool {
	for _, class := range m.program.ClassesWithDeterministicOrder() {
		for _, method := range class.Methods() {
			if method.Code == nil {
				continue
			}
			for _, tc := range method.Code.TryCatches {
				if tc.CatchType == t {
					return true
				}
			}
		}
	}
	return false
}

// mergeClassInto relocates every member of source into target. All
// eligibility checks have passed; from here the merge cannot fail.
func (m *VerticalMerger) mergeClassInto(source, target *graph.Class) {
	slog.Debug("merging class", "source", source.Type, "target", target.Type)

	taken := make(map[string]bool)
	for _, f := range target.Fields() {
		taken[graph.FieldEquivalenceKey(f.Ref, false)] = true
	}
	for _, method := range target.Methods() {
		taken[graph.MethodEquivalenceKey(method.Ref, false)] = true
	}
	srcSimple := source.Type.SimpleName()

	moveField := func(f *graph.Field) *graph.Field {
		newRef := f.Ref.WithHolder(target.Type)
		if taken[graph.FieldEquivalenceKey(newRef, false)] {
			name := freshName(f.Ref.Name, srcSimple, func(n string) bool {
				return !taken[graph.FieldEquivalenceKey(newRef.WithName(n), false)]
			})
			newRef = newRef.WithName(name)
		}
		taken[graph.FieldEquivalenceKey(newRef, false)] = true
		m.fieldMapping.put(f.Ref, newRef)
		f.Ref = newRef
		return f
	}
	for _, f := range source.StaticFields {
		target.StaticFields = append(target.StaticFields, moveField(f))
	}
	for _, f := range source.InstanceFields {
		target.InstanceFields = append(target.InstanceFields, moveField(f))
	}

	moveMethodTo := func(method *graph.Method, name string) graph.MethodRef {
		newRef := method.Ref.WithHolder(target.Type).WithName(name)
		if taken[graph.MethodEquivalenceKey(newRef, false)] {
			fresh := freshName(name, srcSimple, func(n string) bool {
				return !taken[graph.MethodEquivalenceKey(newRef.WithName(n), false)]
			})
			newRef = newRef.WithName(fresh)
		}
		taken[graph.MethodEquivalenceKey(newRef, false)] = true
		m.infos.Rename(method.Ref, newRef)
		method.Ref = newRef
		return newRef
	}

	for _, method := range source.DirectMethods {
		oldRef := method.Ref
		switch {
		case method.IsInstanceInitializer():
			// Collapse the constructor into a renamed direct method; the
			// target constructor that chained into it now calls it with
			// direct dispatch at the position of the old super(...) call.
			newRef := moveMethodTo(method, freshName("constructor", srcSimple, func(n string) bool {
				return !taken[graph.MethodEquivalenceKey(oldRef.WithHolder(target.Type).WithName(n), false)]
			}))
			method.Flags = method.Flags.AsPrivate().WithoutConstructor()
			m.methodMapping.put(oldRef, newRef)
			m.kindOverrides[oldRef] = graph.InvokeDirect
		default:
			newRef := moveMethodTo(method, method.Ref.Name)
			m.methodMapping.put(oldRef, newRef)
		}
		target.DirectMethods = append(target.DirectMethods, method)
	}

	for _, method := range source.VirtualMethods {
		oldRef := method.Ref
		override := target.LookupVirtualMethod(method.Ref.Name, method.Ref.Proto)
		switch {
		case override != nil && method.Flags.IsAbstract():
			// The target implementation subsumes the abstract
			// declaration; nothing to move.
			m.methodMapping.put(oldRef, override.Ref)
			m.collapsedOverrides[override.Ref] = true
		case override != nil:
			// Keep the body reachable for invoke-super sites inside the
			// target as a renamed private direct method; ordinary virtual
			// dispatch resolves to the override.
			newRef := moveMethodTo(method, freshName(method.Ref.Name, srcSimple, func(n string) bool {
				return !taken[graph.MethodEquivalenceKey(oldRef.WithHolder(target.Type).WithName(n), false)]
			}))
			method.Flags = method.Flags.AsPrivate()
			target.DirectMethods = append(target.DirectMethods, method)
			m.methodMapping.put(oldRef, override.Ref)
			m.collapsedOverrides[override.Ref] = true
			m.superRedirects[oldRef] = verticalSuperRedirect{target: newRef, holder: target.Type}
			m.renamedOriginals[newRef] = oldRef
		default:
			newRef := moveMethodTo(method, method.Ref.Name)
			target.VirtualMethods = append(target.VirtualMethods, method)
			m.methodMapping.put(oldRef, newRef)
			// An invoke-super of the moved method from within the target
			// is statically proven to hit exactly this body.
			m.superRedirects[oldRef] = verticalSuperRedirect{target: newRef, holder: target.Type}
		}
	}

	// Hierarchy fixup: the target inherits the source's super edges.
	if target.Super == source.Type {
		target.Super = source.Super
	}
	target.Interfaces = slices.DeleteFunc(target.Interfaces, func(t graph.Type) bool {
		return t == source.Type
	})
	for _, itf := range source.Interfaces {
		if !slices.Contains(target.Interfaces, itf) {
			target.Interfaces = append(target.Interfaces, itf)
		}
	}

	source.ClearMembers()
	m.mergedClasses[source.Type] = target.Type
	m.mergeTargets[target.Type] = true
}

// resolveType follows the merged-classes map to the final host type.
func (m *VerticalMerger) resolveType(t graph.Type) graph.Type {
	for {
		next, ok := m.mergedClasses[t]
		if !ok {
			return t
		}
		t = next
	}
}

func (m *VerticalMerger) resolveProto(p graph.Proto) graph.Proto {
	params := p.ParamTypes()
	for i, t := range params {
		params[i] = m.resolveType(t)
	}
	return graph.NewProto(m.resolveType(p.Return), params...)
}

// fixSignatures rewrites member signatures that mention merged-away
// types, across the whole program, recording the renames in the pass
// mappings. Collisions introduced by type unification get the same
// deterministic mangling as relocated members.
func (m *VerticalMerger) fixSignatures() {
	if len(m.mergedClasses) == 0 {
		return
	}
	for _, class := range m.program.ClassesWithDeterministicOrder() {
		taken := make(map[string]bool)
		for _, f := range class.Fields() {
			taken[graph.FieldEquivalenceKey(f.Ref, false)] = true
		}
		for _, method := range class.Methods() {
			taken[graph.MethodEquivalenceKey(method.Ref, false)] = true
		}
		for _, f := range class.Fields() {
			newRef := f.Ref
			newRef.Type = m.resolveType(f.Ref.Type)
			if newRef == f.Ref {
				continue
			}
			if taken[graph.FieldEquivalenceKey(newRef, false)] {
				name := freshName(newRef.Name, newRef.Type.SimpleName(), func(n string) bool {
					return !taken[graph.FieldEquivalenceKey(newRef.WithName(n), false)]
				})
				newRef = newRef.WithName(name)
			}
			taken[graph.FieldEquivalenceKey(newRef, false)] = true
			m.fieldMapping.put(f.Ref, newRef)
			f.Ref = newRef
		}
		for _, method := range class.Methods() {
			newRef := method.Ref
			newRef.Proto = m.resolveProto(method.Ref.Proto)
			if newRef == method.Ref {
				continue
			}
			if taken[graph.MethodEquivalenceKey(newRef, false)] {
				name := freshName(newRef.Name, class.Type.SimpleName(), func(n string) bool {
					return !taken[graph.MethodEquivalenceKey(newRef.WithName(n), false)]
				})
				newRef = newRef.WithName(name)
			}
			taken[graph.MethodEquivalenceKey(newRef, false)] = true
			m.infos.Rename(method.Ref, newRef)
			m.methodMapping.put(method.Ref, newRef)
			method.Ref = newRef
		}
	}
}

func (m *VerticalMerger) buildLens() (lens.Lens, error) {
	b := lens.NewBuilder(m.previous)
	for source := range m.mergedClasses {
		b.MapType(source, m.resolveType(source))
	}
	m.fieldMapping.each(func(from, current graph.FieldRef) {
		b.MapField(from, current)
	})
	m.methodMapping.each(func(from, current graph.MethodRef) {
		if kind, ok := m.kindOverrides[from]; ok {
			b.MapMethodWithKind(from, current, kind)
		} else {
			b.MapMethod(from, current)
		}
	})
	// Mapping-file originals always point at the pre-pass signature, not
	// an intermediate relocation step.
	m.fieldMapping.eachEarliest(func(current, original graph.FieldRef) {
		b.RecordOriginalField(current, original)
	})
	m.methodMapping.eachEarliest(func(current, original graph.MethodRef) {
		b.RecordOriginalMethod(current, original)
	})
	// An override a merged method collapsed onto did not itself change.
	for ref := range m.collapsedOverrides {
		if m.methodMapping.lookup(ref) == ref {
			b.RecordOriginalMethod(ref, ref)
		}
	}
	for oldRef, redirect := range m.superRedirects {
		finalTarget := m.methodMapping.lookup(redirect.target)
		b.MapSuperInvoke(oldRef, finalTarget, m.resolveType(redirect.holder))
	}
	for renamed, original := range m.renamedOriginals {
		b.RecordOriginalMethod(m.methodMapping.lookup(renamed), original)
	}
	return b.Build()
}

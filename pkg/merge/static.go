package merge

import (
	"log/slog"

	"github.com/715d/shrink/internal/keep"
	"github.com/715d/shrink/internal/opt"
	"github.com/715d/shrink/pkg/graph"
	"github.com/715d/shrink/pkg/lens"
)

// DefaultRepresentativeCapacity bounds how many same-signature members a
// representative may accumulate. The renaming alphabet offers 52
// single-character names, but a margin below that works better in
// practice.
const DefaultRepresentativeCapacity = 30

// mergeGroup partitions candidates by main-dex classification so merging
// never moves members across a partition and inflates the main dex.
type mergeGroup int

const (
	mainDexRoots mergeGroup = iota
	mainDexDependencies
	notMainDex
	dontMerge
)

func (g mergeGroup) String() string {
	switch g {
	case mainDexRoots:
		return "main dex roots"
	case mainDexDependencies:
		return "main dex dependencies"
	case notMainDex:
		return "outside main dex"
	}
	return "don't merge"
}

// globalScope is the package-or-global component of a key for classes
// that may merge across package boundaries.
const globalScope = "<global>"

// groupKey identifies one representative slot.
type groupKey struct {
	group           mergeGroup
	packageOrGlobal string
}

func (g mergeGroup) globalKey() groupKey {
	return groupKey{group: g, packageOrGlobal: globalScope}
}

func (g mergeGroup) key(pkg string) groupKey {
	return groupKey{group: g, packageOrGlobal: pkg}
}

// representative is the current host class for one key, with one
// frequency bucket per signature-equivalence class so fullness can be
// judged before a merge commits.
type representative struct {
	class         *graph.Class
	fieldBuckets  map[string]int
	methodBuckets map[string]int
}

func newRepresentative(class *graph.Class, ignoreName bool) *representative {
	r := &representative{
		class:         class,
		fieldBuckets:  make(map[string]int),
		methodBuckets: make(map[string]int),
	}
	r.include(class, ignoreName)
	return r
}

// include counts the members of class into the signature buckets.
func (r *representative) include(class *graph.Class, ignoreName bool) {
	for _, f := range class.Fields() {
		r.fieldBuckets[graph.FieldEquivalenceKey(f.Ref, ignoreName)]++
	}
	for _, m := range class.Methods() {
		r.methodBuckets[graph.MethodEquivalenceKey(m.Ref, ignoreName)]++
	}
}

// isFull reports whether any signature bucket exceeds the capacity, i.e.
// single-character rename targets would likely run out.
func (r *representative) isFull(capacity int) bool {
	needed := 1
	for _, count := range r.fieldBuckets {
		needed = max(needed, count)
	}
	for _, count := range r.methodBuckets {
		needed = max(needed, count)
	}
	return needed > capacity
}

// StaticMergerOptions tunes the static merging pass.
type StaticMergerOptions struct {
	// RepresentativeCapacity overrides the fullness heuristic threshold;
	// zero selects DefaultRepresentativeCapacity.
	RepresentativeCapacity int

	// AggressiveOverloading groups members by name-stripped signatures,
	// packing more same-signature members per representative.
	AggressiveOverloading bool
}

func (o StaticMergerOptions) capacity() int {
	if o.RepresentativeCapacity > 0 {
		return o.RepresentativeCapacity
	}
	return DefaultRepresentativeCapacity
}

// StaticMerger consolidates classes holding only static members (and
// private virtual methods) into representative host classes. Classes
// themselves survive; only members move, so a candidate's references to
// its own type stay valid.
type StaticMerger struct {
	program *graph.Program
	keep    *keep.Info
	infos   *opt.InfoStore
	opts    StaticMergerOptions

	previous lens.Lens

	representatives map[groupKey]*representative
	fieldMapping    *biMap[graph.FieldRef]
	methodMapping   *biMap[graph.MethodRef]
	mergedClasses   int
}

// NewStaticMerger prepares a static merging pass on top of previous.
func NewStaticMerger(program *graph.Program, keepInfo *keep.Info, infos *opt.InfoStore, previous lens.Lens, opts StaticMergerOptions) *StaticMerger {
	return &StaticMerger{
		program:         program,
		keep:            keepInfo,
		infos:           infos,
		opts:            opts,
		previous:        previous,
		representatives: make(map[groupKey]*representative),
		fieldMapping:    newBiMap[graph.FieldRef](),
		methodMapping:   newBiMap[graph.MethodRef](),
	}
}

// MovedMembers returns how many fields and methods the pass relocated.
func (m *StaticMerger) MovedMembers() int {
	return m.fieldMapping.len() + m.methodMapping.len()
}

// Run executes the pass and returns the resulting lens. Emptied source
// classes remain in the program (their type may still be referenced);
// downstream shaking removes them once unreferenced.
func (m *StaticMerger) Run() (lens.Lens, error) {
	for _, class := range m.program.ClassesWithDeterministicOrder() {
		group := m.satisfiesMergeCriteria(class)
		if group == dontMerge {
			continue
		}
		m.merge(class, group)
	}
	slog.Info("static class merging done",
		"merged", m.mergedClasses,
		"members", m.fieldMapping.len()+m.methodMapping.len())
	return m.buildLens()
}

func (m *StaticMerger) buildLens() (lens.Lens, error) {
	b := lens.NewBuilder(m.previous)
	m.fieldMapping.each(func(from, current graph.FieldRef) {
		b.MapField(from, current)
	})
	m.methodMapping.each(func(from, current graph.MethodRef) {
		b.MapMethod(from, current)
	})
	m.fieldMapping.eachEarliest(func(current, original graph.FieldRef) {
		b.RecordOriginalField(current, original)
	})
	m.methodMapping.eachEarliest(func(current, original graph.MethodRef) {
		b.RecordOriginalMethod(current, original)
	})
	return b.Build()
}

// satisfiesMergeCriteria classifies a candidate into its merge group, or
// dontMerge when any static-merge precondition fails.
func (m *StaticMerger) satisfiesMergeCriteria(class *graph.Class) mergeGroup {
	if m.keep.IsNeverMerge(class.Type) || m.keep.IsTypePinned(class.Type) {
		return dontMerge
	}
	if !class.HasMembers() {
		return dontMerge
	}
	if len(class.InstanceFields) > 0 {
		return dontMerge
	}
	for _, f := range class.StaticFields {
		if m.keep.IsFieldPinned(f.Ref) {
			return dontMerge
		}
	}
	for _, method := range class.DirectMethods {
		if method.IsInitializer() {
			return dontMerge
		}
	}
	for _, method := range class.VirtualMethods {
		if !method.Flags.IsPrivate() {
			return dontMerge
		}
	}
	for _, method := range class.Methods() {
		// The lens produced here must not touch methods in the
		// always-inline and no-side-effects sets; those sets are keyed by
		// reference and must remain stable across this rewrite.
		if method.Flags.IsNative() ||
			m.keep.IsMethodPinned(method.Ref) ||
			m.keep.IsAlwaysInline(method.Ref) ||
			m.keep.IsNoSideEffects(method.Ref) {
			return dontMerge
		}
	}
	if m.classInitializationMayHaveSideEffects(class) {
		return dontMerge
	}
	if m.keep.HasMainDexPartition() {
		if m.keep.IsMainDexRoot(class.Type) {
			return mainDexRoots
		}
		if m.keep.IsMainDexDependency(class.Type) {
			return mainDexDependencies
		}
	}
	return notMainDex
}

// classInitializationMayHaveSideEffects walks the super chain looking
// for a static initializer that is not known side-effect free. Touching
// such a class from a new host could observably reorder initialization.
// An edge into a type outside the program is treated as side-effecting.
func (m *StaticMerger) classInitializationMayHaveSideEffects(class *graph.Class) bool {
	for t := class.Super; t != "" && t != graph.ObjectType; {
		c := m.program.Class(t)
		if c == nil {
			// A library superclass other than the root object type may
			// run arbitrary initialization.
			return true
		}
		if clinit := c.ClassInitializer(); clinit != nil &&
			!m.infos.Get(clinit.Ref).NoSideEffects() && !m.keep.IsNoSideEffects(clinit.Ref) {
			return true
		}
		t = c.Super
	}
	return false
}

// isValidRepresentative rejects interfaces as hosts: hosting interface
// members requires companion rewriting this pass does not perform.
func isValidRepresentative(class *graph.Class) bool {
	return !class.IsInterface()
}

func (m *StaticMerger) merge(class *graph.Class, group mergeGroup) bool {
	pkg := class.Type.Package()
	if m.mayMergeAcrossPackageBoundaries(class) {
		return m.mergeGlobally(class, pkg, group)
	}
	return m.mergeInsidePackage(class, pkg, group)
}

// mergeGlobally tries the candidate against the group's global
// representative. A candidate that replaces or clears the representative
// is deliberately not retried package-locally: merging it there could
// inflate a representative about to be replaced.
func (m *StaticMerger) mergeGlobally(class *graph.Class, pkg string, group mergeGroup) bool {
	global := m.representatives[group.globalKey()]
	if global == nil {
		if isValidRepresentative(class) {
			m.setRepresentative(group.globalKey(), m.getOrCreateRepresentative(group.key(pkg), class))
		} else {
			m.clearRepresentative(group.globalKey())
		}
		return false
	}

	global.include(class, m.opts.AggressiveOverloading)
	if global.isFull(m.opts.capacity()) {
		if isValidRepresentative(class) {
			m.setRepresentative(group.globalKey(), m.getOrCreateRepresentative(group.key(pkg), class))
		} else {
			m.clearRepresentative(group.globalKey())
		}
		return false
	}

	m.moveMembersFromSourceToTarget(class, global.class)
	return true
}

func (m *StaticMerger) mergeInsidePackage(class *graph.Class, pkg string, group mergeGroup) bool {
	key := group.key(pkg)
	if rep := m.representatives[key]; rep != nil {
		if isValidRepresentative(class) && class.Flags.IsMoreVisibleThan(rep.class.Flags) {
			// Members may only move into an at-least-as-visible host, so
			// the merge direction flips: the old representative's members
			// move into the candidate.
			newRep := m.getOrCreateRepresentative(key, class)
			newRep.include(rep.class, m.opts.AggressiveOverloading)
			if !newRep.isFull(m.opts.capacity()) {
				m.setRepresentative(key, newRep)
				m.moveMembersFromSourceToTarget(rep.class, class)
				return true
			}
			return false
		}

		rep.include(class, m.opts.AggressiveOverloading)
		if !rep.isFull(m.opts.capacity()) {
			m.moveMembersFromSourceToTarget(class, rep.class)
			return true
		}
	}

	// No usable representative for this package; promote the candidate.
	if isValidRepresentative(class) {
		m.setRepresentative(key, m.getOrCreateRepresentative(key, class))
	}
	return false
}

func (m *StaticMerger) getOrCreateRepresentative(key groupKey, class *graph.Class) *representative {
	if global := m.representatives[key.group.globalKey()]; global != nil && global.class == class {
		return global
	}
	if rep := m.representatives[key]; rep != nil && rep.class == class {
		return rep
	}
	return newRepresentative(class, m.opts.AggressiveOverloading)
}

func (m *StaticMerger) setRepresentative(key groupKey, rep *representative) {
	if key.packageOrGlobal == globalScope {
		slog.Debug("new global representative", "class", rep.class.Type, "group", key.group.String())
	} else {
		slog.Debug("new package representative", "class", rep.class.Type, "package", key.packageOrGlobal, "group", key.group.String())
	}
	m.representatives[key] = rep
}

func (m *StaticMerger) clearRepresentative(key groupKey) {
	delete(m.representatives, key)
}

// mayMergeAcrossPackageBoundaries holds when moving the class's members
// to any package cannot make an access illegal: the class is public, all
// members are private or public, and no method body touches a
// package-level-accessible entity.
func (m *StaticMerger) mayMergeAcrossPackageBoundaries(class *graph.Class) bool {
	if !class.Flags.IsPublic() {
		return false
	}
	for _, method := range class.DirectMethods {
		if !method.Flags.IsPrivate() && !method.Flags.IsPublic() {
			return false
		}
	}
	for _, f := range class.StaticFields {
		if !f.Flags.IsPrivate() && !f.Flags.IsPublic() {
			return false
		}
	}
	detector := NewIllegalAccessDetector(m.program, class)
	detector.ScanMethods()
	return !detector.FoundIllegalAccess()
}

// moveMembersFromSourceToTarget relocates every member of source into
// target, renaming on exact-signature collision and recording the moves.
func (m *StaticMerger) moveMembersFromSourceToTarget(source, target *graph.Class) {
	slog.Debug("merging static members", "source", source.Type, "target", target.Type)
	m.mergedClasses++

	taken := make(map[string]bool)
	for _, f := range target.Fields() {
		taken[graph.FieldEquivalenceKey(f.Ref, false)] = true
	}
	for _, method := range target.Methods() {
		taken[graph.MethodEquivalenceKey(method.Ref, false)] = true
	}
	srcSimple := source.Type.SimpleName()

	for _, f := range source.StaticFields {
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
		target.StaticFields = append(target.StaticFields, f)
	}

	moveMethods := func(methods []*graph.Method, into *[]*graph.Method) {
		for _, method := range methods {
			newRef := method.Ref.WithHolder(target.Type)
			if taken[graph.MethodEquivalenceKey(newRef, false)] {
				name := freshName(method.Ref.Name, srcSimple, func(n string) bool {
					return !taken[graph.MethodEquivalenceKey(newRef.WithName(n), false)]
				})
				newRef = newRef.WithName(name)
			}
			taken[graph.MethodEquivalenceKey(newRef, false)] = true
			m.infos.Rename(method.Ref, newRef)
			m.methodMapping.put(method.Ref, newRef)
			method.Ref = newRef
			*into = append(*into, method)
		}
	}
	moveMethods(source.DirectMethods, &target.DirectMethods)
	moveMethods(source.VirtualMethods, &target.VirtualMethods)

	source.ClearMembers()
}

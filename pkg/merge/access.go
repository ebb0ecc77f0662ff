package merge

import "github.com/715d/shrink/pkg/graph"

// IllegalAccessDetector scans a merge candidate's method bodies for
// references that would become illegal if the class were moved out of
// its package: package-private or protected classes and members that
// are only accessible from the candidate's current package.
type IllegalAccessDetector struct {
	program *graph.Program
	source  *graph.Class
	found   bool
}

// NewIllegalAccessDetector prepares a detector for the given candidate.
func NewIllegalAccessDetector(program *graph.Program, source *graph.Class) *IllegalAccessDetector {
	return &IllegalAccessDetector{program: program, source: source}
}

// FoundIllegalAccess reports whether any scanned reference relies on
// package-level access.
func (d *IllegalAccessDetector) FoundIllegalAccess() bool { return d.found }

// ScanMethods runs the detector over every method body of the candidate.
func (d *IllegalAccessDetector) ScanMethods() {
	for _, m := range d.source.Methods() {
		if m.Code == nil {
			continue
		}
		d.scan(m.Code)
		if d.found {
			return
		}
	}
}

func (d *IllegalAccessDetector) scan(code *graph.Code) {
	for _, insn := range code.Instructions {
		for _, ref := range graph.References(insn) {
			switch ref.Kind {
			case graph.RefType:
				d.checkType(ref.Type)
			case graph.RefField:
				d.checkField(ref.Field)
			case graph.RefMethod:
				d.checkMethod(ref.Method)
			}
			if d.found {
				return
			}
		}
	}
	for _, tc := range code.TryCatches {
		d.checkType(tc.CatchType)
		if d.found {
			return
		}
	}
}

func (d *IllegalAccessDetector) checkType(t graph.Type) {
	c := d.program.Class(t)
	if c == nil {
		// Library types are assumed public.
		return
	}
	if !c.Flags.IsPublic() && t.Package() == d.source.Type.Package() && t != d.source.Type {
		d.found = true
	}
}

func (d *IllegalAccessDetector) checkField(f graph.FieldRef) {
	holder := d.program.Class(f.Holder)
	if holder == nil {
		return
	}
	d.checkType(f.Holder)
	for _, field := range holder.Fields() {
		if field.Ref == f {
			d.checkMemberFlags(field.Flags, f.Holder)
			return
		}
	}
}

func (d *IllegalAccessDetector) checkMethod(m graph.MethodRef) {
	holder, method := d.program.ResolveMethod(m)
	if holder == nil || method == nil {
		return
	}
	d.checkType(m.Holder)
	d.checkMemberFlags(method.Flags, holder.Type)
}

// checkMemberFlags flags accesses that depend on sharing a package with
// the member's holder. Private members of other classes are already
// illegal and left for the verifier; the detector's concern is access
// that is legal now but breaks once the candidate changes package.
func (d *IllegalAccessDetector) checkMemberFlags(flags graph.AccessFlags, holder graph.Type) {
	if holder == d.source.Type {
		return
	}
	if (flags.IsPackagePrivate() || flags.IsProtected()) && holder.Package() == d.source.Type.Package() {
		d.found = true
	}
}

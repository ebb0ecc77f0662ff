package lens

import (
	"fmt"
	"io"
	"slices"

	"github.com/715d/shrink/internal/opt"
	"github.com/715d/shrink/pkg/graph"
)

// mappingSection accumulates the member lines of one original class.
type mappingSection struct {
	target graph.Type
	lines  []string
}

// WriteMapping renders the textual name map from pre-merge signatures to
// post-merge references, sectioned per original class:
//
//	original.Class -> new.Class:
//	    int original.Class.field -> f
//	    void original.Class.method(int) -> m$Class
//
// Classes merged away get their own header pointing at the absorbing
// class; live classes anchor a header under their own name. Members whose
// signature is unchanged are omitted, and a member relocated into a class
// other than its section's target carries its new holder on the right.
func WriteMapping(w io.Writer, program *graph.Program, l Lens, merged map[graph.Type]graph.Type) error {
	descs := opt.NewDescriptorCache()
	sections := make(map[graph.Type]*mappingSection)
	section := func(orig graph.Type) *mappingSection {
		if s, ok := sections[orig]; ok {
			return s
		}
		target := orig
		if t, ok := merged[orig]; ok {
			target = t
		}
		s := &mappingSection{target: target}
		sections[orig] = s
		return s
	}

	// Merged-away classes anchor a section even when no member line
	// survives, so symbolication always finds the type rename.
	for source := range merged {
		section(source)
	}
	for _, class := range program.ClassesWithDeterministicOrder() {
		section(class.Type)
		for _, f := range class.Fields() {
			orig := l.OriginalFieldSignature(f.Ref)
			if orig == f.Ref {
				continue
			}
			s := section(orig.Holder)
			s.lines = append(s.lines, fmt.Sprintf("    %s -> %s\n", descs.FieldDescriptor(orig), memberTarget(s.target, f.Ref.Holder, f.Ref.Name)))
		}
		for _, m := range class.Methods() {
			orig := l.OriginalMethodSignature(m.Ref)
			if orig == m.Ref {
				continue
			}
			s := section(orig.Holder)
			s.lines = append(s.lines, fmt.Sprintf("    %s -> %s\n", descs.MethodDescriptor(orig), memberTarget(s.target, m.Ref.Holder, m.Ref.Name)))
		}
	}

	order := make([]graph.Type, 0, len(sections))
	for t := range sections {
		order = append(order, t)
	}
	slices.Sort(order)
	for _, orig := range order {
		s := sections[orig]
		if _, err := fmt.Fprintf(w, "%s -> %s:\n", orig, s.target); err != nil {
			return err
		}
		for _, line := range s.lines {
			if _, err := io.WriteString(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

// memberTarget renders the right-hand side of a member line: the bare new
// name when the member landed on the section's target class, otherwise the
// new holder qualifies it.
func memberTarget(sectionTarget, holder graph.Type, name string) string {
	if holder == sectionTarget {
		return name
	}
	return fmt.Sprintf("%s.%s", holder, name)
}

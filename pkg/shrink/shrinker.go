// Package shrink orchestrates the whole-program class merging pipeline:
// input validation, the vertical and static merge passes, lens-driven
// rewriting, and the call-graph-ordered method analysis that follows.
package shrink

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/715d/shrink/internal/keep"
	"github.com/715d/shrink/internal/opt"
	"github.com/715d/shrink/pkg/callgraph"
	"github.com/715d/shrink/pkg/graph"
	"github.com/715d/shrink/pkg/lens"
	"github.com/715d/shrink/pkg/merge"
)

// Options holds configuration for one shrink run.
type Options struct {
	VerticalMerging         bool
	StaticMerging           bool
	AllowAccessModification bool
	RepresentativeCapacity  int
	AggressiveOverloading   bool
}

// DefaultOptions enables both merge passes with default tuning.
func DefaultOptions() Options {
	return Options{VerticalMerging: true, StaticMerging: true}
}

// Result carries the outputs of a run.
type Result struct {
	Program *graph.Program
	Lens    lens.Lens

	// VerticallyMerged maps each merged-away source type to its host.
	VerticallyMerged map[graph.Type]graph.Type

	// StaticallyMergedMembers counts members relocated by the static pass.
	StaticallyMergedMembers int

	// EdgesCut counts call-graph edges removed by cycle elimination.
	EdgesCut int

	// PureMethods counts methods proven side-effect free by the
	// bottom-up analysis.
	PureMethods int
}

// Shrinker runs the merge pipeline over one program.
type Shrinker struct {
	keep  *keep.Info
	infos *opt.InfoStore
	descs *opt.DescriptorCache
	opts  Options
}

// NewShrinker creates a shrinker with the given keep constraints.
func NewShrinker(keepInfo *keep.Info, opts Options) *Shrinker {
	if keepInfo == nil {
		keepInfo = keep.NewInfo()
	}
	return &Shrinker{
		keep:  keepInfo,
		infos: opt.NewInfoStore(),
		descs: opt.NewDescriptorCache(),
		opts:  opts,
	}
}

// isExternal recognizes types outside the closed world that still count
// as valid supertypes.
func isExternal(t graph.Type) bool {
	return t == graph.ObjectType || strings.HasPrefix(string(t), "java.")
}

// Run executes the pipeline. The program is mutated in place; the
// returned lens translates pre-run references to post-run references.
func (s *Shrinker) Run(ctx context.Context, program *graph.Program) (*Result, error) {
	if program.Size() == 0 {
		return nil, fmt.Errorf("no classes provided")
	}
	if err := program.Validate(isExternal); err != nil {
		return nil, fmt.Errorf("malformed program: %w", err)
	}
	for _, m := range s.keepAlwaysInline(program) {
		s.infos.Get(m).MarkForceInline()
	}

	result := &Result{Program: program}
	composed := lens.Identity()

	if s.opts.VerticalMerging {
		vm := merge.NewVerticalMerger(program, s.keep, s.infos, composed, merge.VerticalMergerOptions{
			AllowAccessModification: s.opts.AllowAccessModification,
		})
		l, err := vm.Run()
		if err != nil {
			return nil, fmt.Errorf("vertical class merging: %w", err)
		}
		composed = l
		result.VerticallyMerged = vm.MergedClasses()
	}

	if s.opts.StaticMerging {
		sm := merge.NewStaticMerger(program, s.keep, s.infos, composed, merge.StaticMergerOptions{
			RepresentativeCapacity: s.opts.RepresentativeCapacity,
			AggressiveOverloading:  s.opts.AggressiveOverloading,
		})
		l, err := sm.Run()
		if err != nil {
			return nil, fmt.Errorf("static class merging: %w", err)
		}
		composed = l
		merge.RewriteProgram(program, composed)
		result.StaticallyMergedMembers = sm.MovedMembers()
	}

	result.Lens = composed

	if err := s.processMethods(ctx, program, result); err != nil {
		return nil, err
	}
	return result, nil
}

// keepAlwaysInline resolves the always-inline keep set against the
// program's live methods.
func (s *Shrinker) keepAlwaysInline(program *graph.Program) []graph.MethodRef {
	var refs []graph.MethodRef
	for _, class := range program.ClassesWithDeterministicOrder() {
		for _, m := range class.Methods() {
			if s.keep.IsAlwaysInline(m.Ref) {
				refs = append(refs, m.Ref)
			}
		}
	}
	return refs
}

// processMethods builds the call graph for the merged program, breaks
// cycles, and runs a bottom-up purity analysis wave by wave, so callee
// facts are always available before their callers are analyzed.
func (s *Shrinker) processMethods(ctx context.Context, program *graph.Program, result *Result) error {
	var methods []*graph.Method
	for _, class := range program.ClassesWithDeterministicOrder() {
		methods = append(methods, class.Methods()...)
	}

	builder := callgraph.NewBuilder(program, s.infos)
	cg, err := builder.Build(ctx, methods)
	if err != nil {
		return fmt.Errorf("build call graph: %w", err)
	}

	nodes := cg.NodeSet()
	elimination, err := callgraph.NewCycleEliminator(nodes, callgraph.CycleEliminatorOptions{}).BreakCycles()
	if err != nil {
		return fmt.Errorf("break call cycles: %w", err)
	}
	result.EdgesCut = elimination.NumberOfRemovedEdges()

	bodies := make(map[graph.MethodRef]*graph.Code, len(methods))
	for _, m := range methods {
		bodies[m.Ref] = m.Code
	}
	err = callgraph.ProcessWaves(ctx, cg, callgraph.LeavesFirst, func(_ context.Context, ref graph.MethodRef) error {
		if s.isPure(program, bodies[ref]) {
			s.infos.Get(ref).MarkNoSideEffects()
			slog.Debug("proven side-effect free", "method", s.descs.MethodDescriptor(ref))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("method processing: %w", err)
	}

	var pure []string
	for _, m := range methods {
		if s.infos.Get(m.Ref).NoSideEffects() {
			pure = append(pure, s.descs.MethodDescriptor(m.Ref))
		}
	}
	slices.Sort(pure)
	result.PureMethods = len(pure)
	slog.Debug("side-effect-free methods", "methods", pure)
	slog.Info("method processing done", "methods", len(methods), "pure", result.PureMethods, "edgesCut", result.EdgesCut)
	return nil
}

// isPure reports whether a body provably has no side effects: no writes,
// no allocation, and only calls into methods already proven pure. Callee
// facts are reliable because waves drain leaves first. Invoke targets are
// resolved to their declaring method so facts land where the call graph
// recorded them, even when call sites name an inheriting subclass.
func (s *Shrinker) isPure(program *graph.Program, code *graph.Code) bool {
	if code == nil {
		return false
	}
	for _, insn := range code.Instructions {
		switch in := insn.(type) {
		case graph.FieldInstruction:
			if in.Op == graph.StaticPut || in.Op == graph.InstancePut {
				return false
			}
		case graph.TypeInstruction:
			if in.Op == graph.NewInstance {
				return false
			}
		case graph.InvokeInstruction:
			callee := in.Target
			if _, m := program.ResolveMethod(in.Target); m != nil {
				callee = m.Ref
			}
			if !s.infos.Get(callee).NoSideEffects() && !s.keep.IsNoSideEffects(callee) {
				return false
			}
		}
	}
	return true
}

package merge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/shrink/internal/harness"
	"github.com/715d/shrink/internal/keep"
	"github.com/715d/shrink/internal/opt"
	"github.com/715d/shrink/pkg/graph"
	"github.com/715d/shrink/pkg/lens"
)

func runVertical(t *testing.T, program *graph.Program, keepInfo *keep.Info, opts VerticalMergerOptions) (lens.Lens, map[graph.Type]graph.Type) {
	t.Helper()
	if keepInfo == nil {
		keepInfo = keep.NewInfo()
	}
	merger := NewVerticalMerger(program, keepInfo, opt.NewInfoStore(), lens.Identity(), opts)
	l, err := merger.Run()
	require.NoError(t, err)
	return l, merger.MergedClasses()
}

func TestVerticalMergesSuperclassIntoSoleSubclass(t *testing.T) {
	aRun := graph.MethodRef{Holder: "p.A", Name: "run", Proto: graph.NewProto("void")}
	program := harness.NewProgram().
		Class("p.A").
		InstanceField("count", "int", graph.AccPublic).
		VirtualMethod(harness.Method("run")).
		And().
		Class("p.B").Extending("p.A").
		And().
		Class("p.Main").
		DirectMethod(harness.Method("main").Flags(graph.AccPublic | graph.AccStatic).
			TypeUse(graph.NewInstance, "p.A").
			Invoke(graph.InvokeVirtual, aRun)).
		And().
		Build(t)

	l, merged := runVertical(t, program, nil, VerticalMergerOptions{})

	require.Equal(t, map[graph.Type]graph.Type{"p.A": "p.B"}, merged)
	require.Nil(t, program.Class("p.A"))

	host := program.Class("p.B")
	require.NotNil(t, host)
	require.Equal(t, graph.ObjectType, host.Super)
	require.NotNil(t, host.LookupVirtualMethod("run", graph.NewProto("void")))
	require.Len(t, host.InstanceFields, 1)

	// Call sites in untouched classes now reference the host.
	main := program.Class("p.Main").DirectMethods[0]
	invoke := main.Code.Instructions[1].(graph.InvokeInstruction)
	require.Equal(t, graph.Type("p.B"), invoke.Target.Holder)
	alloc := main.Code.Instructions[0].(graph.TypeInstruction)
	require.Equal(t, graph.Type("p.B"), alloc.Target)

	// The lens records where everything went.
	require.Equal(t, graph.Type("p.B"), l.LookupType("p.A"))
	got := l.LookupMethod(aRun, graph.MethodRef{Holder: "p.Main", Name: "main"}, graph.InvokeVirtual)
	require.Equal(t, graph.Type("p.B"), got.Method.Holder)
}

func TestVerticalMergesInterfaceIntoSoleImplementor(t *testing.T) {
	program := harness.NewProgram().
		Interface("p.Runnable").
		VirtualMethod(harness.Method("run").Abstract()).
		And().
		Class("p.Worker").Implementing("p.Runnable").
		VirtualMethod(harness.Method("run")).
		And().
		Build(t)

	_, merged := runVertical(t, program, nil, VerticalMergerOptions{})

	require.Equal(t, map[graph.Type]graph.Type{"p.Runnable": "p.Worker"}, merged)
	host := program.Class("p.Worker")
	require.Empty(t, host.Interfaces)
	// The abstract declaration collapsed onto the implementation.
	require.Len(t, host.VirtualMethods, 1)
	require.Empty(t, host.DirectMethods)
}

func TestVerticalRewritesSuperCallToRenamedDirectCopy(t *testing.T) {
	aGreet := graph.MethodRef{Holder: "p.A", Name: "greet", Proto: graph.NewProto("void")}
	program := harness.NewProgram().
		Class("p.A").
		VirtualMethod(harness.Method("greet")).
		And().
		Class("p.B").Extending("p.A").
		VirtualMethod(harness.Method("greet").
			Invoke(graph.InvokeSuper, aGreet)).
		And().
		Build(t)

	l, _ := runVertical(t, program, nil, VerticalMergerOptions{})

	host := program.Class("p.B")
	// The overridden body survives as a renamed private direct method.
	renamed := host.LookupDirectMethod("greet$A", graph.NewProto("void"))
	require.NotNil(t, renamed)
	require.True(t, renamed.Flags.IsPrivate())

	// The super call inside the host resolves directly to the copy.
	override := host.LookupVirtualMethod("greet", graph.NewProto("void"))
	require.NotNil(t, override)
	invoke := override.Code.Instructions[0].(graph.InvokeInstruction)
	require.Equal(t, renamed.Ref, invoke.Target)
	require.Equal(t, graph.InvokeDirect, invoke.Kind)

	// Virtual dispatch of the merged method lands on the override, and
	// the renamed copy maps back to its pre-merge signature.
	got := l.LookupMethod(aGreet, graph.MethodRef{Holder: "p.Other", Name: "x"}, graph.InvokeVirtual)
	require.Equal(t, override.Ref, got.Method)
	require.Equal(t, aGreet, l.OriginalMethodSignature(renamed.Ref))
	require.False(t, l.IsContextFreeForMethods())
}

func TestVerticalLeavesUnrelatedSuperCallsAlone(t *testing.T) {
	// A super call whose target is a same-named method outside the merge
	// must not be redirected; redirects key on the merged method only.
	aGreet := graph.MethodRef{Holder: "p.A", Name: "greet", Proto: graph.NewProto("void")}
	selfGreet := graph.MethodRef{Holder: "p.Other", Name: "greet", Proto: graph.NewProto("void")}
	program := harness.NewProgram().
		Class("p.A").
		VirtualMethod(harness.Method("greet")).
		And().
		Class("p.B").Extending("p.A").
		VirtualMethod(harness.Method("greet").
			Invoke(graph.InvokeSuper, aGreet)).
		And().
		Class("p.Other").
		VirtualMethod(harness.Method("greet").
			Invoke(graph.InvokeSuper, selfGreet)).
		And().
		Build(t)

	_, merged := runVertical(t, program, nil, VerticalMergerOptions{})
	require.Equal(t, map[graph.Type]graph.Type{"p.A": "p.B"}, merged)

	other := program.Class("p.Other").VirtualMethods[0]
	invoke := other.Code.Instructions[0].(graph.InvokeInstruction)
	require.Equal(t, graph.InvokeSuper, invoke.Kind)
	require.Equal(t, selfGreet, invoke.Target)
}

func TestVerticalCollapsesConstructorIntoDirectMethod(t *testing.T) {
	aInit := graph.MethodRef{Holder: "p.A", Name: graph.InstanceInitializerName, Proto: graph.NewProto("void")}
	program := harness.NewProgram().
		Class("p.A").
		DirectMethod(harness.Constructor()).
		And().
		Class("p.B").Extending("p.A").
		DirectMethod(harness.Constructor().
			Invoke(graph.InvokeDirect, aInit)).
		And().
		Build(t)

	_, _ = runVertical(t, program, nil, VerticalMergerOptions{})

	host := program.Class("p.B")
	collapsed := host.LookupDirectMethod("constructor$A", graph.NewProto("void"))
	require.NotNil(t, collapsed)
	require.True(t, collapsed.Flags.IsPrivate())
	require.False(t, collapsed.Flags.IsConstructor())

	// The chained super(...) call now invokes the collapsed method.
	ctor := host.LookupDirectMethod(graph.InstanceInitializerName, graph.NewProto("void"))
	require.NotNil(t, ctor)
	invoke := ctor.Code.Instructions[0].(graph.InvokeInstruction)
	require.Equal(t, collapsed.Ref, invoke.Target)
	require.Equal(t, graph.InvokeDirect, invoke.Kind)
}

func TestVerticalRenamesCollidingMembersDeterministically(t *testing.T) {
	program := harness.NewProgram().
		Class("p.A").
		InstanceField("state", "int", graph.AccPrivate).
		And().
		Class("p.B").Extending("p.A").
		InstanceField("state", "int", graph.AccPrivate).
		InstanceField("state$A", "int", graph.AccPrivate).
		And().
		Build(t)

	_, _ = runVertical(t, program, nil, VerticalMergerOptions{})

	host := program.Class("p.B")
	var names []string
	for _, f := range host.InstanceFields {
		names = append(names, f.Ref.Name)
	}
	// Both host names were taken, so the relocated field takes the next
	// numeric suffix.
	require.ElementsMatch(t, []string{"state", "state$A", "state$A2"}, names)
}

func TestVerticalRewritesSignaturesMentioningMergedType(t *testing.T) {
	program := harness.NewProgram().
		Class("p.A").
		And().
		Class("p.B").Extending("p.A").
		And().
		Class("p.Factory").
		InstanceField("cached", "p.A", graph.AccPrivate).
		VirtualMethod(harness.Method("make").Proto("p.A", "p.A")).
		And().
		Build(t)

	l, _ := runVertical(t, program, nil, VerticalMergerOptions{})

	factory := program.Class("p.Factory")
	require.Equal(t, graph.Type("p.B"), factory.InstanceFields[0].Ref.Type)
	made := factory.VirtualMethods[0]
	require.Equal(t, graph.NewProto("p.B", "p.B"), made.Ref.Proto)

	// The old signature still resolves through the lens.
	old := graph.MethodRef{Holder: "p.Factory", Name: "make", Proto: graph.NewProto("p.A", "p.A")}
	got := l.LookupMethod(old, graph.MethodRef{Holder: "p.X", Name: "x"}, graph.InvokeVirtual)
	require.Equal(t, made.Ref, got.Method)
}

func TestVerticalRejectsPinnedAndNeverMergeSources(t *testing.T) {
	build := func(t *testing.T) *graph.Program {
		return harness.NewProgram().
			Class("p.A").And().
			Class("p.B").Extending("p.A").And().
			Build(t)
	}

	pinned := keep.NewInfo()
	pinned.PinType("p.A")
	program := build(t)
	_, merged := runVertical(t, program, pinned, VerticalMergerOptions{})
	require.Empty(t, merged)
	require.NotNil(t, program.Class("p.A"))

	never := keep.NewInfo()
	never.NeverMerge("p.A")
	program = build(t)
	_, merged = runVertical(t, program, never, VerticalMergerOptions{})
	require.Empty(t, merged)
}

func TestVerticalRejectsMultipleSubtypes(t *testing.T) {
	program := harness.NewProgram().
		Class("p.A").And().
		Class("p.B").Extending("p.A").And().
		Class("p.C").Extending("p.A").And().
		Build(t)

	_, merged := runVertical(t, program, nil, VerticalMergerOptions{})
	require.Empty(t, merged)
}

func TestVerticalRejectsSideEffectfulClassInitializer(t *testing.T) {
	program := harness.NewProgram().
		Class("p.A").
		StaticField("table", "int", graph.AccPrivate).
		DirectMethod(harness.ClassInitializer().Opaque("fill-table")).
		And().
		Class("p.B").Extending("p.A").And().
		Build(t)

	_, merged := runVertical(t, program, nil, VerticalMergerOptions{})
	require.Empty(t, merged)
}

func TestVerticalAcceptsPureClassInitializer(t *testing.T) {
	clinit := harness.ClassInitializer()
	program := harness.NewProgram().
		Class("p.A").
		DirectMethod(clinit).
		And().
		Class("p.B").Extending("p.A").And().
		Build(t)

	pure := keep.NewInfo()
	pure.NoSideEffects(graph.MethodRef{Holder: "p.A", Name: graph.ClassInitializerName, Proto: graph.NewProto("void")})
	_, merged := runVertical(t, program, pure, VerticalMergerOptions{})
	require.Equal(t, map[graph.Type]graph.Type{"p.A": "p.B"}, merged)
}

func TestVerticalRejectsInterfaceUsedAsCatchType(t *testing.T) {
	program := harness.NewProgram().
		Interface("p.Marker").And().
		Class("p.Impl").Implementing("p.Marker").And().
		Class("p.User").
		VirtualMethod(harness.Method("guard").Opaque("work").Catch("p.Marker", 0)).
		And().
		Build(t)

	_, merged := runVertical(t, program, nil, VerticalMergerOptions{})
	require.Empty(t, merged)
}

func TestVerticalRejectsCollidingNonPrivateSignatures(t *testing.T) {
	// Same name and arity with a different prototype cannot coexist after
	// the merge, and neither member may be renamed.
	program := harness.NewProgram().
		Class("p.A").
		VirtualMethod(harness.Method("value").Proto("int", "int")).
		And().
		Class("p.B").Extending("p.A").
		VirtualMethod(harness.Method("value").Proto("long", "int")).
		And().
		Build(t)

	_, merged := runVertical(t, program, nil, VerticalMergerOptions{})
	require.Empty(t, merged)
}

func TestVerticalCrossPackageNeedsAccessModification(t *testing.T) {
	build := func(t *testing.T) *graph.Program {
		return harness.NewProgram().
			Class("p.A").
			VirtualMethod(harness.Method("helper").Flags(0)). // package-private
			And().
			Class("q.B").Extending("p.A").And().
			Build(t)
	}

	program := build(t)
	_, merged := runVertical(t, program, nil, VerticalMergerOptions{})
	require.Empty(t, merged)

	program = build(t)
	_, merged = runVertical(t, program, nil, VerticalMergerOptions{AllowAccessModification: true})
	require.Equal(t, map[graph.Type]graph.Type{"p.A": "q.B"}, merged)
}

func TestVerticalTargetNotReusedAsSourceInSamePass(t *testing.T) {
	// A three-deep chain merges only one level per pass; the next pass
	// picks up the rest.
	program := harness.NewProgram().
		Class("p.A").And().
		Class("p.B").Extending("p.A").And().
		Class("p.C").Extending("p.B").And().
		Build(t)

	_, merged := runVertical(t, program, nil, VerticalMergerOptions{})
	require.Equal(t, map[graph.Type]graph.Type{"p.A": "p.B"}, merged)
	require.Equal(t, 2, program.Size())
}

package shrink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/shrink/internal/harness"
	"github.com/715d/shrink/internal/keep"
	"github.com/715d/shrink/pkg/graph"
)

func TestRunAppliesBothPassesAndComposesTheLens(t *testing.T) {
	baseRun := graph.MethodRef{Holder: "app.Base", Name: "run", Proto: graph.NewProto("void")}
	utilLog := graph.MethodRef{Holder: "app.UtilB", Name: "log", Proto: graph.NewProto("void")}

	program := harness.NewProgram().
		// Vertical candidate: app.Base folds into app.Impl.
		Class("app.Base").
		VirtualMethod(harness.Method("run")).
		And().
		Class("app.Impl").Extending("app.Base").
		And().
		// Static candidates: app.UtilB's members move into app.UtilA.
		Class("app.UtilA").
		DirectMethod(harness.Method("format").Flags(graph.AccPublic | graph.AccStatic)).
		And().
		Class("app.UtilB").
		DirectMethod(harness.Method("log").Flags(graph.AccPublic | graph.AccStatic)).
		And().
		Class("app.Main").
		DirectMethod(harness.Method("main").Flags(graph.AccPublic | graph.AccStatic).
			Invoke(graph.InvokeVirtual, baseRun).
			Invoke(graph.InvokeStatic, utilLog)).
		And().
		Build(t)

	// The entry class is pinned, as a keep rule would in any real run;
	// otherwise it would qualify as a static merge host itself.
	k := keep.NewInfo()
	k.PinType("app.Main")
	result, err := NewShrinker(k, DefaultOptions()).Run(context.Background(), program)
	require.NoError(t, err)

	require.Equal(t, map[graph.Type]graph.Type{"app.Base": "app.Impl"}, result.VerticallyMerged)
	require.Nil(t, program.Class("app.Base"))
	require.Equal(t, 1, result.StaticallyMergedMembers)
	require.False(t, program.Class("app.UtilB").HasMembers())

	// Both rewrites are visible through one composed lens, and the
	// program's own call sites were rewritten with it.
	main := program.Class("app.Main").DirectMethods[0]
	runCall := main.Code.Instructions[0].(graph.InvokeInstruction)
	require.Equal(t, graph.Type("app.Impl"), runCall.Target.Holder)
	logCall := main.Code.Instructions[1].(graph.InvokeInstruction)
	require.Equal(t, graph.Type("app.UtilA"), logCall.Target.Holder)

	require.Equal(t, graph.Type("app.Impl"), result.Lens.LookupType("app.Base"))
	got := result.Lens.LookupMethod(utilLog, graph.MethodRef{Holder: "x.X", Name: "x"}, graph.InvokeStatic)
	require.Equal(t, graph.Type("app.UtilA"), got.Method.Holder)
}

func TestRunDisabledPassesLeaveProgramIntact(t *testing.T) {
	program := harness.NewProgram().
		Class("app.Base").And().
		Class("app.Impl").Extending("app.Base").And().
		Class("app.Util").
		DirectMethod(harness.Method("log").Flags(graph.AccPublic | graph.AccStatic)).
		And().
		Build(t)

	opts := DefaultOptions()
	opts.VerticalMerging = false
	opts.StaticMerging = false
	result, err := NewShrinker(nil, opts).Run(context.Background(), program)
	require.NoError(t, err)

	require.Empty(t, result.VerticallyMerged)
	require.Zero(t, result.StaticallyMergedMembers)
	require.Equal(t, 3, program.Size())
	require.NotNil(t, program.Class("app.Base"))
}

func TestRunRejectsMalformedPrograms(t *testing.T) {
	_, err := NewShrinker(nil, DefaultOptions()).Run(context.Background(), &graph.Program{})
	require.ErrorContains(t, err, "no classes")

	program := harness.NewProgram().Class("app.A").Extending("app.Missing").And().Build(t)
	_, err = NewShrinker(nil, DefaultOptions()).Run(context.Background(), program)
	require.ErrorContains(t, err, "malformed program")
}

func TestRunRejectsCyclicSuperEdges(t *testing.T) {
	// A super-edge cycle must fail validation up front; the merge passes
	// and the resolution walks all assume an acyclic hierarchy.
	program := harness.NewProgram().
		Class("app.A").Extending("app.B").
		VirtualMethod(harness.Method("m").Invoke(graph.InvokeVirtual, graph.MethodRef{
			Holder: "app.B", Name: "m", Proto: graph.NewProto("void"),
		})).
		And().
		Class("app.B").Extending("app.C").And().
		Class("app.C").Extending("app.A").And().
		Build(t)

	_, err := NewShrinker(nil, DefaultOptions()).Run(context.Background(), program)
	require.ErrorContains(t, err, "malformed program")
	require.ErrorContains(t, err, "cycle")
}

func TestRunMarksTransitivelyPureMethods(t *testing.T) {
	leaf := graph.MethodRef{Holder: "app.Calc", Name: "add", Proto: graph.NewProto("int", "int", "int")}

	program := harness.NewProgram().
		Class("app.Calc").
		StaticField("total", "int", graph.AccPrivate).
		DirectMethod(harness.Method("add").Proto("int", "int", "int").
			Flags(graph.AccPublic | graph.AccStatic).Opaque("add-int")).
		DirectMethod(harness.Method("sum").Proto("int").
			Flags(graph.AccPublic | graph.AccStatic).
			Invoke(graph.InvokeStatic, leaf)).
		DirectMethod(harness.Method("bump").Flags(graph.AccPublic | graph.AccStatic).
			FieldAccess(graph.StaticPut, graph.FieldRef{Holder: "app.Calc", Name: "total", Type: "int"})).
		And().
		Build(t)

	opts := DefaultOptions()
	opts.VerticalMerging = false
	opts.StaticMerging = false
	result, err := NewShrinker(nil, opts).Run(context.Background(), program)
	require.NoError(t, err)

	// add and sum are pure, the field write is not.
	require.Equal(t, 2, result.PureMethods)
}

func TestRunResolvesInheritedCalleesForPurity(t *testing.T) {
	// The call site names the subclass, but the method lives on the
	// superclass; the purity fact must be found on the declaring method.
	inherited := graph.MethodRef{Holder: "app.Sub", Name: "calc", Proto: graph.NewProto("int")}

	program := harness.NewProgram().
		Class("app.Base").
		VirtualMethod(harness.Method("calc").Proto("int").Opaque("const-int")).
		And().
		Class("app.Sub").Extending("app.Base").And().
		Class("app.Main").
		DirectMethod(harness.Method("use").Flags(graph.AccPublic | graph.AccStatic).
			Invoke(graph.InvokeVirtual, inherited)).
		And().
		Build(t)

	opts := DefaultOptions()
	opts.VerticalMerging = false
	opts.StaticMerging = false
	result, err := NewShrinker(nil, opts).Run(context.Background(), program)
	require.NoError(t, err)

	// calc is a pure leaf and use only calls it.
	require.Equal(t, 2, result.PureMethods)
}

func TestRunBreaksRecursionCycles(t *testing.T) {
	ping := graph.MethodRef{Holder: "app.Game", Name: "ping", Proto: graph.NewProto("void")}
	pong := graph.MethodRef{Holder: "app.Game", Name: "pong", Proto: graph.NewProto("void")}

	program := harness.NewProgram().
		Class("app.Game").
		DirectMethod(harness.Method("ping").Flags(graph.AccPublic | graph.AccStatic).
			Invoke(graph.InvokeStatic, pong)).
		DirectMethod(harness.Method("pong").Flags(graph.AccPublic | graph.AccStatic).
			Invoke(graph.InvokeStatic, ping)).
		And().
		Build(t)

	result, err := NewShrinker(nil, DefaultOptions()).Run(context.Background(), program)
	require.NoError(t, err)
	require.Equal(t, 1, result.EdgesCut)
}

func TestRunHonorsKeepRules(t *testing.T) {
	program := harness.NewProgram().
		Class("app.Base").And().
		Class("app.Impl").Extending("app.Base").And().
		Build(t)

	k := keep.NewInfo()
	k.PinType("app.Base")
	result, err := NewShrinker(k, DefaultOptions()).Run(context.Background(), program)
	require.NoError(t, err)
	require.Empty(t, result.VerticallyMerged)
	require.NotNil(t, program.Class("app.Base"))
}

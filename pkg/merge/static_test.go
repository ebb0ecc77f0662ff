package merge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/shrink/internal/harness"
	"github.com/715d/shrink/internal/keep"
	"github.com/715d/shrink/internal/opt"
	"github.com/715d/shrink/pkg/graph"
	"github.com/715d/shrink/pkg/lens"
)

func runStatic(t *testing.T, program *graph.Program, keepInfo *keep.Info, opts StaticMergerOptions) lens.Lens {
	t.Helper()
	if keepInfo == nil {
		keepInfo = keep.NewInfo()
	}
	l, err := NewStaticMerger(program, keepInfo, opt.NewInfoStore(), lens.Identity(), opts).Run()
	require.NoError(t, err)
	return l
}

func staticUtil(p *harness.ProgramBuilder, name graph.Type, methods ...string) *harness.ProgramBuilder {
	b := p.Class(name)
	for _, m := range methods {
		b.DirectMethod(harness.Method(m).Flags(graph.AccPublic | graph.AccStatic))
	}
	return b.And()
}

func TestStaticMergeConsolidatesUtilityClasses(t *testing.T) {
	p := harness.NewProgram()
	p = staticUtil(p, "p.UtilA", "alpha")
	p = staticUtil(p, "p.UtilB", "beta")
	p = staticUtil(p, "p.UtilC", "gamma")
	program := p.Build(t)

	l := runStatic(t, program, nil, StaticMergerOptions{})

	// The first class in deterministic order hosts everyone else's
	// members; the emptied classes stay in the program.
	host := program.Class("p.UtilA")
	require.Len(t, host.DirectMethods, 3)
	require.False(t, program.Class("p.UtilB").HasMembers())
	require.False(t, program.Class("p.UtilC").HasMembers())
	require.Equal(t, 3, program.Size())

	beta := graph.MethodRef{Holder: "p.UtilB", Name: "beta", Proto: graph.NewProto("void")}
	got := l.LookupMethod(beta, graph.MethodRef{Holder: "p.X", Name: "x"}, graph.InvokeStatic)
	require.Equal(t, graph.Type("p.UtilA"), got.Method.Holder)
	require.Equal(t, beta, l.OriginalMethodSignature(got.Method))
}

func TestStaticMergeRenamesExactSignatureCollisions(t *testing.T) {
	p := harness.NewProgram()
	p = staticUtil(p, "p.UtilA", "init")
	p = staticUtil(p, "p.UtilB", "init")
	program := p.Build(t)

	runStatic(t, program, nil, StaticMergerOptions{})

	host := program.Class("p.UtilA")
	require.Len(t, host.DirectMethods, 2)
	require.NotNil(t, host.LookupDirectMethod("init", graph.NewProto("void")))
	require.NotNil(t, host.LookupDirectMethod("init$UtilB", graph.NewProto("void")))
}

func TestStaticMergeCriteriaRejections(t *testing.T) {
	ref := func(holder graph.Type, name string) graph.MethodRef {
		return graph.MethodRef{Holder: holder, Name: name, Proto: graph.NewProto("void")}
	}

	tests := []struct {
		name  string
		build func(p *harness.ProgramBuilder)
		keep  func(k *keep.Info)
	}{
		{
			name: "instance fields",
			build: func(p *harness.ProgramBuilder) {
				p.Class("p.Util").
					InstanceField("state", "int", graph.AccPrivate).
					DirectMethod(harness.Method("m").Flags(graph.AccPublic | graph.AccStatic))
			},
		},
		{
			name: "instance initializer",
			build: func(p *harness.ProgramBuilder) {
				p.Class("p.Util").DirectMethod(harness.Constructor())
			},
		},
		{
			name: "class initializer",
			build: func(p *harness.ProgramBuilder) {
				p.Class("p.Util").
					DirectMethod(harness.ClassInitializer()).
					DirectMethod(harness.Method("m").Flags(graph.AccPublic | graph.AccStatic))
			},
		},
		{
			name: "non-private virtual",
			build: func(p *harness.ProgramBuilder) {
				p.Class("p.Util").VirtualMethod(harness.Method("m"))
			},
		},
		{
			name: "native method",
			build: func(p *harness.ProgramBuilder) {
				p.Class("p.Util").DirectMethod(harness.Method("m").
					Flags(graph.AccPublic | graph.AccStatic | graph.AccNative).Abstract())
			},
		},
		{
			name: "pinned type",
			build: func(p *harness.ProgramBuilder) {
				p.Class("p.Util").DirectMethod(harness.Method("m").Flags(graph.AccPublic | graph.AccStatic))
			},
			keep: func(k *keep.Info) { k.PinType("p.Util") },
		},
		{
			name: "pinned method",
			build: func(p *harness.ProgramBuilder) {
				p.Class("p.Util").DirectMethod(harness.Method("m").Flags(graph.AccPublic | graph.AccStatic))
			},
			keep: func(k *keep.Info) { k.PinMethod(ref("p.Util", "m")) },
		},
		{
			name: "always-inline method",
			build: func(p *harness.ProgramBuilder) {
				p.Class("p.Util").DirectMethod(harness.Method("m").Flags(graph.AccPublic | graph.AccStatic))
			},
			keep: func(k *keep.Info) { k.AlwaysInline(ref("p.Util", "m")) },
		},
		{
			name: "side-effecting superclass initializer",
			build: func(p *harness.ProgramBuilder) {
				p.Class("p.Base").DirectMethod(harness.ClassInitializer().Opaque("touch"))
				p.Class("p.Util").Extending("p.Base").
					DirectMethod(harness.Method("m").Flags(graph.AccPublic | graph.AccStatic))
			},
		},
		{
			name: "library superclass",
			build: func(p *harness.ProgramBuilder) {
				p.Class("p.Util").Extending("java.util.AbstractList").
					DirectMethod(harness.Method("m").Flags(graph.AccPublic | graph.AccStatic))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := harness.NewProgram()
			tt.build(p)
			// A well-formed partner candidate, so a wrongly accepted class
			// would have something to merge with.
			p = staticUtil(p, "p.Partner", "other")
			program := p.Build(t)

			k := keep.NewInfo()
			if tt.keep != nil {
				tt.keep(k)
			}
			runStatic(t, program, k, StaticMergerOptions{})
			require.True(t, program.Class("p.Util").HasMembers(),
				"class should not have been merged away")
		})
	}
}

func TestStaticMergeRespectsRepresentativeCapacity(t *testing.T) {
	// Three classes with one identically named method each: with capacity
	// 2 the third class cannot join and becomes the new representative.
	p := harness.NewProgram()
	p = staticUtil(p, "p.UtilA", "work")
	p = staticUtil(p, "p.UtilB", "work")
	p = staticUtil(p, "p.UtilC", "work")
	program := p.Build(t)

	runStatic(t, program, nil, StaticMergerOptions{RepresentativeCapacity: 2})

	require.Len(t, program.Class("p.UtilA").DirectMethods, 2)
	require.False(t, program.Class("p.UtilB").HasMembers())
	require.True(t, program.Class("p.UtilC").HasMembers())
}

func TestStaticMergeGloballyAcrossPackages(t *testing.T) {
	// Public classes with private-or-public members merge across package
	// boundaries through the global representative.
	p := harness.NewProgram()
	p = staticUtil(p, "a.Util", "first")
	p = staticUtil(p, "b.Util", "second")
	program := p.Build(t)

	runStatic(t, program, nil, StaticMergerOptions{})

	require.Len(t, program.Class("a.Util").DirectMethods, 2)
	require.False(t, program.Class("b.Util").HasMembers())
}

func TestStaticMergeStaysInPackageForRestrictedClasses(t *testing.T) {
	// Package-private classes must not merge across packages.
	p := harness.NewProgram()
	p.Class("a.Util").Flags(0).
		DirectMethod(harness.Method("first").Flags(graph.AccPublic | graph.AccStatic))
	p.Class("b.Util").Flags(0).
		DirectMethod(harness.Method("second").Flags(graph.AccPublic | graph.AccStatic))
	program := p.Build(t)

	runStatic(t, program, nil, StaticMergerOptions{})

	require.True(t, program.Class("a.Util").HasMembers())
	require.True(t, program.Class("b.Util").HasMembers())
}

func TestStaticMergeFlipsDirectionTowardMoreVisibleHost(t *testing.T) {
	// Inside one package, a public candidate takes over hosting from a
	// package-private representative: members only move into a host at
	// least as visible.
	p := harness.NewProgram()
	p.Class("p.AHidden").Flags(0).
		DirectMethod(harness.Method("first").Flags(0 | graph.AccStatic))
	p.Class("p.Open").
		DirectMethod(harness.Method("second").Flags(0 | graph.AccStatic))
	program := p.Build(t)

	runStatic(t, program, nil, StaticMergerOptions{})

	require.False(t, program.Class("p.AHidden").HasMembers())
	require.Len(t, program.Class("p.Open").DirectMethods, 2)
}

func TestStaticMergeKeepsMainDexPartitionsApart(t *testing.T) {
	p := harness.NewProgram()
	p = staticUtil(p, "p.Root", "boot")
	p = staticUtil(p, "p.Dep", "load")
	p = staticUtil(p, "p.Rest", "run")
	program := p.Build(t)

	k := keep.NewInfo()
	k.AddMainDexRoot("p.Root")
	k.AddMainDexDependency("p.Dep")
	runStatic(t, program, k, StaticMergerOptions{})

	// Each class sits in its own partition; nothing may merge.
	require.True(t, program.Class("p.Root").HasMembers())
	require.True(t, program.Class("p.Dep").HasMembers())
	require.True(t, program.Class("p.Rest").HasMembers())
}

func TestStaticMergeGroupsMainDexClassesTogether(t *testing.T) {
	p := harness.NewProgram()
	p = staticUtil(p, "p.RootA", "boot")
	p = staticUtil(p, "p.RootB", "init")
	p = staticUtil(p, "p.Rest", "run")
	program := p.Build(t)

	k := keep.NewInfo()
	k.AddMainDexRoot("p.RootA")
	k.AddMainDexRoot("p.RootB")
	runStatic(t, program, k, StaticMergerOptions{})

	require.Len(t, program.Class("p.RootA").DirectMethods, 2)
	require.False(t, program.Class("p.RootB").HasMembers())
	require.True(t, program.Class("p.Rest").HasMembers())
}

func TestAggressiveOverloadingPacksBySignatureOnly(t *testing.T) {
	// Distinct names with the same prototype share a bucket under
	// aggressive overloading, so capacity 2 fills after two classes.
	build := func(t *testing.T) *graph.Program {
		p := harness.NewProgram()
		for i, name := range []string{"p.UtilA", "p.UtilB", "p.UtilC"} {
			p = staticUtil(p, graph.Type(name), fmt.Sprintf("method%d", i))
		}
		return p.Build(t)
	}

	// Without aggressive overloading the distinct names never collide and
	// all three merge.
	program := build(t)
	runStatic(t, program, nil, StaticMergerOptions{RepresentativeCapacity: 2})
	require.Len(t, program.Class("p.UtilA").DirectMethods, 3)

	program = build(t)
	runStatic(t, program, nil, StaticMergerOptions{RepresentativeCapacity: 2, AggressiveOverloading: true})
	require.Len(t, program.Class("p.UtilA").DirectMethods, 2)
	require.True(t, program.Class("p.UtilC").HasMembers())
}

func TestRepresentativeFullness(t *testing.T) {
	class := &graph.Class{Type: "p.Util", Super: graph.ObjectType, Flags: graph.AccPublic}
	for i := range 3 {
		class.DirectMethods = append(class.DirectMethods, &graph.Method{
			Ref:   graph.MethodRef{Holder: "p.Util", Name: fmt.Sprintf("m%d", i), Proto: graph.NewProto("void")},
			Flags: graph.AccPublic | graph.AccStatic,
			Code:  &graph.Code{},
		})
	}

	// Distinct names occupy distinct buckets.
	rep := newRepresentative(class, false)
	require.False(t, rep.isFull(1))

	// Name-stripped, all three share one bucket.
	rep = newRepresentative(class, true)
	require.True(t, rep.isFull(2))
	require.False(t, rep.isFull(3))
}

package keep

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/shrink/pkg/graph"
)

func TestParseFullConfiguration(t *testing.T) {
	data := []byte(`
pinned_types:
  - app.Main
pinned_fields:
  - holder: app.Main
    name: VERSION
    type: java.lang.String
pinned_methods:
  - holder: app.Main
    name: main
    return: void
    params: ["java.lang.String[]"]
never_merge:
  - app.Plugin
always_inline:
  - holder: app.Util
    name: check
    return: boolean
no_side_effects:
  - holder: app.Util
    name: <clinit>
    return: void
main_dex:
  roots:
    - app.Boot
  dependencies:
    - app.Config
`)

	info, err := Parse(data)
	require.NoError(t, err)

	require.True(t, info.IsTypePinned("app.Main"))
	require.False(t, info.IsTypePinned("app.Other"))

	require.True(t, info.IsFieldPinned(graph.FieldRef{
		Holder: "app.Main", Name: "VERSION", Type: "java.lang.String",
	}))

	main := graph.MethodRef{
		Holder: "app.Main", Name: "main",
		Proto: graph.NewProto("void", "java.lang.String[]"),
	}
	require.True(t, info.IsMethodPinned(main))
	// The prototype is part of the identity.
	require.False(t, info.IsMethodPinned(main.WithName("other")))

	require.True(t, info.IsNeverMerge("app.Plugin"))
	require.True(t, info.IsAlwaysInline(graph.MethodRef{
		Holder: "app.Util", Name: "check", Proto: graph.NewProto("boolean"),
	}))
	require.True(t, info.IsNoSideEffects(graph.MethodRef{
		Holder: "app.Util", Name: graph.ClassInitializerName, Proto: graph.NewProto("void"),
	}))

	require.True(t, info.HasMainDexPartition())
	require.True(t, info.IsMainDexRoot("app.Boot"))
	require.True(t, info.IsMainDexDependency("app.Config"))
	require.False(t, info.IsMainDexRoot("app.Config"))
}

func TestParseEmptyConfiguration(t *testing.T) {
	info, err := Parse([]byte(""))
	require.NoError(t, err)
	require.False(t, info.HasMainDexPartition())
	require.False(t, info.IsTypePinned("app.Main"))
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("pinned_types: {oops"))
	require.ErrorContains(t, err, "parse keep config")
}

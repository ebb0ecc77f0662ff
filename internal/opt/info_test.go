package opt

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/shrink/pkg/graph"
)

func mref(holder, name string) graph.MethodRef {
	return graph.MethodRef{
		Holder: graph.Type(holder),
		Name:   name,
		Proto:  graph.NewProto("void"),
	}
}

func TestGetReturnsSameRecordForSameRef(t *testing.T) {
	store := NewInfoStore()
	ref := mref("p.A", "run")

	info := store.Get(ref)
	info.MarkForceInline()

	require.Same(t, info, store.Get(ref))
	require.True(t, store.Get(ref).ForceInline())
	require.False(t, store.Get(mref("p.A", "other")).ForceInline())
}

func TestRenameCarriesMarksToNewReference(t *testing.T) {
	store := NewInfoStore()
	from := mref("p.A", "run")
	to := mref("p.B", "run$A")

	store.Get(from).MarkNoSideEffects()
	store.Rename(from, to)

	require.True(t, store.Get(to).NoSideEffects())
	// The old reference now resolves to a fresh, unmarked record.
	require.False(t, store.Get(from).NoSideEffects())
}

func TestRenameWithoutRecordIsNoOp(t *testing.T) {
	store := NewInfoStore()
	store.Rename(mref("p.A", "gone"), mref("p.B", "gone"))
	require.False(t, store.Get(mref("p.B", "gone")).ForceInline())
}

func TestConcurrentGetAndMark(t *testing.T) {
	store := NewInfoStore()
	ref := mref("p.A", "run")

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Get(ref).MarkNoSideEffects()
		}()
	}
	wg.Wait()

	require.True(t, store.Get(ref).NoSideEffects())
}

func TestDescriptorCacheRendersCanonicalForms(t *testing.T) {
	cache := NewDescriptorCache()

	m := graph.MethodRef{
		Holder: graph.Type("p.A"),
		Name:   "combine",
		Proto:  graph.NewProto("int", "int", "p.B"),
	}
	require.Equal(t, "int p.A.combine(int,p.B)", cache.MethodDescriptor(m))
	require.Equal(t, m.String(), cache.MethodDescriptor(m))

	f := graph.FieldRef{Holder: graph.Type("p.A"), Name: "count", Type: graph.Type("int")}
	require.Equal(t, "int p.A.count", cache.FieldDescriptor(f))
}

func TestDescriptorCacheConcurrentRendering(t *testing.T) {
	cache := NewDescriptorCache()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := mref("p.A", fmt.Sprintf("m%d", i%8))
			require.Equal(t, ref.String(), cache.MethodDescriptor(ref))
		}(i)
	}
	wg.Wait()
}

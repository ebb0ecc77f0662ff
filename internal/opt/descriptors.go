package opt

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/shrink/pkg/graph"
)

// DescriptorCache memoizes the canonical string form of method and field
// references. Rendering descriptors is hot during mapping output and
// sorted-order computations, and the same references recur across
// passes, so results are cached in concurrent maps.
type DescriptorCache struct {
	methodCache *xsync.Map[graph.MethodRef, string]
	fieldCache  *xsync.Map[graph.FieldRef, string]
}

func NewDescriptorCache() *DescriptorCache {
	return &DescriptorCache{
		methodCache: xsync.NewMap[graph.MethodRef, string](),
		fieldCache:  xsync.NewMap[graph.FieldRef, string](),
	}
}

// MethodDescriptor returns the canonical descriptor for a method.
func (c *DescriptorCache) MethodDescriptor(ref graph.MethodRef) string {
	if s, ok := c.methodCache.Load(ref); ok {
		return s
	}
	s := ref.String()
	c.methodCache.Store(ref, s)
	return s
}

// FieldDescriptor returns the canonical descriptor for a field.
func (c *DescriptorCache) FieldDescriptor(ref graph.FieldRef) string {
	if s, ok := c.fieldCache.Load(ref); ok {
		return s
	}
	s := ref.String()
	c.fieldCache.Store(ref, s)
	return s
}

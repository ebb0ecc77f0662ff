// Package opt carries per-method optimization state shared between the
// call-graph build and the merge passes.
package opt

import (
	"sync"

	"github.com/715d/shrink/pkg/graph"
)

// MethodInfo is the mutable optimization info attached to one method.
type MethodInfo struct {
	mu            sync.Mutex
	forceInline   bool
	noSideEffects bool
}

// MarkForceInline flags the method as a mandatory inlining target. The
// cycle eliminator prefers cutting edges into such methods so that forced
// inlining is never blocked by a call cycle.
func (i *MethodInfo) MarkForceInline() {
	i.mu.Lock()
	i.forceInline = true
	i.mu.Unlock()
}

// ForceInline reports whether the method must be inlined.
func (i *MethodInfo) ForceInline() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.forceInline
}

// MarkNoSideEffects flags the method body as side-effect free.
func (i *MethodInfo) MarkNoSideEffects() {
	i.mu.Lock()
	i.noSideEffects = true
	i.mu.Unlock()
}

// NoSideEffects reports whether the method body is side-effect free.
func (i *MethodInfo) NoSideEffects() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.noSideEffects
}

// InfoStore hands out the MethodInfo for a method reference, creating it
// on first request. Safe for concurrent use.
type InfoStore struct {
	infos map[graph.MethodRef]*MethodInfo
	mu    sync.Mutex
}

// NewInfoStore creates an empty store.
func NewInfoStore() *InfoStore {
	return &InfoStore{infos: make(map[graph.MethodRef]*MethodInfo)}
}

// Get returns the info record for ref, creating it if needed.
func (s *InfoStore) Get(ref graph.MethodRef) *MethodInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[ref]
	if !ok {
		info = &MethodInfo{}
		s.infos[ref] = info
	}
	return info
}

// Rename moves the info record for a renamed method to its new
// reference, so force-inline and purity marks survive merging.
func (s *InfoStore) Rename(from, to graph.MethodRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.infos[from]; ok {
		delete(s.infos, from)
		s.infos[to] = info
	}
}

// Package callgraph builds the method-calls-method graph for a batch of
// methods, eliminates cycles, and drains the graph in dependency-ordered
// waves for parallel method processing.
package callgraph

import (
	"slices"
	"sync"

	"github.com/715d/shrink/internal/opt"
	"github.com/715d/shrink/pkg/graph"
)

// Node wraps one method in the call graph. Caller/callee registration is
// safe under concurrent discovery from multiple scanning goroutines; all
// other operations run single-threaded after the build completes.
type Node struct {
	Method graph.MethodRef
	Info   *opt.MethodInfo

	// index is the node's position in the batch's deterministic order,
	// assigned once when the graph is sealed.
	index int

	mu      sync.Mutex
	callers map[*Node]struct{}
	callees map[*Node]struct{}
}

// NewNode creates an unconnected node.
func NewNode(method graph.MethodRef, info *opt.MethodInfo) *Node {
	return &Node{
		Method:  method,
		Info:    info,
		callers: make(map[*Node]struct{}),
		callees: make(map[*Node]struct{}),
	}
}

// AddCallerConcurrently registers the edge caller -> n. Safe for
// concurrent use; duplicate additions collapse into one edge. The two
// per-node locks are taken in sequence, never nested.
func (n *Node) AddCallerConcurrently(caller *Node) {
	n.mu.Lock()
	n.callers[caller] = struct{}{}
	n.mu.Unlock()

	caller.mu.Lock()
	caller.callees[n] = struct{}{}
	caller.mu.Unlock()
}

// IsLeaf reports whether the node has no remaining callees.
func (n *Node) IsLeaf() bool { return len(n.callees) == 0 }

// IsRoot reports whether the node has no remaining callers.
func (n *Node) IsRoot() bool { return len(n.callers) == 0 }

// NumCallers returns the current caller count.
func (n *Node) NumCallers() int { return len(n.callers) }

// NumCallees returns the current callee count.
func (n *Node) NumCallees() int { return len(n.callees) }

// HasCallee reports whether the edge n -> callee exists.
func (n *Node) HasCallee(callee *Node) bool {
	_, ok := n.callees[callee]
	return ok
}

// CalleesWithDeterministicOrder returns callees sorted by method identity.
func (n *Node) CalleesWithDeterministicOrder() []*Node {
	return sortNodes(n.callees)
}

// CallersWithDeterministicOrder returns callers sorted by method identity.
func (n *Node) CallersWithDeterministicOrder() []*Node {
	return sortNodes(n.callers)
}

// removeEdge deletes the edge caller -> callee in both directions.
func removeEdge(caller, callee *Node) {
	delete(caller.callees, callee)
	delete(callee.callers, caller)
}

// detachFromCallers removes all edges into n from its callers' callee
// sets, used when n leaves the node set after wave extraction.
func (n *Node) detachFromCallers() {
	for caller := range n.callers {
		delete(caller.callees, n)
	}
	n.callers = make(map[*Node]struct{})
}

// detachFromCallees removes all edges out of n from its callees' caller
// sets.
func (n *Node) detachFromCallees() {
	for callee := range n.callees {
		delete(callee.callers, n)
	}
	n.callees = make(map[*Node]struct{})
}

func sortNodes(set map[*Node]struct{}) []*Node {
	out := make([]*Node, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b *Node) int { return a.Method.Compare(b.Method) })
	return out
}

// NodeSet is a mutable set of nodes with deterministic iteration order.
type NodeSet struct {
	nodes map[*Node]struct{}
}

// NewNodeSet creates a set holding the given nodes.
func NewNodeSet(nodes ...*Node) *NodeSet {
	s := &NodeSet{nodes: make(map[*Node]struct{}, len(nodes))}
	for _, n := range nodes {
		s.nodes[n] = struct{}{}
	}
	return s
}

func (s *NodeSet) Add(n *Node)    { s.nodes[n] = struct{}{} }
func (s *NodeSet) Remove(n *Node) { delete(s.nodes, n) }
func (s *NodeSet) Len() int       { return len(s.nodes) }
func (s *NodeSet) IsEmpty() bool  { return len(s.nodes) == 0 }

func (s *NodeSet) Contains(n *Node) bool {
	_, ok := s.nodes[n]
	return ok
}

// Sorted returns the members sorted by method identity.
func (s *NodeSet) Sorted() []*Node { return sortNodes(s.nodes) }

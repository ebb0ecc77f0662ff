package callgraph

import (
	"fmt"
	"math/rand"

	"golang.org/x/tools/container/intsets"
)

// CycleEliminatorOptions controls cycle elimination.
type CycleEliminatorOptions struct {
	// NondeterministicOrder shuffles callee traversal order. Test-only:
	// it broadens coverage of which equivalent edge gets cut. Production
	// runs leave it false and are fully deterministic.
	NondeterministicOrder bool

	// Rand seeds the shuffle when NondeterministicOrder is set.
	Rand *rand.Rand
}

// CycleEliminationResult reports what breakCycles removed.
type CycleEliminationResult struct {
	removedEdges int
}

// NumberOfRemovedEdges returns how many edges were cut.
func (r CycleEliminationResult) NumberOfRemovedEdges() int { return r.removedEdges }

// CycleEliminator removes one edge per detected cycle so the node set
// can be drained by repeated leaf/root extraction. It runs
// single-threaded after all edges are registered.
//
// An edge whose callee is marked force-inline is never removed: the
// processing order must guarantee that a force-inline callee is analyzed
// before its caller, so such an edge must survive even inside a cycle.
// When every edge of a cycle enters a force-inline method, the force
// inlining constraints are unsatisfiable and the pass fails.
type CycleEliminator struct {
	nodes []*Node
	opts  CycleEliminatorOptions

	stack   []*Node
	onStack intsets.Sparse
	marked  intsets.Sparse
	removed int
}

// NewCycleEliminator prepares elimination over the node set.
func NewCycleEliminator(nodes *NodeSet, opts CycleEliminatorOptions) *CycleEliminator {
	return &CycleEliminator{nodes: nodes.Sorted(), opts: opts}
}

// BreakCycles detects and breaks every cycle reachable in the node set,
// removing exactly one edge per detected cycle.
func (c *CycleEliminator) BreakCycles() (CycleEliminationResult, error) {
	for _, n := range c.nodes {
		if err := c.traverse(n); err != nil {
			return CycleEliminationResult{}, err
		}
	}
	return CycleEliminationResult{removedEdges: c.removed}, nil
}

func (c *CycleEliminator) traverse(node *Node) error {
	if c.marked.Has(node.index) {
		// Already fully explored from an earlier root.
		return nil
	}
	c.push(node)

	callees := node.CalleesWithDeterministicOrder()
	if c.opts.NondeterministicOrder && c.opts.Rand != nil {
		c.opts.Rand.Shuffle(len(callees), func(i, j int) {
			callees[i], callees[j] = callees[j], callees[i]
		})
	}

	for _, callee := range callees {
		if !node.HasCallee(callee) {
			// Edge already removed while breaking an earlier cycle.
			continue
		}
		if c.onStack.Has(callee.index) {
			if err := c.breakCycle(node, callee); err != nil {
				return err
			}
			continue
		}
		if err := c.traverse(callee); err != nil {
			return err
		}
	}

	c.pop(node)
	c.marked.Insert(node.index)
	return nil
}

// breakCycle cuts one edge of the cycle closed by the back edge
// node -> callee. The back edge itself is preferred; if its callee is
// force-inline, the first removable edge along the cycle is cut instead.
func (c *CycleEliminator) breakCycle(node, callee *Node) error {
	if edgeRemovalIsSafe(callee) {
		removeEdge(node, callee)
		c.removed++
		return nil
	}
	// Walk the stack from callee up to node looking for an edge whose
	// target is not force-inline.
	start := -1
	for i, n := range c.stack {
		if n == callee {
			start = i
			break
		}
	}
	if start < 0 {
		return fmt.Errorf("internal: cycle entry %v not on traversal stack", callee.Method)
	}
	cycle := append(append([]*Node{}, c.stack[start:]...), callee)
	for i := 0; i+1 < len(cycle); i++ {
		caller, target := cycle[i], cycle[i+1]
		if edgeRemovalIsSafe(target) {
			removeEdge(caller, target)
			c.removed++
			return nil
		}
	}
	return fmt.Errorf("unable to satisfy force-inline constraints: cycle through %v consists only of force-inline targets", callee.Method)
}

// edgeRemovalIsSafe reports whether an edge into callee may be cut. Call
// edges into force-inline methods must be kept so the callee is always
// processed before its caller.
func edgeRemovalIsSafe(callee *Node) bool {
	return !callee.Info.ForceInline()
}

func (c *CycleEliminator) push(n *Node) {
	c.stack = append(c.stack, n)
	c.onStack.Insert(n.index)
}

func (c *CycleEliminator) pop(n *Node) {
	c.stack = c.stack[:len(c.stack)-1]
	c.onStack.Remove(n.index)
}

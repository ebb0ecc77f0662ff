package callgraph

import (
	"context"
	"fmt"
	goruntime "runtime"

	"golang.org/x/sync/errgroup"

	"github.com/715d/shrink/pkg/graph"
)

// ExtractLeaves destructively removes every node without remaining
// callees from the set and feeds it to consumer. Nodes whose callees all
// left in this call only become leaves for the next call: edges are
// detached after the whole wave is collected, which is what delineates
// wave boundaries. Must not run concurrently with set mutation.
func ExtractLeaves(nodes *NodeSet, consumer func(*Node)) {
	extracted := extractWave(nodes, (*Node).IsLeaf, consumer)
	for _, n := range extracted {
		n.detachFromCallers()
	}
}

// ExtractRoots is the top-down counterpart of ExtractLeaves: it drains
// nodes without remaining callers.
func ExtractRoots(nodes *NodeSet, consumer func(*Node)) {
	extracted := extractWave(nodes, (*Node).IsRoot, consumer)
	for _, n := range extracted {
		n.detachFromCallees()
	}
}

func extractWave(nodes *NodeSet, independent func(*Node) bool, consumer func(*Node)) []*Node {
	var extracted []*Node
	for _, n := range nodes.Sorted() {
		if independent(n) {
			consumer(n)
			nodes.Remove(n)
			extracted = append(extracted, n)
		}
	}
	return extracted
}

// ProcessingDirection selects which end of the graph drains first.
type ProcessingDirection int

const (
	// LeavesFirst processes callees before callers, so callee analysis
	// results are available when the caller is processed.
	LeavesFirst ProcessingDirection = iota
	// RootsFirst processes callers before callees.
	RootsFirst
)

// ProcessWaves drains the graph wave by wave, running process on every
// method of a wave in parallel. The next wave is not extracted until the
// current one's methods all finished. Cycles must have been broken
// beforehand; a non-empty set that yields an empty wave is reported as
// an internal error.
func ProcessWaves(ctx context.Context, g *CallGraph, direction ProcessingDirection, process func(context.Context, graph.MethodRef) error) error {
	set := g.NodeSet()
	extract := ExtractLeaves
	if direction == RootsFirst {
		extract = ExtractRoots
	}
	for !set.IsEmpty() {
		var wave []*Node
		extract(set, func(n *Node) { wave = append(wave, n) })
		if len(wave) == 0 {
			return fmt.Errorf("internal: call graph contains an unbroken cycle among %d remaining methods", set.Len())
		}
		wg, waveCtx := errgroup.WithContext(ctx)
		wg.SetLimit(goruntime.NumCPU())
		for _, n := range wave {
			wg.Go(func() error {
				return process(waveCtx, n.Method)
			})
		}
		if err := wg.Wait(); err != nil {
			return err
		}
	}
	return nil
}

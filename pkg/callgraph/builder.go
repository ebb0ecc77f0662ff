package callgraph

import (
	"context"
	"log/slog"
	goruntime "runtime"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"

	"github.com/715d/shrink/internal/opt"
	"github.com/715d/shrink/pkg/graph"
)

// CallGraph is the sealed result of a build: every node of the batch in
// deterministic order.
type CallGraph struct {
	nodes []*Node
}

// Nodes returns the batch's nodes in deterministic order.
func (g *CallGraph) Nodes() []*Node { return g.nodes }

// NodeSet returns a fresh mutable set over all nodes, ready for wave
// extraction.
func (g *CallGraph) NodeSet() *NodeSet { return NewNodeSet(g.nodes...) }

// Builder discovers caller -> callee edges for a batch of methods.
// Edge discovery runs one goroutine per method body; node creation is a
// concurrent get-or-create so races resolve to the same node instance.
type Builder struct {
	program *graph.Program
	infos   *opt.InfoStore
	nodes   *xsync.Map[graph.MethodRef, *Node]
}

// NewBuilder creates a builder over the program.
func NewBuilder(program *graph.Program, infos *opt.InfoStore) *Builder {
	return &Builder{
		program: program,
		infos:   infos,
		nodes:   xsync.NewMap[graph.MethodRef, *Node](),
	}
}

// getOrCreateNode returns the unique node for a method reference.
func (b *Builder) getOrCreateNode(ref graph.MethodRef) *Node {
	if n, ok := b.nodes.Load(ref); ok {
		return n
	}
	n, _ := b.nodes.LoadOrStore(ref, NewNode(ref, b.infos.Get(ref)))
	return n
}

// Build scans every given method's body concurrently and registers call
// edges between program methods. Invokes that resolve outside the
// program (library targets) contribute no edge.
func (b *Builder) Build(ctx context.Context, methods []*graph.Method) (*CallGraph, error) {
	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(goruntime.NumCPU())

	for _, method := range methods {
		if method.Code == nil {
			continue
		}
		caller := b.getOrCreateNode(method.Ref)
		wg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b.scanBody(caller, method.Code)
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, err
	}

	var nodes []*Node
	b.nodes.Range(func(_ graph.MethodRef, n *Node) bool {
		nodes = append(nodes, n)
		return true
	})
	set := make(map[*Node]struct{}, len(nodes))
	for _, n := range nodes {
		set[n] = struct{}{}
	}
	sorted := sortNodes(set)
	for i, n := range sorted {
		n.index = i
	}
	slog.Debug("call graph built", "nodes", len(sorted))
	return &CallGraph{nodes: sorted}, nil
}

func (b *Builder) scanBody(caller *Node, code *graph.Code) {
	for _, insn := range code.Instructions {
		invoke, ok := insn.(graph.InvokeInstruction)
		if !ok {
			continue
		}
		_, target := b.program.ResolveMethod(invoke.Target)
		if target == nil {
			continue
		}
		callee := b.getOrCreateNode(target.Ref)
		if callee == caller {
			// Self-recursion adds no processing-order constraint.
			continue
		}
		callee.AddCallerConcurrently(caller)
	}
}

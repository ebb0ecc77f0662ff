package merge

import (
	"github.com/715d/shrink/pkg/graph"
	"github.com/715d/shrink/pkg/lens"
)

// RewriteProgram translates every reference in every live method body
// through the lens: invoke targets (with dispatch-kind updates), field
// accesses, bare type references, catch types, and class super/interface
// edges. Lens idempotence makes the rewrite safe to run again after
// further layers are stacked on.
func RewriteProgram(program *graph.Program, l lens.Lens) {
	for _, class := range program.ClassesWithDeterministicOrder() {
		class.Super = l.LookupType(class.Super)
		for i, itf := range class.Interfaces {
			class.Interfaces[i] = l.LookupType(itf)
		}
		for _, method := range class.Methods() {
			if method.Code != nil {
				rewriteCode(method.Ref, method.Code, l)
			}
		}
	}
}

func rewriteCode(context graph.MethodRef, code *graph.Code, l lens.Lens) {
	for i, insn := range code.Instructions {
		switch in := insn.(type) {
		case graph.InvokeInstruction:
			result := l.LookupMethod(in.Target, context, in.Kind)
			code.Instructions[i] = graph.InvokeInstruction{Kind: result.Kind, Target: result.Method}
		case graph.FieldInstruction:
			code.Instructions[i] = graph.FieldInstruction{Op: in.Op, Target: l.LookupField(in.Target)}
		case graph.TypeInstruction:
			code.Instructions[i] = graph.TypeInstruction{Op: in.Op, Target: l.LookupType(in.Target)}
		}
	}
	code.TryCatches = rewriteTryCatches(code.TryCatches, l)
}

// rewriteTryCatches retargets catch types and coalesces structurally
// adjacent handlers that became identical after the rewrite. A handler
// is only ever folded into an equal neighbor, never dropped.
func rewriteTryCatches(handlers []graph.TryCatch, l lens.Lens) []graph.TryCatch {
	if len(handlers) == 0 {
		return handlers
	}
	out := handlers[:0]
	for _, tc := range handlers {
		tc.CatchType = l.LookupType(tc.CatchType)
		if n := len(out); n > 0 && out[n-1] == tc {
			continue
		}
		out = append(out, tc)
	}
	return out
}

// Package miditier implements the engine.Backend that spends more compile
// time than singlepass in exchange for faster steady-state execution: a
// small set of optimization passes over the validated wazeroir operation
// stream before handing it to execexec. Grounded on the teacher's
// internal/engine/wazevo tier, which builds an SSA form from wazeroir and
// runs constant-folding/DCE-style passes before its own register
// allocator; here the passes operate directly on the flat Operation slice
// rather than a full SSA graph, since execexec's dispatch loop consumes
// that same flat shape regardless of which tier produced it.
package miditier

import (
	"github.com/wasmcore-go/wasmcore/internal/engine"
	"github.com/wasmcore-go/wasmcore/internal/wasm"
	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

type Backend struct{}

var _ engine.Backend = Backend{}

func (Backend) Tier() engine.Tier { return engine.TierMidTier }

func (Backend) Compile(target engine.Target, module *wasm.Module, fns []*wazeroir.CompiledFunction, tunables engine.Tunables) (*engine.Compilation, error) {
	comp := &engine.Compilation{Tier: engine.TierMidTier, Target: target, Functions: make([]engine.CompiledFunction, len(fns)), StackSizeLimit: tunables.StackSizeLimit}
	for i, fn := range fns {
		idx := wasm.FunctionIndex(i) + wasm.FunctionIndex(module.NumImportedFunctions)
		ops := Optimize(fn.Operations, tunables)
		comp.Functions[i] = engine.Finalize(idx, fn.NumLocals, ops, fn.MaxStackDepth)
	}
	return comp, nil
}

// Optimize runs the mid-tier pass pipeline: constant folding, then
// dead-code elimination of unreachable-block tails it exposes. Passes run
// to a fixed point because folding can expose new DCE opportunities and
// vice versa (e.g. an `unreachable` that folding turns into the provably
// only path leaves its sibling branch dead).
func Optimize(ops []wazeroir.Operation, tunables engine.Tunables) []wazeroir.Operation {
	out := append([]wazeroir.Operation(nil), ops...)
	for {
		folded, changedFold := foldConstants(out)
		pruned, changedDCE := eliminateDeadCode(folded)
		out = pruned
		if !changedFold && !changedDCE {
			break
		}
	}
	if tunables.NaNCanonicalization {
		out = canonicalizeNaNs(out)
	}
	return out
}

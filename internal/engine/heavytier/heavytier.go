// Package heavytier implements the engine.Backend that spends the most
// compile time for the best steady-state execution speed: mid-tier's full
// pass pipeline, plus a peephole strength-reduction pass and a simplified
// global register-allocation pass.
//
// The teacher's real equivalent (internal/engine/cranelift) reaches this
// tier's speed by FFI into a Rust Cranelift backend emitting real native
// machine code with a proper register allocator — a dependency that
// cannot be expressed as a fetchable Go module, so it is not reproduced
// here (see DESIGN.md). This package keeps cranelift's ROLE — slowest
// compile, fastest execution among the three tiers — by layering
// additional IR-level passes on top of miditier's pipeline instead.
package heavytier

import (
	"github.com/wasmcore-go/wasmcore/internal/engine"
	"github.com/wasmcore-go/wasmcore/internal/engine/miditier"
	"github.com/wasmcore-go/wasmcore/internal/wasm"
	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

type Backend struct{}

var _ engine.Backend = Backend{}

func (Backend) Tier() engine.Tier { return engine.TierHeavyTier }

func (Backend) Compile(target engine.Target, module *wasm.Module, fns []*wazeroir.CompiledFunction, tunables engine.Tunables) (*engine.Compilation, error) {
	comp := &engine.Compilation{Tier: engine.TierHeavyTier, Target: target, Functions: make([]engine.CompiledFunction, len(fns)), StackSizeLimit: tunables.StackSizeLimit}
	for i, fn := range fns {
		idx := wasm.FunctionIndex(i) + wasm.FunctionIndex(module.NumImportedFunctions)
		ops := miditier.Optimize(fn.Operations, tunables)
		ops = strengthReduce(ops)
		slots := allocateHotSlots(ops, fn.NumLocals)
		cf := engine.Finalize(idx, fn.NumLocals, ops, fn.MaxStackDepth)
		cf.Frame.HotLocalSlots = slots
		comp.Functions[i] = cf
	}
	return comp, nil
}

// Package singlepass implements the engine.Backend that does the least
// work per function: one walk over an already-validated wazeroir operation
// stream, straight into the shared internal ISA execexec.Run executes.
// Grounded on the teacher's internal/engine/compiler tier's stated
// trade-off (fastest compile, slowest steady-state execution) and its
// sibling internal/engine/interpreter package, which performs exactly this
// "one walk, no optimization passes" translation.
package singlepass

import (
	"math"

	"github.com/wasmcore-go/wasmcore/internal/engine"
	"github.com/wasmcore-go/wasmcore/internal/wasm"
	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

// Backend is the zero-value-usable singlepass compiler.
type Backend struct{}

var _ engine.Backend = Backend{}

func (Backend) Tier() engine.Tier { return engine.TierSinglePass }

func (Backend) Compile(target engine.Target, module *wasm.Module, fns []*wazeroir.CompiledFunction, tunables engine.Tunables) (*engine.Compilation, error) {
	comp := &engine.Compilation{Tier: engine.TierSinglePass, Target: target, Functions: make([]engine.CompiledFunction, len(fns)), StackSizeLimit: tunables.StackSizeLimit}
	for i, fn := range fns {
		cf, err := compileOne(wasm.FunctionIndex(i)+wasm.FunctionIndex(module.NumImportedFunctions), fn, tunables)
		if err != nil {
			return nil, &engine.CompileError{FunctionIndex: wasm.FunctionIndex(i) + wasm.FunctionIndex(module.NumImportedFunctions), Err: err}
		}
		comp.Functions[i] = *cf
	}
	return comp, nil
}

func compileOne(idx wasm.FunctionIndex, fn *wazeroir.CompiledFunction, tunables engine.Tunables) (*engine.CompiledFunction, error) {
	ops := fn.Operations
	if tunables.NaNCanonicalization {
		ops = canonicalizeNaNs(ops)
	}
	cf := engine.Finalize(idx, fn.NumLocals, ops, fn.MaxStackDepth)
	return &cf, nil
}

// canonicalizeNaNs rewrites float constants carrying a non-canonical NaN
// payload to the canonical quiet-NaN bit pattern, removing one source of
// cross-host nondeterminism the core spec leaves implementation-defined.
// NaNs produced by arithmetic at run time are not rewritten; they keep
// whatever bit pattern execexec's Go float operations yield.
func canonicalizeNaNs(ops []wazeroir.Operation) []wazeroir.Operation {
	out := make([]wazeroir.Operation, len(ops))
	copy(out, ops)
	for i := range out {
		switch out[i].Kind {
		case wazeroir.OperationKindConstF32:
			if isNaN32(out[i].ImmF32) {
				out[i].ImmF32 = canonicalNaN32
			}
		case wazeroir.OperationKindConstF64:
			if isNaN64(out[i].ImmF64) {
				out[i].ImmF64 = canonicalNaN64
			}
		}
	}
	return out
}

var canonicalNaN32 = math.Float32frombits(0x7fc00000)
var canonicalNaN64 = math.Float64frombits(0x7ff8000000000000)

func isNaN32(f float32) bool { return f != f }
func isNaN64(f float64) bool { return f != f }

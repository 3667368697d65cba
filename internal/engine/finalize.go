package engine

import (
	"github.com/wasmcore-go/wasmcore/internal/engine/execexec"
	"github.com/wasmcore-go/wasmcore/internal/wasm"
	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

// Finalize encodes an already-transformed operation stream (optimized or
// not) into a CompiledFunction, building the address map every tier needs
// for trap backtraces. It is the one place that bridges wazeroir's
// operation-index addressing to FrameDescriptor's AddressMap, so all three
// tiers report backtraces the same way regardless of how many passes ran.
func Finalize(idx wasm.FunctionIndex, numLocals int, ops []wazeroir.Operation, maxStackDepth int) CompiledFunction {
	addrMap := make([]AddressMapEntry, len(ops))
	for i, op := range ops {
		addrMap[i] = AddressMapEntry{CodeOffset: i, WasmOffset: op.SourceOffset}
	}
	return CompiledFunction{
		Code: execexec.Encode(ops),
		Frame: FrameDescriptor{
			FunctionIndex: idx,
			CodeLength:    len(ops),
			NumLocals:     numLocals,
			StackSize:     maxStackDepth * 8,
			AddressMap:    addrMap,
		},
	}
}

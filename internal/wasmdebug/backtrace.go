// Package wasmdebug builds the Frame list behind every api.Trap: given the
// call stack active when a trap is raised, it maps each active function's
// current program point back to a Wasm-level source offset using the
// FrameDescriptor.AddressMap the compiling Backend attached to it.
// Grounded on the teacher's package of the same name and purpose (PC to
// Wasm-offset backtraces consumed by its own Trap construction).
package wasmdebug

import (
	"sort"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/engine"
)

// ActiveFrame is one entry of a live call stack, pushed by vm.Instance's
// call trampoline before invoking a function and popped on return.
type ActiveFrame struct {
	ModuleName   string
	FunctionName string
	Descriptor   *engine.FrameDescriptor
	PC           int // current index into the function's operation stream
}

// WasmOffset resolves PC to the Wasm-level byte offset it was lowered
// from, via the descriptor's AddressMap. AddressMap is built in operation
// order by every Backend (see engine.Finalize), so a binary search over
// CodeOffset suffices.
func (f ActiveFrame) WasmOffset() int {
	m := f.Descriptor.AddressMap
	i := sort.Search(len(m), func(i int) bool { return m[i].CodeOffset >= f.PC })
	if i < len(m) && m[i].CodeOffset == f.PC {
		return m[i].WasmOffset
	}
	if i > 0 {
		return m[i-1].WasmOffset
	}
	return 0
}

// Build converts a live call stack (innermost frame last) into the
// api.Trap-ready backtrace (innermost frame first, matching how stack
// traces are conventionally read).
func Build(stack []ActiveFrame) []api.Frame {
	frames := make([]api.Frame, len(stack))
	for i, f := range stack {
		frames[len(stack)-1-i] = api.Frame{
			ModuleName:    f.ModuleName,
			FunctionName:  f.FunctionName,
			FunctionIndex: uint32(f.Descriptor.FunctionIndex),
			WasmOffset:    uint64(f.WasmOffset()),
			Symbol:        f.Descriptor.Name,
		}
	}
	return frames
}

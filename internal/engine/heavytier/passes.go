package heavytier

import "github.com/wasmcore-go/wasmcore/internal/wazeroir"

// strengthReduce rewrites i32/i64 "x * const" into "x << shift" when the
// right-hand operand (the slot immediately preceding Mul on the stack) is
// a power-of-two constant — the one peephole substitution cheap enough to
// be safe without a full dataflow pass.
func strengthReduce(ops []wazeroir.Operation) []wazeroir.Operation {
	out := append([]wazeroir.Operation(nil), ops...)
	for i := 2; i < len(out); i++ {
		if out[i].Kind != wazeroir.OperationKindMul {
			continue
		}
		constIdx := i - 1
		c := out[constIdx]
		var shift uint32
		var isPow2 bool
		switch out[i].Class {
		case wazeroir.ClassI32:
			if c.Kind == wazeroir.OperationKindConstI32 && c.ImmI32 > 0 && c.ImmI32&(c.ImmI32-1) == 0 {
				shift, isPow2 = uint32(trailingZeros32(uint32(c.ImmI32))), true
			}
		case wazeroir.ClassI64:
			if c.Kind == wazeroir.OperationKindConstI64 && c.ImmI64 > 0 && c.ImmI64&(c.ImmI64-1) == 0 {
				shift, isPow2 = uint32(trailingZeros64(uint64(c.ImmI64))), true
			}
		}
		if !isPow2 {
			continue
		}
		out[constIdx] = wazeroir.Operation{Kind: out[i].Class.ConstKind(), SourceOffset: c.SourceOffset, ImmI32: int32(shift), ImmI64: int64(shift)}
		out[i] = wazeroir.Operation{Kind: wazeroir.OperationKindShl, Class: out[i].Class, SourceOffset: out[i].SourceOffset}
	}
	return out
}

func trailingZeros32(v uint32) int {
	n := 0
	for v&1 == 0 {
		v >>= 1
		n++
	}
	return n
}

func trailingZeros64(v uint64) int {
	n := 0
	for v&1 == 0 {
		v >>= 1
		n++
	}
	return n
}

// allocateHotSlots computes a static access-frequency ranking of a
// function's locals. It is heavytier's stand-in for the teacher's global
// register allocator: both decide which values are worth keeping closest
// to the execution unit, but since execexec has no register file to place
// them in, this pass only annotates FrameDescriptor for diagnostics.
func allocateHotSlots(ops []wazeroir.Operation, numLocals int) []uint32 {
	counts := make([]uint32, numLocals)
	for _, op := range ops {
		switch op.Kind {
		case wazeroir.OperationKindLocalGet, wazeroir.OperationKindLocalSet, wazeroir.OperationKindLocalTee:
			if int(op.Index) < numLocals {
				counts[op.Index]++
			}
		}
	}
	order := make([]uint32, numLocals)
	for i := range order {
		order[i] = uint32(i)
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && counts[order[j]] > counts[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	return order
}

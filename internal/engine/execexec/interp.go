package execexec

import (
	"math"
	"math/bits"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

// Host is the call-context surface Run needs from whatever owns linear
// memory, tables, globals, and cross-function calls. internal/vm's
// Instance implements this; execexec never imports vm, so singlepass,
// miditier, and heavytier can all target this one loop without an import
// cycle through the instantiation layer.
type Host interface {
	Memory() []byte
	GrowMemory(deltaPages uint32) (oldPages uint32, ok bool)
	GlobalGet(idx uint32) uint64
	GlobalSet(idx uint32, v uint64)
	// callerOffset is the Wasm-level byte offset of the call/call_indirect
	// instruction itself, so the callee's backtrace frame list can include
	// a caller entry even though the caller's own pc is not otherwise
	// observable from outside Run.
	CallFunction(idx uint32, args []uint64, callerOffset int) ([]uint64, *api.Trap)
	CallIndirect(typeIdx uint32, tableElem uint32, args []uint64, callerOffset int) ([]uint64, *api.Trap)
	Trap(code api.TrapCode, wasmOffset int) *api.Trap

	// TableGet/TableSet back table.get/table.set (reference-types); tableIdx
	// is always 0 in the subset this engine lowers. ok is false on an
	// out-of-bounds index.
	TableGet(tableIdx, elemIdx uint32) (uint64, bool)
	TableSet(tableIdx, elemIdx uint32, v uint64) bool

	// MemoryCopy/MemoryFill back the bulk-memory proposal's memory.copy and
	// memory.fill; both report false on an out-of-bounds range.
	MemoryCopy(dst, src, n uint32) bool
	MemoryFill(dst uint32, val byte, n uint32) bool
}

// Run executes one function's already-decoded operation stream against
// host, starting with args already placed as the first len(args) locals.
// numLocals is the total local count (params + declared locals); slots
// beyond len(args) start zeroed per spec.
func Run(ops []wazeroir.Operation, numLocals int, args []uint64, host Host) ([]uint64, *api.Trap) {
	locals := make([]uint64, numLocals)
	copy(locals, args)

	var stack []uint64
	push := func(v uint64) { stack = append(stack, v) }
	pop := func() uint64 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	pushF32 := func(f float32) { push(uint64(math.Float32bits(f))) }
	pushF64 := func(f float64) { push(math.Float64bits(f)) }
	popF32 := func() float32 { return math.Float32frombits(uint32(pop())) }
	popF64 := func() float64 { return math.Float64frombits(pop()) }

	pc := 0
	for pc < len(ops) {
		op := &ops[pc]
		switch op.Kind {
		case wazeroir.OperationKindUnreachable:
			return nil, host.Trap(api.TrapCodeUnreachableExecuted, op.SourceOffset)

		case wazeroir.OperationKindLabel:
			// no-op marker; only meaningful as a branch target

		case wazeroir.OperationKindBr:
			pc = op.BranchTarget
			continue
		case wazeroir.OperationKindBrIf:
			if int32(pop()) != 0 {
				pc = op.BranchTarget
				continue
			}
		case wazeroir.OperationKindBrTable:
			idx := uint32(pop())
			if int(idx) >= len(op.BranchTargets)-1 {
				idx = uint32(len(op.BranchTargets) - 1)
			}
			pc = op.BranchTargets[idx]
			continue

		case wazeroir.OperationKindReturn:
			return takeResults(stack, op.Arity), nil

		case wazeroir.OperationKindCall:
			results, trap := host.CallFunction(op.Index, popN(&stack, callArgCount(op)), op.SourceOffset)
			if trap != nil {
				return nil, trap
			}
			for _, r := range results {
				push(r)
			}

		case wazeroir.OperationKindCallIndirect:
			elem := uint32(pop())
			results, trap := host.CallIndirect(op.Index, elem, popN(&stack, callArgCount(op)), op.SourceOffset)
			if trap != nil {
				return nil, trap
			}
			for _, r := range results {
				push(r)
			}

		case wazeroir.OperationKindDrop:
			pop()
		case wazeroir.OperationKindSelect:
			cond := int32(pop())
			b := pop()
			a := pop()
			if cond != 0 {
				push(a)
			} else {
				push(b)
			}

		case wazeroir.OperationKindLocalGet:
			push(locals[op.Index])
		case wazeroir.OperationKindLocalSet:
			locals[op.Index] = pop()
		case wazeroir.OperationKindLocalTee:
			locals[op.Index] = stack[len(stack)-1]

		case wazeroir.OperationKindGlobalGet:
			push(host.GlobalGet(op.Index))
		case wazeroir.OperationKindGlobalSet:
			host.GlobalSet(op.Index, pop())

		case wazeroir.OperationKindConstI32:
			push(uint64(uint32(op.ImmI32)))
		case wazeroir.OperationKindConstI64:
			push(uint64(op.ImmI64))
		case wazeroir.OperationKindConstF32:
			pushF32(op.ImmF32)
		case wazeroir.OperationKindConstF64:
			pushF64(op.ImmF64)

		case wazeroir.OperationKindLoad:
			addr := uint32(pop())
			v, trap := loadMem(host, op, addr)
			if trap != nil {
				return nil, trap
			}
			push(v)
		case wazeroir.OperationKindStore:
			v := pop()
			addr := uint32(pop())
			if trap := storeMem(host, op, addr, v); trap != nil {
				return nil, trap
			}

		case wazeroir.OperationKindMemorySize:
			push(uint64(uint32(len(host.Memory()) / wasmPageSize)))
		case wazeroir.OperationKindMemoryGrow:
			delta := uint32(pop())
			old, ok := host.GrowMemory(delta)
			if !ok {
				push(uint64(uint32(0xFFFFFFFF)))
			} else {
				push(uint64(old))
			}
		case wazeroir.OperationKindMemoryCopy:
			n := uint32(pop())
			src := uint32(pop())
			dst := uint32(pop())
			if !host.MemoryCopy(dst, src, n) {
				return nil, host.Trap(api.TrapCodeHeapAccessOutOfBounds, op.SourceOffset)
			}
		case wazeroir.OperationKindMemoryFill:
			n := uint32(pop())
			val := byte(pop())
			dst := uint32(pop())
			if !host.MemoryFill(dst, val, n) {
				return nil, host.Trap(api.TrapCodeHeapAccessOutOfBounds, op.SourceOffset)
			}

		case wazeroir.OperationKindTableGet:
			elem := uint32(pop())
			v, ok := host.TableGet(op.Index, elem)
			if !ok {
				return nil, host.Trap(api.TrapCodeTableAccessOutOfBounds, op.SourceOffset)
			}
			push(v)
		case wazeroir.OperationKindTableSet:
			v := pop()
			elem := uint32(pop())
			if !host.TableSet(op.Index, elem, v) {
				return nil, host.Trap(api.TrapCodeTableAccessOutOfBounds, op.SourceOffset)
			}

		case wazeroir.OperationKindEqz:
			if op.Class == wazeroir.ClassI64 {
				push(b2u(pop() == 0))
			} else {
				push(b2u(uint32(pop()) == 0))
			}

		case wazeroir.OperationKindEq, wazeroir.OperationKindNe, wazeroir.OperationKindLt,
			wazeroir.OperationKindGt, wazeroir.OperationKindLe, wazeroir.OperationKindGe:
			evalCompare(op, popF32, popF64, push, pop)

		case wazeroir.OperationKindAdd, wazeroir.OperationKindSub, wazeroir.OperationKindMul,
			wazeroir.OperationKindDiv, wazeroir.OperationKindRem, wazeroir.OperationKindAnd,
			wazeroir.OperationKindOr, wazeroir.OperationKindXor, wazeroir.OperationKindShl,
			wazeroir.OperationKindShr, wazeroir.OperationKindRotl, wazeroir.OperationKindRotr,
			wazeroir.OperationKindMin, wazeroir.OperationKindMax, wazeroir.OperationKindCopysign:
			trapCode, ok := evalArith(op, pushF32, pushF64, popF32, popF64, push, pop)
			if !ok {
				return nil, host.Trap(trapCode, op.SourceOffset)
			}

		case wazeroir.OperationKindClz, wazeroir.OperationKindCtz, wazeroir.OperationKindPopcnt:
			evalUnaryBits(op, push, pop)

		case wazeroir.OperationKindAbs, wazeroir.OperationKindNeg, wazeroir.OperationKindCeil,
			wazeroir.OperationKindFloor, wazeroir.OperationKindTrunc, wazeroir.OperationKindNearest,
			wazeroir.OperationKindSqrt:
			evalUnaryFloat(op, pushF32, pushF64, popF32, popF64)

		case wazeroir.OperationKindConvert:
			trapCode, ok := evalConvert(op, pushF32, pushF64, popF32, popF64, push, pop)
			if !ok {
				return nil, host.Trap(trapCode, op.SourceOffset)
			}

		default:
			return nil, host.Trap(api.TrapCodeUnreachableExecuted, op.SourceOffset)
		}
		pc++
	}
	return stack, nil
}

const wasmPageSize = 65536

func takeResults(stack []uint64, n int) []uint64 {
	if n <= 0 || n > len(stack) {
		return nil
	}
	out := make([]uint64, n)
	copy(out, stack[len(stack)-n:])
	return out
}

func popN(stack *[]uint64, n int) []uint64 {
	s := *stack
	if n <= 0 {
		return nil
	}
	out := make([]uint64, n)
	copy(out, s[len(s)-n:])
	*stack = s[:len(s)-n]
	return out
}

// callArgCount recovers a call/call_indirect's parameter count. Backends
// stash it in Mem.Alignment (unused by calls otherwise) at lowering time;
// see wazeroir.Lower's rawCall/rawCallIndirect cases.
func callArgCount(op *wazeroir.Operation) int { return int(op.Mem.Alignment) }

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func loadMem(h Host, op *wazeroir.Operation, addr uint32) (uint64, *api.Trap) {
	mem := h.Memory()
	width := op.Index // byte count, stashed by the lowerer
	offset := uint64(addr) + uint64(op.Mem.Offset)
	if offset+uint64(width) > uint64(len(mem)) {
		return 0, h.Trap(api.TrapCodeHeapAccessOutOfBounds, op.SourceOffset)
	}
	raw := mem[offset : offset+uint64(width)]
	var v uint64
	for i := len(raw) - 1; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	if op.Signedness == wazeroir.SignedOrNA && width < 8 && op.Class != wazeroir.ClassF32 && op.Class != wazeroir.ClassF64 {
		shift := 64 - width*8
		v = uint64(int64(v<<shift) >> shift)
	}
	return v, nil
}

func storeMem(h Host, op *wazeroir.Operation, addr uint32, v uint64) *api.Trap {
	mem := h.Memory()
	width := op.Index
	offset := uint64(addr) + uint64(op.Mem.Offset)
	if offset+uint64(width) > uint64(len(mem)) {
		return h.Trap(api.TrapCodeHeapAccessOutOfBounds, op.SourceOffset)
	}
	for i := uint32(0); i < width; i++ {
		mem[offset+uint64(i)] = byte(v >> (8 * i))
	}
	return nil
}

func evalUnaryBits(op *wazeroir.Operation, push func(uint64), pop func() uint64) {
	v := pop()
	var r uint64
	switch op.Class {
	case wazeroir.ClassI64:
		switch op.Kind {
		case wazeroir.OperationKindClz:
			r = uint64(bits.LeadingZeros64(v))
		case wazeroir.OperationKindCtz:
			r = uint64(bits.TrailingZeros64(v))
		default:
			r = uint64(bits.OnesCount64(v))
		}
	default:
		v32 := uint32(v)
		switch op.Kind {
		case wazeroir.OperationKindClz:
			r = uint64(bits.LeadingZeros32(v32))
		case wazeroir.OperationKindCtz:
			r = uint64(bits.TrailingZeros32(v32))
		default:
			r = uint64(bits.OnesCount32(v32))
		}
	}
	push(r)
}

package miditier

import (
	"math"

	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

// Both passes below only ever neutralize an operation into a
// OperationKindLabel no-op; they never delete or reorder a slot. Every
// BranchTarget/BranchTargets entry elsewhere in the function is an
// absolute index into this same slice, so preserving length and position
// is what lets these passes run without a second index-remapping pass.

// foldConstants collapses `const a; const b; <binop>` triples (with
// matching numeric class, no observable side effect) into a single
// folded-immediate const, leaving the two vacated slots as no-ops.
func foldConstants(ops []wazeroir.Operation) ([]wazeroir.Operation, bool) {
	out := append([]wazeroir.Operation(nil), ops...)
	changed := false
	for i := 0; i+2 < len(out); i++ {
		a, b, op := out[i], out[i+1], out[i+2]
		if !isConst(a.Kind) || a.Kind != b.Kind || !isFoldableBinop(op.Kind) {
			continue
		}
		if branchedInto(ops, i+1) || branchedInto(ops, i+2) {
			continue // a branch can target the middle of what looks like a fusable triple
		}
		folded, ok := fold(a, b, op)
		if !ok {
			continue
		}
		out[i] = folded
		out[i+1] = wazeroir.Operation{Kind: wazeroir.OperationKindLabel, SourceOffset: b.SourceOffset}
		out[i+2] = wazeroir.Operation{Kind: wazeroir.OperationKindLabel, SourceOffset: op.SourceOffset}
		changed = true
	}
	return out, changed
}

func isConst(k wazeroir.OperationKind) bool {
	return k == wazeroir.OperationKindConstI32 || k == wazeroir.OperationKindConstI64 ||
		k == wazeroir.OperationKindConstF32 || k == wazeroir.OperationKindConstF64
}

func isFoldableBinop(k wazeroir.OperationKind) bool {
	switch k {
	case wazeroir.OperationKindAdd, wazeroir.OperationKindSub, wazeroir.OperationKindMul,
		wazeroir.OperationKindAnd, wazeroir.OperationKindOr, wazeroir.OperationKindXor:
		return true
	default:
		return false
	}
}

// branchedInto reports whether any operation in ops targets index idx;
// folding must not touch a slot another instruction jumps into.
func branchedInto(ops []wazeroir.Operation, idx int) bool {
	for _, op := range ops {
		if op.BranchTarget == idx {
			return true
		}
		for _, t := range op.BranchTargets {
			if t == idx {
				return true
			}
		}
	}
	return false
}

func fold(a, b, op wazeroir.Operation) (wazeroir.Operation, bool) {
	switch a.Kind {
	case wazeroir.OperationKindConstI32:
		var r int32
		switch op.Kind {
		case wazeroir.OperationKindAdd:
			r = a.ImmI32 + b.ImmI32
		case wazeroir.OperationKindSub:
			r = a.ImmI32 - b.ImmI32
		case wazeroir.OperationKindMul:
			r = a.ImmI32 * b.ImmI32
		case wazeroir.OperationKindAnd:
			r = a.ImmI32 & b.ImmI32
		case wazeroir.OperationKindOr:
			r = a.ImmI32 | b.ImmI32
		case wazeroir.OperationKindXor:
			r = a.ImmI32 ^ b.ImmI32
		}
		return wazeroir.Operation{Kind: wazeroir.OperationKindConstI32, ImmI32: r, SourceOffset: a.SourceOffset}, true
	case wazeroir.OperationKindConstI64:
		var r int64
		switch op.Kind {
		case wazeroir.OperationKindAdd:
			r = a.ImmI64 + b.ImmI64
		case wazeroir.OperationKindSub:
			r = a.ImmI64 - b.ImmI64
		case wazeroir.OperationKindMul:
			r = a.ImmI64 * b.ImmI64
		case wazeroir.OperationKindAnd:
			r = a.ImmI64 & b.ImmI64
		case wazeroir.OperationKindOr:
			r = a.ImmI64 | b.ImmI64
		case wazeroir.OperationKindXor:
			r = a.ImmI64 ^ b.ImmI64
		}
		return wazeroir.Operation{Kind: wazeroir.OperationKindConstI64, ImmI64: r, SourceOffset: a.SourceOffset}, true
	case wazeroir.OperationKindConstF32:
		var r float32
		switch op.Kind {
		case wazeroir.OperationKindAdd:
			r = a.ImmF32 + b.ImmF32
		case wazeroir.OperationKindSub:
			r = a.ImmF32 - b.ImmF32
		case wazeroir.OperationKindMul:
			r = a.ImmF32 * b.ImmF32
		default:
			return wazeroir.Operation{}, false
		}
		return wazeroir.Operation{Kind: wazeroir.OperationKindConstF32, ImmF32: r, SourceOffset: a.SourceOffset}, true
	case wazeroir.OperationKindConstF64:
		var r float64
		switch op.Kind {
		case wazeroir.OperationKindAdd:
			r = a.ImmF64 + b.ImmF64
		case wazeroir.OperationKindSub:
			r = a.ImmF64 - b.ImmF64
		case wazeroir.OperationKindMul:
			r = a.ImmF64 * b.ImmF64
		default:
			return wazeroir.Operation{}, false
		}
		return wazeroir.Operation{Kind: wazeroir.OperationKindConstF64, ImmF64: r, SourceOffset: a.SourceOffset}, true
	}
	return wazeroir.Operation{}, false
}

// eliminateDeadCode neuters instructions between an unconditional
// terminator (br, return, unreachable) and the next label, since
// structured-control-flow validation guarantees nothing can branch into
// the middle of such a run except the label itself. It does not shrink the
// slice (see package-level note on index stability above), so the benefit
// is a cleaner disassembly/debug trace rather than fewer dispatch-loop
// iterations.
func eliminateDeadCode(ops []wazeroir.Operation) ([]wazeroir.Operation, bool) {
	out := append([]wazeroir.Operation(nil), ops...)
	changed := false
	dead := false
	for i := range out {
		if dead {
			if out[i].Kind == wazeroir.OperationKindLabel || branchedInto(ops, i) {
				dead = false
			} else {
				out[i] = wazeroir.Operation{Kind: wazeroir.OperationKindLabel, SourceOffset: out[i].SourceOffset}
				changed = true
				continue
			}
		}
		switch out[i].Kind {
		case wazeroir.OperationKindBr, wazeroir.OperationKindReturn, wazeroir.OperationKindUnreachable:
			dead = true
		}
	}
	return out, changed
}

// canonicalizeNaNs mirrors singlepass's pass of the same name; duplicated
// rather than shared because the two tiers' Compile methods run it at
// different points in their respective pipelines (mid-tier after folding,
// so a folded NaN-producing constant is also canonicalized).
func canonicalizeNaNs(ops []wazeroir.Operation) []wazeroir.Operation {
	for i := range ops {
		switch ops[i].Kind {
		case wazeroir.OperationKindConstF32:
			if ops[i].ImmF32 != ops[i].ImmF32 {
				ops[i].ImmF32 = math.Float32frombits(0x7fc00000)
			}
		case wazeroir.OperationKindConstF64:
			if ops[i].ImmF64 != ops[i].ImmF64 {
				ops[i].ImmF64 = math.Float64frombits(0x7ff8000000000000)
			}
		}
	}
	return ops
}

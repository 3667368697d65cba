package execexec

import (
	"math"
	"math/bits"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

func evalCompare(op *wazeroir.Operation, popF32 func() float32, popF64 func() float64, push func(uint64), pop func() uint64) {
	switch op.Class {
	case wazeroir.ClassI32:
		b, a := int32(pop()), int32(pop())
		push(b2u(compareInt(op.Kind, op.Signedness, int64(a), int64(b), uint64(uint32(a)), uint64(uint32(b)))))
	case wazeroir.ClassI64:
		b, a := int64(pop()), int64(pop())
		push(b2u(compareInt(op.Kind, op.Signedness, a, b, uint64(a), uint64(b))))
	case wazeroir.ClassF32:
		b, a := popF32(), popF32()
		push(b2u(compareFloat(op.Kind, float64(a), float64(b))))
	default:
		b, a := popF64(), popF64()
		push(b2u(compareFloat(op.Kind, a, b)))
	}
}

func compareInt(kind wazeroir.OperationKind, sign wazeroir.Signedness, as, bs int64, au, bu uint64) bool {
	unsigned := sign == wazeroir.Unsigned
	switch kind {
	case wazeroir.OperationKindEq:
		return as == bs
	case wazeroir.OperationKindNe:
		return as != bs
	case wazeroir.OperationKindLt:
		if unsigned {
			return au < bu
		}
		return as < bs
	case wazeroir.OperationKindGt:
		if unsigned {
			return au > bu
		}
		return as > bs
	case wazeroir.OperationKindLe:
		if unsigned {
			return au <= bu
		}
		return as <= bs
	default: // Ge
		if unsigned {
			return au >= bu
		}
		return as >= bs
	}
}

func compareFloat(kind wazeroir.OperationKind, a, b float64) bool {
	switch kind {
	case wazeroir.OperationKindEq:
		return a == b
	case wazeroir.OperationKindNe:
		return a != b
	case wazeroir.OperationKindLt:
		return a < b
	case wazeroir.OperationKindGt:
		return a > b
	case wazeroir.OperationKindLe:
		return a <= b
	default: // Ge
		return a >= b
	}
}

// evalArith executes one binary arithmetic/bitwise operation, returning
// false with the trap code to raise (integer division by zero or signed
// overflow) when the operation cannot complete.
func evalArith(op *wazeroir.Operation, pushF32 func(float32), pushF64 func(float64),
	popF32 func() float32, popF64 func() float64, push func(uint64), pop func() uint64) (api.TrapCode, bool) {
	switch op.Class {
	case wazeroir.ClassI32:
		b, a := uint32(pop()), uint32(pop())
		v, trap, ok := arithInt32(op.Kind, op.Signedness, a, b)
		if !ok {
			return trap, false
		}
		push(uint64(v))
	case wazeroir.ClassI64:
		b, a := uint64(pop()), uint64(pop())
		v, trap, ok := arithInt64(op.Kind, op.Signedness, a, b)
		if !ok {
			return trap, false
		}
		push(v)
	case wazeroir.ClassF32:
		b, a := popF32(), popF32()
		pushF32(arithFloat32(op.Kind, a, b))
	default:
		b, a := popF64(), popF64()
		pushF64(arithFloat64(op.Kind, a, b))
	}
	return 0, true
}

func arithInt32(kind wazeroir.OperationKind, sign wazeroir.Signedness, a, b uint32) (uint32, api.TrapCode, bool) {
	unsigned := sign == wazeroir.Unsigned
	switch kind {
	case wazeroir.OperationKindAdd:
		return a + b, 0, true
	case wazeroir.OperationKindSub:
		return a - b, 0, true
	case wazeroir.OperationKindMul:
		return a * b, 0, true
	case wazeroir.OperationKindDiv:
		if b == 0 {
			return 0, api.TrapCodeIntegerDivisionByZero, false
		}
		if unsigned {
			return a / b, 0, true
		}
		sa, sb := int32(a), int32(b)
		if sa == math.MinInt32 && sb == -1 {
			return 0, api.TrapCodeIntegerOverflow, false
		}
		return uint32(sa / sb), 0, true
	case wazeroir.OperationKindRem:
		if b == 0 {
			return 0, api.TrapCodeIntegerDivisionByZero, false
		}
		if unsigned {
			return a % b, 0, true
		}
		sa, sb := int32(a), int32(b)
		if sa == math.MinInt32 && sb == -1 {
			return 0, 0, true
		}
		return uint32(sa % sb), 0, true
	case wazeroir.OperationKindAnd:
		return a & b, 0, true
	case wazeroir.OperationKindOr:
		return a | b, 0, true
	case wazeroir.OperationKindXor:
		return a ^ b, 0, true
	case wazeroir.OperationKindShl:
		return a << (b % 32), 0, true
	case wazeroir.OperationKindShr:
		if unsigned {
			return a >> (b % 32), 0, true
		}
		return uint32(int32(a) >> (b % 32)), 0, true
	case wazeroir.OperationKindRotl:
		return bits.RotateLeft32(a, int(b%32)), 0, true
	default: // Rotr
		return bits.RotateLeft32(a, -int(b%32)), 0, true
	}
}

func arithInt64(kind wazeroir.OperationKind, sign wazeroir.Signedness, a, b uint64) (uint64, api.TrapCode, bool) {
	unsigned := sign == wazeroir.Unsigned
	switch kind {
	case wazeroir.OperationKindAdd:
		return a + b, 0, true
	case wazeroir.OperationKindSub:
		return a - b, 0, true
	case wazeroir.OperationKindMul:
		return a * b, 0, true
	case wazeroir.OperationKindDiv:
		if b == 0 {
			return 0, api.TrapCodeIntegerDivisionByZero, false
		}
		if unsigned {
			return a / b, 0, true
		}
		sa, sb := int64(a), int64(b)
		if sa == math.MinInt64 && sb == -1 {
			return 0, api.TrapCodeIntegerOverflow, false
		}
		return uint64(sa / sb), 0, true
	case wazeroir.OperationKindRem:
		if b == 0 {
			return 0, api.TrapCodeIntegerDivisionByZero, false
		}
		if unsigned {
			return a % b, 0, true
		}
		sa, sb := int64(a), int64(b)
		if sa == math.MinInt64 && sb == -1 {
			return 0, 0, true
		}
		return uint64(sa % sb), 0, true
	case wazeroir.OperationKindAnd:
		return a & b, 0, true
	case wazeroir.OperationKindOr:
		return a | b, 0, true
	case wazeroir.OperationKindXor:
		return a ^ b, 0, true
	case wazeroir.OperationKindShl:
		return a << (b % 64), 0, true
	case wazeroir.OperationKindShr:
		if unsigned {
			return a >> (b % 64), 0, true
		}
		return uint64(int64(a) >> (b % 64)), 0, true
	case wazeroir.OperationKindRotl:
		return bits.RotateLeft64(a, int(b%64)), 0, true
	default: // Rotr
		return bits.RotateLeft64(a, -int(b%64)), 0, true
	}
}

func arithFloat32(kind wazeroir.OperationKind, a, b float32) float32 {
	switch kind {
	case wazeroir.OperationKindAdd:
		return a + b
	case wazeroir.OperationKindSub:
		return a - b
	case wazeroir.OperationKindMul:
		return a * b
	case wazeroir.OperationKindMin:
		return wasmMin32(a, b)
	case wazeroir.OperationKindMax:
		return wasmMax32(a, b)
	case wazeroir.OperationKindCopysign:
		return math.Float32frombits((math.Float32bits(a) &^ signBit32) | (math.Float32bits(b) & signBit32))
	default: // Div
		return a / b
	}
}

func arithFloat64(kind wazeroir.OperationKind, a, b float64) float64 {
	switch kind {
	case wazeroir.OperationKindAdd:
		return a + b
	case wazeroir.OperationKindSub:
		return a - b
	case wazeroir.OperationKindMul:
		return a * b
	case wazeroir.OperationKindMin:
		return wasmMin64(a, b)
	case wazeroir.OperationKindMax:
		return wasmMax64(a, b)
	case wazeroir.OperationKindCopysign:
		return math.Float64frombits((math.Float64bits(a) &^ signBit64) | (math.Float64bits(b) & signBit64))
	default: // Div
		return a / b
	}
}

const signBit32 = uint32(1) << 31
const signBit64 = uint64(1) << 63

// wasmMin32/64 and wasmMax32/64 implement Wasm's min/max: NaN is
// propagated (quieted) rather than compared, and -0 is strictly less than
// +0, unlike Go's math.Min/Max which don't distinguish signed zeros.
func wasmMin32(a, b float32) float32 {
	if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
		return float32(math.NaN())
	}
	if a == 0 && b == 0 {
		if math.Signbit(float64(a)) {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}

func wasmMax32(a, b float32) float32 {
	if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
		return float32(math.NaN())
	}
	if a == 0 && b == 0 {
		if !math.Signbit(float64(a)) {
			return a
		}
		return b
	}
	if a > b {
		return a
	}
	return b
}

func wasmMin64(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == 0 && b == 0 {
		if math.Signbit(a) {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}

func wasmMax64(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == 0 && b == 0 {
		if !math.Signbit(a) {
			return a
		}
		return b
	}
	if a > b {
		return a
	}
	return b
}

// evalUnaryFloat executes one of the abs/neg/ceil/floor/trunc/nearest/sqrt
// family against the top of the stack, in place of evalArith (which only
// ever pops two operands).
func evalUnaryFloat(op *wazeroir.Operation, pushF32 func(float32), pushF64 func(float64), popF32 func() float32, popF64 func() float64) {
	if op.Class == wazeroir.ClassF32 {
		v := popF32()
		pushF32(unaryFloat32(op.Kind, v))
		return
	}
	v := popF64()
	pushF64(unaryFloat64(op.Kind, v))
}

func unaryFloat32(kind wazeroir.OperationKind, v float32) float32 {
	switch kind {
	case wazeroir.OperationKindAbs:
		return math.Float32frombits(math.Float32bits(v) &^ signBit32)
	case wazeroir.OperationKindNeg:
		return math.Float32frombits(math.Float32bits(v) ^ signBit32)
	case wazeroir.OperationKindCeil:
		return float32(math.Ceil(float64(v)))
	case wazeroir.OperationKindFloor:
		return float32(math.Floor(float64(v)))
	case wazeroir.OperationKindTrunc:
		return float32(math.Trunc(float64(v)))
	case wazeroir.OperationKindNearest:
		return float32(math.RoundToEven(float64(v)))
	default: // Sqrt
		return float32(math.Sqrt(float64(v)))
	}
}

func unaryFloat64(kind wazeroir.OperationKind, v float64) float64 {
	switch kind {
	case wazeroir.OperationKindAbs:
		return math.Float64frombits(math.Float64bits(v) &^ signBit64)
	case wazeroir.OperationKindNeg:
		return math.Float64frombits(math.Float64bits(v) ^ signBit64)
	case wazeroir.OperationKindCeil:
		return math.Ceil(v)
	case wazeroir.OperationKindFloor:
		return math.Floor(v)
	case wazeroir.OperationKindTrunc:
		return math.Trunc(v)
	case wazeroir.OperationKindNearest:
		return math.RoundToEven(v)
	default: // Sqrt
		return math.Sqrt(v)
	}
}

package execexec

import (
	"math"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

// evalConvert executes one OperationKindConvert instruction: pop the
// source value already typed per op.Convert's source type, push the
// converted result. Trapping truncations (i32/i64.trunc_fNN_*) return a
// non-zero TrapCode; every other conversion always succeeds.
func evalConvert(op *wazeroir.Operation, pushF32 func(float32), pushF64 func(float64),
	popF32 func() float32, popF64 func() float64, push func(uint64), pop func() uint64) (api.TrapCode, bool) {
	switch op.Convert {
	case wazeroir.ConvertI32WrapI64:
		push(uint64(uint32(pop())))

	case wazeroir.ConvertI64ExtendI32S:
		push(uint64(int64(int32(uint32(pop())))))
	case wazeroir.ConvertI64ExtendI32U:
		push(uint64(uint32(pop())))

	case wazeroir.ConvertI32Extend8S:
		push(uint64(uint32(int32(int8(uint32(pop()))))))
	case wazeroir.ConvertI32Extend16S:
		push(uint64(uint32(int32(int16(uint32(pop()))))))
	case wazeroir.ConvertI64Extend8S:
		push(uint64(int64(int8(pop()))))
	case wazeroir.ConvertI64Extend16S:
		push(uint64(int64(int16(pop()))))
	case wazeroir.ConvertI64Extend32S:
		push(uint64(int64(int32(pop()))))

	case wazeroir.ConvertF32ConvertI32S:
		pushF32(float32(int32(uint32(pop()))))
	case wazeroir.ConvertF32ConvertI32U:
		pushF32(float32(uint32(pop())))
	case wazeroir.ConvertF32ConvertI64S:
		pushF32(float32(int64(pop())))
	case wazeroir.ConvertF32ConvertI64U:
		pushF32(float32(pop()))
	case wazeroir.ConvertF32DemoteF64:
		pushF32(float32(popF64()))

	case wazeroir.ConvertF64ConvertI32S:
		pushF64(float64(int32(uint32(pop()))))
	case wazeroir.ConvertF64ConvertI32U:
		pushF64(float64(uint32(pop())))
	case wazeroir.ConvertF64ConvertI64S:
		pushF64(float64(int64(pop())))
	case wazeroir.ConvertF64ConvertI64U:
		pushF64(float64(pop()))
	case wazeroir.ConvertF64PromoteF32:
		pushF64(float64(popF32()))

	// Reinterpret ops don't change the bit pattern, and this interpreter
	// already boxes f32/f64 on the stack as their raw bits, so crossing
	// the i32/i64 <-> f32/f64 boundary here is the identity function.
	case wazeroir.ConvertI32ReinterpretF32, wazeroir.ConvertF32ReinterpretI32:
		push(uint64(uint32(pop())))
	case wazeroir.ConvertI64ReinterpretF64, wazeroir.ConvertF64ReinterpretI64:
		push(pop())

	case wazeroir.ConvertI32TruncF32S:
		v, trap, ok := truncToInt(float64(popF32()), 32, true)
		if !ok {
			return trap, false
		}
		push(v)
	case wazeroir.ConvertI32TruncF32U:
		v, trap, ok := truncToInt(float64(popF32()), 32, false)
		if !ok {
			return trap, false
		}
		push(v)
	case wazeroir.ConvertI32TruncF64S:
		v, trap, ok := truncToInt(popF64(), 32, true)
		if !ok {
			return trap, false
		}
		push(v)
	case wazeroir.ConvertI32TruncF64U:
		v, trap, ok := truncToInt(popF64(), 32, false)
		if !ok {
			return trap, false
		}
		push(v)
	case wazeroir.ConvertI64TruncF32S:
		v, trap, ok := truncToInt(float64(popF32()), 64, true)
		if !ok {
			return trap, false
		}
		push(v)
	case wazeroir.ConvertI64TruncF32U:
		v, trap, ok := truncToInt(float64(popF32()), 64, false)
		if !ok {
			return trap, false
		}
		push(v)
	case wazeroir.ConvertI64TruncF64S:
		v, trap, ok := truncToInt(popF64(), 64, true)
		if !ok {
			return trap, false
		}
		push(v)
	case wazeroir.ConvertI64TruncF64U:
		v, trap, ok := truncToInt(popF64(), 64, false)
		if !ok {
			return trap, false
		}
		push(v)

	case wazeroir.ConvertI32TruncSatF32S:
		push(truncSatToInt(float64(popF32()), 32, true))
	case wazeroir.ConvertI32TruncSatF32U:
		push(truncSatToInt(float64(popF32()), 32, false))
	case wazeroir.ConvertI32TruncSatF64S:
		push(truncSatToInt(popF64(), 32, true))
	case wazeroir.ConvertI32TruncSatF64U:
		push(truncSatToInt(popF64(), 32, false))
	case wazeroir.ConvertI64TruncSatF32S:
		push(truncSatToInt(float64(popF32()), 64, true))
	case wazeroir.ConvertI64TruncSatF32U:
		push(truncSatToInt(float64(popF32()), 64, false))
	case wazeroir.ConvertI64TruncSatF64S:
		push(truncSatToInt(popF64(), 64, true))
	case wazeroir.ConvertI64TruncSatF64U:
		push(truncSatToInt(popF64(), 64, false))
	}
	return 0, true
}

// truncToInt implements the trapping float-to-int truncation opcodes:
// truncate toward zero, then require the result to fit in bitSize/signed
// without rounding. NaN traps as BadConversionToInteger; everything
// outside the representable range traps as IntegerOverflow (including
// +-Inf), matching the core spec's trunc instructions.
func truncToInt(f float64, bitSize int, signed bool) (uint64, api.TrapCode, bool) {
	if math.IsNaN(f) {
		return 0, api.TrapCodeBadConversionToInteger, false
	}
	t := math.Trunc(f)
	switch {
	case bitSize == 32 && signed:
		if t < -2147483648 || t > 2147483647 {
			return 0, api.TrapCodeIntegerOverflow, false
		}
		return uint64(uint32(int32(t))), 0, true
	case bitSize == 32 && !signed:
		if t < 0 || t > 4294967295 {
			return 0, api.TrapCodeIntegerOverflow, false
		}
		return uint64(uint32(t)), 0, true
	case signed: // 64-bit signed
		if t < -9223372036854775808.0 || t >= 9223372036854775808.0 {
			return 0, api.TrapCodeIntegerOverflow, false
		}
		return uint64(int64(t)), 0, true
	default: // 64-bit unsigned
		if t < 0 || t >= 18446744073709551616.0 {
			return 0, api.TrapCodeIntegerOverflow, false
		}
		return uint64(t), 0, true
	}
}

// truncSatToInt implements the non-trapping (saturating) truncation
// family: NaN becomes 0, out-of-range values (including +-Inf) clamp to
// the destination type's min/max instead of trapping.
func truncSatToInt(f float64, bitSize int, signed bool) uint64 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	switch {
	case bitSize == 32 && signed:
		switch {
		case t <= -2147483648:
			return uint64(0x80000000) // bit pattern of int32 min
		case t >= 2147483647:
			return uint64(uint32(int32(math.MaxInt32)))
		default:
			return uint64(uint32(int32(t)))
		}
	case bitSize == 32 && !signed:
		switch {
		case t <= 0:
			return 0
		case t >= 4294967295:
			return uint64(uint32(math.MaxUint32))
		default:
			return uint64(uint32(t))
		}
	case signed: // 64-bit signed
		switch {
		case t <= -9223372036854775808.0:
			return uint64(1) << 63 // bit pattern of int64 min
		case t >= 9223372036854775807.0:
			return uint64(int64(math.MaxInt64))
		default:
			return uint64(int64(t))
		}
	default: // 64-bit unsigned
		switch {
		case t <= 0:
			return 0
		case t >= 18446744073709551615.0:
			return math.MaxUint64
		default:
			return uint64(t)
		}
	}
}
